package engine_test

import (
	"errors"
	"strings"
	"testing"
	"time"

	"civicflow/internal/config"
	"civicflow/internal/domain"
	"civicflow/internal/engine"
	"civicflow/internal/store"
)

var t0 = time.Date(2026, 2, 20, 9, 0, 0, 0, time.UTC)

type clock struct{ at time.Time }

func (c *clock) Now() time.Time { return c.at }

func newTestEngine(t *testing.T) (engine.Engine, *clock) {
	t.Helper()
	cfg := config.Default()
	cfg.Actors.LocalUser = "You"
	cfg.Actors.Admins = []string{"admin"}
	eng := engine.New(cfg)
	c := &clock{at: t0}
	eng.Now = c.Now
	return eng, c
}

func newIssue() domain.Issue {
	return domain.Issue{
		ID:          "issue-1",
		Status:      domain.StatusPending,
		Reporter:    "ravi",
		Description: "Large pothole near the bus stop on MG Road",
		LikedBy:     []string{},
		CreatedAt:   t0,
	}
}

func apply(t *testing.T, eng engine.Engine, issue domain.Issue, actor string, action domain.Action) engine.Result {
	t.Helper()
	res, err := eng.Apply(issue, actor, action)
	if err != nil {
		t.Fatalf("%s by %s: %v", action.Kind(), actor, err)
	}
	if err := store.Validate(res.Issue); err != nil {
		t.Fatalf("%s produced invalid issue: %v", action.Kind(), err)
	}
	if n := len(res.Notifications()); n != 1 {
		t.Fatalf("%s emitted %d notifications", action.Kind(), n)
	}
	return res
}

func TestHappyPath(t *testing.T) {
	eng, c := newTestEngine(t)
	issue := newIssue()

	res := apply(t, eng, issue, "amit", domain.Verify{})
	if res.Issue.Status != domain.StatusVerified || !res.Issue.Verified {
		t.Fatalf("verify: %+v", res.Issue)
	}
	if issue.Status != domain.StatusPending {
		t.Fatalf("input issue mutated")
	}

	res = apply(t, eng, res.Issue, "You", domain.Accept{})
	if res.Issue.Status != domain.StatusInProgress || *res.Issue.AcceptedBy != "You" || !res.Issue.AcceptedAt.Equal(t0) {
		t.Fatalf("accept: %+v", res.Issue)
	}
	if deadline, ok := eng.Deadline(res.Issue); !ok || !deadline.Equal(t0.Add(2*time.Minute)) {
		t.Fatalf("deadline: %v %v", deadline, ok)
	}

	c.at = t0.Add(time.Minute)
	res = apply(t, eng, res.Issue, "You", domain.ReportFixed{})
	if res.Issue.Status != domain.StatusFixed || res.Issue.AcceptedAt != nil || res.Issue.FixedAt == nil {
		t.Fatalf("fixed: %+v", res.Issue)
	}
	if n := res.Notifications()[0]; n.Kind != domain.NotificationConfirm || n.RelatedIssueID != "issue-1" {
		t.Fatalf("fixed notification: %+v", n)
	}

	res = apply(t, eng, res.Issue, "admin", domain.ConfirmSolved{})
	if res.Issue.Status != domain.StatusSolved || *res.Issue.SolvedBy != "You" || res.Issue.AcceptedBy != nil {
		t.Fatalf("solved: %+v", res.Issue)
	}
	award, ok := res.Award()
	if !ok || award.Points != 150 || award.ActorID != "You" {
		t.Fatalf("expected award, got %+v %v", award, ok)
	}
	if len(res.Events) != 2 {
		t.Fatalf("expected notification and award, got %d events", len(res.Events))
	}
}

func TestConfirmSolvedWithoutLocalFixerHasNoAward(t *testing.T) {
	eng, _ := newTestEngine(t)
	issue := apply(t, eng, newIssue(), "bob", domain.Accept{}).Issue
	issue = apply(t, eng, issue, "bob", domain.ReportFixed{Note: "patched"}).Issue
	res := apply(t, eng, issue, "admin", domain.ConfirmSolved{})
	if _, ok := res.Award(); ok {
		t.Fatalf("unexpected award for remote fixer")
	}
	if *res.Issue.SolvedBy != "bob" {
		t.Fatalf("solved_by: %s", *res.Issue.SolvedBy)
	}
}

func TestTransitionLegality(t *testing.T) {
	eng, _ := newTestEngine(t)
	pending := newIssue()
	verified := apply(t, eng, pending, "amit", domain.Verify{}).Issue
	inProgress := apply(t, eng, verified, "bob", domain.Accept{}).Issue
	fixed := apply(t, eng, inProgress, "bob", domain.ReportFixed{}).Issue
	solved := apply(t, eng, fixed, "admin", domain.ConfirmSolved{}).Issue

	cases := []struct {
		name   string
		issue  domain.Issue
		actor  string
		action domain.Action
	}{
		{"verify verified", verified, "amit", domain.Verify{}},
		{"fix pending", pending, "bob", domain.ReportFixed{}},
		{"confirm pending", pending, "admin", domain.ConfirmSolved{}},
		{"accept in progress", inProgress, "eve", domain.Accept{}},
		{"verify in progress", inProgress, "eve", domain.Verify{}},
		{"confirm in progress", inProgress, "admin", domain.ConfirmSolved{}},
		{"timeout fixed", fixed, domain.SystemActor, domain.Timeout{}},
		{"accept solved", solved, "eve", domain.Accept{}},
		{"verify solved", solved, "eve", domain.Verify{}},
		{"confirm solved", solved, "admin", domain.ConfirmSolved{}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := eng.Apply(tc.issue, tc.actor, tc.action)
			if !errors.Is(err, domain.ErrConflict) {
				t.Fatalf("expected conflict, got %v", err)
			}
		})
	}
}

func TestPermissionDenied(t *testing.T) {
	eng, _ := newTestEngine(t)
	inProgress := apply(t, eng, newIssue(), "bob", domain.Accept{}).Issue
	fixed := apply(t, eng, inProgress, "bob", domain.ReportFixed{}).Issue

	if _, err := eng.Apply(inProgress, "eve", domain.ReportFixed{}); !errors.Is(err, domain.ErrPermission) {
		t.Fatalf("report fixed by non-owner: %v", err)
	}
	if _, err := eng.Apply(fixed, "bob", domain.ConfirmSolved{}); !errors.Is(err, domain.ErrPermission) {
		t.Fatalf("confirm by non-admin: %v", err)
	}
	if _, err := eng.Apply(inProgress, "bob", domain.Timeout{}); !errors.Is(err, domain.ErrPermission) {
		t.Fatalf("timeout by user: %v", err)
	}
	if _, err := eng.Apply(newIssue(), "", domain.Verify{}); !errors.Is(err, domain.ErrPermission) {
		t.Fatalf("empty actor: %v", err)
	}
}

func TestSystemActorOnlyTimesOut(t *testing.T) {
	eng, _ := newTestEngine(t)
	eng.Policy.Admins = append(eng.Policy.Admins, domain.SystemActor)
	pending := newIssue()
	if _, err := eng.Apply(pending, domain.SystemActor, domain.Verify{}); !errors.Is(err, domain.ErrPermission) {
		t.Fatalf("verify by system: %v", err)
	}
	if _, err := eng.Apply(pending, domain.SystemActor, domain.Accept{}); !errors.Is(err, domain.ErrPermission) {
		t.Fatalf("accept by system: %v", err)
	}
	held := pending
	held.Status = domain.StatusInProgress
	held.AcceptedBy = strPtr(domain.SystemActor)
	held.AcceptedAt = &t0
	if _, err := eng.Apply(held, domain.SystemActor, domain.ReportFixed{}); !errors.Is(err, domain.ErrPermission) {
		t.Fatalf("report fixed by system: %v", err)
	}
	fixed := apply(t, eng, apply(t, eng, pending, "bob", domain.Accept{}).Issue, "bob", domain.ReportFixed{}).Issue
	if _, err := eng.Apply(fixed, domain.SystemActor, domain.ConfirmSolved{}); !errors.Is(err, domain.ErrPermission) {
		t.Fatalf("confirm by system: %v", err)
	}
}

func TestAcceptNoticeStatesTimeout(t *testing.T) {
	cases := map[time.Duration]string{
		2 * time.Minute:  "You have 2 min to fix it.",
		45 * time.Second: "You have 45s to fix it.",
		90 * time.Second: "You have 1m30s to fix it.",
	}
	for timeout, want := range cases {
		eng, _ := newTestEngine(t)
		eng.Config.Timeout = timeout
		res := apply(t, eng, newIssue(), "bob", domain.Accept{})
		if got := res.Notifications()[0].Message; !strings.Contains(got, want) {
			t.Fatalf("timeout %s: message %q lacks %q", timeout, got, want)
		}
	}
}

func strPtr(s string) *string { return &s }

func TestStatusCheckedBeforePermission(t *testing.T) {
	eng, _ := newTestEngine(t)
	_, err := eng.Apply(newIssue(), "eve", domain.ConfirmSolved{})
	if !errors.Is(err, domain.ErrConflict) {
		t.Fatalf("expected conflict before permission, got %v", err)
	}
}

func TestTimeoutRevert(t *testing.T) {
	eng, c := newTestEngine(t)
	verified := apply(t, eng, newIssue(), "amit", domain.Verify{}).Issue
	inProgress := apply(t, eng, verified, "bob", domain.Accept{}).Issue

	c.at = t0.Add(2 * time.Minute)
	if eng.Expired(inProgress, c.at) {
		t.Fatalf("expired exactly at deadline")
	}
	if _, err := eng.Apply(inProgress, domain.SystemActor, domain.Timeout{}); !errors.Is(err, domain.ErrConflict) {
		t.Fatalf("timeout before deadline: %v", err)
	}

	c.at = t0.Add(2*time.Minute + time.Second)
	if _, err := eng.Apply(inProgress, "bob", domain.ReportFixed{}); !errors.Is(err, domain.ErrConflict) {
		t.Fatalf("fix after deadline: %v", err)
	}
	res := apply(t, eng, inProgress, domain.SystemActor, domain.Timeout{})
	got := res.Issue
	if got.Status != domain.StatusPending || got.AcceptedBy != nil || got.AcceptedAt != nil || got.Verified {
		t.Fatalf("timeout: %+v", got)
	}
	if res.Notifications()[0].Title != "Task Expired" {
		t.Fatalf("timeout notification: %+v", res.Notifications()[0])
	}
	if _, err := eng.Apply(got, domain.SystemActor, domain.Timeout{}); !errors.Is(err, domain.ErrConflict) {
		t.Fatalf("second timeout: %v", err)
	}
	// the reverted issue is open again
	if _, err := eng.Apply(got, "eve", domain.Accept{}); err != nil {
		t.Fatalf("re-accept: %v", err)
	}
}

func TestRemaining(t *testing.T) {
	eng, _ := newTestEngine(t)
	inProgress := apply(t, eng, newIssue(), "bob", domain.Accept{}).Issue
	if got := eng.Remaining(inProgress, t0.Add(30*time.Second)); got != 90*time.Second {
		t.Fatalf("remaining: %v", got)
	}
	if got := eng.Remaining(inProgress, t0.Add(time.Hour)); got != 0 {
		t.Fatalf("remaining after deadline: %v", got)
	}
	if _, ok := eng.Deadline(newIssue()); ok {
		t.Fatalf("pending issue has no deadline")
	}
}
