package engine

import (
	"fmt"
	"time"

	"civicflow/internal/config"
	"civicflow/internal/domain"
	"civicflow/internal/engine/auth"
)

const (
	DefaultTimeout     = 2 * time.Minute
	DefaultSolvePoints = 150
)

// Config holds the lifecycle knobs the engine needs.
type Config struct {
	Timeout     time.Duration
	LocalUser   string
	SolvePoints int
}

// Engine computes lifecycle transitions. It never touches storage; callers
// commit Result.Issue and deliver Result.Events themselves.
type Engine struct {
	Config Config
	Policy auth.Policy
	Now    func() time.Time
}

// Result is the outcome of one successful transition.
type Result struct {
	Issue  domain.Issue   `json:"issue"`
	Events []domain.Event `json:"events"`
}

// Notifications returns the notification events of r in order.
func (r Result) Notifications() []domain.Notification {
	var out []domain.Notification
	for _, ev := range r.Events {
		if ev.Notification != nil {
			out = append(out, *ev.Notification)
		}
	}
	return out
}

// Award returns the point award of r, if any.
func (r Result) Award() (domain.PointAward, bool) {
	for _, ev := range r.Events {
		if ev.Award != nil {
			return *ev.Award, true
		}
	}
	return domain.PointAward{}, false
}

func New(cfg *config.Config) Engine {
	ec := Config{Timeout: DefaultTimeout, SolvePoints: DefaultSolvePoints}
	var pol auth.Policy
	if cfg != nil {
		if cfg.Lifecycle.AcceptTimeout > 0 {
			ec.Timeout = cfg.Lifecycle.AcceptTimeout
		}
		ec.SolvePoints = cfg.Lifecycle.SolvePoints
		ec.LocalUser = cfg.Actors.LocalUser
		pol.Admins = append([]string{}, cfg.Actors.Admins...)
	}
	return Engine{Config: ec, Policy: pol, Now: time.Now}
}

func (e Engine) now() time.Time {
	if e.Now != nil {
		return e.Now()
	}
	return time.Now()
}

func (e Engine) timeout() time.Duration {
	if e.Config.Timeout > 0 {
		return e.Config.Timeout
	}
	return DefaultTimeout
}

// Deadline returns the moment an In Progress issue becomes eligible for revert.
func (e Engine) Deadline(issue domain.Issue) (time.Time, bool) {
	if issue.Status != domain.StatusInProgress || issue.AcceptedAt == nil {
		return time.Time{}, false
	}
	return issue.AcceptedAt.Add(e.timeout()), true
}

// Expired reports whether issue has been In Progress for longer than the
// timeout at now.
func (e Engine) Expired(issue domain.Issue, now time.Time) bool {
	if issue.Status != domain.StatusInProgress || issue.AcceptedAt == nil {
		return false
	}
	return now.Sub(*issue.AcceptedAt) > e.timeout()
}

// Remaining is the time left before the deadline, floored at zero.
func (e Engine) Remaining(issue domain.Issue, now time.Time) time.Duration {
	deadline, ok := e.Deadline(issue)
	if !ok || !now.Before(deadline) {
		return 0
	}
	return deadline.Sub(now)
}

// Apply moves issue along the lifecycle on behalf of actorID. The returned
// issue is a fresh copy; the input is not modified.
func (e Engine) Apply(issue domain.Issue, actorID string, action domain.Action) (Result, error) {
	if action == nil {
		return Result{}, fmt.Errorf("action required")
	}
	kind := action.Kind()
	if err := e.Policy.RequireActor(actorID, string(kind)); err != nil {
		return Result{}, err
	}
	if err := ensureTransition(issue, kind); err != nil {
		return Result{}, err
	}
	now := e.now().UTC()
	next := issue.Clone()
	next.UpdatedAt = now

	switch a := action.(type) {
	case domain.Verify:
		if err := e.Policy.RequireUser(actorID, string(kind)); err != nil {
			return Result{}, err
		}
		next.Status = domain.StatusVerified
		next.Verified = true
		return e.result(next, notice("Issue Verified",
			fmt.Sprintf("Verified by %s: %s", actorID, snippet(issue.Description, 30)),
			domain.NotificationVerify, issue.ID, now)), nil

	case domain.Accept:
		if err := e.Policy.RequireUser(actorID, string(kind)); err != nil {
			return Result{}, err
		}
		next.Status = domain.StatusInProgress
		next.AcceptedBy = &actorID
		next.AcceptedAt = &now
		return e.result(next, notice("Task Accepted!",
			fmt.Sprintf("You accepted: %s You have %s to fix it.", snippet(issue.Description, 30), formatTimeout(e.timeout())),
			domain.NotificationUpdate, issue.ID, now)), nil

	case domain.ReportFixed:
		if err := e.Policy.RequireOwner(issue, actorID, string(kind)); err != nil {
			return Result{}, err
		}
		if e.Expired(issue, now) {
			return Result{}, &domain.ConflictError{IssueID: issue.ID, Status: issue.Status, Action: kind, Reason: "task expired"}
		}
		next.Status = domain.StatusFixed
		next.AcceptedAt = nil
		next.FixedAt = &now
		msg := "Waiting for admin confirmation to mark as Solved."
		if a.Note != "" {
			msg = a.Note + " " + msg
		}
		return e.result(next, notice("Fix Reported", msg, domain.NotificationConfirm, issue.ID, now)), nil

	case domain.Timeout:
		if err := e.Policy.RequireSystem(actorID, string(kind)); err != nil {
			return Result{}, err
		}
		if !e.Expired(issue, now) {
			return Result{}, &domain.ConflictError{IssueID: issue.ID, Status: issue.Status, Action: kind, Reason: "deadline not reached"}
		}
		next.Status = domain.StatusPending
		next.AcceptedBy = nil
		next.AcceptedAt = nil
		next.Verified = false
		return e.result(next, notice("Task Expired",
			"An accepted issue was not fixed in time and is now available for others to accept.",
			domain.NotificationUpdate, issue.ID, now)), nil

	case domain.ConfirmSolved:
		if err := e.Policy.RequireAdmin(actorID, string(kind)); err != nil {
			return Result{}, err
		}
		solver := actorID
		if issue.AcceptedBy != nil {
			solver = *issue.AcceptedBy
		}
		next.Status = domain.StatusSolved
		next.Verified = true
		next.SolvedBy = &solver
		next.SolvedAt = &now
		next.AcceptedBy = nil
		res := e.result(next, notice("Issue Solved!",
			fmt.Sprintf("The community has confirmed the fix for: %s", snippet(issue.Description, 30)),
			domain.NotificationConfirm, issue.ID, now))
		if issue.AcceptedBy != nil && *issue.AcceptedBy != "" && *issue.AcceptedBy == e.Config.LocalUser {
			res.Events = append(res.Events, domain.Event{
				Kind: domain.EventPointsAwarded,
				Award: &domain.PointAward{
					ActorID:   solver,
					IssueID:   issue.ID,
					Points:    e.Config.SolvePoints,
					Action:    "Solved: " + snippet(issue.Description, 20),
					AwardedAt: now,
				},
			})
		}
		return res, nil
	}
	return Result{}, fmt.Errorf("unsupported action %T", action)
}

// ensureTransition checks that kind is an outgoing edge of the issue's status.
func ensureTransition(issue domain.Issue, kind domain.ActionKind) error {
	reason := "action not allowed in this status"
	switch issue.Status {
	case domain.StatusPending:
		if kind == domain.ActionVerify {
			if issue.Verified {
				reason = "issue already verified"
				break
			}
			return nil
		}
		if kind == domain.ActionAccept {
			return nil
		}
	case domain.StatusVerified:
		if kind == domain.ActionAccept {
			return nil
		}
	case domain.StatusInProgress:
		if kind == domain.ActionReportFixed || kind == domain.ActionTimeout {
			return nil
		}
		if kind == domain.ActionAccept && issue.AcceptedBy != nil {
			reason = "already accepted by " + *issue.AcceptedBy
		}
	case domain.StatusFixed:
		if kind == domain.ActionConfirmSolved {
			return nil
		}
	case domain.StatusSolved:
		reason = "issue is solved"
	}
	return &domain.ConflictError{IssueID: issue.ID, Status: issue.Status, Action: kind, Reason: reason}
}

func (e Engine) result(issue domain.Issue, n domain.Notification) Result {
	return Result{
		Issue:  issue,
		Events: []domain.Event{{Kind: domain.EventNotification, Notification: &n}},
	}
}

func notice(title, message string, kind domain.NotificationKind, issueID string, at time.Time) domain.Notification {
	return domain.Notification{
		Title:          title,
		Message:        message,
		Kind:           kind,
		RelatedIssueID: issueID,
		CreatedAt:      at,
		Unread:         true,
	}
}

// snippet shortens s to n runes, marking the cut with an ellipsis.
func snippet(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n]) + "..."
}

// formatTimeout renders whole minutes as "N min" and anything finer as a
// rounded duration.
func formatTimeout(d time.Duration) string {
	if d >= time.Minute && d%time.Minute == 0 {
		return fmt.Sprintf("%d min", int(d/time.Minute))
	}
	return d.Round(time.Second).String()
}
