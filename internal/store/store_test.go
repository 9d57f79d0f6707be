package store_test

import (
	"errors"
	"testing"
	"time"

	"civicflow/internal/domain"
	"civicflow/internal/store"
)

func strPtr(s string) *string { return &s }

func pending(id string) domain.Issue {
	return domain.Issue{
		ID:          id,
		Status:      domain.StatusPending,
		Reporter:    "ravi",
		Description: "pothole on main street",
		LikedBy:     []string{},
		CreatedAt:   time.Date(2026, 2, 20, 9, 0, 0, 0, time.UTC),
	}
}

func TestAddGetCommitRemove(t *testing.T) {
	s := store.New()
	if err := s.Add(pending("1")); err != nil {
		t.Fatalf("add: %v", err)
	}
	if err := s.Add(pending("2")); err != nil {
		t.Fatalf("add: %v", err)
	}
	all := s.All()
	if len(all) != 2 || all[0].ID != "2" {
		t.Fatalf("expected newest first, got %+v", all)
	}
	got, err := s.Get("1")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	got.Status = domain.StatusVerified
	got.Verified = true
	if err := s.Commit(got); err != nil {
		t.Fatalf("commit: %v", err)
	}
	again, _ := s.Get("1")
	if again.Status != domain.StatusVerified {
		t.Fatalf("commit not applied: %s", again.Status)
	}
	if err := s.Remove("2"); err != nil {
		t.Fatalf("remove: %v", err)
	}
	if s.Len() != 1 {
		t.Fatalf("expected 1 issue, got %d", s.Len())
	}
}

func TestAddDuplicateID(t *testing.T) {
	s := store.New()
	_ = s.Add(pending("1"))
	err := s.Add(pending("1"))
	if !errors.Is(err, domain.ErrConflict) {
		t.Fatalf("expected conflict, got %v", err)
	}
}

func TestUnknownIDs(t *testing.T) {
	s := store.New()
	if _, err := s.Get("nope"); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("get: expected not found, got %v", err)
	}
	if err := s.Commit(pending("nope")); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("commit: expected not found, got %v", err)
	}
	if err := s.Remove("nope"); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("remove: expected not found, got %v", err)
	}
}

func TestCommitRejectsInvariantViolations(t *testing.T) {
	now := time.Date(2026, 2, 20, 10, 0, 0, 0, time.UTC)
	cases := map[string]func(*domain.Issue){
		"likes drift": func(i *domain.Issue) { i.Likes = 3 },
		"duplicate supporter": func(i *domain.Issue) {
			i.LikedBy = []string{"a", "a"}
			i.Likes = 2
		},
		"owner without status": func(i *domain.Issue) { i.AcceptedBy = strPtr("bob") },
		"in progress without owner": func(i *domain.Issue) {
			i.Status = domain.StatusInProgress
			i.AcceptedAt = &now
		},
		"in progress without timer": func(i *domain.Issue) {
			i.Status = domain.StatusInProgress
			i.AcceptedBy = strPtr("bob")
		},
		"fixed with timer": func(i *domain.Issue) {
			i.Status = domain.StatusFixed
			i.AcceptedBy = strPtr("bob")
			i.AcceptedAt = &now
		},
		"solved unverified": func(i *domain.Issue) {
			i.Status = domain.StatusSolved
			i.SolvedBy = strPtr("bob")
		},
		"solved without solver": func(i *domain.Issue) {
			i.Status = domain.StatusSolved
			i.Verified = true
		},
		"unknown status": func(i *domain.Issue) { i.Status = "Closed" },
	}
	for name, mutate := range cases {
		t.Run(name, func(t *testing.T) {
			s := store.New()
			if err := s.Add(pending("1")); err != nil {
				t.Fatal(err)
			}
			bad := pending("1")
			mutate(&bad)
			err := s.Commit(bad)
			if !errors.Is(err, domain.ErrInvariant) {
				t.Fatalf("expected invariant error, got %v", err)
			}
			stored, _ := s.Get("1")
			if stored.Status != domain.StatusPending || stored.Likes != 0 || stored.AcceptedBy != nil {
				t.Fatalf("rejected write leaked into store: %+v", stored)
			}
		})
	}
}

func TestReplaceIsAllOrNothing(t *testing.T) {
	s := store.New()
	_ = s.Add(pending("keep"))
	bad := pending("b")
	bad.Likes = 1
	err := s.Replace([]domain.Issue{pending("a"), bad})
	if !errors.Is(err, domain.ErrInvariant) {
		t.Fatalf("expected invariant error, got %v", err)
	}
	if all := s.All(); len(all) != 1 || all[0].ID != "keep" {
		t.Fatalf("store changed after rejected replace: %+v", all)
	}
	if err := s.Replace([]domain.Issue{pending("a"), pending("a")}); !errors.Is(err, domain.ErrInvariant) {
		t.Fatalf("expected duplicate id rejection, got %v", err)
	}
	if err := s.Replace([]domain.Issue{pending("a"), pending("b")}); err != nil {
		t.Fatalf("replace: %v", err)
	}
	if s.Len() != 2 {
		t.Fatalf("expected 2 issues after replace")
	}
}

func TestReadsDoNotAlias(t *testing.T) {
	s := store.New()
	issue := pending("1")
	issue.LikedBy = []string{"amit"}
	issue.Likes = 1
	_ = s.Add(issue)
	issue.LikedBy[0] = "mutated"

	got, _ := s.Get("1")
	if got.LikedBy[0] != "amit" {
		t.Fatalf("store aliased caller slice")
	}
	got.LikedBy[0] = "changed"
	all := s.All()
	if all[0].LikedBy[0] != "amit" {
		t.Fatalf("store aliased returned slice")
	}
}
