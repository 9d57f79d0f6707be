package store

import (
	"fmt"

	"civicflow/internal/domain"
)

// Validate checks the structural invariants every stored issue must hold.
// Transition legality is not checked here.
func Validate(issue domain.Issue) error {
	fail := func(rule string, args ...any) error {
		return &domain.InvariantError{IssueID: issue.ID, Rule: fmt.Sprintf(rule, args...)}
	}
	if issue.ID == "" {
		return fail("id is required")
	}
	if !issue.Status.Valid() {
		return fail("unknown status %q", issue.Status)
	}
	owned := issue.Status == domain.StatusInProgress || issue.Status == domain.StatusFixed
	if owned && (issue.AcceptedBy == nil || *issue.AcceptedBy == "") {
		return fail("accepted_by required in status %s", issue.Status)
	}
	if !owned && issue.AcceptedBy != nil {
		return fail("accepted_by must be empty in status %s", issue.Status)
	}
	if (issue.Status == domain.StatusInProgress) != (issue.AcceptedAt != nil) {
		return fail("accepted_at must be set exactly while in progress")
	}
	if issue.Status == domain.StatusSolved {
		if !issue.Verified {
			return fail("solved issue must be verified")
		}
		if issue.SolvedBy == nil || *issue.SolvedBy == "" {
			return fail("solved issue must have solved_by")
		}
	}
	if issue.Likes != len(issue.LikedBy) {
		return fail("likes %d does not match %d supporters", issue.Likes, len(issue.LikedBy))
	}
	seen := make(map[string]struct{}, len(issue.LikedBy))
	for _, actor := range issue.LikedBy {
		if _, dup := seen[actor]; dup {
			return fail("supporter %s listed twice", actor)
		}
		seen[actor] = struct{}{}
	}
	return nil
}
