package domain

import (
	"errors"
	"fmt"
)

var (
	ErrNotFound   = errors.New("not found")
	ErrConflict   = errors.New("conflict")
	ErrPermission = errors.New("permission denied")
	ErrInvariant  = errors.New("invariant violation")
)

// NotFoundError reports an unknown issue or notification id.
type NotFoundError struct {
	Kind string
	ID   string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s %s not found", e.Kind, e.ID)
}

func (e *NotFoundError) Is(target error) bool { return target == ErrNotFound }

// ConflictError reports an action that is not valid for the current state.
type ConflictError struct {
	IssueID string
	Status  Status
	Action  ActionKind
	Reason  string
}

func (e *ConflictError) Error() string {
	if e.Action == "" {
		return fmt.Sprintf("conflict on issue %s: %s", e.IssueID, e.Reason)
	}
	return fmt.Sprintf("cannot %s issue %s in status %s: %s", e.Action, e.IssueID, e.Status, e.Reason)
}

func (e *ConflictError) Is(target error) bool { return target == ErrConflict }

// PermissionError reports an actor that may not perform an action.
type PermissionError struct {
	Actor  string
	Action string
	Reason string
}

func (e *PermissionError) Error() string {
	actor := e.Actor
	if actor == "" {
		actor = "anonymous"
	}
	return fmt.Sprintf("actor %s may not %s: %s", actor, e.Action, e.Reason)
}

func (e *PermissionError) Is(target error) bool { return target == ErrPermission }

// InvariantError reports a write that would break a structural rule of Issue.
type InvariantError struct {
	IssueID string
	Rule    string
}

func (e *InvariantError) Error() string {
	return fmt.Sprintf("issue %s violates invariant: %s", e.IssueID, e.Rule)
}

func (e *InvariantError) Is(target error) bool { return target == ErrInvariant }
