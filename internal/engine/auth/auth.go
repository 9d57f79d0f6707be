package auth

import (
	"strings"

	"civicflow/internal/domain"
)

// Policy answers who may drive which lifecycle actions.
type Policy struct {
	Admins []string
}

func (p Policy) IsAdmin(actorID string) bool {
	for _, a := range p.Admins {
		if a == actorID {
			return true
		}
	}
	return false
}

// RequireActor rejects an empty actor id.
func (p Policy) RequireActor(actorID, action string) error {
	if strings.TrimSpace(actorID) == "" {
		return &domain.PermissionError{Action: action, Reason: "actor id required"}
	}
	return nil
}

// RequireUser is RequireActor that also refuses the system actor.
func (p Policy) RequireUser(actorID, action string) error {
	if err := p.RequireActor(actorID, action); err != nil {
		return err
	}
	if actorID == domain.SystemActor {
		return &domain.PermissionError{Actor: actorID, Action: action, Reason: "system actor may only time out tasks"}
	}
	return nil
}

func (p Policy) RequireAdmin(actorID, action string) error {
	if err := p.RequireUser(actorID, action); err != nil {
		return err
	}
	if !p.IsAdmin(actorID) {
		return &domain.PermissionError{Actor: actorID, Action: action, Reason: "admin role required"}
	}
	return nil
}

// RequireSystem allows only the internal system actor.
func (p Policy) RequireSystem(actorID, action string) error {
	if actorID != domain.SystemActor {
		return &domain.PermissionError{Actor: actorID, Action: action, Reason: "reserved for the system actor"}
	}
	return nil
}

// RequireOwner allows only the actor holding the issue.
func (p Policy) RequireOwner(issue domain.Issue, actorID, action string) error {
	if err := p.RequireUser(actorID, action); err != nil {
		return err
	}
	if issue.AcceptedBy == nil || *issue.AcceptedBy != actorID {
		return &domain.PermissionError{Actor: actorID, Action: action, Reason: "only the actor who accepted the issue"}
	}
	return nil
}
