package domain

import (
	"fmt"
	"strings"
)

// ActionKind names a lifecycle action at the API and CLI edges.
type ActionKind string

const (
	ActionVerify        ActionKind = "verify"
	ActionAccept        ActionKind = "accept"
	ActionReportFixed   ActionKind = "report_fixed"
	ActionTimeout       ActionKind = "timeout"
	ActionConfirmSolved ActionKind = "confirm_solved"
)

// Action is a request to move an issue along the lifecycle. The set of
// implementations is closed; each carries only the fields its transition uses.
type Action interface {
	Kind() ActionKind
	isAction()
}

type Verify struct{}

type Accept struct{}

// ReportFixed is sent by the actor who accepted the issue.
type ReportFixed struct {
	Note string `json:"note,omitempty"`
}

// Timeout is synthetic; only the revert sweep issues it.
type Timeout struct{}

type ConfirmSolved struct{}

func (Verify) Kind() ActionKind        { return ActionVerify }
func (Accept) Kind() ActionKind        { return ActionAccept }
func (ReportFixed) Kind() ActionKind   { return ActionReportFixed }
func (Timeout) Kind() ActionKind       { return ActionTimeout }
func (ConfirmSolved) Kind() ActionKind { return ActionConfirmSolved }

func (Verify) isAction()        {}
func (Accept) isAction()        {}
func (ReportFixed) isAction()   {}
func (Timeout) isAction()       {}
func (ConfirmSolved) isAction() {}

// ParseAction maps an action name to its variant. Hyphens and case are
// ignored so "Report-Fixed" and "report_fixed" are the same.
func ParseAction(kind string) (Action, error) {
	norm := strings.ToLower(strings.TrimSpace(kind))
	norm = strings.ReplaceAll(norm, "-", "_")
	switch ActionKind(norm) {
	case ActionVerify:
		return Verify{}, nil
	case ActionAccept:
		return Accept{}, nil
	case ActionReportFixed, "fixed":
		return ReportFixed{}, nil
	case ActionTimeout:
		return Timeout{}, nil
	case ActionConfirmSolved, "confirm", "solved":
		return ConfirmSolved{}, nil
	}
	return nil, fmt.Errorf("invalid action %q", kind)
}
