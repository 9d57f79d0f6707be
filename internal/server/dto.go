package server

import (
	"encoding/json"
	"time"

	"civicflow/internal/app"
	"civicflow/internal/domain"
	"civicflow/internal/engine"
)

// Request payloads

// SubmitIssueRequest is a new report. The reporter is the authenticated actor.
type SubmitIssueRequest struct {
	ID          string              `json:"id,omitempty"`
	Category    string              `json:"category,omitempty" example:"Roads"`
	Location    string              `json:"location,omitempty"`
	Address     string              `json:"address,omitempty" example:"12 MG Road"`
	Coordinates *domain.Coordinates `json:"coordinates,omitempty"`
	Description string              `json:"description" example:"Deep pothole near the bus stop"`
	Image       string              `json:"image,omitempty"`
}

type ActionRequest struct {
	Action string `json:"action" example:"accept" doc:"verify, accept, report_fixed, confirm_solved"`
	Note   string `json:"note,omitempty"`
}

type DevLoginRequest struct {
	ActorID string `json:"actor_id"`
}

// Responses

// IssueResponse is an issue plus its acceptance deadline while In Progress.
type IssueResponse struct {
	domain.Issue
	Deadline         *time.Time `json:"deadline,omitempty" format:"date-time"`
	RemainingSeconds *int64     `json:"remaining_seconds,omitempty"`
}

type IssueListResponse struct {
	Items []IssueResponse `json:"items"`
}

type ActionResponse struct {
	Issue         IssueResponse         `json:"issue"`
	Notifications []domain.Notification `json:"notifications"`
	Award         *domain.PointAward    `json:"award,omitempty"`
}

type NotificationListResponse struct {
	Items       []domain.Notification `json:"items"`
	UnreadCount int                   `json:"unread_count"`
}

type MarkAllReadResponse struct {
	Marked int `json:"marked"`
}

type EventResponse struct {
	ID         int64          `json:"id"`
	TS         string         `json:"ts" format:"date-time"`
	Type       string         `json:"type"`
	EntityKind string         `json:"entity_kind"`
	EntityID   string         `json:"entity_id,omitempty"`
	ActorID    string         `json:"actor_id"`
	Payload    map[string]any `json:"payload"`
}

type paginatedEvents struct {
	Items      []EventResponse `json:"items"`
	NextCursor string          `json:"next_cursor,omitempty"`
}

type WhoAmIResponse struct {
	ActorID string   `json:"actor_id"`
	Roles   []string `json:"roles"`
	Admin   bool     `json:"admin"`
	Source  string   `json:"source"`
}

type DevLoginResponse struct {
	Token     string    `json:"token"`
	ExpiresAt time.Time `json:"expires_at" format:"date-time"`
	Roles     []string  `json:"roles"`
}

// Conversion helpers

func issueResponse(core *app.Core, issue domain.Issue, now time.Time) IssueResponse {
	resp := IssueResponse{Issue: issue}
	eng := core.Engine()
	if deadline, ok := eng.Deadline(issue); ok {
		d := deadline
		secs := int64(eng.Remaining(issue, now) / time.Second)
		resp.Deadline = &d
		resp.RemainingSeconds = &secs
	}
	return resp
}

func actionResponse(core *app.Core, res engine.Result, now time.Time) ActionResponse {
	out := ActionResponse{
		Issue:         issueResponse(core, res.Issue, now),
		Notifications: res.Notifications(),
	}
	if out.Notifications == nil {
		out.Notifications = []domain.Notification{}
	}
	if award, ok := res.Award(); ok {
		out.Award = &award
	}
	return out
}

func eventResponse(e domain.AuditEvent) EventResponse {
	return EventResponse{
		ID:         e.ID,
		TS:         e.TS,
		Type:       e.Type,
		EntityKind: e.EntityKind,
		EntityID:   e.EntityID,
		ActorID:    e.ActorID,
		Payload:    decodeJSONMap(e.Payload),
	}
}

func decodeJSONMap(raw string) map[string]any {
	out := map[string]any{}
	if raw == "" {
		return out
	}
	if err := json.Unmarshal([]byte(raw), &out); err != nil {
		return map[string]any{"raw": raw}
	}
	return out
}
