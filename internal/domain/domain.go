package domain

import "time"

// Status is the lifecycle state of an issue.
type Status string

const (
	StatusPending    Status = "Pending"
	StatusVerified   Status = "Verified"
	StatusInProgress Status = "In Progress"
	StatusFixed      Status = "Fixed"
	StatusSolved     Status = "Solved"
)

// Statuses lists every status in lifecycle order.
var Statuses = []Status{StatusPending, StatusVerified, StatusInProgress, StatusFixed, StatusSolved}

func (s Status) Valid() bool {
	for _, v := range Statuses {
		if s == v {
			return true
		}
	}
	return false
}

// SystemActor is the identity used for transitions nobody clicked, such as the
// timeout revert.
const SystemActor = "system"

type Coordinates struct {
	Lat float64 `json:"lat"`
	Lng float64 `json:"lng"`
}

type Issue struct {
	ID          string       `json:"id"`
	Status      Status       `json:"status" enum:"Pending,Verified,In Progress,Fixed,Solved"`
	Reporter    string       `json:"reporter"`
	AcceptedBy  *string      `json:"accepted_by,omitempty"`
	AcceptedAt  *time.Time   `json:"accepted_at,omitempty" format:"date-time"`
	FixedAt     *time.Time   `json:"fixed_at,omitempty" format:"date-time"`
	Verified    bool         `json:"verified"`
	SolvedBy    *string      `json:"solved_by,omitempty"`
	SolvedAt    *time.Time   `json:"solved_at,omitempty" format:"date-time"`
	Likes       int          `json:"likes"`
	LikedBy     []string     `json:"liked_by"`
	Category    string       `json:"category,omitempty"`
	Location    string       `json:"location,omitempty"`
	Address     string       `json:"address,omitempty"`
	Coordinates *Coordinates `json:"coordinates,omitempty"`
	Description string       `json:"description"`
	Image       string       `json:"image,omitempty"`
	CreatedAt   time.Time    `json:"created_at" format:"date-time"`
	UpdatedAt   time.Time    `json:"updated_at" format:"date-time"`
}

// Clone returns a copy that shares no pointers or slices with i.
func (i Issue) Clone() Issue {
	out := i
	out.AcceptedBy = cloneString(i.AcceptedBy)
	out.SolvedBy = cloneString(i.SolvedBy)
	out.AcceptedAt = cloneTime(i.AcceptedAt)
	out.FixedAt = cloneTime(i.FixedAt)
	out.SolvedAt = cloneTime(i.SolvedAt)
	if i.LikedBy != nil {
		out.LikedBy = append([]string{}, i.LikedBy...)
	}
	if i.Coordinates != nil {
		c := *i.Coordinates
		out.Coordinates = &c
	}
	return out
}

// Active reports whether the issue still needs work.
func (i Issue) Active() bool {
	return i.Status != StatusSolved
}

// NotificationKind drives the icon shown next to a notification.
type NotificationKind string

const (
	NotificationVerify  NotificationKind = "verify"
	NotificationUpdate  NotificationKind = "update"
	NotificationConfirm NotificationKind = "confirm"
	NotificationAlert   NotificationKind = "alert"
)

type Notification struct {
	ID             string           `json:"id"`
	Title          string           `json:"title"`
	Message        string           `json:"message"`
	Kind           NotificationKind `json:"kind" enum:"verify,update,confirm,alert"`
	RelatedIssueID string           `json:"related_issue_id,omitempty"`
	CreatedAt      time.Time        `json:"created_at" format:"date-time"`
	Unread         bool             `json:"unread"`
}

// PointAward credits an actor for finishing an issue.
type PointAward struct {
	ActorID   string    `json:"actor_id"`
	IssueID   string    `json:"issue_id"`
	Points    int       `json:"points"`
	Action    string    `json:"action"`
	AwardedAt time.Time `json:"awarded_at" format:"date-time"`
}

type EventKind string

const (
	EventNotification  EventKind = "notification"
	EventPointsAwarded EventKind = "points.awarded"
)

// Event is a side effect produced by a lifecycle transition.
type Event struct {
	Kind         EventKind     `json:"kind"`
	Notification *Notification `json:"notification,omitempty"`
	Award        *PointAward   `json:"award,omitempty"`
}

type HistoryEntry struct {
	ID      string    `json:"id"`
	Action  string    `json:"action"`
	IssueID string    `json:"issue_id,omitempty"`
	Points  int       `json:"points"`
	At      time.Time `json:"at" format:"date-time"`
}

type Badge struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	Tier      string    `json:"tier"`
	AwardedAt time.Time `json:"awarded_at" format:"date-time"`
}

type UserProfile struct {
	ActorID       string         `json:"actor_id"`
	FullName      string         `json:"full_name,omitempty"`
	Email         string         `json:"email,omitempty"`
	Points        int            `json:"points"`
	PostedCount   int            `json:"posted_count"`
	AcceptedCount int            `json:"accepted_count"`
	SolvedCount   int            `json:"solved_count"`
	History       []HistoryEntry `json:"history"`
	Badges        []Badge        `json:"badges"`
	CreatedAt     time.Time      `json:"created_at" format:"date-time"`
	UpdatedAt     time.Time      `json:"updated_at" format:"date-time"`
}

// Stats counts issues per status for the admin overview.
type Stats struct {
	Total    int            `json:"total"`
	ByStatus map[Status]int `json:"by_status"`
}

// AuditEvent is a row of the persisted event log.
type AuditEvent struct {
	ID         int64  `json:"id"`
	TS         string `json:"ts" format:"date-time"`
	Type       string `json:"type"`
	EntityKind string `json:"entity_kind"`
	EntityID   string `json:"entity_id,omitempty"`
	ActorID    string `json:"actor_id"`
	Payload    string `json:"payload_json"`
}

func cloneString(s *string) *string {
	if s == nil {
		return nil
	}
	v := *s
	return &v
}

func cloneTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	v := *t
	return &v
}
