package civicflowsdk

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// Client is a minimal CivicFlow HTTP API client.
type Client struct {
	BaseURL     string
	BearerToken string
	// ActorID is sent as X-Actor-Id when no bearer token is set. Only servers
	// started with the legacy header enabled accept it.
	ActorID    string
	HTTPClient *http.Client
	Timeout    time.Duration
}

// New creates a client with sane defaults.
func New(baseURL string) *Client {
	return &Client{
		BaseURL: baseURL,
		Timeout: 10 * time.Second,
	}
}

type Coordinates struct {
	Lat float64 `json:"lat"`
	Lng float64 `json:"lng"`
}

// Issue represents the API issue model.
type Issue struct {
	ID               string       `json:"id"`
	Status           string       `json:"status"`
	Reporter         string       `json:"reporter"`
	AcceptedBy       *string      `json:"accepted_by,omitempty"`
	AcceptedAt       *time.Time   `json:"accepted_at,omitempty"`
	FixedAt          *time.Time   `json:"fixed_at,omitempty"`
	Verified         bool         `json:"verified"`
	SolvedBy         *string      `json:"solved_by,omitempty"`
	SolvedAt         *time.Time   `json:"solved_at,omitempty"`
	Likes            int          `json:"likes"`
	LikedBy          []string     `json:"liked_by"`
	Category         string       `json:"category,omitempty"`
	Location         string       `json:"location,omitempty"`
	Address          string       `json:"address,omitempty"`
	Coordinates      *Coordinates `json:"coordinates,omitempty"`
	Description      string       `json:"description"`
	Image            string       `json:"image,omitempty"`
	CreatedAt        time.Time    `json:"created_at"`
	UpdatedAt        time.Time    `json:"updated_at"`
	Deadline         *time.Time   `json:"deadline,omitempty"`
	RemainingSeconds *int64       `json:"remaining_seconds,omitempty"`
}

// NewIssue is the body of SubmitIssue.
type NewIssue struct {
	ID          string       `json:"id,omitempty"`
	Category    string       `json:"category,omitempty"`
	Location    string       `json:"location,omitempty"`
	Address     string       `json:"address,omitempty"`
	Coordinates *Coordinates `json:"coordinates,omitempty"`
	Description string       `json:"description"`
	Image       string       `json:"image,omitempty"`
}

type Notification struct {
	ID             string    `json:"id"`
	Title          string    `json:"title"`
	Message        string    `json:"message"`
	Kind           string    `json:"kind"`
	RelatedIssueID string    `json:"related_issue_id,omitempty"`
	CreatedAt      time.Time `json:"created_at"`
	Unread         bool      `json:"unread"`
}

type PointAward struct {
	ActorID   string    `json:"actor_id"`
	IssueID   string    `json:"issue_id"`
	Points    int       `json:"points"`
	Action    string    `json:"action"`
	AwardedAt time.Time `json:"awarded_at"`
}

// ActionResult is the outcome of a lifecycle action.
type ActionResult struct {
	Issue         Issue          `json:"issue"`
	Notifications []Notification `json:"notifications"`
	Award         *PointAward    `json:"award,omitempty"`
}

type Badge struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	Tier      string    `json:"tier"`
	AwardedAt time.Time `json:"awarded_at"`
}

type Profile struct {
	ActorID       string  `json:"actor_id"`
	FullName      string  `json:"full_name,omitempty"`
	Points        int     `json:"points"`
	PostedCount   int     `json:"posted_count"`
	AcceptedCount int     `json:"accepted_count"`
	SolvedCount   int     `json:"solved_count"`
	Badges        []Badge `json:"badges"`
}

type Stats struct {
	Total    int            `json:"total"`
	ByStatus map[string]int `json:"by_status"`
}

// Event represents an audit log entry.
type Event struct {
	ID         int64          `json:"id"`
	TS         string         `json:"ts"`
	Type       string         `json:"type"`
	EntityID   string         `json:"entity_id"`
	EntityKind string         `json:"entity_kind"`
	ActorID    string         `json:"actor_id"`
	Payload    map[string]any `json:"payload"`
}

// PaginatedEvents wraps list responses with cursors.
type PaginatedEvents struct {
	Items      []Event `json:"items"`
	NextCursor string  `json:"next_cursor"`
}

// APIError wraps non-2xx responses.
type APIError struct {
	StatusCode int
	Code       string
	Message    string
	Body       string
}

func (e *APIError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("api error: status=%d code=%s message=%s", e.StatusCode, e.Code, e.Message)
	}
	return fmt.Sprintf("api error: status=%d body=%s", e.StatusCode, e.Body)
}

// Login mints a dev token for actorID and keeps it for later calls.
func (c *Client) Login(ctx context.Context, actorID string) (string, error) {
	var resp struct {
		Token string `json:"token"`
	}
	if err := c.do(ctx, http.MethodPost, "v0/auth/dev/login", map[string]any{"actor_id": actorID}, &resp); err != nil {
		return "", err
	}
	c.BearerToken = resp.Token
	return resp.Token, nil
}

// SubmitIssue reports a new issue as the authenticated actor.
func (c *Client) SubmitIssue(ctx context.Context, in NewIssue) (Issue, error) {
	var resp Issue
	err := c.do(ctx, http.MethodPost, "v0/issues", in, &resp)
	return resp, err
}

// ListIssues returns issues, optionally filtered by status.
func (c *Client) ListIssues(ctx context.Context, status string) ([]Issue, error) {
	endpoint := "v0/issues"
	if status != "" {
		endpoint += "?status=" + url.QueryEscape(status)
	}
	var resp struct {
		Items []Issue `json:"items"`
	}
	err := c.do(ctx, http.MethodGet, endpoint, nil, &resp)
	return resp.Items, err
}

func (c *Client) GetIssue(ctx context.Context, id string) (Issue, error) {
	var resp Issue
	err := c.do(ctx, http.MethodGet, c.issuePath(id, ""), nil, &resp)
	return resp, err
}

func (c *Client) DeleteIssue(ctx context.Context, id string) error {
	return c.do(ctx, http.MethodDelete, c.issuePath(id, ""), nil, nil)
}

// Act applies a lifecycle action such as "accept" or "report_fixed".
func (c *Client) Act(ctx context.Context, id, action, note string) (ActionResult, error) {
	body := map[string]any{"action": action}
	if note != "" {
		body["note"] = note
	}
	var resp ActionResult
	err := c.do(ctx, http.MethodPost, c.issuePath(id, "actions"), body, &resp)
	return resp, err
}

func (c *Client) ToggleSupport(ctx context.Context, id string) (Issue, error) {
	var resp Issue
	err := c.do(ctx, http.MethodPost, c.issuePath(id, "support"), nil, &resp)
	return resp, err
}

func (c *Client) RequestVerification(ctx context.Context, id string) (Notification, error) {
	var resp Notification
	err := c.do(ctx, http.MethodPost, c.issuePath(id, "verification-requests"), nil, &resp)
	return resp, err
}

// Notifications returns the notification log and the unread count.
func (c *Client) Notifications(ctx context.Context, unreadOnly bool) ([]Notification, int, error) {
	endpoint := "v0/notifications"
	if unreadOnly {
		endpoint += "?unread=true"
	}
	var resp struct {
		Items       []Notification `json:"items"`
		UnreadCount int            `json:"unread_count"`
	}
	err := c.do(ctx, http.MethodGet, endpoint, nil, &resp)
	return resp.Items, resp.UnreadCount, err
}

func (c *Client) MarkRead(ctx context.Context, id string) error {
	return c.do(ctx, http.MethodPost, fmt.Sprintf("v0/notifications/%s/read", url.PathEscape(id)), nil, nil)
}

func (c *Client) MarkAllRead(ctx context.Context) (int, error) {
	var resp struct {
		Marked int `json:"marked"`
	}
	err := c.do(ctx, http.MethodPost, "v0/notifications/read-all", nil, &resp)
	return resp.Marked, err
}

func (c *Client) Profile(ctx context.Context) (Profile, error) {
	var resp Profile
	err := c.do(ctx, http.MethodGet, "v0/profile", nil, &resp)
	return resp, err
}

func (c *Client) Stats(ctx context.Context) (Stats, error) {
	var resp Stats
	err := c.do(ctx, http.MethodGet, "v0/stats", nil, &resp)
	return resp, err
}

// Events returns recent events.
func (c *Client) Events(ctx context.Context, limit int) ([]Event, error) {
	page, err := c.EventsPage(ctx, limit, "")
	return page.Items, err
}

// EventsPage returns a paginated event listing, newest first.
func (c *Client) EventsPage(ctx context.Context, limit int, cursor string) (PaginatedEvents, error) {
	q := url.Values{}
	if limit > 0 {
		q.Set("limit", fmt.Sprintf("%d", limit))
	}
	if cursor != "" {
		q.Set("cursor", cursor)
	}
	endpoint := "v0/events"
	if len(q) > 0 {
		endpoint += "?" + q.Encode()
	}
	var resp PaginatedEvents
	err := c.do(ctx, http.MethodGet, endpoint, nil, &resp)
	return resp, err
}

func (c *Client) do(ctx context.Context, method, endpoint string, body any, out any) error {
	if c.HTTPClient == nil {
		c.HTTPClient = &http.Client{Timeout: c.Timeout}
	}
	url := c.base() + "/" + strings.TrimLeft(endpoint, "/")
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			return err
		}
	}
	req, err := http.NewRequestWithContext(ctx, method, url, &buf)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	switch {
	case c.BearerToken != "":
		req.Header.Set("Authorization", "Bearer "+c.BearerToken)
	case c.ActorID != "":
		req.Header.Set("X-Actor-Id", c.ActorID)
	}
	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		b, _ := io.ReadAll(resp.Body)
		apiErr := &APIError{StatusCode: resp.StatusCode, Body: string(b)}
		var env struct {
			Error struct {
				Code    string `json:"code"`
				Message string `json:"message"`
			} `json:"error"`
		}
		if json.Unmarshal(b, &env) == nil {
			apiErr.Code = env.Error.Code
			apiErr.Message = env.Error.Message
		}
		return apiErr
	}
	if out != nil && resp.StatusCode != http.StatusNoContent {
		return json.NewDecoder(resp.Body).Decode(out)
	}
	return nil
}

func (c *Client) issuePath(id, sub string) string {
	p := "v0/issues/" + url.PathEscape(id)
	if sub != "" {
		p += "/" + sub
	}
	return p
}

func (c *Client) base() string {
	return strings.TrimRight(c.BaseURL, "/")
}
