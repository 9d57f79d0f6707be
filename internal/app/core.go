package app

import (
	"context"
	"fmt"
	"log"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"civicflow/internal/broadcast"
	"civicflow/internal/config"
	"civicflow/internal/domain"
	"civicflow/internal/engine"
	"civicflow/internal/events"
	"civicflow/internal/notify"
	"civicflow/internal/profile"
	"civicflow/internal/repo"
	"civicflow/internal/store"
)

// StateStore persists core snapshots. repo.Repo implements it.
type StateStore interface {
	LoadSnapshot(ctx context.Context) (repo.Snapshot, error)
	SaveSnapshot(ctx context.Context, snap repo.Snapshot, audit ...repo.AuditRecord) error
}

type Options struct {
	Config *config.Config
	// State is optional; without it the core keeps everything in memory.
	State  StateStore
	Logger *log.Logger
	Now    func() time.Time
	NewID  func() string
}

// IssuePayload is what a reporter submits.
type IssuePayload struct {
	ID          string              `json:"id,omitempty"`
	Reporter    string              `json:"reporter"`
	Category    string              `json:"category,omitempty"`
	Location    string              `json:"location,omitempty"`
	Address     string              `json:"address,omitempty"`
	Coordinates *domain.Coordinates `json:"coordinates,omitempty"`
	Description string              `json:"description"`
	Image       string              `json:"image,omitempty"`
}

// Core is one context's view of the system: the issue store, the engine,
// the notification log and the local profile. All mutations are serialized
// by one mutex; listeners and sync publishes run after it is released.
type Core struct {
	mu      sync.Mutex
	cfg     *config.Config
	engine  engine.Engine
	issues  *store.Store
	notes   *notify.Center
	profile *profile.Store
	state   StateStore
	logger  *log.Logger
	now     func() time.Time
	newID   func() string

	bmu   sync.RWMutex
	bcast *broadcast.Broadcaster

	lmu            sync.Mutex
	nextListener   int
	noteListeners  map[int]func(domain.Notification)
	issueListeners map[int]func([]domain.Issue)
}

func New(opts Options) *Core {
	cfg := opts.Config
	if cfg == nil {
		cfg = config.Default()
	}
	now := opts.Now
	if now == nil {
		now = time.Now
	}
	newID := opts.NewID
	if newID == nil {
		newID = uuid.NewString
	}
	logger := opts.Logger
	if logger == nil {
		logger = log.Default()
	}
	eng := engine.New(cfg)
	eng.Now = now
	notes := notify.New()
	notes.Now = now
	notes.NewID = newID
	prof := profile.New(cfg.Actors.LocalUser, cfg.Actors.FullName)
	prof.Now = now
	prof.NewID = newID
	return &Core{
		cfg:            cfg,
		engine:         eng,
		issues:         store.New(),
		notes:          notes,
		profile:        prof,
		state:          opts.State,
		logger:         logger,
		now:            now,
		newID:          newID,
		noteListeners:  map[int]func(domain.Notification){},
		issueListeners: map[int]func([]domain.Issue){},
	}
}

func (c *Core) Config() *config.Config { return c.cfg }

func (c *Core) Engine() engine.Engine { return c.engine }

// effects are applied once the core mutex is released.
type effects struct {
	issuesChanged bool
	notifications []domain.Notification
}

// SubmitIssue creates a Pending issue. An active issue at the same address or
// location is treated as a duplicate.
func (c *Core) SubmitIssue(ctx context.Context, p IssuePayload) (domain.Issue, error) {
	if err := ctx.Err(); err != nil {
		return domain.Issue{}, err
	}
	if err := c.engine.Policy.RequireUser(p.Reporter, "submit"); err != nil {
		return domain.Issue{}, err
	}
	if strings.TrimSpace(p.Description) == "" {
		return domain.Issue{}, &domain.InvariantError{IssueID: p.ID, Rule: "description is required"}
	}
	c.mu.Lock()
	if dup, ok := findDuplicate(c.issues.All(), p); ok {
		c.mu.Unlock()
		return domain.Issue{}, &domain.ConflictError{IssueID: dup.ID, Reason: "an open issue already exists at this location"}
	}
	now := c.now().UTC()
	id := p.ID
	if id == "" {
		id = c.newID()
	}
	issue := domain.Issue{
		ID:          id,
		Status:      domain.StatusPending,
		Reporter:    p.Reporter,
		LikedBy:     []string{},
		Category:    p.Category,
		Location:    p.Location,
		Address:     p.Address,
		Coordinates: p.Coordinates,
		Description: p.Description,
		Image:       p.Image,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if err := c.issues.Add(issue); err != nil {
		c.mu.Unlock()
		return domain.Issue{}, err
	}
	c.persist(ctx, repo.AuditRecord{
		Type: events.IssueSubmitted, EntityKind: "issue", EntityID: id, ActorID: p.Reporter,
		Payload: events.EventPayload{"category": p.Category, "address": p.Address},
	})
	c.mu.Unlock()
	c.apply(ctx, effects{issuesChanged: true})
	return issue.Clone(), nil
}

// ApplyAction runs one lifecycle transition and commits it. The returned
// result carries the notifications as recorded, with their ids.
func (c *Core) ApplyAction(ctx context.Context, issueID, actorID string, action domain.Action) (engine.Result, error) {
	if err := ctx.Err(); err != nil {
		return engine.Result{}, err
	}
	c.mu.Lock()
	issue, err := c.issues.Get(issueID)
	if err != nil {
		c.mu.Unlock()
		return engine.Result{}, err
	}
	res, err := c.engine.Apply(issue, actorID, action)
	if err != nil {
		c.mu.Unlock()
		return engine.Result{}, err
	}
	if err := c.issues.Commit(res.Issue); err != nil {
		c.mu.Unlock()
		return engine.Result{}, err
	}
	audit := []repo.AuditRecord{{
		Type: events.IssueTransitioned, EntityKind: "issue", EntityID: issueID, ActorID: actorID,
		Payload: events.EventPayload{"action": string(action.Kind()), "from": string(issue.Status), "to": string(res.Issue.Status)},
	}}
	var fx effects
	fx.issuesChanged = true
	for i, ev := range res.Events {
		switch {
		case ev.Notification != nil:
			n := c.notes.Record(*ev.Notification)
			res.Events[i].Notification = &n
			fx.notifications = append(fx.notifications, n)
			audit = append(audit, repo.AuditRecord{
				Type: events.NotificationRecorded, EntityKind: "notification", EntityID: n.ID, ActorID: actorID,
				Payload: events.EventPayload{"title": n.Title, "kind": string(n.Kind), "issue_id": n.RelatedIssueID},
			})
		case ev.Award != nil:
			p, unlocked, err := c.profile.Award(*ev.Award)
			if err != nil {
				c.logger.Printf("app: award for %s: %v", issueID, err)
				continue
			}
			badges := make([]string, 0, len(unlocked))
			for _, b := range unlocked {
				badges = append(badges, b.ID)
			}
			audit = append(audit, repo.AuditRecord{
				Type: events.PointsAwarded, EntityKind: "profile", EntityID: p.ActorID, ActorID: actorID,
				Payload: events.EventPayload{"points": ev.Award.Points, "total": p.Points, "issue_id": issueID, "badges": badges},
			})
		}
	}
	c.persist(ctx, audit...)
	c.mu.Unlock()
	c.apply(ctx, fx)
	return res, nil
}

// DeleteIssue removes an issue outside the lifecycle. Admin only.
func (c *Core) DeleteIssue(ctx context.Context, issueID, actorID string) error {
	if err := c.engine.Policy.RequireAdmin(actorID, "delete"); err != nil {
		return err
	}
	c.mu.Lock()
	if err := c.issues.Remove(issueID); err != nil {
		c.mu.Unlock()
		return err
	}
	c.persist(ctx, repo.AuditRecord{Type: events.IssueDeleted, EntityKind: "issue", EntityID: issueID, ActorID: actorID})
	c.mu.Unlock()
	c.apply(ctx, effects{issuesChanged: true})
	return nil
}

// ToggleSupport adds actorID to the issue's supporters, or removes it if
// already present.
func (c *Core) ToggleSupport(ctx context.Context, issueID, actorID string) (domain.Issue, error) {
	if err := c.engine.Policy.RequireUser(actorID, "support"); err != nil {
		return domain.Issue{}, err
	}
	c.mu.Lock()
	issue, err := c.issues.Get(issueID)
	if err != nil {
		c.mu.Unlock()
		return domain.Issue{}, err
	}
	supported := true
	next := make([]string, 0, len(issue.LikedBy)+1)
	for _, a := range issue.LikedBy {
		if a == actorID {
			supported = false
			continue
		}
		next = append(next, a)
	}
	if supported {
		next = append(next, actorID)
	}
	issue.LikedBy = next
	issue.Likes = len(next)
	issue.UpdatedAt = c.now().UTC()
	if err := c.issues.Commit(issue); err != nil {
		c.mu.Unlock()
		return domain.Issue{}, err
	}
	c.persist(ctx, repo.AuditRecord{
		Type: events.IssueSupportToggled, EntityKind: "issue", EntityID: issueID, ActorID: actorID,
		Payload: events.EventPayload{"supported": supported, "likes": issue.Likes},
	})
	c.mu.Unlock()
	c.apply(ctx, effects{issuesChanged: true})
	return issue, nil
}

// RequestVerification asks nearby residents to verify an issue. Admin only.
func (c *Core) RequestVerification(ctx context.Context, issueID, actorID string) (domain.Notification, error) {
	if err := c.engine.Policy.RequireAdmin(actorID, "request verification"); err != nil {
		return domain.Notification{}, err
	}
	c.mu.Lock()
	issue, err := c.issues.Get(issueID)
	if err != nil {
		c.mu.Unlock()
		return domain.Notification{}, err
	}
	msg := fmt.Sprintf("Admin requests nearby residents to verify: %q", shorten(issue.Description, 50))
	if where := firstNonEmpty(issue.Location, issue.Address); where != "" {
		msg += " at " + where
	}
	n := c.notes.Record(domain.Notification{
		Title:          "Verification Request",
		Message:        msg,
		Kind:           domain.NotificationVerify,
		RelatedIssueID: issueID,
	})
	c.persist(ctx, repo.AuditRecord{
		Type: events.NotificationRecorded, EntityKind: "notification", EntityID: n.ID, ActorID: actorID,
		Payload: events.EventPayload{"title": n.Title, "kind": string(n.Kind), "issue_id": issueID},
	})
	c.mu.Unlock()
	c.apply(ctx, effects{notifications: []domain.Notification{n}})
	return n, nil
}

func (c *Core) MarkRead(ctx context.Context, id string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.notes.MarkRead(id); err != nil {
		return err
	}
	c.persist(ctx, repo.AuditRecord{Type: events.NotificationRead, EntityKind: "notification", EntityID: id, ActorID: c.cfg.Actors.LocalUser})
	return nil
}

func (c *Core) MarkAllRead(ctx context.Context) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	n := c.notes.MarkAllRead()
	if n > 0 {
		c.persist(ctx, repo.AuditRecord{
			Type: events.NotificationRead, EntityKind: "notification", ActorID: c.cfg.Actors.LocalUser,
			Payload: events.EventPayload{"count": n},
		})
	}
	return n
}

func (c *Core) Issues() []domain.Issue { return c.issues.All() }

func (c *Core) Issue(id string) (domain.Issue, error) { return c.issues.Get(id) }

func (c *Core) Notifications() []domain.Notification { return c.notes.All() }

func (c *Core) UnreadCount() int { return c.notes.UnreadCount() }

func (c *Core) Profile() domain.UserProfile { return c.profile.Get() }

// Stats counts issues per status.
func (c *Core) Stats() domain.Stats {
	all := c.issues.All()
	st := domain.Stats{Total: len(all), ByStatus: make(map[domain.Status]int, len(domain.Statuses))}
	for _, s := range domain.Statuses {
		st.ByStatus[s] = 0
	}
	for _, issue := range all {
		st.ByStatus[issue.Status]++
	}
	return st
}

// OnNotification registers fn for every notification recorded or received.
func (c *Core) OnNotification(fn func(domain.Notification)) func() {
	c.lmu.Lock()
	defer c.lmu.Unlock()
	id := c.nextListener
	c.nextListener++
	c.noteListeners[id] = fn
	return func() {
		c.lmu.Lock()
		delete(c.noteListeners, id)
		c.lmu.Unlock()
	}
}

// OnIssuesChanged registers fn for every commit, local or remote; fn receives
// the full collection.
func (c *Core) OnIssuesChanged(fn func([]domain.Issue)) func() {
	c.lmu.Lock()
	defer c.lmu.Unlock()
	id := c.nextListener
	c.nextListener++
	c.issueListeners[id] = fn
	return func() {
		c.lmu.Lock()
		delete(c.issueListeners, id)
		c.lmu.Unlock()
	}
}

// apply publishes to peers and notifies listeners. Called without c.mu held.
func (c *Core) apply(ctx context.Context, fx effects) {
	b := c.broadcaster()
	if fx.issuesChanged {
		issues := c.issues.All()
		if b != nil {
			if err := b.PublishIssues(ctx, issues); err != nil {
				c.logger.Printf("app: publish issues: %v", err)
			}
		}
		for _, fn := range c.issueFns() {
			fn(issues)
		}
	}
	for _, n := range fx.notifications {
		if b != nil {
			if err := b.PublishNotification(ctx, n); err != nil {
				c.logger.Printf("app: publish notification: %v", err)
			}
		}
		for _, fn := range c.noteFns() {
			fn(n)
		}
	}
}

func (c *Core) issueFns() []func([]domain.Issue) {
	c.lmu.Lock()
	defer c.lmu.Unlock()
	fns := make([]func([]domain.Issue), 0, len(c.issueListeners))
	for id := 0; id < c.nextListener; id++ {
		if fn, ok := c.issueListeners[id]; ok {
			fns = append(fns, fn)
		}
	}
	return fns
}

func (c *Core) noteFns() []func(domain.Notification) {
	c.lmu.Lock()
	defer c.lmu.Unlock()
	fns := make([]func(domain.Notification), 0, len(c.noteListeners))
	for id := 0; id < c.nextListener; id++ {
		if fn, ok := c.noteListeners[id]; ok {
			fns = append(fns, fn)
		}
	}
	return fns
}

func findDuplicate(issues []domain.Issue, p IssuePayload) (domain.Issue, bool) {
	addr := strings.ToLower(strings.TrimSpace(p.Address))
	loc := strings.TrimSpace(p.Location)
	for _, issue := range issues {
		if !issue.Active() {
			continue
		}
		other := strings.ToLower(strings.TrimSpace(issue.Address))
		if addr != "" && other != "" && (other == addr || strings.Contains(other, addr) || strings.Contains(addr, other)) {
			return issue, true
		}
		if loc != "" && strings.TrimSpace(issue.Location) == loc {
			return issue, true
		}
	}
	return domain.Issue{}, false
}

func shorten(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n]) + "..."
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if strings.TrimSpace(v) != "" {
			return v
		}
	}
	return ""
}
