package app

import (
	"context"
	"fmt"

	"civicflow/internal/broadcast"
	"civicflow/internal/domain"
	"civicflow/internal/events"
	"civicflow/internal/repo"
)

// Load restores issues, notifications and the profile from the state store.
// A missing profile is created for the local user and saved.
func (c *Core) Load(ctx context.Context) error {
	if c.state == nil {
		return nil
	}
	snap, err := c.state.LoadSnapshot(ctx)
	if err != nil {
		return fmt.Errorf("load state: %w", err)
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if snap.Issues != nil {
		if err := c.issues.Replace(snap.Issues); err != nil {
			return fmt.Errorf("load issues: %w", err)
		}
	}
	if snap.Notifications != nil {
		c.notes.Replace(snap.Notifications)
	}
	if snap.Profile != nil && snap.Profile.ActorID == c.cfg.Actors.LocalUser {
		if err := c.profile.Set(*snap.Profile); err != nil {
			return fmt.Errorf("load profile: %w", err)
		}
		return nil
	}
	p := c.profile.Get()
	return c.state.SaveSnapshot(ctx, repo.Snapshot{Profile: &p})
}

// Persist writes the full current state.
func (c *Core) Persist(ctx context.Context) error {
	if c.state == nil {
		return nil
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state.SaveSnapshot(ctx, c.snapshot())
}

// SetProfile overwrites the local profile, e.g. from cf profile init.
func (c *Core) SetProfile(ctx context.Context, p domain.UserProfile) error {
	if p.ActorID != c.cfg.Actors.LocalUser {
		return &domain.PermissionError{Actor: p.ActorID, Action: "set profile", Reason: "only the local user's profile is stored"}
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.profile.Set(p); err != nil {
		return err
	}
	if c.state == nil {
		return nil
	}
	stored := c.profile.Get()
	return c.state.SaveSnapshot(ctx, repo.Snapshot{Profile: &stored})
}

func (c *Core) snapshot() repo.Snapshot {
	p := c.profile.Get()
	return repo.Snapshot{Issues: c.issues.All(), Notifications: c.notes.All(), Profile: &p}
}

// persist saves the state after a committed change. Callers hold c.mu. The
// in-memory commit stands even if the write fails; the failure is logged.
func (c *Core) persist(ctx context.Context, audit ...repo.AuditRecord) {
	if c.state == nil {
		return
	}
	if err := c.state.SaveSnapshot(ctx, c.snapshot(), audit...); err != nil {
		c.logger.Printf("app: persist state: %v", err)
	}
}

// AttachSync connects the core to peers through b. Remote snapshots replace
// the local collection wholesale; remote notifications are added unless
// already known. The returned func detaches.
func (c *Core) AttachSync(ctx context.Context, b *broadcast.Broadcaster) (func(), error) {
	stop, err := b.Start(ctx, broadcast.Handlers{
		Issues:       func(issues []domain.Issue) { c.applyRemoteIssues(ctx, b.Origin(), issues) },
		Notification: func(n domain.Notification) { c.applyRemoteNotification(ctx, n) },
	})
	if err != nil {
		return nil, err
	}
	c.bmu.Lock()
	c.bcast = b
	c.bmu.Unlock()
	return func() {
		stop()
		c.bmu.Lock()
		if c.bcast == b {
			c.bcast = nil
		}
		c.bmu.Unlock()
	}, nil
}

func (c *Core) broadcaster() *broadcast.Broadcaster {
	c.bmu.RLock()
	defer c.bmu.RUnlock()
	return c.bcast
}

func (c *Core) applyRemoteIssues(ctx context.Context, origin string, issues []domain.Issue) {
	c.mu.Lock()
	if err := c.issues.Replace(issues); err != nil {
		c.mu.Unlock()
		c.logger.Printf("app: reject remote snapshot: %v", err)
		return
	}
	c.persist(ctx, repo.AuditRecord{
		Type: events.IssuesSynced, EntityKind: "issue", ActorID: domain.SystemActor,
		Payload: events.EventPayload{"count": len(issues), "receiver": origin},
	})
	c.mu.Unlock()
	// the publish this triggers is swallowed by the broadcaster
	c.apply(ctx, effects{issuesChanged: true})
}

func (c *Core) applyRemoteNotification(ctx context.Context, n domain.Notification) {
	c.mu.Lock()
	if !c.notes.Ingest(n) {
		c.mu.Unlock()
		return
	}
	c.persist(ctx, repo.AuditRecord{
		Type: events.NotificationRecorded, EntityKind: "notification", EntityID: n.ID, ActorID: domain.SystemActor,
		Payload: events.EventPayload{"title": n.Title, "kind": string(n.Kind), "remote": true},
	})
	c.mu.Unlock()
	c.apply(ctx, effects{notifications: []domain.Notification{n}})
}
