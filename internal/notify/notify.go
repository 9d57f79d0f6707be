package notify

import (
	"sync"
	"time"

	"github.com/google/uuid"

	"civicflow/internal/domain"
)

// Center is the notification log, most recent first. Entries are never
// removed; only the unread flag changes.
type Center struct {
	mu    sync.RWMutex
	items []domain.Notification

	Now   func() time.Time
	NewID func() string
}

func New() *Center {
	return &Center{Now: time.Now, NewID: uuid.NewString}
}

func (c *Center) now() time.Time {
	if c.Now != nil {
		return c.Now()
	}
	return time.Now()
}

func (c *Center) newID() string {
	if c.NewID != nil {
		return c.NewID()
	}
	return uuid.NewString()
}

// Record stores a locally produced notification. It assigns an id and a
// timestamp when missing and always marks it unread.
func (c *Center) Record(n domain.Notification) domain.Notification {
	if n.ID == "" {
		n.ID = c.newID()
	}
	if n.CreatedAt.IsZero() {
		n.CreatedAt = c.now().UTC()
	}
	n.Unread = true
	c.mu.Lock()
	c.items = append([]domain.Notification{n}, c.items...)
	c.mu.Unlock()
	return n
}

// Ingest stores a notification received from another context as-is. It
// returns false if the id is already known.
func (c *Center) Ingest(n domain.Notification) bool {
	if n.ID == "" {
		return false
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.indexOf(n.ID) >= 0 {
		return false
	}
	c.items = append([]domain.Notification{n}, c.items...)
	return true
}

func (c *Center) MarkRead(id string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	idx := c.indexOf(id)
	if idx < 0 {
		return &domain.NotFoundError{Kind: "notification", ID: id}
	}
	c.items[idx].Unread = false
	return nil
}

// MarkAllRead clears every unread flag and returns how many changed.
func (c *Center) MarkAllRead() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	n := 0
	for i := range c.items {
		if c.items[i].Unread {
			c.items[i].Unread = false
			n++
		}
	}
	return n
}

func (c *Center) UnreadCount() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	n := 0
	for _, item := range c.items {
		if item.Unread {
			n++
		}
	}
	return n
}

func (c *Center) All() []domain.Notification {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return append([]domain.Notification{}, c.items...)
}

// Replace swaps the log wholesale; used when loading persisted state.
func (c *Center) Replace(items []domain.Notification) {
	next := append([]domain.Notification{}, items...)
	c.mu.Lock()
	c.items = next
	c.mu.Unlock()
}

func (c *Center) indexOf(id string) int {
	for i := range c.items {
		if c.items[i].ID == id {
			return i
		}
	}
	return -1
}
