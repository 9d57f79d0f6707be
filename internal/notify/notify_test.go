package notify_test

import (
	"errors"
	"fmt"
	"testing"
	"time"

	"civicflow/internal/domain"
	"civicflow/internal/notify"
)

func newCenter() *notify.Center {
	c := notify.New()
	c.Now = func() time.Time { return time.Date(2026, 2, 20, 9, 0, 0, 0, time.UTC) }
	seq := 0
	c.NewID = func() string {
		seq++
		return fmt.Sprintf("n-%d", seq)
	}
	return c
}

func TestRecordPrependsUnread(t *testing.T) {
	c := newCenter()
	first := c.Record(domain.Notification{Title: "Issue Verified", Kind: domain.NotificationVerify})
	second := c.Record(domain.Notification{Title: "Task Accepted!", Kind: domain.NotificationUpdate})
	if first.ID != "n-1" || second.ID != "n-2" {
		t.Fatalf("ids: %s %s", first.ID, second.ID)
	}
	all := c.All()
	if len(all) != 2 || all[0].ID != "n-2" {
		t.Fatalf("expected newest first: %+v", all)
	}
	if !all[0].Unread || !all[1].Unread || all[0].CreatedAt.IsZero() {
		t.Fatalf("expected unread with timestamps: %+v", all)
	}
	if c.UnreadCount() != 2 {
		t.Fatalf("unread: %d", c.UnreadCount())
	}
}

func TestMarkRead(t *testing.T) {
	c := newCenter()
	n := c.Record(domain.Notification{Title: "a"})
	c.Record(domain.Notification{Title: "b"})
	if err := c.MarkRead(n.ID); err != nil {
		t.Fatalf("mark read: %v", err)
	}
	if c.UnreadCount() != 1 {
		t.Fatalf("unread after mark: %d", c.UnreadCount())
	}
	if err := c.MarkRead("missing"); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
	if changed := c.MarkAllRead(); changed != 1 {
		t.Fatalf("mark all changed %d", changed)
	}
	if c.UnreadCount() != 0 || len(c.All()) != 2 {
		t.Fatalf("mark all read removed or kept unread items")
	}
}

func TestIngestSkipsKnownIDs(t *testing.T) {
	c := newCenter()
	remote := domain.Notification{ID: "remote-1", Title: "Fix Reported", Unread: true}
	if !c.Ingest(remote) {
		t.Fatalf("first ingest rejected")
	}
	if c.Ingest(remote) {
		t.Fatalf("duplicate ingest accepted")
	}
	if c.Ingest(domain.Notification{Title: "no id"}) {
		t.Fatalf("ingest without id accepted")
	}
	if len(c.All()) != 1 {
		t.Fatalf("expected one item")
	}
}
