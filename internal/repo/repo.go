package repo

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"civicflow/internal/domain"
	"civicflow/internal/events"
)

// Stable keys of the persisted state.
const (
	KeyIssues        = "civicflow.issues"
	KeyNotifications = "civicflow.notifications"
	KeyProfile       = "civicflow.user_profile"
)

var ErrNotFound = errors.New("not found")

type Repo struct {
	DB  *sql.DB
	Now func() time.Time
}

func (r Repo) now() time.Time {
	if r.Now != nil {
		return r.Now()
	}
	return time.Now()
}

// Snapshot is the persisted state of one core. Nil fields were absent from
// storage (on load) or are left untouched (on save).
type Snapshot struct {
	Issues        []domain.Issue        `json:"issues"`
	Notifications []domain.Notification `json:"notifications"`
	Profile       *domain.UserProfile   `json:"profile,omitempty"`
}

// AuditRecord is an audit log row written together with a snapshot.
type AuditRecord struct {
	Type       string
	EntityKind string
	EntityID   string
	ActorID    string
	Payload    events.EventPayload
}

func (r Repo) GetState(ctx context.Context, key string) ([]byte, error) {
	var value string
	err := r.DB.QueryRowContext(ctx, `SELECT value_json FROM kv_state WHERE key=?`, key).Scan(&value)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return []byte(value), nil
}

func (r Repo) PutState(ctx context.Context, key string, value []byte) error {
	tx, err := r.DB.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()
	if err := r.PutStateTx(ctx, tx, key, value); err != nil {
		return err
	}
	return tx.Commit()
}

func (r Repo) PutStateTx(ctx context.Context, tx *sql.Tx, key string, value []byte) error {
	if !json.Valid(value) {
		return fmt.Errorf("state %s: value is not valid json", key)
	}
	now := r.now().UTC().Format(time.RFC3339Nano)
	_, err := tx.ExecContext(ctx, `
INSERT INTO kv_state(key,value_json,updated_at) VALUES (?,?,?)
ON CONFLICT(key) DO UPDATE SET value_json=excluded.value_json, updated_at=excluded.updated_at`,
		key, string(value), now)
	if err != nil {
		return fmt.Errorf("put state %s: %w", key, err)
	}
	return nil
}

// SaveSnapshot writes every non-nil part of snap and the audit records in a
// single transaction.
func (r Repo) SaveSnapshot(ctx context.Context, snap Snapshot, audit ...AuditRecord) error {
	tx, err := r.DB.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	put := func(key string, v any) error {
		data, err := json.Marshal(v)
		if err != nil {
			return fmt.Errorf("encode %s: %w", key, err)
		}
		return r.PutStateTx(ctx, tx, key, data)
	}
	if snap.Issues != nil {
		if err := put(KeyIssues, snap.Issues); err != nil {
			return err
		}
	}
	if snap.Notifications != nil {
		if err := put(KeyNotifications, snap.Notifications); err != nil {
			return err
		}
	}
	if snap.Profile != nil {
		if err := put(KeyProfile, snap.Profile); err != nil {
			return err
		}
	}
	w := events.Writer{DB: r.DB, Now: r.Now}
	for _, rec := range audit {
		if err := w.Append(ctx, tx, rec.Type, rec.EntityKind, rec.EntityID, rec.ActorID, rec.Payload); err != nil {
			return err
		}
	}
	return tx.Commit()
}

// LoadSnapshot reads whatever state is stored. Missing keys leave the
// matching field nil.
func (r Repo) LoadSnapshot(ctx context.Context) (Snapshot, error) {
	var snap Snapshot
	load := func(key string, into any) (bool, error) {
		data, err := r.GetState(ctx, key)
		if errors.Is(err, ErrNotFound) {
			return false, nil
		}
		if err != nil {
			return false, err
		}
		if err := json.Unmarshal(data, into); err != nil {
			return false, fmt.Errorf("decode %s: %w", key, err)
		}
		return true, nil
	}
	var issues []domain.Issue
	if ok, err := load(KeyIssues, &issues); err != nil {
		return Snapshot{}, err
	} else if ok {
		if issues == nil {
			issues = []domain.Issue{}
		}
		snap.Issues = issues
	}
	var notifications []domain.Notification
	if ok, err := load(KeyNotifications, &notifications); err != nil {
		return Snapshot{}, err
	} else if ok {
		if notifications == nil {
			notifications = []domain.Notification{}
		}
		snap.Notifications = notifications
	}
	var profile domain.UserProfile
	if ok, err := load(KeyProfile, &profile); err != nil {
		return Snapshot{}, err
	} else if ok {
		snap.Profile = &profile
	}
	return snap, nil
}

// EventFilter narrows audit event queries. Zero values match everything.
type EventFilter struct {
	Type       string
	EntityKind string
	EntityID   string
}

func (f EventFilter) clauses() ([]string, []any) {
	clauses := []string{"1=1"}
	var args []any
	if f.Type != "" {
		clauses = append(clauses, "type=?")
		args = append(args, f.Type)
	}
	if f.EntityKind != "" {
		clauses = append(clauses, "entity_kind=?")
		args = append(args, f.EntityKind)
	}
	if f.EntityID != "" {
		clauses = append(clauses, "entity_id=?")
		args = append(args, f.EntityID)
	}
	return clauses, args
}

// LatestEvents returns up to limit events, newest first, older than cursor
// when cursor is positive.
func (r Repo) LatestEvents(ctx context.Context, limit int, cursor int64, f EventFilter) ([]domain.AuditEvent, error) {
	if limit <= 0 {
		limit = 50
	}
	clauses, args := f.clauses()
	if cursor > 0 {
		clauses = append(clauses, "id<?")
		args = append(args, cursor)
	}
	query := fmt.Sprintf(`SELECT id,ts,type,entity_kind,COALESCE(entity_id,''),actor_id,payload_json FROM events WHERE %s ORDER BY id DESC LIMIT ?`, strings.Join(clauses, " AND "))
	return r.queryEvents(ctx, query, append(args, limit)...)
}

// EventsAfter returns events with IDs greater than the cursor in ascending order.
func (r Repo) EventsAfter(ctx context.Context, limit int, cursor int64) ([]domain.AuditEvent, error) {
	if limit <= 0 {
		limit = 100
	}
	return r.queryEvents(ctx, `SELECT id,ts,type,entity_kind,COALESCE(entity_id,''),actor_id,payload_json FROM events WHERE id>? ORDER BY id ASC LIMIT ?`, cursor, limit)
}

// LatestEventID returns the most recent event ID, 0 when the log is empty.
func (r Repo) LatestEventID(ctx context.Context) (int64, error) {
	var id int64
	if err := r.DB.QueryRowContext(ctx, `SELECT COALESCE(MAX(id),0) FROM events`).Scan(&id); err != nil {
		return 0, err
	}
	return id, nil
}

func (r Repo) queryEvents(ctx context.Context, query string, args ...any) ([]domain.AuditEvent, error) {
	rows, err := r.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.AuditEvent
	for rows.Next() {
		var e domain.AuditEvent
		if err := rows.Scan(&e.ID, &e.TS, &e.Type, &e.EntityKind, &e.EntityID, &e.ActorID, &e.Payload); err != nil {
			return nil, err
		}
		res = append(res, e)
	}
	return res, rows.Err()
}
