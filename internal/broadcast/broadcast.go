package broadcast

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"sync"

	"github.com/google/uuid"

	"civicflow/internal/domain"
)

// Handlers receive state published by other contexts.
type Handlers struct {
	Issues       func([]domain.Issue)
	Notification func(domain.Notification)
}

// Broadcaster publishes local state changes and applies remote ones. While a
// remote message is being applied, the matching local publish it triggers is
// swallowed once so two contexts never bounce the same snapshot back and
// forth.
type Broadcaster struct {
	transport Transport
	origin    string
	Logger    *log.Logger

	mu                 sync.Mutex
	ignoreIssues       bool
	ignoreNotification bool
}

func New(t Transport) *Broadcaster {
	return &Broadcaster{transport: t, origin: uuid.NewString(), Logger: log.Default()}
}

// Origin identifies this context on the wire.
func (b *Broadcaster) Origin() string { return b.origin }

// PublishIssues sends the full issue collection.
func (b *Broadcaster) PublishIssues(ctx context.Context, issues []domain.Issue) error {
	if b.consume(&b.ignoreIssues) {
		return nil
	}
	if issues == nil {
		issues = []domain.Issue{}
	}
	return b.publish(ctx, TypeIssuesUpdate, issues)
}

func (b *Broadcaster) PublishNotification(ctx context.Context, n domain.Notification) error {
	if b.consume(&b.ignoreNotification) {
		return nil
	}
	return b.publish(ctx, TypeNotification, n)
}

func (b *Broadcaster) publish(ctx context.Context, typ MessageType, v any) error {
	payload, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("encode %s: %w", typ, err)
	}
	return b.transport.Publish(ctx, Message{Type: typ, Origin: b.origin, Payload: payload})
}

// Start subscribes to the transport. The returned stop func, or cancelling
// ctx, ends the subscription.
func (b *Broadcaster) Start(ctx context.Context, h Handlers) (func(), error) {
	unsubscribe, err := b.transport.Subscribe(ctx, func(msg Message) { b.receive(msg, h) })
	if err != nil {
		return nil, err
	}
	done := make(chan struct{})
	var once sync.Once
	stop := func() {
		once.Do(func() {
			close(done)
			unsubscribe()
		})
	}
	go func() {
		select {
		case <-ctx.Done():
			stop()
		case <-done:
		}
	}()
	return stop, nil
}

func (b *Broadcaster) receive(msg Message, h Handlers) {
	if msg.Origin == b.origin {
		return
	}
	switch msg.Type {
	case TypeIssuesUpdate:
		if h.Issues == nil {
			return
		}
		var issues []domain.Issue
		if err := json.Unmarshal(msg.Payload, &issues); err != nil {
			b.logger().Printf("broadcast: bad %s payload from %s: %v", msg.Type, msg.Origin, err)
			return
		}
		b.set(&b.ignoreIssues, true)
		defer b.set(&b.ignoreIssues, false)
		h.Issues(issues)
	case TypeNotification:
		if h.Notification == nil {
			return
		}
		var n domain.Notification
		if err := json.Unmarshal(msg.Payload, &n); err != nil {
			b.logger().Printf("broadcast: bad %s payload from %s: %v", msg.Type, msg.Origin, err)
			return
		}
		b.set(&b.ignoreNotification, true)
		defer b.set(&b.ignoreNotification, false)
		h.Notification(n)
	default:
		b.logger().Printf("broadcast: ignore unknown message type %q", msg.Type)
	}
}

func (b *Broadcaster) consume(flag *bool) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	if *flag {
		*flag = false
		return true
	}
	return false
}

func (b *Broadcaster) set(flag *bool, v bool) {
	b.mu.Lock()
	*flag = v
	b.mu.Unlock()
}

func (b *Broadcaster) logger() *log.Logger {
	if b.Logger != nil {
		return b.Logger
	}
	return log.Default()
}
