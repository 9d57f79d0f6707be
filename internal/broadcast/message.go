package broadcast

import (
	"context"
	"encoding/json"
)

type MessageType string

const (
	TypeIssuesUpdate MessageType = "ISSUES_UPDATE"
	TypeNotification MessageType = "NOTIFICATION"
)

// Message is the wire envelope shared by every transport.
type Message struct {
	Type    MessageType     `json:"type"`
	Origin  string          `json:"origin"`
	Payload json.RawMessage `json:"payload"`
}

type Publisher interface {
	Publish(ctx context.Context, msg Message) error
}

// Subscriber delivers every message published by other participants to fn
// until stop is called.
type Subscriber interface {
	Subscribe(ctx context.Context, fn func(Message)) (stop func(), err error)
}

type Transport interface {
	Publisher
	Subscriber
	Close() error
}
