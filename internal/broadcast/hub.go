package broadcast

import (
	"context"
	"errors"
	"sync"
)

var ErrClosed = errors.New("broadcast channel closed")

// Hub connects in-process channels, one per context. A message published on a
// channel is handed synchronously, in send order, to the subscribers of every
// other open channel.
type Hub struct {
	mu       sync.Mutex
	channels map[*Channel]struct{}
}

func NewHub() *Hub {
	return &Hub{channels: map[*Channel]struct{}{}}
}

// Channel opens a new participant on the hub.
func (h *Hub) Channel() *Channel {
	c := &Channel{hub: h, subs: map[int]func(Message){}}
	h.mu.Lock()
	h.channels[c] = struct{}{}
	h.mu.Unlock()
	return c
}

func (h *Hub) peers(from *Channel) []*Channel {
	h.mu.Lock()
	defer h.mu.Unlock()
	out := make([]*Channel, 0, len(h.channels))
	for c := range h.channels {
		if c != from {
			out = append(out, c)
		}
	}
	return out
}

// Channel is one participant of a Hub. It implements Transport.
type Channel struct {
	hub *Hub

	mu     sync.Mutex
	subs   map[int]func(Message)
	nextID int
	closed bool
}

func (c *Channel) Publish(ctx context.Context, msg Message) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	c.mu.Lock()
	closed := c.closed
	c.mu.Unlock()
	if closed {
		return ErrClosed
	}
	for _, peer := range c.hub.peers(c) {
		peer.deliver(msg)
	}
	return nil
}

func (c *Channel) Subscribe(_ context.Context, fn func(Message)) (func(), error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return nil, ErrClosed
	}
	id := c.nextID
	c.nextID++
	c.subs[id] = fn
	var once sync.Once
	return func() {
		once.Do(func() {
			c.mu.Lock()
			delete(c.subs, id)
			c.mu.Unlock()
		})
	}, nil
}

// Close detaches the channel from its hub.
func (c *Channel) Close() error {
	c.mu.Lock()
	c.closed = true
	c.subs = map[int]func(Message){}
	c.mu.Unlock()
	c.hub.mu.Lock()
	delete(c.hub.channels, c)
	c.hub.mu.Unlock()
	return nil
}

func (c *Channel) deliver(msg Message) {
	c.mu.Lock()
	fns := make([]func(Message), 0, len(c.subs))
	for id := 0; id < c.nextID; id++ {
		if fn, ok := c.subs[id]; ok {
			fns = append(fns, fn)
		}
	}
	c.mu.Unlock()
	for _, fn := range fns {
		fn(msg)
	}
}
