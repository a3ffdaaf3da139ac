// Package stream fans stored notifications out to live subscribers.
package stream

import (
	"context"
	"sync"

	"labdesk.org/internal/access"
	"labdesk.org/internal/notify"
)

const bufferSize = 16

type subscriber struct {
	role access.Role
	ch   chan notify.Notification
}

// Hub delivers each notification to the subscribers whose role may see it.
type Hub struct {
	mu     sync.RWMutex
	subs   map[int]subscriber
	next   int
	onDrop func()
}

var _ notify.Publisher = (*Hub)(nil)

// Option configures a Hub.
type Option func(*Hub)

// OnDrop is called, under the hub lock, for every delivery a full
// subscriber misses.
func OnDrop(fn func()) Option {
	return func(h *Hub) {
		if fn != nil {
			h.onDrop = fn
		}
	}
}

// New initialises an empty hub.
func New(opts ...Option) *Hub {
	h := &Hub{subs: make(map[int]subscriber), onDrop: func() {}}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// Subscribe registers a subscriber for role. The channel is closed when ctx
// ends.
func (h *Hub) Subscribe(ctx context.Context, role access.Role) <-chan notify.Notification {
	ch := make(chan notify.Notification, bufferSize)

	h.mu.Lock()
	id := h.next
	h.next++
	h.subs[id] = subscriber{role: role, ch: ch}
	h.mu.Unlock()

	go func() {
		<-ctx.Done()
		h.mu.Lock()
		delete(h.subs, id)
		close(ch)
		h.mu.Unlock()
	}()

	return ch
}

// Publish never blocks; slow subscribers miss events and can catch up by
// listing.
func (h *Hub) Publish(n notify.Notification) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for _, sub := range h.subs {
		if !n.Broadcast() && *n.TargetRole != sub.role {
			continue
		}
		select {
		case sub.ch <- n:
		default:
			h.onDrop()
		}
	}
}

// Subscribers reports how many subscribers are attached.
func (h *Hub) Subscribers() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subs)
}
