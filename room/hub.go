// Package room tracks who is looking at which board and fans board
// notifications out to them.
package room

import (
	"sync"

	"prism-board/domain"
)

// Subscriber receives encoded notifications for a topic.
// Send must not block; it reports false when the payload was dropped.
type Subscriber interface {
	ID() string
	Send(payload []byte) bool
}

// Hub is a topic per board key broadcaster.
type Hub struct {
	mu     sync.Mutex
	topics map[domain.BoardKey]map[string]Subscriber
}

// NewHub creates an empty hub.
func NewHub() *Hub {
	return &Hub{topics: make(map[domain.BoardKey]map[string]Subscriber)}
}

// Subscribe adds sub to the topic for key. Subscribing twice is a no-op.
func (h *Hub) Subscribe(key domain.BoardKey, sub Subscriber) {
	h.mu.Lock()
	defer h.mu.Unlock()
	subs, ok := h.topics[key]
	if !ok {
		subs = make(map[string]Subscriber)
		h.topics[key] = subs
	}
	subs[sub.ID()] = sub
}

// Unsubscribe removes sub from the topic for key and drops empty topics.
func (h *Hub) Unsubscribe(key domain.BoardKey, sub Subscriber) {
	h.mu.Lock()
	defer h.mu.Unlock()
	subs, ok := h.topics[key]
	if !ok {
		return
	}
	delete(subs, sub.ID())
	if len(subs) == 0 {
		delete(h.topics, key)
	}
}

// Publish hands payload to every subscriber of key and returns how many
// accepted it. Slow subscribers lose the message instead of stalling the
// publisher. Concurrent publishes to one key reach each subscriber in the
// order they took the hub lock.
func (h *Hub) Publish(key domain.BoardKey, payload []byte) int {
	h.mu.Lock()
	defer h.mu.Unlock()
	delivered := 0
	for _, sub := range h.topics[key] {
		if sub.Send(payload) {
			delivered++
		}
	}
	return delivered
}

// Subscribers returns the number of subscribers on key.
func (h *Hub) Subscribers(key domain.BoardKey) int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.topics[key])
}
