// Package feed pushes newly persisted thread messages to WebSocket subscribers.
package feed

import (
	"encoding/json"
	"log/slog"
	"sync"

	"github.com/ashureev/fincomply/internal/domain"
	"github.com/ashureev/fincomply/internal/metrics"
)

const subscriberBuffer = 32

// Event is the JSON frame sent to subscribers.
type Event struct {
	Type    string          `json:"type"`
	Message *domain.Message `json:"message,omitempty"`
}

// Subscription receives encoded events for one thread.
type Subscription struct {
	id       uint64
	threadID string
	ch       chan []byte
}

// C returns the channel of encoded events. It is closed when the hub drops the subscription.
func (s *Subscription) C() <-chan []byte {
	return s.ch
}

// Hub fans messages out to the subscribers of each thread.
type Hub struct {
	mu     sync.RWMutex
	nextID uint64
	subs   map[string]map[uint64]*Subscription
	closed bool
}

// NewHub creates an empty hub.
func NewHub() *Hub {
	return &Hub{subs: make(map[string]map[uint64]*Subscription)}
}

// Subscribe registers a subscriber for threadID. It returns nil after Close.
func (h *Hub) Subscribe(threadID string) *Subscription {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.closed {
		return nil
	}
	h.nextID++
	sub := &Subscription{id: h.nextID, threadID: threadID, ch: make(chan []byte, subscriberBuffer)}
	if _, ok := h.subs[threadID]; !ok {
		h.subs[threadID] = make(map[uint64]*Subscription)
	}
	h.subs[threadID][sub.id] = sub
	metrics.FeedSubscribers.Inc()
	slog.Debug("Feed subscriber registered", "thread_id", threadID, "subscriber_id", sub.id)
	return sub
}

// Unsubscribe removes sub and closes its channel. Safe to call more than once.
func (h *Hub) Unsubscribe(sub *Subscription) {
	if sub == nil {
		return
	}
	h.mu.Lock()
	defer h.mu.Unlock()

	subs, ok := h.subs[sub.threadID]
	if !ok {
		return
	}
	if current, exists := subs[sub.id]; exists && current == sub {
		delete(subs, sub.id)
		close(sub.ch)
		metrics.FeedSubscribers.Dec()
		if len(subs) == 0 {
			delete(h.subs, sub.threadID)
		}
	}
}

// Publish sends msg to every subscriber of threadID. It never blocks; a
// subscriber whose buffer is full misses the event.
func (h *Hub) Publish(threadID string, msg *domain.Message) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	subs := h.subs[threadID]
	if len(subs) == 0 {
		return
	}

	data, err := json.Marshal(Event{Type: "message", Message: msg})
	if err != nil {
		slog.Warn("Failed to encode feed event", "thread_id", threadID, "error", err)
		return
	}
	for id, sub := range subs {
		select {
		case sub.ch <- data:
		default:
			slog.Warn("Feed subscriber lagging, event dropped", "thread_id", threadID, "subscriber_id", id)
		}
	}
}

// Subscribers returns the number of subscribers of threadID.
func (h *Hub) Subscribers(threadID string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subs[threadID])
}

// Close drops every subscription. Later Subscribe calls return nil.
func (h *Hub) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()

	for threadID, subs := range h.subs {
		for _, sub := range subs {
			close(sub.ch)
			metrics.FeedSubscribers.Dec()
		}
		delete(h.subs, threadID)
	}
	h.closed = true
}
