// Package live fans structured updates out to connected viewers.
package live

import (
	"log/slog"
	"sync"

	"github.com/google/uuid"
)

// Event names pushed to viewers.
const (
	EventMonitor = "update_monitor"
	EventStats   = "update_stats"
	EventAgents  = "update_agents"
)

// Message is one named update.
type Message struct {
	Event string
	Data  any
}

// Subscription receives messages until it is cancelled.
type Subscription struct {
	ID string
	C  <-chan Message

	hub *Hub
	ch  chan Message
}

// Close detaches the subscription from the hub.
func (s *Subscription) Close() { s.hub.unsubscribe(s.ID) }

// Hub is an in-process publish/subscribe channel. Publishing never blocks:
// a subscriber whose buffer is full misses the message.
type Hub struct {
	log    *slog.Logger
	buffer int

	mu   sync.RWMutex
	subs map[string]chan Message
}

func NewHub(log *slog.Logger, buffer int) *Hub {
	if buffer <= 0 {
		buffer = 16
	}
	return &Hub{log: log, buffer: buffer, subs: make(map[string]chan Message)}
}

// Subscribe registers a new viewer.
func (h *Hub) Subscribe() *Subscription {
	ch := make(chan Message, h.buffer)
	id := uuid.NewString()

	h.mu.Lock()
	h.subs[id] = ch
	h.mu.Unlock()

	h.log.Debug("viewer subscribed", "id", id)
	return &Subscription{ID: id, C: ch, hub: h, ch: ch}
}

func (h *Hub) unsubscribe(id string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if ch, ok := h.subs[id]; ok {
		delete(h.subs, id)
		close(ch)
		h.log.Debug("viewer unsubscribed", "id", id)
	}
}

// Publish sends one message to every subscriber.
func (h *Hub) Publish(event string, data any) {
	msg := Message{Event: event, Data: data}
	h.mu.RLock()
	defer h.mu.RUnlock()
	for id, ch := range h.subs {
		select {
		case ch <- msg:
		default:
			h.log.Debug("viewer lagging, update skipped", "id", id, "event", event)
		}
	}
}

// Subscribers returns the number of connected viewers.
func (h *Hub) Subscribers() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subs)
}
