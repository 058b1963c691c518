// Package notify fans transfer events out to the live connections
// subscribed for each user. Delivery is best-effort: the hub never
// persists events and never blocks a publisher on a slow consumer.
package notify

import (
	"encoding/json"
	"log/slog"
	"sync"

	"github.com/google/uuid"
)

const subscriberBuffer = 16

type Envelope struct {
	Event string `json:"event"`
	Data  any    `json:"data"`
}

// Subscriber is one live connection's view of the hub. Events arrive on
// Events() as pre-marshaled JSON envelopes; the channel closes when the
// subscriber is removed or the hub shuts down.
type Subscriber struct {
	send chan []byte
	once sync.Once
}

func NewSubscriber() *Subscriber {
	return &Subscriber{send: make(chan []byte, subscriberBuffer)}
}

func (s *Subscriber) Events() <-chan []byte {
	return s.send
}

func (s *Subscriber) close() {
	s.once.Do(func() { close(s.send) })
}

// Hub is the process-local subscriber registry, keyed by user ID. It is
// an injected dependency of the transfer engine and the websocket
// handler, safe for concurrent use from many connections.
type Hub struct {
	mu     sync.RWMutex
	subs   map[uuid.UUID]map[*Subscriber]struct{}
	closed bool
}

func NewHub() *Hub {
	return &Hub{subs: make(map[uuid.UUID]map[*Subscriber]struct{})}
}

// Subscribe registers sub under userID. Registering the same subscriber
// twice is a no-op.
func (h *Hub) Subscribe(userID uuid.UUID, sub *Subscriber) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.closed {
		sub.close()
		return
	}
	set, ok := h.subs[userID]
	if !ok {
		set = make(map[*Subscriber]struct{})
		h.subs[userID] = set
	}
	set[sub] = struct{}{}
}

func (h *Hub) Unsubscribe(userID uuid.UUID, sub *Subscriber) {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.remove(userID, sub)
}

// Publish delivers event to every subscriber currently registered for
// userID. Subscribers whose buffers are full are dropped rather than
// waited on; marshal failures are logged and swallowed.
func (h *Hub) Publish(userID uuid.UUID, event string, data any) {
	payload, err := json.Marshal(Envelope{Event: event, Data: data})
	if err != nil {
		slog.Error("notify: marshal event", "event", event, "error", err)
		return
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	for sub := range h.subs[userID] {
		select {
		case sub.send <- payload:
		default:
			// Consumer is not draining; cut it loose instead of blocking
			// the publish path.
			h.remove(userID, sub)
		}
	}
}

// SubscriberCount reports the live subscriber count for userID.
func (h *Hub) SubscriberCount(userID uuid.UUID) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subs[userID])
}

// Close drops every subscriber and rejects future registrations. Called
// once on process shutdown.
func (h *Hub) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.closed = true
	for userID, set := range h.subs {
		for sub := range set {
			sub.close()
		}
		delete(h.subs, userID)
	}
}

// remove expects h.mu held.
func (h *Hub) remove(userID uuid.UUID, sub *Subscriber) {
	set, ok := h.subs[userID]
	if !ok {
		return
	}
	if _, ok := set[sub]; !ok {
		return
	}
	delete(set, sub)
	if len(set) == 0 {
		delete(h.subs, userID)
	}
	sub.close()
}
