package notifications

import (
	"sync"
)

// subscriberBuffer is how many notifications a slow stream may fall behind
// before new ones are dropped for it.
const subscriberBuffer = 16

// Hub fans stored notifications out to the live streams of their user.
// Delivery is best effort; the stored row is the source of truth.
type Hub struct {
	mu   sync.RWMutex
	subs map[string]map[chan Notification]struct{}
}

// NewHub creates an empty hub.
func NewHub() *Hub {
	return &Hub{subs: make(map[string]map[chan Notification]struct{})}
}

// Subscribe registers a stream for userID. The returned func unsubscribes
// and closes the channel; it is safe to call more than once.
func (h *Hub) Subscribe(userID string) (<-chan Notification, func()) {
	ch := make(chan Notification, subscriberBuffer)

	h.mu.Lock()
	if h.subs[userID] == nil {
		h.subs[userID] = make(map[chan Notification]struct{})
	}
	h.subs[userID][ch] = struct{}{}
	h.mu.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			h.mu.Lock()
			delete(h.subs[userID], ch)
			if len(h.subs[userID]) == 0 {
				delete(h.subs, userID)
			}
			h.mu.Unlock()
			close(ch)
		})
	}
}

// Publish hands n to every stream of its user without blocking. It returns
// how many streams received it and how many were full.
func (h *Hub) Publish(n Notification) (sent, dropped int) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	for ch := range h.subs[n.UserID] {
		select {
		case ch <- n:
			sent++
		default:
			dropped++
		}
	}
	return sent, dropped
}

// Subscribers counts open streams for userID.
func (h *Hub) Subscribers(userID string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subs[userID])
}
