package audit

import "sync"

// Hub fans out written entries to live subscribers.
type Hub struct {
	mu   sync.Mutex
	subs map[chan Entry]struct{}
}

func newHub() *Hub {
	return &Hub{subs: make(map[chan Entry]struct{})}
}

// Subscribe registers a new listener.
func (h *Hub) Subscribe() chan Entry {
	ch := make(chan Entry, 16)
	h.mu.Lock()
	h.subs[ch] = struct{}{}
	h.mu.Unlock()
	return ch
}

// Unsubscribe removes and closes a listener.
func (h *Hub) Unsubscribe(ch chan Entry) {
	h.mu.Lock()
	if _, ok := h.subs[ch]; ok {
		delete(h.subs, ch)
		close(ch)
	}
	h.mu.Unlock()
}

// Broadcast delivers e to every subscriber. Slow subscribers miss entries.
func (h *Hub) Broadcast(e Entry) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for ch := range h.subs {
		select {
		case ch <- e:
		default:
		}
	}
}
