package gitmon

import "sync"

// Hub fans monitor events out to any number of subscribers. Delivery is
// fire-and-forget: a subscriber that cannot keep up loses events rather
// than stalling the monitors.
type Hub struct {
	mu   sync.Mutex
	subs map[chan Event]string // subscriber -> session id filter ("" = all)
}

// NewHub creates an empty hub.
func NewHub() *Hub {
	return &Hub{subs: make(map[chan Event]string)}
}

// Run consumes events until the channel closes. Call from a goroutine.
func (h *Hub) Run(events <-chan Event) {
	for ev := range events {
		h.publish(ev)
	}
}

func (h *Hub) publish(ev Event) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for ch, filter := range h.subs {
		if filter != "" && filter != ev.SessionID {
			continue
		}
		select {
		case ch <- ev:
		default:
		}
	}
}

// Subscribe registers a buffered event channel, optionally filtered to one
// session id. The caller must Unsubscribe when done.
func (h *Hub) Subscribe(sessionID string) chan Event {
	ch := make(chan Event, 16)
	h.mu.Lock()
	h.subs[ch] = sessionID
	h.mu.Unlock()
	return ch
}

// Unsubscribe removes and closes the channel.
func (h *Hub) Unsubscribe(ch chan Event) {
	h.mu.Lock()
	_, ok := h.subs[ch]
	delete(h.subs, ch)
	h.mu.Unlock()
	if ok {
		close(ch)
	}
}
