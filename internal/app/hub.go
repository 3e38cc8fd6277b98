package app

import (
	"context"
	"sync"

	"codeclash-score-service/internal/domain"
)

// Hub is an in-process fan-out of change events keyed by topic.
type Hub struct {
	mu     sync.Mutex
	topics map[string]map[chan domain.ChangeEvent]struct{}
}

func NewHub() *Hub {
	return &Hub{topics: make(map[string]map[chan domain.ChangeEvent]struct{})}
}

// Publish delivers the event to every subscriber of its topic without blocking.
// A subscriber that has fallen behind loses its oldest pending event.
func (h *Hub) Publish(_ context.Context, ev domain.ChangeEvent) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	for ch := range h.topics[ev.Topic()] {
		select {
		case ch <- ev:
		default:
			select {
			case <-ch:
			default:
			}
			ch <- ev
		}
	}
	return nil
}

// Subscribe returns a channel of events for topic.
// The caller must invoke the returned cancel function to avoid leaks.
func (h *Hub) Subscribe(topic string) (<-chan domain.ChangeEvent, func()) {
	ch := make(chan domain.ChangeEvent, 8)

	h.mu.Lock()
	subs, ok := h.topics[topic]
	if !ok {
		subs = make(map[chan domain.ChangeEvent]struct{})
		h.topics[topic] = subs
	}
	subs[ch] = struct{}{}
	h.mu.Unlock()

	cancel := func() {
		h.mu.Lock()
		defer h.mu.Unlock()
		subs, ok := h.topics[topic]
		if !ok {
			return
		}
		if _, ok := subs[ch]; ok {
			delete(subs, ch)
			close(ch)
		}
		if len(subs) == 0 {
			delete(h.topics, topic)
		}
	}
	return ch, cancel
}

// Subscribers reports how many listeners a topic has.
func (h *Hub) Subscribers(topic string) int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.topics[topic])
}
