package services

import (
	"sync"

	"spacecast/internal/core/domain"

	"go.uber.org/zap"
)

// EventHub fans Space events out to any number of subscribers. A
// subscriber that falls behind loses events rather than stalling the
// publisher.
type EventHub struct {
	logger *zap.SugaredLogger
	buffer int

	mu     sync.RWMutex
	subs   map[uint64]chan domain.Event
	nextID uint64
	closed bool
}

func NewEventHub(buffer int, logger *zap.Logger) *EventHub {
	if buffer <= 0 {
		buffer = 128
	}
	return &EventHub{
		logger: logger.Sugar().With("component", "event_hub"),
		buffer: buffer,
		subs:   make(map[uint64]chan domain.Event),
	}
}

// Subscribe returns a channel of events and a function that ends the
// subscription. The channel is closed by the cancel function or by Close.
func (h *EventHub) Subscribe() (<-chan domain.Event, func()) {
	h.mu.Lock()
	defer h.mu.Unlock()

	ch := make(chan domain.Event, h.buffer)
	if h.closed {
		close(ch)
		return ch, func() {}
	}

	id := h.nextID
	h.nextID++
	h.subs[id] = ch

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			h.mu.Lock()
			defer h.mu.Unlock()
			if sub, ok := h.subs[id]; ok {
				delete(h.subs, id)
				close(sub)
			}
		})
	}
}

// Publish delivers ev to every subscriber without blocking.
func (h *EventHub) Publish(ev domain.Event) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	if h.closed {
		return
	}
	for id, ch := range h.subs {
		select {
		case ch <- ev:
		default:
			h.logger.Warnw("subscriber behind, dropping event",
				"subscriber", id,
				"kind", ev.Kind(),
			)
		}
	}
}

// Close ends every subscription. Later publishes are dropped.
func (h *EventHub) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.closed {
		return
	}
	h.closed = true
	for id, ch := range h.subs {
		close(ch)
		delete(h.subs, id)
	}
}

func (h *EventHub) SubscriberCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subs)
}
