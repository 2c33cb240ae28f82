package testutil

import (
	"sync"

	"github.com/brianly1003/devtap/internal/domain/events"
	"github.com/brianly1003/devtap/internal/domain/ports"
)

// CaptureHub is an EventHub that records published events synchronously.
type CaptureHub struct {
	mu        sync.Mutex
	published []events.Event
}

// NewCaptureHub creates a new capture hub.
func NewCaptureHub() *CaptureHub {
	return &CaptureHub{}
}

// Start is a no-op.
func (h *CaptureHub) Start() error { return nil }

// Stop is a no-op.
func (h *CaptureHub) Stop() error { return nil }

// Publish records the event.
func (h *CaptureHub) Publish(event events.Event) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.published = append(h.published, event)
}

// Subscribe is a no-op.
func (h *CaptureHub) Subscribe(sub ports.Subscriber) {}

// Unsubscribe is a no-op.
func (h *CaptureHub) Unsubscribe(id string) {}

// SubscriberCount always returns zero.
func (h *CaptureHub) SubscriberCount() int { return 0 }

// Published returns a copy of the recorded events.
func (h *CaptureHub) Published() []events.Event {
	h.mu.Lock()
	defer h.mu.Unlock()
	out := make([]events.Event, len(h.published))
	copy(out, h.published)
	return out
}

// PublishedOfType returns the recorded events of one type.
func (h *CaptureHub) PublishedOfType(t events.EventType) []events.Event {
	h.mu.Lock()
	defer h.mu.Unlock()
	var out []events.Event
	for _, e := range h.published {
		if e.Type() == t {
			out = append(out, e)
		}
	}
	return out
}
