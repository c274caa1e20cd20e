package events

import (
	"context"
	"sync"
)

// MemoryBus delivers events synchronously to in-process subscribers and
// keeps every published event for inspection.
type MemoryBus struct {
	prefix    string
	mu        sync.RWMutex
	handlers  map[string][]Handler
	published []Event
}

// NewMemoryBus creates an in-process bus using the given topic prefix
func NewMemoryBus(prefix string) *MemoryBus {
	return &MemoryBus{
		prefix:   prefix,
		handlers: make(map[string][]Handler),
	}
}

// Publish records the event and invokes subscribers of its topic
func (b *MemoryBus) Publish(ctx context.Context, evt Event) error {
	if err := evt.Validate(); err != nil {
		return err
	}

	topic := b.prefix + TopicFor(evt.Type)
	b.mu.Lock()
	b.published = append(b.published, evt)
	handlers := append([]Handler(nil), b.handlers[topic]...)
	b.mu.Unlock()

	for _, h := range handlers {
		if err := h(ctx, evt); err != nil {
			return err
		}
	}
	return nil
}

// Subscribe registers a handler for a fully qualified topic
func (b *MemoryBus) Subscribe(_ context.Context, topic string, handler Handler) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.handlers[topic] = append(b.handlers[topic], handler)
	return nil
}

// Published returns a copy of every event published so far
func (b *MemoryBus) Published() []Event {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return append([]Event(nil), b.published...)
}

// OfType returns the published events of one type
func (b *MemoryBus) OfType(t EventType) []Event {
	var out []Event
	for _, evt := range b.Published() {
		if evt.Type == t {
			out = append(out, evt)
		}
	}
	return out
}

// Close drops all subscribers
func (b *MemoryBus) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.handlers = make(map[string][]Handler)
	return nil
}
