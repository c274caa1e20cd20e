package events

import (
	"context"

	"github.com/legion/legion/pkg/logging"
	"github.com/legion/legion/pkg/metrics"
)

// Emitter publishes events on a best-effort basis. Bus failures are logged
// and counted but never returned, so callers' operations do not fail on them.
type Emitter struct {
	bus     Bus
	source  string
	logger  logging.Logger
	metrics metrics.Collector
	breaker *Breaker
}

// EmitterOption configures an Emitter
type EmitterOption func(*Emitter)

// WithBreaker drops events while b is open
func WithBreaker(b *Breaker) EmitterOption {
	return func(e *Emitter) { e.breaker = b }
}

// NewEmitter wraps bus. A nil bus drops every event.
func NewEmitter(bus Bus, source string, logger logging.Logger, collector metrics.Collector, opts ...EmitterOption) *Emitter {
	if bus == nil {
		bus = NopBus{}
	}
	if logger == nil {
		logger = logging.NewNopLogger()
	}
	if collector == nil {
		collector = metrics.Discard{}
	}
	e := &Emitter{bus: bus, source: source, logger: logger, metrics: collector}
	for _, opt := range opts {
		opt(e)
	}
	if e.breaker != nil {
		e.breaker.onStateChange = func(from, to BreakerState) {
			e.logger.Warn("event publishing breaker changed state",
				logging.String("from", string(from)),
				logging.String("to", string(to)),
			)
		}
	}
	return e
}

// Emit builds and publishes an event of type t
func (e *Emitter) Emit(ctx context.Context, t EventType, payload map[string]interface{}) {
	if e == nil {
		return
	}
	if !e.breaker.Allow() {
		e.metrics.IncrementCounter(metrics.EventsPublished.Name, metrics.Labels(
			"topic", TopicFor(t),
			"status", "dropped",
		))
		return
	}

	evt := NewEvent(t, e.source, payload)
	evt.CorrelationID = logging.GetCorrelationID(ctx)

	err := e.bus.Publish(ctx, evt)
	e.breaker.Record(err)
	e.metrics.IncrementCounter(metrics.EventsPublished.Name, metrics.Labels(
		"topic", TopicFor(t),
		"status", metrics.StatusLabel(err),
	))
	if err != nil {
		e.logger.WithContext(ctx).Warn("failed to publish event",
			logging.String("event_type", string(t)),
			logging.Err(err),
		)
	}
}
