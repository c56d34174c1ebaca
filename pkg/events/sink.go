package events

import (
	"context"
	"sync"

	"github.com/sirupsen/logrus"
)

// Sink receives emitted events. Implementations must be safe for concurrent
// use and should return quickly; slow delivery belongs behind a buffer, not
// in the charge path.
type Sink interface {
	Emit(ctx context.Context, event Event) error
}

// contextKey is the type for context keys
type contextKey string

// sinkKey is the context key for the event sink
const sinkKey contextKey = "event_sink"

// WithSink adds an event sink to the context
func WithSink(ctx context.Context, sink Sink) context.Context {
	return context.WithValue(ctx, sinkKey, sink)
}

// FromContext retrieves the event sink from context, or a no-op sink if none
// is set.
func FromContext(ctx context.Context) Sink {
	if sink, ok := ctx.Value(sinkKey).(Sink); ok {
		return sink
	}
	return NopSink{}
}

// NopSink discards every event.
type NopSink struct{}

// Emit implements Sink.
func (NopSink) Emit(context.Context, Event) error { return nil }

// MemorySink buffers events in memory for tests and local inspection.
type MemorySink struct {
	mu     sync.Mutex
	events []Event
}

// NewMemorySink creates an empty memory sink.
func NewMemorySink() *MemorySink {
	return &MemorySink{}
}

// Emit implements Sink.
func (s *MemorySink) Emit(_ context.Context, event Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, event)
	return nil
}

// Events returns a copy of all buffered events.
func (s *MemorySink) Events() []Event {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Event, len(s.events))
	copy(out, s.events)
	return out
}

// ByKind returns buffered events of one kind.
func (s *MemorySink) ByKind(kind Kind) []Event {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []Event
	for _, e := range s.events {
		if e.Kind == kind {
			out = append(out, e)
		}
	}
	return out
}

// Reset clears the buffer.
func (s *MemorySink) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = nil
}

// LogSink writes events as structured log lines.
type LogSink struct {
	logger *logrus.Logger
}

// NewLogSink creates a sink writing to logger.
func NewLogSink(logger *logrus.Logger) *LogSink {
	return &LogSink{logger: logger}
}

// Emit implements Sink.
func (s *LogSink) Emit(_ context.Context, event Event) error {
	entry := s.logger.WithFields(logrus.Fields{
		"event_id": event.ID,
		"kind":     event.Kind,
		"status":   event.Status,
	})
	if event.Payer != "" {
		entry = entry.WithField("payer", event.Payer)
	}
	if event.Currency != "" {
		entry = entry.WithFields(logrus.Fields{
			"currency":     event.Currency,
			"amount_cents": event.AmountCents,
		})
	}
	if event.SubscriptionID != "" {
		entry = entry.WithField("subscription_id", event.SubscriptionID)
	}
	entry.Info(event.Message)
	return nil
}

// MultiSink fans an event out to several sinks. The first error is returned
// but delivery continues to the remaining sinks.
type MultiSink []Sink

// Emit implements Sink.
func (m MultiSink) Emit(ctx context.Context, event Event) error {
	var first error
	for _, s := range m {
		if err := s.Emit(ctx, event); err != nil && first == nil {
			first = err
		}
	}
	return first
}
