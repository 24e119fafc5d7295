package eventqueue

import "time"

// PublishOption configures an Event at publish time, following the
// teacher's functional-option pattern from internal/errors/circuit.go's
// CircuitBreakerOption.
type PublishOption func(*Event)

// WithPriority overrides the default PriorityNormal.
func WithPriority(p Priority) PublishOption {
	return func(e *Event) { e.Priority = p }
}

// WithDelay schedules the event to become due after d elapses.
func WithDelay(d time.Duration) PublishOption {
	return func(e *Event) {
		at := time.Now().Add(d)
		e.ScheduledAt = &at
	}
}

// WithCorrelationID tags the event for cross-event tracing.
func WithCorrelationID(id string) PublishOption {
	return func(e *Event) { e.CorrelationID = id }
}

// WithSource records which subsystem produced the event.
func WithSource(source string) PublishOption {
	return func(e *Event) { e.Source = source }
}

// WithMaxRetries overrides DefaultMaxRetries for this event.
func WithMaxRetries(n int) PublishOption {
	return func(e *Event) { e.MaxRetries = n }
}
