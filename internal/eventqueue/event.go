// Package eventqueue implements a priority queue for coordinating
// background work: indexing progress, optimization passes, and cleanup
// jobs. Events are ordered by due time first, then priority, then
// creation order, and failed events retry with exponential backoff
// before landing in a persistent dead-letter store.
package eventqueue

import (
	"time"

	"github.com/google/uuid"
)

// Type identifies the kind of event carried through the queue.
type Type string

const (
	TypeFileDiscovered      Type = "file_discovered"
	TypeFileModified        Type = "file_modified"
	TypeFileDeleted         Type = "file_deleted"
	TypeProcessingStarted   Type = "processing_started"
	TypeProcessingCompleted Type = "processing_completed"
	TypeProcessingFailed    Type = "processing_failed"
	TypeIndexStarted        Type = "index_started"
	TypeIndexProgress       Type = "index_progress"
	TypeIndexCompleted      Type = "index_completed"
	TypeIndexFailed         Type = "index_failed"
	TypeSearchRequested     Type = "search_requested"
	TypeSearchCompleted     Type = "search_completed"
	TypeSystemStartup       Type = "system_startup"
	TypeSystemShutdown      Type = "system_shutdown"
	TypeWorkerStarted       Type = "worker_started"
	TypeWorkerStopped       Type = "worker_stopped"
	TypeOptimizationNeeded  Type = "optimization_requested"
	TypeBackupRequested     Type = "backup_requested"
	TypeCleanupRequested    Type = "cleanup_requested"
)

// Priority ranks events for processing order; lower values run first.
type Priority int

const (
	PriorityCritical Priority = 1
	PriorityHigh     Priority = 2
	PriorityNormal   Priority = 3
	PriorityLow      Priority = 4
	PriorityCleanup  Priority = 5
)

// Event is a unit of work moving through the queue.
type Event struct {
	ID            string
	Type          Type
	Priority      Priority
	Data          map[string]any
	CreatedAt     time.Time
	ScheduledAt   *time.Time
	RetryCount    int
	MaxRetries    int
	CorrelationID string
	Source        string
}

func newEvent(t Type, data map[string]any, priority Priority) *Event {
	return &Event{
		ID:         uuid.NewString(),
		Type:       t,
		Priority:   priority,
		Data:       data,
		CreatedAt:  time.Now(),
		MaxRetries: DefaultMaxRetries,
	}
}

// IsDue reports whether the event is ready for processing.
func (e *Event) IsDue() bool {
	return e.ScheduledAt == nil || !time.Now().Before(*e.ScheduledAt)
}

// less implements the queue's total order: unscheduled/due events
// before future-scheduled ones, then earlier scheduled time, then
// higher priority (lower numeric value), then earlier creation time.
// Mirrors event_queue.py's Event.__lt__.
func less(a, b *Event) bool {
	if a.ScheduledAt != nil && b.ScheduledAt != nil {
		if !a.ScheduledAt.Equal(*b.ScheduledAt) {
			return a.ScheduledAt.Before(*b.ScheduledAt)
		}
	} else if a.ScheduledAt != nil {
		return false
	} else if b.ScheduledAt != nil {
		return true
	}

	if a.Priority != b.Priority {
		return a.Priority < b.Priority
	}
	return a.CreatedAt.Before(b.CreatedAt)
}
