package watch

import (
	"log/slog"
	"sync"
	"time"
)

// debouncer coalesces rapid fsnotify events for the same path within a
// window, collapsing CREATE+MODIFY to CREATE, CREATE+DELETE to
// nothing, and MODIFY+DELETE to DELETE — the same coalescing rules as
// the teacher's watcher.Debouncer, trimmed of its rename/gitignore/
// config-change special cases since photo roots don't need them.
type debouncer struct {
	window  time.Duration
	mu      sync.Mutex
	pending map[string]FileEvent
	timer   *time.Timer
	output  chan []FileEvent
	stopped bool
}

func newDebouncer(window time.Duration) *debouncer {
	return &debouncer{
		window:  window,
		pending: make(map[string]FileEvent),
		output:  make(chan []FileEvent, 16),
	}
}

func (d *debouncer) add(e FileEvent) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.stopped {
		return
	}

	if existing, ok := d.pending[e.Path]; ok {
		coalesced, keep := coalesce(existing, e)
		if !keep {
			delete(d.pending, e.Path)
			d.scheduleFlush()
			return
		}
		d.pending[e.Path] = coalesced
	} else {
		d.pending[e.Path] = e
	}
	d.scheduleFlush()
}

func coalesce(existing, next FileEvent) (FileEvent, bool) {
	switch existing.Operation {
	case OpCreate:
		if next.Operation == OpDelete {
			return FileEvent{}, false
		}
		return FileEvent{Path: existing.Path, Operation: OpCreate, Timestamp: next.Timestamp}, true
	case OpDelete:
		if next.Operation == OpCreate {
			return FileEvent{Path: existing.Path, Operation: OpModify, Timestamp: next.Timestamp}, true
		}
		return next, true
	default:
		return next, true
	}
}

func (d *debouncer) scheduleFlush() {
	if d.timer != nil {
		d.timer.Stop()
	}
	d.timer = time.AfterFunc(d.window, d.flush)
}

func (d *debouncer) flush() {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.stopped || len(d.pending) == 0 {
		return
	}
	events := make([]FileEvent, 0, len(d.pending))
	for _, e := range d.pending {
		events = append(events, e)
	}
	d.pending = make(map[string]FileEvent)

	select {
	case d.output <- events:
	default:
		slog.Warn("watch_debouncer_output_full", slog.Int("batch_size", len(events)))
	}
}

func (d *debouncer) Output() <-chan []FileEvent {
	return d.output
}

func (d *debouncer) Stop() {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.stopped {
		return
	}
	d.stopped = true
	if d.timer != nil {
		d.timer.Stop()
	}
	close(d.output)
}
