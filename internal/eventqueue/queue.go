package eventqueue

import (
	"container/heap"
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"
)

// Defaults mirror event_queue.py's EventQueue(max_workers=10) and
// Event(max_retries=3).
const (
	DefaultWorkers       = 10
	DefaultSchedulerTick = time.Second
	DefaultMaxRetries    = 3
)

// Handler processes events of a given Type. Handle returning a non-nil
// error causes the event to retry (with backoff) or land in the
// dead-letter store once MaxRetries is exhausted.
type Handler interface {
	Name() string
	CanHandle(e *Event) bool
	Handle(ctx context.Context, e *Event) error
}

// MiddlewareFunc runs before handler dispatch; returning false drops
// the event without counting it as processed or failed.
type MiddlewareFunc func(e *Event) bool

// Config configures a Queue.
type Config struct {
	// Workers is the size of the cooperative worker pool.
	Workers int
	// SchedulerTick is how often delayed events are checked for
	// promotion into the ready queue.
	SchedulerTick time.Duration
	// DeadLetterPath, if set, persists exhausted events to a bbolt
	// database at this path so they survive a restart. Empty keeps
	// dead-lettered events in memory only.
	DeadLetterPath string
}

func (c Config) withDefaults() Config {
	if c.Workers <= 0 {
		c.Workers = DefaultWorkers
	}
	if c.SchedulerTick <= 0 {
		c.SchedulerTick = DefaultSchedulerTick
	}
	return c
}

// Queue is a priority event queue with scheduled delivery, retry with
// exponential backoff, and a dead-letter store for events that never
// succeed. Grounded on the teacher's internal/errors/circuit.go state
// machine and internal/async's background-goroutine lifecycle.
type Queue struct {
	cfg    Config
	logger *slog.Logger

	handlersMu sync.RWMutex
	handlers   map[Type][]Handler

	middlewareMu sync.RWMutex
	middleware   []MiddlewareFunc

	mu        sync.Mutex
	cond      *sync.Cond
	due       eventHeap
	scheduled []*Event
	running   bool
	cancel    context.CancelFunc
	wg        sync.WaitGroup

	stats *statsTracker

	deadLetter    *deadLetterStore
	deadLetterMu  sync.Mutex
	deadLetterMem []*Event
}

// New creates a Queue. If cfg.DeadLetterPath is set, it opens (or
// creates) a bbolt database there for the dead-letter store.
func New(cfg Config, logger *slog.Logger) (*Queue, error) {
	cfg = cfg.withDefaults()
	q := &Queue{
		cfg:      cfg,
		logger:   logger,
		handlers: make(map[Type][]Handler),
		stats:    &statsTracker{},
	}
	q.cond = sync.NewCond(&q.mu)

	if cfg.DeadLetterPath != "" {
		store, err := openDeadLetterStore(cfg.DeadLetterPath)
		if err != nil {
			return nil, err
		}
		q.deadLetter = store
	}
	return q, nil
}

// AddHandler registers a handler for an event type. Multiple handlers
// for the same type all run, in registration order, until one fails.
func (q *Queue) AddHandler(t Type, h Handler) {
	q.handlersMu.Lock()
	defer q.handlersMu.Unlock()
	q.handlers[t] = append(q.handlers[t], h)
}

// AddMiddleware appends a middleware to the chain run before dispatch.
func (q *Queue) AddMiddleware(mw MiddlewareFunc) {
	q.middlewareMu.Lock()
	defer q.middlewareMu.Unlock()
	q.middleware = append(q.middleware, mw)
}

// Publish enqueues an event, immediate unless WithDelay is given.
func (q *Queue) Publish(t Type, data map[string]any, opts ...PublishOption) string {
	e := newEvent(t, data, PriorityNormal)
	for _, opt := range opts {
		opt(e)
	}
	q.enqueue(e)
	return e.ID
}

// Schedule enqueues an event due at a specific time.
func (q *Queue) Schedule(t Type, data map[string]any, at time.Time, opts ...PublishOption) string {
	e := newEvent(t, data, PriorityNormal)
	for _, opt := range opts {
		opt(e)
	}
	e.ScheduledAt = &at
	q.enqueue(e)
	return e.ID
}

func (q *Queue) enqueue(e *Event) {
	q.mu.Lock()
	if e.ScheduledAt != nil && e.ScheduledAt.After(time.Now()) {
		q.scheduled = append(q.scheduled, e)
	} else {
		heap.Push(&q.due, e)
	}
	q.mu.Unlock()
	q.cond.Broadcast()
}

// Start launches the scheduler tick and the worker pool. Non-blocking.
func (q *Queue) Start(ctx context.Context) error {
	q.mu.Lock()
	if q.running {
		q.mu.Unlock()
		return nil
	}
	runCtx, cancel := context.WithCancel(ctx)
	q.cancel = cancel
	q.running = true
	q.mu.Unlock()

	q.wg.Add(1 + q.cfg.Workers)
	go q.schedulerLoop(runCtx)
	for i := 0; i < q.cfg.Workers; i++ {
		go q.workerLoop(runCtx, fmt.Sprintf("worker-%d", i))
	}
	if q.logger != nil {
		q.logger.Info("event queue started", slog.Int("workers", q.cfg.Workers))
	}
	return nil
}

// Stop signals workers and the scheduler to exit, waiting up to
// timeout for them to drain before giving up.
func (q *Queue) Stop(timeout time.Duration) error {
	q.mu.Lock()
	if !q.running {
		q.mu.Unlock()
		return nil
	}
	q.running = false
	cancel := q.cancel
	q.mu.Unlock()

	cancel()
	q.cond.Broadcast()

	done := make(chan struct{})
	go func() {
		q.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(timeout):
		if q.logger != nil {
			q.logger.Warn("event queue workers did not stop within timeout")
		}
	}
	if q.logger != nil {
		q.logger.Info("event queue stopped")
	}
	return nil
}

// Close releases the dead-letter store's underlying file, if any.
func (q *Queue) Close() error {
	if q.deadLetter != nil {
		return q.deadLetter.close()
	}
	return nil
}

func (q *Queue) schedulerLoop(ctx context.Context) {
	defer q.wg.Done()
	ticker := time.NewTicker(q.cfg.SchedulerTick)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			q.promoteDue()
		}
	}
}

func (q *Queue) promoteDue() {
	now := time.Now()
	q.mu.Lock()
	var remaining, due []*Event
	for _, e := range q.scheduled {
		if e.ScheduledAt == nil || !now.Before(*e.ScheduledAt) {
			due = append(due, e)
		} else {
			remaining = append(remaining, e)
		}
	}
	q.scheduled = remaining
	for _, e := range due {
		heap.Push(&q.due, e)
	}
	q.mu.Unlock()
	if len(due) > 0 {
		q.cond.Broadcast()
	}
}

// nextDue blocks until an event is ready or the queue stops, mirroring
// Python's blocking PriorityQueue.get() shared across worker threads.
func (q *Queue) nextDue() (*Event, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	for len(q.due) == 0 && q.running {
		q.cond.Wait()
	}
	if len(q.due) == 0 {
		return nil, false
	}
	return heap.Pop(&q.due).(*Event), true
}

func (q *Queue) workerLoop(ctx context.Context, name string) {
	defer q.wg.Done()
	for {
		e, ok := q.nextDue()
		if !ok {
			return
		}
		q.stats.workerStarted()
		q.process(ctx, name, e)
		q.stats.workerStopped()
	}
}

func (q *Queue) process(ctx context.Context, worker string, e *Event) {
	start := time.Now()

	q.middlewareMu.RLock()
	chain := make([]MiddlewareFunc, len(q.middleware))
	copy(chain, q.middleware)
	q.middlewareMu.RUnlock()

	for _, mw := range chain {
		if !mw(e) {
			if q.logger != nil {
				q.logger.Debug("middleware blocked event", slog.String("event_id", e.ID))
			}
			return
		}
	}

	handlers := q.handlersFor(e.Type)
	if len(handlers) == 0 {
		if q.logger != nil {
			q.logger.Warn("no handlers for event type", slog.String("type", string(e.Type)))
		}
		return
	}

	var handlerErr error
	for _, h := range handlers {
		if !h.CanHandle(e) {
			continue
		}
		if err := h.Handle(ctx, e); err != nil {
			handlerErr = fmt.Errorf("handler %s: %w", h.Name(), err)
			break
		}
	}

	if handlerErr == nil {
		q.stats.recordSuccess(time.Since(start))
		return
	}
	q.stats.recordFailure(time.Since(start))
	q.handleFailed(e, handlerErr, worker)
}

func (q *Queue) handlersFor(t Type) []Handler {
	q.handlersMu.RLock()
	defer q.handlersMu.RUnlock()
	hs := q.handlers[t]
	out := make([]Handler, len(hs))
	copy(out, hs)
	return out
}

// handleFailed retries with exponential backoff (2^retry_count
// seconds) up to MaxRetries, then moves the event to the dead-letter
// store. Mirrors event_queue.py's _handle_failed_event.
func (q *Queue) handleFailed(e *Event, cause error, worker string) {
	e.RetryCount++
	if e.RetryCount <= e.MaxRetries {
		delay := time.Duration(1<<uint(e.RetryCount)) * time.Second
		retryAt := time.Now().Add(delay)
		e.ScheduledAt = &retryAt
		q.enqueue(e)
		if q.logger != nil {
			q.logger.Warn("event failed, retrying",
				slog.String("event_id", e.ID), slog.String("worker", worker),
				slog.Duration("delay", delay), slog.Int("attempt", e.RetryCount),
				slog.Int("max_retries", e.MaxRetries), slog.String("error", cause.Error()))
		}
		return
	}

	if q.logger != nil {
		q.logger.Error("event failed permanently", slog.String("event_id", e.ID), slog.String("error", cause.Error()))
	}
	q.deadLetterPut(e)
}

func (q *Queue) deadLetterPut(e *Event) {
	if q.deadLetter != nil {
		if err := q.deadLetter.put(e); err != nil && q.logger != nil {
			q.logger.Error("failed to persist dead-letter event", slog.String("error", err.Error()))
		}
		return
	}
	q.deadLetterMu.Lock()
	q.deadLetterMem = append(q.deadLetterMem, e)
	q.deadLetterMu.Unlock()
}

// DeadLetterEvents returns all events that exhausted their retries.
func (q *Queue) DeadLetterEvents() ([]*Event, error) {
	if q.deadLetter != nil {
		return q.deadLetter.list()
	}
	q.deadLetterMu.Lock()
	defer q.deadLetterMu.Unlock()
	out := make([]*Event, len(q.deadLetterMem))
	copy(out, q.deadLetterMem)
	return out, nil
}

// ClearDeadLetter empties the dead-letter store.
func (q *Queue) ClearDeadLetter() error {
	if q.deadLetter != nil {
		return q.deadLetter.clear()
	}
	q.deadLetterMu.Lock()
	q.deadLetterMem = nil
	q.deadLetterMu.Unlock()
	return nil
}

// Stats returns a snapshot of queue health.
func (q *Queue) Stats() Stats {
	q.mu.Lock()
	queueSize := len(q.due)
	scheduledCount := len(q.scheduled)
	running := q.running
	q.mu.Unlock()

	processed, failed, active, avgMs := q.stats.snapshot()

	deadLetterSize := 0
	if q.deadLetter != nil {
		if n, err := q.deadLetter.count(); err == nil {
			deadLetterSize = n
		}
	} else {
		q.deadLetterMu.Lock()
		deadLetterSize = len(q.deadLetterMem)
		q.deadLetterMu.Unlock()
	}

	return Stats{
		TotalProcessed:      processed,
		TotalFailed:         failed,
		QueueSize:           queueSize,
		ScheduledCount:      scheduledCount,
		DeadLetterSize:      deadLetterSize,
		ActiveWorkers:       active,
		MaxWorkers:          q.cfg.Workers,
		AvgProcessingTimeMs: avgMs,
		Running:             running,
	}
}
