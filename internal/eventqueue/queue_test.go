package eventqueue

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type funcHandler struct {
	name string
	fn   func(ctx context.Context, e *Event) error
}

func (h *funcHandler) Name() string           { return h.name }
func (h *funcHandler) CanHandle(e *Event) bool { return true }

func (h *funcHandler) Handle(ctx context.Context, e *Event) error {
	return h.fn(ctx, e)
}

func newTestQueue(t *testing.T, workers int) *Queue {
	q, err := New(Config{Workers: workers, SchedulerTick: 20 * time.Millisecond}, nil)
	require.NoError(t, err)
	return q
}

func TestPublish_DispatchesToRegisteredHandler(t *testing.T) {
	q := newTestQueue(t, 2)
	var got atomic.Int32
	done := make(chan struct{})
	q.AddHandler(TypeIndexProgress, &funcHandler{name: "counter", fn: func(ctx context.Context, e *Event) error {
		got.Add(1)
		close(done)
		return nil
	}})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	require.NoError(t, q.Start(ctx))
	defer q.Stop(time.Second)

	q.Publish(TypeIndexProgress, map[string]any{"n": 1})

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("handler never ran")
	}
	assert.Equal(t, int32(1), got.Load())
}

func TestPriority_HigherPriorityRunsFirstWhenBothDue(t *testing.T) {
	q := newTestQueue(t, 1)

	var mu sync.Mutex
	var order []string
	done := make(chan struct{})

	record := func(label string, total int) func(ctx context.Context, e *Event) error {
		return func(ctx context.Context, e *Event) error {
			mu.Lock()
			order = append(order, label)
			n := len(order)
			mu.Unlock()
			if n == total {
				close(done)
			}
			return nil
		}
	}

	q.AddHandler(TypeCleanupRequested, &funcHandler{name: "low", fn: record("low", 2)})
	q.AddHandler(TypeBackupRequested, &funcHandler{name: "high", fn: record("high", 2)})

	// Enqueue before starting workers so both are present when the pool wakes.
	q.Publish(TypeCleanupRequested, nil, WithPriority(PriorityCleanup))
	q.Publish(TypeBackupRequested, nil, WithPriority(PriorityCritical))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	require.NoError(t, q.Start(ctx))
	defer q.Stop(time.Second)

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("handlers never ran")
	}

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, order, 2)
	assert.Equal(t, "high", order[0], "critical priority event should run before a cleanup-priority one")
}

func TestWithDelay_EventNotDueUntilDelayElapses(t *testing.T) {
	q := newTestQueue(t, 1)
	fired := make(chan time.Time, 1)
	q.AddHandler(TypeBackupRequested, &funcHandler{name: "h", fn: func(ctx context.Context, e *Event) error {
		fired <- time.Now()
		return nil
	}})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	require.NoError(t, q.Start(ctx))
	defer q.Stop(time.Second)

	published := time.Now()
	q.Publish(TypeBackupRequested, nil, WithDelay(100*time.Millisecond))

	select {
	case at := <-fired:
		assert.GreaterOrEqual(t, at.Sub(published), 90*time.Millisecond)
	case <-time.After(2 * time.Second):
		t.Fatal("delayed event never fired")
	}
}

func TestHandleFailed_RetriesThenDeadLetters(t *testing.T) {
	q := newTestQueue(t, 1)
	var attempts atomic.Int32
	deadLettered := make(chan struct{})

	q.AddHandler(TypeProcessingFailed, &funcHandler{name: "flaky", fn: func(ctx context.Context, e *Event) error {
		attempts.Add(1)
		return errors.New("boom")
	}})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	require.NoError(t, q.Start(ctx))
	defer q.Stop(time.Second)

	q.Publish(TypeProcessingFailed, nil, WithMaxRetries(1))

	go func() {
		for {
			events, _ := q.DeadLetterEvents()
			if len(events) > 0 {
				close(deadLettered)
				return
			}
			time.Sleep(10 * time.Millisecond)
		}
	}()

	select {
	case <-deadLettered:
	case <-time.After(5 * time.Second):
		t.Fatal("event never reached the dead-letter store")
	}

	assert.GreaterOrEqual(t, int(attempts.Load()), 2, "should retry once before dead-lettering")
	stats := q.Stats()
	assert.Equal(t, int64(0), stats.TotalProcessed)
	assert.GreaterOrEqual(t, stats.TotalFailed, int64(2))
}

func TestMiddleware_BlockingReturnFalseDropsEvent(t *testing.T) {
	q := newTestQueue(t, 1)
	var ran atomic.Bool
	q.AddHandler(TypeSearchRequested, &funcHandler{name: "h", fn: func(ctx context.Context, e *Event) error {
		ran.Store(true)
		return nil
	}})
	q.AddMiddleware(func(e *Event) bool { return false })

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	require.NoError(t, q.Start(ctx))

	q.Publish(TypeSearchRequested, nil)
	time.Sleep(100 * time.Millisecond)
	q.Stop(time.Second)

	assert.False(t, ran.Load(), "handler should not run when middleware blocks the event")
}

func TestDeadLetterStore_PersistsAcrossReopen(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "dead.db")

	q1, err := New(Config{Workers: 1, DeadLetterPath: path}, nil)
	require.NoError(t, err)
	q1.AddHandler(TypeIndexFailed, &funcHandler{name: "always-fails", fn: func(ctx context.Context, e *Event) error {
		return errors.New("permanent")
	}})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	require.NoError(t, q1.Start(ctx))
	q1.Publish(TypeIndexFailed, nil, WithMaxRetries(0))

	require.Eventually(t, func() bool {
		events, _ := q1.DeadLetterEvents()
		return len(events) == 1
	}, 2*time.Second, 20*time.Millisecond)

	require.NoError(t, q1.Stop(time.Second))
	require.NoError(t, q1.Close())

	q2, err := New(Config{Workers: 1, DeadLetterPath: path}, nil)
	require.NoError(t, err)
	defer q2.Close()

	events, err := q2.DeadLetterEvents()
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, TypeIndexFailed, events[0].Type)
}

func TestStats_ReflectsRunningAndWorkerCount(t *testing.T) {
	q := newTestQueue(t, 3)
	stats := q.Stats()
	assert.False(t, stats.Running)
	assert.Equal(t, 3, stats.MaxWorkers)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	require.NoError(t, q.Start(ctx))
	assert.True(t, q.Stats().Running)
	require.NoError(t, q.Stop(time.Second))
	assert.False(t, q.Stats().Running)
}
