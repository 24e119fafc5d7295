package watch

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDebouncer_SingleEvent_PassesThrough(t *testing.T) {
	d := newDebouncer(50 * time.Millisecond)
	defer d.Stop()

	d.add(FileEvent{Path: "a.jpg", Operation: OpCreate, Timestamp: time.Now()})

	select {
	case events := <-d.Output():
		require.Len(t, events, 1)
		assert.Equal(t, "a.jpg", events[0].Path)
		assert.Equal(t, OpCreate, events[0].Operation)
	case <-time.After(500 * time.Millisecond):
		t.Fatal("timeout waiting for debounced event")
	}
}

func TestDebouncer_RapidModifiesCoalesceToOne(t *testing.T) {
	d := newDebouncer(100 * time.Millisecond)
	defer d.Stop()

	for i := 0; i < 5; i++ {
		d.add(FileEvent{Path: "a.jpg", Operation: OpModify, Timestamp: time.Now()})
		time.Sleep(10 * time.Millisecond)
	}

	select {
	case events := <-d.Output():
		require.Len(t, events, 1)
		assert.Equal(t, OpModify, events[0].Operation)
	case <-time.After(500 * time.Millisecond):
		t.Fatal("timeout waiting for debounced events")
	}
}

func TestDebouncer_CreateThenDeleteCancelsOut(t *testing.T) {
	d := newDebouncer(50 * time.Millisecond)
	defer d.Stop()

	d.add(FileEvent{Path: "a.jpg", Operation: OpCreate, Timestamp: time.Now()})
	d.add(FileEvent{Path: "a.jpg", Operation: OpDelete, Timestamp: time.Now()})

	select {
	case events := <-d.Output():
		t.Fatalf("expected no events, got %v", events)
	case <-time.After(200 * time.Millisecond):
	}
}

func TestDebouncer_DeleteThenCreateBecomesModify(t *testing.T) {
	d := newDebouncer(50 * time.Millisecond)
	defer d.Stop()

	d.add(FileEvent{Path: "a.jpg", Operation: OpDelete, Timestamp: time.Now()})
	d.add(FileEvent{Path: "a.jpg", Operation: OpCreate, Timestamp: time.Now()})

	select {
	case events := <-d.Output():
		require.Len(t, events, 1)
		assert.Equal(t, OpModify, events[0].Operation)
	case <-time.After(500 * time.Millisecond):
		t.Fatal("timeout waiting for debounced event")
	}
}
