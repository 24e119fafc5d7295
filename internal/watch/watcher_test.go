package watch

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestWatcher_DetectsNewFileUnderRoot(t *testing.T) {
	root := t.TempDir()

	w, err := New(Options{DebounceWindow: 50 * time.Millisecond}, nil)
	require.NoError(t, err)
	defer w.Stop()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	require.NoError(t, w.Start(ctx, []string{root}))

	path := filepath.Join(root, "photo.jpg")
	require.NoError(t, os.WriteFile(path, []byte("data"), 0o644))

	select {
	case events := <-w.Events():
		require.NotEmpty(t, events)
		require.Equal(t, path, events[0].Path)
	case <-time.After(2 * time.Second):
		t.Fatal("timeout waiting for file event")
	}
}

func TestWatcher_IgnoresFilesWithWrongExtension(t *testing.T) {
	root := t.TempDir()

	w, err := New(Options{DebounceWindow: 50 * time.Millisecond, Extensions: []string{".jpg"}}, nil)
	require.NoError(t, err)
	defer w.Stop()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	require.NoError(t, w.Start(ctx, []string{root}))

	require.NoError(t, os.WriteFile(filepath.Join(root, "notes.txt"), []byte("data"), 0o644))

	select {
	case events := <-w.Events():
		t.Fatalf("expected no events for a non-matching extension, got %v", events)
	case <-time.After(300 * time.Millisecond):
	}
}
