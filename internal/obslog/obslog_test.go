package obslog

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestDefaultLogPath_EndsInPhotovaultdLog(t *testing.T) {
	require.Equal(t, "photovaultd.log", filepath.Base(DefaultLogPath()))
}

func TestRotatingWriter_RotatesPastMaxSize(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "test.log")
	w, err := NewRotatingWriter(path, 0, 3) // maxSize 0 forces rotation on every write
	require.NoError(t, err)
	defer w.Close()

	for i := 0; i < 5; i++ {
		_, err := w.Write([]byte("a line\n"))
		require.NoError(t, err)
	}

	entries, err := filepath.Glob(path + ".*")
	require.NoError(t, err)
	require.NotEmpty(t, entries)
	require.LessOrEqual(t, len(entries), 3)
}

func TestSetup_WritesJSONLinesToFile(t *testing.T) {
	dir := t.TempDir()
	logPath := filepath.Join(dir, "d.log")

	logger, cleanup, err := Setup(Config{Level: "info", FilePath: logPath, MaxSizeMB: 10, MaxFiles: 5})
	require.NoError(t, err)
	logger.Info("hello", "key", "value")
	cleanup()

	data, err := os.ReadFile(logPath)
	require.NoError(t, err)
	require.Contains(t, string(data), `"msg":"hello"`)
}

func TestViewer_TailFiltersBelowConfiguredLevel(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "d.log")
	logger, cleanup, err := Setup(Config{Level: "debug", FilePath: path, MaxSizeMB: 10, MaxFiles: 5, WriteToStderr: false})
	require.NoError(t, err)
	logger.Debug("debug line")
	logger.Warn("warn line")
	cleanup()

	var buf bytes.Buffer
	v := NewViewer(ViewerConfig{Level: "warn", NoColor: true}, &buf)
	entries, err := v.Tail(path, 10)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	require.Equal(t, "warn line", entries[0].Msg)
}

func TestViewer_FollowEmitsNewlyAppendedEntries(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "d.log")
	require.NoError(t, os.WriteFile(path, nil, 0644))

	v := NewViewer(ViewerConfig{NoColor: true}, &bytes.Buffer{})
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	ch := make(chan LogEntry, 10)
	go func() { _ = v.Follow(ctx, path, ch) }()

	time.Sleep(150 * time.Millisecond)
	f, err := os.OpenFile(path, os.O_APPEND|os.O_WRONLY, 0644)
	require.NoError(t, err)
	_, err = f.WriteString(`{"time":"2026-01-01T00:00:00Z","level":"INFO","msg":"appended"}` + "\n")
	require.NoError(t, err)
	require.NoError(t, f.Close())

	select {
	case entry := <-ch:
		require.Equal(t, "appended", entry.Msg)
	case <-ctx.Done():
		t.Fatal("timed out waiting for followed entry")
	}
}
