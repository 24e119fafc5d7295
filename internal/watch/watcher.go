package watch

import (
	"context"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
)

// Watcher recursively watches a set of root directories and emits
// debounced batches of FileEvents until Stop is called or its context
// is cancelled.
type Watcher struct {
	opts      Options
	fsWatcher *fsnotify.Watcher
	debouncer *debouncer
	logger    *slog.Logger

	mu      sync.Mutex
	stopped bool
	done    chan struct{}
}

// New opens the underlying fsnotify watcher. Returns an error if the
// platform's filesystem notification facility can't be initialized.
func New(opts Options, logger *slog.Logger) (*Watcher, error) {
	if logger == nil {
		logger = slog.Default()
	}
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("create fsnotify watcher: %w", err)
	}
	return &Watcher{
		opts:      opts.withDefaults(),
		fsWatcher: fsw,
		debouncer: newDebouncer(opts.withDefaults().DebounceWindow),
		logger:    logger,
		done:      make(chan struct{}),
	}, nil
}

// Start recursively registers watches under each root and begins
// translating fsnotify events into debounced FileEvent batches. Returns
// once every root is registered; event delivery continues in the
// background until ctx is cancelled or Stop is called.
func (w *Watcher) Start(ctx context.Context, roots []string) error {
	for _, root := range roots {
		if err := w.addRecursive(root); err != nil {
			return fmt.Errorf("watch %s: %w", root, err)
		}
	}
	go w.loop(ctx)
	return nil
}

func (w *Watcher) addRecursive(root string) error {
	return filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			if os.IsNotExist(err) {
				return nil
			}
			return err
		}
		if d.IsDir() {
			return w.fsWatcher.Add(path)
		}
		return nil
	})
}

func (w *Watcher) loop(ctx context.Context) {
	defer close(w.done)
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-w.fsWatcher.Events:
			if !ok {
				return
			}
			w.handle(ev)
		case err, ok := <-w.fsWatcher.Errors:
			if !ok {
				return
			}
			w.logger.Warn("watch_error", slog.String("error", err.Error()))
		}
	}
}

func (w *Watcher) handle(ev fsnotify.Event) {
	if ev.Has(fsnotify.Create) {
		if info, err := os.Stat(ev.Name); err == nil && info.IsDir() {
			if err := w.fsWatcher.Add(ev.Name); err != nil {
				w.logger.Warn("watch_add_new_dir_failed", slog.String("path", ev.Name), slog.String("error", err.Error()))
			}
			return
		}
	}
	if !w.opts.matches(ev.Name) {
		return
	}
	var op Operation
	switch {
	case ev.Has(fsnotify.Create):
		op = OpCreate
	case ev.Has(fsnotify.Write):
		op = OpModify
	case ev.Has(fsnotify.Remove):
		op = OpDelete
	case ev.Has(fsnotify.Rename):
		op = OpRename
	default:
		return
	}
	w.debouncer.add(FileEvent{Path: ev.Name, Operation: op, Timestamp: time.Now()})
}

// Events returns debounced batches of file changes.
func (w *Watcher) Events() <-chan []FileEvent {
	return w.debouncer.Output()
}

// Stop releases the fsnotify watcher and stops emitting events. Safe
// to call multiple times.
func (w *Watcher) Stop() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.stopped {
		return nil
	}
	w.stopped = true
	w.debouncer.Stop()
	err := w.fsWatcher.Close()
	<-w.done
	return err
}
