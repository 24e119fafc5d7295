// Package watch notices changes under the configured photo roots and
// turns them into eventqueue events, so an operator can leave
// photovaultd running and have new or edited photos picked up without
// manually triggering /index/start. It generalizes the teacher's
// fsnotify-plus-debounce shape (internal/watcher's HybridWatcher and
// Debouncer) from a source-code-file watcher to a photo-file one: no
// gitignore matching or polling fallback, since photo roots aren't git
// repositories and fsnotify failing to initialize is treated as a
// startup error rather than something to silently degrade from.
package watch

import (
	"path/filepath"
	"strings"
	"time"
)

// Operation names the kind of change fsnotify reported for a path.
type Operation int

const (
	OpCreate Operation = iota
	OpModify
	OpDelete
	OpRename
)

func (op Operation) String() string {
	switch op {
	case OpCreate:
		return "CREATE"
	case OpModify:
		return "MODIFY"
	case OpDelete:
		return "DELETE"
	case OpRename:
		return "RENAME"
	default:
		return "UNKNOWN"
	}
}

// FileEvent is one coalesced filesystem change.
type FileEvent struct {
	Path      string
	Operation Operation
	Timestamp time.Time
}

// Options configures debounce behavior and which files are watched.
type Options struct {
	// DebounceWindow coalesces rapid edits to the same path. Default 500ms.
	DebounceWindow time.Duration
	// Extensions restricts watched files; empty means watch everything.
	Extensions []string
}

// DefaultOptions returns photovault's watcher defaults.
func DefaultOptions() Options {
	return Options{DebounceWindow: 500 * time.Millisecond}
}

func (o Options) withDefaults() Options {
	if o.DebounceWindow <= 0 {
		o.DebounceWindow = DefaultOptions().DebounceWindow
	}
	return o
}

func (o Options) matches(path string) bool {
	if len(o.Extensions) == 0 {
		return true
	}
	ext := strings.ToLower(filepath.Ext(path))
	for _, e := range o.Extensions {
		if strings.ToLower(e) == ext {
			return true
		}
	}
	return false
}
