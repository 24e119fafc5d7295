// Package descriptor implements the per-photo artifact producers run
// by the Pipeline Orchestrator's EXIF/Embedding/Thumbnail/Face phases.
// Every worker exposes IsAvailable so a phase can be skipped (not
// failed) when its backing capability — a HEIF opener, an embedding
// model, a face detector — isn't present, mirroring the teacher's
// embedder-availability pattern in internal/embed.
package descriptor

import "context"

// Worker is the capability every descriptor producer satisfies.
type Worker interface {
	// IsAvailable reports whether this worker can currently run. A
	// false result means its phase is skipped for this run, recorded
	// as a single non-fatal error, not treated as a per-photo failure.
	IsAvailable(ctx context.Context) bool
}

// Input is the minimal photo context every worker needs.
type Input struct {
	PhotoID  int64
	Path     string
	SHA1     string
}
