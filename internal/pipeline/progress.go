package pipeline

import (
	"sync"
	"time"
)

// State is the Orchestrator's top-level run state.
type State string

const (
	StateIdle      State = "idle"
	StateIndexing  State = "indexing"
	StateCompleted State = "completed"
	StateStopped   State = "stopped"
	StateError     State = "error"
)

// Phase names one of the five sequential indexing phases.
type Phase string

const (
	PhaseDiscovery Phase = "discovery"
	PhaseEXIF      Phase = "exif"
	PhaseEmbedding Phase = "embedding"
	PhaseThumbnail Phase = "thumbnail"
	PhaseFace      Phase = "face"
)

// Snapshot is an immutable copy of the run's progress, suitable for
// serving over GET /index/status without holding the tracker's lock.
type Snapshot struct {
	State          string  `json:"state"`
	Phase          string  `json:"phase"`
	PhotosTotal    int     `json:"photos_total"`
	PhotosDone     int     `json:"photos_done"`
	ProgressPct    float64 `json:"progress_pct"`
	ElapsedSeconds int     `json:"elapsed_seconds"`
	Errors         int     `json:"errors"`
	ErrorMessage   string  `json:"error_message,omitempty"`
}

// Progress provides thread-safe tracking of a single indexing run,
// generalized from the teacher's file/chunk/embed progress tracker to
// five photo-pipeline phases.
type Progress struct {
	mu sync.RWMutex

	state        State
	phase        Phase
	photosTotal  int
	photosDone   int
	errors       int
	startTime    time.Time
	errorMessage string
}

// NewProgress creates a tracker initialized for an indexing run.
func NewProgress() *Progress {
	return &Progress{
		state:     StateIndexing,
		phase:     PhaseDiscovery,
		startTime: time.Now(),
	}
}

func (p *Progress) SetPhase(phase Phase, total int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.phase = phase
	p.photosTotal = total
	p.photosDone = 0
}

func (p *Progress) Advance(done int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.photosDone = done
}

func (p *Progress) IncrementErrors(n int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.errors += n
}

func (p *Progress) SetError(message string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.state = StateError
	p.errorMessage = message
}

func (p *Progress) SetStopped() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.state = StateStopped
}

func (p *Progress) SetCompleted() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.state = StateCompleted
}

func (p *Progress) State() State {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.state
}

func (p *Progress) Snapshot() Snapshot {
	p.mu.RLock()
	defer p.mu.RUnlock()

	var pct float64
	if p.photosTotal > 0 {
		pct = float64(p.photosDone) / float64(p.photosTotal) * 100.0
	}
	return Snapshot{
		State:          string(p.state),
		Phase:          string(p.phase),
		PhotosTotal:    p.photosTotal,
		PhotosDone:     p.photosDone,
		ProgressPct:    pct,
		ElapsedSeconds: int(time.Since(p.startTime).Seconds()),
		Errors:         p.errors,
		ErrorMessage:   p.errorMessage,
	}
}
