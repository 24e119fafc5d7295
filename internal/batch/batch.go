// Package batch runs long-lived export/delete/tag jobs over a set of
// photo ids. It follows the same state-guard + background-goroutine
// shape as internal/pipeline.Orchestrator, generalized from "one run
// at a time" to "one run per job id," and processes each item with
// the index coordinator's capture-and-continue idiom: a single item's
// failure is recorded on the job and the job keeps going.
package batch

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/localphoto/photovault/internal/apperr"
	"github.com/localphoto/photovault/internal/store"
)

// Kind names the operation a job performs.
type Kind string

const (
	KindExport Kind = "export"
	KindDelete Kind = "delete"
	KindTag    Kind = "tag"
)

// Status is a job's lifecycle state.
type Status string

const (
	StatusRunning   Status = "running"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
	StatusCancelled Status = "cancelled"
)

// ExportSink receives exported photo bytes one at a time, bounding
// memory use to a single photo regardless of job size.
type ExportSink interface {
	WritePhoto(ctx context.Context, photo *store.Photo, data []byte) error
}

// Request describes one batch operation.
type Request struct {
	Kind      Kind
	PhotoIDs  []int64
	Tag       string     // KindTag only
	Permanent bool       // KindDelete only: true bypasses trash
	Sink      ExportSink // KindExport only
}

// ItemError records one photo's failure without aborting the job.
type ItemError struct {
	PhotoID int64  `json:"photo_id"`
	Message string `json:"message"`
}

// Job tracks one in-flight or completed batch operation.
type Job struct {
	ID          string      `json:"id"`
	Kind        Kind        `json:"kind"`
	Status      Status      `json:"status"`
	Total       int         `json:"total"`
	Done        int         `json:"done"`
	Errors      []ItemError `json:"errors,omitempty"`
	StartedAt   time.Time   `json:"started_at"`
	CompletedAt *time.Time  `json:"completed_at,omitempty"`

	mu     sync.Mutex
	cancel context.CancelFunc
}

func (j *Job) snapshot() *Job {
	j.mu.Lock()
	defer j.mu.Unlock()
	cp := *j
	cp.Errors = append([]ItemError(nil), j.Errors...)
	cp.mu = sync.Mutex{}
	cp.cancel = nil
	return &cp
}

func (j *Job) recordError(photoID int64, err error) {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.Errors = append(j.Errors, ItemError{PhotoID: photoID, Message: err.Error()})
}

func (j *Job) advance() {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.Done++
}

func (j *Job) finish(status Status) {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.Status = status
	now := time.Now()
	j.CompletedAt = &now
}

// Manager runs and tracks batch jobs. Jobs run concurrently with each
// other; per-item work within a job is sequential to keep export
// memory bounded and delete ordering deterministic.
type Manager struct {
	store  store.MetadataStore
	logger *slog.Logger

	mu   sync.Mutex
	jobs map[string]*Job
}

// New creates a Manager bound to s.
func New(s store.MetadataStore, logger *slog.Logger) *Manager {
	if logger == nil {
		logger = slog.Default()
	}
	return &Manager{store: s, logger: logger, jobs: make(map[string]*Job)}
}

// Start validates req and launches the job in the background,
// returning its id immediately.
func (m *Manager) Start(ctx context.Context, req Request) (*Job, error) {
	if len(req.PhotoIDs) == 0 {
		return nil, apperr.Invalidf("photo_ids must not be empty")
	}
	if req.Kind == KindTag && req.Tag == "" {
		return nil, apperr.Invalidf("tag is required for a tag job")
	}
	if req.Kind == KindExport && req.Sink == nil {
		return nil, apperr.Invalidf("export sink is required for an export job")
	}

	jobCtx, cancel := context.WithCancel(context.Background())
	job := &Job{
		ID:        uuid.NewString(),
		Kind:      req.Kind,
		Status:    StatusRunning,
		Total:     len(req.PhotoIDs),
		StartedAt: time.Now(),
		cancel:    cancel,
	}

	m.mu.Lock()
	m.jobs[job.ID] = job
	m.mu.Unlock()

	go m.run(jobCtx, job, req)
	return job.snapshot(), nil
}

// Status returns a snapshot of the job, or NotFound.
func (m *Manager) Status(id string) (*Job, error) {
	m.mu.Lock()
	job, ok := m.jobs[id]
	m.mu.Unlock()
	if !ok {
		return nil, apperr.NotFoundf("batch job %q not found", id)
	}
	return job.snapshot(), nil
}

// List returns a snapshot of every known job, most recently started first.
func (m *Manager) List() []*Job {
	m.mu.Lock()
	defer m.mu.Unlock()
	jobs := make([]*Job, 0, len(m.jobs))
	for _, j := range m.jobs {
		jobs = append(jobs, j.snapshot())
	}
	sort.Slice(jobs, func(i, j int) bool { return jobs[i].StartedAt.After(jobs[j].StartedAt) })
	return jobs
}

// Cancel signals a running job to stop. The job stays known to Status
// and List, ending with StatusCancelled.
func (m *Manager) Cancel(id string) error {
	m.mu.Lock()
	job, ok := m.jobs[id]
	m.mu.Unlock()
	if !ok {
		return apperr.NotFoundf("batch job %q not found", id)
	}
	job.mu.Lock()
	cancel := job.cancel
	job.mu.Unlock()
	if cancel != nil {
		cancel()
	}
	return nil
}

func (m *Manager) run(ctx context.Context, job *Job, req Request) {
	for _, id := range req.PhotoIDs {
		select {
		case <-ctx.Done():
			job.finish(StatusCancelled)
			return
		default:
		}

		if err := m.processOne(ctx, req, id); err != nil {
			job.recordError(id, err)
			m.logger.Warn("batch_item_failed", slog.String("job_id", job.ID), slog.Int64("photo_id", id), slog.String("error", err.Error()))
		}
		job.advance()
	}

	job.mu.Lock()
	hadErrors := len(job.Errors) > 0
	job.mu.Unlock()
	if hadErrors {
		job.finish(StatusFailed)
	} else {
		job.finish(StatusCompleted)
	}
}

func (m *Manager) processOne(ctx context.Context, req Request, photoID int64) error {
	photo, err := m.store.GetPhoto(ctx, photoID)
	if err != nil {
		return err
	}

	switch req.Kind {
	case KindExport:
		return m.exportOne(ctx, req.Sink, photo)
	case KindDelete:
		return m.deleteOne(ctx, photo, req.Permanent)
	case KindTag:
		return fmt.Errorf("tagging is not yet backed by a persisted tag table")
	default:
		return apperr.Invalidf("unknown batch kind %q", req.Kind)
	}
}
