// Package pipeline owns the indexing state machine: it schedules
// discovery against the descriptor phases, persists results via the
// Store and Vector Index, reports progress, and honors cancellation.
// The start/stop/run shape is the teacher's BackgroundIndexer
// generalized from a single indexing function to five sequential
// photo phases, and the per-phase fan-out is the crawler's own
// bounded-worker-over-a-channel idiom applied to descriptor work.
package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"runtime"
	"strings"
	"sync"
	"time"

	"github.com/localphoto/photovault/internal/crawler"
	"github.com/localphoto/photovault/internal/descriptor"
	"github.com/localphoto/photovault/internal/store"
	"github.com/localphoto/photovault/internal/vectorindex"
)

// DefaultWorkers bounds intra-phase parallelism when Config.Workers is
// left at zero.
const DefaultWorkers = 4

// Config configures one indexing run.
type Config struct {
	Roots             []string
	Extensions        []string
	Workers           int
	FaceSearchEnabled bool
	Full              bool // true clears indexed_at for every photo before running (full reindex)
}

// Dependencies are the injected collaborators the Orchestrator
// schedules work against.
type Dependencies struct {
	Store       store.MetadataStore
	VectorIndex *vectorindex.Manager
	Crawler     *crawler.Crawler
	EXIF        *descriptor.EXIFWorker
	Thumbnail   *descriptor.ThumbnailWorker
	Embedding   *descriptor.EmbeddingWorker
	Face        *descriptor.FaceWorker
	Logger      *slog.Logger
}

// Result summarizes the outcome of a completed run.
type Result struct {
	PhotosDiscovered int
	PhotosIndexed    int
	PhotosDeleted    int
	Errors           int
	Duration         time.Duration
}

// Orchestrator runs one indexing pass at a time in a background
// goroutine, mirroring the teacher's BackgroundIndexer lifecycle
// (mutex-guarded running flag, stop channel, done channel) with a
// richer State/Phase progress model in place of its single status.
type Orchestrator struct {
	deps Dependencies

	mu       sync.Mutex
	running  bool
	stopCh   chan struct{}
	doneCh   chan struct{}
	progress *Progress
	result   *Result
	err      error
}

// New validates deps and returns an idle Orchestrator.
func New(deps Dependencies) (*Orchestrator, error) {
	if deps.Store == nil {
		return nil, fmt.Errorf("store is required")
	}
	if deps.VectorIndex == nil {
		return nil, fmt.Errorf("vector index manager is required")
	}
	if deps.Crawler == nil {
		return nil, fmt.Errorf("crawler is required")
	}
	if deps.EXIF == nil || deps.Thumbnail == nil || deps.Embedding == nil {
		return nil, fmt.Errorf("exif, thumbnail, and embedding workers are required")
	}
	if deps.Face == nil {
		deps.Face = descriptor.NewFaceWorker(descriptor.UnavailableFaceModel{}, false)
	}
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}
	return &Orchestrator{deps: deps}, nil
}

// IsRunning reports whether a run is currently in progress.
func (o *Orchestrator) IsRunning() bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.running
}

// Progress returns the tracker for the most recent (or current) run,
// nil if Start has never been called.
func (o *Orchestrator) Progress() *Progress {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.progress
}

// Start begins an indexing run in the background. Non-blocking; use
// Wait to block until completion. A Start call while a run is already
// in progress is a no-op, same as the teacher's BackgroundIndexer.
func (o *Orchestrator) Start(ctx context.Context, cfg Config) {
	o.mu.Lock()
	if o.running {
		o.mu.Unlock()
		return
	}
	o.running = true
	o.progress = NewProgress()
	o.stopCh = make(chan struct{})
	o.doneCh = make(chan struct{})
	o.mu.Unlock()

	go o.run(ctx, cfg)
}

// Stop signals the running pass to cancel and blocks until it exits.
func (o *Orchestrator) Stop() {
	o.mu.Lock()
	if !o.running {
		o.mu.Unlock()
		return
	}
	stopCh := o.stopCh
	o.mu.Unlock()

	close(stopCh)
	<-o.doneCh
}

// Wait blocks until the current run finishes and returns its result.
func (o *Orchestrator) Wait() (*Result, error) {
	o.mu.Lock()
	doneCh := o.doneCh
	o.mu.Unlock()
	if doneCh != nil {
		<-doneCh
	}
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.result, o.err
}

func (o *Orchestrator) run(parent context.Context, cfg Config) {
	defer close(o.doneCh)
	defer func() {
		o.mu.Lock()
		o.running = false
		o.mu.Unlock()
	}()

	ctx, cancel := context.WithCancel(parent)
	defer cancel()
	go func() {
		select {
		case <-o.stopCh:
			cancel()
		case <-ctx.Done():
		}
	}()

	start := time.Now()
	res, err := o.runPhases(ctx, cfg)
	res.Duration = time.Since(start)

	o.mu.Lock()
	o.result = res
	o.err = err
	o.mu.Unlock()

	switch {
	case err != nil:
		o.progress.SetError(err.Error())
	case ctx.Err() != nil:
		o.progress.SetStopped()
	default:
		o.progress.SetCompleted()
	}
}

func (o *Orchestrator) runPhases(ctx context.Context, cfg Config) (*Result, error) {
	workers := cfg.Workers
	if workers <= 0 {
		workers = DefaultWorkers
	}
	if workers > runtime.NumCPU()*4 {
		workers = runtime.NumCPU() * 4
	}

	if cfg.Full {
		if err := o.deps.Store.ClearIndexedAt(ctx); err != nil {
			return &Result{}, fmt.Errorf("clear indexed_at for full reindex: %w", err)
		}
	}

	result := &Result{}

	// Phase 1: Discovery.
	o.progress.SetPhase(PhaseDiscovery, 0)
	touchedIDs, err := o.discover(ctx, cfg, result)
	if err != nil {
		return result, err
	}
	if ctx.Err() != nil {
		return result, nil
	}

	// Phase 2: EXIF.
	if err := o.runDescriptorPhase(ctx, PhaseEXIF, store.DescriptorEXIF, workers, result, o.processEXIF); err != nil {
		return result, err
	}
	if ctx.Err() != nil {
		return result, nil
	}

	// Phase 3: Embedding.
	if o.deps.Embedding.IsAvailable(ctx) {
		if err := o.runDescriptorPhase(ctx, PhaseEmbedding, store.DescriptorEmbedding, workers, result, o.processEmbedding); err != nil {
			return result, err
		}
	} else {
		o.deps.Logger.Info("skipping embedding phase: model unavailable")
	}
	if ctx.Err() != nil {
		return result, nil
	}

	// Phase 4: Thumbnail.
	if err := o.runDescriptorPhase(ctx, PhaseThumbnail, store.DescriptorThumbnail, workers, result, o.processThumbnail); err != nil {
		return result, err
	}
	if ctx.Err() != nil {
		return result, nil
	}

	// Phase 5: Face (opt-in).
	if o.deps.Face.IsAvailable(ctx) {
		if err := o.runDescriptorPhase(ctx, PhaseFace, store.DescriptorFace, workers, result, o.processFace); err != nil {
			return result, err
		}
	}
	if ctx.Err() != nil {
		return result, nil
	}

	now := time.Now()
	for _, id := range touchedIDs {
		if err := o.deps.Store.MarkIndexed(ctx, id, now, store.CurrentIndexVersion); err != nil {
			o.deps.Logger.Warn("mark indexed failed", slog.Int64("photo_id", id), slog.String("error", err.Error()))
			result.Errors++
		}
	}
	result.PhotosIndexed = len(touchedIDs)

	return result, nil
}

// discover runs the crawl, upserts new/modified photos, deletes
// vanished ones, and returns the ids touched this run so MarkIndexed
// can be applied once every enabled phase below has run.
func (o *Orchestrator) discover(ctx context.Context, cfg Config, result *Result) ([]int64, error) {
	known, err := o.deps.Store.ListAllPaths(ctx)
	if err != nil {
		return nil, fmt.Errorf("list known paths: %w", err)
	}
	crawlKnown := make(map[string]crawler.KnownPhoto, len(known))
	for path, p := range known {
		crawlKnown[path] = crawler.KnownPhoto{ModifiedAtUnix: p.ModifiedAt.Unix(), SizeBytes: p.SizeBytes}
	}

	results := o.deps.Crawler.Crawl(ctx, crawler.Options{
		Roots:      cfg.Roots,
		Extensions: cfg.Extensions,
		Workers:    cfg.Workers,
		Known:      crawlKnown,
	})

	var touched []int64
	for r := range results {
		result.PhotosDiscovered++
		if r.Err != nil {
			result.Errors++
			o.deps.Logger.Warn("crawl error", slog.String("error", r.Err.Error()))
			continue
		}
		switch r.Classification {
		case crawler.ClassificationDeleted:
			if prior, ok := known[r.Path]; ok {
				if err := o.deps.Store.DeletePhoto(ctx, prior.ID); err != nil {
					result.Errors++
					o.deps.Logger.Warn("delete photo failed", slog.String("path", r.Path), slog.String("error", err.Error()))
					continue
				}
				result.PhotosDeleted++
			}
		case crawler.ClassificationUnchanged:
			// no-op: no descriptor work needed.
		default: // new or modified
			photo := &store.Photo{
				Path:      r.Path,
				SHA1:      r.SHA1,
				SizeBytes: r.Size,
			}
			id, err := o.deps.Store.UpsertPhoto(ctx, photo)
			if err != nil {
				result.Errors++
				o.deps.Logger.Warn("upsert photo failed", slog.String("path", r.Path), slog.String("error", err.Error()))
				continue
			}
			touched = append(touched, id)
		}
		o.progress.Advance(result.PhotosDiscovered)
	}
	return touched, nil
}

type photoProcessor func(ctx context.Context, p *store.Photo) error

// runDescriptorPhase fans a phase's pending photos out over a bounded
// pool of goroutines, mirroring the crawler's per-root worker
// fan-out: a fixed number of goroutines pull from a shared channel
// under a sync.WaitGroup, and a single failing photo never aborts the
// rest of the batch.
func (o *Orchestrator) runDescriptorPhase(ctx context.Context, phase Phase, kind store.DescriptorKind, workers int, result *Result, process photoProcessor) error {
	photos, err := o.deps.Store.ListPhotosMissing(ctx, kind, store.CurrentIndexVersion)
	if err != nil {
		return fmt.Errorf("list photos missing %s: %w", kind, err)
	}
	o.progress.SetPhase(phase, len(photos))
	if len(photos) == 0 {
		return nil
	}

	work := make(chan *store.Photo, workers*2)
	var done int64
	var doneMu sync.Mutex
	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for p := range work {
				if err := process(ctx, p); err != nil {
					doneMu.Lock()
					result.Errors++
					doneMu.Unlock()
					o.deps.Logger.Warn("descriptor phase failed",
						slog.String("phase", string(phase)),
						slog.Int64("photo_id", p.ID),
						slog.String("error", err.Error()))
				}
				doneMu.Lock()
				done++
				o.progress.Advance(int(done))
				doneMu.Unlock()
			}
		}()
	}

feed:
	for _, p := range photos {
		select {
		case work <- p:
		case <-ctx.Done():
			break feed
		}
	}
	close(work)
	wg.Wait()
	return nil
}

func (o *Orchestrator) processEXIF(ctx context.Context, p *store.Photo) error {
	rec := o.deps.EXIF.Extract(ctx, descriptor.Input{PhotoID: p.ID, Path: p.Path, SHA1: p.SHA1})
	return o.deps.Store.PutExif(ctx, rec)
}

func (o *Orchestrator) processEmbedding(ctx context.Context, p *store.Photo) error {
	vec, err := o.deps.Embedding.Embed(ctx, descriptor.Input{PhotoID: p.ID, Path: p.Path, SHA1: p.SHA1})
	if err != nil {
		return err
	}
	if err := o.deps.Store.PutEmbedding(ctx, p.ID, vec, o.deps.Embedding.ModelName); err != nil {
		return err
	}
	return o.deps.VectorIndex.Add(ctx, []int64{p.ID}, [][]float32{vec})
}

func (o *Orchestrator) processThumbnail(ctx context.Context, p *store.Photo) error {
	if !o.deps.Thumbnail.CanDecode(extOf(p.Path)) {
		return nil // HEIC and other undecodable sources are a non-fatal skip.
	}
	thumb, err := o.deps.Thumbnail.Generate(ctx, descriptor.Input{PhotoID: p.ID, Path: p.Path, SHA1: p.SHA1}, p.SizeBytes)
	if err != nil {
		return err
	}
	return o.deps.Store.PutThumbnail(ctx, thumb)
}

func (o *Orchestrator) processFace(ctx context.Context, p *store.Photo) error {
	faces, err := o.deps.Face.Detect(ctx, descriptor.Input{PhotoID: p.ID, Path: p.Path, SHA1: p.SHA1})
	if err != nil {
		return err
	}
	return o.deps.Store.PutFaces(ctx, p.ID, faces)
}

func extOf(path string) string {
	return strings.ToLower(strings.TrimPrefix(filepath.Ext(path), "."))
}
