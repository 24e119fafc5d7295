// Package main is photovaultd's entry point: it loads configuration,
// opens the Store and Vector Index, wires the Pipeline Orchestrator,
// Query Engine, and Batch Manager, and serves the HTTP API until
// signaled to stop.
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/localphoto/photovault/internal/batch"
	"github.com/localphoto/photovault/internal/config"
	"github.com/localphoto/photovault/internal/crawler"
	"github.com/localphoto/photovault/internal/daemon"
	"github.com/localphoto/photovault/internal/descriptor"
	"github.com/localphoto/photovault/internal/eventqueue"
	"github.com/localphoto/photovault/internal/fusion"
	"github.com/localphoto/photovault/internal/httpapi"
	"github.com/localphoto/photovault/internal/obslog"
	"github.com/localphoto/photovault/internal/pipeline"
	"github.com/localphoto/photovault/internal/query"
	"github.com/localphoto/photovault/internal/store"
	"github.com/localphoto/photovault/internal/vectorindex"
	"github.com/localphoto/photovault/internal/watch"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, "photovaultd:", err)
		os.Exit(exitCodeFor(err))
	}
}

func run() error {
	var (
		dataDir    string
		configPath string
	)
	flag.StringVar(&dataDir, "data-dir", defaultDataDir(), "directory holding photos.db, the vector index, and thumbnails")
	flag.StringVar(&configPath, "config", "", "path inside the project directory; photovault.yaml (or .yml) in that directory overrides the user/global config, and the file name itself is ignored")
	flag.Parse()

	cfg, err := config.Load(filepath.Dir(configPath))
	if err != nil {
		return fatalExit{err: fmt.Errorf("load config: %w", err), code: 1}
	}

	logger, cleanupLog, err := obslog.Setup(obslog.Config{
		Level:         cfg.Server.LogLevel,
		MaxSizeMB:     10,
		MaxFiles:      5,
		WriteToStderr: true,
	})
	if err != nil {
		return fatalExit{err: fmt.Errorf("set up logging: %w", err), code: 1}
	}
	defer cleanupLog()
	slog.SetDefault(logger)

	if err := os.MkdirAll(dataDir, 0o755); err != nil {
		return fatalExit{err: fmt.Errorf("create data dir: %w", err), code: 1}
	}

	pidFile := daemon.NewPIDFile(filepath.Join(dataDir, "photovaultd.pid"))
	if err := pidFile.Write(); err != nil {
		logger.Warn("pidfile_write_failed", slog.String("error", err.Error()))
	}
	defer func() { _ = pidFile.Remove() }()

	s, err := store.NewSQLiteStore(filepath.Join(dataDir, "photos.db"))
	if err != nil {
		code := 3
		if strings.Contains(err.Error(), "newer than this binary supports") {
			code = 2
		}
		return fatalExit{err: fmt.Errorf("open store: %w", err), code: code}
	}
	defer s.Close()

	indexPath := filepath.Join(dataDir, "vector.idx")
	vi := vectorindex.NewManager(vectorindex.ManagerConfig{
		Dimensions:            store.EmbeddingDimensions,
		AutoOptimizeThreshold: cfg.VectorIndex.AutoOptimizeThreshold,
		PersistPath:           indexPath,
	}, s, logger)
	if err := loadOrRebuildVectorIndex(context.Background(), vi, s, indexPath, logger); err != nil {
		return fatalExit{err: fmt.Errorf("initialize vector index: %w", err), code: 1}
	}

	crawl, err := crawler.New()
	if err != nil {
		return fatalExit{err: fmt.Errorf("create crawler: %w", err), code: 1}
	}

	orch, err := pipeline.New(pipeline.Dependencies{
		Store:       s,
		VectorIndex: vi,
		Crawler:     crawl,
		EXIF:        descriptor.NewEXIFWorker(),
		Thumbnail:   descriptor.NewThumbnailWorker(filepath.Join(dataDir, "thumbs")),
		Embedding:   descriptor.NewEmbeddingWorker(descriptor.UnavailableEmbeddingModel{Dims: store.EmbeddingDimensions}, "unconfigured"),
		Face:        descriptor.NewFaceWorker(descriptor.UnavailableFaceModel{}, cfg.FaceSearch.Enabled),
		Logger:      logger,
	})
	if err != nil {
		return fatalExit{err: fmt.Errorf("create pipeline orchestrator: %w", err), code: 1}
	}

	qe, err := query.New(s, vi, nil, nil, query.Config{
		FusionMethod: fusion.Method(cfg.Fusion.Method),
		RRFConstant:  cfg.Fusion.RRFConstant,
		FusionWeights: fusion.Weights{
			Text:     cfg.Fusion.TextWeight,
			Semantic: cfg.Fusion.SemanticWeight,
			Image:    cfg.Fusion.ImageWeight,
			Face:     cfg.Fusion.FaceWeight,
			Metadata: cfg.Fusion.MetadataWeight,
		},
	})
	if err != nil {
		return fatalExit{err: fmt.Errorf("create query engine: %w", err), code: 1}
	}

	bm := batch.New(s, logger)

	eq, err := eventqueue.New(eventqueue.Config{
		DeadLetterPath: filepath.Join(dataDir, "events-deadletter.db"),
	}, logger)
	if err != nil {
		return fatalExit{err: fmt.Errorf("create event queue: %w", err), code: 1}
	}
	defer eq.Close()

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if err := eq.Start(ctx); err != nil {
		return fatalExit{err: fmt.Errorf("start event queue: %w", err), code: 1}
	}
	eq.Publish(eventqueue.TypeSystemStartup, map[string]any{"data_dir": dataDir}, eventqueue.WithSource("photovaultd"))

	if len(cfg.Roots.Paths) > 0 {
		w, err := watch.New(watch.Options{Extensions: cfg.Roots.Extensions}, logger)
		if err != nil {
			logger.Warn("watch_unavailable", slog.String("error", err.Error()))
		} else {
			if err := w.Start(ctx, cfg.Roots.Paths); err != nil {
				logger.Warn("watch_start_failed", slog.String("error", err.Error()))
			} else {
				defer w.Stop()
				incrementalCfg := pipeline.Config{
					Roots:             cfg.Roots.Paths,
					Extensions:        cfg.Roots.Extensions,
					Workers:           cfg.Performance.IndexWorkers,
					FaceSearchEnabled: cfg.FaceSearch.Enabled,
				}
				go runWatchLoop(ctx, w, orch, eq, incrementalCfg, logger)
			}
		}
	}

	app := httpapi.New(httpapi.Deps{
		Store:        s,
		Orchestrator: orch,
		Query:        qe,
		Batch:        bm,
		Events:       eq,
		Config:       cfg,
		Logger:       logger,
	})

	addr := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)
	errCh := make(chan error, 1)
	go func() { errCh <- app.Listen(addr) }()
	logger.Info("photovaultd_started", slog.String("addr", addr), slog.String("data_dir", dataDir))

	select {
	case err := <-errCh:
		if err != nil {
			return fatalExit{err: fmt.Errorf("http server: %w", err), code: 1}
		}
	case <-ctx.Done():
		logger.Info("photovaultd_shutting_down")
		if orch.IsRunning() {
			orch.Stop()
		}
		eq.Publish(eventqueue.TypeSystemShutdown, nil, eventqueue.WithSource("photovaultd"))
		eq.Stop(5 * time.Second)
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer shutdownCancel()
		if err := app.ShutdownWithContext(shutdownCtx); err != nil {
			logger.Warn("shutdown_error", slog.String("error", err.Error()))
		}
	}
	return nil
}

// runWatchLoop publishes a lifecycle event per detected change and
// kicks off an incremental index run once a batch settles, unless one
// is already in progress — the background equivalent of a client
// calling POST /index/start themselves.
func runWatchLoop(ctx context.Context, w *watch.Watcher, orch *pipeline.Orchestrator, eq *eventqueue.Queue, cfg pipeline.Config, logger *slog.Logger) {
	for {
		select {
		case <-ctx.Done():
			return
		case changed, ok := <-w.Events():
			if !ok {
				return
			}
			for _, ev := range changed {
				eventType := eventTypeFor(ev.Operation)
				eq.Publish(eventType, map[string]any{"path": ev.Path}, eventqueue.WithSource("watch"))
			}
			if !orch.IsRunning() {
				logger.Info("watch_triggered_reindex", slog.Int("changed_files", len(changed)))
				orch.Start(ctx, cfg)
			}
		}
	}
}

func eventTypeFor(op watch.Operation) eventqueue.Type {
	switch op {
	case watch.OpCreate:
		return eventqueue.TypeFileDiscovered
	case watch.OpDelete:
		return eventqueue.TypeFileDeleted
	default:
		return eventqueue.TypeFileModified
	}
}

// loadOrRebuildVectorIndex loads a persisted index if present,
// otherwise rebuilds it from the Store's embeddings — the same
// recovery path a fresh checkout or a deleted index file takes.
func loadOrRebuildVectorIndex(ctx context.Context, vi *vectorindex.Manager, s *store.SQLiteStore, indexPath string, logger *slog.Logger) error {
	if err := vi.Load(ctx, indexPath); err == nil {
		return nil
	}
	logger.Info("vector_index_rebuild", slog.String("reason", "no persisted index found"))
	vectors, err := s.AllEmbeddings(ctx)
	if err != nil {
		return fmt.Errorf("load embeddings for rebuild: %w", err)
	}
	return vi.RebuildFrom(ctx, vectors)
}

func defaultDataDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(os.TempDir(), ".photovault")
	}
	return filepath.Join(home, ".photovault")
}

// fatalExit carries the process exit code spec.md §6 assigns: 1
// config error, 2 when internal/store refuses an on-disk schema newer
// than this binary, 3 for any other failure to open the store.
type fatalExit struct {
	err  error
	code int
}

func (f fatalExit) Error() string { return f.err.Error() }
func (f fatalExit) Unwrap() error { return f.err }

func exitCodeFor(err error) int {
	if fe, ok := err.(fatalExit); ok {
		return fe.code
	}
	return 1
}
