package vectorindex

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"
)

// ManagerConfig tunes the adaptive retraining scheduler and
// auto-persistence cadence.
type ManagerConfig struct {
	Dimensions int

	// AutoOptimizeThreshold is the live-vector count above which an
	// add() may trigger a background rebuild to move to a coarser
	// tier. Defaults to IVFFlatMaxPopulation/2 if zero.
	AutoOptimizeThreshold int
	// OptimizeCooldown is the minimum time between successive
	// background rebuilds.
	OptimizeCooldown time.Duration

	// PersistPath, when set, is the index file passed to Save/Load
	// (a ".meta" sidecar is always written alongside it).
	PersistPath string
}

// Manager wraps the population-tiered representation (flat / IVF-Flat
// / IVF-PQ), selecting and swapping tiers as the live population
// crosses thresholds, auto-saving every AutoSaveThreshold additions,
// and triggering a lazy-tombstone rebuild once the tombstone ratio
// crosses TombstoneRebuildRatio. Mirrors the mutex-guarded
// start/stop/run state-machine idiom used for background work
// elsewhere in this codebase, generalized to a single-flight
// "optimization in flight" flag instead of a running bool.
type Manager struct {
	cfg ManagerConfig

	mu               sync.RWMutex
	active           Index
	tier             Tier
	addsSinceSave    int
	lastOptimization *time.Time
	optimizing       bool
	store            MetadataSource

	logger *slog.Logger
}

// MetadataSource is the minimal view of the Store a Manager needs to
// reconstruct live vectors for a rebuild. Implemented by
// internal/store.SQLiteStore.
type MetadataSource interface {
	AllEmbeddings(ctx context.Context) (map[int64][]float32, error)
}

// NewManager creates a Manager starting from the flat tier. Call
// RebuildFrom (or Load) to populate it from existing data.
func NewManager(cfg ManagerConfig, store MetadataSource, logger *slog.Logger) *Manager {
	if cfg.OptimizeCooldown == 0 {
		cfg.OptimizeCooldown = 10 * time.Minute
	}
	if cfg.AutoOptimizeThreshold == 0 {
		cfg.AutoOptimizeThreshold = IVFFlatMaxPopulation / 2
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Manager{
		cfg:    cfg,
		active: NewFlatIndex(cfg.Dimensions),
		tier:   TierFlat,
		store:  store,
		logger: logger,
	}
}

// Add inserts vectors into the currently active tier, triggers an
// auto-save once AutoSaveThreshold additions have accumulated, and
// kicks off an async rebuild if the adaptive retraining conditions are
// met.
func (m *Manager) Add(ctx context.Context, ids []int64, vectors [][]float32) error {
	m.mu.Lock()
	active := m.active
	m.addsSinceSave += len(ids)
	shouldSave := m.addsSinceSave >= AutoSaveThreshold
	if shouldSave {
		m.addsSinceSave = 0
	}
	m.mu.Unlock()

	if err := active.Add(ctx, ids, vectors); err != nil {
		return err
	}

	if shouldSave && m.cfg.PersistPath != "" {
		if err := m.Save(m.cfg.PersistPath); err != nil {
			m.logger.Warn("auto-save failed", slog.String("error", err.Error()))
		}
	}

	m.maybeTriggerOptimization(ctx)
	return nil
}

func (m *Manager) Remove(ctx context.Context, ids []int64) error {
	m.mu.RLock()
	active := m.active
	m.mu.RUnlock()
	if err := active.Remove(ctx, ids); err != nil {
		return err
	}

	stats := active.Stats()
	if stats.Live+stats.Tombstones > 0 {
		ratio := float64(stats.Tombstones) / float64(stats.Live+stats.Tombstones)
		if ratio > TombstoneRebuildRatio {
			m.maybeTriggerOptimization(ctx)
		}
	}
	return nil
}

func (m *Manager) Search(ctx context.Context, query []float32, k int, minScore float32) ([]Result, error) {
	m.mu.RLock()
	active := m.active
	m.mu.RUnlock()
	return active.Search(ctx, query, k, minScore)
}

func (m *Manager) BatchSearch(ctx context.Context, queries [][]float32, k int, minScore float32) ([][]Result, error) {
	m.mu.RLock()
	active := m.active
	m.mu.RUnlock()
	return active.BatchSearch(ctx, queries, k, minScore)
}

// RebuildFrom reconstructs the index from scratch over the given live
// vectors, choosing the tier by population size. Used for initial
// load from the Store and for forced rebuilds (rebuild_from contract).
func (m *Manager) RebuildFrom(ctx context.Context, vectors map[int64][]float32) error {
	tier := TierFor(len(vectors))

	var next Index
	switch tier {
	case TierFlat:
		next = NewFlatIndex(m.cfg.Dimensions)
	case TierIVFFlat:
		next = NewIVFIndex(m.cfg.Dimensions, NListFor(len(vectors)))
	case TierIVFPQ:
		next = NewIVFPQIndex(m.cfg.Dimensions, NListFor(len(vectors)))
	}

	if err := next.RebuildFrom(ctx, vectors); err != nil {
		return fmt.Errorf("rebuild %s tier: %w", tier, err)
	}

	now := time.Now()
	m.mu.Lock()
	old := m.active
	m.active = next
	m.tier = tier
	m.lastOptimization = &now
	m.mu.Unlock()

	if old != nil {
		_ = old.Close()
	}
	return nil
}

// maybeTriggerOptimization implements the adaptive retraining check:
// population above threshold, cooldown elapsed, and no rebuild already
// in flight. The rebuild itself runs asynchronously so callers never
// block on it.
func (m *Manager) maybeTriggerOptimization(ctx context.Context) {
	m.mu.Lock()
	if m.optimizing {
		m.mu.Unlock()
		return
	}
	stats := m.active.Stats()
	n := stats.Live
	nowOptimization := time.Now()
	cooledDown := m.lastOptimization == nil || nowOptimization.Sub(*m.lastOptimization) > m.cfg.OptimizeCooldown
	wantTier := TierFor(n)
	needsRebuild := n > m.cfg.AutoOptimizeThreshold && wantTier != m.tier
	tombstoneHeavy := stats.Live+stats.Tombstones > 0 &&
		float64(stats.Tombstones)/float64(stats.Live+stats.Tombstones) > TombstoneRebuildRatio

	if !cooledDown || (!needsRebuild && !tombstoneHeavy) {
		m.mu.Unlock()
		return
	}
	m.optimizing = true
	m.mu.Unlock()

	go m.runOptimization(ctx)
}

func (m *Manager) runOptimization(ctx context.Context) {
	defer func() {
		m.mu.Lock()
		m.optimizing = false
		m.mu.Unlock()
	}()

	if m.store == nil {
		return
	}
	vectors, err := m.store.AllEmbeddings(ctx)
	if err != nil {
		m.logger.Error("background rebuild: load embeddings failed", slog.String("error", err.Error()))
		return
	}
	if err := m.RebuildFrom(ctx, vectors); err != nil {
		m.logger.Error("background rebuild failed", slog.String("error", err.Error()))
		return
	}
	if m.cfg.PersistPath != "" {
		if err := m.Save(m.cfg.PersistPath); err != nil {
			m.logger.Warn("post-rebuild save failed", slog.String("error", err.Error()))
		}
	}
	m.logger.Info("background rebuild completed", slog.String("tier", string(m.CurrentTier())))
}

func (m *Manager) Save(path string) error {
	m.mu.RLock()
	active := m.active
	m.mu.RUnlock()
	return active.Save(path)
}

// Load restores the index from path by trying the flat, IVF-Flat and
// IVF-PQ loaders in that order until one accepts the file. Callers that know
// the population size up front should prefer RebuildFrom against the
// Store, which avoids this probing.
func (m *Manager) Load(ctx context.Context, path string) error {
	flat := NewFlatIndex(m.cfg.Dimensions)
	if err := flat.Load(path); err == nil {
		m.mu.Lock()
		m.active = flat
		m.tier = TierFlat
		m.mu.Unlock()
		return nil
	}

	ivf := NewIVFIndex(m.cfg.Dimensions, 100)
	if err := ivf.Load(path); err == nil {
		m.mu.Lock()
		m.active = ivf
		m.tier = TierIVFFlat
		m.mu.Unlock()
		return nil
	}

	pq := NewIVFPQIndex(m.cfg.Dimensions, 100)
	if err := pq.Load(path); err != nil {
		return fmt.Errorf("load index (tried flat, ivf-flat, ivf-pq): %w", err)
	}
	m.mu.Lock()
	m.active = pq
	m.tier = TierIVFPQ
	m.mu.Unlock()
	return nil
}

func (m *Manager) Stats() Stats {
	m.mu.RLock()
	defer m.mu.RUnlock()
	stats := m.active.Stats()
	if m.lastOptimization != nil {
		unix := m.lastOptimization.Unix()
		stats.LastOptimization = &unix
	}
	stats.OptimizationInFlight = m.optimizing
	return stats
}

func (m *Manager) CurrentTier() Tier {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.tier
}

func (m *Manager) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.active.Close()
}
