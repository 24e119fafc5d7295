package vectorindex

import (
	"bufio"
	"context"
	"encoding/gob"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"

	"github.com/coder/hnsw"
)

// FlatIndex is the N <= 50,000 tier: inner-product search over
// normalized vectors. It is backed by coder/hnsw's graph rather than a
// literal brute-force scan — at this population size EfSearch is set
// high enough (see newFlatGraph) that recall is effectively exact for
// the purposes of this system, and reusing a tested, persistent ANN
// graph beats hand-rolling a second distance-computation path. See
// DESIGN.md for the full rationale.
//
// Bookkeeping — id<->key maps, lazy tombstone deletion, gob-encoded
// sidecar metadata, atomic temp-file+rename saves — is ported from the
// teacher's HNSWStore.
type FlatIndex struct {
	mu         sync.RWMutex
	graph      *hnsw.Graph[uint64]
	dimensions int

	idMap   map[int64]uint64
	keyMap  map[uint64]int64
	nextKey uint64

	closed bool
}

type flatMetadata struct {
	IDMap      map[int64]uint64
	NextKey    uint64
	Dimensions int
}

// newFlatGraph builds a coder/hnsw graph tuned for small, near-exact
// collections: high connectivity and a wide search beam.
func newFlatGraph() *hnsw.Graph[uint64] {
	g := hnsw.NewGraph[uint64]()
	g.Distance = hnsw.CosineDistance
	g.M = 32
	g.EfSearch = 256
	g.Ml = 0.25
	return g
}

// NewFlatIndex creates an empty flat-tier index for the given
// dimensionality (512 for photo/text embeddings).
func NewFlatIndex(dimensions int) *FlatIndex {
	return &FlatIndex{
		graph:      newFlatGraph(),
		dimensions: dimensions,
		idMap:      make(map[int64]uint64),
		keyMap:     make(map[uint64]int64),
	}
}

var _ Index = (*FlatIndex)(nil)

func (f *FlatIndex) Add(ctx context.Context, ids []int64, vectors [][]float32) error {
	if len(ids) != len(vectors) {
		return fmt.Errorf("ids and vectors length mismatch: %d vs %d", len(ids), len(vectors))
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.closed {
		return fmt.Errorf("index is closed")
	}

	for _, v := range vectors {
		if len(v) != f.dimensions {
			return ErrDimensionMismatch{Expected: f.dimensions, Got: len(v)}
		}
	}

	for i, id := range ids {
		if existingKey, ok := f.idMap[id]; ok {
			// Lazy deletion on overwrite: orphan the old key rather than
			// calling graph.Delete(), which breaks when deleting the
			// last remaining node (same bug the teacher works around).
			delete(f.keyMap, existingKey)
			delete(f.idMap, id)
		}

		vec := make([]float32, len(vectors[i]))
		copy(vec, vectors[i])
		if err := normalizeInPlace(vec); err != nil {
			return fmt.Errorf("normalize vector for id %d: %w", id, err)
		}

		key := f.nextKey
		f.nextKey++
		f.graph.Add(hnsw.MakeNode(key, vec))
		f.idMap[id] = key
		f.keyMap[key] = id
	}
	return nil
}

func (f *FlatIndex) Remove(ctx context.Context, ids []int64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.closed {
		return fmt.Errorf("index is closed")
	}
	for _, id := range ids {
		if key, ok := f.idMap[id]; ok {
			delete(f.keyMap, key)
			delete(f.idMap, id)
		}
	}
	return nil
}

func (f *FlatIndex) Search(ctx context.Context, query []float32, k int, minScore float32) ([]Result, error) {
	f.mu.RLock()
	defer f.mu.RUnlock()
	if f.closed {
		return nil, fmt.Errorf("index is closed")
	}
	if len(query) != f.dimensions {
		return nil, ErrDimensionMismatch{Expected: f.dimensions, Got: len(query)}
	}
	if f.graph.Len() == 0 {
		return []Result{}, nil
	}

	q := make([]float32, len(query))
	copy(q, query)
	if err := normalizeInPlace(q); err != nil {
		return nil, err
	}

	// Lazily-deleted nodes remain in the graph; over-fetch and filter
	// by keyMap membership so tombstones never surface in results.
	overfetch := k * 4
	if overfetch < k+len(f.keyMap)-len(f.idMap) {
		overfetch = k + (len(f.keyMap) - len(f.idMap))
	}
	nodes := f.graph.Search(q, overfetch)

	results := make([]Result, 0, k)
	for _, node := range nodes {
		id, ok := f.keyMap[node.Key]
		if !ok {
			continue
		}
		distance := f.graph.Distance(q, node.Value)
		score := 1.0 - distance // cosine distance in [0,2] -> inner product in [-1,1]
		if score < minScore {
			continue
		}
		results = append(results, Result{ID: id, Score: score})
		if len(results) == k {
			break
		}
	}
	return results, nil
}

func (f *FlatIndex) BatchSearch(ctx context.Context, queries [][]float32, k int, minScore float32) ([][]Result, error) {
	out := make([][]Result, len(queries))
	for i, q := range queries {
		r, err := f.Search(ctx, q, k, minScore)
		if err != nil {
			return nil, fmt.Errorf("batch search query %d: %w", i, err)
		}
		out[i] = r
	}
	return out, nil
}

func (f *FlatIndex) Save(path string) error {
	f.mu.RLock()
	defer f.mu.RUnlock()
	if f.closed {
		return fmt.Errorf("index is closed")
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create directory: %w", err)
	}

	tmp := path + ".tmp"
	file, err := os.Create(tmp)
	if err != nil {
		return fmt.Errorf("create index file: %w", err)
	}
	if err := f.graph.Export(file); err != nil {
		file.Close()
		os.Remove(tmp)
		return fmt.Errorf("export graph: %w", err)
	}
	if err := file.Close(); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("close index file: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("rename index file: %w", err)
	}

	return f.saveMetadata(path + ".meta")
}

func (f *FlatIndex) saveMetadata(path string) error {
	tmp := path + ".tmp"
	file, err := os.Create(tmp)
	if err != nil {
		return fmt.Errorf("create temp metadata file: %w", err)
	}
	meta := flatMetadata{IDMap: f.idMap, NextKey: f.nextKey, Dimensions: f.dimensions}
	if err := gob.NewEncoder(file).Encode(meta); err != nil {
		file.Close()
		os.Remove(tmp)
		return fmt.Errorf("encode metadata: %w", err)
	}
	if err := file.Close(); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("close metadata file: %w", err)
	}
	return os.Rename(tmp, path)
}

func (f *FlatIndex) Load(path string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.closed {
		return fmt.Errorf("index is closed")
	}

	if err := f.loadMetadata(path + ".meta"); err != nil {
		return fmt.Errorf("load metadata: %w", err)
	}

	file, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("open index file: %w", err)
	}
	defer file.Close()

	reader := bufio.NewReader(file)
	g := newFlatGraph()
	if err := g.Import(reader); err != nil {
		return fmt.Errorf("import graph: %w", err)
	}
	f.graph = g
	return nil
}

func (f *FlatIndex) loadMetadata(path string) error {
	file, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("open metadata file: %w", err)
	}
	defer func() {
		if cerr := file.Close(); cerr != nil {
			slog.Warn("close flat index metadata file failed", slog.String("error", cerr.Error()))
		}
	}()

	var meta flatMetadata
	if err := gob.NewDecoder(file).Decode(&meta); err != nil {
		return fmt.Errorf("decode metadata: %w", err)
	}
	if meta.Dimensions != f.dimensions {
		return ErrDimensionMismatch{Expected: f.dimensions, Got: meta.Dimensions}
	}

	f.idMap = meta.IDMap
	f.keyMap = make(map[uint64]int64, len(meta.IDMap))
	f.nextKey = meta.NextKey
	for id, key := range f.idMap {
		f.keyMap[key] = id
	}
	return nil
}

func (f *FlatIndex) RebuildFrom(ctx context.Context, vectors map[int64][]float32) error {
	f.mu.Lock()
	rebuilt := NewFlatIndex(f.dimensions)
	f.mu.Unlock()

	ids := make([]int64, 0, len(vectors))
	vecs := make([][]float32, 0, len(vectors))
	for id, v := range vectors {
		ids = append(ids, id)
		vecs = append(vecs, v)
	}
	if err := rebuilt.Add(ctx, ids, vecs); err != nil {
		return fmt.Errorf("rebuild flat index: %w", err)
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	f.graph = rebuilt.graph
	f.idMap = rebuilt.idMap
	f.keyMap = rebuilt.keyMap
	f.nextKey = rebuilt.nextKey
	return nil
}

func (f *FlatIndex) Stats() Stats {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return Stats{
		Tier:       TierFlat,
		Live:       len(f.idMap),
		Tombstones: f.graph.Len() - len(f.idMap),
		Dimensions: f.dimensions,
	}
}

func (f *FlatIndex) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.closed {
		return nil
	}
	f.closed = true
	f.graph = nil
	return nil
}
