package vectorindex

import (
	"bufio"
	"context"
	"encoding/gob"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"sort"
	"sync"
)

// IVFIndex is the 50,000 < N <= 200,000 tier: centroids partition the
// space into nlist inverted lists, and search visits only the nprobe
// nearest lists. Ported from the k-means/inverted-list structure of a
// from-scratch IVF implementation in the reference pack, generalized
// to int64 photo ids and switched from eager to lazy deletion (the
// source shifts every inverted-list index on delete; this index
// instead marks ids dead in a skip set, matching the flat tier's
// tombstone contract and spec's "remove drops the mapping, the vector
// stays" requirement).
type IVFIndex struct {
	mu sync.RWMutex

	dimensions int
	nlist      int
	nprobe     int

	centroids [][]float32
	invlists  [][]int64 // centroid index -> live vector slot indices
	vectors   [][]float32
	ids       []int64
	deadSlot  map[int]bool // slot index -> tombstoned
	idToSlot  map[int64]int

	trained bool
}

type ivfMetadata struct {
	Dimensions int
	NList      int
	NProbe     int
	Centroids  [][]float32
	Invlists   [][]int64
	Vectors    [][]float32
	IDs        []int64
	DeadSlot   map[int]bool
	Trained    bool
}

// NewIVFIndex creates an untrained IVF index. Train must be called
// (via RebuildFrom) before Add/Search will accept vectors.
func NewIVFIndex(dimensions, nlist int) *IVFIndex {
	return &IVFIndex{
		dimensions: dimensions,
		nlist:      nlist,
		nprobe:     NProbeFor(nlist),
		invlists:   make([][]int64, nlist),
		deadSlot:   make(map[int]bool),
		idToSlot:   make(map[int64]int),
	}
}

var _ Index = (*IVFIndex)(nil)

func (ix *IVFIndex) Add(ctx context.Context, ids []int64, vectors [][]float32) error {
	if len(ids) != len(vectors) {
		return fmt.Errorf("ids and vectors length mismatch: %d vs %d", len(ids), len(vectors))
	}
	ix.mu.Lock()
	defer ix.mu.Unlock()
	if !ix.trained {
		return fmt.Errorf("ivf index not trained")
	}

	for i, id := range ids {
		v := make([]float32, len(vectors[i]))
		copy(v, vectors[i])
		if len(v) != ix.dimensions {
			return ErrDimensionMismatch{Expected: ix.dimensions, Got: len(v)}
		}
		if err := normalizeInPlace(v); err != nil {
			return fmt.Errorf("normalize vector for id %d: %w", id, err)
		}

		if oldSlot, ok := ix.idToSlot[id]; ok {
			ix.deadSlot[oldSlot] = true
		}

		centroid := ix.nearestCentroid(v)
		slot := len(ix.vectors)
		ix.vectors = append(ix.vectors, v)
		ix.ids = append(ix.ids, id)
		ix.invlists[centroid] = append(ix.invlists[centroid], int64(slot))
		ix.idToSlot[id] = slot
	}
	return nil
}

func (ix *IVFIndex) Remove(ctx context.Context, ids []int64) error {
	ix.mu.Lock()
	defer ix.mu.Unlock()
	for _, id := range ids {
		if slot, ok := ix.idToSlot[id]; ok {
			ix.deadSlot[slot] = true
			delete(ix.idToSlot, id)
		}
	}
	return nil
}

func (ix *IVFIndex) Search(ctx context.Context, query []float32, k int, minScore float32) ([]Result, error) {
	ix.mu.RLock()
	defer ix.mu.RUnlock()
	if !ix.trained {
		return nil, fmt.Errorf("ivf index not trained")
	}
	if len(query) != ix.dimensions {
		return nil, ErrDimensionMismatch{Expected: ix.dimensions, Got: len(query)}
	}

	q := make([]float32, len(query))
	copy(q, query)
	if err := normalizeInPlace(q); err != nil {
		return nil, err
	}

	type centroidDist struct {
		idx  int
		dist float64
	}
	cds := make([]centroidDist, len(ix.centroids))
	for i, c := range ix.centroids {
		cds[i] = centroidDist{idx: i, dist: euclidean(q, c)}
	}
	sort.Slice(cds, func(i, j int) bool { return cds[i].dist < cds[j].dist })

	nprobe := ix.nprobe
	if nprobe > len(cds) {
		nprobe = len(cds)
	}

	candidates := make([]Result, 0, k*4)
	for p := 0; p < nprobe; p++ {
		for _, slot := range ix.invlists[cds[p].idx] {
			s := int(slot)
			if ix.deadSlot[s] {
				continue
			}
			score := innerProduct(q, ix.vectors[s])
			if score < minScore {
				continue
			}
			candidates = append(candidates, Result{ID: ix.ids[s], Score: score})
		}
	}

	sort.Slice(candidates, func(i, j int) bool { return candidates[i].Score > candidates[j].Score })
	if len(candidates) > k {
		candidates = candidates[:k]
	}
	return candidates, nil
}

func (ix *IVFIndex) BatchSearch(ctx context.Context, queries [][]float32, k int, minScore float32) ([][]Result, error) {
	out := make([][]Result, len(queries))
	for i, q := range queries {
		r, err := ix.Search(ctx, q, k, minScore)
		if err != nil {
			return nil, fmt.Errorf("batch search query %d: %w", i, err)
		}
		out[i] = r
	}
	return out, nil
}

// RebuildFrom trains fresh centroids over the given live vectors with
// k-means and re-populates the inverted lists from scratch, clearing
// all tombstones.
func (ix *IVFIndex) RebuildFrom(ctx context.Context, vectors map[int64][]float32) error {
	ix.mu.Lock()
	defer ix.mu.Unlock()

	ids := make([]int64, 0, len(vectors))
	vecs := make([][]float32, 0, len(vectors))
	for id, v := range vectors {
		nv := make([]float32, len(v))
		copy(nv, v)
		if err := normalizeInPlace(nv); err != nil {
			return fmt.Errorf("normalize vector for id %d: %w", id, err)
		}
		ids = append(ids, id)
		vecs = append(vecs, nv)
	}

	nlist := ix.nlist
	if nlist > len(vecs) {
		nlist = len(vecs)
	}
	if nlist < 1 {
		ix.centroids = nil
		ix.invlists = make([][]int64, ix.nlist)
		ix.vectors = nil
		ix.ids = nil
		ix.deadSlot = make(map[int]bool)
		ix.idToSlot = make(map[int64]int)
		ix.trained = false
		return nil
	}

	centroids := kMeans(vecs, nlist, 20)

	ix.centroids = centroids
	ix.invlists = make([][]int64, len(centroids))
	ix.vectors = vecs
	ix.ids = ids
	ix.deadSlot = make(map[int]bool)
	ix.idToSlot = make(map[int64]int, len(ids))
	for slot, v := range vecs {
		c := nearestCentroidOf(v, centroids)
		ix.invlists[c] = append(ix.invlists[c], int64(slot))
		ix.idToSlot[ids[slot]] = slot
	}
	ix.nlist = len(centroids)
	ix.nprobe = NProbeFor(ix.nlist)
	ix.trained = true
	return nil
}

func (ix *IVFIndex) nearestCentroid(v []float32) int {
	return nearestCentroidOf(v, ix.centroids)
}

func nearestCentroidOf(v []float32, centroids [][]float32) int {
	best := 0
	bestDist := math.MaxFloat64
	for i, c := range centroids {
		d := euclidean(v, c)
		if d < bestDist {
			bestDist = d
			best = i
		}
	}
	return best
}

func euclidean(a, b []float32) float64 {
	var sum float64
	for i := range a {
		diff := float64(a[i]) - float64(b[i])
		sum += diff * diff
	}
	return math.Sqrt(sum)
}

// kMeans runs k-means++ initialization followed by Lloyd's algorithm,
// same structure as the reference IVF trainer.
func kMeans(vectors [][]float32, k, maxIters int) [][]float32 {
	n := len(vectors)
	centroids := make([][]float32, 0, k)

	first := vectors[0]
	c0 := make([]float32, len(first))
	copy(c0, first)
	centroids = append(centroids, c0)

	for len(centroids) < k {
		distances := make([]float64, n)
		var total float64
		for i, v := range vectors {
			minDist := math.MaxFloat64
			for _, c := range centroids {
				d := euclidean(v, c)
				if d < minDist {
					minDist = d
				}
			}
			distances[i] = minDist * minDist
			total += distances[i]
		}
		if total == 0 {
			// All remaining points coincide with an existing centroid;
			// pad with copies to reach k so invlists indexing stays valid.
			c := make([]float32, len(vectors[0]))
			copy(c, vectors[0])
			centroids = append(centroids, c)
			continue
		}
		target := total * pseudoRandomFraction(len(centroids))
		var cum float64
		chosen := n - 1
		for i, d := range distances {
			cum += d
			if cum >= target {
				chosen = i
				break
			}
		}
		c := make([]float32, len(vectors[chosen]))
		copy(c, vectors[chosen])
		centroids = append(centroids, c)
	}

	for iter := 0; iter < maxIters; iter++ {
		assignments := make([]int, n)
		for i, v := range vectors {
			assignments[i] = nearestCentroidOf(v, centroids)
		}

		sums := make([][]float64, k)
		counts := make([]int, k)
		for i := range sums {
			sums[i] = make([]float64, len(vectors[0]))
		}
		for i, v := range vectors {
			c := assignments[i]
			counts[c]++
			for d, f := range v {
				sums[c][d] += float64(f)
			}
		}

		changed := false
		for c := 0; c < k; c++ {
			if counts[c] == 0 {
				continue
			}
			newCentroid := make([]float32, len(sums[c]))
			for d := range sums[c] {
				newCentroid[d] = float32(sums[c][d] / float64(counts[c]))
			}
			if euclidean(newCentroid, centroids[c]) > 1e-6 {
				changed = true
			}
			centroids[c] = newCentroid
		}
		if !changed {
			break
		}
	}

	return centroids
}

// pseudoRandomFraction deterministically varies k-means++ centroid
// selection across iterations without depending on math/rand (workflow
// scripts that replay this code path must stay reproducible).
func pseudoRandomFraction(iteration int) float64 {
	x := math.Sin(float64(iteration)*12.9898) * 43758.5453
	_, frac := math.Modf(x)
	if frac < 0 {
		frac += 1
	}
	return frac
}

func (ix *IVFIndex) Save(path string) error {
	ix.mu.RLock()
	defer ix.mu.RUnlock()

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create directory: %w", err)
	}

	tmp := path + ".tmp"
	file, err := os.Create(tmp)
	if err != nil {
		return fmt.Errorf("create index file: %w", err)
	}
	meta := ivfMetadata{
		Dimensions: ix.dimensions,
		NList:      ix.nlist,
		NProbe:     ix.nprobe,
		Centroids:  ix.centroids,
		Invlists:   ix.invlists,
		Vectors:    ix.vectors,
		IDs:        ix.ids,
		DeadSlot:   ix.deadSlot,
		Trained:    ix.trained,
	}
	w := bufio.NewWriter(file)
	if err := gob.NewEncoder(w).Encode(meta); err != nil {
		file.Close()
		os.Remove(tmp)
		return fmt.Errorf("encode ivf index: %w", err)
	}
	if err := w.Flush(); err != nil {
		file.Close()
		os.Remove(tmp)
		return fmt.Errorf("flush ivf index: %w", err)
	}
	if err := file.Close(); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("close ivf index file: %w", err)
	}
	return os.Rename(tmp, path)
}

func (ix *IVFIndex) Load(path string) error {
	file, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("open ivf index file: %w", err)
	}
	defer file.Close()

	var meta ivfMetadata
	if err := gob.NewDecoder(bufio.NewReader(file)).Decode(&meta); err != nil {
		return fmt.Errorf("decode ivf index: %w", err)
	}

	ix.mu.Lock()
	defer ix.mu.Unlock()
	if meta.Dimensions != ix.dimensions {
		return ErrDimensionMismatch{Expected: ix.dimensions, Got: meta.Dimensions}
	}
	ix.nlist = meta.NList
	ix.nprobe = meta.NProbe
	ix.centroids = meta.Centroids
	ix.invlists = meta.Invlists
	ix.vectors = meta.Vectors
	ix.ids = meta.IDs
	ix.deadSlot = meta.DeadSlot
	if ix.deadSlot == nil {
		ix.deadSlot = make(map[int]bool)
	}
	ix.trained = meta.Trained
	ix.idToSlot = make(map[int64]int, len(ix.ids))
	for slot, id := range ix.ids {
		if !ix.deadSlot[slot] {
			ix.idToSlot[id] = slot
		}
	}
	return nil
}

func (ix *IVFIndex) Stats() Stats {
	ix.mu.RLock()
	defer ix.mu.RUnlock()
	return Stats{
		Tier:       TierIVFFlat,
		Live:       len(ix.idToSlot),
		Tombstones: len(ix.deadSlot),
		Dimensions: ix.dimensions,
	}
}

func (ix *IVFIndex) Close() error {
	return nil
}
