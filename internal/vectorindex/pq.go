package vectorindex

import (
	"bufio"
	"context"
	"encoding/gob"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
)

// pqCodebookSize is 2^PQBitsPerCode entries per sub-quantizer.
const pqCodebookSize = 1 << PQBitsPerCode

// IVFPQIndex is the N > 200,000 tier: coarse IVF quantization over
// nlist inverted lists, plus product quantization of each residing
// vector into PQSubQuantizers byte codes so the resident set fits in
// memory at scale. Coarse assignment and the k-means trainer are
// shared with IVFIndex; only per-vector storage and scoring differ.
type IVFPQIndex struct {
	mu sync.RWMutex

	dimensions int
	subDim     int
	nlist      int
	nprobe     int

	centroids [][]float32
	codebooks [][][]float32 // [subQuantizer][code] -> subDim-length centroid

	invlists [][]int64 // centroid -> slot indices
	codes    [][]byte  // slot -> PQSubQuantizers codes
	ids      []int64
	deadSlot map[int]bool
	idToSlot map[int64]int

	trained bool
}

type ivfpqMetadata struct {
	Dimensions int
	SubDim     int
	NList      int
	NProbe     int
	Centroids  [][]float32
	Codebooks  [][][]float32
	Invlists   [][]int64
	Codes      [][]byte
	IDs        []int64
	DeadSlot   map[int]bool
	Trained    bool
}

// NewIVFPQIndex creates an untrained IVF-PQ index. dimensions must be
// divisible by PQSubQuantizers.
func NewIVFPQIndex(dimensions, nlist int) *IVFPQIndex {
	subDim := dimensions / PQSubQuantizers
	if subDim < 1 {
		subDim = 1
	}
	return &IVFPQIndex{
		dimensions: dimensions,
		subDim:     subDim,
		nlist:      nlist,
		nprobe:     NProbeFor(nlist),
		invlists:   make([][]int64, nlist),
		deadSlot:   make(map[int]bool),
		idToSlot:   make(map[int64]int),
	}
}

var _ Index = (*IVFPQIndex)(nil)

func (ix *IVFPQIndex) Add(ctx context.Context, ids []int64, vectors [][]float32) error {
	if len(ids) != len(vectors) {
		return fmt.Errorf("ids and vectors length mismatch: %d vs %d", len(ids), len(vectors))
	}
	ix.mu.Lock()
	defer ix.mu.Unlock()
	if !ix.trained {
		return fmt.Errorf("ivf-pq index not trained")
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

		centroid := nearestCentroidOf(v, ix.centroids)
		code := ix.encode(v)
		slot := len(ix.codes)
		ix.codes = append(ix.codes, code)
		ix.ids = append(ix.ids, id)
		ix.invlists[centroid] = append(ix.invlists[centroid], int64(slot))
		ix.idToSlot[id] = slot
	}
	return nil
}

func (ix *IVFPQIndex) Remove(ctx context.Context, ids []int64) error {
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

// encode quantizes v into one byte code per sub-quantizer using
// nearest-centroid lookup in that sub-quantizer's codebook.
func (ix *IVFPQIndex) encode(v []float32) []byte {
	codes := make([]byte, PQSubQuantizers)
	for q := 0; q < PQSubQuantizers; q++ {
		seg := v[q*ix.subDim : (q+1)*ix.subDim]
		best := 0
		bestDist := euclidean(seg, ix.codebooks[q][0])
		for c := 1; c < len(ix.codebooks[q]); c++ {
			d := euclidean(seg, ix.codebooks[q][c])
			if d < bestDist {
				bestDist = d
				best = c
			}
		}
		codes[q] = byte(best)
	}
	return codes
}

// adcTable precomputes, for a query vector, the inner product between
// each query segment and every codebook entry for that segment —
// asymmetric distance computation, avoiding per-candidate decoding.
func (ix *IVFPQIndex) adcTable(q []float32) [][]float32 {
	table := make([][]float32, PQSubQuantizers)
	for seg := 0; seg < PQSubQuantizers; seg++ {
		qseg := q[seg*ix.subDim : (seg+1)*ix.subDim]
		table[seg] = make([]float32, len(ix.codebooks[seg]))
		for c, centroid := range ix.codebooks[seg] {
			table[seg][c] = innerProduct(qseg, centroid)
		}
	}
	return table
}

func (ix *IVFPQIndex) scoreCode(table [][]float32, code []byte) float32 {
	var sum float32
	for seg, c := range code {
		sum += table[seg][c]
	}
	return sum
}

func (ix *IVFPQIndex) Search(ctx context.Context, query []float32, k int, minScore float32) ([]Result, error) {
	ix.mu.RLock()
	defer ix.mu.RUnlock()
	if !ix.trained {
		return nil, fmt.Errorf("ivf-pq index not trained")
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

	table := ix.adcTable(q)
	candidates := make([]Result, 0, k*4)
	for p := 0; p < nprobe; p++ {
		for _, slot := range ix.invlists[cds[p].idx] {
			s := int(slot)
			if ix.deadSlot[s] {
				continue
			}
			score := ix.scoreCode(table, ix.codes[s])
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

func (ix *IVFPQIndex) BatchSearch(ctx context.Context, queries [][]float32, k int, minScore float32) ([][]Result, error) {
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

// RebuildFrom trains coarse centroids plus one k-means codebook per
// sub-quantizer segment over the given live vectors, then re-encodes
// and re-populates every inverted list from scratch.
func (ix *IVFPQIndex) RebuildFrom(ctx context.Context, vectors map[int64][]float32) error {
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

	if len(vecs) == 0 {
		ix.trained = false
		return nil
	}

	nlist := ix.nlist
	if nlist > len(vecs) {
		nlist = len(vecs)
	}
	centroids := kMeans(vecs, nlist, 20)

	codebookSize := pqCodebookSize
	codebooks := make([][][]float32, PQSubQuantizers)
	for seg := 0; seg < PQSubQuantizers; seg++ {
		segVecs := make([][]float32, len(vecs))
		for i, v := range vecs {
			segVecs[i] = v[seg*ix.subDim : (seg+1)*ix.subDim]
		}
		size := codebookSize
		if size > len(segVecs) {
			size = len(segVecs)
		}
		codebooks[seg] = kMeans(segVecs, size, 15)
	}

	ix.centroids = centroids
	ix.codebooks = codebooks
	ix.invlists = make([][]int64, len(centroids))
	ix.ids = ids
	ix.codes = make([][]byte, len(vecs))
	ix.deadSlot = make(map[int]bool)
	ix.idToSlot = make(map[int64]int, len(ids))

	for slot, v := range vecs {
		code := ix.encode(v)
		ix.codes[slot] = code
		c := nearestCentroidOf(v, centroids)
		ix.invlists[c] = append(ix.invlists[c], int64(slot))
		ix.idToSlot[ids[slot]] = slot
	}
	ix.nlist = len(centroids)
	ix.nprobe = NProbeFor(ix.nlist)
	ix.trained = true
	return nil
}

func (ix *IVFPQIndex) Save(path string) error {
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
	meta := ivfpqMetadata{
		Dimensions: ix.dimensions,
		SubDim:     ix.subDim,
		NList:      ix.nlist,
		NProbe:     ix.nprobe,
		Centroids:  ix.centroids,
		Codebooks:  ix.codebooks,
		Invlists:   ix.invlists,
		Codes:      ix.codes,
		IDs:        ix.ids,
		DeadSlot:   ix.deadSlot,
		Trained:    ix.trained,
	}
	w := bufio.NewWriter(file)
	if err := gob.NewEncoder(w).Encode(meta); err != nil {
		file.Close()
		os.Remove(tmp)
		return fmt.Errorf("encode ivf-pq index: %w", err)
	}
	if err := w.Flush(); err != nil {
		file.Close()
		os.Remove(tmp)
		return fmt.Errorf("flush ivf-pq index: %w", err)
	}
	if err := file.Close(); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("close ivf-pq index file: %w", err)
	}
	return os.Rename(tmp, path)
}

func (ix *IVFPQIndex) Load(path string) error {
	file, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("open ivf-pq index file: %w", err)
	}
	defer file.Close()

	var meta ivfpqMetadata
	if err := gob.NewDecoder(bufio.NewReader(file)).Decode(&meta); err != nil {
		return fmt.Errorf("decode ivf-pq index: %w", err)
	}

	ix.mu.Lock()
	defer ix.mu.Unlock()
	if meta.Dimensions != ix.dimensions {
		return ErrDimensionMismatch{Expected: ix.dimensions, Got: meta.Dimensions}
	}
	ix.subDim = meta.SubDim
	ix.nlist = meta.NList
	ix.nprobe = meta.NProbe
	ix.centroids = meta.Centroids
	ix.codebooks = meta.Codebooks
	ix.invlists = meta.Invlists
	ix.codes = meta.Codes
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

func (ix *IVFPQIndex) Stats() Stats {
	ix.mu.RLock()
	defer ix.mu.RUnlock()
	return Stats{
		Tier:       TierIVFPQ,
		Live:       len(ix.idToSlot),
		Tombstones: len(ix.deadSlot),
		Dimensions: ix.dimensions,
	}
}

func (ix *IVFPQIndex) Close() error {
	return nil
}
