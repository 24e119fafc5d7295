package vectorindex

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestIVFPQIndex_RebuildThenSearch_RecoversApproximateNeighbor(t *testing.T) {
	ctx := context.Background()
	dims := 64 // PQSubQuantizers=64, subDim=1 for this test's small dimension
	vectors := syntheticVectors(500, dims)

	idx := NewIVFPQIndex(dims, NListFor(len(vectors)))
	require.NoError(t, idx.RebuildFrom(ctx, vectors))
	require.Equal(t, len(vectors), idx.Stats().Live)

	query := vectors[42]
	results, err := idx.Search(ctx, query, 5, -1)
	require.NoError(t, err)
	require.NotEmpty(t, results)

	found := false
	for _, r := range results {
		if r.ID == 42 {
			found = true
		}
	}
	require.True(t, found, "exact vector should recover itself under PQ approximation")
}

func TestIVFPQIndex_Remove_IsLazyTombstone(t *testing.T) {
	ctx := context.Background()
	dims := 64
	vectors := syntheticVectors(300, dims)
	idx := NewIVFPQIndex(dims, NListFor(len(vectors)))
	require.NoError(t, idx.RebuildFrom(ctx, vectors))

	require.NoError(t, idx.Remove(ctx, []int64{7}))
	require.Equal(t, 1, idx.Stats().Tombstones)

	results, err := idx.Search(ctx, vectors[7], 20, -1)
	require.NoError(t, err)
	for _, r := range results {
		require.NotEqual(t, int64(7), r.ID)
	}
}

func TestIVFPQIndex_SaveLoad_RoundTrips(t *testing.T) {
	ctx := context.Background()
	dims := 64
	vectors := syntheticVectors(200, dims)
	idx := NewIVFPQIndex(dims, NListFor(len(vectors)))
	require.NoError(t, idx.RebuildFrom(ctx, vectors))

	path := filepath.Join(t.TempDir(), "ivfpq.bin")
	require.NoError(t, idx.Save(path))

	loaded := NewIVFPQIndex(dims, NListFor(len(vectors)))
	require.NoError(t, loaded.Load(path))
	require.Equal(t, idx.Stats().Live, loaded.Stats().Live)
}

func TestIVFPQIndex_Add_RequiresTraining(t *testing.T) {
	ctx := context.Background()
	idx := NewIVFPQIndex(64, 100)
	err := idx.Add(ctx, []int64{1}, [][]float32{make([]float32, 64)})
	require.Error(t, err)
}
