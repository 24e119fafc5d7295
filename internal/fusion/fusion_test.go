package fusion

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestRRF_ReproducesDocumentedWorkedExample(t *testing.T) {
	// text=[A,B,C], semantic=[B,C,D], k=60, default weights, top_k=3
	// -> order B, C, A (documented worked fusion scenario).
	const (
		a int64 = 1
		b int64 = 2
		c int64 = 3
		d int64 = 4
	)
	lists := map[Source][]RankedItem{
		SourceText:     {{ID: a, Score: 3}, {ID: b, Score: 2}, {ID: c, Score: 1}},
		SourceSemantic: {{ID: b, Score: 3}, {ID: c, Score: 2}, {ID: d, Score: 1}},
	}

	results := Fuse(MethodRRF, lists, DefaultWeights(), 0, 3)

	require.Len(t, results, 3)
	require.Equal(t, []int64{b, c, a}, []int64{results[0].ID, results[1].ID, results[2].ID})

	require.InDelta(t, 1.0/61.0, results[2].Score, 1e-9) // A: text-only, rank 1
	require.InDelta(t, 1.0/62.0+0.8/61.0, results[0].Score, 1e-9) // B: text rank2, semantic rank1
	require.InDelta(t, 1.0/63.0+0.8/62.0, results[1].Score, 1e-9) // C: text rank3, semantic rank2
}

func TestRRF_DocumentAbsentFromAllButOneListGetsNoMissingPenalty(t *testing.T) {
	lists := map[Source][]RankedItem{
		SourceText: {{ID: 1, Score: 1}},
	}
	results := Fuse(MethodRRF, lists, DefaultWeights(), 0, 0)
	require.Len(t, results, 1)
	require.InDelta(t, 1.0/61.0, results[0].Score, 1e-9)
}

func TestRRF_SingleListIdentity(t *testing.T) {
	lists := map[Source][]RankedItem{
		SourceText: {{ID: 10, Score: 5}, {ID: 20, Score: 3}, {ID: 30, Score: 1}},
	}
	results := Fuse(MethodRRF, lists, DefaultWeights(), 0, 0)
	require.Equal(t, []int64{10, 20, 30}, []int64{results[0].ID, results[1].ID, results[2].ID})
}

func TestRRF_DeterministicTieBreakLowerIDFirst(t *testing.T) {
	// Equal weights make ids 2 and 5 tie at 1/61 + 1/62.
	lists := map[Source][]RankedItem{
		SourceText:     {{ID: 5, Score: 1}, {ID: 2, Score: 1}},
		SourceSemantic: {{ID: 2, Score: 1}, {ID: 5, Score: 1}},
	}
	results := Fuse(MethodRRF, lists, Weights{Text: 1.0, Semantic: 1.0}, 0, 0)
	require.Equal(t, int64(2), results[0].ID)
	require.Equal(t, int64(5), results[1].ID)
}

func TestFuse_OutputOnlyContainsIDsPresentInSomeInput(t *testing.T) {
	lists := map[Source][]RankedItem{
		SourceText:     {{ID: 1, Score: 1}, {ID: 2, Score: 1}},
		SourceSemantic: {{ID: 3, Score: 1}},
	}
	results := Fuse(MethodRRF, lists, DefaultWeights(), 0, 0)
	ids := make(map[int64]bool)
	for _, r := range results {
		ids[r.ID] = true
	}
	require.True(t, ids[1])
	require.True(t, ids[2])
	require.True(t, ids[3])
	require.Len(t, results, 3)
}

func TestFuse_RespectsTopK(t *testing.T) {
	lists := map[Source][]RankedItem{
		SourceText: {{ID: 1, Score: 1}, {ID: 2, Score: 1}, {ID: 3, Score: 1}},
	}
	results := Fuse(MethodRRF, lists, DefaultWeights(), 0, 2)
	require.Len(t, results, 2)
}

func TestWeightedSum_IsPermutationInvariantInInputOrder(t *testing.T) {
	weights := DefaultWeights()
	forward := map[Source][]RankedItem{
		SourceText:     {{ID: 1, Score: 10}, {ID: 2, Score: 5}, {ID: 3, Score: 1}},
		SourceSemantic: {{ID: 2, Score: 9}, {ID: 1, Score: 4}, {ID: 3, Score: 0}},
	}
	reversed := map[Source][]RankedItem{
		SourceText:     {{ID: 3, Score: 1}, {ID: 2, Score: 5}, {ID: 1, Score: 10}},
		SourceSemantic: {{ID: 3, Score: 0}, {ID: 1, Score: 4}, {ID: 2, Score: 9}},
	}

	a := Fuse(MethodWeightedSum, forward, weights, 0, 0)
	b := Fuse(MethodWeightedSum, reversed, weights, 0, 0)

	require.Equal(t, len(a), len(b))
	scoreByID := make(map[int64]float64)
	for _, r := range a {
		scoreByID[r.ID] = r.Score
	}
	for _, r := range b {
		require.InDelta(t, scoreByID[r.ID], r.Score, 1e-9)
	}
}

func TestBorda_TopItemGetsFullListLengthPoints(t *testing.T) {
	lists := map[Source][]RankedItem{
		SourceText: {{ID: 1, Score: 1}, {ID: 2, Score: 1}, {ID: 3, Score: 1}},
	}
	results := Fuse(MethodBorda, lists, DefaultWeights(), 0, 0)
	require.Equal(t, int64(1), results[0].ID)
	require.InDelta(t, 3.0, results[0].Score, 1e-9)
	require.InDelta(t, 2.0, results[1].Score, 1e-9)
	require.InDelta(t, 1.0, results[2].Score, 1e-9)
}

func TestDefaultMethodFor_TextOnlyUsesWeightedSum(t *testing.T) {
	require.Equal(t, MethodWeightedSum, DefaultMethodFor(true))
	require.Equal(t, MethodRRF, DefaultMethodFor(false))
}
