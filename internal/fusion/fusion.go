// Package fusion combines per-source ranked result lists (text,
// semantic, image, face, metadata) into a single ranking. The RRF
// formula and sort/tie-break chain are generalized from a two-list
// BM25/vector fuser in the reference pack to an arbitrary number of
// named sources. Unlike that reference fuser, a document absent from a
// source contributes nothing from that source — no missing-rank
// penalty term — matching the documented worked fusion example.
package fusion

import "sort"

// Source names one ranked input list.
type Source string

const (
	SourceText     Source = "text"
	SourceSemantic Source = "semantic"
	SourceImage    Source = "image"
	SourceFace     Source = "face"
	SourceMetadata Source = "metadata"
)

// DefaultRRFConstant is RRF's smoothing parameter.
const DefaultRRFConstant = 60

// Weights holds the per-source contribution weight. Defaults match
// the confirmed original values: text 1.0, semantic 0.8, image 0.9,
// face 0.7, metadata 0.5.
type Weights struct {
	Text     float64
	Semantic float64
	Image    float64
	Face     float64
	Metadata float64
}

// DefaultWeights returns the system's default per-source weights.
func DefaultWeights() Weights {
	return Weights{Text: 1.0, Semantic: 0.8, Image: 0.9, Face: 0.7, Metadata: 0.5}
}

func (w Weights) forSource(s Source) float64 {
	switch s {
	case SourceText:
		return w.Text
	case SourceSemantic:
		return w.Semantic
	case SourceImage:
		return w.Image
	case SourceFace:
		return w.Face
	case SourceMetadata:
		return w.Metadata
	default:
		return 0
	}
}

// RankedItem is one entry in a source's ranked list. Rank is 1-indexed;
// Score is that source's native score (cosine similarity, integer
// badge score, etc.) and is preserved for diagnostics/annotations but
// plays no role in RRF itself.
type RankedItem struct {
	ID    int64
	Score float64
}

// SourceContribution records how one source ranked a fused item, for
// response annotations ("metadata union-merged... preserved as
// annotations").
type SourceContribution struct {
	Rank  int
	Score float64
}

// Result is one fused, ranked item.
type Result struct {
	ID          int64
	Score       float64
	PerSource   map[Source]SourceContribution
}

// Method names a fusion algorithm.
type Method string

const (
	MethodRRF         Method = "rrf"
	MethodWeightedSum Method = "weighted_sum"
	MethodBorda       Method = "borda"
)

// DefaultMethodFor implements the default method-selection rule: text
// queries use weighted-sum, every other query type (image, person,
// mixed) uses RRF.
func DefaultMethodFor(queryIsTextOnly bool) Method {
	if queryIsTextOnly {
		return MethodWeightedSum
	}
	return MethodRRF
}

// Fuse dispatches to the selected algorithm, truncates to topK, and
// applies the deterministic tie-break (lower original id first) on
// equal scores. rrfConstant of 0 falls back to DefaultRRFConstant; it
// is ignored by methods other than RRF.
func Fuse(method Method, lists map[Source][]RankedItem, weights Weights, rrfConstant, topK int) []Result {
	switch method {
	case MethodWeightedSum:
		return weightedSum(lists, weights, topK)
	case MethodBorda:
		return borda(lists, weights, topK)
	default:
		if rrfConstant <= 0 {
			rrfConstant = DefaultRRFConstant
		}
		return rrf(lists, weights, rrfConstant, topK)
	}
}

// RRF combines lists using score(d) = sum_t w_t / (k + rank_t(d)),
// summed only over the sources in which d actually appears. A document
// missing from a source simply gets no term for it — not a penalized
// rank — which is what the documented worked fusion example requires.
// Raw (unnormalized) scores are returned — downstream consumers that
// need 0-1 scores normalize explicitly; this keeps the formula's
// arithmetic auditable against that example.
func rrf(lists map[Source][]RankedItem, weights Weights, k, topK int) []Result {
	scores := make(map[int64]*Result)
	for source, items := range lists {
		w := weights.forSource(source)
		for rank, item := range items {
			r := getOrCreate(scores, item.ID)
			r.PerSource[source] = SourceContribution{Rank: rank + 1, Score: item.Score}
			r.Score += w / float64(k+rank+1)
		}
	}
	return sortAndTruncate(scores, topK)
}

// weightedSum min-max normalizes each source's scores to [0,1], then
// sums the weighted normalized scores. Documents absent from a source
// contribute 0 for that source.
func weightedSum(lists map[Source][]RankedItem, weights Weights, topK int) []Result {
	scores := make(map[int64]*Result)
	for source, items := range lists {
		if len(items) == 0 {
			continue
		}
		minScore, maxScore := items[0].Score, items[0].Score
		for _, item := range items {
			if item.Score < minScore {
				minScore = item.Score
			}
			if item.Score > maxScore {
				maxScore = item.Score
			}
		}
		spread := maxScore - minScore
		w := weights.forSource(source)
		for rank, item := range items {
			normalized := 1.0
			if spread > 0 {
				normalized = (item.Score - minScore) / spread
			}
			r := getOrCreate(scores, item.ID)
			r.PerSource[source] = SourceContribution{Rank: rank + 1, Score: item.Score}
			r.Score += w * normalized
		}
	}
	return sortAndTruncate(scores, topK)
}

// borda awards each item w_t * (len(list) - rank) points per source,
// rank 0-indexed internally so the top item gets the full list length.
func borda(lists map[Source][]RankedItem, weights Weights, topK int) []Result {
	scores := make(map[int64]*Result)
	for source, items := range lists {
		w := weights.forSource(source)
		n := len(items)
		for rank, item := range items {
			r := getOrCreate(scores, item.ID)
			r.PerSource[source] = SourceContribution{Rank: rank + 1, Score: item.Score}
			r.Score += w * float64(n-rank)
		}
	}
	return sortAndTruncate(scores, topK)
}

func getOrCreate(m map[int64]*Result, id int64) *Result {
	if r, ok := m[id]; ok {
		return r
	}
	r := &Result{ID: id, PerSource: make(map[Source]SourceContribution)}
	m[id] = r
	return r
}

func sortAndTruncate(m map[int64]*Result, topK int) []Result {
	results := make([]Result, 0, len(m))
	for _, r := range m {
		results = append(results, *r)
	}
	sort.Slice(results, func(i, j int) bool {
		if results[i].Score != results[j].Score {
			return results[i].Score > results[j].Score
		}
		return results[i].ID < results[j].ID // deterministic tie-break
	})
	if topK > 0 && len(results) > topK {
		results = results[:topK]
	}
	return results
}
