// Package query implements the five read-side search operations
// (Text, Semantic, Image, Face, ReversePhoto) over the Store and
// Vector Index. The soft-deadline/partial-result shape and the
// nil-dependency validation on construction are modeled on
// internal/search/engine.go's NewEngine/Search; the concurrent
// embed-then-search-then-join pipeline generalizes its
// parallelSearch/enrichResults pair from "BM25 + vector" to a single
// vector lookup followed by a Store metadata join.
package query

import (
	"bytes"
	"context"
	"image"
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"
	"math"
	"sort"
	"time"

	"github.com/localphoto/photovault/internal/apperr"
	"github.com/localphoto/photovault/internal/fusion"
	"github.com/localphoto/photovault/internal/store"
	"github.com/localphoto/photovault/internal/vectorindex"
)

// DefaultQueryDeadline is the soft per-query time budget; past it the
// engine returns whatever results it has with Truncated set, rather
// than failing the request.
const DefaultQueryDeadline = 5 * time.Second

// TextEmbedder encodes a free-text prompt for semantic search.
type TextEmbedder interface {
	EmbedText(ctx context.Context, text string) ([]float32, error)
	Available(ctx context.Context) bool
}

// ImageEmbedder encodes raw uploaded image bytes for image search.
type ImageEmbedder interface {
	EmbedImageBytes(ctx context.Context, data []byte) ([]float32, error)
	Available(ctx context.Context) bool
}

// Item is one ranked result row, carrying per-source badges per
// spec.md's {file_id, path, folder, filename, thumb_path, shot_dt,
// score, badges} shape.
type Item struct {
	FileID    int64
	Path      string
	Folder    string
	Filename  string
	ThumbPath string
	ShotDT    *time.Time
	Score     float64
	Badges    []store.Badge
}

// Result wraps a ranked item list with the soft-deadline outcome.
type Result struct {
	Items      []Item
	Truncated  bool
	TookMillis int64
}

// Engine implements the five query operations plus Combined, which
// fuses Text and Semantic result lists through internal/fusion.
type Engine struct {
	store        store.MetadataStore
	vectorIndex  *vectorindex.Manager
	textEncoder  TextEmbedder
	imageEncoder ImageEmbedder
	deadline     time.Duration
	fusionMethod fusion.Method
	rrfConstant  int
	weights      fusion.Weights
}

// Config configures non-required Engine behavior.
type Config struct {
	QueryDeadline time.Duration  // 0 = DefaultQueryDeadline
	FusionMethod  fusion.Method  // "" = DefaultMethodFor per query
	RRFConstant   int            // 0 = fusion.DefaultRRFConstant
	FusionWeights fusion.Weights // zero value = fusion.DefaultWeights()
}

// New validates dependencies and returns an Engine, mirroring the
// teacher's NewEngine nil-dependency checks.
func New(s store.MetadataStore, vi *vectorindex.Manager, textEncoder TextEmbedder, imageEncoder ImageEmbedder, cfg Config) (*Engine, error) {
	if s == nil {
		return nil, apperr.Invalidf("metadata store is required")
	}
	if vi == nil {
		return nil, apperr.Invalidf("vector index is required")
	}
	deadline := cfg.QueryDeadline
	if deadline <= 0 {
		deadline = DefaultQueryDeadline
	}
	rrfConstant := cfg.RRFConstant
	if rrfConstant <= 0 {
		rrfConstant = fusion.DefaultRRFConstant
	}
	weights := cfg.FusionWeights
	if weights == (fusion.Weights{}) {
		weights = fusion.DefaultWeights()
	}
	return &Engine{
		store:        s,
		vectorIndex:  vi,
		textEncoder:  textEncoder,
		imageEncoder: imageEncoder,
		deadline:     deadline,
		fusionMethod: cfg.FusionMethod,
		rrfConstant:  rrfConstant,
		weights:      weights,
	}, nil
}

func (e *Engine) withDeadline(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, e.deadline)
}

// Text delegates straight to the Store's text-query cascade (§4.1).
func (e *Engine) Text(ctx context.Context, q string, filters store.TextQueryFilters, limit, offset int) (*Result, error) {
	start := time.Now()
	ctx, cancel := e.withDeadline(ctx)
	defer cancel()

	resp, err := e.store.TextQuery(ctx, q, filters, limit, offset)
	if err != nil {
		if ctx.Err() == context.DeadlineExceeded {
			return &Result{Truncated: true, TookMillis: time.Since(start).Milliseconds()}, nil
		}
		return nil, apperr.Wrap(apperr.Storage, "text query", err)
	}

	items := make([]Item, 0, len(resp.Items))
	for _, r := range resp.Items {
		items = append(items, itemFromPhoto(r.Photo, float64(r.Score), r.Badges))
	}
	return &Result{Items: items, TookMillis: time.Since(start).Milliseconds()}, nil
}

// Semantic encodes a text prompt, searches the Vector Index, and
// joins Photo metadata from the Store. Returns a service-unavailable
// error if no embedding model is configured or the index is empty.
func (e *Engine) Semantic(ctx context.Context, textPrompt string, topK int) (*Result, error) {
	start := time.Now()
	if e.textEncoder == nil || !e.textEncoder.Available(ctx) {
		return nil, apperr.Unavailablef("no text embedding model configured")
	}
	if e.vectorIndex.Stats().Live == 0 {
		return nil, apperr.Unavailablef("vector index is empty")
	}

	ctx, cancel := e.withDeadline(ctx)
	defer cancel()

	vec, err := e.textEncoder.EmbedText(ctx, textPrompt)
	if err != nil {
		return nil, apperr.Wrap(apperr.Unavailable, "embed text prompt", err)
	}
	return e.searchAndJoin(ctx, vec, topK, store.BadgeFilename, start)
}

// Image decodes uploaded bytes, rejecting anything that isn't a
// recognized image mime type, then embeds and searches like Semantic.
func (e *Engine) Image(ctx context.Context, data []byte, topK int) (*Result, error) {
	start := time.Now()
	if _, _, err := image.DecodeConfig(bytes.NewReader(data)); err != nil {
		return nil, apperr.Invalidf("uploaded data is not a recognized image: %v", err)
	}
	if e.imageEncoder == nil || !e.imageEncoder.Available(ctx) {
		return nil, apperr.Unavailablef("no image embedding model configured")
	}

	ctx, cancel := e.withDeadline(ctx)
	defer cancel()

	vec, err := e.imageEncoder.EmbedImageBytes(ctx, data)
	if err != nil {
		return nil, apperr.Wrap(apperr.Unavailable, "embed uploaded image", err)
	}
	return e.searchAndJoin(ctx, vec, topK, store.BadgeFilename, start)
}

// ReversePhoto looks up a photo's own stored embedding and runs a
// vector search excluding itself.
func (e *Engine) ReversePhoto(ctx context.Context, photoID int64, topK int) (*Result, error) {
	start := time.Now()
	ctx, cancel := e.withDeadline(ctx)
	defer cancel()

	emb, err := e.store.GetEmbedding(ctx, photoID)
	if err != nil {
		return nil, apperr.NotFoundf("photo %d has no stored embedding: %v", photoID, err)
	}

	results, err := e.vectorIndex.Search(ctx, emb.Vec, topK+1, 0)
	if err != nil {
		if ctx.Err() == context.DeadlineExceeded {
			return &Result{Truncated: true, TookMillis: time.Since(start).Milliseconds()}, nil
		}
		return nil, apperr.Wrap(apperr.Storage, "reverse photo search", err)
	}

	items := make([]Item, 0, len(results))
	for _, r := range results {
		if r.ID == photoID {
			continue
		}
		item, err := e.joinPhoto(ctx, r.ID, float64(r.Score))
		if err != nil {
			continue
		}
		items = append(items, item)
		if len(items) >= topK {
			break
		}
	}
	return &Result{Items: items, TookMillis: time.Since(start).Milliseconds()}, nil
}

// Face requires face search to be enabled, loads the Person's
// averaged vector, ranks stored Face vectors by cosine similarity,
// and returns photos grouped by their single best-matching face.
func (e *Engine) Face(ctx context.Context, personID int64, topK int) (*Result, error) {
	start := time.Now()
	enabled, _, err := e.store.GetSetting(ctx, store.SettingFaceSearchEnabled)
	if err != nil || enabled != "true" {
		return nil, apperr.Forbiddenf("face search is disabled")
	}

	ctx, cancel := e.withDeadline(ctx)
	defer cancel()

	person, err := e.store.GetPerson(ctx, personID)
	if err != nil {
		return nil, apperr.NotFoundf("person %d not found: %v", personID, err)
	}

	faces, err := e.store.ListAllFaces(ctx)
	if err != nil {
		return nil, apperr.Wrap(apperr.Storage, "list faces", err)
	}

	bestByPhoto := make(map[int64]float64)
	for _, f := range faces {
		if ctx.Err() != nil {
			return &Result{Truncated: true, TookMillis: time.Since(start).Milliseconds()}, nil
		}
		sim := cosineSimilarity(person.Vec, f.Vec)
		if prior, ok := bestByPhoto[f.PhotoID]; !ok || sim > prior {
			bestByPhoto[f.PhotoID] = sim
		}
	}

	type ranked struct {
		photoID int64
		score   float64
	}
	rankedPhotos := make([]ranked, 0, len(bestByPhoto))
	for id, score := range bestByPhoto {
		rankedPhotos = append(rankedPhotos, ranked{id, score})
	}
	sort.Slice(rankedPhotos, func(i, j int) bool {
		if rankedPhotos[i].score != rankedPhotos[j].score {
			return rankedPhotos[i].score > rankedPhotos[j].score
		}
		return rankedPhotos[i].photoID < rankedPhotos[j].photoID
	})
	if topK > 0 && len(rankedPhotos) > topK {
		rankedPhotos = rankedPhotos[:topK]
	}

	items := make([]Item, 0, len(rankedPhotos))
	for _, r := range rankedPhotos {
		item, err := e.joinPhoto(ctx, r.photoID, r.score)
		if err != nil {
			continue
		}
		item.Badges = []store.Badge{store.BadgeFilename}
		items = append(items, item)
	}
	return &Result{Items: items, TookMillis: time.Since(start).Milliseconds()}, nil
}

// Combined runs Text then Semantic and fuses their ranked lists
// through internal/fusion, generalizing the "BM25 + vector fused by
// RRF" shape to "Store cascade + vector, fused by the configured
// method." If Semantic can't run (no embedder configured, or the
// search itself errors), Combined degrades gracefully: it returns the
// Text result alone, truncated to topK, rather than failing.
func (e *Engine) Combined(ctx context.Context, textPrompt string, filters store.TextQueryFilters, topK int) (*Result, error) {
	start := time.Now()

	textRes, err := e.Text(ctx, textPrompt, filters, topK, 0)
	if err != nil {
		return nil, err
	}

	semanticAvailable := e.textEncoder != nil && e.textEncoder.Available(ctx)
	if !semanticAvailable {
		return truncatedCombined(textRes, topK, start), nil
	}

	semanticRes, err := e.Semantic(ctx, textPrompt, topK)
	if err != nil {
		return truncatedCombined(textRes, topK, start), nil
	}

	lists := map[fusion.Source][]fusion.RankedItem{
		fusion.SourceText:     rankedItemsFrom(textRes),
		fusion.SourceSemantic: rankedItemsFrom(semanticRes),
	}
	method := e.fusionMethod
	if method == "" {
		method = fusion.DefaultMethodFor(false)
	}
	fused := fusion.Fuse(method, lists, e.weights, e.rrfConstant, topK)

	byID := make(map[int64]Item, len(textRes.Items)+len(semanticRes.Items))
	for _, it := range textRes.Items {
		byID[it.FileID] = it
	}
	for _, it := range semanticRes.Items {
		if existing, ok := byID[it.FileID]; ok {
			existing.Badges = append(existing.Badges, it.Badges...)
			byID[it.FileID] = existing
		} else {
			byID[it.FileID] = it
		}
	}

	items := make([]Item, 0, len(fused))
	for _, r := range fused {
		item := byID[r.ID]
		item.Score = r.Score
		items = append(items, item)
	}
	return &Result{
		Items:      items,
		Truncated:  textRes.Truncated || semanticRes.Truncated,
		TookMillis: time.Since(start).Milliseconds(),
	}, nil
}

func rankedItemsFrom(r *Result) []fusion.RankedItem {
	out := make([]fusion.RankedItem, 0, len(r.Items))
	for _, it := range r.Items {
		out = append(out, fusion.RankedItem{ID: it.FileID, Score: it.Score})
	}
	return out
}

func truncatedCombined(r *Result, topK int, start time.Time) *Result {
	items := r.Items
	if topK > 0 && len(items) > topK {
		items = items[:topK]
	}
	return &Result{Items: items, Truncated: r.Truncated, TookMillis: time.Since(start).Milliseconds()}
}

func (e *Engine) searchAndJoin(ctx context.Context, vec []float32, topK int, badge store.Badge, start time.Time) (*Result, error) {
	results, err := e.vectorIndex.Search(ctx, vec, topK, 0)
	if err != nil {
		if ctx.Err() == context.DeadlineExceeded {
			return &Result{Truncated: true, TookMillis: time.Since(start).Milliseconds()}, nil
		}
		return nil, apperr.Wrap(apperr.Storage, "vector search", err)
	}

	items := make([]Item, 0, len(results))
	truncated := false
	for _, r := range results {
		if ctx.Err() != nil {
			truncated = true
			break
		}
		item, err := e.joinPhoto(ctx, r.ID, float64(r.Score))
		if err != nil {
			continue
		}
		item.Badges = []store.Badge{badge}
		items = append(items, item)
	}
	return &Result{Items: items, Truncated: truncated, TookMillis: time.Since(start).Milliseconds()}, nil
}

func (e *Engine) joinPhoto(ctx context.Context, photoID int64, score float64) (Item, error) {
	p, err := e.store.GetPhoto(ctx, photoID)
	if err != nil {
		return Item{}, err
	}
	item := itemFromPhoto(p, score, nil)
	if thumb, err := e.store.GetThumbnail(ctx, photoID); err == nil {
		item.ThumbPath = thumb.RelPath
	}
	return item, nil
}

// itemFromPhoto builds an Item from a Photo row. ShotDT is left nil
// here; callers that need it join the ExifRecord separately since not
// every query path (e.g. Face) needs capture time.
func itemFromPhoto(p *store.Photo, score float64, badges []store.Badge) Item {
	if p == nil {
		return Item{Score: score, Badges: badges}
	}
	return Item{
		FileID:   p.ID,
		Path:     p.Path,
		Folder:   p.Folder,
		Filename: p.Filename,
		Score:    score,
		Badges:   badges,
	}
}

func cosineSimilarity(a, b []float32) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return -1
	}
	var dot, normA, normB float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		normA += float64(a[i]) * float64(a[i])
		normB += float64(b[i]) * float64(b[i])
	}
	if normA == 0 || normB == 0 {
		return -1
	}
	return dot / (math.Sqrt(normA) * math.Sqrt(normB))
}
