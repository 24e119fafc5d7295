package descriptor

import (
	"context"
	"fmt"
	"math"
)

// EmbeddingModel is the inference capability an EmbeddingWorker wraps.
// Model loading/inference themselves are an external collaborator
// (out of scope per this system's ML-model boundary) — this worker
// owns preprocessing, normalization, and the availability contract
// around whatever model implementation is wired in.
type EmbeddingModel interface {
	Embed(ctx context.Context, imagePath string) ([]float32, error)
	Dimensions() int
	Available(ctx context.Context) bool
}

// EmbeddingWorker L2-normalizes whatever an EmbeddingModel produces
// before it reaches the Store or Vector Index — both require unit-norm
// vectors, and a model must never be trusted to emit them pre-
// normalized.
type EmbeddingWorker struct {
	Model     EmbeddingModel
	ModelName string
}

func NewEmbeddingWorker(model EmbeddingModel, modelName string) *EmbeddingWorker {
	return &EmbeddingWorker{Model: model, ModelName: modelName}
}

func (w *EmbeddingWorker) IsAvailable(ctx context.Context) bool {
	return w.Model != nil && w.Model.Available(ctx)
}

func (w *EmbeddingWorker) Embed(ctx context.Context, in Input) ([]float32, error) {
	if !w.IsAvailable(ctx) {
		return nil, fmt.Errorf("embedding model unavailable")
	}
	vec, err := w.Model.Embed(ctx, in.Path)
	if err != nil {
		return nil, fmt.Errorf("embed %q: %w", in.Path, err)
	}
	if err := l2NormalizeInPlace(vec); err != nil {
		return nil, fmt.Errorf("normalize embedding for %q: %w", in.Path, err)
	}
	return vec, nil
}

func l2NormalizeInPlace(v []float32) error {
	var sumSquares float64
	for _, f := range v {
		if math.IsNaN(float64(f)) || math.IsInf(float64(f), 0) {
			return fmt.Errorf("vector contains NaN or Inf")
		}
		sumSquares += float64(f) * float64(f)
	}
	if sumSquares == 0 {
		return fmt.Errorf("vector has zero norm")
	}
	inv := float32(1.0 / math.Sqrt(sumSquares))
	for i := range v {
		v[i] *= inv
	}
	return nil
}

// UnavailableEmbeddingModel is a deterministic stand-in used when no
// real model is configured: Available always reports false so the
// orchestrator records the phase as skipped rather than attempting and
// failing every photo.
type UnavailableEmbeddingModel struct{ Dims int }

func (m UnavailableEmbeddingModel) Embed(ctx context.Context, imagePath string) ([]float32, error) {
	return nil, fmt.Errorf("no embedding model configured")
}
func (m UnavailableEmbeddingModel) Dimensions() int            { return m.Dims }
func (m UnavailableEmbeddingModel) Available(ctx context.Context) bool { return false }
