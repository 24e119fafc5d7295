package descriptor

import (
	"context"
	"fmt"

	"github.com/localphoto/photovault/internal/store"
)

// FaceModel detects faces and embeds each one. Like EmbeddingModel,
// the detector/embedder implementation is an external collaborator;
// this worker owns the opt-in gate, batch partial-failure semantics,
// and normalization of whatever the model returns.
type FaceModel interface {
	Detect(ctx context.Context, imagePath string) ([]DetectedFace, error)
	Available(ctx context.Context) bool
}

// DetectedFace is one raw detection before it's attached to a PhotoID.
type DetectedFace struct {
	X1, Y1, X2, Y2 float64
	Vec            []float32
	Confidence     float64
}

// FaceWorker is opt-in: face_search_enabled defaults to false, and
// when disabled IsAvailable reports false, so the pipeline skips the
// face phase; when enabled it reflects the underlying model's state.
type FaceWorker struct {
	Model   FaceModel
	Enabled bool
}

func NewFaceWorker(model FaceModel, enabled bool) *FaceWorker {
	return &FaceWorker{Model: model, Enabled: enabled}
}

func (w *FaceWorker) IsAvailable(ctx context.Context) bool {
	return w.Enabled && w.Model != nil && w.Model.Available(ctx)
}

// Detect returns the faces found in in.Path, normalizing each face's
// embedding. A detection whose embedding is degenerate (zero-norm,
// NaN/Inf) is dropped rather than aborting the whole photo — batch
// partial failure must never abort the run.
func (w *FaceWorker) Detect(ctx context.Context, in Input) ([]*store.Face, error) {
	if !w.IsAvailable(ctx) {
		return nil, fmt.Errorf("face model unavailable or disabled")
	}
	detections, err := w.Model.Detect(ctx, in.Path)
	if err != nil {
		return nil, fmt.Errorf("detect faces in %q: %w", in.Path, err)
	}

	faces := make([]*store.Face, 0, len(detections))
	for _, d := range detections {
		vec := append([]float32(nil), d.Vec...)
		if err := l2NormalizeInPlace(vec); err != nil {
			continue
		}
		faces = append(faces, &store.Face{
			PhotoID:    in.PhotoID,
			X1:         d.X1,
			Y1:         d.Y1,
			X2:         d.X2,
			Y2:         d.Y2,
			Vec:        vec,
			Confidence: d.Confidence,
		})
	}
	return faces, nil
}

// UnavailableFaceModel is the default when no detector is configured.
type UnavailableFaceModel struct{}

func (UnavailableFaceModel) Detect(ctx context.Context, imagePath string) ([]DetectedFace, error) {
	return nil, fmt.Errorf("no face model configured")
}
func (UnavailableFaceModel) Available(ctx context.Context) bool { return false }
