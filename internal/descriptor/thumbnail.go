package descriptor

import (
	"bytes"
	"context"
	"fmt"
	"image"
	"image/jpeg"
	"image/png"
	"os"
	"path/filepath"
	"time"

	"golang.org/x/image/draw"

	"github.com/localphoto/photovault/internal/store"
)

// MaxThumbnailEdge bounds the longest side of a generated thumbnail.
const MaxThumbnailEdge = 256

// ThumbnailWorker decodes a source image, downscales it preserving
// aspect ratio, and writes it under a content-addressed cache path
// ({sha1[0:2]}/{sha1[2:4]}/{sha1}.{ext}). HEIC sources are recorded as
// skipped, not failed: this worker only registers a JPEG/PNG decoder,
// mirroring the teacher's graceful-unavailable-capability idiom rather
// than hand-rolling a HEIF decoder from scratch.
type ThumbnailWorker struct {
	CacheDir string
}

func NewThumbnailWorker(cacheDir string) *ThumbnailWorker {
	return &ThumbnailWorker{CacheDir: cacheDir}
}

func (w *ThumbnailWorker) IsAvailable(ctx context.Context) bool { return true }

// CanDecode reports whether this worker's registered decoders can
// handle the given source extension. HEIC inputs return false so the
// caller can record a non-fatal skip instead of attempting decode.
func (w *ThumbnailWorker) CanDecode(ext string) bool {
	switch ext {
	case "jpg", "jpeg", "png":
		return true
	default:
		return false
	}
}

// Generate produces a thumbnail for in.Path and writes it under
// CacheDir. Quality is scaled down for larger source images to keep
// generation time roughly constant across a photo library.
func (w *ThumbnailWorker) Generate(ctx context.Context, in Input, sourceSizeBytes int64) (*store.Thumbnail, error) {
	f, err := os.Open(in.Path)
	if err != nil {
		return nil, fmt.Errorf("open source image: %w", err)
	}
	defer f.Close()

	src, format, err := image.Decode(f)
	if err != nil {
		return nil, fmt.Errorf("decode source image: %w", err)
	}

	bounds := src.Bounds()
	w2, h2 := scaledDimensions(bounds.Dx(), bounds.Dy(), MaxThumbnailEdge)
	dst := image.NewRGBA(image.Rect(0, 0, w2, h2))
	draw.CatmullRom.Scale(dst, dst.Bounds(), src, bounds, draw.Over, nil)

	relPath := contentAddressedPath(in.SHA1, "jpg")
	fullPath := filepath.Join(w.CacheDir, relPath)
	if err := os.MkdirAll(filepath.Dir(fullPath), 0o755); err != nil {
		return nil, fmt.Errorf("create thumbnail directory: %w", err)
	}

	var buf bytes.Buffer
	quality := adaptiveQuality(sourceSizeBytes)
	thumbFormat := store.ThumbnailJPEG
	if format == "png" && hasAlpha(src) {
		if err := png.Encode(&buf, dst); err != nil {
			return nil, fmt.Errorf("encode thumbnail: %w", err)
		}
		relPath = contentAddressedPath(in.SHA1, "png")
		fullPath = filepath.Join(w.CacheDir, relPath)
		thumbFormat = store.ThumbnailPNG
	} else {
		if err := jpeg.Encode(&buf, dst, &jpeg.Options{Quality: quality}); err != nil {
			return nil, fmt.Errorf("encode thumbnail: %w", err)
		}
	}

	tmp := fullPath + ".tmp"
	if err := os.WriteFile(tmp, buf.Bytes(), 0o644); err != nil {
		return nil, fmt.Errorf("write thumbnail: %w", err)
	}
	if err := os.Rename(tmp, fullPath); err != nil {
		os.Remove(tmp)
		return nil, fmt.Errorf("finalize thumbnail: %w", err)
	}

	return &store.Thumbnail{
		PhotoID:     in.PhotoID,
		RelPath:     relPath,
		Width:       w2,
		Height:      h2,
		Format:      thumbFormat,
		GeneratedAt: time.Now().UTC(),
	}, nil
}

func hasAlpha(img image.Image) bool {
	switch img.(type) {
	case *image.NRGBA, *image.RGBA, *image.Paletted:
		return true
	default:
		return false
	}
}

func scaledDimensions(w, h, maxEdge int) (int, int) {
	if w <= 0 || h <= 0 {
		return maxEdge, maxEdge
	}
	if w <= maxEdge && h <= maxEdge {
		return w, h
	}
	if w >= h {
		ratio := float64(maxEdge) / float64(w)
		return maxEdge, maxInt(1, int(float64(h)*ratio))
	}
	ratio := float64(maxEdge) / float64(h)
	return maxInt(1, int(float64(w)*ratio)), maxEdge
}

func maxInt(a, b int) int {
	if a > b {
		return a
	}
	return b
}

// adaptiveQuality scales JPEG quality down for very large sources so
// thumbnail generation cost stays roughly flat across a mixed library.
func adaptiveQuality(sourceSizeBytes int64) int {
	switch {
	case sourceSizeBytes > 20*1024*1024:
		return 70
	case sourceSizeBytes > 8*1024*1024:
		return 78
	default:
		return 85
	}
}

// contentAddressedPath returns "{sha1[0:2]}/{sha1[2:4]}/{sha1}.{ext}".
func contentAddressedPath(sha1 string, ext string) string {
	if len(sha1) < 4 {
		return filepath.Join("00", "00", sha1+"."+ext)
	}
	return filepath.Join(sha1[0:2], sha1[2:4], sha1+"."+ext)
}
