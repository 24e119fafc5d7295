package httpapi

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/localphoto/photovault/internal/store"
)

// fileExportSink writes each exported photo's bytes into a flat
// destination directory, named to avoid collisions between photos
// that share a filename across folders.
type fileExportSink struct {
	destDir string
}

func newFileExportSink(destDir string) *fileExportSink {
	return &fileExportSink{destDir: destDir}
}

func (s *fileExportSink) WritePhoto(ctx context.Context, photo *store.Photo, data []byte) error {
	if err := os.MkdirAll(s.destDir, 0o755); err != nil {
		return fmt.Errorf("create export directory: %w", err)
	}
	name := fmt.Sprintf("%d-%s", photo.ID, photo.Filename)
	return os.WriteFile(filepath.Join(s.destDir, name), data, 0o644)
}
