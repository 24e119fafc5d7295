package batch

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/localphoto/photovault/internal/apperr"
	"github.com/localphoto/photovault/internal/store"
)

// exportOne reads one photo's bytes off disk and hands them to the
// sink, never holding more than one photo's data in memory at a time.
func (m *Manager) exportOne(ctx context.Context, sink ExportSink, photo *store.Photo) error {
	data, err := os.ReadFile(photo.Path)
	if err != nil {
		return apperr.Wrap(apperr.Storage, fmt.Sprintf("read %s", photo.Path), err)
	}
	return sink.WritePhoto(ctx, photo, data)
}

// trashDirName is created alongside each photo's folder when a
// trash-style delete is requested.
const trashDirName = ".photovault-trash"

// deleteOne removes photo's store row and, depending on permanent,
// either moves the file into a sibling trash directory or unlinks it
// outright. The store row is removed only after the filesystem step
// succeeds, so a failed unlink never leaves an orphaned Store record.
func (m *Manager) deleteOne(ctx context.Context, photo *store.Photo, permanent bool) error {
	if permanent {
		if err := os.Remove(photo.Path); err != nil && !os.IsNotExist(err) {
			return apperr.Wrap(apperr.Storage, fmt.Sprintf("remove %s", photo.Path), err)
		}
	} else {
		trashDir := filepath.Join(filepath.Dir(photo.Path), trashDirName)
		if err := os.MkdirAll(trashDir, 0o755); err != nil {
			return apperr.Wrap(apperr.Storage, "create trash directory", err)
		}
		dest := filepath.Join(trashDir, fmt.Sprintf("%d-%s", time.Now().UnixNano(), photo.Filename))
		if err := os.Rename(photo.Path, dest); err != nil {
			return apperr.Wrap(apperr.Storage, fmt.Sprintf("move %s to trash", photo.Path), err)
		}
	}
	return m.store.DeletePhoto(ctx, photo.ID)
}
