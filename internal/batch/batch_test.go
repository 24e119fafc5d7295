package batch

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/localphoto/photovault/internal/apperr"
	"github.com/localphoto/photovault/internal/store"
)

func newTestStoreWithPhoto(t *testing.T) (*store.SQLiteStore, *store.Photo, string) {
	t.Helper()
	s, err := store.NewSQLiteStore("")
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })

	dir := t.TempDir()
	path := filepath.Join(dir, "a.jpg")
	require.NoError(t, os.WriteFile(path, []byte("fake-jpeg-bytes"), 0o644))

	photo := &store.Photo{
		Path: path, Folder: dir, Filename: "a.jpg", Ext: ".jpg",
		SizeBytes: 15, CreatedAt: time.Now(), ModifiedAt: time.Now(), SHA1: "deadbeef",
	}
	id, err := s.UpsertPhoto(context.Background(), photo)
	require.NoError(t, err)
	photo.ID = id
	return s, photo, path
}

type memorySink struct {
	written map[int64][]byte
}

func (s *memorySink) WritePhoto(ctx context.Context, photo *store.Photo, data []byte) error {
	if s.written == nil {
		s.written = make(map[int64][]byte)
	}
	s.written[photo.ID] = data
	return nil
}

func TestStart_RejectsEmptyPhotoIDs(t *testing.T) {
	s, _, _ := newTestStoreWithPhoto(t)
	mgr := New(s, nil)

	_, err := mgr.Start(context.Background(), Request{Kind: KindExport, Sink: &memorySink{}})
	require.Error(t, err)
	require.Equal(t, apperr.Invalid, apperr.KindOf(err))
}

func TestStart_ExportWritesEachPhotoToSink(t *testing.T) {
	s, photo, _ := newTestStoreWithPhoto(t)
	mgr := New(s, nil)
	sink := &memorySink{}

	job, err := mgr.Start(context.Background(), Request{Kind: KindExport, PhotoIDs: []int64{photo.ID}, Sink: sink})
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		st, err := mgr.Status(job.ID)
		return err == nil && st.Status == StatusCompleted
	}, 2*time.Second, 10*time.Millisecond)

	require.Equal(t, []byte("fake-jpeg-bytes"), sink.written[photo.ID])
}

func TestStart_DeleteMovesFileToTrashAndRemovesRow(t *testing.T) {
	s, photo, path := newTestStoreWithPhoto(t)
	mgr := New(s, nil)

	job, err := mgr.Start(context.Background(), Request{Kind: KindDelete, PhotoIDs: []int64{photo.ID}})
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		st, err := mgr.Status(job.ID)
		return err == nil && st.Status == StatusCompleted
	}, 2*time.Second, 10*time.Millisecond)

	_, statErr := os.Stat(path)
	require.True(t, os.IsNotExist(statErr))

	_, err = s.GetPhoto(context.Background(), photo.ID)
	require.Error(t, err)
}

func TestStart_UnknownJobFailsFast(t *testing.T) {
	s, _, _ := newTestStoreWithPhoto(t)
	mgr := New(s, nil)

	_, err := mgr.Start(context.Background(), Request{Kind: KindExport, PhotoIDs: []int64{999}, Sink: &memorySink{}})
	require.NoError(t, err)

	_, err = mgr.Status("does-not-exist")
	require.Error(t, err)
	require.Equal(t, apperr.NotFound, apperr.KindOf(err))
}
