package store

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func newTestStore(t *testing.T) *SQLiteStore {
	t.Helper()
	s, err := NewSQLiteStore("")
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func samplePhoto(path string) *Photo {
	now := time.Now().UTC().Truncate(time.Second)
	return &Photo{
		Path:       path,
		Folder:     "/albums/2023",
		Filename:   "wedding_smith_2023.jpg",
		Ext:        "jpg",
		SizeBytes:  1024,
		CreatedAt:  now,
		ModifiedAt: now,
		SHA1:       "0123456789abcdef0123456789abcdef01234567",
	}
}

func TestUpsertPhoto_InsertThenUpdate(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	p := samplePhoto("/roots/a/wedding.jpg")
	id, err := s.UpsertPhoto(ctx, p)
	require.NoError(t, err)
	require.NotZero(t, id)

	p.SizeBytes = 2048
	id2, err := s.UpsertPhoto(ctx, p)
	require.NoError(t, err)
	require.Equal(t, id, id2)

	got, err := s.GetPhoto(ctx, id)
	require.NoError(t, err)
	require.Equal(t, int64(2048), got.SizeBytes)
}

func TestDeletePhoto_CascadesEmbedding(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	p := samplePhoto("/roots/a/cascade.jpg")
	id, err := s.UpsertPhoto(ctx, p)
	require.NoError(t, err)

	vec := make([]float32, EmbeddingDimensions)
	vec[0] = 1
	require.NoError(t, s.PutEmbedding(ctx, id, vec, "test-model"))

	require.NoError(t, s.DeletePhoto(ctx, id))

	_, err = s.GetEmbedding(ctx, id)
	require.Error(t, err)
}

func TestEmbeddingRoundTrip_BitExact(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	p := samplePhoto("/roots/a/vec.jpg")
	id, err := s.UpsertPhoto(ctx, p)
	require.NoError(t, err)

	vec := []float32{0.70710677, -0.70710677, 0, 1e-20, -3.4e38}
	require.NoError(t, s.PutEmbedding(ctx, id, vec, "test-model"))

	got, err := s.GetEmbedding(ctx, id)
	require.NoError(t, err)
	require.Equal(t, vec, got.Vec)
}

func TestAddPersonSample_WeightedAverageRenormalized(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	v0 := []float32{1, 0}
	p, err := s.CreatePerson(ctx, "alice", v0)
	require.NoError(t, err)

	updated, err := s.AddPersonSample(ctx, p.ID, []float32{0, 1})
	require.NoError(t, err)
	require.Equal(t, 2, updated.Samples)

	var norm float64
	for _, f := range updated.Vec {
		norm += float64(f) * float64(f)
	}
	require.InDelta(t, 1.0, norm, 1e-5)
}

func TestCreatePerson_DuplicateNameIsConflict(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	_, err := s.CreatePerson(ctx, "bob", []float32{1, 0})
	require.NoError(t, err)

	_, err = s.CreatePerson(ctx, "bob", []float32{0, 1})
	require.Error(t, err)
}

func TestTextQuery_FilenameMatchRankedFirst(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	_, err := s.UpsertPhoto(ctx, &Photo{
		Path: "/r/IMG_1234.jpg", Folder: "/r", Filename: "IMG_1234.jpg", Ext: "jpg",
		CreatedAt: time.Now(), ModifiedAt: time.Now(), SHA1: "a",
	})
	require.NoError(t, err)
	_, err = s.UpsertPhoto(ctx, &Photo{
		Path: "/r/wedding_smith_2023.jpg", Folder: "/r", Filename: "wedding_smith_2023.jpg", Ext: "jpg",
		CreatedAt: time.Now(), ModifiedAt: time.Now(), SHA1: "b",
	})
	require.NoError(t, err)
	_, err = s.UpsertPhoto(ctx, &Photo{
		Path: "/r/vacation.jpg", Folder: "/r", Filename: "vacation.jpg", Ext: "jpg",
		CreatedAt: time.Now(), ModifiedAt: time.Now(), SHA1: "c",
	})
	require.NoError(t, err)

	resp, err := s.TextQuery(ctx, "wedding smith 2023", TextQueryFilters{}, 10, 0)
	require.NoError(t, err)
	require.NotEmpty(t, resp.Items)
	require.Equal(t, "wedding_smith_2023.jpg", resp.Items[0].Photo.Filename)
	require.Contains(t, resp.Items[0].Badges, BadgeFilename)
}

func TestListPhotosMissing_ReturnsPhotosWithoutDescriptor(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	id, err := s.UpsertPhoto(ctx, samplePhoto("/r/missing.jpg"))
	require.NoError(t, err)

	missing, err := s.ListPhotosMissing(ctx, DescriptorEXIF, CurrentIndexVersion)
	require.NoError(t, err)
	require.Len(t, missing, 1)
	require.Equal(t, id, missing[0].ID)

	require.NoError(t, s.PutExif(ctx, &ExifRecord{PhotoID: id}))
	require.NoError(t, s.MarkIndexed(ctx, id, time.Now(), CurrentIndexVersion))

	missing, err = s.ListPhotosMissing(ctx, DescriptorEXIF, CurrentIndexVersion)
	require.NoError(t, err)
	require.Empty(t, missing)
}

func TestSettings_GetSetReturnsStoredValue(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	_, ok, err := s.GetSetting(ctx, SettingFaceSearchEnabled)
	require.NoError(t, err)
	require.False(t, ok)

	require.NoError(t, s.SetSetting(ctx, SettingFaceSearchEnabled, "true"))
	v, ok, err := s.GetSetting(ctx, SettingFaceSearchEnabled)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, "true", v)
}
