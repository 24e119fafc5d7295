package query

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/localphoto/photovault/internal/apperr"
	"github.com/localphoto/photovault/internal/store"
	"github.com/localphoto/photovault/internal/vectorindex"
)

// fakeStore implements only the store.MetadataStore surface the Query
// Engine touches; unused methods return zero values.
type fakeStore struct {
	photos     map[int64]*store.Photo
	embeddings map[int64]*store.Embedding
	thumbs     map[int64]*store.Thumbnail
	faces      []*store.Face
	people     map[int64]*store.Person
	settings   map[string]string
	textResp   *store.TextQueryResponse
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		photos:     make(map[int64]*store.Photo),
		embeddings: make(map[int64]*store.Embedding),
		thumbs:     make(map[int64]*store.Thumbnail),
		people:     make(map[int64]*store.Person),
		settings:   make(map[string]string),
	}
}

func (f *fakeStore) UpsertPhoto(ctx context.Context, p *store.Photo) (int64, error) { return 0, nil }
func (f *fakeStore) DeletePhoto(ctx context.Context, id int64) error                { return nil }
func (f *fakeStore) GetPhoto(ctx context.Context, id int64) (*store.Photo, error) {
	p, ok := f.photos[id]
	if !ok {
		return nil, fmt.Errorf("photo %d not found", id)
	}
	return p, nil
}
func (f *fakeStore) GetPhotoByPath(ctx context.Context, path string) (*store.Photo, error) {
	return nil, fmt.Errorf("not found")
}
func (f *fakeStore) ListAllPaths(ctx context.Context) (map[string]*store.Photo, error) {
	return nil, nil
}
func (f *fakeStore) ClearIndexedAt(ctx context.Context) error { return nil }

func (f *fakeStore) PutExif(ctx context.Context, rec *store.ExifRecord) error { return nil }
func (f *fakeStore) PutEmbedding(ctx context.Context, photoID int64, vec []float32, model string) error {
	return nil
}
func (f *fakeStore) GetEmbedding(ctx context.Context, photoID int64) (*store.Embedding, error) {
	e, ok := f.embeddings[photoID]
	if !ok {
		return nil, fmt.Errorf("embedding %d not found", photoID)
	}
	return e, nil
}
func (f *fakeStore) PutThumbnail(ctx context.Context, t *store.Thumbnail) error { return nil }
func (f *fakeStore) GetThumbnail(ctx context.Context, photoID int64) (*store.Thumbnail, error) {
	t, ok := f.thumbs[photoID]
	if !ok {
		return nil, fmt.Errorf("thumbnail %d not found", photoID)
	}
	return t, nil
}
func (f *fakeStore) PutFaces(ctx context.Context, photoID int64, faces []*store.Face) error {
	return nil
}
func (f *fakeStore) GetFacesByPhoto(ctx context.Context, photoID int64) ([]*store.Face, error) {
	return nil, nil
}
func (f *fakeStore) GetFacesByPerson(ctx context.Context, personID int64) ([]*store.Face, error) {
	return nil, nil
}
func (f *fakeStore) ListAllFaces(ctx context.Context) ([]*store.Face, error) {
	return f.faces, nil
}
func (f *fakeStore) ListPhotosMissing(ctx context.Context, kind store.DescriptorKind, currentIndexVersion int) ([]*store.Photo, error) {
	return nil, nil
}
func (f *fakeStore) MarkIndexed(ctx context.Context, photoID int64, at time.Time, version int) error {
	return nil
}
func (f *fakeStore) CountEmbeddings(ctx context.Context) (int, error) { return len(f.embeddings), nil }
func (f *fakeStore) AllEmbeddings(ctx context.Context) (map[int64][]float32, error) {
	out := make(map[int64][]float32, len(f.embeddings))
	for id, e := range f.embeddings {
		out[id] = e.Vec
	}
	return out, nil
}

func (f *fakeStore) CreatePerson(ctx context.Context, name string, vec []float32) (*store.Person, error) {
	return nil, nil
}
func (f *fakeStore) GetPerson(ctx context.Context, id int64) (*store.Person, error) {
	p, ok := f.people[id]
	if !ok {
		return nil, fmt.Errorf("person %d not found", id)
	}
	return p, nil
}
func (f *fakeStore) GetPersonByName(ctx context.Context, name string) (*store.Person, error) {
	return nil, nil
}
func (f *fakeStore) ListPeople(ctx context.Context) ([]*store.Person, error) { return nil, nil }
func (f *fakeStore) AddPersonSample(ctx context.Context, personID int64, vec []float32) (*store.Person, error) {
	return nil, nil
}
func (f *fakeStore) DeletePerson(ctx context.Context, id int64) error { return nil }

func (f *fakeStore) TextQuery(ctx context.Context, q string, filters store.TextQueryFilters, limit, offset int) (*store.TextQueryResponse, error) {
	if f.textResp != nil {
		return f.textResp, nil
	}
	return &store.TextQueryResponse{}, nil
}

func (f *fakeStore) GetSetting(ctx context.Context, key string) (string, bool, error) {
	v, ok := f.settings[key]
	return v, ok, nil
}
func (f *fakeStore) SetSetting(ctx context.Context, key, value string) error {
	f.settings[key] = value
	return nil
}

func (f *fakeStore) UpsertDriveAlias(ctx context.Context, a *store.DriveAlias) error { return nil }
func (f *fakeStore) GetDriveAlias(ctx context.Context, deviceID string) (*store.DriveAlias, error) {
	return nil, nil
}

func (f *fakeStore) Stats(ctx context.Context) (*store.Stats, error) { return &store.Stats{}, nil }
func (f *fakeStore) Close() error                                    { return nil }

type fakeTextEmbedder struct {
	vec       []float32
	available bool
	err       error
}

func (f fakeTextEmbedder) EmbedText(ctx context.Context, text string) ([]float32, error) {
	if f.err != nil {
		return nil, f.err
	}
	return f.vec, nil
}
func (f fakeTextEmbedder) Available(ctx context.Context) bool { return f.available }

type fakeImageEmbedder struct {
	vec       []float32
	available bool
}

func (f fakeImageEmbedder) EmbedImageBytes(ctx context.Context, data []byte) ([]float32, error) {
	return f.vec, nil
}
func (f fakeImageEmbedder) Available(ctx context.Context) bool { return f.available }

func newTestManager(t *testing.T, fs *fakeStore) *vectorindex.Manager {
	t.Helper()
	return vectorindex.NewManager(vectorindex.ManagerConfig{Dimensions: 4}, fs, nil)
}

func seedPhoto(fs *fakeStore, mgr *vectorindex.Manager, id int64, vec []float32) {
	fs.photos[id] = &store.Photo{ID: id, Path: fmt.Sprintf("/a/%d.jpg", id), Folder: "/a", Filename: fmt.Sprintf("%d.jpg", id)}
	fs.embeddings[id] = &store.Embedding{PhotoID: id, Vec: vec, ModelName: "test"}
	_ = mgr.Add(context.Background(), []int64{id}, [][]float32{vec})
}

func TestNew_RejectsNilStoreOrVectorIndex(t *testing.T) {
	fs := newFakeStore()
	mgr := newTestManager(t, fs)

	_, err := New(nil, mgr, nil, nil, Config{})
	require.Error(t, err)

	_, err = New(fs, nil, nil, nil, Config{})
	require.Error(t, err)
}

func TestText_DelegatesToStoreTextQuery(t *testing.T) {
	fs := newFakeStore()
	mgr := newTestManager(t, fs)
	fs.photos[1] = &store.Photo{ID: 1, Path: "/a/beach.jpg", Folder: "/a", Filename: "beach.jpg"}
	fs.textResp = &store.TextQueryResponse{
		Items: []*store.TextQueryResult{{Photo: fs.photos[1], Score: 10, Badges: []store.Badge{store.BadgeFilename}}},
	}

	eng, err := New(fs, mgr, nil, nil, Config{})
	require.NoError(t, err)

	res, err := eng.Text(context.Background(), "beach", store.TextQueryFilters{}, 10, 0)
	require.NoError(t, err)
	require.Len(t, res.Items, 1)
	require.Equal(t, int64(1), res.Items[0].FileID)
}

func TestSemantic_ReturnsUnavailableWithoutEmbedder(t *testing.T) {
	fs := newFakeStore()
	mgr := newTestManager(t, fs)
	eng, err := New(fs, mgr, nil, nil, Config{})
	require.NoError(t, err)

	_, err = eng.Semantic(context.Background(), "sunset over water", 5)
	require.Error(t, err)
	require.Equal(t, apperr.Unavailable, apperr.KindOf(err))
}

func TestSemantic_EmbedsAndRanksByVectorSimilarity(t *testing.T) {
	fs := newFakeStore()
	mgr := newTestManager(t, fs)
	seedPhoto(fs, mgr, 1, []float32{1, 0, 0, 0})
	seedPhoto(fs, mgr, 2, []float32{0, 1, 0, 0})

	embedder := fakeTextEmbedder{vec: []float32{1, 0, 0, 0}, available: true}
	eng, err := New(fs, mgr, embedder, nil, Config{})
	require.NoError(t, err)

	res, err := eng.Semantic(context.Background(), "matches photo 1", 5)
	require.NoError(t, err)
	require.NotEmpty(t, res.Items)
	require.Equal(t, int64(1), res.Items[0].FileID)
}

func TestImage_RejectsNonImageBytes(t *testing.T) {
	fs := newFakeStore()
	mgr := newTestManager(t, fs)
	eng, err := New(fs, mgr, nil, fakeImageEmbedder{available: true}, Config{})
	require.NoError(t, err)

	_, err = eng.Image(context.Background(), []byte("not an image"), 5)
	require.Error(t, err)
	require.Equal(t, apperr.Invalid, apperr.KindOf(err))
}

func TestReversePhoto_ExcludesTheQueriedPhotoFromResults(t *testing.T) {
	fs := newFakeStore()
	mgr := newTestManager(t, fs)
	seedPhoto(fs, mgr, 1, []float32{1, 0, 0, 0})
	seedPhoto(fs, mgr, 2, []float32{0.9, 0.1, 0, 0})

	eng, err := New(fs, mgr, nil, nil, Config{})
	require.NoError(t, err)

	res, err := eng.ReversePhoto(context.Background(), 1, 5)
	require.NoError(t, err)
	for _, item := range res.Items {
		require.NotEqual(t, int64(1), item.FileID)
	}
}

func TestCombined_FusesTextAndSemanticResults(t *testing.T) {
	fs := newFakeStore()
	mgr := newTestManager(t, fs)
	seedPhoto(fs, mgr, 1, []float32{1, 0, 0, 0})
	seedPhoto(fs, mgr, 2, []float32{0, 1, 0, 0})
	fs.textResp = &store.TextQueryResponse{
		Items: []*store.TextQueryResult{
			{Photo: fs.photos[1], Score: 10, Badges: []store.Badge{store.BadgeFilename}},
			{Photo: fs.photos[2], Score: 5, Badges: []store.Badge{store.BadgeFilename}},
		},
	}

	embedder := fakeTextEmbedder{vec: []float32{0, 1, 0, 0}, available: true}
	eng, err := New(fs, mgr, embedder, nil, Config{})
	require.NoError(t, err)

	res, err := eng.Combined(context.Background(), "beach", store.TextQueryFilters{}, 5)
	require.NoError(t, err)
	require.NotEmpty(t, res.Items)
	// photo 2 ranks first in the text list (2nd) and the semantic list
	// (1st, vector-identical) so it should out-rank photo 1 overall.
	require.Equal(t, int64(2), res.Items[0].FileID)
}

func TestCombined_DegradesToTextOnlyWithoutEmbedder(t *testing.T) {
	fs := newFakeStore()
	mgr := newTestManager(t, fs)
	fs.photos[1] = &store.Photo{ID: 1, Path: "/a/beach.jpg", Folder: "/a", Filename: "beach.jpg"}
	fs.textResp = &store.TextQueryResponse{
		Items: []*store.TextQueryResult{{Photo: fs.photos[1], Score: 10, Badges: []store.Badge{store.BadgeFilename}}},
	}

	eng, err := New(fs, mgr, nil, nil, Config{})
	require.NoError(t, err)

	res, err := eng.Combined(context.Background(), "beach", store.TextQueryFilters{}, 5)
	require.NoError(t, err)
	require.Len(t, res.Items, 1)
	require.Equal(t, int64(1), res.Items[0].FileID)
}

func TestFace_RequiresFaceSearchEnabledSetting(t *testing.T) {
	fs := newFakeStore()
	mgr := newTestManager(t, fs)
	eng, err := New(fs, mgr, nil, nil, Config{})
	require.NoError(t, err)

	_, err = eng.Face(context.Background(), 1, 5)
	require.Error(t, err)
	require.Equal(t, apperr.Forbidden, apperr.KindOf(err))
}

func TestFace_RanksPhotosByBestMatchingFace(t *testing.T) {
	fs := newFakeStore()
	mgr := newTestManager(t, fs)
	fs.settings[store.SettingFaceSearchEnabled] = "true"
	fs.people[1] = &store.Person{ID: 1, Name: "Alice", Vec: []float32{1, 0, 0, 0}}
	fs.photos[10] = &store.Photo{ID: 10, Path: "/a/p10.jpg", Folder: "/a", Filename: "p10.jpg"}
	fs.photos[20] = &store.Photo{ID: 20, Path: "/a/p20.jpg", Folder: "/a", Filename: "p20.jpg"}
	fs.faces = []*store.Face{
		{ID: 1, PhotoID: 10, Vec: []float32{1, 0, 0, 0}},
		{ID: 2, PhotoID: 10, Vec: []float32{0, 1, 0, 0}},
		{ID: 3, PhotoID: 20, Vec: []float32{0.1, 0.9, 0, 0}},
	}

	eng, err := New(fs, mgr, nil, nil, Config{})
	require.NoError(t, err)

	res, err := eng.Face(context.Background(), 1, 5)
	require.NoError(t, err)
	require.Len(t, res.Items, 2)
	require.Equal(t, int64(10), res.Items[0].FileID)
}
