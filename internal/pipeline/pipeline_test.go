package pipeline

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/localphoto/photovault/internal/crawler"
	"github.com/localphoto/photovault/internal/descriptor"
	"github.com/localphoto/photovault/internal/store"
	"github.com/localphoto/photovault/internal/vectorindex"
)

// fakeStore is a minimal in-memory store.MetadataStore sufficient to
// exercise the Orchestrator's phase scheduling without a real database.
type fakeStore struct {
	mu         sync.Mutex
	nextID     int64
	photos     map[int64]*store.Photo
	byPath     map[string]int64
	exif       map[int64]*store.ExifRecord
	embeddings map[int64]*store.Embedding
	thumbs     map[int64]*store.Thumbnail
	faces      map[int64][]*store.Face
	indexed    map[int64]bool
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		photos:     make(map[int64]*store.Photo),
		byPath:     make(map[string]int64),
		exif:       make(map[int64]*store.ExifRecord),
		embeddings: make(map[int64]*store.Embedding),
		thumbs:     make(map[int64]*store.Thumbnail),
		faces:      make(map[int64][]*store.Face),
		indexed:    make(map[int64]bool),
	}
}

func (f *fakeStore) UpsertPhoto(ctx context.Context, p *store.Photo) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if id, ok := f.byPath[p.Path]; ok {
		p.ID = id
		f.photos[id] = p
		return id, nil
	}
	f.nextID++
	p.ID = f.nextID
	f.photos[p.ID] = p
	f.byPath[p.Path] = p.ID
	return p.ID, nil
}

func (f *fakeStore) DeletePhoto(ctx context.Context, id int64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if p, ok := f.photos[id]; ok {
		delete(f.byPath, p.Path)
		delete(f.photos, id)
	}
	return nil
}

func (f *fakeStore) GetPhoto(ctx context.Context, id int64) (*store.Photo, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	p, ok := f.photos[id]
	if !ok {
		return nil, fmt.Errorf("not found")
	}
	return p, nil
}

func (f *fakeStore) GetPhotoByPath(ctx context.Context, path string) (*store.Photo, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	id, ok := f.byPath[path]
	if !ok {
		return nil, fmt.Errorf("not found")
	}
	return f.photos[id], nil
}

func (f *fakeStore) ListAllPaths(ctx context.Context) (map[string]*store.Photo, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make(map[string]*store.Photo, len(f.photos))
	for path, id := range f.byPath {
		out[path] = f.photos[id]
	}
	return out, nil
}

func (f *fakeStore) ClearIndexedAt(ctx context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.indexed = make(map[int64]bool)
	return nil
}

func (f *fakeStore) PutExif(ctx context.Context, rec *store.ExifRecord) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.exif[rec.PhotoID] = rec
	return nil
}

func (f *fakeStore) PutEmbedding(ctx context.Context, photoID int64, vec []float32, model string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.embeddings[photoID] = &store.Embedding{PhotoID: photoID, Vec: vec, ModelName: model, ProcessedAt: time.Now()}
	return nil
}

func (f *fakeStore) GetEmbedding(ctx context.Context, photoID int64) (*store.Embedding, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	e, ok := f.embeddings[photoID]
	if !ok {
		return nil, fmt.Errorf("not found")
	}
	return e, nil
}

func (f *fakeStore) PutThumbnail(ctx context.Context, t *store.Thumbnail) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.thumbs[t.PhotoID] = t
	return nil
}

func (f *fakeStore) GetThumbnail(ctx context.Context, photoID int64) (*store.Thumbnail, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	t, ok := f.thumbs[photoID]
	if !ok {
		return nil, fmt.Errorf("not found")
	}
	return t, nil
}

func (f *fakeStore) PutFaces(ctx context.Context, photoID int64, faces []*store.Face) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.faces[photoID] = faces
	return nil
}

func (f *fakeStore) GetFacesByPhoto(ctx context.Context, photoID int64) ([]*store.Face, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.faces[photoID], nil
}

func (f *fakeStore) GetFacesByPerson(ctx context.Context, personID int64) ([]*store.Face, error) {
	return nil, nil
}

func (f *fakeStore) ListAllFaces(ctx context.Context) ([]*store.Face, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []*store.Face
	for _, faces := range f.faces {
		out = append(out, faces...)
	}
	return out, nil
}

func (f *fakeStore) ListPhotosMissing(ctx context.Context, kind store.DescriptorKind, currentIndexVersion int) ([]*store.Photo, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []*store.Photo
	for id, p := range f.photos {
		switch kind {
		case store.DescriptorEXIF:
			if _, ok := f.exif[id]; !ok {
				out = append(out, p)
			}
		case store.DescriptorEmbedding:
			if _, ok := f.embeddings[id]; !ok {
				out = append(out, p)
			}
		case store.DescriptorThumbnail:
			if _, ok := f.thumbs[id]; !ok {
				out = append(out, p)
			}
		case store.DescriptorFace:
			if _, ok := f.faces[id]; !ok {
				out = append(out, p)
			}
		}
	}
	return out, nil
}

func (f *fakeStore) MarkIndexed(ctx context.Context, photoID int64, at time.Time, version int) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.indexed[photoID] = true
	return nil
}

func (f *fakeStore) CountEmbeddings(ctx context.Context) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.embeddings), nil
}

func (f *fakeStore) AllEmbeddings(ctx context.Context) (map[int64][]float32, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make(map[int64][]float32, len(f.embeddings))
	for id, e := range f.embeddings {
		out[id] = e.Vec
	}
	return out, nil
}

func (f *fakeStore) CreatePerson(ctx context.Context, name string, vec []float32) (*store.Person, error) {
	return nil, nil
}
func (f *fakeStore) GetPerson(ctx context.Context, id int64) (*store.Person, error) { return nil, nil }
func (f *fakeStore) GetPersonByName(ctx context.Context, name string) (*store.Person, error) {
	return nil, nil
}
func (f *fakeStore) ListPeople(ctx context.Context) ([]*store.Person, error) { return nil, nil }
func (f *fakeStore) AddPersonSample(ctx context.Context, personID int64, vec []float32) (*store.Person, error) {
	return nil, nil
}
func (f *fakeStore) DeletePerson(ctx context.Context, id int64) error { return nil }

func (f *fakeStore) TextQuery(ctx context.Context, q string, filters store.TextQueryFilters, limit, offset int) (*store.TextQueryResponse, error) {
	return &store.TextQueryResponse{}, nil
}

func (f *fakeStore) GetSetting(ctx context.Context, key string) (string, bool, error) {
	return "", false, nil
}
func (f *fakeStore) SetSetting(ctx context.Context, key, value string) error { return nil }

func (f *fakeStore) UpsertDriveAlias(ctx context.Context, a *store.DriveAlias) error { return nil }
func (f *fakeStore) GetDriveAlias(ctx context.Context, deviceID string) (*store.DriveAlias, error) {
	return nil, nil
}

func (f *fakeStore) Stats(ctx context.Context) (*store.Stats, error) { return &store.Stats{}, nil }
func (f *fakeStore) Close() error                                   { return nil }

type fakeEmbeddingModel struct{}

func (fakeEmbeddingModel) Embed(ctx context.Context, imagePath string) ([]float32, error) {
	return []float32{1, 0, 0, 0}, nil
}
func (fakeEmbeddingModel) Dimensions() int                    { return 4 }
func (fakeEmbeddingModel) Available(ctx context.Context) bool { return true }

func writeJPEG(t *testing.T, path string) {
	t.Helper()
	// A minimal valid-enough file for os.Open/stat purposes; the EXIF
	// and thumbnail workers both tolerate corrupt/undecodable bytes by
	// returning an empty record or a decode error respectively.
	require.NoError(t, os.WriteFile(path, []byte("not a real jpeg but present on disk"), 0o644))
}

func newTestOrchestrator(t *testing.T) (*Orchestrator, *fakeStore, string) {
	t.Helper()
	dir := t.TempDir()
	fs := newFakeStore()
	cr, err := crawler.New()
	require.NoError(t, err)
	mgr := vectorindex.NewManager(vectorindex.ManagerConfig{Dimensions: 4}, fs, nil)

	deps := Dependencies{
		Store:       fs,
		VectorIndex: mgr,
		Crawler:     cr,
		EXIF:        descriptor.NewEXIFWorker(),
		Thumbnail:   descriptor.NewThumbnailWorker(filepath.Join(dir, "cache")),
		Embedding:   descriptor.NewEmbeddingWorker(fakeEmbeddingModel{}, "test-model"),
		Face:        descriptor.NewFaceWorker(descriptor.UnavailableFaceModel{}, false),
	}
	o, err := New(deps)
	require.NoError(t, err)
	return o, fs, dir
}

func TestNew_RejectsMissingRequiredDependencies(t *testing.T) {
	_, err := New(Dependencies{})
	require.Error(t, err)
}

func TestOrchestrator_Start_DiscoversAndIndexesNewPhotos(t *testing.T) {
	o, fs, dir := newTestOrchestrator(t)
	writeJPEG(t, filepath.Join(dir, "a.jpg"))
	writeJPEG(t, filepath.Join(dir, "b.jpg"))

	o.Start(context.Background(), Config{Roots: []string{dir}, Workers: 2})
	result, err := o.Wait()
	require.NoError(t, err)
	require.Equal(t, StateCompleted, o.Progress().State())
	require.GreaterOrEqual(t, result.PhotosIndexed, 2)
	require.Len(t, fs.photos, 2)
}

func TestOrchestrator_Start_IsNoOpWhileAlreadyRunning(t *testing.T) {
	o, _, dir := newTestOrchestrator(t)
	writeJPEG(t, filepath.Join(dir, "a.jpg"))

	o.Start(context.Background(), Config{Roots: []string{dir}})
	require.True(t, o.IsRunning())
	o.Start(context.Background(), Config{Roots: []string{dir}}) // ignored
	_, err := o.Wait()
	require.NoError(t, err)
	require.False(t, o.IsRunning())
}

func TestOrchestrator_Stop_MarksStateStopped(t *testing.T) {
	o, _, dir := newTestOrchestrator(t)
	for i := 0; i < 50; i++ {
		writeJPEG(t, filepath.Join(dir, fmt.Sprintf("f%d.jpg", i)))
	}

	o.Start(context.Background(), Config{Roots: []string{dir}, Workers: 1})
	o.Stop()
	require.Equal(t, StateStopped, o.Progress().State())
}

func TestOrchestrator_FullReindex_ClearsIndexedAt(t *testing.T) {
	o, fs, dir := newTestOrchestrator(t)
	writeJPEG(t, filepath.Join(dir, "a.jpg"))

	o.Start(context.Background(), Config{Roots: []string{dir}})
	_, err := o.Wait()
	require.NoError(t, err)

	for id := range fs.indexed {
		require.True(t, fs.indexed[id])
	}

	o2, fs2, dir2 := newTestOrchestrator(t)
	fs2.indexed[999] = true // stale mark that only ClearIndexedAt removes
	writeJPEG(t, filepath.Join(dir2, "a.jpg"))
	o2.Start(context.Background(), Config{Roots: []string{dir2}, Full: true})
	_, err = o2.Wait()
	require.NoError(t, err)
	require.False(t, fs2.indexed[999])
}
