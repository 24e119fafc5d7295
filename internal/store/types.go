// Package store provides the relational metadata store (photos, EXIF,
// embeddings, thumbnails, people, faces, settings, drive aliases) and
// owns all persisted entities. The Vector Index keeps a secondary copy
// of embedding vectors; on mismatch the Store is authoritative.
package store

import (
	"context"
	"fmt"
	"time"
)

// ThumbnailFormat enumerates the supported thumbnail encodings.
type ThumbnailFormat string

const (
	ThumbnailWebP ThumbnailFormat = "webp"
	ThumbnailJPEG ThumbnailFormat = "jpeg"
	ThumbnailPNG  ThumbnailFormat = "png"
)

// Reserved setting keys.
const (
	SettingSchemaVersion    = "schema_version"
	SettingIndexVersion     = "index_version"
	SettingRoots            = "roots"
	SettingFaceSearchEnabled = "face_search_enabled"
	SettingOCRLanguages     = "ocr_languages"
	SettingBatchSize        = "batch_size"
	SettingFaceMatchThreshold = "face_match_threshold"
)

// CurrentSchemaVersion is the schema version this binary knows how to
// read and write. Opening a store whose on-disk version is newer
// refuses to start (exit code 2 path, see apperr.Fatal).
const CurrentSchemaVersion = 4

// CurrentIndexVersion is stamped onto every Photo row once all
// enabled descriptor phases have completed for it.
const CurrentIndexVersion = 1

// Photo is identified by its absolute path (unique). Mutated only by
// the Pipeline Orchestrator (sha1, phash, indexed_at); deleted when
// its path disappears, cascading Face + ExifRecord + Embedding +
// Thumbnail rows.
type Photo struct {
	ID          int64
	Path        string // absolute path, unique
	Folder      string
	Filename    string
	Ext         string
	SizeBytes   int64
	CreatedAt   time.Time
	ModifiedAt  time.Time
	SHA1        string // 40 hex chars
	PHash       *string
	IndexedAt   *time.Time
	IndexVersion int
}

// ExifRecord is keyed 1:1 by Photo ID.
type ExifRecord struct {
	PhotoID      int64
	CaptureDT    *time.Time
	CameraMake   string
	CameraModel  string
	Lens         string
	ISO          int
	Aperture     float64
	ShutterSpeed string
	FocalLength  float64
	GPSLat       *float64
	GPSLon       *float64
	Orientation  int
}

// EmbeddingDimensions is the dimensionality of image/text embeddings
// shared by the Vector Index.
const EmbeddingDimensions = 512

// Embedding is keyed 1:1 by Photo ID. Vec must be L2-normalized on
// insert (‖v‖₂ = 1 ± 1e-5); no NaN/Inf.
type Embedding struct {
	PhotoID     int64
	Vec         []float32
	ModelName   string
	ProcessedAt time.Time
}

// Thumbnail is keyed 1:1 by Photo ID.
type Thumbnail struct {
	PhotoID     int64
	RelPath     string // relative to cache root
	Width       int
	Height      int
	Format      ThumbnailFormat
	GeneratedAt time.Time
}

// Person is identified by a unique name; Vec is the running weighted
// average of enrolled face samples.
type Person struct {
	ID        int64
	Name      string
	Vec       []float32
	Samples   int
	Active    bool
}

// Face belongs to exactly one Photo (cascade delete) and optionally one
// Person (set null on Person delete).
type Face struct {
	ID         int64
	PhotoID    int64
	PersonID   *int64
	X1, Y1     float64
	X2, Y2     float64
	Vec        []float32
	Confidence float64
	Verified   bool
}

// DriveAlias maps a stable device id to a friendly name for
// portable-drive indexing.
type DriveAlias struct {
	DeviceID   string
	Name       string
	LastMount  string
	LastSeenAt time.Time
}

// Badge names the signal that matched a text query candidate.
type Badge string

const (
	BadgeFilename Badge = "filename"
	BadgeFolder   Badge = "folder"
	BadgeExif     Badge = "exif"
	BadgeOCR      Badge = "ocr"
)

// TextQueryFilters compose conjunctively.
type TextQueryFilters struct {
	FolderPrefix string
	ShotFrom     *time.Time
	ShotTo       *time.Time
	Extensions   []string
}

// TextQueryResult is one scored row with its matched badges.
type TextQueryResult struct {
	Photo  *Photo
	Score  int
	Badges []Badge
}

// TextQueryResponse is returned by Store.TextQuery.
type TextQueryResponse struct {
	Items        []*TextQueryResult
	TotalMatches int
}

// DescriptorKind names a per-photo artifact produced by C4 workers,
// used by ListPhotosMissing to find work for a given phase.
type DescriptorKind string

const (
	DescriptorEXIF      DescriptorKind = "exif"
	DescriptorEmbedding DescriptorKind = "embedding"
	DescriptorThumbnail DescriptorKind = "thumbnail"
	DescriptorFace      DescriptorKind = "face"
)

// MetadataStore persists every entity in the data model. Backed by
// modernc.org/sqlite in WAL mode with a single writer connection;
// readers may be concurrent.
type MetadataStore interface {
	// Photo operations
	UpsertPhoto(ctx context.Context, p *Photo) (int64, error)
	DeletePhoto(ctx context.Context, id int64) error
	GetPhoto(ctx context.Context, id int64) (*Photo, error)
	GetPhotoByPath(ctx context.Context, path string) (*Photo, error)
	ListAllPaths(ctx context.Context) (map[string]*Photo, error)
	ClearIndexedAt(ctx context.Context) error // full reindex

	// Descriptor operations
	PutExif(ctx context.Context, rec *ExifRecord) error
	PutEmbedding(ctx context.Context, photoID int64, vec []float32, model string) error
	GetEmbedding(ctx context.Context, photoID int64) (*Embedding, error)
	PutThumbnail(ctx context.Context, t *Thumbnail) error
	GetThumbnail(ctx context.Context, photoID int64) (*Thumbnail, error)
	PutFaces(ctx context.Context, photoID int64, faces []*Face) error
	GetFacesByPhoto(ctx context.Context, photoID int64) ([]*Face, error)
	GetFacesByPerson(ctx context.Context, personID int64) ([]*Face, error)
	ListAllFaces(ctx context.Context) ([]*Face, error)
	ListPhotosMissing(ctx context.Context, kind DescriptorKind, currentIndexVersion int) ([]*Photo, error)
	MarkIndexed(ctx context.Context, photoID int64, at time.Time, version int) error
	CountEmbeddings(ctx context.Context) (int, error)
	AllEmbeddings(ctx context.Context) (map[int64][]float32, error)

	// Person operations
	CreatePerson(ctx context.Context, name string, vec []float32) (*Person, error)
	GetPerson(ctx context.Context, id int64) (*Person, error)
	GetPersonByName(ctx context.Context, name string) (*Person, error)
	ListPeople(ctx context.Context) ([]*Person, error)
	AddPersonSample(ctx context.Context, personID int64, vec []float32) (*Person, error)
	DeletePerson(ctx context.Context, id int64) error

	// Query
	TextQuery(ctx context.Context, q string, filters TextQueryFilters, limit, offset int) (*TextQueryResponse, error)

	// Settings (key-value)
	GetSetting(ctx context.Context, key string) (string, bool, error)
	SetSetting(ctx context.Context, key, value string) error

	// Drive aliases
	UpsertDriveAlias(ctx context.Context, a *DriveAlias) error
	GetDriveAlias(ctx context.Context, deviceID string) (*DriveAlias, error)

	// Stats
	Stats(ctx context.Context) (*Stats, error)

	// Lifecycle
	Close() error
}

// Stats mirrors the counts surfaced by GET /index/stats.
type Stats struct {
	PhotoCount     int
	ExifCount      int
	EmbeddingCount int
	ThumbnailCount int
	PersonCount    int
	FaceCount      int
}

// ErrDimensionMismatch indicates an embedding's dimensionality does not
// match the deployed model's dimension.
type ErrDimensionMismatch struct {
	Expected int
	Got      int
}

func (e ErrDimensionMismatch) Error() string {
	return fmt.Sprintf("dimension mismatch: expected %d, got %d (run a full reindex)", e.Expected, e.Got)
}
