package store

import (
	"context"
	"database/sql"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"time"

	_ "modernc.org/sqlite" // pure Go driver, no CGO

	"github.com/localphoto/photovault/internal/apperr"
)

// SQLiteStore implements MetadataStore on top of modernc.org/sqlite in
// WAL mode with a single writer connection. Corruption detected on
// open refuses to start rather than silently recreating the database:
// the photo store is the system of record.
type SQLiteStore struct {
	mu   sync.RWMutex
	db   *sql.DB
	path string
}

var _ MetadataStore = (*SQLiteStore)(nil)

// validateIntegrity runs PRAGMA integrity_check against an existing
// database file and reports the first problem found, if any.
func validateIntegrity(path string) error {
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return nil
	}
	db, err := sql.Open("sqlite", path+"?mode=ro")
	if err != nil {
		return fmt.Errorf("open for integrity check: %w", err)
	}
	defer db.Close()

	var result string
	if err := db.QueryRow("PRAGMA integrity_check").Scan(&result); err != nil {
		return fmt.Errorf("integrity check: %w", err)
	}
	if result != "ok" {
		return fmt.Errorf("database corrupted: %s", result)
	}
	return nil
}

// NewSQLiteStore opens (creating if absent) the photo metadata store
// at path, or an in-memory database when path is empty (tests).
func NewSQLiteStore(path string) (*SQLiteStore, error) {
	var dsn string
	if path == "" {
		dsn = ":memory:"
	} else {
		dir := filepath.Dir(path)
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, apperr.Wrap(apperr.Storage, "create data directory", err)
		}
		if err := validateIntegrity(path); err != nil {
			return nil, apperr.Wrap(apperr.Fatal, "refusing to open corrupted store (no silent recreate)", err)
		}
		dsn = path
	}

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, apperr.Wrap(apperr.Storage, "open database", err)
	}

	// Single writer connection: writes are serialized through one
	// connection plus mutex, matching the teacher's BM25 index choice.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	pragmas := []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA foreign_keys = ON",
		"PRAGMA busy_timeout = 5000",
		"PRAGMA synchronous = NORMAL",
		"PRAGMA cache_size = -65536",
		"PRAGMA temp_store = MEMORY",
	}
	for _, p := range pragmas {
		if _, err := db.Exec(p); err != nil {
			_ = db.Close()
			return nil, apperr.Wrap(apperr.Storage, "set pragma "+p, err)
		}
	}

	s := &SQLiteStore{db: db, path: path}
	if err := s.migrate(context.Background()); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

// migrate applies pending migrations in order, each inside its own
// transaction, and refuses to open if the on-disk version is newer
// than this binary knows.
func (s *SQLiteStore) migrate(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, `CREATE TABLE IF NOT EXISTS settings (
		key TEXT PRIMARY KEY,
		value TEXT NOT NULL
	)`); err != nil {
		return apperr.Wrap(apperr.Storage, "create settings table", err)
	}

	current := 0
	var raw string
	err := s.db.QueryRowContext(ctx, `SELECT value FROM settings WHERE key = ?`, SettingSchemaVersion).Scan(&raw)
	switch {
	case err == sql.ErrNoRows:
		current = 0
	case err != nil:
		return apperr.Wrap(apperr.Storage, "read schema version", err)
	default:
		current, err = strconv.Atoi(raw)
		if err != nil {
			return apperr.Wrap(apperr.Fatal, "corrupt schema_version setting", err)
		}
	}

	if current > CurrentSchemaVersion {
		return apperr.New(apperr.Fatal, fmt.Sprintf(
			"on-disk schema version %d is newer than this binary supports (%d)", current, CurrentSchemaVersion))
	}

	for v := current + 1; v <= CurrentSchemaVersion; v++ {
		migration, ok := migrations[v]
		if !ok {
			continue
		}
		tx, err := s.db.BeginTx(ctx, nil)
		if err != nil {
			return apperr.Wrap(apperr.Storage, "begin migration", err)
		}
		if err := migration(tx); err != nil {
			_ = tx.Rollback()
			return apperr.Wrap(apperr.Storage, fmt.Sprintf("apply migration %d", v), err)
		}
		if _, err := tx.Exec(`INSERT INTO settings(key, value) VALUES (?, ?)
			ON CONFLICT(key) DO UPDATE SET value = excluded.value`, SettingSchemaVersion, strconv.Itoa(v)); err != nil {
			_ = tx.Rollback()
			return apperr.Wrap(apperr.Storage, "record schema version", err)
		}
		if err := tx.Commit(); err != nil {
			return apperr.Wrap(apperr.Storage, fmt.Sprintf("commit migration %d", v), err)
		}
	}
	return nil
}

// migrations is the linear sequence numbered from 1.
var migrations = map[int]func(tx *sql.Tx) error{
	1: func(tx *sql.Tx) error {
		_, err := tx.Exec(`
		CREATE TABLE photos (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			path TEXT NOT NULL UNIQUE,
			folder TEXT NOT NULL,
			filename TEXT NOT NULL,
			ext TEXT NOT NULL,
			size_bytes INTEGER NOT NULL,
			created_at TIMESTAMP NOT NULL,
			modified_at TIMESTAMP NOT NULL,
			sha1 TEXT NOT NULL,
			phash TEXT,
			indexed_at TIMESTAMP,
			index_version INTEGER NOT NULL DEFAULT 0
		);
		CREATE INDEX idx_photos_folder ON photos(folder);
		CREATE INDEX idx_photos_filename ON photos(filename);
		CREATE INDEX idx_photos_modified_at ON photos(modified_at);

		CREATE TABLE exif_records (
			photo_id INTEGER PRIMARY KEY REFERENCES photos(id) ON DELETE CASCADE,
			capture_dt TIMESTAMP,
			camera_make TEXT,
			camera_model TEXT,
			lens TEXT,
			iso INTEGER,
			aperture REAL,
			shutter_speed TEXT,
			focal_length REAL,
			gps_lat REAL,
			gps_lon REAL,
			orientation INTEGER
		);

		CREATE TABLE embeddings (
			photo_id INTEGER PRIMARY KEY REFERENCES photos(id) ON DELETE CASCADE,
			vec BLOB NOT NULL,
			model_name TEXT NOT NULL,
			processed_at TIMESTAMP NOT NULL
		);

		CREATE TABLE thumbnails (
			photo_id INTEGER PRIMARY KEY REFERENCES photos(id) ON DELETE CASCADE,
			rel_path TEXT NOT NULL,
			width INTEGER NOT NULL,
			height INTEGER NOT NULL,
			format TEXT NOT NULL,
			generated_at TIMESTAMP NOT NULL
		);

		CREATE TABLE people (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			name TEXT NOT NULL UNIQUE,
			vec BLOB NOT NULL,
			samples INTEGER NOT NULL DEFAULT 0,
			active INTEGER NOT NULL DEFAULT 1
		);

		CREATE TABLE faces (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			photo_id INTEGER NOT NULL REFERENCES photos(id) ON DELETE CASCADE,
			person_id INTEGER REFERENCES people(id) ON DELETE SET NULL,
			x1 REAL NOT NULL, y1 REAL NOT NULL, x2 REAL NOT NULL, y2 REAL NOT NULL,
			vec BLOB NOT NULL,
			confidence REAL NOT NULL,
			verified INTEGER NOT NULL DEFAULT 0
		);
		CREATE INDEX idx_faces_photo ON faces(photo_id);
		CREATE INDEX idx_faces_person ON faces(person_id);

		CREATE TABLE drive_aliases (
			device_id TEXT PRIMARY KEY,
			name TEXT NOT NULL,
			last_mount TEXT NOT NULL,
			last_seen_at TIMESTAMP NOT NULL
		);
		`)
		return err
	},
	2: func(tx *sql.Tx) error {
		// OCR is an optional external table; presence is probed at
		// query time rather than required by migration (see DESIGN.md
		// "Open Question decisions"). Migration 2 is a placeholder for
		// forward schema evolution and intentionally creates nothing.
		return nil
	},
	3: func(tx *sql.Tx) error {
		_, err := tx.Exec(`CREATE INDEX IF NOT EXISTS idx_embeddings_model ON embeddings(model_name)`)
		return err
	},
	4: func(tx *sql.Tx) error {
		_, err := tx.Exec(`CREATE INDEX IF NOT EXISTS idx_photos_indexed_at ON photos(indexed_at)`)
		return err
	},
}

func (s *SQLiteStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.db.Close()
}

// --- Photo operations ---

func (s *SQLiteStore) UpsertPhoto(ctx context.Context, p *Photo) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	// RETURNING yields the row's id on both the insert and the conflict
	// update path.
	var id int64
	err := s.db.QueryRowContext(ctx, `
		INSERT INTO photos(path, folder, filename, ext, size_bytes, created_at, modified_at, sha1, phash, indexed_at, index_version)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(path) DO UPDATE SET
			folder = excluded.folder,
			filename = excluded.filename,
			ext = excluded.ext,
			size_bytes = excluded.size_bytes,
			created_at = excluded.created_at,
			modified_at = excluded.modified_at,
			sha1 = excluded.sha1,
			phash = excluded.phash
		RETURNING id
	`, p.Path, p.Folder, p.Filename, p.Ext, p.SizeBytes, p.CreatedAt, p.ModifiedAt, p.SHA1, p.PHash, p.IndexedAt, p.IndexVersion).Scan(&id)
	if err != nil {
		return 0, apperr.Wrap(apperr.Storage, "upsert photo", err)
	}
	return id, nil
}

func (s *SQLiteStore) DeletePhoto(ctx context.Context, id int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, err := s.db.ExecContext(ctx, `DELETE FROM photos WHERE id = ?`, id); err != nil {
		return apperr.Wrap(apperr.Storage, "delete photo", err)
	}
	return nil
}

func scanPhoto(row interface{ Scan(...any) error }) (*Photo, error) {
	p := &Photo{}
	var phash sql.NullString
	var indexedAt sql.NullTime
	if err := row.Scan(&p.ID, &p.Path, &p.Folder, &p.Filename, &p.Ext, &p.SizeBytes,
		&p.CreatedAt, &p.ModifiedAt, &p.SHA1, &phash, &indexedAt, &p.IndexVersion); err != nil {
		return nil, err
	}
	if phash.Valid {
		v := phash.String
		p.PHash = &v
	}
	if indexedAt.Valid {
		t := indexedAt.Time
		p.IndexedAt = &t
	}
	return p, nil
}

const photoColumns = `id, path, folder, filename, ext, size_bytes, created_at, modified_at, sha1, phash, indexed_at, index_version`

func (s *SQLiteStore) GetPhoto(ctx context.Context, id int64) (*Photo, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	row := s.db.QueryRowContext(ctx, `SELECT `+photoColumns+` FROM photos WHERE id = ?`, id)
	p, err := scanPhoto(row)
	if err == sql.ErrNoRows {
		return nil, apperr.NotFoundf("photo %d not found", id)
	}
	if err != nil {
		return nil, apperr.Wrap(apperr.Storage, "get photo", err)
	}
	return p, nil
}

func (s *SQLiteStore) GetPhotoByPath(ctx context.Context, path string) (*Photo, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	row := s.db.QueryRowContext(ctx, `SELECT `+photoColumns+` FROM photos WHERE path = ?`, path)
	p, err := scanPhoto(row)
	if err == sql.ErrNoRows {
		return nil, apperr.NotFoundf("photo at %q not found", path)
	}
	if err != nil {
		return nil, apperr.Wrap(apperr.Storage, "get photo by path", err)
	}
	return p, nil
}

func (s *SQLiteStore) ListAllPaths(ctx context.Context) (map[string]*Photo, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.QueryContext(ctx, `SELECT `+photoColumns+` FROM photos`)
	if err != nil {
		return nil, apperr.Wrap(apperr.Storage, "list all paths", err)
	}
	defer rows.Close()

	out := make(map[string]*Photo)
	for rows.Next() {
		p, err := scanPhoto(rows)
		if err != nil {
			return nil, apperr.Wrap(apperr.Storage, "scan photo", err)
		}
		out[p.Path] = p
	}
	return out, rows.Err()
}

func (s *SQLiteStore) ClearIndexedAt(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, err := s.db.ExecContext(ctx, `UPDATE photos SET indexed_at = NULL, index_version = 0`); err != nil {
		return apperr.Wrap(apperr.Storage, "clear indexed_at for full reindex", err)
	}
	return nil
}

func (s *SQLiteStore) MarkIndexed(ctx context.Context, photoID int64, at time.Time, version int) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, err := s.db.ExecContext(ctx, `UPDATE photos SET indexed_at = ?, index_version = ? WHERE id = ?`, at, version, photoID); err != nil {
		return apperr.Wrap(apperr.Storage, "mark photo indexed", err)
	}
	return nil
}

// --- Descriptor operations ---

func (s *SQLiteStore) PutExif(ctx context.Context, rec *ExifRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO exif_records(photo_id, capture_dt, camera_make, camera_model, lens, iso, aperture, shutter_speed, focal_length, gps_lat, gps_lon, orientation)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(photo_id) DO UPDATE SET
			capture_dt=excluded.capture_dt, camera_make=excluded.camera_make, camera_model=excluded.camera_model,
			lens=excluded.lens, iso=excluded.iso, aperture=excluded.aperture, shutter_speed=excluded.shutter_speed,
			focal_length=excluded.focal_length, gps_lat=excluded.gps_lat, gps_lon=excluded.gps_lon, orientation=excluded.orientation
	`, rec.PhotoID, rec.CaptureDT, rec.CameraMake, rec.CameraModel, rec.Lens, rec.ISO, rec.Aperture, rec.ShutterSpeed, rec.FocalLength, rec.GPSLat, rec.GPSLon, rec.Orientation)
	if err != nil {
		return apperr.Wrap(apperr.Storage, "put exif", err)
	}
	return nil
}

func encodeVec(v []float32) []byte {
	buf := make([]byte, 4*len(v))
	for i, f := range v {
		bits := math.Float32bits(f)
		buf[4*i] = byte(bits)
		buf[4*i+1] = byte(bits >> 8)
		buf[4*i+2] = byte(bits >> 16)
		buf[4*i+3] = byte(bits >> 24)
	}
	return buf
}

func decodeVec(b []byte) []float32 {
	out := make([]float32, len(b)/4)
	for i := range out {
		bits := uint32(b[4*i]) | uint32(b[4*i+1])<<8 | uint32(b[4*i+2])<<16 | uint32(b[4*i+3])<<24
		out[i] = math.Float32frombits(bits)
	}
	return out
}

func (s *SQLiteStore) PutEmbedding(ctx context.Context, photoID int64, vec []float32, model string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO embeddings(photo_id, vec, model_name, processed_at) VALUES (?, ?, ?, ?)
		ON CONFLICT(photo_id) DO UPDATE SET vec=excluded.vec, model_name=excluded.model_name, processed_at=excluded.processed_at
	`, photoID, encodeVec(vec), model, time.Now())
	if err != nil {
		return apperr.Wrap(apperr.Storage, "put embedding", err)
	}
	return nil
}

func (s *SQLiteStore) GetEmbedding(ctx context.Context, photoID int64) (*Embedding, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var raw []byte
	e := &Embedding{PhotoID: photoID}
	err := s.db.QueryRowContext(ctx, `SELECT vec, model_name, processed_at FROM embeddings WHERE photo_id = ?`, photoID).
		Scan(&raw, &e.ModelName, &e.ProcessedAt)
	if err == sql.ErrNoRows {
		return nil, apperr.NotFoundf("embedding for photo %d not found", photoID)
	}
	if err != nil {
		return nil, apperr.Wrap(apperr.Storage, "get embedding", err)
	}
	e.Vec = decodeVec(raw)
	return e, nil
}

func (s *SQLiteStore) PutThumbnail(ctx context.Context, t *Thumbnail) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO thumbnails(photo_id, rel_path, width, height, format, generated_at) VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(photo_id) DO UPDATE SET rel_path=excluded.rel_path, width=excluded.width, height=excluded.height, format=excluded.format, generated_at=excluded.generated_at
	`, t.PhotoID, t.RelPath, t.Width, t.Height, string(t.Format), t.GeneratedAt)
	if err != nil {
		return apperr.Wrap(apperr.Storage, "put thumbnail", err)
	}
	return nil
}

func (s *SQLiteStore) GetThumbnail(ctx context.Context, photoID int64) (*Thumbnail, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	t := &Thumbnail{PhotoID: photoID}
	var format string
	err := s.db.QueryRowContext(ctx, `SELECT rel_path, width, height, format, generated_at FROM thumbnails WHERE photo_id = ?`, photoID).
		Scan(&t.RelPath, &t.Width, &t.Height, &format, &t.GeneratedAt)
	if err == sql.ErrNoRows {
		return nil, apperr.NotFoundf("thumbnail for photo %d not found", photoID)
	}
	if err != nil {
		return nil, apperr.Wrap(apperr.Storage, "get thumbnail", err)
	}
	t.Format = ThumbnailFormat(format)
	return t, nil
}

func (s *SQLiteStore) PutFaces(ctx context.Context, photoID int64, faces []*Face) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return apperr.Wrap(apperr.Storage, "begin put faces", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, `DELETE FROM faces WHERE photo_id = ?`, photoID); err != nil {
		return apperr.Wrap(apperr.Storage, "clear existing faces", err)
	}
	for _, f := range faces {
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO faces(photo_id, person_id, x1, y1, x2, y2, vec, confidence, verified)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		`, photoID, f.PersonID, f.X1, f.Y1, f.X2, f.Y2, encodeVec(f.Vec), f.Confidence, f.Verified); err != nil {
			return apperr.Wrap(apperr.Storage, "insert face", err)
		}
	}
	if err := tx.Commit(); err != nil {
		return apperr.Wrap(apperr.Storage, "commit put faces", err)
	}
	return nil
}

func scanFaces(rows *sql.Rows) ([]*Face, error) {
	var out []*Face
	for rows.Next() {
		f := &Face{}
		var personID sql.NullInt64
		var vec []byte
		if err := rows.Scan(&f.ID, &f.PhotoID, &personID, &f.X1, &f.Y1, &f.X2, &f.Y2, &vec, &f.Confidence, &f.Verified); err != nil {
			return nil, err
		}
		if personID.Valid {
			v := personID.Int64
			f.PersonID = &v
		}
		f.Vec = decodeVec(vec)
		out = append(out, f)
	}
	return out, rows.Err()
}

func (s *SQLiteStore) GetFacesByPhoto(ctx context.Context, photoID int64) ([]*Face, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.QueryContext(ctx, `SELECT id, photo_id, person_id, x1, y1, x2, y2, vec, confidence, verified FROM faces WHERE photo_id = ?`, photoID)
	if err != nil {
		return nil, apperr.Wrap(apperr.Storage, "get faces by photo", err)
	}
	defer rows.Close()
	return scanFaces(rows)
}

func (s *SQLiteStore) GetFacesByPerson(ctx context.Context, personID int64) ([]*Face, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.QueryContext(ctx, `SELECT id, photo_id, person_id, x1, y1, x2, y2, vec, confidence, verified FROM faces WHERE person_id = ?`, personID)
	if err != nil {
		return nil, apperr.Wrap(apperr.Storage, "get faces by person", err)
	}
	defer rows.Close()
	return scanFaces(rows)
}

// ListAllFaces returns every Face row in the store, used by Face
// search (C6) to rank stored face vectors in memory against a
// Person's averaged vector.
func (s *SQLiteStore) ListAllFaces(ctx context.Context) ([]*Face, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.QueryContext(ctx, `SELECT id, photo_id, person_id, x1, y1, x2, y2, vec, confidence, verified FROM faces`)
	if err != nil {
		return nil, apperr.Wrap(apperr.Storage, "list all faces", err)
	}
	defer rows.Close()
	return scanFaces(rows)
}

func (s *SQLiteStore) ListPhotosMissing(ctx context.Context, kind DescriptorKind, currentIndexVersion int) ([]*Photo, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var joinTable, joinCol string
	switch kind {
	case DescriptorEXIF:
		joinTable, joinCol = "exif_records", "photo_id"
	case DescriptorEmbedding:
		joinTable, joinCol = "embeddings", "photo_id"
	case DescriptorThumbnail:
		joinTable, joinCol = "thumbnails", "photo_id"
	case DescriptorFace:
		joinTable, joinCol = "faces", "photo_id"
	default:
		return nil, apperr.Invalidf("unknown descriptor kind %q", kind)
	}

	query := fmt.Sprintf(`
		SELECT p.%s FROM photos p
		WHERE p.index_version < ?
		   OR NOT EXISTS (SELECT 1 FROM %s t WHERE t.%s = p.id)
	`, strings.ReplaceAll(photoColumns, ", ", ", p."), joinTable, joinCol)

	rows, err := s.db.QueryContext(ctx, query, currentIndexVersion)
	if err != nil {
		return nil, apperr.Wrap(apperr.Storage, "list photos missing "+string(kind), err)
	}
	defer rows.Close()

	var out []*Photo
	for rows.Next() {
		p, err := scanPhoto(rows)
		if err != nil {
			return nil, apperr.Wrap(apperr.Storage, "scan photo", err)
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

func (s *SQLiteStore) CountEmbeddings(ctx context.Context) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var n int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM embeddings`).Scan(&n); err != nil {
		return 0, apperr.Wrap(apperr.Storage, "count embeddings", err)
	}
	return n, nil
}

func (s *SQLiteStore) AllEmbeddings(ctx context.Context) (map[int64][]float32, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.QueryContext(ctx, `SELECT photo_id, vec FROM embeddings`)
	if err != nil {
		return nil, apperr.Wrap(apperr.Storage, "all embeddings", err)
	}
	defer rows.Close()

	out := make(map[int64][]float32)
	for rows.Next() {
		var id int64
		var raw []byte
		if err := rows.Scan(&id, &raw); err != nil {
			return nil, apperr.Wrap(apperr.Storage, "scan embedding", err)
		}
		out[id] = decodeVec(raw)
	}
	return out, rows.Err()
}

// --- Person operations ---

func (s *SQLiteStore) CreatePerson(ctx context.Context, name string, vec []float32) (*Person, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	res, err := s.db.ExecContext(ctx, `INSERT INTO people(name, vec, samples, active) VALUES (?, ?, 1, 1)`, name, encodeVec(vec))
	if err != nil {
		if strings.Contains(err.Error(), "UNIQUE") {
			return nil, apperr.Conflictf("person %q already enrolled", name)
		}
		return nil, apperr.Wrap(apperr.Storage, "create person", err)
	}
	id, _ := res.LastInsertId()
	return &Person{ID: id, Name: name, Vec: vec, Samples: 1, Active: true}, nil
}

func scanPerson(row interface{ Scan(...any) error }) (*Person, error) {
	p := &Person{}
	var vec []byte
	if err := row.Scan(&p.ID, &p.Name, &vec, &p.Samples, &p.Active); err != nil {
		return nil, err
	}
	p.Vec = decodeVec(vec)
	return p, nil
}

func (s *SQLiteStore) GetPerson(ctx context.Context, id int64) (*Person, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	row := s.db.QueryRowContext(ctx, `SELECT id, name, vec, samples, active FROM people WHERE id = ?`, id)
	p, err := scanPerson(row)
	if err == sql.ErrNoRows {
		return nil, apperr.NotFoundf("person %d not found", id)
	}
	if err != nil {
		return nil, apperr.Wrap(apperr.Storage, "get person", err)
	}
	return p, nil
}

func (s *SQLiteStore) GetPersonByName(ctx context.Context, name string) (*Person, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	row := s.db.QueryRowContext(ctx, `SELECT id, name, vec, samples, active FROM people WHERE name = ?`, name)
	p, err := scanPerson(row)
	if err == sql.ErrNoRows {
		return nil, apperr.NotFoundf("person %q not found", name)
	}
	if err != nil {
		return nil, apperr.Wrap(apperr.Storage, "get person by name", err)
	}
	return p, nil
}

func (s *SQLiteStore) ListPeople(ctx context.Context) ([]*Person, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.QueryContext(ctx, `SELECT id, name, vec, samples, active FROM people ORDER BY name`)
	if err != nil {
		return nil, apperr.Wrap(apperr.Storage, "list people", err)
	}
	defer rows.Close()

	var out []*Person
	for rows.Next() {
		p, err := scanPerson(rows)
		if err != nil {
			return nil, apperr.Wrap(apperr.Storage, "scan person", err)
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

// AddPersonSample applies the weighted-mean averaging rule:
// v_new = normalize((n·v_old + v_sample)/(n+1)).
func (s *SQLiteStore) AddPersonSample(ctx context.Context, personID int64, vec []float32) (*Person, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	row := s.db.QueryRowContext(ctx, `SELECT id, name, vec, samples, active FROM people WHERE id = ?`, personID)
	p, err := scanPerson(row)
	if err == sql.ErrNoRows {
		return nil, apperr.NotFoundf("person %d not found", personID)
	}
	if err != nil {
		return nil, apperr.Wrap(apperr.Storage, "get person for sample", err)
	}

	n := float64(p.Samples)
	merged := make([]float32, len(p.Vec))
	for i := range merged {
		merged[i] = float32((n*float64(p.Vec[i]) + float64(vec[i])) / (n + 1))
	}
	normalizeL2(merged)

	p.Vec = merged
	p.Samples++

	if _, err := s.db.ExecContext(ctx, `UPDATE people SET vec = ?, samples = ? WHERE id = ?`, encodeVec(p.Vec), p.Samples, p.ID); err != nil {
		return nil, apperr.Wrap(apperr.Storage, "update person sample", err)
	}
	return p, nil
}

func (s *SQLiteStore) DeletePerson(ctx context.Context, id int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, err := s.db.ExecContext(ctx, `DELETE FROM people WHERE id = ?`, id); err != nil {
		return apperr.Wrap(apperr.Storage, "delete person", err)
	}
	return nil
}

func normalizeL2(v []float32) {
	var sumSquares float64
	for _, f := range v {
		sumSquares += float64(f) * float64(f)
	}
	if sumSquares == 0 {
		return
	}
	inv := float32(1.0 / math.Sqrt(sumSquares))
	for i := range v {
		v[i] *= inv
	}
}

// --- Text query ---

func hasTable(ctx context.Context, db *sql.DB, name string) bool {
	var count int
	_ = db.QueryRowContext(ctx, `SELECT COUNT(*) FROM sqlite_master WHERE type='table' AND name = ?`, name).Scan(&count)
	return count > 0
}

// tokenizeQuery splits a search string on whitespace into lowercase
// terms. Each term is matched independently against every signal, so
// "wedding smith 2023" hits wedding_smith_2023.jpg even though the
// literal phrase never appears verbatim in the filename.
func tokenizeQuery(q string) []string {
	fields := strings.Fields(q)
	terms := make([]string, 0, len(fields))
	for _, f := range fields {
		terms = append(terms, strings.ToLower(f))
	}
	return terms
}

// TextQuery scores candidates by a cascade of signals (filename,
// folder, exif make/model, optional OCR full-text), badges each match,
// and breaks ties by modification-time descending. The OCR table is
// detected at query time via sqlite_master rather than required. q is
// tokenized on whitespace; a source badges if any term hits it, and a
// row's score is the total number of term hits across all sources.
func (s *SQLiteStore) TextQuery(ctx context.Context, q string, filters TextQueryFilters, limit, offset int) (*TextQueryResponse, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	terms := tokenizeQuery(q)
	if len(terms) == 0 {
		return &TextQueryResponse{}, nil
	}
	hasOCR := hasTable(ctx, s.db, "ocr_text")

	var filenameParts, folderParts, exifParts, ocrParts []string
	var filenameArgs, folderArgs, exifArgs, ocrArgs []any
	for _, term := range terms {
		like := "%" + term + "%"
		filenameParts = append(filenameParts, `(CASE WHEN p.filename LIKE ? THEN 1 ELSE 0 END)`)
		filenameArgs = append(filenameArgs, like)
		folderParts = append(folderParts, `(CASE WHEN p.folder LIKE ? THEN 1 ELSE 0 END)`)
		folderArgs = append(folderArgs, like)
		exifParts = append(exifParts, `(CASE WHEN e.camera_make LIKE ? OR e.camera_model LIKE ? THEN 1 ELSE 0 END)`)
		exifArgs = append(exifArgs, like, like)
		if hasOCR {
			ocrParts = append(ocrParts, `(CASE WHEN EXISTS (SELECT 1 FROM ocr_text o WHERE o.photo_id = p.id AND o.text LIKE ?) THEN 1 ELSE 0 END)`)
			ocrArgs = append(ocrArgs, like)
		}
	}
	if !hasOCR {
		ocrParts = []string{"0"}
	}

	sb := strings.Builder{}
	sb.WriteString(`
		SELECT * FROM (
			SELECT p.` + strings.ReplaceAll(photoColumns, ", ", ", p.") + `,
				(` + strings.Join(filenameParts, " + ") + `) AS m_filename,
				(` + strings.Join(folderParts, " + ") + `) AS m_folder,
				(` + strings.Join(exifParts, " + ") + `) AS m_exif,
				(` + strings.Join(ocrParts, " + ") + `) AS m_ocr
			FROM photos p LEFT JOIN exif_records e ON e.photo_id = p.id WHERE 1=1
	`)
	args := append(append(append(append([]any{}, filenameArgs...), folderArgs...), exifArgs...), ocrArgs...)

	if filters.FolderPrefix != "" {
		sb.WriteString(` AND p.folder LIKE ?`)
		args = append(args, filters.FolderPrefix+"%")
	}
	if len(filters.Extensions) > 0 {
		placeholders := make([]string, len(filters.Extensions))
		for i, ext := range filters.Extensions {
			placeholders[i] = "?"
			args = append(args, ext)
		}
		sb.WriteString(` AND p.ext IN (` + strings.Join(placeholders, ",") + `)`)
	}
	if filters.ShotFrom != nil {
		sb.WriteString(` AND COALESCE(e.capture_dt, p.modified_at) >= ?`)
		args = append(args, *filters.ShotFrom)
	}
	if filters.ShotTo != nil {
		sb.WriteString(` AND COALESCE(e.capture_dt, p.modified_at) <= ?`)
		args = append(args, *filters.ShotTo)
	}

	sb.WriteString(`
		) WHERE (m_filename + m_folder + m_exif + m_ocr) > 0
		ORDER BY (m_filename + m_folder + m_exif + m_ocr) DESC, modified_at DESC
		LIMIT ? OFFSET ?`)
	args = append(args, limit, offset)

	rows, err := s.db.QueryContext(ctx, sb.String(), args...)
	if err != nil {
		return nil, apperr.Wrap(apperr.Storage, "text query", err)
	}
	defer rows.Close()

	var items []*TextQueryResult
	for rows.Next() {
		p := &Photo{}
		var phash sql.NullString
		var indexedAt sql.NullTime
		var mFilename, mFolder, mExif, mOCR int
		if err := rows.Scan(&p.ID, &p.Path, &p.Folder, &p.Filename, &p.Ext, &p.SizeBytes,
			&p.CreatedAt, &p.ModifiedAt, &p.SHA1, &phash, &indexedAt, &p.IndexVersion,
			&mFilename, &mFolder, &mExif, &mOCR); err != nil {
			return nil, apperr.Wrap(apperr.Storage, "scan text query row", err)
		}
		if phash.Valid {
			v := phash.String
			p.PHash = &v
		}
		if indexedAt.Valid {
			t := indexedAt.Time
			p.IndexedAt = &t
		}

		var badges []Badge
		score := 0
		if mFilename > 0 {
			badges = append(badges, BadgeFilename)
		}
		if mFolder > 0 {
			badges = append(badges, BadgeFolder)
		}
		if mExif > 0 {
			badges = append(badges, BadgeExif)
		}
		if mOCR > 0 {
			badges = append(badges, BadgeOCR)
		}
		score = mFilename + mFolder + mExif + mOCR
		items = append(items, &TextQueryResult{Photo: p, Score: score, Badges: badges})
	}
	if err := rows.Err(); err != nil {
		return nil, apperr.Wrap(apperr.Storage, "iterate text query rows", err)
	}

	return &TextQueryResponse{Items: items, TotalMatches: len(items)}, nil
}

// --- Settings ---

func (s *SQLiteStore) GetSetting(ctx context.Context, key string) (string, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var value string
	err := s.db.QueryRowContext(ctx, `SELECT value FROM settings WHERE key = ?`, key).Scan(&value)
	if err == sql.ErrNoRows {
		return "", false, nil
	}
	if err != nil {
		return "", false, apperr.Wrap(apperr.Storage, "get setting", err)
	}
	return value, true, nil
}

func (s *SQLiteStore) SetSetting(ctx context.Context, key, value string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO settings(key, value) VALUES (?, ?)
		ON CONFLICT(key) DO UPDATE SET value = excluded.value
	`, key, value)
	if err != nil {
		return apperr.Wrap(apperr.Storage, "set setting", err)
	}
	return nil
}

// --- Drive aliases ---

func (s *SQLiteStore) UpsertDriveAlias(ctx context.Context, a *DriveAlias) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO drive_aliases(device_id, name, last_mount, last_seen_at) VALUES (?, ?, ?, ?)
		ON CONFLICT(device_id) DO UPDATE SET name=excluded.name, last_mount=excluded.last_mount, last_seen_at=excluded.last_seen_at
	`, a.DeviceID, a.Name, a.LastMount, a.LastSeenAt)
	if err != nil {
		return apperr.Wrap(apperr.Storage, "upsert drive alias", err)
	}
	return nil
}

func (s *SQLiteStore) GetDriveAlias(ctx context.Context, deviceID string) (*DriveAlias, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	a := &DriveAlias{DeviceID: deviceID}
	err := s.db.QueryRowContext(ctx, `SELECT name, last_mount, last_seen_at FROM drive_aliases WHERE device_id = ?`, deviceID).
		Scan(&a.Name, &a.LastMount, &a.LastSeenAt)
	if err == sql.ErrNoRows {
		return nil, apperr.NotFoundf("drive alias %q not found", deviceID)
	}
	if err != nil {
		return nil, apperr.Wrap(apperr.Storage, "get drive alias", err)
	}
	return a, nil
}

// --- Stats ---

func (s *SQLiteStore) Stats(ctx context.Context) (*Stats, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	st := &Stats{}
	queries := map[string]*int{
		`SELECT COUNT(*) FROM photos`:      &st.PhotoCount,
		`SELECT COUNT(*) FROM exif_records`: &st.ExifCount,
		`SELECT COUNT(*) FROM embeddings`:   &st.EmbeddingCount,
		`SELECT COUNT(*) FROM thumbnails`:   &st.ThumbnailCount,
		`SELECT COUNT(*) FROM people`:       &st.PersonCount,
		`SELECT COUNT(*) FROM faces`:        &st.FaceCount,
	}
	for query, dest := range queries {
		if err := s.db.QueryRowContext(ctx, query).Scan(dest); err != nil {
			return nil, apperr.Wrap(apperr.Storage, "stats query", err)
		}
	}
	return st, nil
}
