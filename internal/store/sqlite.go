package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	_ "modernc.org/sqlite" // pure Go driver, registers "sqlite"

	"github.com/mg52/unfold/internal/access"
	"github.com/mg52/unfold/internal/engine"
	"github.com/mg52/unfold/internal/model"
)

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS metadata (
    key TEXT PRIMARY KEY,
    value TEXT NOT NULL
) WITHOUT ROWID;

CREATE TABLE IF NOT EXISTS files (
    id TEXT PRIMARY KEY,
    path TEXT NOT NULL UNIQUE,
    name TEXT NOT NULL,
    ext TEXT NOT NULL,
    size INTEGER NOT NULL,
    mod_time INTEGER NOT NULL, -- unix nanoseconds
    is_dir INTEGER NOT NULL,
    dev INTEGER NOT NULL,
    inode INTEGER NOT NULL
) WITHOUT ROWID;

CREATE TABLE IF NOT EXISTS access (
    id TEXT PRIMARY KEY,
    count INTEGER NOT NULL,
    last_access INTEGER NOT NULL -- unix nanoseconds
) WITHOUT ROWID;
`

const (
	metaSchema  = "schema_version"
	metaVersion = "index_version"
	metaBuiltAt = "built_at"
)

// SQLiteStore keeps the snapshot in a SQLite database.
type SQLiteStore struct {
	db   *sql.DB
	path string
}

// OpenSQLite opens or creates the database at path.
func OpenSQLite(path string) (*SQLiteStore, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create database directory: %w", err)
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	// SQLite allows one writer at a time.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA synchronous=NORMAL",
		"PRAGMA temp_store=MEMORY",
	} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, fmt.Errorf("set pragma: %w", err)
		}
	}
	if _, err := db.Exec(sqliteSchema); err != nil {
		db.Close()
		return nil, fmt.Errorf("initialize schema: %w", err)
	}
	return &SQLiteStore{db: db, path: path}, nil
}

// Path returns the database location.
func (s *SQLiteStore) Path() string { return s.path }

// Save replaces the stored snapshot with snap in one transaction.
func (s *SQLiteStore) Save(ctx context.Context, snap engine.Snapshot) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("%w: begin: %v", engine.ErrIOFailure, err)
	}
	defer tx.Rollback()

	for _, table := range []string{"files", "access", "metadata"} {
		if _, err := tx.ExecContext(ctx, "DELETE FROM "+table); err != nil {
			return fmt.Errorf("clear %s: %w", table, err)
		}
	}

	files, err := tx.PrepareContext(ctx, `INSERT INTO files
		(id, path, name, ext, size, mod_time, is_dir, dev, inode)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("prepare files: %w", err)
	}
	defer files.Close()
	for _, rec := range snap.Records {
		if _, err := files.ExecContext(ctx,
			string(rec.ID), rec.Path, rec.Name, rec.Ext, rec.Size,
			rec.ModTime.UnixNano(), rec.IsDir, int64(rec.Dev), int64(rec.Inode),
		); err != nil {
			return fmt.Errorf("insert %s: %w", rec.Path, err)
		}
	}

	stats, err := tx.PrepareContext(ctx, `INSERT INTO access (id, count, last_access) VALUES (?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("prepare access: %w", err)
	}
	defer stats.Close()
	for _, e := range snap.Access {
		if _, err := stats.ExecContext(ctx, string(e.ID), e.Count, e.LastAccess.UnixNano()); err != nil {
			return fmt.Errorf("insert access %s: %w", e.ID, err)
		}
	}

	meta := map[string]string{
		metaSchema:  strconv.Itoa(snap.Schema),
		metaVersion: strconv.FormatUint(snap.Version, 10),
		metaBuiltAt: strconv.FormatInt(snap.BuiltAt.UnixNano(), 10),
	}
	for k, v := range meta {
		if _, err := tx.ExecContext(ctx, "INSERT INTO metadata (key, value) VALUES (?, ?)", k, v); err != nil {
			return fmt.Errorf("write metadata %s: %w", k, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("%w: commit: %v", engine.ErrIOFailure, err)
	}
	return nil
}

// Load reads the stored snapshot.
func (s *SQLiteStore) Load(ctx context.Context) (engine.Snapshot, error) {
	meta, err := s.metadata(ctx)
	if err != nil {
		return engine.Snapshot{}, err
	}
	raw, ok := meta[metaSchema]
	if !ok {
		return engine.Snapshot{}, ErrNoSnapshot
	}
	schema, err := strconv.Atoi(raw)
	if err != nil {
		return engine.Snapshot{}, fmt.Errorf("schema_version %q: %w", raw, engine.ErrCorrupt)
	}
	if schema != engine.SchemaVersion {
		return engine.Snapshot{}, fmt.Errorf("%s has schema %d, want %d: %w", s.path, schema, engine.SchemaVersion, ErrSchemaMismatch)
	}

	snap := engine.Snapshot{Schema: schema}
	if v, err := strconv.ParseUint(meta[metaVersion], 10, 64); err == nil {
		snap.Version = v
	}
	if n, err := strconv.ParseInt(meta[metaBuiltAt], 10, 64); err == nil {
		snap.BuiltAt = time.Unix(0, n).UTC()
	}

	if snap.Records, err = s.records(ctx); err != nil {
		return engine.Snapshot{}, err
	}
	if snap.Access, err = s.access(ctx); err != nil {
		return engine.Snapshot{}, err
	}
	return snap, nil
}

func (s *SQLiteStore) metadata(ctx context.Context) (map[string]string, error) {
	rows, err := s.db.QueryContext(ctx, "SELECT key, value FROM metadata")
	if err != nil {
		return nil, fmt.Errorf("%w: read metadata: %v", engine.ErrIOFailure, err)
	}
	defer rows.Close()
	meta := make(map[string]string)
	for rows.Next() {
		var k, v string
		if err := rows.Scan(&k, &v); err != nil {
			return nil, fmt.Errorf("scan metadata: %w", err)
		}
		meta[k] = v
	}
	return meta, rows.Err()
}

func (s *SQLiteStore) records(ctx context.Context) ([]model.FileRecord, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT id, path, name, ext, size, mod_time, is_dir, dev, inode
		FROM files ORDER BY path`)
	if err != nil {
		return nil, fmt.Errorf("%w: read files: %v", engine.ErrIOFailure, err)
	}
	defer rows.Close()
	var out []model.FileRecord
	for rows.Next() {
		var (
			rec        model.FileRecord
			id         string
			modTime    int64
			dev, inode int64
		)
		if err := rows.Scan(&id, &rec.Path, &rec.Name, &rec.Ext, &rec.Size, &modTime, &rec.IsDir, &dev, &inode); err != nil {
			return nil, fmt.Errorf("scan file: %w", err)
		}
		rec.ID = model.FileID(id)
		rec.ModTime = time.Unix(0, modTime).UTC()
		rec.Dev, rec.Inode = uint64(dev), uint64(inode)
		out = append(out, rec)
	}
	return out, rows.Err()
}

func (s *SQLiteStore) access(ctx context.Context) ([]access.Entry, error) {
	rows, err := s.db.QueryContext(ctx, "SELECT id, count, last_access FROM access ORDER BY id")
	if err != nil {
		return nil, fmt.Errorf("%w: read access: %v", engine.ErrIOFailure, err)
	}
	defer rows.Close()
	var out []access.Entry
	for rows.Next() {
		var (
			e    access.Entry
			id   string
			last int64
		)
		if err := rows.Scan(&id, &e.Count, &last); err != nil {
			return nil, fmt.Errorf("scan access: %w", err)
		}
		e.ID = model.FileID(id)
		e.LastAccess = time.Unix(0, last).UTC()
		out = append(out, e)
	}
	return out, rows.Err()
}

// SetSchema overwrites the stored schema version. Used by migrations.
func (s *SQLiteStore) SetSchema(ctx context.Context, schema int) error {
	_, err := s.db.ExecContext(ctx, `INSERT INTO metadata (key, value) VALUES (?, ?)
		ON CONFLICT(key) DO UPDATE SET value = excluded.value`, metaSchema, strconv.Itoa(schema))
	if err != nil {
		return fmt.Errorf("write schema: %w", err)
	}
	return nil
}

// Close closes the database.
func (s *SQLiteStore) Close() error {
	if err := s.db.Close(); err != nil && !errors.Is(err, sql.ErrConnDone) {
		return err
	}
	return nil
}
