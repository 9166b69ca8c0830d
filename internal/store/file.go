package store

import (
	"bufio"
	"context"
	"encoding/gob"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/mg52/unfold/internal/engine"
)

const fileMagic = "unfold-snapshot"

// fileHeader precedes the snapshot so the schema can be checked before the
// payload is decoded.
type fileHeader struct {
	Magic  string
	Schema int
}

// FileStore keeps one snapshot in a gob file.
type FileStore struct {
	path string
}

// NewFileStore returns a store writing to path.
func NewFileStore(path string) *FileStore {
	return &FileStore{path: path}
}

// Path returns the snapshot file location.
func (s *FileStore) Path() string { return s.path }

// Save writes snap to a temporary file next to the target and renames it
// into place, so a crash never leaves a half-written snapshot.
func (s *FileStore) Save(ctx context.Context, snap engine.Snapshot) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	dir := filepath.Dir(s.path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create %s: %w", dir, err)
	}
	f, err := os.CreateTemp(dir, filepath.Base(s.path)+".*.tmp")
	if err != nil {
		return fmt.Errorf("create temp snapshot: %w", err)
	}
	tmp := f.Name()
	defer os.Remove(tmp)

	w := bufio.NewWriter(f)
	enc := gob.NewEncoder(w)
	if err := enc.Encode(fileHeader{Magic: fileMagic, Schema: snap.Schema}); err != nil {
		f.Close()
		return fmt.Errorf("encode snapshot header: %w", err)
	}
	if err := enc.Encode(snap); err != nil {
		f.Close()
		return fmt.Errorf("encode snapshot: %w", err)
	}
	if err := w.Flush(); err != nil {
		f.Close()
		return fmt.Errorf("write %s: %w", tmp, err)
	}
	if err := f.Sync(); err != nil {
		f.Close()
		return fmt.Errorf("sync %s: %w", tmp, err)
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("close %s: %w", tmp, err)
	}
	if err := os.Rename(tmp, s.path); err != nil {
		return fmt.Errorf("rename %s: %w", s.path, err)
	}
	return nil
}

// Load reads the snapshot back.
func (s *FileStore) Load(ctx context.Context) (engine.Snapshot, error) {
	if err := ctx.Err(); err != nil {
		return engine.Snapshot{}, err
	}
	f, err := os.Open(s.path)
	if errors.Is(err, fs.ErrNotExist) {
		return engine.Snapshot{}, ErrNoSnapshot
	}
	if err != nil {
		return engine.Snapshot{}, fmt.Errorf("open %s: %w", s.path, err)
	}
	defer f.Close()

	dec := gob.NewDecoder(bufio.NewReader(f))
	var hdr fileHeader
	if err := dec.Decode(&hdr); err != nil || hdr.Magic != fileMagic {
		return engine.Snapshot{}, fmt.Errorf("%s: not a snapshot file: %w", s.path, engine.ErrCorrupt)
	}
	if hdr.Schema != engine.SchemaVersion {
		return engine.Snapshot{}, fmt.Errorf("%s has schema %d, want %d: %w", s.path, hdr.Schema, engine.SchemaVersion, ErrSchemaMismatch)
	}
	var snap engine.Snapshot
	if err := dec.Decode(&snap); err != nil {
		return engine.Snapshot{}, fmt.Errorf("decode %s: %w: %v", s.path, engine.ErrCorrupt, err)
	}
	return snap, nil
}

// Close is a no-op; the file is only open during Save and Load.
func (s *FileStore) Close() error { return nil }
