// Package store persists engine snapshots, either as a single gob file or in
// a SQLite database.
package store

import (
	"context"
	"errors"
	"path/filepath"
	"strings"

	"github.com/mg52/unfold/internal/engine"
)

var (
	// ErrNoSnapshot is returned by Load when nothing was saved yet.
	ErrNoSnapshot = errors.New("no snapshot")
	// ErrSchemaMismatch is returned by Load for a snapshot written with
	// another schema. Callers discard it and rebuild from the file system.
	ErrSchemaMismatch = engine.ErrSchemaMismatch
)

// Store saves and loads engine snapshots.
type Store interface {
	Save(ctx context.Context, snap engine.Snapshot) error
	Load(ctx context.Context) (engine.Snapshot, error)
	Close() error
}

// Open picks the backend from the file extension: ".db", ".sqlite" and
// ".sqlite3" open a SQLiteStore, anything else a FileStore.
func Open(path string) (Store, error) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".db", ".sqlite", ".sqlite3":
		return OpenSQLite(path)
	}
	return NewFileStore(path), nil
}
