package engine

import (
	"errors"
	"fmt"
)

var (
	ErrNotFound        = errors.New("not found")
	ErrAlreadyExists   = errors.New("already exists")
	ErrInvalidArgument = errors.New("invalid argument")
	ErrIOFailure       = errors.New("io failure")
	ErrBuildFailed     = errors.New("build failed")
	// ErrExcluded marks a path the exclusion rules keep out of the index.
	ErrExcluded = errors.New("path excluded")
	// ErrCorrupt is fatal: mutations are refused until Rebuild or Restore.
	ErrCorrupt = errors.New("index corrupt")
	// ErrSchemaMismatch marks a snapshot written by an incompatible version.
	ErrSchemaMismatch = errors.New("snapshot schema mismatch")
)

// BuildError reports a bulk build that did not complete. Progress is the
// number of records committed before it stopped; those stay indexed.
type BuildError struct {
	Progress int
	Err      error
}

func (e *BuildError) Error() string {
	return fmt.Sprintf("build failed after %d records: %v", e.Progress, e.Err)
}

func (e *BuildError) Unwrap() []error { return []error{ErrBuildFailed, e.Err} }

func isNotFound(err error) bool { return errors.Is(err, ErrNotFound) }
