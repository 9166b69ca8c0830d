// Package walker scans directory trees into file records for the bulk build
// and stats single paths for the updater, applying the same exclusion rules
// to both.
package walker

import (
	"context"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/mg52/unfold/internal/engine"
	"github.com/mg52/unfold/internal/model"
)

// Options configures which paths are indexed.
type Options struct {
	Roots              []string
	Recursive          bool
	IncludeHidden      bool
	IncludeDirs        bool
	ExcludedExtensions []string // with or without the dot
	ExcludedPaths      []string // path components skipped anywhere below a root
	Logger             *slog.Logger
}

// DefaultOptions returns the exclusion rules used when nothing is
// configured.
func DefaultOptions() Options {
	return Options{
		Recursive:          true,
		IncludeDirs:        true,
		ExcludedExtensions: []string{"tmp", "temp", "log", "cache", "lock"},
		ExcludedPaths:      []string{".git", ".svn", "node_modules", "__pycache__", ".DS_Store"},
	}
}

// Walker implements engine.Source over a set of root directories.
type Walker struct {
	opts   Options
	roots  []string
	exts   map[string]struct{}
	paths  map[string]struct{}
	logger *slog.Logger
}

// New returns a walker for opts. Roots are made absolute.
func New(opts Options) (*Walker, error) {
	if opts.Logger == nil {
		opts.Logger = slog.New(slog.DiscardHandler)
	}
	w := &Walker{
		opts:   opts,
		exts:   make(map[string]struct{}, len(opts.ExcludedExtensions)),
		paths:  make(map[string]struct{}, len(opts.ExcludedPaths)),
		logger: opts.Logger,
	}
	for _, root := range opts.Roots {
		abs, err := filepath.Abs(root)
		if err != nil {
			return nil, fmt.Errorf("%w: root %q: %v", engine.ErrInvalidArgument, root, err)
		}
		w.roots = append(w.roots, abs)
	}
	for _, ext := range opts.ExcludedExtensions {
		w.exts[strings.ToLower(strings.TrimPrefix(ext, "."))] = struct{}{}
	}
	for _, p := range opts.ExcludedPaths {
		w.paths[p] = struct{}{}
	}
	return w, nil
}

// Roots returns the absolute roots being scanned.
func (w *Walker) Roots() []string { return w.roots }

// Excluded reports whether the entry name, one of its parent components or
// its extension keeps path out of the index.
func (w *Walker) Excluded(path string, isDir bool) bool {
	name := filepath.Base(path)
	if !w.opts.IncludeHidden && strings.HasPrefix(name, ".") && name != "." && name != ".." {
		return true
	}
	for _, part := range strings.Split(filepath.ToSlash(path), "/") {
		if _, ok := w.paths[part]; ok {
			return true
		}
	}
	if isDir {
		return !w.opts.IncludeDirs
	}
	_, ok := w.exts[model.Ext(name)]
	return ok
}

// Walk sends a record for every indexable entry below the roots. Entries
// that cannot be read are logged and skipped; an unreadable root fails the
// walk with ErrIOFailure.
func (w *Walker) Walk(ctx context.Context, out chan<- model.FileRecord) error {
	for _, root := range w.roots {
		info, err := os.Stat(root)
		if err != nil {
			return fmt.Errorf("walk %s: %w: %v", root, engine.ErrIOFailure, err)
		}
		if !info.IsDir() {
			return fmt.Errorf("walk %s: %w: not a directory", root, engine.ErrInvalidArgument)
		}
		if err := w.walkRoot(ctx, root, out); err != nil {
			return err
		}
	}
	return nil
}

func (w *Walker) walkRoot(ctx context.Context, root string, out chan<- model.FileRecord) error {
	sent := 0
	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if cerr := ctx.Err(); cerr != nil {
			return cerr
		}
		if err != nil {
			w.logger.Debug("walk_entry_skipped", "path", path, "err", err)
			if d != nil && d.IsDir() && path != root {
				return filepath.SkipDir
			}
			return nil
		}
		if path == root {
			return nil
		}
		if d.IsDir() && w.SkipDir(path) {
			return filepath.SkipDir
		}
		var next error
		if d.IsDir() && !w.opts.Recursive {
			next = filepath.SkipDir
		}
		if w.Excluded(rel(root, path), d.IsDir()) {
			return next
		}
		info, err := d.Info()
		if err != nil {
			w.logger.Debug("walk_entry_skipped", "path", path, "err", err)
			return next
		}
		select {
		case out <- recordFor(path, info):
			sent++
		case <-ctx.Done():
			return ctx.Err()
		}
		return next
	})
	w.logger.Debug("walk_root_done", "root", root, "records", sent)
	return err
}

// SkipDir reports whether nothing below the directory at path is indexed.
func (w *Walker) SkipDir(path string) bool {
	name := filepath.Base(path)
	if _, ok := w.paths[name]; ok {
		return true
	}
	return !w.opts.IncludeHidden && strings.HasPrefix(name, ".")
}

// Stat returns the record of path as Walk would produce it. It fails with
// an error matching fs.ErrNotExist for a vanished path and engine.ErrExcluded
// for a path outside the roots or excluded by the rules.
func (w *Walker) Stat(path string) (model.FileRecord, error) {
	path = filepath.Clean(path)
	root, ok := w.rootOf(path)
	if !ok {
		return model.FileRecord{}, fmt.Errorf("stat %s: outside the indexed roots: %w", path, engine.ErrExcluded)
	}
	info, err := os.Lstat(path)
	if err != nil {
		return model.FileRecord{}, fmt.Errorf("stat %s: %w", path, err)
	}
	if w.ignored(root, path, info.IsDir()) {
		return model.FileRecord{}, fmt.Errorf("stat %s: %w", path, engine.ErrExcluded)
	}
	return recordFor(path, info), nil
}

// Ignored reports whether an absolute path would be left out of a walk.
// Paths outside the roots are ignored.
func (w *Walker) Ignored(path string, isDir bool) bool {
	path = filepath.Clean(path)
	root, ok := w.rootOf(path)
	return !ok || w.ignored(root, path, isDir)
}

func (w *Walker) ignored(root, path string, isDir bool) bool {
	r := rel(root, path)
	if w.Excluded(r, isDir) || w.hiddenParent(r) {
		return true
	}
	return !w.opts.Recursive && strings.ContainsRune(filepath.ToSlash(r), '/')
}

// hiddenParent reports whether a directory above r is hidden.
func (w *Walker) hiddenParent(r string) bool {
	if w.opts.IncludeHidden {
		return false
	}
	parts := strings.Split(filepath.ToSlash(r), "/")
	for _, part := range parts[:len(parts)-1] {
		if strings.HasPrefix(part, ".") {
			return true
		}
	}
	return false
}

func (w *Walker) rootOf(path string) (string, bool) {
	for _, root := range w.roots {
		if path == root {
			continue
		}
		prefix := strings.TrimSuffix(root, string(filepath.Separator)) + string(filepath.Separator)
		if strings.HasPrefix(path, prefix) {
			return root, true
		}
	}
	return "", false
}

func rel(root, path string) string {
	r, err := filepath.Rel(root, path)
	if err != nil {
		return path
	}
	return r
}

func recordFor(path string, info fs.FileInfo) model.FileRecord {
	dev, ino := devIno(info)
	size := info.Size()
	if info.IsDir() {
		size = 0
	}
	return model.NewFileRecord(path, size, info.ModTime(), info.IsDir(), dev, ino)
}
