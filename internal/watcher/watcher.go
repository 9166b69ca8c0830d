// Package watcher turns fsnotify notifications below the indexed roots into
// change events for the updater.
package watcher

import (
	"context"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/mg52/unfold/internal/model"
)

// Sink receives change events. Enqueue may block for backpressure.
type Sink interface {
	Enqueue(ctx context.Context, ev model.ChangeEvent) error
}

// Filter holds the exclusion rules shared with the bulk walk.
type Filter interface {
	Ignored(path string, isDir bool) bool
	SkipDir(path string) bool
}

// Options configures a Watcher.
type Options struct {
	Roots     []string
	Recursive bool
	// Debounce delays write notifications until a path has been quiet this
	// long. Zero forwards every write.
	Debounce time.Duration
	Logger   *slog.Logger
}

// Watcher forwards file-system changes to a Sink.
type Watcher struct {
	fsw    *fsnotify.Watcher
	sink   Sink
	filter Filter
	opts   Options
	logger *slog.Logger
	now    func() time.Time

	mu      sync.Mutex
	pending map[string]*time.Timer
	wg      sync.WaitGroup
}

// New creates a watcher. Nothing is watched until Run.
func New(sink Sink, filter Filter, opts Options) (*Watcher, error) {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("watcher: %w", err)
	}
	if opts.Logger == nil {
		opts.Logger = slog.New(slog.DiscardHandler)
	}
	return &Watcher{
		fsw:     fsw,
		sink:    sink,
		filter:  filter,
		opts:    opts,
		logger:  opts.Logger,
		now:     time.Now,
		pending: make(map[string]*time.Timer),
	}, nil
}

// Run watches the roots and forwards events until ctx is done. The
// underlying watcher is closed on return.
func (w *Watcher) Run(ctx context.Context) error {
	defer w.close()
	for _, root := range w.opts.Roots {
		abs, err := filepath.Abs(root)
		if err != nil {
			return fmt.Errorf("watcher: root %s: %w", root, err)
		}
		if err := w.fsw.Add(abs); err != nil {
			return fmt.Errorf("watcher: watch %s: %w", abs, err)
		}
		if w.opts.Recursive {
			w.addTree(ctx, abs, false)
		}
	}
	w.logger.Info("watcher_started", "roots", w.opts.Roots, "watches", len(w.fsw.WatchList()))

	for {
		select {
		case <-ctx.Done():
			return nil
		case event, ok := <-w.fsw.Events:
			if !ok {
				return nil
			}
			w.handle(ctx, event)
		case err, ok := <-w.fsw.Errors:
			if !ok {
				return nil
			}
			w.logger.Warn("watcher_error", "err", err)
		}
	}
}

func (w *Watcher) close() {
	w.mu.Lock()
	for path, t := range w.pending {
		if t.Stop() {
			w.wg.Done()
		}
		delete(w.pending, path)
	}
	w.mu.Unlock()
	w.wg.Wait()
	if err := w.fsw.Close(); err != nil {
		w.logger.Warn("watcher_close_failed", "err", err)
	}
	w.logger.Info("watcher_stopped")
}

func (w *Watcher) handle(ctx context.Context, event fsnotify.Event) {
	path := filepath.Clean(event.Name)
	switch {
	case event.Has(fsnotify.Create):
		info, err := os.Lstat(path)
		if err != nil {
			// Gone again before we looked; a Remove follows.
			return
		}
		if info.IsDir() && w.opts.Recursive && !w.filter.SkipDir(path) {
			if err := w.fsw.Add(path); err != nil {
				w.logger.Warn("watcher_add_failed", "path", path, "err", err)
			}
			// Entries created before the watch was in place produce no
			// notification of their own.
			w.addTree(ctx, path, true)
		}
		if !w.filter.Ignored(path, info.IsDir()) {
			w.emit(ctx, path, model.Created)
		}
	case event.Has(fsnotify.Write):
		if w.filter.Ignored(path, false) {
			return
		}
		w.debounce(ctx, path)
	case event.Has(fsnotify.Remove):
		if w.ignoredAny(path) {
			return
		}
		w.cancelPending(path)
		w.emit(ctx, path, model.Deleted)
	case event.Has(fsnotify.Rename):
		// fsnotify reports the old name only; the new name arrives as a
		// Create and the updater pairs the two by inode.
		if w.ignoredAny(path) {
			return
		}
		w.cancelPending(path)
		w.emit(ctx, path, model.RenamedFrom)
	}
}

// ignoredAny is used when the entry is gone and its type unknown.
func (w *Watcher) ignoredAny(path string) bool {
	return w.filter.Ignored(path, false) && w.filter.Ignored(path, true)
}

// addTree watches every directory below dir. With announce set, entries
// found are also emitted as created.
func (w *Watcher) addTree(ctx context.Context, dir string, announce bool) {
	err := filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return nil
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if path == dir {
			return nil
		}
		if d.IsDir() {
			if w.filter.SkipDir(path) {
				return filepath.SkipDir
			}
			if err := w.fsw.Add(path); err != nil {
				w.logger.Debug("watcher_add_failed", "path", path, "err", err)
			}
		}
		if announce && !w.filter.Ignored(path, d.IsDir()) {
			w.emit(ctx, path, model.Created)
		}
		return nil
	})
	if err != nil && ctx.Err() == nil {
		w.logger.Warn("watcher_walk_failed", "dir", dir, "err", err)
	}
}

// debounce forwards a write once path has been quiet for Debounce.
func (w *Watcher) debounce(ctx context.Context, path string) {
	if w.opts.Debounce <= 0 {
		w.emit(ctx, path, model.Modified)
		return
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	if t, ok := w.pending[path]; ok {
		if t.Stop() {
			w.wg.Done()
		}
	}
	w.wg.Add(1)
	var t *time.Timer
	t = time.AfterFunc(w.opts.Debounce, func() {
		defer w.wg.Done()
		w.mu.Lock()
		if w.pending[path] == t {
			delete(w.pending, path)
		}
		w.mu.Unlock()
		w.emit(ctx, path, model.Modified)
	})
	w.pending[path] = t
}

func (w *Watcher) cancelPending(path string) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if t, ok := w.pending[path]; ok {
		if t.Stop() {
			w.wg.Done()
		}
		delete(w.pending, path)
	}
}

func (w *Watcher) emit(ctx context.Context, path string, kind model.ChangeKind) {
	ev := model.ChangeEvent{Path: path, Kind: kind, Time: w.now()}
	if err := w.sink.Enqueue(ctx, ev); err != nil && ctx.Err() == nil {
		w.logger.Warn("watcher_enqueue_failed", "path", path, "kind", kind, "err", err)
	}
}
