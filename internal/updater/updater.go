// Package updater applies file-system change notifications to the index.
// Events are queued by the watcher and consumed by a single worker that
// coalesces bursts per path before touching the index.
package updater

import (
	"context"
	"errors"
	"io/fs"
	"log/slog"
	"path/filepath"
	"slices"
	"sync/atomic"
	"time"

	"github.com/mg52/unfold/internal/engine"
	"github.com/mg52/unfold/internal/model"
)

// Target is the index the updater mutates. *engine.Engine satisfies it.
type Target interface {
	Insert(rec model.FileRecord) error
	Update(id model.FileID, rec model.FileRecord) error
	Remove(id model.FileID) error
	RemoveTree(path string) (int, error)
	MoveTree(from, to string) (int, error)
	GetByPath(path string) (model.FileRecord, bool)
}

// Statter reads the current metadata of a path. It returns an error matching
// fs.ErrNotExist for a vanished path and engine.ErrExcluded for a path that
// must not be indexed.
type Statter interface {
	Stat(path string) (model.FileRecord, error)
}

// StatFunc adapts a function to Statter.
type StatFunc func(path string) (model.FileRecord, error)

func (f StatFunc) Stat(path string) (model.FileRecord, error) { return f(path) }

// Options configures an Updater.
type Options struct {
	QueueSize int           // capacity of the event queue
	BatchSize int           // events drained per batch
	Window    time.Duration // how long a batch waits for more events
	Logger    *slog.Logger
}

// DefaultOptions returns the options used when nothing is overridden.
func DefaultOptions() Options {
	return Options{
		QueueSize: 4096,
		BatchSize: 256,
		Window:    50 * time.Millisecond,
	}
}

// Stats are the updater's running counters.
type Stats struct {
	Received  int64 `json:"received"`
	Applied   int64 `json:"applied"`
	Coalesced int64 `json:"coalesced"`
	Dropped   int64 `json:"dropped"`
	Failed    int64 `json:"failed"`
	Pending   int   `json:"pending"`
}

// Updater is the single mutation stream between the watcher and the index.
type Updater struct {
	target Target
	stat   Statter
	opts   Options
	logger *slog.Logger
	queue  chan model.ChangeEvent

	received  atomic.Int64
	applied   atomic.Int64
	coalesced atomic.Int64
	dropped   atomic.Int64
	failed    atomic.Int64
}

// New returns an updater applying events to target.
func New(target Target, stat Statter, opts Options) *Updater {
	def := DefaultOptions()
	if opts.QueueSize < 1 {
		opts.QueueSize = def.QueueSize
	}
	if opts.BatchSize < 1 {
		opts.BatchSize = def.BatchSize
	}
	if opts.Window <= 0 {
		opts.Window = def.Window
	}
	if opts.Logger == nil {
		opts.Logger = slog.New(slog.DiscardHandler)
	}
	return &Updater{
		target: target,
		stat:   stat,
		opts:   opts,
		logger: opts.Logger,
		queue:  make(chan model.ChangeEvent, opts.QueueSize),
	}
}

// Enqueue queues ev, blocking while the queue is full.
func (u *Updater) Enqueue(ctx context.Context, ev model.ChangeEvent) error {
	select {
	case u.queue <- ev:
		u.received.Add(1)
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// TryEnqueue queues ev unless the queue is full, in which case the event is
// dropped and counted.
func (u *Updater) TryEnqueue(ev model.ChangeEvent) bool {
	select {
	case u.queue <- ev:
		u.received.Add(1)
		return true
	default:
		u.dropped.Add(1)
		u.logger.Warn("updater_event_dropped", "path", ev.Path, "kind", ev.Kind)
		return false
	}
}

// Stats returns a snapshot of the counters.
func (u *Updater) Stats() Stats {
	return Stats{
		Received:  u.received.Load(),
		Applied:   u.applied.Load(),
		Coalesced: u.coalesced.Load(),
		Dropped:   u.dropped.Load(),
		Failed:    u.failed.Load(),
		Pending:   len(u.queue),
	}
}

// Run consumes the queue until ctx is done. Each batch holds up to
// BatchSize events collected within Window of the first one.
func (u *Updater) Run(ctx context.Context) error {
	u.logger.Info("updater_started", "queue", cap(u.queue), "batch", u.opts.BatchSize)
	defer u.logger.Info("updater_stopped")
	for {
		var first model.ChangeEvent
		select {
		case <-ctx.Done():
			return nil
		case first = <-u.queue:
		}

		batch := []model.ChangeEvent{first}
		timer := time.NewTimer(u.opts.Window)
	collect:
		for len(batch) < u.opts.BatchSize {
			select {
			case ev := <-u.queue:
				batch = append(batch, ev)
			case <-timer.C:
				break collect
			case <-ctx.Done():
				break collect
			}
		}
		timer.Stop()
		u.Apply(batch)
	}
}

type opKind uint8

const (
	opUpsert opKind = iota
	opDelete
	opRenameFrom
)

type op struct {
	kind opKind
	path string
	seq  int
}

// Apply applies a batch synchronously. Events are coalesced per path to
// their net effect; a paired rename splits the batch so that events on
// either side of it are never merged across it. Rename-from events whose
// file does not reappear within the batch remove their record at the end.
func (u *Updater) Apply(events []model.ChangeEvent) {
	orphans := make(map[string]model.FileRecord)
	var segment []model.ChangeEvent
	for _, ev := range events {
		if ev.Kind == model.Renamed {
			u.applySegment(segment, orphans)
			segment = segment[:0]
			u.applyRename(ev, orphans)
			continue
		}
		segment = append(segment, ev)
	}
	u.applySegment(segment, orphans)

	paths := make([]string, 0, len(orphans))
	for path := range orphans {
		paths = append(paths, path)
	}
	slices.Sort(paths)
	for _, path := range paths {
		u.dropOrphan(orphans[path])
	}
}

// dropOrphan removes a renamed-away record whose new name never showed up,
// unless something else took its path in the meantime.
func (u *Updater) dropOrphan(o model.FileRecord) {
	cur, ok := u.target.GetByPath(o.Path)
	if !ok || cur.ID != o.ID {
		return
	}
	u.logger.Debug("updater_orphan_removed", "path", o.Path)
	if u.removeExisting(cur) {
		u.applied.Add(1)
	}
}

// coalesce reduces events to one operation per path, the last one received,
// ordered by arrival of that last event.
func (u *Updater) coalesce(events []model.ChangeEvent) []op {
	byPath := make(map[string]int, len(events))
	ops := make([]op, 0, len(events))
	for i, ev := range events {
		path := filepath.Clean(ev.Path)
		kind := opUpsert
		switch ev.Kind {
		case model.Deleted:
			kind = opDelete
		case model.RenamedFrom:
			kind = opRenameFrom
		}
		if j, ok := byPath[path]; ok {
			u.coalesced.Add(1)
			ops[j] = op{kind: kind, path: path, seq: i}
			continue
		}
		byPath[path] = len(ops)
		ops = append(ops, op{kind: kind, path: path, seq: i})
	}
	slices.SortStableFunc(ops, func(a, b op) int { return a.seq - b.seq })
	return ops
}

func (u *Updater) applySegment(events []model.ChangeEvent, orphans map[string]model.FileRecord) {
	if len(events) == 0 {
		return
	}
	ops := u.coalesce(events)
	// Rename-from only records an orphan, so registering them first lets a
	// rename-to anywhere in the segment find its source.
	for _, o := range ops {
		if o.kind != opRenameFrom {
			continue
		}
		if rec, ok := u.target.GetByPath(o.path); ok {
			orphans[o.path] = rec
		}
	}
	for _, o := range ops {
		switch o.kind {
		case opDelete:
			delete(orphans, o.path)
			u.delete(o.path)
		case opUpsert:
			u.upsert(o.path, orphans)
		}
	}
}

func (u *Updater) upsert(path string, orphans map[string]model.FileRecord) {
	rec, err := u.stat.Stat(path)
	switch {
	case errors.Is(err, fs.ErrNotExist):
		u.logger.Debug("updater_path_vanished", "path", path)
		u.delete(path)
		return
	case errors.Is(err, engine.ErrExcluded):
		u.delete(path)
		return
	case err != nil:
		u.fail("stat", path, err)
		return
	}

	existing, present := u.target.GetByPath(rec.Path)
	orphan, matched := matchOrphan(rec, orphans)
	// Another file at a renamed-away path replaces the record left there.
	delete(orphans, rec.Path)
	if matched {
		delete(orphans, orphan.Path)
		if present && existing.ID != orphan.ID && !u.removeExisting(existing) {
			return
		}
		u.move(orphan, rec)
		return
	}

	switch {
	case !present:
		u.mutate("insert", rec.Path, u.target.Insert(rec))
	case existing.ID == rec.ID || existing.SameFile(rec):
		u.mutate("update", rec.Path, u.target.Update(existing.ID, rec))
	default:
		if u.removeExisting(existing) {
			u.mutate("insert", rec.Path, u.target.Insert(rec))
		}
	}
}

// move carries old over to the path and metadata of rec, keeping its id.
func (u *Updater) move(old, rec model.FileRecord) {
	if old.IsDir && old.Path != rec.Path {
		if _, err := u.target.MoveTree(old.Path, rec.Path); err != nil {
			u.fail("move", old.Path, err)
			return
		}
	}
	u.mutate("update", rec.Path, u.target.Update(old.ID, rec))
}

func (u *Updater) applyRename(ev model.ChangeEvent, orphans map[string]model.FileRecord) {
	oldPath, newPath := filepath.Clean(ev.OldPath), filepath.Clean(ev.Path)
	delete(orphans, oldPath)
	old, ok := u.target.GetByPath(oldPath)
	if !ok {
		u.upsert(newPath, orphans)
		return
	}
	rec, err := u.stat.Stat(newPath)
	switch {
	case errors.Is(err, fs.ErrNotExist), errors.Is(err, engine.ErrExcluded):
		u.delete(oldPath)
		u.delete(newPath)
		return
	case err != nil:
		u.fail("stat", newPath, err)
		return
	}

	// Without inode numbers the rename itself is the only identity evidence.
	continuous := old.SameFile(rec) || old.Inode == 0 || rec.Inode == 0
	if !continuous {
		u.delete(oldPath)
		u.upsert(newPath, orphans)
		return
	}
	if existing, present := u.target.GetByPath(rec.Path); present && existing.ID != old.ID {
		if !u.removeExisting(existing) {
			return
		}
	}
	u.move(old, rec)
}

func matchOrphan(rec model.FileRecord, orphans map[string]model.FileRecord) (model.FileRecord, bool) {
	for _, o := range orphans {
		if o.SameFile(rec) {
			return o, true
		}
	}
	return model.FileRecord{}, false
}

func (u *Updater) removeExisting(rec model.FileRecord) bool {
	var err error
	if rec.IsDir {
		_, err = u.target.RemoveTree(rec.Path)
	} else {
		err = u.target.Remove(rec.ID)
	}
	if err != nil {
		u.fail("remove", rec.Path, err)
		return false
	}
	return true
}

func (u *Updater) delete(path string) {
	n, err := u.target.RemoveTree(path)
	if err != nil {
		u.fail("remove", path, err)
		return
	}
	if n > 0 {
		u.applied.Add(1)
	}
}

func (u *Updater) mutate(action, path string, err error) {
	if err != nil {
		u.fail(action, path, err)
		return
	}
	u.applied.Add(1)
}

func (u *Updater) fail(action, path string, err error) {
	u.failed.Add(1)
	u.logger.Warn("updater_apply_failed", "action", action, "path", path, "err", err)
}
