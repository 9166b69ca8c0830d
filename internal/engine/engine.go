// Package engine indexes file names and answers ranked, typo-tolerant
// queries over them while the index is mutated incrementally.
package engine

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/mg52/unfold/internal/access"
	"github.com/mg52/unfold/internal/cache"
	"github.com/mg52/unfold/internal/model"
	"github.com/mg52/unfold/internal/pkg/tokenize"
	"github.com/mg52/unfold/internal/ranking"
)

// SchemaVersion is the layout version of Snapshot.
const SchemaVersion = 1

// Engine owns the index together with the access statistics, the ranker and
// the result cache. All methods are safe for concurrent use; mutations are
// expected to come from a single stream (the bulk build or the updater).
//
// Mutations, access recording and state swaps are ordered by writeMu, so an
// access statistic never outlives its record. While Rebuild walks, mutations
// are also journaled and replayed onto the fresh index before it is swapped
// in.
type Engine struct {
	cfg     Config
	tok     *tokenize.Tokenizer
	index   *Index
	tracker *access.Tracker
	ranker  *ranking.Ranker
	cache   *cache.Cache[Response]
	logger  *slog.Logger

	// rebuildMu makes Build, Rebuild and Restore exclusive with each other.
	rebuildMu sync.Mutex

	writeMu sync.Mutex
	journal []replay // non-nil while a rebuild walks, guarded by writeMu

	mu        sync.RWMutex
	lastBuild BuildStats
	builtAt   time.Time
}

// New validates cfg and returns an empty engine.
func New(cfg Config) (*Engine, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	cfg = cfg.withDefaults()
	ranker, err := ranking.New(cfg.Weights, cfg.Bonus)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidArgument, err)
	}
	tok := tokenize.New(cfg.Tokenizer)
	return &Engine{
		cfg:     cfg,
		tok:     tok,
		index:   NewIndex(cfg.Shards, tok, cfg.Clock),
		tracker: access.NewTracker(cfg.Access, cfg.Clock),
		ranker:  ranker,
		cache:   cache.New[Response](cfg.CacheSize),
		logger:  cfg.Logger,
	}, nil
}

// Index exposes the inverted index for read-only lookups.
func (e *Engine) Index() *Index { return e.index }

// Tokenizer returns the tokenizer used for records and queries.
func (e *Engine) Tokenizer() *tokenize.Tokenizer { return e.tok }

// replay re-applies a mutation to the index a rebuild is filling.
type replay func(idx *Index) error

// record journals fn when a rebuild is in progress. Callers hold writeMu.
func (e *Engine) record(fn replay) {
	if e.journal != nil {
		e.journal = append(e.journal, fn)
	}
}

// Insert indexes a new record.
func (e *Engine) Insert(rec model.FileRecord) error {
	e.writeMu.Lock()
	defer e.writeMu.Unlock()
	if err := e.index.Insert(rec); err != nil {
		return err
	}
	e.record(func(idx *Index) error { return idx.upsert(rec) })
	return nil
}

// Update replaces the record id. Access statistics stay with id.
func (e *Engine) Update(id model.FileID, rec model.FileRecord) error {
	e.writeMu.Lock()
	defer e.writeMu.Unlock()
	if err := e.index.Update(id, rec); err != nil {
		return err
	}
	rec.ID = id
	e.record(func(idx *Index) error { return idx.upsert(rec) })
	return nil
}

// Remove deletes the record id and its access statistics. Removing an id
// that is not indexed is a no-op.
func (e *Engine) Remove(id model.FileID) error {
	e.writeMu.Lock()
	defer e.writeMu.Unlock()
	old, had := e.index.Get(id)
	err := e.index.Remove(id)
	if err != nil && !isNotFound(err) {
		return err
	}
	e.tracker.Remove(id)
	e.record(func(idx *Index) error {
		// The walk may have seen the path under another identity.
		if cur, ok := idx.GetByPath(old.Path); had && ok && cur.ID != id {
			if err := idx.Remove(cur.ID); err != nil {
				return err
			}
		}
		return idx.Remove(id)
	})
	return nil
}

// RemoveTree deletes the record at path and everything below it and returns
// how many records went away.
func (e *Engine) RemoveTree(path string) (int, error) {
	e.writeMu.Lock()
	defer e.writeMu.Unlock()
	removed, err := e.index.RemoveTree(path)
	if err != nil {
		return 0, err
	}
	for _, rec := range removed {
		e.tracker.Remove(rec.ID)
	}
	e.record(func(idx *Index) error {
		_, err := idx.RemoveTree(path)
		return err
	})
	return len(removed), nil
}

// MoveTree moves the record at from and everything below it to to.
func (e *Engine) MoveTree(from, to string) (int, error) {
	e.writeMu.Lock()
	defer e.writeMu.Unlock()
	n, err := e.index.MoveTree(from, to)
	if err != nil {
		return n, err
	}
	e.record(func(idx *Index) error {
		_, err := idx.MoveTree(from, to)
		return err
	})
	return n, nil
}

// Get returns the record id.
func (e *Engine) Get(id model.FileID) (model.FileRecord, bool) { return e.index.Get(id) }

// GetByPath returns the record indexed at path.
func (e *Engine) GetByPath(path string) (model.FileRecord, bool) { return e.index.GetByPath(path) }

// Build streams src into the live index. See Index.build for failure
// semantics. Other mutations wait until the build is done.
func (e *Engine) Build(ctx context.Context, src Source) (BuildStats, error) {
	e.rebuildMu.Lock()
	defer e.rebuildMu.Unlock()
	e.writeMu.Lock()
	defer e.writeMu.Unlock()

	stats, err := e.index.build(ctx, src, e.buildOptions())
	e.recordBuild(stats)
	return stats, err
}

// Rebuild builds a fresh index from src off to the side and swaps it in.
// Queries keep using the old index until the swap. Access statistics follow
// records by identifier, or by path when a file's identifier changed; those
// of vanished files are dropped. On failure the old index stays in place.
//
// Mutations made while src is walked keep applying to the old index and are
// replayed, in order, onto the fresh one before the swap, so none is lost.
func (e *Engine) Rebuild(ctx context.Context, src Source) (BuildStats, error) {
	e.rebuildMu.Lock()
	defer e.rebuildMu.Unlock()

	e.writeMu.Lock()
	e.journal = make([]replay, 0)
	e.writeMu.Unlock()

	fresh := e.index.sibling()
	stats, err := fresh.build(ctx, src, e.buildOptions())

	e.writeMu.Lock()
	defer e.writeMu.Unlock()
	journal := e.journal
	e.journal = nil
	if err != nil {
		return stats, err
	}
	for _, fn := range journal {
		if err := fn(fresh); err != nil {
			e.logger.Debug("rebuild_replay_skipped", "err", err)
		}
	}
	if len(journal) > 0 {
		e.logger.Info("rebuild_replayed", "mutations", len(journal))
	}

	old := e.index.Records()
	e.index.swap(fresh.st, 0)
	e.migrateAccess(old)
	e.cache.Purge()
	e.recordBuild(stats)
	return stats, nil
}

// migrateAccess carries access statistics over a swap. Callers hold writeMu.
func (e *Engine) migrateAccess(old []model.FileRecord) {
	for _, rec := range old {
		if cur, ok := e.index.GetByPath(rec.Path); ok && cur.ID != rec.ID {
			e.tracker.Move(rec.ID, cur.ID)
		}
	}
	if n := e.tracker.Retain(e.index.Has); n > 0 {
		e.logger.Info("access_stats_dropped", "count", n)
	}
}

func (e *Engine) buildOptions() buildOptions {
	return buildOptions{batch: e.cfg.BuildBatch, workers: e.cfg.BuildWorkers, logger: e.logger}
}

func (e *Engine) recordBuild(stats BuildStats) {
	e.mu.Lock()
	e.lastBuild = stats
	e.builtAt = e.cfg.Clock()
	e.mu.Unlock()
}

// RecordAccess notes that the record id was opened. Cached rankings are
// dropped since they no longer reflect the access history.
func (e *Engine) RecordAccess(id model.FileID) (access.Stat, error) {
	e.writeMu.Lock()
	defer e.writeMu.Unlock()
	if !e.index.Has(id) {
		return access.Stat{}, fmt.Errorf("record access %s: %w", id, ErrNotFound)
	}
	st := e.tracker.RecordAccess(id)
	e.cache.Purge()
	return st, nil
}

// RecordAccessByPath is RecordAccess for the record at path.
func (e *Engine) RecordAccessByPath(path string) (model.FileRecord, access.Stat, error) {
	rec, ok := e.index.GetByPath(path)
	if !ok {
		return rec, access.Stat{}, fmt.Errorf("record access %s: %w", path, ErrNotFound)
	}
	st, err := e.RecordAccess(rec.ID)
	return rec, st, err
}

// Opened is a record together with its access history.
type Opened struct {
	Record model.FileRecord `json:"record"`
	Count  int64            `json:"count"`
	Last   time.Time        `json:"last_access"`
}

// Recent lists the most recently opened records still indexed.
func (e *Engine) Recent(limit int) []Opened {
	return e.opened(e.tracker.Recent(0), limit)
}

// Frequent lists the most often opened records still indexed.
func (e *Engine) Frequent(limit int) []Opened {
	return e.opened(e.tracker.Frequent(0), limit)
}

func (e *Engine) opened(entries []access.Entry, limit int) []Opened {
	out := make([]Opened, 0, min(len(entries), max(limit, 0)))
	for _, entry := range entries {
		if limit > 0 && len(out) == limit {
			break
		}
		rec, ok := e.index.Get(entry.ID)
		if !ok {
			continue
		}
		out = append(out, Opened{Record: rec, Count: entry.Count, Last: entry.LastAccess})
	}
	return out
}

// ClearCache drops every cached result.
func (e *Engine) ClearCache() { e.cache.Purge() }

// Verify checks the index invariants and that no access statistic refers
// to a removed record.
func (e *Engine) Verify() error {
	e.writeMu.Lock()
	defer e.writeMu.Unlock()
	if err := e.index.Verify(); err != nil {
		return err
	}
	for _, entry := range e.tracker.Entries() {
		if !e.index.Has(entry.ID) {
			e.index.corrupt.Store(true)
			return fmt.Errorf("%w: access stat for removed record %s", ErrCorrupt, entry.ID)
		}
	}
	return nil
}

// Stats describes the engine for status output.
type Stats struct {
	Records       int           `json:"records"`
	Terms         int           `json:"terms"`
	NGrams        int           `json:"ngrams"`
	Shards        int           `json:"shards"`
	Version       uint64        `json:"version"`
	Cache         cache.Stats   `json:"cache"`
	AccessEntries int           `json:"access_entries"`
	LastBuild     time.Time     `json:"last_build"`
	BuildDuration time.Duration `json:"build_duration"`
	LastUpdate    time.Time     `json:"last_update"`
	Partial       bool          `json:"partial"`
	Corrupt       bool          `json:"corrupt"`
}

// Stats returns a point-in-time description of the engine.
func (e *Engine) Stats() Stats {
	e.mu.RLock()
	builtAt, build := e.builtAt, e.lastBuild
	e.mu.RUnlock()
	return Stats{
		Records:       e.index.Len(),
		Terms:         e.index.TokenCount(),
		NGrams:        e.index.GramCount(),
		Shards:        e.index.ShardCount(),
		Version:       e.index.Version(),
		Cache:         e.cache.Stats(),
		AccessEntries: e.tracker.Len(),
		LastBuild:     builtAt,
		BuildDuration: build.Duration,
		LastUpdate:    e.index.LastUpdate(),
		Partial:       e.index.Partial(),
		Corrupt:       e.index.Corrupt(),
	}
}

// Snapshot is the durable form of the engine. Postings are not stored; they
// are rebuilt from the records on Restore without touching the file system.
type Snapshot struct {
	Schema  int
	Version uint64
	BuiltAt time.Time
	Records []model.FileRecord
	Access  []access.Entry
}

// Snapshot captures the records and access statistics.
func (e *Engine) Snapshot() Snapshot {
	e.writeMu.Lock()
	defer e.writeMu.Unlock()
	e.mu.RLock()
	builtAt := e.builtAt
	e.mu.RUnlock()
	return Snapshot{
		Schema:  SchemaVersion,
		Version: e.index.Version(),
		BuiltAt: builtAt,
		Records: e.index.Records(),
		Access:  e.tracker.Entries(),
	}
}

// Restore replaces the engine state with snap. A snapshot of another schema
// is rejected with ErrSchemaMismatch and leaves the engine untouched.
func (e *Engine) Restore(ctx context.Context, snap Snapshot) error {
	if snap.Schema != SchemaVersion {
		return fmt.Errorf("restore schema %d, want %d: %w", snap.Schema, SchemaVersion, ErrSchemaMismatch)
	}
	e.rebuildMu.Lock()
	defer e.rebuildMu.Unlock()
	e.writeMu.Lock()
	defer e.writeMu.Unlock()

	fresh := e.index.sibling()
	stats, err := fresh.build(ctx, SliceSource(snap.Records), e.buildOptions())
	if err != nil {
		return fmt.Errorf("restore: %w", err)
	}
	e.index.swap(fresh.st, snap.Version)

	entries := make([]access.Entry, 0, len(snap.Access))
	for _, entry := range snap.Access {
		if e.index.Has(entry.ID) {
			entries = append(entries, entry)
		}
	}
	e.tracker.Load(entries)
	e.cache.Purge()

	e.mu.Lock()
	e.lastBuild = stats
	e.builtAt = snap.BuiltAt
	e.mu.Unlock()
	e.logger.Info("snapshot_restored", "records", stats.Committed, "access", len(entries), "version", e.index.Version())
	return nil
}
