// Package access records how often and how recently files were opened and
// turns that history into a ranking weight.
package access

import (
	"math"
	"sort"
	"sync"
	"time"

	"github.com/mg52/unfold/internal/model"
)

// Options configures the decay of access weights.
type Options struct {
	HalfLife time.Duration // time constant of the recency decay
	Baseline float64       // weight of files without (or with faded) history
}

// DefaultOptions decays over about a week and gives unopened files 0.1.
func DefaultOptions() Options {
	return Options{HalfLife: 7 * 24 * time.Hour, Baseline: 0.1}
}

// Stat is the access history of one file.
type Stat struct {
	Count      int64
	LastAccess time.Time
}

// Entry pairs a Stat with its file, for listings and snapshots.
type Entry struct {
	ID model.FileID
	Stat
}

// Tracker is safe for concurrent use.
type Tracker struct {
	mu    sync.RWMutex
	stats map[model.FileID]Stat
	opts  Options
	now   func() time.Time
}

// NewTracker returns an empty tracker. A nil clock means time.Now.
func NewTracker(opts Options, clock func() time.Time) *Tracker {
	if opts.HalfLife <= 0 {
		opts.HalfLife = DefaultOptions().HalfLife
	}
	if clock == nil {
		clock = time.Now
	}
	return &Tracker{stats: make(map[model.FileID]Stat), opts: opts, now: clock}
}

// Now returns the tracker's clock reading.
func (t *Tracker) Now() time.Time { return t.now() }

// RecordAccess increments the count of id and stamps it with the current time.
func (t *Tracker) RecordAccess(id model.FileID) Stat {
	t.mu.Lock()
	defer t.mu.Unlock()
	st := t.stats[id]
	st.Count++
	st.LastAccess = t.now()
	t.stats[id] = st
	return st
}

// Get returns the history of id.
func (t *Tracker) Get(id model.FileID) (Stat, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	st, ok := t.stats[id]
	return st, ok
}

// Remove forgets id.
func (t *Tracker) Remove(id model.FileID) {
	t.mu.Lock()
	delete(t.stats, id)
	t.mu.Unlock()
}

// Move transfers the history of from to to, used when a file keeps its
// identity under a new identifier.
func (t *Tracker) Move(from, to model.FileID) {
	if from == to {
		return
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	if st, ok := t.stats[from]; ok {
		delete(t.stats, from)
		t.stats[to] = st
	}
}

// Len returns the number of files with history.
func (t *Tracker) Len() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.stats)
}

// DecayedWeight is log(1+count) * exp(-(now-last)/HalfLife), never below
// the baseline.
func (t *Tracker) DecayedWeight(id model.FileID, now time.Time) float64 {
	t.mu.RLock()
	st, ok := t.stats[id]
	t.mu.RUnlock()
	if !ok {
		return t.opts.Baseline
	}
	return t.weight(st, now)
}

func (t *Tracker) weight(st Stat, now time.Time) float64 {
	dt := now.Sub(st.LastAccess)
	if dt < 0 {
		dt = 0
	}
	w := math.Log1p(float64(st.Count)) * math.Exp(-float64(dt)/float64(t.opts.HalfLife))
	return math.Max(w, t.opts.Baseline)
}

// Recent lists the most recently opened files, newest first.
func (t *Tracker) Recent(limit int) []Entry {
	entries := t.Entries()
	sort.Slice(entries, func(i, j int) bool {
		if !entries[i].LastAccess.Equal(entries[j].LastAccess) {
			return entries[i].LastAccess.After(entries[j].LastAccess)
		}
		return entries[i].ID < entries[j].ID
	})
	return truncate(entries, limit)
}

// Frequent lists the most often opened files, highest count first.
func (t *Tracker) Frequent(limit int) []Entry {
	entries := t.Entries()
	sort.Slice(entries, func(i, j int) bool {
		if entries[i].Count != entries[j].Count {
			return entries[i].Count > entries[j].Count
		}
		if !entries[i].LastAccess.Equal(entries[j].LastAccess) {
			return entries[i].LastAccess.After(entries[j].LastAccess)
		}
		return entries[i].ID < entries[j].ID
	})
	return truncate(entries, limit)
}

// Entries returns every history in identifier order.
func (t *Tracker) Entries() []Entry {
	t.mu.RLock()
	entries := make([]Entry, 0, len(t.stats))
	for id, st := range t.stats {
		entries = append(entries, Entry{ID: id, Stat: st})
	}
	t.mu.RUnlock()
	sort.Slice(entries, func(i, j int) bool { return entries[i].ID < entries[j].ID })
	return entries
}

// Load replaces all histories with entries.
func (t *Tracker) Load(entries []Entry) {
	stats := make(map[model.FileID]Stat, len(entries))
	for _, e := range entries {
		stats[e.ID] = e.Stat
	}
	t.mu.Lock()
	t.stats = stats
	t.mu.Unlock()
}

// Retain drops every history whose identifier keep rejects.
func (t *Tracker) Retain(keep func(model.FileID) bool) int {
	t.mu.Lock()
	defer t.mu.Unlock()
	dropped := 0
	for id := range t.stats {
		if !keep(id) {
			delete(t.stats, id)
			dropped++
		}
	}
	return dropped
}

func truncate(entries []Entry, limit int) []Entry {
	if limit > 0 && len(entries) > limit {
		return entries[:limit]
	}
	return entries
}
