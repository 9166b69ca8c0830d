package engine

import (
	"fmt"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"
	"unicode/utf8"

	"github.com/mg52/unfold/internal/model"
	"github.com/mg52/unfold/internal/pkg/keys"
	"github.com/mg52/unfold/internal/pkg/tokenize"
)

// recordTerms is the tokenization a record was indexed with. Removing a
// record walks exactly these tokens, so nothing stale survives an update.
type recordTerms struct {
	terms map[string]int
	grams map[string]int
}

// state is everything a reader may look at. It is replaced wholesale by
// rebuild and restore.
type state struct {
	shards  []*shard
	records map[model.FileID]model.FileRecord
	byPath  map[string]model.FileID
	forms   map[model.FileID]recordTerms
}

func newState(shards int) *state {
	st := &state{
		shards:  make([]*shard, shards),
		records: make(map[model.FileID]model.FileRecord),
		byPath:  make(map[string]model.FileID),
		forms:   make(map[model.FileID]recordTerms),
	}
	for i := range st.shards {
		st.shards[i] = newShard(i)
	}
	return st
}

func (st *state) shardOf(token string) *shard {
	return st.shards[shardFor(token, len(st.shards))]
}

func (st *state) add(rec model.FileRecord, rt recordTerms) {
	st.records[rec.ID] = rec
	st.byPath[rec.Path] = rec.ID
	st.forms[rec.ID] = rt
	for term, tf := range rt.terms {
		st.shardOf(term).addTerm(term, rec.ID, tf)
	}
	for gram, tf := range rt.grams {
		st.shardOf(gram).addGram(gram, rec.ID, tf)
	}
}

func (st *state) drop(id model.FileID) (model.FileRecord, bool) {
	rec, ok := st.records[id]
	if !ok {
		return rec, false
	}
	rt := st.forms[id]
	for term := range rt.terms {
		st.shardOf(term).removeTerm(term, id)
	}
	for gram := range rt.grams {
		st.shardOf(gram).removeGram(gram, id)
	}
	delete(st.records, id)
	delete(st.forms, id)
	if st.byPath[rec.Path] == id {
		delete(st.byPath, rec.Path)
	}
	return rec, true
}

// Index is the inverted index over file names. Reads take the shared lock,
// mutations take the exclusive lock for the postings of a single record, and
// every mutation publishes a new version under that same lock.
type Index struct {
	mu      sync.RWMutex
	st      *state
	tok     *tokenize.Tokenizer
	clock   func() time.Time
	version atomic.Uint64
	highest uint64    // largest version ever published, guarded by mu
	updated time.Time // time of the last mutation, guarded by mu
	corrupt atomic.Bool
	partial atomic.Bool
}

// NewIndex returns an empty index with the given number of shards.
func NewIndex(shards int, tok *tokenize.Tokenizer, clock func() time.Time) *Index {
	if shards < 1 {
		shards = 1
	}
	if clock == nil {
		clock = time.Now
	}
	return &Index{st: newState(shards), tok: tok, clock: clock}
}

// sibling returns an empty index configured like idx.
func (idx *Index) sibling() *Index {
	return NewIndex(len(idx.st.shards), idx.tok, idx.clock)
}

func (idx *Index) prepare(rec model.FileRecord) recordTerms {
	terms, grams := idx.tok.Terms(rec.Path)
	return recordTerms{terms: terms, grams: grams}
}

// bump publishes the next version. Callers hold the write lock.
func (idx *Index) bump() {
	v := idx.version.Add(1)
	if v <= idx.highest {
		idx.corrupt.Store(true)
	}
	idx.highest = v
	idx.updated = idx.clock()
}

func (idx *Index) writable() error {
	if idx.corrupt.Load() {
		return ErrCorrupt
	}
	return nil
}

func checkRecord(rec model.FileRecord) error {
	if rec.ID == "" || rec.Path == "" {
		return fmt.Errorf("%w: record needs an id and a path", ErrInvalidArgument)
	}
	return nil
}

// Insert adds a new record.
func (idx *Index) Insert(rec model.FileRecord) error {
	if err := checkRecord(rec); err != nil {
		return err
	}
	rt := idx.prepare(rec)

	idx.mu.Lock()
	defer idx.mu.Unlock()
	if err := idx.writable(); err != nil {
		return err
	}
	if _, ok := idx.st.records[rec.ID]; ok {
		return fmt.Errorf("insert %s: %w", rec.Path, ErrAlreadyExists)
	}
	if _, ok := idx.st.byPath[rec.Path]; ok {
		return fmt.Errorf("insert %s: path %w", rec.Path, ErrAlreadyExists)
	}
	idx.st.add(rec, rt)
	idx.bump()
	return nil
}

// Update replaces the record id with rec, keeping the identifier. The old
// tokenization is removed before the new one is added.
func (idx *Index) Update(id model.FileID, rec model.FileRecord) error {
	rec.ID = id
	if err := checkRecord(rec); err != nil {
		return err
	}
	rt := idx.prepare(rec)

	idx.mu.Lock()
	defer idx.mu.Unlock()
	if err := idx.writable(); err != nil {
		return err
	}
	if _, ok := idx.st.records[id]; !ok {
		return fmt.Errorf("update %s: %w", id, ErrNotFound)
	}
	if other, ok := idx.st.byPath[rec.Path]; ok && other != id {
		return fmt.Errorf("update %s: path %s %w", id, rec.Path, ErrAlreadyExists)
	}
	idx.st.drop(id)
	idx.st.add(rec, rt)
	idx.bump()
	return nil
}

// Remove deletes the record id and all of its postings.
func (idx *Index) Remove(id model.FileID) error {
	idx.mu.Lock()
	defer idx.mu.Unlock()
	if err := idx.writable(); err != nil {
		return err
	}
	if _, ok := idx.st.drop(id); !ok {
		return fmt.Errorf("remove %s: %w", id, ErrNotFound)
	}
	idx.bump()
	return nil
}

// RemoveTree deletes the record at dir and every record below it as a single
// mutation. A path that is not indexed removes nothing and is not an error.
func (idx *Index) RemoveTree(dir string) ([]model.FileRecord, error) {
	dir = filepath.Clean(dir)
	prefix := strings.TrimSuffix(dir, string(filepath.Separator)) + string(filepath.Separator)

	idx.mu.Lock()
	defer idx.mu.Unlock()
	if err := idx.writable(); err != nil {
		return nil, err
	}
	var ids []model.FileID
	if id, ok := idx.st.byPath[dir]; ok {
		ids = append(ids, id)
	}
	for path, id := range idx.st.byPath {
		if strings.HasPrefix(path, prefix) {
			ids = append(ids, id)
		}
	}
	if len(ids) == 0 {
		return nil, nil
	}
	removed := make([]model.FileRecord, 0, len(ids))
	for _, id := range ids {
		if rec, ok := idx.st.drop(id); ok {
			removed = append(removed, rec)
		}
	}
	idx.bump()
	sort.Slice(removed, func(i, j int) bool { return removed[i].Path < removed[j].Path })
	return removed, nil
}

// MoveTree re-roots the record at from, and every record below it, at to as
// a single mutation. Identifiers, and so access statistics, are kept.
func (idx *Index) MoveTree(from, to string) (int, error) {
	from, to = filepath.Clean(from), filepath.Clean(to)
	if from == to {
		return 0, nil
	}
	sep := string(filepath.Separator)
	prefix := strings.TrimSuffix(from, sep) + sep
	if strings.HasPrefix(to+sep, prefix) {
		return 0, fmt.Errorf("%w: move %s below itself", ErrInvalidArgument, from)
	}

	idx.mu.Lock()
	defer idx.mu.Unlock()
	if err := idx.writable(); err != nil {
		return 0, err
	}
	moves := make(map[model.FileID]string)
	for path, id := range idx.st.byPath {
		switch {
		case path == from:
			moves[id] = to
		case strings.HasPrefix(path, prefix):
			moves[id] = filepath.Join(to, path[len(prefix):])
		}
	}
	if len(moves) == 0 {
		return 0, fmt.Errorf("move %s: %w", from, ErrNotFound)
	}
	for _, dst := range moves {
		if other, ok := idx.st.byPath[dst]; ok {
			if _, moving := moves[other]; !moving {
				return 0, fmt.Errorf("move %s: path %s %w", from, dst, ErrAlreadyExists)
			}
		}
	}
	recs := make([]model.FileRecord, 0, len(moves))
	for id, dst := range moves {
		rec, _ := idx.st.drop(id)
		recs = append(recs, rec.WithPath(dst))
	}
	for _, rec := range recs {
		idx.st.add(rec, idx.prepare(rec))
	}
	idx.bump()
	return len(recs), nil
}

// Get returns a copy of the record id.
func (idx *Index) Get(id model.FileID) (model.FileRecord, bool) {
	idx.mu.RLock()
	defer idx.mu.RUnlock()
	rec, ok := idx.st.records[id]
	return rec, ok
}

// GetByPath returns a copy of the record at path.
func (idx *Index) GetByPath(path string) (model.FileRecord, bool) {
	idx.mu.RLock()
	defer idx.mu.RUnlock()
	id, ok := idx.st.byPath[filepath.Clean(path)]
	if !ok {
		return model.FileRecord{}, false
	}
	return idx.st.records[id], true
}

// Has reports whether id is indexed.
func (idx *Index) Has(id model.FileID) bool {
	idx.mu.RLock()
	defer idx.mu.RUnlock()
	_, ok := idx.st.records[id]
	return ok
}

// Len returns the number of records.
func (idx *Index) Len() int {
	idx.mu.RLock()
	defer idx.mu.RUnlock()
	return len(idx.st.records)
}

// TokenCount returns the number of distinct terms, n-grams excluded.
func (idx *Index) TokenCount() int {
	idx.mu.RLock()
	defer idx.mu.RUnlock()
	n := 0
	for _, s := range idx.st.shards {
		n += len(s.terms)
	}
	return n
}

// GramCount returns the number of distinct n-grams.
func (idx *Index) GramCount() int {
	idx.mu.RLock()
	defer idx.mu.RUnlock()
	n := 0
	for _, s := range idx.st.shards {
		n += len(s.grams)
	}
	return n
}

// ShardCount returns the number of posting shards.
func (idx *Index) ShardCount() int {
	idx.mu.RLock()
	defer idx.mu.RUnlock()
	return len(idx.st.shards)
}

// Version is the number of the last published mutation.
func (idx *Index) Version() uint64 { return idx.version.Load() }

// Partial reports whether the last bulk build stopped early.
func (idx *Index) Partial() bool { return idx.partial.Load() }

// Corrupt reports whether corruption was detected.
func (idx *Index) Corrupt() bool { return idx.corrupt.Load() }

// LastUpdate returns the time of the last mutation.
func (idx *Index) LastUpdate() time.Time {
	idx.mu.RLock()
	defer idx.mu.RUnlock()
	return idx.updated
}

// Records returns copies of all records ordered by path.
func (idx *Index) Records() []model.FileRecord {
	idx.mu.RLock()
	out := make([]model.FileRecord, 0, len(idx.st.records))
	for _, rec := range idx.st.records {
		out = append(out, rec)
	}
	idx.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i].Path < out[j].Path })
	return out
}

// LookupExact returns the records carrying term. term is folded first.
func (idx *Index) LookupExact(term string) keys.Set[model.FileID] {
	term = idx.tok.Fold(term)
	out := keys.NewSet[model.FileID](0)
	idx.read(func(v view) {
		for id := range v.exact(term) {
			out.Insert(id)
		}
	})
	return out
}

// LookupPrefix returns the records carrying any term that starts with prefix.
func (idx *Index) LookupPrefix(prefix string) keys.Set[model.FileID] {
	prefix = idx.tok.Fold(prefix)
	out := keys.NewSet[model.FileID](0)
	if prefix == "" {
		return out
	}
	idx.read(func(v view) {
		for _, term := range v.prefixTerms(prefix, 0) {
			for id := range v.exact(term) {
				out.Insert(id)
			}
		}
	})
	return out
}

// LookupNGrams returns, per record, how many distinct n-grams of token it
// shares.
func (idx *Index) LookupNGrams(token string) map[model.FileID]int {
	token = idx.tok.Fold(token)
	var out map[model.FileID]int
	idx.read(func(v view) {
		out, _ = v.gramOverlap(token)
	})
	return out
}

// view is a consistent read-only look at the index. It is only valid inside
// the function given to Index.read.
type view struct {
	st      *state
	tok     *tokenize.Tokenizer
	version uint64
}

func (idx *Index) read(fn func(v view)) {
	idx.mu.RLock()
	defer idx.mu.RUnlock()
	fn(view{st: idx.st, tok: idx.tok, version: idx.version.Load()})
}

func (v view) record(id model.FileID) (model.FileRecord, bool) {
	rec, ok := v.st.records[id]
	return rec, ok
}

func (v view) terms(id model.FileID) map[string]int {
	return v.st.forms[id].terms
}

func (v view) exact(term string) postings {
	return v.st.shardOf(term).terms[term]
}

// prefixTerms lists indexed terms starting with prefix, shortest first then
// lexicographic, at most limit of them (0 means all).
func (v view) prefixTerms(prefix string, limit int) []string {
	var out []string
	for _, s := range v.st.shards {
		out = append(out, s.trie.SearchPrefix(prefix, limit)...)
	}
	return boundTerms(out, limit)
}

// typoTerms lists indexed terms one edit away from term.
func (v view) typoTerms(term string, limit int) []string {
	var out []string
	for _, s := range v.st.shards {
		out = append(out, s.spell.FuzzySearch(term, limit)...)
	}
	return boundTerms(out, limit)
}

// gramOverlap counts, per record, the distinct n-grams of token it carries.
// The second result is the number of distinct n-grams of token.
func (v view) gramOverlap(token string) (map[model.FileID]int, int) {
	grams := tokenize.NGrams(token, v.tok.Options().NGramSize)
	seen := make(map[string]struct{}, len(grams))
	overlap := make(map[model.FileID]int)
	for _, g := range grams {
		if _, dup := seen[g]; dup {
			continue
		}
		seen[g] = struct{}{}
		for id := range v.st.shardOf(g).grams[g] {
			overlap[id]++
		}
	}
	return overlap, len(seen)
}

func boundTerms(terms []string, limit int) []string {
	sort.Slice(terms, func(i, j int) bool {
		li, lj := utf8.RuneCountInString(terms[i]), utf8.RuneCountInString(terms[j])
		if li != lj {
			return li < lj
		}
		return terms[i] < terms[j]
	})
	if limit > 0 && len(terms) > limit {
		terms = terms[:limit]
	}
	return terms
}

// swap installs st as the current state and publishes a version above both
// the current one and floor.
func (idx *Index) swap(st *state, floor uint64) {
	idx.mu.Lock()
	defer idx.mu.Unlock()
	idx.st = st
	if cur := idx.version.Load(); floor < cur {
		floor = cur
	}
	idx.version.Store(floor)
	idx.highest = floor
	idx.corrupt.Store(false)
	idx.partial.Store(false)
	idx.bump()
}

// Verify checks that postings match the tokenization of the live records
// and that the version never went backwards. Any violation marks the index
// corrupt.
func (idx *Index) Verify() error {
	idx.mu.RLock()
	defer idx.mu.RUnlock()
	if err := idx.check(); err != nil {
		idx.corrupt.Store(true)
		return fmt.Errorf("%w: %v", ErrCorrupt, err)
	}
	return nil
}

func (idx *Index) check() error {
	st := idx.st
	if v := idx.version.Load(); v < idx.highest {
		return fmt.Errorf("version regressed from %d to %d", idx.highest, v)
	}
	if len(st.byPath) != len(st.records) || len(st.forms) != len(st.records) {
		return fmt.Errorf("%d records, %d paths, %d tokenizations", len(st.records), len(st.byPath), len(st.forms))
	}
	wantTerms, wantGrams := 0, 0
	for id, rec := range st.records {
		if st.byPath[rec.Path] != id {
			return fmt.Errorf("path %s does not resolve to %s", rec.Path, id)
		}
		terms, grams := idx.tok.Terms(rec.Path)
		rt := st.forms[id]
		if !sameCounts(terms, rt.terms) || !sameCounts(grams, rt.grams) {
			return fmt.Errorf("tokenization of %s is out of date", rec.Path)
		}
		wantTerms += len(rt.terms)
		wantGrams += len(rt.grams)
	}
	gotTerms, gotGrams := 0, 0
	for _, s := range st.shards {
		for term, p := range s.terms {
			if shardFor(term, len(st.shards)) != s.id {
				return fmt.Errorf("term %q in wrong shard %d", term, s.id)
			}
			if !s.trie.Has(term) {
				return fmt.Errorf("term %q missing from trie", term)
			}
			for id, tf := range p {
				if st.forms[id].terms[term] != tf {
					return fmt.Errorf("stale posting %q -> %s", term, id)
				}
				gotTerms++
			}
		}
		for gram, p := range s.grams {
			for id, tf := range p {
				if st.forms[id].grams[gram] != tf {
					return fmt.Errorf("stale n-gram posting %q -> %s", gram, id)
				}
				gotGrams++
			}
		}
		if s.trie.Len() != len(s.terms) {
			return fmt.Errorf("shard %d trie holds %d terms, postings %d", s.id, s.trie.Len(), len(s.terms))
		}
	}
	if gotTerms != wantTerms || gotGrams != wantGrams {
		return fmt.Errorf("postings %d/%d, expected %d/%d", gotTerms, gotGrams, wantTerms, wantGrams)
	}
	return nil
}

func sameCounts(a, b map[string]int) bool {
	if len(a) != len(b) {
		return false
	}
	for k, v := range a {
		if b[k] != v {
			return false
		}
	}
	return true
}
