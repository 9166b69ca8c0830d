package engine

import (
	"context"
	"fmt"
	"slices"
	"strconv"
	"strings"
	"unicode/utf8"

	"github.com/mg52/unfold/internal/model"
	"github.com/mg52/unfold/internal/pkg/fuzzy"
	"github.com/mg52/unfold/internal/ranking"
)

// Kind restricts results to files or directories.
type Kind uint8

const (
	KindAny Kind = iota
	KindFiles
	KindDirs
)

func (k Kind) String() string {
	switch k {
	case KindFiles:
		return "files"
	case KindDirs:
		return "dirs"
	}
	return "any"
}

// ParseKind accepts "", "any", "files"/"file" and "dirs"/"dir".
func ParseKind(s string) (Kind, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "any", "all":
		return KindAny, nil
	case "files", "file", "f":
		return KindFiles, nil
	case "dirs", "dir", "d", "directories":
		return KindDirs, nil
	}
	return KindAny, fmt.Errorf("%w: kind %q", ErrInvalidArgument, s)
}

// Filters narrow a search before scoring.
type Filters struct {
	Extensions []string // allow-list, with or without the dot
	Kind       Kind
}

// Query is a search request.
type Query struct {
	Text       string
	Filters    Filters
	Limit      int
	Thresholds *fuzzy.Thresholds // nil uses the engine's thresholds
}

// Result is one ranked hit.
type Result struct {
	Record model.FileRecord `json:"record"`
	Score  float64          `json:"score"`
	Tier   fuzzy.Tier       `json:"tier"`
	Reason string           `json:"reason"`
}

// Response is the outcome of a search. Partial is set when a multi-token
// query matched no record on every token and the results come from records
// matching some of them.
type Response struct {
	Results []Result `json:"results"`
	Version uint64   `json:"version"`
	Partial bool     `json:"partial"`
	Cached  bool     `json:"cached"`
}

// match is the best form of one record for one query token.
type match struct {
	tier  fuzzy.Tier
	token string
	form  string
}

func (m match) better(o match) bool {
	if m.tier != o.tier {
		return m.tier.Better(o.tier)
	}
	return m.form < o.form
}

func (m match) reason() string {
	return m.tier.String() + ":" + m.token + "→" + m.form
}

// candidate is a record that survived gathering and filtering.
type candidate struct {
	rec     model.FileRecord
	tier    fuzzy.Tier
	reasons []string
}

// signature normalizes q into its cache key.
func (e *Engine) signature(q Query, text string) string {
	exts := normalizeExts(q.Filters.Extensions)
	var b strings.Builder
	b.WriteString(text)
	b.WriteByte(0x1f)
	b.WriteString(strings.Join(exts, ","))
	b.WriteByte(0x1f)
	b.WriteString(q.Filters.Kind.String())
	b.WriteByte(0x1f)
	b.WriteString(strconv.Itoa(q.Limit))
	if q.Thresholds != nil {
		fmt.Fprintf(&b, "\x1f%g/%g/%d", q.Thresholds.High, q.Thresholds.Low, q.Thresholds.MinLength)
	}
	return b.String()
}

func normalizeExts(exts []string) []string {
	out := make([]string, 0, len(exts))
	for _, ext := range exts {
		ext = strings.ToLower(strings.TrimPrefix(strings.TrimSpace(ext), "."))
		if ext != "" {
			out = append(out, ext)
		}
	}
	slices.Sort(out)
	return slices.Compact(out)
}

// Search answers q with at most q.Limit ranked results.
func (e *Engine) Search(ctx context.Context, q Query) (Response, error) {
	if q.Limit <= 0 {
		return Response{}, fmt.Errorf("%w: limit must be positive, got %d", ErrInvalidArgument, q.Limit)
	}
	th := e.cfg.Thresholds
	if q.Thresholds != nil {
		if !q.Thresholds.Valid() {
			return Response{}, fmt.Errorf("%w: thresholds %+v", ErrInvalidArgument, *q.Thresholds)
		}
		th = *q.Thresholds
	}
	text := e.tok.Fold(strings.TrimSpace(q.Text))
	if text == "" {
		return Response{Results: []Result{}, Version: e.index.Version()}, nil
	}

	sig := e.signature(q, text)
	if resp, ok := e.cache.Get(sig, e.index.Version()); ok {
		resp.Results = slices.Clone(resp.Results)
		resp.Cached = true
		return resp, nil
	}

	tokens := e.tok.QueryTokens(text)
	if len(tokens) == 0 {
		return Response{Results: []Result{}, Version: e.index.Version()}, nil
	}

	var (
		cands   []candidate
		partial bool
		version uint64
		err     error
	)
	e.index.read(func(v view) {
		version = v.version
		cands, partial, err = e.gather(ctx, v, tokens, th, q.Filters)
	})
	if err != nil {
		return Response{}, err
	}

	now := e.tracker.Now()
	results := make([]Result, 0, len(cands))
	for _, c := range cands {
		decayed := e.tracker.DecayedWeight(c.rec.ID, now)
		bonus := e.ranker.TypeBonus(c.rec.Ext, text)
		results = append(results, Result{
			Record: c.rec,
			Score:  e.ranker.Score(c.tier, decayed, bonus, c.rec.Depth()),
			Tier:   c.tier,
			Reason: strings.Join(c.reasons, ", "),
		})
	}
	ranking.Sort(results, func(r Result) ranking.Key {
		return ranking.Key{Score: r.Score, Path: r.Record.Path}
	})
	if len(results) > q.Limit {
		results = results[:q.Limit]
	}

	resp := Response{Results: results, Version: version, Partial: partial}
	e.cache.Put(sig, resp, version)
	resp.Results = slices.Clone(results)
	return resp, nil
}

// gather collects and classifies the candidates of every token inside one
// read view. A record must match every token; its tier is its weakest
// token's tier. If that leaves nothing for a multi-token query, records
// matching any token are returned with their best tier and partial set.
func (e *Engine) gather(ctx context.Context, v view, tokens []string, th fuzzy.Thresholds, f Filters) ([]candidate, bool, error) {
	allowed := normalizeExts(f.Extensions)
	perToken := make([]map[model.FileID]match, len(tokens))
	for i, tok := range tokens {
		if err := ctx.Err(); err != nil {
			return nil, false, err
		}
		m, err := e.matchToken(ctx, v, tok, th, allowed, f.Kind)
		if err != nil {
			return nil, false, err
		}
		perToken[i] = m
	}

	cands := e.combine(v, perToken, true)
	if len(cands) > 0 || len(tokens) == 1 {
		return cands, false, nil
	}
	cands = e.combine(v, perToken, false)
	return cands, len(cands) > 0, nil
}

// matchToken returns the best match of tok for every candidate record that
// passes the filters.
func (e *Engine) matchToken(ctx context.Context, v view, tok string, th fuzzy.Thresholds, exts []string, kind Kind) (map[model.FileID]match, error) {
	ids := make(map[model.FileID]struct{})
	collect := func(term string) {
		for id := range v.exact(term) {
			ids[id] = struct{}{}
		}
	}

	collect(tok)
	for _, term := range v.prefixTerms(tok, e.cfg.PrefixLimit) {
		collect(term)
	}
	for _, id := range e.gramCandidates(v, tok) {
		ids[id] = struct{}{}
	}
	if utf8.RuneCountInString(tok) >= th.MinLength {
		for _, term := range v.typoTerms(tok, e.cfg.FuzzyLimit) {
			collect(term)
		}
	}

	out := make(map[model.FileID]match, len(ids))
	n := 0
	for id := range ids {
		if n++; n%256 == 0 {
			if err := ctx.Err(); err != nil {
				return nil, err
			}
		}
		rec, ok := v.record(id)
		if !ok {
			e.logger.Debug("search_candidate_skipped", "id", id)
			continue
		}
		if !passes(rec, exts, kind) {
			continue
		}
		best := match{tier: fuzzy.NoMatch}
		for form := range v.terms(id) {
			m := match{tier: fuzzy.Classify(tok, form, th), token: tok, form: form}
			if m.tier != fuzzy.NoMatch && (best.tier == fuzzy.NoMatch || m.better(best)) {
				best = m
			}
		}
		if best.tier != fuzzy.NoMatch {
			out[id] = best
		}
	}
	return out, nil
}

// gramCandidates returns records sharing at least half of tok's n-grams,
// the MaxCandidates with the largest overlap.
func (e *Engine) gramCandidates(v view, tok string) []model.FileID {
	overlap, total := v.gramOverlap(tok)
	if total == 0 {
		return nil
	}
	need := (total + 1) / 2
	type scored struct {
		id model.FileID
		n  int
	}
	var hits []scored
	for id, n := range overlap {
		if n >= need {
			hits = append(hits, scored{id, n})
		}
	}
	if len(hits) > e.cfg.MaxCandidates {
		slices.SortFunc(hits, func(a, b scored) int {
			if a.n != b.n {
				return b.n - a.n
			}
			return strings.Compare(string(a.id), string(b.id))
		})
		hits = hits[:e.cfg.MaxCandidates]
	}
	out := make([]model.FileID, len(hits))
	for i, h := range hits {
		out[i] = h.id
	}
	return out
}

// combine merges per-token matches. With all set a record must appear for
// every token and takes the weakest tier; otherwise any token suffices and
// the best tier counts.
func (e *Engine) combine(v view, perToken []map[model.FileID]match, all bool) []candidate {
	seen := make(map[model.FileID]struct{})
	var out []candidate
	for _, matches := range perToken {
		for id := range matches {
			if _, dup := seen[id]; dup {
				continue
			}
			seen[id] = struct{}{}

			c := candidate{tier: fuzzy.NoMatch}
			if all {
				c.tier = fuzzy.Exact
			}
			complete := true
			for _, other := range perToken {
				m, ok := other[id]
				if !ok {
					complete = false
					continue
				}
				c.reasons = append(c.reasons, m.reason())
				if all && m.tier > c.tier || !all && m.tier < c.tier {
					c.tier = m.tier
				}
			}
			if all && !complete {
				continue
			}
			rec, ok := v.record(id)
			if !ok {
				continue
			}
			c.rec = rec
			out = append(out, c)
		}
	}
	return out
}

func passes(rec model.FileRecord, exts []string, kind Kind) bool {
	switch kind {
	case KindFiles:
		if rec.IsDir {
			return false
		}
	case KindDirs:
		if !rec.IsDir {
			return false
		}
	}
	if len(exts) > 0 {
		if _, ok := slices.BinarySearch(exts, rec.Ext); !ok {
			return false
		}
	}
	return true
}
