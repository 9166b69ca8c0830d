// Package ranking turns match tiers, access history and file type into a
// score and orders results by it.
package ranking

import (
	"cmp"
	"errors"
	"fmt"
	"slices"
	"strings"

	"github.com/mg52/unfold/internal/pkg/fuzzy"
)

// Weights are the coefficients of the score.
type Weights struct {
	Exact      float64
	StartsWith float64
	Contains   float64
	FuzzyHigh  float64
	FuzzyLow   float64

	Alpha        float64 // multiplier of the decayed access weight
	Beta         float64 // multiplier of the type bonus
	DepthPenalty float64 // subtracted once per path separator
}

// DefaultWeights returns the tier weights 100/80/60/50/15.
func DefaultWeights() Weights {
	return Weights{
		Exact:      100,
		StartsWith: 80,
		Contains:   60,
		FuzzyHigh:  50,
		FuzzyLow:   15,
		Alpha:      5,
		Beta:       1,
	}
}

// ErrWeightOrder is returned by Validate for tier weights that do not
// strictly decrease.
var ErrWeightOrder = errors.New("tier weights must strictly decrease")

// Validate checks Exact > StartsWith > Contains > FuzzyHigh > FuzzyLow > 0
// and that no coefficient is negative.
func (w Weights) Validate() error {
	tiers := []float64{w.Exact, w.StartsWith, w.Contains, w.FuzzyHigh, w.FuzzyLow, 0}
	for i := 1; i < len(tiers); i++ {
		if tiers[i-1] <= tiers[i] {
			return fmt.Errorf("%w: %s", ErrWeightOrder, fuzzy.Tier(i-1))
		}
	}
	if w.Alpha < 0 || w.Beta < 0 || w.DepthPenalty < 0 {
		return errors.New("alpha, beta and depth penalty must not be negative")
	}
	return nil
}

// TierWeight maps a tier to its weight. NoMatch weighs nothing.
func (w Weights) TierWeight(t fuzzy.Tier) float64 {
	switch t {
	case fuzzy.Exact:
		return w.Exact
	case fuzzy.StartsWith:
		return w.StartsWith
	case fuzzy.Contains:
		return w.Contains
	case fuzzy.FuzzyHigh:
		return w.FuzzyHigh
	case fuzzy.FuzzyLow:
		return w.FuzzyLow
	}
	return 0
}

// Rule grants Bonus to the listed extensions when the query satisfies it.
type Rule struct {
	Extensions     []string `yaml:"extensions" toml:"extensions"`
	MinQueryLength int      `yaml:"min_query_length" toml:"min_query_length"` // query must be longer than this
	QueryContains  []string `yaml:"query_contains" toml:"query_contains"`     // any of these must occur in the query
	Bonus          float64  `yaml:"bonus" toml:"bonus"`
}

func (r Rule) matches(ext, query string) bool {
	if !slices.Contains(r.Extensions, ext) {
		return false
	}
	if len([]rune(query)) <= r.MinQueryLength {
		return false
	}
	if len(r.QueryContains) == 0 {
		return true
	}
	for _, s := range r.QueryContains {
		if strings.Contains(query, s) {
			return true
		}
	}
	return false
}

// BonusTable holds static per-extension bonuses and context rules. The zero
// value grants nothing.
type BonusTable struct {
	Extensions map[string]float64 `yaml:"extensions" toml:"extensions"`
	Rules      []Rule             `yaml:"rules" toml:"rules"`
}

// ContextRules favour installers and applications for longer queries and
// source files for queries that look technical.
func ContextRules() []Rule {
	return []Rule{
		{
			Extensions:     []string{"exe", "app", "deb", "dmg", "pkg"},
			MinQueryLength: 3,
			Bonus:          10,
		},
		{
			Extensions:    []string{"py", "js", "ts", "java", "cpp", "c", "h", "go", "rs"},
			QueryContains: []string{"_", "-", "test", "spec"},
			Bonus:         5,
		},
	}
}

// Ranker scores and orders results. It is immutable and safe for
// concurrent use.
type Ranker struct {
	weights Weights
	bonus   BonusTable
}

// New returns a Ranker after validating w.
func New(w Weights, bonus BonusTable) (*Ranker, error) {
	if err := w.Validate(); err != nil {
		return nil, err
	}
	exts := make(map[string]float64, len(bonus.Extensions))
	for ext, b := range bonus.Extensions {
		exts[normalizeExt(ext)] = b
	}
	rules := make([]Rule, len(bonus.Rules))
	for i, r := range bonus.Rules {
		r.Extensions = slices.Clone(r.Extensions)
		for j, ext := range r.Extensions {
			r.Extensions[j] = normalizeExt(ext)
		}
		rules[i] = r
	}
	return &Ranker{weights: w, bonus: BonusTable{Extensions: exts, Rules: rules}}, nil
}

// Weights returns the ranker's coefficients.
func (r *Ranker) Weights() Weights { return r.weights }

// TypeBonus is the static bonus of ext plus the first matching rule's bonus.
// query is the folded query text.
func (r *Ranker) TypeBonus(ext, query string) float64 {
	if ext == "" {
		return 0
	}
	bonus := r.bonus.Extensions[ext]
	for _, rule := range r.bonus.Rules {
		if rule.matches(ext, query) {
			bonus += rule.Bonus
			break
		}
	}
	return bonus
}

// Score = TierWeight(tier) + Alpha*decayed + Beta*typeBonus - DepthPenalty*depth.
func (r *Ranker) Score(tier fuzzy.Tier, decayed, typeBonus float64, depth int) float64 {
	w := r.weights
	return w.TierWeight(tier) + w.Alpha*decayed + w.Beta*typeBonus - w.DepthPenalty*float64(depth)
}

// Key is what ordering looks at.
type Key struct {
	Score float64
	Path  string
}

// Compare orders by score descending, then shorter path, then path.
// It is a total order over distinct paths.
func Compare(a, b Key) int {
	if c := cmp.Compare(b.Score, a.Score); c != 0 {
		return c
	}
	if c := cmp.Compare(len(a.Path), len(b.Path)); c != 0 {
		return c
	}
	return strings.Compare(a.Path, b.Path)
}

// Sort orders items in place by the key key returns.
func Sort[T any](items []T, key func(T) Key) {
	slices.SortStableFunc(items, func(a, b T) int { return Compare(key(a), key(b)) })
}

func normalizeExt(ext string) string {
	return strings.ToLower(strings.TrimPrefix(ext, "."))
}
