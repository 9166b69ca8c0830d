// Package fuzzy classifies how well a query token matches an index token.
//
// Inputs are expected to be normalized by the tokenizer already (folded and
// NFC); Classify compares them rune by rune and keeps no state, so it is safe
// to call from any number of goroutines.
package fuzzy

import (
	"strings"
	"unicode/utf8"
)

// Tier is the discrete quality of a match. Lower values are better.
type Tier uint8

const (
	Exact Tier = iota
	StartsWith
	Contains
	FuzzyHigh
	FuzzyLow
	NoMatch
)

var tierNames = [...]string{"exact", "starts_with", "contains", "fuzzy_high", "fuzzy_low", "no_match"}

func (t Tier) String() string {
	if int(t) < len(tierNames) {
		return tierNames[t]
	}
	return "unknown"
}

// Better reports whether t ranks above other.
func (t Tier) Better(other Tier) bool { return t < other }

// ParseTier is the inverse of Tier.String.
func ParseTier(s string) (Tier, bool) {
	for i, name := range tierNames {
		if name == s {
			return Tier(i), true
		}
	}
	return NoMatch, false
}

// Thresholds bound the fuzzy tiers.
type Thresholds struct {
	High      float64 // similarity at or above High is FuzzyHigh
	Low       float64 // similarity in [Low, High) is FuzzyLow
	MinLength int     // query tokens shorter than this never match fuzzily
}

// DefaultThresholds are 0.8/0.6 with fuzzy matching from three runes on.
func DefaultThresholds() Thresholds {
	return Thresholds{High: 0.8, Low: 0.6, MinLength: 3}
}

// Valid reports whether the thresholds are ordered and within [0, 1].
func (th Thresholds) Valid() bool {
	return th.Low >= 0 && th.High <= 1 && th.Low <= th.High && th.MinLength >= 0
}

// Classify returns the first tier, in precedence order, that query and
// candidate satisfy.
func Classify(query, candidate string, th Thresholds) Tier {
	if query == "" || candidate == "" {
		return NoMatch
	}
	switch {
	case query == candidate:
		return Exact
	case strings.HasPrefix(candidate, query):
		return StartsWith
	case strings.Contains(candidate, query):
		return Contains
	}
	if utf8.RuneCountInString(query) < th.MinLength {
		return NoMatch
	}
	sim := Similarity(query, candidate)
	switch {
	case sim >= th.High:
		return FuzzyHigh
	case sim >= th.Low:
		return FuzzyLow
	}
	return NoMatch
}

// Similarity is the larger of the normalized Levenshtein similarity and the
// Jaro-Winkler similarity of a and b.
func Similarity(a, b string) float64 {
	ra, rb := []rune(a), []rune(b)
	lev := LevenshteinSimilarity(ra, rb)
	jw := JaroWinkler(ra, rb)
	if jw > lev {
		return jw
	}
	return lev
}

// LevenshteinSimilarity is 1 - distance / max length.
func LevenshteinSimilarity(a, b []rune) float64 {
	longest := max(len(a), len(b))
	if longest == 0 {
		return 1
	}
	return 1 - float64(levenshteinDistance(a, b))/float64(longest)
}

// Distance is the Levenshtein edit distance between a and b in runes.
func Distance(a, b string) int {
	return levenshteinDistance([]rune(a), []rune(b))
}

// levenshteinDistance keeps two rows of the classic DP table.
func levenshteinDistance(a, b []rune) int {
	m, n := len(a), len(b)
	prev := make([]int, n+1)
	curr := make([]int, n+1)
	for j := 0; j <= n; j++ {
		prev[j] = j
	}
	for i := 1; i <= m; i++ {
		curr[0] = i
		for j := 1; j <= n; j++ {
			if a[i-1] == b[j-1] {
				curr[j] = prev[j-1]
			} else {
				curr[j] = 1 + min(prev[j], curr[j-1], prev[j-1])
			}
		}
		prev, curr = curr, prev
	}
	return prev[n]
}

const (
	winklerScale     = 0.1
	winklerMaxPrefix = 4
)

// JaroWinkler returns the Jaro similarity boosted by the length of the
// common prefix (up to four runes).
func JaroWinkler(a, b []rune) float64 {
	j := jaro(a, b)
	prefix := 0
	for prefix < len(a) && prefix < len(b) && prefix < winklerMaxPrefix && a[prefix] == b[prefix] {
		prefix++
	}
	return j + float64(prefix)*winklerScale*(1-j)
}

func jaro(a, b []rune) float64 {
	if len(a) == 0 && len(b) == 0 {
		return 1
	}
	if len(a) == 0 || len(b) == 0 {
		return 0
	}
	window := max(len(a), len(b))/2 - 1
	if window < 0 {
		window = 0
	}
	aMatched := make([]bool, len(a))
	bMatched := make([]bool, len(b))
	matches := 0
	for i := range a {
		lo := max(0, i-window)
		hi := min(len(b), i+window+1)
		for k := lo; k < hi; k++ {
			if bMatched[k] || a[i] != b[k] {
				continue
			}
			aMatched[i], bMatched[k] = true, true
			matches++
			break
		}
	}
	if matches == 0 {
		return 0
	}
	transpositions := 0
	k := 0
	for i := range a {
		if !aMatched[i] {
			continue
		}
		for !bMatched[k] {
			k++
		}
		if a[i] != b[k] {
			transpositions++
		}
		k++
	}
	m := float64(matches)
	return (m/float64(len(a)) + m/float64(len(b)) + (m-float64(transpositions)/2)/m) / 3
}
