// Package tokenize turns file names and paths into the canonical tokens the
// index stores and queries are matched against.
package tokenize

import (
	"path/filepath"
	"strings"
	"unicode"
	"unicode/utf8"

	"golang.org/x/text/cases"
	"golang.org/x/text/unicode/norm"
)

// Kind tells where a token came from.
type Kind uint8

const (
	KindName  Kind = iota // whole base name
	KindStem              // base name without extension
	KindExt               // extension without the dot
	KindWord              // word component of the name
	KindDir               // word component of a parent directory
	KindNGram             // fixed-length character n-gram of the base name
)

func (k Kind) String() string {
	switch k {
	case KindName:
		return "name"
	case KindStem:
		return "stem"
	case KindExt:
		return "ext"
	case KindWord:
		return "word"
	case KindDir:
		return "dir"
	case KindNGram:
		return "ngram"
	}
	return "unknown"
}

// Token is one normalized searchable unit.
type Token struct {
	Text string
	Kind Kind
}

// Options configures a Tokenizer.
type Options struct {
	CaseSensitive  bool
	NGramSize      int      // rune length of n-grams, 0 disables them
	StopExtensions []string // extensions that never become tokens
	MinWordLength  int      // shorter word components are dropped
	PathComponents bool     // also emit words of parent directories
}

// DefaultOptions uses trigrams and drops one-rune words.
func DefaultOptions() Options {
	return Options{
		NGramSize:     3,
		MinWordLength: 2,
	}
}

// Tokenizer is a pure function of its input and Options.
type Tokenizer struct {
	opts     Options
	stopExts map[string]struct{}
}

// New returns a Tokenizer for opts.
func New(opts Options) *Tokenizer {
	if opts.NGramSize < 0 {
		opts.NGramSize = 0
	}
	if opts.MinWordLength < 1 {
		opts.MinWordLength = 1
	}
	t := &Tokenizer{opts: opts, stopExts: make(map[string]struct{}, len(opts.StopExtensions))}
	for _, ext := range opts.StopExtensions {
		t.stopExts[strings.TrimPrefix(strings.ToLower(ext), ".")] = struct{}{}
	}
	return t
}

// Options returns the configuration the tokenizer was built with.
func (t *Tokenizer) Options() Options { return t.opts }

// Fold applies NFC normalization and, unless the tokenizer is case
// sensitive, full Unicode case folding.
func (t *Tokenizer) Fold(s string) string {
	s = norm.NFC.String(s)
	if t.opts.CaseSensitive {
		return s
	}
	// cases.Caser keeps state; one per call keeps Fold safe for concurrent use.
	return cases.Fold().String(s)
}

// Tokenize produces the token sequence of a file name or path. The same
// text may appear more than once; the count is the term frequency.
func (t *Tokenizer) Tokenize(nameOrPath string) []Token {
	nameOrPath = strings.TrimSpace(nameOrPath)
	if nameOrPath == "" {
		return nil
	}
	clean := filepath.ToSlash(nameOrPath)
	trimmed := strings.TrimRight(clean, "/")
	if trimmed == "" {
		return nil
	}
	dir, base := "", trimmed
	if i := strings.LastIndexByte(trimmed, '/'); i >= 0 {
		dir, base = trimmed[:i], trimmed[i+1:]
	}
	if base == "" {
		return nil
	}

	folded := t.Fold(base)
	tokens := []Token{{Text: folded, Kind: KindName}}

	stem, ext := splitExt(base)
	if ext != "" {
		if stem != "" {
			tokens = append(tokens, Token{Text: t.Fold(stem), Kind: KindStem})
		}
		foldedExt := t.Fold(ext)
		if _, stop := t.stopExts[strings.ToLower(ext)]; !stop {
			tokens = append(tokens, Token{Text: foldedExt, Kind: KindExt})
		}
	}

	for _, w := range Words(stem) {
		if utf8.RuneCountInString(w) < t.opts.MinWordLength {
			continue
		}
		tokens = append(tokens, Token{Text: t.Fold(w), Kind: KindWord})
	}

	if t.opts.PathComponents && dir != "" {
		for _, part := range strings.Split(dir, "/") {
			for _, w := range Words(part) {
				if utf8.RuneCountInString(w) < t.opts.MinWordLength {
					continue
				}
				tokens = append(tokens, Token{Text: t.Fold(w), Kind: KindDir})
			}
		}
	}

	for _, g := range NGrams(folded, t.opts.NGramSize) {
		tokens = append(tokens, Token{Text: g, Kind: KindNGram})
	}
	return tokens
}

// Terms returns the term and n-gram frequencies of nameOrPath. Term keys are
// every non-n-gram token text; the two namespaces never mix.
func (t *Tokenizer) Terms(nameOrPath string) (terms, grams map[string]int) {
	tokens := t.Tokenize(nameOrPath)
	terms = make(map[string]int, len(tokens))
	grams = make(map[string]int, len(tokens))
	for _, tok := range tokens {
		if tok.Kind == KindNGram {
			grams[tok.Text]++
			continue
		}
		terms[tok.Text]++
	}
	return terms, grams
}

// QueryTokens splits a free-text query into folded search tokens. Separators
// are whitespace and path separators; punctuation inside a token is kept so
// that "readme.md" can match a name exactly.
func (t *Tokenizer) QueryTokens(query string) []string {
	fields := strings.FieldsFunc(query, func(r rune) bool {
		return unicode.IsSpace(r) || r == '/' || r == '\\'
	})
	out := make([]string, 0, len(fields))
	seen := make(map[string]struct{}, len(fields))
	for _, f := range fields {
		f = t.Fold(f)
		if f == "" {
			continue
		}
		if _, dup := seen[f]; dup {
			continue
		}
		seen[f] = struct{}{}
		out = append(out, f)
	}
	return out
}

// NGrams returns the contiguous rune n-grams of s in order. Strings shorter
// than n yield none.
func NGrams(s string, n int) []string {
	if n <= 0 {
		return nil
	}
	runes := []rune(s)
	if len(runes) < n {
		return nil
	}
	grams := make([]string, 0, len(runes)-n+1)
	for i := 0; i+n <= len(runes); i++ {
		grams = append(grams, string(runes[i:i+n]))
	}
	return grams
}

// Words splits s on non-alphanumeric runes and on camelCase boundaries.
// Runs of letters followed by digits are kept together.
func Words(s string) []string {
	var words []string
	for _, part := range strings.FieldsFunc(s, func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	}) {
		words = append(words, splitCamel(part)...)
	}
	return words
}

// splitCamel splits "HTMLParser2Go" into "HTML", "Parser2", "Go".
func splitCamel(s string) []string {
	runes := []rune(s)
	var out []string
	start := 0
	for i := 1; i < len(runes); i++ {
		prev, cur := runes[i-1], runes[i]
		boundary := false
		switch {
		case unicode.IsLower(prev) && unicode.IsUpper(cur):
			boundary = true
		case unicode.IsDigit(prev) && unicode.IsUpper(cur):
			boundary = true
		case unicode.IsUpper(prev) && unicode.IsUpper(cur) && i+1 < len(runes) && unicode.IsLower(runes[i+1]):
			boundary = true
		}
		if boundary {
			out = append(out, string(runes[start:i]))
			start = i
		}
	}
	return append(out, string(runes[start:]))
}

func splitExt(name string) (stem, ext string) {
	i := strings.LastIndexByte(name, '.')
	if i <= 0 || i == len(name)-1 {
		return name, ""
	}
	return name[:i], name[i+1:]
}
