package tokenize

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func texts(tokens []Token, kind Kind) []string {
	var out []string
	for _, tok := range tokens {
		if tok.Kind == kind {
			out = append(out, tok.Text)
		}
	}
	return out
}

func TestTokenizeName(t *testing.T) {
	tok := New(DefaultOptions())
	tokens := tok.Tokenize("/home/u/Projects/QuarterlyReport_2024.PDF")

	assert.Equal(t, []string{"quarterlyreport_2024.pdf"}, texts(tokens, KindName))
	assert.Equal(t, []string{"quarterlyreport_2024"}, texts(tokens, KindStem))
	assert.Equal(t, []string{"pdf"}, texts(tokens, KindExt))
	assert.Equal(t, []string{"quarterly", "report", "2024"}, texts(tokens, KindWord))
	assert.Empty(t, texts(tokens, KindDir), "path components are off by default")

	grams := texts(tokens, KindNGram)
	require.NotEmpty(t, grams)
	assert.Equal(t, "qua", grams[0])
	assert.Equal(t, "pdf", grams[len(grams)-1])
}

func TestTokenizeEdgeCases(t *testing.T) {
	tok := New(DefaultOptions())
	tests := []struct {
		name string
		in   string
		want []string // KindName tokens
	}{
		{"empty", "", nil},
		{"only separators", "///", nil},
		{"trailing slash", "/srv/data/", []string{"data"}},
		{"dot file", ".bashrc", []string{".bashrc"}},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, texts(tok.Tokenize(tc.in), KindName))
		})
	}

	// A dot file has no extension and keeps its whole name as the stem.
	assert.Empty(t, texts(tok.Tokenize(".bashrc"), KindExt))
	assert.Equal(t, []string{"bashrc"}, texts(tok.Tokenize(".bashrc"), KindWord))
}

func TestTokenizeOptions(t *testing.T) {
	t.Run("stop extensions", func(t *testing.T) {
		tok := New(Options{StopExtensions: []string{".TXT"}, MinWordLength: 2})
		assert.Empty(t, texts(tok.Tokenize("a/notes.txt"), KindExt))
		assert.Equal(t, []string{"md"}, texts(tok.Tokenize("a/readme.md"), KindExt))
	})
	t.Run("min word length", func(t *testing.T) {
		tok := New(Options{MinWordLength: 3})
		assert.Equal(t, []string{"backup"}, texts(tok.Tokenize("db-backup.sql"), KindWord))
	})
	t.Run("path components", func(t *testing.T) {
		tok := New(Options{PathComponents: true, MinWordLength: 2})
		assert.Equal(t, []string{"src", "http", "handlers"}, texts(tok.Tokenize("src/httpHandlers/main.go"), KindDir))
	})
	t.Run("case sensitive", func(t *testing.T) {
		tok := New(Options{CaseSensitive: true, MinWordLength: 2})
		assert.Equal(t, []string{"README.md"}, texts(tok.Tokenize("README.md"), KindName))
	})
	t.Run("no ngrams", func(t *testing.T) {
		tok := New(Options{NGramSize: 0})
		assert.Empty(t, texts(tok.Tokenize("abcdef"), KindNGram))
	})
}

func TestFoldNormalizes(t *testing.T) {
	tok := New(DefaultOptions())
	// "e" followed by a combining acute accent composes to "é".
	assert.Equal(t, "café", tok.Fold("CAFE\u0301"))
	assert.Equal(t, "strasse", tok.Fold("STRASSE"))
	assert.Equal(t, tok.Fold("Straße"), tok.Fold("STRASSE"))
}

func TestQueryTokens(t *testing.T) {
	tok := New(DefaultOptions())
	assert.Equal(t, []string{"readme.md", "docs"}, tok.QueryTokens("  README.md  docs/readme.md "))
	assert.Empty(t, tok.QueryTokens("   "))
}

func TestWords(t *testing.T) {
	tests := map[string][]string{
		"HTMLParser2Go":   {"HTML", "Parser2", "Go"},
		"my_file-name v2": {"my", "file", "name", "v2"},
		"camelCaseName":   {"camel", "Case", "Name"},
		"":                nil,
	}
	for in, want := range tests {
		assert.Equal(t, want, Words(in), in)
	}
}

func TestNGrams(t *testing.T) {
	assert.Equal(t, []string{"abc", "bcd"}, NGrams("abcd", 3))
	assert.Nil(t, NGrams("ab", 3))
	assert.Nil(t, NGrams("abc", 0))
	assert.Equal(t, []string{"日本語"}, NGrams("日本語", 3))
}
