package symspell

import (
	"sort"
)

// SymSpell implements the Symmetric-Delete spelling correction algorithm
// for edit-distance-1 candidate generation. It precomputes all single-rune
// deletions of each dictionary word and stores them in a map for O(m) lookup.
// Callers serialize access; the index shard that owns it holds the lock.
type SymSpell struct {
	DeleteMap map[string]map[string]struct{}
}

// NewSymSpell creates a SymSpell instance.
func NewSymSpell() *SymSpell {
	return &SymSpell{
		DeleteMap: make(map[string]map[string]struct{}),
	}
}

func deletes(word string) []string {
	runes := []rune(word)
	if len(runes) < 2 {
		return nil
	}
	out := make([]string, 0, len(runes))
	for i := range runes {
		out = append(out, string(runes[:i])+string(runes[i+1:]))
	}
	return out
}

func (s *SymSpell) link(key, word string) {
	originals, exists := s.DeleteMap[key]
	if !exists {
		originals = make(map[string]struct{})
		s.DeleteMap[key] = originals
	}
	originals[word] = struct{}{}
}

func (s *SymSpell) unlink(key, word string) {
	if originals, exists := s.DeleteMap[key]; exists {
		delete(originals, word)
		if len(originals) == 0 {
			delete(s.DeleteMap, key)
		}
	}
}

// AddWord indexes a new word by generating all its single-rune deletes.
func (s *SymSpell) AddWord(word string) {
	s.link(word, word)
	for _, del := range deletes(word) {
		s.link(del, word)
	}
}

// LoadDictionary adds all words in the slice to the SymSpell index.
func (s *SymSpell) LoadDictionary(words []string) {
	for _, w := range words {
		s.AddWord(w)
	}
}

// DeleteWord removes a word from the SymSpell index, including its
// entry for exact match and all its single-rune deletions.
func (s *SymSpell) DeleteWord(word string) {
	s.unlink(word, word)
	for _, del := range deletes(word) {
		s.unlink(del, word)
	}
}

// FuzzySearch returns dictionary words other than query that share a
// delete with it, in lexicographic order, at most maxReturnCount of them.
func (s *SymSpell) FuzzySearch(query string, maxReturnCount int) []string {
	seen := make(map[string]struct{})
	add := func(key string) {
		for w := range s.DeleteMap[key] {
			if w != query {
				seen[w] = struct{}{}
			}
		}
	}

	add(query)
	for _, del := range deletes(query) {
		add(del)
	}

	results := make([]string, 0, len(seen))
	for w := range seen {
		results = append(results, w)
	}
	sort.Strings(results)
	if maxReturnCount > 0 && len(results) > maxReturnCount {
		results = results[:maxReturnCount]
	}
	return results
}
