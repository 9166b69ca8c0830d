package engine

import (
	"hash/fnv"

	"github.com/mg52/unfold/internal/model"
	"github.com/mg52/unfold/internal/pkg/symspell"
	"github.com/mg52/unfold/internal/pkg/trie"
)

// postings maps a file to the frequency of a token in its tokenization.
type postings map[model.FileID]int

// shard owns the postings of every token that hashes to it, plus a trie and
// a delete map over its terms. Shards have no lock of their own; the Index
// lock covers them.
type shard struct {
	id    int
	terms map[string]postings // term -> file -> frequency
	grams map[string]postings // n-gram -> file -> frequency
	trie  *trie.Trie
	spell *symspell.SymSpell
}

func newShard(id int) *shard {
	return &shard{
		id:    id,
		terms: make(map[string]postings),
		grams: make(map[string]postings),
		trie:  trie.NewTrie(),
		spell: symspell.NewSymSpell(),
	}
}

// shardFor picks the shard of token among n shards.
func shardFor(token string, n int) int {
	h := fnv.New32a()
	h.Write([]byte(token))
	return int(h.Sum32() % uint32(n))
}

// addTerm records tf occurrences of term in id. A term seen for the first
// time also enters the trie and the delete map.
func (s *shard) addTerm(term string, id model.FileID, tf int) {
	p, ok := s.terms[term]
	if !ok {
		p = make(postings)
		s.terms[term] = p
		s.trie.Insert(term)
		s.spell.AddWord(term)
	}
	p[id] += tf
}

// removeTerm drops id from term's postings and forgets the term once no
// file carries it.
func (s *shard) removeTerm(term string, id model.FileID) {
	p, ok := s.terms[term]
	if !ok {
		return
	}
	delete(p, id)
	if len(p) == 0 {
		delete(s.terms, term)
		_ = s.trie.Remove(term)
		s.spell.DeleteWord(term)
	}
}

func (s *shard) addGram(gram string, id model.FileID, tf int) {
	p, ok := s.grams[gram]
	if !ok {
		p = make(postings)
		s.grams[gram] = p
	}
	p[id] += tf
}

func (s *shard) removeGram(gram string, id model.FileID) {
	p, ok := s.grams[gram]
	if !ok {
		return
	}
	delete(p, id)
	if len(p) == 0 {
		delete(s.grams, gram)
	}
}
