// Package trie is a rune trie used for prefix lookup over index terms.
// A Trie is not safe for concurrent mutation; the owning index shard
// serializes writers and readers.
package trie

import (
	"fmt"
	"sort"
)

type TrieNode struct {
	Children    map[rune]*TrieNode
	ChildrenArr []rune // sorted, so traversal order only depends on content
	IsEnd       bool
}

type Trie struct {
	Root *TrieNode
	size int
}

func NewTrie() *Trie {
	return &Trie{Root: newNode()}
}

func newNode() *TrieNode {
	return &TrieNode{Children: make(map[rune]*TrieNode)}
}

// Len returns the number of keys stored.
func (t *Trie) Len() int { return t.size }

// Insert adds key and reports whether it was not present before.
func (t *Trie) Insert(key string) bool {
	node := t.Root
	for _, ch := range key {
		child, exists := node.Children[ch]
		if !exists {
			child = newNode()
			node.Children[ch] = child
			i := sort.Search(len(node.ChildrenArr), func(i int) bool { return node.ChildrenArr[i] >= ch })
			node.ChildrenArr = append(node.ChildrenArr, 0)
			copy(node.ChildrenArr[i+1:], node.ChildrenArr[i:])
			node.ChildrenArr[i] = ch
		}
		node = child
	}
	if node.IsEnd {
		return false
	}
	node.IsEnd = true
	t.size++
	return true
}

// Has reports whether key is stored.
func (t *Trie) Has(key string) bool {
	node := t.find(key)
	return node != nil && node.IsEnd
}

func (t *Trie) find(prefix string) *TrieNode {
	node := t.Root
	for _, ch := range prefix {
		child, exists := node.Children[ch]
		if !exists {
			return nil
		}
		node = child
	}
	return node
}

// SearchPrefix returns up to limit keys starting with prefix, shortest
// first and lexicographic within a length. limit <= 0 means no limit.
func (t *Trie) SearchPrefix(prefix string, limit int) []string {
	node := t.find(prefix)
	if node == nil {
		return nil
	}
	var results []string
	t.collectWords(node, prefix, &results, limit)
	return results
}

func (t *Trie) collectWords(root *TrieNode, prefix string, results *[]string, limit int) {
	type entry struct {
		node   *TrieNode
		prefix string
	}

	// breadth first, so shorter completions win when the limit cuts in
	queue := []entry{{root, prefix}}
	for len(queue) > 0 {
		curr := queue[0]
		queue = queue[1:]

		if curr.node.IsEnd {
			*results = append(*results, curr.prefix)
			if limit > 0 && len(*results) >= limit {
				return
			}
		}

		for _, ch := range curr.node.ChildrenArr {
			queue = append(queue, entry{
				node:   curr.node.Children[ch],
				prefix: curr.prefix + string(ch),
			})
		}
	}
}

// Remove deletes key from the trie, pruning nodes left without keys.
// Returns an error if key was not found.
func (t *Trie) Remove(key string) error {
	runes := []rune(key)
	node := t.Root
	for _, ch := range runes {
		child, ok := node.Children[ch]
		if !ok {
			return fmt.Errorf("key %q not found in trie", key)
		}
		node = child
	}
	if !node.IsEnd {
		return fmt.Errorf("key %q not found in trie", key)
	}

	t.removeNode(t.Root, runes, 0)
	t.size--
	return nil
}

// removeNode walks down to depth, unmarks or deletes, and
// returns true if the caller should delete its reference
func (t *Trie) removeNode(node *TrieNode, runes []rune, depth int) bool {
	if depth == len(runes) {
		node.IsEnd = false
	} else {
		ch := runes[depth]
		child := node.Children[ch]
		if shouldDelete := t.removeNode(child, runes, depth+1); shouldDelete {
			delete(node.Children, ch)
			i := sort.Search(len(node.ChildrenArr), func(i int) bool { return node.ChildrenArr[i] >= ch })
			node.ChildrenArr = append(node.ChildrenArr[:i], node.ChildrenArr[i+1:]...)
		}
	}
	return node != t.Root && !node.IsEnd && len(node.Children) == 0
}
