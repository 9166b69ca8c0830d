// Package cache memoizes ranked results per query signature. Entries carry
// the index version they were computed at and are served only while that
// version is current.
package cache

import (
	"container/list"
	"errors"
	"sync"
)

var (
	// ErrMiss means no entry exists for the signature.
	ErrMiss = errors.New("cache miss")
	// ErrStale means the entry was computed at another index version. It has
	// been evicted and must be recomputed.
	ErrStale = errors.New("cache entry stale")
)

// Stats are the cache counters.
type Stats struct {
	Hits      uint64 `json:"hits"`
	Misses    uint64 `json:"misses"`
	Stale     uint64 `json:"stale"`
	Evictions uint64 `json:"evictions"`
	Len       int    `json:"len"`
	Capacity  int    `json:"capacity"`
}

type entry[V any] struct {
	key     string
	value   V
	version uint64
}

// Cache is a bounded LRU keyed by signature. A capacity of zero or less
// disables caching. Safe for concurrent use.
type Cache[V any] struct {
	mu       sync.Mutex
	capacity int
	ll       *list.List
	items    map[string]*list.Element
	stats    Stats
}

// New returns an empty cache holding at most capacity entries.
func New[V any](capacity int) *Cache[V] {
	return &Cache[V]{
		capacity: capacity,
		ll:       list.New(),
		items:    make(map[string]*list.Element),
	}
}

// Lookup returns the entry for sig if it was stored at version. A stale
// entry is removed and reported as ErrStale.
func (c *Cache[V]) Lookup(sig string, version uint64) (V, error) {
	var zero V
	c.mu.Lock()
	defer c.mu.Unlock()

	el, ok := c.items[sig]
	if !ok {
		c.stats.Misses++
		return zero, ErrMiss
	}
	e := el.Value.(*entry[V])
	if e.version != version {
		c.ll.Remove(el)
		delete(c.items, sig)
		c.stats.Stale++
		c.stats.Misses++
		return zero, ErrStale
	}
	c.ll.MoveToFront(el)
	c.stats.Hits++
	return e.value, nil
}

// Get is Lookup without the reason for a miss.
func (c *Cache[V]) Get(sig string, version uint64) (V, bool) {
	v, err := c.Lookup(sig, version)
	return v, err == nil
}

// Put stores v for sig, stamped with version, evicting the least recently
// used entry when full.
func (c *Cache[V]) Put(sig string, v V, version uint64) {
	if c.capacity <= 0 {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	if el, ok := c.items[sig]; ok {
		e := el.Value.(*entry[V])
		e.value, e.version = v, version
		c.ll.MoveToFront(el)
		return
	}
	c.items[sig] = c.ll.PushFront(&entry[V]{key: sig, value: v, version: version})
	for c.ll.Len() > c.capacity {
		oldest := c.ll.Back()
		c.ll.Remove(oldest)
		delete(c.items, oldest.Value.(*entry[V]).key)
		c.stats.Evictions++
	}
}

// Purge drops every entry. Counters are kept.
func (c *Cache[V]) Purge() {
	c.mu.Lock()
	c.ll.Init()
	c.items = make(map[string]*list.Element)
	c.mu.Unlock()
}

// Len returns the number of entries, stale ones included.
func (c *Cache[V]) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.ll.Len()
}

// Stats returns a copy of the counters.
func (c *Cache[V]) Stats() Stats {
	c.mu.Lock()
	defer c.mu.Unlock()
	st := c.stats
	st.Len = c.ll.Len()
	st.Capacity = c.capacity
	return st
}
