package cache

import (
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLookupVersions(t *testing.T) {
	c := New[[]string](4)

	_, err := c.Lookup("q", 1)
	assert.ErrorIs(t, err, ErrMiss)

	c.Put("q", []string{"a", "b"}, 1)
	got, err := c.Lookup("q", 1)
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b"}, got)

	_, err = c.Lookup("q", 2)
	assert.ErrorIs(t, err, ErrStale)
	assert.Equal(t, 0, c.Len(), "stale entries are evicted on lookup")

	_, err = c.Lookup("q", 1)
	assert.ErrorIs(t, err, ErrMiss)

	st := c.Stats()
	assert.Equal(t, uint64(1), st.Hits)
	assert.Equal(t, uint64(3), st.Misses)
	assert.Equal(t, uint64(1), st.Stale)
}

func TestLRUEviction(t *testing.T) {
	c := New[int](2)
	c.Put("a", 1, 7)
	c.Put("b", 2, 7)
	_, ok := c.Get("a", 7) // a becomes most recent
	require.True(t, ok)
	c.Put("c", 3, 7)

	_, ok = c.Get("b", 7)
	assert.False(t, ok)
	v, ok := c.Get("a", 7)
	assert.True(t, ok)
	assert.Equal(t, 1, v)
	assert.Equal(t, uint64(1), c.Stats().Evictions)

	c.Put("a", 10, 8)
	v, ok = c.Get("a", 8)
	assert.True(t, ok)
	assert.Equal(t, 10, v)
	assert.Equal(t, 2, c.Len())
}

func TestDisabledAndPurge(t *testing.T) {
	off := New[int](0)
	off.Put("a", 1, 1)
	_, ok := off.Get("a", 1)
	assert.False(t, ok)

	c := New[int](8)
	c.Put("a", 1, 1)
	c.Put("b", 2, 1)
	c.Purge()
	assert.Equal(t, 0, c.Len())
	assert.Equal(t, 8, c.Stats().Capacity)
}

func TestConcurrentAccess(t *testing.T) {
	c := New[int](16)
	var wg sync.WaitGroup
	for g := 0; g < 8; g++ {
		wg.Add(1)
		go func(g int) {
			defer wg.Done()
			for i := 0; i < 200; i++ {
				key := fmt.Sprintf("k%d", i%32)
				c.Put(key, i, uint64(g%2))
				c.Get(key, uint64(g%2))
			}
		}(g)
	}
	wg.Wait()
	assert.LessOrEqual(t, c.Len(), 16)
}
