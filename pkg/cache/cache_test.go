package cache

import (
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGetRefreshesRecency(t *testing.T) {
	// Capacity 3: put k1..k3, touch k1, then put k4.
	// k2 is now the least recently used and must be the one evicted.
	c := New[string, string](3)
	c.Put("k1", "v1")
	c.Put("k2", "v2")
	c.Put("k3", "v3")

	_, ok := c.Get("k1")
	require.True(t, ok)

	c.Put("k4", "v4")

	_, ok = c.Get("k2")
	assert.False(t, ok, "k2 should have been evicted")

	for key, want := range map[string]string{"k1": "v1", "k3": "v3", "k4": "v4"} {
		got, ok := c.Get(key)
		require.True(t, ok, key)
		assert.Equal(t, want, got)
	}
}

func TestEvictionIsStrictLRU(t *testing.T) {
	const capacity = 4
	c := New[int, int](capacity)

	// k+1 distinct puts: the first key is evicted, the rest survive.
	for i := 0; i <= capacity; i++ {
		c.Put(i, i*10)
	}

	_, ok := c.Get(0)
	assert.False(t, ok)
	for i := 1; i <= capacity; i++ {
		v, ok := c.Get(i)
		require.True(t, ok, "key %d", i)
		assert.Equal(t, i*10, v)
	}
}

func TestPutExistingKeyMovesToFront(t *testing.T) {
	c := New[string, int](2)
	c.Put("a", 1)
	c.Put("b", 2)
	c.Put("a", 3) // refresh a
	c.Put("c", 4) // evicts b, not a

	v, ok := c.Get("a")
	require.True(t, ok)
	assert.Equal(t, 3, v)
	_, ok = c.Get("b")
	assert.False(t, ok)
}

func TestClear(t *testing.T) {
	c := New[string, int](8)
	c.Put("a", 1)
	c.Put("b", 2)
	require.Equal(t, 2, c.Len())

	c.Clear()
	assert.Equal(t, 0, c.Len())
	_, ok := c.Get("a")
	assert.False(t, ok)
}

func TestConcurrentAccess(t *testing.T) {
	c := New[string, int](64)
	var wg sync.WaitGroup
	for g := 0; g < 8; g++ {
		wg.Add(1)
		go func(g int) {
			defer wg.Done()
			for i := 0; i < 500; i++ {
				key := fmt.Sprintf("k%d", i%100)
				c.Put(key, i)
				c.Get(key)
			}
		}(g)
	}
	wg.Wait()
	assert.LessOrEqual(t, c.Len(), 64)
}

func TestStats(t *testing.T) {
	c := New[string, int](2)
	c.Put("a", 1)
	c.Get("a")
	c.Get("missing")

	hits, misses := c.Stats()
	assert.Equal(t, int64(1), hits)
	assert.Equal(t, int64(1), misses)
}
