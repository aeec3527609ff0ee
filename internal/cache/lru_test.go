package cache

import (
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCapacityNeverExceeded(t *testing.T) {
	const capacity = 5
	c := New[int](capacity)

	for i := 0; i < 50; i++ {
		c.Set(fmt.Sprintf("key-%d", i), i)
		assert.LessOrEqual(t, c.Len(), capacity)
	}
	assert.Equal(t, capacity, c.Len())
}

func TestEvictionIsStrictlyLRU(t *testing.T) {
	c := New[string](3)
	c.Set("a", "1")
	c.Set("b", "2")
	c.Set("c", "3")

	// Touch "a" so "b" becomes the least recently used.
	_, ok := c.Get("a")
	require.True(t, ok)

	c.Set("d", "4")

	_, ok = c.Get("b")
	assert.False(t, ok, "least-recently-used entry should have been evicted")
	for _, k := range []string{"a", "c", "d"} {
		_, ok := c.Get(k)
		assert.True(t, ok, "entry %q should survive", k)
	}
}

func TestEvictionTieBrokenByInsertionOrder(t *testing.T) {
	c := New[int](2)
	c.Set("first", 1)
	c.Set("second", 2)
	c.Set("third", 3)

	_, ok := c.Get("first")
	assert.False(t, ok)
	_, ok = c.Get("second")
	assert.True(t, ok)
}

func TestSetUpdatesExisting(t *testing.T) {
	c := New[int](2)
	c.Set("a", 1)
	c.Set("b", 2)
	c.Set("a", 10)
	c.Set("c", 3)

	// "a" was refreshed by the update, so "b" is evicted.
	v, ok := c.Get("a")
	require.True(t, ok)
	assert.Equal(t, 10, v)
	_, ok = c.Get("b")
	assert.False(t, ok)
}

func TestDeleteAndClear(t *testing.T) {
	c := New[int](4)
	c.Set("a", 1)
	c.Set("b", 2)

	assert.True(t, c.Delete("a"))
	assert.False(t, c.Delete("a"))
	assert.Equal(t, 1, c.Len())

	c.Clear()
	assert.Equal(t, 0, c.Len())
	_, ok := c.Get("b")
	assert.False(t, ok)
}

func TestEvictOlderThan(t *testing.T) {
	c := New[int](10)
	c.Set("old-1", 1)
	c.Set("old-2", 2)

	time.Sleep(30 * time.Millisecond)
	c.Set("fresh", 3)

	removed := c.EvictOlderThan(20 * time.Millisecond)
	assert.Equal(t, 2, removed)
	assert.Equal(t, 1, c.Len())

	_, ok := c.Get("fresh")
	assert.True(t, ok)
}

func TestStatsHitRate(t *testing.T) {
	c := New[int](4)
	c.Set("a", 1)

	c.Get("a")       // hit
	c.Get("a")       // hit
	c.Get("missing") // miss

	stats := c.GetStats()
	assert.Equal(t, int64(2), stats.Hits)
	assert.Equal(t, int64(1), stats.Misses)
	assert.InDelta(t, 2.0/3.0, stats.HitRate, 0.001)
	assert.Equal(t, 4, stats.Capacity)

	c.ResetStats()
	assert.Equal(t, int64(0), c.GetStats().Hits)
}

func TestKeysOrderedByRecency(t *testing.T) {
	c := New[int](3)
	c.Set("a", 1)
	c.Set("b", 2)
	c.Set("c", 3)
	c.Get("a")

	assert.Equal(t, []string{"a", "c", "b"}, c.Keys())
}

func TestEstimateMemoryUsage(t *testing.T) {
	c := New[map[string]string](4)
	assert.EqualValues(t, 0, c.EstimateMemoryUsage())

	c.Set("k", map[string]string{"hello": "world"})
	est := c.EstimateMemoryUsage()
	assert.Greater(t, est, int64(len("k")))
}
