package spatial

import (
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func leafNode(n int) Node {
	node := Node{Kind: pageKindLeaf}
	for i := 0; i < n; i++ {
		node.Leaves = append(node.Leaves, LeafEntry{Box: BBox{float64(i), 0, float64(i), 0}, ID: "x"})
	}
	return node
}

func TestCacheGetPromotesAndGetMutDirties(t *testing.T) {
	c := NewCache(4)
	c.Insert(1, leafNode(1), false)
	c.Insert(2, leafNode(2), false)

	_, ok := c.Get(1)
	require.True(t, ok)
	assert.Empty(t, c.GetDirtyPages(), "Get must not dirty")

	_, ok = c.GetMut(2)
	require.True(t, ok)
	assert.Equal(t, []uint64{2}, c.GetDirtyPages())

	c.MarkClean(2)
	assert.Empty(t, c.GetDirtyPages())
}

func TestCacheEvictsLRUWithDirtyFlag(t *testing.T) {
	c := NewCache(2)
	c.Insert(1, leafNode(1), true)
	c.Insert(2, leafNode(2), false)
	c.Insert(3, leafNode(3), false)
	require.True(t, c.NeedsEviction())

	id, node, dirty, ok := c.EvictOldest()
	require.True(t, ok)
	assert.Equal(t, uint64(1), id, "page 1 is least recently used")
	assert.True(t, dirty, "the evicted entry reports its dirty flag intact")
	assert.Equal(t, 1, node.EntryCount())
	assert.False(t, c.NeedsEviction())
}

func TestCacheAccessOrderAffectsEviction(t *testing.T) {
	c := NewCache(2)
	c.Insert(1, leafNode(1), false)
	c.Insert(2, leafNode(2), false)
	// Touch 1 so 2 becomes LRU.
	_, ok := c.Get(1)
	require.True(t, ok)
	c.Insert(3, leafNode(3), false)

	id, _, _, ok := c.EvictOldest()
	require.True(t, ok)
	assert.Equal(t, uint64(2), id)
}

func TestCacheRemoveAndEmptyEvict(t *testing.T) {
	c := NewCache(2)
	c.Insert(7, leafNode(1), true)
	c.Remove(7)
	assert.Equal(t, 0, c.Len())
	_, _, _, ok := c.EvictOldest()
	assert.False(t, ok)
}

// Property check for the cache law: after any operation sequence over at
// most capacity distinct ids (with the caller evicting whenever asked,
// as the R-tree does), the cache never exceeds capacity, and every evicted
// entry carries the dirty flag its history implies.
func TestCacheBoundedUnderRandomOps(t *testing.T) {
	const capacity = 8
	rng := rand.New(rand.NewSource(42))
	c := NewCache(capacity)
	dirty := make(map[uint64]bool)
	cached := make(map[uint64]bool)

	for step := 0; step < 5000; step++ {
		id := uint64(rng.Intn(32) + 1)
		switch rng.Intn(3) {
		case 0:
			c.Insert(id, leafNode(1), false)
			cached[id] = true
		case 1:
			if _, ok := c.GetMut(id); ok {
				dirty[id] = true
			}
		case 2:
			_, _ = c.Get(id)
		}
		for c.NeedsEviction() {
			evicted, _, wasDirty, ok := c.EvictOldest()
			require.True(t, ok)
			assert.Equal(t, dirty[evicted], wasDirty,
				"evicted page %d dirty flag mismatch", evicted)
			delete(dirty, evicted)
			delete(cached, evicted)
		}
		require.LessOrEqual(t, c.Len(), capacity)
	}
}
