package spatial

import (
	"container/list"
	"sync"
)

// entry is one cached page: its decoded node plus a dirty flag tracking
// whether it has unflushed changes relative to the pager's on-disk copy.
type entry struct {
	id      uint64
	node    Node
	dirty   bool
	element *list.Element
}

// Cache is a plain (non-segmented) dirty-aware LRU over decoded R-tree
// nodes, modeled on storage.BufferPool's container/list + map idiom but
// without SLRU's protected/probation split — the spec's cache contract
// (§4.7.3) is a single MRU/LRU ordering with explicit dirty-page tracking
// for the writer to flush before eviction.
type Cache struct {
	mu       sync.Mutex
	capacity int
	order    *list.List // front = MRU, back = LRU
	entries  map[uint64]*entry
}

// NewCache creates a cache holding up to capacity pages.
func NewCache(capacity int) *Cache {
	if capacity < 1 {
		capacity = 1
	}
	return &Cache{
		capacity: capacity,
		order:    list.New(),
		entries:  make(map[uint64]*entry),
	}
}

// Get returns the cached node for id without marking it dirty, promoting
// it to MRU on a hit.
func (c *Cache) Get(id uint64) (Node, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.entries[id]
	if !ok {
		return Node{}, false
	}
	c.order.MoveToFront(e.element)
	return e.node, true
}

// GetMut returns the cached node for id, marking it dirty since the
// caller intends to mutate and rewrite it.
func (c *Cache) GetMut(id uint64) (Node, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.entries[id]
	if !ok {
		return Node{}, false
	}
	c.order.MoveToFront(e.element)
	e.dirty = true
	return e.node, true
}

// Insert adds or replaces id's cached node, marking it dirty when the
// caller just wrote or mutated it.
func (c *Cache) Insert(id uint64, node Node, dirty bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if e, ok := c.entries[id]; ok {
		e.node = node
		e.dirty = e.dirty || dirty
		c.order.MoveToFront(e.element)
		return
	}
	e := &entry{id: id, node: node, dirty: dirty}
	e.element = c.order.PushFront(id)
	c.entries[id] = e
}

// NeedsEviction reports whether the cache is over capacity.
func (c *Cache) NeedsEviction() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.order.Len() > c.capacity
}

// EvictOldest drops the LRU entry and reports its id and whether it was
// dirty, so the caller can flush it first if so. Returns ok=false if the
// cache is empty.
func (c *Cache) EvictOldest() (id uint64, node Node, dirty bool, ok bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	back := c.order.Back()
	if back == nil {
		return 0, Node{}, false, false
	}
	evictID := back.Value.(uint64)
	e := c.entries[evictID]
	c.order.Remove(back)
	delete(c.entries, evictID)
	return e.id, e.node, e.dirty, true
}

// GetDirtyPages returns the ids of all currently dirty cached pages.
func (c *Cache) GetDirtyPages() []uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	var ids []uint64
	for id, e := range c.entries {
		if e.dirty {
			ids = append(ids, id)
		}
	}
	return ids
}

// MarkClean clears id's dirty flag, e.g. after the caller flushes it to
// the pager.
func (c *Cache) MarkClean(id uint64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if e, ok := c.entries[id]; ok {
		e.dirty = false
	}
}

// Remove drops id from the cache outright, used when a page is freed.
func (c *Cache) Remove(id uint64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if e, ok := c.entries[id]; ok {
		c.order.Remove(e.element)
		delete(c.entries, id)
	}
}

// Len reports the number of cached entries.
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.order.Len()
}
