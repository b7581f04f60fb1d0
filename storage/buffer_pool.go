package storage

import (
	"container/list"
	"sync"

	"github.com/kartikbazzad/bundoc/internal/util"
)

// frame is one cached page plus its position in the pool's segment
// lists.
type frame struct {
	page    *Page
	element *list.Element
	hot     bool // true when the frame lives in the hot segment
}

// BufferPool caches pages with segmented LRU: a page enters the cold
// segment on first load and is promoted to the hot segment on its second
// touch, so a single large scan cannot flush the working set. Eviction
// prefers the cold segment's tail and skips pinned pages.
type BufferPool struct {
	mu       sync.RWMutex
	capacity int
	hotCap   int
	frames   map[PageID]*frame
	hot      *list.List // front = MRU
	cold     *list.List // front = MRU
	pager    *Pager
}

// NewBufferPool creates a pool holding up to capacity pages, with the
// customary 80/20 hot/cold split.
func NewBufferPool(capacity int, pager *Pager) *BufferPool {
	hotCap := capacity * 4 / 5
	if hotCap < 1 {
		hotCap = 1
	}
	return &BufferPool{
		capacity: capacity,
		hotCap:   hotCap,
		frames:   make(map[PageID]*frame),
		hot:      list.New(),
		cold:     list.New(),
		pager:    pager,
	}
}

// FetchPage returns the page, pinned. Cache hits promote the frame (cold
// → hot, or hot MRU); misses load from disk into the cold segment,
// evicting if the pool is full.
func (bp *BufferPool) FetchPage(id PageID) (*Page, error) {
	bp.mu.Lock()
	defer bp.mu.Unlock()

	if f, ok := bp.frames[id]; ok {
		f.page.Pin()
		bp.touch(id, f)
		return f.page, nil
	}

	page, err := bp.pager.ReadPage(id)
	if err != nil {
		return nil, err
	}
	if err := bp.admit(page); err != nil {
		return nil, err
	}
	page.Pin()
	return page, nil
}

// NewPage allocates a fresh page on disk and returns it pinned and
// dirty.
func (bp *BufferPool) NewPage(pageType byte) (*Page, error) {
	bp.mu.Lock()
	defer bp.mu.Unlock()

	id, err := bp.pager.AllocatePage()
	if err != nil {
		return nil, err
	}
	page := NewPage(id, pageType)
	if err := bp.admit(page); err != nil {
		return nil, err
	}
	page.Pin()
	page.MarkDirty()
	return page, nil
}

// touch applies the SLRU promotion rules to a frame that was just hit.
// Callers hold bp.mu.
func (bp *BufferPool) touch(id PageID, f *frame) {
	if f.hot {
		bp.hot.MoveToFront(f.element)
		return
	}
	// Second touch: promote out of the cold segment.
	bp.cold.Remove(f.element)
	f.element = bp.hot.PushFront(id)
	f.hot = true

	// The hot segment is bounded; demote its LRU frame back to cold.
	if bp.hot.Len() > bp.hotCap {
		back := bp.hot.Back()
		if back != nil {
			demotedID := back.Value.(PageID)
			demoted := bp.frames[demotedID]
			bp.hot.Remove(back)
			demoted.element = bp.cold.PushFront(demotedID)
			demoted.hot = false
		}
	}
}

// admit installs a freshly loaded/created page in the cold segment,
// evicting first if the pool is at capacity. Callers hold bp.mu.
func (bp *BufferPool) admit(page *Page) error {
	if len(bp.frames) >= bp.capacity {
		if err := bp.evict(); err != nil {
			return err
		}
	}
	bp.frames[page.ID] = &frame{
		page:    page,
		element: bp.cold.PushFront(page.ID),
	}
	return nil
}

// evict removes the least recently used unpinned frame, flushing it
// first if dirty: cold tail first, then hot tail. Callers hold bp.mu.
func (bp *BufferPool) evict() error {
	for _, seg := range []*list.List{bp.cold, bp.hot} {
		for e := seg.Back(); e != nil; e = e.Prev() {
			id := e.Value.(PageID)
			f := bp.frames[id]
			if f.page.IsPinned() {
				continue
			}
			f.page.mu.RLock()
			dirty := f.page.IsDirty
			f.page.mu.RUnlock()
			if dirty {
				if err := bp.pager.WritePage(f.page); err != nil {
					return err
				}
			}
			seg.Remove(e)
			delete(bp.frames, id)
			return nil
		}
	}
	// Every frame is pinned; nothing can go.
	return util.ErrPageFull
}

// UnpinPage releases a pin taken by FetchPage/NewPage, optionally
// marking the page dirty.
func (bp *BufferPool) UnpinPage(id PageID, isDirty bool) error {
	bp.mu.Lock()
	defer bp.mu.Unlock()

	f, ok := bp.frames[id]
	if !ok {
		return util.ErrPageNotFound
	}
	if isDirty {
		f.page.MarkDirty()
	}
	f.page.Unpin()
	return nil
}

// FlushPage writes one page to disk if it is dirty.
func (bp *BufferPool) FlushPage(id PageID) error {
	bp.mu.RLock()
	f, ok := bp.frames[id]
	bp.mu.RUnlock()
	if !ok {
		return util.ErrPageNotFound
	}

	f.page.mu.RLock()
	dirty := f.page.IsDirty
	f.page.mu.RUnlock()
	if !dirty {
		return nil
	}
	return bp.pager.WritePage(f.page)
}

// FlushAllPages writes every dirty page to disk and syncs the file.
func (bp *BufferPool) FlushAllPages() error {
	bp.mu.RLock()
	ids := make([]PageID, 0, len(bp.frames))
	for id := range bp.frames {
		ids = append(ids, id)
	}
	bp.mu.RUnlock()

	for _, id := range ids {
		if err := bp.FlushPage(id); err != nil {
			return err
		}
	}
	return bp.pager.Sync()
}

// Size reports how many pages are cached.
func (bp *BufferPool) Size() int {
	bp.mu.RLock()
	defer bp.mu.RUnlock()
	return len(bp.frames)
}

// Close flushes everything and closes the pager.
func (bp *BufferPool) Close() error {
	if err := bp.FlushAllPages(); err != nil {
		return err
	}
	return bp.pager.Close()
}
