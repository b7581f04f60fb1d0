package storage

import (
	"encoding/binary"
	"sync"
)

// PageID addresses one fixed-size page in the store's backing file.
type PageID uint64

// PageSize is the on-disk unit of the B+Tree engine.
const PageSize = 8192

// Page types. Meta pages carry fixed-layout payloads (the superblock);
// leaf and index pages belong to B+Trees.
const (
	PageTypeInvalid = iota
	PageTypeMeta
	PageTypeFree
	PageTypeIndex
	PageTypeLeaf
)

// Page header layout:
//
//	0      type (1 byte)
//	1      flags (1 byte, reserved)
//	2-3    cell count (uint16)
//	4-5    used offset (uint16) — first free byte in the page
//	6-13   next page (uint64) — leaf sibling link
//	14-21  prev page (uint64) — leaf sibling link
const PageHeaderSize = 22

// Page is one in-memory page frame: raw bytes plus the pin/dirty state
// the buffer pool tracks. Accessors lock the page so concurrent readers
// of different trees sharing one pool stay safe.
type Page struct {
	ID       PageID
	Data     [PageSize]byte
	IsDirty  bool
	PinCount int32
	mu       sync.RWMutex
}

// NewPage returns a zeroed page of the given type with an empty cell
// area.
func NewPage(id PageID, pageType byte) *Page {
	p := &Page{ID: id}
	p.SetPageType(pageType)
	p.SetCellCount(0)
	p.SetUsedOffset(PageHeaderSize)
	return p
}

// Pin marks the page in use; a pinned page is never evicted.
func (p *Page) Pin() {
	p.mu.Lock()
	p.PinCount++
	p.mu.Unlock()
}

// Unpin releases one pin.
func (p *Page) Unpin() {
	p.mu.Lock()
	if p.PinCount > 0 {
		p.PinCount--
	}
	p.mu.Unlock()
}

// IsPinned reports whether any caller still holds the page.
func (p *Page) IsPinned() bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.PinCount > 0
}

// MarkDirty notes that the page differs from its on-disk copy.
func (p *Page) MarkDirty() {
	p.mu.Lock()
	p.IsDirty = true
	p.mu.Unlock()
}

func (p *Page) GetPageType() byte {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.Data[0]
}

func (p *Page) SetPageType(pageType byte) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.Data[0] = pageType
	p.IsDirty = true
}

// CellCount returns the number of cells stored in the page.
func (p *Page) CellCount() uint16 {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return binary.LittleEndian.Uint16(p.Data[2:4])
}

// SetCellCount records the number of cells stored in the page.
func (p *Page) SetCellCount(n uint16) {
	p.mu.Lock()
	defer p.mu.Unlock()
	binary.LittleEndian.PutUint16(p.Data[2:4], n)
	p.IsDirty = true
}

// UsedOffset returns the offset of the first free byte.
func (p *Page) UsedOffset() uint16 {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return binary.LittleEndian.Uint16(p.Data[4:6])
}

// SetUsedOffset records the offset of the first free byte.
func (p *Page) SetUsedOffset(off uint16) {
	p.mu.Lock()
	defer p.mu.Unlock()
	binary.LittleEndian.PutUint16(p.Data[4:6], off)
	p.IsDirty = true
}

// GetNextPage returns the leaf's right sibling (0 = none).
func (p *Page) GetNextPage() PageID {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return PageID(binary.LittleEndian.Uint64(p.Data[6:14]))
}

// SetNextPage links the leaf's right sibling.
func (p *Page) SetNextPage(id PageID) {
	p.mu.Lock()
	defer p.mu.Unlock()
	binary.LittleEndian.PutUint64(p.Data[6:14], uint64(id))
	p.IsDirty = true
}

// GetPrevPage returns the leaf's left sibling (0 = none).
func (p *Page) GetPrevPage() PageID {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return PageID(binary.LittleEndian.Uint64(p.Data[14:22]))
}

// SetPrevPage links the leaf's left sibling.
func (p *Page) SetPrevPage(id PageID) {
	p.mu.Lock()
	defer p.mu.Unlock()
	binary.LittleEndian.PutUint64(p.Data[14:22], uint64(id))
	p.IsDirty = true
}

// RemainingSpace returns how many bytes of cell area are still free.
func (p *Page) RemainingSpace() int {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return PageSize - int(binary.LittleEndian.Uint16(p.Data[4:6]))
}

// WriteAt copies data into the page's raw bytes starting at offset,
// marking the page dirty. Used by callers that store fixed-layout
// payloads outside the B+Tree cell format, such as the superblock page.
func (p *Page) WriteAt(offset int, data []byte) {
	p.mu.Lock()
	defer p.mu.Unlock()
	copy(p.Data[offset:offset+len(data)], data)
	p.IsDirty = true
}

// ReadAt returns a copy of n bytes of the page's raw bytes starting at
// offset.
func (p *Page) ReadAt(offset, n int) []byte {
	p.mu.RLock()
	defer p.mu.RUnlock()
	out := make([]byte, n)
	copy(out, p.Data[offset:offset+n])
	return out
}
