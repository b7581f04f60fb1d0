package spatial

import (
	"os"
	"sync"

	"github.com/kartikbazzad/bundoc/dberr"
)

// Pager owns the R-tree's backing file: raw PageSize-aligned reads and
// writes, plus a reusable free list threaded through unused pages (§4.7.2).
// It does no caching of its own — that's cache.go's job.
type Pager struct {
	mu     sync.Mutex
	file   *os.File
	header Header
}

// OpenPager opens (or creates) path as an R-tree file, initializing a
// fresh header if the file is empty.
func OpenPager(path string) (*Pager, error) {
	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE, 0o644)
	if err != nil {
		return nil, dberr.IOErrorf(err, "spatial: open %s", path)
	}
	info, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, dberr.IOErrorf(err, "spatial: stat %s", path)
	}
	p := &Pager{file: f}
	if info.Size() == 0 {
		p.header = newHeader()
		if err := p.writeHeaderLocked(); err != nil {
			f.Close()
			return nil, err
		}
		return p, nil
	}
	buf := make([]byte, PageSize)
	if _, err := f.ReadAt(buf, 0); err != nil {
		f.Close()
		return nil, dberr.Corruptionf("spatial: read header of %s: %v", path, err)
	}
	h, err := decodeHeader(buf)
	if err != nil {
		f.Close()
		return nil, err
	}
	p.header = h
	return p, nil
}

func (p *Pager) writeHeaderLocked() error {
	if _, err := p.file.WriteAt(encodeHeader(p.header), 0); err != nil {
		return dberr.IOErrorf(err, "spatial: write header")
	}
	return nil
}

// Header returns a copy of the current file header.
func (p *Pager) Header() Header {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.header
}

// SetRoot updates the root page id and height, persisting the header.
func (p *Pager) SetRoot(root uint64, height uint32) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.header.RootPage = root
	p.header.Height = height
	return p.writeHeaderLocked()
}

// SetEntryCount persists the live entry count.
func (p *Pager) SetEntryCount(n uint64) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.header.EntryCount = n
	return p.writeHeaderLocked()
}

func (p *Pager) offset(id uint64) int64 { return int64(id) * PageSize }

// ReadPage reads and decodes the node at id. id 0 (the header) is never a
// valid node page.
func (p *Pager) ReadPage(id uint64) (Node, error) {
	if id == headerPageID {
		return Node{}, dberr.Corruptionf("spatial: page 0 is the header, not a node")
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	buf := make([]byte, PageSize)
	if _, err := p.file.ReadAt(buf, p.offset(id)); err != nil {
		return Node{}, dberr.IOErrorf(err, "spatial: read page %d", id)
	}
	return decodeNodePage(buf)
}

// WritePage encodes and writes node at id.
func (p *Pager) WritePage(id uint64, node Node) error {
	if id == headerPageID {
		return dberr.Corruptionf("spatial: page 0 is the header, not a node")
	}
	buf, err := encodeNodePage(node)
	if err != nil {
		return err
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if _, err := p.file.WriteAt(buf, p.offset(id)); err != nil {
		return dberr.IOErrorf(err, "spatial: write page %d", id)
	}
	return nil
}

// Allocate returns a page id for a fresh node, reusing the free list's
// head if one exists, otherwise extending the file (§4.7.2).
func (p *Pager) Allocate() (uint64, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.header.FreeListHead != freeListNone {
		id := p.header.FreeListHead
		buf := make([]byte, PageSize)
		if _, err := p.file.ReadAt(buf, p.offset(id)); err != nil {
			return 0, dberr.IOErrorf(err, "spatial: read free page %d", id)
		}
		free, err := decodeNodePage(buf)
		if err != nil {
			return 0, err
		}
		if !free.IsFree() {
			return 0, dberr.Corruptionf("spatial: free list head %d is not a free page", id)
		}
		p.header.FreeListHead = free.NextFree
		p.header.FreePageCount--
		if err := p.writeHeaderLocked(); err != nil {
			return 0, err
		}
		return id, nil
	}

	id := p.header.NextPageID
	p.header.NextPageID++
	if err := p.writeHeaderLocked(); err != nil {
		return 0, err
	}
	return id, nil
}

// Free returns id to the free list, threading it onto the current head.
func (p *Pager) Free(id uint64) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	node := Node{Kind: pageKindFree, NextFree: p.header.FreeListHead}
	buf, err := encodeNodePage(node)
	if err != nil {
		return err
	}
	if _, err := p.file.WriteAt(buf, p.offset(id)); err != nil {
		return dberr.IOErrorf(err, "spatial: write free page %d", id)
	}
	p.header.FreeListHead = id
	p.header.FreePageCount++
	return p.writeHeaderLocked()
}

// Sync flushes the underlying file to stable storage.
func (p *Pager) Sync() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if err := p.file.Sync(); err != nil {
		return dberr.IOErrorf(err, "spatial: sync")
	}
	return nil
}

// Close closes the backing file.
func (p *Pager) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if err := p.file.Close(); err != nil {
		return dberr.IOErrorf(err, "spatial: close")
	}
	return nil
}
