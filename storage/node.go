package storage

import (
	"bytes"
	"encoding/binary"
	"fmt"

	"github.com/kartikbazzad/bundoc/internal/util"
)

// B+Tree node layout on a page.
//
// Leaf pages pack cells directly after the header; index pages reserve
// eight bytes for the leftmost child pointer first:
//
//	leaf:  header | cell*            cell = keyLen(2) key valLen(2) val
//	index: header | leftmost(8) | cell*
//
// An index cell's value is the 8-byte PageID of the child covering keys
// at or above the cell's key; keys below the first cell go to the
// leftmost child.

// Entry is one key/value cell.
type Entry struct {
	Key   []byte
	Value []byte
}

// cellStart returns the offset of the first cell for a page's type.
func cellStart(pageType byte) int {
	if pageType == PageTypeIndex {
		return PageHeaderSize + 8
	}
	return PageHeaderSize
}

// cellBytes returns how many bytes entries occupy when packed.
func cellBytes(entries []Entry) int {
	n := 0
	for _, e := range entries {
		n += 4 + len(e.Key) + len(e.Value)
	}
	return n
}

// leftmostChild reads an index page's leftmost child pointer.
func leftmostChild(p *Page) PageID {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return PageID(binary.LittleEndian.Uint64(p.Data[PageHeaderSize : PageHeaderSize+8]))
}

// setLeftmostChild writes an index page's leftmost child pointer.
func setLeftmostChild(p *Page, id PageID) {
	p.mu.Lock()
	defer p.mu.Unlock()
	binary.LittleEndian.PutUint64(p.Data[PageHeaderSize:PageHeaderSize+8], uint64(id))
	p.IsDirty = true
}

// encodeChild renders a child PageID as an index cell value.
func encodeChild(id PageID) []byte {
	buf := make([]byte, 8)
	binary.LittleEndian.PutUint64(buf, uint64(id))
	return buf
}

// childOf decodes an index cell's child PageID.
func childOf(e Entry) PageID {
	return PageID(binary.LittleEndian.Uint64(e.Value))
}

// readCells decodes every cell of a page, leaf or index.
func readCells(p *Page) []Entry {
	p.mu.RLock()
	defer p.mu.RUnlock()

	count := int(binary.LittleEndian.Uint16(p.Data[2:4]))
	if count == 0 {
		return nil
	}
	entries := make([]Entry, 0, count)
	off := cellStart(p.Data[0])
	for i := 0; i < count; i++ {
		if off+2 > PageSize {
			break
		}
		keyLen := int(binary.LittleEndian.Uint16(p.Data[off : off+2]))
		off += 2
		if off+keyLen+2 > PageSize {
			break
		}
		key := make([]byte, keyLen)
		copy(key, p.Data[off:off+keyLen])
		off += keyLen
		valLen := int(binary.LittleEndian.Uint16(p.Data[off : off+2]))
		off += 2
		if off+valLen > PageSize {
			break
		}
		val := make([]byte, valLen)
		copy(val, p.Data[off:off+valLen])
		off += valLen
		entries = append(entries, Entry{Key: key, Value: val})
	}
	return entries
}

// writeCells repacks a page's cell area with entries and updates the
// header counts. The leftmost child pointer of index pages is left
// untouched.
func writeCells(p *Page, entries []Entry) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	start := cellStart(p.Data[0])
	for i := start; i < PageSize; i++ {
		p.Data[i] = 0
	}

	off := start
	for i, e := range entries {
		if off+4+len(e.Key)+len(e.Value) > PageSize {
			return fmt.Errorf("%w: cannot fit cell %d", util.ErrPageFull, i)
		}
		binary.LittleEndian.PutUint16(p.Data[off:off+2], uint16(len(e.Key)))
		off += 2
		copy(p.Data[off:off+len(e.Key)], e.Key)
		off += len(e.Key)
		binary.LittleEndian.PutUint16(p.Data[off:off+2], uint16(len(e.Value)))
		off += 2
		copy(p.Data[off:off+len(e.Value)], e.Value)
		off += len(e.Value)
	}

	binary.LittleEndian.PutUint16(p.Data[2:4], uint16(len(entries)))
	binary.LittleEndian.PutUint16(p.Data[4:6], uint16(off))
	p.IsDirty = true
	return nil
}

// childFor returns the child page an index node routes key to: the
// leftmost child for keys below the first separator, otherwise the child
// of the last separator at or below key.
func childFor(p *Page, key []byte) PageID {
	child := leftmostChild(p)
	for _, e := range readCells(p) {
		if bytes.Compare(key, e.Key) < 0 {
			break
		}
		child = childOf(e)
	}
	return child
}

// insertSorted returns entries with (key → e) inserted in key order;
// replaced reports whether an existing cell with the same key was
// overwritten instead.
func insertSorted(entries []Entry, e Entry) (out []Entry, replaced bool) {
	pos := len(entries)
	for i, cur := range entries {
		cmp := bytes.Compare(e.Key, cur.Key)
		if cmp == 0 {
			entries[i].Value = e.Value
			return entries, true
		}
		if cmp < 0 {
			pos = i
			break
		}
	}
	out = append(entries[:pos:pos], e)
	return append(out, entries[pos:]...), false
}
