package spatial

import (
	"encoding/binary"
	"hash/crc32"
	"math"

	"github.com/kartikbazzad/bundoc/dberr"
)

// PageSize is the fixed size of every page in an R-tree file (§4.7.1).
const PageSize = 16384

const (
	headerMagic    uint32 = 0x4e495452 // "NITR"
	currentVersion uint16 = 1
)

// headerPageID is always page 0 (§3).
const headerPageID uint64 = 0

// Header is the page-0 file header.
type Header struct {
	Magic           uint32
	Version         uint16
	PageSize        uint32
	RootPage        uint64
	NextPageID      uint64
	EntryCount      uint64
	Height          uint32
	FreeListHead    uint64
	ChecksumEnabled bool
	FreePageCount   uint64
}

// freeListNone marks an empty free list / absent root.
const freeListNone uint64 = 0

func newHeader() Header {
	return Header{
		Magic:        headerMagic,
		Version:      currentVersion,
		PageSize:     PageSize,
		RootPage:     freeListNone,
		NextPageID:   1,
		FreeListHead: freeListNone,
	}
}

func encodeHeader(h Header) []byte {
	buf := make([]byte, PageSize)
	binary.BigEndian.PutUint32(buf[0:4], h.Magic)
	binary.BigEndian.PutUint16(buf[4:6], h.Version)
	binary.BigEndian.PutUint32(buf[6:10], h.PageSize)
	binary.BigEndian.PutUint64(buf[10:18], h.RootPage)
	binary.BigEndian.PutUint64(buf[18:26], h.NextPageID)
	binary.BigEndian.PutUint64(buf[26:34], h.EntryCount)
	binary.BigEndian.PutUint32(buf[34:38], h.Height)
	binary.BigEndian.PutUint64(buf[38:46], h.FreeListHead)
	if h.ChecksumEnabled {
		buf[46] = 1
	}
	binary.BigEndian.PutUint64(buf[47:55], h.FreePageCount)
	crc := crc32.ChecksumIEEE(buf[:PageSize-4])
	binary.BigEndian.PutUint32(buf[PageSize-4:], crc)
	return buf
}

func decodeHeader(buf []byte) (Header, error) {
	if len(buf) != PageSize {
		return Header{}, dberr.Corruptionf("spatial: header page has wrong size %d", len(buf))
	}
	stored := binary.BigEndian.Uint32(buf[PageSize-4:])
	actual := crc32.ChecksumIEEE(buf[:PageSize-4])
	if stored != actual {
		return Header{}, dberr.Corruptionf("spatial: header checksum mismatch")
	}
	h := Header{
		Magic:        binary.BigEndian.Uint32(buf[0:4]),
		Version:      binary.BigEndian.Uint16(buf[4:6]),
		PageSize:     binary.BigEndian.Uint32(buf[6:10]),
		RootPage:     binary.BigEndian.Uint64(buf[10:18]),
		NextPageID:   binary.BigEndian.Uint64(buf[18:26]),
		EntryCount:   binary.BigEndian.Uint64(buf[26:34]),
		Height:       binary.BigEndian.Uint32(buf[34:38]),
		FreeListHead: binary.BigEndian.Uint64(buf[38:46]),
	}
	h.ChecksumEnabled = buf[46] != 0
	h.FreePageCount = binary.BigEndian.Uint64(buf[47:55])
	if h.Magic != headerMagic {
		return Header{}, dberr.Corruptionf("spatial: bad magic %x", h.Magic)
	}
	if h.Version != currentVersion {
		return Header{}, dberr.Corruptionf("spatial: unsupported version %d", h.Version)
	}
	return h, nil
}

type pageKind byte

const (
	pageKindFree pageKind = iota
	pageKindLeaf
	pageKindInternal
)

// LeafEntry is one (bbox, document id) pair stored in a leaf node.
type LeafEntry struct {
	Box BBox
	ID  string
}

// InternalEntry is one (bbox, child page) pair stored in an internal node.
type InternalEntry struct {
	Box   BBox
	Child uint64
}

// Node is the decoded contents of one non-header page: either a leaf, an
// internal node, or (transiently, between allocation and use) a free-list
// entry pointing at the previous head.
type Node struct {
	Kind      pageKind
	Level     uint32 // internal nodes only; leaves are level 0
	Leaves    []LeafEntry
	Internals []InternalEntry
	NextFree  uint64 // free-list entries only
}

func (n Node) IsLeaf() bool { return n.Kind == pageKindLeaf }
func (n Node) IsFree() bool { return n.Kind == pageKindFree }

// BBox returns the union of all of n's children, per invariant I5 (an
// internal entry's box equals the union of its children's boxes).
func (n Node) BBox() BBox {
	var b BBox
	if n.IsLeaf() {
		for _, e := range n.Leaves {
			b = b.Union(e.Box)
		}
		return b
	}
	for _, e := range n.Internals {
		b = b.Union(e.Box)
	}
	return b
}

func encodeBBox(buf []byte, b BBox) {
	binary.BigEndian.PutUint64(buf[0:8], floatBits(b.MinX))
	binary.BigEndian.PutUint64(buf[8:16], floatBits(b.MinY))
	binary.BigEndian.PutUint64(buf[16:24], floatBits(b.MaxX))
	binary.BigEndian.PutUint64(buf[24:32], floatBits(b.MaxY))
}

func decodeBBox(buf []byte) BBox {
	return BBox{
		MinX: bitsFloat(binary.BigEndian.Uint64(buf[0:8])),
		MinY: bitsFloat(binary.BigEndian.Uint64(buf[8:16])),
		MaxX: bitsFloat(binary.BigEndian.Uint64(buf[16:24])),
		MaxY: bitsFloat(binary.BigEndian.Uint64(buf[24:32])),
	}
}

const bboxSize = 32

func encodeNodeBody(n Node) []byte {
	var buf []byte
	switch n.Kind {
	case pageKindFree:
		buf = make([]byte, 9)
		buf[0] = byte(pageKindFree)
		binary.BigEndian.PutUint64(buf[1:9], n.NextFree)
	case pageKindLeaf:
		buf = make([]byte, 1+4)
		buf[0] = byte(pageKindLeaf)
		binary.BigEndian.PutUint32(buf[1:5], uint32(len(n.Leaves)))
		for _, e := range n.Leaves {
			entry := make([]byte, bboxSize+2+len(e.ID))
			encodeBBox(entry, e.Box)
			binary.BigEndian.PutUint16(entry[bboxSize:bboxSize+2], uint16(len(e.ID)))
			copy(entry[bboxSize+2:], e.ID)
			buf = append(buf, entry...)
		}
	case pageKindInternal:
		buf = make([]byte, 1+4+4)
		buf[0] = byte(pageKindInternal)
		binary.BigEndian.PutUint32(buf[1:5], n.Level)
		binary.BigEndian.PutUint32(buf[5:9], uint32(len(n.Internals)))
		for _, e := range n.Internals {
			entry := make([]byte, bboxSize+8)
			encodeBBox(entry, e.Box)
			binary.BigEndian.PutUint64(entry[bboxSize:bboxSize+8], e.Child)
			buf = append(buf, entry...)
		}
	}
	return buf
}

func decodeNodeBody(buf []byte) (Node, error) {
	if len(buf) < 1 {
		return Node{}, dberr.Corruptionf("spatial: empty node body")
	}
	kind := pageKind(buf[0])
	switch kind {
	case pageKindFree:
		if len(buf) < 9 {
			return Node{}, dberr.Corruptionf("spatial: truncated free-list entry")
		}
		return Node{Kind: pageKindFree, NextFree: binary.BigEndian.Uint64(buf[1:9])}, nil
	case pageKindLeaf:
		if len(buf) < 5 {
			return Node{}, dberr.Corruptionf("spatial: truncated leaf node")
		}
		count := binary.BigEndian.Uint32(buf[1:5])
		off := 5
		leaves := make([]LeafEntry, 0, count)
		for i := uint32(0); i < count; i++ {
			if off+bboxSize+2 > len(buf) {
				return Node{}, dberr.Corruptionf("spatial: truncated leaf entry")
			}
			box := decodeBBox(buf[off : off+bboxSize])
			off += bboxSize
			idLen := int(binary.BigEndian.Uint16(buf[off : off+2]))
			off += 2
			if off+idLen > len(buf) {
				return Node{}, dberr.Corruptionf("spatial: truncated leaf id")
			}
			id := string(buf[off : off+idLen])
			off += idLen
			leaves = append(leaves, LeafEntry{Box: box, ID: id})
		}
		return Node{Kind: pageKindLeaf, Leaves: leaves}, nil
	case pageKindInternal:
		if len(buf) < 9 {
			return Node{}, dberr.Corruptionf("spatial: truncated internal node")
		}
		level := binary.BigEndian.Uint32(buf[1:5])
		count := binary.BigEndian.Uint32(buf[5:9])
		off := 9
		internals := make([]InternalEntry, 0, count)
		for i := uint32(0); i < count; i++ {
			if off+bboxSize+8 > len(buf) {
				return Node{}, dberr.Corruptionf("spatial: truncated internal entry")
			}
			box := decodeBBox(buf[off : off+bboxSize])
			off += bboxSize
			child := binary.BigEndian.Uint64(buf[off : off+8])
			off += 8
			internals = append(internals, InternalEntry{Box: box, Child: child})
		}
		return Node{Kind: pageKindInternal, Level: level, Internals: internals}, nil
	default:
		return Node{}, dberr.Corruptionf("spatial: unknown page kind %d", kind)
	}
}

// encodeNodePage wraps a node's encoded body with a trailing checksum,
// padding to PageSize (the "PageWithChecksum" wrapper, §4.7.1).
func encodeNodePage(n Node) ([]byte, error) {
	body := encodeNodeBody(n)
	if len(body) > PageSize-4 {
		return nil, dberr.Indexingf("spatial: node too large for page (%d bytes)", len(body))
	}
	buf := make([]byte, PageSize)
	copy(buf, body)
	crc := crc32.ChecksumIEEE(buf[:PageSize-4])
	binary.BigEndian.PutUint32(buf[PageSize-4:], crc)
	return buf, nil
}

// decodeNodePage verifies the page checksum and decodes its node body. A
// checksum mismatch is reported as a CorruptionError (§7, invariant I10).
func decodeNodePage(buf []byte) (Node, error) {
	if len(buf) != PageSize {
		return Node{}, dberr.Corruptionf("spatial: page has wrong size %d", len(buf))
	}
	stored := binary.BigEndian.Uint32(buf[PageSize-4:])
	actual := crc32.ChecksumIEEE(buf[:PageSize-4])
	if stored != actual {
		return Node{}, dberr.Corruptionf("spatial: page checksum mismatch")
	}
	return decodeNodeBody(buf[:PageSize-4])
}

// floatBits encodes f so unsigned byte comparison matches float ordering
// (sign-bit-flip trick, same scheme as value.EncodeKey).
func floatBits(f float64) uint64 {
	bits := math.Float64bits(f)
	if bits&(1<<63) != 0 {
		bits = ^bits
	} else {
		bits |= 1 << 63
	}
	return bits
}

func bitsFloat(bits uint64) float64 {
	if bits&(1<<63) != 0 {
		bits &^= 1 << 63
	} else {
		bits = ^bits
	}
	return math.Float64frombits(bits)
}
