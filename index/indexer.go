package index

import (
	"github.com/kartikbazzad/bundoc/kv"
	"github.com/kartikbazzad/bundoc/value"
)

// Indexer is the contract every pluggable index type implements. The
// engine owns one instance per index_type and passes the descriptor on
// every call, rather than the indexer owning descriptors itself — this
// keeps indexer state narrow and makes re-registration after reopen a
// simple catalog walk.
type Indexer interface {
	// ValidateIndex rejects field combinations this index type cannot
	// support (e.g. full-text rejects more than one field).
	ValidateIndex(fields []string) error
	WriteIndexEntry(store kv.Store, desc Descriptor, fv FieldValues) error
	RemoveIndexEntry(store kv.Store, desc Descriptor, fv FieldValues) error
	// Drop deletes the backing map(s) for this descriptor entirely.
	Drop(store kv.Store, desc Descriptor) error
}

// Cursor yields matching document ids in indexer-defined order.
type Cursor interface {
	Next() (id string, ok bool, err error)
}

// QueryIndexer is implemented by indexers that support the point/range
// query surface the planner drives (§4.5).
type QueryIndexer interface {
	Indexer
	Eq(store kv.Store, desc Descriptor, v value.Value) (Cursor, error)
	Ne(store kv.Store, desc Descriptor, v value.Value) (Cursor, error)
	Range(store kv.Store, desc Descriptor, lo, hi value.Value, inclLo, inclHi bool) (Cursor, error)
	In(store kv.Store, desc Descriptor, vs []value.Value) (Cursor, error)
}

type sliceCursor struct {
	ids []string
	pos int
}

func newSliceCursor(ids []string) *sliceCursor { return &sliceCursor{ids: ids} }

func (c *sliceCursor) Next() (string, bool, error) {
	if c.pos >= len(c.ids) {
		return "", false, nil
	}
	id := c.ids[c.pos]
	c.pos++
	return id, true, nil
}
