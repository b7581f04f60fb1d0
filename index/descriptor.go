// Package index implements secondary indexing: index descriptors, the
// per-collection index registry, and the unique/non-unique B+Tree-backed
// indexers. Full-text and spatial indexing live in sibling packages
// (fts, spatial) but register through the same Descriptor/Meta shape.
package index

import "strings"

// Type identifies the indexing strategy for a descriptor.
type Type string

const (
	Unique    Type = "UNIQUE"
	NonUnique Type = "NON_UNIQUE"
	FullText  Type = "FULL_TEXT"
	Spatial   Type = "SPATIAL"
)

// Descriptor immutably identifies one index: which fields it covers
// (order matters for compound indexes), its type, and the collection it
// belongs to. Two descriptors are equal iff collection, type, and fields
// all match.
type Descriptor struct {
	IndexType      Type
	Fields         []string
	CollectionName string
}

// NewDescriptor builds a Descriptor for fields on collection.
func NewDescriptor(indexType Type, fields []string, collection string) Descriptor {
	return Descriptor{IndexType: indexType, Fields: append([]string(nil), fields...), CollectionName: collection}
}

// IsCompound reports whether this index spans more than one field.
func (d Descriptor) IsCompound() bool { return len(d.Fields) > 1 }

// Name derives the stable map/bucket name backing this index in the KV
// store, e.g. "idx:users:UNIQUE:email" or "idx:users:NON_UNIQUE:a,b".
func (d Descriptor) Name() string {
	return "idx:" + d.CollectionName + ":" + string(d.IndexType) + ":" + strings.Join(d.Fields, ",")
}

func (d Descriptor) Equal(o Descriptor) bool {
	if d.IndexType != o.IndexType || d.CollectionName != o.CollectionName || len(d.Fields) != len(o.Fields) {
		return false
	}
	for i := range d.Fields {
		if d.Fields[i] != o.Fields[i] {
			return false
		}
	}
	return true
}

// Meta is the persisted, mutable record for one index: its immutable
// Descriptor plus lifecycle state tracked across restarts.
type Meta struct {
	Descriptor Descriptor
	// Dirty is true while a rebuild is in progress (set on
	// create_index/rebuild_index start, cleared on completion); a crash
	// mid-build leaves it true so the next Open schedules a rebuild
	// rather than trusting a half-built index.
	Dirty bool
}
