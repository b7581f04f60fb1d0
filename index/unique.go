package index

import (
	"bytes"
	"encoding/binary"
	"sort"

	"github.com/kartikbazzad/bundoc/dberr"
	"github.com/kartikbazzad/bundoc/kv"
	"github.com/kartikbazzad/bundoc/value"
)

// BTreeIndexer implements both UNIQUE and NON_UNIQUE indexes: a backing
// map from composite field-value key to a list of document ids. Unique
// indexes additionally reject a write whose key already maps to a
// different id (§4.5, invariant I4).
type BTreeIndexer struct {
	Unique bool
}

func (x *BTreeIndexer) ValidateIndex(fields []string) error {
	if len(fields) == 0 {
		return dberr.Validationf("index must cover at least one field")
	}
	return nil
}

func (x *BTreeIndexer) backingMap(store kv.Store, desc Descriptor) (kv.Map, error) {
	return store.OpenMap(desc.Name())
}

func (x *BTreeIndexer) WriteIndexEntry(store kv.Store, desc Descriptor, fv FieldValues) error {
	m, err := x.backingMap(store, desc)
	if err != nil {
		return err
	}
	key := fv.Key()
	ids, err := readIDList(m, key)
	if err != nil {
		return err
	}

	if x.Unique {
		for _, id := range ids {
			if id != fv.ID {
				return dberr.UniqueViolation(desc.Fields[0])
			}
		}
	}

	for _, id := range ids {
		if id == fv.ID {
			return nil // already present
		}
	}
	ids = append(ids, fv.ID)
	return writeIDList(m, key, ids)
}

func (x *BTreeIndexer) RemoveIndexEntry(store kv.Store, desc Descriptor, fv FieldValues) error {
	m, err := x.backingMap(store, desc)
	if err != nil {
		return err
	}
	key := fv.Key()
	ids, err := readIDList(m, key)
	if err != nil {
		return err
	}
	out := ids[:0]
	for _, id := range ids {
		if id != fv.ID {
			out = append(out, id)
		}
	}
	if len(out) == 0 {
		return m.Remove(key)
	}
	return writeIDList(m, key, out)
}

func (x *BTreeIndexer) Drop(store kv.Store, desc Descriptor) error {
	return store.DropMap(desc.Name())
}

func (x *BTreeIndexer) Eq(store kv.Store, desc Descriptor, v value.Value) (Cursor, error) {
	m, err := x.backingMap(store, desc)
	if err != nil {
		return nil, err
	}
	ids, err := readIDList(m, value.EncodeKey(v))
	if err != nil {
		return nil, err
	}
	return newSliceCursor(ids), nil
}

func (x *BTreeIndexer) Ne(store kv.Store, desc Descriptor, v value.Value) (Cursor, error) {
	m, err := x.backingMap(store, desc)
	if err != nil {
		return nil, err
	}
	target := value.EncodeKey(v)
	var ids []string
	err = m.Range(nil, nil, func(e kv.Entry) (bool, error) {
		if !bytes.Equal(e.Key, target) {
			list, decErr := decodeIDList(e.Value)
			if decErr != nil {
				return false, decErr
			}
			ids = append(ids, list...)
		}
		return true, nil
	})
	if err != nil {
		return nil, err
	}
	return newSliceCursor(ids), nil
}

func (x *BTreeIndexer) Range(store kv.Store, desc Descriptor, lo, hi value.Value, inclLo, inclHi bool) (Cursor, error) {
	m, err := x.backingMap(store, desc)
	if err != nil {
		return nil, err
	}
	var loKey, hiKey []byte
	if !lo.IsNull() {
		loKey = value.EncodeKey(lo)
	}
	if !hi.IsNull() {
		hiKey = value.EncodeKey(hi)
	}
	var ids []string
	err = m.Range(loKey, hiKey, func(e kv.Entry) (bool, error) {
		if !inclLo && loKey != nil && bytes.Equal(e.Key, loKey) {
			return true, nil
		}
		if !inclHi && hiKey != nil && bytes.Equal(e.Key, hiKey) {
			return true, nil
		}
		list, decErr := decodeIDList(e.Value)
		if decErr != nil {
			return false, decErr
		}
		ids = append(ids, list...)
		return true, nil
	})
	if err != nil {
		return nil, err
	}
	return newSliceCursor(ids), nil
}

// EqComposite is the compound-index point lookup: vs carries one value
// per descriptor field, in field order.
func (x *BTreeIndexer) EqComposite(store kv.Store, desc Descriptor, vs []value.Value) (Cursor, error) {
	m, err := x.backingMap(store, desc)
	if err != nil {
		return nil, err
	}
	ids, err := readIDList(m, CompositeKey(vs))
	if err != nil {
		return nil, err
	}
	return newSliceCursor(ids), nil
}

// EqPrefix walks a compound index for entries whose leading fields equal
// vs (a proper prefix of the descriptor's fields). Trailing fields are
// unconstrained; leftover conjuncts on them are re-checked by the
// executor's full-scan refinement.
func (x *BTreeIndexer) EqPrefix(store kv.Store, desc Descriptor, vs []value.Value) (Cursor, error) {
	m, err := x.backingMap(store, desc)
	if err != nil {
		return nil, err
	}
	prefix := CompositeKey(vs)
	var ids []string
	err = m.Range(prefix, nil, func(e kv.Entry) (bool, error) {
		if !bytes.HasPrefix(e.Key, prefix) {
			return false, nil
		}
		list, decErr := decodeIDList(e.Value)
		if decErr != nil {
			return false, decErr
		}
		ids = append(ids, list...)
		return true, nil
	})
	if err != nil {
		return nil, err
	}
	return newSliceCursor(ids), nil
}

func (x *BTreeIndexer) In(store kv.Store, desc Descriptor, vs []value.Value) (Cursor, error) {
	m, err := x.backingMap(store, desc)
	if err != nil {
		return nil, err
	}
	var ids []string
	seen := make(map[string]struct{})
	for _, v := range vs {
		list, err := readIDList(m, value.EncodeKey(v))
		if err != nil {
			return nil, err
		}
		for _, id := range list {
			if _, ok := seen[id]; !ok {
				seen[id] = struct{}{}
				ids = append(ids, id)
			}
		}
	}
	return newSliceCursor(ids), nil
}

// readIDList reads and decodes the id list stored at key, returning an
// empty slice (not an error) if the key is absent.
func readIDList(m kv.Map, key []byte) ([]string, error) {
	raw, ok, err := m.Get(key)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, nil
	}
	return decodeIDList(raw)
}

func writeIDList(m kv.Map, key []byte, ids []string) error {
	return m.Put(key, encodeIDList(ids))
}

// encodeIDList / decodeIDList use a simple length-prefixed id list. Ids
// are fixed-length base32 NitriteIds in practice, but the format does not
// assume that, so repository-generated string ids also work.
func encodeIDList(ids []string) []byte {
	var buf []byte
	var lenBuf [binary.MaxVarintLen64]byte
	for _, id := range ids {
		n := binary.PutUvarint(lenBuf[:], uint64(len(id)))
		buf = append(buf, lenBuf[:n]...)
		buf = append(buf, id...)
	}
	return buf
}

func decodeIDList(data []byte) ([]string, error) {
	var ids []string
	for len(data) > 0 {
		n, nBytes := binary.Uvarint(data)
		if nBytes <= 0 {
			return nil, dberr.Corruptionf("malformed id list entry")
		}
		data = data[nBytes:]
		if uint64(len(data)) < n {
			return nil, dberr.Corruptionf("truncated id list entry")
		}
		ids = append(ids, string(data[:n]))
		data = data[n:]
	}
	return ids, nil
}

// sortIDs orders ids lexicographically; NitriteIds are base32-encoded
// big-endian timestamps so this also yields insertion order (§4.5).
func sortIDs(ids []string) {
	sort.Strings(ids)
}
