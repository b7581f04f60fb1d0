package index

import "github.com/kartikbazzad/bundoc/value"

// FieldValue pairs one indexed field name with the value projected from a
// document for that field.
type FieldValue struct {
	Field string
	Value value.Value
}

// FieldValues is the materialization indexers consume: a document id plus
// the ordered (field, value) projection that produced it.
type FieldValues struct {
	ID     string
	Values []FieldValue
}

// Project resolves each of fields against doc via dotted-path lookup,
// returning ok=false if any field is absent (the indexer's caller decides
// whether a partially-missing compound key is indexable).
func Project(doc *value.Document, id string, fields []string) (FieldValues, bool) {
	fv := FieldValues{ID: id, Values: make([]FieldValue, 0, len(fields))}
	for _, f := range fields {
		v, ok := doc.GetPath(f)
		if !ok {
			return FieldValues{}, false
		}
		fv.Values = append(fv.Values, FieldValue{Field: f, Value: v})
	}
	return fv, true
}

// Key returns the index key bytes for fv's values. A single-field index
// key is exactly value.EncodeKey of its value, so point lookups and range
// scans built from a filter's value land on the same bytes the write path
// stored. Compound keys concatenate length-prefixed segments so
// variable-length values don't collide across field boundaries.
func (fv FieldValues) Key() []byte {
	if len(fv.Values) == 1 {
		return value.EncodeKey(fv.Values[0].Value)
	}
	var out []byte
	for _, f := range fv.Values {
		seg := value.EncodeKey(f.Value)
		out = appendUvarint(out, uint64(len(seg)))
		out = append(out, seg...)
	}
	return out
}

// CompositeKey builds the length-prefixed encoding of values for a
// compound index: the full key when vs covers every descriptor field,
// or a scan prefix when vs covers a leading subset. It never falls back
// to the bare single-field encoding — compound keys are length-prefixed
// from their first segment.
func CompositeKey(vs []value.Value) []byte {
	var out []byte
	for _, v := range vs {
		seg := value.EncodeKey(v)
		out = appendUvarint(out, uint64(len(seg)))
		out = append(out, seg...)
	}
	return out
}

func appendUvarint(buf []byte, v uint64) []byte {
	for v >= 0x80 {
		buf = append(buf, byte(v)|0x80)
		v >>= 7
	}
	return append(buf, byte(v))
}
