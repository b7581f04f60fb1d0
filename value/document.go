package value

import "strings"

// field is one ordered key/value pair of a Document.
type field struct {
	name  string
	value Value
}

// Document is an insertion-order-preserving map from field name to Value.
// Order is observable (iteration, marshaling) because the spec requires
// round-tripping field order, unlike a plain Go map.
type Document struct {
	fields []field
	index  map[string]int
}

// NewDocument returns an empty Document.
func NewDocument() *Document {
	return &Document{index: make(map[string]int)}
}

// DocumentFromPairs builds a Document preserving the given order.
func DocumentFromPairs(pairs ...interface{}) *Document {
	d := NewDocument()
	for i := 0; i+1 < len(pairs); i += 2 {
		name, _ := pairs[i].(string)
		d.Put(name, From(pairs[i+1]))
	}
	return d
}

// Put sets field name to v, appending it if new or overwriting in place
// (preserving its original position) if it already exists.
func (d *Document) Put(name string, v Value) {
	if i, ok := d.index[name]; ok {
		d.fields[i].value = v
		return
	}
	d.index[name] = len(d.fields)
	d.fields = append(d.fields, field{name: name, value: v})
}

// Get returns the top-level field value and whether it was present.
func (d *Document) Get(name string) (Value, bool) {
	if d == nil {
		return Null(), false
	}
	if i, ok := d.index[name]; ok {
		return d.fields[i].value, true
	}
	return Null(), false
}

// Remove deletes a field, preserving relative order of the remainder.
func (d *Document) Remove(name string) bool {
	i, ok := d.index[name]
	if !ok {
		return false
	}
	d.fields = append(d.fields[:i], d.fields[i+1:]...)
	delete(d.index, name)
	for k, v := range d.index {
		if v > i {
			d.index[k] = v - 1
		}
	}
	return true
}

// FieldNames returns field names in insertion order.
func (d *Document) FieldNames() []string {
	if d == nil {
		return nil
	}
	names := make([]string, len(d.fields))
	for i, f := range d.fields {
		names[i] = f.name
	}
	return names
}

// Len returns the number of top-level fields.
func (d *Document) Len() int {
	if d == nil {
		return 0
	}
	return len(d.fields)
}

// Range calls fn for each field in insertion order, stopping early if fn
// returns false.
func (d *Document) Range(fn func(name string, v Value) bool) {
	if d == nil {
		return
	}
	for _, f := range d.fields {
		if !fn(f.name, f.value) {
			return
		}
	}
}

// Clone returns a deep copy of the document.
func (d *Document) Clone() *Document {
	if d == nil {
		return nil
	}
	out := NewDocument()
	d.Range(func(name string, v Value) bool {
		out.Put(name, cloneValue(v))
		return true
	})
	return out
}

func cloneValue(v Value) Value {
	switch v.kind {
	case KindArray:
		arr := make([]Value, len(v.arr))
		for i, e := range v.arr {
			arr[i] = cloneValue(e)
		}
		return Array(arr)
	case KindDocument:
		return FromDocument(v.doc.Clone())
	case KindBytes:
		return Bytes(v.bs)
	default:
		return v
	}
}

// GetPath resolves a dotted field path ("address.city", "tags.0") against
// nested documents and arrays, returning false if any segment is missing
// or the wrong kind.
func (d *Document) GetPath(path string) (Value, bool) {
	if d == nil {
		return Null(), false
	}
	segs := strings.Split(path, ".")
	cur := FromDocument(d)
	for _, seg := range segs {
		switch cur.kind {
		case KindDocument:
			v, ok := cur.doc.Get(seg)
			if !ok {
				return Null(), false
			}
			cur = v
		case KindArray:
			idx, ok := parseArrayIndex(seg)
			if !ok || idx < 0 || idx >= len(cur.arr) {
				return Null(), false
			}
			cur = cur.arr[idx]
		default:
			return Null(), false
		}
	}
	return cur, true
}

// PutPath sets a dotted field path, creating intermediate Documents as
// needed. Array segments within an existing path are supported for reads
// via GetPath but PutPath only creates Document nesting.
func (d *Document) PutPath(path string, v Value) {
	segs := strings.Split(path, ".")
	cur := d
	for i, seg := range segs {
		if i == len(segs)-1 {
			cur.Put(seg, v)
			return
		}
		next, ok := cur.Get(seg)
		if !ok || next.kind != KindDocument {
			nd := NewDocument()
			cur.Put(seg, FromDocument(nd))
			cur = nd
			continue
		}
		cur = next.doc
	}
}

func parseArrayIndex(seg string) (int, bool) {
	if seg == "" {
		return 0, false
	}
	n := 0
	for _, r := range seg {
		if r < '0' || r > '9' {
			return 0, false
		}
		n = n*10 + int(r-'0')
	}
	return n, true
}

// ID returns the document's "_id" field as a string, if present.
func (d *Document) ID() (string, bool) {
	v, ok := d.Get("_id")
	if !ok {
		return "", false
	}
	return v.AsString()
}

// SetID sets the "_id" field, placing it first if not already present.
func (d *Document) SetID(id string) {
	if _, ok := d.index["_id"]; ok {
		d.Put("_id", String(id))
		return
	}
	d.index["_id"] = 0
	d.fields = append([]field{{name: "_id", value: String(id)}}, d.fields...)
	for k, v := range d.index {
		if k != "_id" {
			d.index[k] = v + 1
		}
	}
}
