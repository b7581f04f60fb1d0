// Package value implements bundoc's closed value taxonomy: the tagged
// union every document field is stored as, with a total order used by
// indexes, sort, and filter comparisons.
package value

import (
	"bytes"
	"fmt"
	"math"
	"sort"
)

// Kind identifies which variant a Value holds.
type Kind uint8

const (
	KindNull Kind = iota
	KindBool
	KindI32
	KindI64
	KindU32
	KindU64
	KindF32
	KindF64
	KindString
	KindBytes
	KindArray
	KindDocument
)

func (k Kind) String() string {
	switch k {
	case KindNull:
		return "Null"
	case KindBool:
		return "Bool"
	case KindI32:
		return "I32"
	case KindI64:
		return "I64"
	case KindU32:
		return "U32"
	case KindU64:
		return "U64"
	case KindF32:
		return "F32"
	case KindF64:
		return "F64"
	case KindString:
		return "String"
	case KindBytes:
		return "Bytes"
	case KindArray:
		return "Array"
	case KindDocument:
		return "Document"
	default:
		return "Unknown"
	}
}

// Value is a closed tagged union. The zero Value is Null.
type Value struct {
	kind Kind
	b    bool
	i    int64
	u    uint64
	f    float64
	s    string
	bs   []byte
	arr  []Value
	doc  *Document
}

func Null() Value                 { return Value{kind: KindNull} }
func Bool(b bool) Value            { return Value{kind: KindBool, b: b} }
func I32(v int32) Value            { return Value{kind: KindI32, i: int64(v)} }
func I64(v int64) Value            { return Value{kind: KindI64, i: v} }
func U32(v uint32) Value           { return Value{kind: KindU32, u: uint64(v)} }
func U64(v uint64) Value           { return Value{kind: KindU64, u: v} }
func F32(v float32) Value          { return Value{kind: KindF32, f: float64(v)} }
func F64(v float64) Value          { return Value{kind: KindF64, f: v} }
func String(v string) Value        { return Value{kind: KindString, s: v} }
func Bytes(v []byte) Value         { return Value{kind: KindBytes, bs: append([]byte(nil), v...)} }
func Array(v []Value) Value        { return Value{kind: KindArray, arr: v} }
func FromDocument(d *Document) Value {
	return Value{kind: KindDocument, doc: d}
}

func (v Value) Kind() Kind { return v.kind }
func (v Value) IsNull() bool { return v.kind == KindNull }

func (v Value) AsBool() (bool, bool)       { return v.b, v.kind == KindBool }
func (v Value) AsString() (string, bool)   { return v.s, v.kind == KindString }
func (v Value) AsBytes() ([]byte, bool)    { return v.bs, v.kind == KindBytes }
func (v Value) AsArray() ([]Value, bool)   { return v.arr, v.kind == KindArray }
func (v Value) AsDocument() (*Document, bool) { return v.doc, v.kind == KindDocument }

// AsI64 returns the value widened to int64 for any integer kind.
func (v Value) AsI64() (int64, bool) {
	switch v.kind {
	case KindI32, KindI64:
		return v.i, true
	case KindU32, KindU64:
		return int64(v.u), true
	default:
		return 0, false
	}
}

// AsF64 returns the value widened to float64 for any numeric kind.
func (v Value) AsF64() (float64, bool) {
	switch v.kind {
	case KindF32, KindF64:
		return v.f, true
	case KindI32, KindI64:
		return float64(v.i), true
	case KindU32, KindU64:
		return float64(v.u), true
	default:
		return 0, false
	}
}

func (v Value) IsNumeric() bool {
	switch v.kind {
	case KindI32, KindI64, KindU32, KindU64, KindF32, KindF64:
		return true
	default:
		return false
	}
}

// typeOrder fixes the total order between kinds: Null < Bool < numeric <
// String < Bytes < Array < Document. Numeric kinds compare against each
// other by value, not by sub-kind, so I32(3) == I64(3) == F64(3).
func typeOrder(k Kind) int {
	switch k {
	case KindNull:
		return 0
	case KindBool:
		return 1
	case KindI32, KindI64, KindU32, KindU64, KindF32, KindF64:
		return 2
	case KindString:
		return 3
	case KindBytes:
		return 4
	case KindArray:
		return 5
	case KindDocument:
		return 6
	default:
		return 99
	}
}

// Compare imposes a total order over Values, used by sort, B+Tree keys,
// and range filters. Numeric values of differing kinds compare by
// magnitude.
func Compare(a, b Value) int {
	oa, ob := typeOrder(a.kind), typeOrder(b.kind)
	if oa != ob {
		return oa - ob
	}

	switch oa {
	case 0:
		return 0
	case 1:
		if a.b == b.b {
			return 0
		}
		if !a.b {
			return -1
		}
		return 1
	case 2:
		fa, _ := a.AsF64()
		fb, _ := b.AsF64()
		switch {
		case fa < fb:
			return -1
		case fa > fb:
			return 1
		default:
			return 0
		}
	case 3:
		return compareStrings(a.s, b.s)
	case 4:
		return bytes.Compare(a.bs, b.bs)
	case 5:
		return compareArrays(a.arr, b.arr)
	case 6:
		return compareDocuments(a.doc, b.doc)
	default:
		return 0
	}
}

func compareStrings(a, b string) int {
	if a < b {
		return -1
	}
	if a > b {
		return 1
	}
	return 0
}

func compareArrays(a, b []Value) int {
	n := len(a)
	if len(b) < n {
		n = len(b)
	}
	for i := 0; i < n; i++ {
		if c := Compare(a[i], b[i]); c != 0 {
			return c
		}
	}
	return len(a) - len(b)
}

func compareDocuments(a, b *Document) int {
	if a == nil || b == nil {
		if a == b {
			return 0
		}
		if a == nil {
			return -1
		}
		return 1
	}
	af, bf := append([]string(nil), a.FieldNames()...), append([]string(nil), b.FieldNames()...)
	sort.Strings(af)
	sort.Strings(bf)
	n := len(af)
	if len(bf) < n {
		n = len(bf)
	}
	for i := 0; i < n; i++ {
		if af[i] != bf[i] {
			return compareStrings(af[i], bf[i])
		}
		av, _ := a.Get(af[i])
		bv, _ := b.Get(bf[i])
		if c := Compare(av, bv); c != 0 {
			return c
		}
	}
	return len(af) - len(bf)
}

// Equal reports whether two values compare equal under Compare.
func Equal(a, b Value) bool { return Compare(a, b) == 0 }

func (v Value) String() string {
	switch v.kind {
	case KindNull:
		return "null"
	case KindBool:
		return fmt.Sprintf("%t", v.b)
	case KindI32, KindI64:
		return fmt.Sprintf("%d", v.i)
	case KindU32, KindU64:
		return fmt.Sprintf("%d", v.u)
	case KindF32, KindF64:
		if math.IsInf(v.f, 0) || math.IsNaN(v.f) {
			return fmt.Sprintf("%f", v.f)
		}
		return fmt.Sprintf("%g", v.f)
	case KindString:
		return v.s
	case KindBytes:
		return fmt.Sprintf("bytes(%d)", len(v.bs))
	case KindArray:
		return fmt.Sprintf("array(%d)", len(v.arr))
	case KindDocument:
		return "document"
	default:
		return "?"
	}
}

// From converts a native Go value into a Value, for ergonomic call sites
// (filters, test fixtures). Panics on unsupported types — callers that
// need error handling should build Values directly.
func From(x interface{}) Value {
	switch t := x.(type) {
	case nil:
		return Null()
	case Value:
		return t
	case bool:
		return Bool(t)
	case int:
		return I64(int64(t))
	case int32:
		return I32(t)
	case int64:
		return I64(t)
	case uint32:
		return U32(t)
	case uint64:
		return U64(t)
	case float32:
		return F32(t)
	case float64:
		return F64(t)
	case string:
		return String(t)
	case []byte:
		return Bytes(t)
	case []Value:
		return Array(t)
	case *Document:
		return FromDocument(t)
	case []interface{}:
		arr := make([]Value, len(t))
		for i, e := range t {
			arr[i] = From(e)
		}
		return Array(arr)
	case map[string]interface{}:
		doc := NewDocument()
		for k, val := range t {
			doc.Put(k, From(val))
		}
		return FromDocument(doc)
	default:
		panic(fmt.Sprintf("value: unsupported native type %T", x))
	}
}
