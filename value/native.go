package value

import "fmt"

// ToNative converts v to plain Go values (interface{}, map, slice) for
// interop with expression evaluation and typed-object mapping. The
// conversion is lossy for integer width tags: every integer comes back
// as int64 or uint64.
func (v Value) ToNative() interface{} {
	switch v.kind {
	case KindNull:
		return nil
	case KindBool:
		return v.b
	case KindI32, KindI64:
		return v.i
	case KindU32, KindU64:
		return v.u
	case KindF32, KindF64:
		return v.f
	case KindString:
		return v.s
	case KindBytes:
		return append([]byte(nil), v.bs...)
	case KindArray:
		out := make([]interface{}, len(v.arr))
		for i, e := range v.arr {
			out[i] = e.ToNative()
		}
		return out
	case KindDocument:
		return v.doc.ToNative()
	default:
		return nil
	}
}

// ToNative converts the document to a plain map, losing field order.
func (d *Document) ToNative() map[string]interface{} {
	if d == nil {
		return nil
	}
	out := make(map[string]interface{}, d.Len())
	d.Range(func(name string, v Value) bool {
		out[name] = v.ToNative()
		return true
	})
	return out
}

// FromNative converts a native Go value into a Value, returning an error
// instead of panicking on unsupported types — the error path matters for
// values produced by expression evaluation, whose types the caller does
// not control.
func FromNative(x interface{}) (Value, error) {
	switch t := x.(type) {
	case nil, Value, bool, int, int32, int64, uint32, uint64, float32, float64, string, []byte, []Value, *Document, []interface{}, map[string]interface{}:
		return From(t), nil
	case uint:
		return U64(uint64(t)), nil
	case int16:
		return I32(int32(t)), nil
	default:
		return Null(), fmt.Errorf("value: unsupported native type %T", x)
	}
}
