package value

import (
	"encoding/binary"
	"math"
)

// Sortable byte-encoding of Values, used as B+Tree / bbolt keys so that
// lexicographic byte comparison matches Compare(). Each encoding starts
// with a one-byte type tag matching typeOrder so cross-kind comparisons
// fall out of the tag ordering alone.
const (
	tagNull byte = iota
	tagFalse
	tagTrue
	tagNumber
	tagString
	tagBytes
)

// EncodeKey renders v as a byte string such that for any two values a, b:
// bytes.Compare(EncodeKey(a), EncodeKey(b)) has the same sign as
// Compare(a, b). Array and Document values are not supported as index
// keys and encode using their string representation as a fallback.
func EncodeKey(v Value) []byte {
	switch v.kind {
	case KindNull:
		return []byte{tagNull}
	case KindBool:
		if b, _ := v.AsBool(); b {
			return []byte{tagTrue}
		}
		return []byte{tagFalse}
	case KindI32, KindI64, KindU32, KindU64, KindF32, KindF64:
		f, _ := v.AsF64()
		return append([]byte{tagNumber}, encodeFloatSortable(f)...)
	case KindString:
		return append([]byte{tagString}, []byte(v.s)...)
	case KindBytes:
		return append([]byte{tagBytes}, v.bs...)
	default:
		return append([]byte{tagString}, []byte(v.String())...)
	}
}

// encodeFloatSortable produces an 8-byte big-endian encoding of f such
// that unsigned byte comparison matches float ordering: flip the sign
// bit for non-negatives, flip all bits for negatives.
func encodeFloatSortable(f float64) []byte {
	bits := math.Float64bits(f)
	if bits&(1<<63) != 0 {
		bits = ^bits
	} else {
		bits |= 1 << 63
	}
	buf := make([]byte, 8)
	binary.BigEndian.PutUint64(buf, bits)
	return buf
}
