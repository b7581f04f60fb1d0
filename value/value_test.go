package value

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCompareTypeOrder(t *testing.T) {
	assert.True(t, Compare(Null(), Bool(false)) < 0)
	assert.True(t, Compare(Bool(true), I64(1)) < 0)
	assert.True(t, Compare(I64(5), String("a")) < 0)
	assert.True(t, Compare(String("z"), Bytes([]byte{1})) < 0)
}

func TestCompareNumericCrossKind(t *testing.T) {
	assert.Equal(t, 0, Compare(I32(3), I64(3)))
	assert.Equal(t, 0, Compare(I64(3), F64(3.0)))
	assert.True(t, Compare(I64(2), F64(3.5)) < 0)
	assert.True(t, Compare(U64(10), I64(5)) > 0)
}

func TestCompareStrings(t *testing.T) {
	assert.True(t, Compare(String("abc"), String("abd")) < 0)
	assert.Equal(t, 0, Compare(String("abc"), String("abc")))
}

func TestCompareArrays(t *testing.T) {
	a := Array([]Value{I64(1), I64(2)})
	b := Array([]Value{I64(1), I64(3)})
	assert.True(t, Compare(a, b) < 0)

	short := Array([]Value{I64(1)})
	assert.True(t, Compare(short, a) < 0)
}

func TestFromNative(t *testing.T) {
	v := From(42)
	i, ok := v.AsI64()
	require.True(t, ok)
	assert.Equal(t, int64(42), i)

	v = From("hello")
	s, ok := v.AsString()
	require.True(t, ok)
	assert.Equal(t, "hello", s)
}

func TestEncodeKeyOrderingMatchesCompare(t *testing.T) {
	vals := []Value{I64(-100), I64(-1), I64(0), I64(1), F64(2.5), I64(100)}
	for i := 0; i < len(vals)-1; i++ {
		a, b := EncodeKey(vals[i]), EncodeKey(vals[i+1])
		cmp := Compare(vals[i], vals[i+1])
		if cmp < 0 {
			assert.True(t, string(a) < string(b), "expected %v < %v", vals[i], vals[i+1])
		}
	}
}

func TestNitriteIDMonotonic(t *testing.T) {
	a := NewNitriteID()
	b := NewNitriteID()
	assert.NotEqual(t, a, b)
	assert.True(t, IsValidNitriteID(a))
	assert.True(t, IsValidNitriteID(b))
	assert.True(t, a < b || a == b)
}
