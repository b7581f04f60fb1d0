package filter

import "github.com/kartikbazzad/bundoc/value"

// The helpers in this file let the planner and executor take leaf filters
// apart without re-implementing their matching semantics or reaching into
// unexported fields across package boundaries.

// IsAnd returns the children of an And filter.
func IsAnd(f Filter) ([]Filter, bool) {
	a, ok := f.(*andFilter)
	if !ok {
		return nil, false
	}
	return a.children, true
}

// IsOr returns the children of an Or filter.
func IsOr(f Filter) ([]Filter, bool) {
	o, ok := f.(*orFilter)
	if !ok {
		return nil, false
	}
	return o.children, true
}

// IsNot returns the child of a Not filter.
func IsNot(f Filter) (Filter, bool) {
	n, ok := f.(*notFilter)
	if !ok {
		return nil, false
	}
	return n.child, true
}

// CmpKind identifies which comparison a simple comparison filter performs.
type CmpKind int

const (
	CmpEq CmpKind = iota
	CmpNe
	CmpGt
	CmpGte
	CmpLt
	CmpLte
)

// CmpOf decomposes an eq/ne/gt/gte/lt/lte filter. ok is false for any
// other filter shape.
func CmpOf(f Filter) (field string, kind CmpKind, v value.Value, ok bool) {
	c, isCmp := f.(*cmpFilter)
	if !isCmp {
		return "", 0, value.Null(), false
	}
	kinds := map[cmpOp]CmpKind{opEq: CmpEq, opNe: CmpNe, opGt: CmpGt, opGte: CmpGte, opLt: CmpLt, opLte: CmpLte}
	return c.field, kinds[c.op], c.value, true
}

// BetweenOf decomposes a Between filter.
func BetweenOf(f Filter) (field string, lo, hi value.Value, inclLo, inclHi bool, ok bool) {
	b, isBetween := f.(*betweenFilter)
	if !isBetween {
		return "", value.Null(), value.Null(), false, false, false
	}
	return b.field, b.lo, b.hi, b.inclLo, b.inclHi, true
}

// InOf decomposes an In filter.
func InOf(f Filter) (field string, values []value.Value, ok bool) {
	in, isIn := f.(*inFilter)
	if !isIn {
		return "", nil, false
	}
	return in.field, in.values, true
}

// TextOf decomposes a Text filter. phrase is true for exact-phrase mode.
func TextOf(f Filter) (field, query string, phrase bool, ok bool) {
	t, isText := f.(*textFilter)
	if !isText {
		return "", "", false, false
	}
	return t.field, t.query, t.mode == TextPhrase, true
}

// SpatialOf returns the filter as a *SpatialFilter if it is one.
func SpatialOf(f Filter) (*SpatialFilter, bool) {
	s, isSpatial := f.(*SpatialFilter)
	return s, isSpatial
}
