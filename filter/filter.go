// Package filter implements the filter algebra documents are matched
// against: AND/OR/NOT composition over leaf filters (eq, ne, gt, lt,
// between, in, regex, text, elemMatch, spatial). Leaf filters declare
// enough about themselves (field, supported index type) for the query
// planner in package query to choose an access path without
// re-implementing filter semantics.
package filter

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/kartikbazzad/bundoc/index"
	"github.com/kartikbazzad/bundoc/value"
)

// Filter is satisfied by every leaf and logical filter node.
type Filter interface {
	// Apply evaluates the filter against doc for full-scan execution.
	Apply(doc *value.Document) bool
	// Field returns the field this leaf filter constrains, and whether
	// it constrains a single field at all (logical filters return "",
	// false).
	Field() (string, bool)
	// IndexType reports which index type could serve this filter, if
	// any.
	IndexType() (index.Type, bool)
	fmt.Stringer
}

// Branch is implemented by logical (non-leaf) filters so the planner can
// walk the tree.
type Branch interface {
	Filter
	Children() []Filter
}

// --- Logical filters ---

type andFilter struct{ children []Filter }

// And builds a conjunction. An empty And matches everything.
func And(children ...Filter) Filter { return &andFilter{children: children} }

func (f *andFilter) Apply(doc *value.Document) bool {
	for _, c := range f.children {
		if !c.Apply(doc) {
			return false
		}
	}
	return true
}
func (f *andFilter) Field() (string, bool)          { return "", false }
func (f *andFilter) IndexType() (index.Type, bool)  { return "", false }
func (f *andFilter) Children() []Filter             { return f.children }
func (f *andFilter) String() string {
	parts := make([]string, len(f.children))
	for i, c := range f.children {
		parts[i] = c.String()
	}
	return "(" + strings.Join(parts, " AND ") + ")"
}

type orFilter struct{ children []Filter }

// Or builds a disjunction.
func Or(children ...Filter) Filter { return &orFilter{children: children} }

func (f *orFilter) Apply(doc *value.Document) bool {
	for _, c := range f.children {
		if c.Apply(doc) {
			return true
		}
	}
	return false
}
func (f *orFilter) Field() (string, bool)         { return "", false }
func (f *orFilter) IndexType() (index.Type, bool) { return "", false }
func (f *orFilter) Children() []Filter            { return f.children }
func (f *orFilter) String() string {
	parts := make([]string, len(f.children))
	for i, c := range f.children {
		parts[i] = c.String()
	}
	return "(" + strings.Join(parts, " OR ") + ")"
}

type notFilter struct{ child Filter }

// Not negates its child.
func Not(child Filter) Filter { return &notFilter{child: child} }

func (f *notFilter) Apply(doc *value.Document) bool    { return !f.child.Apply(doc) }
func (f *notFilter) Field() (string, bool)             { return "", false }
func (f *notFilter) IndexType() (index.Type, bool)     { return "", false }
func (f *notFilter) Children() []Filter                { return []Filter{f.child} }
func (f *notFilter) String() string                    { return "NOT " + f.child.String() }

// All matches every document unconditionally.
func All() Filter { return &andFilter{} }

// --- Leaf filters ---

type cmpOp int

const (
	opEq cmpOp = iota
	opNe
	opGt
	opGte
	opLt
	opLte
)

type cmpFilter struct {
	field string
	op    cmpOp
	value value.Value
}

func Eq(field string, v value.Value) Filter  { return &cmpFilter{field: field, op: opEq, value: v} }
func Ne(field string, v value.Value) Filter  { return &cmpFilter{field: field, op: opNe, value: v} }
func Gt(field string, v value.Value) Filter  { return &cmpFilter{field: field, op: opGt, value: v} }
func Gte(field string, v value.Value) Filter { return &cmpFilter{field: field, op: opGte, value: v} }
func Lt(field string, v value.Value) Filter  { return &cmpFilter{field: field, op: opLt, value: v} }
func Lte(field string, v value.Value) Filter { return &cmpFilter{field: field, op: opLte, value: v} }

func (f *cmpFilter) Apply(doc *value.Document) bool {
	v, ok := doc.GetPath(f.field)
	if !ok {
		return false
	}
	c := value.Compare(v, f.value)
	switch f.op {
	case opEq:
		return c == 0
	case opNe:
		return c != 0
	case opGt:
		return c > 0
	case opGte:
		return c >= 0
	case opLt:
		return c < 0
	case opLte:
		return c <= 0
	default:
		return false
	}
}
func (f *cmpFilter) Field() (string, bool) { return f.field, true }
func (f *cmpFilter) IndexType() (index.Type, bool) {
	if f.field == "_id" {
		return "", false
	}
	return index.NonUnique, true
}
func (f *cmpFilter) String() string {
	sym := map[cmpOp]string{opEq: "==", opNe: "!=", opGt: ">", opGte: ">=", opLt: "<", opLte: "<="}
	return fmt.Sprintf("%s %s %s", f.field, sym[f.op], f.value.String())
}

// Op exposes the comparison operator for planner scoring.
func (f *cmpFilter) Op() cmpOp { return f.op }

// IsIDFilter reports whether this is an eq("_id", v) filter — the
// planner's first and cheapest check (§4.9 step 1).
func IsIDFilter(f Filter) (value.Value, bool) {
	c, ok := f.(*cmpFilter)
	if !ok || c.op != opEq || c.field != "_id" {
		return value.Null(), false
	}
	return c.value, true
}

type betweenFilter struct {
	field          string
	lo, hi         value.Value
	inclLo, inclHi bool
}

// Between matches field values within [lo, hi] per the given endpoint
// inclusivity.
func Between(field string, lo, hi value.Value, inclLo, inclHi bool) Filter {
	return &betweenFilter{field: field, lo: lo, hi: hi, inclLo: inclLo, inclHi: inclHi}
}

func (f *betweenFilter) Apply(doc *value.Document) bool {
	v, ok := doc.GetPath(f.field)
	if !ok {
		return false
	}
	cl := value.Compare(v, f.lo)
	ch := value.Compare(v, f.hi)
	if f.inclLo && cl < 0 || !f.inclLo && cl <= 0 {
		return false
	}
	if f.inclHi && ch > 0 || !f.inclHi && ch >= 0 {
		return false
	}
	return true
}
func (f *betweenFilter) Field() (string, bool)         { return f.field, true }
func (f *betweenFilter) IndexType() (index.Type, bool) { return index.NonUnique, true }
func (f *betweenFilter) String() string {
	return fmt.Sprintf("%s BETWEEN %s AND %s", f.field, f.lo.String(), f.hi.String())
}

// Bounds exposes the range for planner index-scan construction.
func (f *betweenFilter) Bounds() (lo, hi value.Value, inclLo, inclHi bool) {
	return f.lo, f.hi, f.inclLo, f.inclHi
}

type inFilter struct {
	field  string
	values []value.Value
}

// In matches documents whose field equals any of values.
func In(field string, values []value.Value) Filter {
	return &inFilter{field: field, values: values}
}

func (f *inFilter) Apply(doc *value.Document) bool {
	v, ok := doc.GetPath(f.field)
	if !ok {
		return false
	}
	for _, candidate := range f.values {
		if value.Equal(v, candidate) {
			return true
		}
	}
	return false
}
func (f *inFilter) Field() (string, bool)         { return f.field, true }
func (f *inFilter) IndexType() (index.Type, bool) { return index.NonUnique, true }
func (f *inFilter) String() string {
	parts := make([]string, len(f.values))
	for i, v := range f.values {
		parts[i] = v.String()
	}
	return fmt.Sprintf("%s IN (%s)", f.field, strings.Join(parts, ", "))
}
func (f *inFilter) Values() []value.Value { return f.values }

type regexFilter struct {
	field string
	re    *regexp.Regexp
}

// Regex matches documents whose string field value matches pattern.
// Returns an error if pattern fails to compile.
func Regex(field, pattern string) (Filter, error) {
	re, err := regexp.Compile(pattern)
	if err != nil {
		return nil, err
	}
	return &regexFilter{field: field, re: re}, nil
}

func (f *regexFilter) Apply(doc *value.Document) bool {
	v, ok := doc.GetPath(f.field)
	if !ok {
		return false
	}
	s, ok := v.AsString()
	if !ok {
		return false
	}
	return f.re.MatchString(s)
}
func (f *regexFilter) Field() (string, bool)         { return f.field, true }
func (f *regexFilter) IndexType() (index.Type, bool) { return "", false }
func (f *regexFilter) String() string                { return fmt.Sprintf("%s =~ /%s/", f.field, f.re.String()) }

// textFilter and spatialFilter declare themselves usable against FTS and
// spatial indexes respectively; their Apply fallback for full scan is
// intentionally approximate (substring / bbox containment) since the
// authoritative matching lives in the fts/spatial packages the planner
// routes to when an index is available.

type textMode int

const (
	TextMatches textMode = iota
	TextPhrase
)

type textFilter struct {
	field string
	query string
	mode  textMode
}

// Text builds a full-text filter. mode distinguishes matches() (any
// term) from phrase() (exact adjacency) per spec §4.6.
func Text(field, query string, mode textMode) Filter {
	return &textFilter{field: field, query: query, mode: mode}
}

func (f *textFilter) Apply(doc *value.Document) bool {
	v, ok := doc.GetPath(f.field)
	if !ok {
		return false
	}
	s, ok := v.AsString()
	if !ok {
		return false
	}
	s, q := strings.ToLower(s), strings.ToLower(f.query)
	if f.mode == TextPhrase {
		return strings.Contains(s, q)
	}
	for _, term := range strings.Fields(q) {
		term = strings.TrimPrefix(strings.TrimPrefix(term, "+"), "-")
		if strings.Contains(s, term) {
			return true
		}
	}
	return false
}
func (f *textFilter) Field() (string, bool)         { return f.field, true }
func (f *textFilter) IndexType() (index.Type, bool) { return index.FullText, true }
func (f *textFilter) String() string {
	if f.mode == TextPhrase {
		return fmt.Sprintf("%s PHRASE %q", f.field, f.query)
	}
	return fmt.Sprintf("%s MATCHES %q", f.field, f.query)
}
func (f *textFilter) Query() (string, textMode) { return f.query, f.mode }

type elemMatchFilter struct {
	field string
	sub   Filter
}

// ElemMatch matches documents where at least one element of the field's
// array satisfies sub.
func ElemMatch(field string, sub Filter) Filter {
	return &elemMatchFilter{field: field, sub: sub}
}

func (f *elemMatchFilter) Apply(doc *value.Document) bool {
	v, ok := doc.GetPath(f.field)
	if !ok {
		return false
	}
	arr, ok := v.AsArray()
	if !ok {
		return false
	}
	for _, elem := range arr {
		if elemDoc, ok := elem.AsDocument(); ok {
			if f.sub.Apply(elemDoc) {
				return true
			}
		} else {
			wrapper := value.NewDocument()
			wrapper.Put(f.field, elem)
			if f.sub.Apply(wrapper) {
				return true
			}
		}
	}
	return false
}
func (f *elemMatchFilter) Field() (string, bool)         { return f.field, true }
func (f *elemMatchFilter) IndexType() (index.Type, bool) { return "", false }
func (f *elemMatchFilter) String() string                { return fmt.Sprintf("%s ELEMMATCH (%s)", f.field, f.sub.String()) }
