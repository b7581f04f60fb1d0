// Package query turns a filter tree into an execution plan: id lookup,
// index scan, or full scan, plus the blocking sort / skip / limit /
// distinct bookkeeping the cursor layer applies afterwards. It knows how
// to score candidate indexes but never touches storage — execution lives
// with the collection.
package query

import (
	"github.com/kartikbazzad/bundoc/filter"
	"github.com/kartikbazzad/bundoc/index"
	"github.com/kartikbazzad/bundoc/value"
)

// SortDirection orders one sort field.
type SortDirection int

const (
	Ascending SortDirection = iota
	Descending
)

// SortField is one (field, direction) pair of a sort specification.
type SortField struct {
	Field     string
	Direction SortDirection
}

// FindOptions carries the caller's pagination and ordering choices into
// planning. A Limit of zero (the zero value) means unlimited.
type FindOptions struct {
	Skip     int
	Limit    int
	Sort     []SortField
	Distinct bool
}

// DefaultFindOptions returns options that return every match in natural
// order.
func DefaultFindOptions() FindOptions {
	return FindOptions{}
}

// FindPlan is the planner's output. Exactly one of the three access paths
// is primary: ByID, IndexDescriptor, or neither (full scan). Leftover
// conjuncts an index cannot serve always land in FullScanFilter as a
// refinement step over the candidate ids.
type FindPlan struct {
	// ByID short-circuits to a primary-map point lookup.
	ByID    value.Value
	HasByID bool

	// IndexDescriptor and IndexScanFilters describe the chosen index
	// access path: the descriptor to scan and the conjuncts it serves.
	IndexDescriptor  *index.Descriptor
	IndexScanFilters []filter.Filter
	// IndexScanOrder holds one ascending flag per descriptor field.
	IndexScanOrder []bool

	// FullScanFilter refines candidate ids (or drives a primary-map walk
	// when no index applies). Nil means no refinement needed.
	FullScanFilter filter.Filter

	// BlockingSortOrder is set when the index scan order does not already
	// satisfy the requested sort, forcing a buffered sort.
	BlockingSortOrder []SortField

	Skip     int
	Limit    int
	Distinct bool

	// SubPlans, when non-empty, are the per-branch plans of a top-level
	// disjunction; their id sets are unioned before skip/limit apply.
	SubPlans []*FindPlan
}

// IsFullScan reports whether the plan has no indexed access path at all.
func (p *FindPlan) IsFullScan() bool {
	return !p.HasByID && p.IndexDescriptor == nil && len(p.SubPlans) == 0
}
