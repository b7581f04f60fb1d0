package query

import (
	"github.com/kartikbazzad/bundoc/filter"
	"github.com/kartikbazzad/bundoc/index"
)

// Optimizer chooses an access path for a filter against the indexes a
// collection currently has. Candidates are scored by how many leading
// descriptor fields their conjuncts cover; ties prefer unique indexes,
// then earlier-created ones (the caller passes descriptors in creation
// order).
type Optimizer struct{}

// Plan builds a FindPlan for f under opts.
func (Optimizer) Plan(f filter.Filter, opts FindOptions, descriptors []index.Descriptor) *FindPlan {
	plan := &FindPlan{
		Skip:     opts.Skip,
		Limit:    opts.Limit,
		Distinct: opts.Distinct,
	}

	if children, ok := filter.IsOr(f); ok && len(children) >= 2 {
		planDisjunction(plan, f, children, opts, descriptors)
		return plan
	}

	conjuncts := flattenConjunction(f)
	planConjunction(plan, conjuncts, descriptors)
	applySort(plan, opts)
	return plan
}

// flattenConjunction returns the AND-normal-form conjunct list of f:
// nested Ands are inlined, anything else (including Or and Not subtrees)
// is a single conjunct. An empty And (the match-all filter) contributes
// no conjuncts.
func flattenConjunction(f filter.Filter) []filter.Filter {
	if f == nil {
		return nil
	}
	children, ok := filter.IsAnd(f)
	if !ok {
		return []filter.Filter{f}
	}
	var out []filter.Filter
	for _, c := range children {
		out = append(out, flattenConjunction(c)...)
	}
	return out
}

func planConjunction(plan *FindPlan, conjuncts []filter.Filter, descriptors []index.Descriptor) {
	// Step 1: an eq(_id, v) conjunct wins outright (§4.9).
	for i, c := range conjuncts {
		if v, ok := filter.IsIDFilter(c); ok {
			plan.ByID = v
			plan.HasByID = true
			rest := make([]filter.Filter, 0, len(conjuncts)-1)
			rest = append(rest, conjuncts[:i]...)
			rest = append(rest, conjuncts[i+1:]...)
			plan.FullScanFilter = combine(rest)
			return
		}
	}

	// Step 2: score candidates.
	best := -1
	bestScore := 0
	var bestUsed []filter.Filter
	for di, desc := range descriptors {
		used, score := coverIndex(desc, conjuncts)
		if score == 0 {
			continue
		}
		better := score > bestScore
		if score == bestScore && best >= 0 {
			// Tie-breaks: unique beats non-unique; otherwise earlier
			// creation (lower di) already won.
			better = desc.IndexType == index.Unique && descriptors[best].IndexType != index.Unique
		}
		if better {
			best, bestScore, bestUsed = di, score, used
		}
	}

	if best < 0 {
		plan.FullScanFilter = combine(conjuncts)
		return
	}

	desc := descriptors[best]
	plan.IndexDescriptor = &desc
	plan.IndexScanFilters = bestUsed
	plan.IndexScanOrder = make([]bool, len(desc.Fields))
	for i := range plan.IndexScanOrder {
		plan.IndexScanOrder[i] = true
	}
	var leftovers []filter.Filter
	for _, c := range conjuncts {
		if !containsFilter(bestUsed, c) {
			leftovers = append(leftovers, c)
		}
	}
	plan.FullScanFilter = combine(leftovers)
}

// coverIndex returns which conjuncts the index can serve and how many of
// its leading fields they cover. Rules (§4.9 step 2):
//   - B-tree indexes (unique/non-unique): eq conjuncts extend coverage to
//     the next field; one range/in/ne conjunct may terminate coverage on
//     the field it lands on.
//   - Full-text and spatial indexes serve exactly their own filter type
//     on their single field.
func coverIndex(desc index.Descriptor, conjuncts []filter.Filter) ([]filter.Filter, int) {
	switch desc.IndexType {
	case index.FullText:
		for _, c := range conjuncts {
			if t, ok := c.IndexType(); ok && t == index.FullText {
				if f, _ := c.Field(); f == desc.Fields[0] {
					return []filter.Filter{c}, 1
				}
			}
		}
		return nil, 0
	case index.Spatial:
		for _, c := range conjuncts {
			if t, ok := c.IndexType(); ok && t == index.Spatial {
				if f, _ := c.Field(); f == desc.Fields[0] {
					return []filter.Filter{c}, 1
				}
			}
		}
		return nil, 0
	}

	var used []filter.Filter
	covered := 0
	for _, fieldName := range desc.Fields {
		c, terminal := btreeConjunctFor(fieldName, conjuncts, used)
		if c == nil {
			break
		}
		used = append(used, c)
		covered++
		if terminal {
			break
		}
	}
	return used, covered
}

// btreeConjunctFor picks the best unused conjunct constraining fieldName
// that a B-tree index can serve. terminal is true for range-shaped
// conjuncts, which cannot be followed by further field coverage.
func btreeConjunctFor(fieldName string, conjuncts, used []filter.Filter) (picked filter.Filter, terminal bool) {
	var fallback filter.Filter
	fallbackTerminal := false
	for _, c := range conjuncts {
		if containsFilter(used, c) {
			continue
		}
		f, hasField := c.Field()
		if !hasField || f != fieldName {
			continue
		}
		if t, ok := c.IndexType(); !ok || (t != index.NonUnique && t != index.Unique) {
			continue
		}
		if _, kind, _, ok := filter.CmpOf(c); ok {
			if kind == filter.CmpEq {
				return c, false // eq is the best coverage; take it immediately
			}
			if fallback == nil {
				fallback, fallbackTerminal = c, true
			}
			continue
		}
		if _, _, _, _, _, ok := filter.BetweenOf(c); ok {
			if fallback == nil {
				fallback, fallbackTerminal = c, true
			}
			continue
		}
		if _, _, ok := filter.InOf(c); ok {
			if fallback == nil {
				fallback, fallbackTerminal = c, true
			}
		}
	}
	return fallback, fallbackTerminal
}

func planDisjunction(plan *FindPlan, or filter.Filter, children []filter.Filter, opts FindOptions, descriptors []index.Descriptor) {
	subs := make([]*FindPlan, 0, len(children))
	allIndexed := true
	for _, c := range children {
		sub := &FindPlan{}
		planConjunction(sub, flattenConjunction(c), descriptors)
		if sub.IsFullScan() {
			allIndexed = false
			break
		}
		subs = append(subs, sub)
	}
	if allIndexed {
		plan.SubPlans = subs
	} else {
		// A branch with no usable index degrades the whole disjunction to
		// a single full scan (§4.9 step 7).
		plan.FullScanFilter = or
	}
	applySort(plan, opts)
}

// applySort decides whether the requested sort is already satisfied by
// the index scan order. Only a single-field ascending sort on the chosen
// index's leading field comes for free; everything else blocks.
func applySort(plan *FindPlan, opts FindOptions) {
	if len(opts.Sort) == 0 {
		return
	}
	if plan.IndexDescriptor != nil && len(plan.SubPlans) == 0 &&
		len(opts.Sort) == 1 &&
		opts.Sort[0].Direction == Ascending &&
		opts.Sort[0].Field == plan.IndexDescriptor.Fields[0] &&
		rangeShaped(plan.IndexScanFilters) {
		return
	}
	plan.BlockingSortOrder = opts.Sort
}

// rangeShaped reports whether the index scan emits ids in key order: a
// single range/between conjunct does, a point lookup trivially does not
// span multiple keys so order is moot, and multi-conjunct coverage may
// interleave.
func rangeShaped(used []filter.Filter) bool {
	if len(used) != 1 {
		return false
	}
	if _, _, _, _, _, ok := filter.BetweenOf(used[0]); ok {
		return true
	}
	if _, kind, _, ok := filter.CmpOf(used[0]); ok {
		return kind == filter.CmpGt || kind == filter.CmpGte || kind == filter.CmpLt || kind == filter.CmpLte
	}
	return false
}

func combine(fs []filter.Filter) filter.Filter {
	switch len(fs) {
	case 0:
		return nil
	case 1:
		return fs[0]
	default:
		return filter.And(fs...)
	}
}

func containsFilter(list []filter.Filter, f filter.Filter) bool {
	for _, x := range list {
		if x == f {
			return true
		}
	}
	return false
}
