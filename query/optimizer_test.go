package query

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kartikbazzad/bundoc/filter"
	"github.com/kartikbazzad/bundoc/index"
	"github.com/kartikbazzad/bundoc/value"
)

func descriptors(descs ...index.Descriptor) []index.Descriptor { return descs }

func TestPlanByID(t *testing.T) {
	f := filter.And(
		filter.Eq("_id", value.String("abc")),
		filter.Eq("name", value.String("x")),
	)
	plan := Optimizer{}.Plan(f, DefaultFindOptions(), nil)

	require.True(t, plan.HasByID)
	assert.Equal(t, value.String("abc"), plan.ByID)
	require.NotNil(t, plan.FullScanFilter)
	assert.Nil(t, plan.IndexDescriptor)
}

func TestPlanPrefersCompoundCoverage(t *testing.T) {
	single := index.NewDescriptor(index.NonUnique, []string{"a"}, "c")
	compound := index.NewDescriptor(index.NonUnique, []string{"a", "b"}, "c")

	f := filter.And(
		filter.Eq("a", value.I64(1)),
		filter.Eq("b", value.I64(2)),
	)
	plan := Optimizer{}.Plan(f, DefaultFindOptions(), descriptors(single, compound))

	require.NotNil(t, plan.IndexDescriptor)
	assert.Equal(t, []string{"a", "b"}, plan.IndexDescriptor.Fields)
	assert.Len(t, plan.IndexScanFilters, 2)
	assert.Nil(t, plan.FullScanFilter)
}

func TestPlanUniqueWinsTie(t *testing.T) {
	nonUnique := index.NewDescriptor(index.NonUnique, []string{"email"}, "c")
	unique := index.NewDescriptor(index.Unique, []string{"email"}, "c")

	f := filter.Eq("email", value.String("a@b"))
	plan := Optimizer{}.Plan(f, DefaultFindOptions(), descriptors(nonUnique, unique))

	require.NotNil(t, plan.IndexDescriptor)
	assert.Equal(t, index.Unique, plan.IndexDescriptor.IndexType)
}

func TestPlanLeftoverGoesToFullScan(t *testing.T) {
	idx := index.NewDescriptor(index.NonUnique, []string{"age"}, "c")

	f := filter.And(
		filter.Gt("age", value.I64(18)),
		filter.Eq("city", value.String("berlin")),
	)
	plan := Optimizer{}.Plan(f, DefaultFindOptions(), descriptors(idx))

	require.NotNil(t, plan.IndexDescriptor)
	assert.Len(t, plan.IndexScanFilters, 1)
	require.NotNil(t, plan.FullScanFilter)
	assert.Contains(t, plan.FullScanFilter.String(), "city")
}

func TestPlanNoIndexFullScan(t *testing.T) {
	plan := Optimizer{}.Plan(filter.Eq("x", value.I64(1)), DefaultFindOptions(), nil)
	assert.True(t, plan.IsFullScan())
	require.NotNil(t, plan.FullScanFilter)
}

func TestPlanMatchAll(t *testing.T) {
	plan := Optimizer{}.Plan(filter.All(), DefaultFindOptions(), nil)
	assert.True(t, plan.IsFullScan())
	assert.Nil(t, plan.FullScanFilter)
}

func TestPlanFullTextRouted(t *testing.T) {
	ftsIdx := index.NewDescriptor(index.FullText, []string{"content"}, "c")
	btree := index.NewDescriptor(index.NonUnique, []string{"content"}, "c")

	f := filter.Text("content", "quick brown", filter.TextMatches)
	plan := Optimizer{}.Plan(f, DefaultFindOptions(), descriptors(btree, ftsIdx))

	require.NotNil(t, plan.IndexDescriptor)
	assert.Equal(t, index.FullText, plan.IndexDescriptor.IndexType)
}

func TestPlanDisjunctionDegradesToFullScan(t *testing.T) {
	idx := index.NewDescriptor(index.NonUnique, []string{"a"}, "c")
	f := filter.Or(
		filter.Eq("a", value.I64(1)),
		filter.Eq("unindexed", value.I64(2)),
	)
	plan := Optimizer{}.Plan(f, DefaultFindOptions(), descriptors(idx))

	assert.Empty(t, plan.SubPlans)
	require.NotNil(t, plan.FullScanFilter)
}

func TestPlanDisjunctionWithIndexedBranches(t *testing.T) {
	a := index.NewDescriptor(index.NonUnique, []string{"a"}, "c")
	b := index.NewDescriptor(index.NonUnique, []string{"b"}, "c")
	f := filter.Or(
		filter.Eq("a", value.I64(1)),
		filter.Eq("b", value.I64(2)),
	)
	plan := Optimizer{}.Plan(f, DefaultFindOptions(), descriptors(a, b))

	require.Len(t, plan.SubPlans, 2)
	assert.Nil(t, plan.FullScanFilter)
}

func TestPlanBlockingSort(t *testing.T) {
	idx := index.NewDescriptor(index.NonUnique, []string{"age"}, "c")
	opts := DefaultFindOptions()
	opts.Sort = []SortField{{Field: "name", Direction: Ascending}}

	plan := Optimizer{}.Plan(filter.Gt("age", value.I64(10)), opts, descriptors(idx))
	assert.Equal(t, opts.Sort, plan.BlockingSortOrder)

	// Sorting by the scanned range field ascending rides the index order.
	opts.Sort = []SortField{{Field: "age", Direction: Ascending}}
	plan = Optimizer{}.Plan(filter.Gt("age", value.I64(10)), opts, descriptors(idx))
	assert.Empty(t, plan.BlockingSortOrder)
}
