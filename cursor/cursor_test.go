package cursor

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kartikbazzad/bundoc/value"
)

func doc(pairs ...interface{}) *value.Document {
	return value.DocumentFromPairs(pairs...)
}

func entries(docs ...*value.Document) []Entry {
	out := make([]Entry, len(docs))
	for i, d := range docs {
		id, _ := d.ID()
		out[i] = Entry{ID: id, Doc: d}
	}
	return out
}

func withID(id string, d *value.Document) *value.Document {
	d.SetID(id)
	return d
}

func TestCursorReplay(t *testing.T) {
	c := FromEntries(entries(
		withID("a", doc("n", 1)),
		withID("b", doc("n", 2)),
	))

	var first []string
	for c.Next() {
		first = append(first, c.ID())
	}
	require.NoError(t, c.Err())
	assert.Equal(t, []string{"a", "b"}, first)

	require.NoError(t, c.Reset())
	var second []string
	for c.Next() {
		second = append(second, c.ID())
	}
	assert.Equal(t, first, second)
}

type upperProc struct{ field string }

func (p upperProc) ProcessAfterRead(d *value.Document) (*value.Document, error) {
	if v, ok := d.Get(p.field); ok {
		if s, isStr := v.AsString(); isStr {
			out := d.Clone()
			out.Put(p.field, value.String(s+"!"))
			return out, nil
		}
	}
	return d, nil
}

func TestProcessorChainRunsOncePerEntry(t *testing.T) {
	c := New(&sliceSource{entries: entries(withID("a", doc("s", "x")))}, upperProc{field: "s"})

	require.True(t, c.Next())
	v, _ := c.Document().Get("s")
	s, _ := v.AsString()
	assert.Equal(t, "x!", s)

	// Replay must come from cache, not re-run the processor.
	require.NoError(t, c.Reset())
	require.True(t, c.Next())
	v, _ = c.Document().Get("s")
	s, _ = v.AsString()
	assert.Equal(t, "x!", s)
}

func TestProjected(t *testing.T) {
	d := withID("a", doc("name", "bob", "secret", "hunter2"))
	c := Projected(FromEntries(entries(d)), []string{"name"})

	require.True(t, c.Next())
	out := c.Document()
	_, hasSecret := out.Get("secret")
	assert.False(t, hasSecret)
	v, ok := out.Get("name")
	require.True(t, ok)
	s, _ := v.AsString()
	assert.Equal(t, "bob", s)
	id, _ := out.ID()
	assert.Equal(t, "a", id)
}

func TestJoined(t *testing.T) {
	local := FromEntries(entries(
		withID("u1", doc("name", "alice")),
		withID("u2", doc("name", "bob")),
	))
	foreign := FromEntries(entries(
		withID("o1", doc("owner", "alice", "item", "pen")),
		withID("o2", doc("owner", "alice", "item", "ink")),
		withID("o3", doc("owner", "carol", "item", "hat")),
	))

	joined := Joined(local, foreign, JoinOptions{
		LocalField: "name", ForeignField: "owner", TargetField: "orders",
	})

	require.True(t, joined.Next())
	v, ok := joined.Document().Get("orders")
	require.True(t, ok)
	arr, _ := v.AsArray()
	assert.Len(t, arr, 2)

	require.True(t, joined.Next())
	_, ok = joined.Document().Get("orders")
	assert.False(t, ok, "bob has no matching orders")
	require.False(t, joined.Next())
	require.NoError(t, joined.Err())
}

func TestUniqueDedups(t *testing.T) {
	c := Unique(FromEntries([]Entry{
		{ID: "a", Doc: doc("n", 1)},
		{ID: "b", Doc: doc("n", 2)},
		{ID: "a", Doc: doc("n", 1)},
	}))
	ids, err := c.IDs()
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b"}, ids)
}

type failingSource struct{ after int }

func (f *failingSource) Next() (Entry, bool, error) {
	if f.after <= 0 {
		return Entry{}, false, errors.New("disk gone")
	}
	f.after--
	return Entry{ID: "x", Doc: doc("n", 1)}, true, nil
}
func (f *failingSource) Reset() error { return nil }

func TestSortedFailFast(t *testing.T) {
	c := Sorted(New(&failingSource{after: 2}), []SortKey{{Field: "n"}})
	assert.False(t, c.Next())
	require.Error(t, c.Err())
}

func TestSortedOrderAndMissingFields(t *testing.T) {
	c := Sorted(FromEntries([]Entry{
		{ID: "a", Doc: doc("age", 30)},
		{ID: "b", Doc: doc("name", "no-age")},
		{ID: "c", Doc: doc("age", 20)},
	}), []SortKey{{Field: "age"}})

	ids, err := c.IDs()
	require.NoError(t, err)
	assert.Equal(t, []string{"b", "c", "a"}, ids)

	desc := Sorted(FromEntries([]Entry{
		{ID: "a", Doc: doc("age", 30)},
		{ID: "c", Doc: doc("age", 20)},
	}), []SortKey{{Field: "age", Descending: true}})
	ids, err = desc.IDs()
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "c"}, ids)
}

func TestWindow(t *testing.T) {
	c := Window(FromEntries([]Entry{
		{ID: "a", Doc: doc("n", 1)},
		{ID: "b", Doc: doc("n", 2)},
		{ID: "c", Doc: doc("n", 3)},
		{ID: "d", Doc: doc("n", 4)},
	}), 1, 2)

	ids, err := c.IDs()
	require.NoError(t, err)
	assert.Equal(t, []string{"b", "c"}, ids)
}

func TestCountAndFirst(t *testing.T) {
	c := FromEntries(entries(
		withID("a", doc("n", 1)),
		withID("b", doc("n", 2)),
	))
	n, err := c.Count()
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	first, err := c.First()
	require.NoError(t, err)
	id, _ := first.ID()
	assert.Equal(t, "a", id)
}
