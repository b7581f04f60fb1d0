package bundoc

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kartikbazzad/bundoc/dberr"
	"github.com/kartikbazzad/bundoc/filter"
	"github.com/kartikbazzad/bundoc/index"
	"github.com/kartikbazzad/bundoc/query"
	"github.com/kartikbazzad/bundoc/rules"
	"github.com/kartikbazzad/bundoc/value"
)

func openTestDB(t *testing.T) *Database {
	t.Helper()
	db, err := Open(InMemoryOptions())
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return db
}

func testCollection(t *testing.T, name string) *Collection {
	t.Helper()
	c, err := openTestDB(t).Collection(name)
	require.NoError(t, err)
	return c
}

func doc(pairs ...interface{}) *value.Document {
	return value.DocumentFromPairs(pairs...)
}

func mustStr(t *testing.T, d *value.Document, field string) string {
	t.Helper()
	v, ok := d.GetPath(field)
	require.True(t, ok, "field %s missing", field)
	s, ok := v.AsString()
	require.True(t, ok, "field %s not a string", field)
	return s
}

func TestInsertAssignsOrderedIDs(t *testing.T) {
	c := testCollection(t, "people")

	var ids []string
	for i := 0; i < 5; i++ {
		id, err := c.Insert(doc("n", i))
		require.NoError(t, err)
		ids = append(ids, id)
	}

	// Round-trip: the cursor yields exactly the inserted ids, in
	// insertion order, with no index involved.
	cur, err := c.Find(nil)
	require.NoError(t, err)
	defer cur.Close()
	got, err := cur.IDs()
	require.NoError(t, err)
	assert.Equal(t, ids, got)

	n, err := c.Size()
	require.NoError(t, err)
	assert.Equal(t, 5, n)
}

func TestFindAllCountEqualsSize(t *testing.T) {
	c := testCollection(t, "sized")
	for i := 0; i < 7; i++ {
		_, err := c.Insert(doc("i", i))
		require.NoError(t, err)
	}
	cur, err := c.Find(filter.All())
	require.NoError(t, err)
	defer cur.Close()
	count, err := cur.Count()
	require.NoError(t, err)
	size, err := c.Size()
	require.NoError(t, err)
	assert.Equal(t, size, count)
}

func TestDuplicateIDRejected(t *testing.T) {
	c := testCollection(t, "dups")
	d := doc("a", 1)
	d.SetID("FIXED")
	_, err := c.Insert(d)
	require.NoError(t, err)

	again := doc("a", 2)
	again.SetID("FIXED")
	_, err = c.Insert(again)
	assert.ErrorIs(t, err, dberr.ErrValidation)
}

func TestUniqueIndexViolation(t *testing.T) {
	c := testCollection(t, "unique")
	require.NoError(t, c.CreateIndex(index.Unique, "last_name"))

	_, err := c.Insert(doc("first_name", "fn1", "last_name", "ln1"))
	require.NoError(t, err)

	_, err = c.Insert(doc("first_name", "fn2", "last_name", "ln1"))
	require.ErrorIs(t, err, dberr.ErrValidation)

	// The rejected document must not be in the primary map.
	n, err := c.Size()
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.False(t, c.IsIndexing(), "a constraint rejection must not dirty the index")
}

func TestFilteredUpdateAfterIndex(t *testing.T) {
	c := testCollection(t, "upd")
	for i := 1; i <= 3; i++ {
		_, err := c.Insert(doc("first_name", "fn"+string(rune('0'+i)), "last_name", "ln"+string(rune('0'+i))))
		require.NoError(t, err)
	}
	require.NoError(t, c.CreateIndex(index.Unique, "first_name"))

	affected, err := c.Update(filter.Eq("first_name", value.String("fn1")), doc("last_name", "new-last-name"))
	require.NoError(t, err)
	assert.Equal(t, 1, affected)

	cur, err := c.Find(filter.Eq("first_name", value.String("fn1")))
	require.NoError(t, err)
	defer cur.Close()
	docs, err := cur.ToSlice()
	require.NoError(t, err)
	require.Len(t, docs, 1)
	assert.Equal(t, "new-last-name", mustStr(t, docs[0], "last_name"))
	assert.Equal(t, "fn1", mustStr(t, docs[0], "first_name"))
}

func TestUpdateOneReplacesByID(t *testing.T) {
	c := testCollection(t, "replace")
	id, err := c.Insert(doc("keep", "old", "drop", "me"))
	require.NoError(t, err)

	replacement := doc("keep", "new")
	replacement.SetID(id)
	affected, err := c.UpdateOne(replacement)
	require.NoError(t, err)
	assert.Equal(t, 1, affected)

	got, err := c.FindByID(id)
	require.NoError(t, err)
	assert.Equal(t, "new", mustStr(t, got, "keep"))
	_, hasDropped := got.Get("drop")
	assert.False(t, hasDropped, "replace semantics must drop unmentioned fields")

	// A document without an id cannot be routed.
	_, err = c.UpdateOne(doc("x", 1))
	assert.ErrorIs(t, err, dberr.ErrInvalidOperation)
}

func TestUpsertInsertsAndPublishesInsert(t *testing.T) {
	c := testCollection(t, "upsert")

	events := make(chan Event, 4)
	_, err := c.Subscribe(func(e Event) { events <- e })
	require.NoError(t, err)

	affected, err := c.UpdateWithOptions(
		filter.Eq("name", value.String("ghost")),
		doc("name", "ghost", "seen", 1),
		UpdateOptions{Upsert: true},
	)
	require.NoError(t, err)
	assert.Equal(t, 1, affected)

	select {
	case e := <-events:
		assert.Equal(t, EventInsert, e.Kind, "an upsert that inserts publishes Insert, not Update")
	case <-time.After(2 * time.Second):
		t.Fatal("no event delivered")
	}
}

func TestRemove(t *testing.T) {
	c := testCollection(t, "rm")
	for i := 0; i < 4; i++ {
		_, err := c.Insert(doc("even", i%2 == 0, "i", i))
		require.NoError(t, err)
	}

	n, err := c.Remove(filter.Eq("even", value.Bool(true)))
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	size, err := c.Size()
	require.NoError(t, err)
	assert.Equal(t, 2, size)

	n, err = c.RemoveOne(filter.All())
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestIndexThenInsertEqualsInsertThenIndex(t *testing.T) {
	db := openTestDB(t)
	before, err := db.Collection("before")
	require.NoError(t, err)
	after, err := db.Collection("after")
	require.NoError(t, err)

	require.NoError(t, before.CreateIndex(index.NonUnique, "city"))
	seed := func(c *Collection) {
		for _, city := range []string{"porto", "lisbon", "porto"} {
			_, err := c.Insert(doc("city", city))
			require.NoError(t, err)
		}
	}
	seed(before)
	seed(after)
	require.NoError(t, after.CreateIndex(index.NonUnique, "city"))

	for _, c := range []*Collection{before, after} {
		cur, err := c.Find(filter.Eq("city", value.String("porto")))
		require.NoError(t, err)
		count, err := cur.Count()
		cur.Close()
		require.NoError(t, err)
		assert.Equal(t, 2, count)
	}
}

func TestPlannerEquivalence(t *testing.T) {
	// I12: same filter + sort, with and without an index, same results.
	db := openTestDB(t)
	indexed, err := db.Collection("indexed")
	require.NoError(t, err)
	plain, err := db.Collection("plain")
	require.NoError(t, err)
	require.NoError(t, indexed.CreateIndex(index.NonUnique, "age"))

	for _, c := range []*Collection{indexed, plain} {
		for _, age := range []int{40, 10, 30, 20, 50} {
			_, err := c.Insert(doc("age", age, "tag", age%20 == 0))
			require.NoError(t, err)
		}
	}

	opts := query.FindOptions{Sort: []query.SortField{{Field: "age", Direction: query.Descending}}}
	f := filter.Gt("age", value.I64(15))

	var results [][]int64
	for _, c := range []*Collection{indexed, plain} {
		cur, err := c.Find(f, opts)
		require.NoError(t, err)
		docs, err := cur.ToSlice()
		cur.Close()
		require.NoError(t, err)
		var ages []int64
		for _, d := range docs {
			v, _ := d.Get("age")
			n, _ := v.AsI64()
			ages = append(ages, n)
		}
		results = append(results, ages)
	}
	assert.Equal(t, []int64{50, 40, 30, 20}, results[0])
	assert.Equal(t, results[0], results[1])
}

func TestSkipLimitDistinct(t *testing.T) {
	c := testCollection(t, "window")
	for i := 0; i < 10; i++ {
		_, err := c.Insert(doc("i", i))
		require.NoError(t, err)
	}
	cur, err := c.Find(nil, query.FindOptions{Skip: 2, Limit: 3})
	require.NoError(t, err)
	defer cur.Close()
	docs, err := cur.ToSlice()
	require.NoError(t, err)
	require.Len(t, docs, 3)
	v, _ := docs[0].Get("i")
	n, _ := v.AsI64()
	assert.Equal(t, int64(2), n)
}

func TestCompoundIndexLookup(t *testing.T) {
	c := testCollection(t, "compound")
	require.NoError(t, c.CreateIndex(index.NonUnique, "a", "b"))
	for i := 0; i < 3; i++ {
		_, err := c.Insert(doc("a", "x", "b", i))
		require.NoError(t, err)
	}
	_, err := c.Insert(doc("a", "y", "b", 1))
	require.NoError(t, err)

	// Full composite equality.
	cur, err := c.Find(filter.And(
		filter.Eq("a", value.String("x")),
		filter.Eq("b", value.I64(1)),
	))
	require.NoError(t, err)
	count, err := cur.Count()
	cur.Close()
	require.NoError(t, err)
	assert.Equal(t, 1, count)

	// Leading-prefix equality walks the compound index.
	cur, err = c.Find(filter.Eq("a", value.String("x")))
	require.NoError(t, err)
	count, err = cur.Count()
	cur.Close()
	require.NoError(t, err)
	assert.Equal(t, 3, count)
}

func TestDerivedFieldProcessor(t *testing.T) {
	c := testCollection(t, "derived")
	p, err := rules.NewProcessor()
	require.NoError(t, err)
	require.NoError(t, p.Derive("full_name", `doc.first + " " + doc.last`))
	require.NoError(t, c.RegisterProcessor(p))

	id, err := c.Insert(doc("first", "Ada", "last", "Lovelace"))
	require.NoError(t, err)

	got, err := c.FindByID(id)
	require.NoError(t, err)
	assert.Equal(t, "Ada Lovelace", mustStr(t, got, "full_name"))
}

func TestCursorSnapshotStability(t *testing.T) {
	c := testCollection(t, "snap")
	id, err := c.Insert(doc("v", "original"))
	require.NoError(t, err)

	cur, err := c.Find(filter.Eq("_id", value.String(id)))
	require.NoError(t, err)
	defer cur.Close()

	// Mutate after the cursor opened.
	_, err = c.Update(filter.Eq("_id", value.String(id)), doc("v", "changed"))
	require.NoError(t, err)

	docs, err := cur.ToSlice()
	require.NoError(t, err)
	require.Len(t, docs, 1)
	assert.Equal(t, "original", mustStr(t, docs[0], "v"),
		"a cursor reads the state at its snapshot, not later writes")

	// Reading twice from the same cursor yields equal documents.
	require.NoError(t, cur.Reset())
	again, err := cur.ToSlice()
	require.NoError(t, err)
	assert.Equal(t, "original", mustStr(t, again[0], "v"))
}

func TestClosedCollectionRejectsOperations(t *testing.T) {
	db := openTestDB(t)
	c, err := db.Collection("closing")
	require.NoError(t, err)
	_, err = c.Subscribe(func(Event) {})
	require.NoError(t, err)
	require.NoError(t, c.Close())

	_, err = c.Subscribe(func(Event) {})
	require.ErrorIs(t, err, dberr.ErrInvalidOperation)
	_, err = c.Insert(doc("x", 1))
	require.ErrorIs(t, err, dberr.ErrInvalidOperation)
	assert.False(t, c.IsOpen())
}

func TestDropCollectionFreesName(t *testing.T) {
	db := openTestDB(t)
	c, err := db.Collection("todrop")
	require.NoError(t, err)
	_, err = c.Insert(doc("x", 1))
	require.NoError(t, err)
	require.NoError(t, c.Drop())
	assert.True(t, c.IsDropped())

	has, err := db.HasCollection("todrop")
	require.NoError(t, err)
	assert.False(t, has)

	// The name is reusable and the new collection starts empty.
	fresh, err := db.Collection("todrop")
	require.NoError(t, err)
	n, err := fresh.Size()
	require.NoError(t, err)
	assert.Equal(t, 0, n)
}

func TestInsertManyPartialFailure(t *testing.T) {
	c := testCollection(t, "bulk")
	require.NoError(t, c.CreateIndex(index.Unique, "email"))

	ids, err := c.InsertMany([]*value.Document{
		doc("email", "a@x"),
		doc("email", "a@x"), // duplicate key
		doc("email", "b@x"),
	})
	require.Error(t, err)
	var bulk *BulkWriteError
	require.True(t, errors.As(err, &bulk))
	assert.Len(t, bulk.Errs, 1)
	assert.Len(t, ids, 2)
}
