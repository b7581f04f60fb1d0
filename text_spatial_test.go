package bundoc

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kartikbazzad/bundoc/filter"
	"github.com/kartikbazzad/bundoc/index"
	"github.com/kartikbazzad/bundoc/spatial"
	"github.com/kartikbazzad/bundoc/value"
)

func countMatches(t *testing.T, c *Collection, f filter.Filter) int {
	t.Helper()
	cur, err := c.Find(f)
	require.NoError(t, err)
	defer cur.Close()
	n, err := cur.Count()
	require.NoError(t, err)
	return n
}

func TestFullTextMatchesAndPhrase(t *testing.T) {
	c := testCollection(t, "articles")
	require.NoError(t, c.CreateIndex(index.FullText, "content"))

	for _, content := range []string{
		"the quick brown fox",
		"quick and the dead",
		"a very quick brown rabbit",
	} {
		_, err := c.Insert(doc("content", content))
		require.NoError(t, err)
	}

	assert.Equal(t, 3, countMatches(t, c, filter.Text("content", "quick", filter.TextMatches)))
	assert.Equal(t, 0, countMatches(t, c, filter.Text("content", "hello", filter.TextMatches)))
	assert.Equal(t, 2, countMatches(t, c, filter.Text("content", "quick brown", filter.TextPhrase)))
	assert.Equal(t, 1, countMatches(t, c, filter.Text("content", "the quick", filter.TextPhrase)))
}

func TestFullTextIndexRemovalAndRebuild(t *testing.T) {
	c := testCollection(t, "ftsrm")
	require.NoError(t, c.CreateIndex(index.FullText, "body"))

	id, err := c.Insert(doc("body", "ephemeral words"))
	require.NoError(t, err)
	assert.Equal(t, 1, countMatches(t, c, filter.Text("body", "ephemeral", filter.TextMatches)))

	_, err = c.Remove(filter.Eq("_id", value.String(id)))
	require.NoError(t, err)
	assert.Equal(t, 0, countMatches(t, c, filter.Text("body", "ephemeral", filter.TextMatches)))

	_, err = c.Insert(doc("body", "ephemeral again"))
	require.NoError(t, err)
	require.NoError(t, c.RebuildIndex("body"))
	assert.Equal(t, 1, countMatches(t, c, filter.Text("body", "ephemeral", filter.TextMatches)))
}

func TestFullTextRejectsMultiField(t *testing.T) {
	c := testCollection(t, "ftsbad")
	assert.Error(t, c.CreateIndex(index.FullText, "a", "b"))
}

func point(x, y float64) *value.Document {
	return doc("x", x, "y", y)
}

func TestSpatialWithinEnvelope(t *testing.T) {
	c := testCollection(t, "cities")
	require.NoError(t, c.CreateIndex(index.Spatial, "location"))

	for _, city := range []struct {
		name string
		x, y float64
	}{
		{"NYC", -74.006, 40.7128},
		{"LA", -118.2437, 34.0522},
		{"Chicago", -87.6298, 41.8781},
	} {
		_, err := c.Insert(doc("name", city.name, "location", point(city.x, city.y)))
		require.NoError(t, err)
	}

	cur, err := c.Find(filter.Within("location", spatial.Envelope{MinX: -100, MinY: 25, MaxX: -70, MaxY: 50}))
	require.NoError(t, err)
	defer cur.Close()
	docs, err := cur.ToSlice()
	require.NoError(t, err)
	require.Len(t, docs, 2)

	var names []string
	for _, d := range docs {
		names = append(names, mustStr(t, d, "name"))
	}
	assert.ElementsMatch(t, []string{"NYC", "Chicago"}, names)
}

func TestSpatialKNearest(t *testing.T) {
	c := testCollection(t, "points")
	require.NoError(t, c.CreateIndex(index.Spatial, "position"))

	for _, d := range []float64{1, 2, 3, 5, 8, 13, 21, 34} {
		_, err := c.Insert(doc("d", d, "position", point(d, 0)))
		require.NoError(t, err)
	}

	cur, err := c.Find(filter.KNearest("position", spatial.Point{X: 0, Y: 0}, 3))
	require.NoError(t, err)
	defer cur.Close()
	docs, err := cur.ToSlice()
	require.NoError(t, err)
	require.Len(t, docs, 3)

	var dists []float64
	for _, d := range docs {
		v, _ := d.Get("d")
		f, _ := v.AsF64()
		dists = append(dists, f)
	}
	assert.ElementsMatch(t, []float64{1, 2, 3}, dists)
}

func TestSpatialNearRefinesByDistance(t *testing.T) {
	c := testCollection(t, "near")
	require.NoError(t, c.CreateIndex(index.Spatial, "p"))

	// (3,4) is distance 5 from the origin; (5,5) is ~7.07 but inside the
	// radius-6 envelope, so the envelope pass alone would keep it.
	_, err := c.Insert(doc("name", "in", "p", point(3, 4)))
	require.NoError(t, err)
	_, err = c.Insert(doc("name", "corner", "p", point(5, 5)))
	require.NoError(t, err)

	cur, err := c.Find(filter.Near("p", spatial.Point{X: 0, Y: 0}, 6))
	require.NoError(t, err)
	defer cur.Close()
	docs, err := cur.ToSlice()
	require.NoError(t, err)
	require.Len(t, docs, 1)
	assert.Equal(t, "in", mustStr(t, docs[0], "name"))
}

func TestSpatialIntersects(t *testing.T) {
	c := testCollection(t, "shapes")
	require.NoError(t, c.CreateIndex(index.Spatial, "geom"))

	line := doc("geom", value.FromDocument(doc(
		"type", "LineString",
		"coordinates", value.Array([]value.Value{
			value.Array([]value.Value{value.F64(0), value.F64(0)}),
			value.Array([]value.Value{value.F64(10), value.F64(10)}),
		}),
	)))
	_, err := c.Insert(line)
	require.NoError(t, err)
	_, err = c.Insert(doc("geom", point(100, 100)))
	require.NoError(t, err)

	assert.Equal(t, 1, countMatches(t, c, filter.Intersects("geom", spatial.Envelope{MinX: 4, MinY: 4, MaxX: 6, MaxY: 6})))
}

func TestSpatialIndexRemove(t *testing.T) {
	c := testCollection(t, "rmgeo")
	require.NoError(t, c.CreateIndex(index.Spatial, "loc"))

	id, err := c.Insert(doc("loc", point(1, 1)))
	require.NoError(t, err)
	_, err = c.Insert(doc("loc", point(2, 2)))
	require.NoError(t, err)

	_, err = c.Remove(filter.Eq("_id", value.String(id)))
	require.NoError(t, err)

	assert.Equal(t, 1, countMatches(t, c, filter.Intersects("loc", spatial.Envelope{MinX: 0, MinY: 0, MaxX: 3, MaxY: 3})))
}
