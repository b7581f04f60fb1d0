package bundoc

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kartikbazzad/bundoc/cursor"
	"github.com/kartikbazzad/bundoc/filter"
	"github.com/kartikbazzad/bundoc/value"
)

func TestProjectionCursor(t *testing.T) {
	c := testCollection(t, "proj")
	_, err := c.Insert(doc("name", "ada", "secret", "s1", "age", 36))
	require.NoError(t, err)

	cur, err := c.Find(nil)
	require.NoError(t, err)
	defer cur.Close()

	projected := cur.Project("name")
	docs, err := projected.ToSlice()
	require.NoError(t, err)
	require.Len(t, docs, 1)
	_, hasSecret := docs[0].Get("secret")
	assert.False(t, hasSecret)
	assert.Equal(t, "ada", mustStr(t, docs[0], "name"))
}

func TestJoinedCursorAcrossCollections(t *testing.T) {
	db := openTestDB(t)
	users, err := db.Collection("users")
	require.NoError(t, err)
	orders, err := db.Collection("orders")
	require.NoError(t, err)

	_, err = users.Insert(doc("name", "ada"))
	require.NoError(t, err)
	_, err = users.Insert(doc("name", "bob"))
	require.NoError(t, err)
	for _, item := range []string{"pen", "ink"} {
		_, err = orders.Insert(doc("owner", "ada", "item", item))
		require.NoError(t, err)
	}

	local, err := users.Find(filter.Eq("name", value.String("ada")))
	require.NoError(t, err)
	defer local.Close()
	foreign, err := orders.Find(nil)
	require.NoError(t, err)
	defer foreign.Close()

	joined := local.Join(foreign, cursor.JoinOptions{
		LocalField: "name", ForeignField: "owner", TargetField: "orders",
	})
	docs, err := joined.ToSlice()
	require.NoError(t, err)
	require.Len(t, docs, 1)
	v, ok := docs[0].Get("orders")
	require.True(t, ok)
	arr, _ := v.AsArray()
	assert.Len(t, arr, 2)
}
