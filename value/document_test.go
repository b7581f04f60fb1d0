package value

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDocumentPreservesInsertionOrder(t *testing.T) {
	d := NewDocument()
	d.Put("z", I64(1))
	d.Put("a", I64(2))
	d.Put("m", I64(3))

	assert.Equal(t, []string{"z", "a", "m"}, d.FieldNames())
}

func TestDocumentPutOverwritesInPlace(t *testing.T) {
	d := NewDocument()
	d.Put("a", I64(1))
	d.Put("b", I64(2))
	d.Put("a", I64(99))

	assert.Equal(t, []string{"a", "b"}, d.FieldNames())
	v, ok := d.Get("a")
	require.True(t, ok)
	i, _ := v.AsI64()
	assert.Equal(t, int64(99), i)
}

func TestDocumentRemove(t *testing.T) {
	d := NewDocument()
	d.Put("a", I64(1))
	d.Put("b", I64(2))
	d.Put("c", I64(3))

	assert.True(t, d.Remove("b"))
	assert.Equal(t, []string{"a", "c"}, d.FieldNames())
	_, ok := d.Get("b")
	assert.False(t, ok)
}

func TestDocumentGetPathNested(t *testing.T) {
	inner := NewDocument()
	inner.Put("city", String("Lisbon"))
	outer := NewDocument()
	outer.Put("address", FromDocument(inner))

	v, ok := outer.GetPath("address.city")
	require.True(t, ok)
	s, _ := v.AsString()
	assert.Equal(t, "Lisbon", s)
}

func TestDocumentGetPathArrayIndex(t *testing.T) {
	outer := NewDocument()
	outer.Put("tags", Array([]Value{String("x"), String("y")}))

	v, ok := outer.GetPath("tags.1")
	require.True(t, ok)
	s, _ := v.AsString()
	assert.Equal(t, "y", s)
}

func TestDocumentPutPathCreatesIntermediate(t *testing.T) {
	d := NewDocument()
	d.PutPath("address.city", String("Porto"))

	v, ok := d.GetPath("address.city")
	require.True(t, ok)
	s, _ := v.AsString()
	assert.Equal(t, "Porto", s)
}

func TestDocumentSetIDPlacesFirst(t *testing.T) {
	d := NewDocument()
	d.Put("name", String("a"))
	d.SetID("abc123")

	assert.Equal(t, []string{"_id", "name"}, d.FieldNames())
	id, ok := d.ID()
	require.True(t, ok)
	assert.Equal(t, "abc123", id)
}

func TestDocumentJSONRoundTrip(t *testing.T) {
	d := NewDocument()
	d.Put("_id", String("abc"))
	d.Put("name", String("alice"))
	d.Put("age", I64(30))
	d.Put("tags", Array([]Value{String("x"), String("y")}))

	data, err := json.Marshal(d)
	require.NoError(t, err)

	out, err := DeserializeDocument(data)
	require.NoError(t, err)
	assert.Equal(t, []string{"_id", "name", "age", "tags"}, out.FieldNames())

	name, _ := out.Get("name")
	s, _ := name.AsString()
	assert.Equal(t, "alice", s)
}

func TestDocumentCloneIsDeep(t *testing.T) {
	d := NewDocument()
	inner := NewDocument()
	inner.Put("x", I64(1))
	d.Put("nested", FromDocument(inner))

	clone := d.Clone()
	nestedVal, _ := clone.Get("nested")
	nestedDoc, _ := nestedVal.AsDocument()
	nestedDoc.Put("x", I64(99))

	origNestedVal, _ := d.Get("nested")
	origNestedDoc, _ := origNestedVal.AsDocument()
	origX, _ := origNestedDoc.Get("x")
	i, _ := origX.AsI64()
	assert.Equal(t, int64(1), i)
}
