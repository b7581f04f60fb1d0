package transaction

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type replayed struct {
	collection string
	id         string
	doc        []byte
	remove     bool
}

func collect(t *testing.T, m *Manager) []replayed {
	t.Helper()
	var out []replayed
	err := m.Recover(func(collection, id string, doc []byte, remove bool) error {
		out = append(out, replayed{collection, id, doc, remove})
		return nil
	})
	require.NoError(t, err)
	return out
}

func TestLogAndRecover(t *testing.T) {
	dir := t.TempDir()
	m, err := NewManager(dir)
	require.NoError(t, err)

	_, err = m.Log(Op{Collection: "users", ID: "id1", Doc: []byte(`{"a":1}`), Kind: OpPut})
	require.NoError(t, err)
	_, err = m.Log(Op{Collection: "users", ID: "id2", Doc: []byte(`{"a":2}`), Kind: OpPut})
	require.NoError(t, err)
	_, err = m.Log(Op{Collection: "users", ID: "id1", Kind: OpRemove})
	require.NoError(t, err)
	require.NoError(t, m.Close())

	// Reopen as after a crash: every committed mutation replays in order.
	m2, err := NewManager(dir)
	require.NoError(t, err)
	defer m2.Close()

	ops := collect(t, m2)
	require.Len(t, ops, 3)
	assert.Equal(t, replayed{"users", "id1", []byte(`{"a":1}`), false}, ops[0])
	assert.Equal(t, replayed{"users", "id2", []byte(`{"a":2}`), false}, ops[1])
	assert.Equal(t, "id1", ops[2].id)
	assert.True(t, ops[2].remove)
	assert.Empty(t, ops[2].doc)
}

func TestCollectionsInterleave(t *testing.T) {
	dir := t.TempDir()
	m, err := NewManager(dir)
	require.NoError(t, err)
	defer m.Close()

	_, err = m.Log(Op{Collection: "a", ID: "x", Doc: []byte("1"), Kind: OpPut})
	require.NoError(t, err)
	_, err = m.Log(Op{Collection: "b", ID: "x", Doc: []byte("2"), Kind: OpPut})
	require.NoError(t, err)

	ops := collect(t, m)
	require.Len(t, ops, 2)
	assert.Equal(t, "a", ops[0].collection)
	assert.Equal(t, "b", ops[1].collection)
}

func TestCheckpointTruncatesLog(t *testing.T) {
	dir := t.TempDir()
	m, err := NewManager(dir)
	require.NoError(t, err)

	_, err = m.Log(Op{Collection: "c", ID: "id1", Doc: []byte("v"), Kind: OpPut})
	require.NoError(t, err)
	require.NoError(t, m.Checkpoint())
	require.NoError(t, m.Close())

	m2, err := NewManager(dir)
	require.NoError(t, err)
	defer m2.Close()
	assert.Empty(t, collect(t, m2), "checkpointed operations must not replay")
}

func TestLogAfterCloseFails(t *testing.T) {
	m, err := NewManager(t.TempDir())
	require.NoError(t, err)
	require.NoError(t, m.Close())
	require.NoError(t, m.Close(), "close is idempotent")

	_, err = m.Log(Op{Collection: "c", ID: "id", Doc: []byte("v"), Kind: OpPut})
	require.Error(t, err)
}

func TestKeyRoundTrip(t *testing.T) {
	key := encodeKey("orders", "ABCDEF")
	coll, id, ok := decodeKey(key)
	require.True(t, ok)
	assert.Equal(t, "orders", coll)
	assert.Equal(t, "ABCDEF", id)

	_, _, ok = decodeKey([]byte("no-separator"))
	assert.False(t, ok)
}
