package kv

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemStorePutGetAcrossReopen(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "data.db")

	store, err := OpenMemStore(path, 64, nil)
	require.NoError(t, err)

	m, err := store.OpenMap("widgets")
	require.NoError(t, err)
	require.NoError(t, m.Put([]byte("a"), []byte("1")))
	require.NoError(t, m.Put([]byte("b"), []byte("2")))
	require.NoError(t, store.Commit())
	require.NoError(t, store.Close())

	store2, err := OpenMemStore(path, 64, nil)
	require.NoError(t, err)
	defer store2.Close()

	m2, err := store2.OpenMap("widgets")
	require.NoError(t, err)
	v, ok, err := m2.Get([]byte("a"))
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "1", string(v))
}

func TestMemStoreRangeScan(t *testing.T) {
	dir := t.TempDir()
	store, err := OpenMemStore(filepath.Join(dir, "data.db"), 64, nil)
	require.NoError(t, err)
	defer store.Close()

	m, err := store.OpenMap("nums")
	require.NoError(t, err)
	for _, k := range []string{"a", "b", "c", "d"} {
		require.NoError(t, m.Put([]byte(k), []byte(k)))
	}

	var seen []string
	err = m.Range([]byte("b"), []byte("c"), func(e Entry) (bool, error) {
		seen = append(seen, string(e.Key))
		return true, nil
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"b", "c"}, seen)
}

func TestBoltStorePutGetRemove(t *testing.T) {
	dir := t.TempDir()
	store, err := OpenBoltStore(filepath.Join(dir, "bolt.db"))
	require.NoError(t, err)
	defer store.Close()

	m, err := store.OpenMap("widgets")
	require.NoError(t, err)
	require.NoError(t, m.Put([]byte("x"), []byte("y")))

	v, ok, err := m.Get([]byte("x"))
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "y", string(v))

	require.NoError(t, m.Remove([]byte("x")))
	_, ok, err = m.Get([]byte("x"))
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestMemStoreHasMapAndMapNames(t *testing.T) {
	dir := t.TempDir()
	store, err := OpenMemStore(filepath.Join(dir, "data.db"), 64, nil)
	require.NoError(t, err)
	defer store.Close()

	_, err = store.OpenMap("alpha")
	require.NoError(t, err)
	_, err = store.OpenMap("beta")
	require.NoError(t, err)

	has, err := store.HasMap("alpha")
	require.NoError(t, err)
	assert.True(t, has)

	names, err := store.MapNames()
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"alpha", "beta"}, names)
}
