package fts

import (
	"path/filepath"
	"testing"

	"github.com/kartikbazzad/bundoc/index"
	"github.com/kartikbazzad/bundoc/kv"
	"github.com/kartikbazzad/bundoc/value"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newStore(t *testing.T) kv.Store {
	t.Helper()
	s, err := kv.OpenMemStore(filepath.Join(t.TempDir(), "data.db"), 64, nil)
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func TestFTSMatchesAndPhrase(t *testing.T) {
	store := newStore(t)
	idx := Indexer{}
	desc := index.NewDescriptor(index.FullText, []string{"content"}, "articles")
	require.NoError(t, idx.ValidateIndex(desc.Fields))

	docs := map[string]string{
		"1": "the quick brown fox",
		"2": "quick and the dead",
		"3": "a very quick brown rabbit",
	}
	for id, text := range docs {
		fv := index.FieldValues{ID: id, Values: []index.FieldValue{{Field: "content", Value: value.String(text)}}}
		require.NoError(t, idx.WriteIndexEntry(store, desc, fv))
	}

	matches, err := idx.Matches(store, desc, "quick")
	require.NoError(t, err)
	assert.Len(t, matches, 3)

	matches, err = idx.Matches(store, desc, "hello")
	require.NoError(t, err)
	assert.Len(t, matches, 0)

	phraseCandidates, err := idx.Phrase(store, desc, "quick brown")
	require.NoError(t, err)
	var confirmed int
	for _, id := range phraseCandidates {
		if MatchesPhrase(docs[id], "quick brown") {
			confirmed++
		}
	}
	assert.Equal(t, 2, confirmed)

	phraseCandidates, err = idx.Phrase(store, desc, "the quick")
	require.NoError(t, err)
	confirmed = 0
	for _, id := range phraseCandidates {
		if MatchesPhrase(docs[id], "the quick") {
			confirmed++
		}
	}
	assert.Equal(t, 1, confirmed)
}

func TestFTSRemoveIndexEntry(t *testing.T) {
	store := newStore(t)
	idx := Indexer{}
	desc := index.NewDescriptor(index.FullText, []string{"content"}, "articles")

	fv := index.FieldValues{ID: "1", Values: []index.FieldValue{{Field: "content", Value: value.String("hello world")}}}
	require.NoError(t, idx.WriteIndexEntry(store, desc, fv))
	require.NoError(t, idx.RemoveIndexEntry(store, desc, fv))

	matches, err := idx.Matches(store, desc, "hello")
	require.NoError(t, err)
	assert.Empty(t, matches)
}

func TestValidateIndexRejectsMultiField(t *testing.T) {
	idx := Indexer{}
	err := idx.ValidateIndex([]string{"a", "b"})
	assert.Error(t, err)
}
