package mvcc

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTimestampsMonotonic(t *testing.T) {
	vm := NewVersionManager()
	a := vm.NewTimestamp()
	b := vm.NewTimestamp()
	assert.Greater(t, uint64(b), uint64(a))
	assert.Equal(t, b, vm.Current())
}

func TestSnapshotSeesOnlyPriorVersions(t *testing.T) {
	s := NewStore()
	s.Record("doc", nil, []byte("v1"))

	snap := s.Begin()
	defer s.Release(snap)

	s.Record("doc", []byte("v1"), []byte("v2"))

	data, tracked := s.VisibleDoc("doc", snap)
	require.True(t, tracked)
	assert.Equal(t, []byte("v1"), data)

	later := s.Begin()
	defer s.Release(later)
	data, tracked = s.VisibleDoc("doc", later)
	require.True(t, tracked)
	assert.Equal(t, []byte("v2"), data)
}

func TestSnapshotBeforeInsertSeesNothing(t *testing.T) {
	s := NewStore()
	snap := s.Begin()
	defer s.Release(snap)

	s.Record("doc", nil, []byte("v1"))

	data, tracked := s.VisibleDoc("doc", snap)
	require.True(t, tracked)
	assert.Nil(t, data, "document inserted after the snapshot must be invisible")
}

func TestPreImageSeededForUntrackedUpdate(t *testing.T) {
	// Simulates a document loaded from disk: the store has never seen it
	// when a cursor opens, then it gets updated.
	s := NewStore()
	snap := s.Begin()
	defer s.Release(snap)

	s.Record("doc", []byte("old"), []byte("new"))

	data, tracked := s.VisibleDoc("doc", snap)
	require.True(t, tracked)
	assert.Equal(t, []byte("old"), data)
}

func TestDeleteVisibility(t *testing.T) {
	s := NewStore()
	s.Record("doc", nil, []byte("v1"))

	snap := s.Begin()
	s.Record("doc", []byte("v1"), nil) // remove

	data, tracked := s.VisibleDoc("doc", snap)
	require.True(t, tracked)
	assert.Equal(t, []byte("v1"), data, "snapshot predates the delete")

	after := s.Begin()
	data, tracked = s.VisibleDoc("doc", after)
	require.True(t, tracked)
	assert.Nil(t, data)

	s.Release(snap)
	s.Release(after)
}

func TestUntrackedFallsBackToPrimary(t *testing.T) {
	s := NewStore()
	snap := s.Begin()
	defer s.Release(snap)

	_, tracked := s.VisibleDoc("never-written", snap)
	assert.False(t, tracked)
}

func TestCollectDropsChainsWhenIdle(t *testing.T) {
	s := NewStore()
	s.Record("a", nil, []byte("1"))
	s.Record("a", []byte("1"), []byte("2"))
	s.Record("b", nil, []byte("1"))
	require.Equal(t, 2, s.Len())

	s.Collect()
	assert.Equal(t, 0, s.Len())
}

func TestCollectKeepsVisibleVersions(t *testing.T) {
	s := NewStore()
	s.Record("a", nil, []byte("1"))
	snap := s.Begin()
	s.Record("a", []byte("1"), []byte("2"))
	s.Record("a", []byte("2"), []byte("3"))

	s.Collect()
	data, tracked := s.VisibleDoc("a", snap)
	require.True(t, tracked)
	assert.Equal(t, []byte("1"), data, "GC must not drop the version the open snapshot reads")
	s.Release(snap)
}

func TestGarbageCollectChainPruning(t *testing.T) {
	var head *Version
	for i := 1; i <= 5; i++ {
		head = Prepend(head, &Version{Timestamp: Timestamp(i), Data: []byte{byte(i)}})
	}
	require.Equal(t, 5, CountVersions(head))

	head = GarbageCollect(head, 3)
	// 5, 4, and 3 survive: 3 is the newest version at or below the oldest
	// active snapshot.
	assert.Equal(t, 3, CountVersions(head))
}
