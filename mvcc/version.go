// Package mvcc keeps per-document version chains so long-lived cursors
// read a stable view of a collection while writers proceed. A cursor
// begins a snapshot at a logical timestamp; every write after that
// timestamp is invisible to it. Versions are garbage-collected once no
// active snapshot can see them.
package mvcc

import (
	"sync/atomic"
	"time"
)

// Timestamp is a logical, monotonically increasing point in time.
type Timestamp uint64

// Version is one historical state of a document, newest first in its
// chain. Data holds the serialized document; Deleted marks a tombstone
// written by a remove.
type Version struct {
	Timestamp Timestamp
	Data      []byte
	Deleted   bool
	Next      *Version
}

// VersionManager allocates timestamps. Seeding from the wall clock keeps
// timestamps roughly meaningful across restarts without requiring
// persistence.
type VersionManager struct {
	current atomic.Uint64
}

// NewVersionManager returns a manager seeded from the current time.
func NewVersionManager() *VersionManager {
	vm := &VersionManager{}
	vm.current.Store(uint64(time.Now().UnixNano()))
	return vm
}

// NewTimestamp allocates the next timestamp.
func (vm *VersionManager) NewTimestamp() Timestamp {
	return Timestamp(vm.current.Add(1))
}

// Current returns the latest allocated timestamp.
func (vm *VersionManager) Current() Timestamp {
	return Timestamp(vm.current.Load())
}

// Prepend links a new version in front of head and returns the new head.
func Prepend(head, v *Version) *Version {
	v.Next = head
	return v
}

// CountVersions returns the chain length, used by tests and GC
// accounting.
func CountVersions(head *Version) int {
	n := 0
	for v := head; v != nil; v = v.Next {
		n++
	}
	return n
}
