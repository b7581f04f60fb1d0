package mvcc

import "sync"

// Snapshot is a read view frozen at a timestamp: versions written at or
// before it are visible, later ones are not.
type Snapshot struct {
	Timestamp Timestamp
}

// SnapshotManager tracks which snapshots are active so garbage
// collection knows the oldest version any reader can still need.
type SnapshotManager struct {
	versionMgr *VersionManager
	mu         sync.Mutex
	active     map[Timestamp]int // refcount per timestamp
}

// NewSnapshotManager returns a manager allocating snapshots from vm.
func NewSnapshotManager(vm *VersionManager) *SnapshotManager {
	return &SnapshotManager{
		versionMgr: vm,
		active:     make(map[Timestamp]int),
	}
}

// Begin opens a snapshot at the current timestamp. The caller must
// Release it when its cursor is done.
func (sm *SnapshotManager) Begin() *Snapshot {
	sm.mu.Lock()
	defer sm.mu.Unlock()
	ts := sm.versionMgr.Current()
	sm.active[ts]++
	return &Snapshot{Timestamp: ts}
}

// Release retires a snapshot. Releasing an already-released snapshot is
// a no-op.
func (sm *SnapshotManager) Release(s *Snapshot) {
	if s == nil {
		return
	}
	sm.mu.Lock()
	defer sm.mu.Unlock()
	if n, ok := sm.active[s.Timestamp]; ok {
		if n <= 1 {
			delete(sm.active, s.Timestamp)
		} else {
			sm.active[s.Timestamp] = n - 1
		}
	}
}

// OldestActive returns the oldest timestamp any active snapshot holds,
// or the current timestamp when no snapshot is open — everything older
// is collectible.
func (sm *SnapshotManager) OldestActive() Timestamp {
	sm.mu.Lock()
	defer sm.mu.Unlock()
	if len(sm.active) == 0 {
		return sm.versionMgr.Current()
	}
	oldest := Timestamp(^uint64(0))
	for ts := range sm.active {
		if ts < oldest {
			oldest = ts
		}
	}
	return oldest
}

// ActiveCount reports how many snapshots are open.
func (sm *SnapshotManager) ActiveCount() int {
	sm.mu.Lock()
	defer sm.mu.Unlock()
	n := 0
	for _, c := range sm.active {
		n += c
	}
	return n
}
