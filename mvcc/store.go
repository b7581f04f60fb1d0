package mvcc

import "sync"

// Store is the per-collection version store: document id → version
// chain. A collection records every committed write here; cursors hold a
// Snapshot and resolve reads through VisibleDoc, falling back to the
// primary map for documents never touched since the store was created.
type Store struct {
	vm *VersionManager
	sm *SnapshotManager

	mu     sync.RWMutex
	chains map[string]*Version
}

// NewStore returns an empty version store with its own timestamp
// allocator.
func NewStore() *Store {
	vm := NewVersionManager()
	return &Store{
		vm:     vm,
		sm:     NewSnapshotManager(vm),
		chains: make(map[string]*Version),
	}
}

// Begin opens a snapshot for a cursor.
func (s *Store) Begin() *Snapshot { return s.sm.Begin() }

// Release retires a cursor's snapshot and opportunistically collects
// garbage made unreachable by its departure.
func (s *Store) Release(snap *Snapshot) {
	s.sm.Release(snap)
	s.Collect()
}

// Record notes a committed change to id. prev is the serialized document
// before the change (nil on insert); next is the document after it (nil
// on remove). When this is the first recorded change for id, the
// pre-image is seeded at timestamp zero so snapshots opened before the
// change still see it.
func (s *Store) Record(id string, prev, next []byte) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.chains[id] == nil && prev != nil {
		s.chains[id] = &Version{Data: prev}
	}
	v := &Version{Timestamp: s.vm.NewTimestamp()}
	if next == nil {
		v.Deleted = true
	} else {
		v.Data = next
	}
	s.chains[id] = Prepend(s.chains[id], v)
}

// VisibleDoc resolves id under snap. tracked is false when the store has
// no chain for id — the document has not changed since the store was
// created, so the caller should read the primary map. When tracked,
// data is nil iff the document did not exist (or was deleted) at the
// snapshot's timestamp.
func (s *Store) VisibleDoc(id string, snap *Snapshot) (data []byte, tracked bool) {
	s.mu.RLock()
	head, ok := s.chains[id]
	s.mu.RUnlock()
	if !ok {
		return nil, false
	}
	v := snap.VisibleVersion(head)
	if v == nil || v.Deleted {
		return nil, true
	}
	return v.Data, true
}

// Collect prunes every chain to what active snapshots can still see.
// With no snapshot open, chains carry no information beyond the primary
// map and are dropped entirely.
func (s *Store) Collect() {
	oldest := s.sm.OldestActive()
	idle := s.sm.ActiveCount() == 0
	s.mu.Lock()
	defer s.mu.Unlock()
	if idle {
		s.chains = make(map[string]*Version)
		return
	}
	for id, head := range s.chains {
		s.chains[id] = GarbageCollect(head, oldest)
	}
}

// Len reports how many documents have live version chains.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.chains)
}
