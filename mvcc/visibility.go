package mvcc

// Visible reports whether v was committed at or before the snapshot's
// timestamp. There is no uncommitted state to consider: writers hold the
// collection write lock, so a version reaching the chain is committed by
// construction.
func (s *Snapshot) Visible(v *Version) bool {
	return v.Timestamp <= s.Timestamp
}

// VisibleVersion walks a chain newest-first and returns the first
// version visible to s, or nil when the document did not exist at the
// snapshot's timestamp.
func (s *Snapshot) VisibleVersion(head *Version) *Version {
	for v := head; v != nil; v = v.Next {
		if s.Visible(v) {
			return v
		}
	}
	return nil
}

// GarbageCollect prunes versions no active snapshot can reach: the
// newest version at or below oldestActive is kept (it is what the oldest
// reader sees), everything older is dropped. Returns the possibly
// shortened head.
func GarbageCollect(head *Version, oldestActive Timestamp) *Version {
	if head == nil {
		return nil
	}
	v := head
	for v.Next != nil {
		if v.Timestamp <= oldestActive {
			// v is already visible to the oldest reader; nothing older
			// can ever be needed.
			v.Next = nil
			break
		}
		v = v.Next
	}
	return head
}
