// Package transaction is the internal write coordinator: each collection
// mutation is logged to the write-ahead log and group-committed before
// the in-memory maps change, so a crash mid-operation replays cleanly on
// reopen. The coordinator is scoped to one operation at a time — there is
// no public begin/commit surface and no cross-collection scope.
package transaction

import (
	"bytes"
	"sync"
	"sync/atomic"
	"time"

	"github.com/kartikbazzad/bundoc/dberr"
	"github.com/kartikbazzad/bundoc/internal/wal"
)

// OpKind distinguishes the two mutations the log records.
type OpKind byte

const (
	OpPut OpKind = iota
	OpRemove
)

// Op is one logged collection mutation.
type Op struct {
	Collection string
	ID         string
	Doc        []byte // serialized document; nil for OpRemove
	Kind       OpKind
}

// keySep separates collection name from document id in WAL keys.
// NitriteIds are base32, so a generated id never contains a zero byte.
// Collection names are only checked to be non-empty; decodeKey splits at
// the first zero byte, so a name containing one does not round-trip.
const keySep = 0x00

func encodeKey(collection, id string) []byte {
	buf := make([]byte, 0, len(collection)+1+len(id))
	buf = append(buf, collection...)
	buf = append(buf, keySep)
	return append(buf, id...)
}

func decodeKey(key []byte) (collection, id string, ok bool) {
	i := bytes.IndexByte(key, keySep)
	if i < 0 {
		return "", "", false
	}
	return string(key[:i]), string(key[i+1:]), true
}

// Manager owns the WAL and its group committer. One Manager serves the
// whole database; operations from different collections interleave in
// the log and are told apart by key prefix on replay.
type Manager struct {
	wal       *wal.WAL
	committer *wal.GroupCommitter
	nextTxn   atomic.Uint64
	mu        sync.Mutex
	closed    bool
}

// NewManager opens (or creates) the log under dir.
func NewManager(dir string) (*Manager, error) {
	w, err := wal.NewWAL(dir)
	if err != nil {
		return nil, dberr.New(dberr.IO, "open write-ahead log", err)
	}
	return &Manager{
		wal:       w,
		committer: wal.NewGroupCommitter(w),
	}, nil
}

// Log durably records op: a data record followed by a commit marker,
// then blocks until the group committer has synced the marker. Returns
// the commit marker's LSN.
func (m *Manager) Log(op Op) (wal.LSN, error) {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return 0, dberr.InvalidOperationf("write coordinator is closed")
	}
	m.mu.Unlock()

	txn := m.nextTxn.Add(1)
	now := time.Now().UnixNano()

	recType := wal.RecordTypeInsert
	if op.Kind == OpRemove {
		recType = wal.RecordTypeDelete
	}
	dataLSN, err := m.wal.Append(&wal.Record{
		TxnID:     txn,
		Type:      recType,
		Key:       encodeKey(op.Collection, op.ID),
		Value:     op.Doc,
		Timestamp: now,
	})
	if err != nil {
		return 0, dberr.New(dberr.IO, "append to write-ahead log", err)
	}
	commitLSN, err := m.wal.Append(&wal.Record{
		TxnID:     txn,
		Type:      wal.RecordTypeCommit,
		PrevLSN:   dataLSN,
		Timestamp: now,
	})
	if err != nil {
		return 0, dberr.New(dberr.IO, "append commit marker", err)
	}
	if err := m.committer.Commit(commitLSN); err != nil {
		return 0, dberr.New(dberr.IO, "sync write-ahead log", err)
	}
	return commitLSN, nil
}

// Recover replays every committed mutation in log order. apply receives
// the decoded operation; a nil Doc with remove=true is a deletion.
func (m *Manager) Recover(apply func(collection, id string, doc []byte, remove bool) error) error {
	records, err := wal.NewRecovery(m.wal).Recover()
	if err != nil {
		return dberr.New(dberr.Corruption, "replay write-ahead log", err)
	}
	maxTxn := uint64(0)
	for _, rec := range records {
		collection, id, ok := decodeKey(rec.Key)
		if !ok {
			return dberr.Corruptionf("malformed log key at LSN %d", rec.LSN)
		}
		if rec.TxnID > maxTxn {
			maxTxn = rec.TxnID
		}
		if err := apply(collection, id, rec.Value, rec.Type == wal.RecordTypeDelete); err != nil {
			return err
		}
	}
	// Continue numbering after the replayed operations.
	for {
		cur := m.nextTxn.Load()
		if cur >= maxTxn || m.nextTxn.CompareAndSwap(cur, maxTxn) {
			return nil
		}
	}
}

// Checkpoint marks everything up to now as flushed to the backing store
// and truncates the log behind it. Called after the store commits.
func (m *Manager) Checkpoint() error {
	lsn, err := m.wal.Append(&wal.Record{
		Type:      wal.RecordTypeCheckpoint,
		Timestamp: time.Now().UnixNano(),
	})
	if err != nil {
		return dberr.New(dberr.IO, "append checkpoint", err)
	}
	// Checkpoint syncs route through the process-wide shared flusher so
	// databases checkpointing concurrently batch their fsyncs.
	if err := wal.GetSharedFlusher().Flush(m.wal); err != nil {
		return dberr.New(dberr.IO, "sync checkpoint", err)
	}
	if err := m.wal.Rotate(); err != nil {
		return dberr.New(dberr.IO, "rotate write-ahead log", err)
	}
	if err := m.wal.Truncate(lsn); err != nil {
		return dberr.New(dberr.IO, "truncate write-ahead log", err)
	}
	return nil
}

// Close stops the group committer and closes the log. Idempotent.
func (m *Manager) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return nil
	}
	m.closed = true
	m.committer.Stop()
	return m.wal.Close()
}
