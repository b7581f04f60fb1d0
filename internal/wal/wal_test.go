package wal

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func appendOp(t *testing.T, w *WAL, txn uint64, key string) LSN {
	t.Helper()
	lsn, err := w.Append(&Record{
		TxnID:     txn,
		Type:      RecordTypeInsert,
		Key:       []byte(key),
		Value:     []byte("v"),
		Timestamp: time.Now().UnixNano(),
	})
	require.NoError(t, err)
	return lsn
}

func commitOp(t *testing.T, w *WAL, txn uint64, dataLSN LSN) LSN {
	t.Helper()
	lsn, err := w.Append(&Record{TxnID: txn, Type: RecordTypeCommit, PrevLSN: dataLSN})
	require.NoError(t, err)
	return lsn
}

func TestSegmentWriteRead(t *testing.T) {
	dir := t.TempDir()
	seg, err := NewSegment(dir, 0, 1)
	require.NoError(t, err)

	for i := 1; i <= 3; i++ {
		require.NoError(t, seg.Write(&Record{LSN: LSN(i), TxnID: uint64(i), Type: RecordTypeInsert, Key: []byte("k")}))
	}
	require.NoError(t, seg.Sync())

	records, err := seg.ReadRecords()
	require.NoError(t, err)
	require.Len(t, records, 3)
	assert.Equal(t, LSN(1), records[0].LSN)
	assert.Equal(t, LSN(3), records[2].LSN)
	require.NoError(t, seg.Close())

	reopened, err := OpenSegment(dir, 0)
	require.NoError(t, err)
	defer reopened.Close()
	records, err = reopened.ReadRecords()
	require.NoError(t, err)
	assert.Len(t, records, 3)
}

func TestAppendAssignsIncreasingLSNs(t *testing.T) {
	w, err := NewWAL(t.TempDir())
	require.NoError(t, err)
	defer w.Close()

	a := appendOp(t, w, 1, "orders\x00a")
	b := appendOp(t, w, 2, "orders\x00b")
	assert.Greater(t, uint64(b), uint64(a))
	assert.GreaterOrEqual(t, uint64(w.GetCurrentLSN()), uint64(b))
}

func TestRecoveryKeepsOnlyCommittedOperations(t *testing.T) {
	dir := t.TempDir()
	w, err := NewWAL(dir)
	require.NoError(t, err)

	d1 := appendOp(t, w, 1, "c\x00committed")
	commitOp(t, w, 1, d1)
	appendOp(t, w, 2, "c\x00torn") // no commit marker: lost mid-crash
	require.NoError(t, w.Sync())
	require.NoError(t, w.Close())

	w2, err := NewWAL(dir)
	require.NoError(t, err)
	defer w2.Close()

	records, err := NewRecovery(w2).Recover()
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, []byte("c\x00committed"), records[0].Key)
}

func TestReopenResumesLSNNumbering(t *testing.T) {
	dir := t.TempDir()
	w, err := NewWAL(dir)
	require.NoError(t, err)
	last := appendOp(t, w, 1, "x")
	require.NoError(t, w.Close())

	w2, err := NewWAL(dir)
	require.NoError(t, err)
	defer w2.Close()
	next := appendOp(t, w2, 2, "y")
	assert.Greater(t, uint64(next), uint64(last), "LSNs must not collide across restarts")

	require.NoError(t, NewRecovery(w2).VerifyIntegrity())
}

func TestRotateAndTruncate(t *testing.T) {
	dir := t.TempDir()
	w, err := NewWAL(dir)
	require.NoError(t, err)
	defer w.Close()

	d := appendOp(t, w, 1, "k")
	cl := commitOp(t, w, 1, d)
	require.NoError(t, w.Sync())
	require.NoError(t, w.Rotate())
	require.NoError(t, w.Truncate(cl))

	records, err := w.ReadAllRecords()
	require.NoError(t, err)
	assert.Empty(t, records, "truncated segments must not replay")
}
