package wal

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGroupCommitterSerial(t *testing.T) {
	w, err := NewWAL(t.TempDir())
	require.NoError(t, err)
	defer w.Close()
	gc := NewGroupCommitter(w)
	defer gc.Stop()

	lsn, err := w.Append(&Record{TxnID: 1, Type: RecordTypeInsert, Key: []byte("orders\x00k"), Value: []byte("v")})
	require.NoError(t, err)
	require.NoError(t, gc.Commit(lsn))

	records, err := w.ReadAllRecords()
	require.NoError(t, err)
	assert.Len(t, records, 1)
}

func TestGroupCommitterConcurrent(t *testing.T) {
	w, err := NewWAL(t.TempDir())
	require.NoError(t, err)
	defer w.Close()
	gc := NewGroupCommitter(w)
	defer gc.Stop()

	const writers = 20
	const perWriter = 25
	var wg sync.WaitGroup
	wg.Add(writers)
	for i := 0; i < writers; i++ {
		go func(id int) {
			defer wg.Done()
			for j := 0; j < perWriter; j++ {
				lsn, err := w.Append(&Record{
					TxnID:     uint64(id*1000 + j),
					Type:      RecordTypeInsert,
					Key:       []byte("k"),
					Value:     []byte("v"),
					Timestamp: time.Now().UnixNano(),
				})
				if err != nil {
					t.Errorf("append: %v", err)
					return
				}
				if err := gc.Commit(lsn); err != nil {
					t.Errorf("commit: %v", err)
					return
				}
			}
		}(i)
	}
	wg.Wait()

	records, err := w.ReadAllRecords()
	require.NoError(t, err)
	assert.Len(t, records, writers*perWriter)
}

func TestGroupCommitterStop(t *testing.T) {
	w, err := NewWAL(t.TempDir())
	require.NoError(t, err)
	defer w.Close()
	gc := NewGroupCommitter(w)
	gc.Stop()
	gc.Stop() // idempotent
	assert.ErrorIs(t, gc.Commit(1), ErrCommitterStopped)
}

func TestSharedFlusherServesMultipleWALs(t *testing.T) {
	dir := t.TempDir()
	w1, err := NewWAL(dir + "/a")
	require.NoError(t, err)
	defer w1.Close()
	w2, err := NewWAL(dir + "/b")
	require.NoError(t, err)
	defer w2.Close()

	_, err = w1.Append(&Record{TxnID: 1, Type: RecordTypeInsert, Key: []byte("k")})
	require.NoError(t, err)
	_, err = w2.Append(&Record{TxnID: 1, Type: RecordTypeInsert, Key: []byte("k")})
	require.NoError(t, err)

	sf := GetSharedFlusher()
	var wg sync.WaitGroup
	for _, w := range []*WAL{w1, w2, w1} {
		wg.Add(1)
		go func(w *WAL) {
			defer wg.Done()
			assert.NoError(t, sf.Flush(w))
		}(w)
	}
	wg.Wait()
}
