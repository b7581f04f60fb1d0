package wal

import (
	"errors"
	"sync"
	"time"
)

// ErrCommitterStopped is returned for commits submitted after Stop.
var ErrCommitterStopped = errors.New("wal: group committer stopped")

// commitWaiter is one writer parked until its LSN is synced.
type commitWaiter struct {
	lsn  LSN
	done chan error
}

// GroupCommitter amortizes fsync cost: writers hand their commit LSN to
// a single background goroutine, which batches whatever has queued up
// and answers the whole batch with one WAL.Sync. Under serial load a
// batch is just one writer and the sync happens immediately; under
// bursts the batch grows and the per-operation sync cost collapses.
type GroupCommitter struct {
	wal     *WAL
	incoming chan *commitWaiter

	batchLimit int
	maxWait    time.Duration

	mu      sync.Mutex
	stopped bool
	quit    chan struct{}
	wg      sync.WaitGroup
}

// NewGroupCommitter starts the background committer for w.
func NewGroupCommitter(w *WAL) *GroupCommitter {
	gc := &GroupCommitter{
		wal:        w,
		incoming:   make(chan *commitWaiter, 1024),
		batchLimit: 128,
		maxWait:    10 * time.Millisecond,
		quit:       make(chan struct{}),
	}
	gc.wg.Add(1)
	go gc.loop()
	return gc
}

// Commit blocks until everything up to lsn is durable (or the committer
// is stopped).
func (gc *GroupCommitter) Commit(lsn LSN) error {
	gc.mu.Lock()
	stopped := gc.stopped
	gc.mu.Unlock()
	if stopped {
		return ErrCommitterStopped
	}

	w := &commitWaiter{lsn: lsn, done: make(chan error, 1)}
	select {
	case gc.incoming <- w:
	case <-gc.quit:
		return ErrCommitterStopped
	}
	return <-w.done
}

func (gc *GroupCommitter) loop() {
	defer gc.wg.Done()

	var batch []*commitWaiter
	timer := time.NewTimer(gc.maxWait)
	defer timer.Stop()

	flush := func() {
		if len(batch) == 0 {
			return
		}
		err := gc.wal.Sync()
		for _, w := range batch {
			w.done <- err
		}
		batch = batch[:0]
	}

	for {
		select {
		case w := <-gc.incoming:
			batch = append(batch, w)
			// Flush when the batch fills, or immediately when no more
			// writers are queued — serial callers should not eat the
			// full batching delay.
			if len(batch) >= gc.batchLimit || len(gc.incoming) == 0 {
				flush()
				timer.Reset(gc.maxWait)
			}
		case <-timer.C:
			flush()
			timer.Reset(gc.maxWait)
		case <-gc.quit:
			flush()
			return
		}
	}
}

// Stop drains the current batch and shuts the committer down.
// Idempotent.
func (gc *GroupCommitter) Stop() {
	gc.mu.Lock()
	if gc.stopped {
		gc.mu.Unlock()
		return
	}
	gc.stopped = true
	gc.mu.Unlock()

	close(gc.quit)
	gc.wg.Wait()
}
