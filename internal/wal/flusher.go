package wal

import (
	"sync"
	"time"
)

// flushWaiter is one sync request against a specific WAL.
type flushWaiter struct {
	wal  *WAL
	done chan error
}

// SharedFlusher batches sync requests from every WAL in the process into
// fewer fsyncs. Per-operation commits go through each WAL's own
// GroupCommitter; the shared flusher serves cross-database sync points
// (checkpoints), where several refcounted databases may flush at once.
// Each distinct WAL in a batch is synced once, regardless of how many
// requests targeted it.
type SharedFlusher struct {
	incoming chan *flushWaiter
	maxWait  time.Duration
	quit     chan struct{}
	wg       sync.WaitGroup
}

var (
	sharedFlusherOnce sync.Once
	sharedFlusher     *SharedFlusher
)

// GetSharedFlusher returns the process-wide flusher, starting it on
// first use.
func GetSharedFlusher() *SharedFlusher {
	sharedFlusherOnce.Do(func() {
		sharedFlusher = &SharedFlusher{
			incoming: make(chan *flushWaiter, 256),
			maxWait:  5 * time.Millisecond,
			quit:     make(chan struct{}),
		}
		sharedFlusher.wg.Add(1)
		go sharedFlusher.loop()
	})
	return sharedFlusher
}

// Flush blocks until w has been synced.
func (sf *SharedFlusher) Flush(w *WAL) error {
	req := &flushWaiter{wal: w, done: make(chan error, 1)}
	select {
	case sf.incoming <- req:
	case <-sf.quit:
		// Flusher shut down (process exit path): sync directly.
		return w.Sync()
	}
	return <-req.done
}

func (sf *SharedFlusher) loop() {
	defer sf.wg.Done()

	var batch []*flushWaiter
	timer := time.NewTimer(sf.maxWait)
	defer timer.Stop()

	flush := func() {
		if len(batch) == 0 {
			return
		}
		// One sync per distinct WAL in the batch.
		errs := make(map[*WAL]error)
		for _, req := range batch {
			if _, done := errs[req.wal]; !done {
				errs[req.wal] = req.wal.Sync()
			}
		}
		for _, req := range batch {
			req.done <- errs[req.wal]
		}
		batch = batch[:0]
	}

	for {
		select {
		case req := <-sf.incoming:
			batch = append(batch, req)
			if len(sf.incoming) == 0 {
				flush()
				timer.Reset(sf.maxWait)
			}
		case <-timer.C:
			flush()
			timer.Reset(sf.maxWait)
		case <-sf.quit:
			flush()
			return
		}
	}
}

// Stop shuts the flusher down; later Flush calls fall back to direct
// syncs. Only tests call this — the production flusher lives for the
// process.
func (sf *SharedFlusher) Stop() {
	select {
	case <-sf.quit:
		return
	default:
	}
	close(sf.quit)
	sf.wg.Wait()
}
