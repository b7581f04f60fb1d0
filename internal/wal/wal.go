// Package wal implements the write-ahead log behind the internal write
// coordinator: every collection mutation is appended and synced here
// before the in-memory maps change, so a crash replays cleanly.
//
// Layout: the log is a directory of numbered segment files, each a
// sequence of length-prefixed, checksummed records. The active segment
// rotates when full (or at a checkpoint); sealed segments whose records
// have all been checkpointed into the store are deleted by Truncate.
package wal

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
)

// WAL manages the segment files and hands out strictly increasing LSNs.
type WAL struct {
	dir            string
	currentSegment *Segment
	currentLSN     atomic.Uint64
	nextSegmentID  SegmentID
	mu             sync.RWMutex
}

// NewWAL opens the Write-Ahead Log in dir. An existing log is left in
// place for recovery; new appends go to a fresh segment numbered and
// sequenced after everything already on disk, so LSNs never collide
// across restarts.
func NewWAL(dir string) (*WAL, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create WAL directory: %w", err)
	}

	var maxSegID int64 = -1
	var maxLSN uint64 = 1
	files, err := filepath.Glob(filepath.Join(dir, "wal-*.log"))
	if err != nil {
		return nil, fmt.Errorf("failed to list WAL files: %w", err)
	}
	for _, file := range files {
		var segID uint64
		if _, err := fmt.Sscanf(filepath.Base(file), "wal-%016x.log", &segID); err != nil {
			continue
		}
		if int64(segID) > maxSegID {
			maxSegID = int64(segID)
		}
		segment, err := OpenSegment(dir, SegmentID(segID))
		if err != nil {
			continue
		}
		records, err := segment.ReadRecords()
		segment.Close()
		if err != nil {
			continue
		}
		for _, rec := range records {
			if uint64(rec.LSN) > maxLSN {
				maxLSN = uint64(rec.LSN)
			}
		}
	}

	segID := SegmentID(maxSegID + 1)
	segment, err := NewSegment(dir, segID, LSN(maxLSN+1))
	if err != nil {
		return nil, err
	}

	wal := &WAL{
		dir:            dir,
		currentSegment: segment,
		nextSegmentID:  segID + 1,
	}
	wal.currentLSN.Store(maxLSN)

	return wal, nil
}

// Append assigns the next LSN to record and writes it to the active
// segment, rotating first if the segment is full. The record is buffered
// by the OS until a Sync (via the group committer or shared flusher).
func (w *WAL) Append(record *Record) (LSN, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.currentSegment == nil {
		return 0, fmt.Errorf("wal: closed")
	}
	record.LSN = LSN(w.currentLSN.Add(1))
	if w.currentSegment.IsFull() {
		if err := w.rotateSegment(); err != nil {
			return 0, err
		}
	}
	if err := w.currentSegment.Write(record); err != nil {
		return 0, err
	}
	return record.LSN, nil
}

// Sync flushes the active segment to stable storage.
func (w *WAL) Sync() error {
	w.mu.RLock()
	defer w.mu.RUnlock()
	if w.currentSegment == nil {
		return nil
	}
	return w.currentSegment.Sync()
}

// rotateSegment seals the active segment and opens the next one.
// Callers hold w.mu.
func (w *WAL) rotateSegment() error {
	if err := w.currentSegment.Close(); err != nil {
		return err
	}
	next, err := NewSegment(w.dir, w.nextSegmentID, LSN(w.currentLSN.Load()+1))
	if err != nil {
		return err
	}
	w.currentSegment = next
	w.nextSegmentID++
	return nil
}

// GetCurrentLSN returns the most recently assigned LSN.
func (w *WAL) GetCurrentLSN() LSN {
	return LSN(w.currentLSN.Load())
}

// ReadAllRecords decodes every record across every segment, in segment
// then append order (segment file names sort by id).
func (w *WAL) ReadAllRecords() ([]*Record, error) {
	w.mu.RLock()
	defer w.mu.RUnlock()

	files, err := filepath.Glob(filepath.Join(w.dir, "wal-*.log"))
	if err != nil {
		return nil, fmt.Errorf("failed to list WAL files: %w", err)
	}

	var all []*Record
	for _, file := range files {
		var segID uint64
		if _, err := fmt.Sscanf(filepath.Base(file), "wal-%016x.log", &segID); err != nil {
			continue
		}
		segment, err := OpenSegment(w.dir, SegmentID(segID))
		if err != nil {
			return nil, err
		}
		records, err := segment.ReadRecords()
		segment.Close()
		if err != nil {
			return nil, err
		}
		all = append(all, records...)
	}
	return all, nil
}

// Rotate closes the active segment and starts a fresh one, so Truncate
// can reclaim everything logged before the rotation point.
func (w *WAL) Rotate() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.currentSegment == nil {
		return fmt.Errorf("wal: closed")
	}
	return w.rotateSegment()
}

// Truncate deletes every sealed segment whose records all have LSN at or
// below upToLSN. The active segment is never touched; callers that want
// a clean cut call Rotate first.
func (w *WAL) Truncate(upToLSN LSN) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	files, err := filepath.Glob(filepath.Join(w.dir, "wal-*.log"))
	if err != nil {
		return fmt.Errorf("failed to list WAL files: %w", err)
	}

	for _, file := range files {
		var segID uint64
		if _, err := fmt.Sscanf(filepath.Base(file), "wal-%016x.log", &segID); err != nil {
			continue
		}
		if w.currentSegment != nil && SegmentID(segID) == w.currentSegment.ID {
			continue
		}

		segment, err := OpenSegment(w.dir, SegmentID(segID))
		if err != nil {
			continue
		}
		records, err := segment.ReadRecords()
		segment.Close()
		if err != nil {
			continue
		}

		deletable := true
		for _, rec := range records {
			if rec.LSN > upToLSN {
				deletable = false
				break
			}
		}
		if deletable {
			if err := os.Remove(file); err != nil {
				return fmt.Errorf("failed to remove sealed segment %s: %w", file, err)
			}
		}
	}

	return nil
}

// Close seals the active segment. Idempotent.
func (w *WAL) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.currentSegment == nil {
		return nil
	}
	err := w.currentSegment.Close()
	w.currentSegment = nil
	return err
}

