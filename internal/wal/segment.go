package wal

import (
	"encoding/binary"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"

	"github.com/kartikbazzad/bundoc/internal/util"
)

// SegmentID numbers the log's segment files in creation order.
type SegmentID uint64

// DefaultSegmentSize caps one segment file; the WAL rotates to a fresh
// segment when the active one reaches it.
const DefaultSegmentSize = 64 * 1024 * 1024

// maxRecordSize bounds a single record on read, so one corrupted length
// prefix cannot make replay try to allocate gigabytes.
const maxRecordSize = 10 * 1024 * 1024

func segmentPath(dir string, id SegmentID) string {
	return filepath.Join(dir, fmt.Sprintf("wal-%016x.log", id))
}

// Segment is one append-only log file. Records are written as a 4-byte
// length prefix followed by the encoded record.
type Segment struct {
	ID SegmentID

	mu       sync.RWMutex
	file     *os.File
	size     int64
	maxSize  int64
	startLSN LSN
	endLSN   LSN
}

// NewSegment creates (or reopens for append) the segment file for id.
func NewSegment(dir string, id SegmentID, startLSN LSN) (*Segment, error) {
	file, err := os.OpenFile(segmentPath(dir, id), os.O_RDWR|os.O_CREATE|os.O_APPEND, 0o644)
	if err != nil {
		return nil, fmt.Errorf("failed to create WAL segment: %w", err)
	}
	info, err := file.Stat()
	if err != nil {
		file.Close()
		return nil, fmt.Errorf("failed to stat WAL segment: %w", err)
	}
	return &Segment{
		ID:       id,
		file:     file,
		size:     info.Size(),
		maxSize:  DefaultSegmentSize,
		startLSN: startLSN,
		endLSN:   startLSN,
	}, nil
}

// OpenSegment opens an existing sealed segment for reading.
func OpenSegment(dir string, id SegmentID) (*Segment, error) {
	file, err := os.OpenFile(segmentPath(dir, id), os.O_RDWR|os.O_APPEND, 0o644)
	if err != nil {
		return nil, fmt.Errorf("failed to open WAL segment: %w", err)
	}
	info, err := file.Stat()
	if err != nil {
		file.Close()
		return nil, fmt.Errorf("failed to stat WAL segment: %w", err)
	}
	return &Segment{
		ID:      id,
		file:    file,
		size:    info.Size(),
		maxSize: DefaultSegmentSize,
	}, nil
}

// Write appends one length-prefixed record.
func (s *Segment) Write(record *Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	data, err := record.Encode()
	if err != nil {
		return err
	}
	frame := make([]byte, 4+len(data))
	binary.BigEndian.PutUint32(frame[:4], uint32(len(data)))
	copy(frame[4:], data)

	if _, err := s.file.Write(frame); err != nil {
		return fmt.Errorf("%w: %v", util.ErrDiskWriteFailed, err)
	}
	s.size += int64(len(frame))
	s.endLSN = record.LSN
	return nil
}

// Sync flushes the segment file to stable storage.
func (s *Segment) Sync() error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if err := s.file.Sync(); err != nil {
		return fmt.Errorf("%w: %v", util.ErrDiskWriteFailed, err)
	}
	return nil
}

// IsFull reports whether the segment has reached its size cap.
func (s *Segment) IsFull() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.size >= s.maxSize
}

// Size returns the segment's current byte size.
func (s *Segment) Size() int64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.size
}

// Close syncs and closes the file.
func (s *Segment) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.file == nil {
		return nil
	}
	if err := s.file.Sync(); err != nil {
		return err
	}
	err := s.file.Close()
	s.file = nil
	return err
}

// ReadRecords decodes every record in the segment, in append order.
func (s *Segment) ReadRecords() ([]*Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if _, err := s.file.Seek(0, io.SeekStart); err != nil {
		return nil, fmt.Errorf("%w: %v", util.ErrDiskReadFailed, err)
	}

	var records []*Record
	var lenBuf [4]byte
	for {
		n, err := io.ReadFull(s.file, lenBuf[:])
		if err == io.EOF {
			return records, nil
		}
		if err != nil || n != 4 {
			return nil, fmt.Errorf("%w: incomplete length header", util.ErrWALCorrupt)
		}
		frameLen := int(binary.BigEndian.Uint32(lenBuf[:]))
		if frameLen == 0 || frameLen > maxRecordSize {
			return nil, fmt.Errorf("%w: invalid record length %d", util.ErrWALCorrupt, frameLen)
		}
		data := make([]byte, frameLen)
		if _, err := io.ReadFull(s.file, data); err != nil {
			return nil, fmt.Errorf("%w: incomplete record data", util.ErrWALCorrupt)
		}
		record, err := Decode(data)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", util.ErrWALCorrupt, err)
		}
		records = append(records, record)
	}
}

// GetPath returns the segment file's path.
func (s *Segment) GetPath() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.file == nil {
		return ""
	}
	return s.file.Name()
}
