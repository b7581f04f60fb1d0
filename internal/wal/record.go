package wal

import (
	"encoding/binary"
	"fmt"
	"hash/crc32"
)

// RecordType tags a WAL entry.
type RecordType byte

const (
	RecordTypeInvalid    RecordType = iota
	RecordTypeInsert                // document put (insert or replace)
	RecordTypeUpdate                // reserved; puts are logged as inserts
	RecordTypeDelete                // document delete
	RecordTypeCommit                // operation commit marker
	RecordTypeAbort                 // operation abort marker
	RecordTypeCheckpoint            // store-flushed checkpoint marker
)

// LSN is a log sequence number; strictly increasing across the whole
// log, never reused across restarts.
type LSN uint64

// Record is a single WAL entry. Data records carry a collection-scoped
// document key and the full serialized document; commit markers carry
// neither and reference their data record through PrevLSN.
type Record struct {
	LSN       LSN
	TxnID     uint64 // operation id (one logged operation per txn)
	Type      RecordType
	Key       []byte // collection-scoped document key
	Value     []byte // serialized document; empty for deletes/markers
	PrevLSN   LSN
	Timestamp int64 // unix nanoseconds
}

// Encoded record layout, big-endian:
//
//	0-3    CRC32 over bytes 4..end
//	4      type
//	5-12   LSN
//	13-20  txn id
//	21-28  prev LSN
//	29-36  timestamp
//	37-40  key length
//	41-44  value length
//	45-    key bytes, then value bytes
const RecordHeaderSize = 45

// Encode renders the record with a leading CRC32 so torn or bit-rotted
// tail records are detectable on replay.
func (r *Record) Encode() ([]byte, error) {
	buf := make([]byte, RecordHeaderSize+len(r.Key)+len(r.Value))

	buf[4] = byte(r.Type)
	binary.BigEndian.PutUint64(buf[5:13], uint64(r.LSN))
	binary.BigEndian.PutUint64(buf[13:21], r.TxnID)
	binary.BigEndian.PutUint64(buf[21:29], uint64(r.PrevLSN))
	binary.BigEndian.PutUint64(buf[29:37], uint64(r.Timestamp))
	binary.BigEndian.PutUint32(buf[37:41], uint32(len(r.Key)))
	binary.BigEndian.PutUint32(buf[41:45], uint32(len(r.Value)))
	copy(buf[RecordHeaderSize:], r.Key)
	copy(buf[RecordHeaderSize+len(r.Key):], r.Value)

	binary.BigEndian.PutUint32(buf[0:4], crc32.ChecksumIEEE(buf[4:]))
	return buf, nil
}

// Decode parses and checksum-verifies an encoded record.
func Decode(data []byte) (*Record, error) {
	if len(data) < RecordHeaderSize {
		return nil, fmt.Errorf("record too short: %d bytes", len(data))
	}
	if stored, actual := binary.BigEndian.Uint32(data[0:4]), crc32.ChecksumIEEE(data[4:]); stored != actual {
		return nil, fmt.Errorf("record checksum mismatch (stored %08x, computed %08x)", stored, actual)
	}

	keyLen := int(binary.BigEndian.Uint32(data[37:41]))
	valLen := int(binary.BigEndian.Uint32(data[41:45]))
	if RecordHeaderSize+keyLen+valLen != len(data) {
		return nil, fmt.Errorf("record length mismatch: header says %d, have %d",
			RecordHeaderSize+keyLen+valLen, len(data))
	}

	r := &Record{
		Type:      RecordType(data[4]),
		LSN:       LSN(binary.BigEndian.Uint64(data[5:13])),
		TxnID:     binary.BigEndian.Uint64(data[13:21]),
		PrevLSN:   LSN(binary.BigEndian.Uint64(data[21:29])),
		Timestamp: int64(binary.BigEndian.Uint64(data[29:37])),
		Key:       make([]byte, keyLen),
		Value:     make([]byte, valLen),
	}
	copy(r.Key, data[RecordHeaderSize:RecordHeaderSize+keyLen])
	copy(r.Value, data[RecordHeaderSize+keyLen:])
	return r, nil
}

// Size returns the encoded length in bytes.
func (r *Record) Size() int {
	return RecordHeaderSize + len(r.Key) + len(r.Value)
}

func (r *Record) String() string {
	return fmt.Sprintf("wal.Record{lsn=%d txn=%d type=%d key=%dB value=%dB}",
		r.LSN, r.TxnID, r.Type, len(r.Key), len(r.Value))
}
