package value

import (
	"encoding/base32"
	"encoding/binary"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
)

// idEncoding is unpadded base32 so ids are URL-safe and sort the same way
// as their underlying bytes (the extended-hex alphabet 0-9A-V is in
// ascending ASCII order, unlike the standard A-Z2-7 charset).
var idEncoding = base32.HexEncoding.WithPadding(base32.NoPadding)

var idCounter uint32

// NewNitriteID returns a new totally-ordered, collision-resistant document
// id: 8 bytes of millisecond timestamp, 4 bytes of a process-local atomic
// counter, and 4 bytes of randomness, base32-encoded. Ids generated later
// sort after ids generated earlier, to the resolution of the counter.
func NewNitriteID() string {
	var buf [16]byte
	binary.BigEndian.PutUint64(buf[0:8], uint64(time.Now().UnixMilli()))
	binary.BigEndian.PutUint32(buf[8:12], atomic.AddUint32(&idCounter, 1))
	u := uuid.New()
	copy(buf[12:16], u[:4])
	return idEncoding.EncodeToString(buf[:])
}

// IsValidNitriteID reports whether s has the shape of an id produced by
// NewNitriteID (26-character unpadded base32 of a 16-byte payload).
func IsValidNitriteID(s string) bool {
	if len(s) != 26 {
		return false
	}
	_, err := idEncoding.DecodeString(s)
	return err == nil
}
