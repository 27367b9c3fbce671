package resync

import (
	"encoding/binary"

	"github.com/pkg/errors"
)

// Backoff schedule constants (spec §3): delays of 1, 2, 4, 8, 16, 32, 64
// minutes for errors = 1..7+, doubling per consecutive failure and
// saturating at MaxBackoffPower.
const (
	BaseDelayMS     = 60_000
	MaxBackoffPower = 6
)

// ErrorCounter is a persistable per-block failure tally driving exponential
// backoff. It is a pure value type: no method mutates the receiver.
type ErrorCounter struct {
	Errors  uint64 // number of consecutive failures, >= 1 whenever the record exists
	LastTry uint64 // ms since epoch, the time the failing attempt was recorded
}

// NewErrorCounter builds the first-failure counter.
func NewErrorCounter(now uint64) ErrorCounter {
	return ErrorCounter{Errors: 1, LastTry: now}
}

// Incr returns the counter for one more consecutive failure recorded at now.
func (c ErrorCounter) Incr(now uint64) ErrorCounter {
	return ErrorCounter{Errors: c.Errors + 1, LastTry: now}
}

// DelayMS is the exponential backoff delay for the current error count.
func (c ErrorCounter) DelayMS() uint64 {
	power := c.Errors - 1
	if power > MaxBackoffPower {
		power = MaxBackoffPower
	}
	return uint64(BaseDelayMS) << power
}

// NextTry is the wall-clock time (ms) after which a retry is permitted.
func (c ErrorCounter) NextTry() uint64 {
	return c.LastTry + c.DelayMS()
}

// Encode serializes the counter bit-exactly as two big-endian u64s: errors
// followed by last_try (16 bytes total).
func (c ErrorCounter) Encode() []byte {
	buf := make([]byte, 16)
	binary.BigEndian.PutUint64(buf[0:8], c.Errors)
	binary.BigEndian.PutUint64(buf[8:16], c.LastTry)
	return buf
}

// DecodeErrorCounter is the inverse of Encode.
func DecodeErrorCounter(data []byte) (ErrorCounter, error) {
	if len(data) != 16 {
		return ErrorCounter{}, errors.Errorf("error counter must be 16 bytes, got %d", len(data))
	}
	return ErrorCounter{
		Errors:  binary.BigEndian.Uint64(data[0:8]),
		LastTry: binary.BigEndian.Uint64(data[8:16]),
	}, nil
}
