package resync

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestErrorCounterRoundTrip(t *testing.T) {
	cases := []ErrorCounter{
		NewErrorCounter(0),
		NewErrorCounter(1000),
		{Errors: 9999, LastTry: 123456789},
		{Errors: 1, LastTry: 0},
	}
	for _, c := range cases {
		got, err := DecodeErrorCounter(c.Encode())
		require.NoError(t, err)
		assert.Equal(t, c, got)
	}
}

func TestErrorCounterDecodeWrongLength(t *testing.T) {
	_, err := DecodeErrorCounter([]byte{1, 2, 3})
	assert.Error(t, err)
}

func TestBackoffSchedule(t *testing.T) {
	// delay_ms(n) = 60_000 * 2^min(n-1, 6)
	want := []uint64{60_000, 120_000, 240_000, 480_000, 960_000, 1_920_000, 3_840_000}
	for n := 1; n <= len(want); n++ {
		c := ErrorCounter{Errors: uint64(n), LastTry: 0}
		assert.Equal(t, want[n-1], c.DelayMS(), "n=%d", n)
	}
	// saturates beyond MaxBackoffPower
	for _, n := range []uint64{8, 20, 1_000_000} {
		c := ErrorCounter{Errors: n, LastTry: 0}
		assert.Equal(t, uint64(3_840_000), c.DelayMS())
	}
}

func TestIncr(t *testing.T) {
	c := NewErrorCounter(10)
	c2 := c.Incr(20)
	assert.Equal(t, uint64(2), c2.Errors)
	assert.Equal(t, uint64(20), c2.LastTry)
	// original unmodified -- pure value type
	assert.Equal(t, uint64(1), c.Errors)
}

func TestNextTry(t *testing.T) {
	c := ErrorCounter{Errors: 2, LastTry: 90}
	assert.Equal(t, uint64(90+120_000), c.NextTry())
}
