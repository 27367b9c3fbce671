package resync

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestErrorStorePutGetDelete(t *testing.T) {
	s, err := openErrorStore(":memory:")
	require.NoError(t, err)
	defer s.Close()

	id := idOf(1)
	_, ok, err := s.Get(id)
	require.NoError(t, err)
	assert.False(t, ok)

	c := NewErrorCounter(100)
	require.NoError(t, s.Put(id, c))

	got, ok, err := s.Get(id)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, c, got)

	require.NoError(t, s.Delete(id))
	_, ok, err = s.Get(id)
	require.NoError(t, err)
	assert.False(t, ok)

	// deleting an absent id is not an error
	require.NoError(t, s.Delete(id))
}

func TestErrorStoreLen(t *testing.T) {
	s, err := openErrorStore(":memory:")
	require.NoError(t, err)
	defer s.Close()

	for i := byte(1); i <= 3; i++ {
		require.NoError(t, s.Put(idOf(i), NewErrorCounter(uint64(i))))
	}
	n, err := s.Len()
	require.NoError(t, err)
	assert.Equal(t, 3, n)
}
