package resync

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func idOf(b byte) BlockID {
	var id BlockID
	id[31] = b
	return id
}

func TestQueueOrderedIteration(t *testing.T) {
	q, err := openResyncQueue(":memory:")
	require.NoError(t, err)
	defer q.Close()

	require.NoError(t, q.EnqueueAt(idOf(3), 300))
	require.NoError(t, q.EnqueueAt(idOf(1), 100))
	require.NoError(t, q.EnqueueAt(idOf(2), 200))

	var order []uint64
	err = q.IterFromEarliest(func(e QueueEntry) (bool, error) {
		order = append(order, e.Key.When())
		return true, nil
	})
	require.NoError(t, err)
	assert.Equal(t, []uint64{100, 200, 300}, order)
}

func TestQueueRemove(t *testing.T) {
	q, err := openResyncQueue(":memory:")
	require.NoError(t, err)
	defer q.Close()

	id := idOf(9)
	key := NewQueueKey(42, id)
	require.NoError(t, q.put(key, id))

	n, err := q.Len()
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	require.NoError(t, q.Remove(key))
	n, err = q.Len()
	require.NoError(t, err)
	assert.Equal(t, 0, n)

	// removing again (already absent) is not an error
	require.NoError(t, q.Remove(key))
}

func TestQueueDuplicateInsertOverwrites(t *testing.T) {
	q, err := openResyncQueue(":memory:")
	require.NoError(t, err)
	defer q.Close()

	id := idOf(5)
	key := NewQueueKey(1, id)
	require.NoError(t, q.put(key, id))
	require.NoError(t, q.put(key, id))

	n, err := q.Len()
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestQueueIterationCanStopEarly(t *testing.T) {
	q, err := openResyncQueue(":memory:")
	require.NoError(t, err)
	defer q.Close()

	for i := byte(1); i <= 5; i++ {
		require.NoError(t, q.EnqueueAt(idOf(i), uint64(i)))
	}

	var seen int
	err = q.IterFromEarliest(func(e QueueEntry) (bool, error) {
		seen++
		return seen < 2, nil
	})
	require.NoError(t, err)
	assert.Equal(t, 2, seen)
}
