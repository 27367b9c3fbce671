package resync

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestManager(t *testing.T) *BlockResyncManager {
	t.Helper()
	m, err := NewBlockResyncManager(Deps{
		Store:    newFakeStore(),
		Refcount: newFakeStore(),
		Repl:     &fakeReplication{quorum: 1},
		Rpc:      &fakeRpc{needReplies: make(map[NodeID]bool)},
		Metrics:  newFakeMetrics(),
		Tracer:   noopTracer{},
		SelfID:   "self",
	})
	require.NoError(t, err)
	t.Cleanup(func() { m.Close() })
	return m
}

func TestManagerEnqueueThenQueueLen(t *testing.T) {
	m := newTestManager(t)
	require.NoError(t, m.Enqueue(idOf(1), 1000))
	require.NoError(t, m.Enqueue(idOf(2), 2000))

	n, err := m.QueueLen()
	require.NoError(t, err)
	assert.Equal(t, 2, n)
}

func TestManagerEnqueueWakesWaiters(t *testing.T) {
	m := newTestManager(t)
	ch := m.NotifyChannel()

	done := make(chan struct{})
	go func() {
		<-ch
		close(done)
	}()

	require.NoError(t, m.Enqueue(idOf(1), 0))
	<-done // would hang forever if Enqueue didn't notify
}

// spec §6/§8: set_n_workers(n) succeeds iff 1 <= n <= 4.
func TestManagerSetNWorkersValidation(t *testing.T) {
	m := newTestManager(t)

	assert.Error(t, m.SetNWorkers(0))
	assert.Error(t, m.SetNWorkers(5))
	assert.Equal(t, 1, m.Config().NWorkers) // unchanged on failure

	require.NoError(t, m.SetNWorkers(MaxWorkers))
	assert.Equal(t, MaxWorkers, m.Config().NWorkers)

	for n := 1; n <= MaxWorkers; n++ {
		assert.NoError(t, m.SetNWorkers(n))
	}
}

func TestManagerSetTranquility(t *testing.T) {
	m := newTestManager(t)
	require.NoError(t, m.SetTranquility(7))
	assert.Equal(t, uint32(7), m.Config().Tranquility)
}

// Scenario 6 (spec §8): config roundtrip across a restart.
func TestManagerConfigRoundtripAcrossRestart(t *testing.T) {
	dir := t.TempDir()
	build := func() *BlockResyncManager {
		m, err := NewBlockResyncManager(Deps{
			Store:       newFakeStore(),
			Refcount:    newFakeStore(),
			Repl:        &fakeReplication{quorum: 1},
			Rpc:         &fakeRpc{needReplies: make(map[NodeID]bool)},
			Metrics:     newFakeMetrics(),
			Tracer:      noopTracer{},
			SelfID:      "self",
			MetadataDir: dir,
		})
		require.NoError(t, err)
		return m
	}

	m1 := build()
	require.NoError(t, m1.SetNWorkers(3))
	require.NoError(t, m1.Close())

	m2 := build()
	defer m2.Close()
	assert.Equal(t, 3, m2.Config().NWorkers)
}

func TestManagerErrorsLen(t *testing.T) {
	m := newTestManager(t)
	n, err := m.ErrorsLen()
	require.NoError(t, err)
	assert.Equal(t, 0, n)
}
