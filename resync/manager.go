package resync

import "github.com/pkg/errors"

// BlockResyncManager is the aggregation root tying C2..C8 together: it owns
// the queue, error store, config, busy set, and the engine that consults
// them, and exposes the operations spec §6 names as the core's public
// surface (enqueue/enqueue_at, queue_len/errors_len, set_n_workers,
// set_tranquility). The worker pool (C7) is constructed separately and
// holds a reference to this manager, through which it reaches the engine.
//
// Modeled on spec §9's "aggregation graph, not an ownership cycle": the
// manager owns the engine; workers hold a shared, immutable reference to
// the manager; configuration is an immutable snapshot published by
// copy-on-write (see config.go).
type BlockResyncManager struct {
	queue  *ResyncQueue
	errors *ErrorStore
	busy   *BusySet
	notify *notifier
	cfg    *configOwner
	engine *ResyncEngine
}

// Deps bundles the external collaborators an embedder wires in (spec §6).
type Deps struct {
	Store    BlockStore
	Refcount Refcount
	Repl     Replication
	Rpc      Rpc
	Metrics  Metrics
	Tracer   Tracer
	SelfID   NodeID
	// NeedEndpoint/PutEndpoint are the RPC paths the offload protocol calls
	// (spec §6): one for the NeedBlockQuery fan-out, one for the PutBlock
	// fan-out. A transport may route both through the same handler, but the
	// engine always addresses them separately.
	NeedEndpoint string
	PutEndpoint  string

	// QueuePath/ErrorsPath select the buntdb backing file for the queue and
	// error trees; ":memory:" (or "") opens an ephemeral, non-persistent
	// store, which is useful for tests and for embedders who don't need
	// durability across restarts.
	QueuePath  string
	ErrorsPath string
	// MetadataDir is the node's metadata directory; PersistedConfig is
	// stored at MetadataDir/resync_cfg (spec §6). Empty disables config
	// persistence.
	MetadataDir string
}

// NewBlockResyncManager opens the queue and error trees, loads (or
// defaults) the persisted config, and wires the engine.
func NewBlockResyncManager(deps Deps) (*BlockResyncManager, error) {
	queue, err := openResyncQueue(orMemory(deps.QueuePath))
	if err != nil {
		return nil, errors.Wrap(err, "open resync queue")
	}
	errStore, err := openErrorStore(orMemory(deps.ErrorsPath))
	if err != nil {
		queue.Close()
		return nil, errors.Wrap(err, "open resync error store")
	}

	m := &BlockResyncManager{
		queue:  queue,
		errors: errStore,
		busy:   newBusySet(),
		notify: newNotifier(),
		cfg:    newConfigOwner(deps.MetadataDir),
	}
	m.engine = &ResyncEngine{
		queue:    queue,
		errors:   errStore,
		busy:     m.busy,
		notify:   m.notify,
		store:    deps.Store,
		rc:       deps.Refcount,
		repl:     deps.Repl,
		rpc:      deps.Rpc,
		metrics:  deps.Metrics,
		tracer:   deps.Tracer,
		selfID:       deps.SelfID,
		needEndpoint: deps.NeedEndpoint,
		putEndpoint:  deps.PutEndpoint,
		now:          defaultNowMS,
	}
	return m, nil
}

func orMemory(path string) string {
	if path == "" {
		return ":memory:"
	}
	return path
}

func (m *BlockResyncManager) Close() error {
	qerr := m.queue.Close()
	eerr := m.errors.Close()
	if qerr != nil {
		return qerr
	}
	return eerr
}

// Enqueue computes when = now + delay_ms and inserts (QueueKey(when, id),
// id), then wakes workers (spec §4.3). Duplicate-key inserts overwrite
// harmlessly.
func (m *BlockResyncManager) Enqueue(id BlockID, delayMS uint64) error {
	return m.EnqueueAt(id, m.engine.now()+delayMS)
}

// EnqueueAt is Enqueue without the now-relative offset.
func (m *BlockResyncManager) EnqueueAt(id BlockID, whenMS uint64) error {
	if err := m.queue.EnqueueAt(id, whenMS); err != nil {
		return err
	}
	// Wakes every idle worker; the busy set (not the notifier) is what
	// ensures only one of them actually claims the new entry (spec §4.3,
	// §9 "Notifier semantics").
	m.notify.Notify()
	return nil
}

func (m *BlockResyncManager) QueueLen() (int, error)  { return m.queue.Len() }
func (m *BlockResyncManager) ErrorsLen() (int, error) { return m.errors.Len() }

// SetNWorkers validates n is within [1, MaxWorkers] and persists it (spec
// §6, §7 error kind 6: synchronous, returned to the caller, no state
// change on failure).
func (m *BlockResyncManager) SetNWorkers(n int) error {
	if n < 1 || n > MaxWorkers {
		return errors.Errorf("invalid number of resync workers, must be between 1 and %d", MaxWorkers)
	}
	_, err := m.cfg.Update(func(c *PersistedConfig) { c.NWorkers = n })
	if err != nil {
		return err
	}
	m.notify.Notify()
	return nil
}

// SetTranquility persists the new pacing ratio.
func (m *BlockResyncManager) SetTranquility(t uint32) error {
	_, err := m.cfg.Update(func(c *PersistedConfig) { c.Tranquility = t })
	if err != nil {
		return err
	}
	m.notify.Notify()
	return nil
}

// Config returns the current published config snapshot.
func (m *BlockResyncManager) Config() PersistedConfig { return m.cfg.Get() }

// Engine exposes the iteration procedure for the worker pool to drive.
func (m *BlockResyncManager) Engine() *ResyncEngine { return m.engine }

// NotifyChannel exposes the manager's notifier to the worker pool's wait
// loop (spec §4.7 step 4).
func (m *BlockResyncManager) NotifyChannel() <-chan struct{} { return m.notify.Wait() }
