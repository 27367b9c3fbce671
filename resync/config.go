package resync

import (
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"

	"github.com/golang/glog"
	"github.com/google/renameio/v2"
	jsoniter "github.com/json-iterator/go"
	"github.com/pkg/errors"
)

// MaxWorkers bounds both PersistedConfig.NWorkers and the fixed worker pool
// size (spec §3, §4.7): no more than 4 resync workers can ever run.
const MaxWorkers = 4

// initialTranquility is the default pacing ratio on first start.
const initialTranquility = 2

// ConfigFileName is the name of the durable config file under the node's
// metadata directory (spec §6, "Persisted state layout").
const ConfigFileName = "resync_cfg"

// PersistedConfig is the durable worker-pool sizing and pacing knobs. It is
// a plain value type; the owning configOwner is what provides durability
// and the copy-on-write snapshot publish.
type PersistedConfig struct {
	NWorkers    int    `json:"n_workers"`
	Tranquility uint32 `json:"tranquility"`
}

func defaultPersistedConfig() PersistedConfig {
	return PersistedConfig{NWorkers: 1, Tranquility: initialTranquility}
}

// configOwner mirrors cmn.globalConfigOwner's copy-on-write discipline
// (BeginUpdate/CommitUpdate over an atomic.Pointer) but additionally
// persists to disk before publishing, per spec §4.2: "(ii) persist it
// durably, (iii) atomically publish it as the new in-memory snapshot".
//
// Unlike cmn.globalConfigOwner, updates here are expressed as a single
// mutator function rather than Begin/Commit/Discard, since resync config
// updates are simple field writes with no multi-step caller-visible
// transaction -- see Update.
type configOwner struct {
	mu       sync.Mutex // serializes persist-then-publish; last writer wins otherwise
	snapshot atomic.Pointer[PersistedConfig]
	path     string // full path to the resync_cfg file; empty disables persistence (tests)
}

func newConfigOwner(metadataDir string) *configOwner {
	co := &configOwner{}
	if metadataDir != "" {
		co.path = filepath.Join(metadataDir, ConfigFileName)
	}
	cfg := co.loadOrDefault()
	co.snapshot.Store(&cfg)
	return co
}

// Get returns the current published snapshot. Safe for concurrent use
// without locking: callers only ever observe a fully-formed PersistedConfig.
func (co *configOwner) Get() PersistedConfig {
	return *co.snapshot.Load()
}

func (co *configOwner) loadOrDefault() PersistedConfig {
	if co.path == "" {
		return defaultPersistedConfig()
	}
	data, err := os.ReadFile(co.path)
	if err != nil {
		if !os.IsNotExist(err) {
			glog.Warningf("resync: failed to read %s, using defaults: %v", co.path, err)
		}
		return defaultPersistedConfig()
	}
	var cfg PersistedConfig
	if err := jsoniter.Unmarshal(data, &cfg); err != nil {
		glog.Warningf("resync: failed to parse %s, using defaults: %v", co.path, err)
		return defaultPersistedConfig()
	}
	return cfg
}

// Update applies mutate to a copy of the current snapshot, persists it
// durably, then atomically publishes it (spec §4.2). A durability failure
// leaves the in-memory snapshot unchanged and is returned to the caller.
// Concurrent updaters may race; the last writer wins -- no strict
// serializability is required.
func (co *configOwner) Update(mutate func(*PersistedConfig)) (PersistedConfig, error) {
	co.mu.Lock()
	defer co.mu.Unlock()

	next := co.Get()
	mutate(&next)

	if co.path != "" {
		data, err := jsoniter.MarshalIndent(&next, "", "  ")
		if err != nil {
			return PersistedConfig{}, errors.Wrap(err, "marshal resync config")
		}
		if err := renameio.WriteFile(co.path, data, 0o644); err != nil {
			return PersistedConfig{}, errors.Wrapf(err, "persist %s", co.path)
		}
	}

	co.snapshot.Store(&next)
	return next, nil
}
