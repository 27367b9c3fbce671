// Package daemon is the resyncd composition root: it wires a BlockStore, the
// RPC client/server, and a BlockResyncManager/WorkerPool together and runs
// them under a rungroup, the way ais/daemon.go assembled a proxy or target
// runner out of its collaborators and ran them to completion.
/*
 * Copyright (c) 2018, NVIDIA CORPORATION. All rights reserved.
 */
package daemon

import (
	"os"

	jsoniter "github.com/json-iterator/go"
	"github.com/pkg/errors"
)

// Config is the node's static bootstrap configuration: where it listens,
// where it stores blocks and metadata, and who its peers are. Unlike
// resync.PersistedConfig (n_workers/tranquility, which change at runtime),
// this is read once at startup -- the same split cmn.Config drew between
// daemon-wide settings and the few knobs runtime API calls could adjust.
type Config struct {
	SelfID      string            `json:"self_id"`
	ListenAddr  string            `json:"listen_addr"`
	DataDir     string            `json:"data_dir"`
	MetadataDir string            `json:"metadata_dir"`
	Peers       map[string]string `json:"peers"` // node id -> base URL
	WriteQuorum int               `json:"write_quorum"`
}

// LoadConfig reads and parses a Config file, the way cmn.Config is loaded
// from the node's config JSON at startup.
func LoadConfig(path string) (Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, errors.Wrapf(err, "read daemon config %s", path)
	}
	var cfg Config
	if err := jsoniter.Unmarshal(data, &cfg); err != nil {
		return Config{}, errors.Wrapf(err, "parse daemon config %s", path)
	}
	if cfg.WriteQuorum < 1 {
		cfg.WriteQuorum = 1
	}
	return cfg, nil
}
