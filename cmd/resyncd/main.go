// Command resyncd runs the block resync engine as a standalone node: a
// content-addressed file block store, an HTTP peer transport, and the
// worker pool that drives resync iterations against them. Flag handling
// follows ais/daemon.go's cliVars/flag.Parse pattern, narrowed to the
// knobs this single-purpose daemon actually needs (no proxy/target role
// switch, no dry-run harness -- those are whole-cluster concerns this
// engine doesn't own).
/*
 * Copyright (c) 2018, NVIDIA CORPORATION. All rights reserved.
 */
package main

import (
	"flag"
	"fmt"
	"os"

	"github.com/golang/glog"

	"github.com/maxjustus/garage/resync/daemon"
)

type cliVars struct {
	configFile string
	selfID     string
	listenAddr string
	dataDir    string
}

var clivars = &cliVars{}

func init() {
	flag.StringVar(&clivars.configFile, "config", "", "daemon config file (JSON: self_id, listen_addr, data_dir, metadata_dir, peers, write_quorum)")
	flag.StringVar(&clivars.selfID, "id", "", "override self_id from -config")
	flag.StringVar(&clivars.listenAddr, "listen", "", "override listen_addr from -config")
	flag.StringVar(&clivars.dataDir, "data", "", "override data_dir from -config")
}

func main() {
	flag.Parse()

	if clivars.configFile == "" {
		fmt.Fprintln(os.Stderr, "Missing configuration file (must be provided via -config)")
		os.Exit(2)
	}

	cfg, err := daemon.LoadConfig(clivars.configFile)
	if err != nil {
		glog.Fatalf("resyncd: %v", err)
	}
	if clivars.selfID != "" {
		cfg.SelfID = clivars.selfID
	}
	if clivars.listenAddr != "" {
		cfg.ListenAddr = clivars.listenAddr
	}
	if clivars.dataDir != "" {
		cfg.DataDir = clivars.dataDir
	}

	d, err := daemon.New(cfg)
	if err != nil {
		glog.Fatalf("resyncd: %v", err)
	}

	glog.Infof("resyncd: node %s listening on %s, data dir %s", cfg.SelfID, cfg.ListenAddr, cfg.DataDir)
	if err := d.Run(); err != nil {
		glog.Errorf("resyncd: exited with err: %v", err)
		glog.Flush()
		os.Exit(1)
	}
}
