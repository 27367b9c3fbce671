// Package store is a content-addressed, file-per-block resync.BlockStore:
// each block lives at dataDir/<2-char-prefix>/<hex-id>, mirroring the
// mountpath/bucket/key fan-out dfc/target.go used for cloud-backed objects,
// narrowed here to a single data root and a flat refcount side-table instead
// of a cloud bucket hierarchy.
/*
 * Copyright (c) 2017, NVIDIA CORPORATION. All rights reserved.
 */
package store

import (
	"context"
	"io"
	"os"
	"path/filepath"
	"sync"

	"github.com/golang/glog"
	"github.com/google/renameio/v2"
	"github.com/pkg/errors"

	"github.com/maxjustus/garage/resync"
)

// refstate is the locally-tracked reference state of one block, the
// file-backed analogue of dfc's cloud-object metadata lookups.
type refstate struct {
	nonzero bool
	needed  bool
}

// FileStore is a resync.BlockStore that keeps block bodies as plain files
// under a data directory and tracks per-block refcount/need state in
// memory, the way dfc/target.go's targetrunner tracked per-mountpath usage
// stats in memory alongside on-disk object bodies.
type FileStore struct {
	dataDir string

	mu   sync.RWMutex
	refs map[resync.BlockID]refstate
}

// NewFileStore opens (creating if absent) dataDir as the root of a
// content-addressed block store.
func NewFileStore(dataDir string) (*FileStore, error) {
	if err := os.MkdirAll(dataDir, 0o755); err != nil {
		return nil, errors.Wrapf(err, "create block data dir %s", dataDir)
	}
	return &FileStore{dataDir: dataDir, refs: make(map[resync.BlockID]refstate)}, nil
}

// SetNeeded records whether id is still wanted cluster-wide; the refcount
// collaborator (spec §1 Non-goals: refcount maintenance lives outside the
// resync core) is expected to call this as block ownership changes. Tests
// use it directly in place of a real refcount service.
func (s *FileStore) SetNeeded(id resync.BlockID, nonzero, needed bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.refs[id] = refstate{nonzero: nonzero, needed: needed}
}

func (s *FileStore) path(id resync.BlockID) string {
	hexID := id.String()
	return filepath.Join(s.dataDir, hexID[:2], hexID)
}

// CheckBlockStatus reports on-disk presence plus the in-memory refcount
// snapshot. Like targetrunner.filehdlr's os.Stat check, existence is
// decided by a plain stat of the block's file, not a directory listing.
func (s *FileStore) CheckBlockStatus(ctx context.Context, id resync.BlockID) (resync.BlockStatus, error) {
	_, err := os.Stat(s.path(id))
	exists := err == nil
	if err != nil && !os.IsNotExist(err) {
		return resync.BlockStatus{}, errors.Wrapf(err, "stat block %s", id)
	}

	s.mu.RLock()
	r := s.refs[id]
	s.mu.RUnlock()

	return resync.BlockStatus{
		Exists: exists,
		Needed: resync.NeededStatus{
			IsNeeded:    r.needed,
			IsNonzero:   r.nonzero,
			IsDeletable: exists && !r.needed,
		},
	}, nil
}

// ReadBlock opens and reads a block's body whole. A real deployment would
// stream this (as filehdlr does via copyBuffer into an http.ResponseWriter)
// but the offload path already buffers the body once to replay it per peer,
// so there is no streaming benefit left to preserve here.
func (s *FileStore) ReadBlock(ctx context.Context, id resync.BlockID) (resync.BlockHeader, []byte, error) {
	f, err := os.Open(s.path(id))
	if err != nil {
		return resync.BlockHeader{}, nil, errors.Wrapf(err, "open block %s", id)
	}
	defer f.Close()

	raw, err := io.ReadAll(f)
	if err != nil {
		return resync.BlockHeader{}, nil, errors.Wrapf(err, "read block %s", id)
	}
	return resync.BlockHeader{}, raw, nil
}

// WriteBlock durably writes a fetched block body, grounded on the same
// atomic-rename-on-write discipline resync/config.go uses for its config
// file: a reader never observes a partially-written block.
func (s *FileStore) WriteBlock(ctx context.Context, id resync.BlockID, raw []byte) error {
	dir := filepath.Dir(s.path(id))
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return errors.Wrapf(err, "create block dir %s", dir)
	}
	if err := renameio.WriteFile(s.path(id), raw, 0o644); err != nil {
		return errors.Wrapf(err, "write block %s", id)
	}
	return nil
}

// DeleteIfUnneeded re-checks need at delete time and removes the block file
// only if it is still unneeded, closing the race spec §9's Open Questions
// calls out between the original status check and the delete itself.
func (s *FileStore) DeleteIfUnneeded(ctx context.Context, id resync.BlockID) error {
	s.mu.RLock()
	needed := s.refs[id].needed
	s.mu.RUnlock()
	if needed {
		glog.Infof("block %s became needed again before delete, skipping", id)
		return nil
	}

	err := os.Remove(s.path(id))
	if err != nil && os.IsNotExist(err) {
		return nil
	}
	return errors.Wrapf(err, "delete block %s", id)
}

// ClearDeletedBlockRC drops the refcount entry for a block this node just
// offloaded and deleted (spec §4.6.2 final step). FileStore doubles as its
// own Refcount collaborator since both already share the same in-memory map;
// a real deployment would back this with its own durable refcount tree.
func (s *FileStore) ClearDeletedBlockRC(ctx context.Context, id resync.BlockID) error {
	s.mu.Lock()
	delete(s.refs, id)
	s.mu.Unlock()
	return nil
}

var _ resync.BlockStore = (*FileStore)(nil)
var _ resync.Refcount = (*FileStore)(nil)
