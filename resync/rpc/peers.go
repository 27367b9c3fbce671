// StaticPeers is the simplest PeerResolver: a fixed node-id -> base-URL map
// that offers every other known peer as a block fetch candidate, reloadable as a whole
// under a single lock. Real cluster membership tracking (join/leave,
// version-vector reconciliation) is metasync's job upstream (ais/metasync.go)
// and out of scope here (spec §1 Non-goals: "cluster membership"); this is
// the minimal collaborator the offload protocol needs to resolve NodeIDs.
/*
 * Copyright (c) 2018, NVIDIA CORPORATION. All rights reserved.
 */
package rpc

import (
	"sync"

	"github.com/maxjustus/garage/resync"
)

// StaticPeers holds the current peer set under a single mutex, the same
// coarse-grained swap ais/metasync.go uses for its Smap/BucketMD snapshots:
// readers never observe a half-updated membership list.
type StaticPeers struct {
	mu   sync.RWMutex
	urls map[resync.NodeID]string
	self resync.NodeID
}

func NewStaticPeers(self resync.NodeID) *StaticPeers {
	return &StaticPeers{urls: make(map[resync.NodeID]string), self: self}
}

// Set replaces the entire known membership in one swap.
func (p *StaticPeers) Set(urls map[resync.NodeID]string) {
	cp := make(map[resync.NodeID]string, len(urls))
	for id, url := range urls {
		cp[id] = url
	}
	p.mu.Lock()
	p.urls = cp
	p.mu.Unlock()
}

func (p *StaticPeers) URL(id resync.NodeID) (string, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	url, ok := p.urls[id]
	if !ok {
		return "", errPeerUnknown(id)
	}
	return url, nil
}

// Candidates returns every known peer but self, in map-iteration order.
// Block placement/hinting (which peers are likely to hold a given id) is
// the replication layer's concern (spec §1 Non-goals); this resolver just
// offers every other node as a candidate fetch source.
func (p *StaticPeers) Candidates(resync.BlockID) []resync.NodeID {
	p.mu.RLock()
	defer p.mu.RUnlock()
	out := make([]resync.NodeID, 0, len(p.urls))
	for id := range p.urls {
		if id != p.self {
			out = append(out, id)
		}
	}
	return out
}

var _ PeerResolver = (*StaticPeers)(nil)

type errPeerUnknown resync.NodeID

func (e errPeerUnknown) Error() string { return "rpc: unknown peer " + string(e) }

// StaticReplication is the simplest resync.Replication: every block's write
// set is the whole cluster (minus self) and the quorum is a fixed node
// count, configured once at startup. Per-block placement (rendezvous/
// consistent hashing over a subset of nodes) is the replication layer's own
// concern upstream and out of scope here (spec §1 Non-goals).
type StaticReplication struct {
	peers  *StaticPeers
	quorum int
}

func NewStaticReplication(peers *StaticPeers, quorum int) *StaticReplication {
	return &StaticReplication{peers: peers, quorum: quorum}
}

func (r *StaticReplication) WriteNodes(id resync.BlockID) []resync.NodeID {
	return r.peers.Candidates(id)
}

func (r *StaticReplication) WriteQuorum() int { return r.quorum }

var _ resync.Replication = (*StaticReplication)(nil)
