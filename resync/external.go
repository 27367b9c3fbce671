package resync

import (
	"context"
	"io"
	"time"
)

// NodeID identifies a cluster peer. Presentation is the replication/topology
// layer's concern (spec §1 Non-goals: "cluster membership"); the resync
// core only ever treats it as an opaque comparable key.
type NodeID string

// NeededStatus is the refcount-derived status of a block, queried from the
// external block store (spec §4.6.1).
type NeededStatus struct {
	IsNeeded    bool
	IsNonzero   bool
	IsDeletable bool
}

// BlockStatus is the result of checking a block against local presence and
// cluster-wide need.
type BlockStatus struct {
	Exists bool
	Needed NeededStatus
}

// BlockHeader is opaque metadata travelling alongside a block body on the
// wire (checksum, size, etc.) -- its contents are the block store's concern.
type BlockHeader struct {
	Raw []byte
}

// BlockStore is the external collaborator owning on-disk block bodies and
// their externally-observed need/existence status (spec §6). The resync
// core never invents concurrency between a status read and the operations
// that follow it: BlockStore is expected to answer CheckBlockStatus
// atomically with respect to its own writers.
type BlockStore interface {
	CheckBlockStatus(ctx context.Context, id BlockID) (BlockStatus, error)
	ReadBlock(ctx context.Context, id BlockID) (BlockHeader, []byte, error)
	WriteBlock(ctx context.Context, id BlockID, raw []byte) error
	// DeleteIfUnneeded re-checks need at delete time and is a no-op if the
	// block became needed again since the status check (spec §9 Open
	// Questions).
	DeleteIfUnneeded(ctx context.Context, id BlockID) error
}

// Refcount is the reference-count maintenance collaborator. The resync core
// only requests cleanup of tombstone metadata after a successful offload;
// it never maintains refcounts itself (spec §1 Non-goals).
type Refcount interface {
	ClearDeletedBlockRC(ctx context.Context, id BlockID) error
}

// Replication exposes the write-quorum and write-node-set policy the
// offload protocol must honor before deleting a block (spec §4.6.2).
type Replication interface {
	WriteNodes(id BlockID) []NodeID
	WriteQuorum() int
}

// Priority is carried by RequestStrategy to tell the RPC layer how to
// schedule a fan-out call relative to foreground traffic.
type Priority int

const (
	PriorityBackground Priority = iota
)

// RequestStrategy bundles priority and, for try_call_many, a quorum floor
// below which the call fails fast (spec §6 "strategy carries priority...
// and quorum").
type RequestStrategy struct {
	Priority Priority
	Quorum   int // 0 means "wait for all"
}

func WithPriority(p Priority) RequestStrategy { return RequestStrategy{Priority: p} }

func (s RequestStrategy) WithQuorum(n int) RequestStrategy {
	s.Quorum = n
	return s
}

// NeedBlockQuery asks a peer whether it still needs block Hash.
type NeedBlockQuery struct {
	Hash BlockID
}

// NeedBlockReply answers a NeedBlockQuery.
type NeedBlockReply struct {
	Needed bool
}

// PutBlock pushes a block header to a peer; the body travels as a
// separately streamed payload (spec §6).
type PutBlock struct {
	Hash   BlockID
	Header BlockHeader
}

// Reply is whatever a peer sent back for one RPC fan-out target: exactly
// one of NeedBlockReply, an ack (nil), or an error.
type Reply struct {
	Node NodeID
	Msg  any // NeedBlockReply, or nil for a bare ack (e.g. PutBlock)
	Err  error
}

// Rpc is the cross-node transport the offload protocol fans requests out
// over (spec §6). CallMany waits for every targeted peer; TryCallMany fails
// fast once it becomes impossible to reach strategy.Quorum replies.
type Rpc interface {
	CallMany(ctx context.Context, endpoint string, peers []NodeID, msg any, strategy RequestStrategy) ([]Reply, error)
	TryCallMany(ctx context.Context, endpoint string, peers []NodeID, msg any, strategy RequestStrategy) ([]Reply, error)
	// CallManyStream is CallMany/TryCallMany's sibling for PutBlock, which
	// carries a streamed body alongside the header (spec §6).
	CallManyStream(ctx context.Context, endpoint string, peers []NodeID, msg any, body io.Reader, strategy RequestStrategy) ([]Reply, error)
	// GetRawBlock fetches a block this node lacks but needs, from whichever
	// peer(s) the RPC layer decides to ask (spec §4.6.1 "Fetch" case).
	GetRawBlock(ctx context.Context, id BlockID) ([]byte, error)
}

// Metrics is the counters/histogram sink named in spec §6.
type Metrics interface {
	IncResyncCounter()
	IncResyncErrorCounter()
	IncResyncRecvCounter()
	IncResyncSendCounter(to NodeID)
	ObserveResyncDuration(d time.Duration)
}

// Tracer opens the "Resync block" span each iteration runs inside (spec
// §6). Span is anything with an End method; the concrete otel
// implementation lives in the resync/tracing package, not here, so this
// package stays independent of any one tracing SDK's API surface.
type Tracer interface {
	StartSpan(ctx context.Context, name string, blockID BlockID) (context.Context, Span)
}

type Span interface {
	End()
}
