package resync

import (
	"bytes"
	"context"
	"time"

	"github.com/golang/glog"
	"github.com/pkg/errors"
)

// idlePoll is the fallback delay returned when the queue is empty (spec
// §4.6 step 1, §9: "the source explicitly relies on" a periodic poll to
// compensate for any missed notification).
const idlePoll = 10 * time.Second

// IterResultKind is the tag of an IterResult (spec §4.6 "iter() returns one
// of {DidWork, Skipped, IdleFor(delta)}").
type IterResultKind int

const (
	DidWork IterResultKind = iota
	Skipped
	Idle
)

// IterResult is the outcome of one ResyncEngine.Iter call.
type IterResult struct {
	Kind IterResultKind
	// IdleFor is populated only when Kind == Idle: how long the caller
	// should wait before trying again.
	IdleFor time.Duration
}

// ResyncEngine is the pop-dispatch-record iteration procedure (spec §4.6,
// C6): it consults the queue, the error store, and the busy set to pick a
// due entry, invokes the external block-status and RPC interfaces, and
// updates the error store and queue accordingly.
type ResyncEngine struct {
	queue   *ResyncQueue
	errors  *ErrorStore
	busy    *BusySet
	notify  *notifier
	store   BlockStore
	rc      Refcount
	repl    Replication
	rpc     Rpc
	metrics Metrics
	tracer  Tracer

	selfID       NodeID
	needEndpoint string
	putEndpoint  string

	// now returns the current wall-clock time in ms since epoch. Overridable
	// in tests; defaults to time.Now.
	now func() uint64
}

func defaultNowMS() uint64 {
	return uint64(time.Now().UnixMilli())
}

// Iter runs one pop-dispatch-record cycle (spec §4.6).
func (e *ResyncEngine) Iter(ctx context.Context) (IterResult, error) {
	entry, claim, found, err := e.claimNext()
	if err != nil {
		return IterResult{}, err
	}
	if !found {
		return IterResult{Kind: Idle, IdleFor: idlePoll}, nil
	}
	defer claim.Release()

	now := e.now()
	when := entry.Key.When()
	if when > now {
		// Not yet due: leave the entry untouched, retry later.
		return IterResult{Kind: Idle, IdleFor: time.Duration(when-now) * time.Millisecond}, nil
	}

	if ec, ok, err := e.errors.Get(entry.ID); err != nil {
		return IterResult{}, err
	} else if ok && ec.NextTry() > now {
		if err := e.queue.EnqueueAt(entry.ID, ec.NextTry()); err != nil {
			return IterResult{}, err
		}
		if err := e.queue.Remove(entry.Key); err != nil {
			return IterResult{}, err
		}
		return IterResult{Kind: Skipped}, nil
	}

	resyncErr := e.resyncBlockTraced(ctx, entry.ID)

	e.metrics.IncResyncCounter()
	if resyncErr != nil {
		e.metrics.IncResyncErrorCounter()
		glog.Warningf("resync: error resyncing %s: %v", entry.ID, resyncErr)

		failAt := now + 1
		ec, ok, err := e.errors.Get(entry.ID)
		if err != nil {
			return IterResult{}, err
		}
		var next ErrorCounter
		if ok {
			next = ec.Incr(failAt)
		} else {
			next = NewErrorCounter(failAt)
		}
		if err := e.errors.Put(entry.ID, next); err != nil {
			return IterResult{}, err
		}
		// next.NextTry() >= failAt > now >= when, so this Remove cannot
		// erase the entry we just inserted (spec §4.6 step 6).
		if err := e.queue.EnqueueAt(entry.ID, next.NextTry()); err != nil {
			return IterResult{}, err
		}
		if err := e.queue.Remove(entry.Key); err != nil {
			return IterResult{}, err
		}
		return IterResult{Kind: DidWork}, nil
	}

	if err := e.errors.Delete(entry.ID); err != nil {
		return IterResult{}, err
	}
	if err := e.queue.Remove(entry.Key); err != nil {
		return IterResult{}, err
	}
	return IterResult{Kind: DidWork}, nil
}

// claimNext walks the queue in due-time order and claims the first entry
// not already held by another worker (spec §4.6 step 1).
func (e *ResyncEngine) claimNext() (QueueEntry, Claim, bool, error) {
	var (
		found bool
		entry QueueEntry
		claim Claim
	)
	err := e.queue.IterFromEarliest(func(qe QueueEntry) (bool, error) {
		c, ok := e.busy.TryAcquire(qe.Key)
		if !ok {
			return true, nil // already claimed elsewhere, keep walking
		}
		entry, claim, found = qe, c, true
		return false, nil
	})
	if err != nil {
		return QueueEntry{}, Claim{}, false, err
	}
	return entry, claim, found, nil
}

func (e *ResyncEngine) resyncBlockTraced(ctx context.Context, id BlockID) error {
	ctx, span := e.tracer.StartSpan(ctx, "Resync block", id)
	defer span.End()

	start := time.Now()
	err := e.resyncBlock(ctx, id)
	e.metrics.ObserveResyncDuration(time.Since(start))
	return err
}

// resyncBlock is the decision procedure of spec §4.6.1: offload+delete when
// the block exists and is deletable, fetch when it's needed but absent.
// Both guards are evaluated independently; neither branch short-circuits
// the other (spec §4.6.1 table note).
func (e *ResyncEngine) resyncBlock(ctx context.Context, id BlockID) error {
	status, err := e.store.CheckBlockStatus(ctx, id)
	if err != nil {
		return errors.Wrap(err, "check block status")
	}

	if status.Exists && status.Needed.IsDeletable {
		if err := e.offloadAndDelete(ctx, id); err != nil {
			return err
		}
	}

	if status.Needed.IsNonzero && !status.Exists {
		if err := e.fetch(ctx, id); err != nil {
			return err
		}
	}

	return nil
}

func (e *ResyncEngine) fetch(ctx context.Context, id BlockID) error {
	glog.Infof("resync: fetching absent but needed block %s", id)
	data, err := e.rpc.GetRawBlock(ctx, id)
	if err != nil {
		return errors.Wrap(err, "fetch raw block")
	}
	e.metrics.IncResyncRecvCounter()
	if err := e.store.WriteBlock(ctx, id, data); err != nil {
		return errors.Wrap(err, "write fetched block")
	}
	return nil
}

// offloadAndDelete implements the offload-before-delete protocol of spec
// §4.6.2: confirm remote persistence before deleting, because deleting
// first risks reducing replication below quorum.
func (e *ResyncEngine) offloadAndDelete(ctx context.Context, id BlockID) error {
	who := e.repl.WriteNodes(id)
	if len(who) < e.repl.WriteQuorum() {
		return errors.New("not trying to offload block because we don't have a quorum of nodes to write to")
	}

	peers := make([]NodeID, 0, len(who))
	for _, n := range who {
		if n != e.selfID {
			peers = append(peers, n)
		}
	}

	glog.Infof("resync: offloading and deleting block %s", id)

	replies, err := e.rpc.CallMany(ctx, e.needEndpoint, peers, NeedBlockQuery{Hash: id}, WithPriority(PriorityBackground))
	if err != nil {
		return errors.Wrap(err, "NeedBlockQuery RPC")
	}

	needNodes := make([]NodeID, 0, len(replies))
	for _, r := range replies {
		if r.Err != nil {
			return errors.Wrap(r.Err, "NeedBlockQuery RPC")
		}
		reply, ok := r.Msg.(NeedBlockReply)
		if !ok {
			return errors.Errorf("unexpected rpc message from %s: %+v", r.Node, r.Msg)
		}
		if reply.Needed {
			needNodes = append(needNodes, r.Node)
		}
	}

	if len(needNodes) > 0 {
		glog.Infof("resync: block %s needed by %d nodes, sending", id, len(needNodes))
		for _, n := range needNodes {
			e.metrics.IncResyncSendCounter(n)
		}

		header, body, err := e.store.ReadBlock(ctx, id)
		if err != nil {
			return errors.Wrap(err, "read block for offload")
		}

		strategy := WithPriority(PriorityBackground).WithQuorum(len(needNodes))
		_, err = e.rpc.CallManyStream(ctx, e.putEndpoint, needNodes, PutBlock{Hash: id, Header: header}, bytes.NewReader(body), strategy)
		if err != nil {
			return errors.Wrap(err, "PutBlock RPC")
		}
	}

	glog.Infof("resync: deleting unneeded block %s, offload finished (%d / %d)", id, len(needNodes), len(who))

	if err := e.store.DeleteIfUnneeded(ctx, id); err != nil {
		return errors.Wrap(err, "delete if unneeded")
	}
	if err := e.rc.ClearDeletedBlockRC(ctx, id); err != nil {
		return errors.Wrap(err, "clear deleted block rc")
	}
	return nil
}
