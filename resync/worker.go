package resync

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/golang/glog"

	"github.com/maxjustus/garage/cmn"
)

// Worker is one of WorkerPool's MAX long-lived goroutines (spec §4.7, C7).
// It is Runner-shaped (cmn.Named + Run/Stop), matching every other
// long-lived goroutine in this lineage (ais/daemon.go's rungroup,
// ais/metasync.go's metasyncer).
type Worker struct {
	cmn.Named

	index        int
	manager      *BlockResyncManager
	tranquilizer *Tranquilizer
	stopCh       chan struct{}
	doneCh       chan struct{}
}

// NewWorker builds worker index (0-based); its reported name is 1-based
// ("Block resync worker #1", ...).
func NewWorker(index int, manager *BlockResyncManager) *Worker {
	w := &Worker{
		index:        index,
		manager:      manager,
		tranquilizer: newTranquilizer(),
		stopCh:       make(chan struct{}),
		doneCh:       make(chan struct{}),
	}
	w.Setname(fmt.Sprintf("Block resync worker #%d", index+1))
	return w
}

// active reports whether this worker's index is below the currently
// configured n_workers.
func (w *Worker) active() bool {
	return w.index < w.manager.Config().NWorkers
}

// Info reports tranquility, queue length, and error count if nonzero; or
// "(unused)" when this worker's index exceeds the configured pool size
// (spec §4.7 "Observable reporting").
func (w *Worker) Info() string {
	if !w.active() {
		return "(unused)"
	}

	cfg := w.manager.Config()
	parts := []string{fmt.Sprintf("tranquility = %d", cfg.Tranquility)}

	if qlen, err := w.manager.QueueLen(); err == nil && qlen > 0 {
		parts = append(parts, fmt.Sprintf("%d blocks in queue", qlen))
	}
	if elen, err := w.manager.ErrorsLen(); err == nil && elen > 0 {
		parts = append(parts, fmt.Sprintf("%d blocks in error state", elen))
	}
	return strings.Join(parts, ", ")
}

// Run drives the worker loop of spec §4.7 until Stop is called. An
// in-flight iteration is never aborted mid-RPC (spec §5 Cancellation): the
// shutdown signal is only observed between iterations.
func (w *Worker) Run() error {
	defer close(w.doneCh)
	ctx := context.Background()

	for {
		select {
		case <-w.stopCh:
			return nil
		default:
		}

		if !w.active() {
			w.waitForWork(ctx)
			continue
		}

		w.tranquilizer.Reset()
		result, err := w.manager.Engine().Iter(ctx)
		if err != nil {
			// Durable-store errors (spec §7 kind 1): surfaced, not fatal to
			// the worker -- log and keep looping. The supervisor that
			// started this goroutine treats a non-nil Run() return as
			// terminal, so we do not return err here.
			glog.Errorf("%s: iteration error: %v", w.Getname(), err)
			continue
		}

		switch result.Kind {
		case DidWork:
			w.tranquilizer.TranquilizeWorker(ctx, w.manager.Config().Tranquility)
		case Skipped:
			// report Busy immediately, loop again without waiting
		case Idle:
			w.waitForDuration(ctx, result.IdleFor)
		}
	}
}

// waitForWork parks an inactive worker until a config change wakes it.
func (w *Worker) waitForWork(ctx context.Context) {
	for !w.active() {
		select {
		case <-w.stopCh:
			return
		case <-w.manager.NotifyChannel():
		}
	}
}

// waitForDuration waits on the earlier of a delay timer or the next
// queue/config notification (spec §4.7 step 4).
func (w *Worker) waitForDuration(ctx context.Context, d time.Duration) {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-w.stopCh:
	case <-timer.C:
	case <-w.manager.NotifyChannel():
	}
}

// Stop signals the worker to exit after its current iteration completes,
// and blocks until it has (spec §5 Cancellation).
func (w *Worker) Stop(err error) {
	glog.Infof("%s: stopping, err: %v", w.Getname(), err)
	select {
	case <-w.stopCh:
	default:
		close(w.stopCh)
	}
	<-w.doneCh
}

// WorkerPool is the fixed set of MaxWorkers workers (spec §4.7, §9
// "Dynamic pool sizing without task creation/destruction"): all MaxWorkers
// goroutines start once; those above the configured n_workers threshold
// park in waitForWork until a config change wakes them.
type WorkerPool struct {
	cmn.Named

	manager *BlockResyncManager
	workers []*Worker

	errCh chan error
}

// NewWorkerPool builds MaxWorkers workers bound to manager. Start them with
// Run (spawn one goroutine per worker, as ais/daemon.go's rungroup does).
func NewWorkerPool(manager *BlockResyncManager) *WorkerPool {
	p := &WorkerPool{
		manager: manager,
		workers: make([]*Worker, MaxWorkers),
		errCh:   make(chan error, MaxWorkers),
	}
	for i := range p.workers {
		p.workers[i] = NewWorker(i, manager)
	}
	return p
}

// Run starts all workers and blocks until Stop is called or a worker's
// Run() returns a terminal error. Mirrors ais/daemon.go's rungroup.run().
func (p *WorkerPool) Run() error {
	for _, w := range p.workers {
		go func(w *Worker) {
			err := w.Run()
			glog.Warningf("%s exited with err [%v]", w.Getname(), err)
			p.errCh <- err
		}(w)
	}
	return <-p.errCh
}

// Stop signals every worker to exit after its current iteration.
func (p *WorkerPool) Stop(err error) {
	glog.Infof("resync worker pool: stopping, err: %v", err)
	for _, w := range p.workers {
		w.Stop(err)
	}
}

// Workers exposes the pool's workers for status reporting (index, name,
// Info()).
func (p *WorkerPool) Workers() []*Worker { return p.workers }
