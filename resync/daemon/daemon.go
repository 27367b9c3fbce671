package daemon

import (
	"github.com/golang/glog"
	"github.com/valyala/fasthttp"

	"github.com/maxjustus/garage/cmn"
	"github.com/maxjustus/garage/resync"
	"github.com/maxjustus/garage/resync/metrics"
	"github.com/maxjustus/garage/resync/rpc"
	"github.com/maxjustus/garage/resync/store"
	"github.com/maxjustus/garage/resync/tracing"

	"github.com/prometheus/client_golang/prometheus"
)

// rungroup starts one goroutine per cmn.Runner and waits for the first one
// to exit, then stops the rest -- copied from ais/daemon.go's rungroup,
// generalized from proxy/target/metasyncer runners to resyncd's httpRunner/
// WorkerPool pair.
type rungroup struct {
	runners []cmn.Runner
	errCh   chan error
}

func (g *rungroup) add(r cmn.Runner, name string) {
	r.Setname(name)
	g.runners = append(g.runners, r)
}

func (g *rungroup) run() error {
	if len(g.runners) == 0 {
		return nil
	}
	g.errCh = make(chan error, len(g.runners))
	for _, r := range g.runners {
		go func(r cmn.Runner) {
			err := r.Run()
			glog.Warningf("runner [%s] exited with err [%v]", r.Getname(), err)
			g.errCh <- err
		}(r)
	}

	err := <-g.errCh
	for _, r := range g.runners {
		r.Stop(err)
	}
	for i := 0; i < cap(g.errCh)-1; i++ {
		<-g.errCh
	}
	return err
}

// httpRunner adapts a fasthttp.Server to cmn.Runner, the way ais/daemon.go's
// proxy/target runners wrapped net/http.Server.
type httpRunner struct {
	cmn.Named
	addr   string
	server *fasthttp.Server
}

func (h *httpRunner) Run() error {
	return h.server.ListenAndServe(h.addr)
}

func (h *httpRunner) Stop(err error) {
	glog.Infof("%s: shutting down, err: %v", h.Getname(), err)
	h.server.Shutdown()
}

// Daemon is the running resyncd node: the rungroup plus the collaborators
// it owns, exposed through Manager, Pool and UpdatePeers for administration
// by an embedder.
type Daemon struct {
	cfg     Config
	group   *rungroup
	manager *resync.BlockResyncManager
	pool    *resync.WorkerPool
	peers   *rpc.StaticPeers
}

// New wires every resync collaborator from cfg, the way ais/daemon.go's
// main() built a targetrunner out of cmn.config's settings before handing
// it to a rungroup.
func New(cfg Config) (*Daemon, error) {
	blockStore, err := store.NewFileStore(cfg.DataDir)
	if err != nil {
		return nil, err
	}

	peers := rpc.NewStaticPeers(resync.NodeID(cfg.SelfID))
	peers.Set(urlsToNodeIDs(cfg.Peers))
	repl := rpc.NewStaticReplication(peers, cfg.WriteQuorum)
	client := rpc.NewClient(peers)

	reg := prometheus.NewRegistry()
	mtr := metrics.NewPrometheus(reg)
	trc := tracing.NewOtel("resync")

	manager, err := resync.NewBlockResyncManager(resync.Deps{
		Store:        blockStore,
		Refcount:     blockStore,
		Repl:         repl,
		Rpc:          client,
		Metrics:      mtr,
		Tracer:       trc,
		SelfID:       resync.NodeID(cfg.SelfID),
		NeedEndpoint: rpc.NeedBlockEndpoint,
		PutEndpoint:  rpc.PutBlockEndpoint,
		QueuePath:    orEmpty(cfg.MetadataDir, "resync_queue"),
		ErrorsPath:   orEmpty(cfg.MetadataDir, "resync_errors"),
		MetadataDir:  cfg.MetadataDir,
	})
	if err != nil {
		return nil, err
	}

	pool := resync.NewWorkerPool(manager)

	server := rpc.NewServer(blockStore)
	fastSrv := &fasthttp.Server{Handler: server.Handler(), Name: "resyncd"}

	group := &rungroup{}
	group.add(&httpRunner{addr: cfg.ListenAddr, server: fastSrv}, "resync-http")
	group.add(pool, "resync-workers")

	return &Daemon{cfg: cfg, group: group, manager: manager, pool: pool, peers: peers}, nil
}

// Run blocks until one of the daemon's runners exits, then stops the rest.
func (d *Daemon) Run() error { return d.group.run() }

func (d *Daemon) Manager() *resync.BlockResyncManager { return d.manager }
func (d *Daemon) Pool() *resync.WorkerPool            { return d.pool }

// UpdatePeers replaces the node's known membership wholesale, e.g. after an
// operator pushes a new peer list (spec §1 Non-goals: discovering that list
// is out of scope; applying it once known is not).
func (d *Daemon) UpdatePeers(urls map[string]string) { d.peers.Set(urlsToNodeIDs(urls)) }

func urlsToNodeIDs(peers map[string]string) map[resync.NodeID]string {
	out := make(map[resync.NodeID]string, len(peers))
	for id, url := range peers {
		out[resync.NodeID(id)] = url
	}
	return out
}

func orEmpty(dir, name string) string {
	if dir == "" {
		return ""
	}
	return dir + "/" + name
}
