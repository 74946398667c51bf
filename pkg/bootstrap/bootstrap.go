// Package bootstrap assembles a runnable node from its file
// configuration: storage, transport, membership, consensus and the
// engine facade, plus the metrics endpoint.
package bootstrap

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	c "github.com/amirimatin/go-consensus/pkg/consensus"
	"github.com/amirimatin/go-consensus/pkg/config"
	"github.com/amirimatin/go-consensus/pkg/consensus/hybrid"
	consenlog "github.com/amirimatin/go-consensus/pkg/consensus/log"
	"github.com/amirimatin/go-consensus/pkg/consensus/paxos"
	"github.com/amirimatin/go-consensus/pkg/consensus/raft"
	"github.com/amirimatin/go-consensus/pkg/discovery"
	discfile "github.com/amirimatin/go-consensus/pkg/discovery/file"
	"github.com/amirimatin/go-consensus/pkg/discovery/static"
	"github.com/amirimatin/go-consensus/pkg/engine"
	"github.com/amirimatin/go-consensus/pkg/internal/logutil"
	"github.com/amirimatin/go-consensus/pkg/membership"
	"github.com/amirimatin/go-consensus/pkg/membership/swim"
	obsmetrics "github.com/amirimatin/go-consensus/pkg/observability/metrics"
	"github.com/amirimatin/go-consensus/pkg/security/tlsconfig"
	"github.com/amirimatin/go-consensus/pkg/statemachine"
	"github.com/amirimatin/go-consensus/pkg/storage"
	boltstore "github.com/amirimatin/go-consensus/pkg/storage/bolt"
	grpctransport "github.com/amirimatin/go-consensus/pkg/transport/grpc"
)

// Node bundles a built engine with the resources it owns.
type Node struct {
	Engine *engine.Engine
	KV     *statemachine.KV
	Config config.Config

	client     *grpctransport.Client
	store      storage.LogStore
	disc       discovery.Discovery
	metricsSrv *http.Server
}

// logStable is satisfied by both the bolt and in-memory stores.
type logStable interface {
	storage.LogStore
	storage.StableStore
}

// Build wires a node from cfg. Nothing is started until Start.
func Build(cfg config.Config) (*Node, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	logutil.SetLevel(cfg.Logging.Level)
	obsmetrics.Register()

	var store logStable
	if cfg.Node.DataDir == "" || cfg.Node.DataDir == "memory" {
		store = storage.NewInmem()
	} else {
		bs, err := boltstore.Open(cfg.Node.DataDir)
		if err != nil {
			return nil, fmt.Errorf("bootstrap: open data dir: %w", err)
		}
		store = bs
	}
	l, err := consenlog.New(store)
	if err != nil {
		return nil, err
	}

	tlsOpts := tlsconfig.Options{
		Enable:     cfg.TLS.Enabled,
		CAFile:     cfg.TLS.CAFile,
		CertFile:   cfg.TLS.CertFile,
		KeyFile:    cfg.TLS.KeyFile,
		ServerName: cfg.TLS.ServerName,
	}
	client := grpctransport.NewClient(cfg.Consensus.RPCTimeout)
	if clientTLS, err := tlsOpts.ClientHotReload(); err != nil {
		return nil, err
	} else if clientTLS != nil {
		client.UseTLS(clientTLS)
	}
	server := grpctransport.NewServer(cfg.Node.BindAddr)
	if serverTLS, err := tlsOpts.ServerHotReload(); err != nil {
		return nil, err
	} else if serverTLS != nil {
		server.UseTLS(serverTLS)
	}

	nodeID := c.NodeID(cfg.Node.Name)
	mem, err := swim.New(swim.Options{
		NodeID:         nodeID,
		Addr:           cfg.Node.AdvertiseAddr,
		Client:         client,
		ProbeInterval:  cfg.Membership.ProbeInterval,
		ProbeTimeout:   cfg.Membership.ProbeTimeout,
		PhiThreshold:   cfg.Membership.PhiThreshold,
		SuspicionGrace: cfg.Membership.SuspicionGrace,
		EvictionGrace:  cfg.Membership.EvictionGrace,
	})
	if err != nil {
		return nil, err
	}

	// Consensus resolves voting peers through the membership table;
	// evicted members drop out of quorum math automatically.
	peers := func() []c.NodeID {
		members := mem.Members()
		out := make([]c.NodeID, 0, len(members))
		for _, m := range members {
			if m.ID == nodeID || m.State == membership.StateDead {
				continue
			}
			out = append(out, m.ID)
		}
		return out
	}
	resolve := func(id c.NodeID) (string, bool) {
		m, ok := mem.Member(id)
		if !ok || m.Addr == "" {
			return "", false
		}
		return m.Addr, true
	}

	rn, err := raft.New(raft.Options{
		NodeID:             nodeID,
		Client:             client,
		Log:                l,
		Stable:             store,
		Peers:              peers,
		Resolve:            resolve,
		HeartbeatInterval:  cfg.Consensus.HeartbeatInterval,
		ElectionTimeoutMin: cfg.Consensus.ElectionTimeoutMin,
		ElectionTimeoutMax: cfg.Consensus.ElectionTimeoutMax,
		MaxAppendEntries:   cfg.Consensus.MaxAppendEntries,
		RPCTimeout:         cfg.Consensus.RPCTimeout,
	})
	if err != nil {
		return nil, err
	}
	acceptor := paxos.NewAcceptor(l)
	proposer, err := paxos.NewProposer(paxos.Options{
		NodeID:     nodeID,
		Client:     client,
		Log:        l,
		Local:      acceptor,
		Peers:      peers,
		Resolve:    resolve,
		RPCTimeout: cfg.Consensus.RPCTimeout,
	})
	if err != nil {
		return nil, err
	}
	ctrl, err := hybrid.New(hybrid.Options{
		NodeID:          nodeID,
		Raft:            rn,
		Log:             l,
		Proposer:        proposer,
		StabilityWindow: cfg.Consensus.StabilityWindow,
		MaxInflight:     cfg.Consensus.MaxInflight,
	})
	if err != nil {
		return nil, err
	}

	kv := statemachine.NewKV()
	eng, err := engine.New(engine.Options{
		NodeID:     nodeID,
		Hybrid:     ctrl,
		Raft:       rn,
		Acceptor:   acceptor,
		Membership: mem,
		Gossip:     mem,
		Log:        l,
		Machine:    kv,
		Server:     server,
	})
	if err != nil {
		return nil, err
	}

	var disc discovery.Discovery
	switch cfg.Discovery.Mode {
	case "file":
		disc = discfile.New(discfile.Options{
			Path:    cfg.Discovery.File,
			Env:     "CONSENSUS_SEEDS",
			Refresh: cfg.Discovery.Refresh,
		})
	default:
		disc = static.New(cfg.Discovery.Seeds...)
	}

	return &Node{
		Engine: eng,
		KV:     kv,
		Config: cfg,
		client: client,
		store:  store,
		disc:   disc,
	}, nil
}

// Start brings the engine up, joins the discovered seeds and exposes
// the metrics endpoint when enabled. Failing to reach any seed is not
// fatal; the node keeps retrying through gossip once at least one peer
// answers a later join.
func (n *Node) Start(ctx context.Context) error {
	if err := n.Engine.Start(ctx); err != nil {
		return err
	}
	if seeds := n.disc.Seeds(); len(seeds) > 0 {
		if err := n.Engine.Join(seeds); err != nil {
			logutil.Warnf("bootstrap: join seeds: %v", err)
		}
	}
	if n.Config.Metrics.Addr != "" {
		mux := http.NewServeMux()
		if n.Config.Metrics.Enabled {
			mux.Handle("/metrics", promhttp.Handler())
		}
		n.registerAdmin(mux)
		n.metricsSrv = &http.Server{Addr: n.Config.Metrics.Addr, Handler: mux}
		go func() {
			if err := n.metricsSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				logutil.Errorf("bootstrap: admin server: %v", err)
			}
		}()
	}
	return nil
}

// Stop shuts everything down and releases the stores.
func (n *Node) Stop(ctx context.Context) error {
	err := n.Engine.Stop(ctx)
	if n.metricsSrv != nil {
		shutCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		_ = n.metricsSrv.Shutdown(shutCtx)
		cancel()
	}
	n.client.Close()
	if cerr := n.store.Close(); cerr != nil && err == nil {
		err = cerr
	}
	return err
}
