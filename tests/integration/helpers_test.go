//go:build integration

package integration

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/amirimatin/go-consensus/pkg/bootstrap"
	"github.com/amirimatin/go-consensus/pkg/config"
	"github.com/amirimatin/go-consensus/pkg/statemachine"
)

var errNotYet = errors.New("not yet")

// nodeHandle pairs a node with the config needed to restart it.
type nodeHandle struct {
	cfg  config.Config
	node *bootstrap.Node
}

// nodeSpec positions one node on the loopback interface.
type nodeSpec struct {
	name string
	port int
}

// buildConfig returns a fast-timer loopback config for one node.
func buildConfig(spec nodeSpec, dataDir string, seeds []string) config.Config {
	cfg := config.Default()
	cfg.Node.Name = spec.name
	cfg.Node.BindAddr = fmt.Sprintf("127.0.0.1:%d", spec.port)
	cfg.Node.AdvertiseAddr = cfg.Node.BindAddr
	cfg.Node.DataDir = dataDir
	cfg.Consensus.HeartbeatInterval = 25 * time.Millisecond
	cfg.Consensus.ElectionTimeoutMin = 150 * time.Millisecond
	cfg.Consensus.ElectionTimeoutMax = 300 * time.Millisecond
	cfg.Consensus.RPCTimeout = 100 * time.Millisecond
	cfg.Consensus.StabilityWindow = time.Hour
	cfg.Membership.ProbeInterval = 100 * time.Millisecond
	cfg.Membership.ProbeTimeout = 50 * time.Millisecond
	cfg.Membership.SuspicionGrace = 500 * time.Millisecond
	cfg.Membership.EvictionGrace = 5 * time.Second
	cfg.Discovery.Mode = "static"
	cfg.Discovery.Seeds = seeds
	cfg.Metrics.Addr = ""
	return cfg
}

func startNode(t *testing.T, ctx context.Context, cfg config.Config) *bootstrap.Node {
	t.Helper()
	n, err := bootstrap.Build(cfg)
	if err != nil {
		t.Fatalf("build %s: %v", cfg.Node.Name, err)
	}
	if err := n.Start(ctx); err != nil {
		t.Fatalf("start %s: %v", cfg.Node.Name, err)
	}
	return n
}

// startCluster brings up n nodes on consecutive ports starting at
// base, all seeded with the first node's address.
func startCluster(t *testing.T, ctx context.Context, n, base int, window time.Duration) []*bootstrap.Node {
	t.Helper()
	seed := fmt.Sprintf("127.0.0.1:%d", base)
	nodes := make([]*bootstrap.Node, 0, n)
	for i := 0; i < n; i++ {
		spec := nodeSpec{name: fmt.Sprintf("n%d", i+1), port: base + i}
		var seeds []string
		if i > 0 {
			seeds = []string{seed}
		}
		cfg := buildConfig(spec, "memory", seeds)
		cfg.Consensus.StabilityWindow = window
		node := startNode(t, ctx, cfg)
		t.Cleanup(func() {
			stopCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = node.Stop(stopCtx)
		})
		nodes = append(nodes, node)
	}
	return nodes
}

func waitUntil(t *testing.T, d time.Duration, cond func() error) {
	t.Helper()
	deadline := time.Now().Add(d)
	var last error
	for time.Now().Before(deadline) {
		if last = cond(); last == nil {
			return
		}
		time.Sleep(20 * time.Millisecond)
	}
	t.Fatalf("condition not met within %v: %v", d, last)
}

func findLeader(nodes []*bootstrap.Node) *bootstrap.Node {
	for _, n := range nodes {
		if n != nil && n.Engine.IsLeader() {
			return n
		}
	}
	return nil
}

func proposeKV(ctx context.Context, n *bootstrap.Node, key, value string) error {
	cmd, err := statemachine.EncodeCommand(statemachine.Command{Op: "set", Key: key, Value: value})
	if err != nil {
		return err
	}
	_, err = n.Engine.Propose(ctx, cmd)
	return err
}
