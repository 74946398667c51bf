//go:build integration

package integration

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/amirimatin/go-consensus/pkg/consensus/hybrid"
)

// A stable leader switches to the fast replication path, keeps
// committing through it, and falls back to normal mode the moment the
// cluster churns.
func TestSteadyStatePromotionAndFallback(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 90*time.Second)
	defer cancel()
	nodes := startCluster(t, ctx, 3, 7581, 500*time.Millisecond)

	waitUntil(t, 20*time.Second, func() error {
		for _, n := range nodes {
			if len(n.Engine.Members()) != 3 {
				return errNotYet
			}
		}
		if findLeader(nodes) == nil {
			return errNotYet
		}
		return nil
	})
	leader := findLeader(nodes)

	waitUntil(t, 20*time.Second, func() error {
		if leader.Engine.Mode() != hybrid.ModeSteadyState {
			return errNotYet
		}
		return nil
	})

	for i := 0; i < 10; i++ {
		if err := proposeKV(ctx, leader, fmt.Sprintf("steady-%d", i), "v"); err != nil {
			t.Fatalf("steady propose %d: %v", i, err)
		}
	}
	snap := leader.Engine.Metrics()
	if snap.SteadyProposals == 0 {
		t.Fatalf("expected steady-state proposals, snapshot %+v", snap)
	}

	// Kill a follower; suspicion must demote the leader immediately.
	var victim int
	for i, n := range nodes {
		if n != leader {
			victim = i
			break
		}
	}
	stopCtx, stopCancel := context.WithTimeout(context.Background(), 5*time.Second)
	_ = nodes[victim].Stop(stopCtx)
	stopCancel()

	waitUntil(t, 20*time.Second, func() error {
		if leader.Engine.Mode() != hybrid.ModeNormal {
			return errNotYet
		}
		return nil
	})

	// Proposals keep committing on the raft path with one node down.
	if err := proposeKV(ctx, leader, "after-churn", "v"); err != nil {
		t.Fatalf("propose after churn: %v", err)
	}
	for i, n := range nodes {
		if i == victim || n == leader {
			continue
		}
		survivor := n
		waitUntil(t, 10*time.Second, func() error {
			if _, ok := survivor.KV.Get("after-churn"); !ok {
				return errNotYet
			}
			return nil
		})
	}
}
