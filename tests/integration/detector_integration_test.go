//go:build integration

package integration

import (
	"context"
	"testing"
	"time"

	"github.com/amirimatin/go-consensus/pkg/membership"
)

// A crashed node must be suspected and then declared dead by every
// survivor, and a running node must never be declared dead.
func TestFailureDetectorSoundness(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 60*time.Second)
	defer cancel()
	nodes := startCluster(t, ctx, 3, 7601, time.Hour)

	waitUntil(t, 20*time.Second, func() error {
		for _, n := range nodes {
			if len(n.Engine.Members()) != 3 {
				return errNotYet
			}
		}
		return nil
	})

	// Healthy steady state: nobody is suspect or dead.
	time.Sleep(time.Second)
	for _, n := range nodes {
		for _, m := range n.Engine.Members() {
			if m.State != membership.StateAlive {
				t.Fatalf("healthy member %s seen as %s", m.ID, m.State)
			}
		}
	}

	victimID := nodes[2].Engine.Status().NodeID
	stopCtx, stopCancel := context.WithTimeout(context.Background(), 5*time.Second)
	_ = nodes[2].Stop(stopCtx)
	stopCancel()

	survivors := nodes[:2]
	waitUntil(t, 20*time.Second, func() error {
		for _, n := range survivors {
			found := false
			for _, m := range n.Engine.Members() {
				if m.ID == victimID && m.State == membership.StateDead {
					found = true
				}
			}
			if !found {
				return errNotYet
			}
		}
		return nil
	})

	// Survivors still consider each other alive.
	for _, n := range survivors {
		for _, m := range n.Engine.Members() {
			if m.ID != victimID && m.State == membership.StateDead {
				t.Fatalf("live member %s wrongly declared dead", m.ID)
			}
		}
	}
}
