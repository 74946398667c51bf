//go:build integration

package integration

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"
)

func TestThreeNodesReplicateHundredEntries(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 60*time.Second)
	defer cancel()
	nodes := startCluster(t, ctx, 3, 7501, time.Hour)

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
	for i := 0; i < 100; i++ {
		if err := proposeKV(ctx, leader, fmt.Sprintf("key-%03d", i), fmt.Sprintf("val-%03d", i)); err != nil {
			t.Fatalf("propose %d: %v", i, err)
		}
	}

	waitUntil(t, 20*time.Second, func() error {
		for _, n := range nodes {
			if n.KV.Len() != 100 {
				return errNotYet
			}
			if v, ok := n.KV.Get("key-099"); !ok || v != "val-099" {
				return errNotYet
			}
		}
		return nil
	})
}

func TestConcurrentProposalsAgreeOnFinalState(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 60*time.Second)
	defer cancel()
	nodes := startCluster(t, ctx, 3, 7521, time.Hour)

	waitUntil(t, 20*time.Second, func() error {
		if findLeader(nodes) == nil {
			return errNotYet
		}
		return nil
	})
	leader := findLeader(nodes)

	const workers = 4
	const perWorker = 10
	var wg sync.WaitGroup
	errs := make(chan error, workers*perWorker)
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func(w int) {
			defer wg.Done()
			for i := 0; i < perWorker; i++ {
				// Distinct keys prove delivery; the shared key proves
				// every node applies the same winner.
				if err := proposeKV(ctx, leader, fmt.Sprintf("w%d-%d", w, i), "x"); err != nil {
					errs <- err
					return
				}
				if err := proposeKV(ctx, leader, "winner", fmt.Sprintf("w%d-%d", w, i)); err != nil {
					errs <- err
					return
				}
			}
		}(w)
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		t.Fatalf("concurrent propose: %v", err)
	}

	waitUntil(t, 20*time.Second, func() error {
		want := nodes[0].KV.Len()
		if want < workers*perWorker {
			return errNotYet
		}
		winner, ok := nodes[0].KV.Get("winner")
		if !ok {
			return errNotYet
		}
		for _, n := range nodes[1:] {
			if n.KV.Len() != want {
				return errNotYet
			}
			if v, _ := n.KV.Get("winner"); v != winner {
				return fmt.Errorf("winner diverged: %q vs %q", v, winner)
			}
		}
		return nil
	})
}
