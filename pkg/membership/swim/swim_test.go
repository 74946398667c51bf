package swim_test

import (
	"context"
	"testing"
	"time"

	c "github.com/amirimatin/go-consensus/pkg/consensus"
	"github.com/amirimatin/go-consensus/pkg/membership"
	"github.com/amirimatin/go-consensus/pkg/membership/swim"
	"github.com/amirimatin/go-consensus/pkg/transport"
	"github.com/amirimatin/go-consensus/pkg/transport/inmem"
)

// gossipHandler exposes only the failure-detector RPCs; the consensus
// methods are inert.
type gossipHandler struct{ m *swim.Manager }

func (h gossipHandler) HandleRequestVote(ctx context.Context, req transport.VoteRequest) (transport.VoteResponse, error) {
	return transport.VoteResponse{}, nil
}
func (h gossipHandler) HandleAppendEntries(ctx context.Context, req transport.AppendRequest) (transport.AppendResponse, error) {
	return transport.AppendResponse{}, nil
}
func (h gossipHandler) HandlePrepare(ctx context.Context, req transport.PrepareRequest) (transport.PrepareResponse, error) {
	return transport.PrepareResponse{}, nil
}
func (h gossipHandler) HandleAccept(ctx context.Context, req transport.AcceptRequest) (transport.AcceptResponse, error) {
	return transport.AcceptResponse{}, nil
}
func (h gossipHandler) HandlePing(ctx context.Context, req transport.PingRequest) (transport.PingResponse, error) {
	return h.m.HandlePing(ctx, req)
}
func (h gossipHandler) HandlePingReq(ctx context.Context, req transport.PingReqRequest) (transport.PingResponse, error) {
	return h.m.HandlePingReq(ctx, req)
}

func fastOpts(id c.NodeID, addr string, cl transport.Client) swim.Options {
	return swim.Options{
		NodeID:              id,
		Addr:                addr,
		Client:              cl,
		ProbeInterval:       20 * time.Millisecond,
		ProbeTimeout:        10 * time.Millisecond,
		ProbeFanout:         2,
		IndirectRelays:      1,
		IndirectRetries:     1,
		PhiWindow:           16,
		PhiThreshold:        3,
		PhiMinSamples:       3,
		SuspicionGrace:      80 * time.Millisecond,
		EvictionGrace:       150 * time.Millisecond,
		AntiEntropyInterval: 50 * time.Millisecond,
	}
}

func startMember(t *testing.T, ctx context.Context, mesh *inmem.Mesh, id c.NodeID, addr string) *swim.Manager {
	t.Helper()
	m, err := swim.New(fastOpts(id, addr, mesh.Client(addr)))
	if err != nil {
		t.Fatalf("swim.New(%s): %v", id, err)
	}
	srv := mesh.Server(addr)
	srv.Register(gossipHandler{m: m})
	if err := srv.Start(ctx); err != nil {
		t.Fatalf("server start %s: %v", addr, err)
	}
	if err := m.Start(ctx); err != nil {
		t.Fatalf("swim start %s: %v", id, err)
	}
	t.Cleanup(func() { _ = m.Stop() })
	return m
}

func waitFor(t *testing.T, d time.Duration, cond func() bool, msg string) {
	t.Helper()
	deadline := time.Now().Add(d)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("timeout waiting for %s", msg)
}

func TestJoinConvergesViews(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	mesh := inmem.NewMesh()
	a := startMember(t, ctx, mesh, "a", "node-a")
	b := startMember(t, ctx, mesh, "b", "node-b")

	if err := a.Join([]string{"node-b"}); err != nil {
		t.Fatalf("join: %v", err)
	}
	waitFor(t, 3*time.Second, func() bool {
		return len(a.Members()) == 2 && len(b.Members()) == 2
	}, "both members visible on both nodes")

	for _, mem := range a.Members() {
		if mem.State != membership.StateAlive {
			t.Fatalf("member %s state = %s, want alive", mem.ID, mem.State)
		}
	}
}

func TestAddNodeIsResolvableAndGossiped(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	mesh := inmem.NewMesh()
	a := startMember(t, ctx, mesh, "a", "node-a")
	b := startMember(t, ctx, mesh, "b", "node-b")
	if err := a.Join([]string{"node-b"}); err != nil {
		t.Fatalf("join: %v", err)
	}

	id, err := a.AddNode("worker", "node-c")
	if err != nil {
		t.Fatalf("AddNode: %v", err)
	}
	mem, ok := a.Member(id)
	if !ok {
		t.Fatalf("AddNode id %s not resolvable locally", id)
	}
	if mem.Addr != "node-c" || mem.State != membership.StateAlive {
		t.Fatalf("unexpected member after AddNode: %+v", mem)
	}
	waitFor(t, 3*time.Second, func() bool {
		_, ok := b.Member(id)
		return ok
	}, "added node gossiped to peer")
}

func TestSuspicionRefutedByIncarnationBump(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	mesh := inmem.NewMesh()
	b := startMember(t, ctx, mesh, "b", "node-b")

	before := b.Local().Incarnation
	resp, err := b.HandlePing(ctx, transport.PingRequest{
		From: "a",
		Seq:  1,
		Updates: []transport.MemberUpdate{
			{ID: "b", Addr: "node-b", State: "suspect", Incarnation: before},
		},
	})
	if err != nil {
		t.Fatalf("HandlePing: %v", err)
	}
	local := b.Local()
	if local.State != membership.StateAlive {
		t.Fatalf("local state after refutation = %s, want alive", local.State)
	}
	if local.Incarnation <= before {
		t.Fatalf("incarnation not bumped: before=%d after=%d", before, local.Incarnation)
	}
	found := false
	for _, u := range resp.Updates {
		if u.ID == "b" && u.State == "alive" && u.Incarnation == local.Incarnation {
			found = true
		}
	}
	if !found {
		t.Fatalf("refutation rumor not piggybacked: %+v", resp.Updates)
	}
}

func TestMergePrecedenceRules(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	mesh := inmem.NewMesh()
	a := startMember(t, ctx, mesh, "a", "node-a")

	feed := func(state string, inc uint64) {
		_, err := a.HandlePing(ctx, transport.PingRequest{
			From: "x",
			Seq:  1,
			Updates: []transport.MemberUpdate{
				{ID: "p", Addr: "node-p", State: state, Incarnation: inc},
			},
		})
		if err != nil {
			t.Fatalf("HandlePing: %v", err)
		}
	}

	feed("alive", 1)
	if mem, ok := a.Member("p"); !ok || mem.State != membership.StateAlive {
		t.Fatalf("expected alive member p, got %+v ok=%v", mem, ok)
	}
	// Dead outranks Alive at equal incarnation.
	feed("dead", 1)
	if mem, _ := a.Member("p"); mem.State != membership.StateDead {
		t.Fatalf("dead rumor at equal incarnation ignored: %+v", mem)
	}
	// A stale or equal-incarnation Alive cannot resurrect.
	feed("alive", 1)
	if mem, _ := a.Member("p"); mem.State != membership.StateDead {
		t.Fatalf("equal-incarnation alive resurrected dead member: %+v", mem)
	}
	// A higher incarnation can.
	feed("alive", 2)
	if mem, _ := a.Member("p"); mem.State != membership.StateAlive || mem.Incarnation != 2 {
		t.Fatalf("higher-incarnation alive not applied: %+v", mem)
	}
}

func TestCrashedMemberSuspectedThenEvicted(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	mesh := inmem.NewMesh()
	a := startMember(t, ctx, mesh, "a", "node-a")
	startMember(t, ctx, mesh, "b", "node-b")
	if err := a.Join([]string{"node-b"}); err != nil {
		t.Fatalf("join: %v", err)
	}
	waitFor(t, 3*time.Second, func() bool { return len(a.Members()) == 2 }, "initial convergence")

	// Let the detector accumulate arrival samples, then crash b.
	time.Sleep(200 * time.Millisecond)
	mesh.Disconnect("node-b")

	waitFor(t, 5*time.Second, func() bool {
		mem, ok := a.Member("b")
		return ok && mem.State != membership.StateAlive
	}, "b suspected")
	waitFor(t, 5*time.Second, func() bool {
		_, ok := a.Member("b")
		return !ok
	}, "b evicted after grace")

	s := a.Stats()
	if s.Alive != 1 {
		t.Fatalf("stats after eviction = %+v, want 1 alive", s)
	}
}

func TestEventStreamReportsLifecycle(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	mesh := inmem.NewMesh()
	a := startMember(t, ctx, mesh, "a", "node-a")
	b := startMember(t, ctx, mesh, "b", "node-b")

	seen := make(map[membership.EventType]bool)
	done := make(chan struct{})
	go func() {
		defer close(done)
		for ev := range a.Events() {
			if ev.Member.ID == "b" {
				seen[ev.Type] = true
			}
			if seen[membership.EventJoin] && seen[membership.EventFailed] {
				return
			}
		}
	}()

	if err := a.Join([]string{"node-b"}); err != nil {
		t.Fatalf("join: %v", err)
	}
	waitFor(t, 3*time.Second, func() bool { return len(b.Members()) == 2 }, "convergence")
	time.Sleep(200 * time.Millisecond)
	mesh.Disconnect("node-b")

	select {
	case <-done:
	case <-time.After(10 * time.Second):
		t.Fatal("timed out waiting for join and failed events for b")
	}
}
