package raft

import (
	"context"
	"sort"
	"sync"
	"time"

	c "github.com/amirimatin/go-consensus/pkg/consensus"
	"github.com/amirimatin/go-consensus/pkg/internal/logutil"
	obsmetrics "github.com/amirimatin/go-consensus/pkg/observability/metrics"
	"github.com/amirimatin/go-consensus/pkg/transport"
)

// replicator drives one follower: it owns that follower's nextIndex and
// matchIndex and is the only goroutine sending AppendEntries to it.
type replicator struct {
	peer c.NodeID

	mu         sync.Mutex
	nextIndex  c.LogIndex
	matchIndex c.LogIndex

	notify chan struct{}
	cancel context.CancelFunc
}

func (r *replicator) kick() {
	select {
	case r.notify <- struct{}{}:
	default:
	}
}

func (n *Node) runLeader(ctx context.Context) {
	lctx, cancel := context.WithCancel(ctx)
	defer cancel()

	n.mu.Lock()
	term := n.term
	n.mu.Unlock()

	// A no-op entry for the fresh term lets earlier-term entries commit
	// under the current-term majority rule without waiting for traffic.
	if _, err := n.opts.Log.AppendAsLeader(term, c.EntryNoop, nil); err != nil {
		logutil.Errorf("raft: append leader no-op: %v", err)
	}

	var wg sync.WaitGroup
	n.syncReplicators(lctx, &wg, term)
	n.advanceCommit(term)

	refresh := time.NewTicker(4 * n.opts.HeartbeatInterval)
	defer refresh.Stop()
	for {
		select {
		case <-ctx.Done():
			n.teardownReplicators(&wg)
			return
		case <-n.stepDownCh:
			if n.Role() != RoleLeader {
				n.teardownReplicators(&wg)
				return
			}
		case <-n.matchCh:
			n.advanceCommit(term)
		case <-refresh.C:
			if n.Role() != RoleLeader {
				n.teardownReplicators(&wg)
				return
			}
			// Track membership changes while in office.
			n.syncReplicators(lctx, &wg, term)
		}
	}
}

// syncReplicators reconciles the replicator set against the current
// membership view.
func (n *Node) syncReplicators(ctx context.Context, wg *sync.WaitGroup, term c.Term) {
	peers := n.opts.Peers()
	want := make(map[c.NodeID]bool, len(peers))
	for _, p := range peers {
		want[p] = true
	}

	n.replMu.Lock()
	defer n.replMu.Unlock()
	for id, r := range n.repls {
		if !want[id] {
			r.cancel()
			delete(n.repls, id)
		}
	}
	for _, p := range peers {
		if _, ok := n.repls[p]; ok {
			continue
		}
		rctx, rcancel := context.WithCancel(ctx)
		r := &replicator{
			peer:      p,
			nextIndex: n.opts.Log.LastIndex() + 1,
			notify:    make(chan struct{}, 1),
			cancel:    rcancel,
		}
		n.repls[p] = r
		wg.Add(1)
		go func() {
			defer wg.Done()
			n.replicate(rctx, r, term)
		}()
	}
}

func (n *Node) teardownReplicators(wg *sync.WaitGroup) {
	n.replMu.Lock()
	for id, r := range n.repls {
		r.cancel()
		delete(n.repls, id)
	}
	n.replMu.Unlock()
	wg.Wait()
}

func (n *Node) kickReplicators() {
	n.replMu.Lock()
	for _, r := range n.repls {
		r.kick()
	}
	n.replMu.Unlock()
	// Wake the leader loop too, so a single-node cluster can commit
	// without any follower acknowledgment.
	n.signal(n.matchCh)
}

// replicate is the per-follower sender loop. Heartbeats ride the same
// path as entry replication.
func (n *Node) replicate(ctx context.Context, r *replicator, term c.Term) {
	ticker := time.NewTicker(n.opts.HeartbeatInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-r.notify:
		case <-ticker.C:
		}
		n.replicateOnce(ctx, r, term)
	}
}

func (n *Node) replicateOnce(ctx context.Context, r *replicator, term c.Term) {
	addr, ok := n.opts.Resolve(r.peer)
	if !ok {
		return
	}

	r.mu.Lock()
	next := r.nextIndex
	r.mu.Unlock()

	prevIndex := next - 1
	prevTerm := c.Term(0)
	if prevIndex > 0 {
		t, ok := n.opts.Log.Term(prevIndex)
		if !ok {
			// The suffix was truncated under us; restart from the head.
			r.mu.Lock()
			r.nextIndex = n.opts.Log.LastIndex() + 1
			r.mu.Unlock()
			return
		}
		prevTerm = t
	}

	last := n.opts.Log.LastIndex()
	var entries []c.LogEntry
	if last >= next {
		hi := last
		if max := next + c.LogIndex(n.opts.MaxAppendEntries) - 1; hi > max {
			hi = max
		}
		entries = n.opts.Log.Range(next, hi)
	}

	rctx, cancel := context.WithTimeout(ctx, n.opts.RPCTimeout)
	resp, err := n.opts.Client.AppendEntries(rctx, addr, transport.AppendRequest{
		Term:         term,
		LeaderID:     n.opts.NodeID,
		PrevLogIndex: prevIndex,
		PrevLogTerm:  prevTerm,
		Entries:      entries,
		LeaderCommit: n.opts.Log.CommitIndex(),
	})
	cancel()
	if err != nil {
		obsmetrics.AppendRPCs.WithLabelValues("error").Inc()
		return
	}
	if resp.Term > term {
		obsmetrics.AppendRPCs.WithLabelValues("stale_term").Inc()
		n.observeTerm(resp.Term)
		return
	}
	if resp.Success {
		obsmetrics.AppendRPCs.WithLabelValues("ok").Inc()
		if len(entries) > 0 {
			r.mu.Lock()
			r.matchIndex = entries[len(entries)-1].Index
			r.nextIndex = r.matchIndex + 1
			more := n.opts.Log.LastIndex() >= r.nextIndex
			r.mu.Unlock()
			n.signal(n.matchCh)
			if more {
				r.kick()
			}
		}
		return
	}

	obsmetrics.AppendRPCs.WithLabelValues("conflict").Inc()
	r.mu.Lock()
	switch {
	case resp.ConflictTerm != 0:
		// Skip past our last entry of the conflicting term, or to the
		// follower's hint when we never had that term.
		if idx := lastIndexOfTerm(n, resp.ConflictTerm, prevIndex); idx > 0 {
			r.nextIndex = idx + 1
		} else {
			r.nextIndex = maxIndex(1, resp.ConflictIndex)
		}
	case resp.ConflictIndex > 0:
		r.nextIndex = resp.ConflictIndex
	case r.nextIndex > 1:
		r.nextIndex--
	}
	r.mu.Unlock()
	r.kick()
}

// advanceCommit recomputes the majority-acknowledged index. Only entries
// of the current term commit by counting; earlier entries commit
// transitively.
func (n *Node) advanceCommit(term c.Term) {
	if n.Role() != RoleLeader {
		return
	}
	n.replMu.Lock()
	matches := make([]c.LogIndex, 0, len(n.repls)+1)
	for _, r := range n.repls {
		r.mu.Lock()
		matches = append(matches, r.matchIndex)
		r.mu.Unlock()
	}
	n.replMu.Unlock()
	matches = append(matches, n.opts.Log.LastIndex())
	sort.Slice(matches, func(i, j int) bool { return matches[i] > matches[j] })

	// matches is sorted descending; a majority of the cluster has at
	// least matches[majority-1].
	majority := len(matches)/2 + 1
	if majority > len(matches) {
		return
	}
	candidate := matches[majority-1]
	if candidate <= n.opts.Log.CommitIndex() {
		return
	}
	entryTerm, ok := n.opts.Log.Term(candidate)
	if !ok || entryTerm != term {
		return
	}
	if n.opts.Log.MarkCommitted(candidate) {
		obsmetrics.CommitIndex.Set(float64(n.opts.Log.CommitIndex()))
		n.resolveWaiters(n.opts.Log.CommitIndex())
	}
}

func lastIndexOfTerm(n *Node, term c.Term, upTo c.LogIndex) c.LogIndex {
	for i := upTo; i >= 1; i-- {
		t, ok := n.opts.Log.Term(i)
		if !ok {
			return 0
		}
		if t == term {
			return i
		}
		if t < term {
			return 0
		}
	}
	return 0
}

func maxIndex(a, b c.LogIndex) c.LogIndex {
	if a > b {
		return a
	}
	return b
}
