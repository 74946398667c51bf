package raft

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"sync"
	"time"

	c "github.com/amirimatin/go-consensus/pkg/consensus"
	"github.com/amirimatin/go-consensus/pkg/consensus/log"
	"github.com/amirimatin/go-consensus/pkg/internal/logutil"
	obsmetrics "github.com/amirimatin/go-consensus/pkg/observability/metrics"
	"github.com/amirimatin/go-consensus/pkg/transport"
)

// Role is the local raft role.
type Role uint8

const (
	RoleFollower Role = iota
	RoleCandidate
	RoleLeader
)

func (r Role) String() string {
	switch r {
	case RoleFollower:
		return "follower"
	case RoleCandidate:
		return "candidate"
	case RoleLeader:
		return "leader"
	default:
		return "unknown"
	}
}

type waiter struct {
	term c.Term
	ch   chan error
}

// Node implements leader election and per-entry replication. It is the
// fallback protocol used whenever membership is in flux, and it keeps
// heartbeating even while the steady-state path handles proposals, so a
// single election timer governs both modes.
type Node struct {
	opts Options

	mu       sync.Mutex
	role     Role
	term     c.Term
	votedFor c.NodeID
	leaderID c.NodeID
	started  bool
	stopped  bool

	// heartbeatCh resets the election timer; stepDownCh tells an active
	// leader loop that a handler demoted it; matchCh wakes the commit
	// advancer after a follower acknowledgment.
	heartbeatCh chan struct{}
	stepDownCh  chan struct{}
	matchCh     chan struct{}

	leaderCh chan c.LeaderInfo

	waitMu  sync.Mutex
	waiters map[c.LogIndex][]waiter

	replMu sync.Mutex
	repls  map[c.NodeID]*replicator

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New constructs a raft node, restoring term and vote from the stable
// store.
func New(opts Options) (*Node, error) {
	if err := opts.Validate(); err != nil {
		return nil, err
	}
	term, votedFor, err := opts.Stable.HardState()
	if err != nil {
		return nil, fmt.Errorf("raft: restore hard state: %w", err)
	}
	n := &Node{
		opts:        opts,
		role:        RoleFollower,
		term:        term,
		votedFor:    votedFor,
		heartbeatCh: make(chan struct{}, 1),
		stepDownCh:  make(chan struct{}, 1),
		matchCh:     make(chan struct{}, 1),
		leaderCh:    make(chan c.LeaderInfo, 8),
		waiters:     make(map[c.LogIndex][]waiter),
		repls:       make(map[c.NodeID]*replicator),
	}
	return n, nil
}

// Start launches the role loop. It returns immediately; election follows
// after the first timeout.
func (n *Node) Start(ctx context.Context) error {
	n.mu.Lock()
	if n.started {
		n.mu.Unlock()
		return nil
	}
	if n.stopped {
		n.mu.Unlock()
		return c.ErrStopped
	}
	n.started = true
	n.mu.Unlock()

	ctx, cancel := context.WithCancel(ctx)
	n.cancel = cancel
	n.wg.Add(1)
	go func() {
		defer n.wg.Done()
		n.run(ctx)
	}()
	return nil
}

// Stop cancels all loops and in-flight RPCs and fails pending proposals.
func (n *Node) Stop() error {
	n.mu.Lock()
	if n.stopped {
		n.mu.Unlock()
		return nil
	}
	n.stopped = true
	started := n.started
	n.mu.Unlock()
	if started && n.cancel != nil {
		n.cancel()
		n.wg.Wait()
	}
	n.failWaiters(c.ErrStopped)
	return nil
}

func (n *Node) IsLeader() bool {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.role == RoleLeader
}

func (n *Node) Leader() (c.NodeID, bool) {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.leaderID, n.leaderID != ""
}

func (n *Node) Term() c.Term {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.term
}

// Role reports the current local role.
func (n *Node) Role() Role {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.role
}

// LeaderCh emits leadership changes. An empty ID means leadership was
// lost with no successor known yet. The channel coalesces under a slow
// reader rather than blocking.
func (n *Node) LeaderCh() <-chan c.LeaderInfo { return n.leaderCh }

// Propose appends payload as a new entry and blocks until it commits on
// a majority or leadership is lost.
func (n *Node) Propose(ctx context.Context, payload []byte) (c.LogIndex, error) {
	return n.propose(ctx, c.EntryNormal, payload)
}

func (n *Node) propose(ctx context.Context, kind c.EntryKind, payload []byte) (c.LogIndex, error) {
	n.mu.Lock()
	if n.stopped {
		n.mu.Unlock()
		return 0, c.ErrStopped
	}
	if n.role != RoleLeader {
		n.mu.Unlock()
		return 0, c.ErrNotLeader
	}
	term := n.term
	n.mu.Unlock()

	entry, err := n.opts.Log.AppendAsLeader(term, kind, payload)
	if err != nil {
		return 0, err
	}
	ch := n.registerWaiter(entry.Index, term)
	n.kickReplicators()

	select {
	case err := <-ch:
		if err != nil {
			return 0, err
		}
		return entry.Index, nil
	case <-ctx.Done():
		n.dropWaiter(entry.Index, ch)
		return 0, fmt.Errorf("%w: proposal at index %d", c.ErrTimeout, entry.Index)
	}
}

// VerifyQuorum performs one synchronous heartbeat round and reports
// whether a majority of the membership acknowledged this leader's log
// head. Used by the recovery audit.
func (n *Node) VerifyQuorum(ctx context.Context) error {
	n.mu.Lock()
	if n.role != RoleLeader {
		n.mu.Unlock()
		return c.ErrNotLeader
	}
	term := n.term
	n.mu.Unlock()

	peers := n.opts.Peers()
	needed := (len(peers)+1)/2 + 1
	acks := 1
	var mu sync.Mutex
	var wg sync.WaitGroup
	lastIndex := n.opts.Log.LastIndex()
	lastTerm := n.opts.Log.LastTerm()
	for _, p := range peers {
		addr, ok := n.opts.Resolve(p)
		if !ok {
			continue
		}
		wg.Add(1)
		go func(addr string) {
			defer wg.Done()
			rctx, cancel := context.WithTimeout(ctx, n.opts.RPCTimeout)
			defer cancel()
			resp, err := n.opts.Client.AppendEntries(rctx, addr, transport.AppendRequest{
				Term:         term,
				LeaderID:     n.opts.NodeID,
				PrevLogIndex: lastIndex,
				PrevLogTerm:  lastTerm,
				LeaderCommit: n.opts.Log.CommitIndex(),
			})
			if err == nil && resp.Success {
				mu.Lock()
				acks++
				mu.Unlock()
			}
		}(addr)
	}
	wg.Wait()
	if acks < needed {
		return fmt.Errorf("%w: %d of %d acknowledged", c.ErrNoQuorum, acks, needed)
	}
	return nil
}

func (n *Node) run(ctx context.Context) {
	for ctx.Err() == nil {
		switch n.Role() {
		case RoleFollower:
			n.runFollower(ctx)
		case RoleCandidate:
			n.runCandidate(ctx)
		case RoleLeader:
			n.runLeader(ctx)
		}
	}
}

func (n *Node) randTimeout() time.Duration {
	min := n.opts.ElectionTimeoutMin
	max := n.opts.ElectionTimeoutMax
	return min + time.Duration(rand.Int63n(int64(max-min)))
}

func (n *Node) runFollower(ctx context.Context) {
	timer := time.NewTimer(n.randTimeout())
	defer timer.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-n.heartbeatCh:
			if !timer.Stop() {
				select {
				case <-timer.C:
				default:
				}
			}
			timer.Reset(n.randTimeout())
		case <-n.stepDownCh:
			// Stale signal from a previous leadership; ignore.
		case <-timer.C:
			n.mu.Lock()
			n.role = RoleCandidate
			n.mu.Unlock()
			return
		}
	}
}

func (n *Node) runCandidate(ctx context.Context) {
	n.mu.Lock()
	n.term++
	n.votedFor = n.opts.NodeID
	n.leaderID = ""
	term := n.term
	if err := n.opts.Stable.SetHardState(n.term, n.votedFor); err != nil {
		logutil.Errorf("raft: persist hard state: %v", err)
	}
	n.mu.Unlock()

	obsmetrics.Elections.Inc()
	obsmetrics.CurrentTerm.Set(float64(term))
	logutil.Infof("raft: %s starting election for term %d", n.opts.NodeID, term)

	peers := n.opts.Peers()
	needed := (len(peers)+1)/2 + 1
	votes := 1
	votesCh := make(chan bool, len(peers))
	lastIndex := n.opts.Log.LastIndex()
	lastTerm := n.opts.Log.LastTerm()

	for _, p := range peers {
		addr, ok := n.opts.Resolve(p)
		if !ok {
			votesCh <- false
			continue
		}
		go func(addr string) {
			rctx, cancel := context.WithTimeout(ctx, n.opts.RPCTimeout)
			defer cancel()
			resp, err := n.opts.Client.RequestVote(rctx, addr, transport.VoteRequest{
				Term:         term,
				CandidateID:  n.opts.NodeID,
				LastLogIndex: lastIndex,
				LastLogTerm:  lastTerm,
			})
			if err != nil {
				votesCh <- false
				return
			}
			if resp.Term > term {
				n.observeTerm(resp.Term)
				votesCh <- false
				return
			}
			votesCh <- resp.Granted
		}(addr)
	}

	timer := time.NewTimer(n.randTimeout())
	defer timer.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case granted := <-votesCh:
			if n.Role() != RoleCandidate {
				return
			}
			if granted {
				votes++
			}
			if votes >= needed {
				n.becomeLeader(term)
				return
			}
		case <-n.heartbeatCh:
			// A legitimate leader or a higher term surfaced in a handler.
			if n.Role() != RoleCandidate {
				return
			}
		case <-n.stepDownCh:
			if n.Role() != RoleCandidate {
				return
			}
		case <-timer.C:
			// Split vote; a fresh randomized candidacy follows.
			return
		}
	}
}

func (n *Node) becomeLeader(term c.Term) {
	n.mu.Lock()
	if n.role != RoleCandidate || n.term != term {
		n.mu.Unlock()
		return
	}
	n.role = RoleLeader
	n.leaderID = n.opts.NodeID
	n.mu.Unlock()

	obsmetrics.IsLeader.Set(1)
	obsmetrics.LeaderChanges.Inc()
	logutil.Infof("raft: %s elected leader for term %d", n.opts.NodeID, term)
	n.emitLeader(c.LeaderInfo{ID: n.opts.NodeID, Term: term})
}

// observeTerm demotes on a term strictly higher than the local one.
func (n *Node) observeTerm(t c.Term) {
	n.mu.Lock()
	if t <= n.term {
		n.mu.Unlock()
		return
	}
	n.term = t
	n.votedFor = ""
	n.leaderID = ""
	wasLeader := n.role == RoleLeader
	n.role = RoleFollower
	term := n.term
	if err := n.opts.Stable.SetHardState(n.term, n.votedFor); err != nil {
		logutil.Errorf("raft: persist hard state: %v", err)
	}
	n.mu.Unlock()

	obsmetrics.CurrentTerm.Set(float64(term))
	if wasLeader {
		obsmetrics.IsLeader.Set(0)
		n.signal(n.stepDownCh)
		n.failWaiters(c.ErrLeadershipLost)
	}
	n.emitLeader(c.LeaderInfo{ID: "", Term: term})
}

// HandleRequestVote answers an election RPC. A vote is granted iff the
// candidate's term is current, no conflicting vote was cast in it, and
// the candidate's log is at least as complete as ours.
func (n *Node) HandleRequestVote(ctx context.Context, req transport.VoteRequest) (transport.VoteResponse, error) {
	if req.Term > n.Term() {
		n.observeTerm(req.Term)
	}
	n.mu.Lock()
	defer n.mu.Unlock()
	resp := transport.VoteResponse{Term: n.term}
	if req.Term < n.term {
		return resp, nil
	}
	if n.votedFor != "" && n.votedFor != req.CandidateID {
		return resp, nil
	}
	lastIndex := n.opts.Log.LastIndex()
	lastTerm := n.opts.Log.LastTerm()
	if req.LastLogTerm < lastTerm || (req.LastLogTerm == lastTerm && req.LastLogIndex < lastIndex) {
		return resp, nil
	}
	n.votedFor = req.CandidateID
	if err := n.opts.Stable.SetHardState(n.term, n.votedFor); err != nil {
		logutil.Errorf("raft: persist hard state: %v", err)
	}
	resp.Granted = true
	n.signal(n.heartbeatCh)
	return resp, nil
}

// HandleAppendEntries performs the log-matching consistency check,
// appends, and advances the follower commit index. An empty Entries
// slice is the leader heartbeat.
func (n *Node) HandleAppendEntries(ctx context.Context, req transport.AppendRequest) (transport.AppendResponse, error) {
	if req.Term > n.Term() {
		n.observeTerm(req.Term)
	}
	n.mu.Lock()
	if req.Term < n.term {
		resp := transport.AppendResponse{Term: n.term}
		n.mu.Unlock()
		return resp, nil
	}
	if n.role != RoleFollower {
		wasLeader := n.role == RoleLeader
		n.role = RoleFollower
		if wasLeader {
			obsmetrics.IsLeader.Set(0)
			n.signal(n.stepDownCh)
		}
	}
	newLeader := n.leaderID != req.LeaderID
	n.leaderID = req.LeaderID
	term := n.term
	n.mu.Unlock()

	n.signal(n.heartbeatCh)
	if newLeader {
		n.emitLeader(c.LeaderInfo{ID: req.LeaderID, Term: term})
	}

	resp := transport.AppendResponse{Term: term}
	if err := n.opts.Log.Append(req.Entries, req.PrevLogIndex, req.PrevLogTerm); err != nil {
		var conflict *log.ConflictError
		if errors.As(err, &conflict) {
			resp.ConflictIndex = conflict.Index
			resp.ConflictTerm = conflict.Term
			return resp, nil
		}
		return resp, err
	}
	resp.Success = true
	if req.LeaderCommit > n.opts.Log.CommitIndex() {
		if n.opts.Log.MarkCommitted(req.LeaderCommit) {
			obsmetrics.CommitIndex.Set(float64(n.opts.Log.CommitIndex()))
		}
	}
	return resp, nil
}

func (n *Node) registerWaiter(index c.LogIndex, term c.Term) chan error {
	ch := make(chan error, 1)
	n.waitMu.Lock()
	n.waiters[index] = append(n.waiters[index], waiter{term: term, ch: ch})
	n.waitMu.Unlock()
	return ch
}

func (n *Node) dropWaiter(index c.LogIndex, ch chan error) {
	n.waitMu.Lock()
	defer n.waitMu.Unlock()
	ws := n.waiters[index]
	for i, w := range ws {
		if w.ch == ch {
			n.waiters[index] = append(ws[:i], ws[i+1:]...)
			break
		}
	}
	if len(n.waiters[index]) == 0 {
		delete(n.waiters, index)
	}
}

// resolveWaiters completes all waiters at or below commit. A waiter whose
// registered term no longer matches the committed entry's term lost its
// entry to a truncation and fails with ErrLeadershipLost.
func (n *Node) resolveWaiters(commit c.LogIndex) {
	n.waitMu.Lock()
	defer n.waitMu.Unlock()
	for idx, ws := range n.waiters {
		if idx > commit {
			continue
		}
		entryTerm, ok := n.opts.Log.Term(idx)
		for _, w := range ws {
			if ok && entryTerm == w.term {
				w.ch <- nil
			} else {
				w.ch <- c.ErrLeadershipLost
			}
		}
		delete(n.waiters, idx)
	}
}

func (n *Node) failWaiters(err error) {
	n.waitMu.Lock()
	defer n.waitMu.Unlock()
	for idx, ws := range n.waiters {
		for _, w := range ws {
			w.ch <- err
		}
		delete(n.waiters, idx)
	}
}

func (n *Node) signal(ch chan struct{}) {
	select {
	case ch <- struct{}{}:
	default:
	}
}

func (n *Node) emitLeader(info c.LeaderInfo) {
	for {
		select {
		case n.leaderCh <- info:
			return
		default:
			// Coalesce: drop the oldest unread notification.
			select {
			case <-n.leaderCh:
			default:
			}
		}
	}
}

var _ c.Protocol = (*Node)(nil)
var _ c.LeaderNotifier = (*Node)(nil)
