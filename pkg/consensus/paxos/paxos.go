// Package paxos implements the Multi-Paxos steady-state commit path: a
// distinguished proposer that runs Phase 1 once per ballot and then
// drives one Phase 2 round per log slot, with no-op fills keeping the
// committed prefix contiguous.
package paxos

import (
	"context"
	"fmt"
	"sync"
	"time"

	c "github.com/amirimatin/go-consensus/pkg/consensus"
	consenlog "github.com/amirimatin/go-consensus/pkg/consensus/log"
	"github.com/amirimatin/go-consensus/pkg/internal/logutil"
	"github.com/amirimatin/go-consensus/pkg/transport"
)

// Options configures a Proposer.
type Options struct {
	// NodeID is the local node, which must currently hold leadership.
	NodeID c.NodeID

	// Client sends Prepare and Accept RPCs.
	Client transport.Client

	// Log is the shared replicated log.
	Log *consenlog.Log

	// Local is this node's own acceptor; the proposer counts it toward
	// quorum without a network round trip.
	Local *Acceptor

	// Peers returns the current voting membership, local node excluded.
	Peers c.PeerProvider

	// Resolve maps a peer id to its address.
	Resolve func(c.NodeID) (string, bool)

	// RPCTimeout is the per-RPC round-trip budget.
	RPCTimeout time.Duration
}

const (
	acceptAttempts   = 4
	acceptRetryDelay = 10 * time.Millisecond
)

func (o *Options) Validate() error {
	if o.NodeID == "" {
		return fmt.Errorf("paxos: empty NodeID")
	}
	if o.Client == nil {
		return fmt.Errorf("paxos: nil transport client")
	}
	if o.Log == nil {
		return fmt.Errorf("paxos: nil log")
	}
	if o.Local == nil {
		return fmt.Errorf("paxos: nil local acceptor")
	}
	if o.Peers == nil {
		return fmt.Errorf("paxos: nil peer provider")
	}
	if o.Resolve == nil {
		return fmt.Errorf("paxos: nil resolver")
	}
	if o.RPCTimeout <= 0 {
		o.RPCTimeout = 100 * time.Millisecond
	}
	return nil
}

// Proposer drives slots under one established ballot. It is created on
// steady-state entry and discarded on any demotion; re-promotion builds
// a fresh one with a higher ballot.
type Proposer struct {
	opts Options

	mu          sync.Mutex
	ballot      transport.Ballot
	established bool
	chosen      map[c.LogIndex]bool
	maxChosen   c.LogIndex
}

func NewProposer(opts Options) (*Proposer, error) {
	if err := opts.Validate(); err != nil {
		return nil, err
	}
	return &Proposer{opts: opts, chosen: make(map[c.LogIndex]bool)}, nil
}

// Ballot reports the proposer's ballot.
func (p *Proposer) Ballot() transport.Ballot {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.ballot
}

// Establish runs Phase 1 once for the ballot derived from the leader's
// term. A majority of acceptors must promise, and none of them may hold
// a log longer than the proposer's; otherwise the caller must stay on
// the election path until replication catches the stragglers up.
func (p *Proposer) Establish(ctx context.Context, term c.Term) error {
	ballot := transport.Ballot{Round: uint64(term), NodeID: p.opts.NodeID}
	localLast := p.opts.Log.LastIndex()

	local, err := p.opts.Local.HandlePrepare(ctx, transport.PrepareRequest{Ballot: ballot})
	if err != nil || !local.Promised {
		return fmt.Errorf("%w: local acceptor refused ballot %v", c.ErrLeadershipLost, ballot)
	}

	peers := p.opts.Peers()
	needed := (len(peers)+1)/2 + 1
	promises := 1
	var mu sync.Mutex
	ahead := false
	var wg sync.WaitGroup
	for _, peer := range peers {
		addr, ok := p.opts.Resolve(peer)
		if !ok {
			continue
		}
		wg.Add(1)
		go func(addr string) {
			defer wg.Done()
			rctx, cancel := context.WithTimeout(ctx, p.opts.RPCTimeout)
			defer cancel()
			resp, err := p.opts.Client.Prepare(rctx, addr, transport.PrepareRequest{Ballot: ballot})
			if err != nil || !resp.Promised {
				return
			}
			mu.Lock()
			promises++
			if resp.LastIndex > localLast {
				ahead = true
			}
			mu.Unlock()
		}(addr)
	}
	wg.Wait()

	if promises < needed {
		return fmt.Errorf("%w: %d of %d promised ballot %v", c.ErrNoQuorum, promises, needed, ballot)
	}
	if ahead {
		return fmt.Errorf("%w: an acceptor holds a longer log than the proposer", c.ErrLeadershipLost)
	}

	p.mu.Lock()
	p.ballot = ballot
	p.established = true
	p.chosen = make(map[c.LogIndex]bool)
	p.maxChosen = 0
	p.mu.Unlock()
	logutil.Infof("paxos: ballot %d.%s established", ballot.Round, ballot.NodeID)
	return nil
}

// Propose appends payload at the next slot and runs Phase 2 for it,
// returning once a majority accepted and the contiguous chosen prefix
// covers the slot.
func (p *Proposer) Propose(ctx context.Context, payload []byte) (c.LogIndex, error) {
	return p.propose(ctx, c.EntryNormal, payload)
}

func (p *Proposer) propose(ctx context.Context, kind c.EntryKind, payload []byte) (c.LogIndex, error) {
	p.mu.Lock()
	if !p.established {
		p.mu.Unlock()
		return 0, c.ErrNotLeader
	}
	ballot := p.ballot
	p.mu.Unlock()

	entry, err := p.opts.Log.AppendAsLeader(c.Term(ballot.Round), kind, payload)
	if err != nil {
		return 0, err
	}
	if err := p.acceptRound(ctx, ballot, entry); err != nil {
		return 0, err
	}
	p.markChosen(entry.Index)
	return entry.Index, nil
}

// acceptRound runs Phase 2 for one already-appended entry. Acceptors
// reject a slot that would leave a gap in their log, which happens
// transiently when concurrent rounds for adjacent slots arrive out of
// order, so a shortfall is retried a few times before it counts as a
// lost quorum.
func (p *Proposer) acceptRound(ctx context.Context, ballot transport.Ballot, entry c.LogEntry) error {
	local, err := p.opts.Local.HandleAccept(ctx, transport.AcceptRequest{
		Ballot:       ballot,
		Slot:         entry.Index,
		Entry:        entry,
		LeaderCommit: p.opts.Log.CommitIndex(),
	})
	if err != nil || !local.Accepted {
		return fmt.Errorf("%w: local acceptor refused slot %d", c.ErrLeadershipLost, entry.Index)
	}

	peers := p.opts.Peers()
	needed := (len(peers)+1)/2 + 1

	var lastAccepts int
	for attempt := 0; attempt < acceptAttempts; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return fmt.Errorf("%w: slot %d", c.ErrTimeout, entry.Index)
			case <-time.After(acceptRetryDelay):
			}
		}
		req := transport.AcceptRequest{
			Ballot:       ballot,
			Slot:         entry.Index,
			Entry:        entry,
			LeaderCommit: p.opts.Log.CommitIndex(),
		}
		accepts := 1
		superseded := false
		var mu sync.Mutex
		var wg sync.WaitGroup
		for _, peer := range peers {
			addr, ok := p.opts.Resolve(peer)
			if !ok {
				continue
			}
			wg.Add(1)
			go func(addr string) {
				defer wg.Done()
				rctx, cancel := context.WithTimeout(ctx, p.opts.RPCTimeout)
				defer cancel()
				resp, err := p.opts.Client.Accept(rctx, addr, req)
				if err != nil {
					return
				}
				mu.Lock()
				if resp.Accepted {
					accepts++
				} else if ballot.Less(resp.Ballot) {
					superseded = true
				}
				mu.Unlock()
			}(addr)
		}
		wg.Wait()

		if superseded {
			p.invalidate()
			return fmt.Errorf("%w: ballot %d.%s superseded", c.ErrLeadershipLost, ballot.Round, ballot.NodeID)
		}
		if accepts >= needed {
			return nil
		}
		lastAccepts = accepts
	}
	return fmt.Errorf("%w: slot %d accepted by %d of %d", c.ErrNoQuorum, entry.Index, lastAccepts, needed)
}

// FillGaps re-runs Phase 2 for any slot below the highest chosen one
// that has not itself been chosen, so the commit index can advance over
// a contiguous prefix. Slots missing from the local log are filled with
// no-ops.
func (p *Proposer) FillGaps(ctx context.Context) error {
	p.mu.Lock()
	if !p.established {
		p.mu.Unlock()
		return c.ErrNotLeader
	}
	ballot := p.ballot
	max := p.maxChosen
	var gaps []c.LogIndex
	for slot := p.opts.Log.CommitIndex() + 1; slot < max; slot++ {
		if !p.chosen[slot] {
			gaps = append(gaps, slot)
		}
	}
	p.mu.Unlock()

	for _, slot := range gaps {
		entry, ok := p.opts.Log.Entry(slot)
		if !ok {
			entry = c.LogEntry{Index: slot, Term: c.Term(ballot.Round), Kind: c.EntryNoop}
		}
		if err := p.acceptRound(ctx, ballot, entry); err != nil {
			return err
		}
		p.markChosen(slot)
	}
	return nil
}

// markChosen records the slot and advances the commit index over the
// contiguous chosen prefix.
func (p *Proposer) markChosen(slot c.LogIndex) {
	p.mu.Lock()
	p.chosen[slot] = true
	if slot > p.maxChosen {
		p.maxChosen = slot
	}
	next := p.opts.Log.CommitIndex()
	for p.chosen[next+1] {
		delete(p.chosen, next+1)
		next++
	}
	p.mu.Unlock()
	if next > p.opts.Log.CommitIndex() {
		p.opts.Log.MarkCommitted(next)
	}
}

// invalidate drops the established ballot after it was superseded.
func (p *Proposer) invalidate() {
	p.mu.Lock()
	p.established = false
	p.mu.Unlock()
}

// Established reports whether the ballot is usable.
func (p *Proposer) Established() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.established
}
