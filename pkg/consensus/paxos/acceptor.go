package paxos

import (
	"context"
	"sync"

	c "github.com/amirimatin/go-consensus/pkg/consensus"
	"github.com/amirimatin/go-consensus/pkg/consensus/log"
	"github.com/amirimatin/go-consensus/pkg/transport"
)

// Acceptor is the per-node acceptor role. It promises ballots and writes
// accepted entries through the shared log. One instance lives on every
// node, the distinguished proposer's included.
type Acceptor struct {
	mu       sync.Mutex
	promised transport.Ballot
	log      *log.Log
}

func NewAcceptor(l *log.Log) *Acceptor {
	return &Acceptor{log: l}
}

// Promised reports the highest ballot promised so far.
func (a *Acceptor) Promised() transport.Ballot {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.promised
}

// HandlePrepare promises the ballot when it is at least the highest seen.
// The response carries the local log head so the proposer can verify the
// acceptor is not ahead of it.
func (a *Acceptor) HandlePrepare(ctx context.Context, req transport.PrepareRequest) (transport.PrepareResponse, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if req.Ballot.Less(a.promised) {
		return transport.PrepareResponse{Promised: false, Ballot: a.promised}, nil
	}
	a.promised = req.Ballot
	return transport.PrepareResponse{
		Promised:  true,
		Ballot:    a.promised,
		LastIndex: a.log.LastIndex(),
	}, nil
}

// HandleAccept writes the entry for one slot under an established
// ballot. Slots must arrive contiguously with the local log; a gap is
// rejected so the proposer falls back and repairs through the election
// path.
func (a *Acceptor) HandleAccept(ctx context.Context, req transport.AcceptRequest) (transport.AcceptResponse, error) {
	a.mu.Lock()
	if req.Ballot.Less(a.promised) {
		resp := transport.AcceptResponse{Accepted: false, Ballot: a.promised}
		a.mu.Unlock()
		return resp, nil
	}
	a.promised = req.Ballot
	ballot := a.promised
	a.mu.Unlock()

	last := a.log.LastIndex()
	if req.Slot > last+1 {
		return transport.AcceptResponse{Accepted: false, Ballot: ballot}, nil
	}
	prevIndex := req.Slot - 1
	prevTerm := c.Term(0)
	if prevIndex > 0 {
		t, ok := a.log.Term(prevIndex)
		if !ok {
			return transport.AcceptResponse{Accepted: false, Ballot: ballot}, nil
		}
		prevTerm = t
	}
	if err := a.log.Append([]c.LogEntry{req.Entry}, prevIndex, prevTerm); err != nil {
		return transport.AcceptResponse{Accepted: false, Ballot: ballot}, nil
	}
	if req.LeaderCommit > a.log.CommitIndex() {
		a.log.MarkCommitted(req.LeaderCommit)
	}
	return transport.AcceptResponse{Accepted: true, Ballot: ballot}, nil
}
