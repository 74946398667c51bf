package transport

import (
	"context"

	c "github.com/amirimatin/go-consensus/pkg/consensus"
)

// The consensus core talks to peers through structured messages over an
// externally provided authenticated point-to-point channel. Addresses are
// resolved by the caller (membership owns id->address); the transport only
// moves messages.

// VoteRequest asks a peer for its vote in an election.
type VoteRequest struct {
	Term         c.Term     `json:"term"`
	CandidateID  c.NodeID   `json:"candidateId"`
	LastLogIndex c.LogIndex `json:"lastLogIndex"`
	LastLogTerm  c.Term     `json:"lastLogTerm"`
}

type VoteResponse struct {
	Term    c.Term `json:"term"`
	Granted bool   `json:"granted"`
}

// AppendRequest replicates entries (or, with no entries, acts as the
// leader heartbeat) and carries the consistency-check coordinates.
type AppendRequest struct {
	Term         c.Term       `json:"term"`
	LeaderID     c.NodeID     `json:"leaderId"`
	PrevLogIndex c.LogIndex   `json:"prevLogIndex"`
	PrevLogTerm  c.Term       `json:"prevLogTerm"`
	Entries      []c.LogEntry `json:"entries,omitempty"`
	LeaderCommit c.LogIndex   `json:"leaderCommit"`
}

type AppendResponse struct {
	Term    c.Term `json:"term"`
	Success bool   `json:"success"`
	// Conflict hints let the leader skip a run of mismatched entries in a
	// single round instead of stepping back one index at a time.
	ConflictIndex c.LogIndex `json:"conflictIndex,omitempty"`
	ConflictTerm  c.Term     `json:"conflictTerm,omitempty"`
}

// Ballot orders competing Paxos proposers. Uniqueness comes from the node
// id component; comparison is by (Round, NodeID).
type Ballot struct {
	Round  uint64   `json:"round"`
	NodeID c.NodeID `json:"nodeId"`
}

// Less reports strict ballot ordering.
func (b Ballot) Less(o Ballot) bool {
	if b.Round != o.Round {
		return b.Round < o.Round
	}
	return b.NodeID < o.NodeID
}

// IsZero reports the absent ballot.
func (b Ballot) IsZero() bool { return b.Round == 0 && b.NodeID == "" }

// PrepareRequest opens a ballot; it is sent once per ballot change, not
// per slot.
type PrepareRequest struct {
	Ballot Ballot `json:"ballot"`
}

type PrepareResponse struct {
	// Promised is true when the acceptor promises not to accept lower
	// ballots. Ballot echoes the highest ballot the acceptor has seen.
	Promised  bool       `json:"promised"`
	Ballot    Ballot     `json:"ballot"`
	LastIndex c.LogIndex `json:"lastIndex"`
}

// AcceptRequest drives one log slot under an established ballot.
type AcceptRequest struct {
	Ballot       Ballot     `json:"ballot"`
	Slot         c.LogIndex `json:"slot"`
	Entry        c.LogEntry `json:"entry"`
	LeaderCommit c.LogIndex `json:"leaderCommit"`
}

type AcceptResponse struct {
	Accepted bool   `json:"accepted"`
	Ballot   Ballot `json:"ballot"`
}

// MemberUpdate is a gossip rumor piggybacked on failure-detector traffic.
type MemberUpdate struct {
	ID          c.NodeID `json:"id"`
	Addr        string   `json:"addr"`
	State       string   `json:"state"`
	Incarnation uint64   `json:"incarnation"`
}

// PingRequest probes a peer directly and spreads rumors.
type PingRequest struct {
	From    c.NodeID       `json:"from"`
	Seq     uint64         `json:"seq"`
	Updates []MemberUpdate `json:"updates,omitempty"`
}

type PingResponse struct {
	From    c.NodeID       `json:"from"`
	Seq     uint64         `json:"seq"`
	Updates []MemberUpdate `json:"updates,omitempty"`
}

// PingReqRequest asks a relay to probe Target on the requester's behalf.
type PingReqRequest struct {
	From    c.NodeID       `json:"from"`
	Target  c.NodeID       `json:"target"`
	Addr    string         `json:"addr"`
	Seq     uint64         `json:"seq"`
	Updates []MemberUpdate `json:"updates,omitempty"`
}

// Client issues consensus and failure-detector RPCs to a peer address.
type Client interface {
	RequestVote(ctx context.Context, addr string, req VoteRequest) (VoteResponse, error)
	AppendEntries(ctx context.Context, addr string, req AppendRequest) (AppendResponse, error)
	Prepare(ctx context.Context, addr string, req PrepareRequest) (PrepareResponse, error)
	Accept(ctx context.Context, addr string, req AcceptRequest) (AcceptResponse, error)
	Ping(ctx context.Context, addr string, req PingRequest) (PingResponse, error)
	PingReq(ctx context.Context, addr string, req PingReqRequest) (PingResponse, error)
}

// Handler is implemented by the node side and registered on a Server.
// Methods must be safe for concurrent use.
type Handler interface {
	HandleRequestVote(ctx context.Context, req VoteRequest) (VoteResponse, error)
	HandleAppendEntries(ctx context.Context, req AppendRequest) (AppendResponse, error)
	HandlePrepare(ctx context.Context, req PrepareRequest) (PrepareResponse, error)
	HandleAccept(ctx context.Context, req AcceptRequest) (AcceptResponse, error)
	HandlePing(ctx context.Context, req PingRequest) (PingResponse, error)
	HandlePingReq(ctx context.Context, req PingReqRequest) (PingResponse, error)
}

// Server accepts peer RPCs and dispatches them to a Handler.
type Server interface {
	Register(h Handler)
	Start(ctx context.Context) error
	Addr() string
	Stop(ctx context.Context) error
}
