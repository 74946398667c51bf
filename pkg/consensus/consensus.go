package consensus

import "context"

// NodeID is an opaque, stable identifier of a node within the cluster.
type NodeID string

// Term is the cluster-wide election epoch. A node's locally observed term
// only ever increases.
type Term uint64

// LogIndex is a 1-based position in the replicated log. Index 0 means
// "before the first entry".
type LogIndex uint64

// EntryKind discriminates the payload semantics of a log entry.
type EntryKind uint8

const (
	// EntryNormal carries an application payload.
	EntryNormal EntryKind = iota
	// EntryNoop fills slots left by out-of-order decisions and marks the
	// start of a leader's tenure.
	EntryNoop
	// EntryConfig carries a membership configuration change.
	EntryConfig
)

// LogEntry is one slot of the replicated log. Entries are immutable once
// committed.
type LogEntry struct {
	Index   LogIndex  `json:"index"`
	Term    Term      `json:"term"`
	Kind    EntryKind `json:"kind"`
	Payload []byte    `json:"payload,omitempty"`
}

// LeaderInfo describes the current known leader.
type LeaderInfo struct {
	ID   NodeID
	Term Term
}

// Protocol is the minimal abstraction over a leader-based commit protocol.
// Both the Raft path and the Paxos steady-state path implement it; the
// hybrid controller routes proposals to whichever is active.
type Protocol interface {
	Start(ctx context.Context) error
	// Propose replicates payload and blocks until the entry is durably
	// committed on a majority, returning its assigned index. Errors are
	// either retryable (ErrNotLeader, ErrLeadershipLost, ErrTimeout) or
	// fatal for the proposal (ErrNoQuorum).
	Propose(ctx context.Context, payload []byte) (LogIndex, error)
	IsLeader() bool
	Leader() (NodeID, bool)
	Term() Term
	Stop() error
}

// LeaderNotifier is an optional interface a Protocol may provide to expose
// leadership changes via an observable channel. Implementations should
// buffer and coalesce so they never block protocol internals.
type LeaderNotifier interface {
	LeaderCh() <-chan LeaderInfo
}

// PeerProvider yields the identifiers of the current voting peers
// (excluding the local node). Consensus reads the membership view through
// this one-way dependency and never mutates membership directly.
type PeerProvider func() []NodeID
