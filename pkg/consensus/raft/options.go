package raft

import (
	"fmt"
	"time"

	c "github.com/amirimatin/go-consensus/pkg/consensus"
	"github.com/amirimatin/go-consensus/pkg/consensus/log"
	"github.com/amirimatin/go-consensus/pkg/storage"
	"github.com/amirimatin/go-consensus/pkg/transport"
)

// Options configures a raft Node.
type Options struct {
	// NodeID is the local node identifier.
	NodeID c.NodeID

	// Client sends RequestVote and AppendEntries RPCs.
	Client transport.Client

	// Log is the shared replicated log.
	Log *log.Log

	// Stable persists term and vote across restarts.
	Stable storage.StableStore

	// Peers returns the current voting membership, local node excluded.
	Peers c.PeerProvider

	// Resolve maps a peer id to its network address. Unresolvable peers
	// are skipped for the round and retried on the next one.
	Resolve func(c.NodeID) (string, bool)

	// HeartbeatInterval must be well below ElectionTimeoutMin.
	HeartbeatInterval time.Duration
	// ElectionTimeoutMin/Max bound the randomized election timeout.
	ElectionTimeoutMin time.Duration
	ElectionTimeoutMax time.Duration

	// MaxAppendEntries caps entries per AppendEntries RPC.
	MaxAppendEntries int

	// RPCTimeout is the per-RPC round-trip budget.
	RPCTimeout time.Duration
}

// Validate checks required fields and fills defaults.
func (o *Options) Validate() error {
	if o.NodeID == "" {
		return fmt.Errorf("raft: empty NodeID")
	}
	if o.Client == nil {
		return fmt.Errorf("raft: nil transport client")
	}
	if o.Log == nil {
		return fmt.Errorf("raft: nil log")
	}
	if o.Stable == nil {
		return fmt.Errorf("raft: nil stable store")
	}
	if o.Peers == nil {
		return fmt.Errorf("raft: nil peer provider")
	}
	if o.Resolve == nil {
		return fmt.Errorf("raft: nil resolver")
	}
	if o.HeartbeatInterval <= 0 {
		o.HeartbeatInterval = 50 * time.Millisecond
	}
	if o.ElectionTimeoutMin <= 0 {
		o.ElectionTimeoutMin = 150 * time.Millisecond
	}
	if o.ElectionTimeoutMax <= o.ElectionTimeoutMin {
		o.ElectionTimeoutMax = 2 * o.ElectionTimeoutMin
	}
	if o.HeartbeatInterval >= o.ElectionTimeoutMin {
		return fmt.Errorf("raft: heartbeat interval %v must be below election timeout %v", o.HeartbeatInterval, o.ElectionTimeoutMin)
	}
	if o.MaxAppendEntries <= 0 {
		o.MaxAppendEntries = 64
	}
	if o.RPCTimeout <= 0 {
		o.RPCTimeout = 100 * time.Millisecond
	}
	return nil
}
