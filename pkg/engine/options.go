package engine

import (
	"fmt"

	c "github.com/amirimatin/go-consensus/pkg/consensus"
	"github.com/amirimatin/go-consensus/pkg/consensus/hybrid"
	consenlog "github.com/amirimatin/go-consensus/pkg/consensus/log"
	"github.com/amirimatin/go-consensus/pkg/consensus/paxos"
	"github.com/amirimatin/go-consensus/pkg/consensus/raft"
	"github.com/amirimatin/go-consensus/pkg/membership"
	"github.com/amirimatin/go-consensus/pkg/statemachine"
	"github.com/amirimatin/go-consensus/pkg/transport"
)

// Options wires the engine from its components. Construction of the
// components themselves lives in the bootstrap package; the engine only
// owns their lifecycle and the traffic between them.
type Options struct {
	// NodeID is the local node identifier.
	NodeID c.NodeID

	// Hybrid is the mode controller, which in turn owns the raft node.
	Hybrid *hybrid.Controller

	// Raft handles vote and append RPCs arriving from peers.
	Raft *raft.Node

	// Acceptor handles prepare and accept RPCs arriving from peers.
	Acceptor *paxos.Acceptor

	// Membership provides the cluster view and failure detection.
	Membership membership.Membership

	// Gossip handles probe RPCs arriving from peers. It is usually the
	// same value as Membership.
	Gossip Gossip

	// Log is the shared replicated log.
	Log *consenlog.Log

	// Machine consumes committed entries.
	Machine statemachine.StateMachine

	// Server accepts peer RPCs; the engine registers itself as the
	// handler before starting it.
	Server transport.Server
}

func (o *Options) Validate() error {
	if o.NodeID == "" {
		return fmt.Errorf("engine: empty NodeID")
	}
	if o.Hybrid == nil {
		return fmt.Errorf("engine: nil hybrid controller")
	}
	if o.Raft == nil {
		return fmt.Errorf("engine: nil raft node")
	}
	if o.Acceptor == nil {
		return fmt.Errorf("engine: nil paxos acceptor")
	}
	if o.Membership == nil {
		return fmt.Errorf("engine: nil membership")
	}
	if o.Gossip == nil {
		return fmt.Errorf("engine: nil gossip handler")
	}
	if o.Log == nil {
		return fmt.Errorf("engine: nil log")
	}
	if o.Machine == nil {
		return fmt.Errorf("engine: nil state machine")
	}
	if o.Server == nil {
		return fmt.Errorf("engine: nil transport server")
	}
	return nil
}
