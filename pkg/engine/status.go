package engine

import (
	c "github.com/amirimatin/go-consensus/pkg/consensus"
	"github.com/amirimatin/go-consensus/pkg/consensus/hybrid"
	"github.com/amirimatin/go-consensus/pkg/membership"
)

// Status is a JSON-serializable snapshot of the node, suitable for
// status endpoints and CLI tooling.
type Status struct {
	// NodeID is the local node identifier.
	NodeID c.NodeID `json:"node_id"`
	// Healthy indicates a leader is known and the node is not recovering.
	Healthy bool `json:"healthy"`
	// Leader is the current leader id, empty when unknown.
	Leader c.NodeID `json:"leader,omitempty"`
	// Term is the current election term observed by this node.
	Term c.Term `json:"term"`
	// Mode is the consensus operating mode.
	Mode string `json:"mode"`
	// CommitIndex is the highest committed log index.
	CommitIndex c.LogIndex `json:"commit_index"`
	// LastIndex is the highest appended log index.
	LastIndex c.LogIndex `json:"last_index"`
	// LastApplied is the highest index consumed by the state machine.
	LastApplied c.LogIndex `json:"last_applied"`
	// Members lists the membership view of this node.
	Members []membership.ClusterMember `json:"members"`
	// Stats summarizes member liveness counts.
	Stats membership.Stats `json:"stats"`
}

// Status reports the node's current view of itself and the cluster.
func (e *Engine) Status() Status {
	leader, _ := e.opts.Hybrid.Leader()
	mode := e.opts.Hybrid.Mode()
	return Status{
		NodeID:      e.opts.NodeID,
		Healthy:     leader != "" && mode != hybrid.ModeRecovery,
		Leader:      leader,
		Term:        e.opts.Hybrid.Term(),
		Mode:        mode.String(),
		CommitIndex: e.opts.Log.CommitIndex(),
		LastIndex:   e.opts.Log.LastIndex(),
		LastApplied: e.opts.Machine.LastApplied(),
		Members:     e.opts.Membership.Members(),
		Stats:       e.opts.Membership.Stats(),
	}
}
