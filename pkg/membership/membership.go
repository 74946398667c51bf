package membership

import (
	"context"
	"time"

	c "github.com/amirimatin/go-consensus/pkg/consensus"
)

// State is the observed liveness state of a cluster member.
type State uint8

const (
	StateAlive State = iota
	StateSuspect
	StateDead
)

func (s State) String() string {
	switch s {
	case StateAlive:
		return "alive"
	case StateSuspect:
		return "suspect"
	case StateDead:
		return "dead"
	default:
		return "unknown"
	}
}

// ParseState maps the wire representation back to a State. Unknown
// strings map to StateDead so a malformed rumor can never resurrect a
// member.
func ParseState(s string) State {
	switch s {
	case "alive":
		return StateAlive
	case "suspect":
		return StateSuspect
	default:
		return StateDead
	}
}

// ClusterMember describes one node as observed by the membership layer.
// Incarnation increases only by the member itself, to refute suspicion.
type ClusterMember struct {
	ID            c.NodeID
	Addr          string
	State         State
	Incarnation   uint64
	LastHeartbeat time.Time
}

type EventType string

const (
	// EventJoin indicates a member joined or became visible.
	EventJoin EventType = "join"
	// EventSuspect indicates the failure detector suspects the member.
	EventSuspect EventType = "suspect"
	// EventAlive indicates a suspected member recovered or refuted suspicion.
	EventAlive EventType = "alive"
	// EventFailed indicates the member was declared dead.
	EventFailed EventType = "failed"
	// EventLeave indicates the member left or was evicted from the table.
	EventLeave EventType = "leave"
)

// Event is a membership change notification.
type Event struct {
	Type   EventType
	Member ClusterMember
	At     time.Time
}

// Stats is a point-in-time summary of the membership table.
type Stats struct {
	Alive   int
	Suspect int
	Dead    int
}

// Membership is the abstraction over the gossip and failure-detection
// layer. It owns the id-to-address mapping; consensus resolves peer
// addresses through it and reacts to its event stream, never the other
// way around.
type Membership interface {
	Start(ctx context.Context) error
	Join(seeds []string) error
	// AddNode registers a new member under a freshly minted NodeID and
	// broadcasts it via gossip. The returned id is resolvable in
	// Members() immediately.
	AddNode(name, addr string) (c.NodeID, error)
	Local() ClusterMember
	Members() []ClusterMember
	Member(id c.NodeID) (ClusterMember, bool)
	Events() <-chan Event
	Stats() Stats
	Leave() error
	Stop() error
}

// SuspicionReporter is an optional interface a Membership implementation
// may provide to expose the raw phi suspicion level for a peer. A return
// value of -1 indicates the peer is unknown or no samples exist yet.
type SuspicionReporter interface {
	Suspicion(id c.NodeID) float64
}
