// Package engine assembles the consensus, membership and storage layers
// behind a single facade. It owns component lifecycle, dispatches
// inbound peer RPCs to the right layer, feeds committed entries to the
// state machine and republishes membership and leadership changes on an
// event bus.
package engine

import (
	"context"
	"fmt"
	"sync"
	"time"

	c "github.com/amirimatin/go-consensus/pkg/consensus"
	"github.com/amirimatin/go-consensus/pkg/consensus/hybrid"
	"github.com/amirimatin/go-consensus/pkg/internal/logutil"
	"github.com/amirimatin/go-consensus/pkg/membership"
	"github.com/amirimatin/go-consensus/pkg/observability/tracing"
	"github.com/amirimatin/go-consensus/pkg/statemachine"
	"github.com/amirimatin/go-consensus/pkg/transport"
)

// Gossip handles membership probe RPCs.
type Gossip interface {
	HandlePing(ctx context.Context, req transport.PingRequest) (transport.PingResponse, error)
	HandlePingReq(ctx context.Context, req transport.PingReqRequest) (transport.PingResponse, error)
}

// Engine is the node facade. All exported methods are safe for
// concurrent use once Start has returned.
type Engine struct {
	opts    Options
	bus     *eventBus
	applier *statemachine.Applier

	mu      sync.Mutex
	started bool
	stopped bool
	cancel  context.CancelFunc
	wg      sync.WaitGroup
}

// New wires an engine from already-constructed components. Nothing is
// started until Start.
func New(opts Options) (*Engine, error) {
	if err := opts.Validate(); err != nil {
		return nil, err
	}
	return &Engine{
		opts:    opts,
		bus:     newEventBus(),
		applier: statemachine.NewApplier(opts.Log, opts.Machine),
	}, nil
}

// Start brings the node up: transport first so peers can reach us, then
// membership, then the consensus controller.
func (e *Engine) Start(ctx context.Context) error {
	e.mu.Lock()
	if e.started {
		e.mu.Unlock()
		return fmt.Errorf("engine: already started")
	}
	e.started = true
	runCtx, cancel := context.WithCancel(context.Background())
	e.cancel = cancel
	e.mu.Unlock()

	e.opts.Server.Register(e)
	if err := e.opts.Server.Start(runCtx); err != nil {
		cancel()
		return fmt.Errorf("engine: start transport: %w", err)
	}
	if err := e.opts.Membership.Start(runCtx); err != nil {
		cancel()
		return fmt.Errorf("engine: start membership: %w", err)
	}
	if err := e.opts.Hybrid.Start(runCtx); err != nil {
		cancel()
		return fmt.Errorf("engine: start consensus: %w", err)
	}

	e.wg.Add(3)
	go e.applyLoop(runCtx)
	go e.membershipLoop(runCtx)
	go e.leadershipLoop(runCtx)

	logutil.Infof("engine: node %s started on %s", e.opts.NodeID, e.opts.Server.Addr())
	return nil
}

// Join contacts the seed addresses and merges their cluster view.
func (e *Engine) Join(seeds []string) error {
	return e.opts.Membership.Join(seeds)
}

// Stop shuts the node down in reverse start order. It is idempotent.
func (e *Engine) Stop(ctx context.Context) error {
	e.mu.Lock()
	if !e.started || e.stopped {
		e.mu.Unlock()
		return nil
	}
	e.stopped = true
	cancel := e.cancel
	e.mu.Unlock()

	var firstErr error
	if err := e.opts.Hybrid.Stop(); err != nil && firstErr == nil {
		firstErr = err
	}
	if err := e.opts.Membership.Stop(); err != nil && firstErr == nil {
		firstErr = err
	}
	cancel()
	e.wg.Wait()
	if err := e.opts.Server.Stop(ctx); err != nil && firstErr == nil {
		firstErr = err
	}
	logutil.Infof("engine: node %s stopped", e.opts.NodeID)
	return firstErr
}

// Propose submits a payload for replication and waits for commit.
func (e *Engine) Propose(ctx context.Context, payload []byte) (c.LogIndex, error) {
	ctx, end := tracing.StartSpan(ctx, "engine.Propose")
	defer end()
	return e.opts.Hybrid.Propose(ctx, payload)
}

// IsLeader reports whether this node currently leads the cluster.
func (e *Engine) IsLeader() bool { return e.opts.Hybrid.IsLeader() }

// Leader returns the current leader, if known.
func (e *Engine) Leader() (c.NodeID, bool) { return e.opts.Hybrid.Leader() }

// Mode returns the current consensus operating mode.
func (e *Engine) Mode() hybrid.Mode { return e.opts.Hybrid.Mode() }

// Members returns the current membership view.
func (e *Engine) Members() []membership.ClusterMember {
	return e.opts.Membership.Members()
}

// AddNode registers a new member and returns its assigned id.
func (e *Engine) AddNode(name, addr string) (c.NodeID, error) {
	return e.opts.Membership.AddNode(name, addr)
}

// EnterRecovery pauses proposals and drains in-flight entries. Intended
// for operator use ahead of manual log repair.
func (e *Engine) EnterRecovery(ctx context.Context) error {
	return e.opts.Hybrid.EnterRecovery(ctx)
}

// ExitRecovery audits the log against a quorum and resumes proposals.
func (e *Engine) ExitRecovery(ctx context.Context) error {
	return e.opts.Hybrid.ExitRecovery(ctx)
}

// Metrics returns a snapshot of the proposal counters.
func (e *Engine) Metrics() hybrid.Snapshot { return e.opts.Hybrid.Metrics() }

// HandleRequestVote implements transport.Handler.
func (e *Engine) HandleRequestVote(ctx context.Context, req transport.VoteRequest) (transport.VoteResponse, error) {
	return e.opts.Raft.HandleRequestVote(ctx, req)
}

// HandleAppendEntries implements transport.Handler.
func (e *Engine) HandleAppendEntries(ctx context.Context, req transport.AppendRequest) (transport.AppendResponse, error) {
	return e.opts.Raft.HandleAppendEntries(ctx, req)
}

// HandlePrepare implements transport.Handler.
func (e *Engine) HandlePrepare(ctx context.Context, req transport.PrepareRequest) (transport.PrepareResponse, error) {
	return e.opts.Acceptor.HandlePrepare(ctx, req)
}

// HandleAccept implements transport.Handler.
func (e *Engine) HandleAccept(ctx context.Context, req transport.AcceptRequest) (transport.AcceptResponse, error) {
	return e.opts.Acceptor.HandleAccept(ctx, req)
}

// HandlePing implements transport.Handler.
func (e *Engine) HandlePing(ctx context.Context, req transport.PingRequest) (transport.PingResponse, error) {
	return e.opts.Gossip.HandlePing(ctx, req)
}

// HandlePingReq implements transport.Handler.
func (e *Engine) HandlePingReq(ctx context.Context, req transport.PingReqRequest) (transport.PingResponse, error) {
	return e.opts.Gossip.HandlePingReq(ctx, req)
}

var _ transport.Handler = (*Engine)(nil)

// applyLoop feeds committed entries into the state machine until the
// engine stops.
func (e *Engine) applyLoop(ctx context.Context) {
	defer e.wg.Done()
	if err := e.applier.Run(ctx); err != nil && ctx.Err() == nil {
		logutil.Errorf("engine: apply loop: %v", err)
	}
}

// membershipLoop forwards membership changes to the consensus
// controller and republishes them on the engine bus. Suspicion, failure
// and topology changes count as churn; a refutation back to alive does
// not.
func (e *Engine) membershipLoop(ctx context.Context) {
	defer e.wg.Done()
	evts := e.opts.Membership.Events()
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-evts:
			if !ok {
				return
			}
			typ, churn := classify(ev.Type)
			if typ == "" {
				continue
			}
			if churn {
				e.opts.Hybrid.NotifyChurn()
			}
			e.bus.publish(Event{
				Type:   typ,
				At:     ev.At,
				Member: ev.Member.ID,
			})
		}
	}
}

func classify(t membership.EventType) (EventType, bool) {
	switch t {
	case membership.EventJoin:
		return EventMemberJoin, true
	case membership.EventAlive:
		return EventMemberAlive, false
	case membership.EventSuspect:
		return EventMemberSuspect, true
	case membership.EventFailed:
		return EventMemberFailed, true
	case membership.EventLeave:
		return EventMemberLeave, true
	}
	return "", false
}

// leadershipLoop republishes leader changes and watches for operating
// mode transitions.
func (e *Engine) leadershipLoop(ctx context.Context) {
	defer e.wg.Done()
	lastMode := e.opts.Hybrid.Mode()
	ticker := time.NewTicker(100 * time.Millisecond)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case li, ok := <-e.opts.Hybrid.LeaderCh():
			if !ok {
				return
			}
			e.bus.publish(Event{
				Type:   EventLeaderChanged,
				At:     time.Now(),
				Leader: li.ID,
				Term:   li.Term,
			})
		case <-ticker.C:
			if m := e.opts.Hybrid.Mode(); m != lastMode {
				lastMode = m
				e.bus.publish(Event{
					Type: EventModeChanged,
					At:   time.Now(),
					Mode: m,
				})
			}
		}
	}
}
