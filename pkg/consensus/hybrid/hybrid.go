// Package hybrid implements the mode controller that blends the two
// commit paths: Raft while membership is in flux, the Multi-Paxos
// steady-state path once a leader has been stable for a configured
// window, and an operator-driven recovery mode in which proposals are
// refused.
package hybrid

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	c "github.com/amirimatin/go-consensus/pkg/consensus"
	consenlog "github.com/amirimatin/go-consensus/pkg/consensus/log"
	"github.com/amirimatin/go-consensus/pkg/consensus/paxos"
	"github.com/amirimatin/go-consensus/pkg/consensus/raft"
	"github.com/amirimatin/go-consensus/pkg/internal/logutil"
	obsmetrics "github.com/amirimatin/go-consensus/pkg/observability/metrics"
)

// Mode is the active consensus mode. It is owned by the Controller and
// transitions only through defined events: stability promotes, any
// churn demotes, and recovery is entered solely by operator request.
type Mode uint8

const (
	ModeNormal Mode = iota
	ModeSteadyState
	ModeRecovery
)

func (m Mode) String() string {
	switch m {
	case ModeNormal:
		return "normal"
	case ModeSteadyState:
		return "steady"
	case ModeRecovery:
		return "recovery"
	default:
		return "unknown"
	}
}

// Options configures a Controller.
type Options struct {
	// NodeID is the local node identifier.
	NodeID c.NodeID

	// Raft is the election and fallback replication protocol. The
	// controller never stops it; its heartbeats keep suppressing
	// elections while the steady-state path carries proposals.
	Raft *raft.Node

	// Log is the shared replicated log.
	Log *consenlog.Log

	// Proposer drives the steady-state path once established.
	Proposer *paxos.Proposer

	// StabilityWindow is how long a leader must hold office with no
	// membership change before the steady-state path activates.
	StabilityWindow time.Duration

	// MaxInflight bounds proposed-but-uncommitted entries; proposals
	// beyond the watermark fail fast with ErrProposalLimit.
	MaxInflight int

	// DrainTimeout bounds how long recovery waits for in-flight entries
	// to commit or abort.
	DrainTimeout time.Duration
}

func (o *Options) Validate() error {
	if o.NodeID == "" {
		return fmt.Errorf("hybrid: empty NodeID")
	}
	if o.Raft == nil {
		return fmt.Errorf("hybrid: nil raft node")
	}
	if o.Log == nil {
		return fmt.Errorf("hybrid: nil log")
	}
	if o.Proposer == nil {
		return fmt.Errorf("hybrid: nil paxos proposer")
	}
	if o.StabilityWindow <= 0 {
		o.StabilityWindow = 3 * time.Second
	}
	if o.MaxInflight <= 0 {
		o.MaxInflight = 1024
	}
	if o.DrainTimeout <= 0 {
		o.DrainTimeout = 5 * time.Second
	}
	return nil
}

// Snapshot is a point-in-time metrics view.
type Snapshot struct {
	Mode             string        `json:"mode"`
	Leader           c.NodeID      `json:"leader,omitempty"`
	Term             c.Term        `json:"term"`
	CommitIndex      c.LogIndex    `json:"commitIndex"`
	LastIndex        c.LogIndex    `json:"lastIndex"`
	NormalProposals  uint64        `json:"normalProposals"`
	SteadyProposals  uint64        `json:"steadyProposals"`
	FailedProposals  uint64        `json:"failedProposals"`
	Elections        uint64        `json:"elections"`
	ModeSwitches     uint64        `json:"modeSwitches"`
	AvgCommitLatency time.Duration `json:"avgCommitLatency"`
}

// Controller routes proposals to the active sub-protocol and owns the
// mode state machine.
type Controller struct {
	opts Options

	mu          sync.Mutex
	mode        Mode
	leaderSince time.Time
	lastChurn   time.Time
	started     bool
	stopped     bool

	churnCh  chan struct{}
	leaderCh chan c.LeaderInfo

	statMu       sync.Mutex
	normalCount  uint64
	steadyCount  uint64
	failedCount  uint64
	elections    uint64
	modeSwitches uint64
	latencySum   time.Duration
	latencyN     uint64

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

func New(opts Options) (*Controller, error) {
	if err := opts.Validate(); err != nil {
		return nil, err
	}
	return &Controller{
		opts:     opts,
		mode:     ModeNormal,
		churnCh:  make(chan struct{}, 1),
		leaderCh: make(chan c.LeaderInfo, 8),
	}, nil
}

// Start launches the raft node and the mode supervision loop.
func (h *Controller) Start(ctx context.Context) error {
	h.mu.Lock()
	if h.started {
		h.mu.Unlock()
		return nil
	}
	if h.stopped {
		h.mu.Unlock()
		return c.ErrStopped
	}
	h.started = true
	h.mu.Unlock()

	if err := h.opts.Raft.Start(ctx); err != nil {
		return err
	}
	ctx, cancel := context.WithCancel(ctx)
	h.cancel = cancel
	h.wg.Add(1)
	go func() {
		defer h.wg.Done()
		h.run(ctx)
	}()
	return nil
}

// Stop halts the supervision loop and the raft node.
func (h *Controller) Stop() error {
	h.mu.Lock()
	if h.stopped {
		h.mu.Unlock()
		return nil
	}
	h.stopped = true
	started := h.started
	h.mu.Unlock()
	if started && h.cancel != nil {
		h.cancel()
		h.wg.Wait()
	}
	return h.opts.Raft.Stop()
}

// Mode reports the active mode.
func (h *Controller) Mode() Mode {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.mode
}

func (h *Controller) IsLeader() bool { return h.opts.Raft.IsLeader() }

func (h *Controller) Leader() (c.NodeID, bool) { return h.opts.Raft.Leader() }

func (h *Controller) Term() c.Term { return h.opts.Raft.Term() }

// LeaderCh re-emits the raft node's leadership notifications after the
// controller has reacted to them, so facade consumers observe the same
// stream without competing for it.
func (h *Controller) LeaderCh() <-chan c.LeaderInfo { return h.leaderCh }

// NotifyChurn tells the controller the membership view changed. Any
// transition demotes the steady-state path immediately and restarts the
// stability clock.
func (h *Controller) NotifyChurn() {
	h.mu.Lock()
	h.lastChurn = time.Now()
	h.mu.Unlock()
	select {
	case h.churnCh <- struct{}{}:
	default:
	}
}

// Propose routes to the active sub-protocol and blocks until durable
// majority commit. Mode or leadership changes mid-flight surface as
// retryable errors; the caller re-proposes.
func (h *Controller) Propose(ctx context.Context, payload []byte) (c.LogIndex, error) {
	h.mu.Lock()
	mode := h.mode
	h.mu.Unlock()

	if mode == ModeRecovery {
		return 0, c.ErrRecovering
	}
	if inflight := h.opts.Log.LastIndex() - h.opts.Log.CommitIndex(); int(inflight) >= h.opts.MaxInflight {
		return 0, fmt.Errorf("%w: %d entries uncommitted", c.ErrProposalLimit, inflight)
	}

	start := time.Now()
	var idx c.LogIndex
	var err error
	if mode == ModeSteadyState {
		idx, err = h.opts.Proposer.Propose(ctx, payload)
		if err != nil && (errors.Is(err, c.ErrLeadershipLost) || errors.Is(err, c.ErrNoQuorum) || errors.Is(err, c.ErrNotLeader)) {
			// The steady-state path broke under us; demote and let the
			// election path repair divergence.
			h.demote("steady path failure")
		}
	} else {
		idx, err = h.opts.Raft.Propose(ctx, payload)
	}

	result := "ok"
	if err != nil {
		result = "error"
	}
	obsmetrics.Proposals.WithLabelValues(mode.String(), result).Inc()
	h.statMu.Lock()
	if err != nil {
		h.failedCount++
	} else {
		if mode == ModeSteadyState {
			h.steadyCount++
		} else {
			h.normalCount++
		}
		lat := time.Since(start)
		h.latencySum += lat
		h.latencyN++
	}
	h.statMu.Unlock()
	if err == nil {
		obsmetrics.CommitLatency.Observe(time.Since(start).Seconds())
	}
	return idx, err
}

// EnterRecovery pauses proposals and drains in-flight entries to
// commit-or-abort. Only an explicit operator request reaches here.
func (h *Controller) EnterRecovery(ctx context.Context) error {
	h.mu.Lock()
	if h.mode == ModeRecovery {
		h.mu.Unlock()
		return nil
	}
	h.setModeLocked(ModeRecovery)
	h.mu.Unlock()
	logutil.Warnf("hybrid: entering recovery, proposals paused")
	return h.drain(ctx)
}

// ExitRecovery re-verifies log consistency across a majority and, on
// success, returns to Normal. The caller must hold leadership; a
// non-leader cannot audit the cluster.
func (h *Controller) ExitRecovery(ctx context.Context) error {
	h.mu.Lock()
	if h.mode != ModeRecovery {
		h.mu.Unlock()
		return fmt.Errorf("hybrid: not in recovery")
	}
	h.mu.Unlock()

	if err := h.drain(ctx); err != nil {
		return err
	}
	if err := h.opts.Raft.VerifyQuorum(ctx); err != nil {
		return fmt.Errorf("hybrid: recovery audit: %w", err)
	}
	h.mu.Lock()
	h.setModeLocked(ModeNormal)
	h.leaderSince = time.Now()
	h.mu.Unlock()
	logutil.Infof("hybrid: recovery complete, proposals resumed")
	return nil
}

// drain waits until the log has no uncommitted suffix.
func (h *Controller) drain(ctx context.Context) error {
	deadline := time.Now().Add(h.opts.DrainTimeout)
	for h.opts.Log.CommitIndex() < h.opts.Log.LastIndex() {
		if time.Now().After(deadline) {
			return fmt.Errorf("%w: %d entries still uncommitted after drain window",
				c.ErrTimeout, h.opts.Log.LastIndex()-h.opts.Log.CommitIndex())
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(20 * time.Millisecond):
		}
	}
	return nil
}

// Metrics returns the controller's snapshot.
func (h *Controller) Metrics() Snapshot {
	h.statMu.Lock()
	snap := Snapshot{
		NormalProposals: h.normalCount,
		SteadyProposals: h.steadyCount,
		FailedProposals: h.failedCount,
		Elections:       h.elections,
		ModeSwitches:    h.modeSwitches,
	}
	if h.latencyN > 0 {
		snap.AvgCommitLatency = h.latencySum / time.Duration(h.latencyN)
	}
	h.statMu.Unlock()

	snap.Mode = h.Mode().String()
	if id, ok := h.opts.Raft.Leader(); ok {
		snap.Leader = id
	}
	snap.Term = h.opts.Raft.Term()
	snap.CommitIndex = h.opts.Log.CommitIndex()
	snap.LastIndex = h.opts.Log.LastIndex()
	return snap
}

// run supervises mode transitions: leadership changes and churn demote,
// sustained stability promotes.
func (h *Controller) run(ctx context.Context) {
	ticker := time.NewTicker(h.tickInterval())
	defer ticker.Stop()
	var lastTerm c.Term
	for {
		select {
		case <-ctx.Done():
			return
		case info := <-h.opts.Raft.LeaderCh():
			if info.Term > lastTerm {
				lastTerm = info.Term
				h.statMu.Lock()
				h.elections++
				h.statMu.Unlock()
			}
			h.mu.Lock()
			if info.ID == h.opts.NodeID {
				h.leaderSince = time.Now()
			} else {
				h.leaderSince = time.Time{}
			}
			demote := h.mode == ModeSteadyState
			h.mu.Unlock()
			if demote {
				h.demote("leadership change")
			}
			select {
			case h.leaderCh <- info:
			default:
			}
		case <-h.churnCh:
			h.mu.Lock()
			demote := h.mode == ModeSteadyState
			h.mu.Unlock()
			if demote {
				h.demote("membership change")
			}
		case <-ticker.C:
			h.mu.Lock()
			mode := h.mode
			h.mu.Unlock()
			if mode == ModeSteadyState {
				h.repairGaps(ctx)
			} else {
				h.maybePromote(ctx)
			}
		}
	}
}

// repairGaps re-runs Phase 2 for slots stuck below the highest chosen
// one, so the commit index keeps advancing even when the proposal that
// chose a later slot raced ahead of an earlier one.
func (h *Controller) repairGaps(ctx context.Context) {
	err := h.opts.Proposer.FillGaps(ctx)
	if err == nil || errors.Is(err, c.ErrNotLeader) {
		return
	}
	h.demote("gap repair failed")
}

func (h *Controller) tickInterval() time.Duration {
	t := h.opts.StabilityWindow / 10
	if t < 10*time.Millisecond {
		t = 10 * time.Millisecond
	}
	if t > time.Second {
		t = time.Second
	}
	return t
}

// maybePromote switches to the steady-state path once the local node
// has led continuously for the stability window with no churn.
func (h *Controller) maybePromote(ctx context.Context) {
	h.mu.Lock()
	eligible := h.mode == ModeNormal &&
		!h.leaderSince.IsZero() &&
		time.Since(h.leaderSince) >= h.opts.StabilityWindow &&
		(h.lastChurn.IsZero() || time.Since(h.lastChurn) >= h.opts.StabilityWindow)
	h.mu.Unlock()
	if !eligible || !h.opts.Raft.IsLeader() {
		return
	}

	term := h.opts.Raft.Term()
	if err := h.opts.Proposer.Establish(ctx, term); err != nil {
		logutil.Debugf("hybrid: steady-state promotion deferred: %v", err)
		return
	}
	h.mu.Lock()
	// Leadership may have moved while Phase 1 ran.
	if h.mode == ModeNormal && h.opts.Raft.IsLeader() && h.opts.Raft.Term() == term {
		h.setModeLocked(ModeSteadyState)
	}
	h.mu.Unlock()
}

func (h *Controller) demote(reason string) {
	h.mu.Lock()
	changed := h.mode == ModeSteadyState
	if changed {
		h.setModeLocked(ModeNormal)
	}
	h.leaderSince = time.Time{}
	if h.opts.Raft.IsLeader() {
		h.leaderSince = time.Now()
	}
	h.mu.Unlock()
	if changed {
		logutil.Infof("hybrid: demoted to normal mode (%s)", reason)
	}
}

// setModeLocked transitions the mode; caller holds h.mu.
func (h *Controller) setModeLocked(m Mode) {
	if h.mode == m {
		return
	}
	h.mode = m
	obsmetrics.ModeSwitches.WithLabelValues(m.String()).Inc()
	h.statMu.Lock()
	h.modeSwitches++
	h.statMu.Unlock()
}

var _ c.Protocol = (*Controller)(nil)
var _ c.LeaderNotifier = (*Controller)(nil)
