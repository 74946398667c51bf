package swim

import (
	"context"
	"fmt"
	"math"
	"math/rand"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	c "github.com/amirimatin/go-consensus/pkg/consensus"
	"github.com/amirimatin/go-consensus/pkg/internal/logutil"
	base "github.com/amirimatin/go-consensus/pkg/membership"
	obsmetrics "github.com/amirimatin/go-consensus/pkg/observability/metrics"
	"github.com/amirimatin/go-consensus/pkg/transport"
)

// Options configures the SWIM-based membership implementation.
type Options struct {
	// NodeID is the unique local node identifier.
	NodeID c.NodeID

	// Addr is the advertised address peers use to reach this node.
	Addr string

	// Client sends Ping/PingReq RPCs to peer addresses.
	Client transport.Client

	// ProbeInterval is the gossip round period.
	ProbeInterval time.Duration
	// ProbeTimeout is the round-trip budget for a single probe.
	ProbeTimeout time.Duration
	// ProbeFanout is the number of peers probed per round.
	ProbeFanout int
	// IndirectRelays is the number of relay peers asked to probe on our
	// behalf when a direct probe fails.
	IndirectRelays int
	// IndirectRetries bounds indirect probe attempts before the peer is
	// left to the suspicion sweep.
	IndirectRetries int

	// PhiWindow is the inter-arrival sliding window size.
	PhiWindow int
	// PhiThreshold is the suspicion level at which a peer flips to
	// Suspect.
	PhiThreshold float64
	// PhiMinSamples is the minimum number of arrival samples before the
	// detector may suspect a peer.
	PhiMinSamples int

	// SuspicionGrace is how long a Suspect peer has to refute before it
	// is declared Dead.
	SuspicionGrace time.Duration
	// EvictionGrace is how long a Dead peer stays in the table before it
	// is evicted.
	EvictionGrace time.Duration

	// AntiEntropyInterval is the period of full-table reconciliation
	// with a random peer.
	AntiEntropyInterval time.Duration

	// RetransmitMult scales how many times a rumor is piggybacked on
	// outgoing messages before it is dropped from the queue.
	RetransmitMult int
}

// Validate checks required fields and fills defaults.
func (o *Options) Validate() error {
	if o.NodeID == "" {
		return fmt.Errorf("swim: empty NodeID")
	}
	if o.Addr == "" {
		return fmt.Errorf("swim: empty Addr")
	}
	if o.Client == nil {
		return fmt.Errorf("swim: nil transport client")
	}
	if o.ProbeInterval <= 0 {
		o.ProbeInterval = 500 * time.Millisecond
	}
	if o.ProbeTimeout <= 0 {
		o.ProbeTimeout = 200 * time.Millisecond
	}
	if o.ProbeFanout <= 0 {
		o.ProbeFanout = 2
	}
	if o.IndirectRelays <= 0 {
		o.IndirectRelays = 2
	}
	if o.IndirectRetries <= 0 {
		o.IndirectRetries = 2
	}
	if o.PhiWindow <= 0 {
		o.PhiWindow = 64
	}
	if o.PhiThreshold <= 0 {
		o.PhiThreshold = 8
	}
	if o.PhiMinSamples <= 0 {
		o.PhiMinSamples = 3
	}
	if o.SuspicionGrace <= 0 {
		o.SuspicionGrace = 6 * o.ProbeInterval
	}
	if o.EvictionGrace <= 0 {
		o.EvictionGrace = 20 * o.ProbeInterval
	}
	if o.AntiEntropyInterval <= 0 {
		o.AntiEntropyInterval = 10 * o.ProbeInterval
	}
	if o.RetransmitMult <= 0 {
		o.RetransmitMult = 3
	}
	return nil
}

type memberState struct {
	m           base.ClusterMember
	det         *phiDetector
	suspectedAt time.Time
	deadAt      time.Time
}

type rumor struct {
	u     transport.MemberUpdate
	sends int
}

const maxPiggyback = 6

// Manager implements base.Membership with SWIM-style gossip and
// phi-accrual failure detection.
type Manager struct {
	opts Options

	mu     sync.RWMutex
	table  map[c.NodeID]*memberState
	rumors []*rumor

	localInc atomic.Uint64
	seq      atomic.Uint64

	evts    chan base.Event
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	started bool
	stopped bool
}

// New constructs a SWIM membership manager.
func New(opts Options) (*Manager, error) {
	if err := opts.Validate(); err != nil {
		return nil, err
	}
	m := &Manager{
		opts:  opts,
		table: make(map[c.NodeID]*memberState),
		evts:  make(chan base.Event, 64),
	}
	m.localInc.Store(1)
	return m, nil
}

// Start registers the local node and launches the probe, anti-entropy
// and sweep loops. Loops stop when ctx is cancelled or Stop is called.
func (m *Manager) Start(ctx context.Context) error {
	m.mu.Lock()
	if m.started {
		m.mu.Unlock()
		return nil
	}
	m.started = true
	m.table[m.opts.NodeID] = &memberState{
		m: base.ClusterMember{
			ID:            m.opts.NodeID,
			Addr:          m.opts.Addr,
			State:         base.StateAlive,
			Incarnation:   m.localInc.Load(),
			LastHeartbeat: time.Now(),
		},
		det: newPhiDetector(m.opts.PhiWindow),
	}
	m.mu.Unlock()

	ctx, cancel := context.WithCancel(ctx)
	m.cancel = cancel
	m.wg.Add(2)
	go m.probeLoop(ctx)
	go m.antiEntropyLoop(ctx)
	return nil
}

// Join contacts the given seed addresses and merges their membership
// views. At least one seed must respond.
func (m *Manager) Join(seeds []string) error {
	if len(seeds) == 0 {
		return nil
	}
	var lastErr error
	ok := 0
	for _, addr := range seeds {
		if addr == m.opts.Addr {
			continue
		}
		ctx, cancel := context.WithTimeout(context.Background(), m.opts.ProbeTimeout)
		resp, err := m.opts.Client.Ping(ctx, addr, transport.PingRequest{
			From:    m.opts.NodeID,
			Seq:     m.seq.Add(1),
			Updates: m.fullTable(),
		})
		cancel()
		if err != nil {
			lastErr = err
			continue
		}
		m.merge(resp.Updates)
		if resp.From != "" {
			m.observeArrival(resp.From, addr)
		}
		ok++
	}
	if ok == 0 && lastErr != nil {
		return fmt.Errorf("swim: join failed: %w", lastErr)
	}
	return nil
}

// AddNode registers a new member under a freshly minted id and gossips
// it. The id resolves in Members() immediately.
func (m *Manager) AddNode(name, addr string) (c.NodeID, error) {
	if addr == "" {
		return "", fmt.Errorf("swim: empty address for node %q", name)
	}
	if name == "" {
		name = "node"
	}
	id := c.NodeID(name + "-" + uuid.NewString()[:8])
	mem := base.ClusterMember{
		ID:            id,
		Addr:          addr,
		State:         base.StateAlive,
		Incarnation:   1,
		LastHeartbeat: time.Now(),
	}
	m.mu.Lock()
	m.table[id] = &memberState{m: mem, det: newPhiDetector(m.opts.PhiWindow)}
	m.enqueueRumorLocked(updateFor(mem))
	m.mu.Unlock()
	m.emit(base.Event{Type: base.EventJoin, Member: mem, At: time.Now()})
	m.publishGauges()
	return id, nil
}

func (m *Manager) Local() base.ClusterMember {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if ms, ok := m.table[m.opts.NodeID]; ok {
		return ms.m
	}
	return base.ClusterMember{ID: m.opts.NodeID, Addr: m.opts.Addr, State: base.StateAlive, Incarnation: m.localInc.Load()}
}

func (m *Manager) Members() []base.ClusterMember {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]base.ClusterMember, 0, len(m.table))
	for _, ms := range m.table {
		out = append(out, ms.m)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

func (m *Manager) Member(id c.NodeID) (base.ClusterMember, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	ms, ok := m.table[id]
	if !ok {
		return base.ClusterMember{}, false
	}
	return ms.m, true
}

func (m *Manager) Events() <-chan base.Event { return m.evts }

func (m *Manager) Stats() base.Stats {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var s base.Stats
	for _, ms := range m.table {
		switch ms.m.State {
		case base.StateAlive:
			s.Alive++
		case base.StateSuspect:
			s.Suspect++
		case base.StateDead:
			s.Dead++
		}
	}
	return s
}

// Suspicion reports the raw phi level for a peer, or -1 when unknown.
func (m *Manager) Suspicion(id c.NodeID) float64 {
	m.mu.RLock()
	ms, ok := m.table[id]
	m.mu.RUnlock()
	if !ok {
		return -1
	}
	return ms.det.phi(time.Now())
}

// Leave announces a voluntary departure with a bumped incarnation so the
// assertion outranks any in-flight Alive rumor, then best-effort gossips
// it to a few peers.
func (m *Manager) Leave() error {
	inc := m.localInc.Add(1)
	m.mu.Lock()
	var self base.ClusterMember
	if ms, ok := m.table[m.opts.NodeID]; ok {
		ms.m.State = base.StateDead
		ms.m.Incarnation = inc
		self = ms.m
	}
	u := transport.MemberUpdate{ID: m.opts.NodeID, Addr: m.opts.Addr, State: base.StateDead.String(), Incarnation: inc}
	m.enqueueRumorLocked(u)
	peers := m.pickPeersLocked(3, nil)
	m.mu.Unlock()

	for _, p := range peers {
		ctx, cancel := context.WithTimeout(context.Background(), m.opts.ProbeTimeout)
		_, _ = m.opts.Client.Ping(ctx, p.Addr, transport.PingRequest{
			From:    m.opts.NodeID,
			Seq:     m.seq.Add(1),
			Updates: []transport.MemberUpdate{u},
		})
		cancel()
	}
	m.emit(base.Event{Type: base.EventLeave, Member: self, At: time.Now()})
	return nil
}

// Stop cancels all loops and closes the event channel.
func (m *Manager) Stop() error {
	m.mu.Lock()
	if m.stopped || !m.started {
		m.stopped = true
		m.mu.Unlock()
		return nil
	}
	m.stopped = true
	m.mu.Unlock()
	if m.cancel != nil {
		m.cancel()
	}
	m.wg.Wait()
	m.mu.Lock()
	close(m.evts)
	m.mu.Unlock()
	return nil
}

// HandlePing answers a direct probe: record the sender's arrival, merge
// its rumors and piggyback ours.
func (m *Manager) HandlePing(ctx context.Context, req transport.PingRequest) (transport.PingResponse, error) {
	m.merge(req.Updates)
	if req.From != "" {
		m.observeArrival(req.From, "")
	}
	return transport.PingResponse{
		From:    m.opts.NodeID,
		Seq:     req.Seq,
		Updates: m.piggyback(),
	}, nil
}

// HandlePingReq probes the target on the requester's behalf.
func (m *Manager) HandlePingReq(ctx context.Context, req transport.PingReqRequest) (transport.PingResponse, error) {
	m.merge(req.Updates)
	pctx, cancel := context.WithTimeout(ctx, m.opts.ProbeTimeout)
	defer cancel()
	resp, err := m.opts.Client.Ping(pctx, req.Addr, transport.PingRequest{
		From:    m.opts.NodeID,
		Seq:     req.Seq,
		Updates: m.piggyback(),
	})
	if err != nil {
		return transport.PingResponse{}, fmt.Errorf("swim: relay probe of %s: %w", req.Target, err)
	}
	m.merge(resp.Updates)
	if resp.From != "" {
		m.observeArrival(resp.From, req.Addr)
	}
	return transport.PingResponse{From: m.opts.NodeID, Seq: req.Seq, Updates: resp.Updates}, nil
}

func (m *Manager) probeLoop(ctx context.Context) {
	defer m.wg.Done()
	ticker := time.NewTicker(m.opts.ProbeInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.probeRound(ctx)
			m.sweep(time.Now())
		}
	}
}

func (m *Manager) probeRound(ctx context.Context) {
	m.mu.RLock()
	targets := m.pickPeersLocked(m.opts.ProbeFanout, func(ms base.ClusterMember) bool {
		return ms.State != base.StateDead
	})
	m.mu.RUnlock()

	var wg sync.WaitGroup
	for _, t := range targets {
		wg.Add(1)
		go func(t base.ClusterMember) {
			defer wg.Done()
			m.probe(ctx, t)
		}(t)
	}
	wg.Wait()
}

func (m *Manager) probe(ctx context.Context, target base.ClusterMember) {
	pctx, cancel := context.WithTimeout(ctx, m.opts.ProbeTimeout)
	resp, err := m.opts.Client.Ping(pctx, target.Addr, transport.PingRequest{
		From:    m.opts.NodeID,
		Seq:     m.seq.Add(1),
		Updates: m.piggyback(),
	})
	cancel()
	if err == nil {
		obsmetrics.ProbesSent.WithLabelValues("direct", "ok").Inc()
		m.merge(resp.Updates)
		m.observeArrival(target.ID, target.Addr)
		return
	}
	obsmetrics.ProbesSent.WithLabelValues("direct", "fail").Inc()

	// Indirect probes through relay peers, bounded retries.
	m.mu.RLock()
	relays := m.pickPeersLocked(m.opts.IndirectRelays, func(ms base.ClusterMember) bool {
		return ms.State == base.StateAlive && ms.ID != target.ID
	})
	m.mu.RUnlock()
	for attempt := 0; attempt < m.opts.IndirectRetries; attempt++ {
		for _, relay := range relays {
			rctx, rcancel := context.WithTimeout(ctx, 2*m.opts.ProbeTimeout)
			resp, err := m.opts.Client.PingReq(rctx, relay.Addr, transport.PingReqRequest{
				From:    m.opts.NodeID,
				Target:  target.ID,
				Addr:    target.Addr,
				Seq:     m.seq.Add(1),
				Updates: m.piggyback(),
			})
			rcancel()
			if err == nil {
				obsmetrics.ProbesSent.WithLabelValues("indirect", "ok").Inc()
				m.merge(resp.Updates)
				m.observeArrival(target.ID, target.Addr)
				return
			}
			obsmetrics.ProbesSent.WithLabelValues("indirect", "fail").Inc()
		}
	}
	// No ack anywhere; the suspicion sweep takes it from here.
}

// sweep runs the failure detector over the table and advances the
// Suspect -> Dead -> evicted lifecycle.
func (m *Manager) sweep(now time.Time) {
	type change struct {
		ev base.Event
		u  transport.MemberUpdate
	}
	var changes []change

	m.mu.Lock()
	for id, ms := range m.table {
		if id == m.opts.NodeID {
			continue
		}
		phi := ms.det.phi(now)
		obsmetrics.PhiSuspicion.WithLabelValues(string(id)).Set(phi)
		switch ms.m.State {
		case base.StateAlive:
			if ms.det.samples() >= m.opts.PhiMinSamples && phi >= m.opts.PhiThreshold {
				ms.m.State = base.StateSuspect
				ms.suspectedAt = now
				changes = append(changes, change{
					ev: base.Event{Type: base.EventSuspect, Member: ms.m, At: now},
					u:  updateFor(ms.m),
				})
			}
		case base.StateSuspect:
			if now.Sub(ms.suspectedAt) >= m.opts.SuspicionGrace {
				ms.m.State = base.StateDead
				ms.deadAt = now
				changes = append(changes, change{
					ev: base.Event{Type: base.EventFailed, Member: ms.m, At: now},
					u:  updateFor(ms.m),
				})
			}
		case base.StateDead:
			if now.Sub(ms.deadAt) >= m.opts.EvictionGrace {
				delete(m.table, id)
				obsmetrics.PhiSuspicion.DeleteLabelValues(string(id))
				changes = append(changes, change{
					ev: base.Event{Type: base.EventLeave, Member: ms.m, At: now},
				})
			}
		}
	}
	for _, ch := range changes {
		if ch.u.ID != "" {
			m.enqueueRumorLocked(ch.u)
		}
	}
	m.mu.Unlock()

	for _, ch := range changes {
		if ch.ev.Type == base.EventFailed {
			logutil.Warnf("swim: member %s declared dead", ch.ev.Member.ID)
		}
		m.emit(ch.ev)
	}
	m.publishGauges()
}

func (m *Manager) antiEntropyLoop(ctx context.Context) {
	defer m.wg.Done()
	ticker := time.NewTicker(m.opts.AntiEntropyInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.mu.RLock()
			peers := m.pickPeersLocked(1, func(ms base.ClusterMember) bool {
				return ms.State != base.StateDead
			})
			m.mu.RUnlock()
			if len(peers) == 0 {
				continue
			}
			pctx, cancel := context.WithTimeout(ctx, 2*m.opts.ProbeTimeout)
			resp, err := m.opts.Client.Ping(pctx, peers[0].Addr, transport.PingRequest{
				From:    m.opts.NodeID,
				Seq:     m.seq.Add(1),
				Updates: m.fullTable(),
			})
			cancel()
			if err == nil {
				m.merge(resp.Updates)
				m.observeArrival(peers[0].ID, peers[0].Addr)
			}
		}
	}
}

// observeArrival records a heartbeat for id and clears local suspicion.
// A direct ack is the detector's own evidence of liveness, so it may
// unsuspect without an incarnation bump; gossip merges still require
// one.
func (m *Manager) observeArrival(id c.NodeID, addr string) {
	now := time.Now()
	var recovered *base.ClusterMember
	m.mu.Lock()
	ms, ok := m.table[id]
	if !ok {
		if addr == "" {
			m.mu.Unlock()
			return
		}
		ms = &memberState{
			m:   base.ClusterMember{ID: id, Addr: addr, State: base.StateAlive, Incarnation: 0, LastHeartbeat: now},
			det: newPhiDetector(m.opts.PhiWindow),
		}
		m.table[id] = ms
		joined := ms.m
		m.mu.Unlock()
		m.emit(base.Event{Type: base.EventJoin, Member: joined, At: now})
		m.publishGauges()
		return
	}
	ms.det.heartbeat(now)
	ms.m.LastHeartbeat = now
	if ms.m.State == base.StateSuspect {
		ms.m.State = base.StateAlive
		cp := ms.m
		recovered = &cp
	}
	m.mu.Unlock()
	if recovered != nil {
		m.emit(base.Event{Type: base.EventAlive, Member: *recovered, At: now})
		m.publishGauges()
	}
}

// merge folds incoming gossip into the table. Conflicts resolve by
// incarnation order first, then by state precedence (Dead > Suspect >
// Alive) at equal incarnations. A rumor about the local node in a
// non-Alive state is refuted by bumping the local incarnation.
func (m *Manager) merge(updates []transport.MemberUpdate) {
	if len(updates) == 0 {
		return
	}
	now := time.Now()
	var events []base.Event

	m.mu.Lock()
	for _, u := range updates {
		st := base.ParseState(u.State)
		if u.ID == m.opts.NodeID {
			if st != base.StateAlive && u.Incarnation >= m.localInc.Load() {
				inc := m.localInc.Add(1)
				if ms, ok := m.table[m.opts.NodeID]; ok {
					ms.m.Incarnation = inc
					ms.m.State = base.StateAlive
				}
				m.enqueueRumorLocked(transport.MemberUpdate{
					ID: m.opts.NodeID, Addr: m.opts.Addr, State: base.StateAlive.String(), Incarnation: inc,
				})
				logutil.Debugf("swim: refuted %s rumor with incarnation %d", u.State, inc)
			}
			continue
		}
		ms, ok := m.table[u.ID]
		if !ok {
			if st == base.StateDead {
				// Never learn about a node for the first time as dead;
				// the rumor will age out elsewhere.
				continue
			}
			mem := base.ClusterMember{ID: u.ID, Addr: u.Addr, State: st, Incarnation: u.Incarnation, LastHeartbeat: now}
			nms := &memberState{m: mem, det: newPhiDetector(m.opts.PhiWindow)}
			if st == base.StateSuspect {
				nms.suspectedAt = now
			}
			m.table[u.ID] = nms
			m.enqueueRumorLocked(u)
			events = append(events, base.Event{Type: base.EventJoin, Member: mem, At: now})
			continue
		}
		if u.Incarnation < ms.m.Incarnation {
			continue
		}
		if u.Incarnation == ms.m.Incarnation && precedence(st) <= precedence(ms.m.State) {
			continue
		}
		prev := ms.m.State
		ms.m.State = st
		ms.m.Incarnation = u.Incarnation
		if u.Addr != "" {
			ms.m.Addr = u.Addr
		}
		switch st {
		case base.StateSuspect:
			ms.suspectedAt = now
		case base.StateDead:
			ms.deadAt = now
		}
		m.enqueueRumorLocked(u)
		switch {
		case st == base.StateAlive && prev != base.StateAlive:
			events = append(events, base.Event{Type: base.EventAlive, Member: ms.m, At: now})
		case st == base.StateSuspect && prev == base.StateAlive:
			events = append(events, base.Event{Type: base.EventSuspect, Member: ms.m, At: now})
		case st == base.StateDead && prev != base.StateDead:
			events = append(events, base.Event{Type: base.EventFailed, Member: ms.m, At: now})
		}
	}
	m.mu.Unlock()

	for _, ev := range events {
		m.emit(ev)
	}
	if len(events) > 0 {
		m.publishGauges()
	}
}

func precedence(s base.State) int {
	switch s {
	case base.StateDead:
		return 2
	case base.StateSuspect:
		return 1
	default:
		return 0
	}
}

func updateFor(m base.ClusterMember) transport.MemberUpdate {
	return transport.MemberUpdate{ID: m.ID, Addr: m.Addr, State: m.State.String(), Incarnation: m.Incarnation}
}

// enqueueRumorLocked queues u for piggybacking, replacing any queued
// rumor about the same node that u supersedes.
func (m *Manager) enqueueRumorLocked(u transport.MemberUpdate) {
	for i, r := range m.rumors {
		if r.u.ID == u.ID {
			if u.Incarnation > r.u.Incarnation ||
				(u.Incarnation == r.u.Incarnation && precedence(base.ParseState(u.State)) > precedence(base.ParseState(r.u.State))) {
				m.rumors[i] = &rumor{u: u}
			}
			return
		}
	}
	m.rumors = append(m.rumors, &rumor{u: u})
}

// piggyback returns up to maxPiggyback queued rumors, dropping those
// that have been sent enough times relative to cluster size.
func (m *Manager) piggyback() []transport.MemberUpdate {
	m.mu.Lock()
	defer m.mu.Unlock()
	limit := m.opts.RetransmitMult * (1 + int(math.Ceil(math.Log10(float64(len(m.table)+1)))))
	out := make([]transport.MemberUpdate, 0, maxPiggyback)
	kept := m.rumors[:0]
	for _, r := range m.rumors {
		if len(out) < maxPiggyback {
			out = append(out, r.u)
			r.sends++
		}
		if r.sends < limit {
			kept = append(kept, r)
		}
	}
	m.rumors = kept
	return out
}

// fullTable snapshots every member as an update, used by join and
// anti-entropy exchanges.
func (m *Manager) fullTable() []transport.MemberUpdate {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]transport.MemberUpdate, 0, len(m.table))
	for _, ms := range m.table {
		out = append(out, updateFor(ms.m))
	}
	return out
}

// pickPeersLocked selects up to n random non-local peers passing the
// filter. Callers hold at least a read lock.
func (m *Manager) pickPeersLocked(n int, filter func(base.ClusterMember) bool) []base.ClusterMember {
	cands := make([]base.ClusterMember, 0, len(m.table))
	for id, ms := range m.table {
		if id == m.opts.NodeID {
			continue
		}
		if filter != nil && !filter(ms.m) {
			continue
		}
		cands = append(cands, ms.m)
	}
	rand.Shuffle(len(cands), func(i, j int) { cands[i], cands[j] = cands[j], cands[i] })
	if len(cands) > n {
		cands = cands[:n]
	}
	return cands
}

// emit delivers an event without blocking; slow consumers lose events
// rather than stalling the protocol loops.
func (m *Manager) emit(ev base.Event) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.stopped {
		return
	}
	select {
	case m.evts <- ev:
	default:
	}
}

func (m *Manager) publishGauges() {
	s := m.Stats()
	obsmetrics.ClusterMembers.WithLabelValues("alive").Set(float64(s.Alive))
	obsmetrics.ClusterMembers.WithLabelValues("suspect").Set(float64(s.Suspect))
	obsmetrics.ClusterMembers.WithLabelValues("dead").Set(float64(s.Dead))
}

var _ base.Membership = (*Manager)(nil)
var _ base.SuspicionReporter = (*Manager)(nil)
