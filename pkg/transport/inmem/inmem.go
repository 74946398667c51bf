package inmem

import (
	"context"
	"fmt"
	"sync"

	c "github.com/amirimatin/go-consensus/pkg/consensus"
	"github.com/amirimatin/go-consensus/pkg/transport"
)

// Mesh is a loopback transport connecting handlers by address in-process.
// Tests use it to wire multi-node clusters and to inject partitions.
type Mesh struct {
	mu      sync.RWMutex
	nodes   map[string]transport.Handler
	blocked map[string]map[string]bool
	down    map[string]bool
}

func NewMesh() *Mesh {
	return &Mesh{
		nodes:   make(map[string]transport.Handler),
		blocked: make(map[string]map[string]bool),
		down:    make(map[string]bool),
	}
}

// Partition blocks traffic in both directions between a and b.
func (m *Mesh) Partition(a, b string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.block(a, b)
	m.block(b, a)
}

// Heal restores traffic between a and b.
func (m *Mesh) Heal(a, b string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.blocked[a], b)
	delete(m.blocked[b], a)
}

// Isolate cuts addr off from every other node.
func (m *Mesh) Isolate(addr string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for other := range m.nodes {
		if other == addr {
			continue
		}
		m.block(addr, other)
		m.block(other, addr)
	}
}

// HealAll removes every partition.
func (m *Mesh) HealAll() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.blocked = make(map[string]map[string]bool)
}

// Disconnect removes addr from the mesh entirely (simulated crash). A
// crashed node neither answers nor originates traffic.
func (m *Mesh) Disconnect(addr string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.nodes, addr)
	m.down[addr] = true
}

func (m *Mesh) block(from, to string) {
	if m.blocked[from] == nil {
		m.blocked[from] = make(map[string]bool)
	}
	m.blocked[from][to] = true
}

func (m *Mesh) handler(from, to string) (transport.Handler, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.down[from] {
		return nil, fmt.Errorf("inmem: %s is down: %w", from, c.ErrTimeout)
	}
	if m.blocked[from][to] {
		return nil, fmt.Errorf("inmem: %s -> %s partitioned: %w", from, to, c.ErrTimeout)
	}
	h, ok := m.nodes[to]
	if !ok {
		return nil, fmt.Errorf("inmem: no node at %s: %w", to, c.ErrTimeout)
	}
	return h, nil
}

// Server returns a transport.Server bound to addr on this mesh.
func (m *Mesh) Server(addr string) transport.Server {
	return &server{mesh: m, addr: addr}
}

// Client returns a transport.Client originating from addr.
func (m *Mesh) Client(addr string) transport.Client {
	return &client{mesh: m, from: addr}
}

type server struct {
	mesh *Mesh
	addr string
	h    transport.Handler
}

func (s *server) Register(h transport.Handler) { s.h = h }

func (s *server) Start(ctx context.Context) error {
	if s.h == nil {
		return fmt.Errorf("inmem: no handler registered")
	}
	s.mesh.mu.Lock()
	s.mesh.nodes[s.addr] = s.h
	delete(s.mesh.down, s.addr)
	s.mesh.mu.Unlock()
	go func() {
		<-ctx.Done()
		_ = s.Stop(context.Background())
	}()
	return nil
}

func (s *server) Addr() string { return s.addr }

func (s *server) Stop(context.Context) error {
	s.mesh.mu.Lock()
	delete(s.mesh.nodes, s.addr)
	s.mesh.mu.Unlock()
	return nil
}

type client struct {
	mesh *Mesh
	from string
}

func (cl *client) RequestVote(ctx context.Context, addr string, req transport.VoteRequest) (transport.VoteResponse, error) {
	h, err := cl.mesh.handler(cl.from, addr)
	if err != nil {
		return transport.VoteResponse{}, err
	}
	return h.HandleRequestVote(ctx, req)
}

func (cl *client) AppendEntries(ctx context.Context, addr string, req transport.AppendRequest) (transport.AppendResponse, error) {
	h, err := cl.mesh.handler(cl.from, addr)
	if err != nil {
		return transport.AppendResponse{}, err
	}
	return h.HandleAppendEntries(ctx, req)
}

func (cl *client) Prepare(ctx context.Context, addr string, req transport.PrepareRequest) (transport.PrepareResponse, error) {
	h, err := cl.mesh.handler(cl.from, addr)
	if err != nil {
		return transport.PrepareResponse{}, err
	}
	return h.HandlePrepare(ctx, req)
}

func (cl *client) Accept(ctx context.Context, addr string, req transport.AcceptRequest) (transport.AcceptResponse, error) {
	h, err := cl.mesh.handler(cl.from, addr)
	if err != nil {
		return transport.AcceptResponse{}, err
	}
	return h.HandleAccept(ctx, req)
}

func (cl *client) Ping(ctx context.Context, addr string, req transport.PingRequest) (transport.PingResponse, error) {
	h, err := cl.mesh.handler(cl.from, addr)
	if err != nil {
		return transport.PingResponse{}, err
	}
	return h.HandlePing(ctx, req)
}

func (cl *client) PingReq(ctx context.Context, addr string, req transport.PingReqRequest) (transport.PingResponse, error) {
	h, err := cl.mesh.handler(cl.from, addr)
	if err != nil {
		return transport.PingResponse{}, err
	}
	return h.HandlePingReq(ctx, req)
}

var (
	_ transport.Server = (*server)(nil)
	_ transport.Client = (*client)(nil)
)
