package inmem

import (
	"context"
	"errors"
	"testing"

	c "github.com/amirimatin/go-consensus/pkg/consensus"
	"github.com/amirimatin/go-consensus/pkg/transport"
)

// echoHandler answers every RPC with a zero response.
type echoHandler struct{}

func (echoHandler) HandleRequestVote(context.Context, transport.VoteRequest) (transport.VoteResponse, error) {
	return transport.VoteResponse{}, nil
}
func (echoHandler) HandleAppendEntries(context.Context, transport.AppendRequest) (transport.AppendResponse, error) {
	return transport.AppendResponse{}, nil
}
func (echoHandler) HandlePrepare(context.Context, transport.PrepareRequest) (transport.PrepareResponse, error) {
	return transport.PrepareResponse{}, nil
}
func (echoHandler) HandleAccept(context.Context, transport.AcceptRequest) (transport.AcceptResponse, error) {
	return transport.AcceptResponse{}, nil
}
func (echoHandler) HandlePing(context.Context, transport.PingRequest) (transport.PingResponse, error) {
	return transport.PingResponse{}, nil
}
func (echoHandler) HandlePingReq(context.Context, transport.PingReqRequest) (transport.PingResponse, error) {
	return transport.PingResponse{}, nil
}

func startNode(t *testing.T, mesh *Mesh, addr string) {
	t.Helper()
	srv := mesh.Server(addr)
	srv.Register(echoHandler{})
	if err := srv.Start(context.Background()); err != nil {
		t.Fatalf("start %s: %v", addr, err)
	}
}

func TestDisconnectSilencesBothDirections(t *testing.T) {
	mesh := NewMesh()
	startNode(t, mesh, "node-a")
	startNode(t, mesh, "node-b")
	ctx := context.Background()

	if _, err := mesh.Client("node-a").Ping(ctx, "node-b", transport.PingRequest{}); err != nil {
		t.Fatalf("ping before crash: %v", err)
	}

	mesh.Disconnect("node-b")

	// Nobody reaches a crashed node.
	if _, err := mesh.Client("node-a").Ping(ctx, "node-b", transport.PingRequest{}); !errors.Is(err, c.ErrTimeout) {
		t.Fatalf("ping to crashed node: err = %v, want timeout", err)
	}
	// A crashed node sends nothing either.
	if _, err := mesh.Client("node-b").Ping(ctx, "node-a", transport.PingRequest{}); !errors.Is(err, c.ErrTimeout) {
		t.Fatalf("ping from crashed node: err = %v, want timeout", err)
	}
}

func TestRestartAfterDisconnectRejoinsMesh(t *testing.T) {
	mesh := NewMesh()
	startNode(t, mesh, "node-a")
	startNode(t, mesh, "node-b")
	ctx := context.Background()

	mesh.Disconnect("node-b")
	startNode(t, mesh, "node-b")

	if _, err := mesh.Client("node-b").Ping(ctx, "node-a", transport.PingRequest{}); err != nil {
		t.Fatalf("ping after restart: %v", err)
	}
	if _, err := mesh.Client("node-a").Ping(ctx, "node-b", transport.PingRequest{}); err != nil {
		t.Fatalf("ping to restarted node: %v", err)
	}
}

func TestPartitionAndHealAreSymmetric(t *testing.T) {
	mesh := NewMesh()
	startNode(t, mesh, "node-a")
	startNode(t, mesh, "node-b")
	ctx := context.Background()

	mesh.Partition("node-a", "node-b")
	if _, err := mesh.Client("node-a").Ping(ctx, "node-b", transport.PingRequest{}); !errors.Is(err, c.ErrTimeout) {
		t.Fatalf("partitioned ping: err = %v, want timeout", err)
	}
	if _, err := mesh.Client("node-b").Ping(ctx, "node-a", transport.PingRequest{}); !errors.Is(err, c.ErrTimeout) {
		t.Fatalf("partitioned reverse ping: err = %v, want timeout", err)
	}

	mesh.Heal("node-a", "node-b")
	if _, err := mesh.Client("node-a").Ping(ctx, "node-b", transport.PingRequest{}); err != nil {
		t.Fatalf("healed ping: %v", err)
	}
}
