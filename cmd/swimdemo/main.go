// swimdemo runs the gossip membership layer alone, without consensus,
// to observe probe rounds, suspicion and eviction between terminals.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	c "github.com/amirimatin/go-consensus/pkg/consensus"
	base "github.com/amirimatin/go-consensus/pkg/membership"
	"github.com/amirimatin/go-consensus/pkg/membership/swim"
	"github.com/amirimatin/go-consensus/pkg/transport"
	grpctransport "github.com/amirimatin/go-consensus/pkg/transport/grpc"
)

func main() {
	var (
		id        = flag.String("id", "node-1", "node id")
		bind      = flag.String("bind", ":7400", "bind host:port")
		advertise = flag.String("advertise", "", "advertise host:port (optional)")
		joinCSV   = flag.String("join", "", "comma-separated seeds (host:port)")
	)
	flag.Parse()

	ctx, cancel := signalContext()
	defer cancel()

	adv := *advertise
	if adv == "" {
		adv = *bind
	}
	client := grpctransport.NewClient(500 * time.Millisecond)
	defer client.Close()
	m, err := swim.New(swim.Options{NodeID: c.NodeID(*id), Addr: adv, Client: client})
	if err != nil {
		log.Fatal(err)
	}

	srv := grpctransport.NewServer(*bind)
	srv.Register(&gossipOnly{m: m})
	if err := srv.Start(ctx); err != nil {
		log.Fatal(err)
	}
	if err := m.Start(ctx); err != nil {
		log.Fatal(err)
	}

	if *joinCSV != "" {
		if err := m.Join(splitCSV(*joinCSV)); err != nil {
			log.Printf("join error: %v", err)
		}
	}

	fmt.Println("swimdemo started. Press Ctrl+C to exit.")
	go func(evch <-chan base.Event) {
		for e := range evch {
			fmt.Printf("event: %-7s id=%s addr=%s at=%s\n", e.Type, e.Member.ID, e.Member.Addr, e.At.Format(time.RFC3339))
		}
	}(m.Events())

	<-ctx.Done()
	_ = m.Leave()
	_ = m.Stop()
	_ = srv.Stop(context.Background())
}

// gossipOnly serves only the membership RPCs; consensus RPCs answer
// with an error.
type gossipOnly struct {
	m *swim.Manager
}

var errNoConsensus = errors.New("swimdemo: consensus is not running")

func (g *gossipOnly) HandleRequestVote(context.Context, transport.VoteRequest) (transport.VoteResponse, error) {
	return transport.VoteResponse{}, errNoConsensus
}

func (g *gossipOnly) HandleAppendEntries(context.Context, transport.AppendRequest) (transport.AppendResponse, error) {
	return transport.AppendResponse{}, errNoConsensus
}

func (g *gossipOnly) HandlePrepare(context.Context, transport.PrepareRequest) (transport.PrepareResponse, error) {
	return transport.PrepareResponse{}, errNoConsensus
}

func (g *gossipOnly) HandleAccept(context.Context, transport.AcceptRequest) (transport.AcceptResponse, error) {
	return transport.AcceptResponse{}, errNoConsensus
}

func (g *gossipOnly) HandlePing(ctx context.Context, req transport.PingRequest) (transport.PingResponse, error) {
	return g.m.HandlePing(ctx, req)
}

func (g *gossipOnly) HandlePingReq(ctx context.Context, req transport.PingReqRequest) (transport.PingResponse, error) {
	return g.m.HandlePingReq(ctx, req)
}

func splitCSV(s string) []string {
	if s == "" {
		return nil
	}
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}

func signalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
}
