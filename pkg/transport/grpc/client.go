package grpc

import (
	"context"
	"crypto/tls"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/backoff"
	"google.golang.org/grpc/credentials"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/keepalive"

	"github.com/amirimatin/go-consensus/pkg/transport"
)

// Client implements transport.Client over gRPC with pooled connections.
type Client struct {
	timeout time.Duration
	tlsCfg  *tls.Config
	cm      *ConnManager
}

func NewClient(timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = 3 * time.Second
	}
	c := &Client{timeout: timeout}
	c.cm = NewConnManager(30*time.Second, c.dialCtx)
	return c
}

// UseTLS sets TLS config for outbound connections.
func (c *Client) UseTLS(cfg *tls.Config) *Client { c.tlsCfg = cfg; return c }

func (c *Client) dialCtx(ctx context.Context, target string) (*grpc.ClientConn, error) {
	// Use JSON codec and set content subtype accordingly.
	opts := []grpc.DialOption{
		grpc.WithDefaultCallOptions(grpc.ForceCodec(jsonCodec{}), grpc.CallContentSubtype("json")),
		grpc.WithConnectParams(grpc.ConnectParams{Backoff: backoff.DefaultConfig, MinConnectTimeout: 500 * time.Millisecond}),
		grpc.WithKeepaliveParams(keepalive.ClientParameters{Time: 20 * time.Second, Timeout: 5 * time.Second, PermitWithoutStream: true}),
	}
	if c.tlsCfg != nil {
		opts = append(opts, grpc.WithTransportCredentials(credentials.NewTLS(c.tlsCfg)))
	} else {
		opts = append(opts, grpc.WithTransportCredentials(insecure.NewCredentials()))
	}
	return grpc.NewClient(target, opts...)
}

func (c *Client) getConn(ctx context.Context, addr string) (*grpc.ClientConn, func(), error) {
	return c.cm.Get(ctx, addr)
}

// Close releases all pooled connections.
func (c *Client) Close() {
	c.cm.Close()
}

func invoke[Req any, Resp any](c *Client, ctx context.Context, addr, method string, req *Req, resp *Resp) error {
	cctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()
	cc, rel, err := c.getConn(cctx, addr)
	if err != nil {
		return err
	}
	defer rel()
	return cc.Invoke(cctx, method, req, resp)
}

func (c *Client) RequestVote(ctx context.Context, addr string, req transport.VoteRequest) (transport.VoteResponse, error) {
	var resp transport.VoteResponse
	err := invoke(c, ctx, addr, "/consensus.v1.Peer/RequestVote", &req, &resp)
	return resp, err
}

func (c *Client) AppendEntries(ctx context.Context, addr string, req transport.AppendRequest) (transport.AppendResponse, error) {
	var resp transport.AppendResponse
	err := invoke(c, ctx, addr, "/consensus.v1.Peer/AppendEntries", &req, &resp)
	return resp, err
}

func (c *Client) Prepare(ctx context.Context, addr string, req transport.PrepareRequest) (transport.PrepareResponse, error) {
	var resp transport.PrepareResponse
	err := invoke(c, ctx, addr, "/consensus.v1.Peer/Prepare", &req, &resp)
	return resp, err
}

func (c *Client) Accept(ctx context.Context, addr string, req transport.AcceptRequest) (transport.AcceptResponse, error) {
	var resp transport.AcceptResponse
	err := invoke(c, ctx, addr, "/consensus.v1.Peer/Accept", &req, &resp)
	return resp, err
}

func (c *Client) Ping(ctx context.Context, addr string, req transport.PingRequest) (transport.PingResponse, error) {
	var resp transport.PingResponse
	err := invoke(c, ctx, addr, "/consensus.v1.Peer/Ping", &req, &resp)
	return resp, err
}

func (c *Client) PingReq(ctx context.Context, addr string, req transport.PingReqRequest) (transport.PingResponse, error) {
	var resp transport.PingResponse
	err := invoke(c, ctx, addr, "/consensus.v1.Peer/PingReq", &req, &resp)
	return resp, err
}

var _ transport.Client = (*Client)(nil)
