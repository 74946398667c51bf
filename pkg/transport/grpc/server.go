package grpc

import (
	"context"
	"crypto/tls"
	"net"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/keepalive"

	"github.com/amirimatin/go-consensus/pkg/observability/tracing"
	"github.com/amirimatin/go-consensus/pkg/transport"
)

// Server implements transport.Server over gRPC using a JSON codec and
// hand-written service descriptors (no codegen).
type Server struct {
	bind   string
	lis    net.Listener
	srv    *grpc.Server
	tlsCfg *tls.Config
	h      transport.Handler
}

func NewServer(bind string) *Server { return &Server{bind: bind} }

// UseTLS enables TLS for the gRPC server using the provided config.
func (s *Server) UseTLS(cfg *tls.Config) *Server { s.tlsCfg = cfg; return s }

func (s *Server) Register(h transport.Handler) { s.h = h }

// peerServer defines the methods we expose.
type peerServer interface {
	RequestVote(ctx context.Context, in *transport.VoteRequest) (*transport.VoteResponse, error)
	AppendEntries(ctx context.Context, in *transport.AppendRequest) (*transport.AppendResponse, error)
	Prepare(ctx context.Context, in *transport.PrepareRequest) (*transport.PrepareResponse, error)
	Accept(ctx context.Context, in *transport.AcceptRequest) (*transport.AcceptResponse, error)
	Ping(ctx context.Context, in *transport.PingRequest) (*transport.PingResponse, error)
	PingReq(ctx context.Context, in *transport.PingReqRequest) (*transport.PingResponse, error)
}

type peerImpl struct{ h transport.Handler }

func (p *peerImpl) RequestVote(ctx context.Context, in *transport.VoteRequest) (*transport.VoteResponse, error) {
	if in == nil {
		in = &transport.VoteRequest{}
	}
	ctx, end := tracing.StartSpan(ctx, "grpc.requestVote")
	defer end()
	out, err := p.h.HandleRequestVote(ctx, *in)
	if err != nil {
		return nil, err
	}
	return &out, nil
}

func (p *peerImpl) AppendEntries(ctx context.Context, in *transport.AppendRequest) (*transport.AppendResponse, error) {
	if in == nil {
		in = &transport.AppendRequest{}
	}
	out, err := p.h.HandleAppendEntries(ctx, *in)
	if err != nil {
		return nil, err
	}
	return &out, nil
}

func (p *peerImpl) Prepare(ctx context.Context, in *transport.PrepareRequest) (*transport.PrepareResponse, error) {
	if in == nil {
		in = &transport.PrepareRequest{}
	}
	ctx, end := tracing.StartSpan(ctx, "grpc.prepare")
	defer end()
	out, err := p.h.HandlePrepare(ctx, *in)
	if err != nil {
		return nil, err
	}
	return &out, nil
}

func (p *peerImpl) Accept(ctx context.Context, in *transport.AcceptRequest) (*transport.AcceptResponse, error) {
	if in == nil {
		in = &transport.AcceptRequest{}
	}
	out, err := p.h.HandleAccept(ctx, *in)
	if err != nil {
		return nil, err
	}
	return &out, nil
}

func (p *peerImpl) Ping(ctx context.Context, in *transport.PingRequest) (*transport.PingResponse, error) {
	if in == nil {
		in = &transport.PingRequest{}
	}
	out, err := p.h.HandlePing(ctx, *in)
	if err != nil {
		return nil, err
	}
	return &out, nil
}

func (p *peerImpl) PingReq(ctx context.Context, in *transport.PingReqRequest) (*transport.PingResponse, error) {
	if in == nil {
		in = &transport.PingReqRequest{}
	}
	out, err := p.h.HandlePingReq(ctx, *in)
	if err != nil {
		return nil, err
	}
	return &out, nil
}

// Service descriptor and handlers (hand-written, no codegen required)
var _Peer_serviceDesc = grpc.ServiceDesc{
	ServiceName: "consensus.v1.Peer",
	HandlerType: (*peerServer)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "RequestVote", Handler: _Peer_RequestVote_Handler},
		{MethodName: "AppendEntries", Handler: _Peer_AppendEntries_Handler},
		{MethodName: "Prepare", Handler: _Peer_Prepare_Handler},
		{MethodName: "Accept", Handler: _Peer_Accept_Handler},
		{MethodName: "Ping", Handler: _Peer_Ping_Handler},
		{MethodName: "PingReq", Handler: _Peer_PingReq_Handler},
	},
}

func _Peer_RequestVote_Handler(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
	in := new(transport.VoteRequest)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(peerServer).RequestVote(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: "/consensus.v1.Peer/RequestVote"}
	handler := func(ctx context.Context, req interface{}) (interface{}, error) {
		return srv.(peerServer).RequestVote(ctx, req.(*transport.VoteRequest))
	}
	return interceptor(ctx, in, info, handler)
}

func _Peer_AppendEntries_Handler(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
	in := new(transport.AppendRequest)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(peerServer).AppendEntries(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: "/consensus.v1.Peer/AppendEntries"}
	handler := func(ctx context.Context, req interface{}) (interface{}, error) {
		return srv.(peerServer).AppendEntries(ctx, req.(*transport.AppendRequest))
	}
	return interceptor(ctx, in, info, handler)
}

func _Peer_Prepare_Handler(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
	in := new(transport.PrepareRequest)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(peerServer).Prepare(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: "/consensus.v1.Peer/Prepare"}
	handler := func(ctx context.Context, req interface{}) (interface{}, error) {
		return srv.(peerServer).Prepare(ctx, req.(*transport.PrepareRequest))
	}
	return interceptor(ctx, in, info, handler)
}

func _Peer_Accept_Handler(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
	in := new(transport.AcceptRequest)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(peerServer).Accept(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: "/consensus.v1.Peer/Accept"}
	handler := func(ctx context.Context, req interface{}) (interface{}, error) {
		return srv.(peerServer).Accept(ctx, req.(*transport.AcceptRequest))
	}
	return interceptor(ctx, in, info, handler)
}

func _Peer_Ping_Handler(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
	in := new(transport.PingRequest)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(peerServer).Ping(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: "/consensus.v1.Peer/Ping"}
	handler := func(ctx context.Context, req interface{}) (interface{}, error) {
		return srv.(peerServer).Ping(ctx, req.(*transport.PingRequest))
	}
	return interceptor(ctx, in, info, handler)
}

func _Peer_PingReq_Handler(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
	in := new(transport.PingReqRequest)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(peerServer).PingReq(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: "/consensus.v1.Peer/PingReq"}
	handler := func(ctx context.Context, req interface{}) (interface{}, error) {
		return srv.(peerServer).PingReq(ctx, req.(*transport.PingReqRequest))
	}
	return interceptor(ctx, in, info, handler)
}

func (s *Server) Start(ctx context.Context) error {
	lis, err := net.Listen("tcp", s.bind)
	if err != nil {
		return err
	}
	s.lis = lis
	// Force JSON codec to avoid requiring protobuf types
	var opts []grpc.ServerOption
	opts = append(opts, grpc.ForceServerCodec(jsonCodec{}))
	opts = append(opts, grpc.KeepaliveEnforcementPolicy(keepalive.EnforcementPolicy{MinTime: 5 * time.Second, PermitWithoutStream: true}))
	opts = append(opts, grpc.KeepaliveParams(keepalive.ServerParameters{Time: 30 * time.Second, Timeout: 10 * time.Second}))
	if s.tlsCfg != nil {
		opts = append(opts, grpc.Creds(credentials.NewTLS(s.tlsCfg)))
	}
	srv := grpc.NewServer(opts...)
	s.srv = srv
	// Health service (always serving for now)
	healthSrv := health.NewServer()
	healthpb.RegisterHealthServer(srv, healthSrv)
	srv.RegisterService(&_Peer_serviceDesc, &peerImpl{h: s.h})

	go func() {
		<-ctx.Done()
		// Graceful stop with a small timeout fallback
		ch := make(chan struct{})
		go func() { srv.GracefulStop(); close(ch) }()
		select {
		case <-ch:
		case <-time.After(2 * time.Second):
			srv.Stop()
		}
	}()
	go func() { _ = srv.Serve(lis) }()
	return nil
}

func (s *Server) Addr() string {
	if s.lis != nil {
		return s.lis.Addr().String()
	}
	return s.bind
}

func (s *Server) Stop(ctx context.Context) error {
	if s.srv == nil {
		return nil
	}
	ch := make(chan struct{})
	go func() { s.srv.GracefulStop(); close(ch) }()
	select {
	case <-ch:
	case <-ctx.Done():
		s.srv.Stop()
	}
	s.srv = nil
	if s.lis != nil {
		_ = s.lis.Close()
		s.lis = nil
	}
	return nil
}

var _ transport.Server = (*Server)(nil)
