package transport

import (
	"context"
	"crypto/tls"
	"fmt"
	"log"
	"net"
	"time"

	"github.com/raftbus/raft"
	"github.com/raftbus/raft/cluster"
	"github.com/raftbus/raft/transport/pb"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/peer"
)

const serviceName = "raftbus.Transport"

// GRPCTransport implements raft.Transport over real gRPC connections,
// using pb.Codec in place of the usual protobuf-generated marshaling so no
// .proto / protoc-gen-go step is needed.
type GRPCTransport struct {
	listener net.Listener
	server   *grpc.Server

	tlsConfig *tls.Config
	dialer    func(context.Context, string) (net.Conn, error)

	maxRetries int
	retryDelay time.Duration

	handler raft.RequestHandler
}

type GRPCTransportConfig struct {
	TLSConfig  *tls.Config
	Dialer     func(context.Context, string) (net.Conn, error)
	MaxRetries int
	RetryDelay time.Duration
}

func NewGRPCTransport(listener net.Listener, config *GRPCTransportConfig) *GRPCTransport {
	if config == nil {
		config = &GRPCTransportConfig{}
	}
	if config.MaxRetries == 0 {
		config.MaxRetries = 3
	}
	if config.RetryDelay == 0 {
		config.RetryDelay = 40 * time.Millisecond
	}
	return &GRPCTransport{
		listener:   listener,
		tlsConfig:  config.TLSConfig,
		dialer:     config.Dialer,
		maxRetries: config.MaxRetries,
		retryDelay: config.RetryDelay,
	}
}

func (t *GRPCTransport) Start() error {
	if t.handler == nil {
		return ErrNoHandlerRegistered
	}

	var opts []grpc.ServerOption
	if t.tlsConfig != nil {
		opts = append(opts, grpc.Creds(credentials.NewTLS(t.tlsConfig)))
	}
	opts = append(opts, grpc.ForceServerCodec(pb.Codec{}))

	t.server = grpc.NewServer(opts...)
	t.server.RegisterService(&serviceDesc, &transportServer{h: t.handler})

	// Serve blocks until GracefulStop, so it runs in the background; a
	// caller wanting to know about an unexpected exit should watch the
	// node's own lifecycle rather than this return value, matching how
	// the core treats every other Transport.Start().
	go func() {
		if err := t.server.Serve(t.listener); err != nil {
			log.Printf("transport: grpc server on %s exited: %v", t.listener.Addr(), err)
		}
	}()
	return nil
}

func (t *GRPCTransport) Stop() error {
	if t.server != nil {
		t.server.GracefulStop()
	}
	return nil
}

func (t *GRPCTransport) RegisterHandler(handler raft.RequestHandler) error {
	if handler == nil {
		return ErrNilHandler
	}
	t.handler = handler
	return nil
}

func (t *GRPCTransport) dial(target string) (*grpc.ClientConn, error) {
	var creds credentials.TransportCredentials
	if t.tlsConfig == nil {
		creds = insecure.NewCredentials()
	} else {
		creds = credentials.NewTLS(t.tlsConfig)
	}
	opts := []grpc.DialOption{
		grpc.WithTransportCredentials(creds),
		grpc.WithDefaultCallOptions(grpc.ForceCodec(pb.Codec{})),
	}
	if t.dialer != nil {
		opts = append(opts, grpc.WithContextDialer(t.dialer))
	}
	return grpc.NewClient(target, opts...)
}

// invoke dials target and calls method with in/out, making up to
// maxRetries attempts in total with retryDelay after each failed one — the
// same retry shape
// the leader-router loop uses one layer up, but here it absorbs transient
// connection failures rather than leadership changes.
func (t *GRPCTransport) invoke(ctx context.Context, target *cluster.Member, method string, in, out any) error {
	conn, err := t.dial(target.Addr)
	if err != nil {
		return &raft.MemberUnavailable{Addr: target.Addr, Err: err}
	}
	defer conn.Close()

	var lastErr error
	for i := 0; i < t.maxRetries; i++ {
		lastErr = conn.Invoke(ctx, method, in, out)
		if lastErr == nil {
			return nil
		}
		select {
		case <-ctx.Done():
			return &raft.MemberUnavailable{Addr: target.Addr, Err: ctx.Err()}
		case <-time.After(t.retryDelay):
		}
	}
	return &raft.MemberUnavailable{Addr: target.Addr, Err: lastErr}
}

func (t *GRPCTransport) SendVoteRequest(ctx context.Context, target *cluster.Member, req *raft.VoteRequest) (*raft.VoteResponse, error) {
	in := &pb.VoteRequest{CandidateID: [16]byte(req.CandidateID), Term: uint64(req.Term), LastLogIndex: uint64(req.LastLogIndex), LastLogTerm: uint64(req.LastLogTerm)}
	out := &pb.VoteResponse{}
	if err := t.invoke(ctx, target, "/"+serviceName+"/RequestVote", in, out); err != nil {
		return nil, err
	}
	return &raft.VoteResponse{Term: raft.Term(out.Term), Granted: out.Granted}, nil
}

func (t *GRPCTransport) SendPreVote(ctx context.Context, target *cluster.Member, req *raft.PreVoteRequest) (*raft.PreVoteResponse, error) {
	in := &pb.PreVoteRequest{CandidateID: [16]byte(req.CandidateID), NextTerm: uint64(req.NextTerm), LastLogIndex: uint64(req.LastLogIndex), LastLogTerm: uint64(req.LastLogTerm)}
	out := &pb.PreVoteResponse{}
	if err := t.invoke(ctx, target, "/"+serviceName+"/PreVote", in, out); err != nil {
		return nil, err
	}
	return &raft.PreVoteResponse{Term: raft.Term(out.Term), WouldGrant: out.WouldGrant}, nil
}

func (t *GRPCTransport) SendAppendEntries(ctx context.Context, target *cluster.Member, req *raft.AppendEntriesRequest) (*raft.AppendEntriesResponse, error) {
	in := &pb.AppendEntriesRequest{
		LeaderID:     [16]byte(req.LeaderID),
		Term:         uint64(req.Term),
		PrevLogIndex: uint64(req.PrevLogIndex),
		PrevLogTerm:  uint64(req.PrevLogTerm),
		Entries:      entriesToWire(req.Entries),
		LeaderCommit: uint64(req.LeaderCommit),
	}
	out := &pb.AppendEntriesResponse{}
	if err := t.invoke(ctx, target, "/"+serviceName+"/AppendEntries", in, out); err != nil {
		return nil, err
	}
	return &raft.AppendEntriesResponse{Term: raft.Term(out.Term), Success: out.Success}, nil
}

func (t *GRPCTransport) SendInstallSnapshot(ctx context.Context, target *cluster.Member, req *raft.InstallSnapshotRequest) (*raft.InstallSnapshotResponse, error) {
	in := &pb.InstallSnapshotRequest{
		LeaderID:          [16]byte(req.LeaderID),
		Term:              uint64(req.Term),
		LastIncludedIndex: uint64(req.LastIncludedIndex),
		LastIncludedTerm:  uint64(req.LastIncludedTerm),
		Data:              req.Data,
	}
	out := &pb.InstallSnapshotResponse{}
	if err := t.invoke(ctx, target, "/"+serviceName+"/InstallSnapshot", in, out); err != nil {
		return nil, err
	}
	return &raft.InstallSnapshotResponse{Term: raft.Term(out.Term), Success: out.Success}, nil
}

func (t *GRPCTransport) SendResign(ctx context.Context, target *cluster.Member, req *raft.ResignRequest) (*raft.ResignResponse, error) {
	in := &pb.ResignRequest{SenderID: [16]byte(req.SenderID)}
	out := &pb.ResignResponse{}
	if err := t.invoke(ctx, target, "/"+serviceName+"/Resign", in, out); err != nil {
		return nil, err
	}
	return &raft.ResignResponse{Term: raft.Term(out.Term), Resigned: out.Resigned}, nil
}

func (t *GRPCTransport) SendMetadata(ctx context.Context, target *cluster.Member, req *raft.MetadataRequest) (*raft.MetadataResponse, error) {
	in := &pb.MetadataRequest{SenderID: [16]byte(req.SenderID)}
	out := &pb.MetadataResponse{}
	if err := t.invoke(ctx, target, "/"+serviceName+"/Metadata", in, out); err != nil {
		return nil, err
	}
	return &raft.MetadataResponse{Metadata: out.Metadata}, nil
}

func (t *GRPCTransport) SendCustom(ctx context.Context, target *cluster.Member, req *raft.CustomRequest) (*raft.CustomResponse, error) {
	in := &pb.CustomRequest{
		SenderID:          [16]byte(req.SenderID),
		MessageID:         req.MessageID,
		Mode:              uint64(req.Mode),
		RespectLeadership: req.RespectLeadership,
		Name:              req.Name,
		ContentType:       req.ContentType,
		Payload:           req.Payload,
	}
	out := &pb.CustomResponse{}
	if err := t.invoke(ctx, target, "/"+serviceName+"/Custom", in, out); err != nil {
		return nil, err
	}
	return &raft.CustomResponse{ContentType: out.ContentType, Payload: out.Payload}, nil
}

func entriesToWire(entries []*raft.Entry) []*pb.Entry {
	out := make([]*pb.Entry, len(entries))
	for i, e := range entries {
		out[i] = &pb.Entry{Term: uint64(e.Term), Index: uint64(e.Index), Payload: e.Payload, Kind: uint64(e.Kind)}
	}
	return out
}

func entriesFromWire(entries []*pb.Entry) []*raft.Entry {
	out := make([]*raft.Entry, len(entries))
	for i, e := range entries {
		out[i] = &raft.Entry{Term: raft.Term(e.Term), Index: raft.LogIndex(e.Index), Payload: e.Payload, Kind: raft.EntryKind(e.Kind)}
	}
	return out
}

// transportServer adapts raft.RequestHandler to the hand-written service
// descriptor below: decode the wire type, call the handler, encode the
// wire response. The status code the handler returns becomes a gRPC
// error for anything other than success, since protowire framing has no
// room for a side-channel status the way the HTTP-style dispatcher does.
type transportServer struct {
	h raft.RequestHandler
}

// transportServiceServer is the interface grpc.ServiceDesc.HandlerType
// needs to point at: RegisterService checks the registered implementation
// against it via reflection, and that check requires an interface type
// rather than the concrete *transportServer.
type transportServiceServer interface {
	RequestVote(context.Context, *pb.VoteRequest) (*pb.VoteResponse, error)
	PreVote(context.Context, *pb.PreVoteRequest) (*pb.PreVoteResponse, error)
	AppendEntries(context.Context, *pb.AppendEntriesRequest) (*pb.AppendEntriesResponse, error)
	InstallSnapshot(context.Context, *pb.InstallSnapshotRequest) (*pb.InstallSnapshotResponse, error)
	Resign(context.Context, *pb.ResignRequest) (*pb.ResignResponse, error)
	Metadata(context.Context, *pb.MetadataRequest) (*pb.MetadataResponse, error)
	Custom(context.Context, *pb.CustomRequest) (*pb.CustomResponse, error)
}

func (s *transportServer) RequestVote(ctx context.Context, in *pb.VoteRequest) (*pb.VoteResponse, error) {
	resp, status := s.h.OnRequestVote(withPeerAddr(ctx), &raft.VoteRequest{
		CandidateID:  cluster.NodeID(in.CandidateID),
		Term:         raft.Term(in.Term),
		LastLogIndex: raft.LogIndex(in.LastLogIndex),
		LastLogTerm:  raft.Term(in.LastLogTerm),
	})
	if status != 200 {
		return &pb.VoteResponse{}, statusError(status)
	}
	return &pb.VoteResponse{Term: uint64(resp.Term), Granted: resp.Granted}, nil
}

func (s *transportServer) PreVote(ctx context.Context, in *pb.PreVoteRequest) (*pb.PreVoteResponse, error) {
	resp, status := s.h.OnPreVote(withPeerAddr(ctx), &raft.PreVoteRequest{
		CandidateID:  cluster.NodeID(in.CandidateID),
		NextTerm:     raft.Term(in.NextTerm),
		LastLogIndex: raft.LogIndex(in.LastLogIndex),
		LastLogTerm:  raft.Term(in.LastLogTerm),
	})
	if status != 200 {
		return &pb.PreVoteResponse{}, statusError(status)
	}
	return &pb.PreVoteResponse{Term: uint64(resp.Term), WouldGrant: resp.WouldGrant}, nil
}

func (s *transportServer) AppendEntries(ctx context.Context, in *pb.AppendEntriesRequest) (*pb.AppendEntriesResponse, error) {
	resp, status := s.h.OnAppendEntries(withPeerAddr(ctx), &raft.AppendEntriesRequest{
		LeaderID:     cluster.NodeID(in.LeaderID),
		Term:         raft.Term(in.Term),
		PrevLogIndex: raft.LogIndex(in.PrevLogIndex),
		PrevLogTerm:  raft.Term(in.PrevLogTerm),
		Entries:      entriesFromWire(in.Entries),
		LeaderCommit: raft.LogIndex(in.LeaderCommit),
	})
	if status != 200 {
		return &pb.AppendEntriesResponse{}, statusError(status)
	}
	return &pb.AppendEntriesResponse{Term: uint64(resp.Term), Success: resp.Success}, nil
}

func (s *transportServer) InstallSnapshot(ctx context.Context, in *pb.InstallSnapshotRequest) (*pb.InstallSnapshotResponse, error) {
	resp, status := s.h.OnInstallSnapshot(withPeerAddr(ctx), &raft.InstallSnapshotRequest{
		LeaderID:          cluster.NodeID(in.LeaderID),
		Term:              raft.Term(in.Term),
		LastIncludedIndex: raft.LogIndex(in.LastIncludedIndex),
		LastIncludedTerm:  raft.Term(in.LastIncludedTerm),
		Data:              in.Data,
	})
	if status != 200 {
		return &pb.InstallSnapshotResponse{}, statusError(status)
	}
	return &pb.InstallSnapshotResponse{Term: uint64(resp.Term), Success: resp.Success}, nil
}

func (s *transportServer) Resign(ctx context.Context, in *pb.ResignRequest) (*pb.ResignResponse, error) {
	resp, status := s.h.OnResign(withPeerAddr(ctx), &raft.ResignRequest{SenderID: cluster.NodeID(in.SenderID)})
	if status != 200 {
		return &pb.ResignResponse{}, statusError(status)
	}
	return &pb.ResignResponse{Term: uint64(resp.Term), Resigned: resp.Resigned}, nil
}

func (s *transportServer) Metadata(ctx context.Context, in *pb.MetadataRequest) (*pb.MetadataResponse, error) {
	resp, status := s.h.OnMetadata(withPeerAddr(ctx), &raft.MetadataRequest{SenderID: cluster.NodeID(in.SenderID)})
	if status != 200 {
		return &pb.MetadataResponse{}, statusError(status)
	}
	return &pb.MetadataResponse{Metadata: resp.Metadata}, nil
}

func (s *transportServer) Custom(ctx context.Context, in *pb.CustomRequest) (*pb.CustomResponse, error) {
	resp, status := s.h.OnCustom(withPeerAddr(ctx), &raft.CustomRequest{
		SenderID:          cluster.NodeID(in.SenderID),
		MessageID:         in.MessageID,
		Mode:              raft.DeliveryMode(in.Mode),
		RespectLeadership: in.RespectLeadership,
		Name:              in.Name,
		ContentType:       in.ContentType,
		Payload:           in.Payload,
	})
	if status == 204 {
		return &pb.CustomResponse{}, nil
	}
	if status != 200 {
		return &pb.CustomResponse{}, statusError(status)
	}
	return &pb.CustomResponse{ContentType: resp.ContentType, Payload: resp.Payload}, nil
}

func statusError(status int) error {
	return fmt.Errorf("raft: dispatcher returned status %d", status)
}

// withPeerAddr threads the gRPC peer address into ctx the way
// raft.WithRemoteAddr expects, so the RPC Dispatcher's ACL check works
// over a real network the same way it does over the in-memory transport.
func withPeerAddr(ctx context.Context) context.Context {
	p, ok := peer.FromContext(ctx)
	if !ok || p.Addr == nil {
		return ctx
	}
	return raft.WithRemoteAddr(ctx, p.Addr)
}

// serviceDesc is the hand-written equivalent of what protoc-gen-go-grpc
// would emit from a .proto file declaring these seven RPCs. Writing it by
// hand keeps the transport on real gRPC framing and streaming semantics
// without requiring a code-generation step in this repo.
var serviceDesc = grpc.ServiceDesc{
	ServiceName: serviceName,
	HandlerType: (*transportServiceServer)(nil),
	Methods: []grpc.MethodDesc{
		unaryMethod("RequestVote", func() *pb.VoteRequest { return &pb.VoteRequest{} }, func(s any, ctx context.Context, in *pb.VoteRequest) (any, error) {
			return s.(*transportServer).RequestVote(ctx, in)
		}),
		unaryMethod("PreVote", func() *pb.PreVoteRequest { return &pb.PreVoteRequest{} }, func(s any, ctx context.Context, in *pb.PreVoteRequest) (any, error) {
			return s.(*transportServer).PreVote(ctx, in)
		}),
		unaryMethod("AppendEntries", func() *pb.AppendEntriesRequest { return &pb.AppendEntriesRequest{} }, func(s any, ctx context.Context, in *pb.AppendEntriesRequest) (any, error) {
			return s.(*transportServer).AppendEntries(ctx, in)
		}),
		unaryMethod("InstallSnapshot", func() *pb.InstallSnapshotRequest { return &pb.InstallSnapshotRequest{} }, func(s any, ctx context.Context, in *pb.InstallSnapshotRequest) (any, error) {
			return s.(*transportServer).InstallSnapshot(ctx, in)
		}),
		unaryMethod("Resign", func() *pb.ResignRequest { return &pb.ResignRequest{} }, func(s any, ctx context.Context, in *pb.ResignRequest) (any, error) {
			return s.(*transportServer).Resign(ctx, in)
		}),
		unaryMethod("Metadata", func() *pb.MetadataRequest { return &pb.MetadataRequest{} }, func(s any, ctx context.Context, in *pb.MetadataRequest) (any, error) {
			return s.(*transportServer).Metadata(ctx, in)
		}),
		unaryMethod("Custom", func() *pb.CustomRequest { return &pb.CustomRequest{} }, func(s any, ctx context.Context, in *pb.CustomRequest) (any, error) {
			return s.(*transportServer).Custom(ctx, in)
		}),
	},
	Metadata: "raftbus/transport.proto",
}

// unaryMethod builds a grpc.MethodDesc for a single RPC. newOf constructs a
// fresh, actually-allocated Req for dec to decode into — Req itself is a
// pointer type, so the generic zero value would be nil and dec would decode
// into a nil pointer.
func unaryMethod[Req any](name string, newOf func() Req, call func(srv any, ctx context.Context, in Req) (any, error)) grpc.MethodDesc {
	return grpc.MethodDesc{
		MethodName: name,
		Handler: func(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
			in := newOf()
			if err := dec(in); err != nil {
				return nil, err
			}
			if interceptor == nil {
				return call(srv, ctx, in)
			}
			info := &grpc.UnaryServerInfo{Server: srv, FullMethod: "/" + serviceName + "/" + name}
			handler := func(ctx context.Context, req any) (any, error) {
				return call(srv, ctx, req.(Req))
			}
			return interceptor(ctx, in, info, handler)
		},
	}
}
