package raft

import (
	"context"

	"github.com/raftbus/raft/cluster"
)

// DeliveryMode selects how a Custom application message is delivered.
type DeliveryMode uint8

const (
	RequestReply DeliveryMode = iota
	OneWay
	OneWayNoAck
)

func (m DeliveryMode) String() string {
	switch m {
	case RequestReply:
		return "RequestReply"
	case OneWay:
		return "OneWay"
	case OneWayNoAck:
		return "OneWayNoAck"
	default:
		return "Unknown"
	}
}

// Wire request/response pairs for the five Raft RPCs plus Metadata and the
// application-level Custom RPC. These are transport-agnostic plain values;
// a Transport implementation owns framing and encoding.

type VoteRequest struct {
	CandidateID  cluster.NodeID
	Term         Term
	LastLogIndex LogIndex
	LastLogTerm  Term
}

type VoteResponse struct {
	Term    Term
	Granted bool
}

// PreVoteRequest/Response share VoteRequest/Response's predicate but are
// never allowed to mutate term or votedFor on the receiver.
type PreVoteRequest struct {
	CandidateID  cluster.NodeID
	NextTerm     Term
	LastLogIndex LogIndex
	LastLogTerm  Term
}

type PreVoteResponse struct {
	Term       Term
	WouldGrant bool
}

type AppendEntriesRequest struct {
	LeaderID     cluster.NodeID
	Term         Term
	PrevLogIndex LogIndex
	PrevLogTerm  Term
	Entries      []*Entry
	LeaderCommit LogIndex
}

type AppendEntriesResponse struct {
	Term    Term
	Success bool
}

type InstallSnapshotRequest struct {
	LeaderID          cluster.NodeID
	Term              Term
	LastIncludedIndex LogIndex
	LastIncludedTerm  Term
	Data              []byte
}

type InstallSnapshotResponse struct {
	Term    Term
	Success bool
}

type ResignRequest struct {
	SenderID cluster.NodeID
}

type ResignResponse struct {
	Term     Term
	Resigned bool
}

type MetadataRequest struct {
	SenderID cluster.NodeID
}

type MetadataResponse struct {
	Metadata map[string]string
}

// CustomRequest is the application-message RPC. SenderID+MessageID is the
// DuplicateKey carried across retries so receivers can deduplicate.
type CustomRequest struct {
	SenderID          cluster.NodeID
	MessageID         string
	Mode              DeliveryMode
	RespectLeadership bool
	Name              string
	ContentType       string
	Payload           []byte
}

type CustomResponse struct {
	ContentType string
	Payload     []byte
}

// RequestHandler is what a Transport invokes on inbound RPCs. The RPC
// Dispatcher is the concrete implementation the core wires in; the second
// return value is the status code from spec.md §4.7's table.
type RequestHandler interface {
	OnRequestVote(ctx context.Context, req *VoteRequest) (*VoteResponse, int)
	OnPreVote(ctx context.Context, req *PreVoteRequest) (*PreVoteResponse, int)
	OnAppendEntries(ctx context.Context, req *AppendEntriesRequest) (*AppendEntriesResponse, int)
	OnInstallSnapshot(ctx context.Context, req *InstallSnapshotRequest) (*InstallSnapshotResponse, int)
	OnResign(ctx context.Context, req *ResignRequest) (*ResignResponse, int)
	OnMetadata(ctx context.Context, req *MetadataRequest) (*MetadataResponse, int)
	OnCustom(ctx context.Context, req *CustomRequest) (*CustomResponse, int)
}

// Transport is the network collaborator: framing, TLS, and wire
// serialization are all out of scope for the core, which depends only on
// this contract to send RPCs to a remote Member and to accept a
// RequestHandler for inbound ones.
type Transport interface {
	Start() error
	Stop() error
	RegisterHandler(handler RequestHandler) error

	SendVoteRequest(ctx context.Context, target *cluster.Member, req *VoteRequest) (*VoteResponse, error)
	SendPreVote(ctx context.Context, target *cluster.Member, req *PreVoteRequest) (*PreVoteResponse, error)
	SendAppendEntries(ctx context.Context, target *cluster.Member, req *AppendEntriesRequest) (*AppendEntriesResponse, error)
	SendInstallSnapshot(ctx context.Context, target *cluster.Member, req *InstallSnapshotRequest) (*InstallSnapshotResponse, error)
	SendResign(ctx context.Context, target *cluster.Member, req *ResignRequest) (*ResignResponse, error)
	SendMetadata(ctx context.Context, target *cluster.Member, req *MetadataRequest) (*MetadataResponse, error)
	SendCustom(ctx context.Context, target *cluster.Member, req *CustomRequest) (*CustomResponse, error)
}
