package raft

import (
	"context"
	"net"
	"time"

	"github.com/raftbus/raft/cluster"
)

// BufferingOptions controls whether inbound AppendEntries/InstallSnapshot
// payloads are staged to a scratch store before being handed to the log,
// decoupling network reception from log fsync latency.
type BufferingOptions struct {
	// Enabled turns buffering on. Zero-value Options means no buffering:
	// entries stream directly into the log.
	Enabled bool

	// Threshold is the payload length, in bytes, at or above which the
	// scratch store spills to a temp file instead of staying in memory.
	Threshold int

	// Dir is where spilled scratch files are created.
	Dir string
}

// Options configures a Raft node. Every field corresponds to a named
// option in spec.md §6.
type Options struct {
	// electionTimeoutRange
	MinElectionTimeout time.Duration
	MaxElectionTimeout time.Duration

	// heartbeatInterval
	HeartbeatInterval time.Duration

	// raftRpcTimeout
	RaftRPCTimeout time.Duration

	// allowedNetworks
	AllowedNetworks []*net.IPNet

	// bufferingOptions
	Buffering BufferingOptions

	// duplicateDetectorCapacity
	DuplicateDetectorCapacity int
	DuplicateRetention        time.Duration

	// memberId; generated if zero.
	MemberID cluster.NodeID

	// ForwardApply lets a non-leader forward an Apply to the current
	// leader instead of rejecting it with a LeaderError.
	ForwardApply bool

	// Dialer is a dial function carried alongside the other options; the
	// Raft core does not read it. cmd/raftd hands it to the gRPC transport's
	// config, which is where it takes effect.
	Dialer func(ctx context.Context, addr string) (net.Conn, error)
}

// DefaultOptions mirrors the teacher's DefaultOpts: a heartbeat at a fixed
// fraction of the lower election-timeout bound, as spec.md §4.4 requires.
func DefaultOptions() Options {
	minElection := 150 * time.Millisecond
	return Options{
		MinElectionTimeout:        minElection,
		MaxElectionTimeout:        300 * time.Millisecond,
		HeartbeatInterval:         minElection / 3,
		RaftRPCTimeout:            2 * time.Second,
		DuplicateDetectorCapacity: 4096,
		DuplicateRetention:        5 * time.Minute,
	}
}
