package raft

import (
	"context"
	"net"

	"github.com/raftbus/raft/cluster"
)

// rpcDispatcher implements RequestHandler: it is what every Transport
// invokes for an inbound RPC. It enforces the network ACL, touches the
// sender's liveness timestamp, and maps each request to the Raft State
// Machine or the Message Bus, per spec.md §4.7's status-code table.
type rpcDispatcher struct {
	r *Raft
}

func (r *Raft) dispatcher() RequestHandler { return &rpcDispatcher{r: r} }

// checkACL implements status 403: "AllowedNetworks is non-empty and the
// remote IP does not match any listed network". Peer addresses arrive
// from context, set by the Transport implementation per inbound call.
func (d *rpcDispatcher) checkACL(ctx context.Context) bool {
	networks := d.r.opts.AllowedNetworks
	if len(networks) == 0 {
		return true
	}
	ip := remoteIP(ctx)
	if ip == nil {
		return false
	}
	for _, n := range networks {
		if n.Contains(ip) {
			return true
		}
	}
	return false
}

type remoteAddrKey struct{}

// WithRemoteAddr attaches the dialing address a Transport observed for an
// inbound RPC, for the ACL check. touch() resolves the sender by the
// request's sender ID, not by this address.
func WithRemoteAddr(ctx context.Context, addr net.Addr) context.Context {
	return context.WithValue(ctx, remoteAddrKey{}, addr)
}

func remoteIP(ctx context.Context) net.IP {
	addr, ok := ctx.Value(remoteAddrKey{}).(net.Addr)
	if !ok || addr == nil {
		return nil
	}
	host, _, err := net.SplitHostPort(addr.String())
	if err != nil {
		return net.ParseIP(addr.String())
	}
	return net.ParseIP(host)
}

// touch implements "if the sender is known, call Member.touch() regardless
// of outcome" — step 4 of the dispatcher flow.
func (d *rpcDispatcher) touch(id cluster.NodeID) {
	d.r.registry.Touch(id)
}

func (d *rpcDispatcher) OnRequestVote(ctx context.Context, req *VoteRequest) (*VoteResponse, int) {
	if !d.checkACL(ctx) {
		return nil, 403
	}
	defer d.touch(req.CandidateID)
	if _, known := d.r.registry.TryGet(req.CandidateID); !known {
		return nil, 404
	}
	term, granted := d.r.vote(req.CandidateID, req.Term, req.LastLogIndex, req.LastLogTerm)
	return &VoteResponse{Term: term, Granted: granted}, 200
}

func (d *rpcDispatcher) OnPreVote(ctx context.Context, req *PreVoteRequest) (*PreVoteResponse, int) {
	if !d.checkACL(ctx) {
		return nil, 403
	}
	defer d.touch(req.CandidateID)
	if _, known := d.r.registry.TryGet(req.CandidateID); !known {
		return nil, 404
	}
	term, would := d.r.preVote(req.NextTerm, req.LastLogIndex, req.LastLogTerm)
	return &PreVoteResponse{Term: term, WouldGrant: would}, 200
}

func (d *rpcDispatcher) OnAppendEntries(ctx context.Context, req *AppendEntriesRequest) (*AppendEntriesResponse, int) {
	if !d.checkACL(ctx) {
		return nil, 403
	}
	defer d.touch(req.LeaderID)
	if _, known := d.r.registry.TryGet(req.LeaderID); !known {
		return nil, 404
	}
	term, success := d.r.appendEntries(req.LeaderID, req.Term, req.PrevLogIndex, req.PrevLogTerm, req.Entries, req.LeaderCommit)
	return &AppendEntriesResponse{Term: term, Success: success}, 200
}

func (d *rpcDispatcher) OnInstallSnapshot(ctx context.Context, req *InstallSnapshotRequest) (*InstallSnapshotResponse, int) {
	if !d.checkACL(ctx) {
		return nil, 403
	}
	defer d.touch(req.LeaderID)
	if _, known := d.r.registry.TryGet(req.LeaderID); !known {
		return nil, 404
	}
	term, success := d.r.installSnapshot(req.LeaderID, req.Term, req.LastIncludedIndex, req.LastIncludedTerm, req.Data)
	return &InstallSnapshotResponse{Term: term, Success: success}, 200
}

func (d *rpcDispatcher) OnResign(ctx context.Context, req *ResignRequest) (*ResignResponse, int) {
	if !d.checkACL(ctx) {
		return nil, 403
	}
	defer d.touch(req.SenderID)
	if _, known := d.r.registry.TryGet(req.SenderID); !known {
		return nil, 404
	}
	resigned := d.r.resign()
	return &ResignResponse{Term: d.r.Term(), Resigned: resigned}, 200
}

func (d *rpcDispatcher) OnMetadata(ctx context.Context, req *MetadataRequest) (*MetadataResponse, int) {
	if !d.checkACL(ctx) {
		return nil, 403
	}
	defer d.touch(req.SenderID)
	if _, known := d.r.registry.TryGet(req.SenderID); !known {
		return nil, 404
	}
	return &MetadataResponse{Metadata: d.r.Metadata()}, 200
}

func (d *rpcDispatcher) OnCustom(ctx context.Context, req *CustomRequest) (*CustomResponse, int) {
	if !d.checkACL(ctx) {
		return nil, 403
	}
	defer d.touch(req.SenderID)
	if _, known := d.r.registry.TryGet(req.SenderID); !known {
		return nil, 404
	}
	return d.r.bus.ReceiveCustom(ctx, req)
}
