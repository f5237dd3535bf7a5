// Package transport holds Transport implementations: an in-memory one for
// tests and a gRPC one for production use.
package transport

import (
	"context"
	"errors"
	"sync"

	"github.com/raftbus/raft"
	"github.com/raftbus/raft/cluster"
)

// Registry is the shared address book an in-memory cluster's transports
// register themselves into, so one can find another purely by address
// string, without any real network.
type Registry struct {
	mu         sync.RWMutex
	transports map[string]*MemoryTransport
}

func NewRegistry() *Registry {
	return &Registry{transports: make(map[string]*MemoryTransport)}
}

// MemoryTransport is a Transport that dispatches directly into another
// node's RequestHandler in the same process, for integration tests that
// want many nodes in one binary without sockets.
type MemoryTransport struct {
	addr     string
	registry *Registry

	mu      sync.RWMutex
	handler raft.RequestHandler
	running bool

	blockedMu sync.RWMutex
	blocked   map[string]bool
}

func NewMemoryTransport(addr string, registry *Registry) *MemoryTransport {
	return &MemoryTransport{addr: addr, registry: registry}
}

func (t *MemoryTransport) Start() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.handler == nil {
		return ErrNoHandlerRegistered
	}

	t.registry.mu.Lock()
	defer t.registry.mu.Unlock()
	if _, exists := t.registry.transports[t.addr]; exists {
		return errors.New("transport: an in-memory transport is already registered at this address")
	}
	t.registry.transports[t.addr] = t
	t.running = true
	return nil
}

func (t *MemoryTransport) Stop() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if !t.running {
		return nil
	}
	t.registry.mu.Lock()
	defer t.registry.mu.Unlock()
	delete(t.registry.transports, t.addr)
	t.running = false
	return nil
}

func (t *MemoryTransport) RegisterHandler(handler raft.RequestHandler) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if handler == nil {
		return ErrNilHandler
	}
	t.handler = handler
	return nil
}

// SetPartitioned blocks or unblocks delivery from this transport to addr
// without tearing down either side's registration. Only this direction is
// affected: the peer at addr can still reach this transport unless its own
// transport blocks it too.
func (t *MemoryTransport) SetPartitioned(addr string, blocked bool) {
	t.blockedMu.Lock()
	defer t.blockedMu.Unlock()
	if t.blocked == nil {
		t.blocked = make(map[string]bool)
	}
	t.blocked[addr] = blocked
}

func (t *MemoryTransport) isPartitioned(addr string) bool {
	t.blockedMu.RLock()
	defer t.blockedMu.RUnlock()
	return t.blocked[addr]
}

func (t *MemoryTransport) targetFor(m *cluster.Member) (*MemoryTransport, error) {
	if t.isPartitioned(m.Addr) {
		return nil, &raft.MemberUnavailable{Addr: m.Addr, Err: errors.New("simulated network partition")}
	}

	t.registry.mu.RLock()
	defer t.registry.mu.RUnlock()
	target, exists := t.registry.transports[m.Addr]
	if !exists {
		return nil, &raft.MemberUnavailable{Addr: m.Addr, Err: errors.New("no in-memory transport registered at this address")}
	}
	target.mu.RLock()
	defer target.mu.RUnlock()
	if !target.running {
		return nil, &raft.MemberUnavailable{Addr: m.Addr, Err: errors.New("target transport is stopped")}
	}
	return target, nil
}

func (t *MemoryTransport) SendVoteRequest(ctx context.Context, target *cluster.Member, req *raft.VoteRequest) (*raft.VoteResponse, error) {
	peer, err := t.targetFor(target)
	if err != nil {
		return nil, err
	}
	resp, status := peer.handler.OnRequestVote(ctx, req)
	return resp, statusErr(status)
}

func (t *MemoryTransport) SendPreVote(ctx context.Context, target *cluster.Member, req *raft.PreVoteRequest) (*raft.PreVoteResponse, error) {
	peer, err := t.targetFor(target)
	if err != nil {
		return nil, err
	}
	resp, status := peer.handler.OnPreVote(ctx, req)
	return resp, statusErr(status)
}

func (t *MemoryTransport) SendAppendEntries(ctx context.Context, target *cluster.Member, req *raft.AppendEntriesRequest) (*raft.AppendEntriesResponse, error) {
	peer, err := t.targetFor(target)
	if err != nil {
		return nil, err
	}
	resp, status := peer.handler.OnAppendEntries(ctx, req)
	return resp, statusErr(status)
}

func (t *MemoryTransport) SendInstallSnapshot(ctx context.Context, target *cluster.Member, req *raft.InstallSnapshotRequest) (*raft.InstallSnapshotResponse, error) {
	peer, err := t.targetFor(target)
	if err != nil {
		return nil, err
	}
	resp, status := peer.handler.OnInstallSnapshot(ctx, req)
	return resp, statusErr(status)
}

func (t *MemoryTransport) SendResign(ctx context.Context, target *cluster.Member, req *raft.ResignRequest) (*raft.ResignResponse, error) {
	peer, err := t.targetFor(target)
	if err != nil {
		return nil, err
	}
	resp, status := peer.handler.OnResign(ctx, req)
	return resp, statusErr(status)
}

func (t *MemoryTransport) SendMetadata(ctx context.Context, target *cluster.Member, req *raft.MetadataRequest) (*raft.MetadataResponse, error) {
	peer, err := t.targetFor(target)
	if err != nil {
		return nil, err
	}
	resp, status := peer.handler.OnMetadata(ctx, req)
	return resp, statusErr(status)
}

func (t *MemoryTransport) SendCustom(ctx context.Context, target *cluster.Member, req *raft.CustomRequest) (*raft.CustomResponse, error) {
	peer, err := t.targetFor(target)
	if err != nil {
		return nil, err
	}
	resp, status := peer.handler.OnCustom(ctx, req)
	return resp, statusErr(status)
}

// statusErr maps the dispatcher's status codes to the error kinds the
// leader-router and replication coordinator understand, mirroring what a
// real transport would do when translating an HTTP status back to an error.
func statusErr(status int) error {
	switch status {
	case 200, 204:
		return nil
	case 501:
		return raft.ErrNotImplemented
	case 403:
		return raft.ErrForbidden
	case 404:
		return raft.ErrUnknownMember
	default:
		return &raft.UnexpectedStatus{Code: status}
	}
}

var (
	ErrNoHandlerRegistered = errors.New("transport: no request handler registered")
	ErrNilHandler          = errors.New("transport: nil request handler provided")
)
