package transport

import (
	"context"
	"testing"

	"github.com/raftbus/raft"
	"github.com/raftbus/raft/cluster"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stubHandler struct {
	voteResp *raft.VoteResponse
	status   int
}

func (s *stubHandler) OnRequestVote(ctx context.Context, req *raft.VoteRequest) (*raft.VoteResponse, int) {
	return s.voteResp, s.status
}
func (s *stubHandler) OnPreVote(context.Context, *raft.PreVoteRequest) (*raft.PreVoteResponse, int) {
	return &raft.PreVoteResponse{}, s.status
}
func (s *stubHandler) OnAppendEntries(context.Context, *raft.AppendEntriesRequest) (*raft.AppendEntriesResponse, int) {
	return &raft.AppendEntriesResponse{}, s.status
}
func (s *stubHandler) OnInstallSnapshot(context.Context, *raft.InstallSnapshotRequest) (*raft.InstallSnapshotResponse, int) {
	return &raft.InstallSnapshotResponse{}, s.status
}
func (s *stubHandler) OnResign(context.Context, *raft.ResignRequest) (*raft.ResignResponse, int) {
	return &raft.ResignResponse{}, s.status
}
func (s *stubHandler) OnMetadata(context.Context, *raft.MetadataRequest) (*raft.MetadataResponse, int) {
	return &raft.MetadataResponse{}, s.status
}
func (s *stubHandler) OnCustom(context.Context, *raft.CustomRequest) (*raft.CustomResponse, int) {
	return &raft.CustomResponse{}, s.status
}

func TestMemoryTransport_SendVoteRequest_RoutesToPeer(t *testing.T) {
	registry := NewRegistry()
	a := NewMemoryTransport("node-a", registry)
	b := NewMemoryTransport("node-b", registry)

	require.NoError(t, b.RegisterHandler(&stubHandler{voteResp: &raft.VoteResponse{Term: 4, Granted: true}, status: 200}))
	require.NoError(t, b.Start())
	defer b.Stop()
	require.NoError(t, a.RegisterHandler(&stubHandler{status: 200}))
	require.NoError(t, a.Start())
	defer a.Stop()

	peer := &cluster.Member{ID: cluster.NewNodeID(), Addr: "node-b"}
	resp, err := a.SendVoteRequest(context.Background(), peer, &raft.VoteRequest{})
	require.NoError(t, err)
	assert.Equal(t, raft.Term(4), resp.Term)
	assert.True(t, resp.Granted)
}

func TestMemoryTransport_SendVoteRequest_UnknownAddrFails(t *testing.T) {
	registry := NewRegistry()
	a := NewMemoryTransport("node-a", registry)
	require.NoError(t, a.RegisterHandler(&stubHandler{status: 200}))
	require.NoError(t, a.Start())
	defer a.Stop()

	peer := &cluster.Member{ID: cluster.NewNodeID(), Addr: "node-nowhere"}
	_, err := a.SendVoteRequest(context.Background(), peer, &raft.VoteRequest{})
	var unavailable *raft.MemberUnavailable
	assert.ErrorAs(t, err, &unavailable)
}

func TestMemoryTransport_SetPartitioned_BlocksDelivery(t *testing.T) {
	registry := NewRegistry()
	a := NewMemoryTransport("node-a", registry)
	b := NewMemoryTransport("node-b", registry)
	require.NoError(t, b.RegisterHandler(&stubHandler{voteResp: &raft.VoteResponse{}, status: 200}))
	require.NoError(t, b.Start())
	defer b.Stop()
	require.NoError(t, a.RegisterHandler(&stubHandler{status: 200}))
	require.NoError(t, a.Start())
	defer a.Stop()

	a.SetPartitioned("node-b", true)
	peer := &cluster.Member{ID: cluster.NewNodeID(), Addr: "node-b"}
	_, err := a.SendVoteRequest(context.Background(), peer, &raft.VoteRequest{})
	assert.Error(t, err)

	a.SetPartitioned("node-b", false)
	_, err = a.SendVoteRequest(context.Background(), peer, &raft.VoteRequest{})
	assert.NoError(t, err)
}

func TestMemoryTransport_Start_RequiresHandler(t *testing.T) {
	registry := NewRegistry()
	a := NewMemoryTransport("node-a", registry)
	err := a.Start()
	assert.ErrorIs(t, err, ErrNoHandlerRegistered)
}

func TestMemoryTransport_Start_RejectsDuplicateAddr(t *testing.T) {
	registry := NewRegistry()
	a := NewMemoryTransport("node-a", registry)
	require.NoError(t, a.RegisterHandler(&stubHandler{status: 200}))
	require.NoError(t, a.Start())
	defer a.Stop()

	b := NewMemoryTransport("node-a", registry)
	require.NoError(t, b.RegisterHandler(&stubHandler{status: 200}))
	assert.Error(t, b.Start())
}

func TestStatusErr_MapsKnownCodes(t *testing.T) {
	assert.NoError(t, statusErr(200))
	assert.NoError(t, statusErr(204))
	assert.ErrorIs(t, statusErr(501), raft.ErrNotImplemented)
	assert.ErrorIs(t, statusErr(403), raft.ErrForbidden)
	assert.ErrorIs(t, statusErr(404), raft.ErrUnknownMember)

	var unexpected *raft.UnexpectedStatus
	assert.ErrorAs(t, statusErr(503), &unexpected)
}
