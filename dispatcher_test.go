package raft

import (
	"context"
	"net"
	"testing"

	"github.com/raftbus/raft/cluster"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDispatcher_RequestVote_UnknownMemberIs404(t *testing.T) {
	r := newTestRaft(t)
	d := r.dispatcher()

	_, status := d.OnRequestVote(context.Background(), &VoteRequest{CandidateID: cluster.NewNodeID(), Term: 1})
	assert.Equal(t, 404, status)
}

func TestDispatcher_RequestVote_KnownMemberGranted(t *testing.T) {
	r := newTestRaft(t)
	candidate := cluster.NewNodeID()
	_, err := r.registry.AddMember(candidate, "peer:1", true)
	require.NoError(t, err)

	resp, status := r.dispatcher().OnRequestVote(context.Background(), &VoteRequest{CandidateID: candidate, Term: 1})
	require.Equal(t, 200, status)
	assert.True(t, resp.Granted)
}

func TestDispatcher_ACL_RejectsOutsideAllowedNetworks(t *testing.T) {
	_, allowed, err := net.ParseCIDR("10.0.0.0/8")
	require.NoError(t, err)

	r := newTestRaft(t, func(o *Options) { o.AllowedNetworks = []*net.IPNet{allowed} })
	candidate := cluster.NewNodeID()
	_, err = r.registry.AddMember(candidate, "peer:1", true)
	require.NoError(t, err)

	ctx := WithRemoteAddr(context.Background(), &net.TCPAddr{IP: net.ParseIP("192.168.1.5")})
	_, status := r.dispatcher().OnRequestVote(ctx, &VoteRequest{CandidateID: candidate, Term: 1})
	assert.Equal(t, 403, status)
}

func TestDispatcher_ACL_AllowsMatchingNetwork(t *testing.T) {
	_, allowed, err := net.ParseCIDR("10.0.0.0/8")
	require.NoError(t, err)

	r := newTestRaft(t, func(o *Options) { o.AllowedNetworks = []*net.IPNet{allowed} })
	candidate := cluster.NewNodeID()
	_, err = r.registry.AddMember(candidate, "peer:1", true)
	require.NoError(t, err)

	ctx := WithRemoteAddr(context.Background(), &net.TCPAddr{IP: net.ParseIP("10.1.2.3")})
	_, status := r.dispatcher().OnRequestVote(ctx, &VoteRequest{CandidateID: candidate, Term: 1})
	assert.Equal(t, 200, status)
}

func TestDispatcher_ACL_NoAllowedNetworksMeansNoRestriction(t *testing.T) {
	r := newTestRaft(t)
	candidate := cluster.NewNodeID()
	_, err := r.registry.AddMember(candidate, "peer:1", true)
	require.NoError(t, err)

	// No remote address attached to the context at all.
	_, status := r.dispatcher().OnRequestVote(context.Background(), &VoteRequest{CandidateID: candidate, Term: 1})
	assert.Equal(t, 200, status)
}

func TestDispatcher_Resign_TogglesRole(t *testing.T) {
	r := newTestRaft(t)
	r.setRole(RoleLeader)
	sender := cluster.NewNodeID()
	_, err := r.registry.AddMember(sender, "peer:1", true)
	require.NoError(t, err)

	resp, status := r.dispatcher().OnResign(context.Background(), &ResignRequest{SenderID: sender})
	require.Equal(t, 200, status)
	assert.True(t, resp.Resigned)
	assert.Equal(t, RoleFollower, r.Role())
}

func TestDispatcher_Metadata_ReturnsCurrentSnapshot(t *testing.T) {
	r := newTestRaft(t)
	r.SetMetadata(map[string]string{"region": "us-east"})
	sender := cluster.NewNodeID()
	_, err := r.registry.AddMember(sender, "peer:1", true)
	require.NoError(t, err)

	resp, status := r.dispatcher().OnMetadata(context.Background(), &MetadataRequest{SenderID: sender})
	require.Equal(t, 200, status)
	assert.Equal(t, "us-east", resp.Metadata["region"])
}

func TestDispatcher_Custom_UnsupportedNameIs501(t *testing.T) {
	r := newTestRaft(t)
	r.setRole(RoleLeader)
	sender := cluster.NewNodeID()
	_, err := r.registry.AddMember(sender, "peer:1", true)
	require.NoError(t, err)

	_, status := r.dispatcher().OnCustom(context.Background(), &CustomRequest{
		SenderID: sender, MessageID: "m1", Mode: RequestReply, Name: "unregistered-signal",
	})
	assert.Equal(t, 501, status)
}
