package raft

import (
	"context"
	"sync"
	"testing"

	"github.com/raftbus/raft/cluster"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// stubReplicationTransport lets each test script exactly what AppendEntries
// and InstallSnapshot return, and records every AppendEntries call made
// against it for assertions on what the coordinator actually sent.
type stubReplicationTransport struct {
	fakeTransport

	mu           sync.Mutex
	appendCalls  []*AppendEntriesRequest
	appendResp   *AppendEntriesResponse
	appendErr    error
	snapshotResp *InstallSnapshotResponse
	snapshotErr  error
}

func (s *stubReplicationTransport) SendAppendEntries(ctx context.Context, peer *cluster.Member, req *AppendEntriesRequest) (*AppendEntriesResponse, error) {
	s.mu.Lock()
	s.appendCalls = append(s.appendCalls, req)
	resp, err := s.appendResp, s.appendErr
	s.mu.Unlock()
	return resp, err
}

func (s *stubReplicationTransport) SendInstallSnapshot(ctx context.Context, peer *cluster.Member, req *InstallSnapshotRequest) (*InstallSnapshotResponse, error) {
	return s.snapshotResp, s.snapshotErr
}

func (s *stubReplicationTransport) calls() []*AppendEntriesRequest {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]*AppendEntriesRequest(nil), s.appendCalls...)
}

// newReplicationTestRaft builds a Raft with two remote peers already
// registered, wired against transport, and swaps in a fresh LeaderState —
// mirroring what setRole(RoleLeader) does when leaderState is created.
func newReplicationTestRaft(t *testing.T, transport Transport) (*Raft, *cluster.Member, *cluster.Member) {
	t.Helper()
	r := newTestRaft(t, func(o *Options) {})
	r.transport = transport

	p1, err := r.registry.AddMember(cluster.NewNodeID(), "peer-1", true)
	require.NoError(t, err)
	p2, err := r.registry.AddMember(cluster.NewNodeID(), "peer-2", true)
	require.NoError(t, err)

	r.leaderState = newLeaderState(r)
	return r, p1, p2
}

func TestInitPeerProgress_SeedsNextIndexFromLastLogIndexSkippingSelf(t *testing.T) {
	r, p1, p2 := newReplicationTestRaft(t, &stubReplicationTransport{})
	require.NoError(t, r.logStore.AppendEntries([]*Entry{
		{Term: 1, Index: 1, Kind: EntryUser},
		{Term: 1, Index: 2, Kind: EntryUser},
	}))

	r.leaderState.initPeerProgress()

	assert.Equal(t, uint64(3), p1.NextIndex.Load())
	assert.Equal(t, uint64(0), p1.MatchIndex.Load())
	assert.Equal(t, uint64(3), p2.NextIndex.Load())

	self, ok := r.registry.TryGet(r.id)
	require.True(t, ok)
	assert.Equal(t, uint64(0), self.NextIndex.Load(), "the local member's own progress counters are never touched")
}

func TestReplicateToPeer_SendsEntriesFromNextIndexAndAdvancesOnSuccess(t *testing.T) {
	transport := &stubReplicationTransport{appendResp: &AppendEntriesResponse{Term: 1, Success: true}}
	r, p1, _ := newReplicationTestRaft(t, transport)
	require.NoError(t, r.logStore.AppendEntries([]*Entry{
		{Term: 1, Index: 1, Payload: []byte("a"), Kind: EntryUser},
		{Term: 1, Index: 2, Payload: []byte("b"), Kind: EntryUser},
	}))
	r.currentTerm.Store(1)
	p1.NextIndex.Store(1)

	r.leaderState.replicateToPeer(context.Background(), p1)

	calls := transport.calls()
	require.Len(t, calls, 1)
	assert.Equal(t, LogIndex(0), calls[0].PrevLogIndex)
	require.Len(t, calls[0].Entries, 2)

	assert.Equal(t, uint64(2), p1.MatchIndex.Load())
	assert.Equal(t, uint64(3), p1.NextIndex.Load())
}

func TestReplicateToPeer_BacksOffNextIndexOnLogMismatch(t *testing.T) {
	transport := &stubReplicationTransport{appendResp: &AppendEntriesResponse{Term: 1, Success: false}}
	r, p1, _ := newReplicationTestRaft(t, transport)
	// The leader holds indices 1-4, so prevLogIndex=4 is sent as
	// AppendEntries rather than falling back to a snapshot.
	require.NoError(t, r.logStore.AppendEntries([]*Entry{
		{Term: 1, Index: 1, Kind: EntryUser},
		{Term: 1, Index: 2, Kind: EntryUser},
		{Term: 1, Index: 3, Kind: EntryUser},
		{Term: 1, Index: 4, Kind: EntryUser},
	}))
	r.currentTerm.Store(1)
	p1.NextIndex.Store(5)

	r.leaderState.replicateToPeer(context.Background(), p1)

	assert.Equal(t, uint64(4), p1.NextIndex.Load())
	assert.Equal(t, uint64(0), p1.MatchIndex.Load())
}

func TestReplicateToPeer_NextIndexNeverUnderflowsPastOne(t *testing.T) {
	transport := &stubReplicationTransport{appendResp: &AppendEntriesResponse{Term: 1, Success: false}}
	r, p1, _ := newReplicationTestRaft(t, transport)
	r.currentTerm.Store(1)
	p1.NextIndex.Store(1)

	r.leaderState.replicateToPeer(context.Background(), p1)

	assert.Equal(t, uint64(1), p1.NextIndex.Load())
}

func TestReplicateToPeer_StepsDownWhenPeerReportsHigherTerm(t *testing.T) {
	transport := &stubReplicationTransport{appendResp: &AppendEntriesResponse{Term: 9, Success: false}}
	r, p1, _ := newReplicationTestRaft(t, transport)
	r.currentTerm.Store(1)
	r.setRole(RoleLeader)
	r.leaderState = newLeaderState(r)

	r.leaderState.replicateToPeer(context.Background(), p1)

	assert.Equal(t, Term(9), r.Term())
	assert.Equal(t, RoleFollower, r.Role())
}

func TestReplicateToPeer_FallsBackToSnapshotWhenPrevLogCompacted(t *testing.T) {
	transport := &stubReplicationTransport{snapshotResp: &InstallSnapshotResponse{Term: 1, Success: true}}
	r, p1, _ := newReplicationTestRaft(t, transport)
	r.currentTerm.Store(1)
	p1.NextIndex.Store(5) // prevLogIndex=4, which the in-memory log never had.

	r.leaderState.replicateToPeer(context.Background(), p1)

	// fakeSnapshotStore.Latest always returns ErrSnapshotNotFound, so the
	// send is skipped entirely and progress is left untouched.
	assert.Equal(t, uint64(5), p1.NextIndex.Load())
	assert.Equal(t, uint64(0), p1.MatchIndex.Load())
}

func TestAdvanceCommitIndex_RequiresQuorumAndCurrentTerm(t *testing.T) {
	r, p1, p2 := newReplicationTestRaft(t, &stubReplicationTransport{})
	require.NoError(t, r.logStore.AppendEntries([]*Entry{
		{Term: 1, Index: 1, Kind: EntryUser},
		{Term: 2, Index: 2, Kind: EntryUser},
	}))
	r.currentTerm.Store(2)

	// Index 1 is from a prior term: even with full replication it must
	// never be counted as committed by itself.
	p1.MatchIndex.Store(1)
	p2.MatchIndex.Store(1)
	r.leaderState.advanceCommitIndex()
	assert.Equal(t, uint64(0), r.commitIndex.Load())

	// Index 2 is current-term and only the leader itself has it so far:
	// one vote (the leader) out of three members is not a quorum of 2.
	r.leaderState.advanceCommitIndex()
	assert.Equal(t, uint64(0), r.commitIndex.Load())

	// One peer catches up to index 2: leader + p1 = 2, which is quorum.
	p1.MatchIndex.Store(2)
	r.leaderState.advanceCommitIndex()
	assert.Equal(t, uint64(2), r.commitIndex.Load())
}

func TestBufferedStage_PassesThroughWhenDisabled(t *testing.T) {
	r := newTestRaft(t)
	entries := []*Entry{{Term: 1, Index: 1, Payload: []byte("x")}}

	out, err := r.bufferedStage(entries)
	require.NoError(t, err)
	assert.Same(t, entries[0], out[0], "disabled buffering must return the original slice untouched")
}

func TestBufferedStage_CopiesSmallPayloadsInMemory(t *testing.T) {
	r := newTestRaft(t, func(o *Options) {
		o.Buffering = BufferingOptions{Enabled: true, Threshold: 1024}
	})
	entries := []*Entry{{Term: 1, Index: 1, Payload: []byte("small")}}

	out, err := r.bufferedStage(entries)
	require.NoError(t, err)
	require.Len(t, out, 1)
	assert.Equal(t, []byte("small"), out[0].Payload)
	assert.NotSame(t, entries[0], out[0])
}

func TestBufferedStage_RoundTripsPayloadsAboveThresholdThroughScratchFile(t *testing.T) {
	dir := t.TempDir()
	r := newTestRaft(t, func(o *Options) {
		o.Buffering = BufferingOptions{Enabled: true, Threshold: 4, Dir: dir}
	})
	big := []byte("this payload exceeds the threshold")
	entries := []*Entry{{Term: 1, Index: 1, Payload: big}}

	out, err := r.bufferedStage(entries)
	require.NoError(t, err)
	require.Len(t, out, 1)
	assert.Equal(t, big, out[0].Payload)
}

func TestStagePayload_ZeroThresholdAlwaysStagesInMemory(t *testing.T) {
	r := newTestRaft(t, func(o *Options) {
		o.Buffering = BufferingOptions{Enabled: true, Threshold: 0}
	})
	out, err := r.stagePayload([]byte("anything"))
	require.NoError(t, err)
	assert.Equal(t, []byte("anything"), out)
}
