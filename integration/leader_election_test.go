package integration

import (
	"fmt"
	"testing"
	"time"

	"github.com/raftbus/raft"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func isLeader(n *testNode) bool {
	return n.raft.Role() == raft.RoleLeader
}

// waitForLeader polls the cluster until exactly one node reports itself as
// leader, or timeout elapses.
func waitForLeader(t *testing.T, nodes []*testNode, timeout time.Duration) (*testNode, error) {
	t.Helper()

	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		for _, n := range nodes {
			if isLeader(n) {
				return n, nil
			}
		}
		time.Sleep(25 * time.Millisecond)
	}
	return nil, fmt.Errorf("no leader elected within %s", timeout)
}

func countLeaders(nodes []*testNode) int {
	count := 0
	for _, n := range nodes {
		if isLeader(n) {
			count++
		}
	}
	return count
}

func TestLeaderElectionBasic(t *testing.T) {
	nodes, startCluster := setupCluster(t, 3)
	defer cleanupTestCluster(t, nodes)

	startCluster()

	leader, err := waitForLeader(t, nodes, 10*time.Second)
	require.NoError(t, err, "failed to elect a leader")

	t.Logf("leader elected: node %d", leader.id)
	assert.Equal(t, 1, countLeaders(nodes), "expected exactly one leader")
}

func TestLeaderElection_AfterLeaderFails(t *testing.T) {
	nodes, startCluster := setupCluster(t, 3)
	defer cleanupTestCluster(t, nodes)

	startCluster()

	leader, err := waitForLeader(t, nodes, 10*time.Second)
	require.NoError(t, err, "failed to elect a leader")
	t.Logf("first leader elected: node %d", leader.id)

	require.NoError(t, leader.raft.Shutdown())

	var remaining []*testNode
	for _, n := range nodes {
		if n.id != leader.id {
			remaining = append(remaining, n)
		}
	}

	newLeader, err := waitForLeader(t, remaining, 10*time.Second)
	require.NoError(t, err, "failed to elect a new leader")
	t.Logf("new leader elected: node %d", newLeader.id)
	require.NotEqual(t, leader.id, newLeader.id)
}

func TestLeaderElection_OnlyNodesWithLatestLog(t *testing.T) {
	populateLogs := func(node *testNode) {
		if node.id == 3 {
			return
		}
		t.Logf("populating log for node %d", node.id)
		require.NoError(t, node.logStore.AppendEntries([]*raft.Entry{
			{Term: 1, Index: 1, Payload: []byte("cmd1"), Kind: raft.EntryUser},
			{Term: 2, Index: 2, Payload: []byte("cmd2"), Kind: raft.EntryUser},
		}))
	}

	fasterNodeThree := func(node *testNode) {
		if node.id != 3 {
			return
		}
		t.Logf("making node 3 the first to attempt an election")
		node.options.MinElectionTimeout = 50 * time.Millisecond
		node.options.MaxElectionTimeout = 100 * time.Millisecond
	}

	nodes, startCluster := setupCluster(t, 3, populateLogs, fasterNodeThree)
	defer cleanupTestCluster(t, nodes)

	startCluster()

	leader, err := waitForLeader(t, nodes, 10*time.Second)
	require.NoError(t, err, "failed to elect a leader")
	require.NotEqual(t, 3, leader.id, "expected a leader other than node 3, since it has a stale log")
}

func TestLeaderElection_OnNetworkPartition(t *testing.T) {
	partitionMinority := func(node *testNode) {
		node.options.MaxElectionTimeout = 1500 * time.Millisecond
		if node.id > 3 {
			node.options.MinElectionTimeout = 1000 * time.Millisecond
		}
	}

	nodes, startCluster := setupCluster(t, 5, partitionMinority)
	defer cleanupTestCluster(t, nodes)

	startCluster()

	for _, minority := range nodes[3:] {
		for _, majority := range nodes[:3] {
			minority.transport.SetPartitioned(majority.addr, true)
		}
	}

	leader, err := waitForLeader(t, nodes, 10*time.Second)
	require.NoError(t, err, "failed to elect a leader")
	t.Logf("leader elected: node %d", leader.id)

	assert.LessOrEqual(t, leader.id, 3, "leader should come from the majority side of the partition")
	assert.Equal(t, 1, countLeaders(nodes), "expected exactly one leader")
}
