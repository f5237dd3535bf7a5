package integration

import (
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/raftbus/raft"
	"github.com/raftbus/raft/cluster"
	"github.com/raftbus/raft/store"
	"github.com/raftbus/raft/transport"
)

// testFSM is a simple in-memory raft.FSM; it records a copy of every
// applied command, in order, so a test can assert on ordering.
type testFSM struct {
	mu      sync.Mutex
	applied [][]byte
}

func newTestFSM() *testFSM {
	return &testFSM{}
}

func (f *testFSM) Apply(data []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.applied = append(f.applied, append([]byte{}, data...))
	return nil
}

var testOpts = raft.Options{
	MinElectionTimeout:        400 * time.Millisecond,
	MaxElectionTimeout:        800 * time.Millisecond,
	HeartbeatInterval:         100 * time.Millisecond,
	RaftRPCTimeout:            2 * time.Second,
	DuplicateDetectorCapacity: 1024,
	DuplicateRetention:        time.Minute,
}

// testNode bundles one cluster member's collaborators so a test can reach
// into its log store or flip options before the cluster starts.
type testNode struct {
	id        int
	nodeID    cluster.NodeID
	addr      string
	raft      *raft.Raft
	logStore  *raft.InMemStore
	fsm       *testFSM
	options   raft.Options
	registry  *cluster.StaticCluster
	transport *transport.MemoryTransport
}

func testNodeID(id int) cluster.NodeID {
	var n cluster.NodeID
	n[15] = byte(id)
	return n
}

// setupCluster builds n nodes wired together over the in-memory transport.
// Each mutator runs against every testNode after its options/log store
// exist but before the transport and Raft instance are constructed, so a
// test can adjust timeouts or pre-seed the log; partitions are set on
// node.transport once setupCluster returns. It returns the
// nodes plus a start function that registers handlers and begins the
// election/heartbeat loop on every node.
func setupCluster(t *testing.T, n int, mutators ...func(*testNode)) ([]*testNode, func()) {
	t.Helper()

	memRegistry := transport.NewRegistry()
	ids := make([]cluster.NodeID, n)
	addrs := make([]string, n)
	for i := 0; i < n; i++ {
		ids[i] = testNodeID(i + 1)
		addrs[i] = fmt.Sprintf("node-%d", i+1)
	}

	nodes := make([]*testNode, n)
	for i := 0; i < n; i++ {
		reg := cluster.NewStaticCluster(ids[i], addrs[i])
		for j := 0; j < n; j++ {
			if j == i {
				continue
			}
			if _, err := reg.AddMember(ids[j], addrs[j], true); err != nil {
				t.Fatalf("integration: adding member: %v", err)
			}
		}

		nodes[i] = &testNode{
			id:       i + 1,
			nodeID:   ids[i],
			addr:     addrs[i],
			logStore: raft.NewInMemStore(),
			fsm:      newTestFSM(),
			options:  testOpts,
			registry: reg,
		}
	}

	for _, mut := range mutators {
		for _, node := range nodes {
			mut(node)
		}
	}

	for _, node := range nodes {
		node.options.MemberID = node.nodeID
		node.transport = transport.NewMemoryTransport(node.addr, memRegistry)

		r, err := raft.NewRaft(node.registry, node.logStore, node.logStore, store.NewMemorySnapshotStore(), node.transport, node.fsm, node.options)
		if err != nil {
			t.Fatalf("integration: building node %d: %v", node.id, err)
		}
		node.raft = r
	}

	start := func() {
		for _, node := range nodes {
			if err := node.raft.Start(); err != nil {
				t.Fatalf("integration: starting node %d: %v", node.id, err)
			}
		}
	}

	return nodes, start
}

func cleanupTestCluster(t *testing.T, nodes []*testNode) {
	t.Helper()
	for _, node := range nodes {
		_ = node.raft.Shutdown()
	}
}
