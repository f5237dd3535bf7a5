package cluster

import (
	"encoding/gob"
	"fmt"
	"log"
	"os"
	"strconv"
	"time"

	"github.com/Mathew-Estafanous/memlist"
)

// wireNode is the gossip payload carried as memlist metadata: just enough
// for a peer to learn how to dial a discovered raft node.
type wireNode struct {
	ID   NodeID
	Addr string
}

// DynamicCluster provides a dynamic membership solution for a Raft cluster
// by layering on memlist's SWIM-style gossip for node discovery and failure
// detection. Members announce their (id, addr) as gossip metadata; this
// type backs the Raft State Machine's announce() operation, and
// OnMembershipChange keeps the StaticCluster it wraps in sync with what
// memlist observes.
type DynamicCluster struct {
	cl     *StaticCluster
	member *memlist.Member
	logger *log.Logger
}

// NewDynamicCluster starts gossiping on addr:port, advertising (id, addr)
// as this node's metadata so peers that discover it can dial it for Raft RPCs.
func NewDynamicCluster(addr string, port uint16, id NodeID, raftAddr string) (*DynamicCluster, error) {
	local := wireNode{ID: id, Addr: raftAddr}
	gob.Register(wireNode{})

	dc := &DynamicCluster{
		cl:     NewStaticCluster(id, raftAddr),
		logger: log.New(os.Stdout, fmt.Sprintf("[Dynamic Cluster :%d] ", port), log.LstdFlags),
	}

	config := memlist.DefaultLocalConfig()
	config.Name = "M#" + strconv.Itoa(int(port))
	config.BindAddr = addr
	config.BindPort = port
	config.EventListener = dc
	config.MetaData = local

	member, err := memlist.Create(config)
	if err != nil {
		return nil, err
	}
	dc.member = member
	return dc, nil
}

func (c *DynamicCluster) LocalID() NodeID                 { return c.cl.LocalID() }
func (c *DynamicCluster) TryGet(id NodeID) (*Member, bool) { return c.cl.TryGet(id) }
func (c *DynamicCluster) Touch(id NodeID)                  { c.cl.Touch(id) }
func (c *DynamicCluster) All() []*Member                   { return c.cl.All() }
func (c *DynamicCluster) Quorum() int                       { return c.cl.Quorum() }

func (c *DynamicCluster) AddMember(id NodeID, addr string, isRemote bool) (*Member, error) {
	return c.cl.AddMember(id, addr, isRemote)
}

func (c *DynamicCluster) RemoveMember(id NodeID) (*Member, error) {
	return c.cl.RemoveMember(id)
}

// OnMembershipChange implements memlist.EventListener. It is invoked by the
// gossip layer whenever a peer transitions Alive/Left/Dead and keeps the
// StaticCluster backing this registry in step with what gossip observed.
func (c *DynamicCluster) OnMembershipChange(peer memlist.Node) {
	wn, ok := peer.Data.(wireNode)
	if !ok {
		c.logger.Printf("discarding membership event with unrecognized metadata: %v", peer.Data)
		return
	}

	switch peer.State {
	case memlist.Alive:
		if _, err := c.cl.AddMember(wn.ID, wn.Addr, wn.ID != c.cl.LocalID()); err != nil {
			c.logger.Printf("failed to add discovered member %v: %v", wn.ID, err)
		}
	case memlist.Left, memlist.Dead:
		if _, err := c.cl.RemoveMember(wn.ID); err != nil {
			c.logger.Printf("failed to remove departed member %v: %v", wn.ID, err)
		}
	}
}

// Announce satisfies the Raft State Machine's periodic announce() operation.
// memlist's SWIM gossip already piggybacks this node's (id, addr) metadata on
// every ping/ack exchange, so there is no separate broadcast to trigger here;
// Announce exists as the hook a caller can invoke on a schedule regardless of
// which Registry implementation is wired in.
func (c *DynamicCluster) Announce() error {
	return nil
}

// Join initiates joining the gossip cluster through an already-running peer.
func (c *DynamicCluster) Join(otherAddr string) error {
	return c.member.Join(otherAddr)
}

// Leave gracefully announces departure before the local process exits.
func (c *DynamicCluster) Leave(timeout time.Duration) error {
	return c.member.Leave(timeout)
}
