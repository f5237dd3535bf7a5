package cluster

import (
	"fmt"
	"sync"
)

// Registry is the Member Registry contract: the set of known peers, their
// addresses, liveness, and (while Leader) progress. No operation blocks.
type Registry interface {
	// LocalID returns the identity of the node that owns this registry.
	LocalID() NodeID

	// TryGet returns the member with the given id, if known.
	TryGet(id NodeID) (*Member, bool)

	// Touch records a liveness signal for a known member. It is a no-op
	// if the id is not a known member.
	Touch(id NodeID)

	AddMember(id NodeID, addr string, isRemote bool) (*Member, error)
	RemoveMember(id NodeID) (*Member, error)

	// All returns every known member, including the local one.
	All() []*Member

	// Quorum returns the strict majority size for the current membership.
	Quorum() int
}

// StaticCluster is an explicitly configured membership: new members are
// never discovered, only added or removed by the operator.
type StaticCluster struct {
	mu      sync.RWMutex
	local   NodeID
	members map[NodeID]*Member
}

// NewStaticCluster creates a StaticCluster seeded with the local node.
func NewStaticCluster(local NodeID, localAddr string) *StaticCluster {
	c := &StaticCluster{
		local:   local,
		members: make(map[NodeID]*Member),
	}
	c.members[local] = newMember(local, localAddr, false)
	return c
}

func (c *StaticCluster) LocalID() NodeID {
	return c.local
}

func (c *StaticCluster) TryGet(id NodeID) (*Member, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	m, ok := c.members[id]
	return m, ok
}

func (c *StaticCluster) Touch(id NodeID) {
	c.mu.RLock()
	m, ok := c.members[id]
	c.mu.RUnlock()
	if ok {
		m.Touch()
	}
}

func (c *StaticCluster) AddMember(id NodeID, addr string, isRemote bool) (*Member, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.members[id]; ok {
		return nil, fmt.Errorf("cluster: a member with id %v is already registered", id)
	}
	m := newMember(id, addr, isRemote)
	c.members[id] = m
	return m, nil
}

func (c *StaticCluster) RemoveMember(id NodeID) (*Member, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	m, ok := c.members[id]
	if !ok {
		return nil, fmt.Errorf("cluster: no member with id %v", id)
	}
	delete(c.members, id)
	return m, nil
}

func (c *StaticCluster) All() []*Member {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]*Member, 0, len(c.members))
	for _, m := range c.members {
		out = append(out, m)
	}
	return out
}

func (c *StaticCluster) Quorum() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.members)/2 + 1
}
