package cluster

import (
	"sync/atomic"
	"time"
)

// Member is a known peer: its identity, address, liveness, and — while the
// local node is Leader — its replication progress. The liveness timestamp
// is owned exclusively by the registry; NextIndex/MatchIndex are written
// only by the Leader's replication coordinator but live here so commit-index
// advancement can read every peer's progress without a second lookup.
type Member struct {
	ID       NodeID
	Addr     string
	IsRemote bool

	lastContact atomic.Int64 // unix nanoseconds

	NextIndex  atomic.Uint64
	MatchIndex atomic.Uint64
	Inflight   atomic.Bool
}

func newMember(id NodeID, addr string, isRemote bool) *Member {
	m := &Member{ID: id, Addr: addr, IsRemote: isRemote}
	m.lastContact.Store(time.Now().UnixNano())
	return m
}

// Touch records that the member was just heard from.
func (m *Member) Touch() {
	m.lastContact.Store(time.Now().UnixNano())
}

func (m *Member) LastContact() time.Time {
	return time.Unix(0, m.lastContact.Load())
}
