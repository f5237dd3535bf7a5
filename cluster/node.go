// Package cluster owns cluster membership: node identity, liveness, and
// per-peer replication progress. It has no dependency on the raft package
// itself, so the raft package can depend on cluster without a cycle.
package cluster

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
)

// NodeID is an opaque 128-bit identifier assigned once at node startup
// and never mutated afterward.
type NodeID [16]byte

// Zero is the unset NodeID, used as the sentinel for "no leader" and
// "no vote cast yet".
var Zero NodeID

func (id NodeID) String() string {
	return hex.EncodeToString(id[:])
}

func (id NodeID) IsZero() bool {
	return id == Zero
}

// NewNodeID generates a random 128-bit identifier, used when memberId is
// not supplied in configuration.
func NewNodeID() NodeID {
	var id NodeID
	if _, err := rand.Read(id[:]); err != nil {
		// crypto/rand.Read on the standard reader only fails if the
		// underlying OS source is broken, which is not recoverable.
		panic(fmt.Sprintf("cluster: failed to generate node id: %v", err))
	}
	return id
}

// ParseNodeID decodes the hex representation produced by NodeID.String.
func ParseNodeID(s string) (NodeID, error) {
	var id NodeID
	b, err := hex.DecodeString(s)
	if err != nil {
		return id, fmt.Errorf("cluster: invalid node id %q: %w", s, err)
	}
	if len(b) != len(id) {
		return id, fmt.Errorf("cluster: invalid node id %q: want %d bytes, got %d", s, len(id), len(b))
	}
	copy(id[:], b)
	return id, nil
}
