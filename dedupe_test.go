package raft

import (
	"io"
	"log"
	"testing"
	"time"

	"github.com/raftbus/raft/cluster"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func discardLogger() *log.Logger {
	return log.New(io.Discard, "", 0)
}

func TestDuplicateDetector_FirstSeenIsNotDuplicate(t *testing.T) {
	d := NewDuplicateDetector(16, time.Minute, discardLogger())
	key := DuplicateKey{SenderID: cluster.NewNodeID(), MessageID: "m1"}

	assert.False(t, d.IsDuplicate(key))
	assert.True(t, d.IsDuplicate(key), "the same key seen again must be reported as a duplicate")
}

func TestDuplicateDetector_DistinctSendersDoNotCollide(t *testing.T) {
	d := NewDuplicateDetector(16, time.Minute, discardLogger())
	a := DuplicateKey{SenderID: cluster.NewNodeID(), MessageID: "m1"}
	b := DuplicateKey{SenderID: cluster.NewNodeID(), MessageID: "m1"}

	assert.False(t, d.IsDuplicate(a))
	assert.False(t, d.IsDuplicate(b), "same message id from a different sender is not a duplicate")
}

func TestDuplicateDetector_EvictsOldestOverCapacity(t *testing.T) {
	d := NewDuplicateDetector(2, time.Minute, discardLogger())
	sender := cluster.NewNodeID()
	k1 := DuplicateKey{SenderID: sender, MessageID: "m1"}
	k2 := DuplicateKey{SenderID: sender, MessageID: "m2"}
	k3 := DuplicateKey{SenderID: sender, MessageID: "m3"}

	require.False(t, d.IsDuplicate(k1))
	require.False(t, d.IsDuplicate(k2))
	require.False(t, d.IsDuplicate(k3)) // evicts k1
	require.Equal(t, 2, d.Len())

	assert.False(t, d.IsDuplicate(k1), "k1 was evicted, so it is treated as new again")
	assert.True(t, d.IsDuplicate(k3), "recording k1 again evicted k2, the oldest; k3 is still retained")
}

func TestDuplicateDetector_ExpiresByTTL(t *testing.T) {
	d := NewDuplicateDetector(16, 10*time.Millisecond, discardLogger())
	key := DuplicateKey{SenderID: cluster.NewNodeID(), MessageID: "m1"}

	require.False(t, d.IsDuplicate(key))
	time.Sleep(30 * time.Millisecond)

	assert.False(t, d.IsDuplicate(key), "entries older than the ttl must be evicted, not reported as duplicates")
}

func TestDuplicateDetector_NonPositiveTTLDisablesExpiry(t *testing.T) {
	d := NewDuplicateDetector(16, 0, discardLogger())
	key := DuplicateKey{SenderID: cluster.NewNodeID(), MessageID: "m1"}

	require.False(t, d.IsDuplicate(key))
	time.Sleep(20 * time.Millisecond)
	assert.True(t, d.IsDuplicate(key))
}
