package raft

import (
	"container/list"
	"log"
	"sync"
	"time"

	"github.com/raftbus/raft/cluster"
)

// DuplicateKey identifies a logical message: messageId is client-supplied
// and unique per sender for the retention window.
type DuplicateKey struct {
	SenderID  cluster.NodeID
	MessageID string
}

// DuplicateDetector is the bounded set of recently seen DuplicateKeys
// spec.md §4.2 describes. It evicts by whichever limit is reached first:
// capacity (oldest-first, an LRU list) or age. False positives — marking a
// genuinely unique key as a duplicate — are forbidden, so eviction only
// ever drops entries, never the lookup used to answer IsDuplicate; a key
// that is evicted and then replayed is simply treated as new again
// (a tolerated false negative, not a correctness violation).
//
// The detector is node-global, not per-connection, per the Open Question
// in spec.md §9.
type DuplicateDetector struct {
	mu       sync.Mutex
	capacity int
	ttl      time.Duration
	order    *list.List // front = oldest
	entries  map[DuplicateKey]*list.Element
	logger   *log.Logger
}

type dedupeEntry struct {
	key  DuplicateKey
	seen time.Time
}

// NewDuplicateDetector creates a detector retaining at most capacity keys,
// each evicted no later than ttl after it was last seen. A non-positive
// ttl disables age-based eviction (capacity-only LRU).
func NewDuplicateDetector(capacity int, ttl time.Duration, logger *log.Logger) *DuplicateDetector {
	if capacity <= 0 {
		capacity = 4096
	}
	return &DuplicateDetector{
		capacity: capacity,
		ttl:      ttl,
		order:    list.New(),
		entries:  make(map[DuplicateKey]*list.Element),
		logger:   logger,
	}
}

// IsDuplicate atomically records key and returns true iff it was already
// present within the retention window.
func (d *DuplicateDetector) IsDuplicate(key DuplicateKey) bool {
	now := time.Now()
	d.mu.Lock()
	defer d.mu.Unlock()

	d.evictExpired(now)

	if el, ok := d.entries[key]; ok {
		el.Value.(*dedupeEntry).seen = now
		d.order.MoveToBack(el)
		return true
	}

	el := d.order.PushBack(&dedupeEntry{key: key, seen: now})
	d.entries[key] = el

	for d.order.Len() > d.capacity {
		oldest := d.order.Front()
		d.order.Remove(oldest)
		delete(d.entries, oldest.Value.(*dedupeEntry).key)
	}

	return false
}

func (d *DuplicateDetector) evictExpired(now time.Time) {
	if d.ttl <= 0 {
		return
	}
	for {
		front := d.order.Front()
		if front == nil {
			return
		}
		entry := front.Value.(*dedupeEntry)
		if now.Sub(entry.seen) < d.ttl {
			return
		}
		d.order.Remove(front)
		delete(d.entries, entry.key)
	}
}

// Len reports the number of keys currently retained, for tests/metrics.
func (d *DuplicateDetector) Len() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.order.Len()
}
