package raft

import "sync/atomic"

// Cell is the Atomic Cell primitive: a volatile single-word value with
// compare-and-swap and a functional update loop. It generalizes the plain
// mutex-guarded fields the teacher keeps for currentTerm/votedFor/role into
// the lock-free cells spec.md §5 requires — readers must never block.
type Cell[T any] struct {
	v atomic.Pointer[T]
}

// NewCell creates a Cell holding the given initial value.
func NewCell[T any](initial T) *Cell[T] {
	c := &Cell[T]{}
	c.v.Store(&initial)
	return c
}

// Load is a volatile read.
func (c *Cell[T]) Load() T {
	return *c.v.Load()
}

// Store is a volatile write.
func (c *Cell[T]) Store(val T) {
	c.v.Store(&val)
}

// CompareAndSwap stores update iff the current value equals expected,
// using the comparator cmp (reflect.DeepEqual-free so T need not be
// comparable). It returns whether the swap happened.
func (c *Cell[T]) CompareAndSwap(expected, update T, cmp func(a, b T) bool) bool {
	for {
		old := c.v.Load()
		if !cmp(*old, expected) {
			return false
		}
		if c.v.CompareAndSwap(old, &update) {
			return true
		}
		// Lost the race to another writer; retry against the fresh value.
	}
}

// Update retries f against the current value until the CAS succeeds,
// returning the value observed before and after the update. f must be
// pure: it may be invoked more than once under contention.
func (c *Cell[T]) Update(f func(old T) T) (oldVal, newVal T) {
	for {
		old := c.v.Load()
		next := f(*old)
		if c.v.CompareAndSwap(old, &next) {
			return *old, next
		}
	}
}

// Uint64Cell specializes Cell for counters (Term, commitIndex) where the
// update loop is a simple monotonic bump rather than a full CAS-retry over
// an arbitrary type.
type Uint64Cell struct {
	v atomic.Uint64
}

func (c *Uint64Cell) Load() uint64 { return c.v.Load() }
func (c *Uint64Cell) Store(val uint64) { c.v.Store(val) }

// CompareAndSwap stores update iff the current value equals expected.
func (c *Uint64Cell) CompareAndSwap(expected, update uint64) bool {
	return c.v.CompareAndSwap(expected, update)
}

// Accumulate applies g(old) repeatedly until the CAS succeeds, returning
// the values observed before and after.
func (c *Uint64Cell) Accumulate(g func(old uint64) uint64) (oldVal, newVal uint64) {
	for {
		old := c.v.Load()
		next := g(old)
		if c.v.CompareAndSwap(old, next) {
			return old, next
		}
	}
}

// AdvanceTo bumps the cell to max(current, candidate) and reports whether
// the candidate actually advanced it — the shape every term/commit-index
// monotonicity check in this package needs.
func (c *Uint64Cell) AdvanceTo(candidate uint64) (advanced bool) {
	for {
		old := c.v.Load()
		if candidate <= old {
			return false
		}
		if c.v.CompareAndSwap(old, candidate) {
			return true
		}
	}
}
