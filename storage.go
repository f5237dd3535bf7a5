package raft

import "sync"

// LogStore defines how a node's log persistence is handled and the
// required operations for log replication to be correct. It is an external
// collaborator: the core depends only on this contract, never on a
// particular on-disk format.
type LogStore interface {
	// LastIndex returns the index of the last entry appended, or 0 if
	// the log is empty.
	LastIndex() LogIndex

	// LastTerm returns the term of the last entry appended, or 0 if the
	// log is empty.
	LastTerm() Term

	// GetEntry returns the entry at index. ErrLogNotFound if out of range.
	GetEntry(index LogIndex) (*Entry, error)

	// AllEntries retrieves every entry currently in the store.
	AllEntries() ([]*Entry, error)

	// AppendEntries appends entries to the log, in order.
	AppendEntries(entries []*Entry) error

	// DeleteRange removes entries from min to max inclusive. Used both to
	// truncate a conflicting suffix and to compact through a snapshot.
	DeleteRange(min, max LogIndex) error
}

// StableStore persists the vital single-valued facts a node must not
// forget across a restart: currentTerm and votedFor.
type StableStore interface {
	Set(key, value []byte) error

	// Get returns the value for key, or a nil slice if unset.
	Get(key []byte) ([]byte, error)
}

// Keys used by the core when writing through a StableStore.
const (
	stableKeyCurrentTerm = "currentTerm"
	stableKeyVotedFor    = "votedFor"
)

// InMemStore implements both LogStore and StableStore in memory. It loses
// all data on shutdown and exists for tests and for Standby-only demos,
// not for production use — exactly the teacher's own caveat on its
// InMemStore.
type InMemStore struct {
	lMu      sync.Mutex
	entries  []*Entry
	lastIdx  LogIndex
	lastTerm Term

	kvMu sync.Mutex
	kv   map[string][]byte
}

func NewInMemStore() *InMemStore {
	return &InMemStore{
		entries: make([]*Entry, 0),
		kv:      make(map[string][]byte),
	}
}

func (m *InMemStore) LastIndex() LogIndex {
	m.lMu.Lock()
	defer m.lMu.Unlock()
	return m.lastIdx
}

func (m *InMemStore) LastTerm() Term {
	m.lMu.Lock()
	defer m.lMu.Unlock()
	return m.lastTerm
}

func (m *InMemStore) GetEntry(index LogIndex) (*Entry, error) {
	m.lMu.Lock()
	defer m.lMu.Unlock()
	if index == 0 || index > m.lastIdx || len(m.entries) == 0 {
		return nil, ErrLogNotFound
	}
	minIdx := m.entries[0].Index
	if index < minIdx {
		return nil, ErrLogNotFound
	}
	return m.entries[index-minIdx], nil
}

func (m *InMemStore) AppendEntries(entries []*Entry) error {
	m.lMu.Lock()
	defer m.lMu.Unlock()
	m.entries = append(m.entries, entries...)
	m.updateLast()
	return nil
}

func (m *InMemStore) DeleteRange(min, max LogIndex) error {
	m.lMu.Lock()
	defer m.lMu.Unlock()
	if len(m.entries) == 0 {
		return nil
	}
	minIdx := m.entries[0].Index
	if min < minIdx {
		min = minIdx
	}
	if max > m.lastIdx {
		max = m.lastIdx
	}
	if min > max {
		return nil
	}
	lo, hi := int(min-minIdx), int(max-minIdx)
	m.entries = append(m.entries[:lo], m.entries[hi+1:]...)
	m.updateLast()
	return nil
}

func (m *InMemStore) AllEntries() ([]*Entry, error) {
	m.lMu.Lock()
	defer m.lMu.Unlock()
	out := make([]*Entry, len(m.entries))
	copy(out, m.entries)
	return out, nil
}

func (m *InMemStore) updateLast() {
	if len(m.entries) == 0 {
		m.lastIdx = 0
		m.lastTerm = 0
		return
	}
	last := m.entries[len(m.entries)-1]
	m.lastIdx = last.Index
	m.lastTerm = last.Term
}

func (m *InMemStore) Set(key, value []byte) error {
	m.kvMu.Lock()
	defer m.kvMu.Unlock()
	m.kv[string(key)] = append([]byte{}, value...)
	return nil
}

func (m *InMemStore) Get(key []byte) ([]byte, error) {
	m.kvMu.Lock()
	defer m.kvMu.Unlock()
	return m.kv[string(key)], nil
}
