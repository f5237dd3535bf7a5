package store

import (
	"encoding/binary"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/raftbus/raft"
	bolt "go.etcd.io/bbolt"
)

var (
	logBucket  = []byte("logs")
	metaBucket = []byte("meta")
	kvBucket   = []byte("kv")

	lastIndexKey = []byte("lastIndex")
	lastTermKey  = []byte("lastTerm")
)

// boltEntry is the JSON-on-disk shape of a raft.Entry. Kept distinct from
// raft.Entry itself so a later change to the in-memory type doesn't
// silently change the on-disk format.
type boltEntry struct {
	Term    uint64
	Index   uint64
	Payload []byte
	Kind    uint8
}

// BoltStore implements both raft.LogStore and raft.StableStore on top of
// a single BBolt database file: one bucket for the log, one for the
// lastIndex/lastTerm cache, one for arbitrary stable key/value pairs.
type BoltStore struct {
	db        *bolt.DB
	mu        sync.RWMutex
	lastIndex uint64
	lastTerm  uint64
}

// NewBoltStore opens (creating if necessary) a BoltStore persisted at path.
func NewBoltStore(path string) (*BoltStore, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, err
	}

	db, err := bolt.Open(path, 0600, nil)
	if err != nil {
		return nil, err
	}

	err = db.Update(func(tx *bolt.Tx) error {
		if _, err := tx.CreateBucketIfNotExists(logBucket); err != nil {
			return err
		}
		if _, err := tx.CreateBucketIfNotExists(metaBucket); err != nil {
			return err
		}
		if _, err := tx.CreateBucketIfNotExists(kvBucket); err != nil {
			return err
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("store: failed to create buckets: %w", err)
	}

	s := &BoltStore{db: db}

	err = db.View(func(tx *bolt.Tx) error {
		metaBkt := tx.Bucket(metaBucket)
		if v := metaBkt.Get(lastIndexKey); v != nil {
			s.lastIndex = binary.BigEndian.Uint64(v)
		}
		if v := metaBkt.Get(lastTermKey); v != nil {
			s.lastTerm = binary.BigEndian.Uint64(v)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	return s, nil
}

// Close closes the underlying BBolt database.
func (b *BoltStore) Close() error {
	return b.db.Close()
}

// Delete wipes every bucket, leaving the store empty but open.
func (b *BoltStore) Delete() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	err := b.db.Update(func(tx *bolt.Tx) error {
		for _, name := range [][]byte{logBucket, metaBucket, kvBucket} {
			if err := tx.DeleteBucket(name); err != nil {
				return err
			}
			if _, err := tx.CreateBucket(name); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return err
	}
	b.lastIndex = 0
	b.lastTerm = 0
	return nil
}

func (b *BoltStore) LastIndex() raft.LogIndex {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return raft.LogIndex(b.lastIndex)
}

func (b *BoltStore) LastTerm() raft.Term {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return raft.Term(b.lastTerm)
}

func entryKey(index uint64) []byte {
	key := make([]byte, 8)
	binary.BigEndian.PutUint64(key, index)
	return key
}

func (b *BoltStore) GetEntry(index raft.LogIndex) (*raft.Entry, error) {
	var entry *raft.Entry
	err := b.db.View(func(tx *bolt.Tx) error {
		data := tx.Bucket(logBucket).Get(entryKey(uint64(index)))
		if data == nil {
			return raft.ErrLogNotFound
		}
		var be boltEntry
		if err := json.Unmarshal(data, &be); err != nil {
			return err
		}
		entry = &raft.Entry{Term: raft.Term(be.Term), Index: raft.LogIndex(be.Index), Payload: be.Payload, Kind: raft.EntryKind(be.Kind)}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return entry, nil
}

func (b *BoltStore) AllEntries() ([]*raft.Entry, error) {
	var entries []*raft.Entry
	err := b.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(logBucket).ForEach(func(_, v []byte) error {
			var be boltEntry
			if err := json.Unmarshal(v, &be); err != nil {
				return err
			}
			entries = append(entries, &raft.Entry{Term: raft.Term(be.Term), Index: raft.LogIndex(be.Index), Payload: be.Payload, Kind: raft.EntryKind(be.Kind)})
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	return entries, nil
}

func (b *BoltStore) AppendEntries(entries []*raft.Entry) error {
	if len(entries) == 0 {
		return nil
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	return b.db.Update(func(tx *bolt.Tx) error {
		logBkt := tx.Bucket(logBucket)
		metaBkt := tx.Bucket(metaBucket)

		for _, e := range entries {
			data, err := json.Marshal(boltEntry{Term: uint64(e.Term), Index: uint64(e.Index), Payload: e.Payload, Kind: uint8(e.Kind)})
			if err != nil {
				return err
			}
			if err := logBkt.Put(entryKey(uint64(e.Index)), data); err != nil {
				return err
			}

			if uint64(e.Index) > b.lastIndex {
				b.lastIndex = uint64(e.Index)
				b.lastTerm = uint64(e.Term)
				if err := metaBkt.Put(lastIndexKey, entryKey(b.lastIndex)); err != nil {
					return err
				}
				if err := metaBkt.Put(lastTermKey, entryKey(b.lastTerm)); err != nil {
					return err
				}
			}
		}
		return nil
	})
}

func (b *BoltStore) DeleteRange(min, max raft.LogIndex) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	return b.db.Update(func(tx *bolt.Tx) error {
		logBkt := tx.Bucket(logBucket)

		for i := uint64(min); i <= uint64(max); i++ {
			if err := logBkt.Delete(entryKey(i)); err != nil {
				return err
			}
		}

		if uint64(max) < b.lastIndex {
			return nil
		}

		metaBkt := tx.Bucket(metaBucket)
		c := logBkt.Cursor()
		k, v := c.Last()
		if k == nil {
			b.lastIndex = 0
			b.lastTerm = 0
		} else {
			var be boltEntry
			if err := json.Unmarshal(v, &be); err != nil {
				return err
			}
			b.lastIndex = be.Index
			b.lastTerm = be.Term
		}
		if err := metaBkt.Put(lastIndexKey, entryKey(b.lastIndex)); err != nil {
			return err
		}
		return metaBkt.Put(lastTermKey, entryKey(b.lastTerm))
	})
}

// Set persists a stable key/value pair — used by the core for currentTerm
// and votedFor.
func (b *BoltStore) Set(key, value []byte) error {
	return b.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(kvBucket).Put(key, value)
	})
}

func (b *BoltStore) Get(key []byte) ([]byte, error) {
	var value []byte
	err := b.db.View(func(tx *bolt.Tx) error {
		if v := tx.Bucket(kvBucket).Get(key); v != nil {
			value = append([]byte{}, v...)
		}
		return nil
	})
	return value, err
}
