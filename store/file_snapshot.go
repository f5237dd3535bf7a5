package store

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/raftbus/raft"
)

// FileSnapshotStore implements raft.SnapshotStore, storing each snapshot
// as a single file on disk named by its term, index, and creation time.
type FileSnapshotStore struct {
	path   string
	retain int
	mu     sync.RWMutex
}

// NewFileSnapshotStore creates a file-based snapshot store rooted at path,
// keeping at most retain snapshots (0 means unlimited).
func NewFileSnapshotStore(path string, retain int) (*FileSnapshotStore, error) {
	if err := os.MkdirAll(path, 0755); err != nil {
		return nil, err
	}
	return &FileSnapshotStore{path: path, retain: retain}, nil
}

func (f *FileSnapshotStore) Create(index raft.LogIndex, term raft.Term, size int64) (raft.SnapshotSink, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	name := fmt.Sprintf("%d-%d-%d.snapshot", uint64(term), uint64(index), time.Now().UnixNano())
	path := filepath.Join(f.path, name)

	file, err := os.Create(path)
	if err != nil {
		return nil, err
	}

	return &fileSnapshotSink{
		store: f,
		file:  file,
		meta: raft.SnapshotMeta{
			ID:           name,
			Index:        index,
			Term:         term,
			Size:         size,
			CreationTime: time.Now(),
		},
	}, nil
}

func (f *FileSnapshotStore) List() ([]raft.SnapshotMeta, error) {
	f.mu.RLock()
	defer f.mu.RUnlock()

	files, err := os.ReadDir(f.path)
	if err != nil {
		return nil, err
	}

	var snapshots []raft.SnapshotMeta
	for _, file := range files {
		if !strings.HasSuffix(file.Name(), ".snapshot") {
			continue
		}
		meta, err := parseSnapshotFilename(file.Name())
		if err != nil {
			continue
		}
		snapshots = append(snapshots, meta)
	}

	sort.Slice(snapshots, func(i, j int) bool {
		return snapshots[i].Index > snapshots[j].Index
	})
	return snapshots, nil
}

func (f *FileSnapshotStore) Open(id string) (*raft.SnapshotData, error) {
	f.mu.RLock()
	defer f.mu.RUnlock()

	path := filepath.Join(f.path, id)
	if _, err := os.Stat(path); err != nil {
		return nil, raft.ErrSnapshotNotFound
	}

	file, err := os.Open(path)
	if err != nil {
		return nil, err
	}

	meta, err := parseSnapshotFilename(id)
	if err != nil {
		file.Close()
		return nil, err
	}

	info, err := file.Stat()
	if err == nil {
		meta.Size = info.Size()
	}

	return &raft.SnapshotData{Meta: meta, Reader: file}, nil
}

func (f *FileSnapshotStore) Latest() (*raft.SnapshotData, error) {
	snapshots, err := f.List()
	if err != nil {
		return nil, err
	}
	if len(snapshots) == 0 {
		return nil, raft.ErrSnapshotNotFound
	}
	return f.Open(snapshots[0].ID)
}

func (f *FileSnapshotStore) Delete(id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	return os.Remove(filepath.Join(f.path, id))
}

func parseSnapshotFilename(filename string) (raft.SnapshotMeta, error) {
	parts := strings.Split(strings.TrimSuffix(filename, ".snapshot"), "-")
	if len(parts) != 3 {
		return raft.SnapshotMeta{}, fmt.Errorf("store: invalid snapshot filename %q", filename)
	}

	term, err := strconv.ParseUint(parts[0], 10, 64)
	if err != nil {
		return raft.SnapshotMeta{}, err
	}
	index, err := strconv.ParseUint(parts[1], 10, 64)
	if err != nil {
		return raft.SnapshotMeta{}, err
	}
	timestamp, err := strconv.ParseInt(parts[2], 10, 64)
	if err != nil {
		return raft.SnapshotMeta{}, err
	}

	return raft.SnapshotMeta{
		ID:           filename,
		Index:        raft.LogIndex(index),
		Term:         raft.Term(term),
		CreationTime: time.Unix(0, timestamp),
	}, nil
}

// fileSnapshotSink implements raft.SnapshotSink, writing to a single open
// file and enforcing the store's retention policy once closed.
type fileSnapshotSink struct {
	store  *FileSnapshotStore
	file   *os.File
	meta   raft.SnapshotMeta
	closed bool
}

func (s *fileSnapshotSink) Write(p []byte) (int, error) {
	if s.closed {
		return 0, fmt.Errorf("store: snapshot sink %s is closed", s.meta.ID)
	}
	return s.file.Write(p)
}

func (s *fileSnapshotSink) Close() error {
	if s.closed {
		return nil
	}
	s.closed = true
	if err := s.file.Close(); err != nil {
		return err
	}

	if s.store.retain <= 0 {
		return nil
	}
	snapshots, err := s.store.List()
	if err != nil {
		return err
	}
	for i := s.store.retain; i < len(snapshots); i++ {
		if err := s.store.Delete(snapshots[i].ID); err != nil {
			return err
		}
	}
	return nil
}

func (s *fileSnapshotSink) ID() string {
	return s.meta.ID
}
