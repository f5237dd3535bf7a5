package store

import (
	"io"
	"testing"

	"github.com/raftbus/raft"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemorySnapshotStore_CreateWriteOpenRoundTrips(t *testing.T) {
	s := NewMemorySnapshotStore()

	sink, err := s.Create(3, 1, 0)
	require.NoError(t, err)
	_, err = sink.Write([]byte("data"))
	require.NoError(t, err)
	require.NoError(t, sink.Close())

	data, err := s.Open(sink.ID())
	require.NoError(t, err)
	b, err := io.ReadAll(data.Reader)
	require.NoError(t, err)
	assert.Equal(t, []byte("data"), b)
	assert.Equal(t, int64(4), data.Meta.Size)
}

func TestMemorySnapshotStore_Delete(t *testing.T) {
	s := NewMemorySnapshotStore()
	sink, err := s.Create(1, 1, 0)
	require.NoError(t, err)
	require.NoError(t, sink.Close())

	require.NoError(t, s.Delete(sink.ID()))
	_, err = s.Open(sink.ID())
	assert.ErrorIs(t, err, raft.ErrSnapshotNotFound)
}

func TestMemorySnapshotStore_Latest_NoneIsErrSnapshotNotFound(t *testing.T) {
	s := NewMemorySnapshotStore()
	_, err := s.Latest()
	assert.ErrorIs(t, err, raft.ErrSnapshotNotFound)
}
