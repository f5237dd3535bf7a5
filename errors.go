package raft

import (
	"errors"
	"fmt"
)

var (
	// ErrLeaderUnavailable means no leader is currently known.
	ErrLeaderUnavailable = errors.New("raft: no leader is currently known")

	// ErrOperationCanceled means the caller's or the node's lifecycle
	// token was cancelled before the operation completed.
	ErrOperationCanceled = errors.New("raft: operation canceled")

	// ErrNotImplemented means no local handler accepted the signal.
	ErrNotImplemented = errors.New("raft: no handler registered for signal")

	// ErrForbidden means the caller's address did not match AllowedNetworks.
	ErrForbidden = errors.New("raft: remote address is not in an allowed network")

	// ErrUnknownMember means the sender is not a registered cluster member.
	ErrUnknownMember = errors.New("raft: sender is not a cluster member")

	ErrLogNotFound      = errors.New("raft: log entry not found in storage")
	ErrFailedToStore    = errors.New("raft: failed to persist log entry")
	ErrSnapshotNotFound = errors.New("raft: snapshot not found in storage")
	ErrSnapshotCreation = errors.New("raft: failed to create snapshot")
	ErrShutdown         = errors.New("raft: node has shut down")
)

// MemberUnavailable reports a transport failure reaching a specific peer.
type MemberUnavailable struct {
	Addr string
	Err  error
}

func (e *MemberUnavailable) Error() string {
	return fmt.Sprintf("raft: member at %s unavailable: %v", e.Addr, e.Err)
}

func (e *MemberUnavailable) Unwrap() error { return e.Err }

// UnexpectedStatus reports a status code the core understands semantically
// but that does not map to one of the named error kinds. BadRequest (400)
// and ServiceUnavailable (503) drive the leader-router's retry loop.
type UnexpectedStatus struct {
	Code int
}

func (e *UnexpectedStatus) Error() string {
	return fmt.Sprintf("raft: peer returned unexpected status %d", e.Code)
}

// LeaderError reports that the contacted node is not the leader, carrying
// its best-known leader hint so the caller can redirect.
type LeaderError struct {
	LeaderID   string
	LeaderAddr string
}

func (e *LeaderError) Error() string {
	if e.LeaderAddr == "" {
		return "raft: not the leader, and no leader is currently known"
	}
	return fmt.Sprintf("raft: not the leader; current leader is %s at %s", e.LeaderID, e.LeaderAddr)
}

func NewLeaderError(id, addr string) *LeaderError {
	return &LeaderError{LeaderID: id, LeaderAddr: addr}
}
