package raft

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"

	"github.com/raftbus/raft/cluster"
)

// LeaderState is the Log Replication Coordinator: everything that exists
// only while this node is Leader. It is swapped into Raft.leaderState under
// Raft.mu when the role becomes Leader and torn down when it stops being one.
type LeaderState struct {
	r *Raft

	mu       sync.Mutex
	inflight map[cluster.NodeID]bool
}

func newLeaderState(r *Raft) *LeaderState {
	return &LeaderState{r: r, inflight: make(map[cluster.NodeID]bool)}
}

// initPeerProgress resets every peer's nextIndex to lastLogIndex+1 and
// matchIndex to 0, per spec.md §4.5.
func (ls *LeaderState) initPeerProgress() {
	last := ls.r.logStore.LastIndex()
	for _, m := range ls.r.registry.All() {
		if m.ID == ls.r.id {
			continue
		}
		m.NextIndex.Store(uint64(last) + 1)
		m.MatchIndex.Store(0)
	}
}

// replicateAll fans AppendEntries (or InstallSnapshot, on nextIndex
// underflow) out to every peer concurrently. Called on every heartbeat tick
// and after every local append.
func (ls *LeaderState) replicateAll(ctx context.Context) {
	for _, m := range ls.r.registry.All() {
		if m.ID == ls.r.id {
			continue
		}
		ls.mu.Lock()
		busy := ls.inflight[m.ID]
		if !busy {
			ls.inflight[m.ID] = true
		}
		ls.mu.Unlock()
		if busy {
			continue
		}

		go func(peer *cluster.Member) {
			defer func() {
				ls.mu.Lock()
				delete(ls.inflight, peer.ID)
				ls.mu.Unlock()
			}()
			ls.replicateToPeer(ctx, peer)
		}(m)
	}
}

// replicateToPeer sends one round of replication to peer: AppendEntries
// starting at peer.NextIndex, or InstallSnapshot if that index has already
// been compacted away.
func (ls *LeaderState) replicateToPeer(ctx context.Context, peer *cluster.Member) {
	r := ls.r
	currentTerm := r.Term()

	nextIndex := LogIndex(peer.NextIndex.Load())
	if nextIndex == 0 {
		nextIndex = 1
	}

	prevLogIndex := nextIndex - 1
	var prevLogTerm Term
	if prevLogIndex > 0 {
		prev, err := r.logStore.GetEntry(prevLogIndex)
		if err != nil {
			ls.sendSnapshot(ctx, peer)
			return
		}
		prevLogTerm = prev.Term
	}

	var entries []*Entry
	lastIndex := r.logStore.LastIndex()
	for idx := nextIndex; idx <= lastIndex; idx++ {
		e, err := r.logStore.GetEntry(idx)
		if err != nil {
			break
		}
		entries = append(entries, e)
	}

	resp, err := r.transport.SendAppendEntries(ctx, peer, &AppendEntriesRequest{
		LeaderID:     r.id,
		Term:         currentTerm,
		PrevLogIndex: prevLogIndex,
		PrevLogTerm:  prevLogTerm,
		Entries:      entries,
		LeaderCommit: LogIndex(r.commitIndex.Load()),
	})
	if err != nil {
		r.logger.Printf("appendEntries to %s failed: %v", peer.ID, err)
		return
	}

	if resp.Term > uint64ToTerm(r.currentTerm.Load()) {
		r.mu.Lock()
		r.stepDown(resp.Term)
		r.mu.Unlock()
		return
	}

	if !resp.Success {
		// Log mismatch: back off nextIndex by one and let the next tick
		// retry, bounded so it never underflows past index 1.
		cur := peer.NextIndex.Load()
		if cur > 1 {
			peer.NextIndex.CompareAndSwap(cur, cur-1)
		}
		return
	}

	if len(entries) > 0 {
		newMatch := entries[len(entries)-1].Index
		peer.MatchIndex.Store(uint64(newMatch))
		peer.NextIndex.Store(uint64(newMatch) + 1)
	}
	ls.advanceCommitIndex()
}

func uint64ToTerm(v uint64) Term { return Term(v) }

// sendSnapshot is the InstallSnapshot fallback: nextIndex has fallen behind
// what the log still retains, so the leader ships its latest snapshot
// instead of trying to replay a truncated prefix.
func (ls *LeaderState) sendSnapshot(ctx context.Context, peer *cluster.Member) {
	r := ls.r
	snap, err := r.snapStore.Latest()
	if err != nil || snap == nil {
		r.logger.Printf("no snapshot available to catch up %s", peer.ID)
		return
	}
	defer snap.Reader.Close()

	data := make([]byte, snap.Meta.Size)
	if _, err := io.ReadFull(snap.Reader, data); err != nil {
		r.logger.Printf("failed to read snapshot for %s: %v", peer.ID, err)
		return
	}

	resp, err := r.transport.SendInstallSnapshot(ctx, peer, &InstallSnapshotRequest{
		LeaderID:          r.id,
		Term:              r.Term(),
		LastIncludedIndex: snap.Meta.Index,
		LastIncludedTerm:  snap.Meta.Term,
		Data:              data,
	})
	if err != nil {
		r.logger.Printf("installSnapshot to %s failed: %v", peer.ID, err)
		return
	}
	if resp.Success {
		peer.MatchIndex.Store(uint64(snap.Meta.Index))
		peer.NextIndex.Store(uint64(snap.Meta.Index) + 1)
	}
}

// advanceCommitIndex implements spec.md §4.5's safety-critical rule:
// commitIndex := max N such that a majority of matchIndex >= N AND
// log[N].term == currentTerm. Entries from a prior term are never
// committed by counting replicas alone — they ride along when a
// same-term entry at a higher index commits.
func (ls *LeaderState) advanceCommitIndex() {
	r := ls.r
	members := r.registry.All()
	quorum := r.registry.Quorum()
	currentTerm := r.Term()

	last := r.logStore.LastIndex()
	for n := last; n > LogIndex(r.commitIndex.Load()); n-- {
		entry, err := r.logStore.GetEntry(n)
		if err != nil || entry.Term != currentTerm {
			continue
		}
		count := 0
		for _, m := range members {
			if m.ID == r.id || LogIndex(m.MatchIndex.Load()) >= n {
				count++
			}
		}
		if count >= quorum {
			r.commitIndex.AdvanceTo(uint64(n))
			r.applyCommitted()
			return
		}
	}
}

// bufferedStage implements the buffering policy from spec.md §4.5: when
// enabled, an inbound entry's payload is copied to a scratch store —
// in-memory under the threshold, a temp file at or above it — before being
// handed to the log, so a slow fsync never backs up the network reader.
func (r *Raft) bufferedStage(entries []*Entry) ([]*Entry, error) {
	if !r.opts.Buffering.Enabled || len(entries) == 0 {
		return entries, nil
	}
	staged := make([]*Entry, len(entries))
	for i, e := range entries {
		payload, err := r.stagePayload(e.Payload)
		if err != nil {
			return nil, err
		}
		cp := *e
		cp.Payload = payload
		staged[i] = &cp
	}
	return staged, nil
}

func (r *Raft) stagePayload(payload []byte) ([]byte, error) {
	threshold := r.opts.Buffering.Threshold
	if threshold <= 0 || len(payload) < threshold {
		cp := make([]byte, len(payload))
		copy(cp, payload)
		return cp, nil
	}

	dir := r.opts.Buffering.Dir
	if dir == "" {
		dir = os.TempDir()
	}
	f, err := os.CreateTemp(dir, "raft-scratch-*")
	if err != nil {
		return nil, fmt.Errorf("raft: staging scratch file in %s: %w", dir, err)
	}
	defer os.Remove(f.Name())
	defer f.Close()

	if _, err := f.Write(payload); err != nil {
		return nil, fmt.Errorf("raft: writing scratch file %s: %w", filepath.Base(f.Name()), err)
	}
	if _, err := f.Seek(0, 0); err != nil {
		return nil, err
	}
	out := make([]byte, len(payload))
	if _, err := io.ReadFull(f, out); err != nil {
		return nil, fmt.Errorf("raft: reading back scratch file %s: %w", filepath.Base(f.Name()), err)
	}
	return out, nil
}
