package raft

import (
	"context"
	"time"
)

// leader drives the Log Replication Coordinator: a heartbeat tick fans
// AppendEntries out to every peer, and every local Apply is appended and
// immediately replicated rather than waiting for the next tick.
type leader struct {
	*Raft
	heartbeat *time.Timer
}

func (l *leader) tag() RoleTag { return RoleLeader }

func (l *leader) runState() {
	state := newLeaderState(l.Raft)
	state.initPeerProgress()

	l.mu.Lock()
	l.leaderState = state
	l.leaderHint.Store(l.id)
	l.mu.Unlock()
	defer func() {
		l.mu.Lock()
		l.leaderState = nil
		l.mu.Unlock()
	}()

	// A freshly elected leader appends a no-op entry in its own term so
	// spec.md §4.5's commit-safety rule — commits only ever advance for
	// entries in the leader's own term — has something to advance past.
	// It goes out to every peer at once, so followers learn the new leader
	// without waiting for the first heartbeat tick.
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	l.appendNoOp()
	state.replicateAll(ctx)

	l.heartbeat = time.NewTimer(l.opts.HeartbeatInterval)
	defer l.heartbeat.Stop()

	for l.getRole() == RoleLeader {
		select {
		case <-l.heartbeat.C:
			state.replicateAll(ctx)
			l.heartbeat.Reset(l.opts.HeartbeatInterval)
		case task := <-l.applyCh:
			l.handleApply(ctx, state, task)
		case <-l.stateCh:
		case <-l.shutdownCh:
			return
		}
	}
}

func (l *leader) appendNoOp() {
	entry := &Entry{Term: l.Term(), Kind: EntryNoOp}
	l.appendLocal(entry)
}

func (l *leader) handleApply(ctx context.Context, state *LeaderState, task *logTask) {
	idx := l.appendLocal(task.entry)
	task.entry.Index = idx
	state.replicateAll(ctx)

	go l.awaitCommit(task, idx)
}

// appendLocal assigns the next index and durably appends entry to the
// leader's own log, returning the index it was assigned.
func (l *leader) appendLocal(entry *Entry) LogIndex {
	idx := l.logStore.LastIndex() + 1
	entry.Index = idx
	if err := l.logStore.AppendEntries([]*Entry{entry}); err != nil {
		l.logger.Printf("leader failed to append entry %d locally: %v", idx, err)
	}
	if members := l.registry.All(); len(members) == 1 {
		// Single-node cluster: the leader is its own majority.
		l.commitIndex.AdvanceTo(uint64(idx))
		l.applyCommitted()
	}
	return idx
}

// awaitCommit polls until idx has been committed, then resolves task. This
// keeps Apply's blocking contract without holding the leader's run loop
// hostage on a single slow replication round.
func (l *leader) awaitCommit(task *logTask, idx LogIndex) {
	ticker := time.NewTicker(5 * time.Millisecond)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			if l.commitIndex.Load() >= uint64(idx) {
				task.respond(nil)
				return
			}
			if l.getRole() != RoleLeader {
				task.respond(l.leaderError())
				return
			}
		case <-l.shutdownCh:
			task.respond(ErrShutdown)
			return
		}
	}
}
