package raft

import (
	"context"
	"fmt"
	"log"
	"os"
	"sync"
	"time"

	"github.com/raftbus/raft/cluster"
)

// Raft is a single cluster node: the Raft State Machine plus the
// collaborators (Member Registry, Log/Stable/Snapshot stores, Transport,
// FSM) it is wired against. Term, votedFor, and role are owned exclusively
// by this type and mutated only through the critical sections below.
type Raft struct {
	id     cluster.NodeID
	logger *log.Logger

	registry    cluster.Registry
	logStore    LogStore
	stableStore StableStore
	snapStore   SnapshotStore
	transport   Transport
	fsm         FSM

	opts Options

	role        *Cell[RoleTag]
	currentTerm Uint64Cell
	votedFor    *Cell[cluster.NodeID]
	leaderHint  *Cell[cluster.NodeID]

	commitIndex Uint64Cell
	lastApplied Uint64Cell

	metadata *Cell[map[string]string]

	dedupe *DuplicateDetector
	bus    *Bus

	// mu guards the single critical section spec.md §5 requires: the
	// composite "observe higher term -> step down -> reset timers"
	// transition, and swapping leaderState in/out as the role changes.
	mu          sync.Mutex
	leaderState *LeaderState

	stateCh      chan RoleTag
	resetTimerCh chan struct{}
	applyCh      chan *logTask
	fsmUpdateCh  chan fsmUpdate

	shutdownCh   chan struct{}
	shutdownOnce sync.Once

	startOnce sync.Once
}

// NewRaft wires a node against its collaborators. The node starts in
// RoleStandby and does nothing until Start is called.
func NewRaft(registry cluster.Registry, logStore LogStore, stableStore StableStore, snapStore SnapshotStore, transport Transport, fsm FSM, opts Options) (*Raft, error) {
	if registry == nil || logStore == nil || stableStore == nil || snapStore == nil || transport == nil || fsm == nil {
		return nil, fmt.Errorf("raft: all collaborators are required")
	}
	id := opts.MemberID
	if id.IsZero() {
		id = registry.LocalID()
	}
	if id.IsZero() {
		id = cluster.NewNodeID()
	}

	r := &Raft{
		id:           id,
		logger:       log.New(os.Stdout, fmt.Sprintf("[raft %s] ", shortID(id)), log.LstdFlags),
		registry:     registry,
		logStore:     logStore,
		stableStore:  stableStore,
		snapStore:    snapStore,
		transport:    transport,
		fsm:          fsm,
		opts:         opts,
		role:         NewCell(RoleStandby),
		votedFor:     NewCell(cluster.Zero),
		leaderHint:   NewCell(cluster.Zero),
		metadata:     NewCell(map[string]string{}),
		stateCh:      make(chan RoleTag, 1),
		resetTimerCh: make(chan struct{}, 1),
		applyCh:      make(chan *logTask, 64),
		fsmUpdateCh:  make(chan fsmUpdate, 64),
		shutdownCh:   make(chan struct{}),
	}
	logger := r.logger
	r.dedupe = NewDuplicateDetector(opts.DuplicateDetectorCapacity, opts.DuplicateRetention, logger)
	r.bus = newBus(r)
	r.bus.AddListener(&applyForwardHandler{r: r})

	if term, err := r.loadTerm(); err == nil {
		r.currentTerm.Store(uint64(term))
	}
	if voted, err := r.loadVotedFor(); err == nil {
		r.votedFor.Store(voted)
	}

	return r, nil
}

func shortID(id cluster.NodeID) string {
	s := id.String()
	if len(s) > 8 {
		return s[:8]
	}
	return s
}

// ID returns the node's identity.
func (r *Raft) ID() cluster.NodeID { return r.id }

// Term returns the node's current term.
func (r *Raft) Term() Term { return Term(r.currentTerm.Load()) }

// Role returns the node's current role.
func (r *Raft) Role() RoleTag { return r.getRole() }

// Leader returns the best-known leader hint and whether one is set.
func (r *Raft) Leader() (cluster.NodeID, bool) {
	hint := r.leaderHint.Load()
	return hint, !hint.IsZero()
}

// Metadata returns the current, immutable metadata snapshot.
func (r *Raft) Metadata() map[string]string {
	return r.metadata.Load()
}

// SetMetadata atomically replaces the metadata map. Only the local
// operator calls this; it is never mutated by RPC traffic.
func (r *Raft) SetMetadata(m map[string]string) {
	cp := make(map[string]string, len(m))
	for k, v := range m {
		cp[k] = v
	}
	r.metadata.Store(cp)
}

// Start transitions the node out of Standby and launches its run loops.
// Per spec.md §4.4, Standby -> Follower happens on "first legitimate RPC
// or manual start"; Start is the manual-start path.
func (r *Raft) Start() error {
	var err error
	r.startOnce.Do(func() {
		if regErr := r.transport.RegisterHandler(r.dispatcher()); regErr != nil {
			err = regErr
			return
		}
		if startErr := r.transport.Start(); startErr != nil {
			err = startErr
			return
		}
		go r.runFSM()
		go r.run()
		go r.runAnnounce()
		r.setRole(RoleFollower)
	})
	return err
}

// Shutdown is the "any -> terminal" transition: it cancels election/
// heartbeat timers, stops the transport, and lets in-flight RPCs observe
// cancellation via the lifecycle channel closing.
func (r *Raft) Shutdown() error {
	r.shutdownOnce.Do(func() {
		close(r.shutdownCh)
	})
	return r.transport.Stop()
}

func (r *Raft) done() <-chan struct{} { return r.shutdownCh }

// run is the outer dispatch loop: it re-derives the active role's state
// implementation every time the role changes and lets that implementation
// own the node until the role changes again or the node shuts down.
func (r *Raft) run() {
	for {
		select {
		case <-r.shutdownCh:
			return
		default:
		}
		state := r.stateFor(r.getRole())
		state.runState()
	}
}

// Apply submits data to be replicated as a user log entry. On a Follower
// or Candidate it either forwards to the known leader (if ForwardApply is
// set) or fails fast with a LeaderError.
func (r *Raft) Apply(ctx context.Context, data []byte) (Task, error) {
	if r.getRole() != RoleLeader {
		if !r.opts.ForwardApply {
			return nil, r.leaderError()
		}
		return r.forwardApply(ctx, data)
	}

	entry := &Entry{
		Term:    r.Term(),
		Payload: data,
		Kind:    EntryUser,
	}
	task := newLogTask(entry)
	select {
	case r.applyCh <- task:
	case <-ctx.Done():
		return nil, ErrOperationCanceled
	case <-r.shutdownCh:
		return nil, ErrShutdown
	}
	return task, nil
}

func (r *Raft) forwardApply(ctx context.Context, data []byte) (Task, error) {
	resp, err := r.bus.sendCustom(ctx, &CustomRequest{
		SenderID:          r.id,
		MessageID:         newMessageID(),
		Mode:              RequestReply,
		RespectLeadership: true,
		Name:              "__apply",
		Payload:           data,
	})
	if err != nil {
		return nil, err
	}
	t := newLogTask(&Entry{Payload: resp.Payload})
	t.respond(nil)
	return t, nil
}

func (r *Raft) leaderError() error {
	hint, ok := r.Leader()
	if !ok {
		return NewLeaderError("", "")
	}
	if m, ok := r.registry.TryGet(hint); ok {
		return NewLeaderError(hint.String(), m.Addr)
	}
	return NewLeaderError(hint.String(), "")
}

// loadTerm/loadVotedFor/persistTermAndVote implement the "persist (term,
// votedFor) before responding" requirement from spec.md §4.4.

func (r *Raft) loadTerm() (Term, error) {
	b, err := r.stableStore.Get([]byte(stableKeyCurrentTerm))
	if err != nil || len(b) == 0 {
		return 0, err
	}
	return Term(decodeUint64(b)), nil
}

func (r *Raft) loadVotedFor() (cluster.NodeID, error) {
	b, err := r.stableStore.Get([]byte(stableKeyVotedFor))
	if err != nil || len(b) != 16 {
		return cluster.Zero, err
	}
	var id cluster.NodeID
	copy(id[:], b)
	return id, nil
}

func (r *Raft) persistTermAndVote(term Term, votedFor cluster.NodeID) error {
	if err := r.stableStore.Set([]byte(stableKeyCurrentTerm), encodeUint64(uint64(term))); err != nil {
		return ErrFailedToStore
	}
	if err := r.stableStore.Set([]byte(stableKeyVotedFor), votedFor[:]); err != nil {
		return ErrFailedToStore
	}
	return nil
}

func encodeUint64(v uint64) []byte {
	b := make([]byte, 8)
	for i := 0; i < 8; i++ {
		b[i] = byte(v >> (8 * i))
	}
	return b
}

func decodeUint64(b []byte) uint64 {
	var v uint64
	for i := 0; i < 8 && i < len(b); i++ {
		v |= uint64(b[i]) << (8 * i)
	}
	return v
}

// upToDate implements the "candidate's log is at least as up-to-date"
// predicate shared by vote and preVote: compare lastLogTerm then
// lastLogIndex.
func (r *Raft) upToDate(candidateLastTerm Term, candidateLastIndex LogIndex) bool {
	localTerm := r.logStore.LastTerm()
	localIndex := r.logStore.LastIndex()
	if candidateLastTerm != localTerm {
		return candidateLastTerm > localTerm
	}
	return candidateLastIndex >= localIndex
}

// vote is the RequestVote handler spec.md §4.4 describes.
func (r *Raft) vote(candidateID cluster.NodeID, candidateTerm Term, lastLogIndex LogIndex, lastLogTerm Term) (Term, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	current := Term(r.currentTerm.Load())
	if candidateTerm < current {
		return current, false
	}
	if candidateTerm > current {
		r.stepDown(candidateTerm)
		current = candidateTerm
		if err := r.persistTermAndVote(current, r.votedFor.Load()); err != nil {
			r.logger.Printf("failed to persist term on vote: %v", err)
		}
	}

	voted := r.votedFor.Load()
	if !voted.IsZero() && voted != candidateID {
		return current, false
	}
	if !r.upToDate(lastLogTerm, lastLogIndex) {
		return current, false
	}

	r.votedFor.Store(candidateID)
	if err := r.persistTermAndVote(current, candidateID); err != nil {
		r.logger.Printf("failed to persist vote: %v", err)
		return current, false
	}
	r.resetElectionTimer()
	return current, true
}

// preVote is vote's non-mutating sibling: identical predicate, but never
// touches currentTerm or votedFor.
func (r *Raft) preVote(nextTerm Term, lastLogIndex LogIndex, lastLogTerm Term) (Term, bool) {
	current := Term(r.currentTerm.Load())
	if nextTerm < current {
		return current, false
	}
	return current, r.upToDate(lastLogTerm, lastLogIndex)
}

// appendEntries is the AppendEntries handler.
func (r *Raft) appendEntries(leaderID cluster.NodeID, leaderTerm Term, prevLogIndex LogIndex, prevLogTerm Term, entries []*Entry, leaderCommit LogIndex) (Term, bool) {
	r.mu.Lock()
	current := Term(r.currentTerm.Load())
	if leaderTerm < current {
		r.mu.Unlock()
		return current, false
	}
	if leaderTerm > current || r.getRole() != RoleFollower {
		r.stepDown(leaderTerm)
		current = leaderTerm
		if err := r.persistTermAndVote(current, r.votedFor.Load()); err != nil {
			r.logger.Printf("failed to persist term on appendEntries: %v", err)
		}
	}
	r.leaderHint.Store(leaderID)
	r.resetElectionTimer()
	r.mu.Unlock()

	if prevLogIndex > 0 {
		prev, err := r.logStore.GetEntry(prevLogIndex)
		if err != nil || prev.Term != prevLogTerm {
			return current, false
		}
	}

	if len(entries) > 0 {
		staged, err := r.bufferedStage(entries)
		if err != nil {
			r.logger.Printf("failed to stage entries: %v", err)
			return current, false
		}
		if err := r.logStore.DeleteRange(staged[0].Index, r.logStore.LastIndex()); err != nil {
			r.logger.Printf("failed to truncate conflicting suffix: %v", err)
			return current, false
		}
		if err := r.logStore.AppendEntries(staged); err != nil {
			r.logger.Printf("failed to append entries: %v", err)
			return current, false
		}
		entries = staged
	}

	lastNew := lastNewIndex(prevLogIndex, entries)
	newCommit := leaderCommit
	if lastNew < newCommit {
		newCommit = lastNew
	}
	r.commitIndex.AdvanceTo(uint64(newCommit))
	r.applyCommitted()

	return current, true
}

func lastNewIndex(prevLogIndex LogIndex, entries []*Entry) LogIndex {
	if len(entries) == 0 {
		return prevLogIndex
	}
	return entries[len(entries)-1].Index
}

// applyCommitted feeds every entry between lastApplied and commitIndex to
// the FSM, in order.
func (r *Raft) applyCommitted() {
	commit := r.commitIndex.Load()
	for {
		applied := r.lastApplied.Load()
		if applied >= commit {
			return
		}
		next := applied + 1
		entry, err := r.logStore.GetEntry(LogIndex(next))
		if err != nil {
			r.logger.Printf("applyCommitted: missing entry %d: %v", next, err)
			return
		}
		if !r.lastApplied.CompareAndSwap(applied, next) {
			continue
		}
		if entry.Kind == EntryUser {
			select {
			case r.fsmUpdateCh <- fsmUpdate{cmd: entry.Payload}:
			case <-r.shutdownCh:
				return
			}
		}
	}
}

// installSnapshot is the InstallSnapshot handler.
func (r *Raft) installSnapshot(leaderID cluster.NodeID, leaderTerm Term, lastIncludedIndex LogIndex, lastIncludedTerm Term, data []byte) (Term, bool) {
	r.mu.Lock()
	current := Term(r.currentTerm.Load())
	if leaderTerm < current {
		r.mu.Unlock()
		return current, false
	}
	if leaderTerm > current || r.getRole() != RoleFollower {
		r.stepDown(leaderTerm)
		current = leaderTerm
		if err := r.persistTermAndVote(current, r.votedFor.Load()); err != nil {
			r.logger.Printf("failed to persist term on installSnapshot: %v", err)
		}
	}
	r.leaderHint.Store(leaderID)
	r.resetElectionTimer()
	r.mu.Unlock()

	sink, err := r.snapStore.Create(lastIncludedIndex, lastIncludedTerm, int64(len(data)))
	if err != nil {
		r.logger.Printf("installSnapshot: failed to create sink: %v", err)
		return current, false
	}
	if _, err := sink.Write(data); err != nil {
		r.logger.Printf("installSnapshot: failed to write snapshot: %v", err)
		return current, false
	}
	if err := sink.Close(); err != nil {
		r.logger.Printf("installSnapshot: failed to close snapshot: %v", err)
		return current, false
	}

	if err := r.logStore.DeleteRange(1, lastIncludedIndex); err != nil {
		r.logger.Printf("installSnapshot: failed to truncate log through snapshot: %v", err)
		return current, false
	}
	r.commitIndex.AdvanceTo(uint64(lastIncludedIndex))
	r.lastApplied.Store(uint64(lastIncludedIndex))
	return current, true
}

// resign is the leader-initiated "Leader -> Follower" transition.
func (r *Raft) resign() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.getRole() != RoleLeader {
		return false
	}
	r.setRole(RoleFollower)
	return true
}

// announceInterval is how often runAnnounce calls announce. It runs
// independently of role so a Follower or Candidate node is still
// discoverable by new joiners, not only a Leader.
const announceInterval = 10 * time.Second

// runAnnounce ticks announce on a schedule for the lifetime of the node,
// started once from Start alongside runFSM and run.
func (r *Raft) runAnnounce() {
	ticker := time.NewTicker(announceInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			r.announce()
		case <-r.shutdownCh:
			return
		}
	}
}

// announce periodically broadcasts this node's identity and address so
// dynamic joiners can discover it; a no-op against a static registry.
func (r *Raft) announce() {
	dyn, ok := r.registry.(*cluster.DynamicCluster)
	if !ok {
		return
	}
	if err := dyn.Announce(); err != nil {
		r.logger.Printf("announce failed: %v", err)
	}
}

// resetElectionTimer pings a blocked follower/candidate run loop. It is a
// non-blocking send: if no one is listening, the loop will pick up the
// latest leaderHint/term on its next iteration regardless.
func (r *Raft) resetElectionTimer() {
	select {
	case r.resetTimerCh <- struct{}{}:
	default:
	}
}

func (r *Raft) randomElectionTimeout() time.Duration {
	minD, maxD := r.opts.MinElectionTimeout, r.opts.MaxElectionTimeout
	if maxD <= minD {
		return minD
	}
	spread := maxD - minD
	return minD + time.Duration(pseudoJitter(int64(spread)))
}

// pseudoJitter derives a bounded jitter value from the wall clock's
// nanosecond reading rather than math/rand, so election timers on many nodes colocated on one
// machine never contend on a shared PRNG lock.
func pseudoJitter(bound int64) int64 {
	if bound <= 0 {
		return 0
	}
	return time.Now().UnixNano() % bound
}
