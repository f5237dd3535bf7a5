package raft

import "github.com/raftbus/raft/cluster"

// RoleTag is the discriminant of the Role tagged variant. Standby is the
// pre-start quiescent role: it participates in no elections.
type RoleTag uint8

const (
	RoleStandby RoleTag = iota
	RoleFollower
	RoleCandidate
	RoleLeader
)

func (r RoleTag) String() string {
	switch r {
	case RoleStandby:
		return "Standby"
	case RoleFollower:
		return "Follower"
	case RoleCandidate:
		return "Candidate"
	case RoleLeader:
		return "Leader"
	default:
		return "Unknown"
	}
}

// state is the interface every role's run loop satisfies, mirroring the
// teacher's candidate/leader embedding pattern: each role embeds *Raft and
// implements its own runState, and the outer run() loop re-dispatches to
// whichever role the node transitioned into.
type state interface {
	tag() RoleTag
	runState()
}

func (r *Raft) stateFor(tag RoleTag) state {
	switch tag {
	case RoleFollower:
		return &follower{Raft: r}
	case RoleCandidate:
		return &candidate{Raft: r}
	case RoleLeader:
		return &leader{Raft: r}
	default:
		return &standby{Raft: r}
	}
}

// setRole performs the single critical-section transition spec.md §5
// requires: atomically swap the role tag and notify the run loop so a
// blocked role implementation can observe the change and return promptly.
func (r *Raft) setRole(tag RoleTag) {
	r.role.Store(tag)
	select {
	case r.stateCh <- tag:
	default:
	}
}

func (r *Raft) getRole() RoleTag {
	return r.role.Load()
}

// stepDown is the atomic "observe higher term -> become Follower -> clear
// votedFor" transition spec.md §4.4/§5 demands be a single critical
// section. It resets no timer itself; a role change makes the run loop
// start the Follower loop, which arms its own. Callers must hold r.mu.
func (r *Raft) stepDown(term Term) {
	r.currentTerm.Store(uint64(term))
	r.votedFor.Store(cluster.Zero)
	if r.getRole() != RoleFollower {
		r.setRole(RoleFollower)
	}
}
