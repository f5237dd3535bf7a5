package raft

import (
	"context"
	"time"

	"github.com/raftbus/raft/cluster"
)

// follower runs the election timer: if no leader contact resets it before
// it fires, the node becomes a Candidate. Leader contact is reported by
// appendEntries/installSnapshot calling resetElectionTimer from whatever
// dispatcher goroutine handled the RPC, so the timer reset here is a
// reaction to a signal, never a timer the follower owns alone.
type follower struct {
	*Raft
}

func (f *follower) tag() RoleTag { return RoleFollower }

func (f *follower) runState() {
	timer := time.NewTimer(f.randomElectionTimeout())
	defer timer.Stop()

	for f.getRole() == RoleFollower {
		select {
		case <-timer.C:
			if !f.preVoteQuorum() {
				f.logger.Printf("pre-vote did not reach quorum; staying follower")
				timer.Reset(f.randomElectionTimeout())
				break
			}
			f.logger.Printf("election timeout with no leader contact; becoming candidate")
			f.setRole(RoleCandidate)
			return
		case <-f.resetTimerCh:
			timer.Reset(f.randomElectionTimeout())
		case task := <-f.applyCh:
			f.handleStrayApply(task)
		case <-f.stateCh:
		case <-f.shutdownCh:
			return
		}
	}
}

// handleStrayApply answers an Apply that raced the role transition: by the
// time it reached the channel this node was no longer Leader.
func (f *follower) handleStrayApply(task *logTask) {
	task.respond(f.leaderError())
}

// preVoteQuorum runs the advisory PreVote round spec.md §4.4 describes: the
// same up-to-date predicate as a real election, but it never mutates term
// or votedFor on any participant, so a partitioned node that keeps timing
// out can't inflate terms across the cluster every time it retries.
func (f *follower) preVoteQuorum() bool {
	nextTerm := Term(f.currentTerm.Load()) + 1
	members := f.registry.All()
	needed := f.registry.Quorum() - 1
	if needed <= 0 {
		return true
	}

	results := make(chan bool, len(members))
	req := &PreVoteRequest{
		CandidateID:  f.id,
		NextTerm:     nextTerm,
		LastLogIndex: f.logStore.LastIndex(),
		LastLogTerm:  f.logStore.LastTerm(),
	}
	for _, m := range members {
		if m.ID == f.id {
			continue
		}
		go func(peer *cluster.Member) {
			ctx, cancel := context.WithTimeout(context.Background(), f.opts.RaftRPCTimeout)
			defer cancel()
			resp, err := f.transport.SendPreVote(ctx, peer, req)
			results <- err == nil && resp.WouldGrant
		}(m)
	}

	granted := 0
	for i := 0; i < len(members)-1; i++ {
		if <-results {
			granted++
			if granted >= needed {
				return true
			}
		}
	}
	return granted >= needed
}
