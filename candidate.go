package raft

import (
	"context"
	"time"

	"github.com/raftbus/raft/cluster"
)

// candidate runs a single election attempt: bump the term, vote for self,
// fan RequestVote out to every peer, and tally responses until either a
// majority is reached, the election timer lapses, or a higher term or a
// same-term AppendEntries demotes it back to Follower.
type candidate struct {
	*Raft
	electionTimer *time.Timer
	votesNeeded   int
	voteCh        chan voteResult
}

type voteResult struct {
	resp *VoteResponse
	err  error
}

func (c *candidate) tag() RoleTag { return RoleCandidate }

func (c *candidate) runState() {
	c.electionTimer = time.NewTimer(c.randomElectionTimeout())
	defer c.electionTimer.Stop()

	newTerm, self := c.startElection()
	c.logger.Printf("starting election for term %d", newTerm)
	c.sendVoteRequests(newTerm, self)
	if c.votesNeeded <= 0 {
		// Single-member cluster: the self-vote alone is a majority.
		c.logger.Printf("won election for term %d", newTerm)
		c.setRole(RoleLeader)
		return
	}

	for c.getRole() == RoleCandidate {
		select {
		case <-c.electionTimer.C:
			c.logger.Printf("election for term %d timed out with no majority", newTerm)
			return
		case v := <-c.voteCh:
			if v.err != nil {
				c.logger.Printf("a vote request failed: %v", v.err)
				break
			}
			c.handleVoteResponse(newTerm, v.resp)
		case task := <-c.applyCh:
			task.respond(c.leaderError())
		case <-c.stateCh:
		case <-c.shutdownCh:
			return
		}
	}
}

// startElection is the "Follower -> Candidate" critical section: bump the
// term, vote for self, and persist both before any RequestVote goes out.
func (c *candidate) startElection() (Term, cluster.NodeID) {
	c.mu.Lock()
	defer c.mu.Unlock()
	newTerm := Term(c.currentTerm.Load()) + 1
	c.currentTerm.Store(uint64(newTerm))
	c.votedFor.Store(c.id)
	if err := c.persistTermAndVote(newTerm, c.id); err != nil {
		c.logger.Printf("failed to persist election state: %v", err)
	}
	return newTerm, c.id
}

func (c *candidate) sendVoteRequests(term Term, self cluster.NodeID) {
	members := c.registry.All()
	c.voteCh = make(chan voteResult, len(members))
	c.votesNeeded = c.registry.Quorum() - 1 // self already counts

	req := &VoteRequest{
		CandidateID:  self,
		Term:         term,
		LastLogIndex: c.logStore.LastIndex(),
		LastLogTerm:  c.logStore.LastTerm(),
	}

	for _, m := range members {
		if m.ID == self {
			continue
		}
		go func(peer *cluster.Member) {
			ctx, cancel := context.WithTimeout(context.Background(), c.opts.RaftRPCTimeout)
			defer cancel()
			resp, err := c.transport.SendVoteRequest(ctx, peer, req)
			c.voteCh <- voteResult{resp: resp, err: err}
		}(m)
	}
}

func (c *candidate) handleVoteResponse(electionTerm Term, vote *VoteResponse) {
	if vote.Term > electionTerm {
		c.logger.Printf("demoting: saw term %d greater than election term %d", vote.Term, electionTerm)
		c.mu.Lock()
		c.stepDown(vote.Term)
		c.mu.Unlock()
		return
	}

	if vote.Granted {
		c.votesNeeded--
		if c.votesNeeded <= 0 {
			c.logger.Printf("won election for term %d", electionTerm)
			c.setRole(RoleLeader)
		}
	}
}
