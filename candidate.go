package consensus

import (
	"context"

	"go.uber.org/zap"
)

// candidateRole runs one election at a time; onElectionTimeout starts a
// fresh one (new term) if the previous did not reach a majority.
type candidateRole struct {
	node *Node

	term      uint64
	votes     int
	broadcast *Broadcast[*RequestVoteArgs, RequestVoteReply]
	cancel    context.CancelFunc
}

func newCandidateRole(n *Node) *candidateRole {
	c := &candidateRole{node: n}
	c.startElection()
	return c
}

func (c *candidateRole) name() string { return "candidate" }

func (c *candidateRole) stop() {
	c.node.stopElectionTimer()
	if c.broadcast != nil {
		c.broadcast.Cancel()
	}
	if c.cancel != nil {
		c.cancel()
	}
}

func (c *candidateRole) startElection() {
	n := c.node
	n.currentTerm++
	n.votedFor = n.id
	c.term = n.currentTerm
	c.votes = 1 // self

	n.resetElectionTimer(c.onElectionTimeout)

	n.logger.Info("starting election", zap.String("id", n.id), zap.Uint64("term", c.term))
	n.persistMeta(c.broadcastRequestVote)
}

func (c *candidateRole) broadcastRequestVote() {
	n := c.node
	if n.role != c || n.currentTerm != c.term {
		return // superseded during the persist suspension point
	}

	args := &RequestVoteArgs{
		Term:         c.term,
		CandidateID:  n.id,
		LastLogIndex: n.log.LastIndex(),
		LastLogTerm:  n.log.LastTerm(),
	}

	ctx, cancel := context.WithCancel(context.Background())
	c.cancel = cancel
	b := NewBroadcast[*RequestVoteArgs, RequestVoteReply](RPCRequestVote, args)
	c.broadcast = b

	peers := n.peerList()
	b.Send(ctx, peers, func(peerID string, reply RequestVoteReply, err error) {
		n.enqueue(func() { c.handleVoteReply(peerID, reply, err) })
	})

	if c.votes >= n.quorum() {
		n.transitionTo(newLeaderRole(n))
	}
}

func (c *candidateRole) handleVoteReply(peerID string, reply RequestVoteReply, err error) {
	n := c.node
	if n.role != c || n.currentTerm != c.term {
		return // stale: role changed or term moved on since the request was sent
	}
	if err != nil {
		n.logger.Debug("requestvote transport error", zap.String("peer", peerID), zap.Error(err))
		return
	}
	if reply.Term > n.currentTerm {
		n.stepDownTo(reply.Term)
		return
	}
	if !reply.VoteGranted {
		return
	}
	c.votes++
	if c.votes >= n.quorum() {
		n.transitionTo(newLeaderRole(n))
	}
}

func (c *candidateRole) onElectionTimeout() {
	n := c.node
	n.logger.Info("election timed out without majority, restarting",
		zap.String("id", n.id), zap.Uint64("term", n.currentTerm))
	if c.broadcast != nil {
		c.broadcast.Cancel()
	}
	if c.cancel != nil {
		c.cancel()
	}
	c.startElection()
}

func (c *candidateRole) onAppendEntries(args *AppendEntriesArgs, reply func(*AppendEntriesReply)) bool {
	n := c.node
	if args.Term < n.currentTerm {
		reply(&AppendEntriesReply{Term: n.currentTerm, Success: false})
		return true
	}
	// A leader exists for a term at least as high as ours: revert to
	// Follower and let it evaluate this AppendEntries from scratch.
	n.transitionTo(newFollowerRole(n))
	return false
}

func (c *candidateRole) onRequestVote(args *RequestVoteArgs, reply func(*RequestVoteReply)) bool {
	n := c.node
	if args.Term > n.currentTerm {
		n.transitionTo(newFollowerRole(n))
		return false
	}
	// Equal or lower term: we already voted for ourselves this term (or
	// the request is stale).
	reply(&RequestVoteReply{Term: n.currentTerm, VoteGranted: false})
	return true
}
