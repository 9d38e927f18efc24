package consensus

import (
	"context"
	"time"

	"go.uber.org/zap"
)

type peerReplState struct {
	nextIndex  uint64
	matchIndex uint64
}

// leaderRole replicates the log to every peer, advances commitIndex under
// the term guard, and completes pending client commands once they clear
// quorum replication, application, and persistence.
type leaderRole struct {
	node *Node
	term uint64

	repl     map[string]*peerReplState
	inFlight map[string]bool

	ticker     *time.Ticker
	tickerDone chan struct{}
}

func newLeaderRole(n *Node) *leaderRole {
	l := &leaderRole{
		node:     n,
		term:     n.currentTerm,
		repl:     make(map[string]*peerReplState),
		inFlight: make(map[string]bool),
	}
	n.logger.Info("became leader", zap.String("id", n.id), zap.Uint64("term", l.term))
	n.leaderID = n.id
	n.stopElectionTimer()

	lastIndex := n.log.LastIndex()
	for _, p := range n.peerList() {
		l.repl[p.ID()] = &peerReplState{nextIndex: lastIndex + 1}
	}

	l.startHeartbeat()
	l.replicateAll()
	return l
}

func (l *leaderRole) name() string { return "leader" }

func (l *leaderRole) stop() {
	if l.tickerDone != nil {
		close(l.tickerDone)
	}
	l.node.failPending(notLeaderError(l.node.leaderID))
}

func (l *leaderRole) onElectionTimeout() {} // the leader holds no election timer

func (l *leaderRole) startHeartbeat() {
	n := l.node
	l.ticker = time.NewTicker(n.opts.HeartbeatInterval)
	l.tickerDone = make(chan struct{})
	ticker := l.ticker
	done := l.tickerDone
	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				n.enqueue(func() {
					if n.role != l {
						return
					}
					l.replicateAll()
				})
			case <-done:
				return
			case <-n.stopCh:
				return
			}
		}
	}()
}

func (l *leaderRole) replicateAll() {
	for _, p := range l.node.peerList() {
		l.replicateTo(p)
	}
}

// pokeReplication nudges any peer already caught up on heartbeats but
// lagging the freshly grown log, without waiting for the next tick.
func (l *leaderRole) pokeReplication() {
	for _, p := range l.node.peerList() {
		if st := l.repl[p.ID()]; st != nil && st.nextIndex <= l.node.log.LastIndex() {
			l.replicateTo(p)
		}
	}
}

func (l *leaderRole) replicateTo(p *Peer) {
	n := l.node
	if l.inFlight[p.ID()] {
		return
	}
	st := l.repl[p.ID()]
	if st == nil {
		return
	}

	prevIndex := st.nextIndex - 1
	prevTerm := n.log.TermAt(prevIndex)
	entries := n.log.EntriesFrom(st.nextIndex)
	entriesCopy := make([]LogEntry, len(entries))
	copy(entriesCopy, entries)

	args := &AppendEntriesArgs{
		Term:         l.term,
		LeaderID:     n.id,
		PrevLogIndex: prevIndex,
		PrevLogTerm:  prevTerm,
		Entries:      entriesCopy,
		LeaderCommit: n.commitIndex,
	}

	l.inFlight[p.ID()] = true
	ctx, cancel := context.WithTimeout(context.Background(), n.opts.HeartbeatInterval*4)
	peer := p
	go func() {
		defer cancel()
		var reply AppendEntriesReply
		err := peer.Invoke(ctx, RPCAppendEntries, args, &reply)
		n.enqueue(func() {
			l.inFlight[peer.ID()] = false
			if n.role != l || n.currentTerm != l.term {
				return
			}
			if err != nil {
				n.logger.Debug("appendentries transport error", zap.String("peer", peer.ID()), zap.Error(err))
				return
			}
			l.handleReply(peer.ID(), args, &reply)
		})
	}()
}

func (l *leaderRole) handleReply(peerID string, args *AppendEntriesArgs, reply *AppendEntriesReply) {
	n := l.node
	if reply.Term > n.currentTerm {
		n.stepDownTo(reply.Term)
		return
	}
	st := l.repl[peerID]
	if st == nil {
		return
	}

	if reply.Success {
		newMatch := args.PrevLogIndex + uint64(len(args.Entries))
		if newMatch > st.matchIndex {
			st.matchIndex = newMatch
		}
		if newMatch+1 > st.nextIndex {
			st.nextIndex = newMatch + 1
		}
		l.advanceCommitIndex()
		if peer := n.peers[peerID]; peer != nil && st.nextIndex <= n.log.LastIndex() {
			l.replicateTo(peer)
		}
		return
	}

	switch {
	case reply.ConflictTerm != 0:
		if idx := n.log.lastIndexOfTerm(reply.ConflictTerm); idx > 0 {
			st.nextIndex = idx + 1
		} else {
			st.nextIndex = reply.ConflictIndex
		}
	case reply.ConflictIndex != 0:
		st.nextIndex = reply.ConflictIndex
	default:
		if st.nextIndex > 1 {
			st.nextIndex--
		}
	}
	if st.nextIndex < 1 {
		st.nextIndex = 1
	}
}

// advanceCommitIndex implements the term-guarded commit rule: an index is
// only committed by majority replication when its entry belongs to this
// leader's own term. Because matchIndex per peer only grows, the count of
// peers satisfying matchIndex >= idx is non-increasing as idx grows, so
// the scan can stop at the first term-matching index that fails quorum.
func (l *leaderRole) advanceCommitIndex() {
	n := l.node
	for idx := n.commitIndex + 1; idx <= n.log.LastIndex(); idx++ {
		if n.log.TermAt(idx) != l.term {
			continue
		}
		count := 1 // self
		for _, st := range l.repl {
			if st.matchIndex >= idx {
				count++
			}
		}
		if count < n.quorum() {
			break
		}
		n.commitIndex = idx
	}
	n.applier.SetCommitIndex(n.commitIndex)
	n.applier.MaybePersist()
	n.markQuorum(n.commitIndex)
}

func (l *leaderRole) onAppendEntries(args *AppendEntriesArgs, reply func(*AppendEntriesReply)) bool {
	n := l.node
	if args.Term <= n.currentTerm {
		reply(&AppendEntriesReply{Term: n.currentTerm, Success: false})
		return true
	}
	n.transitionTo(newFollowerRole(n))
	return false
}

func (l *leaderRole) onRequestVote(args *RequestVoteArgs, reply func(*RequestVoteReply)) bool {
	n := l.node
	if args.Term <= n.currentTerm {
		reply(&RequestVoteReply{Term: n.currentTerm, VoteGranted: false})
		return true
	}
	n.transitionTo(newFollowerRole(n))
	return false
}
