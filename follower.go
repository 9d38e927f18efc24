package consensus

import "go.uber.org/zap"

// followerRole holds a randomised election timer and accepts AppendEntries
// from the current leader and RequestVote from candidates.
type followerRole struct {
	node *Node
}

func newFollowerRole(n *Node) *followerRole {
	f := &followerRole{node: n}
	n.resetElectionTimer(f.onElectionTimeout)
	return f
}

func (f *followerRole) name() string { return "follower" }

func (f *followerRole) stop() { f.node.stopElectionTimer() }

func (f *followerRole) onElectionTimeout() {
	n := f.node
	n.logger.Info("election timeout, becoming candidate",
		zap.String("id", n.id), zap.Uint64("term", n.currentTerm))
	n.transitionTo(newCandidateRole(n))
}

func (f *followerRole) onAppendEntries(args *AppendEntriesArgs, reply func(*AppendEntriesReply)) bool {
	n := f.node

	if args.Term < n.currentTerm {
		reply(&AppendEntriesReply{Term: n.currentTerm, Success: false})
		return true
	}

	persistedChanged := false
	if args.Term > n.currentTerm {
		n.currentTerm = args.Term
		n.votedFor = ""
		persistedChanged = true
	}

	n.leaderID = args.LeaderID
	n.resetElectionTimer(f.onElectionTimeout)

	if args.PrevLogIndex > 0 {
		if args.PrevLogIndex > n.log.Length() || n.log.TermAt(args.PrevLogIndex) != args.PrevLogTerm {
			conflictIndex, conflictTerm := f.conflictHint(args.PrevLogIndex)
			n.finishReply(persistedChanged, func() {
				reply(&AppendEntriesReply{
					Term:          n.currentTerm,
					Success:       false,
					ConflictIndex: conflictIndex,
					ConflictTerm:  conflictTerm,
				})
			})
			return true
		}
	}

	logChanged := f.mergeEntries(args.PrevLogIndex, args.Entries)
	persistedChanged = persistedChanged || logChanged

	if args.LeaderCommit > n.commitIndex {
		lastNew := args.PrevLogIndex + uint64(len(args.Entries))
		newCommit := args.LeaderCommit
		if lastNew < newCommit {
			newCommit = lastNew
		}
		n.commitIndex = newCommit
		n.applier.SetCommitIndex(newCommit)
		n.applier.MaybePersist()
	}

	n.finishReply(persistedChanged, func() {
		reply(&AppendEntriesReply{Term: n.currentTerm, Success: true})
	})
	return true
}

// mergeEntries truncates the log from the first conflicting index and
// appends the remainder of entries; it reports whether the log actually
// changed.
func (f *followerRole) mergeEntries(prevLogIndex uint64, entries []LogEntry) bool {
	n := f.node
	changed := false
	next := prevLogIndex + 1
	for i, entry := range entries {
		idx := next + uint64(i)
		switch {
		case idx <= n.log.Length():
			if n.log.TermAt(idx) != entry.Term {
				n.log.TruncateFrom(idx)
				n.log.Push(entry)
				changed = true
			}
		default:
			n.log.Push(entry)
			changed = true
		}
	}
	return changed
}

// conflictHint computes the ConflictIndex/ConflictTerm pair for a failed
// prevLogIndex/prevLogTerm check, letting the leader backtrack straight to
// the divergence point.
func (f *followerRole) conflictHint(prevLogIndex uint64) (index, term uint64) {
	n := f.node
	if prevLogIndex > n.log.Length() {
		return n.log.Length() + 1, 0
	}
	conflictTerm := n.log.TermAt(prevLogIndex)
	first := prevLogIndex
	for first > 1 && n.log.TermAt(first-1) == conflictTerm {
		first--
	}
	return first, conflictTerm
}

func (f *followerRole) onRequestVote(args *RequestVoteArgs, reply func(*RequestVoteReply)) bool {
	n := f.node

	if args.Term < n.currentTerm {
		reply(&RequestVoteReply{Term: n.currentTerm, VoteGranted: false})
		return true
	}

	persistedChanged := false
	if args.Term > n.currentTerm {
		n.currentTerm = args.Term
		n.votedFor = ""
		persistedChanged = true
	}

	canVote := n.votedFor == "" || n.votedFor == args.CandidateID
	logOK := args.LastLogTerm > n.log.LastTerm() ||
		(args.LastLogTerm == n.log.LastTerm() && args.LastLogIndex >= n.log.LastIndex())

	if !canVote || !logOK {
		n.finishReply(persistedChanged, func() {
			reply(&RequestVoteReply{Term: n.currentTerm, VoteGranted: false})
		})
		return true
	}

	n.votedFor = args.CandidateID
	n.resetElectionTimer(f.onElectionTimeout)
	n.finishReply(true, func() {
		reply(&RequestVoteReply{Term: n.currentTerm, VoteGranted: true})
	})
	return true
}
