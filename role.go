package consensus

// role is the handler surface every Idle/Follower/Candidate/Leader
// variant implements. onAppendEntries and onRequestVote return false when
// the role does not handle the RPC itself (e.g. because it just stepped
// down): the Node then immediately re-dispatches to the newly current
// role, and the deferred-handler-until-next-transition rule holds by
// construction. Idle never gets its handlers called at all — the Node
// queues every inbound RPC until persisted state has loaded — so its
// implementations exist only to satisfy this interface.
type role interface {
	name() string
	stop()
	onElectionTimeout()
	onAppendEntries(args *AppendEntriesArgs, reply func(*AppendEntriesReply)) (handled bool)
	onRequestVote(args *RequestVoteArgs, reply func(*RequestVoteReply)) (handled bool)
}
