package consensus

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/raftkit/consensus/storage"
)

// pendingCommand tracks one client-proposed command until it clears all
// three completion preconditions: quorum replication, application, and
// persistence.
type pendingCommand struct {
	persisted bool
	quorum    bool
	applied   bool
	done      func(error)
}

type pendingAppendEntries struct {
	args  *AppendEntriesArgs
	reply func(*AppendEntriesReply)
}

type pendingRequestVote struct {
	args  *RequestVoteArgs
	reply func(*RequestVoteReply)
}

// Node coordinates one participant's common state, its peer set, its log
// applier, and its currently active role. All mutation of this state, and
// every role transition, happens on a single goroutine (the event loop
// started by Start); everything else — timers, peer RPCs, persistence
// calls — runs on its own goroutine and re-enters the loop by posting a
// closure onto loopCh. This realises the single logical execution context
// the protocol requires without a shared mutex.
type Node struct {
	id     string
	opts   Options
	logger *zap.Logger

	leaderID    string
	commitIndex uint64

	currentTerm uint64
	votedFor    string
	log         *Log

	peers   map[string]*Peer
	applier *LogApplier
	role    role
	loaded  bool

	pendingCommands      map[uint64]*pendingCommand
	pendingAppendEntries []pendingAppendEntries
	pendingRequestVote   []pendingRequestVote

	onAppliedObservers []func(index uint64)
	onErrorObservers   []func(error)

	loopCh    chan func()
	stopCh    chan struct{}
	stoppedCh chan struct{}
	stopOnce  sync.Once

	electionTimer    *time.Timer
	electionTimerGen uint64
}

// NewNode validates opts and returns a Node in its initial Idle role. Call
// Start to begin loading persisted state and running the event loop.
func NewNode(opts Options) (*Node, error) {
	if err := opts.setDefaults(); err != nil {
		return nil, err
	}
	n := &Node{
		id:              opts.ID,
		opts:            opts,
		logger:          opts.Logger,
		log:             NewLog(),
		peers:           make(map[string]*Peer),
		pendingCommands: make(map[uint64]*pendingCommand),
		loopCh:          make(chan func(), 64),
		stopCh:          make(chan struct{}),
		stoppedCh:       make(chan struct{}),
	}
	n.role = newIdleRole(n)
	return n, nil
}

// ID returns the node's stable identity.
func (n *Node) ID() string { return n.id }

// OnApplied registers an observer called whenever an entry is applied.
// Register before Start; the loop does not synchronise this slice.
func (n *Node) OnApplied(fn func(index uint64)) {
	n.onAppliedObservers = append(n.onAppliedObservers, fn)
}

// OnError registers an observer called whenever a persistence or
// unrecognised-RPC error occurs. Register before Start.
func (n *Node) OnError(fn func(err error)) {
	n.onErrorObservers = append(n.onErrorObservers, fn)
}

// Start begins loading persisted state and launches the event loop.
func (n *Node) Start(context.Context) error {
	go n.loop()
	n.enqueue(n.load)
	return nil
}

// Stop tears down the current role and stops the event loop, waiting for
// it to finish or ctx to expire.
func (n *Node) Stop(ctx context.Context) error {
	n.stopOnce.Do(func() { close(n.stopCh) })
	select {
	case <-n.stoppedCh:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Join adds a peer to the fixed cluster set. It is bootstrap wiring, not a
// runtime membership-change protocol: the peer set is expected to be
// assembled once, before or shortly after Start. The addition is queued on
// the event loop without waiting for it, so a Join made before Start takes
// effect as soon as the loop runs, ahead of the persisted-state load.
func (n *Node) Join(ctx context.Context, p *Peer) error {
	n.enqueue(func() {
		n.peers[p.ID()] = p
		if lr, ok := n.role.(*leaderRole); ok {
			if _, exists := lr.repl[p.ID()]; !exists {
				lr.repl[p.ID()] = &peerReplState{nextIndex: n.log.LastIndex() + 1}
			}
		}
	})
	return p.Connect(ctx)
}

// Command proposes cmd to the cluster. It returns once the entry has
// cleared quorum replication, application, and persistence, or ctx
// expires, or the node is not the leader.
func (n *Node) Command(ctx context.Context, cmd any) error {
	resCh := make(chan error, 1)
	n.enqueue(func() {
		lr, ok := n.role.(*leaderRole)
		if !ok {
			resCh <- notLeaderError(n.leaderID)
			return
		}

		index := n.log.Push(LogEntry{Term: n.currentTerm, Command: cmd})
		pc := &pendingCommand{done: func(err error) { resCh <- err }}
		n.pendingCommands[index] = pc

		n.persistMeta(func() {
			pc.persisted = true
			n.checkPending(index)
		})
		lr.pokeReplication()
		// Covers the zero-peer cluster: with no peers to reply, nothing
		// else would ever re-run the commit-advance scan for this index.
		lr.advanceCommitIndex()
	})

	select {
	case err := <-resCh:
		return err
	case <-ctx.Done():
		return ctx.Err()
	case <-n.stopCh:
		return notLeaderError(n.leaderID)
	}
}

// IsLeader reports whether this node currently believes itself the
// leader. It is a point-in-time snapshot: by the time the caller acts on
// it, the answer may already be stale.
func (n *Node) IsLeader() bool {
	resCh := make(chan bool, 1)
	n.enqueue(func() {
		_, ok := n.role.(*leaderRole)
		resCh <- ok
	})
	select {
	case v := <-resCh:
		return v
	case <-n.stopCh:
		return false
	}
}

// Status is a point-in-time snapshot of a Node's common state, useful for
// status endpoints and tests.
type Status struct {
	ID          string
	Role        string
	Term        uint64
	CommitIndex uint64
	LastApplied uint64
	LastIndex   uint64
	LeaderID    string
}

// Status returns a snapshot of the node's current common state.
func (n *Node) Status(ctx context.Context) (Status, error) {
	resCh := make(chan Status, 1)
	n.enqueue(func() {
		resCh <- Status{
			ID:          n.id,
			Role:        n.role.name(),
			Term:        n.currentTerm,
			CommitIndex: n.commitIndex,
			LastApplied: n.applier.LastApplied(),
			LastIndex:   n.log.LastIndex(),
			LeaderID:    n.leaderID,
		}
	})
	select {
	case s := <-resCh:
		return s, nil
	case <-ctx.Done():
		return Status{}, ctx.Err()
	case <-n.stopCh:
		return Status{}, errors.New("consensus: node stopped")
	}
}

// HandleAppendEntries is the inbound entrypoint a transport calls when a
// peer sends this node an AppendEntries RPC.
func (n *Node) HandleAppendEntries(ctx context.Context, args *AppendEntriesArgs) (*AppendEntriesReply, error) {
	resCh := make(chan *AppendEntriesReply, 1)
	n.enqueue(func() {
		n.dispatchAppendEntries(args, func(r *AppendEntriesReply) { resCh <- r })
	})
	select {
	case r := <-resCh:
		return r, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-n.stopCh:
		return nil, errors.New("consensus: node stopped")
	}
}

// HandleRequestVote is the inbound entrypoint a transport calls when a
// peer sends this node a RequestVote RPC.
func (n *Node) HandleRequestVote(ctx context.Context, args *RequestVoteArgs) (*RequestVoteReply, error) {
	resCh := make(chan *RequestVoteReply, 1)
	n.enqueue(func() {
		n.dispatchRequestVote(args, func(r *RequestVoteReply) { resCh <- r })
	})
	select {
	case r := <-resCh:
		return r, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-n.stopCh:
		return nil, errors.New("consensus: node stopped")
	}
}

// HandleRPC is the generic form of the peer-invoked RPC contract, for
// transports that multiplex by a type tag rather than exposing typed
// endpoints. It returns UnknownRpc for anything but AppendEntries and
// RequestVote.
func (n *Node) HandleRPC(ctx context.Context, rpcType RPCType, args any) (any, error) {
	switch rpcType {
	case RPCAppendEntries:
		a, ok := args.(*AppendEntriesArgs)
		if !ok {
			return nil, fmt.Errorf("consensus: HandleRPC: bad args type %T for AppendEntries", args)
		}
		return n.HandleAppendEntries(ctx, a)
	case RPCRequestVote:
		a, ok := args.(*RequestVoteArgs)
		if !ok {
			return nil, fmt.Errorf("consensus: HandleRPC: bad args type %T for RequestVote", args)
		}
		return n.HandleRequestVote(ctx, a)
	default:
		err := unknownRPCError(rpcType)
		n.emitError(err)
		return nil, err
	}
}

// enqueue posts fn to the event loop. Safe to call from any goroutine,
// including the loop goroutine itself.
func (n *Node) enqueue(fn func()) {
	select {
	case n.loopCh <- fn:
	case <-n.stopCh:
	}
}

func (n *Node) loop() {
	defer close(n.stoppedCh)
	for {
		select {
		case fn := <-n.loopCh:
			fn()
		case outcome := <-n.applier.resultChOrNil():
			n.applier.HandleResult(outcome, n.onApplierApplied, n.onApplierError)
		case <-n.stopCh:
			n.role.stop()
			return
		}
	}
}

// load fetches persisted meta and the last-applied marker concurrently and
// merges them once both complete, per the "parallel persistence load"
// rule; ordering between the two calls has no semantic effect.
func (n *Node) load() {
	var (
		meta           storage.Meta
		metaErr        error
		lastApplied    uint64
		lastAppliedErr error
		wg             sync.WaitGroup
	)
	wg.Add(2)
	go func() {
		defer wg.Done()
		meta, metaErr = n.opts.Persistence.LoadMeta(n.id)
	}()
	go func() {
		defer wg.Done()
		lastApplied, lastAppliedErr = n.opts.Persistence.LastAppliedCommitIndex(n.id)
	}()
	go func() {
		wg.Wait()
		n.enqueue(func() { n.finishLoad(meta, metaErr, lastApplied, lastAppliedErr) })
	}()
}

func (n *Node) finishLoad(meta storage.Meta, metaErr error, lastApplied uint64, lastAppliedErr error) {
	if metaErr != nil {
		n.emitError(persistenceError(metaErr))
		return
	}
	if lastAppliedErr != nil {
		n.emitError(persistenceError(lastAppliedErr))
		return
	}

	n.currentTerm = meta.CurrentTerm
	n.votedFor = meta.VotedFor
	n.log.Replace(meta.Log)
	n.applier = NewLogApplier(n.id, n.opts.Persistence, n.log, lastApplied, n.logger)
	n.loaded = true

	n.logger.Info("persisted state loaded",
		zap.String("id", n.id), zap.Uint64("term", n.currentTerm), zap.Uint64("lastApplied", lastApplied))

	n.transitionTo(newFollowerRole(n))
	n.drainPending()
}

func (n *Node) dispatchAppendEntries(args *AppendEntriesArgs, reply func(*AppendEntriesReply)) {
	if !n.loaded {
		n.pendingAppendEntries = append(n.pendingAppendEntries, pendingAppendEntries{args, reply})
		return
	}
	if !n.role.onAppendEntries(args, reply) {
		n.role.onAppendEntries(args, reply)
	}
}

func (n *Node) dispatchRequestVote(args *RequestVoteArgs, reply func(*RequestVoteReply)) {
	if !n.loaded {
		n.pendingRequestVote = append(n.pendingRequestVote, pendingRequestVote{args, reply})
		return
	}
	if !n.role.onRequestVote(args, reply) {
		n.role.onRequestVote(args, reply)
	}
}

func (n *Node) drainPending() {
	ae := n.pendingAppendEntries
	n.pendingAppendEntries = nil
	for _, p := range ae {
		n.dispatchAppendEntries(p.args, p.reply)
	}

	rv := n.pendingRequestVote
	n.pendingRequestVote = nil
	for _, p := range rv {
		n.dispatchRequestVote(p.args, p.reply)
	}
}

// transitionTo stops the current role and installs r as the new one. Per
// the ordering guarantee, stop is synchronous: the old role emits no
// further effects once this returns.
func (n *Node) transitionTo(r role) {
	from := n.role.name()
	n.role.stop()
	n.role = r
	n.logger.Info("role transition",
		zap.String("id", n.id), zap.String("from", from), zap.String("to", r.name()), zap.Uint64("term", n.currentTerm))
}

// stepDownTo adopts a higher term learned from a peer response and
// reverts to Follower. Unlike finishReply, nothing is waiting on this
// persist to reply to a peer, so it is fire-and-forget; failures still
// surface via the error observer.
func (n *Node) stepDownTo(term uint64) {
	if term <= n.currentTerm {
		return
	}
	n.currentTerm = term
	n.votedFor = ""
	n.transitionTo(newFollowerRole(n))
	n.persistMeta(func() {})
}

// finishReply persists (currentTerm, votedFor, log) before invoking fn
// when changed is true; otherwise fn already reflects already-durable
// state and runs immediately. If the persist fails, fn is never called:
// the peer's RPC receives no reply and will time out and retry, per the
// "no reply without durability" propagation rule.
func (n *Node) finishReply(changed bool, fn func()) {
	if !changed {
		fn()
		return
	}
	n.persistMeta(fn)
}

func (n *Node) persistMeta(onSuccess func()) {
	meta := storage.Meta{CurrentTerm: n.currentTerm, VotedFor: n.votedFor, Log: n.log.Snapshot()}
	go func() {
		err := n.opts.Persistence.SaveMeta(n.id, meta)
		n.enqueue(func() {
			if err != nil {
				n.emitError(persistenceError(err))
				return
			}
			onSuccess()
		})
	}()
}

func (n *Node) onApplierApplied(index uint64) {
	n.markApplied(index)
	n.notifyApplied(index)
}

func (n *Node) onApplierError(err error) {
	n.emitError(err)
}

func (n *Node) checkPending(index uint64) {
	pc, ok := n.pendingCommands[index]
	if !ok {
		return
	}
	if pc.persisted && pc.quorum && pc.applied {
		delete(n.pendingCommands, index)
		pc.done(nil)
	}
}

func (n *Node) markQuorum(uptoIndex uint64) {
	for idx, pc := range n.pendingCommands {
		if idx <= uptoIndex && !pc.quorum {
			pc.quorum = true
			n.checkPending(idx)
		}
	}
}

func (n *Node) markApplied(uptoIndex uint64) {
	for idx, pc := range n.pendingCommands {
		if idx <= uptoIndex && !pc.applied {
			pc.applied = true
			n.checkPending(idx)
		}
	}
}

// failPending completes every still-pending command with err. Called when
// a leader steps down: proposals in flight cannot be honoured by a role
// that no longer holds leadership.
func (n *Node) failPending(err error) {
	for idx, pc := range n.pendingCommands {
		delete(n.pendingCommands, idx)
		pc.done(err)
	}
}

func (n *Node) notifyApplied(index uint64) {
	n.logger.Debug("applied log", zap.String("id", n.id), zap.Uint64("index", index))
	for _, fn := range n.onAppliedObservers {
		fn(index)
	}
}

func (n *Node) emitError(err error) {
	n.logger.Error("raft error", zap.String("id", n.id), zap.Error(err))
	for _, fn := range n.onErrorObservers {
		fn(err)
	}
}

// quorum returns the majority size for the current cluster (peers plus
// self): ceil((N+1)/2), equivalently floor(N/2)+1.
func (n *Node) quorum() int {
	total := len(n.peers) + 1
	return total/2 + 1
}

func (n *Node) peerList() []*Peer {
	list := make([]*Peer, 0, len(n.peers))
	for _, p := range n.peers {
		list = append(list, p)
	}
	return list
}

func (n *Node) resetElectionTimer(onTimeout func()) {
	n.stopElectionTimer()
	d := n.randomElectionTimeout()
	n.electionTimerGen++
	gen := n.electionTimerGen
	n.electionTimer = time.AfterFunc(d, func() {
		n.enqueue(func() {
			if n.electionTimerGen != gen {
				return // superseded by a later reset or stop
			}
			onTimeout()
		})
	})
}

func (n *Node) stopElectionTimer() {
	n.electionTimerGen++
	if n.electionTimer != nil {
		n.electionTimer.Stop()
		n.electionTimer = nil
	}
}

func (n *Node) randomElectionTimeout() time.Duration {
	min := n.opts.MinElectionTimeout
	max := n.opts.MaxElectionTimeout
	if max <= min {
		return min
	}
	return min + time.Duration(n.opts.Rand.Int63n(int64(max-min)))
}
