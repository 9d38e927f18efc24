package consensus

import (
	"go.uber.org/zap"

	"github.com/raftkit/consensus/storage"
)

// applyOutcome is the result of one backend.ApplyLog call, delivered back
// to the Node's event loop over resultCh.
type applyOutcome struct {
	index uint64
	err   error
}

// LogApplier drains committed-but-unapplied log entries to the
// persistence backend in strict index order, at most one application in
// flight at a time. Every exported method here is meant to be called only
// from the owning Node's event-loop goroutine; the single goroutine
// LogApplier itself spawns per application talks back only through
// resultCh, never by touching LogApplier fields directly, so the applier's
// own bookkeeping stays inside the same single logical execution context
// as everything else.
type LogApplier struct {
	nodeID  string
	backend storage.Backend
	log     *Log
	logger  *zap.Logger

	commitIndex uint64
	lastApplied uint64
	persisting  bool

	resultCh chan applyOutcome
}

// NewLogApplier returns a LogApplier that starts having already applied
// through lastApplied (as loaded from the persistence backend at
// startup).
func NewLogApplier(nodeID string, backend storage.Backend, log *Log, lastApplied uint64, logger *zap.Logger) *LogApplier {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &LogApplier{
		nodeID:      nodeID,
		backend:     backend,
		log:         log,
		logger:      logger,
		lastApplied: lastApplied,
		resultCh:    make(chan applyOutcome, 1),
	}
}

// ResultCh delivers completions of in-flight applications. The Node's
// event loop selects on it alongside its main event queue.
func (a *LogApplier) ResultCh() <-chan applyOutcome {
	return a.resultCh
}

// resultChOrNil is ResultCh but safe to call before the applier exists
// (the Node has not finished loading yet): a nil channel simply never
// becomes selectable, which is exactly the desired "nothing to apply yet"
// behaviour.
func (a *LogApplier) resultChOrNil() <-chan applyOutcome {
	if a == nil {
		return nil
	}
	return a.resultCh
}

// LastApplied returns the highest index applied so far. Like resultChOrNil
// it is safe to call before the applier exists, and then returns 0.
func (a *LogApplier) LastApplied() uint64 {
	if a == nil {
		return 0
	}
	return a.lastApplied
}

// SetCommitIndex raises the applier's view of commitIndex if index is
// higher than what it already knows.
func (a *LogApplier) SetCommitIndex(index uint64) {
	if index > a.commitIndex {
		a.commitIndex = index
	}
}

// MaybePersist starts applying the next unapplied entry if commitIndex is
// ahead of lastApplied and nothing is already in flight. It returns
// immediately; the result arrives later on resultCh.
func (a *LogApplier) MaybePersist() {
	if a.persisting || a.commitIndex <= a.lastApplied {
		return
	}
	a.persisting = true
	index := a.lastApplied + 1
	entry := a.log.At(index)
	go func() {
		err := a.backend.ApplyLog(a.nodeID, index, entry)
		a.resultCh <- applyOutcome{index: index, err: err}
	}()
}

// HandleResult processes one completion received from ResultCh. On
// success it advances lastApplied, calls onApplied, and immediately tries
// the next entry; on failure it calls onError and leaves lastApplied
// unchanged so the same entry is retried on the next poke.
func (a *LogApplier) HandleResult(outcome applyOutcome, onApplied func(uint64), onError func(error)) {
	a.persisting = false
	if outcome.err != nil {
		if onError != nil {
			onError(persistenceError(outcome.err))
		}
		return
	}
	a.lastApplied = outcome.index
	if onApplied != nil {
		onApplied(outcome.index)
	}
	a.MaybePersist()
}
