// Package storage defines the durable persistence contract the consensus
// core depends on, plus the concrete backends provided alongside it: an
// in-memory backend for tests, and a bbolt-backed durable backend.
package storage

import "fmt"

// LogEntry is a single entry in the replicated log as the persistence layer
// sees it. Command is opaque to both the consensus core and this package;
// only a concrete Backend's ApplyFunc interprets it.
type LogEntry struct {
	Term    uint64
	Command any
}

// Meta is the durable per-node metadata: current term, last vote, and the
// full log.
type Meta struct {
	CurrentTerm uint64
	VotedFor    string
	Log         []LogEntry
}

// Backend is the durable persistence contract the consensus core calls
// into. Implementations must serialise writes per node id and make
// SaveMeta and ApplyLog durable before returning; ApplyLog must record the
// state-machine side effect and the advanced last-applied index as one
// atomic unit.
type Backend interface {
	// LoadMeta returns the last durably saved metadata for nodeID, or a
	// zero Meta if none was ever saved.
	LoadMeta(nodeID string) (Meta, error)

	// LastAppliedCommitIndex returns the highest index ever durably
	// applied for nodeID, or 0 if none.
	LastAppliedCommitIndex(nodeID string) (uint64, error)

	// SaveMeta durably persists meta for nodeID. Must not return until
	// the write is durable.
	SaveMeta(nodeID string, meta Meta) error

	// ApplyLog delivers entry at index to the host state machine and
	// durably advances the last-applied marker for nodeID, atomically.
	// index must be exactly one greater than the last applied index;
	// callers are responsible for calling in strict order.
	ApplyLog(nodeID string, index uint64, entry LogEntry) error
}

// ApplyFunc delivers one committed command to the host application's state
// machine. It is invoked by a Backend as part of ApplyLog.
type ApplyFunc func(index uint64, command any) error

func outOfOrderErr(nodeID string, have, got uint64) error {
	return fmt.Errorf("storage: out-of-order apply for node %q: have %d, got %d", nodeID, have, got)
}
