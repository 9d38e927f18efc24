// Package consensus implements the consensus engine of a Raft-family
// replicated state machine: the Idle/Follower/Candidate/Leader role state
// machine, the election protocol, log replication and commit advancement,
// and the log-application pipeline.
//
// The package deliberately does not own the wire transport between nodes,
// the storage medium behind persisted state, or the host application's
// state machine — those are external collaborators reached through the
// storage.Backend and Transport contracts. See the storage and
// transport/httptransport packages for reference implementations.
package consensus
