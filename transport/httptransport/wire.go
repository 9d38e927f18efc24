// Package httptransport implements consensus.Transport and the inbound RPC
// server as plain JSON over HTTP, grounded on the teacher's HTTPTransport
// client and RaftHTTPServer mux, generalized to the two-RPC contract and
// routed with chi instead of a bare ServeMux.
package httptransport

import "github.com/raftkit/consensus"

type appendEntriesWire struct {
	Term         uint64               `json:"term"`
	LeaderID     string               `json:"leader_id"`
	PrevLogIndex uint64               `json:"prev_log_index"`
	PrevLogTerm  uint64               `json:"prev_log_term"`
	Entries      []consensus.LogEntry `json:"entries"`
	LeaderCommit uint64               `json:"leader_commit"`
}

type appendEntriesReplyWire struct {
	Term          uint64 `json:"term"`
	Success       bool   `json:"success"`
	ConflictIndex uint64 `json:"conflict_index,omitempty"`
	ConflictTerm  uint64 `json:"conflict_term,omitempty"`
}

type requestVoteWire struct {
	Term         uint64 `json:"term"`
	CandidateID  string `json:"candidate_id"`
	LastLogIndex uint64 `json:"last_log_index"`
	LastLogTerm  uint64 `json:"last_log_term"`
}

type requestVoteReplyWire struct {
	Term        uint64 `json:"term"`
	VoteGranted bool   `json:"vote_granted"`
}
