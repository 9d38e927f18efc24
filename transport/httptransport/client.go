package httptransport

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/raftkit/consensus"
)

// PeerTransport is a consensus.Transport that reaches one remote peer over
// plain JSON-over-HTTP, the way the teacher's HTTPTransport reaches an
// AppendEntries endpoint, generalized to both RPCs the core issues.
type PeerTransport struct {
	addr   string
	client *http.Client
}

// NewPeerTransport returns a PeerTransport addressing the peer at addr
// (e.g. "http://localhost:8081").
func NewPeerTransport(addr string) *PeerTransport {
	return &PeerTransport{addr: addr, client: &http.Client{Timeout: 5 * time.Second}}
}

// Connect probes the peer's health endpoint. consensus.Peer treats a
// Connect failure as informational only; it never blocks Invoke on it.
func (t *PeerTransport) Connect(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, t.addr+"/raft/healthz", nil)
	if err != nil {
		return err
	}
	resp, err := t.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("httptransport: healthz at %s returned %d", t.addr, resp.StatusCode)
	}
	return nil
}

// Invoke marshals args onto the RPC's wire path and decodes the response
// into reply.
func (t *PeerTransport) Invoke(ctx context.Context, rpcType consensus.RPCType, args any, reply any) error {
	var path string
	var wireBody any

	switch rpcType {
	case consensus.RPCAppendEntries:
		a := args.(*consensus.AppendEntriesArgs)
		path = "/raft/append_entries"
		wireBody = appendEntriesWire{
			Term:         a.Term,
			LeaderID:     a.LeaderID,
			PrevLogIndex: a.PrevLogIndex,
			PrevLogTerm:  a.PrevLogTerm,
			Entries:      a.Entries,
			LeaderCommit: a.LeaderCommit,
		}
	case consensus.RPCRequestVote:
		a := args.(*consensus.RequestVoteArgs)
		path = "/raft/request_vote"
		wireBody = requestVoteWire{
			Term:         a.Term,
			CandidateID:  a.CandidateID,
			LastLogIndex: a.LastLogIndex,
			LastLogTerm:  a.LastLogTerm,
		}
	default:
		return fmt.Errorf("httptransport: unsupported rpc type %q", rpcType)
	}

	body, err := json.Marshal(wireBody)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, t.addr+path, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := t.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("httptransport: %s to %s returned %d", rpcType, t.addr, resp.StatusCode)
	}

	switch rpcType {
	case consensus.RPCAppendEntries:
		var w appendEntriesReplyWire
		if err := json.NewDecoder(resp.Body).Decode(&w); err != nil {
			return err
		}
		*reply.(*consensus.AppendEntriesReply) = consensus.AppendEntriesReply{
			Term: w.Term, Success: w.Success, ConflictIndex: w.ConflictIndex, ConflictTerm: w.ConflictTerm,
		}
	case consensus.RPCRequestVote:
		var w requestVoteReplyWire
		if err := json.NewDecoder(resp.Body).Decode(&w); err != nil {
			return err
		}
		*reply.(*consensus.RequestVoteReply) = consensus.RequestVoteReply{Term: w.Term, VoteGranted: w.VoteGranted}
	}
	return nil
}
