package httptransport

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/raftkit/consensus"
)

// fakeHandler is a scripted RPCHandler standing in for a *consensus.Node.
type fakeHandler struct {
	aeReply  *consensus.AppendEntriesReply
	aeErr    error
	rvReply  *consensus.RequestVoteReply
	rvErr    error
	lastAE   *consensus.AppendEntriesArgs
	lastRV   *consensus.RequestVoteArgs
}

func (f *fakeHandler) HandleAppendEntries(_ context.Context, args *consensus.AppendEntriesArgs) (*consensus.AppendEntriesReply, error) {
	f.lastAE = args
	return f.aeReply, f.aeErr
}

func (f *fakeHandler) HandleRequestVote(_ context.Context, args *consensus.RequestVoteArgs) (*consensus.RequestVoteReply, error) {
	f.lastRV = args
	return f.rvReply, f.rvErr
}

func TestServer_Healthz(t *testing.T) {
	srv := httptest.NewServer(NewServer(&fakeHandler{}))
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/raft/healthz")
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}
}

func TestServer_AppendEntries_DecodesAndReplies(t *testing.T) {
	handler := &fakeHandler{aeReply: &consensus.AppendEntriesReply{Term: 3, Success: true}}
	srv := httptest.NewServer(NewServer(handler))
	defer srv.Close()

	body, _ := json.Marshal(appendEntriesWire{
		Term:         3,
		LeaderID:     "n1",
		PrevLogIndex: 1,
		PrevLogTerm:  2,
		Entries:      []consensus.LogEntry{{Term: 3, Command: "x"}},
		LeaderCommit: 1,
	})
	resp, err := http.Post(srv.URL+"/raft/append_entries", "application/json", bytes.NewReader(body))
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}

	var wire appendEntriesReplyWire
	if err := json.NewDecoder(resp.Body).Decode(&wire); err != nil {
		t.Fatal(err)
	}
	if wire.Term != 3 || !wire.Success {
		t.Fatalf("unexpected reply: %+v", wire)
	}
	if handler.lastAE == nil || handler.lastAE.LeaderID != "n1" || len(handler.lastAE.Entries) != 1 {
		t.Fatalf("handler did not receive decoded args: %+v", handler.lastAE)
	}
}

func TestServer_RequestVote_DecodesAndReplies(t *testing.T) {
	handler := &fakeHandler{rvReply: &consensus.RequestVoteReply{Term: 2, VoteGranted: true}}
	srv := httptest.NewServer(NewServer(handler))
	defer srv.Close()

	body, _ := json.Marshal(requestVoteWire{Term: 2, CandidateID: "n2", LastLogIndex: 5, LastLogTerm: 2})
	resp, err := http.Post(srv.URL+"/raft/request_vote", "application/json", bytes.NewReader(body))
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()

	var wire requestVoteReplyWire
	if err := json.NewDecoder(resp.Body).Decode(&wire); err != nil {
		t.Fatal(err)
	}
	if !wire.VoteGranted {
		t.Fatalf("expected vote granted, got %+v", wire)
	}
	if handler.lastRV == nil || handler.lastRV.CandidateID != "n2" {
		t.Fatalf("handler did not receive decoded args: %+v", handler.lastRV)
	}
}

func TestServer_AppendEntries_BadJSON(t *testing.T) {
	srv := httptest.NewServer(NewServer(&fakeHandler{}))
	defer srv.Close()

	resp, err := http.Post(srv.URL+"/raft/append_entries", "application/json", bytes.NewReader([]byte("not json")))
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", resp.StatusCode)
	}
}
