package httptransport

import (
	"context"
	"net/http/httptest"
	"testing"

	"github.com/raftkit/consensus"
)

func TestPeerTransport_Connect(t *testing.T) {
	srv := httptest.NewServer(NewServer(&fakeHandler{}))
	defer srv.Close()

	tp := NewPeerTransport(srv.URL)
	if err := tp.Connect(context.Background()); err != nil {
		t.Fatalf("expected Connect to succeed, got %v", err)
	}
}

func TestPeerTransport_InvokeAppendEntries_RoundTrip(t *testing.T) {
	handler := &fakeHandler{aeReply: &consensus.AppendEntriesReply{Term: 4, Success: true}}
	srv := httptest.NewServer(NewServer(handler))
	defer srv.Close()

	tp := NewPeerTransport(srv.URL)
	args := &consensus.AppendEntriesArgs{
		Term:         4,
		LeaderID:     "leader",
		PrevLogIndex: 2,
		PrevLogTerm:  3,
		Entries:      []consensus.LogEntry{{Term: 4, Command: "y"}},
		LeaderCommit: 2,
	}
	var reply consensus.AppendEntriesReply
	if err := tp.Invoke(context.Background(), consensus.RPCAppendEntries, args, &reply); err != nil {
		t.Fatal(err)
	}
	if reply.Term != 4 || !reply.Success {
		t.Fatalf("unexpected reply: %+v", reply)
	}
	if handler.lastAE == nil || handler.lastAE.LeaderID != "leader" {
		t.Fatalf("server did not receive the round-tripped args: %+v", handler.lastAE)
	}
}

func TestPeerTransport_InvokeRequestVote_RoundTrip(t *testing.T) {
	handler := &fakeHandler{rvReply: &consensus.RequestVoteReply{Term: 1, VoteGranted: false}}
	srv := httptest.NewServer(NewServer(handler))
	defer srv.Close()

	tp := NewPeerTransport(srv.URL)
	args := &consensus.RequestVoteArgs{Term: 1, CandidateID: "c1", LastLogIndex: 0, LastLogTerm: 0}
	var reply consensus.RequestVoteReply
	if err := tp.Invoke(context.Background(), consensus.RPCRequestVote, args, &reply); err != nil {
		t.Fatal(err)
	}
	if reply.VoteGranted {
		t.Fatalf("expected vote denied, got %+v", reply)
	}
}

func TestPeerTransport_InvokeUnsupportedType(t *testing.T) {
	tp := NewPeerTransport("http://unused")
	var reply consensus.RequestVoteReply
	err := tp.Invoke(context.Background(), consensus.RPCType("Bogus"), &consensus.RequestVoteArgs{}, &reply)
	if err == nil {
		t.Fatal("expected an error for an unsupported rpc type")
	}
}
