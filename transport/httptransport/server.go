package httptransport

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/raftkit/consensus"
)

// RPCHandler is the inbound contract a *consensus.Node satisfies; NewServer
// depends on the interface rather than the concrete type so it can be
// exercised with a fake in tests.
type RPCHandler interface {
	HandleAppendEntries(ctx context.Context, args *consensus.AppendEntriesArgs) (*consensus.AppendEntriesReply, error)
	HandleRequestVote(ctx context.Context, args *consensus.RequestVoteArgs) (*consensus.RequestVoteReply, error)
}

// NewServer builds the HTTP handler a Node's peers call into, grounded on
// the teacher's httpapi.NewRouter middleware stack.
func NewServer(handler RPCHandler) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Logger)

	r.Get("/raft/healthz", handleHealthz)
	r.Post("/raft/append_entries", handleAppendEntries(handler))
	r.Post("/raft/request_vote", handleRequestVote(handler))
	return r
}

func handleHealthz(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func handleAppendEntries(handler RPCHandler) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var wire appendEntriesWire
		if err := json.NewDecoder(r.Body).Decode(&wire); err != nil {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": "bad JSON"})
			return
		}
		args := &consensus.AppendEntriesArgs{
			Term:         wire.Term,
			LeaderID:     wire.LeaderID,
			PrevLogIndex: wire.PrevLogIndex,
			PrevLogTerm:  wire.PrevLogTerm,
			Entries:      wire.Entries,
			LeaderCommit: wire.LeaderCommit,
		}
		reply, err := handler.HandleAppendEntries(r.Context(), args)
		if err != nil {
			writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
			return
		}
		writeJSON(w, http.StatusOK, appendEntriesReplyWire{
			Term: reply.Term, Success: reply.Success, ConflictIndex: reply.ConflictIndex, ConflictTerm: reply.ConflictTerm,
		})
	}
}

func handleRequestVote(handler RPCHandler) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var wire requestVoteWire
		if err := json.NewDecoder(r.Body).Decode(&wire); err != nil {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": "bad JSON"})
			return
		}
		args := &consensus.RequestVoteArgs{
			Term:         wire.Term,
			CandidateID:  wire.CandidateID,
			LastLogIndex: wire.LastLogIndex,
			LastLogTerm:  wire.LastLogTerm,
		}
		reply, err := handler.HandleRequestVote(r.Context(), args)
		if err != nil {
			writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
			return
		}
		writeJSON(w, http.StatusOK, requestVoteReplyWire{Term: reply.Term, VoteGranted: reply.VoteGranted})
	}
}

// writeJSON is the teacher's respond.JSON helper inlined: the retrieval
// pack did not include that package's source, so its small envelope is
// reproduced here rather than imported from nowhere.
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}
