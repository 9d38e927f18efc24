package main

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/raftkit/consensus"
	"github.com/raftkit/consensus/statemachine/kv"
)

// newKVRouter is the demo application's HTTP surface, grounded on the
// teacher's httpapi.NewRouter/registerRoutes but writing through a real
// consensus.Node instead of a local, unreplicated store.
func newKVRouter(node *consensus.Node, sm *kv.StateMachine) http.Handler {
	r := chi.NewRouter()
	r.Get("/kv/healthz", handleHealthz)
	r.Get("/kv/{key}", handleGet(sm))
	r.Put("/kv/{key}", handlePut(node))
	r.Delete("/kv/{key}", handleDelete(node))
	return r
}

func handleHealthz(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func handleGet(sm *kv.StateMachine) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		key := chi.URLParam(r, "key")
		value, ok := sm.Get(key)
		writeJSON(w, http.StatusOK, map[string]any{"value": value, "ok": ok})
	}
}

func handlePut(node *consensus.Node) http.HandlerFunc {
	type putRequest struct {
		Value    string `json:"value"`
		Expected string `json:"expected,omitempty"`
		CAS      bool   `json:"cas,omitempty"`
	}

	return func(w http.ResponseWriter, r *http.Request) {
		key := chi.URLParam(r, "key")
		var req putRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid json"})
			return
		}

		cmd := kv.Command{Op: kv.OpPut, Key: key, Value: req.Value}
		if req.CAS {
			cmd.Op = kv.OpCAS
			cmd.Expected = req.Expected
		}

		proposeAndRespond(w, r, node, cmd)
	}
}

func handleDelete(node *consensus.Node) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		key := chi.URLParam(r, "key")
		proposeAndRespond(w, r, node, kv.Command{Op: kv.OpDelete, Key: key})
	}
}

// proposeAndRespond proposes cmd and, on success, replies with an ok
// envelope; a NotLeader error redirects the caller to the known leader the
// way the teacher's dkv handlers surface LeaderHint. Node.Command reports
// only consensus-level outcomes (leadership, durability, timeout) — a
// business-level result such as a failed CAS is visible only by reading
// the key back afterward, since the core's command() contract carries no
// application-level result channel.
func proposeAndRespond(w http.ResponseWriter, r *http.Request, node *consensus.Node, cmd kv.Command) bool {
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	if err := node.Command(ctx, cmd); err != nil {
		var rerr *consensus.Error
		if errors.As(err, &rerr) && rerr.Kind == consensus.ErrNotLeader {
			writeJSON(w, http.StatusMisdirectedRequest, map[string]string{
				"error":     "not leader",
				"leader_id": rerr.LeaderID,
			})
			return false
		}
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
		return false
	}

	writeJSON(w, http.StatusOK, map[string]bool{"ok": true})
	return true
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}
