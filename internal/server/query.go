package server

import (
	"net/http"
	"strconv"
)

// The read surface below is intentionally minimal: it serves the live
// dashboard's basic needs from the in-memory state. Full aggregation
// (leaderboards, search, analytics) belongs to external tooling that
// consumes the same state read-only.

// handleListContributions handles GET /api/contributions: the ledger tail.
func (s *Server) handleListContributions(w http.ResponseWriter, r *http.Request) {
	limit := 50
	if l := r.URL.Query().Get("limit"); l != "" {
		if n, err := strconv.Atoi(l); err == nil && n > 0 {
			limit = n
		}
	}
	writeJSON(w, http.StatusOK, s.state.Ledger.Tail(limit))
}

// handleAgentStats handles GET /api/agents/{name}: one agent's profile.
func (s *Server) handleAgentStats(w http.ResponseWriter, r *http.Request) {
	name := r.PathValue("name")
	a, ok := s.state.Stats.Agent(name)
	if !ok {
		writeError(w, http.StatusNotFound, "unknown agent")
		return
	}

	payload := map[string]any{"agent": a}
	if s.archive != nil {
		// The all-time count can exceed the bounded ledger window.
		if n, err := s.archive.CountByAgent(name); err == nil {
			payload["archived_total"] = n
		}
	}
	writeJSON(w, http.StatusOK, payload)
}

// handleMode handles GET /api/mode: the current operating mode. The
// schedule that flips it lives outside this service.
func (s *Server) handleMode(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.state.Mode())
}
