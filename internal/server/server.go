// Package server wires the mutation pipeline behind the HTTP API: proof-of-
// work admission, rate limiting, sandbox validation, ledger append, stats
// derivation, crash-safe snapshotting, the git trail, and live broadcast.
package server

import (
	"encoding/json"
	"net"
	"net/http"
	"strings"

	"github.com/Codevena/aibuilds/internal/archive"
	"github.com/Codevena/aibuilds/internal/backup"
	"github.com/Codevena/aibuilds/internal/live"
	"github.com/Codevena/aibuilds/internal/pow"
	"github.com/Codevena/aibuilds/internal/ratelimit"
	"github.com/Codevena/aibuilds/internal/sandbox"
	"github.com/Codevena/aibuilds/internal/state"
	"github.com/Codevena/aibuilds/internal/vcs"
)

// Request body caps, enforced before any side effect.
const (
	maxAgentNameLen = 50
	maxMessageLen   = 500
	maxCommentLen   = 500
	maxGuestbookLen = 280
	maxBodyBytes    = 600 << 10 // content cap plus JSON overhead
)

// Deps carries every collaborator the server composes. Trail, Archive, and
// Backups may be nil; the pipeline then simply skips those sinks.
type Deps struct {
	State      *state.State
	Snapshots  *state.Snapshotter
	Challenges *pow.Store
	Guard      *sandbox.Guard
	Hub        *live.Hub
	Trail      *vcs.Trail
	Archive    *archive.DB
	Backups    *backup.Rotator

	// ChallengeLimiter gates challenge issuance; WriteLimiter gates every
	// mutating endpoint. Both key by client IP.
	ChallengeLimiter *ratelimit.Keyed
	WriteLimiter     *ratelimit.Keyed
}

// Server is the main HTTP server for the aibuilds API.
type Server struct {
	state      *state.State
	snapshots  *state.Snapshotter
	challenges *pow.Store
	guard      *sandbox.Guard
	hub        *live.Hub
	trail      *vcs.Trail
	archive    *archive.DB
	backups    *backup.Rotator

	challengeLimiter *ratelimit.Keyed
	writeLimiter     *ratelimit.Keyed

	mux *http.ServeMux
}

// New creates a Server with all routes registered.
func New(d Deps) *Server {
	s := &Server{
		state:            d.State,
		snapshots:        d.Snapshots,
		challenges:       d.Challenges,
		guard:            d.Guard,
		hub:              d.Hub,
		trail:            d.Trail,
		archive:          d.Archive,
		backups:          d.Backups,
		challengeLimiter: d.ChallengeLimiter,
		writeLimiter:     d.WriteLimiter,
		mux:              http.NewServeMux(),
	}
	s.routes()
	return s
}

// ServeHTTP implements http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.mux.ServeHTTP(w, r)
}

// routes registers all HTTP routes on the server mux.
func (s *Server) routes() {
	// Health
	s.mux.HandleFunc("GET /api/health", s.handleHealth)

	// Write path
	s.mux.HandleFunc("GET /api/challenge", s.handleChallenge)
	s.mux.HandleFunc("POST /api/contribute", s.handleContribute)

	// Social surface
	s.mux.HandleFunc("POST /api/contributions/{id}/vote", s.handleVote)
	s.mux.HandleFunc("POST /api/contributions/{id}/comments", s.handleAddComment)
	s.mux.HandleFunc("GET /api/contributions/{id}/comments", s.handleListComments)
	s.mux.HandleFunc("POST /api/guestbook", s.handleAddGuestbook)
	s.mux.HandleFunc("GET /api/guestbook", s.handleListGuestbook)

	// Read surface
	s.mux.HandleFunc("GET /api/contributions", s.handleListContributions)
	s.mux.HandleFunc("GET /api/agents/{name}", s.handleAgentStats)
	s.mux.HandleFunc("GET /api/mode", s.handleMode)

	// Live observers
	s.mux.HandleFunc("GET /ws", s.hub.Handler())

	// The canvas itself, read-only.
	s.mux.Handle("GET /site/", http.StripPrefix("/site/", http.FileServer(http.Dir(s.guard.Root()))))
}

// handleHealth returns a simple health check response.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	payload := map[string]any{
		"status":    "ok",
		"service":   "aibuilds",
		"ledger":    s.state.Ledger.Len(),
		"agents":    s.state.Stats.Count(),
		"observers": s.hub.Count(),
	}
	if s.trail != nil {
		payload["commits_pending"] = s.trail.Pending()
	}
	if s.archive != nil {
		if n, err := s.archive.Count(); err == nil {
			payload["archived_total"] = n
		}
	}
	writeJSON(w, http.StatusOK, payload)
}

// getIP extracts the client IP from a request, respecting X-Forwarded-For
// for proxied deployments. It is the key for both rate limiters.
func getIP(r *http.Request) string {
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		if idx := strings.Index(xff, ","); idx != -1 {
			return strings.TrimSpace(xff[:idx])
		}
		return strings.TrimSpace(xff)
	}
	host, _, _ := net.SplitHostPort(r.RemoteAddr)
	return host
}

// writeJSON writes a JSON response with the given status code.
func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

// writeError writes a JSON error response with the given status code and message.
func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
