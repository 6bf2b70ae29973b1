package server

import (
	"net/http"
	"time"

	"github.com/Codevena/aibuilds/internal/pow"
)

// handleChallenge handles GET /api/challenge: issue a proof-of-work
// challenge. Issuance is rate limited separately from mutation submission
// so a flood of unsolved challenges cannot starve honest callers.
func (s *Server) handleChallenge(w http.ResponseWriter, r *http.Request) {
	if !s.challengeLimiter.Allow(getIP(r)) {
		writeError(w, http.StatusTooManyRequests, "rate limit exceeded, retry later")
		return
	}

	ch := s.challenges.Issue()
	writeJSON(w, http.StatusOK, map[string]any{
		"id":         ch.ID,
		"prefix":     ch.Prefix,
		"difficulty": ch.Difficulty,
		"expires_at": ch.ExpiresAt.UTC().Format(time.RFC3339),
		"algorithm":  pow.Algorithm,
	})
}
