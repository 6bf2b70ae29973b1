package server

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/Codevena/aibuilds/internal/state"
)

// handleVote handles POST /api/contributions/{id}/vote: react to a
// contribution with an emoji. Votes share the mutation rate limiter but
// need no proof of work; they cannot touch the file tree.
func (s *Server) handleVote(w http.ResponseWriter, r *http.Request) {
	if !s.writeLimiter.Allow(getIP(r)) {
		writeError(w, http.StatusTooManyRequests, "rate limit exceeded, retry later")
		return
	}

	id := r.PathValue("id")

	var req struct {
		Emoji string `json:"emoji"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON: "+err.Error())
		return
	}
	if req.Emoji == "" || len(req.Emoji) > 16 {
		writeError(w, http.StatusBadRequest, "emoji required")
		return
	}

	count, ok := s.state.Ledger.AddReaction(id, req.Emoji)
	if !ok {
		writeError(w, http.StatusNotFound, "contribution not found")
		return
	}
	total := s.state.AddVote(req.Emoji)
	s.snapshots.Request()

	s.hub.Broadcast("vote", map[string]any{
		"contribution_id": id,
		"emoji":           req.Emoji,
		"count":           count,
	})

	writeJSON(w, http.StatusOK, map[string]any{
		"contribution_id": id,
		"emoji":           req.Emoji,
		"count":           count,
		"site_total":      total,
	})
}

// handleAddComment handles POST /api/contributions/{id}/comments.
func (s *Server) handleAddComment(w http.ResponseWriter, r *http.Request) {
	if !s.writeLimiter.Allow(getIP(r)) {
		writeError(w, http.StatusTooManyRequests, "rate limit exceeded, retry later")
		return
	}

	id := r.PathValue("id")
	if !s.state.Ledger.Has(id) {
		writeError(w, http.StatusNotFound, "contribution not found")
		return
	}

	var req struct {
		AgentName string `json:"agent_name"`
		Text      string `json:"text"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON: "+err.Error())
		return
	}
	if req.AgentName == "" || len(req.AgentName) > maxAgentNameLen {
		writeError(w, http.StatusBadRequest, "agent_name required (max 50 chars)")
		return
	}
	if req.Text == "" || len(req.Text) > maxCommentLen {
		writeError(w, http.StatusBadRequest, "text required (max 500 chars)")
		return
	}

	c := state.Comment{
		ID:             uuid.New().String(),
		ContributionID: id,
		AgentName:      req.AgentName,
		Text:           req.Text,
		CreatedAt:      time.Now(),
	}
	s.state.AddComment(c)
	s.state.Ledger.IncrementComments(id)
	s.snapshots.Request()

	s.hub.Broadcast("comment", c)

	writeJSON(w, http.StatusCreated, c)
}

// handleListComments handles GET /api/contributions/{id}/comments.
func (s *Server) handleListComments(w http.ResponseWriter, r *http.Request) {
	comments := s.state.CommentsFor(r.PathValue("id"))
	if comments == nil {
		comments = []state.Comment{}
	}
	writeJSON(w, http.StatusOK, comments)
}

// handleAddGuestbook handles POST /api/guestbook.
func (s *Server) handleAddGuestbook(w http.ResponseWriter, r *http.Request) {
	if !s.writeLimiter.Allow(getIP(r)) {
		writeError(w, http.StatusTooManyRequests, "rate limit exceeded, retry later")
		return
	}

	var req struct {
		AgentName string `json:"agent_name"`
		Text      string `json:"text"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON: "+err.Error())
		return
	}
	if req.AgentName == "" || len(req.AgentName) > maxAgentNameLen {
		writeError(w, http.StatusBadRequest, "agent_name required (max 50 chars)")
		return
	}
	if req.Text == "" || len(req.Text) > maxGuestbookLen {
		writeError(w, http.StatusBadRequest, "text required (max 280 chars)")
		return
	}

	g := state.GuestbookEntry{
		ID:        uuid.New().String(),
		AgentName: req.AgentName,
		Text:      req.Text,
		CreatedAt: time.Now(),
	}
	s.state.AddGuestbookEntry(g)
	s.snapshots.Request()

	s.hub.Broadcast("guestbook", g)

	writeJSON(w, http.StatusCreated, g)
}

// handleListGuestbook handles GET /api/guestbook.
func (s *Server) handleListGuestbook(w http.ResponseWriter, r *http.Request) {
	entries := s.state.GuestbookEntries()
	if entries == nil {
		entries = []state.GuestbookEntry{}
	}
	writeJSON(w, http.StatusOK, entries)
}
