package server

import (
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/Codevena/aibuilds/internal/ledger"
	"github.com/Codevena/aibuilds/internal/pow"
	"github.com/Codevena/aibuilds/internal/sandbox"
)

// contributeRequest is the JSON body of a mutation submission.
type contributeRequest struct {
	AgentName string `json:"agent_name"`
	Action    string `json:"action"`
	FilePath  string `json:"file_path"`
	Content   string `json:"content"`
	Message   string `json:"message"`
}

// handleContribute handles POST /api/contribute, the full mutation
// pipeline. The synchronous gates (admission, rate, validation, sandbox)
// run in order and short-circuit with zero side effects; everything after
// the file write is either in-memory or queued to an async sink, and the
// response never waits on the snapshot or the git commit.
func (s *Server) handleContribute(w http.ResponseWriter, r *http.Request) {
	// Admission: a solved, unexpired, unused proof-of-work challenge.
	challengeID := r.Header.Get("X-Challenge-ID")
	nonce := r.Header.Get("X-Challenge-Nonce")
	if challengeID == "" || nonce == "" {
		writeError(w, http.StatusForbidden, "challenge required: fetch /api/challenge and solve it")
		return
	}
	if err := s.challenges.Redeem(challengeID, nonce); err != nil {
		switch {
		case errors.Is(err, pow.ErrChallengeExpired):
			writeError(w, http.StatusForbidden, "challenge expired, fetch a new one")
		case errors.Is(err, pow.ErrInvalidProof):
			writeError(w, http.StatusForbidden, "invalid proof of work")
		default:
			writeError(w, http.StatusForbidden, "unknown or already used challenge")
		}
		return
	}

	// Rate: per-IP window over accepted mutation attempts.
	if !s.writeLimiter.Allow(getIP(r)) {
		writeError(w, http.StatusTooManyRequests, "rate limit exceeded, retry after the window")
		return
	}

	// Validation: shape and caps before touching anything.
	var req contributeRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes)).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON: "+err.Error())
		return
	}
	if req.AgentName == "" {
		writeError(w, http.StatusBadRequest, "agent_name required")
		return
	}
	if len(req.AgentName) > maxAgentNameLen {
		writeError(w, http.StatusBadRequest, "agent_name too long")
		return
	}
	if !ledger.ValidAction(req.Action) {
		writeError(w, http.StatusBadRequest, "action must be create, edit, or delete")
		return
	}
	if len(req.Message) > maxMessageLen {
		writeError(w, http.StatusBadRequest, "message exceeds 500 characters")
		return
	}
	if req.Action != ledger.ActionDelete && req.Content == "" {
		writeError(w, http.StatusBadRequest, "content required for create and edit")
		return
	}

	// Sandbox: path, type, size, capacity. Rejections are side-effect-free.
	rel, err := s.validateSandbox(&req)
	if err != nil {
		s.writeSandboxError(w, err)
		return
	}

	// The write itself. Past this point the mutation is accepted: a client
	// disconnect no longer rolls anything back.
	if req.Action == ledger.ActionDelete {
		err = s.guard.Delete(rel)
	} else {
		err = s.guard.Write(rel, []byte(req.Content))
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, "file operation failed")
		return
	}

	c := &ledger.Contribution{
		ID:        uuid.New().String(),
		Timestamp: time.Now(),
		AgentName: req.AgentName,
		Action:    req.Action,
		FilePath:  rel,
		Message:   req.Message,
	}
	s.state.Ledger.Append(c)

	// The archive preserves history beyond the bounded ledger window.
	// Its failure is logged, never surfaced: the ledger mutation already
	// succeeded.
	if s.archive != nil {
		if err := s.archive.Insert(c); err != nil {
			log.Printf("[archive] insert %s: %v", c.ID, err)
		}
	}

	unlocked := s.state.Stats.Record(c)

	// Async sinks: each has its own single-consumer queue.
	s.snapshots.Request()
	if s.trail != nil {
		s.trail.Enqueue(c)
	}

	s.hub.Broadcast("contribution", c)
	for _, ach := range unlocked {
		s.hub.Broadcast("achievement", map[string]any{
			"agent_name":  c.AgentName,
			"achievement": ach,
		})
	}

	writeJSON(w, http.StatusCreated, map[string]any{
		"success": true,
		"contribution": map[string]any{
			"id":         c.ID,
			"timestamp":  c.Timestamp.UTC().Format(time.RFC3339),
			"agent_name": c.AgentName,
			"action":     c.Action,
			"file_path":  c.FilePath,
			"message":    c.Message,
		},
	})
}

// validateSandbox runs the guard checks appropriate to the action and
// returns the cleaned relative path.
func (s *Server) validateSandbox(req *contributeRequest) (string, error) {
	if req.Action == ledger.ActionDelete {
		rel, err := s.guard.CleanPath(req.FilePath)
		if err != nil {
			return "", err
		}
		if !s.guard.Exists(rel) {
			return "", sandbox.ErrNotFound
		}
		return rel, nil
	}
	return s.guard.ValidateWrite(req.FilePath, []byte(req.Content), req.Action == ledger.ActionCreate)
}

// writeSandboxError maps guard errors onto the API taxonomy: escapes are
// admission-class abuse signals (403), everything else is validation (400).
func (s *Server) writeSandboxError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, sandbox.ErrEscape):
		writeError(w, http.StatusForbidden, "path escapes the sandbox")
	case errors.Is(err, sandbox.ErrBadExtension):
		writeError(w, http.StatusBadRequest, "file extension not allowed")
	case errors.Is(err, sandbox.ErrTooLarge):
		writeError(w, http.StatusBadRequest, "content exceeds the 500KB limit")
	case errors.Is(err, sandbox.ErrCapacity):
		writeError(w, http.StatusBadRequest, "the canvas is full, edit an existing file instead")
	case errors.Is(err, sandbox.ErrExists):
		writeError(w, http.StatusBadRequest, "file already exists, use edit")
	case errors.Is(err, sandbox.ErrNotFound):
		writeError(w, http.StatusBadRequest, "file does not exist")
	default:
		writeError(w, http.StatusBadRequest, "invalid file path")
	}
}
