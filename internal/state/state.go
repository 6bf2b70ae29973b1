// Package state composes the in-memory projections of the service (the
// ledger, the agent map, and the bounded auxiliary collections) and
// persists them as a single crash-safe snapshot file. The in-memory state is
// authoritative for the process lifetime; the snapshot is a crash-recovery
// shadow.
package state

import (
	"sync"
	"time"

	"github.com/Codevena/aibuilds/internal/ledger"
	"github.com/Codevena/aibuilds/internal/stats"
)

// Comment is an agent remark attached to a contribution.
type Comment struct {
	ID             string    `json:"id"`
	ContributionID string    `json:"contribution_id"`
	AgentName      string    `json:"agent_name"`
	Text           string    `json:"text"`
	CreatedAt      time.Time `json:"created_at"`
}

// GuestbookEntry is a free-standing agent note.
type GuestbookEntry struct {
	ID        string    `json:"id"`
	AgentName string    `json:"agent_name"`
	Text      string    `json:"text"`
	CreatedAt time.Time `json:"created_at"`
}

// Mode is the sitewide operating mode. The scheduler that flips it lives
// outside this service; here it is only held, persisted, and reported.
type Mode struct {
	Open      bool      `json:"open"`
	ChangedAt time.Time `json:"changed_at"`
}

// State owns every mutable in-memory collection. The ledger and stats
// engine carry their own locks; the aux collections share one here.
type State struct {
	Ledger *ledger.Ledger
	Stats  *stats.Engine

	mu           sync.RWMutex
	comments     []Comment
	guestbook    []GuestbookEntry
	votes        map[string]int // emoji -> sitewide tally
	mode         Mode
	maxComments  int
	maxGuestbook int
}

// New creates an empty State with the given collection bounds.
func New(ledgerCap, maxComments, maxGuestbook int) *State {
	return &State{
		Ledger:       ledger.New(ledgerCap),
		Stats:        stats.New(),
		votes:        make(map[string]int),
		maxComments:  maxComments,
		maxGuestbook: maxGuestbook,
	}
}

// AddComment appends a comment, evicting the oldest once over the bound.
func (s *State) AddComment(c Comment) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.comments = append(s.comments, c)
	for len(s.comments) > s.maxComments {
		s.comments = s.comments[1:]
	}
}

// CommentsFor returns the comments attached to a contribution, oldest first.
func (s *State) CommentsFor(contributionID string) []Comment {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []Comment
	for _, c := range s.comments {
		if c.ContributionID == contributionID {
			out = append(out, c)
		}
	}
	return out
}

// AddGuestbookEntry appends an entry, evicting the oldest once over the bound.
func (s *State) AddGuestbookEntry(g GuestbookEntry) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.guestbook = append(s.guestbook, g)
	for len(s.guestbook) > s.maxGuestbook {
		s.guestbook = s.guestbook[1:]
	}
}

// GuestbookEntries returns all entries, oldest first.
func (s *State) GuestbookEntries() []GuestbookEntry {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]GuestbookEntry(nil), s.guestbook...)
}

// AddVote bumps the sitewide tally for an emoji and returns the new total.
func (s *State) AddVote(emoji string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.votes[emoji]++
	return s.votes[emoji]
}

// VoteTotals returns a copy of the sitewide vote tally.
func (s *State) VoteTotals() map[string]int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(map[string]int, len(s.votes))
	for k, v := range s.votes {
		out[k] = v
	}
	return out
}

// Mode returns the current operating mode.
func (s *State) Mode() Mode {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.mode
}

// SetMode replaces the operating mode. Exposed for the external scheduler.
func (s *State) SetMode(open bool) Mode {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.mode = Mode{Open: open, ChangedAt: time.Now()}
	return s.mode
}

// Snapshot captures the full durable projection of the state.
func (s *State) Snapshot() Snapshot {
	s.mu.RLock()
	comments := append([]Comment(nil), s.comments...)
	guestbook := append([]GuestbookEntry(nil), s.guestbook...)
	votes := make(map[string]int, len(s.votes))
	for k, v := range s.votes {
		votes[k] = v
	}
	mode := s.mode
	s.mu.RUnlock()

	return Snapshot{
		SavedAt:       time.Now(),
		Contributions: s.Ledger.Entries(),
		Agents:        s.Stats.Agents(),
		Comments:      comments,
		Guestbook:     guestbook,
		Votes:         votes,
		Mode:          mode,
	}
}

// Restore replaces the in-memory state with a loaded snapshot.
func (s *State) Restore(snap Snapshot) {
	s.Ledger.Restore(snap.Contributions)
	s.Stats.Restore(snap.Agents)

	s.mu.Lock()
	defer s.mu.Unlock()
	s.comments = snap.Comments
	s.guestbook = snap.Guestbook
	s.votes = snap.Votes
	if s.votes == nil {
		s.votes = make(map[string]int)
	}
	s.mode = snap.Mode
}
