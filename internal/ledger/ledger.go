// Package ledger holds the bounded, ordered, append-only record of accepted
// mutations. Insertion order is the causal order of the write path; the id
// index always mirrors exactly the current window.
package ledger

import (
	"sync"
	"time"
)

// Actions a contribution may carry.
const (
	ActionCreate = "create"
	ActionEdit   = "edit"
	ActionDelete = "delete"
)

// ValidAction reports whether a is one of the three accepted actions.
func ValidAction(a string) bool {
	return a == ActionCreate || a == ActionEdit || a == ActionDelete
}

// Contribution is one accepted mutation. Core fields are immutable once
// appended; only the reaction and comment counters ever change.
type Contribution struct {
	ID           string         `json:"id"`
	Timestamp    time.Time      `json:"timestamp"`
	AgentName    string         `json:"agent_name"`
	Action       string         `json:"action"`
	FilePath     string         `json:"file_path"`
	Message      string         `json:"message"`
	Reactions    map[string]int `json:"reactions,omitempty"`
	CommentCount int            `json:"comment_count,omitempty"`
}

// Ledger is a bounded FIFO of contributions with O(1) id lookup.
type Ledger struct {
	mu      sync.RWMutex
	entries []*Contribution
	index   map[string]*Contribution
	cap     int
}

// New creates a Ledger that retains at most capacity entries.
func New(capacity int) *Ledger {
	return &Ledger{
		entries: make([]*Contribution, 0, capacity),
		index:   make(map[string]*Contribution),
		cap:     capacity,
	}
}

// Append records a contribution. Once over capacity the oldest entry is
// evicted and dropped from the index in the same step, so the index never
// references an id outside the current window.
func (l *Ledger) Append(c *Contribution) {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.entries = append(l.entries, c)
	l.index[c.ID] = c
	for len(l.entries) > l.cap {
		oldest := l.entries[0]
		l.entries = l.entries[1:]
		delete(l.index, oldest.ID)
	}
}

// Get returns a copy of the contribution with the given id.
func (l *Ledger) Get(id string) (Contribution, bool) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	c, ok := l.index[id]
	if !ok {
		return Contribution{}, false
	}
	return copyContribution(c), true
}

// Has reports whether id is inside the current window.
func (l *Ledger) Has(id string) bool {
	l.mu.RLock()
	defer l.mu.RUnlock()
	_, ok := l.index[id]
	return ok
}

// Tail returns copies of the most recent n entries, newest last.
func (l *Ledger) Tail(n int) []Contribution {
	l.mu.RLock()
	defer l.mu.RUnlock()

	if n <= 0 || n > len(l.entries) {
		n = len(l.entries)
	}
	out := make([]Contribution, 0, n)
	for _, c := range l.entries[len(l.entries)-n:] {
		out = append(out, copyContribution(c))
	}
	return out
}

// AddReaction bumps a reaction counter on the contribution and returns the
// new count. The second return is false if the id is outside the window.
func (l *Ledger) AddReaction(id, emoji string) (int, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()

	c, ok := l.index[id]
	if !ok {
		return 0, false
	}
	if c.Reactions == nil {
		c.Reactions = make(map[string]int)
	}
	c.Reactions[emoji]++
	return c.Reactions[emoji], true
}

// IncrementComments bumps the comment counter on the contribution.
func (l *Ledger) IncrementComments(id string) (int, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()

	c, ok := l.index[id]
	if !ok {
		return 0, false
	}
	c.CommentCount++
	return c.CommentCount, true
}

// Len returns the number of entries in the current window.
func (l *Ledger) Len() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return len(l.entries)
}

// Entries returns copies of every entry in insertion order, for snapshots.
func (l *Ledger) Entries() []Contribution {
	return l.Tail(0)
}

// Restore replaces the window with entries loaded from a snapshot. Entries
// beyond capacity are trimmed from the front, oldest first.
func (l *Ledger) Restore(entries []Contribution) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if len(entries) > l.cap {
		entries = entries[len(entries)-l.cap:]
	}
	l.entries = make([]*Contribution, 0, len(entries))
	l.index = make(map[string]*Contribution, len(entries))
	for i := range entries {
		c := entries[i]
		l.entries = append(l.entries, &c)
		l.index[c.ID] = &c
	}
}

func copyContribution(c *Contribution) Contribution {
	out := *c
	if c.Reactions != nil {
		out.Reactions = make(map[string]int, len(c.Reactions))
		for k, v := range c.Reactions {
			out.Reactions[k] = v
		}
	}
	return out
}
