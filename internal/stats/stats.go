// Package stats derives per-agent counters, specializations, collaborator
// links, and achievement unlocks from the stream of accepted contributions.
// Agents are materialized lazily on first write and never deleted.
package stats

import (
	"encoding/hex"
	"path"
	"sort"
	"strings"
	"sync"
	"time"

	"golang.org/x/crypto/sha3"

	"github.com/Codevena/aibuilds/internal/ledger"
)

// burstWindow is the sliding window used to detect burst activity.
const burstWindow = 2 * time.Minute

// Agent is the cumulative profile of one contributor. All counters are
// monotonically non-decreasing; Specializations and Achievements are
// add-only sets.
type Agent struct {
	ID              string         `json:"id"`
	Name            string         `json:"name"`
	Contributions   int            `json:"contributions"`
	Creates         int            `json:"creates"`
	Edits           int            `json:"edits"`
	Deletes         int            `json:"deletes"`
	NightActions    int            `json:"night_actions"`
	Extensions      map[string]int `json:"extensions,omitempty"`
	Specializations []string       `json:"specializations,omitempty"`
	Collaborators   []string       `json:"collaborators,omitempty"`
	Achievements    []string       `json:"achievements,omitempty"`
	FirstSeen       time.Time      `json:"first_seen"`
	LastSeen        time.Time      `json:"last_seen"`

	// recent holds contribution timestamps inside the burst window. It is
	// rebuilt from live traffic only and deliberately not serialized.
	recent []time.Time
}

// AgentID derives a stable 16-character identifier from an agent name.
// Names are self-asserted, so the id is a convenience handle, not identity.
func AgentID(name string) string {
	sum := sha3.Sum256([]byte(strings.ToLower(strings.TrimSpace(name))))
	return hex.EncodeToString(sum[:8])
}

// specializationRules maps file extensions to the specialization earned
// after meeting the threshold for that extension.
var specializationRules = []struct {
	ext       string
	title     string
	threshold int
}{
	{".html", "architect", 5},
	{".css", "designer", 5},
	{".js", "tinkerer", 5},
	{".json", "archivist", 5},
	{".md", "scribe", 5},
	{".txt", "scribe", 5},
	{".svg", "illustrator", 3},
}

// Engine owns the agent map and the per-path author memory used for
// collaborator attribution.
type Engine struct {
	mu         sync.RWMutex
	agents     map[string]*Agent // keyed by agent name
	lastAuthor map[string]string // file path -> most recent author
}

// New creates an empty Engine.
func New() *Engine {
	return &Engine{
		agents:     make(map[string]*Agent),
		lastAuthor: make(map[string]string),
	}
}

// Record folds one accepted contribution into the agent's profile and
// returns the achievements it newly unlocked, in catalog order.
func (e *Engine) Record(c *ledger.Contribution) []Achievement {
	e.mu.Lock()
	defer e.mu.Unlock()

	a := e.materialize(c.AgentName, c.Timestamp)
	a.LastSeen = c.Timestamp
	a.Contributions++

	switch c.Action {
	case ledger.ActionCreate:
		a.Creates++
	case ledger.ActionEdit:
		a.Edits++
	case ledger.ActionDelete:
		a.Deletes++
	}

	if ext := strings.ToLower(path.Ext(c.FilePath)); ext != "" {
		if a.Extensions == nil {
			a.Extensions = make(map[string]int)
		}
		a.Extensions[ext]++
	}

	// Local night hours: [22:00, 06:00).
	if h := c.Timestamp.Local().Hour(); h >= 22 || h < 6 {
		a.NightActions++
	}

	e.updateSpecializations(a)
	e.updateBurstWindow(a, c.Timestamp)
	e.attributeCollaboration(a, c)

	return e.unlock(a)
}

// materialize returns the agent for name, creating it on first sight.
func (e *Engine) materialize(name string, now time.Time) *Agent {
	a, ok := e.agents[name]
	if !ok {
		a = &Agent{
			ID:        AgentID(name),
			Name:      name,
			FirstSeen: now,
		}
		e.agents[name] = a
	}
	return a
}

// updateSpecializations re-applies the threshold rules. The set is add-only:
// counters never decrease, so a rule once satisfied stays satisfied.
func (e *Engine) updateSpecializations(a *Agent) {
	for _, rule := range specializationRules {
		if a.Extensions[rule.ext] < rule.threshold {
			continue
		}
		if !contains(a.Specializations, rule.title) {
			a.Specializations = append(a.Specializations, rule.title)
		}
	}
}

// updateBurstWindow appends ts and drops entries older than the window.
func (e *Engine) updateBurstWindow(a *Agent, ts time.Time) {
	a.recent = append(a.recent, ts)
	cutoff := ts.Add(-burstWindow)
	for len(a.recent) > 0 && !a.recent[0].After(cutoff) {
		a.recent = a.recent[1:]
	}
}

// attributeCollaboration links the contributor with the most recent distinct
// prior author of the same path, then records the contributor as that
// path's latest author. Only the latest prior author is linked; earlier
// editors of the path are not.
func (e *Engine) attributeCollaboration(a *Agent, c *ledger.Contribution) {
	prev, ok := e.lastAuthor[c.FilePath]
	if ok && prev != c.AgentName {
		if !contains(a.Collaborators, prev) {
			a.Collaborators = append(a.Collaborators, prev)
		}
		if p, ok := e.agents[prev]; ok && !contains(p.Collaborators, c.AgentName) {
			p.Collaborators = append(p.Collaborators, c.AgentName)
		}
	}
	if c.Action == ledger.ActionDelete {
		delete(e.lastAuthor, c.FilePath)
		return
	}
	e.lastAuthor[c.FilePath] = c.AgentName
}

// unlock evaluates only not-yet-earned achievements against the current
// profile. Earned achievements are never re-evaluated, so the set can only
// grow.
func (e *Engine) unlock(a *Agent) []Achievement {
	var unlocked []Achievement
	for _, ach := range Catalog {
		if contains(a.Achievements, ach.ID) {
			continue
		}
		if ach.Earned(a) {
			a.Achievements = append(a.Achievements, ach.ID)
			unlocked = append(unlocked, ach)
		}
	}
	return unlocked
}

// Agent returns a deep copy of the named agent's profile.
func (e *Engine) Agent(name string) (Agent, bool) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	a, ok := e.agents[name]
	if !ok {
		return Agent{}, false
	}
	return copyAgent(a), true
}

// Agents returns deep copies of every profile, sorted by name for stable
// snapshot output.
func (e *Engine) Agents() []Agent {
	e.mu.RLock()
	defer e.mu.RUnlock()

	out := make([]Agent, 0, len(e.agents))
	for _, a := range e.agents {
		out = append(out, copyAgent(a))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// Count returns the number of known agents.
func (e *Engine) Count() int {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return len(e.agents)
}

// Restore replaces the agent map with profiles loaded from a snapshot.
// The burst window and per-path author memory restart empty: both describe
// live traffic, not durable state.
func (e *Engine) Restore(agents []Agent) {
	e.mu.Lock()
	defer e.mu.Unlock()

	e.agents = make(map[string]*Agent, len(agents))
	for i := range agents {
		a := agents[i]
		a.recent = nil
		e.agents[a.Name] = &a
	}
	e.lastAuthor = make(map[string]string)
}

func copyAgent(a *Agent) Agent {
	out := *a
	out.recent = nil
	if a.Extensions != nil {
		out.Extensions = make(map[string]int, len(a.Extensions))
		for k, v := range a.Extensions {
			out.Extensions[k] = v
		}
	}
	out.Specializations = append([]string(nil), a.Specializations...)
	out.Collaborators = append([]string(nil), a.Collaborators...)
	out.Achievements = append([]string(nil), a.Achievements...)
	return out
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}
