package state

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"os"
	"sync"
	"time"

	"github.com/Codevena/aibuilds/internal/ledger"
	"github.com/Codevena/aibuilds/internal/stats"
)

// Snapshot is the serialized projection of the whole State. It always fully
// reconstructs the in-memory state as of the write.
type Snapshot struct {
	SavedAt       time.Time             `json:"saved_at"`
	Contributions []ledger.Contribution `json:"contributions"`
	Agents        []stats.Agent         `json:"agents"`
	Comments      []Comment             `json:"comments,omitempty"`
	Guestbook     []GuestbookEntry      `json:"guestbook,omitempty"`
	Votes         map[string]int        `json:"votes,omitempty"`
	Mode          Mode                  `json:"mode"`
}

// Snapshotter serializes State saves through a single worker. Triggers
// coalesce: many requests while a save is in flight collapse into one
// follow-up save, and two saves never interleave on disk.
type Snapshotter struct {
	state   *State
	path    string
	trigger chan struct{}

	// saveMu also covers FlushSync, which bypasses the worker on shutdown.
	saveMu sync.Mutex
}

// NewSnapshotter creates a Snapshotter writing to path.
func NewSnapshotter(st *State, path string) *Snapshotter {
	return &Snapshotter{
		state:   st,
		path:    path,
		trigger: make(chan struct{}, 1),
	}
}

// Path returns the canonical snapshot file path.
func (sn *Snapshotter) Path() string {
	return sn.path
}

// Request schedules a save. It never blocks: if a save is already pending
// the request coalesces into it.
func (sn *Snapshotter) Request() {
	select {
	case sn.trigger <- struct{}{}:
	default:
	}
}

// Run drains the trigger channel until ctx is cancelled. It is the single
// consumer; all snapshot writes happen on this goroutine.
func (sn *Snapshotter) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-sn.trigger:
			if err := sn.save(); err != nil {
				log.Printf("[snapshot] save failed: %v", err)
			}
		}
	}
}

// FlushSync writes a snapshot immediately on the calling goroutine. Used on
// shutdown and fatal exits to minimize loss.
func (sn *Snapshotter) FlushSync() error {
	return sn.save()
}

// save writes the snapshot with the temp/backup/rename protocol: the
// canonical file is always either the previous complete snapshot or the new
// complete snapshot, never a partial write.
func (sn *Snapshotter) save() error {
	sn.saveMu.Lock()
	defer sn.saveMu.Unlock()

	data, err := json.MarshalIndent(sn.state.Snapshot(), "", "  ")
	if err != nil {
		return fmt.Errorf("marshal snapshot: %w", err)
	}

	tmp := sn.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("write temp snapshot: %w", err)
	}

	// Best effort: keep the previous complete snapshot around as .bak.
	if prev, err := os.ReadFile(sn.path); err == nil {
		if err := os.WriteFile(sn.path+".bak", prev, 0o644); err != nil {
			log.Printf("[snapshot] backup copy failed: %v", err)
		}
	}

	if err := os.Rename(tmp, sn.path); err != nil {
		return fmt.Errorf("rename snapshot into place: %w", err)
	}
	return nil
}

// Load reads a snapshot from path, falling back to the .bak copy when the
// canonical file is missing or unparseable. A missing snapshot is not an
// error: the zero Snapshot and ok=false mean "start empty".
func Load(path string) (Snapshot, bool) {
	if snap, err := loadFile(path); err == nil {
		return snap, true
	} else if !os.IsNotExist(err) {
		log.Printf("[snapshot] canonical snapshot unreadable, trying backup: %v", err)
	}

	if snap, err := loadFile(path + ".bak"); err == nil {
		log.Printf("[snapshot] recovered from backup copy %s.bak", path)
		return snap, true
	} else if !os.IsNotExist(err) {
		log.Printf("[snapshot] backup snapshot unreadable: %v", err)
	}

	return Snapshot{}, false
}

func loadFile(path string) (Snapshot, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Snapshot{}, err
	}
	var snap Snapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return Snapshot{}, fmt.Errorf("parse %s: %w", path, err)
	}
	return snap, nil
}
