// Package vcs keeps a best-effort git audit trail of the sandbox tree: one
// commit per accepted contribution, applied in contribution order by a
// single worker so working-tree operations never overlap. The ledger stays
// authoritative; a failed commit is logged and never retried synchronously.
package vcs

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/exec"
	"path/filepath"
	"strings"

	"github.com/Codevena/aibuilds/internal/ledger"
)

// queueSize bounds pending commits. When the queue is full new jobs are
// dropped with a log line rather than blocking the write path.
const queueSize = 256

// maxMetaLen caps any single piece of commit metadata.
const maxMetaLen = 200

// job is one pending commit.
type job struct {
	author  string
	message string
}

// Trail serializes git commits for a working tree.
type Trail struct {
	dir   string
	queue chan job
}

// New ensures dir is a git repository and returns a Trail for it.
func New(dir string) (*Trail, error) {
	if _, err := exec.LookPath("git"); err != nil {
		return nil, fmt.Errorf("git not found in PATH: %w", err)
	}
	if _, err := os.Stat(filepath.Join(dir, ".git")); err != nil {
		out, err := runGit(dir, "init")
		if err != nil {
			return nil, fmt.Errorf("git init: %v (%s)", err, out)
		}
	}
	return &Trail{
		dir:   dir,
		queue: make(chan job, queueSize),
	}, nil
}

// Enqueue schedules a commit for an accepted contribution. Never blocks.
func (t *Trail) Enqueue(c *ledger.Contribution) {
	j := job{
		author:  Sanitize(c.AgentName),
		message: commitMessage(c),
	}
	select {
	case t.queue <- j:
	default:
		log.Printf("[vcs] queue full, dropping commit for %s", c.ID)
	}
}

// Run drains the commit queue until ctx is cancelled. It is the single
// consumer; commits apply strictly in enqueue order.
func (t *Trail) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case j := <-t.queue:
			if err := t.commit(j); err != nil {
				log.Printf("[vcs] commit failed: %v", err)
			}
		}
	}
}

// Pending returns the number of queued commits. Used for health reporting.
func (t *Trail) Pending() int {
	return len(t.queue)
}

// commit stages the whole tree and records one commit. --allow-empty keeps
// the trail one-commit-per-contribution even when a write was
// byte-identical to the previous content.
func (t *Trail) commit(j job) error {
	if out, err := runGit(t.dir, "add", "-A"); err != nil {
		return fmt.Errorf("git add: %v (%s)", err, out)
	}

	author := j.author
	if author == "" {
		author = "anonymous"
	}
	out, err := runGit(t.dir,
		"-c", "user.name="+author,
		"-c", "user.email="+authorEmail(author),
		"commit", "--allow-empty", "-m", j.message)
	if err != nil {
		return fmt.Errorf("git commit: %v (%s)", err, out)
	}
	return nil
}

func runGit(dir string, args ...string) (string, error) {
	cmd := exec.Command("git", args...)
	cmd.Dir = dir
	out, err := cmd.CombinedOutput()
	return strings.TrimSpace(string(out)), err
}

// commitMessage renders "action path: message" from sanitized fields.
func commitMessage(c *ledger.Contribution) string {
	msg := fmt.Sprintf("%s %s", Sanitize(c.Action), Sanitize(c.FilePath))
	if m := Sanitize(c.Message); m != "" {
		msg += ": " + m
	}
	return msg
}

// authorEmail derives a synthetic commit email from a sanitized author name.
func authorEmail(author string) string {
	slug := strings.ToLower(strings.ReplaceAll(author, " ", "-"))
	return slug + "@agents.invalid"
}

// Sanitize strips control characters (including newlines) from commit
// metadata so callers cannot inject headers or extra log lines, and caps
// the length.
func Sanitize(s string) string {
	var b strings.Builder
	for _, r := range s {
		if r < 0x20 || r == 0x7f {
			continue
		}
		b.WriteRune(r)
	}
	out := strings.TrimSpace(b.String())
	if len(out) > maxMetaLen {
		out = out[:maxMetaLen]
	}
	return out
}
