// Package sandbox confines all file mutations to a single jailed directory
// tree. Every rejection happens before any byte touches disk.
package sandbox

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path"
	"path/filepath"
	"strings"
)

var (
	// ErrEscape means the path would resolve outside the sandbox root.
	// Callers treat it as an abuse signal, not a plain validation error.
	ErrEscape = errors.New("path escapes sandbox root")

	// ErrEmptyPath means no usable path was supplied.
	ErrEmptyPath = errors.New("empty path")

	// ErrBadExtension means the file type is not on the allow-list.
	ErrBadExtension = errors.New("file extension not allowed")

	// ErrTooLarge means the content exceeds the per-file size cap.
	ErrTooLarge = errors.New("content exceeds size limit")

	// ErrCapacity means the sandbox already holds the maximum file count.
	ErrCapacity = errors.New("sandbox file count limit reached")

	// ErrNotFound means the target file does not exist in the sandbox.
	ErrNotFound = errors.New("file not found")

	// ErrExists means a create targeted a path that already holds a file.
	ErrExists = errors.New("file already exists")
)

// allowedExtensions is the fixed allow-list of file types agents may write.
var allowedExtensions = map[string]bool{
	".html": true,
	".css":  true,
	".js":   true,
	".json": true,
	".md":   true,
	".txt":  true,
	".svg":  true,
}

// Guard validates and applies file operations inside a jailed root.
type Guard struct {
	root     string
	maxBytes int
	maxFiles int
}

// New creates a Guard rooted at dir, creating the directory if needed.
func New(dir string, maxBytes, maxFiles int) (*Guard, error) {
	abs, err := filepath.Abs(dir)
	if err != nil {
		return nil, fmt.Errorf("resolve sandbox root: %w", err)
	}
	if err := os.MkdirAll(abs, 0o755); err != nil {
		return nil, fmt.Errorf("create sandbox root: %w", err)
	}
	return &Guard{root: abs, maxBytes: maxBytes, maxFiles: maxFiles}, nil
}

// Root returns the absolute sandbox root directory.
func (g *Guard) Root() string {
	return g.root
}

// CleanPath normalizes a sandbox-relative path and rejects anything that
// could resolve outside the root: absolute paths, traversal segments, or a
// cleaned form that escapes upward.
func (g *Guard) CleanPath(p string) (string, error) {
	p = strings.TrimSpace(strings.ReplaceAll(p, "\\", "/"))
	if p == "" {
		return "", ErrEmptyPath
	}
	if strings.HasPrefix(p, "/") || strings.Contains(p, "\x00") {
		return "", ErrEscape
	}

	cleaned := path.Clean(p)
	if cleaned == "." || cleaned == ".." || strings.HasPrefix(cleaned, "../") {
		return "", ErrEscape
	}

	// Belt and braces: re-check against the resolved absolute form.
	abs := filepath.Join(g.root, filepath.FromSlash(cleaned))
	if abs != g.root && !strings.HasPrefix(abs, g.root+string(filepath.Separator)) {
		return "", ErrEscape
	}
	return cleaned, nil
}

// ValidateWrite checks path, extension, size, and (for creates) capacity.
// It returns the cleaned relative path and performs no filesystem writes.
func (g *Guard) ValidateWrite(p string, content []byte, create bool) (string, error) {
	rel, err := g.CleanPath(p)
	if err != nil {
		return "", err
	}
	if !allowedExtensions[strings.ToLower(path.Ext(rel))] {
		return "", ErrBadExtension
	}
	if len(content) > g.maxBytes {
		return "", ErrTooLarge
	}
	if create {
		if g.Exists(rel) {
			return "", ErrExists
		}
		if g.FileCount() >= g.maxFiles {
			return "", ErrCapacity
		}
	} else if !g.Exists(rel) {
		return "", ErrNotFound
	}
	return rel, nil
}

// Write stores content at the cleaned relative path, creating parent
// directories as needed. Callers must have validated rel first.
func (g *Guard) Write(rel string, content []byte) error {
	abs := filepath.Join(g.root, filepath.FromSlash(rel))
	if err := os.MkdirAll(filepath.Dir(abs), 0o755); err != nil {
		return fmt.Errorf("create parent dirs: %w", err)
	}
	if err := os.WriteFile(abs, content, 0o644); err != nil {
		return fmt.Errorf("write %s: %w", rel, err)
	}
	return nil
}

// Delete removes the file at the cleaned relative path.
func (g *Guard) Delete(rel string) error {
	abs := filepath.Join(g.root, filepath.FromSlash(rel))
	if err := os.Remove(abs); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return ErrNotFound
		}
		return fmt.Errorf("delete %s: %w", rel, err)
	}
	return nil
}

// Read returns the content of the file at the cleaned relative path.
func (g *Guard) Read(rel string) ([]byte, error) {
	abs := filepath.Join(g.root, filepath.FromSlash(rel))
	data, err := os.ReadFile(abs)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("read %s: %w", rel, err)
	}
	return data, nil
}

// Exists reports whether a regular file exists at the cleaned relative path.
func (g *Guard) Exists(rel string) bool {
	info, err := os.Stat(filepath.Join(g.root, filepath.FromSlash(rel)))
	return err == nil && info.Mode().IsRegular()
}

// FileCount walks the sandbox and counts regular files.
func (g *Guard) FileCount() int {
	count := 0
	_ = filepath.WalkDir(g.root, func(_ string, d fs.DirEntry, err error) error {
		if err != nil {
			return nil
		}
		if d.Type().IsRegular() {
			count++
		}
		return nil
	})
	return count
}
