// Package backup periodically copies the snapshot file into a separate
// location as a Reed-Solomon shard set, so state survives loss or partial
// corruption of the primary volume. Generations rotate with a fixed bound.
package backup

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/klauspost/reedsolomon"
)

const (
	dataShards   = 4
	parityShards = 2
)

// manifest describes one backup generation.
type manifest struct {
	Size         int       `json:"size"`
	DataShards   int       `json:"data_shards"`
	ParityShards int       `json:"parity_shards"`
	CreatedAt    time.Time `json:"created_at"`
}

// Rotator writes bounded, erasure-coded backup generations of a source file.
type Rotator struct {
	src  string
	dir  string
	keep int
}

// NewRotator creates a Rotator backing up src into dir, keeping at most
// keep generations.
func NewRotator(src, dir string, keep int) (*Rotator, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create backup dir: %w", err)
	}
	return &Rotator{src: src, dir: dir, keep: keep}, nil
}

// Run writes one new backup generation and prunes old ones. A missing
// source file is not an error; there is simply nothing to back up yet.
func (r *Rotator) Run() error {
	data, err := os.ReadFile(r.src)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("read source: %w", err)
	}

	enc, err := reedsolomon.New(dataShards, parityShards)
	if err != nil {
		return fmt.Errorf("creating reed-solomon encoder: %w", err)
	}
	shards, err := enc.Split(data)
	if err != nil {
		return fmt.Errorf("splitting snapshot into shards: %w", err)
	}
	if err := enc.Encode(shards); err != nil {
		return fmt.Errorf("encoding parity shards: %w", err)
	}

	gen := filepath.Join(r.dir, fmt.Sprintf("gen-%d", time.Now().UnixNano()))
	if err := os.MkdirAll(gen, 0o755); err != nil {
		return fmt.Errorf("create generation dir: %w", err)
	}
	for i, shard := range shards {
		name := filepath.Join(gen, fmt.Sprintf("shard-%d.dat", i))
		if err := os.WriteFile(name, shard, 0o644); err != nil {
			return fmt.Errorf("write shard %d: %w", i, err)
		}
	}

	m := manifest{
		Size:         len(data),
		DataShards:   dataShards,
		ParityShards: parityShards,
		CreatedAt:    time.Now(),
	}
	mdata, err := json.Marshal(m)
	if err != nil {
		return fmt.Errorf("marshal manifest: %w", err)
	}
	if err := os.WriteFile(filepath.Join(gen, "manifest.json"), mdata, 0o644); err != nil {
		return fmt.Errorf("write manifest: %w", err)
	}

	return r.prune()
}

// prune deletes the oldest generations beyond the retention bound.
func (r *Rotator) prune() error {
	gens, err := r.generations()
	if err != nil {
		return err
	}
	for len(gens) > r.keep {
		if err := os.RemoveAll(gens[0]); err != nil {
			return fmt.Errorf("prune %s: %w", gens[0], err)
		}
		gens = gens[1:]
	}
	return nil
}

// generations lists generation directories, oldest first.
func (r *Rotator) generations() ([]string, error) {
	entries, err := os.ReadDir(r.dir)
	if err != nil {
		return nil, fmt.Errorf("list backup dir: %w", err)
	}
	var gens []string
	for _, e := range entries {
		if e.IsDir() {
			gens = append(gens, filepath.Join(r.dir, e.Name()))
		}
	}
	sort.Strings(gens)
	return gens, nil
}

// Restore reconstructs the newest recoverable generation. Up to
// parityShards missing or unreadable shard files are tolerated per
// generation; unrecoverable generations are skipped, newest first.
func Restore(dir string) ([]byte, error) {
	r := &Rotator{dir: dir}
	gens, err := r.generations()
	if err != nil {
		return nil, err
	}
	if len(gens) == 0 {
		return nil, fmt.Errorf("no backup generations in %s", dir)
	}

	for i := len(gens) - 1; i >= 0; i-- {
		data, err := restoreGeneration(gens[i])
		if err == nil {
			return data, nil
		}
	}
	return nil, fmt.Errorf("no recoverable backup generation in %s", dir)
}

func restoreGeneration(gen string) ([]byte, error) {
	mdata, err := os.ReadFile(filepath.Join(gen, "manifest.json"))
	if err != nil {
		return nil, fmt.Errorf("read manifest: %w", err)
	}
	var m manifest
	if err := json.Unmarshal(mdata, &m); err != nil {
		return nil, fmt.Errorf("parse manifest: %w", err)
	}

	total := m.DataShards + m.ParityShards
	shards := make([][]byte, total)
	for i := 0; i < total; i++ {
		// Missing shards stay nil; reconstruction fills them back in.
		shards[i], _ = os.ReadFile(filepath.Join(gen, fmt.Sprintf("shard-%d.dat", i)))
		if len(shards[i]) == 0 {
			shards[i] = nil
		}
	}

	enc, err := reedsolomon.New(m.DataShards, m.ParityShards)
	if err != nil {
		return nil, fmt.Errorf("creating reed-solomon encoder: %w", err)
	}
	if err := enc.Reconstruct(shards); err != nil {
		return nil, fmt.Errorf("reconstructing shards: %w", err)
	}
	ok, err := enc.Verify(shards)
	if err != nil {
		return nil, fmt.Errorf("verifying shards: %w", err)
	}
	if !ok {
		return nil, fmt.Errorf("shard verification failed after reconstruction")
	}

	var result []byte
	for i := 0; i < m.DataShards; i++ {
		result = append(result, shards[i]...)
	}
	if m.Size > len(result) {
		return nil, fmt.Errorf("manifest size %d exceeds reconstructed length %d", m.Size, len(result))
	}
	return result[:m.Size], nil
}
