package backup

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func writeSource(t *testing.T, content []byte) string {
	t.Helper()
	src := filepath.Join(t.TempDir(), "state.json")
	if err := os.WriteFile(src, content, 0o644); err != nil {
		t.Fatalf("write source: %v", err)
	}
	return src
}

func TestRunRestore_RoundTrip(t *testing.T) {
	content := []byte(`{"contributions":[{"id":"c1"}],"agents":[]}`)
	src := writeSource(t, content)
	dir := t.TempDir()

	r, err := NewRotator(src, dir, 3)
	if err != nil {
		t.Fatalf("NewRotator: %v", err)
	}
	if err := r.Run(); err != nil {
		t.Fatalf("Run: %v", err)
	}

	got, err := Restore(dir)
	if err != nil {
		t.Fatalf("Restore: %v", err)
	}
	if !bytes.Equal(got, content) {
		t.Fatalf("restored %q, want %q", got, content)
	}
}

func TestRestore_SurvivesTwoLostShards(t *testing.T) {
	content := bytes.Repeat([]byte("the canvas remembers. "), 100)
	src := writeSource(t, content)
	dir := t.TempDir()

	r, err := NewRotator(src, dir, 3)
	if err != nil {
		t.Fatalf("NewRotator: %v", err)
	}
	if err := r.Run(); err != nil {
		t.Fatalf("Run: %v", err)
	}

	gens, err := r.generations()
	if err != nil || len(gens) != 1 {
		t.Fatalf("generations = %v (%v)", gens, err)
	}
	for _, name := range []string{"shard-0.dat", "shard-4.dat"} {
		if err := os.Remove(filepath.Join(gens[0], name)); err != nil {
			t.Fatalf("remove %s: %v", name, err)
		}
	}

	got, err := Restore(dir)
	if err != nil {
		t.Fatalf("Restore with 2 lost shards: %v", err)
	}
	if !bytes.Equal(got, content) {
		t.Fatal("reconstructed content differs from original")
	}
}

func TestRun_RotationBound(t *testing.T) {
	src := writeSource(t, []byte("v1"))
	dir := t.TempDir()

	r, err := NewRotator(src, dir, 2)
	if err != nil {
		t.Fatalf("NewRotator: %v", err)
	}
	for i := 0; i < 5; i++ {
		if err := r.Run(); err != nil {
			t.Fatalf("Run %d: %v", i, err)
		}
		time.Sleep(2 * time.Millisecond) // distinct generation names
	}

	gens, err := r.generations()
	if err != nil {
		t.Fatalf("generations: %v", err)
	}
	if len(gens) != 2 {
		t.Fatalf("kept %d generations, want 2", len(gens))
	}
}

func TestRun_MissingSourceIsNoop(t *testing.T) {
	dir := t.TempDir()
	r, err := NewRotator(filepath.Join(t.TempDir(), "absent.json"), dir, 2)
	if err != nil {
		t.Fatalf("NewRotator: %v", err)
	}
	if err := r.Run(); err != nil {
		t.Fatalf("Run with missing source: %v", err)
	}
	gens, _ := r.generations()
	if len(gens) != 0 {
		t.Fatalf("generations = %d, want 0", len(gens))
	}
}
