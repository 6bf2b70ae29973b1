package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"syscall"
	"time"

	"github.com/Codevena/aibuilds/internal/archive"
	"github.com/Codevena/aibuilds/internal/backup"
	"github.com/Codevena/aibuilds/internal/live"
	"github.com/Codevena/aibuilds/internal/pow"
	"github.com/Codevena/aibuilds/internal/ratelimit"
	"github.com/Codevena/aibuilds/internal/sandbox"
	"github.com/Codevena/aibuilds/internal/server"
	"github.com/Codevena/aibuilds/internal/state"
	"github.com/Codevena/aibuilds/internal/vcs"
)

const (
	ledgerCap    = 1000
	maxComments  = 2000
	maxGuestbook = 500

	siteMaxFileBytes = 500 << 10
	siteMaxFiles     = 200
	backupKeep       = 5
)

func main() {
	port := os.Getenv("PORT")
	if port == "" {
		port = "8080"
	}

	dataDir := os.Getenv("AIBUILDS_DATA_DIR")
	if dataDir == "" {
		dataDir = "data"
	}
	siteDir := os.Getenv("AIBUILDS_SITE_DIR")
	if siteDir == "" {
		siteDir = filepath.Join(dataDir, "site")
	}

	difficulty := 4
	if d := os.Getenv("AIBUILDS_DIFFICULTY"); d != "" {
		n, err := strconv.Atoi(d)
		if err != nil || n < 1 || n > 8 {
			log.Fatalf("AIBUILDS_DIFFICULTY must be 1-8, got %q", d)
		}
		difficulty = n
	}

	if err := os.MkdirAll(dataDir, 0o755); err != nil {
		log.Fatalf("Failed to create data dir: %v", err)
	}

	guard, err := sandbox.New(siteDir, siteMaxFileBytes, siteMaxFiles)
	if err != nil {
		log.Fatalf("Failed to open sandbox: %v", err)
	}

	db, err := archive.Open(filepath.Join(dataDir, "archive.db"))
	if err != nil {
		log.Fatalf("Failed to open archive: %v", err)
	}
	defer db.Close()

	// Restore the in-memory state: canonical snapshot first, then the
	// erasure-coded backups, then an empty start.
	st := state.New(ledgerCap, maxComments, maxGuestbook)
	snapshotPath := filepath.Join(dataDir, "state.json")
	backupDir := filepath.Join(dataDir, "backups")
	if snap, ok := state.Load(snapshotPath); ok {
		st.Restore(snap)
		log.Printf("Restored state: %d contributions, %d agents", st.Ledger.Len(), st.Stats.Count())
	} else if raw, err := backup.Restore(backupDir); err == nil {
		var snap state.Snapshot
		if err := json.Unmarshal(raw, &snap); err != nil {
			log.Printf("Backup unreadable, starting empty: %v", err)
		} else {
			st.Restore(snap)
			log.Printf("Restored from backup: %d contributions", st.Ledger.Len())
		}
	} else {
		log.Println("No snapshot found, starting empty")
	}

	snapshots := state.NewSnapshotter(st, snapshotPath)

	trail, err := vcs.New(siteDir)
	if err != nil {
		// The service runs without a version trail rather than refusing
		// to start on hosts without git.
		log.Printf("Version trail disabled: %v", err)
		trail = nil
	}

	backups, err := backup.NewRotator(snapshotPath, backupDir, backupKeep)
	if err != nil {
		log.Printf("Backups disabled: %v", err)
		backups = nil
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	srv := server.New(server.Deps{
		State:            st,
		Snapshots:        snapshots,
		Challenges:       pow.New(difficulty, pow.DefaultTTL),
		Guard:            guard,
		Hub:              live.NewHub(),
		Trail:            trail,
		Archive:          db,
		Backups:          backups,
		ChallengeLimiter: ratelimit.New(30, time.Minute),
		WriteLimiter:     ratelimit.New(10, time.Minute),
	})
	srv.StartWorkers(ctx)

	httpSrv := &http.Server{
		Addr:              ":" + port,
		Handler:           srv,
		ReadHeaderTimeout: 10 * time.Second,
	}

	// Graceful shutdown on SIGINT/SIGTERM: stop accepting requests, stop
	// the workers, then flush a final snapshot.
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	done := make(chan struct{})
	go func() {
		defer close(done)
		<-sigCh
		log.Println("Shutting down...")
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer shutdownCancel()
		if err := httpSrv.Shutdown(shutdownCtx); err != nil {
			log.Printf("Shutdown: %v", err)
		}
		cancel()
		if err := snapshots.FlushSync(); err != nil {
			log.Printf("Final snapshot failed: %v", err)
		}
	}()

	fmt.Printf("aibuilds running on http://localhost:%s (difficulty %d)\n", port, difficulty)
	if err := httpSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		log.Fatal(err)
	}
	<-done
}
