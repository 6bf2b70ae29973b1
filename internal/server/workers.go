package server

import (
	"context"
	"log"
	"time"
)

// StartWorkers launches all background goroutines: the snapshot and commit
// queue consumers, the websocket hub loop, and the periodic maintenance
// sweeps. Call with a cancellable context for graceful shutdown.
func (s *Server) StartWorkers(ctx context.Context) {
	go s.hub.Run(ctx)
	go s.snapshots.Run(ctx)
	if s.trail != nil {
		go s.trail.Run(ctx)
	}
	go s.runChallengeSweep(ctx)
	go s.runLimiterSweep(ctx)
	if s.backups != nil {
		go s.runBackup(ctx)
	}
}

// runChallengeSweep reclaims expired proof-of-work challenges every minute.
// Correctness never depends on it; redeem re-checks expiry. This only
// bounds memory.
func (s *Server) runChallengeSweep(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-time.After(time.Minute):
			if n := s.challenges.Sweep(); n > 0 {
				log.Printf("[worker] swept %d expired challenges", n)
			}
		}
	}
}

// runLimiterSweep prunes idle rate-limiter entries every minute.
func (s *Server) runLimiterSweep(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-time.After(time.Minute):
			s.challengeLimiter.Sweep()
			s.writeLimiter.Sweep()
		}
	}
}

// runBackup writes an erasure-coded copy of the snapshot to the backup
// location every 10 minutes.
func (s *Server) runBackup(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-time.After(10 * time.Minute):
			if err := s.backups.Run(); err != nil {
				log.Printf("[worker] backup failed: %v", err)
			}
		}
	}
}
