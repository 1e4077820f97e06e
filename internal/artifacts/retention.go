package artifacts

import (
	"context"
	"log/slog"
	"time"
)

// WorkerEnumerator lists known worker ids and the age of their oldest
// artifact, and deletes a worker's whole directory. Kept separate from
// Store so the sweeper can be driven by the job queue's own worker list
// rather than forcing Store to track one.
type WorkerEnumerator interface {
	OldestArtifactAge(ctx context.Context, workerID string) (time.Time, error)
	DeleteWorker(ctx context.Context, workerID string) error
}

// RetentionSweeper periodically purges artifact directories for workers
// past a retention window. Grounded on CleanupService's ticker loop,
// but retargeted from TTL-based expiry of inline media
// blobs to a retention-window sweep over immutable worker directories —
// artifacts themselves are never mutated or expired implicitly, only
// deleted in bulk once a worker is old enough that its run has long
// since finished.
type RetentionSweeper struct {
	workers  []string
	enum     WorkerEnumerator
	retain   time.Duration
	interval time.Duration
	logger   *slog.Logger
	stopCh   chan struct{}
}

// NewRetentionSweeper creates a sweeper. workerIDs is refreshed by the
// caller between runs (e.g. from the Job Queue's completed-job listing);
// this package has no view of job state itself.
func NewRetentionSweeper(enum WorkerEnumerator, retain, interval time.Duration, logger *slog.Logger) *RetentionSweeper {
	if interval <= 0 {
		interval = time.Hour
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &RetentionSweeper{enum: enum, retain: retain, interval: interval, logger: logger, stopCh: make(chan struct{})}
}

// SetWorkers replaces the set of worker ids considered on the next sweep.
func (s *RetentionSweeper) SetWorkers(workerIDs []string) {
	s.workers = workerIDs
}

// Start runs the sweep loop until ctx is cancelled or Stop is called.
func (s *RetentionSweeper) Start(ctx context.Context) {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	s.logger.Info("artifact retention sweeper started", "interval", s.interval, "retain", s.retain)
	for {
		select {
		case <-ctx.Done():
			return
		case <-s.stopCh:
			return
		case <-ticker.C:
			s.sweepOnce(ctx)
		}
	}
}

// Stop signals the sweep loop to stop.
func (s *RetentionSweeper) Stop() {
	close(s.stopCh)
}

func (s *RetentionSweeper) sweepOnce(ctx context.Context) {
	cutoff := time.Now().Add(-s.retain)
	purged := 0
	for _, workerID := range s.workers {
		oldest, err := s.enum.OldestArtifactAge(ctx, workerID)
		if err != nil {
			continue
		}
		if oldest.Before(cutoff) {
			if err := s.enum.DeleteWorker(ctx, workerID); err != nil {
				s.logger.Error("artifact retention delete failed", "worker_id", workerID, "error", err)
				continue
			}
			purged++
		}
	}
	if purged > 0 {
		s.logger.Info("artifact retention sweep completed", "purged", purged)
	}
}
