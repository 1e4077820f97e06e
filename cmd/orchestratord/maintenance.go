package main

import (
	"context"
	"time"

	"github.com/opscore/orchestrator/internal/artifacts"
	"github.com/opscore/orchestrator/internal/barrier"
	"github.com/opscore/orchestrator/internal/jobs"
)

// maintenanceLoops periodically drives the sweep operations the job queue,
// barrier store, and (when the local artifact backend is in use) artifact
// retention expose but cannot schedule themselves: reclaiming jobs whose
// worker stopped heartbeating, timing out barriers past their deadline, and
// purging artifact directories for workers past the retention window. All
// three are cheap, idempotent, and safe to run from a single ticker per
// concern regardless of how many orchestratord replicas are running against
// the same database.
type maintenanceLoops struct {
	jobs      jobs.Store
	barriers  barrier.Store
	retention *artifacts.RetentionSweeper

	claimTimeout    time.Duration
	reclaimInterval time.Duration
	maxAttempts     int
	sweepInterval   time.Duration

	logger interface {
		Info(ctx context.Context, msg string, kv ...any)
		Error(ctx context.Context, msg string, kv ...any)
	}

	stop chan struct{}
}

func (m *maintenanceLoops) start(ctx context.Context) {
	m.stop = make(chan struct{})
	go m.runReclaim(ctx)
	go m.runSweep(ctx)
	if m.retention != nil {
		go m.retention.Start(ctx)
	}
}

func (m *maintenanceLoops) close() {
	if m.stop != nil {
		close(m.stop)
	}
	if m.retention != nil {
		m.retention.Stop()
	}
}

func (m *maintenanceLoops) runReclaim(ctx context.Context) {
	ticker := time.NewTicker(m.reclaimInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-m.stop:
			return
		case <-ticker.C:
			requeued, failed, err := m.jobs.ReclaimStale(ctx, m.claimTimeout, m.maxAttempts)
			if err != nil {
				m.logger.Error(ctx, "job reclaim sweep failed", "error", err)
				continue
			}
			if requeued > 0 || failed > 0 {
				m.logger.Info(ctx, "job reclaim sweep completed", "requeued", requeued, "failed", failed)
			}
		}
	}
}

func (m *maintenanceLoops) runSweep(ctx context.Context) {
	ticker := time.NewTicker(m.sweepInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-m.stop:
			return
		case <-ticker.C:
			timedOut, err := m.barriers.SweepDeadlines(ctx)
			if err != nil {
				m.logger.Error(ctx, "barrier deadline sweep failed", "error", err)
				continue
			}
			if len(timedOut) > 0 {
				m.logger.Info(ctx, "barrier deadline sweep completed", "barriers", timedOut)
			}
		}
	}
}
