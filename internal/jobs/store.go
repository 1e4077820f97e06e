// Package jobs implements the Job Queue (component F): a durable queue of
// worker jobs with two-phase admission, atomic claim, heartbeat-based
// liveness, and stale-job reclaim. It generalizes jobs.Store/MemoryStore
// (a flat tool-execution ledger) into the richer
// job state machine requires.
package jobs

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/opscore/orchestrator/internal/errs"
	"github.com/opscore/orchestrator/pkg/models"
)

// Store is the Job Queue contract.
type Store interface {
	// Enqueue inserts jobs in status "created" — invisible to Claim until
	// the barrier transaction flips them to "queued" (two-phase admission).
	Enqueue(ctx context.Context, job *models.WorkerJob) error

	// Admit flips a batch of "created" jobs to "queued". Callers outside
	// the barrier package should not call this directly; it exists so the
	// barrier coordinator can compose it inside its own transaction for
	// the SQL-backed store, and the memory store can offer the same
	// two-step shape for tests.
	Admit(ctx context.Context, ids []string) error

	// Claim atomically selects the oldest "queued" job (highest priority
	// first), marks it "running", and stamps workerID + last_heartbeat.
	Claim(ctx context.Context, workerID string) (*models.WorkerJob, error)

	Heartbeat(ctx context.Context, jobID string) error
	Complete(ctx context.Context, jobID, resultText string) error
	Fail(ctx context.Context, jobID string, kind errs.Kind, message string) error
	Get(ctx context.Context, jobID string) (*models.WorkerJob, error)
	ListByRun(ctx context.Context, runID int64) ([]*models.WorkerJob, error)

	// ReclaimStale requeues "running" jobs whose heartbeat is older than
	// staleAfter, incrementing their attempt counter; jobs that have
	// exceeded maxAttempts fail with errs.RetriesExhausted instead.
	ReclaimStale(ctx context.Context, staleAfter time.Duration, maxAttempts int) (requeued, failed int, err error)
}

// MemoryStore is an in-process Store used for tests and embedded mode.
type MemoryStore struct {
	mu   sync.Mutex
	jobs map[string]*models.WorkerJob
}

// NewMemoryStore returns an empty in-memory job queue.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{jobs: make(map[string]*models.WorkerJob)}
}

func clone(j *models.WorkerJob) *models.WorkerJob {
	if j == nil {
		return nil
	}
	c := *j
	return &c
}

func (s *MemoryStore) Enqueue(ctx context.Context, job *models.WorkerJob) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if job.Status == "" {
		job.Status = models.JobCreated
	}
	if job.CreatedAt.IsZero() {
		job.CreatedAt = time.Now()
	}
	s.jobs[job.ID] = clone(job)
	return nil
}

func (s *MemoryStore) Admit(ctx context.Context, ids []string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, id := range ids {
		if job, ok := s.jobs[id]; ok && job.Status == models.JobCreated {
			job.Status = models.JobQueued
		}
	}
	return nil
}

func (s *MemoryStore) Claim(ctx context.Context, workerID string) (*models.WorkerJob, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var candidates []*models.WorkerJob
	for _, j := range s.jobs {
		if j.Status == models.JobQueued {
			candidates = append(candidates, j)
		}
	}
	if len(candidates) == 0 {
		return nil, nil
	}
	sort.Slice(candidates, func(i, k int) bool {
		if candidates[i].Priority != candidates[k].Priority {
			return candidates[i].Priority > candidates[k].Priority
		}
		return candidates[i].CreatedAt.Before(candidates[k].CreatedAt)
	})

	chosen := candidates[0]
	chosen.Status = models.JobRunning
	chosen.WorkerID = workerID
	chosen.LastHeartbeat = time.Now()
	chosen.StartedAt = time.Now()
	return clone(chosen), nil
}

func (s *MemoryStore) Heartbeat(ctx context.Context, jobID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if j, ok := s.jobs[jobID]; ok {
		j.LastHeartbeat = time.Now()
	}
	return nil
}

func (s *MemoryStore) Complete(ctx context.Context, jobID, resultText string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if j, ok := s.jobs[jobID]; ok {
		j.Status = models.JobCompleted
		j.ResultText = resultText
		j.FinishedAt = time.Now()
	}
	return nil
}

func (s *MemoryStore) Fail(ctx context.Context, jobID string, kind errs.Kind, message string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if j, ok := s.jobs[jobID]; ok {
		j.Status = models.JobFailed
		j.ErrorKind = string(kind)
		j.Error = message
		j.FinishedAt = time.Now()
	}
	return nil
}

func (s *MemoryStore) Get(ctx context.Context, jobID string) (*models.WorkerJob, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return clone(s.jobs[jobID]), nil
}

func (s *MemoryStore) ListByRun(ctx context.Context, runID int64) ([]*models.WorkerJob, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*models.WorkerJob
	for _, j := range s.jobs {
		if j.RunID == runID {
			out = append(out, clone(j))
		}
	}
	sort.Slice(out, func(i, k int) bool { return out[i].CreatedAt.Before(out[k].CreatedAt) })
	return out, nil
}

func (s *MemoryStore) ReclaimStale(ctx context.Context, staleAfter time.Duration, maxAttempts int) (int, int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	cutoff := time.Now().Add(-staleAfter)
	var requeued, failed int
	for _, j := range s.jobs {
		if j.Status != models.JobRunning || j.LastHeartbeat.After(cutoff) {
			continue
		}
		j.Attempt++
		if j.Attempt > maxAttempts {
			j.Status = models.JobFailed
			j.ErrorKind = string(errs.RetriesExhausted)
			j.Error = "worker heartbeat lapsed past retry budget"
			j.FinishedAt = time.Now()
			failed++
			continue
		}
		j.Status = models.JobQueued
		j.WorkerID = ""
		requeued++
	}
	return requeued, failed, nil
}
