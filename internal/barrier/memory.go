package barrier

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/opscore/orchestrator/internal/jobs"
	"github.com/opscore/orchestrator/pkg/models"
)

// MemoryStore is an in-process Store used for tests and embedded mode. It
// composes a jobs.Store so CreateBarrier can admit jobs as part of the same
// logical two-phase step the Cockroach store performs in one transaction.
type MemoryStore struct {
	mu       sync.Mutex
	nextID   int64
	barriers map[int64]*models.Barrier
	jobRows  map[int64][]*models.BarrierJob // barrierID -> rows
	jobQueue jobs.Store
}

// NewMemoryStore builds an empty barrier store backed by the given job queue.
func NewMemoryStore(jobQueue jobs.Store) *MemoryStore {
	return &MemoryStore{
		barriers: make(map[int64]*models.Barrier),
		jobRows:  make(map[int64][]*models.BarrierJob),
		jobQueue: jobQueue,
	}
}

func (s *MemoryStore) CreateBarrier(ctx context.Context, runID int64, expectedCount int, deadline time.Time, specs []BarrierJobSpec) (*models.Barrier, error) {
	if len(specs) != expectedCount {
		return nil, fmt.Errorf("expected %d job specs, got %d", expectedCount, len(specs))
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	for _, b := range s.barriers {
		if b.RunID == runID && b.Status == models.BarrierWaiting {
			return nil, fmt.Errorf("run %d already has a waiting barrier", runID)
		}
	}

	s.nextID++
	b := &models.Barrier{
		ID: s.nextID, RunID: runID, ExpectedCount: expectedCount,
		Status: models.BarrierWaiting, Deadline: deadline, CreatedAt: time.Now(),
	}
	s.barriers[b.ID] = b

	rows := make([]*models.BarrierJob, 0, len(specs))
	ids := make([]string, 0, len(specs))
	for i, spec := range specs {
		rows = append(rows, &models.BarrierJob{
			ID: int64(i) + 1, BarrierID: b.ID, JobID: spec.JobID,
			ToolCallID: spec.ToolCallID, Status: models.BarrierJobCreated,
		})
		ids = append(ids, spec.JobID)
	}
	s.jobRows[b.ID] = rows

	if err := s.jobQueue.Admit(ctx, ids); err != nil {
		delete(s.barriers, b.ID)
		delete(s.jobRows, b.ID)
		return nil, fmt.Errorf("admit barrier jobs: %w", err)
	}

	bc := *b
	return &bc, nil
}

func (s *MemoryStore) ReportResult(ctx context.Context, barrierID int64, result models.WorkerResult) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	b, ok := s.barriers[barrierID]
	if !ok {
		return false, fmt.Errorf("barrier %d not found", barrierID)
	}
	if b.Status != models.BarrierWaiting {
		return false, nil
	}

	rows := s.jobRows[barrierID]
	var target *models.BarrierJob
	for _, r := range rows {
		if r.JobID == result.JobID {
			target = r
			break
		}
	}
	if target == nil {
		return false, fmt.Errorf("barrier %d has no job %s", barrierID, result.JobID)
	}
	if target.Status != models.BarrierJobCreated && target.Status != models.BarrierJobQueued {
		return false, nil // already reported; idempotent no-op
	}

	target.Status = result.Status
	target.ResultText = result.ResultText
	target.ErrorKind = result.ErrorKind
	target.Error = result.Error
	target.CompletedAt = time.Now()

	b.CompletedCount++
	if b.CompletedCount >= b.ExpectedCount {
		b.Status = models.BarrierResuming
		return true, nil
	}
	return false, nil
}

func (s *MemoryStore) Get(ctx context.Context, barrierID int64) (*models.Barrier, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	b, ok := s.barriers[barrierID]
	if !ok {
		return nil, nil
	}
	bc := *b
	return &bc, nil
}

func (s *MemoryStore) GetByRun(ctx context.Context, runID int64) (*models.Barrier, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, b := range s.barriers {
		if b.RunID == runID && b.Status != models.BarrierComplete {
			bc := *b
			return &bc, nil
		}
	}
	return nil, nil
}

func (s *MemoryStore) ResumeDirective(ctx context.Context, barrierID int64) ([]models.WorkerResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rows := s.jobRows[barrierID]
	out := make([]models.WorkerResult, 0, len(rows))
	for _, r := range rows {
		out = append(out, models.WorkerResult{
			ToolCallID: r.ToolCallID, JobID: r.JobID, Status: r.Status,
			ResultText: r.ResultText, ErrorKind: r.ErrorKind, Error: r.Error,
		})
	}
	sort.Slice(out, func(i, k int) bool { return out[i].ToolCallID < out[k].ToolCallID })
	return out, nil
}

func (s *MemoryStore) MarkCompleted(ctx context.Context, barrierID int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if b, ok := s.barriers[barrierID]; ok {
		b.Status = models.BarrierComplete
	}
	return nil
}

func (s *MemoryStore) SweepDeadlines(ctx context.Context) ([]int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now()
	var resumed []int64
	for id, b := range s.barriers {
		if b.Status != models.BarrierWaiting || b.Deadline.IsZero() || b.Deadline.After(now) {
			continue
		}
		for _, r := range s.jobRows[id] {
			if r.Status == models.BarrierJobCreated || r.Status == models.BarrierJobQueued {
				r.Status = models.BarrierJobTimeout
				r.Error = "worker did not complete before barrier deadline"
				r.CompletedAt = now
			}
		}
		b.Status = models.BarrierResuming
		resumed = append(resumed, id)
	}
	return resumed, nil
}
