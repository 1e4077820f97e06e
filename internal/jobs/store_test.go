package jobs

import (
	"context"
	"testing"
	"time"

	"github.com/opscore/orchestrator/internal/errs"
	"github.com/opscore/orchestrator/pkg/models"
)

func TestMemoryStore_CreatedJobsInvisibleToClaim(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()

	job := &models.WorkerJob{ID: "job-1", RunID: 1, ToolCallID: "tc-1", Task: "df -h"}
	if err := s.Enqueue(ctx, job); err != nil {
		t.Fatalf("enqueue: %v", err)
	}

	claimed, err := s.Claim(ctx, "worker-a")
	if err != nil {
		t.Fatalf("claim: %v", err)
	}
	if claimed != nil {
		t.Fatalf("expected no claimable job while status is created, got %v", claimed)
	}

	if err := s.Admit(ctx, []string{"job-1"}); err != nil {
		t.Fatalf("admit: %v", err)
	}

	claimed, err = s.Claim(ctx, "worker-a")
	if err != nil {
		t.Fatalf("claim: %v", err)
	}
	if claimed == nil || claimed.Status != models.JobRunning {
		t.Fatalf("expected job to be claimed and running, got %+v", claimed)
	}
	if claimed.WorkerID != "worker-a" {
		t.Fatalf("expected worker id stamped, got %q", claimed.WorkerID)
	}
}

func TestMemoryStore_ClaimNeverDoubleAssigns(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()
	job := &models.WorkerJob{ID: "job-1", RunID: 1, Status: models.JobQueued}
	_ = s.Enqueue(ctx, job)

	first, _ := s.Claim(ctx, "w1")
	second, _ := s.Claim(ctx, "w2")

	if first == nil || second != nil {
		t.Fatalf("expected exactly one claimant to win, got first=%v second=%v", first, second)
	}
}

func TestMemoryStore_ReclaimStaleRequeuesThenFails(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()
	job := &models.WorkerJob{ID: "job-1", Status: models.JobRunning, Attempt: 0, LastHeartbeat: time.Now().Add(-time.Hour)}
	_ = s.Enqueue(ctx, job)
	s.jobs["job-1"].Status = models.JobRunning // Enqueue defaults to "created"; force running for the test.

	requeued, failed, err := s.ReclaimStale(ctx, time.Minute, 3)
	if err != nil {
		t.Fatalf("reclaim: %v", err)
	}
	if requeued != 1 || failed != 0 {
		t.Fatalf("expected one requeue, got requeued=%d failed=%d", requeued, failed)
	}

	got, _ := s.Get(ctx, "job-1")
	if got.Attempt != 1 || got.Status != models.JobQueued {
		t.Fatalf("expected attempt=1 status=queued, got %+v", got)
	}

	// Push it past max attempts and make it stale again.
	s.jobs["job-1"].Status = models.JobRunning
	s.jobs["job-1"].Attempt = 3
	s.jobs["job-1"].LastHeartbeat = time.Now().Add(-time.Hour)

	requeued, failed, err = s.ReclaimStale(ctx, time.Minute, 3)
	if err != nil {
		t.Fatalf("reclaim: %v", err)
	}
	if requeued != 0 || failed != 1 {
		t.Fatalf("expected one failure once attempts exhausted, got requeued=%d failed=%d", requeued, failed)
	}
	got, _ = s.Get(ctx, "job-1")
	if got.ErrorKind != string(errs.RetriesExhausted) {
		t.Fatalf("expected retries_exhausted error kind, got %q", got.ErrorKind)
	}
}
