package barrier

import (
	"context"
	"testing"
	"time"

	"github.com/opscore/orchestrator/internal/jobs"
	"github.com/opscore/orchestrator/pkg/models"
)

func seedJobs(t *testing.T, js *jobs.MemoryStore, ids ...string) {
	t.Helper()
	for _, id := range ids {
		if err := js.Enqueue(context.Background(), &models.WorkerJob{ID: id}); err != nil {
			t.Fatalf("enqueue %s: %v", id, err)
		}
	}
}

func TestCreateBarrier_AdmitsJobsAtomically(t *testing.T) {
	js := jobs.NewMemoryStore()
	seedJobs(t, js, "job-1", "job-2")
	bs := NewMemoryStore(js)
	ctx := context.Background()

	specs := []BarrierJobSpec{{JobID: "job-1", ToolCallID: "tc-1"}, {JobID: "job-2", ToolCallID: "tc-2"}}
	b, err := bs.CreateBarrier(ctx, 1, 2, time.Time{}, specs)
	if err != nil {
		t.Fatalf("create barrier: %v", err)
	}
	if b.Status != models.BarrierWaiting || b.ExpectedCount != 2 {
		t.Fatalf("unexpected barrier %+v", b)
	}

	for _, id := range []string{"job-1", "job-2"} {
		job, _ := js.Get(ctx, id)
		if job.Status != models.JobQueued {
			t.Fatalf("expected job %s queued after admission, got %s", id, job.Status)
		}
	}
}

func TestCreateBarrier_RejectsSecondWaitingBarrierForRun(t *testing.T) {
	js := jobs.NewMemoryStore()
	seedJobs(t, js, "job-1", "job-2")
	bs := NewMemoryStore(js)
	ctx := context.Background()

	if _, err := bs.CreateBarrier(ctx, 7, 1, time.Time{}, []BarrierJobSpec{{JobID: "job-1", ToolCallID: "tc-1"}}); err != nil {
		t.Fatalf("first barrier: %v", err)
	}
	if _, err := bs.CreateBarrier(ctx, 7, 1, time.Time{}, []BarrierJobSpec{{JobID: "job-2", ToolCallID: "tc-2"}}); err == nil {
		t.Fatalf("expected error creating a second waiting barrier for the same run")
	}
}

func TestReportResult_ResumesOnlyOnLastCompletion(t *testing.T) {
	js := jobs.NewMemoryStore()
	seedJobs(t, js, "job-1", "job-2", "job-3")
	bs := NewMemoryStore(js)
	ctx := context.Background()

	specs := []BarrierJobSpec{
		{JobID: "job-1", ToolCallID: "tc-1"},
		{JobID: "job-2", ToolCallID: "tc-2"},
		{JobID: "job-3", ToolCallID: "tc-3"},
	}
	b, err := bs.CreateBarrier(ctx, 1, 3, time.Time{}, specs)
	if err != nil {
		t.Fatalf("create barrier: %v", err)
	}

	resumed, err := bs.ReportResult(ctx, b.ID, models.WorkerResult{JobID: "job-1", ToolCallID: "tc-1", Status: models.BarrierJobComplete})
	if err != nil || resumed {
		t.Fatalf("expected no resume after first completion, got resumed=%v err=%v", resumed, err)
	}
	resumed, err = bs.ReportResult(ctx, b.ID, models.WorkerResult{JobID: "job-2", ToolCallID: "tc-2", Status: models.BarrierJobComplete})
	if err != nil || resumed {
		t.Fatalf("expected no resume after second completion, got resumed=%v err=%v", resumed, err)
	}
	resumed, err = bs.ReportResult(ctx, b.ID, models.WorkerResult{JobID: "job-3", ToolCallID: "tc-3", Status: models.BarrierJobComplete})
	if err != nil || !resumed {
		t.Fatalf("expected resume after third completion, got resumed=%v err=%v", resumed, err)
	}

	// A duplicate report (e.g. retried delivery) must not resume twice or error.
	resumed, err = bs.ReportResult(ctx, b.ID, models.WorkerResult{JobID: "job-3", ToolCallID: "tc-3", Status: models.BarrierJobComplete})
	if err != nil || resumed {
		t.Fatalf("expected duplicate report to no-op, got resumed=%v err=%v", resumed, err)
	}

	directive, err := bs.ResumeDirective(ctx, b.ID)
	if err != nil {
		t.Fatalf("resume directive: %v", err)
	}
	if len(directive) != 3 {
		t.Fatalf("expected 3 results in resume directive, got %d", len(directive))
	}
}

func TestSweepDeadlines_TimesOutIncompleteJobs(t *testing.T) {
	js := jobs.NewMemoryStore()
	seedJobs(t, js, "job-1", "job-2")
	bs := NewMemoryStore(js)
	ctx := context.Background()

	past := time.Now().Add(-time.Minute)
	b, err := bs.CreateBarrier(ctx, 1, 2, past, []BarrierJobSpec{
		{JobID: "job-1", ToolCallID: "tc-1"}, {JobID: "job-2", ToolCallID: "tc-2"},
	})
	if err != nil {
		t.Fatalf("create barrier: %v", err)
	}

	resumed, err := bs.SweepDeadlines(ctx)
	if err != nil {
		t.Fatalf("sweep: %v", err)
	}
	if len(resumed) != 1 || resumed[0] != b.ID {
		t.Fatalf("expected barrier %d to resume via sweep, got %v", b.ID, resumed)
	}

	got, _ := bs.Get(ctx, b.ID)
	if got.Status != models.BarrierResuming {
		t.Fatalf("expected barrier to be resuming after sweep, got %s", got.Status)
	}

	directive, _ := bs.ResumeDirective(ctx, b.ID)
	for _, d := range directive {
		if d.Status != models.BarrierJobTimeout {
			t.Fatalf("expected all jobs timed out, got %+v", d)
		}
	}
}
