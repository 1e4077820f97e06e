package jobs

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"

	"github.com/opscore/orchestrator/internal/errs"
	"github.com/opscore/orchestrator/pkg/models"
)

func setupMockStore(t *testing.T) (sqlmock.Sqlmock, *CockroachStore) {
	t.Helper()
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("failed to create mock db: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return mock, &CockroachStore{db: db}
}

func TestCockroachStoreEnqueue(t *testing.T) {
	mock, store := setupMockStore(t)
	job := &models.WorkerJob{ID: "job-1", RunID: 42, Task: "investigate", Mode: models.ModeStandard}

	mock.ExpectExec("INSERT INTO worker_jobs").
		WithArgs("job-1", int64(42), "", "investigate", "standard", "", "", "created", 0, sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(1, 1))

	if err := store.Enqueue(context.Background(), job); err != nil {
		t.Fatalf("Enqueue returned error: %v", err)
	}
	if job.Status != models.JobCreated {
		t.Fatalf("expected status to default to created, got %s", job.Status)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatal(err)
	}
}

func TestCockroachStoreEnqueuePropagatesError(t *testing.T) {
	mock, store := setupMockStore(t)
	mock.ExpectExec("INSERT INTO worker_jobs").WillReturnError(errors.New("connection refused"))

	job := &models.WorkerJob{ID: "job-1", Task: "x", Mode: models.ModeStandard}
	if err := store.Enqueue(context.Background(), job); err == nil {
		t.Fatal("expected an error")
	}
}

func TestAdmitTxFlipsCreatedToQueued(t *testing.T) {
	mock, store := setupMockStore(t)
	mock.ExpectBegin()
	mock.ExpectExec("UPDATE worker_jobs SET status").
		WithArgs("queued", "job-1", "created").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	if err := store.Admit(context.Background(), []string{"job-1"}); err != nil {
		t.Fatalf("Admit returned error: %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatal(err)
	}
}

func TestAdmitEmptyIsNoop(t *testing.T) {
	_, store := setupMockStore(t)
	if err := store.Admit(context.Background(), nil); err != nil {
		t.Fatalf("Admit with no ids should be a no-op, got %v", err)
	}
}

func TestCockroachStoreClaimReturnsOldestQueued(t *testing.T) {
	mock, store := setupMockStore(t)
	now := time.Now()
	cols := []string{
		"id", "run_id", "tool_call_id", "task", "mode", "repo_url", "branch", "status", "priority",
		"worker_id", "attempt", "result_text", "error", "error_kind", "created_at", "started_at",
		"finished_at", "last_heartbeat",
	}

	mock.ExpectBegin()
	mock.ExpectQuery("SELECT (.|\n)* FROM worker_jobs").
		WithArgs("queued").
		WillReturnRows(sqlmock.NewRows(cols).AddRow(
			"job-1", int64(1), "", "do it", "standard", "", "", "queued", 0,
			nil, 0, nil, nil, nil, now, nil, nil, nil,
		))
	mock.ExpectExec("UPDATE worker_jobs SET status").
		WithArgs("running", "worker-1", sqlmock.AnyArg(), "job-1").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	job, err := store.Claim(context.Background(), "worker-1")
	if err != nil {
		t.Fatalf("Claim returned error: %v", err)
	}
	if job == nil || job.ID != "job-1" {
		t.Fatalf("expected to claim job-1, got %+v", job)
	}
	if job.Status != models.JobRunning || job.WorkerID != "worker-1" {
		t.Fatalf("expected claimed job to be marked running for worker-1, got %+v", job)
	}
}

func TestCockroachStoreClaimReturnsNilWhenQueueEmpty(t *testing.T) {
	mock, store := setupMockStore(t)
	cols := []string{
		"id", "run_id", "tool_call_id", "task", "mode", "repo_url", "branch", "status", "priority",
		"worker_id", "attempt", "result_text", "error", "error_kind", "created_at", "started_at",
		"finished_at", "last_heartbeat",
	}

	mock.ExpectBegin()
	mock.ExpectQuery("SELECT (.|\n)* FROM worker_jobs").
		WillReturnRows(sqlmock.NewRows(cols))

	job, err := store.Claim(context.Background(), "worker-1")
	if err != nil {
		t.Fatalf("Claim returned error: %v", err)
	}
	if job != nil {
		t.Fatalf("expected no claimable job, got %+v", job)
	}
}

func TestCockroachStoreReclaimStale(t *testing.T) {
	mock, store := setupMockStore(t)

	mock.ExpectExec("UPDATE worker_jobs").
		WithArgs("failed", string(errs.RetriesExhausted), "running", sqlmock.AnyArg(), 3).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("UPDATE worker_jobs").
		WithArgs("queued", "running", sqlmock.AnyArg(), 3).
		WillReturnResult(sqlmock.NewResult(0, 2))

	requeued, failed, err := store.ReclaimStale(context.Background(), time.Minute, 3)
	if err != nil {
		t.Fatalf("ReclaimStale returned error: %v", err)
	}
	if requeued != 2 || failed != 1 {
		t.Fatalf("expected 2 requeued and 1 failed, got requeued=%d failed=%d", requeued, failed)
	}
}

func TestCockroachStoreHeartbeatCompleteFail(t *testing.T) {
	mock, store := setupMockStore(t)

	mock.ExpectExec("UPDATE worker_jobs SET last_heartbeat").
		WithArgs(sqlmock.AnyArg(), "job-1").
		WillReturnResult(sqlmock.NewResult(0, 1))
	if err := store.Heartbeat(context.Background(), "job-1"); err != nil {
		t.Fatalf("Heartbeat returned error: %v", err)
	}

	mock.ExpectExec("UPDATE worker_jobs SET status = \\$1, result_text").
		WithArgs("completed", "done", sqlmock.AnyArg(), "job-1").
		WillReturnResult(sqlmock.NewResult(0, 1))
	if err := store.Complete(context.Background(), "job-1", "done"); err != nil {
		t.Fatalf("Complete returned error: %v", err)
	}

	mock.ExpectExec("UPDATE worker_jobs SET status = \\$1, error_kind").
		WithArgs("failed", string(errs.ToolExecutionError), "boom", sqlmock.AnyArg(), "job-1").
		WillReturnResult(sqlmock.NewResult(0, 1))
	if err := store.Fail(context.Background(), "job-1", errs.ToolExecutionError, "boom"); err != nil {
		t.Fatalf("Fail returned error: %v", err)
	}
}
