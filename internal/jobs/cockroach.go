package jobs

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "github.com/lib/pq"

	"github.com/opscore/orchestrator/internal/errs"
	"github.com/opscore/orchestrator/pkg/models"
)

// CockroachConfig holds the connection pool tuning shared across the
// core's SQL-backed stores.
type CockroachConfig struct {
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
	ConnMaxIdleTime time.Duration
	ConnectTimeout  time.Duration
}

// DefaultCockroachConfig returns the pool defaults used across the core.
func DefaultCockroachConfig() *CockroachConfig {
	return &CockroachConfig{
		MaxOpenConns:    10,
		MaxIdleConns:    5,
		ConnMaxLifetime: 5 * time.Minute,
		ConnMaxIdleTime: 2 * time.Minute,
		ConnectTimeout:  10 * time.Second,
	}
}

// CockroachStore implements Store against the worker_jobs table.
type CockroachStore struct {
	db *sql.DB
}

// NewCockroachStoreFromDSN opens a pooled connection and verifies it.
func NewCockroachStoreFromDSN(dsn string, config *CockroachConfig) (*CockroachStore, error) {
	if dsn == "" {
		return nil, fmt.Errorf("dsn is required")
	}
	if config == nil {
		config = DefaultCockroachConfig()
	}

	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	db.SetMaxOpenConns(config.MaxOpenConns)
	db.SetMaxIdleConns(config.MaxIdleConns)
	db.SetConnMaxLifetime(config.ConnMaxLifetime)
	db.SetConnMaxIdleTime(config.ConnMaxIdleTime)

	ctx, cancel := context.WithTimeout(context.Background(), config.ConnectTimeout)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}
	return &CockroachStore{db: db}, nil
}

// Close releases the connection pool.
func (s *CockroachStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func (s *CockroachStore) Enqueue(ctx context.Context, job *models.WorkerJob) error {
	if job.Status == "" {
		job.Status = models.JobCreated
	}
	if job.CreatedAt.IsZero() {
		job.CreatedAt = time.Now()
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO worker_jobs (id, run_id, tool_call_id, task, mode, repo_url, branch, status, priority, created_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10)
	`, job.ID, job.RunID, job.ToolCallID, job.Task, string(job.Mode), job.RepoURL, job.Branch, string(job.Status), job.Priority, job.CreatedAt)
	if err != nil {
		return fmt.Errorf("enqueue job: %w", err)
	}
	return nil
}

// Admit flips a batch of "created" jobs to "queued". Called by the barrier
// coordinator inside its own two-phase-commit transaction via AdmitTx; this
// standalone form is for callers (tests, embedded mode) outside a barrier.
func (s *CockroachStore) Admit(ctx context.Context, ids []string) error {
	if len(ids) == 0 {
		return nil
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback() //nolint:errcheck
	if err := AdmitTx(ctx, tx, ids); err != nil {
		return err
	}
	return tx.Commit()
}

// AdmitTx flips "created" jobs to "queued" within a caller-owned
// transaction. The barrier coordinator calls this from inside the same
// transaction that installs the barrier row, which is the load-bearing
// two-phase-commit rule.
func AdmitTx(ctx context.Context, tx *sql.Tx, ids []string) error {
	for _, id := range ids {
		if _, err := tx.ExecContext(ctx,
			`UPDATE worker_jobs SET status = $1 WHERE id = $2 AND status = $3`,
			string(models.JobQueued), id, string(models.JobCreated),
		); err != nil {
			return fmt.Errorf("admit job %s: %w", id, err)
		}
	}
	return nil
}

// Claim implements the dialect-specific atomic claim: select the oldest
// queued job (respecting priority), mark it running, stamp the worker id
// and heartbeat — all in one transaction. Grounded directly on
// tasks.CockroachStore.AcquireExecution's SELECT ... FOR UPDATE SKIP LOCKED
// pattern.
func (s *CockroachStore) Claim(ctx context.Context, workerID string) (*models.WorkerJob, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin claim tx: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	row := tx.QueryRowContext(ctx, `
		SELECT id, run_id, tool_call_id, task, mode, repo_url, branch, status, priority, worker_id,
		       attempt, result_text, error, error_kind, created_at, started_at, finished_at, last_heartbeat
		FROM worker_jobs
		WHERE status = $1
		ORDER BY priority DESC, created_at ASC
		LIMIT 1
		FOR UPDATE SKIP LOCKED
	`, string(models.JobQueued))

	job, err := scanJob(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("select claimable job: %w", err)
	}

	now := time.Now()
	if _, err := tx.ExecContext(ctx, `
		UPDATE worker_jobs SET status = $1, worker_id = $2, last_heartbeat = $3, started_at = $3
		WHERE id = $4
	`, string(models.JobRunning), workerID, now, job.ID); err != nil {
		return nil, fmt.Errorf("mark job running: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit claim: %w", err)
	}

	job.Status = models.JobRunning
	job.WorkerID = workerID
	job.LastHeartbeat = now
	job.StartedAt = now
	return job, nil
}

func (s *CockroachStore) Heartbeat(ctx context.Context, jobID string) error {
	_, err := s.db.ExecContext(ctx, `UPDATE worker_jobs SET last_heartbeat = $1 WHERE id = $2`, time.Now(), jobID)
	return err
}

func (s *CockroachStore) Complete(ctx context.Context, jobID, resultText string) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE worker_jobs SET status = $1, result_text = $2, finished_at = $3 WHERE id = $4
	`, string(models.JobCompleted), resultText, time.Now(), jobID)
	return err
}

func (s *CockroachStore) Fail(ctx context.Context, jobID string, kind errs.Kind, message string) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE worker_jobs SET status = $1, error_kind = $2, error = $3, finished_at = $4 WHERE id = $5
	`, string(models.JobFailed), string(kind), message, time.Now(), jobID)
	return err
}

func (s *CockroachStore) Get(ctx context.Context, jobID string) (*models.WorkerJob, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, run_id, tool_call_id, task, mode, repo_url, branch, status, priority, worker_id,
		       attempt, result_text, error, error_kind, created_at, started_at, finished_at, last_heartbeat
		FROM worker_jobs WHERE id = $1
	`, jobID)
	job, err := scanJob(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	return job, err
}

func (s *CockroachStore) ListByRun(ctx context.Context, runID int64) ([]*models.WorkerJob, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, run_id, tool_call_id, task, mode, repo_url, branch, status, priority, worker_id,
		       attempt, result_text, error, error_kind, created_at, started_at, finished_at, last_heartbeat
		FROM worker_jobs WHERE run_id = $1 ORDER BY created_at ASC
	`, runID)
	if err != nil {
		return nil, fmt.Errorf("list jobs by run: %w", err)
	}
	defer rows.Close()

	var out []*models.WorkerJob
	for rows.Next() {
		job, err := scanJob(rows)
		if err != nil {
			return nil, fmt.Errorf("scan job: %w", err)
		}
		out = append(out, job)
	}
	return out, rows.Err()
}

// ReclaimStale requeues running jobs with a lapsed heartbeat, or fails them
// once they exceed maxAttempts. Grounded on
// tasks.CockroachStore.CleanupStaleExecutions, extended with the
// requeue-with-attempt-counter step a durable job queue requires (it moves
// straight to a terminal status with no retry).
func (s *CockroachStore) ReclaimStale(ctx context.Context, staleAfter time.Duration, maxAttempts int) (int, int, error) {
	cutoff := time.Now().Add(-staleAfter)

	failRes, err := s.db.ExecContext(ctx, `
		UPDATE worker_jobs
		SET status = $1, error_kind = $2, error = 'worker heartbeat lapsed past retry budget', finished_at = now()
		WHERE status = $3 AND last_heartbeat < $4 AND attempt >= $5
	`, string(models.JobFailed), string(errs.RetriesExhausted), string(models.JobRunning), cutoff, maxAttempts)
	if err != nil {
		return 0, 0, fmt.Errorf("fail exhausted jobs: %w", err)
	}
	failedN, _ := failRes.RowsAffected()

	requeueRes, err := s.db.ExecContext(ctx, `
		UPDATE worker_jobs
		SET status = $1, worker_id = '', attempt = attempt + 1
		WHERE status = $2 AND last_heartbeat < $3 AND attempt < $4
	`, string(models.JobQueued), string(models.JobRunning), cutoff, maxAttempts)
	if err != nil {
		return 0, int(failedN), fmt.Errorf("requeue stale jobs: %w", err)
	}
	requeuedN, _ := requeueRes.RowsAffected()

	return int(requeuedN), int(failedN), nil
}

type jobScanner interface {
	Scan(dest ...any) error
}

func scanJob(scanner jobScanner) (*models.WorkerJob, error) {
	var (
		job        models.WorkerJob
		status     string
		mode       string
		workerID   sql.NullString
		resultText sql.NullString
		errMsg     sql.NullString
		errKind    sql.NullString
		startedAt  sql.NullTime
		finishedAt sql.NullTime
		heartbeat  sql.NullTime
	)
	if err := scanner.Scan(
		&job.ID, &job.RunID, &job.ToolCallID, &job.Task, &mode, &job.RepoURL, &job.Branch,
		&status, &job.Priority, &workerID, &job.Attempt, &resultText, &errMsg, &errKind,
		&job.CreatedAt, &startedAt, &finishedAt, &heartbeat,
	); err != nil {
		return nil, err
	}
	job.Status = models.WorkerJobStatus(status)
	job.Mode = models.WorkerMode(mode)
	if workerID.Valid {
		job.WorkerID = workerID.String
	}
	if resultText.Valid {
		job.ResultText = resultText.String
	}
	if errMsg.Valid {
		job.Error = errMsg.String
	}
	if errKind.Valid {
		job.ErrorKind = errKind.String
	}
	if startedAt.Valid {
		job.StartedAt = startedAt.Time
	}
	if finishedAt.Valid {
		job.FinishedAt = finishedAt.Time
	}
	if heartbeat.Valid {
		job.LastHeartbeat = heartbeat.Time
	}
	return &job, nil
}
