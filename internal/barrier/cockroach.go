package barrier

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "github.com/lib/pq"

	"github.com/opscore/orchestrator/internal/jobs"
	"github.com/opscore/orchestrator/pkg/models"
)

// CockroachConfig holds the connection pool tuning shared across the core's
// SQL-backed stores.
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

// CockroachStore implements Store against worker_barriers/barrier_jobs.
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

// CreateBarrier installs the barrier row, its barrier_jobs rows, and admits
// the underlying worker jobs — all in one transaction. This is the
// load-bearing two-phase-commit step: a worker can only see
// a job once the same commit that created it also recorded the barrier
// expecting it.
func (s *CockroachStore) CreateBarrier(ctx context.Context, runID int64, expectedCount int, deadline time.Time, specs []BarrierJobSpec) (*models.Barrier, error) {
	if len(specs) != expectedCount {
		return nil, fmt.Errorf("expected %d job specs, got %d", expectedCount, len(specs))
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin create-barrier tx: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	now := time.Now()
	var deadlineArg any
	if !deadline.IsZero() {
		deadlineArg = deadline
	}

	var barrierID int64
	if err := tx.QueryRowContext(ctx, `
		INSERT INTO worker_barriers (run_id, expected_count, completed_count, status, deadline, created_at)
		VALUES ($1,$2,0,$3,$4,$5)
		RETURNING id
	`, runID, expectedCount, string(models.BarrierWaiting), deadlineArg, now).Scan(&barrierID); err != nil {
		return nil, fmt.Errorf("insert barrier: %w", err)
	}

	ids := make([]string, 0, len(specs))
	for _, spec := range specs {
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO barrier_jobs (barrier_id, job_id, tool_call_id, status, attempt)
			VALUES ($1,$2,$3,$4,0)
		`, barrierID, spec.JobID, spec.ToolCallID, string(models.BarrierJobCreated)); err != nil {
			return nil, fmt.Errorf("insert barrier job %s: %w", spec.JobID, err)
		}
		ids = append(ids, spec.JobID)
	}

	if err := jobs.AdmitTx(ctx, tx, ids); err != nil {
		return nil, fmt.Errorf("admit barrier jobs: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit create-barrier: %w", err)
	}

	return &models.Barrier{
		ID: barrierID, RunID: runID, ExpectedCount: expectedCount,
		Status: models.BarrierWaiting, Deadline: deadline, CreatedAt: now,
	}, nil
}

// ReportResult is the single-resume transaction: lock the barrier row,
// record the job's result, increment completed_count, and flip to
// resuming exactly once — grounded on
// tasks.CockroachStore.AcquireExecution's lock-then-mutate shape.
func (s *CockroachStore) ReportResult(ctx context.Context, barrierID int64, result models.WorkerResult) (bool, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return false, fmt.Errorf("begin report-result tx: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	var status string
	var completed, expected int
	if err := tx.QueryRowContext(ctx, `
		SELECT status, completed_count, expected_count FROM worker_barriers WHERE id = $1 FOR UPDATE
	`, barrierID).Scan(&status, &completed, &expected); err != nil {
		if err == sql.ErrNoRows {
			return false, fmt.Errorf("barrier %d not found", barrierID)
		}
		return false, fmt.Errorf("lock barrier: %w", err)
	}
	if models.BarrierStatus(status) != models.BarrierWaiting {
		return false, nil
	}

	res, err := tx.ExecContext(ctx, `
		UPDATE barrier_jobs
		SET status = $1, result_text = $2, error_kind = $3, error = $4, completed_at = $5
		WHERE barrier_id = $6 AND job_id = $7 AND status IN ($8, $9)
	`, string(result.Status), result.ResultText, result.ErrorKind, result.Error, time.Now(),
		barrierID, result.JobID, string(models.BarrierJobCreated), string(models.BarrierJobQueued))
	if err != nil {
		return false, fmt.Errorf("update barrier job: %w", err)
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		// Already reported (retry, duplicate delivery) — idempotent no-op.
		return false, tx.Commit()
	}

	completed++
	resumed := completed >= expected
	newStatus := models.BarrierWaiting
	if resumed {
		newStatus = models.BarrierResuming
	}
	if _, err := tx.ExecContext(ctx, `
		UPDATE worker_barriers SET completed_count = $1, status = $2 WHERE id = $3
	`, completed, string(newStatus), barrierID); err != nil {
		return false, fmt.Errorf("update barrier count: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return false, fmt.Errorf("commit report-result: %w", err)
	}
	return resumed, nil
}

func (s *CockroachStore) Get(ctx context.Context, barrierID int64) (*models.Barrier, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, run_id, expected_count, completed_count, status, deadline, created_at
		FROM worker_barriers WHERE id = $1
	`, barrierID)
	return scanBarrier(row)
}

func (s *CockroachStore) GetByRun(ctx context.Context, runID int64) (*models.Barrier, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, run_id, expected_count, completed_count, status, deadline, created_at
		FROM worker_barriers WHERE run_id = $1 AND status != $2
		ORDER BY created_at DESC LIMIT 1
	`, runID, string(models.BarrierComplete))
	return scanBarrier(row)
}

func (s *CockroachStore) ResumeDirective(ctx context.Context, barrierID int64) ([]models.WorkerResult, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT tool_call_id, job_id, status, result_text, error_kind, error
		FROM barrier_jobs WHERE barrier_id = $1 ORDER BY tool_call_id ASC
	`, barrierID)
	if err != nil {
		return nil, fmt.Errorf("select barrier jobs: %w", err)
	}
	defer rows.Close()

	var out []models.WorkerResult
	for rows.Next() {
		var (
			wr         models.WorkerResult
			status     string
			resultText sql.NullString
			errKind    sql.NullString
			errMsg     sql.NullString
		)
		if err := rows.Scan(&wr.ToolCallID, &wr.JobID, &status, &resultText, &errKind, &errMsg); err != nil {
			return nil, fmt.Errorf("scan barrier job: %w", err)
		}
		wr.Status = models.BarrierJobStatus(status)
		wr.ResultText = resultText.String
		wr.ErrorKind = errKind.String
		wr.Error = errMsg.String
		out = append(out, wr)
	}
	return out, rows.Err()
}

func (s *CockroachStore) MarkCompleted(ctx context.Context, barrierID int64) error {
	_, err := s.db.ExecContext(ctx, `UPDATE worker_barriers SET status = $1 WHERE id = $2`,
		string(models.BarrierComplete), barrierID)
	return err
}

// SweepDeadlines times out waiting barriers past their deadline, marking
// every still-incomplete barrier_jobs row as timeout and flipping the
// barrier to resuming so the run proceeds with partial results.
func (s *CockroachStore) SweepDeadlines(ctx context.Context) ([]int64, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id FROM worker_barriers
		WHERE status = $1 AND deadline IS NOT NULL AND deadline < now()
	`, string(models.BarrierWaiting))
	if err != nil {
		return nil, fmt.Errorf("select expired barriers: %w", err)
	}
	var ids []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			rows.Close()
			return nil, fmt.Errorf("scan expired barrier id: %w", err)
		}
		ids = append(ids, id)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, err
	}

	for _, id := range ids {
		if err := s.timeoutBarrier(ctx, id); err != nil {
			return nil, err
		}
	}
	return ids, nil
}

func (s *CockroachStore) timeoutBarrier(ctx context.Context, barrierID int64) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin timeout tx: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	if _, err := tx.ExecContext(ctx, `
		UPDATE barrier_jobs
		SET status = $1, error = 'worker did not complete before barrier deadline', completed_at = now()
		WHERE barrier_id = $2 AND status IN ($3, $4)
	`, string(models.BarrierJobTimeout), barrierID, string(models.BarrierJobCreated), string(models.BarrierJobQueued)); err != nil {
		return fmt.Errorf("timeout barrier jobs: %w", err)
	}
	if _, err := tx.ExecContext(ctx, `
		UPDATE worker_barriers SET status = $1 WHERE id = $2 AND status = $3
	`, string(models.BarrierResuming), barrierID, string(models.BarrierWaiting)); err != nil {
		return fmt.Errorf("flip barrier to resuming: %w", err)
	}
	return tx.Commit()
}

func scanBarrier(row *sql.Row) (*models.Barrier, error) {
	var (
		b        models.Barrier
		status   string
		deadline sql.NullTime
	)
	if err := row.Scan(&b.ID, &b.RunID, &b.ExpectedCount, &b.CompletedCount, &status, &deadline, &b.CreatedAt); err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, err
	}
	b.Status = models.BarrierStatus(status)
	if deadline.Valid {
		b.Deadline = deadline.Time
	}
	return &b, nil
}
