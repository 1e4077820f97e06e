// Package orchestrator implements the Run Orchestrator (component I): the
// lifecycle state machine that loads or creates a run, drives it through
// internal/react, and reacts to a barrier's resume directive. It wraps
// react.Engine the way an AgenticRuntime wraps an AgenticLoop.
package orchestrator

import (
	"context"
	"database/sql"
	"fmt"
	"sync"
	"time"

	_ "github.com/lib/pq"

	"github.com/opscore/orchestrator/pkg/models"
)

// RunStore persists the Run entity across the orchestrator's
// process boundary — a run's waiting period may span a process restart
// between its interrupt and its barrier resume.
type RunStore interface {
	Create(ctx context.Context, run *models.Run) error
	Get(ctx context.Context, publicID string) (*models.Run, error)
	GetByID(ctx context.Context, id int64) (*models.Run, error)
	Update(ctx context.Context, run *models.Run) error
}

// MemoryRunStore is an in-process RunStore for tests and embedded mode.
type MemoryRunStore struct {
	mu       sync.Mutex
	nextID   int64
	byID     map[int64]*models.Run
	byPublic map[string]int64
}

// NewMemoryRunStore returns an empty in-memory run store.
func NewMemoryRunStore() *MemoryRunStore {
	return &MemoryRunStore{byID: make(map[int64]*models.Run), byPublic: make(map[string]int64)}
}

func cloneRun(r *models.Run) *models.Run {
	if r == nil {
		return nil
	}
	c := *r
	return &c
}

func (s *MemoryRunStore) Create(ctx context.Context, run *models.Run) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nextID++
	run.ID = s.nextID
	if run.CreatedAt.IsZero() {
		run.CreatedAt = time.Now()
	}
	s.byID[run.ID] = cloneRun(run)
	s.byPublic[run.PublicID] = run.ID
	return nil
}

func (s *MemoryRunStore) Get(ctx context.Context, publicID string) (*models.Run, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	id, ok := s.byPublic[publicID]
	if !ok {
		return nil, fmt.Errorf("run %q not found", publicID)
	}
	return cloneRun(s.byID[id]), nil
}

func (s *MemoryRunStore) GetByID(ctx context.Context, id int64) (*models.Run, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.byID[id]
	if !ok {
		return nil, fmt.Errorf("run %d not found", id)
	}
	return cloneRun(r), nil
}

func (s *MemoryRunStore) Update(ctx context.Context, run *models.Run) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.byID[run.ID]; !ok {
		return fmt.Errorf("run %d not found", run.ID)
	}
	s.byID[run.ID] = cloneRun(run)
	s.byPublic[run.PublicID] = run.ID
	return nil
}

// CockroachConfig holds the connection pool settings for a CockroachRunStore.
type CockroachConfig struct {
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
	ConnMaxIdleTime time.Duration
}

// DefaultCockroachConfig matches the pool defaults used across this
// module's other Cockroach-backed stores.
func DefaultCockroachConfig() CockroachConfig {
	return CockroachConfig{MaxOpenConns: 25, MaxIdleConns: 5, ConnMaxLifetime: 5 * time.Minute, ConnMaxIdleTime: 2 * time.Minute}
}

// CockroachRunStore implements RunStore against CockroachDB/Postgres.
// Grounded on internal/jobs.CockroachStore's prepared-statement pattern and
// its nullTime/nullableString helpers for optional timestamp columns.
type CockroachRunStore struct {
	db *sql.DB

	stmtCreate  *sql.Stmt
	stmtGet     *sql.Stmt
	stmtGetByID *sql.Stmt
	stmtUpdate  *sql.Stmt
}

// NewCockroachRunStoreFromDSN opens a pooled connection and prepares
// statements.
func NewCockroachRunStoreFromDSN(dsn string, cfg CockroachConfig) (*CockroachRunStore, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("open run store: %w", err)
	}
	db.SetMaxOpenConns(cfg.MaxOpenConns)
	db.SetMaxIdleConns(cfg.MaxIdleConns)
	db.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	db.SetConnMaxIdleTime(cfg.ConnMaxIdleTime)

	s := &CockroachRunStore{db: db}
	if err := s.prepare(); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

func (s *CockroachRunStore) prepare() error {
	var err error
	s.stmtCreate, err = s.db.Prepare(`
		INSERT INTO runs (run_public_id, owner_id, thread_id, status, model, reasoning_hint,
			iteration, workers_spawned, input_tokens, output_tokens, cost_usd, created_at, last_event_id)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
		RETURNING id
	`)
	if err != nil {
		return fmt.Errorf("prepare create: %w", err)
	}
	const selectCols = `id, run_public_id, owner_id, thread_id, status, model, reasoning_hint,
			iteration, workers_spawned, input_tokens, output_tokens, cost_usd,
			created_at, started_at, finished_at, last_event_id`
	s.stmtGet, err = s.db.Prepare(`SELECT ` + selectCols + ` FROM runs WHERE run_public_id = $1`)
	if err != nil {
		return fmt.Errorf("prepare get: %w", err)
	}
	s.stmtGetByID, err = s.db.Prepare(`SELECT ` + selectCols + ` FROM runs WHERE id = $1`)
	if err != nil {
		return fmt.Errorf("prepare get by id: %w", err)
	}
	s.stmtUpdate, err = s.db.Prepare(`
		UPDATE runs SET status = $2, iteration = $3, workers_spawned = $4, input_tokens = $5,
			output_tokens = $6, cost_usd = $7, started_at = $8, finished_at = $9, last_event_id = $10
		WHERE id = $1
	`)
	if err != nil {
		return fmt.Errorf("prepare update: %w", err)
	}
	return nil
}

// Close releases prepared statements and the underlying pool.
func (s *CockroachRunStore) Close() error {
	for _, stmt := range []*sql.Stmt{s.stmtCreate, s.stmtGet, s.stmtGetByID, s.stmtUpdate} {
		if stmt != nil {
			stmt.Close()
		}
	}
	return s.db.Close()
}

func (s *CockroachRunStore) Create(ctx context.Context, run *models.Run) error {
	if run.CreatedAt.IsZero() {
		run.CreatedAt = time.Now()
	}
	return s.stmtCreate.QueryRowContext(ctx, run.PublicID, run.OwnerID, run.ThreadID, string(run.Status),
		run.Model, run.ReasoningHint, run.Iteration, run.WorkersSpawned, run.InputTokens, run.OutputTokens,
		run.CostUSD, run.CreatedAt, run.LastEventID).Scan(&run.ID)
}

func (s *CockroachRunStore) Get(ctx context.Context, publicID string) (*models.Run, error) {
	return scanRun(s.stmtGet.QueryRowContext(ctx, publicID))
}

func (s *CockroachRunStore) GetByID(ctx context.Context, id int64) (*models.Run, error) {
	return scanRun(s.stmtGetByID.QueryRowContext(ctx, id))
}

func (s *CockroachRunStore) Update(ctx context.Context, run *models.Run) error {
	_, err := s.stmtUpdate.ExecContext(ctx, run.ID, string(run.Status), run.Iteration, run.WorkersSpawned,
		run.InputTokens, run.OutputTokens, run.CostUSD, nullTime(run.StartedAt), nullTime(run.FinishedAt), run.LastEventID)
	return err
}

func scanRun(row *sql.Row) (*models.Run, error) {
	var r models.Run
	var status string
	var startedAt, finishedAt sql.NullTime
	if err := row.Scan(&r.ID, &r.PublicID, &r.OwnerID, &r.ThreadID, &status, &r.Model, &r.ReasoningHint,
		&r.Iteration, &r.WorkersSpawned, &r.InputTokens, &r.OutputTokens, &r.CostUSD,
		&r.CreatedAt, &startedAt, &finishedAt, &r.LastEventID); err != nil {
		return nil, fmt.Errorf("scan run: %w", err)
	}
	r.Status = models.RunStatus(status)
	if startedAt.Valid {
		r.StartedAt = startedAt.Time
	}
	if finishedAt.Valid {
		r.FinishedAt = finishedAt.Time
	}
	return &r, nil
}

func nullTime(t time.Time) sql.NullTime {
	if t.IsZero() {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: t, Valid: true}
}
