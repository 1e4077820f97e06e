package events

import (
	"context"
	"database/sql"
	"fmt"
	"sync"
	"time"

	_ "github.com/lib/pq"

	"github.com/opscore/orchestrator/pkg/models"
)

// CockroachConfig mirrors the pool-tuning shape used throughout this
// module's other store implementations (jobs.CockroachConfig, barrier.CockroachConfig).
type CockroachConfig struct {
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
	ConnMaxIdleTime time.Duration
	ConnectTimeout  time.Duration
}

// DefaultCockroachConfig returns the pool defaults used across the core's
// stores, matching those same conventions.
func DefaultCockroachConfig() CockroachConfig {
	return CockroachConfig{
		MaxOpenConns:    10,
		MaxIdleConns:    5,
		ConnMaxLifetime: 5 * time.Minute,
		ConnMaxIdleTime: 2 * time.Minute,
		ConnectTimeout:  10 * time.Second,
	}
}

// CockroachStore persists the event log against Postgres/CockroachDB.
// Append assigns event_id by row-locking the run's high-water mark
// (runs.last_event_id) and incrementing it in the same transaction as the
// insert, exactly as tasks.CockroachStore.AcquireExecution locks a row
// before mutating it.
type CockroachStore struct {
	db *sql.DB

	mu   sync.Mutex // guards the in-process subscriber registry only
	subs map[int64]map[*subscriber]struct{}
}

// NewCockroachStoreFromDSN opens a pooled connection and verifies
// connectivity before returning.
func NewCockroachStoreFromDSN(dsn string, cfg CockroachConfig) (*CockroachStore, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("open event store: %w", err)
	}
	db.SetMaxOpenConns(cfg.MaxOpenConns)
	db.SetMaxIdleConns(cfg.MaxIdleConns)
	db.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	db.SetConnMaxIdleTime(cfg.ConnMaxIdleTime)

	ctx, cancel := context.WithTimeout(context.Background(), cfg.ConnectTimeout)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping event store: %w", err)
	}
	return &CockroachStore{db: db, subs: make(map[int64]map[*subscriber]struct{})}, nil
}

func (s *CockroachStore) Append(ctx context.Context, runID int64, runPublicID string, typ models.EventType, payload models.EventPayload) (*models.RunEvent, error) {
	raw, err := marshalPayload(payload)
	if err != nil {
		return nil, err
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin append tx: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	var lastEventID int64
	if err := tx.QueryRowContext(ctx,
		`SELECT last_event_id FROM runs WHERE id = $1 FOR UPDATE`, runID,
	).Scan(&lastEventID); err != nil {
		return nil, fmt.Errorf("lock run high-water mark: %w", err)
	}

	nextEventID := lastEventID + 1
	now := time.Now().UTC()

	if _, err := tx.ExecContext(ctx,
		`UPDATE runs SET last_event_id = $1 WHERE id = $2`, nextEventID, runID,
	); err != nil {
		return nil, fmt.Errorf("advance run high-water mark: %w", err)
	}

	if _, err := tx.ExecContext(ctx,
		`INSERT INTO run_events (run_id, event_id, run_public_id, type, payload, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6)`,
		runID, nextEventID, runPublicID, string(typ), []byte(raw), now,
	); err != nil {
		return nil, fmt.Errorf("insert run event: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit append tx: %w", err)
	}

	event := &models.RunEvent{
		EventID:     nextEventID,
		RunPublicID: runPublicID,
		Type:        typ,
		Timestamp:   now,
		Payload:     raw,
	}

	s.mu.Lock()
	subs := make([]*subscriber, 0, len(s.subs[runID]))
	for sub := range s.subs[runID] {
		subs = append(subs, sub)
	}
	s.mu.Unlock()
	for _, sub := range subs {
		select {
		case sub.ch <- *event:
		default:
		}
	}

	return event, nil
}

func (s *CockroachStore) Stream(ctx context.Context, runID int64, sinceEventID int64) ([]models.RunEvent, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT event_id, run_public_id, type, payload, created_at
		 FROM run_events
		 WHERE run_id = $1 AND event_id > $2
		 ORDER BY event_id ASC`,
		runID, sinceEventID,
	)
	if err != nil {
		return nil, fmt.Errorf("stream run events: %w", err)
	}
	defer rows.Close()

	var out []models.RunEvent
	for rows.Next() {
		var e models.RunEvent
		var typ string
		var payload []byte
		if err := rows.Scan(&e.EventID, &e.RunPublicID, &typ, &payload, &e.Timestamp); err != nil {
			return nil, fmt.Errorf("scan run event: %w", err)
		}
		e.Type = models.EventType(typ)
		e.Payload = payload
		out = append(out, e)
	}
	return out, rows.Err()
}

// LatestEventID reads runs.last_event_id directly rather than MAX(event_id)
// over run_events, since Append already maintains that column
// transactionally as the row-locked high-water mark and a pruned log would
// otherwise make MAX(event_id) return a stale (lower) value.
func (s *CockroachStore) LatestEventID(ctx context.Context, runID int64) (int64, error) {
	var id int64
	err := s.db.QueryRowContext(ctx, `SELECT last_event_id FROM runs WHERE id = $1`, runID).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("read last event id: %w", err)
	}
	return id, nil
}

func (s *CockroachStore) Subscribe(runID int64) (<-chan models.RunEvent, func()) {
	sub := &subscriber{ch: make(chan models.RunEvent, 256)}
	s.mu.Lock()
	if s.subs[runID] == nil {
		s.subs[runID] = make(map[*subscriber]struct{})
	}
	s.subs[runID][sub] = struct{}{}
	s.mu.Unlock()

	cancel := func() {
		s.mu.Lock()
		delete(s.subs[runID], sub)
		s.mu.Unlock()
	}
	return sub.ch, cancel
}

func (s *CockroachStore) Prune(ctx context.Context, runID int64, keepAfterEventID int64) error {
	_, err := s.db.ExecContext(ctx,
		`DELETE FROM run_events WHERE run_id = $1 AND event_id <= $2`,
		runID, keepAfterEventID)
	return err
}

// Close releases the underlying connection pool.
func (s *CockroachStore) Close() error { return s.db.Close() }
