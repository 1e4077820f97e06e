package react

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"sort"
	"sync"
	"time"

	_ "github.com/lib/pq"

	"github.com/opscore/orchestrator/pkg/models"
)

// ThreadStore persists a run's conversational history (the Thread
// entity). Grounded on sessions.Store's AppendMessage/GetHistory pair,
// narrowed to the ThreadMessage shape the ReAct engine exchanges with the
// LLM abstraction instead of a channel-addressed Message.
type ThreadStore interface {
	Append(ctx context.Context, msg *models.ThreadMessage) error
	History(ctx context.Context, threadID string, limit int) ([]models.ThreadMessage, error)
}

// MemoryThreadStore is an in-process ThreadStore for tests and embedded mode.
type MemoryThreadStore struct {
	mu       sync.Mutex
	messages map[string][]models.ThreadMessage
	nextID   int64
}

// NewMemoryThreadStore returns an empty in-memory thread store.
func NewMemoryThreadStore() *MemoryThreadStore {
	return &MemoryThreadStore{messages: make(map[string][]models.ThreadMessage)}
}

func (s *MemoryThreadStore) Append(ctx context.Context, msg *models.ThreadMessage) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nextID++
	msg.ID = s.nextID
	if msg.SentAt.IsZero() {
		msg.SentAt = time.Now()
	}
	s.messages[msg.ThreadID] = append(s.messages[msg.ThreadID], *msg)
	return nil
}

func (s *MemoryThreadStore) History(ctx context.Context, threadID string, limit int) ([]models.ThreadMessage, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	all := s.messages[threadID]
	if limit <= 0 || limit >= len(all) {
		out := make([]models.ThreadMessage, len(all))
		copy(out, all)
		return out, nil
	}
	out := make([]models.ThreadMessage, limit)
	copy(out, all[len(all)-limit:])
	return out, nil
}

// CockroachConfig holds the connection settings for a CockroachThreadStore.
type CockroachConfig struct {
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
	ConnMaxIdleTime time.Duration
}

// DefaultCockroachConfig matches the pool defaults used across the other
// Cockroach-backed stores in this module.
func DefaultCockroachConfig() CockroachConfig {
	return CockroachConfig{MaxOpenConns: 25, MaxIdleConns: 5, ConnMaxLifetime: 5 * time.Minute, ConnMaxIdleTime: 2 * time.Minute}
}

// CockroachThreadStore implements ThreadStore against CockroachDB/Postgres.
// Grounded on sessions.CockroachStore's AppendMessage/GetHistory prepared
// statements, narrowed to the thread_messages table this domain needs.
type CockroachThreadStore struct {
	db *sql.DB

	stmtAppend  *sql.Stmt
	stmtHistory *sql.Stmt
}

// NewCockroachThreadStoreFromDSN opens a pooled connection and prepares
// statements.
func NewCockroachThreadStoreFromDSN(dsn string, cfg CockroachConfig) (*CockroachThreadStore, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("open thread store: %w", err)
	}
	db.SetMaxOpenConns(cfg.MaxOpenConns)
	db.SetMaxIdleConns(cfg.MaxIdleConns)
	db.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	db.SetConnMaxIdleTime(cfg.ConnMaxIdleTime)

	s := &CockroachThreadStore{db: db}
	if err := s.prepare(); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

func (s *CockroachThreadStore) prepare() error {
	var err error
	s.stmtAppend, err = s.db.Prepare(`
		INSERT INTO thread_messages (thread_id, owner_id, role, content, tool_calls, tool_call_id, internal, sent_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		RETURNING id
	`)
	if err != nil {
		return fmt.Errorf("prepare append: %w", err)
	}
	s.stmtHistory, err = s.db.Prepare(`
		SELECT id, thread_id, owner_id, role, content, tool_calls, tool_call_id, internal, sent_at
		FROM thread_messages WHERE thread_id = $1
		ORDER BY id DESC
		LIMIT $2
	`)
	if err != nil {
		return fmt.Errorf("prepare history: %w", err)
	}
	return nil
}

// Close releases prepared statements and the underlying pool.
func (s *CockroachThreadStore) Close() error {
	if s.stmtAppend != nil {
		s.stmtAppend.Close()
	}
	if s.stmtHistory != nil {
		s.stmtHistory.Close()
	}
	return s.db.Close()
}

func (s *CockroachThreadStore) Append(ctx context.Context, msg *models.ThreadMessage) error {
	if msg.SentAt.IsZero() {
		msg.SentAt = time.Now()
	}
	toolCalls, err := json.Marshal(msg.ToolCalls)
	if err != nil {
		return fmt.Errorf("marshal tool calls: %w", err)
	}
	return s.stmtAppend.QueryRowContext(ctx, msg.ThreadID, msg.OwnerID, string(msg.Role), msg.Content,
		toolCalls, nullableString(msg.ToolCallID), msg.Internal, msg.SentAt).Scan(&msg.ID)
}

func (s *CockroachThreadStore) History(ctx context.Context, threadID string, limit int) ([]models.ThreadMessage, error) {
	rows, err := s.stmtHistory.QueryContext(ctx, threadID, limit)
	if err != nil {
		return nil, fmt.Errorf("query history: %w", err)
	}
	defer rows.Close()

	var out []models.ThreadMessage
	for rows.Next() {
		var m models.ThreadMessage
		var role string
		var toolCallID sql.NullString
		var toolCalls []byte
		if err := rows.Scan(&m.ID, &m.ThreadID, &m.OwnerID, &role, &m.Content, &toolCalls, &toolCallID, &m.Internal, &m.SentAt); err != nil {
			return nil, fmt.Errorf("scan history row: %w", err)
		}
		m.Role = models.MessageRole(role)
		if toolCallID.Valid {
			m.ToolCallID = toolCallID.String
		}
		if len(toolCalls) > 0 {
			_ = json.Unmarshal(toolCalls, &m.ToolCalls)
		}
		out = append(out, m)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	// rows arrive newest-first (ORDER BY id DESC LIMIT $2); restore ascending
	// causal order for the caller.
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func nullableString(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}
