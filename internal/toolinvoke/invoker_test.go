package toolinvoke

import (
	"context"
	"database/sql"
	"encoding/json"
	"testing"
	"time"

	"github.com/opscore/orchestrator/internal/emitter"
	"github.com/opscore/orchestrator/internal/errs"
	"github.com/opscore/orchestrator/internal/events"
	"github.com/opscore/orchestrator/pkg/models"
)

type fakeTool struct {
	name    string
	content string
	err     error
	delay   time.Duration
}

func (t *fakeTool) Name() string { return t.name }
func (t *fakeTool) Invoke(ctx context.Context, args json.RawMessage, sess *sql.DB) (string, error) {
	if t.delay > 0 {
		select {
		case <-time.After(t.delay):
		case <-ctx.Done():
			return "", ctx.Err()
		}
	}
	return t.content, t.err
}
func (t *fakeTool) NeedsSession() bool   { return false }
func (t *fakeTool) Timeout() time.Duration { return 0 }

func newTestEmitter(t *testing.T) *emitter.Emitter {
	t.Helper()
	store := events.NewMemoryStore()
	return emitter.New(store, 1, "run-1", "owner-1")
}

func TestInvokeAllExecutesNonSpawnCalls(t *testing.T) {
	reg := NewRegistry()
	reg.Register(&fakeTool{name: "echo", content: "hello"}, models.RoleSupervisor)

	inv := New(reg, nil, DefaultConfig())
	calls := []models.ToolCall{{ID: "c1", Name: "echo", Args: json.RawMessage(`{}`)}}

	results, spawns := inv.InvokeAll(context.Background(), calls, newTestEmitter(t), "owner-1")
	if len(spawns) != 0 {
		t.Fatalf("expected no spawn intents, got %d", len(spawns))
	}
	if len(results) != 1 || !results[0].Success || results[0].Content != "hello" {
		t.Fatalf("unexpected result: %+v", results)
	}
}

func TestInvokeAllSeparatesSpawnWorkerCalls(t *testing.T) {
	reg := NewRegistry()
	inv := New(reg, nil, DefaultConfig())

	args, _ := json.Marshal(models.SpawnWorkerArgs{Task: "do it", Mode: models.ModeStandard})
	calls := []models.ToolCall{{ID: "c1", Name: "spawn_worker", Args: args}}

	results, spawns := inv.InvokeAll(context.Background(), calls, newTestEmitter(t), "owner-1")
	if len(results) != 1 || results[0].Success {
		t.Fatalf("spawn_worker call should not produce a direct result: %+v", results)
	}
	if len(spawns) != 1 || spawns[0].ToolCallID != "c1" || spawns[0].Args.Task != "do it" {
		t.Fatalf("unexpected spawn intent: %+v", spawns)
	}
}

func TestInvokeAllRejectsUnpermittedTool(t *testing.T) {
	reg := NewRegistry()
	reg.Register(&fakeTool{name: "echo", content: "hello"}, models.RoleWorker)

	inv := New(reg, nil, DefaultConfig())
	calls := []models.ToolCall{{ID: "c1", Name: "echo", Args: json.RawMessage(`{}`)}}

	results, _ := inv.InvokeAll(context.Background(), calls, newTestEmitter(t), "owner-1")
	if len(results) != 1 || results[0].Success || results[0].ErrorKind != models.ErrorKind(errs.ToolNotFound) {
		t.Fatalf("expected tool_not_found for supervisor-role call to worker-only tool, got %+v", results)
	}
}

func TestInvokeAllValidatesArgsAgainstRegisteredSchema(t *testing.T) {
	reg := NewRegistry()
	reg.Register(&fakeTool{name: "search", content: "ok"}, models.RoleSupervisor)
	if err := reg.RegisterSchema("search", map[string]any{
		"type":     "object",
		"required": []string{"query"},
		"properties": map[string]any{
			"query": map[string]any{"type": "string"},
		},
	}); err != nil {
		t.Fatalf("RegisterSchema() error = %v", err)
	}

	inv := New(reg, nil, DefaultConfig())
	calls := []models.ToolCall{{ID: "c1", Name: "search", Args: json.RawMessage(`{}`)}}

	results, _ := inv.InvokeAll(context.Background(), calls, newTestEmitter(t), "owner-1")
	if len(results) != 1 || results[0].Success {
		t.Fatalf("expected validation failure for missing required field, got %+v", results)
	}
	if results[0].ErrorKind != models.ErrorKind(errs.InvalidInput) {
		t.Fatalf("expected invalid_input error kind, got %q", results[0].ErrorKind)
	}
}

func TestInvokeAllAllowsValidArgsAgainstRegisteredSchema(t *testing.T) {
	reg := NewRegistry()
	reg.Register(&fakeTool{name: "search", content: "ok"}, models.RoleSupervisor)
	if err := reg.RegisterSchema("search", map[string]any{
		"type":     "object",
		"required": []string{"query"},
		"properties": map[string]any{
			"query": map[string]any{"type": "string"},
		},
	}); err != nil {
		t.Fatalf("RegisterSchema() error = %v", err)
	}

	inv := New(reg, nil, DefaultConfig())
	calls := []models.ToolCall{{ID: "c1", Name: "search", Args: json.RawMessage(`{"query":"weather"}`)}}

	results, _ := inv.InvokeAll(context.Background(), calls, newTestEmitter(t), "owner-1")
	if len(results) != 1 || !results[0].Success {
		t.Fatalf("expected success for valid args, got %+v", results)
	}
}

func TestInvokeAllTimesOutSlowTool(t *testing.T) {
	reg := NewRegistry()
	reg.Register(&fakeTool{name: "slow", delay: 50 * time.Millisecond}, models.RoleSupervisor)

	inv := New(reg, nil, Config{Concurrency: 2, DefaultTimeout: 5 * time.Millisecond, ResultPreview: 100})
	calls := []models.ToolCall{{ID: "c1", Name: "slow", Args: json.RawMessage(`{}`)}}

	results, _ := inv.InvokeAll(context.Background(), calls, newTestEmitter(t), "owner-1")
	if len(results) != 1 || results[0].Success || results[0].ErrorKind != models.ErrorKind(errs.ToolTimeout) {
		t.Fatalf("expected tool_timeout, got %+v", results)
	}
}
