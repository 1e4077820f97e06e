package orchestrator

import (
	"context"
	"database/sql"
	"encoding/json"
	"testing"
	"time"

	"github.com/opscore/orchestrator/internal/barrier"
	"github.com/opscore/orchestrator/internal/events"
	"github.com/opscore/orchestrator/internal/jobs"
	"github.com/opscore/orchestrator/internal/llm"
	"github.com/opscore/orchestrator/internal/react"
	"github.com/opscore/orchestrator/internal/toolinvoke"
	"github.com/opscore/orchestrator/pkg/models"
)

type echoTool struct{}

func (echoTool) Name() string { return "echo" }
func (echoTool) Invoke(ctx context.Context, args json.RawMessage, sess *sql.DB) (string, error) {
	return "echoed:" + string(args), nil
}
func (echoTool) NeedsSession() bool     { return false }
func (echoTool) Timeout() time.Duration { return 0 }

type scriptedProvider struct {
	turns [][]*llm.CompletionChunk
	next  int
}

func (p *scriptedProvider) Name() string       { return "scripted" }
func (p *scriptedProvider) Models() []llm.Model { return nil }
func (p *scriptedProvider) SupportsTools() bool { return true }
func (p *scriptedProvider) Complete(ctx context.Context, req *llm.CompletionRequest) (<-chan *llm.CompletionChunk, error) {
	if p.next >= len(p.turns) {
		p.next = len(p.turns) - 1
	}
	turn := p.turns[p.next]
	p.next++
	ch := make(chan *llm.CompletionChunk, len(turn))
	for _, c := range turn {
		ch <- c
	}
	close(ch)
	return ch, nil
}

func toolCallChunk(id, name, args string) *llm.CompletionChunk {
	return &llm.CompletionChunk{ToolCall: &models.ToolCall{ID: id, Name: name, Args: json.RawMessage(args)}}
}

func newTestRunner(t *testing.T, provider llm.Provider) (*Runner, barrier.Store) {
	t.Helper()
	registry := toolinvoke.NewRegistry()
	registry.Register(echoTool{}, models.RoleSupervisor)
	invoker := toolinvoke.New(registry, nil, toolinvoke.DefaultConfig())

	jobStore := jobs.NewMemoryStore()
	barrierStore := barrier.NewMemoryStore(jobStore)
	threads := react.NewMemoryThreadStore()
	eventLog := events.NewMemoryStore()
	runs := NewMemoryRunStore()

	cfg := react.DefaultConfig()
	cfg.MaxIterations = 5
	engine := react.New(provider, invoker, jobStore, barrierStore, threads, nil, cfg)

	return New(engine, runs, threads, eventLog, barrierStore), barrierStore
}

func TestStart_CompletesWithoutInterrupt(t *testing.T) {
	provider := &scriptedProvider{turns: [][]*llm.CompletionChunk{
		{{Text: "done"}, {Done: true}},
	}}
	runner, _ := newTestRunner(t, provider)

	run, err := runner.Start(context.Background(), StartRequest{
		OwnerID: "owner-1", ThreadID: "thread-1", Model: "test-model", Message: "hello",
	})
	if err != nil {
		t.Fatalf("Start: %v", err)
	}
	if run.Status != models.RunStatusSuccess {
		t.Fatalf("expected success, got %s", run.Status)
	}
	if run.FinishedAt.IsZero() {
		t.Fatal("expected FinishedAt to be set")
	}
}

func TestStart_InterruptsThenBarrierResumeCompletes(t *testing.T) {
	args := `{"task":"investigate"}`
	provider := &scriptedProvider{turns: [][]*llm.CompletionChunk{
		{toolCallChunk("call-1", "spawn_worker", args), {Done: true}},
		{{Text: "resumed and done"}, {Done: true}},
	}}
	runner, barrierStore := newTestRunner(t, provider)

	run, err := runner.Start(context.Background(), StartRequest{
		OwnerID: "owner-1", ThreadID: "thread-1", Model: "test-model", Message: "spawn one",
	})
	if err != nil {
		t.Fatalf("Start: %v", err)
	}
	if run.Status != models.RunStatusWaiting {
		t.Fatalf("expected waiting, got %s", run.Status)
	}

	b, err := barrierStore.GetByRun(context.Background(), run.ID)
	if err != nil || b == nil {
		t.Fatalf("expected a waiting barrier, got %+v err=%v", b, err)
	}

	rows, err := barrierStore.ResumeDirective(context.Background(), b.ID)
	if err != nil || len(rows) != 1 {
		t.Fatalf("unexpected resume directive: %+v err=%v", rows, err)
	}
	resumed, err := barrierStore.ReportResult(context.Background(), b.ID, models.WorkerResult{
		ToolCallID: rows[0].ToolCallID, JobID: rows[0].JobID, Status: models.BarrierJobComplete, ResultText: "worker says hi",
	})
	if err != nil || !resumed {
		t.Fatalf("expected resume trigger, got resumed=%v err=%v", resumed, err)
	}

	finalRun, err := runner.BarrierResume(context.Background(), b.ID)
	if err != nil {
		t.Fatalf("BarrierResume: %v", err)
	}
	if finalRun.Status != models.RunStatusSuccess {
		t.Fatalf("expected success after resume, got %s", finalRun.Status)
	}
}

func TestCancel_MarksRunCancelledAndCompletesBarrier(t *testing.T) {
	args := `{"task":"investigate"}`
	provider := &scriptedProvider{turns: [][]*llm.CompletionChunk{
		{toolCallChunk("call-1", "spawn_worker", args), {Done: true}},
	}}
	runner, barrierStore := newTestRunner(t, provider)

	run, err := runner.Start(context.Background(), StartRequest{
		OwnerID: "owner-1", ThreadID: "thread-1", Model: "test-model", Message: "spawn one",
	})
	if err != nil {
		t.Fatalf("Start: %v", err)
	}

	if err := runner.Cancel(context.Background(), run.PublicID); err != nil {
		t.Fatalf("Cancel: %v", err)
	}

	reloaded, err := runner.runs.Get(context.Background(), run.PublicID)
	if err != nil || reloaded.Status != models.RunStatusCancelled {
		t.Fatalf("expected cancelled, got %+v err=%v", reloaded, err)
	}

	b, err := barrierStore.GetByRun(context.Background(), run.ID)
	if err != nil {
		t.Fatalf("GetByRun: %v", err)
	}
	if b != nil {
		t.Fatalf("expected no non-terminal barrier after cancel, got %+v", b)
	}
}
