package worker

import (
	"context"
	"os"
	"os/exec"
	"path/filepath"
	"testing"
	"time"

	"github.com/opscore/orchestrator/internal/artifacts"
	"github.com/opscore/orchestrator/internal/barrier"
	"github.com/opscore/orchestrator/internal/events"
	"github.com/opscore/orchestrator/internal/jobs"
	"github.com/opscore/orchestrator/internal/llm"
	"github.com/opscore/orchestrator/internal/react"
	"github.com/opscore/orchestrator/internal/toolinvoke"
	"github.com/opscore/orchestrator/pkg/models"
)

// fakeRunLookup returns a single fixed run regardless of id, enough for a
// worker runtime under test that only ever touches one run.
type fakeRunLookup struct {
	run *models.Run
}

func (f *fakeRunLookup) GetByID(ctx context.Context, id int64) (*models.Run, error) {
	return f.run, nil
}

// oneShotProvider always replies with a fixed text turn and no tool calls,
// enough to exercise the standard-mode ReAct loop to completion.
type oneShotProvider struct {
	text string
}

func (p *oneShotProvider) Name() string       { return "one-shot" }
func (p *oneShotProvider) Models() []llm.Model { return nil }
func (p *oneShotProvider) SupportsTools() bool { return true }
func (p *oneShotProvider) Complete(ctx context.Context, req *llm.CompletionRequest) (<-chan *llm.CompletionChunk, error) {
	ch := make(chan *llm.CompletionChunk, 2)
	ch <- &llm.CompletionChunk{Text: p.text}
	ch <- &llm.CompletionChunk{Done: true}
	close(ch)
	return ch, nil
}

func newTestRuntime(t *testing.T) (*Runtime, jobs.Store, barrier.Store, artifacts.Store) {
	t.Helper()
	eventLog := events.NewMemoryStore()
	jobStore := jobs.NewMemoryStore()
	barrierStore := barrier.NewMemoryStore(jobStore)
	threads := react.NewMemoryThreadStore()
	artifactStore, err := artifacts.NewLocalStore(t.TempDir())
	if err != nil {
		t.Fatalf("NewLocalStore: %v", err)
	}

	registry := toolinvoke.NewRegistry()
	invoker := toolinvoke.New(registry, nil, toolinvoke.DefaultConfig())
	provider := &oneShotProvider{text: "worker is done"}
	engineCfg := react.DefaultConfig()
	engineCfg.MaxIterations = 3
	engine := react.New(provider, invoker, jobStore, barrierStore, threads, nil, engineCfg)

	runs := &fakeRunLookup{run: &models.Run{ID: 1, PublicID: "run-1", OwnerID: "owner-1", Model: "test-model"}}

	rt := New("runtime-1", jobStore, barrierStore, artifactStore, eventLog, runs, threads, engine, Config{
		HeartbeatInterval: time.Hour,
		PollInterval:      time.Hour,
	})
	return rt, jobStore, barrierStore, artifactStore
}

func claimStandardJob(t *testing.T, jobStore jobs.Store, barrierStore barrier.Store) *models.WorkerJob {
	t.Helper()
	ctx := context.Background()
	job := &models.WorkerJob{
		ID: "job-1", RunID: 1, ToolCallID: "call-1", Task: "investigate the thing",
		Mode: models.ModeStandard, Status: models.JobCreated, CreatedAt: time.Now(),
	}
	if err := jobStore.Enqueue(ctx, job); err != nil {
		t.Fatalf("Enqueue: %v", err)
	}
	if _, err := barrierStore.CreateBarrier(ctx, 1, 1, time.Time{}, []barrier.BarrierJobSpec{
		{JobID: job.ID, ToolCallID: job.ToolCallID},
	}); err != nil {
		t.Fatalf("CreateBarrier: %v", err)
	}
	claimed, err := jobStore.Claim(ctx, "runtime-1")
	if err != nil || claimed == nil {
		t.Fatalf("Claim: %+v err=%v", claimed, err)
	}
	return claimed
}

func TestProcess_StandardModeCompletesAndReportsToBarrier(t *testing.T) {
	rt, jobStore, barrierStore, artifactStore := newTestRuntime(t)
	job := claimStandardJob(t, jobStore, barrierStore)

	ctx := context.Background()
	rt.process(ctx, job)

	got, err := jobStore.Get(ctx, job.ID)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got.Status != models.JobCompleted || got.ResultText != "worker is done" {
		t.Fatalf("unexpected job state: %+v", got)
	}

	b, err := barrierStore.GetByRun(ctx, 1)
	if err != nil {
		t.Fatalf("GetByRun: %v", err)
	}
	if b == nil || b.Status != models.BarrierResuming {
		t.Fatalf("expected barrier resuming, got %+v", b)
	}

	exists, err := artifactStore.Exists(ctx, job.ID, models.ArtifactResult)
	if err != nil || !exists {
		t.Fatalf("expected result.txt artifact, exists=%v err=%v", exists, err)
	}
	exists, err = artifactStore.Exists(ctx, job.ID, models.ArtifactThreadLog)
	if err != nil || !exists {
		t.Fatalf("expected thread.jsonl artifact, exists=%v err=%v", exists, err)
	}
	exists, err = artifactStore.Exists(ctx, job.ID, models.ArtifactMetadata)
	if err != nil || !exists {
		t.Fatalf("expected metadata.json artifact, exists=%v err=%v", exists, err)
	}
}

func TestProcess_FailedJobReportsFailureToBarrier(t *testing.T) {
	rt, jobStore, barrierStore, _ := newTestRuntime(t)
	job := claimStandardJob(t, jobStore, barrierStore)

	// Force a failure by wiping the seeded thread via an engine that errors:
	// swap in a provider that returns a transport error instead of text.
	rt.engine = react.New(&erroringProvider{}, toolinvoke.New(toolinvoke.NewRegistry(), nil, toolinvoke.DefaultConfig()), jobStore, barrierStore, react.NewMemoryThreadStore(), nil, react.DefaultConfig())

	ctx := context.Background()
	rt.process(ctx, job)

	got, err := jobStore.Get(ctx, job.ID)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got.Status != models.JobFailed {
		t.Fatalf("expected job failed, got %+v", got)
	}

	b, err := barrierStore.GetByRun(ctx, 1)
	if err != nil || b == nil {
		t.Fatalf("GetByRun: %+v err=%v", b, err)
	}
	if b.Status != models.BarrierResuming {
		t.Fatalf("expected barrier resuming after failure report, got %+v", b)
	}
}

type erroringProvider struct{}

func (erroringProvider) Name() string          { return "erroring" }
func (erroringProvider) Models() []llm.Model    { return nil }
func (erroringProvider) SupportsTools() bool    { return true }
func (erroringProvider) Complete(ctx context.Context, req *llm.CompletionRequest) (<-chan *llm.CompletionChunk, error) {
	ch := make(chan *llm.CompletionChunk, 1)
	ch <- &llm.CompletionChunk{Error: context.DeadlineExceeded}
	close(ch)
	return ch, nil
}

func TestGitWorkflow_CloneCheckoutExecDiff(t *testing.T) {
	if _, err := exec.LookPath("git"); err != nil {
		t.Skip("git not available")
	}

	ctx := context.Background()
	srcDir := t.TempDir()
	runGit(t, srcDir, "init", "-q", "-b", "main")
	runGit(t, srcDir, "config", "user.email", "test@example.com")
	runGit(t, srcDir, "config", "user.name", "test")
	if err := os.WriteFile(filepath.Join(srcDir, "README.md"), []byte("hello\n"), 0o644); err != nil {
		t.Fatalf("write seed file: %v", err)
	}
	runGit(t, srcDir, "add", ".")
	runGit(t, srcDir, "commit", "-q", "-m", "seed")

	rt, _, _, _ := newTestRuntime(t)
	rt.cfg.WorkspaceAgentCommand = []string{"sh", "-c", "echo patched >> README.md"}
	rt.cfg.WorkspaceTimeout = 10 * time.Second

	cloneDir := t.TempDir()
	if err := rt.gitClone(ctx, srcDir, cloneDir); err != nil {
		t.Fatalf("gitClone: %v", err)
	}
	if err := rt.gitCheckoutBranch(ctx, cloneDir, "orchestrator/run-1/job-1"); err != nil {
		t.Fatalf("gitCheckoutBranch: %v", err)
	}

	job := &models.WorkerJob{ID: "job-1", Task: "append a line"}
	stdout, err := rt.runCodingAgent(ctx, job, cloneDir)
	if err != nil {
		t.Fatalf("runCodingAgent: %v", err)
	}
	_ = stdout

	diff, err := rt.gitDiff(ctx, cloneDir)
	if err != nil {
		t.Fatalf("gitDiff: %v", err)
	}
	if diff == "" {
		t.Fatal("expected non-empty diff after coding agent modified a tracked file")
	}
}

func runGit(t *testing.T, dir string, args ...string) {
	t.Helper()
	cmd := exec.Command("git", append([]string{"-C", dir}, args...)...)
	if out, err := cmd.CombinedOutput(); err != nil {
		t.Fatalf("git %v: %v\n%s", args, err, out)
	}
}
