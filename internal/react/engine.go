// Package react implements the ReAct Engine (component H): the
// supervisor's build-prompt → LLM → parse → execute-tools → persist →
// repeat-or-interrupt loop. It directly generalizes AgenticLoop.Run in
// internal/agent/loop.go — the same
// streamPhase/executeToolsPhase/continuePhase structure — replacing its
// channel-streamed ResponseChunk protocol with a synchronous
// Run/Resume pair that returns an explicit typed Interrupt value instead of
// signaling suspension through channel semantics.
package react

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/opscore/orchestrator/internal/barrier"
	"github.com/opscore/orchestrator/internal/emitter"
	"github.com/opscore/orchestrator/internal/errs"
	"github.com/opscore/orchestrator/internal/jobs"
	"github.com/opscore/orchestrator/internal/llm"
	"github.com/opscore/orchestrator/internal/toolinvoke"
	"github.com/opscore/orchestrator/pkg/models"
)

// InterruptKind distinguishes why the loop returned without completing the
// run. Only one kind exists today — the loop never interrupts for any
// reason other than a pending parallel-worker barrier.
type InterruptKind string

// WorkersPending is the sole interrupt kind this engine defines.
const WorkersPending InterruptKind = "workers_pending"

// CreatedJob pairs a newly admitted worker job with the tool_call_id it
// answers, using a `{job, tool_call_id}` interrupt payload shape.
type CreatedJob struct {
	JobID      string
	ToolCallID string
}

// Interrupt is the explicit, first-class suspension value the loop returns
// in place of background-goroutine/channel signaling.
type Interrupt struct {
	Kind        InterruptKind
	BarrierID   int64
	CreatedJobs []CreatedJob
}

// Outcome is the result of one Run or Resume call: either a completion
// (ResultText set) or an Interrupt.
type Outcome struct {
	Complete   bool
	ResultText string
	Interrupt  *Interrupt
}

// Config tunes the loop's guardrails.
type Config struct {
	// MaxIterations bounds the number of stream/execute cycles. Default 25.
	MaxIterations int
	// MaxWorkersPerRun caps total spawned workers across the run's lifetime
	// (tracked on models.Run.WorkersSpawned so the cap survives resumes).
	// Default 20.
	MaxWorkersPerRun int
	// MaxAdmitRetries caps retries of a single spawn_worker call's barrier
	// admission before it is replaced with a synthetic error result.
	// Default 3.
	MaxAdmitRetries int
	// MaxTokens is the default completion token budget.
	MaxTokens int
	// BarrierDeadline bounds how long a barrier waits before the sweeper
	// may time it out with partial results. Zero means no deadline.
	BarrierDeadline time.Duration
	// SystemPreamble is static, stable content that leads every prompt so
	// upstream prompt caches can match it.
	SystemPreamble string
	// HistoryLimit bounds how many prior thread messages are loaded.
	HistoryLimit int
	// EnvStatus, if set, is called once per iteration to produce the
	// trailing dynamic block's environment section.
	EnvStatus func(ctx context.Context) string
}

// DefaultConfig returns the loop's stated guardrail defaults.
func DefaultConfig() Config {
	return Config{
		MaxIterations:    25,
		MaxWorkersPerRun: 20,
		MaxAdmitRetries:  3,
		MaxTokens:        4096,
		HistoryLimit:     200,
	}
}

func sanitize(cfg Config) Config {
	d := DefaultConfig()
	if cfg.MaxIterations <= 0 {
		cfg.MaxIterations = d.MaxIterations
	}
	if cfg.MaxWorkersPerRun <= 0 {
		cfg.MaxWorkersPerRun = d.MaxWorkersPerRun
	}
	if cfg.MaxAdmitRetries <= 0 {
		cfg.MaxAdmitRetries = d.MaxAdmitRetries
	}
	if cfg.MaxTokens <= 0 {
		cfg.MaxTokens = d.MaxTokens
	}
	if cfg.HistoryLimit <= 0 {
		cfg.HistoryLimit = d.HistoryLimit
	}
	return cfg
}

// Engine runs one run's ReAct loop. It is stateless between calls — all
// durable state lives in the ThreadStore, jobs.Store and barrier.Store it
// is constructed with, so Run and Resume can be called from separate
// processes.
type Engine struct {
	provider llm.Provider
	invoker  *toolinvoke.Invoker
	jobs     jobs.Store
	barriers barrier.Store
	threads  ThreadStore
	tools    []llm.ToolSchema
	config   Config
}

// New constructs a ReAct Engine. tools is the LLM-facing tool schema list
// offered to the model; it is independent of the toolinvoke.Registry the
// invoker dispatches against, since schema declarations (name, description,
// JSON schema) and executable implementations are different concerns handed
// to the engine by its caller.
func New(provider llm.Provider, invoker *toolinvoke.Invoker, jobStore jobs.Store, barriers barrier.Store, threads ThreadStore, tools []llm.ToolSchema, config Config) *Engine {
	return &Engine{
		provider: provider,
		invoker:  invoker,
		jobs:     jobStore,
		barriers: barriers,
		threads:  threads,
		tools:    tools,
		config:   sanitize(config),
	}
}

// Run starts (or re-enters, after a prior completed iteration) the loop for
// a run with no pending worker results. ownerID scopes the thread history
// and tool-session isolation to the run's owner.
func (e *Engine) Run(ctx context.Context, run *models.Run, em *emitter.Emitter, ownerID string) (*Outcome, error) {
	messages, err := e.loadHistory(ctx, run)
	if err != nil {
		return nil, err
	}
	return e.loop(ctx, run, em, ownerID, messages)
}

// Resume re-enters the loop after a barrier has released its resume
// directive, synthesizing one tool message per worker result before
// prompting again.
func (e *Engine) Resume(ctx context.Context, run *models.Run, em *emitter.Emitter, ownerID string, barrierID int64, results []models.WorkerResult) (*Outcome, error) {
	messages, err := e.loadHistory(ctx, run)
	if err != nil {
		return nil, err
	}

	toolResults := make([]models.ToolResult, 0, len(results))
	for _, r := range results {
		content := r.ResultText
		isErr := r.Status == models.BarrierJobFailed || r.Status == models.BarrierJobTimeout
		if isErr && content == "" {
			content = fmt.Sprintf("worker job %s %s: %s", r.JobID, r.Status, r.Error)
		}
		toolResults = append(toolResults, models.ToolResult{
			ToolCallID: r.ToolCallID,
			Success:    !isErr,
			Content:    content,
			ErrorKind:  models.ErrorKind(r.ErrorKind),
		})
		if err := e.persistToolResult(ctx, run, ownerID, r.ToolCallID, content); err != nil {
			return nil, err
		}
	}
	messages = append(messages, llm.CompletionMessage{Role: "tool", ToolResults: toolResults})

	if err := e.barriers.MarkCompleted(ctx, barrierID); err != nil {
		return nil, fmt.Errorf("mark barrier %d completed: %w", barrierID, err)
	}
	if _, err := em.Resumed(ctx, barrierID); err != nil {
		return nil, fmt.Errorf("emit supervisor_resumed: %w", err)
	}

	return e.loop(ctx, run, em, ownerID, messages)
}

// loadHistory replays persisted thread messages back into the
// CompletionMessage shape the LLM abstraction expects. Consecutive "tool"
// rows are folded into a single tool-results turn, mirroring how they were
// originally written by persistToolResult (one row per tool_call_id, all
// appended between two assistant/user turns).
func (e *Engine) loadHistory(ctx context.Context, run *models.Run) ([]llm.CompletionMessage, error) {
	history, err := e.threads.History(ctx, run.ThreadID, e.config.HistoryLimit)
	if err != nil {
		return nil, fmt.Errorf("load thread history: %w", err)
	}
	messages := make([]llm.CompletionMessage, 0, len(history))
	for _, m := range history {
		if m.Role == models.RoleTool {
			result := models.ToolResult{ToolCallID: m.ToolCallID, Success: true, Content: m.Content}
			if n := len(messages); n > 0 && messages[n-1].Role == "tool" {
				messages[n-1].ToolResults = append(messages[n-1].ToolResults, result)
				continue
			}
			messages = append(messages, llm.CompletionMessage{Role: "tool", ToolResults: []models.ToolResult{result}})
			continue
		}
		messages = append(messages, llm.CompletionMessage{Role: string(m.Role), Content: m.Content, ToolCalls: fromRefs(m.ToolCalls)})
	}
	return messages, nil
}

func fromRefs(refs []models.ToolCallRef) []models.ToolCall {
	if len(refs) == 0 {
		return nil
	}
	out := make([]models.ToolCall, len(refs))
	for i, r := range refs {
		out[i] = models.ToolCall{ID: r.ID, Name: r.Name, Args: r.Args}
	}
	return out
}

// emitComplete and emitFailed route a loop's terminal event through the
// emitter's actual role: a worker-role emitter (standard-mode worker reusing
// this engine) must emit worker_complete/worker_failed, not
// supervisor_complete/supervisor_failed. run.PublicID carries the worker's
// job id in that case.
func (e *Engine) emitComplete(ctx context.Context, em *emitter.Emitter, run *models.Run, text string) error {
	if em.Role() == models.RoleWorker {
		if _, err := em.Complete(ctx, run.PublicID, text); err != nil {
			return fmt.Errorf("emit worker_complete: %w", err)
		}
		return nil
	}
	if _, err := em.SupervisorComplete(ctx, text); err != nil {
		return fmt.Errorf("emit supervisor_complete: %w", err)
	}
	return nil
}

func (e *Engine) emitFailed(ctx context.Context, em *emitter.Emitter, run *models.Run, errKind, errMsg string) {
	if em.Role() == models.RoleWorker {
		_, _ = em.Failed(ctx, run.PublicID, errKind, errMsg)
		return
	}
	_, _ = em.SupervisorFailed(ctx, errKind, errMsg)
}

// loop is the shared stream → execute → continue body entered by both Run
// and Resume.
func (e *Engine) loop(ctx context.Context, run *models.Run, em *emitter.Emitter, ownerID string, messages []llm.CompletionMessage) (*Outcome, error) {
	admitRetries := make(map[string]int)

	for {
		select {
		case <-ctx.Done():
			return nil, errs.New(errs.Cancelled, "run cancelled", ctx.Err())
		default:
		}

		if run.Iteration >= e.config.MaxIterations {
			msg := fmt.Sprintf("reached max iterations: %d", e.config.MaxIterations)
			e.emitFailed(ctx, em, run, string(errs.IterationLimit), msg)
			return nil, errs.New(errs.IterationLimit, msg, nil)
		}
		run.Iteration++
		if _, err := em.Iteration(ctx, run.Iteration); err != nil {
			return nil, fmt.Errorf("emit supervisor_iteration: %w", err)
		}

		text, toolCalls, usage, err := e.streamTurn(ctx, run, messages)
		if err != nil {
			e.emitFailed(ctx, em, run, string(errs.As(err)), err.Error())
			return nil, err
		}
		run.InputTokens += usage.InputTokens
		run.OutputTokens += usage.OutputTokens

		if err := e.persistAssistantMessage(ctx, run, ownerID, text, toolCalls); err != nil {
			return nil, err
		}
		messages = append(messages, llm.CompletionMessage{Role: "assistant", Content: text, ToolCalls: toRefs(toolCalls)})

		if len(toolCalls) == 0 {
			if err := e.emitComplete(ctx, em, run, text); err != nil {
				return nil, err
			}
			return &Outcome{Complete: true, ResultText: text}, nil
		}

		results, spawns := e.invoker.InvokeAll(ctx, toolCalls, em, ownerID)
		for _, r := range results {
			if r.ToolCallID == "" {
				continue
			}
			if err := e.persistToolResult(ctx, run, ownerID, r.ToolCallID, toolResultContent(r)); err != nil {
				return nil, err
			}
		}
		if len(results) > 0 {
			messages = append(messages, llm.CompletionMessage{Role: "tool", ToolResults: results})
		}

		if len(spawns) == 0 {
			continue
		}

		interrupt, synthResults, err := e.admitSpawns(ctx, run, em, spawns, admitRetries)
		if err != nil {
			return nil, err
		}
		if len(synthResults) > 0 {
			for _, r := range synthResults {
				if err := e.persistToolResult(ctx, run, ownerID, r.ToolCallID, toolResultContent(r)); err != nil {
					return nil, err
				}
			}
			messages = append(messages, llm.CompletionMessage{Role: "tool", ToolResults: synthResults})
		}
		if interrupt != nil {
			if _, err := em.Interrupted(ctx, interrupt.BarrierID, len(interrupt.CreatedJobs)); err != nil {
				return nil, fmt.Errorf("emit supervisor_interrupted: %w", err)
			}
			return &Outcome{Interrupt: interrupt}, nil
		}
		// All spawns were rejected by guardrails and replaced with
		// synthetic errors; keep iterating with those results in hand.
	}
}

// streamTurn calls the LLM provider and accumulates its streamed response.
func (e *Engine) streamTurn(ctx context.Context, run *models.Run, messages []llm.CompletionMessage) (string, []models.ToolCall, usage, error) {
	req := &llm.CompletionRequest{
		Model:     run.Model,
		System:    e.assembleSystem(ctx),
		Messages:  messages,
		Tools:     e.tools,
		MaxTokens: e.config.MaxTokens,
	}

	chunks, err := e.provider.Complete(ctx, req)
	if err != nil {
		return "", nil, usage{}, err
	}

	var text strings.Builder
	var toolCalls []models.ToolCall
	var u usage
	for chunk := range chunks {
		if chunk.Error != nil {
			return "", nil, usage{}, chunk.Error
		}
		if chunk.Text != "" {
			text.WriteString(chunk.Text)
		}
		if chunk.ToolCall != nil {
			toolCalls = append(toolCalls, *chunk.ToolCall)
		}
		if chunk.Done {
			u.InputTokens = chunk.InputTokens
			u.OutputTokens = chunk.OutputTokens
		}
	}
	return text.String(), toolCalls, u, nil
}

type usage struct {
	InputTokens  int
	OutputTokens int
}

// assembleSystem builds the static preamble plus a trailing dynamic block
// static content leads so upstream prompt caches can
// match it across turns.
func (e *Engine) assembleSystem(ctx context.Context) string {
	var b strings.Builder
	if e.config.SystemPreamble != "" {
		b.WriteString(e.config.SystemPreamble)
		b.WriteString("\n\n")
	}
	b.WriteString("Current time (UTC): ")
	b.WriteString(time.Now().UTC().Format(time.RFC3339))
	if e.config.EnvStatus != nil {
		if status := e.config.EnvStatus(ctx); status != "" {
			b.WriteString("\n")
			b.WriteString(status)
		}
	}
	return b.String()
}

// admitSpawns enforces the per-run worker cap and per-tool_call_id admit
// retry cap, then performs the two-phase job
// creation: Enqueue each job in status "created" (phase one), then
// barrier.CreateBarrier admits them into "queued" atomically with the
// barrier row (phase two). Spawns that exceed a guardrail are replaced with
// a synthetic error tool result instead of running.
func (e *Engine) admitSpawns(ctx context.Context, run *models.Run, em *emitter.Emitter, spawns []toolinvoke.SpawnIntent, admitRetries map[string]int) (*Interrupt, []models.ToolResult, error) {
	var eligible []toolinvoke.SpawnIntent
	var synthetic []models.ToolResult

	for _, spawn := range spawns {
		if run.WorkersSpawned+len(eligible) >= e.config.MaxWorkersPerRun {
			synthetic = append(synthetic, syntheticSpawnError(spawn, errs.InvalidInput, "worker cap for this run exceeded"))
			continue
		}
		eligible = append(eligible, spawn)
	}
	if len(eligible) == 0 {
		return nil, synthetic, nil
	}

	specs := make([]barrier.BarrierJobSpec, 0, len(eligible))
	jobByToolCall := make(map[string]*models.WorkerJob, len(eligible))
	var stillEligible []toolinvoke.SpawnIntent
	for _, spawn := range eligible {
		job := &models.WorkerJob{
			ID:         newJobID(run, spawn.ToolCallID),
			RunID:      run.ID,
			ToolCallID: spawn.ToolCallID,
			Task:       spawn.Args.Task,
			Mode:       spawn.Args.Mode,
			RepoURL:    spawn.Args.RepoURL,
			Branch:     spawn.Args.Branch,
			Status:     models.JobCreated,
			CreatedAt:  time.Now(),
		}
		if job.Mode == "" {
			job.Mode = models.ModeStandard
		}
		if err := e.jobs.Enqueue(ctx, job); err != nil {
			admitRetries[spawn.ToolCallID]++
			if admitRetries[spawn.ToolCallID] > e.config.MaxAdmitRetries {
				synthetic = append(synthetic, syntheticSpawnError(spawn, errs.Internal, fmt.Sprintf("enqueue failed after %d attempts: %v", admitRetries[spawn.ToolCallID], err)))
				continue
			}
			return nil, nil, fmt.Errorf("enqueue worker job for %s: %w", spawn.ToolCallID, err)
		}
		jobByToolCall[spawn.ToolCallID] = job
		stillEligible = append(stillEligible, spawn)
		specs = append(specs, barrier.BarrierJobSpec{JobID: job.ID, ToolCallID: spawn.ToolCallID})
	}
	if len(specs) == 0 {
		return nil, synthetic, nil
	}

	var deadline time.Time
	if e.config.BarrierDeadline > 0 {
		deadline = time.Now().Add(e.config.BarrierDeadline)
	}
	b, err := e.barriers.CreateBarrier(ctx, run.ID, len(specs), deadline, specs)
	if err != nil {
		for _, spawn := range stillEligible {
			admitRetries[spawn.ToolCallID]++
			if admitRetries[spawn.ToolCallID] > e.config.MaxAdmitRetries {
				synthetic = append(synthetic, syntheticSpawnError(spawn, errs.Internal, fmt.Sprintf("barrier admission failed after %d attempts: %v", admitRetries[spawn.ToolCallID], err)))
			}
		}
		if len(synthetic) == len(spawns) {
			return nil, synthetic, nil
		}
		return nil, nil, fmt.Errorf("create barrier for run %d: %w", run.ID, err)
	}

	createdJobs := make([]CreatedJob, 0, len(specs))
	for _, spawn := range stillEligible {
		job := jobByToolCall[spawn.ToolCallID]
		createdJobs = append(createdJobs, CreatedJob{JobID: job.ID, ToolCallID: spawn.ToolCallID})
		if _, err := em.Spawned(ctx, job.ID, spawn.ToolCallID, string(job.Mode)); err != nil {
			return nil, nil, fmt.Errorf("emit worker_spawned: %w", err)
		}
	}
	run.WorkersSpawned += len(createdJobs)

	return &Interrupt{Kind: WorkersPending, BarrierID: b.ID, CreatedJobs: createdJobs}, synthetic, nil
}

func syntheticSpawnError(spawn toolinvoke.SpawnIntent, kind errs.Kind, message string) models.ToolResult {
	return models.ToolResult{
		ToolCallID: spawn.ToolCallID,
		Success:    false,
		ErrorKind:  models.ErrorKind(kind),
		Content:    fmt.Sprintf("spawn_worker rejected: %s", message),
	}
}

func newJobID(run *models.Run, toolCallID string) string {
	return fmt.Sprintf("%s-%s-%d", run.PublicID, toolCallID, time.Now().UnixNano())
}

func toolResultContent(r models.ToolResult) string {
	if r.Content != "" {
		return r.Content
	}
	if r.Err != nil {
		return r.Err.Error()
	}
	return ""
}

func toRefs(calls []models.ToolCall) []models.ToolCallRef {
	if len(calls) == 0 {
		return nil
	}
	out := make([]models.ToolCallRef, len(calls))
	for i, c := range calls {
		out[i] = models.ToolCallRef{ID: c.ID, Name: c.Name, Args: c.Args}
	}
	return out
}

func (e *Engine) persistAssistantMessage(ctx context.Context, run *models.Run, ownerID, text string, toolCalls []models.ToolCall) error {
	msg := &models.ThreadMessage{
		ThreadID:  run.ThreadID,
		OwnerID:   ownerID,
		Role:      models.RoleAssistant,
		Content:   text,
		ToolCalls: toRefs(toolCalls),
		SentAt:    time.Now(),
	}
	return e.threads.Append(ctx, msg)
}

func (e *Engine) persistToolResult(ctx context.Context, run *models.Run, ownerID, toolCallID, content string) error {
	msg := &models.ThreadMessage{
		ThreadID:   run.ThreadID,
		OwnerID:    ownerID,
		Role:       models.RoleTool,
		Content:    content,
		ToolCallID: toolCallID,
		Internal:   true,
		SentAt:     time.Now(),
	}
	return e.threads.Append(ctx, msg)
}
