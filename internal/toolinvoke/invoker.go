// Package toolinvoke implements the Tool Invoker (component C). It
// generalizes internal/agent.ToolExecutor.ExecuteConcurrently:
// the same semaphore-bounded, one-goroutine-per-call, timeout-guarded
// dispatch shape, but invoked through an injected *emitter.Emitter instead
// of an ambient EventCallback, and short-circuiting spawn_worker calls
// into SpawnIntent values instead of executing them.
package toolinvoke

import (
	"bytes"
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/santhosh-tekuri/jsonschema/v5"

	"github.com/opscore/orchestrator/internal/emitter"
	"github.com/opscore/orchestrator/internal/errs"
	"github.com/opscore/orchestrator/pkg/models"
)

// Tool is one named tool implementation available to the invoker.
type Tool interface {
	Name() string
	// Invoke runs the tool body. sess is nil when the tool declared no
	// need for a database session.
	Invoke(ctx context.Context, args json.RawMessage, sess *sql.DB) (string, error)
	// NeedsSession reports whether Invoke expects a non-nil session.
	NeedsSession() bool
	// Timeout overrides the invoker's default per-tool timeout; zero means
	// "use the default".
	Timeout() time.Duration
}

// SessionFactory opens a session scoped to exactly one call. The returned
// close func must be called once the call returns; sessions never outlive
// a single invocation and are never shared across concurrent calls.
type SessionFactory func(ctx context.Context) (*sql.DB, func(), error)

// Registry resolves tool names against a role-scoped allowlist. Workers
// and supervisors have distinct allowlists.
type Registry struct {
	tools     map[string]Tool
	allowlist map[models.Role]map[string]bool
	schemas   map[string]*jsonschema.Schema
}

// NewRegistry builds an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		tools:     make(map[string]Tool),
		allowlist: make(map[models.Role]map[string]bool),
		schemas:   make(map[string]*jsonschema.Schema),
	}
}

// Register adds a tool and grants it to the given roles.
func (r *Registry) Register(tool Tool, roles ...models.Role) {
	r.tools[tool.Name()] = tool
	for _, role := range roles {
		if r.allowlist[role] == nil {
			r.allowlist[role] = make(map[string]bool)
		}
		r.allowlist[role][tool.Name()] = true
	}
}

// RegisterSchema attaches a JSON Schema (the same schema advertised to the
// model as the tool's llm.ToolSchema.InputSchema) that invokeOne validates
// call arguments against before the tool body runs. Optional — a tool with
// no registered schema is invoked unvalidated.
func (r *Registry) RegisterSchema(toolName string, schema map[string]any) error {
	raw, err := json.Marshal(schema)
	if err != nil {
		return fmt.Errorf("marshal schema for %s: %w", toolName, err)
	}
	compiler := jsonschema.NewCompiler()
	resourceName := toolName + ".json"
	if err := compiler.AddResource(resourceName, bytes.NewReader(raw)); err != nil {
		return fmt.Errorf("add schema resource for %s: %w", toolName, err)
	}
	compiled, err := compiler.Compile(resourceName)
	if err != nil {
		return fmt.Errorf("compile schema for %s: %w", toolName, err)
	}
	r.schemas[toolName] = compiled
	return nil
}

func (r *Registry) resolve(role models.Role, name string) (Tool, bool) {
	if !r.allowlist[role][name] {
		return nil, false
	}
	tool, ok := r.tools[name]
	return tool, ok
}

func (r *Registry) validateArgs(name string, args json.RawMessage) error {
	schema, ok := r.schemas[name]
	if !ok {
		return nil
	}
	var decoded any
	if err := json.Unmarshal(args, &decoded); err != nil {
		return fmt.Errorf("decode arguments: %w", err)
	}
	return schema.Validate(decoded)
}

// SpawnIntent is the recorded intent of a spawn_worker call, handed to the
// ReAct engine instead of being executed.
type SpawnIntent struct {
	ToolCallID string
	Args       models.SpawnWorkerArgs
}

// Invoker dispatches tool calls concurrently with per-call session
// isolation and per-tool timeouts.
type Invoker struct {
	registry       *Registry
	sessions       SessionFactory
	concurrency    int
	defaultTimeout time.Duration
	resultPreview  int
}

// Config tunes the invoker's concurrency and timeout defaults.
type Config struct {
	Concurrency    int
	DefaultTimeout time.Duration
	ResultPreview  int
}

// DefaultConfig returns the stated default per-tool timeout.
func DefaultConfig() Config {
	return Config{Concurrency: 4, DefaultTimeout: 60 * time.Second, ResultPreview: 500}
}

// New constructs an Invoker.
func New(registry *Registry, sessions SessionFactory, cfg Config) *Invoker {
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = 4
	}
	if cfg.DefaultTimeout <= 0 {
		cfg.DefaultTimeout = 60 * time.Second
	}
	if cfg.ResultPreview <= 0 {
		cfg.ResultPreview = 500
	}
	return &Invoker{registry: registry, sessions: sessions, concurrency: cfg.Concurrency, defaultTimeout: cfg.DefaultTimeout, resultPreview: cfg.ResultPreview}
}

// InvokeAll partitions calls into spawn intents and concurrently-executed
// non-spawn calls, returning results reassembled into the original call
// order (the "invocations return in completion order, then results
// are reassembled into the original call order").
func (inv *Invoker) InvokeAll(ctx context.Context, calls []models.ToolCall, em *emitter.Emitter, ownerID string) ([]models.ToolResult, []SpawnIntent) {
	results := make([]models.ToolResult, len(calls))
	var spawns []SpawnIntent

	nonSpawn := make([]int, 0, len(calls))
	for i, call := range calls {
		if call.IsSpawnWorker() {
			var args models.SpawnWorkerArgs
			_ = json.Unmarshal(call.Args, &args)
			spawns = append(spawns, SpawnIntent{ToolCallID: call.ID, Args: args})
			continue
		}
		nonSpawn = append(nonSpawn, i)
	}

	sem := make(chan struct{}, inv.concurrency)
	var wg sync.WaitGroup
	for _, idx := range nonSpawn {
		idx, call := idx, calls[idx]
		wg.Add(1)
		sem <- struct{}{}
		go func() {
			defer wg.Done()
			defer func() { <-sem }()
			results[idx] = inv.invokeOne(ctx, call, em, ownerID)
		}()
	}
	wg.Wait()

	return results, spawns
}

func (inv *Invoker) invokeOne(ctx context.Context, call models.ToolCall, em *emitter.Emitter, ownerID string) models.ToolResult {
	preview := truncate(string(call.Args), inv.resultPreview)
	if _, err := em.ToolStarted(ctx, call.ID, call.Name, preview); err != nil {
		return inv.fail(ctx, em, call, errs.Internal, fmt.Errorf("emit tool_started: %w", err))
	}

	tool, ok := inv.registry.resolve(em.Role(), call.Name)
	if !ok {
		return inv.fail(ctx, em, call, errs.ToolNotFound, fmt.Errorf("tool %q not permitted for role %s", call.Name, em.Role()))
	}

	if err := inv.registry.validateArgs(call.Name, call.Args); err != nil {
		return inv.fail(ctx, em, call, errs.InvalidInput, fmt.Errorf("invalid arguments for tool %q: %w", call.Name, err))
	}

	timeout := tool.Timeout()
	if timeout <= 0 {
		timeout = inv.defaultTimeout
	}
	callCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	var sess *sql.DB
	if tool.NeedsSession() {
		if inv.sessions == nil {
			return inv.fail(ctx, em, call, errs.Internal, fmt.Errorf("tool %q requires a session but no session factory is configured", call.Name))
		}
		s, closeFn, err := inv.sessions(callCtx)
		if err != nil {
			return inv.fail(ctx, em, call, errs.ConnectorUnavailable, fmt.Errorf("open tool session: %w", err))
		}
		defer closeFn()
		sess = s
	}

	start := time.Now()
	content, err := tool.Invoke(callCtx, call.Args, sess)
	elapsed := time.Since(start)

	if err != nil {
		kind := errs.ToolExecutionError
		if callCtx.Err() != nil {
			kind = errs.ToolTimeout
		}
		return inv.fail(ctx, em, call, kind, err)
	}

	resultPreview := truncate(content, inv.resultPreview)
	if _, err := em.ToolCompleted(ctx, call.ID, call.Name, resultPreview, elapsed.Milliseconds()); err != nil {
		return inv.fail(ctx, em, call, errs.Internal, fmt.Errorf("emit tool_completed: %w", err))
	}

	return models.ToolResult{ToolCallID: call.ID, Name: call.Name, Success: true, Content: content}
}

func (inv *Invoker) fail(ctx context.Context, em *emitter.Emitter, call models.ToolCall, kind errs.Kind, cause error) models.ToolResult {
	_, _ = em.ToolFailed(ctx, call.ID, call.Name, string(kind), cause.Error())
	return models.ToolResult{ToolCallID: call.ID, Name: call.Name, Success: false, ErrorKind: models.ErrorKind(kind), Err: cause, Content: fmt.Sprintf("tool %q failed (%s): %v", call.Name, kind, cause)}
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "...(truncated)"
}
