package main

import (
	"github.com/opscore/orchestrator/internal/config"
	"github.com/opscore/orchestrator/internal/llm"
	"github.com/opscore/orchestrator/internal/react"
	"github.com/opscore/orchestrator/internal/toolinvoke"
)

// spawnWorkerSchema is the tool definition every supervisor-role completion
// request advertises, letting the LLM request a parallel worker without a
// concrete toolinvoke.Tool backing it — spawn_worker calls are intercepted
// by toolinvoke.Invoker.InvokeAll before dispatch.
var spawnWorkerSchema = llm.ToolSchema{
	Name:        "spawn_worker",
	Description: "Spawn a parallel worker job that runs independently and reports its result back once the barrier it belongs to completes.",
	InputSchema: map[string]any{
		"type":     "object",
		"required": []string{"task", "mode"},
		"properties": map[string]any{
			"task":     map[string]any{"type": "string", "description": "The task description handed to the worker."},
			"mode":     map[string]any{"type": "string", "enum": []string{"standard", "workspace"}},
			"repo_url": map[string]any{"type": "string", "description": "Required when mode is workspace."},
			"branch":   map[string]any{"type": "string"},
		},
	},
}

func reactConfigFrom(cfg config.ReactConfig) react.Config {
	out := react.DefaultConfig()
	if cfg.MaxIterations > 0 {
		out.MaxIterations = cfg.MaxIterations
	}
	if cfg.MaxWorkersPerRun > 0 {
		out.MaxWorkersPerRun = cfg.MaxWorkersPerRun
	}
	if cfg.MaxAdmitRetries > 0 {
		out.MaxAdmitRetries = cfg.MaxAdmitRetries
	}
	if cfg.MaxTokens > 0 {
		out.MaxTokens = cfg.MaxTokens
	}
	if cfg.HistoryLimit > 0 {
		out.HistoryLimit = cfg.HistoryLimit
	}
	out.BarrierDeadline = cfg.BarrierDeadline
	out.SystemPreamble = cfg.SystemPreamble
	return out
}

// buildToolInvoker constructs the invoker shared by the supervisor engine
// and every worker runtime. No concrete tool implementations are wired here
// — tool bodies are a deployment-specific concern left to operators, who
// register them through Registry.Register/RegisterSchema before Start.
func buildToolInvoker(sessions toolinvoke.SessionFactory) (*toolinvoke.Registry, *toolinvoke.Invoker) {
	registry := toolinvoke.NewRegistry()
	invoker := toolinvoke.New(registry, sessions, toolinvoke.DefaultConfig())
	return registry, invoker
}
