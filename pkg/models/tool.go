package models

import "encoding/json"

// ToolCall is one invocation the LLM asked for in an assistant turn.
type ToolCall struct {
	ID   string          `json:"id"`
	Name string          `json:"name"`
	Args json.RawMessage `json:"args"`
}

// ErrorKind mirrors internal/errs.Kind's string values without importing
// internal/errs — pkg/models stays dependency-free so both the core and the
// LLM-facing edges can import it.
type ErrorKind string

// ToolResult is the outcome of invoking a ToolCall.
type ToolResult struct {
	ToolCallID string
	Name       string
	Success    bool
	Content    string // reply text placed into the next tool message
	ErrorKind  ErrorKind
	Err        error
}

// IsSpawnWorker reports whether a tool call is the special spawn_worker
// intent, which the Tool Invoker never executes directly.
func (c ToolCall) IsSpawnWorker() bool {
	return c.Name == "spawn_worker"
}

// SpawnWorkerArgs is the decoded argument shape for a spawn_worker call.
type SpawnWorkerArgs struct {
	Task    string     `json:"task"`
	Mode    WorkerMode `json:"mode"`
	RepoURL string     `json:"repo_url,omitempty"`
	Branch  string     `json:"branch,omitempty"`
}
