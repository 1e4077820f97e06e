// Package models provides the domain types shared across the orchestration core.
package models

import (
	"encoding/json"
	"time"
)

// RunStatus is the state of a run's top-level state machine.
type RunStatus string

const (
	RunStatusQueued    RunStatus = "queued"
	RunStatusRunning   RunStatus = "running"
	RunStatusWaiting   RunStatus = "waiting"
	RunStatusSuccess   RunStatus = "success"
	RunStatusFailed    RunStatus = "failed"
	RunStatusCancelled RunStatus = "cancelled"
	RunStatusTimeout   RunStatus = "timeout"
)

// Terminal reports whether the status ends the run's lifecycle.
func (s RunStatus) Terminal() bool {
	switch s {
	case RunStatusSuccess, RunStatusFailed, RunStatusCancelled, RunStatusTimeout:
		return true
	default:
		return false
	}
}

// Run is one user-initiated reasoning episode bounded by a terminal status.
type Run struct {
	ID             int64     `json:"-"`
	PublicID       string    `json:"run_public_id"`
	OwnerID        string    `json:"owner_id"`
	ThreadID       string    `json:"thread_id"`
	Status         RunStatus `json:"status"`
	Model          string    `json:"model"`
	ReasoningHint  string    `json:"reasoning_effort,omitempty"`
	Iteration      int       `json:"iteration"`
	WorkersSpawned int       `json:"workers_spawned"`
	InputTokens    int       `json:"input_tokens"`
	OutputTokens   int       `json:"output_tokens"`
	CostUSD        float64   `json:"cost_usd"`
	CreatedAt      time.Time `json:"created_at"`
	StartedAt      time.Time `json:"started_at,omitempty"`
	FinishedAt     time.Time `json:"finished_at,omitempty"`
	LastEventID    int64     `json:"last_event_id"`
}

// MessageRole identifies who authored a thread message.
type MessageRole string

const (
	RoleSystem    MessageRole = "system"
	RoleUser      MessageRole = "user"
	RoleAssistant MessageRole = "assistant"
	RoleTool      MessageRole = "tool"
)

// ToolCallRef is the {id, name, args} triple the LLM abstraction exchanges.
type ToolCallRef struct {
	ID   string          `json:"id"`
	Name string          `json:"name"`
	Args json.RawMessage `json:"args"`
}

// ThreadMessage is one entry in a run's conversational history.
type ThreadMessage struct {
	ID         int64         `json:"-"`
	ThreadID   string        `json:"thread_id"`
	OwnerID    string        `json:"owner_id"`
	Role       MessageRole   `json:"role"`
	Content    string        `json:"content"`
	ToolCalls  []ToolCallRef `json:"tool_calls,omitempty"`
	ToolCallID string        `json:"tool_call_id,omitempty"`
	Internal   bool          `json:"internal"`
	SentAt     time.Time     `json:"sent_at"`
}
