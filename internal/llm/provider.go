// Package llm defines the provider abstraction the ReAct engine drives and
// the concrete Anthropic/OpenAI/Bedrock adapters behind it. It generalizes
// internal/agent.LLMProvider interface and its
// internal/agent/providers implementations: the same streaming-chunk
// contract, retried under internal/retry instead of each provider hand
// rolling its own backoff loop.
package llm

import (
	"context"

	"github.com/opscore/orchestrator/pkg/models"
)

// Provider is implemented by every LLM backend the supervisor or a worker
// can be configured to use.
type Provider interface {
	// Complete streams one assistant turn for the given request.
	Complete(ctx context.Context, req *CompletionRequest) (<-chan *CompletionChunk, error)
	Name() string
	Models() []Model
	SupportsTools() bool
}

// CompletionRequest is one turn's worth of conversation plus generation
// parameters, provider-agnostic.
type CompletionRequest struct {
	Model     string
	System    string
	Messages  []CompletionMessage
	Tools     []ToolSchema
	MaxTokens int
}

// CompletionMessage is one entry in the conversation history handed to the
// provider. Role is one of "user", "assistant", "tool".
type CompletionMessage struct {
	Role        string
	Content     string
	ToolCalls   []models.ToolCall
	ToolResults []models.ToolResult
}

// CompletionChunk is one increment of a streamed assistant turn.
type CompletionChunk struct {
	Text         string
	ToolCall     *models.ToolCall
	Done         bool
	Error        error
	InputTokens  int
	OutputTokens int
}

// Model describes one model a provider exposes.
type Model struct {
	ID          string
	Name        string
	ContextSize int
}

// ToolSchema is the provider-agnostic shape handed to Provider.Complete; each
// adapter converts it into its own SDK's tool-definition type.
type ToolSchema struct {
	Name        string
	Description string
	InputSchema map[string]any
}
