package agent

import (
	"context"

	"github.com/radbotlabs/radbot/pkg/models"
)

// LLMProvider is the streaming interface to a model backend.
//
// Implementations must be safe for concurrent use; each Complete call owns
// an independent stream and goroutine. The returned channel is closed when
// the stream finishes, errors, or the context is cancelled.
type LLMProvider interface {
	// Complete sends a prompt and returns a streaming response.
	Complete(ctx context.Context, req *CompletionRequest) (<-chan *CompletionChunk, error)

	// Name returns the provider identifier, lowercase and stable.
	Name() string

	// Models returns the models this provider can serve.
	Models() []Model

	// SupportsTools reports whether the provider handles tool calling.
	SupportsTools() bool
}

// CompletionRequest carries one full provider request: conversation history,
// system prompt, available tools, and generation limits.
type CompletionRequest struct {
	// Model selects the backend model. Empty means the provider default.
	Model string `json:"model"`

	// System is the system prompt, handled separately from Messages.
	System string `json:"system,omitempty"`

	// Messages is the conversation history in chronological order.
	Messages []CompletionMessage `json:"messages"`

	// Tools the model may request. Empty disables tool calling.
	Tools []Tool `json:"tools,omitempty"`

	// MaxTokens caps the response length. Zero uses the provider default.
	MaxTokens int `json:"max_tokens,omitempty"`

	// EnableThinking turns on extended reasoning for models that support it.
	EnableThinking bool `json:"enable_thinking,omitempty"`

	// ThinkingBudgetTokens bounds extended reasoning when enabled.
	ThinkingBudgetTokens int `json:"thinking_budget_tokens,omitempty"`
}

// CompletionMessage is a single turn in the conversation. Role is one of
// "user", "assistant", or "tool".
type CompletionMessage struct {
	Role        string              `json:"role"`
	Content     string              `json:"content,omitempty"`
	ToolCalls   []models.ToolCall   `json:"tool_calls,omitempty"`
	ToolResults []models.ToolResult `json:"tool_results,omitempty"`
}

// CompletionChunk is one unit of a streaming response. Text arrives
// incrementally; tool calls arrive whole once their arguments are complete.
// Done marks successful completion, Error terminal failure.
type CompletionChunk struct {
	Text     string           `json:"text,omitempty"`
	ToolCall *models.ToolCall `json:"tool_call,omitempty"`
	Done     bool             `json:"done,omitempty"`
	Error    error            `json:"-"`

	// Thinking carries reasoning text, streamed separately from Text.
	Thinking      string `json:"thinking,omitempty"`
	ThinkingStart bool   `json:"thinking_start,omitempty"`
	ThinkingEnd   bool   `json:"thinking_end,omitempty"`

	// Token counts, populated only on the final chunk.
	InputTokens  int `json:"input_tokens,omitempty"`
	OutputTokens int `json:"output_tokens,omitempty"`
}

// Model describes one servable model and its capabilities.
type Model struct {
	ID             string `json:"id"`
	Name           string `json:"name"`
	ContextSize    int    `json:"context_size"`
	SupportsVision bool   `json:"supports_vision"`
}
