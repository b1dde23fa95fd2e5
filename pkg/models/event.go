package models

import (
	"encoding/json"
	"time"
)

// EventType discriminates the variants of the session event stream.
type EventType string

const (
	EventUserMessage   EventType = "user_message"
	EventModelResponse EventType = "model_response"
	EventToolCall      EventType = "tool_call"
	EventToolResponse  EventType = "tool_response"
	EventAgentTransfer EventType = "agent_transfer"
	EventSystem        EventType = "system"
)

// SystemKind classifies System events.
type SystemKind string

const (
	SystemReset SystemKind = "reset"
	SystemError SystemKind = "error"
	SystemInfo  SystemKind = "info"
)

// Event is one entry in a session's append-only history.
//
// Exactly one of the payload pointers is set, matching Type. Events are
// never mutated after they are appended; the fanout truncates copies, not
// the stored value.
type Event struct {
	ID        string    `json:"id"`
	SessionID string    `json:"session_id"`
	Seq       int64     `json:"seq"`
	Type      EventType `json:"type"`
	Timestamp time.Time `json:"timestamp"`

	UserMessage   *UserMessagePayload   `json:"user_message,omitempty"`
	ModelResponse *ModelResponsePayload `json:"model_response,omitempty"`
	ToolCall      *ToolCallPayload      `json:"tool_call,omitempty"`
	ToolResponse  *ToolResponsePayload  `json:"tool_response,omitempty"`
	AgentTransfer *AgentTransferPayload `json:"agent_transfer,omitempty"`
	System        *SystemPayload        `json:"system,omitempty"`
}

// UserMessagePayload carries a user (or system-injected) prompt.
type UserMessagePayload struct {
	Text string `json:"text"`
}

// ModelResponsePayload carries assistant output.
//
// Thought parts are internal reasoning and must never be surfaced to
// external clients; the runner redacts them before building provider
// requests and the fanout drops them entirely.
type ModelResponsePayload struct {
	AuthorAgent string `json:"author_agent"`
	Text        string `json:"text"`
	IsFinal     bool   `json:"is_final"`
	Thought     bool   `json:"thought,omitempty"`
}

// ToolCallPayload records the model requesting a tool execution.
type ToolCallPayload struct {
	AuthorAgent string          `json:"author_agent"`
	CallID      string          `json:"call_id"`
	ToolName    string          `json:"tool_name"`
	Args        json.RawMessage `json:"args,omitempty"`
}

// ToolResponsePayload records a tool's result or error.
type ToolResponsePayload struct {
	CallID   string `json:"call_id"`
	ToolName string `json:"tool_name"`
	Result   string `json:"result,omitempty"`
	Error    string `json:"error,omitempty"`
}

// AgentTransferPayload records a handoff of the active agent.
type AgentTransferPayload struct {
	FromAgent string `json:"from_agent"`
	ToAgent   string `json:"to_agent"`
}

// SystemPayload carries reset, error, and informational notices.
type SystemPayload struct {
	Kind SystemKind `json:"kind"`
	Text string     `json:"text"`
}

// Text returns the dominant text field of the event, used for size
// accounting and truncation by the fanout.
func (e *Event) Text() string {
	switch {
	case e.UserMessage != nil:
		return e.UserMessage.Text
	case e.ModelResponse != nil:
		return e.ModelResponse.Text
	case e.ToolResponse != nil:
		if e.ToolResponse.Error != "" {
			return e.ToolResponse.Error
		}
		return e.ToolResponse.Result
	case e.System != nil:
		return e.System.Text
	}
	return ""
}

// WithText returns a shallow copy of the event with its dominant text
// field replaced. The receiver is left untouched.
func (e *Event) WithText(text string) *Event {
	clone := *e
	switch {
	case clone.UserMessage != nil:
		p := *clone.UserMessage
		p.Text = text
		clone.UserMessage = &p
	case clone.ModelResponse != nil:
		p := *clone.ModelResponse
		p.Text = text
		clone.ModelResponse = &p
	case clone.ToolResponse != nil:
		p := *clone.ToolResponse
		if p.Error != "" {
			p.Error = text
		} else {
			p.Result = text
		}
		clone.ToolResponse = &p
	case clone.System != nil:
		p := *clone.System
		p.Text = text
		clone.System = &p
	}
	return &clone
}
