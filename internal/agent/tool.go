package agent

import (
	"context"
	"encoding/json"
	"fmt"
)

// Tool is an executable capability exposed to the model.
//
// Name must be a valid function identifier (alphanumeric and underscores).
// Schema returns the JSON Schema the model uses to construct arguments;
// Execute receives arguments that have already been validated against it.
//
// Implementations must be safe for concurrent use: the registry may dispatch
// the same tool from several sessions at once.
type Tool interface {
	Name() string
	Description() string
	Schema() json.RawMessage
	Execute(ctx context.Context, params json.RawMessage) (*ToolResult, error)
}

// ToolResult is the output of a tool execution. Errors the model should see
// and recover from are reported with IsError set rather than as Go errors.
type ToolResult struct {
	Content string `json:"content"`
	IsError bool   `json:"is_error,omitempty"`
}

// ToolErrorCode classifies tool dispatch failures. The code is surfaced to
// the model inside the tool response so it can adjust, and to clients for
// diagnostics.
type ToolErrorCode string

const (
	ToolErrUnknown          ToolErrorCode = "unknown_tool"
	ToolErrDisabled         ToolErrorCode = "tool_disabled"
	ToolErrTimeout          ToolErrorCode = "tool_timeout"
	ToolErrPermissionDenied ToolErrorCode = "permission_denied"
	ToolErrBadArgs          ToolErrorCode = "bad_args"
	ToolErrUpstream         ToolErrorCode = "upstream_error"
	ToolErrTransferDenied   ToolErrorCode = "transfer_denied"
)

// ToolError is a classified tool dispatch failure.
type ToolError struct {
	Code    ToolErrorCode
	Tool    string
	Message string
}

func (e *ToolError) Error() string {
	if e.Tool == "" {
		return fmt.Sprintf("%s: %s", e.Code, e.Message)
	}
	return fmt.Sprintf("%s: %s: %s", e.Tool, e.Code, e.Message)
}

// NewToolError builds a ToolError with a formatted message.
func NewToolError(code ToolErrorCode, tool, format string, args ...any) *ToolError {
	return &ToolError{Code: code, Tool: tool, Message: fmt.Sprintf(format, args...)}
}
