package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/radbotlabs/radbot/internal/agent"
)

// ThinkingTool is a structured scratchpad: the model records numbered
// reasoning steps and the tool echoes progress back. It performs no side
// effects; its value is forcing step-by-step decomposition during long
// executions.
type ThinkingTool struct{}

// NewThinkingTool creates the scratchpad tool.
func NewThinkingTool() *ThinkingTool {
	return &ThinkingTool{}
}

func (t *ThinkingTool) Name() string { return "sequential_thinking" }

func (t *ThinkingTool) Description() string {
	return "Work through a problem step by step. Record one thought at a time and signal whether more thinking is needed."
}

func (t *ThinkingTool) Schema() json.RawMessage {
	return json.RawMessage(`{
		"type": "object",
		"properties": {
			"thought": {
				"type": "string",
				"description": "The current reasoning step."
			},
			"thought_number": {
				"type": "integer",
				"description": "Index of this thought, starting at 1.",
				"minimum": 1
			},
			"total_thoughts": {
				"type": "integer",
				"description": "Current estimate of total thoughts needed.",
				"minimum": 1
			},
			"next_thought_needed": {
				"type": "boolean",
				"description": "Whether another thought should follow."
			}
		},
		"required": ["thought", "thought_number", "total_thoughts", "next_thought_needed"]
	}`)
}

func (t *ThinkingTool) Execute(_ context.Context, params json.RawMessage) (*agent.ToolResult, error) {
	var input struct {
		Thought           string `json:"thought"`
		ThoughtNumber     int    `json:"thought_number"`
		TotalThoughts     int    `json:"total_thoughts"`
		NextThoughtNeeded bool   `json:"next_thought_needed"`
	}
	if err := json.Unmarshal(params, &input); err != nil {
		return toolError("invalid parameters: %v", err), nil
	}
	if strings.TrimSpace(input.Thought) == "" {
		return toolError("thought is required"), nil
	}

	status := "continue"
	if !input.NextThoughtNeeded {
		status = "complete"
	}
	return &agent.ToolResult{
		Content: fmt.Sprintf("Recorded thought %d/%d (%s).", input.ThoughtNumber, input.TotalThoughts, status),
	}, nil
}

// WorkerKit returns the standard tool set handed to axel workers.
func WorkerKit(workspace string) []agent.Tool {
	return []agent.Tool{
		NewReadFileTool(workspace),
		NewWriteFileTool(workspace),
		NewListDirTool(workspace),
		NewShellTool(workspace),
		NewThinkingTool(),
	}
}
