package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/radbotlabs/radbot/internal/agent"
	"github.com/radbotlabs/radbot/internal/storage"
)

// MemoryBackend is the durable note store, implemented by storage.DB.
type MemoryBackend interface {
	AppendMemory(ctx context.Context, agentName, content string) (*storage.Memory, error)
	SearchMemories(ctx context.Context, agentName, query string, limit int) ([]*storage.Memory, error)
}

// MemoryPair builds the remember/recall tool pair for one agent. The tool
// names carry the agent so each agent's notes stay in its own namespace.
func MemoryPair(agentName string, backend MemoryBackend) (agent.Tool, agent.Tool) {
	return &rememberTool{agentName: agentName, backend: backend},
		&recallTool{agentName: agentName, backend: backend}
}

type rememberTool struct {
	agentName string
	backend   MemoryBackend
}

func (t *rememberTool) Name() string { return "remember_" + t.agentName }

func (t *rememberTool) Description() string {
	return fmt.Sprintf("Save a note to %s's long-term memory for later recall.", t.agentName)
}

func (t *rememberTool) Schema() json.RawMessage {
	return json.RawMessage(`{
		"type": "object",
		"properties": {
			"content": {
				"type": "string",
				"description": "The fact or note to remember."
			}
		},
		"required": ["content"]
	}`)
}

func (t *rememberTool) Execute(ctx context.Context, params json.RawMessage) (*agent.ToolResult, error) {
	var input struct {
		Content string `json:"content"`
	}
	if err := json.Unmarshal(params, &input); err != nil {
		return toolError("invalid parameters: %v", err), nil
	}
	if strings.TrimSpace(input.Content) == "" {
		return toolError("content is required"), nil
	}
	if _, err := t.backend.AppendMemory(ctx, t.agentName, input.Content); err != nil {
		return nil, fmt.Errorf("save memory: %w", err)
	}
	return &agent.ToolResult{Content: "Noted."}, nil
}

type recallTool struct {
	agentName string
	backend   MemoryBackend
}

func (t *recallTool) Name() string { return "recall_" + t.agentName }

func (t *recallTool) Description() string {
	return fmt.Sprintf("Search %s's long-term memory for previously saved notes.", t.agentName)
}

func (t *recallTool) Schema() json.RawMessage {
	return json.RawMessage(`{
		"type": "object",
		"properties": {
			"query": {
				"type": "string",
				"description": "Substring to search for. Empty returns the most recent notes."
			},
			"limit": {
				"type": "integer",
				"description": "Maximum notes to return (default 20).",
				"minimum": 1
			}
		}
	}`)
}

func (t *recallTool) Execute(ctx context.Context, params json.RawMessage) (*agent.ToolResult, error) {
	var input struct {
		Query string `json:"query"`
		Limit int    `json:"limit"`
	}
	if len(params) > 0 {
		if err := json.Unmarshal(params, &input); err != nil {
			return toolError("invalid parameters: %v", err), nil
		}
	}

	notes, err := t.backend.SearchMemories(ctx, t.agentName, input.Query, input.Limit)
	if err != nil {
		return nil, fmt.Errorf("search memory: %w", err)
	}
	if len(notes) == 0 {
		return &agent.ToolResult{Content: "No matching notes."}, nil
	}

	var b strings.Builder
	for _, note := range notes {
		fmt.Fprintf(&b, "- [%s] %s\n", note.CreatedAt.Format("2006-01-02"), note.Content)
	}
	return &agent.ToolResult{Content: b.String()}, nil
}
