package axel

import (
	"context"
	"encoding/json"

	"github.com/radbotlabs/radbot/internal/agent"
)

// executeTool exposes the pool to the execution agent: the model hands over
// a project specification and receives the aggregated report.
type executeTool struct {
	pool *Pool
}

// Tool wraps the pool as an agent tool, registered for the execution agent.
func Tool(pool *Pool) agent.Tool {
	return &executeTool{pool: pool}
}

func (t *executeTool) Name() string { return "execute_project" }

func (t *executeTool) Description() string {
	return "Decompose a project specification into typed sub-tasks, execute them in parallel workers, and return an aggregated report."
}

func (t *executeTool) Schema() json.RawMessage {
	return json.RawMessage(`{
		"type": "object",
		"properties": {
			"specification": {
				"type": "string",
				"description": "The full project specification to execute"
			}
		},
		"required": ["specification"]
	}`)
}

func (t *executeTool) Execute(ctx context.Context, params json.RawMessage) (*agent.ToolResult, error) {
	var args struct {
		Specification string `json:"specification"`
	}
	if err := json.Unmarshal(params, &args); err != nil {
		return nil, agent.NewToolError(agent.ToolErrBadArgs, t.Name(), "invalid arguments: %v", err)
	}
	sessionID, ok := agent.SessionIDFromContext(ctx)
	if !ok {
		return nil, agent.NewToolError(agent.ToolErrBadArgs, t.Name(), "no session attached to this dispatch")
	}

	report, err := t.pool.Execute(ctx, sessionID, args.Specification)
	if err != nil {
		return nil, agent.NewToolError(agent.ToolErrUpstream, t.Name(), "%v", err)
	}
	return &agent.ToolResult{Content: report}, nil
}
