package mcp

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/radbotlabs/radbot/internal/agent"
)

// serverTool adapts one remote MCP tool to the agent tool interface. The
// name is prefixed with the server id so every server gets its own
// namespace and PruneSource can fail late calls closed.
type serverTool struct {
	serverID string
	info     toolInfo
	session  session
}

func (t *serverTool) Name() string {
	return t.serverID + "_" + t.info.Name
}

func (t *serverTool) Description() string {
	if t.info.Description != "" {
		return t.info.Description
	}
	return fmt.Sprintf("Tool %s provided by MCP server %s.", t.info.Name, t.serverID)
}

func (t *serverTool) Schema() json.RawMessage {
	return t.info.Schema
}

func (t *serverTool) Execute(ctx context.Context, params json.RawMessage) (*agent.ToolResult, error) {
	args := map[string]any{}
	if len(params) > 0 {
		if err := json.Unmarshal(params, &args); err != nil {
			return nil, agent.NewToolError(agent.ToolErrBadArgs, t.Name(), "arguments are not a JSON object: %v", err)
		}
	}

	text, isError, err := t.session.CallTool(ctx, t.info.Name, args)
	if err != nil {
		return nil, agent.NewToolError(agent.ToolErrUpstream, t.Name(), "%v", err)
	}
	return &agent.ToolResult{Content: text, IsError: isError}, nil
}
