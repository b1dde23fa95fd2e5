package agent

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
)

// TransferToolName is the reserved name of the handoff tool. It is injected
// into every agent's tool list by the runner and may not be registered
// explicitly.
const TransferToolName = "transfer_to_agent"

// TransferInitMessage is the neutral first message appended on behalf of a
// transfer target. The target does not respond until the next user message,
// which becomes its first real prompt.
const TransferInitMessage = "Agent transfer initiated. Do not respond yet."

// transferArgs is the argument shape of the handoff tool.
type transferArgs struct {
	AgentName string `json:"agent_name"`
}

// TransferTool is the handoff tool surfaced to the model. The runner
// intercepts calls to it and applies the transfer against the session, so
// Execute only runs if a caller dispatches it outside a turn, which is an
// error.
type TransferTool struct {
	agents *Registry
}

// NewTransferTool builds the handoff tool over the agent graph.
func NewTransferTool(agents *Registry) *TransferTool {
	return &TransferTool{agents: agents}
}

func (t *TransferTool) Name() string { return TransferToolName }

func (t *TransferTool) Description() string {
	return "Transfer the conversation to another agent. The target agent takes over from the next user message."
}

func (t *TransferTool) Schema() json.RawMessage {
	return json.RawMessage(`{
		"type": "object",
		"properties": {
			"agent_name": {
				"type": "string",
				"description": "Name of the agent to transfer control to"
			}
		},
		"required": ["agent_name"]
	}`)
}

// Execute reports that transfers are applied by the runtime. The runner
// never routes transfer calls here.
func (t *TransferTool) Execute(_ context.Context, _ json.RawMessage) (*ToolResult, error) {
	return &ToolResult{
		Content: "agent transfers are handled by the runtime",
		IsError: true,
	}, nil
}

// Resolve validates a transfer request from the given agent and returns the
// target name. Denials come back as TransferDenied tool errors; the active
// agent is never changed on the deny path.
func (t *TransferTool) Resolve(from string, args json.RawMessage) (string, error) {
	var parsed transferArgs
	if err := json.Unmarshal(args, &parsed); err != nil {
		return "", NewToolError(ToolErrBadArgs, TransferToolName, "invalid arguments: %v", err)
	}
	target := strings.TrimSpace(parsed.AgentName)
	if target == "" {
		return "", NewToolError(ToolErrBadArgs, TransferToolName, "agent_name is required")
	}
	if _, ok := t.agents.Get(target); !ok {
		return "", NewToolError(ToolErrTransferDenied, TransferToolName, "unknown agent %q", target)
	}
	if target == from {
		return "", NewToolError(ToolErrTransferDenied, TransferToolName, "agent %q cannot transfer to itself", target)
	}
	if !t.agents.CanTransfer(from, target) {
		return "", NewToolError(ToolErrTransferDenied, TransferToolName,
			"agent %q is not a transfer target of %q", target, from)
	}
	return target, nil
}

// TransferResult is the tool response recorded for a successful handoff.
func TransferResult(target string) string {
	return fmt.Sprintf("Transferred to agent %q.", target)
}
