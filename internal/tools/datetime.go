// Package tools holds the built-in tools wired onto agents at boot:
// clock, durable memory, shell, workspace filesystem access, and the
// sequential thinking scratchpad used by axel workers.
package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/radbotlabs/radbot/internal/agent"
)

// TimeTool reports the current time, optionally in a named zone.
type TimeTool struct {
	now func() time.Time
}

// NewTimeTool creates the clock tool.
func NewTimeTool() *TimeTool {
	return &TimeTool{now: time.Now}
}

// WithNow overrides the clock, for tests.
func (t *TimeTool) WithNow(now func() time.Time) *TimeTool {
	t.now = now
	return t
}

func (t *TimeTool) Name() string { return "get_current_time" }

func (t *TimeTool) Description() string {
	return "Get the current date and time, optionally in a specific IANA timezone."
}

func (t *TimeTool) Schema() json.RawMessage {
	return json.RawMessage(`{
		"type": "object",
		"properties": {
			"timezone": {
				"type": "string",
				"description": "IANA timezone name, e.g. \"America/New_York\". Defaults to the server timezone."
			}
		}
	}`)
}

func (t *TimeTool) Execute(_ context.Context, params json.RawMessage) (*agent.ToolResult, error) {
	var input struct {
		Timezone string `json:"timezone"`
	}
	if len(params) > 0 {
		if err := json.Unmarshal(params, &input); err != nil {
			return toolError("invalid parameters: %v", err), nil
		}
	}

	now := t.now()
	if input.Timezone != "" {
		loc, err := time.LoadLocation(input.Timezone)
		if err != nil {
			return toolError("unknown timezone %q", input.Timezone), nil
		}
		now = now.In(loc)
	}
	return &agent.ToolResult{Content: now.Format("Monday, 2 January 2006 15:04:05 MST")}, nil
}

func toolError(format string, args ...any) *agent.ToolResult {
	return &agent.ToolResult{Content: fmt.Sprintf(format, args...), IsError: true}
}
