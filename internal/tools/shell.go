package tools

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os/exec"
	"strings"
	"time"

	"github.com/radbotlabs/radbot/internal/agent"
)

// defaultShellTimeout bounds a command when the caller asks for none.
const defaultShellTimeout = 60 * time.Second

// maxShellOutput caps captured output so a chatty command cannot flood a
// tool response.
const maxShellOutput = 64 * 1024

// ShellTool runs a shell command inside the workspace directory.
type ShellTool struct {
	workspace string
}

// NewShellTool creates the shell tool rooted at workspace.
func NewShellTool(workspace string) *ShellTool {
	return &ShellTool{workspace: workspace}
}

func (t *ShellTool) Name() string { return "execute_shell" }

func (t *ShellTool) Description() string {
	return "Run a shell command in the workspace and return its output and exit code."
}

func (t *ShellTool) Schema() json.RawMessage {
	return json.RawMessage(`{
		"type": "object",
		"properties": {
			"command": {
				"type": "string",
				"description": "Shell command to execute."
			},
			"timeout_seconds": {
				"type": "integer",
				"description": "Timeout in seconds (default 60).",
				"minimum": 1
			}
		},
		"required": ["command"]
	}`)
}

// shellResult is the structured tool output.
type shellResult struct {
	ExitCode int    `json:"exit_code"`
	Stdout   string `json:"stdout"`
	Stderr   string `json:"stderr"`
	TimedOut bool   `json:"timed_out,omitempty"`
}

func (t *ShellTool) Execute(ctx context.Context, params json.RawMessage) (*agent.ToolResult, error) {
	var input struct {
		Command        string `json:"command"`
		TimeoutSeconds int    `json:"timeout_seconds"`
	}
	if err := json.Unmarshal(params, &input); err != nil {
		return toolError("invalid parameters: %v", err), nil
	}
	command := strings.TrimSpace(input.Command)
	if command == "" {
		return toolError("command is required"), nil
	}

	timeout := defaultShellTimeout
	if input.TimeoutSeconds > 0 {
		timeout = time.Duration(input.TimeoutSeconds) * time.Second
	}
	runCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	cmd := exec.CommandContext(runCtx, "/bin/sh", "-c", command)
	cmd.Dir = t.workspace
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	err := cmd.Run()
	result := shellResult{
		Stdout: clip(stdout.String()),
		Stderr: clip(stderr.String()),
	}
	switch {
	case runCtx.Err() == context.DeadlineExceeded:
		result.TimedOut = true
		result.ExitCode = -1
	case err != nil:
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			result.ExitCode = exitErr.ExitCode()
		} else {
			return toolError("run command: %v", err), nil
		}
	}

	payload, marshalErr := json.MarshalIndent(result, "", "  ")
	if marshalErr != nil {
		return toolError("encode result: %v", marshalErr), nil
	}
	return &agent.ToolResult{
		Content: string(payload),
		IsError: result.ExitCode != 0 || result.TimedOut,
	}, nil
}

func clip(s string) string {
	if len(s) <= maxShellOutput {
		return s
	}
	return s[:maxShellOutput] + fmt.Sprintf("\n... (%d bytes dropped)", len(s)-maxShellOutput)
}
