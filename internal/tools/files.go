package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/radbotlabs/radbot/internal/agent"
)

// maxFileRead caps how much of a file a single read returns.
const maxFileRead = 200 * 1024

// resolver confines filesystem tool paths to the workspace root.
type resolver struct {
	root string
}

func (r resolver) resolve(path string) (string, error) {
	cleaned := filepath.Clean("/" + path)
	full := filepath.Join(r.root, cleaned)
	rel, err := filepath.Rel(r.root, full)
	if err != nil || strings.HasPrefix(rel, "..") {
		return "", fmt.Errorf("path %q escapes the workspace", path)
	}
	return full, nil
}

// ReadFileTool reads workspace files.
type ReadFileTool struct {
	resolver resolver
}

// NewReadFileTool creates the reader scoped to workspace.
func NewReadFileTool(workspace string) *ReadFileTool {
	return &ReadFileTool{resolver: resolver{root: workspace}}
}

func (t *ReadFileTool) Name() string { return "read_file" }

func (t *ReadFileTool) Description() string {
	return "Read a file from the workspace."
}

func (t *ReadFileTool) Schema() json.RawMessage {
	return json.RawMessage(`{
		"type": "object",
		"properties": {
			"path": {
				"type": "string",
				"description": "Path relative to the workspace root."
			}
		},
		"required": ["path"]
	}`)
}

func (t *ReadFileTool) Execute(_ context.Context, params json.RawMessage) (*agent.ToolResult, error) {
	var input struct {
		Path string `json:"path"`
	}
	if err := json.Unmarshal(params, &input); err != nil {
		return toolError("invalid parameters: %v", err), nil
	}
	full, err := t.resolver.resolve(input.Path)
	if err != nil {
		return toolError("%v", err), nil
	}
	data, err := os.ReadFile(full)
	if err != nil {
		return toolError("read %s: %v", input.Path, err), nil
	}
	if len(data) > maxFileRead {
		data = data[:maxFileRead]
	}
	return &agent.ToolResult{Content: string(data)}, nil
}

// WriteFileTool writes workspace files, creating parent directories.
type WriteFileTool struct {
	resolver resolver
}

// NewWriteFileTool creates the writer scoped to workspace.
func NewWriteFileTool(workspace string) *WriteFileTool {
	return &WriteFileTool{resolver: resolver{root: workspace}}
}

func (t *WriteFileTool) Name() string { return "write_file" }

func (t *WriteFileTool) Description() string {
	return "Write content to a file in the workspace, creating directories as needed."
}

func (t *WriteFileTool) Schema() json.RawMessage {
	return json.RawMessage(`{
		"type": "object",
		"properties": {
			"path": {
				"type": "string",
				"description": "Path relative to the workspace root."
			},
			"content": {
				"type": "string",
				"description": "Full file content to write."
			}
		},
		"required": ["path", "content"]
	}`)
}

func (t *WriteFileTool) Execute(_ context.Context, params json.RawMessage) (*agent.ToolResult, error) {
	var input struct {
		Path    string `json:"path"`
		Content string `json:"content"`
	}
	if err := json.Unmarshal(params, &input); err != nil {
		return toolError("invalid parameters: %v", err), nil
	}
	full, err := t.resolver.resolve(input.Path)
	if err != nil {
		return toolError("%v", err), nil
	}
	if err := os.MkdirAll(filepath.Dir(full), 0o755); err != nil {
		return toolError("create directories: %v", err), nil
	}
	if err := os.WriteFile(full, []byte(input.Content), 0o644); err != nil {
		return toolError("write %s: %v", input.Path, err), nil
	}
	return &agent.ToolResult{Content: fmt.Sprintf("Wrote %d bytes to %s.", len(input.Content), input.Path)}, nil
}

// ListDirTool lists workspace directories.
type ListDirTool struct {
	resolver resolver
}

// NewListDirTool creates the lister scoped to workspace.
func NewListDirTool(workspace string) *ListDirTool {
	return &ListDirTool{resolver: resolver{root: workspace}}
}

func (t *ListDirTool) Name() string { return "list_directory" }

func (t *ListDirTool) Description() string {
	return "List the entries of a workspace directory."
}

func (t *ListDirTool) Schema() json.RawMessage {
	return json.RawMessage(`{
		"type": "object",
		"properties": {
			"path": {
				"type": "string",
				"description": "Directory path relative to the workspace root. Defaults to the root."
			}
		}
	}`)
}

func (t *ListDirTool) Execute(_ context.Context, params json.RawMessage) (*agent.ToolResult, error) {
	var input struct {
		Path string `json:"path"`
	}
	if len(params) > 0 {
		if err := json.Unmarshal(params, &input); err != nil {
			return toolError("invalid parameters: %v", err), nil
		}
	}
	full, err := t.resolver.resolve(input.Path)
	if err != nil {
		return toolError("%v", err), nil
	}
	entries, err := os.ReadDir(full)
	if err != nil {
		return toolError("list %s: %v", input.Path, err), nil
	}

	var b strings.Builder
	for _, entry := range entries {
		if entry.IsDir() {
			fmt.Fprintf(&b, "%s/\n", entry.Name())
		} else {
			fmt.Fprintf(&b, "%s\n", entry.Name())
		}
	}
	return &agent.ToolResult{Content: b.String()}, nil
}
