package tools

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/radbotlabs/radbot/internal/storage"
)

func TestTimeTool(t *testing.T) {
	fixed := time.Date(2026, 8, 24, 15, 30, 0, 0, time.UTC)
	tool := NewTimeTool().WithNow(func() time.Time { return fixed })

	result, err := tool.Execute(context.Background(), json.RawMessage(`{}`))
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if !strings.Contains(result.Content, "24 August 2026") {
		t.Errorf("content = %q", result.Content)
	}

	result, _ = tool.Execute(context.Background(), json.RawMessage(`{"timezone": "not/a/zone"}`))
	if !result.IsError {
		t.Error("bad timezone should produce an error result")
	}
}

func TestFileTools(t *testing.T) {
	workspace := t.TempDir()
	write := NewWriteFileTool(workspace)
	read := NewReadFileTool(workspace)
	list := NewListDirTool(workspace)

	args, _ := json.Marshal(map[string]string{
		"path":    "notes/hello.txt",
		"content": "hello world",
	})
	result, err := write.Execute(context.Background(), args)
	if err != nil || result.IsError {
		t.Fatalf("write: %v / %+v", err, result)
	}

	args, _ = json.Marshal(map[string]string{"path": "notes/hello.txt"})
	result, err = read.Execute(context.Background(), args)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if result.Content != "hello world" {
		t.Errorf("read content = %q", result.Content)
	}

	result, err = list.Execute(context.Background(), json.RawMessage(`{"path": "notes"}`))
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if !strings.Contains(result.Content, "hello.txt") {
		t.Errorf("list content = %q", result.Content)
	}
}

func TestFileToolsRejectEscape(t *testing.T) {
	workspace := t.TempDir()
	outside := filepath.Join(filepath.Dir(workspace), "outside.txt")
	os.WriteFile(outside, []byte("secret"), 0o644)

	read := NewReadFileTool(workspace)
	for _, path := range []string{"../outside.txt", "a/../../outside.txt"} {
		args, _ := json.Marshal(map[string]string{"path": path})
		result, err := read.Execute(context.Background(), args)
		if err != nil {
			t.Fatalf("Execute(%s): %v", path, err)
		}
		if !result.IsError {
			t.Errorf("path %q should be rejected", path)
		}
	}
}

func TestShellTool(t *testing.T) {
	tool := NewShellTool(t.TempDir())

	result, err := tool.Execute(context.Background(), json.RawMessage(`{"command": "echo hi; exit 0"}`))
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if result.IsError {
		t.Fatalf("unexpected error result: %s", result.Content)
	}
	var parsed shellResult
	if err := json.Unmarshal([]byte(result.Content), &parsed); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if strings.TrimSpace(parsed.Stdout) != "hi" {
		t.Errorf("stdout = %q", parsed.Stdout)
	}

	result, _ = tool.Execute(context.Background(), json.RawMessage(`{"command": "exit 3"}`))
	if !result.IsError {
		t.Error("non-zero exit should be an error result")
	}
	json.Unmarshal([]byte(result.Content), &parsed)
	if parsed.ExitCode != 3 {
		t.Errorf("exit code = %d, want 3", parsed.ExitCode)
	}
}

func TestShellToolTimeout(t *testing.T) {
	tool := NewShellTool(t.TempDir())
	result, err := tool.Execute(context.Background(),
		json.RawMessage(`{"command": "sleep 5", "timeout_seconds": 1}`))
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	var parsed shellResult
	json.Unmarshal([]byte(result.Content), &parsed)
	if !parsed.TimedOut {
		t.Error("expected timed_out result")
	}
}

func TestThinkingTool(t *testing.T) {
	tool := NewThinkingTool()
	result, err := tool.Execute(context.Background(), json.RawMessage(`{
		"thought": "break the problem into parts",
		"thought_number": 1,
		"total_thoughts": 3,
		"next_thought_needed": true
	}`))
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if !strings.Contains(result.Content, "1/3") || !strings.Contains(result.Content, "continue") {
		t.Errorf("content = %q", result.Content)
	}
}

func TestMemoryPair(t *testing.T) {
	db, err := storage.Open("")
	if err != nil {
		t.Fatalf("open storage: %v", err)
	}
	defer db.Close()

	remember, recall := MemoryPair("scout", db)
	if remember.Name() != "remember_scout" || recall.Name() != "recall_scout" {
		t.Fatalf("names = %s / %s", remember.Name(), recall.Name())
	}

	args, _ := json.Marshal(map[string]string{"content": "the deploy key lives in vault"})
	if result, err := remember.Execute(context.Background(), args); err != nil || result.IsError {
		t.Fatalf("remember: %v / %+v", err, result)
	}

	args, _ = json.Marshal(map[string]string{"query": "deploy"})
	result, err := recall.Execute(context.Background(), args)
	if err != nil {
		t.Fatalf("recall: %v", err)
	}
	if !strings.Contains(result.Content, "deploy key") {
		t.Errorf("recall content = %q", result.Content)
	}

	// Another agent's namespace is empty.
	_, otherRecall := MemoryPair("axel", db)
	result, _ = otherRecall.Execute(context.Background(), args)
	if !strings.Contains(result.Content, "No matching notes") {
		t.Errorf("cross-agent recall = %q", result.Content)
	}
}
