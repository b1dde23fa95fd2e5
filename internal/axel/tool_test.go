package axel

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"testing"

	"github.com/radbotlabs/radbot/internal/agent"
)

func TestExecuteToolRunsPool(t *testing.T) {
	provider := &fakeProvider{
		plannerReply: plannerJSON(t,
			map[string]string{"task_type": "code_implementation", "specification": "build the widget"},
		),
		scripts: map[string][]fakeTurn{
			"build the widget": {{text: "implemented the widget"}},
		},
	}
	pool := NewPool(provider, newFakeSink(), t.TempDir())
	tool := Tool(pool)

	if tool.Name() != "execute_project" {
		t.Errorf("name = %q", tool.Name())
	}

	ctx := agent.WithSessionID(context.Background(), "s1")
	result, err := tool.Execute(ctx, json.RawMessage(`{"specification": "make a widget"}`))
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if !strings.Contains(result.Content, "## Code Implementation") {
		t.Errorf("report missing heading:\n%s", result.Content)
	}
}

func TestExecuteToolRequiresSession(t *testing.T) {
	pool := NewPool(&fakeProvider{}, newFakeSink(), t.TempDir())
	tool := Tool(pool)

	_, err := tool.Execute(context.Background(), json.RawMessage(`{"specification": "anything"}`))
	var toolErr *agent.ToolError
	if !errors.As(err, &toolErr) || toolErr.Code != agent.ToolErrBadArgs {
		t.Fatalf("err = %v, want bad_args", err)
	}
}
