package axel

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/radbotlabs/radbot/internal/agent"
	"github.com/radbotlabs/radbot/internal/tools"
	"github.com/radbotlabs/radbot/pkg/models"
)

// maxWorkerRounds bounds the model/tool loop inside one worker. Hitting the
// cap yields a Partial result rather than an error.
const maxWorkerRounds = 24

const workerSystemPrompt = `You are an execution worker handling one %s sub-task. Use the available tools to complete the task inside the workspace. When the work is done, reply with a short summary of what you did.`

// summaryLimit caps the summary line extracted from a worker's final reply.
const summaryLimit = 200

// runWorker executes one sub-task to a terminal result. It never returns an
// error; every failure mode maps onto a TaskResult status.
func (p *Pool) runWorker(ctx context.Context, task *models.TaskInstruction) *models.TaskResult {
	result := &models.TaskResult{
		TaskID:    task.TaskID,
		TaskType:  task.TaskType,
		StartedAt: p.now(),
	}
	defer func() { result.FinishedAt = p.now() }()

	taskCtx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	kit := tools.WorkerKit(p.workspace)
	byName := make(map[string]agent.Tool, len(kit))
	for _, tool := range kit {
		byName[tool.Name()] = tool
	}

	messages := []agent.CompletionMessage{
		{Role: "user", Content: task.Specification},
	}
	artifacts := make(map[string]string)

	for round := 0; round < maxWorkerRounds; round++ {
		text, calls, err := p.completeOnce(taskCtx, task, messages)
		if err != nil {
			return p.failWorker(result, taskCtx, err)
		}

		if len(calls) == 0 {
			result.Status = models.TaskCompleted
			result.Summary = summarize(text)
			result.Details = text
			if len(artifacts) > 0 {
				result.Artifacts = artifacts
			}
			return result
		}

		messages = append(messages, agent.CompletionMessage{
			Role:      "assistant",
			Content:   text,
			ToolCalls: calls,
		})
		toolResults := make([]models.ToolResult, 0, len(calls))
		for _, call := range calls {
			outcome := p.executeTool(taskCtx, byName, call, artifacts)
			toolResults = append(toolResults, outcome)
		}
		messages = append(messages, agent.CompletionMessage{
			Role:        "user",
			ToolResults: toolResults,
		})
	}

	result.Status = models.TaskPartial
	result.Summary = "worker stopped at the round limit"
	result.ErrorMessage = "tool round limit reached"
	if len(artifacts) > 0 {
		result.Artifacts = artifacts
	}
	return result
}

// completeOnce performs one provider round and drains the stream.
func (p *Pool) completeOnce(ctx context.Context, task *models.TaskInstruction, messages []agent.CompletionMessage) (string, []models.ToolCall, error) {
	req := &agent.CompletionRequest{
		Model:    p.model,
		System:   fmt.Sprintf(workerSystemPrompt, task.TaskType),
		Messages: messages,
		Tools:    tools.WorkerKit(p.workspace),
	}
	chunks, err := p.provider.Complete(ctx, req)
	if err != nil {
		return "", nil, err
	}

	var text strings.Builder
	var calls []models.ToolCall
	for chunk := range chunks {
		if chunk.Error != nil {
			return "", nil, chunk.Error
		}
		text.WriteString(chunk.Text)
		if chunk.ToolCall != nil {
			calls = append(calls, *chunk.ToolCall)
		}
	}
	if err := ctx.Err(); err != nil {
		return "", nil, err
	}
	return text.String(), calls, nil
}

// executeTool runs one tool call, recording written files as artifacts.
func (p *Pool) executeTool(ctx context.Context, byName map[string]agent.Tool, call models.ToolCall, artifacts map[string]string) models.ToolResult {
	tool, ok := byName[call.Name]
	if !ok {
		return models.ToolResult{
			ToolCallID: call.ID,
			Content:    fmt.Sprintf("unknown tool %q", call.Name),
			IsError:    true,
		}
	}

	res, err := tool.Execute(ctx, call.Input)
	if err != nil {
		return models.ToolResult{ToolCallID: call.ID, Content: err.Error(), IsError: true}
	}
	if call.Name == "write_file" && !res.IsError {
		var input struct {
			Path    string `json:"path"`
			Content string `json:"content"`
		}
		if json.Unmarshal(call.Input, &input) == nil && input.Path != "" {
			artifacts[input.Path] = input.Content
		}
	}
	return models.ToolResult{ToolCallID: call.ID, Content: res.Content, IsError: res.IsError}
}

// failWorker maps an execution error to a Failed result. A blown task
// deadline always reads "execution timeout".
func (p *Pool) failWorker(result *models.TaskResult, ctx context.Context, err error) *models.TaskResult {
	result.Status = models.TaskFailed
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(ctx.Err(), context.DeadlineExceeded) {
		result.ErrorMessage = "execution timeout"
	} else {
		result.ErrorMessage = err.Error()
	}
	result.Summary = "task failed: " + result.ErrorMessage
	return result
}

func summarize(text string) string {
	text = strings.TrimSpace(text)
	if idx := strings.IndexByte(text, '\n'); idx > 0 {
		text = text[:idx]
	}
	if len(text) > summaryLimit {
		text = text[:summaryLimit]
	}
	if text == "" {
		text = "task completed"
	}
	return text
}
