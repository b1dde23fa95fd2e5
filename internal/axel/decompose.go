package axel

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/google/uuid"

	"github.com/radbotlabs/radbot/internal/agent"
	"github.com/radbotlabs/radbot/pkg/models"
)

const decomposeSystemPrompt = `You are a task planner. Break the given specification into at most %d sub-tasks.

Respond with ONLY a JSON array. Each element has:
  "task_type": one of "code_implementation", "documentation", "testing"
  "specification": the full instructions for that sub-task

Produce one task per type when the specification warrants it. Do not wrap the array in markdown fences or commentary.`

// typePriority orders task types for deterministic overflow dropping.
// Lower keeps first.
func typePriority(t models.TaskType) int {
	switch t {
	case models.TaskCodeImplementation:
		return 0
	case models.TaskTesting:
		return 1
	case models.TaskDocumentation:
		return 2
	}
	return 3
}

// decompose asks the model to split spec into typed sub-tasks. A response
// that cannot be parsed falls back to a single implementation task so an
// odd model reply never stalls the pool.
func (p *Pool) decompose(ctx context.Context, spec string) ([]*models.TaskInstruction, error) {
	req := &agent.CompletionRequest{
		Model:  p.model,
		System: fmt.Sprintf(decomposeSystemPrompt, p.maxWorkers),
		Messages: []agent.CompletionMessage{
			{Role: "user", Content: spec},
		},
	}
	chunks, err := p.provider.Complete(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("decompose request: %w", err)
	}

	var text strings.Builder
	for chunk := range chunks {
		if chunk.Error != nil {
			return nil, fmt.Errorf("decompose stream: %w", chunk.Error)
		}
		text.WriteString(chunk.Text)
	}

	tasks := parseInstructions(text.String(), spec)
	if len(tasks) == 0 {
		p.logger.Warn("decomposition produced no usable tasks, falling back to single task")
		tasks = []*models.TaskInstruction{{
			TaskType:      models.TaskCodeImplementation,
			Specification: spec,
		}}
	}
	tasks = capTasks(tasks, p.maxWorkers)
	for _, task := range tasks {
		task.TaskID = uuid.NewString()
	}
	return tasks, nil
}

// parseInstructions extracts the JSON array from the model reply and keeps
// only well-formed entries with a known type and non-empty specification.
func parseInstructions(reply, fallbackSpec string) []*models.TaskInstruction {
	start := strings.Index(reply, "[")
	end := strings.LastIndex(reply, "]")
	if start < 0 || end <= start {
		return nil
	}

	var raw []struct {
		TaskType      string `json:"task_type"`
		Specification string `json:"specification"`
	}
	if err := json.Unmarshal([]byte(reply[start:end+1]), &raw); err != nil {
		return nil
	}

	var tasks []*models.TaskInstruction
	for _, entry := range raw {
		taskType := models.TaskType(strings.TrimSpace(entry.TaskType))
		if typePriority(taskType) > 2 {
			continue
		}
		spec := strings.TrimSpace(entry.Specification)
		if spec == "" {
			spec = fallbackSpec
		}
		tasks = append(tasks, &models.TaskInstruction{
			TaskType:      taskType,
			Specification: spec,
		})
	}
	return tasks
}

// capTasks enforces the worker cap. Overflow is dropped deterministically
// by type priority (implementation over testing over documentation),
// preserving arrival order within a type.
func capTasks(tasks []*models.TaskInstruction, limit int) []*models.TaskInstruction {
	if len(tasks) <= limit {
		return tasks
	}
	sorted := make([]*models.TaskInstruction, len(tasks))
	copy(sorted, tasks)
	// Stable insertion sort keeps arrival order inside each priority band.
	for i := 1; i < len(sorted); i++ {
		for j := i; j > 0 && typePriority(sorted[j].TaskType) < typePriority(sorted[j-1].TaskType); j-- {
			sorted[j], sorted[j-1] = sorted[j-1], sorted[j]
		}
	}
	return sorted[:limit]
}
