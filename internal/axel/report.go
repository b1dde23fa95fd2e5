package axel

import (
	"fmt"
	"sort"
	"strings"

	"github.com/radbotlabs/radbot/pkg/models"
)

// typeHeading maps task types to their report section titles.
func typeHeading(t models.TaskType) string {
	switch t {
	case models.TaskCodeImplementation:
		return "Code Implementation"
	case models.TaskTesting:
		return "Testing"
	case models.TaskDocumentation:
		return "Documentation"
	}
	return string(t)
}

// buildReport joins worker results into one Markdown summary: per-type
// sections with completion counts, then a failure report listing each
// failed task with its original instructions.
func buildReport(tasks []*models.TaskInstruction, results []*models.TaskResult) string {
	byID := make(map[string]*models.TaskInstruction, len(tasks))
	for _, task := range tasks {
		byID[task.TaskID] = task
	}

	var b strings.Builder
	b.WriteString("# Execution Report\n\n")

	order := []models.TaskType{models.TaskCodeImplementation, models.TaskTesting, models.TaskDocumentation}
	for _, taskType := range order {
		var bucket []*models.TaskResult
		for _, result := range results {
			if result != nil && result.TaskType == taskType {
				bucket = append(bucket, result)
			}
		}
		if len(bucket) == 0 {
			continue
		}

		done := 0
		for _, result := range bucket {
			if result.Status == models.TaskCompleted {
				done++
			}
		}
		fmt.Fprintf(&b, "## %s (%d/%d completed)\n\n", typeHeading(taskType), done, len(bucket))
		for _, result := range bucket {
			fmt.Fprintf(&b, "- **%s** `%s`: %s\n", result.Status, result.TaskID, result.Summary)
			paths := make([]string, 0, len(result.Artifacts))
			for path := range result.Artifacts {
				paths = append(paths, path)
			}
			sort.Strings(paths)
			for _, path := range paths {
				fmt.Fprintf(&b, "  - wrote `%s`\n", path)
			}
		}
		b.WriteString("\n")
	}

	var failures []*models.TaskResult
	for _, result := range results {
		if result != nil && result.Status == models.TaskFailed {
			failures = append(failures, result)
		}
	}
	if len(failures) > 0 {
		b.WriteString("## Failure Report\n\n")
		for _, result := range failures {
			fmt.Fprintf(&b, "### Task `%s` (%s)\n\n", result.TaskID, typeHeading(result.TaskType))
			fmt.Fprintf(&b, "Error: %s\n\n", result.ErrorMessage)
			if task := byID[result.TaskID]; task != nil {
				fmt.Fprintf(&b, "Original instructions:\n\n```\n%s\n```\n\n", task.Specification)
			}
		}
	}

	return strings.TrimRight(b.String(), "\n") + "\n"
}
