package models

import "time"

// TaskType classifies an axel sub-task.
type TaskType string

const (
	TaskCodeImplementation TaskType = "code_implementation"
	TaskDocumentation      TaskType = "documentation"
	TaskTesting            TaskType = "testing"
)

// TaskStatus is the terminal state of a worker execution.
type TaskStatus string

const (
	TaskCompleted TaskStatus = "completed"
	TaskFailed    TaskStatus = "failed"
	TaskPartial   TaskStatus = "partial"
)

// TaskInstruction is one typed sub-task produced by the axel decomposer.
// It is owned by a single worker until completion and consumed by the
// aggregator.
type TaskInstruction struct {
	TaskID        string         `json:"task_id"`
	TaskType      TaskType       `json:"task_type"`
	Specification string         `json:"specification"`
	Context       map[string]any `json:"context,omitempty"`
	Dependencies  []string       `json:"dependencies,omitempty"`
}

// TaskResult is the outcome of one worker execution.
type TaskResult struct {
	TaskID       string            `json:"task_id"`
	TaskType     TaskType          `json:"task_type"`
	Status       TaskStatus        `json:"status"`
	Summary      string            `json:"summary"`
	Details      string            `json:"details,omitempty"`
	Artifacts    map[string]string `json:"artifacts,omitempty"`
	ErrorMessage string            `json:"error_message,omitempty"`
	StartedAt    time.Time         `json:"started_at"`
	FinishedAt   time.Time         `json:"finished_at"`
}

// ScheduledTask is a cron-triggered synthesized turn with a fixed prompt
// and target agent. Durable; at most one in-flight execution per ID.
type ScheduledTask struct {
	ID             string    `json:"id"`
	Name           string    `json:"name"`
	CronExpression string    `json:"cron_expression"`
	Prompt         string    `json:"prompt"`
	TargetAgent    string    `json:"target_agent"`
	Enabled        bool      `json:"enabled"`
	LastRun        time.Time `json:"last_run,omitempty"`
	NextRun        time.Time `json:"next_run,omitempty"`
	CreatedAt      time.Time `json:"created_at"`
}

// Reminder is a one-shot scheduled task.
type Reminder struct {
	ID          string    `json:"id"`
	FireAt      time.Time `json:"fire_at"`
	Prompt      string    `json:"prompt"`
	TargetAgent string    `json:"target_agent"`
	Delivered   bool      `json:"delivered"`
	CreatedAt   time.Time `json:"created_at"`
}

// WebhookDefinition maps an inbound slug to an agent and prompt template.
// Secret, when set, requires an HMAC-SHA256 signature on dispatch.
type WebhookDefinition struct {
	ID             string    `json:"id"`
	Slug           string    `json:"slug"`
	TargetAgent    string    `json:"target_agent"`
	PromptTemplate string    `json:"prompt_template"`
	Secret         string    `json:"secret,omitempty"`
	Async          bool      `json:"async,omitempty"`
	CreatedAt      time.Time `json:"created_at"`
}

// TodoProject groups todo tasks.
type TodoProject struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	CreatedAt time.Time `json:"created_at"`
}

// TodoTask is one entry in the todo list surface.
type TodoTask struct {
	ID          string     `json:"id"`
	ProjectID   string     `json:"project_id,omitempty"`
	Title       string     `json:"title"`
	Description string     `json:"description,omitempty"`
	Done        bool       `json:"done"`
	DueAt       *time.Time `json:"due_at,omitempty"`
	CreatedAt   time.Time  `json:"created_at"`
	UpdatedAt   time.Time  `json:"updated_at"`
}
