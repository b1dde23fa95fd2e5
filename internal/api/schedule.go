package api

import (
	"net/http"
	"regexp"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/radbotlabs/radbot/internal/scheduler"
	"github.com/radbotlabs/radbot/pkg/models"
)

// slugPattern constrains webhook slugs to URL-safe names.
var slugPattern = regexp.MustCompile(`^[a-z0-9][a-z0-9_-]*$`)

// scheduledTaskRequest is the mutable surface of a scheduled task.
type scheduledTaskRequest struct {
	Name           string `json:"name"`
	CronExpression string `json:"cron_expression"`
	Prompt         string `json:"prompt"`
	TargetAgent    string `json:"target_agent"`
	Enabled        *bool  `json:"enabled"`
}

func (s *Server) handleListScheduledTasks(w http.ResponseWriter, r *http.Request) {
	tasks, err := s.db.ListScheduledTasks(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, "list scheduled tasks: %v", err)
		return
	}
	if tasks == nil {
		tasks = []*models.ScheduledTask{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"tasks": tasks})
}

func (s *Server) handleCreateScheduledTask(w http.ResponseWriter, r *http.Request) {
	var req scheduledTaskRequest
	if err := readJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "%v", err)
		return
	}
	if strings.TrimSpace(req.Name) == "" || strings.TrimSpace(req.Prompt) == "" {
		writeError(w, http.StatusBadRequest, "name and prompt are required")
		return
	}
	schedule, err := scheduler.Parser.Parse(req.CronExpression)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid cron expression %q: %v", req.CronExpression, err)
		return
	}
	if req.TargetAgent != "" {
		if _, ok := s.agents.Get(req.TargetAgent); !ok {
			writeError(w, http.StatusBadRequest, "unknown agent %q", req.TargetAgent)
			return
		}
	}
	now := time.Now()
	task := &models.ScheduledTask{
		ID:             uuid.NewString(),
		Name:           req.Name,
		CronExpression: req.CronExpression,
		Prompt:         req.Prompt,
		TargetAgent:    req.TargetAgent,
		Enabled:        true,
		NextRun:        schedule.Next(now),
		CreatedAt:      now,
	}
	if req.Enabled != nil {
		task.Enabled = *req.Enabled
	}
	if err := s.db.CreateScheduledTask(r.Context(), task); err != nil {
		writeError(w, http.StatusInternalServerError, "create scheduled task: %v", err)
		return
	}
	writeJSON(w, http.StatusCreated, task)
}

func (s *Server) handleUpdateScheduledTask(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	task, err := s.db.GetScheduledTask(r.Context(), id)
	if err != nil {
		writeError(w, notFoundStatus(err), "scheduled task %s: %v", id, err)
		return
	}
	var req scheduledTaskRequest
	if err := readJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "%v", err)
		return
	}
	if req.Name != "" {
		task.Name = req.Name
	}
	if req.Prompt != "" {
		task.Prompt = req.Prompt
	}
	if req.TargetAgent != "" {
		if _, ok := s.agents.Get(req.TargetAgent); !ok {
			writeError(w, http.StatusBadRequest, "unknown agent %q", req.TargetAgent)
			return
		}
		task.TargetAgent = req.TargetAgent
	}
	if req.Enabled != nil {
		task.Enabled = *req.Enabled
	}
	if req.CronExpression != "" {
		schedule, err := scheduler.Parser.Parse(req.CronExpression)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid cron expression %q: %v", req.CronExpression, err)
			return
		}
		task.CronExpression = req.CronExpression
		task.NextRun = schedule.Next(time.Now())
	}
	if err := s.db.UpdateScheduledTask(r.Context(), task); err != nil {
		writeError(w, notFoundStatus(err), "update scheduled task: %v", err)
		return
	}
	writeJSON(w, http.StatusOK, task)
}

func (s *Server) handleDeleteScheduledTask(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if err := s.db.DeleteScheduledTask(r.Context(), id); err != nil {
		writeError(w, notFoundStatus(err), "delete scheduled task %s: %v", id, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "deleted"})
}

func (s *Server) handleListReminders(w http.ResponseWriter, r *http.Request) {
	pending, err := s.db.ListPendingReminders(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, "list reminders: %v", err)
		return
	}
	if pending == nil {
		pending = []*models.Reminder{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"reminders": pending})
}

func (s *Server) handleCreateReminder(w http.ResponseWriter, r *http.Request) {
	if s.reminders == nil {
		writeError(w, http.StatusServiceUnavailable, "reminder queue is not running")
		return
	}
	var req struct {
		FireAt      time.Time `json:"fire_at"`
		Prompt      string    `json:"prompt"`
		TargetAgent string    `json:"target_agent"`
	}
	if err := readJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "%v", err)
		return
	}
	if req.TargetAgent != "" {
		if _, ok := s.agents.Get(req.TargetAgent); !ok {
			writeError(w, http.StatusBadRequest, "unknown agent %q", req.TargetAgent)
			return
		}
	}
	reminder, err := s.reminders.Add(r.Context(), &models.Reminder{
		FireAt:      req.FireAt,
		Prompt:      req.Prompt,
		TargetAgent: req.TargetAgent,
	})
	if err != nil {
		writeError(w, http.StatusBadRequest, "%v", err)
		return
	}
	writeJSON(w, http.StatusCreated, reminder)
}

func (s *Server) handleDeleteReminder(w http.ResponseWriter, r *http.Request) {
	if s.reminders == nil {
		writeError(w, http.StatusServiceUnavailable, "reminder queue is not running")
		return
	}
	id := r.PathValue("id")
	if err := s.reminders.Cancel(r.Context(), id); err != nil {
		writeError(w, notFoundStatus(err), "cancel reminder %s: %v", id, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "cancelled"})
}

func (s *Server) handleListWebhooks(w http.ResponseWriter, r *http.Request) {
	defs, err := s.db.ListWebhookDefinitions(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, "list webhooks: %v", err)
		return
	}
	out := make([]*models.WebhookDefinition, 0, len(defs))
	for _, def := range defs {
		// The shared secret never leaves the admin surface.
		clone := *def
		clone.Secret = ""
		out = append(out, &clone)
	}
	writeJSON(w, http.StatusOK, map[string]any{"definitions": out})
}

func (s *Server) handleCreateWebhook(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Slug           string `json:"slug"`
		TargetAgent    string `json:"target_agent"`
		PromptTemplate string `json:"prompt_template"`
		Secret         string `json:"secret"`
		Async          bool   `json:"async"`
	}
	if err := readJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "%v", err)
		return
	}
	if !slugPattern.MatchString(req.Slug) {
		writeError(w, http.StatusBadRequest, "slug must be URL-safe (lowercase letters, digits, - and _)")
		return
	}
	if strings.TrimSpace(req.PromptTemplate) == "" {
		writeError(w, http.StatusBadRequest, "prompt_template is required")
		return
	}
	if req.TargetAgent != "" {
		if _, ok := s.agents.Get(req.TargetAgent); !ok {
			writeError(w, http.StatusBadRequest, "unknown agent %q", req.TargetAgent)
			return
		}
	}
	def := &models.WebhookDefinition{
		ID:             uuid.NewString(),
		Slug:           req.Slug,
		TargetAgent:    req.TargetAgent,
		PromptTemplate: req.PromptTemplate,
		Secret:         req.Secret,
		Async:          req.Async,
		CreatedAt:      time.Now(),
	}
	if err := s.db.CreateWebhookDefinition(r.Context(), def); err != nil {
		if strings.Contains(err.Error(), "UNIQUE") {
			writeError(w, http.StatusConflict, "slug %q already exists", req.Slug)
			return
		}
		writeError(w, http.StatusInternalServerError, "create webhook: %v", err)
		return
	}
	created := *def
	created.Secret = ""
	writeJSON(w, http.StatusCreated, &created)
}

func (s *Server) handleDeleteWebhook(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if err := s.db.DeleteWebhookDefinition(r.Context(), id); err != nil {
		writeError(w, notFoundStatus(err), "delete webhook %s: %v", id, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "deleted"})
}
