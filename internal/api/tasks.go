package api

import (
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/radbotlabs/radbot/pkg/models"
)

// todoRequest is the mutable surface of a todo task.
type todoRequest struct {
	ProjectID   string     `json:"project_id"`
	Title       string     `json:"title"`
	Description string     `json:"description"`
	Done        *bool      `json:"done"`
	DueAt       *time.Time `json:"due_at"`
}

func (s *Server) handleListTodos(w http.ResponseWriter, r *http.Request) {
	tasks, err := s.db.ListTodoTasks(r.Context(), r.URL.Query().Get("project_id"))
	if err != nil {
		writeError(w, http.StatusInternalServerError, "list tasks: %v", err)
		return
	}
	if tasks == nil {
		tasks = []*models.TodoTask{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"tasks": tasks})
}

func (s *Server) handleCreateTodo(w http.ResponseWriter, r *http.Request) {
	var req todoRequest
	if err := readJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "%v", err)
		return
	}
	if strings.TrimSpace(req.Title) == "" {
		writeError(w, http.StatusBadRequest, "title is required")
		return
	}
	now := time.Now()
	task := &models.TodoTask{
		ID:          uuid.NewString(),
		ProjectID:   req.ProjectID,
		Title:       req.Title,
		Description: req.Description,
		DueAt:       req.DueAt,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if req.Done != nil {
		task.Done = *req.Done
	}
	if err := s.db.CreateTodoTask(r.Context(), task); err != nil {
		writeError(w, http.StatusInternalServerError, "create task: %v", err)
		return
	}
	writeJSON(w, http.StatusCreated, task)
}

func (s *Server) handleUpdateTodo(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	task, err := s.db.GetTodoTask(r.Context(), id)
	if err != nil {
		writeError(w, notFoundStatus(err), "task %s: %v", id, err)
		return
	}
	var req todoRequest
	if err := readJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "%v", err)
		return
	}
	if req.Title != "" {
		task.Title = req.Title
	}
	if req.Description != "" {
		task.Description = req.Description
	}
	if req.ProjectID != "" {
		task.ProjectID = req.ProjectID
	}
	if req.DueAt != nil {
		task.DueAt = req.DueAt
	}
	if req.Done != nil {
		task.Done = *req.Done
	}
	if err := s.db.UpdateTodoTask(r.Context(), task); err != nil {
		writeError(w, notFoundStatus(err), "update task: %v", err)
		return
	}
	writeJSON(w, http.StatusOK, task)
}

func (s *Server) handleDeleteTodo(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if err := s.db.DeleteTodoTask(r.Context(), id); err != nil {
		writeError(w, notFoundStatus(err), "delete task %s: %v", id, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "deleted"})
}

func (s *Server) handleListTodoProjects(w http.ResponseWriter, r *http.Request) {
	projects, err := s.db.ListTodoProjects(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, "list projects: %v", err)
		return
	}
	if projects == nil {
		projects = []*models.TodoProject{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"projects": projects})
}

func (s *Server) handleCreateTodoProject(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Name string `json:"name"`
	}
	if err := readJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "%v", err)
		return
	}
	if strings.TrimSpace(req.Name) == "" {
		writeError(w, http.StatusBadRequest, "name is required")
		return
	}
	project := &models.TodoProject{
		ID:        uuid.NewString(),
		Name:      req.Name,
		CreatedAt: time.Now(),
	}
	if err := s.db.CreateTodoProject(r.Context(), project); err != nil {
		writeError(w, http.StatusInternalServerError, "create project: %v", err)
		return
	}
	writeJSON(w, http.StatusCreated, project)
}
