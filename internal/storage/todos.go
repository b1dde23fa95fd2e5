package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/radbotlabs/radbot/pkg/models"
)

// CreateTodoProject inserts a project.
func (d *DB) CreateTodoProject(ctx context.Context, p *models.TodoProject) error {
	_, err := d.db.ExecContext(ctx, `
		INSERT INTO todo_projects (id, name, created_at) VALUES (?, ?, ?)`,
		p.ID, p.Name, p.CreatedAt)
	if err != nil {
		return fmt.Errorf("create todo project: %w", err)
	}
	return nil
}

// ListTodoProjects returns all projects.
func (d *DB) ListTodoProjects(ctx context.Context) ([]*models.TodoProject, error) {
	rows, err := d.db.QueryContext(ctx, `SELECT id, name, created_at FROM todo_projects ORDER BY created_at ASC`)
	if err != nil {
		return nil, fmt.Errorf("list todo projects: %w", err)
	}
	defer rows.Close()

	var out []*models.TodoProject
	for rows.Next() {
		var p models.TodoProject
		if err := rows.Scan(&p.ID, &p.Name, &p.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan todo project: %w", err)
		}
		out = append(out, &p)
	}
	return out, rows.Err()
}

// CreateTodoTask inserts a todo task.
func (d *DB) CreateTodoTask(ctx context.Context, t *models.TodoTask) error {
	_, err := d.db.ExecContext(ctx, `
		INSERT INTO todo_tasks (id, project_id, title, description, done, due_at, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		t.ID, nullString(t.ProjectID), t.Title, t.Description, boolToInt(t.Done), t.DueAt, t.CreatedAt, t.UpdatedAt)
	if err != nil {
		return fmt.Errorf("create todo task: %w", err)
	}
	return nil
}

// UpdateTodoTask rewrites a todo task.
func (d *DB) UpdateTodoTask(ctx context.Context, t *models.TodoTask) error {
	res, err := d.db.ExecContext(ctx, `
		UPDATE todo_tasks SET project_id = ?, title = ?, description = ?, done = ?, due_at = ?, updated_at = ?
		WHERE id = ?`,
		nullString(t.ProjectID), t.Title, t.Description, boolToInt(t.Done), t.DueAt, time.Now(), t.ID)
	if err != nil {
		return fmt.Errorf("update todo task: %w", err)
	}
	return requireRow(res)
}

// DeleteTodoTask removes a todo task.
func (d *DB) DeleteTodoTask(ctx context.Context, id string) error {
	res, err := d.db.ExecContext(ctx, `DELETE FROM todo_tasks WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("delete todo task: %w", err)
	}
	return requireRow(res)
}

// GetTodoTask loads one todo task.
func (d *DB) GetTodoTask(ctx context.Context, id string) (*models.TodoTask, error) {
	row := d.db.QueryRowContext(ctx, `
		SELECT id, project_id, title, description, done, due_at, created_at, updated_at
		FROM todo_tasks WHERE id = ?`, id)
	return scanTodoTask(row)
}

// ListTodoTasks returns tasks, optionally filtered by project.
func (d *DB) ListTodoTasks(ctx context.Context, projectID string) ([]*models.TodoTask, error) {
	query := `SELECT id, project_id, title, description, done, due_at, created_at, updated_at
		FROM todo_tasks ORDER BY created_at ASC`
	args := []any{}
	if projectID != "" {
		query = `SELECT id, project_id, title, description, done, due_at, created_at, updated_at
			FROM todo_tasks WHERE project_id = ? ORDER BY created_at ASC`
		args = append(args, projectID)
	}
	rows, err := d.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list todo tasks: %w", err)
	}
	defer rows.Close()

	var out []*models.TodoTask
	for rows.Next() {
		t, err := scanTodoTask(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

func scanTodoTask(row scanner) (*models.TodoTask, error) {
	var t models.TodoTask
	var projectID, desc sql.NullString
	var done int
	var dueAt sql.NullTime
	err := row.Scan(&t.ID, &projectID, &t.Title, &desc, &done, &dueAt, &t.CreatedAt, &t.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan todo task: %w", err)
	}
	t.ProjectID = projectID.String
	t.Description = desc.String
	t.Done = done != 0
	if dueAt.Valid {
		due := dueAt.Time
		t.DueAt = &due
	}
	return &t, nil
}

func nullString(s string) any {
	if s == "" {
		return nil
	}
	return s
}
