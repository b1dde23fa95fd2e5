package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/radbotlabs/radbot/pkg/models"
)

// CreateScheduledTask inserts a new scheduled task row.
func (d *DB) CreateScheduledTask(ctx context.Context, t *models.ScheduledTask) error {
	_, err := d.db.ExecContext(ctx, `
		INSERT INTO scheduled_tasks (id, name, cron_expression, prompt, target_agent, enabled, last_run, next_run, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		t.ID, t.Name, t.CronExpression, t.Prompt, t.TargetAgent, boolToInt(t.Enabled),
		nullTime(t.LastRun), nullTime(t.NextRun), t.CreatedAt)
	if err != nil {
		return fmt.Errorf("create scheduled task: %w", err)
	}
	return nil
}

// UpdateScheduledTask rewrites the mutable fields of a task.
func (d *DB) UpdateScheduledTask(ctx context.Context, t *models.ScheduledTask) error {
	res, err := d.db.ExecContext(ctx, `
		UPDATE scheduled_tasks
		SET name = ?, cron_expression = ?, prompt = ?, target_agent = ?, enabled = ?, next_run = ?
		WHERE id = ?`,
		t.Name, t.CronExpression, t.Prompt, t.TargetAgent, boolToInt(t.Enabled), nullTime(t.NextRun), t.ID)
	if err != nil {
		return fmt.Errorf("update scheduled task: %w", err)
	}
	return requireRow(res)
}

// DeleteScheduledTask removes a task row.
func (d *DB) DeleteScheduledTask(ctx context.Context, id string) error {
	res, err := d.db.ExecContext(ctx, `DELETE FROM scheduled_tasks WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("delete scheduled task: %w", err)
	}
	return requireRow(res)
}

// GetScheduledTask loads one task.
func (d *DB) GetScheduledTask(ctx context.Context, id string) (*models.ScheduledTask, error) {
	row := d.db.QueryRowContext(ctx, `
		SELECT id, name, cron_expression, prompt, target_agent, enabled, last_run, next_run, created_at
		FROM scheduled_tasks WHERE id = ?`, id)
	return scanScheduledTask(row)
}

// ListScheduledTasks returns all tasks ordered by creation time.
func (d *DB) ListScheduledTasks(ctx context.Context) ([]*models.ScheduledTask, error) {
	rows, err := d.db.QueryContext(ctx, `
		SELECT id, name, cron_expression, prompt, target_agent, enabled, last_run, next_run, created_at
		FROM scheduled_tasks ORDER BY created_at ASC`)
	if err != nil {
		return nil, fmt.Errorf("list scheduled tasks: %w", err)
	}
	defer rows.Close()

	var out []*models.ScheduledTask
	for rows.Next() {
		t, err := scanScheduledTask(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

// ClaimScheduledTask atomically marks a task in-flight. Returns false when
// the task is already claimed by another worker or process: the compare in
// the WHERE clause is what enforces the at-most-one-run invariant across
// processes sharing the database.
func (d *DB) ClaimScheduledTask(ctx context.Context, id string) (bool, error) {
	res, err := d.db.ExecContext(ctx, `
		UPDATE scheduled_tasks SET in_flight = 1 WHERE id = ? AND in_flight = 0 AND enabled = 1`, id)
	if err != nil {
		return false, fmt.Errorf("claim scheduled task: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

// SetScheduledNextRun initializes or advances a task's next fire time
// without touching last_run.
func (d *DB) SetScheduledNextRun(ctx context.Context, id string, nextRun time.Time) error {
	_, err := d.db.ExecContext(ctx, `
		UPDATE scheduled_tasks SET next_run = ? WHERE id = ?`, nullTime(nextRun), id)
	if err != nil {
		return fmt.Errorf("set next run: %w", err)
	}
	return nil
}

// FinishScheduledTask records a completed run and releases the claim.
func (d *DB) FinishScheduledTask(ctx context.Context, id string, lastRun, nextRun time.Time) error {
	_, err := d.db.ExecContext(ctx, `
		UPDATE scheduled_tasks SET in_flight = 0, last_run = ?, next_run = ? WHERE id = ?`,
		lastRun, nullTime(nextRun), id)
	if err != nil {
		return fmt.Errorf("finish scheduled task: %w", err)
	}
	return nil
}

// CreateReminder inserts a one-shot reminder.
func (d *DB) CreateReminder(ctx context.Context, r *models.Reminder) error {
	_, err := d.db.ExecContext(ctx, `
		INSERT INTO reminders (id, fire_at, prompt, target_agent, delivered, created_at)
		VALUES (?, ?, ?, ?, ?, ?)`,
		r.ID, r.FireAt, r.Prompt, r.TargetAgent, boolToInt(r.Delivered), r.CreatedAt)
	if err != nil {
		return fmt.Errorf("create reminder: %w", err)
	}
	return nil
}

// ListPendingReminders returns undelivered reminders ordered by fire time.
func (d *DB) ListPendingReminders(ctx context.Context) ([]*models.Reminder, error) {
	rows, err := d.db.QueryContext(ctx, `
		SELECT id, fire_at, prompt, target_agent, delivered, created_at
		FROM reminders WHERE delivered = 0 ORDER BY fire_at ASC`)
	if err != nil {
		return nil, fmt.Errorf("list reminders: %w", err)
	}
	defer rows.Close()

	var out []*models.Reminder
	for rows.Next() {
		var r models.Reminder
		var delivered int
		if err := rows.Scan(&r.ID, &r.FireAt, &r.Prompt, &r.TargetAgent, &delivered, &r.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan reminder: %w", err)
		}
		r.Delivered = delivered != 0
		out = append(out, &r)
	}
	return out, rows.Err()
}

// MarkReminderDelivered sets the one-shot delivered flag.
func (d *DB) MarkReminderDelivered(ctx context.Context, id string) error {
	_, err := d.db.ExecContext(ctx, `UPDATE reminders SET delivered = 1 WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("mark reminder delivered: %w", err)
	}
	return nil
}

// DeleteReminder removes a reminder row.
func (d *DB) DeleteReminder(ctx context.Context, id string) error {
	res, err := d.db.ExecContext(ctx, `DELETE FROM reminders WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("delete reminder: %w", err)
	}
	return requireRow(res)
}

// CreateWebhookDefinition inserts a webhook definition.
func (d *DB) CreateWebhookDefinition(ctx context.Context, w *models.WebhookDefinition) error {
	_, err := d.db.ExecContext(ctx, `
		INSERT INTO webhook_definitions (id, slug, target_agent, prompt_template, secret, async, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		w.ID, w.Slug, w.TargetAgent, w.PromptTemplate, w.Secret, boolToInt(w.Async), w.CreatedAt)
	if err != nil {
		return fmt.Errorf("create webhook definition: %w", err)
	}
	return nil
}

// GetWebhookBySlug resolves an inbound slug.
func (d *DB) GetWebhookBySlug(ctx context.Context, slug string) (*models.WebhookDefinition, error) {
	row := d.db.QueryRowContext(ctx, `
		SELECT id, slug, target_agent, prompt_template, secret, async, created_at
		FROM webhook_definitions WHERE slug = ?`, slug)
	var w models.WebhookDefinition
	var secret sql.NullString
	var async int
	err := row.Scan(&w.ID, &w.Slug, &w.TargetAgent, &w.PromptTemplate, &secret, &async, &w.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get webhook: %w", err)
	}
	w.Secret = secret.String
	w.Async = async != 0
	return &w, nil
}

// ListWebhookDefinitions returns all webhook definitions.
func (d *DB) ListWebhookDefinitions(ctx context.Context) ([]*models.WebhookDefinition, error) {
	rows, err := d.db.QueryContext(ctx, `
		SELECT id, slug, target_agent, prompt_template, secret, async, created_at
		FROM webhook_definitions ORDER BY created_at ASC`)
	if err != nil {
		return nil, fmt.Errorf("list webhooks: %w", err)
	}
	defer rows.Close()

	var out []*models.WebhookDefinition
	for rows.Next() {
		var w models.WebhookDefinition
		var secret sql.NullString
		var async int
		if err := rows.Scan(&w.ID, &w.Slug, &w.TargetAgent, &w.PromptTemplate, &secret, &async, &w.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan webhook: %w", err)
		}
		w.Secret = secret.String
		w.Async = async != 0
		out = append(out, &w)
	}
	return out, rows.Err()
}

// DeleteWebhookDefinition removes a webhook definition.
func (d *DB) DeleteWebhookDefinition(ctx context.Context, id string) error {
	res, err := d.db.ExecContext(ctx, `DELETE FROM webhook_definitions WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("delete webhook: %w", err)
	}
	return requireRow(res)
}

type scanner interface {
	Scan(dest ...any) error
}

func scanScheduledTask(row scanner) (*models.ScheduledTask, error) {
	var t models.ScheduledTask
	var enabled int
	var lastRun, nextRun sql.NullTime
	err := row.Scan(&t.ID, &t.Name, &t.CronExpression, &t.Prompt, &t.TargetAgent, &enabled, &lastRun, &nextRun, &t.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan scheduled task: %w", err)
	}
	t.Enabled = enabled != 0
	t.LastRun = lastRun.Time
	t.NextRun = nextRun.Time
	return &t, nil
}

func requireRow(res sql.Result) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func nullTime(t time.Time) any {
	if t.IsZero() {
		return nil
	}
	return t
}
