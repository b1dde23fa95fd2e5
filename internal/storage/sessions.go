package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/radbotlabs/radbot/pkg/models"
)

// UpsertSession writes session metadata (not its events).
func (d *DB) UpsertSession(ctx context.Context, s *models.Session) error {
	state, err := json.Marshal(s.State)
	if err != nil {
		return fmt.Errorf("marshal session state: %w", err)
	}
	_, err = d.db.ExecContext(ctx, `
		INSERT INTO sessions (id, user_id, current_agent, state, created_at, last_active)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			current_agent = excluded.current_agent,
			state = excluded.state,
			last_active = excluded.last_active`,
		s.ID, s.UserID, s.CurrentAgent, string(state), s.CreatedAt, s.LastActive)
	if err != nil {
		return fmt.Errorf("upsert session: %w", err)
	}
	return nil
}

// GetSession loads session metadata and its full event history.
func (d *DB) GetSession(ctx context.Context, id string) (*models.Session, error) {
	row := d.db.QueryRowContext(ctx, `
		SELECT id, user_id, current_agent, state, created_at, last_active
		FROM sessions WHERE id = ?`, id)

	var s models.Session
	var state string
	err := row.Scan(&s.ID, &s.UserID, &s.CurrentAgent, &state, &s.CreatedAt, &s.LastActive)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get session: %w", err)
	}
	if err := json.Unmarshal([]byte(state), &s.State); err != nil {
		s.State = map[string]any{}
	}

	events, err := d.GetEvents(ctx, id, 0)
	if err != nil {
		return nil, err
	}
	s.Events = events
	return &s, nil
}

// DeleteSession removes a session and its events.
func (d *DB) DeleteSession(ctx context.Context, id string) error {
	if _, err := d.db.ExecContext(ctx, `DELETE FROM events WHERE session_id = ?`, id); err != nil {
		return fmt.Errorf("delete session events: %w", err)
	}
	if _, err := d.db.ExecContext(ctx, `DELETE FROM sessions WHERE id = ?`, id); err != nil {
		return fmt.Errorf("delete session: %w", err)
	}
	return nil
}

// DeleteEvents clears a session's history without removing the session row.
func (d *DB) DeleteEvents(ctx context.Context, sessionID string) error {
	if _, err := d.db.ExecContext(ctx, `DELETE FROM events WHERE session_id = ?`, sessionID); err != nil {
		return fmt.Errorf("delete events: %w", err)
	}
	return nil
}

// ListSessions returns summaries ordered by last activity, newest first.
func (d *DB) ListSessions(ctx context.Context) ([]*models.SessionSummary, error) {
	rows, err := d.db.QueryContext(ctx, `
		SELECT s.id, s.user_id, s.current_agent, s.created_at, s.last_active,
			(SELECT COUNT(*) FROM events e WHERE e.session_id = s.id)
		FROM sessions s ORDER BY s.last_active DESC`)
	if err != nil {
		return nil, fmt.Errorf("list sessions: %w", err)
	}
	defer rows.Close()

	var out []*models.SessionSummary
	for rows.Next() {
		var s models.SessionSummary
		if err := rows.Scan(&s.ID, &s.UserID, &s.CurrentAgent, &s.CreatedAt, &s.LastActive, &s.EventCount); err != nil {
			return nil, fmt.Errorf("scan session: %w", err)
		}
		out = append(out, &s)
	}
	return out, rows.Err()
}

// AppendEvent persists one event. Events are immutable; there is no update.
func (d *DB) AppendEvent(ctx context.Context, ev *models.Event) error {
	payload, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}
	_, err = d.db.ExecContext(ctx, `
		INSERT INTO events (id, session_id, seq, type, payload, created_at)
		VALUES (?, ?, ?, ?, ?, ?)`,
		ev.ID, ev.SessionID, ev.Seq, string(ev.Type), string(payload), ev.Timestamp)
	if err != nil {
		return fmt.Errorf("append event: %w", err)
	}
	return nil
}

// GetEvents returns a session's events in sequence order. A positive limit
// returns only the most recent entries, still in ascending order.
func (d *DB) GetEvents(ctx context.Context, sessionID string, limit int) ([]*models.Event, error) {
	query := `SELECT payload FROM events WHERE session_id = ? ORDER BY seq ASC`
	args := []any{sessionID}
	if limit > 0 {
		query = `SELECT payload FROM (
			SELECT payload, seq FROM events WHERE session_id = ? ORDER BY seq DESC LIMIT ?
		) ORDER BY seq ASC`
		args = append(args, limit)
	}
	rows, err := d.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("get events: %w", err)
	}
	defer rows.Close()

	var out []*models.Event
	for rows.Next() {
		var payload string
		if err := rows.Scan(&payload); err != nil {
			return nil, fmt.Errorf("scan event: %w", err)
		}
		var ev models.Event
		if err := json.Unmarshal([]byte(payload), &ev); err != nil {
			d.logger.Warn("skipping undecodable event", "session_id", sessionID, "error", err)
			continue
		}
		out = append(out, &ev)
	}
	return out, rows.Err()
}

// TouchSession bumps last_active.
func (d *DB) TouchSession(ctx context.Context, id string, at time.Time) error {
	_, err := d.db.ExecContext(ctx, `UPDATE sessions SET last_active = ? WHERE id = ?`, at, id)
	if err != nil {
		return fmt.Errorf("touch session: %w", err)
	}
	return nil
}
