package storage

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Memory is one durable note saved by an agent's remember tool.
type Memory struct {
	ID        string    `json:"id"`
	Agent     string    `json:"agent"`
	Content   string    `json:"content"`
	CreatedAt time.Time `json:"created_at"`
}

// AppendMemory stores one note under the agent's namespace.
func (d *DB) AppendMemory(ctx context.Context, agent, content string) (*Memory, error) {
	m := &Memory{
		ID:        uuid.NewString(),
		Agent:     agent,
		Content:   content,
		CreatedAt: time.Now(),
	}
	_, err := d.db.ExecContext(ctx, `
		INSERT INTO memories (id, agent, content, created_at) VALUES (?, ?, ?, ?)`,
		m.ID, m.Agent, m.Content, m.CreatedAt)
	if err != nil {
		return nil, fmt.Errorf("append memory: %w", err)
	}
	return m, nil
}

// SearchMemories returns the agent's notes matching the query substring,
// newest first. An empty query returns the most recent notes.
func (d *DB) SearchMemories(ctx context.Context, agent, query string, limit int) ([]*Memory, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := d.db.QueryContext(ctx, `
		SELECT id, agent, content, created_at FROM memories
		WHERE agent = ? AND content LIKE ?
		ORDER BY created_at DESC LIMIT ?`,
		agent, "%"+query+"%", limit)
	if err != nil {
		return nil, fmt.Errorf("search memories: %w", err)
	}
	defer rows.Close()

	var out []*Memory
	for rows.Next() {
		var m Memory
		if err := rows.Scan(&m.ID, &m.Agent, &m.Content, &m.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan memory: %w", err)
		}
		out = append(out, &m)
	}
	return out, rows.Err()
}
