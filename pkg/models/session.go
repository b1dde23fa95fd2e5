package models

import "time"

// Session is an ordered event history plus associated state.
//
// Sessions are exclusively owned by the session store; the runner holds a
// short-lived borrow during a turn. Events are append-only and totally
// ordered per session.
type Session struct {
	ID           string         `json:"id"`
	UserID       string         `json:"user_id"`
	CurrentAgent string         `json:"current_agent"`
	State        map[string]any `json:"state,omitempty"`
	CreatedAt    time.Time      `json:"created_at"`
	LastActive   time.Time      `json:"last_active"`
	Events       []*Event       `json:"events,omitempty"`
}

// SessionSummary is the listing view of a session, without its events.
type SessionSummary struct {
	ID           string    `json:"id"`
	UserID       string    `json:"user_id"`
	CurrentAgent string    `json:"current_agent"`
	EventCount   int       `json:"event_count"`
	CreatedAt    time.Time `json:"created_at"`
	LastActive   time.Time `json:"last_active"`
}

// SystemUserID owns sessions synthesized by background subsystems
// (scheduler, reminders, webhooks).
const SystemUserID = "system"
