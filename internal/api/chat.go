package api

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/radbotlabs/radbot/internal/bus"
	"github.com/radbotlabs/radbot/pkg/models"
)

// handleChat runs one turn over the REST surface. The response carries the
// assistant's final text plus every event the turn appended, truncated the
// same way the live fanout truncates them.
func (s *Server) handleChat(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		writeError(w, http.StatusBadRequest, "invalid form: %v", err)
		return
	}
	message := strings.TrimSpace(r.FormValue("message"))
	if message == "" {
		writeError(w, http.StatusBadRequest, "message is required")
		return
	}
	sessionID := strings.TrimSpace(r.FormValue("session_id"))

	sess, err := s.sessions.GetOrCreate(r.Context(), sessionID, WebUserID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "session: %v", err)
		return
	}
	var sinceSeq int64
	if n := len(sess.Events); n > 0 {
		sinceSeq = sess.Events[n-1].Seq
	}

	final, turnErr := s.runner.RunTurn(r.Context(), sess.ID, message)
	if turnErr != nil && !errors.Is(turnErr, context.DeadlineExceeded) {
		// Timeouts already left their error event via the runner; everything
		// else is recorded here so the stored history explains the failure.
		if _, err := s.sessions.Append(context.WithoutCancel(r.Context()), sess.ID, &models.Event{
			Type:   models.EventSystem,
			System: &models.SystemPayload{Kind: models.SystemError, Text: turnErr.Error()},
		}); err != nil {
			s.logger.Error("append turn error failed", "session_id", sess.ID, "error", err)
		}
	}

	events := s.turnEvents(r.Context(), sess.ID, sinceSeq)
	if turnErr != nil {
		s.logger.Warn("chat turn failed", "session_id", sess.ID, "error", turnErr)
		writeJSON(w, http.StatusBadGateway, map[string]any{
			"session_id": sess.ID,
			"error":      turnErr.Error(),
			"events":     events,
		})
		return
	}

	response := ""
	if final != nil && final.ModelResponse != nil {
		response = final.ModelResponse.Text
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"session_id": sess.ID,
		"response":   response,
		"events":     events,
	})
}

// turnEvents returns the wire view of events appended after sinceSeq:
// thoughts dropped, oversized text truncated.
func (s *Server) turnEvents(ctx context.Context, sessionID string, sinceSeq int64) []*models.Event {
	sess, err := s.sessions.Get(context.WithoutCancel(ctx), sessionID)
	if err != nil {
		return []*models.Event{}
	}
	out := []*models.Event{}
	for _, ev := range sess.Events {
		if ev.Seq <= sinceSeq {
			continue
		}
		if ev.ModelResponse != nil && ev.ModelResponse.Thought {
			continue
		}
		out = append(out, bus.TruncateForWire(ev))
	}
	return out
}

func (s *Server) handleListSessions(w http.ResponseWriter, r *http.Request) {
	sums, err := s.sessions.List(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, "list sessions: %v", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"sessions": sums})
}

func (s *Server) handleCreateSession(w http.ResponseWriter, r *http.Request) {
	var req struct {
		ID     string `json:"id"`
		UserID string `json:"user_id"`
	}
	if r.ContentLength > 0 {
		if err := readJSON(r, &req); err != nil {
			writeError(w, http.StatusBadRequest, "%v", err)
			return
		}
	}
	if req.UserID == "" {
		req.UserID = WebUserID
	}
	sess, err := s.sessions.Create(r.Context(), req.ID, req.UserID)
	if err != nil {
		if strings.Contains(err.Error(), "already exists") {
			writeError(w, http.StatusConflict, "%v", err)
			return
		}
		writeError(w, http.StatusInternalServerError, "create session: %v", err)
		return
	}
	writeJSON(w, http.StatusCreated, sess)
}

func (s *Server) handleDeleteSession(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if _, err := s.sessions.Get(r.Context(), id); err != nil {
		writeError(w, notFoundStatus(err), "session %s: %v", id, err)
		return
	}
	if err := s.sessions.Delete(r.Context(), id); err != nil {
		writeError(w, http.StatusInternalServerError, "delete session: %v", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "deleted"})
}

func (s *Server) handleResetSession(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if err := s.sessions.Reset(r.Context(), id); err != nil {
		writeError(w, notFoundStatus(err), "reset session %s: %v", id, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "reset"})
}

// handleSessionEvents dumps the stored history without truncation; this is
// the recovery path for clients that missed live frames.
func (s *Server) handleSessionEvents(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	sess, err := s.sessions.Get(r.Context(), id)
	if err != nil {
		writeError(w, notFoundStatus(err), "session %s: %v", id, err)
		return
	}
	events := []*models.Event{}
	for _, ev := range sess.Events {
		if ev.ModelResponse != nil && ev.ModelResponse.Thought {
			continue
		}
		events = append(events, ev)
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"session_id":    sess.ID,
		"current_agent": sess.CurrentAgent,
		"events":        events,
	})
}
