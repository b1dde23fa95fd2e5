// Package api exposes the HTTP and WebSocket surface of the server: chat,
// session management, todo and scheduler CRUD, webhook administration, the
// admin plane, and per-session event streaming.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/radbotlabs/radbot/internal/agent"
	"github.com/radbotlabs/radbot/internal/bus"
	"github.com/radbotlabs/radbot/internal/config"
	"github.com/radbotlabs/radbot/internal/credentials"
	"github.com/radbotlabs/radbot/internal/reminders"
	"github.com/radbotlabs/radbot/internal/sessions"
	"github.com/radbotlabs/radbot/internal/storage"
	"github.com/radbotlabs/radbot/pkg/models"
)

// WebUserID owns sessions created through the HTTP and WS surface, as
// opposed to the synthesized sessions owned by the system user.
const WebUserID = "web"

// TurnRunner runs one conversational turn against a session.
type TurnRunner interface {
	RunTurn(ctx context.Context, sessionID, userText string) (*models.Event, error)
}

// Server is the HTTP/WS front of the runtime. Optional collaborators may be
// nil; the corresponding endpoints answer 503.
type Server struct {
	runner   TurnRunner
	sessions *sessions.Store
	db       *storage.DB
	bus      *bus.Bus
	agents   *agent.Registry
	tools    *agent.ToolRegistry

	config    *config.Manager
	creds     *credentials.Store
	reminders *reminders.Queue
	webhooks  http.Handler
	metrics   http.Handler

	synthesizer Synthesizer
	transcriber Transcriber

	adminToken string
	modelFor   func(agentName string) string
	logger     *slog.Logger

	httpServer *http.Server
	listener   net.Listener
}

// Option configures a Server.
type Option func(*Server)

// WithConfigManager attaches the live config layer for the admin view.
func WithConfigManager(m *config.Manager) Option {
	return func(s *Server) { s.config = m }
}

// WithCredentials attaches the credential store for the admin plane.
func WithCredentials(store *credentials.Store) Option {
	return func(s *Server) { s.creds = store }
}

// WithReminders attaches the reminder queue.
func WithReminders(q *reminders.Queue) Option {
	return func(s *Server) { s.reminders = q }
}

// WithWebhookDispatcher mounts the inbound webhook handler at /webhooks/.
func WithWebhookDispatcher(h http.Handler) Option {
	return func(s *Server) { s.webhooks = h }
}

// WithMetricsHandler mounts a handler at /metrics.
func WithMetricsHandler(h http.Handler) Option {
	return func(s *Server) { s.metrics = h }
}

// WithSpeech attaches the TTS and STT collaborators. Either may be nil.
func WithSpeech(syn Synthesizer, tr Transcriber) Option {
	return func(s *Server) {
		s.synthesizer = syn
		s.transcriber = tr
	}
}

// WithAdminToken enables the /admin/* plane behind a bearer token. An empty
// token leaves the plane unmounted.
func WithAdminToken(token string) Option {
	return func(s *Server) { s.adminToken = token }
}

// WithModelResolver sets the agent-to-model mapping shown by agent-info.
func WithModelResolver(fn func(agentName string) string) Option {
	return func(s *Server) {
		if fn != nil {
			s.modelFor = fn
		}
	}
}

// WithLogger sets the server logger.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Server) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// NewServer assembles the HTTP surface over the runtime's core components.
func NewServer(runner TurnRunner, store *sessions.Store, db *storage.DB, eventBus *bus.Bus,
	agents *agent.Registry, tools *agent.ToolRegistry, opts ...Option) (*Server, error) {
	if runner == nil {
		return nil, fmt.Errorf("runner is required")
	}
	if store == nil {
		return nil, fmt.Errorf("session store is required")
	}
	if db == nil {
		return nil, fmt.Errorf("storage is required")
	}
	if eventBus == nil {
		return nil, fmt.Errorf("event bus is required")
	}
	if agents == nil {
		return nil, fmt.Errorf("agent registry is required")
	}
	if tools == nil {
		return nil, fmt.Errorf("tool registry is required")
	}
	s := &Server{
		runner:   runner,
		sessions: store,
		db:       db,
		bus:      eventBus,
		agents:   agents,
		tools:    tools,
		modelFor: func(string) string { return "" },
		logger:   slog.Default().With("component", "api"),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// Handler builds the route table.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("POST /api/chat", s.handleChat)

	mux.HandleFunc("GET /api/sessions", s.handleListSessions)
	mux.HandleFunc("POST /api/sessions", s.handleCreateSession)
	mux.HandleFunc("DELETE /api/sessions/{id}", s.handleDeleteSession)
	mux.HandleFunc("GET /api/sessions/{id}/reset", s.handleResetSession)
	mux.HandleFunc("GET /api/sessions/{id}/events", s.handleSessionEvents)

	mux.HandleFunc("GET /api/tasks", s.handleListTodos)
	mux.HandleFunc("POST /api/tasks", s.handleCreateTodo)
	mux.HandleFunc("PUT /api/tasks/{id}", s.handleUpdateTodo)
	mux.HandleFunc("DELETE /api/tasks/{id}", s.handleDeleteTodo)
	mux.HandleFunc("GET /api/tasks/projects", s.handleListTodoProjects)
	mux.HandleFunc("POST /api/tasks/projects", s.handleCreateTodoProject)

	mux.HandleFunc("GET /api/scheduler/tasks", s.handleListScheduledTasks)
	mux.HandleFunc("POST /api/scheduler/tasks", s.handleCreateScheduledTask)
	mux.HandleFunc("PUT /api/scheduler/tasks/{id}", s.handleUpdateScheduledTask)
	mux.HandleFunc("DELETE /api/scheduler/tasks/{id}", s.handleDeleteScheduledTask)

	mux.HandleFunc("GET /api/scheduler/reminders", s.handleListReminders)
	mux.HandleFunc("POST /api/scheduler/reminders", s.handleCreateReminder)
	mux.HandleFunc("DELETE /api/scheduler/reminders/{id}", s.handleDeleteReminder)

	mux.HandleFunc("GET /api/webhooks/definitions", s.handleListWebhooks)
	mux.HandleFunc("POST /api/webhooks/definitions", s.handleCreateWebhook)
	mux.HandleFunc("DELETE /api/webhooks/definitions/{id}", s.handleDeleteWebhook)
	if s.webhooks != nil {
		mux.Handle("POST /webhooks/", s.webhooks)
	}

	mux.HandleFunc("GET /api/tools", s.handleTools)
	mux.HandleFunc("GET /api/agent-info", s.handleAgentInfo)

	mux.HandleFunc("POST /api/tts/synthesize", s.handleSynthesize)
	mux.HandleFunc("POST /api/stt/transcribe", s.handleTranscribe)

	if s.adminToken != "" {
		mux.Handle("/admin/", s.requireAdmin(s.adminMux()))
	}

	mux.HandleFunc("GET /ws/{session_id}", s.handleWS)

	if s.metrics != nil {
		mux.Handle("GET /metrics", s.metrics)
	}
	mux.HandleFunc("GET /healthz", s.handleHealthz)

	return mux
}

// Start begins listening on addr. Serve errors after shutdown are discarded.
func (s *Server) Start(addr string) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("listen %s: %w", addr, err)
	}
	s.listener = ln
	s.httpServer = &http.Server{
		Handler:           s.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		if err := s.httpServer.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("http server failed", "error", err)
		}
	}()
	s.logger.Info("http server listening", "addr", ln.Addr().String())
	return nil
}

// Addr returns the bound listen address, valid after Start.
func (s *Server) Addr() string {
	if s.listener == nil {
		return ""
	}
	return s.listener.Addr().String()
}

// Shutdown drains in-flight requests.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.httpServer == nil {
		return nil
	}
	return s.httpServer.Shutdown(ctx)
}

func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status": "ok",
		"time":   time.Now().UTC().Format(time.RFC3339),
	})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Default().Warn("write response failed", "error", err)
	}
}

func writeError(w http.ResponseWriter, status int, format string, args ...any) {
	writeJSON(w, status, map[string]string{"error": fmt.Sprintf(format, args...)})
}

// readJSON decodes a bounded JSON request body.
func readJSON(r *http.Request, v any) error {
	dec := json.NewDecoder(http.MaxBytesReader(nil, r.Body, 1<<20))
	if err := dec.Decode(v); err != nil {
		return fmt.Errorf("invalid JSON body: %w", err)
	}
	return nil
}

// notFoundStatus maps storage misses to 404 and everything else to 500.
func notFoundStatus(err error) int {
	if errors.Is(err, storage.ErrNotFound) || errors.Is(err, sessions.ErrNotFound) {
		return http.StatusNotFound
	}
	return http.StatusInternalServerError
}
