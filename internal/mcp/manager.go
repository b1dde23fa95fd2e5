// Package mcp connects external Model Context Protocol servers and exposes
// their tools through the agent tool registry. Disabling a server prunes
// its tools as a group; re-enabling restores them on the next sync.
package mcp

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/radbotlabs/radbot/internal/agent"
)

// ServerConfig describes one MCP server. A command launches a stdio
// subprocess; a URL speaks JSON-RPC over HTTP.
type ServerConfig struct {
	ID      string            `json:"id" yaml:"id"`
	Command string            `json:"command,omitempty" yaml:"command,omitempty"`
	Args    []string          `json:"args,omitempty" yaml:"args,omitempty"`
	Env     map[string]string `json:"env,omitempty" yaml:"env,omitempty"`
	URL     string            `json:"url,omitempty" yaml:"url,omitempty"`
	Enabled bool              `json:"enabled" yaml:"enabled"`

	// Agents lists which agents receive this server's tools. Empty means
	// the manager's default agent set.
	Agents []string `json:"agents,omitempty" yaml:"agents,omitempty"`
}

// ToolSink is the registry surface the manager needs, implemented by
// agent.ToolRegistry.
type ToolSink interface {
	RegisterFromSource(agentName string, tool agent.Tool, source string) error
	PruneSource(source string) int
	RestoreSource(source string)
}

// server tracks one live connection.
type server struct {
	cfg     ServerConfig
	session session
	tools   int
}

// ServerStatus is the listing view of a connected server.
type ServerStatus struct {
	ID        string `json:"id"`
	Connected bool   `json:"connected"`
	Tools     int    `json:"tools"`
}

// Manager owns MCP server connections.
type Manager struct {
	sink          ToolSink
	defaultAgents []string
	dialer        func(ServerConfig) (session, error)
	logger        *slog.Logger

	mu      sync.Mutex
	servers map[string]*server
}

// Option configures a Manager.
type Option func(*Manager)

// WithLogger sets the manager logger.
func WithLogger(logger *slog.Logger) Option {
	return func(m *Manager) {
		if logger != nil {
			m.logger = logger
		}
	}
}

// WithDialer overrides the transport dialer, for tests.
func WithDialer(fn func(ServerConfig) (session, error)) Option {
	return func(m *Manager) {
		if fn != nil {
			m.dialer = fn
		}
	}
}

// NewManager creates a manager. Tools from servers without an explicit
// agent list are registered for defaultAgents.
func NewManager(sink ToolSink, defaultAgents []string, opts ...Option) *Manager {
	m := &Manager{
		sink:          sink,
		defaultAgents: defaultAgents,
		dialer:        dial,
		logger:        slog.Default().With("component", "mcp"),
		servers:       make(map[string]*server),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Connect dials the server, initializes the protocol, and registers every
// listed tool under the server's namespace. Connecting an already-connected
// server is a no-op.
func (m *Manager) Connect(ctx context.Context, cfg ServerConfig) (int, error) {
	if cfg.ID == "" {
		return 0, fmt.Errorf("server id is required")
	}
	m.mu.Lock()
	if _, exists := m.servers[cfg.ID]; exists {
		m.mu.Unlock()
		return 0, nil
	}
	m.mu.Unlock()

	sess, err := m.dialer(cfg)
	if err != nil {
		return 0, fmt.Errorf("dial %s: %w", cfg.ID, err)
	}
	if err := sess.Initialize(ctx); err != nil {
		sess.Close()
		return 0, fmt.Errorf("initialize %s: %w", cfg.ID, err)
	}
	infos, err := sess.ListTools(ctx)
	if err != nil {
		sess.Close()
		return 0, fmt.Errorf("list tools for %s: %w", cfg.ID, err)
	}

	// A reconnect after a prune needs the tombstone cleared first.
	m.sink.RestoreSource(cfg.ID)

	agents := cfg.Agents
	if len(agents) == 0 {
		agents = m.defaultAgents
	}
	registered := 0
	for _, info := range infos {
		tool := &serverTool{serverID: cfg.ID, info: info, session: sess}
		for _, agentName := range agents {
			if err := m.sink.RegisterFromSource(agentName, tool, cfg.ID); err != nil {
				m.logger.Warn("skipping tool", "server", cfg.ID, "tool", info.Name, "agent", agentName, "error", err)
				continue
			}
			registered++
		}
	}

	m.mu.Lock()
	m.servers[cfg.ID] = &server{cfg: cfg, session: sess, tools: registered}
	m.mu.Unlock()

	m.logger.Info("mcp server connected", "server", cfg.ID, "tools", len(infos))
	return registered, nil
}

// Disconnect prunes the server's tools from every agent and closes the
// connection. Late calls to its tools fail closed as disabled.
func (m *Manager) Disconnect(id string) int {
	m.mu.Lock()
	srv, ok := m.servers[id]
	delete(m.servers, id)
	m.mu.Unlock()

	removed := m.sink.PruneSource(id)
	if ok {
		srv.session.Close()
	}
	m.logger.Info("mcp server disconnected", "server", id, "removed", removed)
	return removed
}

// Sync reconciles connections against the desired config set: new enabled
// servers connect, missing or disabled ones are pruned. Called at boot and
// whenever the config layer reloads.
func (m *Manager) Sync(ctx context.Context, configs []ServerConfig) {
	desired := make(map[string]ServerConfig, len(configs))
	for _, cfg := range configs {
		if cfg.Enabled {
			desired[cfg.ID] = cfg
		}
	}

	m.mu.Lock()
	var stale []string
	for id := range m.servers {
		if _, keep := desired[id]; !keep {
			stale = append(stale, id)
		}
	}
	m.mu.Unlock()

	for _, id := range stale {
		m.Disconnect(id)
	}
	for id, cfg := range desired {
		if _, err := m.Connect(ctx, cfg); err != nil {
			m.logger.Error("mcp connect failed", "server", id, "error", err)
		}
	}
}

// List reports connected servers.
func (m *Manager) List() []ServerStatus {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]ServerStatus, 0, len(m.servers))
	for id, srv := range m.servers {
		out = append(out, ServerStatus{ID: id, Connected: true, Tools: srv.tools})
	}
	return out
}

// Close disconnects every server.
func (m *Manager) Close() {
	m.mu.Lock()
	ids := make([]string, 0, len(m.servers))
	for id := range m.servers {
		ids = append(ids, id)
	}
	m.mu.Unlock()
	for _, id := range ids {
		m.Disconnect(id)
	}
}
