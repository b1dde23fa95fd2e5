// Package config loads and merges RadBot configuration.
//
// Configuration is a YAML file plus two override layers: process
// environment variables and database-stored section overrides. The merged
// view is immutable; subsystems read through a Manager that swaps the
// snapshot atomically on reload.
package config

import (
	"fmt"
	"strings"
	"time"
)

// Config is the merged top-level configuration.
type Config struct {
	Agent        AgentConfig               `yaml:"agent"`
	Cache        CacheConfig               `yaml:"cache"`
	Logging      LoggingConfig             `yaml:"logging"`
	Server       ServerConfig              `yaml:"server"`
	Database     DatabaseConfig            `yaml:"database"`
	Integrations map[string]map[string]any `yaml:"integrations"`
	APIKeys      map[string]string         `yaml:"api_keys"`
	MCP          MCPConfig                 `yaml:"mcp"`
	Notify       NotifyConfig              `yaml:"notify"`
	Scheduler    SchedulerConfig           `yaml:"scheduler"`
	Axel         AxelConfig                `yaml:"axel"`

	CredentialKey   string         `yaml:"credential_key"`
	AdminToken      string         `yaml:"admin_token"`
	ClaudeTemplates map[string]any `yaml:"claude_templates"`
}

// AgentConfig selects models for the root agent and specialists.
type AgentConfig struct {
	MainModel string `yaml:"main_model"`
	SubModel  string `yaml:"sub_model"`
	// Models maps agent name to model id, overriding main/sub defaults.
	Models map[string]string `yaml:"models"`

	UseVertex      bool   `yaml:"use_vertex"`
	VertexProject  string `yaml:"vertex_project"`
	VertexLocation string `yaml:"vertex_location"`

	// TurnTimeout bounds one runner turn wall-clock.
	TurnTimeout time.Duration `yaml:"turn_timeout"`
	// ToolTimeout is the inner per-tool deadline applied when a tool does
	// not honor the outer context.
	ToolTimeout time.Duration `yaml:"tool_timeout"`
}

// CacheConfig controls prompt/response caching.
type CacheConfig struct {
	Enabled bool `yaml:"enabled"`
	MaxSize int  `yaml:"max_size"`
}

// LoggingConfig controls slog output.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"` // "text" or "json"
}

// ServerConfig is the HTTP listen configuration.
type ServerConfig struct {
	Host string `yaml:"host"`
	Port int    `yaml:"port"`
}

// DatabaseConfig locates the sqlite database.
type DatabaseConfig struct {
	Path string `yaml:"path"`
}

// MCPConfig lists external MCP servers.
type MCPConfig struct {
	Servers []MCPServerConfig `yaml:"servers"`
}

// MCPServerConfig describes one MCP server connection.
type MCPServerConfig struct {
	ID        string            `yaml:"id"`
	Enabled   bool              `yaml:"enabled"`
	Transport string            `yaml:"transport"` // stdio, sse, streamable-http
	URL       string            `yaml:"url"`
	Command   string            `yaml:"command"`
	Args      []string          `yaml:"args"`
	Env       map[string]string `yaml:"env"`
	// Agents lists agent names the server's tools are attached to.
	// Empty means the root agent only.
	Agents []string `yaml:"agents"`
}

// NotifyConfig points at the ntfy-style notification sink.
type NotifyConfig struct {
	Enabled bool   `yaml:"enabled"`
	Server  string `yaml:"server"`
	Topic   string `yaml:"topic"`
}

// SchedulerConfig tunes the cron scanner.
type SchedulerConfig struct {
	Enabled      bool          `yaml:"enabled"`
	TickInterval time.Duration `yaml:"tick_interval"`
}

// AxelConfig bounds the execution worker pool.
type AxelConfig struct {
	MaxWorkers  int           `yaml:"max_workers"`
	TaskTimeout time.Duration `yaml:"task_timeout"`
	// Workspace is the directory worker file and shell tools are confined to.
	Workspace string `yaml:"workspace"`
}

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		Agent: AgentConfig{
			MainModel:   "claude-sonnet-4-20250514",
			SubModel:    "claude-3-5-haiku-latest",
			TurnTimeout: 120 * time.Second,
			ToolTimeout: 30 * time.Second,
		},
		Logging: LoggingConfig{Level: "info", Format: "text"},
		Server:  ServerConfig{Host: "0.0.0.0", Port: 8080},
		Database: DatabaseConfig{
			Path: "radbot.db",
		},
		Notify:    NotifyConfig{Server: "https://ntfy.sh"},
		Scheduler: SchedulerConfig{Enabled: true, TickInterval: time.Second},
		Axel: AxelConfig{
			MaxWorkers:  3,
			TaskTimeout: 15 * time.Minute,
			Workspace:   "workspace",
		},
	}
}

// Validate checks invariants that must hold before the server starts.
// Violations here are fatal at boot; nothing else is fatal at runtime.
func (c *Config) Validate() error {
	if strings.TrimSpace(c.CredentialKey) == "" {
		return fmt.Errorf("credential_key is required")
	}
	if strings.TrimSpace(c.Database.Path) == "" {
		return fmt.Errorf("database.path is required")
	}
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("server.port %d out of range", c.Server.Port)
	}
	if c.Axel.MaxWorkers <= 0 {
		return fmt.Errorf("axel.max_workers must be positive")
	}
	for _, srv := range c.MCP.Servers {
		if strings.TrimSpace(srv.ID) == "" {
			return fmt.Errorf("mcp server missing id")
		}
		if srv.URL == "" && srv.Command == "" {
			return fmt.Errorf("mcp server %s: either url or command is required", srv.ID)
		}
	}
	return nil
}

// ModelFor returns the model id for an agent name, falling back to the
// sub-model for specialists and the main model for the root agent.
func (c *Config) ModelFor(agentName, rootName string) string {
	if m, ok := c.Agent.Models[agentName]; ok && m != "" {
		return m
	}
	if agentName == rootName {
		return c.Agent.MainModel
	}
	if c.Agent.SubModel != "" {
		return c.Agent.SubModel
	}
	return c.Agent.MainModel
}
