package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/radbotlabs/radbot/internal/agent"
	"github.com/radbotlabs/radbot/internal/agent/providers"
	"github.com/radbotlabs/radbot/internal/api"
	"github.com/radbotlabs/radbot/internal/axel"
	"github.com/radbotlabs/radbot/internal/bus"
	"github.com/radbotlabs/radbot/internal/config"
	"github.com/radbotlabs/radbot/internal/credentials"
	"github.com/radbotlabs/radbot/internal/mcp"
	"github.com/radbotlabs/radbot/internal/metrics"
	"github.com/radbotlabs/radbot/internal/notify"
	"github.com/radbotlabs/radbot/internal/reminders"
	"github.com/radbotlabs/radbot/internal/scheduler"
	"github.com/radbotlabs/radbot/internal/sessions"
	"github.com/radbotlabs/radbot/internal/speech"
	"github.com/radbotlabs/radbot/internal/storage"
	"github.com/radbotlabs/radbot/internal/tools"
	"github.com/radbotlabs/radbot/internal/webhooks"
)

const rootAgent = "beto"

// buildServeCmd creates the "serve" command that starts the agent server.
func buildServeCmd() *cobra.Command {
	var (
		configPath string
		debug      bool
	)

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the RadBot agent server",
		Long: `Start the RadBot agent server.

The server will:
1. Load configuration from the specified file (or radbot.yaml)
2. Open the sqlite database and the credential store
3. Register the agent graph (beto, scout, axel) and built-in tools
4. Start the scheduler, reminder queue, and webhook dispatcher
5. Connect configured MCP servers
6. Serve the HTTP/WebSocket API

Graceful shutdown is handled on SIGINT/SIGTERM signals.`,
		Example: `  # Start with default config
  radbot serve

  # Start with custom config
  radbot serve --config /etc/radbot/production.yaml

  # Start with debug logging
  radbot serve --debug`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd.Context(), configPath, debug)
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", "radbot.yaml",
		"Path to YAML configuration file")
	cmd.Flags().BoolVarP(&debug, "debug", "d", false,
		"Enable debug logging (verbose output)")

	return cmd
}

// runServe implements the serve command logic: configuration loading,
// subsystem wiring, and graceful shutdown.
func runServe(ctx context.Context, configPath string, debug bool) error {
	bootCfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	if err := bootCfg.Validate(); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	setupLogging(bootCfg, debug)

	slog.Info("starting RadBot",
		"version", version,
		"commit", commit,
		"config", configPath,
		"env", os.Getenv(config.EnvVar),
		"debug", debug,
	)

	db, err := storage.Open(bootCfg.Database.Path)
	if err != nil {
		return fmt.Errorf("failed to open database: %w", err)
	}
	defer db.Close()

	creds, err := credentials.NewStore(bootCfg.CredentialKey, db)
	if err != nil {
		return fmt.Errorf("failed to open credential store: %w", err)
	}

	// Re-merge with the database override layer now that it is reachable.
	manager, err := config.NewManager(configPath, config.WithOverrideSource(creds))
	if err != nil {
		return fmt.Errorf("failed to load config overrides: %w", err)
	}
	cfg := manager.Current()
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid config after overrides: %w", err)
	}

	m := metrics.NewMetrics()

	eventBus := bus.New(bus.WithDropObserver(func(string) {
		m.RecordFanoutDrop()
	}))

	store, err := sessions.NewStore(db,
		sessions.WithPublisher(eventBus),
		sessions.WithRootAgent(rootAgent),
	)
	if err != nil {
		return fmt.Errorf("failed to open session store: %w", err)
	}
	defer store.Close()

	registry, err := buildAgentGraph()
	if err != nil {
		return fmt.Errorf("failed to build agent graph: %w", err)
	}

	toolReg := agent.NewToolRegistry(
		agent.WithToolTimeout(cfg.Agent.ToolTimeout),
		agent.WithToolObserver(func(tool string, code agent.ToolErrorCode) {
			m.RecordToolInvocation(tool, string(code))
		}),
	)
	if err := registerBuiltinTools(toolReg, registry, db); err != nil {
		return fmt.Errorf("failed to register tools: %w", err)
	}

	provider, err := buildProvider(ctx, cfg, creds)
	if err != nil {
		return err
	}
	slog.Info("llm provider ready", "provider", provider.Name())

	runner, err := agent.NewRunner(registry, toolReg, provider, store,
		agent.WithTurnTimeout(cfg.Agent.TurnTimeout),
		agent.WithModelResolver(func(agentName string) string {
			return manager.Current().ModelFor(agentName, rootAgent)
		}),
		agent.WithTurnObserver(func(_ string, err error) {
			m.RecordTurn(turnStatus(err))
		}),
	)
	if err != nil {
		return fmt.Errorf("failed to build runner: %w", err)
	}

	pool := axel.NewPool(provider, store, cfg.Axel.Workspace,
		axel.WithMaxWorkers(cfg.Axel.MaxWorkers),
		axel.WithTaskTimeout(cfg.Axel.TaskTimeout),
		axel.WithModel(cfg.Agent.SubModel),
	)
	if err := toolReg.Register("axel", axel.Tool(pool)); err != nil {
		return fmt.Errorf("failed to register execution tool: %w", err)
	}

	var publisher notify.Publisher = notify.NoopPublisher{}
	if cfg.Notify.Enabled {
		publisher, err = notify.NewNtfyPublisher(cfg.Notify.Server, cfg.Notify.Topic)
		if err != nil {
			return fmt.Errorf("failed to build notifier: %w", err)
		}
	}

	ctx, cancel := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	sched := scheduler.New(db, store, runner,
		scheduler.WithPublisher(publisher),
		scheduler.WithScanInterval(cfg.Scheduler.TickInterval),
		scheduler.WithFireObserver(func(_ string, failed bool) {
			m.RecordScheduledFire(failed)
		}),
	)
	if cfg.Scheduler.Enabled {
		sched.Start(ctx)
		defer sched.Stop()
	}

	queue := reminders.NewQueue(db, store, runner, reminders.WithPublisher(publisher))
	if err := queue.Start(ctx); err != nil {
		return fmt.Errorf("failed to start reminder queue: %w", err)
	}
	defer queue.Stop()

	dispatcher := webhooks.NewDispatcher(db, store, runner)
	defer dispatcher.Close()

	mcpMgr := mcp.NewManager(toolReg, []string{rootAgent})
	mcpMgr.Sync(ctx, mcpServers(cfg))
	defer mcpMgr.Close()

	speechSvc := speech.New(cfg.APIKeys["openai"])

	manager.Subscribe(func(c *config.Config) {
		mcpMgr.Sync(context.Background(), mcpServers(c))
		speechSvc.Invalidate(c.APIKeys["openai"])
	})

	server, err := api.NewServer(runner, store, db, eventBus, registry, toolReg,
		api.WithConfigManager(manager),
		api.WithCredentials(creds),
		api.WithReminders(queue),
		api.WithWebhookDispatcher(dispatcher),
		api.WithMetricsHandler(metrics.Handler()),
		api.WithSpeech(speechSvc, speechSvc),
		api.WithAdminToken(cfg.AdminToken),
		api.WithModelResolver(func(agentName string) string {
			return manager.Current().ModelFor(agentName, rootAgent)
		}),
	)
	if err != nil {
		return fmt.Errorf("failed to build api server: %w", err)
	}
	addr := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)
	if err := server.Start(addr); err != nil {
		return fmt.Errorf("failed to start api server: %w", err)
	}

	go func() {
		if err := manager.Watch(ctx); err != nil {
			slog.Warn("config watch stopped", "error", err)
		}
	}()

	slog.Info("RadBot started", "addr", server.Addr(), "root_agent", rootAgent)

	<-ctx.Done()
	slog.Info("shutdown signal received, initiating graceful shutdown")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown failed: %w", err)
	}

	slog.Info("RadBot stopped gracefully")
	return nil
}

// setupLogging applies the configured level and format. The debug flag wins
// over the file setting.
func setupLogging(cfg *config.Config, debug bool) {
	level := slog.LevelInfo
	switch strings.ToLower(cfg.Logging.Level) {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	}
	if debug {
		level = slog.LevelDebug
	}

	opts := &slog.HandlerOptions{Level: level}
	var handler slog.Handler
	if strings.EqualFold(cfg.Logging.Format, "json") {
		handler = slog.NewJSONHandler(os.Stderr, opts)
	} else {
		handler = slog.NewTextHandler(os.Stderr, opts)
	}
	slog.SetDefault(slog.New(handler))
}

// buildAgentGraph registers the coordinator and specialists. Scout and axel
// carry an extra edge to each other so research can hand straight to
// execution without bouncing through the coordinator.
func buildAgentGraph() (*agent.Registry, error) {
	registry, err := agent.NewRegistry(rootAgent)
	if err != nil {
		return nil, err
	}

	roster := []*agent.Agent{
		{
			Name:        "beto",
			Description: "Root coordinator. Handles general conversation and routes work to specialists.",
			Instruction: `You are beto, a laid-back and friendly personal assistant, and the coordinator of a small team of specialist agents.

Answer general questions yourself using your tools. Delegate when a specialist fits better:
- scout handles research, comparisons, and open-ended investigation.
- axel executes project specifications: building, documenting, and testing deliverables.

To delegate, call transfer_to_agent with the specialist's name. Keep replies concise and warm.`,
		},
		{
			Name:            "scout",
			Description:     "Research specialist. Investigates questions and reports findings.",
			TransferTargets: []string{"axel"},
			Instruction: `You are scout, the research specialist. You dig into questions, compare options, and report findings as clear, structured summaries with your reasoning visible.

If the user's request turns out to be a buildable project rather than a question, hand it to axel.`,
		},
		{
			Name:            "axel",
			Description:     "Execution specialist. Turns a project specification into built, documented, and tested output.",
			TransferTargets: []string{"scout"},
			Instruction: `You are axel, the execution specialist. When given a project specification, call execute_project with the complete specification text, then relay the aggregated report back to the user.

If the specification needs background research first, hand the question to scout.`,
		},
	}
	for _, a := range roster {
		if err := registry.Register(a); err != nil {
			return nil, err
		}
	}
	if err := registry.Validate(); err != nil {
		return nil, err
	}
	return registry, nil
}

// registerBuiltinTools attaches the ambient tool set: current time for
// everyone plus a per-agent memory pair namespaced by agent name.
func registerBuiltinTools(toolReg *agent.ToolRegistry, registry *agent.Registry, db *storage.DB) error {
	for _, name := range registry.Names() {
		if err := toolReg.Register(name, tools.NewTimeTool()); err != nil {
			return err
		}
		remember, recall := tools.MemoryPair(name, db)
		if err := toolReg.Register(name, remember); err != nil {
			return err
		}
		if err := toolReg.Register(name, recall); err != nil {
			return err
		}
	}
	return nil
}

// buildProvider picks the LLM backend: Anthropic when a key is present,
// otherwise OpenAI. Keys resolve from config, environment, then the
// credential store.
func buildProvider(ctx context.Context, cfg *config.Config, creds *credentials.Store) (agent.LLMProvider, error) {
	if key := resolveKey(ctx, cfg, creds, "anthropic", "ANTHROPIC_API_KEY"); key != "" {
		return providers.NewAnthropicProvider(providers.AnthropicConfig{
			APIKey:       key,
			DefaultModel: cfg.Agent.MainModel,
		})
	}
	if key := resolveKey(ctx, cfg, creds, "openai", "OPENAI_API_KEY"); key != "" {
		return providers.NewOpenAIProvider(providers.OpenAIConfig{
			APIKey:       key,
			DefaultModel: cfg.Agent.MainModel,
		})
	}
	return nil, errors.New("no LLM provider credentials: set api_keys.anthropic, api_keys.openai, or the matching environment variable")
}

// resolveKey looks up an API key by precedence: config file, environment,
// credential store.
func resolveKey(ctx context.Context, cfg *config.Config, creds *credentials.Store, name, envVar string) string {
	if v := cfg.APIKeys[name]; v != "" {
		return v
	}
	if v := os.Getenv(envVar); v != "" {
		return v
	}
	if rec, err := creds.Get(ctx, name); err == nil {
		return rec.Value
	}
	return ""
}

// mcpServers maps the config shape onto the manager's connection configs.
func mcpServers(cfg *config.Config) []mcp.ServerConfig {
	out := make([]mcp.ServerConfig, 0, len(cfg.MCP.Servers))
	for _, s := range cfg.MCP.Servers {
		out = append(out, mcp.ServerConfig{
			ID:      s.ID,
			Command: s.Command,
			Args:    s.Args,
			Env:     s.Env,
			URL:     s.URL,
			Enabled: s.Enabled,
			Agents:  s.Agents,
		})
	}
	return out
}

func turnStatus(err error) string {
	switch {
	case err == nil:
		return "success"
	case errors.Is(err, context.DeadlineExceeded):
		return "timeout"
	default:
		return "error"
	}
}
