// Package main provides the CLI entry point for the RadBot agent server.
//
// RadBot is a multi-agent conversational runtime: a root coordinator
// ("beto") delegates to specialist agents over an explicit transfer graph,
// with a session/event store, a cron scheduler, a reminder queue, webhook
// dispatch, and an HTTP/WebSocket API on top.
//
// # Basic Usage
//
// Start the server:
//
//	radbot serve --config radbot.yaml
//
// # Environment Variables
//
//   - RADBOT_ENV: configuration variant (loads config.<env>.yaml when set)
//   - ANTHROPIC_API_KEY: Anthropic API key for Claude models
//   - OPENAI_API_KEY: OpenAI API key for GPT models and speech
package main

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"
)

// Build information - populated by ldflags during build.
var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

func main() {
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))
	slog.SetDefault(logger)

	if err := buildRootCmd().Execute(); err != nil {
		slog.Error("command execution failed", "error", err)
		os.Exit(1)
	}
}

// buildRootCmd creates the root command with all subcommands attached.
// Separated from main() to facilitate testing.
func buildRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "radbot",
		Short: "RadBot - multi-agent conversational server",
		Long: `RadBot runs a team of LLM agents behind one HTTP/WebSocket API.

The root coordinator (beto) answers directly or hands a conversation to a
specialist over the transfer graph. Scheduled tasks, reminders, and inbound
webhooks feed the same turn pipeline as interactive chat.`,
		Version:      fmt.Sprintf("%s (commit: %s, built: %s)", version, commit, date),
		SilenceUsage: true,
	}

	rootCmd.AddCommand(buildServeCmd())
	return rootCmd
}
