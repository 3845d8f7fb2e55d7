// Package main provides the CLI entry point for the assistant orchestration
// runtime.
//
// The runtime answers questions, streams responses, and runs multi-agent
// workflows against a configured model provider, with rate limiting, input
// validation, chat history, and MCP session state applied along the way.
//
// # Basic Usage
//
// Start the HTTP server:
//
//	assistant serve --config assistant.yaml
//
// Ask a one-off question:
//
//	assistant ask "What is the capital of France?"
//
// Run a configured workflow:
//
//	assistant workflow run support-triage "My invoice is wrong"
//
// Check configuration and provider reachability:
//
//	assistant doctor --config assistant.yaml
//
// # Environment Variables
//
// Model provider credentials are never read from the config file directly;
// each models[] entry names an api_key_env variable to read instead:
//
//   - ANTHROPIC_API_KEY, OPENAI_API_KEY: typical provider credential names
//   - ASSISTANT_CONFIG: path to the configuration file (default: assistant.yaml)
package main

import (
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/spf13/cobra"
)

// Build information, populated by ldflags during build.
var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

// startTime marks process start, for HealthResponse.UptimeSeconds.
var startTime = time.Now()

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))
	slog.SetDefault(logger)

	rootCmd := buildRootCmd()
	if err := rootCmd.Execute(); err != nil {
		slog.Error("command execution failed", "error", err)
		os.Exit(1)
	}
}

// buildRootCmd creates the root command with all subcommands attached. This
// is separated from main() to facilitate testing.
func buildRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "assistant",
		Short: "Assistant orchestration runtime",
		Long: `Assistant wires a rate limiter, input validator, chat history manager,
model registry, and workflow engine into question-answering and workflow
entry points, over a pluggable LLM provider.`,
		Version:      fmt.Sprintf("%s (commit: %s, built: %s)", version, commit, date),
		SilenceUsage: true,
	}

	rootCmd.AddCommand(
		buildServeCmd(),
		buildAskCmd(),
		buildWorkflowCmd(),
		buildHealthCmd(),
		buildDoctorCmd(),
	)

	return rootCmd
}

func resolveConfigPath(path string) string {
	if path != "" {
		return path
	}
	if env := os.Getenv("ASSISTANT_CONFIG"); env != "" {
		return env
	}
	return "assistant.yaml"
}
