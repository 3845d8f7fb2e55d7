package main

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/nexuscore/assistant/internal/bootstrap"
	"github.com/nexuscore/assistant/internal/config"
)

// buildAskCmd creates the "ask" command: a one-shot process_question call
// against a freshly wired runtime, for scripting and local testing without
// standing up the HTTP server.
func buildAskCmd() *cobra.Command {
	var configPath string
	var chatID string
	var userID string
	var model string

	cmd := &cobra.Command{
		Use:   "ask [question]",
		Short: "Ask a one-off question",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			configPath = resolveConfigPath(configPath)
			cfg, err := config.Load(configPath)
			if err != nil {
				return fmt.Errorf("failed to load config: %w", err)
			}
			rt, err := bootstrap.Build(cfg, nil)
			if err != nil {
				return fmt.Errorf("failed to wire runtime: %w", err)
			}
			resp := rt.Orchestrator.ProcessQuestion(cmd.Context(), args[0], chatID, userID, model)
			printJSON(cmd, resp)
			if !resp.Success {
				return fmt.Errorf("process_question failed: %s", resp.Response)
			}
			return nil
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", "", "Path to YAML configuration file")
	cmd.Flags().StringVar(&chatID, "chat-id", "", "Continue an existing chat")
	cmd.Flags().StringVar(&userID, "user-id", "", "Caller identity for rate limiting")
	cmd.Flags().StringVar(&model, "model", "", "Named model override (defaults to default_model)")

	return cmd
}

// printJSON writes v to stdout as indented JSON, following the teacher
// CLI's handler convention of writing to cmd.OutOrStdout() rather than
// os.Stdout directly so tests can capture output.
func printJSON(cmd *cobra.Command, v any) {
	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	_ = enc.Encode(v)
}
