package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/nexuscore/assistant/internal/bootstrap"
	"github.com/nexuscore/assistant/internal/config"
)

// buildWorkflowCmd creates the "workflow" command group.
func buildWorkflowCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "workflow",
		Short: "Inspect and run configured workflows",
	}
	cmd.AddCommand(buildWorkflowRunCmd())
	return cmd
}

func buildWorkflowRunCmd() *cobra.Command {
	var configPath string

	cmd := &cobra.Command{
		Use:   "run [name] [message]",
		Short: "Run a configured workflow once",
		Args:  cobra.ExactArgs(2),
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
			resp := rt.Orchestrator.RunWorkflow(cmd.Context(), args[0], args[1])
			printJSON(cmd, resp)
			if !resp.Success {
				return fmt.Errorf("workflow %q failed: %s", args[0], resp.Response)
			}
			return nil
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", "", "Path to YAML configuration file")
	return cmd
}
