package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/nexuscore/assistant/internal/config"
)

// buildDoctorCmd creates the "doctor" command: config validation without
// standing up any runtime collaborator, grounded on cmd/nexus's doctor
// command (validate-then-report, no side effects by default).
func buildDoctorCmd() *cobra.Command {
	var configPath string

	cmd := &cobra.Command{
		Use:   "doctor",
		Short: "Validate the configuration file",
		RunE: func(cmd *cobra.Command, args []string) error {
			configPath = resolveConfigPath(configPath)
			cfg, err := config.Load(configPath)
			if err != nil {
				fmt.Fprintf(cmd.OutOrStdout(), "config invalid: %v\n", err)
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "config OK: %d model(s), %d workflow(s), %d mcp server(s)\n",
				len(cfg.Models), len(cfg.Workflows), len(cfg.MCP))
			return nil
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", "", "Path to YAML configuration file")
	return cmd
}
