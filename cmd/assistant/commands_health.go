package main

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/nexuscore/assistant/internal/bootstrap"
	"github.com/nexuscore/assistant/internal/config"
	"github.com/nexuscore/assistant/pkg/assistantapi"
)

// buildHealthCmd creates the "health" command, a one-shot CLI equivalent of
// GET /healthz for deployments that don't want to probe the HTTP port.
func buildHealthCmd() *cobra.Command {
	var configPath string

	cmd := &cobra.Command{
		Use:   "health",
		Short: "Run a health check sweep and print the result",
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
			resp := checkHealth(cmd.Context(), rt)
			printJSON(cmd, resp)
			if resp.Status == assistantapi.HealthUnhealthy {
				return fmt.Errorf("unhealthy")
			}
			return nil
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", "", "Path to YAML configuration file")
	return cmd
}

// checkHealth runs every component check and folds the result per spec
// §6.2's HealthResponse rule: unhealthy if any component is unhealthy, else
// degraded if any is degraded, else healthy. Grounded on
// original_source/src/health.py's HealthChecker.check_all, adapted from its
// registered-async-check-functions shape to a fixed sequential sweep since
// this runtime has a small, known set of in-process collaborators rather
// than the original's pluggable external-system checks.
func checkHealth(ctx context.Context, rt *bootstrap.Runtime) assistantapi.HealthResponse {
	components := []assistantapi.ComponentHealth{
		checkOrchestrator(rt),
		checkHistory(rt),
		checkSessions(rt),
	}

	return assistantapi.HealthResponse{
		Status:        assistantapi.Overall(components),
		Timestamp:     time.Now(),
		Version:       version,
		UptimeSeconds: time.Since(startTime).Seconds(),
		Components:    components,
	}
}

func checkOrchestrator(rt *bootstrap.Runtime) assistantapi.ComponentHealth {
	if rt == nil || rt.Orchestrator == nil {
		return assistantapi.ComponentHealth{Name: "orchestrator", Status: assistantapi.HealthUnhealthy, Message: "orchestrator not wired"}
	}
	return assistantapi.ComponentHealth{Name: "orchestrator", Status: assistantapi.HealthHealthy}
}

func checkHistory(rt *bootstrap.Runtime) assistantapi.ComponentHealth {
	if rt == nil || rt.History == nil {
		return assistantapi.ComponentHealth{Name: "history", Status: assistantapi.HealthUnhealthy, Message: "history manager not wired"}
	}
	return assistantapi.ComponentHealth{Name: "history", Status: assistantapi.HealthHealthy, Message: "in-process memory tier active"}
}

func checkSessions(rt *bootstrap.Runtime) assistantapi.ComponentHealth {
	if rt == nil || rt.Sessions == nil {
		return assistantapi.ComponentHealth{Name: "mcp_sessions", Status: assistantapi.HealthDegraded, Message: "session manager not wired"}
	}
	return assistantapi.ComponentHealth{Name: "mcp_sessions", Status: assistantapi.HealthHealthy}
}
