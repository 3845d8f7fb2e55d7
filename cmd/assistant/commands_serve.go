package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/nexuscore/assistant/internal/bootstrap"
	"github.com/nexuscore/assistant/internal/config"
)

// buildServeCmd creates the "serve" command, which starts the HTTP API.
func buildServeCmd() *cobra.Command {
	var configPath string
	var addr string
	var debug bool

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the assistant HTTP API",
		RunE: func(cmd *cobra.Command, args []string) error {
			configPath = resolveConfigPath(configPath)
			return runServe(cmd.Context(), configPath, addr, debug)
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", "", "Path to YAML configuration file")
	cmd.Flags().StringVar(&addr, "addr", ":8080", "HTTP listen address")
	cmd.Flags().BoolVarP(&debug, "debug", "d", false, "Enable debug logging")

	return cmd
}

func runServe(ctx context.Context, configPath, addr string, debug bool) error {
	if debug {
		slog.SetDefault(slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{
			Level: slog.LevelDebug,
		})))
	}

	slog.Info("starting assistant runtime", "version", version, "commit", commit, "config", configPath)

	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	rt, err := bootstrap.Build(cfg, slog.Default())
	if err != nil {
		return fmt.Errorf("failed to wire runtime: %w", err)
	}

	slog.Info("configuration loaded",
		"default_model", cfg.DefaultModel,
		"models", len(cfg.Models),
		"workflows", len(cfg.Workflows),
	)

	ctx, cancel := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	rt.History.StartBackgroundPersist(ctx)

	server := newHTTPServer(addr, rt)
	if err := server.start(); err != nil {
		return fmt.Errorf("http listen: %w", err)
	}
	slog.Info("assistant runtime started", "addr", addr)

	<-ctx.Done()
	slog.Info("shutdown signal received, draining")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	server.stop(shutdownCtx)
	rt.History.Close(shutdownCtx)
	if err := rt.ShutdownTracer(shutdownCtx); err != nil {
		slog.Warn("tracer shutdown error", "error", err)
	}

	slog.Info("assistant runtime stopped gracefully")
	return nil
}
