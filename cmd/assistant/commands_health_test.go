package main

import (
	"context"
	"testing"

	"github.com/nexuscore/assistant/internal/bootstrap"
	"github.com/nexuscore/assistant/internal/config"
	"github.com/nexuscore/assistant/pkg/assistantapi"
)

func TestCheckHealth_FullyWiredRuntimeIsHealthy(t *testing.T) {
	t.Setenv("HEALTH_TEST_API_KEY", "sk-test-dummy")
	cfg := &config.Config{
		DefaultModel: "primary",
		Models:       []config.ModelConfig{{Name: "primary", Provider: "anthropic", APIKeyEnv: "HEALTH_TEST_API_KEY"}},
	}
	rt, err := bootstrap.Build(cfg, nil)
	if err != nil {
		t.Fatalf("bootstrap.Build: %v", err)
	}

	resp := checkHealth(context.Background(), rt)
	if resp.Status != assistantapi.HealthHealthy {
		t.Fatalf("Status = %v, want healthy; components: %+v", resp.Status, resp.Components)
	}
	if len(resp.Components) == 0 {
		t.Error("expected at least one component check")
	}
}

func TestCheckHealth_NilRuntimeIsUnhealthy(t *testing.T) {
	resp := checkHealth(context.Background(), nil)
	if resp.Status != assistantapi.HealthUnhealthy {
		t.Errorf("Status = %v, want unhealthy for a nil runtime", resp.Status)
	}
}
