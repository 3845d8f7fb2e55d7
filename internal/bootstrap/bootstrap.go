// Package bootstrap translates a loaded internal/config.Config into the
// concrete collaborators the orchestration core depends on, and assembles a
// ready-to-run internal/assistant.Orchestrator from them. It is pure glue:
// every actual behavior lives in the collaborator packages it wires.
package bootstrap

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"github.com/nexuscore/assistant/internal/assistant"
	"github.com/nexuscore/assistant/internal/condition"
	"github.com/nexuscore/assistant/internal/config"
	"github.com/nexuscore/assistant/internal/history"
	"github.com/nexuscore/assistant/internal/mcpsession"
	"github.com/nexuscore/assistant/internal/modelregistry"
	"github.com/nexuscore/assistant/internal/observability"
	"github.com/nexuscore/assistant/internal/ratelimit"
	"github.com/nexuscore/assistant/internal/summarize"
	"github.com/nexuscore/assistant/internal/validate"
	"github.com/nexuscore/assistant/internal/workflow"
)

// Runtime bundles the assembled orchestrator with the collaborators a CLI
// driver needs direct access to (history, for list/health; tracer shutdown,
// for graceful exit).
type Runtime struct {
	Orchestrator   *assistant.Orchestrator
	History        *history.Manager
	Sessions       *mcpsession.Manager
	Metrics        *observability.Metrics
	Tracer         *observability.Tracer
	ShutdownTracer func(context.Context) error
}

// Build wires every collaborator named in cfg and returns a Runtime.
//
// The hot cache and cold store tiers (capability.HotCache/ColdStore) are
// left nil here regardless of cfg.Memory.Cache/Persistence.Enabled: per
// internal/capability's own doc comment, concrete adapters for those are
// supplied by the deploying operator, not by this module (spec Non-goals:
// "no distributed-consensus layer... same as the teacher's Redis/Postgres
// split"). A deployment that enables caching or persistence must embed this
// package and pass its own capability.HotCache/ColdStore into a hand-built
// history.Manager/mcpsession.Manager instead of calling Build.
func Build(cfg *config.Config, logger *slog.Logger) (*Runtime, error) {
	if logger == nil {
		logger = slog.Default()
	}

	registry := modelregistry.NewRegistry()
	for _, m := range cfg.Models {
		registry.Register(modelregistry.ProviderConfig{
			Name:         m.Name,
			Kind:         modelregistry.ProviderKind(m.Provider),
			APIKey:       resolveEnv(m.APIKeyEnv),
			BaseURL:      m.Endpoint,
			Region:       m.Region,
			DefaultModel: m.Model,
			MaxRetries:   m.MaxRetries,
		}, m.Name == cfg.DefaultModel)
	}
	factory := modelregistry.NewFactory(registry)

	limiter := ratelimit.NewLimiter(ratelimit.Config{
		Enabled:               cfg.Security.RateLimitEnabled,
		RequestsPerMinute:     cfg.Security.RequestsPerMinute,
		RequestsPerHour:       cfg.Security.RequestsPerHour,
		TokensPerMinute:       cfg.Security.TokensPerMinute,
		MaxConcurrentRequests: cfg.Security.MaxConcurrentRequests,
		PerIdentity:           cfg.Security.PerUser,
		BurstMultiplier:       cfg.Security.BurstMultiplier,
	})

	validator, err := validate.New(validate.Config{
		MaxQuestionLength:    cfg.Security.MaxQuestionLength,
		MaxToolParamLength:   cfg.Security.MaxToolParamLength,
		BlockPromptInjection: cfg.Security.BlockPromptInjection,
		BlockPII:             cfg.Security.BlockPII,
		RedactPII:            cfg.Security.RedactPII,
	})
	if err != nil {
		return nil, fmt.Errorf("bootstrap: building validator: %w", err)
	}

	defaultClient, err := factory.BuildDefault()
	if err != nil {
		return nil, fmt.Errorf("bootstrap: building default model client: %w", err)
	}

	threads, err := history.New(history.Config{
		CacheEnabled:       cfg.Memory.Cache.Enabled,
		CacheTTL:           cfg.Memory.Cache.TTL,
		CachePrefix:        cfg.Memory.Cache.Prefix,
		PersistenceEnabled: cfg.Memory.Persistence.Enabled,
		Schedule:           cfg.Memory.Persistence.Schedule,
	}, nil, nil, defaultClient, logger)
	if err != nil {
		return nil, fmt.Errorf("bootstrap: building history manager: %w", err)
	}

	sessions := mcpsession.New(mcpsession.Config{
		Enabled:         cfg.MCPSessions.Enabled,
		SessionTTL:      cfg.MCPSessions.SessionTTL,
		PersistSessions: cfg.MCPSessions.PersistSessions,
		CachePrefix:     cfg.MCPSessions.CachePrefix,
	}, nil, nil)

	var summarizer *summarize.Summarizer
	if cfg.Memory.Summarization.Enabled {
		summarizer = summarize.New(summarize.Config{
			Enabled:             true,
			MaxTokens:           cfg.Memory.Summarization.MaxTokens,
			RecentToKeep:        cfg.Memory.Summarization.RecentMessagesToKeep,
			TargetSummaryTokens: cfg.Memory.Summarization.SummaryTargetTokens,
			TruncatePrefixChars: 2000,
		}, defaultClient)
	}

	var tracer *observability.Tracer
	shutdown := func(context.Context) error { return nil }
	if cfg.Observability.TracingEnabled {
		tracer, shutdown = observability.NewTracer(observability.TraceConfig{
			ServiceName: cfg.Observability.ServiceName,
			Environment: cfg.Observability.Environment,
			Endpoint:    cfg.Observability.TracingEndpoint,
		})
	}

	var metrics *observability.Metrics
	if cfg.Observability.MetricsEnabled {
		metrics = observability.NewMetrics()
	}

	orchestrator := assistant.New(assistant.DefaultConfig(), limiter, validator, threads, sessions, factory, summarizer, tracer, metrics)

	evaluator := condition.New(false)
	for _, w := range cfg.Workflows {
		if !w.Enabled {
			continue
		}
		built, err := workflow.Build(toDescriptor(w), evaluator)
		if err != nil {
			return nil, fmt.Errorf("bootstrap: building workflow %q: %w", w.Name, err)
		}
		orchestrator.RegisterWorkflow(built, w.Name)
	}

	return &Runtime{
		Orchestrator:   orchestrator,
		History:        threads,
		Sessions:       sessions,
		Metrics:        metrics,
		Tracer:         tracer,
		ShutdownTracer: shutdown,
	}, nil
}

func toDescriptor(w config.WorkflowConfig) workflow.Descriptor {
	agents := make([]workflow.AgentSpec, 0, len(w.Agents))
	order := make([]string, 0, len(w.Agents))
	for _, a := range w.Agents {
		agents = append(agents, workflow.AgentSpec{Name: a.Name, SystemPrompt: a.Instructions, Model: a.Model})
		order = append(order, a.Name)
	}
	edges := make([]workflow.Edge, 0, len(w.Edges))
	for _, e := range w.Edges {
		edges = append(edges, workflow.Edge{From: e.From, To: e.To, Condition: e.Condition, Priority: e.Priority})
	}
	shape := workflow.ShapeSequential
	if w.Type == "graph" {
		shape = workflow.ShapeGraph
	}
	return workflow.Descriptor{
		Name:   w.Name,
		Shape:  shape,
		Start:  w.Start,
		Order:  order,
		Agents: agents,
		Edges:  edges,
	}
}

// resolveEnv reads the named environment variable, returning "" for an
// empty name rather than the process's entire environment listing.
func resolveEnv(name string) string {
	if name == "" {
		return ""
	}
	return os.Getenv(name)
}
