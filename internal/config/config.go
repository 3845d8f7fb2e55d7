// Package config loads and validates the assistant's typed configuration
// (spec §6.3): model providers, tool registry settings, MCP server/session
// settings, workflows, chat-memory tiers, security, and observability.
package config

import (
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the root configuration for the assistant.
type Config struct {
	DefaultModel  string              `yaml:"default_model"`
	Models        []ModelConfig       `yaml:"models"`
	Tools         ToolsConfig         `yaml:"tools"`
	MCP           []MCPServerConfig   `yaml:"mcp"`
	MCPSessions   MCPSessionsConfig   `yaml:"mcp_sessions"`
	Workflows     []WorkflowConfig    `yaml:"workflows"`
	Memory        MemoryConfig        `yaml:"memory"`
	Security      SecurityConfig      `yaml:"security"`
	Observability ObservabilityConfig `yaml:"observability"`
}

// ModelConfig names one entry in the model registry (C10).
type ModelConfig struct {
	Name       string            `yaml:"name"`
	Provider   string            `yaml:"provider"` // anthropic | openai | bedrock
	Model      string            `yaml:"model"`
	Endpoint   string            `yaml:"endpoint"`
	APIVersion string            `yaml:"api_version"`
	APIKeyEnv  string            `yaml:"api_key_env"`
	Region     string            `yaml:"region"`
	MaxRetries int               `yaml:"max_retries"`
	Extras     map[string]string `yaml:"extras"`
}

// ToolsConfig configures the tool registry (C4).
type ToolsConfig struct {
	ConfigDir            string   `yaml:"config_dir"`
	EnableDecoratorTools bool     `yaml:"enable_decorator_tools"`
	EnableJSONTools      bool     `yaml:"enable_json_tools"`
	Modules              []string `yaml:"modules"`
}

// MCPServerConfig describes one registered MCP server (C5/C6).
type MCPServerConfig struct {
	Name               string `yaml:"name"`
	Type               string `yaml:"type"`
	Enabled            bool   `yaml:"enabled"`
	Stateful           bool   `yaml:"stateful"`
	SessionHeader      string `yaml:"session_header"`
	FormContextHeader  string `yaml:"form_context_header"`
	RequiresUserID     bool   `yaml:"requires_user_id"`
	Endpoint           string `yaml:"endpoint"`
	TokenURL           string `yaml:"token_url"`
	ClientIDEnv        string `yaml:"client_id_env"`
	ClientSecretEnv    string `yaml:"client_secret_env"`
	Scopes             []string `yaml:"scopes"`
}

// MCPSessionsConfig configures the MCP Session Manager (C5).
type MCPSessionsConfig struct {
	Enabled         bool          `yaml:"enabled"`
	SessionTTL      time.Duration `yaml:"session_ttl"`
	PersistSessions bool          `yaml:"persist_sessions"`
	CachePrefix     string        `yaml:"cache_prefix"`
}

// WorkflowConfig describes one registered workflow (C9).
type WorkflowConfig struct {
	Name    string               `yaml:"name"`
	Type    string               `yaml:"type"` // sequential | graph
	Enabled bool                 `yaml:"enabled"`
	Start   string               `yaml:"start"`
	Agents  []WorkflowAgentConfig `yaml:"agents"`
	Edges   []WorkflowEdgeConfig  `yaml:"edges"`
}

// WorkflowAgentConfig describes one participant agent in a workflow.
type WorkflowAgentConfig struct {
	Name         string `yaml:"name"`
	Instructions string `yaml:"instructions"`
	Model        string `yaml:"model"`
}

// WorkflowEdgeConfig describes one graph-shape transition.
type WorkflowEdgeConfig struct {
	From      string `yaml:"from"`
	To        string `yaml:"to"`
	Condition string `yaml:"condition"`
	Priority  int    `yaml:"priority"`
}

// MemoryConfig groups the Chat History Manager's three collaborator tiers
// (C7) and the Summarizer's thresholds (C8).
type MemoryConfig struct {
	Cache         MemoryCacheConfig       `yaml:"cache"`
	Persistence   MemoryPersistenceConfig `yaml:"persistence"`
	Summarization MemorySummarizationConfig `yaml:"summarization"`
}

// MemoryCacheConfig configures the hot-cache tier (e.g. Redis).
type MemoryCacheConfig struct {
	Enabled  bool          `yaml:"enabled"`
	Host     string        `yaml:"host"`
	Port     int           `yaml:"port"`
	TLS      bool          `yaml:"tls"`
	TTL      time.Duration `yaml:"ttl"`
	Prefix   string        `yaml:"prefix"`
	Database int           `yaml:"database"`
}

// MemoryPersistenceConfig configures the cold-store tier (e.g. an object
// store container) and the background flush schedule (C7).
type MemoryPersistenceConfig struct {
	Enabled   bool   `yaml:"enabled"`
	Account   string `yaml:"account"`
	Container string `yaml:"container"`
	Folder    string `yaml:"folder"`
	Schedule  string `yaml:"schedule"` // "ttl+N" grammar, see history.ParseSchedule
}

// MemorySummarizationConfig configures the Summarizer (C8).
type MemorySummarizationConfig struct {
	Enabled              bool `yaml:"enabled"`
	MaxTokens            int  `yaml:"max_tokens"`
	SummaryTargetTokens  int  `yaml:"summary_target_tokens"`
	RecentMessagesToKeep int  `yaml:"recent_messages_to_keep"`
}

// SecurityConfig configures the Rate Limiter (C1) and Input Validator (C2).
type SecurityConfig struct {
	RateLimitEnabled      bool     `yaml:"rate_limit_enabled"`
	RequestsPerMinute     int      `yaml:"requests_per_minute"`
	RequestsPerHour       int      `yaml:"requests_per_hour"`
	TokensPerMinute       int      `yaml:"tokens_per_minute"`
	MaxConcurrentRequests int      `yaml:"max_concurrent_requests"`
	PerUser               bool     `yaml:"per_user"`
	BurstMultiplier       float64  `yaml:"burst_multiplier"`
	MaxQuestionLength     int      `yaml:"max_question_length"`
	MaxToolParamLength    int      `yaml:"max_tool_param_length"`
	BlockPromptInjection  bool     `yaml:"block_prompt_injection"`
	BlockPII              bool     `yaml:"block_pii"`
	RedactPII             bool     `yaml:"redact_pii"`
	AllowedToolNames      []string `yaml:"allowed_tool_names"`
	BlockedToolNames      []string `yaml:"blocked_tool_names"`
}

// ObservabilityConfig configures tracing and metrics emission.
type ObservabilityConfig struct {
	TracingEnabled   bool    `yaml:"tracing_enabled"`
	TracingExporter  string  `yaml:"tracing_exporter"`
	TracingEndpoint  string  `yaml:"tracing_endpoint"`
	SampleRate       float64 `yaml:"sample_rate"`
	MetricsEnabled   bool    `yaml:"metrics_enabled"`
	MetricsExporter  string  `yaml:"metrics_exporter"`
	ServiceName      string  `yaml:"service_name"`
	Environment      string  `yaml:"environment"`
}

// Load reads path, expands `$VAR`/`${VAR}` environment references (teacher
// idiom: os.ExpandEnv over the raw bytes before YAML decoding), decodes with
// unknown-field rejection, applies defaults, and validates the result.
//
// Unlike the teacher's loader.go, $include directives are not supported —
// a single self-contained file is expected (see DESIGN.md Open Question
// decisions).
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: reading %s: %w", path, err)
	}

	expanded := os.ExpandEnv(string(data))

	var cfg Config
	decoder := yaml.NewDecoder(strings.NewReader(expanded))
	decoder.KnownFields(true)
	if err := decoder.Decode(&cfg); err != nil {
		return nil, fmt.Errorf("config: parsing %s: %w", path, err)
	}
	if err := decoder.Decode(&struct{}{}); err != io.EOF {
		return nil, fmt.Errorf("config: %s must contain a single YAML document", path)
	}

	applyDefaults(&cfg)

	if err := validateConfig(&cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func applyDefaults(cfg *Config) {
	if cfg.MCPSessions.CachePrefix == "" {
		cfg.MCPSessions.CachePrefix = "mcp_session:"
	}
	if cfg.MCPSessions.SessionTTL == 0 {
		cfg.MCPSessions.SessionTTL = time.Hour
	}

	if cfg.Memory.Cache.Prefix == "" {
		cfg.Memory.Cache.Prefix = "chat:"
	}
	if cfg.Memory.Cache.TTL == 0 {
		cfg.Memory.Cache.TTL = time.Hour
	}
	if cfg.Memory.Persistence.Schedule == "" {
		cfg.Memory.Persistence.Schedule = "ttl+300"
	}
	if cfg.Memory.Summarization.MaxTokens == 0 {
		cfg.Memory.Summarization.MaxTokens = 8000
	}
	if cfg.Memory.Summarization.SummaryTargetTokens == 0 {
		cfg.Memory.Summarization.SummaryTargetTokens = 500
	}
	if cfg.Memory.Summarization.RecentMessagesToKeep == 0 {
		cfg.Memory.Summarization.RecentMessagesToKeep = 10
	}

	if cfg.Security.RequestsPerMinute == 0 {
		cfg.Security.RequestsPerMinute = 60
	}
	if cfg.Security.RequestsPerHour == 0 {
		cfg.Security.RequestsPerHour = 1000
	}
	if cfg.Security.TokensPerMinute == 0 {
		cfg.Security.TokensPerMinute = 100000
	}
	if cfg.Security.MaxConcurrentRequests == 0 {
		cfg.Security.MaxConcurrentRequests = 10
	}
	if cfg.Security.BurstMultiplier == 0 {
		cfg.Security.BurstMultiplier = 1.5
	}
	if cfg.Security.MaxQuestionLength == 0 {
		cfg.Security.MaxQuestionLength = 8000
	}
	if cfg.Security.MaxToolParamLength == 0 {
		cfg.Security.MaxToolParamLength = 4000
	}

	if cfg.Observability.ServiceName == "" {
		cfg.Observability.ServiceName = "assistant"
	}
	if cfg.Observability.SampleRate == 0 {
		cfg.Observability.SampleRate = 1.0
	}
}

// ValidationError collects every config problem found, matching the
// teacher's batch-collect-then-report style (ConfigValidationError).
type ValidationError struct {
	Issues []string
}

func (e *ValidationError) Error() string {
	return "config validation failed:\n- " + strings.Join(e.Issues, "\n- ")
}

func validateConfig(cfg *Config) error {
	var issues []string

	seenModels := map[string]bool{}
	for _, m := range cfg.Models {
		if m.Name == "" {
			issues = append(issues, "models[]: name is required")
			continue
		}
		if seenModels[m.Name] {
			issues = append(issues, fmt.Sprintf("models: duplicate name %q", m.Name))
		}
		seenModels[m.Name] = true
		if !validProviderKind(m.Provider) {
			issues = append(issues, fmt.Sprintf("models[%s]: provider must be one of anthropic, openai, bedrock", m.Name))
		}
	}
	if cfg.DefaultModel != "" && !seenModels[cfg.DefaultModel] {
		issues = append(issues, fmt.Sprintf("default_model %q does not match any models[].name", cfg.DefaultModel))
	}

	seenMCP := map[string]bool{}
	for _, s := range cfg.MCP {
		if s.Name == "" {
			issues = append(issues, "mcp[]: name is required")
			continue
		}
		if seenMCP[s.Name] {
			issues = append(issues, fmt.Sprintf("mcp: duplicate name %q", s.Name))
		}
		seenMCP[s.Name] = true
	}

	seenWorkflows := map[string]bool{}
	for _, w := range cfg.Workflows {
		if w.Name == "" {
			issues = append(issues, "workflows[]: name is required")
			continue
		}
		if seenWorkflows[w.Name] {
			issues = append(issues, fmt.Sprintf("workflows: duplicate name %q", w.Name))
		}
		seenWorkflows[w.Name] = true
		if w.Type != "sequential" && w.Type != "graph" {
			issues = append(issues, fmt.Sprintf("workflows[%s]: type must be \"sequential\" or \"graph\"", w.Name))
		}
		if w.Type == "graph" && w.Start == "" {
			issues = append(issues, fmt.Sprintf("workflows[%s]: start is required for graph workflows", w.Name))
		}
	}

	if cfg.Security.BurstMultiplier < 1 {
		issues = append(issues, "security.burst_multiplier must be >= 1")
	}
	if cfg.Security.MaxConcurrentRequests < 0 {
		issues = append(issues, "security.max_concurrent_requests must be >= 0")
	}
	if cfg.Observability.SampleRate < 0 || cfg.Observability.SampleRate > 1 {
		issues = append(issues, "observability.sample_rate must be between 0 and 1")
	}

	if len(issues) > 0 {
		return &ValidationError{Issues: issues}
	}
	return nil
}

func validProviderKind(kind string) bool {
	switch kind {
	case "anthropic", "openai", "bedrock", "google":
		return true
	default:
		return false
	}
}
