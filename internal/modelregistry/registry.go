// Package modelregistry implements the Model Registry & Factory: a named
// provider config store plus a factory that maps a config to a concrete
// capability.ChatClient for a given provider kind.
package modelregistry

import (
	"fmt"
	"sync"
)

// ProviderKind identifies which LLM provider a ProviderConfig targets.
type ProviderKind string

const (
	ProviderAnthropic ProviderKind = "anthropic"
	ProviderOpenAI    ProviderKind = "openai"
	ProviderBedrock   ProviderKind = "bedrock"
	ProviderGoogle    ProviderKind = "google"
)

// ProviderConfig is one named provider entry. Credentials and endpoints come
// from config or environment, never from code (spec §4.10).
type ProviderConfig struct {
	Name         string
	Kind         ProviderKind
	APIKey       string // anthropic, openai, google
	BaseURL      string // anthropic override
	Region       string // bedrock
	DefaultModel string
	MaxRetries   int
}

// Registry holds named provider configs and tracks which one is the default.
type Registry struct {
	mu        sync.RWMutex
	providers map[string]ProviderConfig
	defaultName string
}

// NewRegistry constructs an empty Registry.
func NewRegistry() *Registry {
	return &Registry{providers: make(map[string]ProviderConfig)}
}

// Register adds or replaces a named provider config. If this is the first
// registered provider, or markDefault is true, it becomes the default.
func (r *Registry) Register(cfg ProviderConfig, markDefault bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.providers[cfg.Name] = cfg
	if r.defaultName == "" || markDefault {
		r.defaultName = cfg.Name
	}
}

// GetProvider returns the named config, failing if unknown.
func (r *Registry) GetProvider(name string) (ProviderConfig, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	cfg, ok := r.providers[name]
	if !ok {
		return ProviderConfig{}, fmt.Errorf("modelregistry: unknown provider %q", name)
	}
	return cfg, nil
}

// GetDefault returns the default provider config, failing if none is
// registered.
func (r *Registry) GetDefault() (ProviderConfig, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if r.defaultName == "" {
		return ProviderConfig{}, fmt.Errorf("modelregistry: no default provider configured")
	}
	return r.providers[r.defaultName], nil
}

// ListProviders returns every registered provider name.
func (r *Registry) ListProviders() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.providers))
	for name := range r.providers {
		names = append(names, name)
	}
	return names
}
