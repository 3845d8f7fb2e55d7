package modelregistry

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/nexuscore/assistant/internal/agent"
	"github.com/nexuscore/assistant/internal/agent/providers"
	"github.com/nexuscore/assistant/internal/capability"
	"github.com/nexuscore/assistant/pkg/assistantapi"
)

// Factory builds capability.ChatClient instances from provider configs.
type Factory struct {
	registry *Registry
}

// NewFactory constructs a Factory over registry.
func NewFactory(registry *Registry) *Factory {
	return &Factory{registry: registry}
}

// Build maps cfg to a concrete ChatClient for its provider kind.
func (f *Factory) Build(cfg ProviderConfig) (capability.ChatClient, error) {
	switch cfg.Kind {
	case ProviderAnthropic:
		p, err := providers.NewAnthropicProvider(providers.AnthropicConfig{
			APIKey:       cfg.APIKey,
			BaseURL:      cfg.BaseURL,
			MaxRetries:   cfg.MaxRetries,
			DefaultModel: cfg.DefaultModel,
		})
		if err != nil {
			return nil, fmt.Errorf("modelregistry: building anthropic client %q: %w", cfg.Name, err)
		}
		return &providerChatClient{provider: p, model: cfg.DefaultModel}, nil

	case ProviderOpenAI:
		if cfg.APIKey == "" {
			return nil, fmt.Errorf("modelregistry: openai provider %q requires an API key", cfg.Name)
		}
		p := providers.NewOpenAIProvider(cfg.APIKey)
		return &providerChatClient{provider: p, model: cfg.DefaultModel}, nil

	case ProviderBedrock:
		p, err := providers.NewBedrockProvider(providers.BedrockConfig{
			Region:       cfg.Region,
			DefaultModel: cfg.DefaultModel,
			MaxRetries:   cfg.MaxRetries,
		})
		if err != nil {
			return nil, fmt.Errorf("modelregistry: building bedrock client %q: %w", cfg.Name, err)
		}
		return &providerChatClient{provider: p, model: cfg.DefaultModel}, nil

	case ProviderGoogle:
		p, err := providers.NewGoogleProvider(providers.GoogleConfig{
			APIKey:       cfg.APIKey,
			MaxRetries:   cfg.MaxRetries,
			DefaultModel: cfg.DefaultModel,
		})
		if err != nil {
			return nil, fmt.Errorf("modelregistry: building google client %q: %w", cfg.Name, err)
		}
		return &providerChatClient{provider: p, model: cfg.DefaultModel}, nil

	default:
		return nil, fmt.Errorf("modelregistry: unknown provider kind %q", cfg.Kind)
	}
}

// BuildDefault resolves and builds the registry's default provider.
func (f *Factory) BuildDefault() (capability.ChatClient, error) {
	cfg, err := f.registry.GetDefault()
	if err != nil {
		return nil, err
	}
	return f.Build(cfg)
}

// BuildNamed resolves and builds a provider by name, or the model name if it
// names a provider kind directly (e.g. a per-request model override that
// differs from the default, per spec §4.10's "transient agent" clause).
func (f *Factory) BuildNamed(name string) (capability.ChatClient, error) {
	cfg, err := f.registry.GetProvider(name)
	if err != nil {
		return nil, err
	}
	return f.Build(cfg)
}

// providerChatClient adapts a teacher-style agent.LLMProvider (channel-based
// streaming over CompletionRequest/CompletionChunk) to capability.ChatClient
// (thread-based, over assistantapi.Thread).
type providerChatClient struct {
	provider agent.LLMProvider
	model    string
}

func (c *providerChatClient) toCompletionRequest(input string, thread *assistantapi.Thread) *agent.CompletionRequest {
	messages := make([]agent.CompletionMessage, 0, len(thread.Messages)+1)
	var system string
	for _, m := range thread.Messages {
		if m.Role == assistantapi.RoleSystem {
			if system != "" {
				system += "\n"
			}
			system += m.Content
			continue
		}
		messages = append(messages, agent.CompletionMessage{Role: string(m.Role), Content: m.Content})
	}
	messages = append(messages, agent.CompletionMessage{Role: string(assistantapi.RoleUser), Content: input})
	return &agent.CompletionRequest{Model: c.model, System: system, Messages: messages}
}

func (c *providerChatClient) Run(ctx context.Context, input string, thread *assistantapi.Thread) (capability.ChatResult, error) {
	chunks, err := c.provider.Complete(ctx, c.toCompletionRequest(input, thread))
	if err != nil {
		return capability.ChatResult{}, err
	}
	var b strings.Builder
	for chunk := range chunks {
		if chunk.Error != nil {
			return capability.ChatResult{}, chunk.Error
		}
		b.WriteString(chunk.Text)
		if chunk.Done {
			break
		}
	}
	return capability.ChatResult{Text: b.String(), Author: c.provider.Name(), Done: true}, nil
}

func (c *providerChatClient) RunStream(ctx context.Context, input string, thread *assistantapi.Thread) (<-chan capability.ChatResult, error) {
	chunks, err := c.provider.Complete(ctx, c.toCompletionRequest(input, thread))
	if err != nil {
		return nil, err
	}
	out := make(chan capability.ChatResult)
	go func() {
		defer close(out)
		for chunk := range chunks {
			result := capability.ChatResult{Text: chunk.Text, Author: c.provider.Name(), Done: chunk.Done}
			select {
			case out <- result:
			case <-ctx.Done():
				return
			}
			if chunk.Done || chunk.Error != nil {
				return
			}
		}
	}()
	return out, nil
}

func (c *providerChatClient) GetNewThread(ctx context.Context) (*assistantapi.Thread, error) {
	now := time.Now()
	return &assistantapi.Thread{CreatedAt: now, UpdatedAt: now}, nil
}

func (c *providerChatClient) DeserializeThread(blob []byte) (*assistantapi.Thread, error) {
	var t assistantapi.Thread
	if err := json.Unmarshal(blob, &t); err != nil {
		return nil, err
	}
	return &t, nil
}

func (c *providerChatClient) Serialize(thread *assistantapi.Thread) ([]byte, error) {
	return json.Marshal(thread)
}
