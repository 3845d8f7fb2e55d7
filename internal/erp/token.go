// Package erp provides a resilient client for stateful OAuth-protected
// external tool systems (ERP/CRM-style), generalizing the teacher's
// Basic-Auth ServiceNow client to OAuth2 client-credentials with a circuit
// breaker and a failure-kind-aware retry policy wrapped around it.
package erp

import (
	"context"
	"sync"
	"time"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/clientcredentials"

	"github.com/nexuscore/assistant/internal/infra"
)

// TokenConfig configures OAuth2 client-credentials token acquisition.
type TokenConfig struct {
	ClientID     string
	ClientSecret string
	TokenURL     string
	Scopes       []string
}

// TokenProvider acquires, caches, and refreshes bearer tokens for a single
// OAuth2 client-credentials configuration. Concurrent callers requesting a
// token while one is already being acquired share the in-flight result
// (single-flight, double-checked under the lock).
type TokenProvider struct {
	mu     sync.Mutex
	config clientcredentials.Config
	cached *oauth2.Token

	inflight infra.Group[string, *oauth2.Token]
}

// NewTokenProvider constructs a TokenProvider from config.
func NewTokenProvider(cfg TokenConfig) *TokenProvider {
	return &TokenProvider{
		config: clientcredentials.Config{
			ClientID:     cfg.ClientID,
			ClientSecret: cfg.ClientSecret,
			TokenURL:     cfg.TokenURL,
			Scopes:       cfg.Scopes,
		},
	}
}

// GetToken returns a valid bearer token, refreshing it if absent or
// expired. At most one refresh is ever in flight.
func (p *TokenProvider) GetToken(ctx context.Context) (string, time.Time, error) {
	p.mu.Lock()
	if p.cached != nil && p.cached.Valid() {
		token := p.cached
		p.mu.Unlock()
		return token.AccessToken, token.Expiry, nil
	}
	p.mu.Unlock()

	token, err, _ := p.inflight.Do("token", func() (*oauth2.Token, error) {
		p.mu.Lock()
		if p.cached != nil && p.cached.Valid() {
			token := p.cached
			p.mu.Unlock()
			return token, nil
		}
		p.mu.Unlock()

		fresh, err := p.config.Token(ctx)
		if err != nil {
			return nil, err
		}

		p.mu.Lock()
		p.cached = fresh
		p.mu.Unlock()
		return fresh, nil
	})
	if err != nil {
		return "", time.Time{}, err
	}
	return token.AccessToken, token.Expiry, nil
}

// Invalidate discards the cached token, forcing the next GetToken call to
// refresh. Used after a 401 response.
func (p *TokenProvider) Invalidate() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.cached = nil
}
