package erp

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/nexuscore/assistant/internal/infra"
)

// Config configures the ERP client's connection, retry, and breaker
// behavior.
type Config struct {
	BaseURL string
	Token   TokenConfig

	MaxRetries       int
	BackoffBase      time.Duration
	BackoffCap       time.Duration
	FailureThreshold int
	RecoveryTimeout  time.Duration

	ConnectTimeout time.Duration
	ReadTimeout    time.Duration
}

// DefaultConfig returns default retry/breaker/timeout settings matching
// the spec's defaults: 3 retries, base 1s/cap 10s backoff, breaker opens
// at 3 consecutive failures with a 30s recovery timeout.
func DefaultConfig() Config {
	return Config{
		MaxRetries:       3,
		BackoffBase:      time.Second,
		BackoffCap:       10 * time.Second,
		FailureThreshold: 3,
		RecoveryTimeout:  30 * time.Second,
		ConnectTimeout:   10 * time.Second,
		ReadTimeout:      60 * time.Second,
	}
}

// CircuitOpenError is returned when the breaker rejects a call outright.
type CircuitOpenError struct {
	RetryIn time.Duration
}

func (e *CircuitOpenError) Error() string {
	return fmt.Sprintf("erp: circuit open, retry in %s", e.RetryIn)
}

// statusError classifies an HTTP response by status code so the retry
// policy can branch on it.
type statusError struct {
	status     int
	retryAfter time.Duration
	body       string
}

func (e *statusError) Error() string {
	return fmt.Sprintf("erp: request failed with status %d: %s", e.status, e.body)
}

func (e *statusError) isAuthFailure() bool { return e.status == http.StatusUnauthorized }
func (e *statusError) isRateLimited() bool { return e.status == http.StatusTooManyRequests }
func (e *statusError) isTransient() bool   { return e.status >= 500 }

// Client is a resilient HTTP client for an OAuth2-protected ERP system: a
// circuit breaker wraps each call, and a failure-kind-aware retry policy
// runs inside the breaker's admitted call.
type Client struct {
	baseURL    string
	httpClient *http.Client
	tokens     *TokenProvider
	breaker    *infra.CircuitBreaker
	config     Config
}

// NewClient constructs a Client.
func NewClient(cfg Config) *Client {
	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = DefaultConfig().MaxRetries
	}
	if cfg.BackoffBase <= 0 {
		cfg.BackoffBase = DefaultConfig().BackoffBase
	}
	if cfg.BackoffCap <= 0 {
		cfg.BackoffCap = DefaultConfig().BackoffCap
	}

	return &Client{
		baseURL: cfg.BaseURL,
		httpClient: &http.Client{
			Timeout: cfg.ConnectTimeout + cfg.ReadTimeout,
		},
		tokens: NewTokenProvider(cfg.Token),
		breaker: infra.NewCircuitBreaker(infra.CircuitBreakerConfig{
			Name:             "erp",
			FailureThreshold: cfg.FailureThreshold,
			SuccessThreshold: 1,
			Timeout:          cfg.RecoveryTimeout,
		}),
		config: cfg,
	}
}

// Do performs a request with retry-inside-breaker semantics: a single
// admission through the circuit breaker wraps a bounded retry loop that
// branches on failure kind (401 → refresh token and retry, 429 → honor
// Retry-After and retry, transient → exponential backoff and retry, other
// → surface immediately). The whole retry loop counts as one breaker
// outcome: success if any attempt succeeds, failure if every attempt is
// exhausted.
func (c *Client) Do(ctx context.Context, method, path string, body any, out any) error {
	err := c.breaker.Execute(ctx, func(ctx context.Context) error {
		return c.doWithRetry(ctx, method, path, body, out)
	})
	if errors.Is(err, infra.ErrCircuitOpen) {
		return &CircuitOpenError{RetryIn: c.config.RecoveryTimeout}
	}
	return err
}

func (c *Client) doWithRetry(ctx context.Context, method, path string, body any, out any) error {
	var lastErr error

	for attempt := 0; attempt <= c.config.MaxRetries; attempt++ {
		err := c.attempt(ctx, method, path, body, out)
		if err == nil {
			return nil
		}
		lastErr = err

		var se *statusError
		if errors.As(err, &se) {
			if se.isAuthFailure() && attempt < c.config.MaxRetries {
				c.tokens.Invalidate()
				continue
			}
			if se.isRateLimited() && attempt < c.config.MaxRetries {
				if !sleep(ctx, se.retryAfter) {
					return ctx.Err()
				}
				continue
			}
			if se.isTransient() && attempt < c.config.MaxRetries {
				if !sleep(ctx, backoff(c.config.BackoffBase, c.config.BackoffCap, attempt)) {
					return ctx.Err()
				}
				continue
			}
			return err
		}

		if isTransientNetworkError(err) && attempt < c.config.MaxRetries {
			if !sleep(ctx, backoff(c.config.BackoffBase, c.config.BackoffCap, attempt)) {
				return ctx.Err()
			}
			continue
		}

		return err
	}

	return lastErr
}

func backoff(base, max time.Duration, attempt int) time.Duration {
	d := base
	for i := 0; i < attempt; i++ {
		d *= 2
		if d > max {
			return max
		}
	}
	if d > max {
		return max
	}
	return d
}

func sleep(ctx context.Context, d time.Duration) bool {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return true
	case <-ctx.Done():
		return false
	}
}

func isTransientNetworkError(err error) bool {
	var netErr interface{ Timeout() bool }
	if errors.As(err, &netErr) {
		return netErr.Timeout()
	}
	return errors.Is(err, context.DeadlineExceeded)
}

func (c *Client) attempt(ctx context.Context, method, path string, body any, out any) error {
	token, _, err := c.tokens.GetToken(ctx)
	if err != nil {
		return fmt.Errorf("erp: acquiring token: %w", err)
	}

	var reader io.Reader
	if body != nil {
		encoded, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("erp: encoding request body: %w", err)
		}
		reader = bytes.NewReader(encoded)
	}

	fullURL := c.baseURL + path
	req, err := http.NewRequestWithContext(ctx, method, fullURL, reader)
	if err != nil {
		return fmt.Errorf("erp: creating request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
		return &statusError{
			status:     resp.StatusCode,
			retryAfter: parseRetryAfter(resp.Header.Get("Retry-After")),
			body:       string(respBody),
		}
	}

	if out == nil {
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

func parseRetryAfter(header string) time.Duration {
	if header == "" {
		return time.Second
	}
	if secs, err := strconv.Atoi(header); err == nil {
		return time.Duration(secs) * time.Second
	}
	if when, err := http.ParseTime(header); err == nil {
		if d := time.Until(when); d > 0 {
			return d
		}
	}
	return time.Second
}

// BuildQuery is a small helper for constructing a query string, mirroring
// the teacher's `url.Values`-based request-building idiom.
func BuildQuery(params map[string]string) string {
	v := url.Values{}
	for k, val := range params {
		if val != "" {
			v.Set(k, val)
		}
	}
	return v.Encode()
}

// State returns the current breaker state (closed, open, half-open).
func (c *Client) State() string { return c.breaker.State() }
