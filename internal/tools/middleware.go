package tools

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/nexuscore/assistant/internal/ratelimit"
	"github.com/nexuscore/assistant/internal/validate"
)

// argPreviewLimit bounds how much of an argument value is logged by the
// tracing middleware.
const argPreviewLimit = 200

// sensitiveArgKeys mirrors the teacher's observability logger's masked-key
// set, reused here for audit-record redaction.
var sensitiveArgKeys = map[string]bool{
	"password": true, "passwd": true, "secret": true, "token": true,
	"api_key": true, "apikey": true, "private_key": true, "privatekey": true,
	"auth": true, "authorization": true,
}

// Tracer starts a span-like observation for a tool call. Implementations
// wrap the opentelemetry tracer; this interface keeps the middleware
// package decoupled from a specific tracing backend.
type Tracer interface {
	StartToolSpan(ctx context.Context, tool string, argPreview string) (context.Context, func())
}

// TracingMiddleware starts a span around the call, tagging it with the
// tool name and a truncated argument preview.
func TracingMiddleware(tracer Tracer) Middleware {
	return func(next Next) Next {
		return func(ctx context.Context, call *Call) error {
			if tracer == nil {
				return next(ctx, call)
			}
			ctx, end := tracer.StartToolSpan(ctx, call.Tool, previewArgs(call.Args))
			defer end()
			return next(ctx, call)
		}
	}
}

func previewArgs(args map[string]any) string {
	s := fmt.Sprint(args)
	if len(s) > argPreviewLimit {
		return s[:argPreviewLimit] + "..."
	}
	return s
}

// SecurityMiddleware validates every string argument through the input
// validator, normalizing (sanitizing/redacting) in place.
func SecurityMiddleware(validator *validate.Validator) Middleware {
	return func(next Next) Next {
		return func(ctx context.Context, call *Call) error {
			if validator == nil {
				return next(ctx, call)
			}
			for k, v := range call.Args {
				s, ok := v.(string)
				if !ok {
					continue
				}
				sanitized, err := validator.Validate(s, validate.ContextToolParam)
				if err != nil {
					return fmt.Errorf("tools: security check on %q.%s: %w", call.Tool, k, err)
				}
				call.Args[k] = sanitized
			}
			return next(ctx, call)
		}
	}
}

// RateLimitMiddleware admits the call under the per-tool identity
// "tool:<name>" before proceeding.
func RateLimitMiddleware(limiter *ratelimit.Limiter) Middleware {
	return func(next Next) Next {
		return func(ctx context.Context, call *Call) error {
			if limiter == nil {
				return next(ctx, call)
			}
			identity := "tool:" + call.Tool
			decision := limiter.Check(identity, 0)
			if !decision.Admit {
				return fmt.Errorf("tools: rate limited calling %q (%s), retry after %s",
					call.Tool, decision.Reject, decision.RetryAfter)
			}
			limiter.AcquireSlot(identity)
			defer limiter.ReleaseSlot(identity)

			err := next(ctx, call)
			limiter.Record(identity, 0)
			return err
		}
	}
}

// AuditMiddleware logs a redacted record of the call: sensitive argument
// keys are masked before logging.
func AuditMiddleware(logger *slog.Logger) Middleware {
	return func(next Next) Next {
		return func(ctx context.Context, call *Call) error {
			err := next(ctx, call)
			if logger == nil {
				return err
			}
			masked := maskArgs(call.Args)
			if err != nil {
				logger.Warn("tool call failed", "tool", call.Tool, "args", masked, "error", err)
			} else {
				logger.Info("tool call", "tool", call.Tool, "args", masked)
			}
			return err
		}
	}
}

func maskArgs(args map[string]any) map[string]any {
	masked := make(map[string]any, len(args))
	for k, v := range args {
		key := strings.ToLower(strings.ReplaceAll(k, "-", "_"))
		if sensitiveArgKeys[key] {
			masked[k] = "[REDACTED]"
		} else {
			masked[k] = v
		}
	}
	return masked
}

// PerformanceMiddleware warns when a call exceeds threshold.
func PerformanceMiddleware(logger *slog.Logger, threshold time.Duration) Middleware {
	return func(next Next) Next {
		return func(ctx context.Context, call *Call) error {
			start := time.Now()
			err := next(ctx, call)
			elapsed := time.Since(start)
			if logger != nil && threshold > 0 && elapsed > threshold {
				logger.Warn("slow tool call", "tool", call.Tool, "elapsed", elapsed, "threshold", threshold)
			}
			return err
		}
	}
}

// StandardChain assembles the standard five-stage middleware stack in
// order: tracing, security, rate-limit, audit, performance.
func StandardChain(registry *Registry, tracer Tracer, validator *validate.Validator, limiter *ratelimit.Limiter, logger *slog.Logger, perfThreshold time.Duration) Next {
	return Chain(registry,
		TracingMiddleware(tracer),
		SecurityMiddleware(validator),
		RateLimitMiddleware(limiter),
		AuditMiddleware(logger),
		PerformanceMiddleware(logger, perfThreshold),
	)
}
