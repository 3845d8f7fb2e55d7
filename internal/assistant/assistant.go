// Package assistant implements the Request Orchestrator: the top-level
// entry points (process_question, process_question_stream, run_workflow)
// that wire the rate limiter, validator, chat history manager, model
// registry, and workflow engine together per request.
package assistant

import (
	"context"
	"errors"
	"fmt"
	"net"
	"time"

	"go.opentelemetry.io/otel/trace"

	"github.com/nexuscore/assistant/internal/capability"
	"github.com/nexuscore/assistant/internal/history"
	"github.com/nexuscore/assistant/internal/mcpsession"
	"github.com/nexuscore/assistant/internal/observability"
	"github.com/nexuscore/assistant/internal/ratelimit"
	"github.com/nexuscore/assistant/internal/retry"
	"github.com/nexuscore/assistant/internal/summarize"
	"github.com/nexuscore/assistant/internal/validate"
	"github.com/nexuscore/assistant/internal/workflow"
	"github.com/nexuscore/assistant/pkg/assistantapi"
)

// Config configures the orchestrator's own knobs (retry policy); its
// collaborators carry their own configs.
type Config struct {
	TransientRetryAttempts int
	TransientRetryBaseDelay time.Duration
	TransientRetryMaxDelay  time.Duration
}

// DefaultConfig matches spec §4.11 step 8: 3 attempts, exponential 1..10s.
func DefaultConfig() Config {
	return Config{
		TransientRetryAttempts:  3,
		TransientRetryBaseDelay: time.Second,
		TransientRetryMaxDelay:  10 * time.Second,
	}
}

// modelResolver is the subset of modelregistry.Factory the orchestrator
// depends on; declared here (consumer-side) so tests can supply a fake
// without driving real provider SDKs.
type modelResolver interface {
	BuildDefault() (capability.ChatClient, error)
	BuildNamed(name string) (capability.ChatClient, error)
}

// Orchestrator is the Request Orchestrator (C11).
type Orchestrator struct {
	config Config

	limiter   *ratelimit.Limiter
	validator *validate.Validator
	threads   *history.Manager
	sessions  *mcpsession.Manager
	models      modelResolver
	summarizer  *summarize.Summarizer
	workflows   map[string]*workflow.Workflow

	tracer  *observability.Tracer
	metrics *observability.Metrics
}

// New constructs an Orchestrator. tracer, metrics, and summarizer may be nil;
// a nil summarizer means threads are never compacted.
func New(config Config, limiter *ratelimit.Limiter, validator *validate.Validator, threads *history.Manager, sessions *mcpsession.Manager, models modelResolver, summarizer *summarize.Summarizer, tracer *observability.Tracer, metrics *observability.Metrics) *Orchestrator {
	return &Orchestrator{
		config:     config,
		limiter:    limiter,
		validator:  validator,
		threads:    threads,
		sessions:   sessions,
		models:     models,
		summarizer: summarizer,
		workflows:  make(map[string]*workflow.Workflow),
		tracer:     tracer,
		metrics:    metrics,
	}
}

// maybeSummarize compacts thread in place when the summarizer is configured
// and the thread has grown past its token budget (spec §4.6 trigger).
func (o *Orchestrator) maybeSummarize(ctx context.Context, thread *assistantapi.Thread) {
	if o.summarizer == nil {
		return
	}
	if o.summarizer.ShouldSummarize(thread) {
		o.summarizer.Summarize(ctx, thread)
	}
}

// RegisterWorkflow makes a built workflow available to RunWorkflow.
func (o *Orchestrator) RegisterWorkflow(w *workflow.Workflow, name string) {
	o.workflows[name] = w
}

func (o *Orchestrator) startSpan(ctx context.Context, name string) (context.Context, trace.Span) {
	if o.tracer == nil {
		return ctx, nil
	}
	return o.tracer.Start(ctx, name)
}

func (o *Orchestrator) endSpan(span trace.Span, err error) {
	if span == nil {
		return
	}
	if err != nil && o.tracer != nil {
		o.tracer.RecordError(span, err)
	}
	span.End()
}

func (o *Orchestrator) recordOutcome(component string, kind assistantapi.ErrorKind, latency time.Duration) {
	if o.metrics == nil {
		return
	}
	status := "success"
	if kind != "" {
		status = string(kind)
	}
	o.metrics.RecordLLMRequest(component, "", status, latency.Seconds(), 0, 0)
}

// mcpKwargsKey is the thread-context key for the per-request MCP kwargs
// bundle, following the teacher's runtime_context.go key-struct idiom.
type mcpKwargsKey struct{}

// RequestKwargs is the spec §4.11 step 6 MCP kwargs bundle: chat_id/user_id
// propagated via thread context so a tool call can thread them through to a
// stateful MCP session (C5) without the orchestrator naming a server.
type RequestKwargs struct {
	ChatID string
	UserID string
}

func withMCPKwargs(ctx context.Context, kwargs RequestKwargs) context.Context {
	return context.WithValue(ctx, mcpKwargsKey{}, kwargs)
}

// MCPKwargsFromContext recovers the kwargs a tool call should merge into its
// stateful-session lookup (internal/mcpsession.GetOrCreate), if any.
func MCPKwargsFromContext(ctx context.Context) (RequestKwargs, bool) {
	kwargs, ok := ctx.Value(mcpKwargsKey{}).(RequestKwargs)
	return kwargs, ok
}

// identityFor derives a rate-limit identity from chatID/userID, falling
// back to a fixed global bucket when neither is present and PerIdentity is
// configured off (handled by the limiter itself).
func identityFor(chatID, userID string) string {
	if userID != "" {
		return userID
	}
	return chatID
}

// isTransient classifies an LM-call failure per spec §4.11 step 8's
// retryable set: connection errors and timeouts only, never validation,
// auth, or other permanent failures.
func isTransient(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return netErr.Timeout()
	}
	return false
}

// ProcessQuestion runs the single-shot question/response flow (spec
// §4.11's process_question). On any failure from validation onward, a
// failure response is returned with success=false and no panic/error —
// callers always get a QuestionResponse.
func (o *Orchestrator) ProcessQuestion(ctx context.Context, question, chatID, userID, model string) *assistantapi.QuestionResponse {
	start := time.Now()
	ctx, span := o.startSpan(ctx, "process_question")
	defer func() { o.endSpan(span, nil) }()

	identity := identityFor(chatID, userID)

	if o.limiter != nil {
		decision := o.limiter.Check(identity, estimateQuestionTokens(question))
		if !decision.Admit {
			return o.failureResponse(question, chatID, assistantapi.ErrorKindRateLimited, fmt.Errorf("rate limited: %s", decision.Reject), start)
		}
		o.limiter.AcquireSlot(identity)
		defer o.limiter.ReleaseSlot(identity)
	}

	if o.validator != nil {
		if _, err := o.validator.Validate(question, validate.ContextQuestion); err != nil {
			return o.failureResponse(question, chatID, assistantapi.ErrorKindValidation, err, start)
		}
	}

	resolvedChatID, thread, err := o.threads.GetOrCreateThread(ctx, chatID)
	if err != nil {
		return o.failureResponse(question, chatID, assistantapi.ErrorKindInternal, err, start)
	}

	client, err := o.resolveClient(model)
	if err != nil {
		return o.failureResponse(question, resolvedChatID, assistantapi.ErrorKindInternal, err, start)
	}

	runCtx := withMCPKwargs(ctx, RequestKwargs{ChatID: resolvedChatID, UserID: userID})

	var result capability.ChatResult
	retryResult := retry.Do(ctx, retry.Config{
		MaxAttempts:  o.config.TransientRetryAttempts,
		InitialDelay: o.config.TransientRetryBaseDelay,
		MaxDelay:     o.config.TransientRetryMaxDelay,
	}, func() error {
		r, runErr := client.Run(runCtx, question, thread)
		result = r
		if runErr != nil && !isTransient(runErr) {
			return retry.Permanent(runErr)
		}
		return runErr
	})
	if retryResult.Err != nil {
		return o.failureResponse(question, resolvedChatID, classifyError(retryResult.Err), retryResult.Err, start)
	}

	o.maybeSummarize(ctx, thread)

	if _, err := o.threads.SaveThread(ctx, resolvedChatID, thread, false); err != nil {
		return o.failureResponse(question, resolvedChatID, assistantapi.ErrorKindInternal, err, start)
	}

	latency := time.Since(start)
	o.recordOutcome("process_question", "", latency)
	if o.limiter != nil {
		o.limiter.Record(identity, estimateQuestionTokens(question)+estimateQuestionTokens(result.Text))
	}

	return &assistantapi.QuestionResponse{
		Question:  question,
		Response:  result.Text,
		Success:   true,
		ChatID:    resolvedChatID,
		LatencyMS: latency.Milliseconds(),
		Model:     model,
	}
}

func (o *Orchestrator) failureResponse(question, chatID string, kind assistantapi.ErrorKind, err error, start time.Time) *assistantapi.QuestionResponse {
	latency := time.Since(start)
	o.recordOutcome("process_question", kind, latency)
	return &assistantapi.QuestionResponse{
		Question:  question,
		Response:  err.Error(),
		Success:   false,
		ChatID:    chatID,
		LatencyMS: latency.Milliseconds(),
		ErrorKind: kind,
	}
}

func (o *Orchestrator) resolveClient(model string) (capability.ChatClient, error) {
	if model == "" {
		return o.models.BuildDefault()
	}
	return o.models.BuildNamed(model)
}

func estimateQuestionTokens(text string) int {
	return (len(text) + 20) / 4
}

func classifyError(err error) assistantapi.ErrorKind {
	if isTransient(err) {
		return assistantapi.ErrorKindTransient
	}
	return assistantapi.ErrorKindExternal
}

// ProcessQuestionStream mirrors ProcessQuestion but yields incremental
// chunks; the final chunk carries ChatID and Done=true.
func (o *Orchestrator) ProcessQuestionStream(ctx context.Context, question, chatID, userID, model string) (<-chan assistantapi.StreamChunk, error) {
	ctx, span := o.startSpan(ctx, "process_question_stream")

	identity := identityFor(chatID, userID)
	if o.limiter != nil {
		decision := o.limiter.Check(identity, estimateQuestionTokens(question))
		if !decision.Admit {
			o.endSpan(span, fmt.Errorf("rate limited"))
			return nil, fmt.Errorf("assistant: rate limited: %s", decision.Reject)
		}
		o.limiter.AcquireSlot(identity)
	}

	if o.validator != nil {
		if _, err := o.validator.Validate(question, validate.ContextQuestion); err != nil {
			if o.limiter != nil {
				o.limiter.ReleaseSlot(identity)
			}
			o.endSpan(span, err)
			return nil, err
		}
	}

	resolvedChatID, thread, err := o.threads.GetOrCreateThread(ctx, chatID)
	if err != nil {
		if o.limiter != nil {
			o.limiter.ReleaseSlot(identity)
		}
		o.endSpan(span, err)
		return nil, err
	}

	client, err := o.resolveClient(model)
	if err != nil {
		if o.limiter != nil {
			o.limiter.ReleaseSlot(identity)
		}
		o.endSpan(span, err)
		return nil, err
	}

	runCtx := withMCPKwargs(ctx, RequestKwargs{ChatID: resolvedChatID, UserID: userID})
	upstream, err := client.RunStream(runCtx, question, thread)
	if err != nil {
		if o.limiter != nil {
			o.limiter.ReleaseSlot(identity)
		}
		o.endSpan(span, err)
		return nil, err
	}

	out := make(chan assistantapi.StreamChunk)
	go func() {
		defer close(out)
		defer func() {
			if o.limiter != nil {
				o.limiter.ReleaseSlot(identity)
			}
		}()
		defer o.endSpan(span, nil)

		for result := range upstream {
			chunk := assistantapi.StreamChunk{Text: result.Text, Done: result.Done}
			if result.Done {
				chunk.ChatID = resolvedChatID
			}
			select {
			case out <- chunk:
			case <-ctx.Done():
				return
			}
			if result.Done {
				break
			}
		}
		o.maybeSummarize(ctx, thread)
		_, _ = o.threads.SaveThread(ctx, resolvedChatID, thread, false)
	}()
	return out, nil
}

// RunWorkflow loads and runs a named workflow to completion, collecting
// per-agent-authored steps (spec §4.11's run_workflow).
func (o *Orchestrator) RunWorkflow(ctx context.Context, name, message string) *assistantapi.WorkflowResponse {
	start := time.Now()
	w, ok := o.workflows[name]
	if !ok {
		return &assistantapi.WorkflowResponse{Workflow: name, Message: message, Success: false, Response: fmt.Sprintf("unknown workflow %q", name), LatencyMS: time.Since(start).Milliseconds()}
	}

	client, err := o.models.BuildDefault()
	if err != nil {
		return &assistantapi.WorkflowResponse{Workflow: name, Message: message, Success: false, Response: err.Error(), LatencyMS: time.Since(start).Milliseconds()}
	}

	thread, err := client.GetNewThread(ctx)
	if err != nil {
		return &assistantapi.WorkflowResponse{Workflow: name, Message: message, Success: false, Response: err.Error(), LatencyMS: time.Since(start).Milliseconds()}
	}

	var steps []workflow.Step
	if w.Shape() == workflow.ShapeSequential {
		steps, err = w.RunSequential(ctx, client, thread, message)
	} else {
		steps, err = w.RunGraph(ctx, client, thread, message, 50)
	}
	if err != nil {
		return &assistantapi.WorkflowResponse{Workflow: name, Message: message, Success: false, Response: err.Error(), LatencyMS: time.Since(start).Milliseconds()}
	}

	resp := &assistantapi.WorkflowResponse{
		Workflow:  name,
		Message:   message,
		Success:   true,
		LatencyMS: time.Since(start).Milliseconds(),
	}
	for _, s := range steps {
		resp.Steps = append(resp.Steps, assistantapi.WorkflowStep{Agent: s.Agent, Status: "completed"})
		resp.Response = s.Output
		resp.Author = s.Agent
	}
	return resp
}
