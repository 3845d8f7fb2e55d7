// Package assistantapi defines the data transfer objects exchanged at the
// boundary of the orchestration core: request/response envelopes, the
// conversation thread model, and the shared enums used across components.
package assistantapi

import "time"

// Role identifies the author of a message within a thread.
type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleTool      Role = "tool"
	// RoleFunction is accepted on deserialization for compatibility with
	// older payloads but is never produced by this module.
	RoleFunction Role = "function"
)

// ContentBlock is one unit of a message's content when the content is not a
// plain string (e.g. multi-part messages with text and tool-call blocks).
type ContentBlock struct {
	Type string `json:"type"`
	Text string `json:"text,omitempty"`
}

// Message is one turn in a conversation thread.
//
// Content holds either a plain string or a list of ContentBlock values;
// exactly one of Content/ContentBlocks is populated after deserialization.
// Seq is a per-thread monotonically increasing sequence number assigned by
// the chat-client capability's serializer; it is the stable ordering used
// for merge-by-sequence during persistence (see DESIGN.md open question 2).
type Message struct {
	Role         Role           `json:"role"`
	Content      string         `json:"content,omitempty"`
	ContentBlocks []ContentBlock `json:"content_blocks,omitempty"`
	Seq          int64          `json:"seq"`
	Timestamp    time.Time      `json:"timestamp"`
}

// Thread is the ordered message sequence plus metadata that constitutes a
// chat's durable state. The core treats it as largely opaque: it reads
// metadata fields for bookkeeping but never interprets message content.
type Thread struct {
	ChatID        string    `json:"chat_id"`
	Messages      []Message `json:"messages"`
	CreatedAt     time.Time `json:"created_at"`
	UpdatedAt     time.Time `json:"updated_at"`
	MessageCount  int       `json:"message_count"`
	Persisted     bool      `json:"persisted"`
	MergeCount    int       `json:"merge_count"`
	SummaryCount  int       `json:"summary_count"`
}

// Clone returns a deep copy of the thread so callers can mutate it without
// aliasing shared state held by the chat history manager.
func (t *Thread) Clone() *Thread {
	if t == nil {
		return nil
	}
	clone := *t
	clone.Messages = make([]Message, len(t.Messages))
	copy(clone.Messages, t.Messages)
	return &clone
}

// ChatSession is the in-memory-only record the Chat History Manager keeps
// for an active chat. Exclusively owned by that component.
type ChatSession struct {
	ChatID          string
	Thread          *Thread
	CreatedAt       time.Time
	LastAccessed    time.Time
	MessageCount    int
	Persisted       bool
	Summarized      bool
	SummaryCount    int
	EstimatedTokens int
	// MCPSessions maps an MCP server name to the session ID bound to this
	// chat for that server.
	MCPSessions map[string]string
}

// ToolSource identifies where a tool descriptor originated.
type ToolSource string

const (
	ToolSourceDecorator ToolSource = "decorator"
	ToolSourceConfig    ToolSource = "config"
)

// ErrorKind tags a failure with its taxonomy bucket (spec.md §7), used both
// in response envelopes and as the metrics label.
type ErrorKind string

const (
	ErrorKindRateLimited    ErrorKind = "rate_limited"
	ErrorKindValidation     ErrorKind = "validation"
	ErrorKindTransient      ErrorKind = "transient"
	ErrorKindAuth           ErrorKind = "auth"
	ErrorKindExternal       ErrorKind = "external"
	ErrorKindCircuitOpen    ErrorKind = "circuit_open"
	ErrorKindStateViolation ErrorKind = "state_violation"
	ErrorKindInternal       ErrorKind = "internal"
)

// QuestionResponse is the result of a single-shot process_question call.
type QuestionResponse struct {
	Question        string     `json:"question"`
	Response        string     `json:"response"`
	Success         bool       `json:"success"`
	ChatID          string     `json:"chat_id"`
	TokensUsed      int        `json:"tokens_used,omitempty"`
	PromptTokens    int        `json:"prompt_tokens,omitempty"`
	CompletionTokens int       `json:"completion_tokens,omitempty"`
	ToolCalls       []string   `json:"tool_calls"`
	LatencyMS       int64      `json:"latency_ms,omitempty"`
	Model           string     `json:"model,omitempty"`
	ErrorKind       ErrorKind  `json:"error_kind,omitempty"`
	RetryAfter      *time.Duration `json:"retry_after,omitempty"`
}

// StreamChunk is one element of a process_question_stream sequence. The
// sequence always ends with exactly one chunk where Done is true.
type StreamChunk struct {
	Text       string   `json:"text"`
	Done       bool     `json:"done"`
	ChatID     string   `json:"chat_id,omitempty"`
	TokensUsed int      `json:"tokens_used,omitempty"`
	ToolCalls  []string `json:"tool_calls,omitempty"`
	Error      string   `json:"error,omitempty"`
}

// WorkflowStep records the status of one agent's turn within a workflow run.
type WorkflowStep struct {
	Agent  string `json:"agent"`
	Status string `json:"status"`
}

// WorkflowResponse is the result of a run_workflow call.
type WorkflowResponse struct {
	Workflow  string         `json:"workflow"`
	Message   string         `json:"message"`
	Response  string         `json:"response"`
	Success   bool           `json:"success"`
	Author    string         `json:"author,omitempty"`
	Steps     []WorkflowStep `json:"steps"`
	LatencyMS int64          `json:"latency_ms,omitempty"`
}

// HealthStatus is the overall or per-component health verdict.
type HealthStatus string

const (
	HealthHealthy   HealthStatus = "healthy"
	HealthDegraded  HealthStatus = "degraded"
	HealthUnhealthy HealthStatus = "unhealthy"
)

// ComponentHealth is one subsystem's contribution to a HealthResponse.
type ComponentHealth struct {
	Name      string         `json:"name"`
	Status    HealthStatus   `json:"status"`
	LatencyMS *float64       `json:"latency_ms,omitempty"`
	Message   string         `json:"message,omitempty"`
	Details   map[string]any `json:"details,omitempty"`
}

// HealthResponse is the result of a health check sweep.
type HealthResponse struct {
	Status        HealthStatus       `json:"status"`
	Timestamp     time.Time          `json:"timestamp"`
	Version       string             `json:"version"`
	UptimeSeconds float64            `json:"uptime_seconds"`
	Components    []ComponentHealth  `json:"components"`
}

// Overall folds component statuses into the aggregate status: unhealthy if
// any component is unhealthy, else degraded if any is degraded, else healthy.
func Overall(components []ComponentHealth) HealthStatus {
	status := HealthHealthy
	for _, c := range components {
		switch c.Status {
		case HealthUnhealthy:
			return HealthUnhealthy
		case HealthDegraded:
			status = HealthDegraded
		}
	}
	return status
}

// ChatListItem is one row of a list_chats result.
type ChatListItem struct {
	ChatID        string     `json:"chat_id"`
	Active        bool       `json:"active"`
	CreatedAt     *time.Time `json:"created_at,omitempty"`
	LastAccessed  *time.Time `json:"last_accessed,omitempty"`
	MessageCount  int        `json:"message_count"`
	Persisted     bool       `json:"persisted"`
	Source        string     `json:"source,omitempty"`
	TTLRemaining  *time.Duration `json:"ttl_remaining,omitempty"`
}

// ErrorResponse is the envelope for a request that failed before any partial
// success could be attributed.
type ErrorResponse struct {
	Error     string    `json:"error"`
	ErrorType ErrorKind `json:"error_type"`
	Details   map[string]any `json:"details,omitempty"`
	RequestID string    `json:"request_id,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}
