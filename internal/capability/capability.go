// Package capability defines the small interfaces the orchestration core
// depends on for everything it treats as an external collaborator: the LM
// chat client, the hot cache, the cold object store, and token credentials.
// None of these are implemented here — the core is wired against fakes in
// tests and against real adapters (not in scope of this module) at the
// edges.
package capability

import (
	"context"
	"time"

	"github.com/nexuscore/assistant/pkg/assistantapi"
)

// ChatResult is one piece of output from a chat client turn.
type ChatResult struct {
	Text     string
	ToolCall string
	Author   string
	Done     bool
}

// ChatClient is the capability the core depends on for LM inference. The
// concrete binding (Anthropic, OpenAI-compatible, Bedrock, ...) is supplied
// by the Model Registry & Factory (§4.10).
type ChatClient interface {
	// Run executes a single non-streaming turn and returns the final text.
	Run(ctx context.Context, input string, thread *assistantapi.Thread) (ChatResult, error)

	// RunStream executes a turn and yields incremental chunks on the
	// returned channel. The channel is closed once the turn completes or
	// ctx is cancelled.
	RunStream(ctx context.Context, input string, thread *assistantapi.Thread) (<-chan ChatResult, error)

	// GetNewThread returns a freshly initialized, empty thread.
	GetNewThread(ctx context.Context) (*assistantapi.Thread, error)

	// DeserializeThread turns a persisted blob back into a Thread. It must
	// not panic or silently accept malformed payloads — validation is the
	// caller's responsibility (see history.ValidateThreadPayload).
	DeserializeThread(blob []byte) (*assistantapi.Thread, error)

	// Serialize produces the durable encoding of a thread.
	Serialize(thread *assistantapi.Thread) ([]byte, error)
}

// HotCache is a key-value store with TTL, e.g. Redis. Writes are
// last-writer-wins; the core never relies on cache reads as the source of
// truth across process restarts.
type HotCache interface {
	Get(ctx context.Context, key string) ([]byte, bool, error)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	Delete(ctx context.Context, key string) error
	TTL(ctx context.Context, key string) (time.Duration, bool, error)
	Scan(ctx context.Context, prefix string) ([]string, error)
}

// ColdStore is a durable blob/file key-value store, e.g. an object store
// container. The core merges into it rather than overwriting blindly (see
// internal/history's persist-with-merge).
type ColdStore interface {
	Get(ctx context.Context, key string) ([]byte, bool, error)
	Save(ctx context.Context, key string, value []byte) error
	Delete(ctx context.Context, key string) error
	List(ctx context.Context, limit int) ([]string, error)
}

// TokenCredential acquires bearer credentials for an external service scope.
// Implemented by whatever identity provider backs a given external tool;
// the core's Token Provider (§4.6) wraps this with caching, single-flight,
// and retry.
type TokenCredential interface {
	GetToken(ctx context.Context, scope string) (token string, expiresAt time.Time, err error)
}
