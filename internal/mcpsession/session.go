// Package mcpsession maintains per-conversation state for stateful external
// tools (e.g. an ERP system's multi-step form interactions) across tool
// invocations and across process restarts, via a three-tier resolution
// chain: process memory, hot cache, cold persistence.
package mcpsession

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/nexuscore/assistant/internal/capability"
)

// Config configures the session manager.
type Config struct {
	Enabled          bool          `yaml:"enabled"`
	SessionTTL       time.Duration `yaml:"session_ttl"`
	PersistSessions  bool          `yaml:"persist_sessions"`
	CachePrefix      string        `yaml:"cache_prefix"`
}

// DefaultConfig returns the default session manager configuration.
func DefaultConfig() Config {
	return Config{
		Enabled:         false,
		SessionTTL:      time.Hour,
		PersistSessions: true,
		CachePrefix:     "mcp_session:",
	}
}

// State is the state of a stateful-tool session bound to a chat and an
// external server.
type State struct {
	SessionID    string                    `json:"session_id"`
	ChatID       string                    `json:"chat_id"`
	ServerName   string                    `json:"mcp_server_name"`
	UserID       string                    `json:"user_id,omitempty"`
	FormContext  map[string]any            `json:"form_context"`
	CreatedAt    time.Time                 `json:"created_at"`
	LastAccessed time.Time                 `json:"last_accessed"`
	Metadata     map[string]any            `json:"metadata"`
}

func (s *State) clone() *State {
	clone := *s
	clone.FormContext = deepCloneMap(s.FormContext)
	clone.Metadata = deepCloneMap(s.Metadata)
	return &clone
}

func deepCloneMap(m map[string]any) map[string]any {
	if m == nil {
		return map[string]any{}
	}
	out := make(map[string]any, len(m))
	for k, v := range m {
		if nested, ok := v.(map[string]any); ok {
			out[k] = deepCloneMap(nested)
		} else {
			out[k] = v
		}
	}
	return out
}

// Manager manages stateful sessions for external tools, backed by an
// in-process map with optional hot-cache and cold-persistence tiers.
type Manager struct {
	mu     sync.Mutex
	config Config
	cache  capability.HotCache
	store  capability.ColdStore

	sessions map[string]*State // keyed by cacheKey(chatID, server)
}

// New constructs a Manager. cache and store may be nil, disabling those
// tiers; when both are nil the manager is purely in-process.
func New(config Config, cache capability.HotCache, store capability.ColdStore) *Manager {
	return &Manager{
		config:   config,
		cache:    cache,
		store:    store,
		sessions: make(map[string]*State),
	}
}

func (m *Manager) cacheKey(chatID, server string) string {
	return m.config.CachePrefix + chatID + ":" + server
}

// GetOrCreate resolves a session through memory, hot cache, and cold
// persistence in order, creating a new one if all three miss.
func (m *Manager) GetOrCreate(ctx context.Context, chatID, server, userID string) (*State, error) {
	key := m.cacheKey(chatID, server)

	m.mu.Lock()
	if s, ok := m.sessions[key]; ok {
		s.LastAccessed = time.Now()
		clone := s.clone()
		m.mu.Unlock()
		return clone, nil
	}
	m.mu.Unlock()

	if m.cache != nil {
		if blob, found, err := m.cache.Get(ctx, key); err == nil && found {
			if s, err := decodeState(blob); err == nil {
				s.LastAccessed = time.Now()
				m.installLocked(key, s)
				return s.clone(), nil
			}
		}
	}

	if m.config.PersistSessions && m.store != nil {
		if blob, found, err := m.store.Get(ctx, key); err == nil && found {
			if s, err := decodeState(blob); err == nil {
				s.LastAccessed = time.Now()
				m.installLocked(key, s)
				if m.cache != nil {
					if encoded, err := json.Marshal(s); err == nil {
						_ = m.cache.Set(ctx, key, encoded, m.config.SessionTTL)
					}
				}
				return s.clone(), nil
			}
		}
	}

	now := time.Now()
	s := &State{
		SessionID:    uuid.New().String(),
		ChatID:       chatID,
		ServerName:   server,
		UserID:       userID,
		FormContext:  map[string]any{},
		Metadata:     map[string]any{},
		CreatedAt:    now,
		LastAccessed: now,
	}

	if err := m.Save(ctx, s, m.config.PersistSessions); err != nil {
		return nil, fmt.Errorf("mcpsession: saving new session: %w", err)
	}
	return s.clone(), nil
}

func (m *Manager) installLocked(key string, s *State) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sessions[key] = s
}

func decodeState(blob []byte) (*State, error) {
	var s State
	if err := json.Unmarshal(blob, &s); err != nil {
		return nil, err
	}
	if s.FormContext == nil {
		s.FormContext = map[string]any{}
	}
	if s.Metadata == nil {
		s.Metadata = map[string]any{}
	}
	return &s, nil
}

// Save writes session state to memory, the hot cache, and (if persist is
// true) cold storage. Cache/persistence failures are logged-and-continued
// by the caller's choice of collaborator; Save itself surfaces them only
// if both memory install and cache/store calls fail to produce any
// durable copy, which cannot happen for the in-memory tier.
func (m *Manager) Save(ctx context.Context, s *State, persist bool) error {
	key := m.cacheKey(s.ChatID, s.ServerName)
	s.LastAccessed = time.Now()

	m.installLocked(key, s)

	encoded, err := json.Marshal(s)
	if err != nil {
		return fmt.Errorf("mcpsession: encoding session: %w", err)
	}

	if m.cache != nil {
		_ = m.cache.Set(ctx, key, encoded, m.config.SessionTTL)
	}
	if persist && m.store != nil {
		_ = m.store.Save(ctx, key, encoded)
	}
	return nil
}

// Get looks up a session by its session_id among in-process sessions only,
// matching the reference manager's memory-first lookup; callers that know
// the chat_id/server pair should prefer GetOrCreate.
func (m *Manager) Get(sessionID string) (*State, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, s := range m.sessions {
		if s.SessionID == sessionID {
			return s.clone(), true
		}
	}
	return nil, false
}

func (m *Manager) findLocked(sessionID string) *State {
	for _, s := range m.sessions {
		if s.SessionID == sessionID {
			return s
		}
	}
	return nil
}

// UpdateFormContext deep-merges field_data into the named form, records
// _active_form and _last_update, and writes through both tiers.
func (m *Manager) UpdateFormContext(ctx context.Context, sessionID, formName string, fields map[string]any) (bool, error) {
	m.mu.Lock()
	s := m.findLocked(sessionID)
	m.mu.Unlock()
	if s == nil {
		return false, nil
	}

	m.mu.Lock()
	form, ok := s.FormContext[formName].(map[string]any)
	if !ok {
		form = map[string]any{}
	}
	for k, v := range fields {
		form[k] = v
	}
	s.FormContext[formName] = form
	s.FormContext["_active_form"] = formName
	s.FormContext["_last_update"] = time.Now().UTC().Format(time.RFC3339)
	m.mu.Unlock()

	if err := m.Save(ctx, s, m.config.PersistSessions); err != nil {
		return false, err
	}
	return true, nil
}

// ClearFormContext clears a single form (and _active_form if it pointed to
// it) or, when formName is empty, every form.
func (m *Manager) ClearFormContext(ctx context.Context, sessionID, formName string) (bool, error) {
	m.mu.Lock()
	s := m.findLocked(sessionID)
	m.mu.Unlock()
	if s == nil {
		return false, nil
	}

	m.mu.Lock()
	if formName != "" {
		delete(s.FormContext, formName)
		if active, ok := s.FormContext["_active_form"].(string); ok && active == formName {
			delete(s.FormContext, "_active_form")
		}
	} else {
		s.FormContext = map[string]any{}
	}
	m.mu.Unlock()

	if err := m.Save(ctx, s, m.config.PersistSessions); err != nil {
		return false, err
	}
	return true, nil
}

// Kwargs is the set of fields merged into tool calls that declare
// themselves stateful.
type Kwargs struct {
	SessionID   string         `json:"session_id"`
	UserID      string         `json:"user_id,omitempty"`
	FormContext map[string]any `json:"form_context"`
	ChatID      string         `json:"chat_id"`
}

// BuildKwargs builds the kwargs bundle merged into a stateful tool call.
func BuildKwargs(s *State) Kwargs {
	return Kwargs{
		SessionID:   s.SessionID,
		UserID:      s.UserID,
		FormContext: s.FormContext,
		ChatID:      s.ChatID,
	}
}

// Delete removes a session from all storage tiers.
func (m *Manager) Delete(ctx context.Context, chatID, server string) error {
	key := m.cacheKey(chatID, server)

	m.mu.Lock()
	delete(m.sessions, key)
	m.mu.Unlock()

	if m.cache != nil {
		_ = m.cache.Delete(ctx, key)
	}
	if m.store != nil {
		_ = m.store.Delete(ctx, key)
	}
	return nil
}

// List returns in-memory sessions, optionally filtered by chat ID.
func (m *Manager) List(chatID string) []*State {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]*State, 0, len(m.sessions))
	for _, s := range m.sessions {
		if chatID != "" && s.ChatID != chatID {
			continue
		}
		out = append(out, s.clone())
	}
	return out
}

// Close persists every in-memory session best-effort, isolating per-session
// failures, then clears memory.
func (m *Manager) Close(ctx context.Context) {
	m.mu.Lock()
	sessions := make([]*State, 0, len(m.sessions))
	for _, s := range m.sessions {
		sessions = append(sessions, s)
	}
	m.sessions = make(map[string]*State)
	m.mu.Unlock()

	for _, s := range sessions {
		_ = m.Save(ctx, s, m.config.PersistSessions)
	}
}
