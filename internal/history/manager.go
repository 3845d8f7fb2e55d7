// Package history implements the Chat History Manager: resolution,
// persistence-with-merge, summarization triggers, and background flush for
// conversation threads.
package history

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/nexuscore/assistant/internal/capability"
	"github.com/nexuscore/assistant/internal/sessions"
	"github.com/nexuscore/assistant/pkg/assistantapi"
)

// Config configures the Chat History Manager.
type Config struct {
	CacheEnabled       bool
	CacheTTL           time.Duration
	CachePrefix        string
	PersistenceEnabled bool
	Schedule           string // "ttl+N" grammar, see ParseSchedule
}

// DefaultConfig returns sensible defaults: 1-hour cache TTL, persistence
// disabled, flush threshold 300s of remaining TTL.
func DefaultConfig() Config {
	return Config{
		CacheEnabled:       true,
		CacheTTL:           time.Hour,
		CachePrefix:        "chat:",
		PersistenceEnabled: false,
		Schedule:           "ttl+300",
	}
}

// Manager is the Chat History Manager.
type Manager struct {
	config     Config
	persistAt  time.Duration
	cache      capability.HotCache
	store      capability.ColdStore
	chatClient capability.ChatClient
	logger     *slog.Logger

	creationLock *sessions.SessionLockManager

	mu       sync.Mutex
	sessions map[string]*assistantapi.ChatSession

	cancelBackground context.CancelFunc
	backgroundDone   chan struct{}
}

// New constructs a Manager. cache/store may be nil to disable that tier.
func New(config Config, cache capability.HotCache, store capability.ColdStore, chatClient capability.ChatClient, logger *slog.Logger) (*Manager, error) {
	persistAt, err := ParseSchedule(config.Schedule)
	if err != nil {
		return nil, err
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Manager{
		config:       config,
		persistAt:    persistAt,
		cache:        cache,
		store:        store,
		chatClient:   chatClient,
		logger:       logger,
		creationLock: sessions.NewSessionLockManager(5 * time.Second),
		sessions:     make(map[string]*assistantapi.ChatSession),
	}, nil
}

func (m *Manager) cacheKey(chatID string) string {
	return m.config.CachePrefix + chatID
}

// GetOrCreateThread resolves chatID through memory, hot cache, and cold
// persistence, in that order, creating a new thread if all three miss.
// When chatID is empty, a new ID is generated. Resolution for a single
// chatID is serialized by a per-chat lock to prevent two concurrent
// requests from creating divergent threads (P1).
func (m *Manager) GetOrCreateThread(ctx context.Context, chatID string) (string, *assistantapi.Thread, error) {
	if chatID == "" {
		chatID = uuid.New().String()
		thread, err := m.chatClient.GetNewThread(ctx)
		if err != nil {
			return "", nil, fmt.Errorf("history: creating new thread: %w", err)
		}
		thread.ChatID = chatID
		thread.CreatedAt = time.Now()
		thread.UpdatedAt = thread.CreatedAt
		m.install(chatID, thread)
		return chatID, thread, nil
	}

	release, err := m.creationLock.Acquire(ctx, chatID, "history-manager", 5*time.Second)
	if err != nil {
		return "", nil, fmt.Errorf("history: acquiring session lock: %w", err)
	}
	defer release()

	m.mu.Lock()
	if session, ok := m.sessions[chatID]; ok {
		session.LastAccessed = time.Now()
		thread := session.Thread
		m.mu.Unlock()
		return chatID, thread, nil
	}
	m.mu.Unlock()

	if m.config.CacheEnabled && m.cache != nil {
		if blob, found, err := m.cache.Get(ctx, m.cacheKey(chatID)); err == nil && found {
			if thread, err := deserializeThread(blob); err == nil {
				m.install(chatID, thread)
				return chatID, thread, nil
			} else {
				m.logger.Warn("history: cache payload failed schema validation, falling through", "chat_id", chatID, "error", err)
			}
		}
	}

	if m.config.PersistenceEnabled && m.store != nil {
		if blob, found, err := m.store.Get(ctx, "threads/"+chatID); err == nil && found {
			if thread, err := deserializeThread(blob); err == nil {
				m.install(chatID, thread)
				if m.cache != nil {
					if encoded, err := m.chatClient.Serialize(thread); err == nil {
						_ = m.cache.Set(ctx, m.cacheKey(chatID), encoded, m.config.CacheTTL)
					}
				}
				return chatID, thread, nil
			} else {
				m.logger.Warn("history: persisted payload failed schema validation, falling through", "chat_id", chatID, "error", err)
			}
		}
	}

	thread, err := m.chatClient.GetNewThread(ctx)
	if err != nil {
		return "", nil, fmt.Errorf("history: creating new thread: %w", err)
	}
	thread.ChatID = chatID
	thread.CreatedAt = time.Now()
	thread.UpdatedAt = thread.CreatedAt
	m.install(chatID, thread)
	return chatID, thread, nil
}

func (m *Manager) install(chatID string, thread *assistantapi.Thread) {
	m.mu.Lock()
	defer m.mu.Unlock()
	now := time.Now()
	session, ok := m.sessions[chatID]
	if !ok {
		session = &assistantapi.ChatSession{ChatID: chatID, CreatedAt: now}
	}
	session.Thread = thread
	session.LastAccessed = now
	session.MessageCount = len(thread.Messages)
	m.sessions[chatID] = session
}

// SaveThread writes the thread back to memory, the hot cache (last-writer-
// wins), and, when forcePersist is true or the cache write failed, to cold
// storage via persist-with-merge. Returns whether a persistence write
// occurred.
func (m *Manager) SaveThread(ctx context.Context, chatID string, thread *assistantapi.Thread, forcePersist bool) (bool, error) {
	thread.UpdatedAt = time.Now()
	m.install(chatID, thread)

	cacheFailed := false
	if m.config.CacheEnabled && m.cache != nil {
		encoded, err := m.chatClient.Serialize(thread)
		if err != nil {
			return false, fmt.Errorf("history: serializing thread: %w", err)
		}
		if err := m.cache.Set(ctx, m.cacheKey(chatID), encoded, m.config.CacheTTL); err != nil {
			cacheFailed = true
			m.logger.Warn("history: cache write failed", "chat_id", chatID, "error", err)
		}
	}

	if !m.config.PersistenceEnabled || m.store == nil {
		return false, nil
	}
	if !forcePersist && !cacheFailed {
		return false, nil
	}

	return true, m.persistWithMerge(ctx, chatID, thread)
}

// persistWithMerge reads any existing persisted blob for chatID, merges it
// with thread by message Seq, and writes the merge back, marking the
// session persisted.
func (m *Manager) persistWithMerge(ctx context.Context, chatID string, thread *assistantapi.Thread) error {
	key := "threads/" + chatID

	merged := thread
	if blob, found, err := m.store.Get(ctx, key); err == nil && found {
		existing, err := deserializeThread(blob)
		if err != nil {
			m.logger.Warn("history: existing persisted thread failed schema validation, overwriting", "chat_id", chatID, "error", err)
		} else {
			result, mergeErr := mergeThreads(existing, thread)
			if mergeErr != nil {
				return fmt.Errorf("history: merging threads: %w", mergeErr)
			}
			merged = result
		}
	}

	encoded, err := m.chatClientSerializeFallback(merged)
	if err != nil {
		return err
	}
	if err := m.store.Save(ctx, key, encoded); err != nil {
		return fmt.Errorf("history: persisting thread: %w", err)
	}

	m.mu.Lock()
	if session, ok := m.sessions[chatID]; ok {
		session.Persisted = true
		session.Thread = merged
	}
	m.mu.Unlock()
	return nil
}

func (m *Manager) chatClientSerializeFallback(thread *assistantapi.Thread) ([]byte, error) {
	encoded, err := m.chatClient.Serialize(thread)
	if err != nil {
		return nil, fmt.Errorf("history: serializing merged thread: %w", err)
	}
	return encoded, nil
}

// DeleteChat removes a chat from memory, the hot cache, and cold storage.
func (m *Manager) DeleteChat(ctx context.Context, chatID string) (bool, error) {
	m.mu.Lock()
	_, existed := m.sessions[chatID]
	delete(m.sessions, chatID)
	m.mu.Unlock()

	if m.cache != nil {
		_ = m.cache.Delete(ctx, m.cacheKey(chatID))
	}
	if m.store != nil {
		_ = m.store.Delete(ctx, "threads/"+chatID)
	}
	return existed, nil
}

// ListChats returns chat metadata from the requested source.
func (m *Manager) ListChats(ctx context.Context, source string, limit int) ([]assistantapi.ChatListItem, error) {
	switch source {
	case "cache", "persistence", "all":
	default:
		return nil, fmt.Errorf("history: unknown chat list source %q", source)
	}

	var items []assistantapi.ChatListItem

	if source == "cache" || source == "all" {
		m.mu.Lock()
		for id, s := range m.sessions {
			createdAt := s.CreatedAt
			lastAccessed := s.LastAccessed
			items = append(items, assistantapi.ChatListItem{
				ChatID:       id,
				Active:       true,
				CreatedAt:    &createdAt,
				LastAccessed: &lastAccessed,
				MessageCount: s.MessageCount,
				Persisted:    s.Persisted,
				Source:       "memory",
			})
		}
		m.mu.Unlock()
	}

	if source == "persistence" || source == "all" {
		if m.store != nil {
			keys, err := m.store.List(ctx, limit)
			if err != nil {
				return nil, fmt.Errorf("history: listing persisted chats: %w", err)
			}
			for _, k := range keys {
				items = append(items, assistantapi.ChatListItem{ChatID: k, Persisted: true, Source: "persistence"})
			}
		}
	}

	if limit > 0 && len(items) > limit {
		items = items[:limit]
	}
	return items, nil
}

// StartBackgroundPersist launches the background flush task: it wakes at
// FlushInterval(persistAt) and, for each in-memory chat whose hot-cache
// TTL has fallen to or below persistAt, calls persist-with-merge. The task
// stops when ctx is cancelled.
func (m *Manager) StartBackgroundPersist(ctx context.Context) {
	if !m.config.PersistenceEnabled || m.store == nil {
		return
	}
	bgCtx, cancel := context.WithCancel(ctx)
	m.cancelBackground = cancel
	m.backgroundDone = make(chan struct{})

	go func() {
		defer close(m.backgroundDone)
		ticker := time.NewTicker(FlushInterval(m.persistAt))
		defer ticker.Stop()
		for {
			select {
			case <-bgCtx.Done():
				return
			case <-ticker.C:
				m.flushDueSessions(bgCtx)
			}
		}
	}()
}

func (m *Manager) flushDueSessions(ctx context.Context) {
	m.mu.Lock()
	due := make([]*assistantapi.ChatSession, 0)
	for _, s := range m.sessions {
		if s.Persisted {
			continue
		}
		due = append(due, s)
	}
	m.mu.Unlock()

	for _, s := range due {
		if m.cache != nil {
			ttl, found, err := m.cache.TTL(ctx, m.cacheKey(s.ChatID))
			if err != nil || !found {
				continue
			}
			if ttl > m.config.CacheTTL-m.persistAt {
				continue
			}
		}
		if err := m.persistWithMerge(ctx, s.ChatID, s.Thread); err != nil {
			m.logger.Warn("history: background flush failed", "chat_id", s.ChatID, "error", err)
		}
	}
}

// Close stops the background task, attempts a best-effort persist-with-
// merge for every unpersisted in-memory session, and clears memory.
func (m *Manager) Close(ctx context.Context) {
	if m.cancelBackground != nil {
		m.cancelBackground()
		<-m.backgroundDone
	}

	if m.config.PersistenceEnabled && m.store != nil {
		m.mu.Lock()
		sessionsCopy := make([]*assistantapi.ChatSession, 0, len(m.sessions))
		for _, s := range m.sessions {
			if !s.Persisted {
				sessionsCopy = append(sessionsCopy, s)
			}
		}
		m.mu.Unlock()

		for _, s := range sessionsCopy {
			if err := m.persistWithMerge(ctx, s.ChatID, s.Thread); err != nil {
				m.logger.Warn("history: close-time persist failed", "chat_id", s.ChatID, "error", err)
			}
		}
	}

	m.mu.Lock()
	m.sessions = make(map[string]*assistantapi.ChatSession)
	m.mu.Unlock()
}
