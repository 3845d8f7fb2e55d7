package history

import (
	"context"
	"encoding/json"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/nexuscore/assistant/internal/capability"
	"github.com/nexuscore/assistant/pkg/assistantapi"
)

type fakeChatClient struct {
	newThreadCalls atomic.Int32
}

func (c *fakeChatClient) Run(ctx context.Context, input string, thread *assistantapi.Thread) (capability.ChatResult, error) {
	return capability.ChatResult{Text: "ok", Done: true}, nil
}
func (c *fakeChatClient) RunStream(ctx context.Context, input string, thread *assistantapi.Thread) (<-chan capability.ChatResult, error) {
	ch := make(chan capability.ChatResult)
	close(ch)
	return ch, nil
}
func (c *fakeChatClient) GetNewThread(ctx context.Context) (*assistantapi.Thread, error) {
	c.newThreadCalls.Add(1)
	return &assistantapi.Thread{}, nil
}
func (c *fakeChatClient) DeserializeThread(blob []byte) (*assistantapi.Thread, error) {
	var t assistantapi.Thread
	if err := json.Unmarshal(blob, &t); err != nil {
		return nil, err
	}
	return &t, nil
}
func (c *fakeChatClient) Serialize(thread *assistantapi.Thread) ([]byte, error) {
	return json.Marshal(thread)
}

type fakeCache struct {
	mu  sync.Mutex
	kv  map[string][]byte
	ttl map[string]time.Time
}

func newFakeCache() *fakeCache {
	return &fakeCache{kv: map[string][]byte{}, ttl: map[string]time.Time{}}
}
func (c *fakeCache) Get(ctx context.Context, key string) ([]byte, bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	v, ok := c.kv[key]
	return v, ok, nil
}
func (c *fakeCache) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.kv[key] = value
	c.ttl[key] = time.Now().Add(ttl)
	return nil
}
func (c *fakeCache) Delete(ctx context.Context, key string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.kv, key)
	delete(c.ttl, key)
	return nil
}
func (c *fakeCache) TTL(ctx context.Context, key string) (time.Duration, bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	exp, ok := c.ttl[key]
	if !ok {
		return 0, false, nil
	}
	return time.Until(exp), true, nil
}
func (c *fakeCache) Scan(ctx context.Context, prefix string) ([]string, error) { return nil, nil }

type fakeStore struct {
	mu sync.Mutex
	kv map[string][]byte
}

func newFakeStore() *fakeStore { return &fakeStore{kv: map[string][]byte{}} }
func (s *fakeStore) Get(ctx context.Context, key string) ([]byte, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	v, ok := s.kv[key]
	return v, ok, nil
}
func (s *fakeStore) Save(ctx context.Context, key string, value []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.kv[key] = value
	return nil
}
func (s *fakeStore) Delete(ctx context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.kv, key)
	return nil
}
func (s *fakeStore) List(ctx context.Context, limit int) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, 0, len(s.kv))
	for k := range s.kv {
		out = append(out, k)
	}
	return out, nil
}

func newTestManager(t *testing.T, cfg Config) (*Manager, *fakeChatClient, *fakeCache, *fakeStore) {
	t.Helper()
	chatClient := &fakeChatClient{}
	cache := newFakeCache()
	store := newFakeStore()
	m, err := New(cfg, cache, store, chatClient, nil)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return m, chatClient, cache, store
}

func TestGetOrCreateThread_NewChatGeneratesID(t *testing.T) {
	m, chatClient, _, _ := newTestManager(t, DefaultConfig())
	chatID, thread, err := m.GetOrCreateThread(context.Background(), "")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if chatID == "" {
		t.Fatal("expected non-empty chat id")
	}
	if thread.ChatID != chatID {
		t.Errorf("thread.ChatID = %q, want %q", thread.ChatID, chatID)
	}
	if chatClient.newThreadCalls.Load() != 1 {
		t.Errorf("expected exactly 1 new-thread call, got %d", chatClient.newThreadCalls.Load())
	}
}

func TestGetOrCreateThread_MemoryHit(t *testing.T) {
	m, chatClient, _, _ := newTestManager(t, DefaultConfig())
	id, _, _ := m.GetOrCreateThread(context.Background(), "c1")
	_, _, err := m.GetOrCreateThread(context.Background(), id)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if chatClient.newThreadCalls.Load() != 1 {
		t.Errorf("expected memory hit to avoid a second new-thread call, got %d calls", chatClient.newThreadCalls.Load())
	}
}

func TestGetOrCreateThread_CacheHit(t *testing.T) {
	cfg := DefaultConfig()
	m, chatClient, cache, _ := newTestManager(t, cfg)

	blob, _ := json.Marshal(&assistantapi.Thread{ChatID: "c1", Messages: []assistantapi.Message{{Role: assistantapi.RoleUser, Content: "hi", Seq: 1}}})
	cache.kv[cfg.CachePrefix+"c1"] = blob

	chatID, thread, err := m.GetOrCreateThread(context.Background(), "c1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if chatID != "c1" || len(thread.Messages) != 1 {
		t.Errorf("expected cache-hit thread, got %+v", thread)
	}
	if chatClient.newThreadCalls.Load() != 0 {
		t.Error("cache hit should not call GetNewThread")
	}
}

func TestGetOrCreateThread_ColdStoreHitWarmsCache(t *testing.T) {
	cfg := DefaultConfig()
	cfg.PersistenceEnabled = true
	m, _, cache, store := newTestManager(t, cfg)

	blob, _ := json.Marshal(&assistantapi.Thread{ChatID: "c1", Messages: []assistantapi.Message{{Role: assistantapi.RoleUser, Content: "hi", Seq: 1}}})
	store.kv["threads/c1"] = blob

	chatID, thread, err := m.GetOrCreateThread(context.Background(), "c1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if chatID != "c1" || len(thread.Messages) != 1 {
		t.Errorf("expected cold-store-hit thread, got %+v", thread)
	}
	if _, ok := cache.kv[cfg.CachePrefix+"c1"]; !ok {
		t.Error("expected cold-store hit to warm the cache")
	}
}

func TestGetOrCreateThread_InvalidRoleFallsThroughToNewThread(t *testing.T) {
	cfg := DefaultConfig()
	m, chatClient, cache, _ := newTestManager(t, cfg)

	cache.kv[cfg.CachePrefix+"c1"] = []byte(`{"chat_id":"c1","messages":[{"role":"villain","content":"hi"}]}`)

	chatID, thread, err := m.GetOrCreateThread(context.Background(), "c1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if chatID != "c1" {
		t.Errorf("chat id = %q, want c1", chatID)
	}
	if len(thread.Messages) != 0 {
		t.Error("expected a fresh thread, not the invalid cached payload")
	}
	if chatClient.newThreadCalls.Load() != 1 {
		t.Error("expected schema validation failure to fall through to a new thread")
	}
}

func TestSaveThread_ForcePersistWritesColdStore(t *testing.T) {
	cfg := DefaultConfig()
	cfg.PersistenceEnabled = true
	m, _, _, store := newTestManager(t, cfg)

	thread := &assistantapi.Thread{ChatID: "c1", Messages: []assistantapi.Message{{Role: assistantapi.RoleUser, Content: "hi", Seq: 1}}}
	persisted, err := m.SaveThread(context.Background(), "c1", thread, true)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !persisted {
		t.Error("expected forcePersist to persist")
	}
	if _, ok := store.kv["threads/c1"]; !ok {
		t.Error("expected a persisted blob")
	}
}

func TestSaveThread_MergePreservesCreatedAtUsesNewerUpdatedAt(t *testing.T) {
	cfg := DefaultConfig()
	cfg.PersistenceEnabled = true
	m, _, _, _ := newTestManager(t, cfg)

	older := time.Now().Add(-time.Hour)
	first := &assistantapi.Thread{
		ChatID: "c1", CreatedAt: older, UpdatedAt: older,
		Messages: []assistantapi.Message{{Role: assistantapi.RoleUser, Content: "hi", Seq: 1}},
	}
	if _, err := m.SaveThread(context.Background(), "c1", first, true); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	newer := time.Now()
	second := &assistantapi.Thread{
		ChatID: "c1", CreatedAt: newer, UpdatedAt: newer,
		Messages: []assistantapi.Message{
			{Role: assistantapi.RoleUser, Content: "hi", Seq: 1},
			{Role: assistantapi.RoleAssistant, Content: "hello", Seq: 2},
		},
	}
	if _, err := m.SaveThread(context.Background(), "c1", second, true); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	blob, found, err := m.store.Get(context.Background(), "threads/c1")
	if err != nil || !found {
		t.Fatalf("expected persisted blob: found=%v err=%v", found, err)
	}
	var merged assistantapi.Thread
	if err := json.Unmarshal(blob, &merged); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if !merged.CreatedAt.Equal(older) {
		t.Errorf("expected CreatedAt preserved as the older value, got %s vs %s", merged.CreatedAt, older)
	}
	if len(merged.Messages) != 2 {
		t.Errorf("expected 2 merged messages, got %d", len(merged.Messages))
	}
	if merged.MergeCount != 1 {
		t.Errorf("expected merge_count 1, got %d", merged.MergeCount)
	}
}

func TestSaveThread_SelfMergeIsIdempotentContentWithSingleMergeCountDelta(t *testing.T) {
	cfg := DefaultConfig()
	cfg.PersistenceEnabled = true
	m, _, _, _ := newTestManager(t, cfg)

	thread := &assistantapi.Thread{
		ChatID:   "c1",
		Messages: []assistantapi.Message{{Role: assistantapi.RoleUser, Content: "hi", Seq: 1}},
	}
	m.SaveThread(context.Background(), "c1", thread, true)
	m.SaveThread(context.Background(), "c1", thread, true)

	blob, _, _ := m.store.Get(context.Background(), "threads/c1")
	var merged assistantapi.Thread
	json.Unmarshal(blob, &merged)
	if len(merged.Messages) != 1 {
		t.Errorf("expected self-merge to not duplicate messages, got %d", len(merged.Messages))
	}
	if merged.MergeCount != 2 {
		t.Errorf("expected merge_count to increase by 1 each save (2 saves => 2), got %d", merged.MergeCount)
	}
}

func TestSaveThread_UnorderedSequenceFailsMerge(t *testing.T) {
	cfg := DefaultConfig()
	cfg.PersistenceEnabled = true
	m, _, _, store := newTestManager(t, cfg)

	existing := &assistantapi.Thread{
		ChatID:   "c1",
		Messages: []assistantapi.Message{{Role: assistantapi.RoleUser, Content: "a", Seq: 5}, {Role: assistantapi.RoleUser, Content: "b", Seq: 2}},
	}
	blob, _ := json.Marshal(existing)
	store.kv["threads/c1"] = blob

	incoming := &assistantapi.Thread{ChatID: "c1", Messages: []assistantapi.Message{{Role: assistantapi.RoleUser, Content: "c", Seq: 6}}}
	_, err := m.SaveThread(context.Background(), "c1", incoming, true)
	if err == nil {
		t.Fatal("expected merge to fail on unordered sequence")
	}
}

func TestDeleteChat_RemovesFromAllTiers(t *testing.T) {
	cfg := DefaultConfig()
	cfg.PersistenceEnabled = true
	m, _, cache, store := newTestManager(t, cfg)

	m.GetOrCreateThread(context.Background(), "c1")
	m.SaveThread(context.Background(), "c1", &assistantapi.Thread{ChatID: "c1"}, true)

	existed, err := m.DeleteChat(context.Background(), "c1")
	if err != nil || !existed {
		t.Fatalf("existed=%v err=%v", existed, err)
	}
	if _, ok := cache.kv[cfg.CachePrefix+"c1"]; ok {
		t.Error("expected cache entry removed")
	}
	if _, ok := store.kv["threads/c1"]; ok {
		t.Error("expected persisted entry removed")
	}
}

func TestListChats_InvalidSourceErrors(t *testing.T) {
	m, _, _, _ := newTestManager(t, DefaultConfig())
	_, err := m.ListChats(context.Background(), "bogus", 0)
	if err == nil {
		t.Fatal("expected error for unknown source")
	}
}

func TestListChats_Memory(t *testing.T) {
	m, _, _, _ := newTestManager(t, DefaultConfig())
	m.GetOrCreateThread(context.Background(), "c1")
	m.GetOrCreateThread(context.Background(), "c2")

	items, err := m.ListChats(context.Background(), "cache", 0)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(items) != 2 {
		t.Errorf("expected 2 items, got %d", len(items))
	}
}

func TestClose_PersistsUnpersistedSessions(t *testing.T) {
	cfg := DefaultConfig()
	cfg.PersistenceEnabled = true
	m, _, _, store := newTestManager(t, cfg)

	m.GetOrCreateThread(context.Background(), "c1")
	m.Close(context.Background())

	if _, ok := store.kv["threads/c1"]; !ok {
		t.Error("expected Close to persist unpersisted in-memory sessions")
	}
}

func TestParseSchedule_TTLPlusN(t *testing.T) {
	d, err := ParseSchedule("ttl + 300")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if d != 300*time.Second {
		t.Errorf("expected 300s, got %s", d)
	}
}

func TestParseSchedule_UnsupportedGrammarErrors(t *testing.T) {
	_, err := ParseSchedule("cron(* * * * *)")
	if err == nil {
		t.Fatal("expected error for unsupported schedule grammar")
	}
}

func TestFlushInterval_CapsAt60Seconds(t *testing.T) {
	d := FlushInterval(1000 * time.Second)
	if d != 60*time.Second {
		t.Errorf("expected 60s cap, got %s", d)
	}
}

func TestFlushInterval_QuarterOfPersistAt(t *testing.T) {
	d := FlushInterval(40 * time.Second)
	if d != 10*time.Second {
		t.Errorf("expected 10s, got %s", d)
	}
}
