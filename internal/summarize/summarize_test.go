package summarize

import (
	"context"
	"errors"
	"testing"

	"github.com/nexuscore/assistant/internal/capability"
	"github.com/nexuscore/assistant/pkg/assistantapi"
)

type stubChatClient struct {
	runText string
	runErr  error
	newErr  error
}

func (s *stubChatClient) Run(ctx context.Context, input string, thread *assistantapi.Thread) (capability.ChatResult, error) {
	if s.runErr != nil {
		return capability.ChatResult{}, s.runErr
	}
	return capability.ChatResult{Text: s.runText, Done: true}, nil
}
func (s *stubChatClient) RunStream(ctx context.Context, input string, thread *assistantapi.Thread) (<-chan capability.ChatResult, error) {
	ch := make(chan capability.ChatResult)
	close(ch)
	return ch, nil
}
func (s *stubChatClient) GetNewThread(ctx context.Context) (*assistantapi.Thread, error) {
	if s.newErr != nil {
		return nil, s.newErr
	}
	return &assistantapi.Thread{}, nil
}
func (s *stubChatClient) DeserializeThread(blob []byte) (*assistantapi.Thread, error) { return nil, nil }
func (s *stubChatClient) Serialize(thread *assistantapi.Thread) ([]byte, error)       { return nil, nil }

func messages(n int) []assistantapi.Message {
	out := make([]assistantapi.Message, n)
	for i := range out {
		out[i] = assistantapi.Message{Role: assistantapi.RoleUser, Content: "hello there", Seq: int64(i + 1)}
	}
	return out
}

func TestEstimateTokens_CharBased(t *testing.T) {
	msgs := []assistantapi.Message{{Role: assistantapi.RoleUser, Content: "abcdefgh"}} // 8 chars + 20 overhead = 28/4 = 7
	got := EstimateTokens(msgs)
	if got != 7 {
		t.Errorf("EstimateTokens = %d, want 7", got)
	}
}

func TestEstimateTokens_FlattensContentBlocks(t *testing.T) {
	msgs := []assistantapi.Message{{
		Role: assistantapi.RoleAssistant,
		ContentBlocks: []assistantapi.ContentBlock{
			{Type: "text", Text: "abcd"},
			{Type: "text", Text: "efgh"},
		},
	}}
	got := EstimateTokens(msgs)
	want := (8 + 20) / 4
	if got != want {
		t.Errorf("EstimateTokens = %d, want %d", got, want)
	}
}

func TestShouldSummarize_DisabledReturnsFalse(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Enabled = false
	s := New(cfg, &stubChatClient{})
	thread := &assistantapi.Thread{Messages: messages(1000)}
	if s.ShouldSummarize(thread) {
		t.Error("expected disabled summarizer to never trigger")
	}
}

func TestShouldSummarize_UnderBudgetReturnsFalse(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Enabled = true
	cfg.MaxTokens = 1_000_000
	s := New(cfg, &stubChatClient{})
	thread := &assistantapi.Thread{Messages: messages(5)}
	if s.ShouldSummarize(thread) {
		t.Error("expected under-budget thread to not trigger summarization")
	}
}

func TestShouldSummarize_OverBudgetReturnsTrue(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Enabled = true
	cfg.MaxTokens = 1
	s := New(cfg, &stubChatClient{})
	thread := &assistantapi.Thread{Messages: messages(50)}
	if !s.ShouldSummarize(thread) {
		t.Error("expected over-budget thread to trigger summarization")
	}
}

func TestSummarize_ReplacesOldWithSyntheticSystemMessage(t *testing.T) {
	cfg := DefaultConfig()
	cfg.RecentToKeep = 2
	s := New(cfg, &stubChatClient{runText: "a concise summary"})

	thread := &assistantapi.Thread{Messages: messages(10)}
	ok := s.Summarize(context.Background(), thread)
	if !ok {
		t.Fatal("expected Summarize to succeed")
	}
	if len(thread.Messages) != 3 { // 1 synthetic + 2 recent
		t.Fatalf("expected 3 messages after summarize, got %d", len(thread.Messages))
	}
	if thread.Messages[0].Role != assistantapi.RoleSystem {
		t.Errorf("expected first message to be a system summary, got role %q", thread.Messages[0].Role)
	}
	if thread.SummaryCount != 1 {
		t.Errorf("expected summary_count 1, got %d", thread.SummaryCount)
	}
}

func TestSummarize_RecentToKeepExceedsLengthReturnsFalse(t *testing.T) {
	cfg := DefaultConfig()
	cfg.RecentToKeep = 100
	s := New(cfg, &stubChatClient{runText: "summary"})
	thread := &assistantapi.Thread{Messages: messages(5)}
	original := thread.Messages

	ok := s.Summarize(context.Background(), thread)
	if ok {
		t.Error("expected Summarize to fail when RecentToKeep >= message count")
	}
	if len(thread.Messages) != len(original) {
		t.Error("expected thread to be left untouched on failure")
	}
}

func TestSummarize_ChatClientFailurePreservesOriginalThread(t *testing.T) {
	cfg := DefaultConfig()
	cfg.RecentToKeep = 2
	s := New(cfg, &stubChatClient{runErr: errors.New("boom")})

	thread := &assistantapi.Thread{Messages: messages(10)}
	originalLen := len(thread.Messages)

	ok := s.Summarize(context.Background(), thread)
	if ok {
		t.Error("expected Summarize to return false on chat client failure")
	}
	if len(thread.Messages) != originalLen {
		t.Error("expected thread to be unmutated after a failed summarize")
	}
	if thread.SummaryCount != 0 {
		t.Error("expected summary_count to remain 0 on failure")
	}
}

func TestSummarize_NewThreadFailurePreservesOriginal(t *testing.T) {
	cfg := DefaultConfig()
	cfg.RecentToKeep = 2
	s := New(cfg, &stubChatClient{newErr: errors.New("no scratch thread")})

	thread := &assistantapi.Thread{Messages: messages(10)}
	originalLen := len(thread.Messages)

	ok := s.Summarize(context.Background(), thread)
	if ok {
		t.Error("expected Summarize to return false when a scratch thread cannot be created")
	}
	if len(thread.Messages) != originalLen {
		t.Error("expected thread to be unmutated")
	}
}

func TestSummarize_EmptySummaryTextFails(t *testing.T) {
	cfg := DefaultConfig()
	cfg.RecentToKeep = 2
	s := New(cfg, &stubChatClient{runText: "   "})

	thread := &assistantapi.Thread{Messages: messages(10)}
	ok := s.Summarize(context.Background(), thread)
	if ok {
		t.Error("expected blank summary text to be treated as failure")
	}
}
