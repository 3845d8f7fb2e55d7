// Package summarize implements the Summarizer: character-based token
// estimation and old/recent-split compaction of long chat threads,
// specialized from a keep-last-N/summarize strategy to the spec's
// synthetic-system-message replacement shape.
package summarize

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/nexuscore/assistant/internal/capability"
	"github.com/nexuscore/assistant/pkg/assistantapi"
)

// Config configures the Summarizer.
type Config struct {
	Enabled          bool
	MaxTokens        int // trigger threshold
	RecentToKeep     int // messages kept verbatim
	TargetSummaryTokens int
	TruncatePrefixChars int // per-message bound before inclusion in the summary prompt
}

// DefaultConfig mirrors the teacher's DefaultCompactionConfig defaults,
// adjusted to the spec's token budget.
func DefaultConfig() Config {
	return Config{
		Enabled:             false,
		MaxTokens:           8000,
		RecentToKeep:        10,
		TargetSummaryTokens: 500,
		TruncatePrefixChars: 2000,
	}
}

const summaryPromptTemplate = `Summarize the following conversation concisely in under %d tokens. Preserve:
- Topics discussed
- Decisions made
- Action items
- Context needed to continue the conversation

Conversation:
%s

Summary:`

// Summarizer implements token estimation and thread compaction.
type Summarizer struct {
	config     Config
	chatClient capability.ChatClient
}

// New constructs a Summarizer.
func New(config Config, chatClient capability.ChatClient) *Summarizer {
	return &Summarizer{config: config, chatClient: chatClient}
}

// EstimateTokens approximates a thread's token count as total_chars / 4,
// where content-block lists are flattened to the concatenation of their
// text blocks.
func EstimateTokens(messages []assistantapi.Message) int {
	totalChars := 0
	for _, m := range messages {
		totalChars += len(flattenContent(m))
		totalChars += 20 // role/metadata overhead, matches the teacher's estimator
	}
	return totalChars / 4
}

func flattenContent(m assistantapi.Message) string {
	if m.Content != "" {
		return m.Content
	}
	if len(m.ContentBlocks) == 0 {
		return ""
	}
	var b strings.Builder
	for _, block := range m.ContentBlocks {
		b.WriteString(block.Text)
	}
	return b.String()
}

// ShouldSummarize reports whether thread exceeds the configured token
// budget and summarization is enabled.
func (s *Summarizer) ShouldSummarize(thread *assistantapi.Thread) bool {
	if !s.config.Enabled || thread == nil {
		return false
	}
	return EstimateTokens(thread.Messages) > s.config.MaxTokens
}

// Summarize replaces thread's old messages with a synthetic system-message
// summary, keeping the most recent RecentToKeep messages verbatim. On any
// step failure the thread is left completely untouched and false is
// returned — callers must not treat a partially built summary as success.
func (s *Summarizer) Summarize(ctx context.Context, thread *assistantapi.Thread) bool {
	if thread == nil || len(thread.Messages) == 0 {
		return false
	}

	keep := s.config.RecentToKeep
	if keep < 0 {
		keep = 0
	}
	if keep >= len(thread.Messages) {
		return false
	}

	old := thread.Messages[:len(thread.Messages)-keep]
	recent := thread.Messages[len(thread.Messages)-keep:]
	if len(old) == 0 {
		return false
	}

	summary, err := s.summarizeOld(ctx, old)
	if err != nil || summary == "" {
		return false
	}

	synthetic := assistantapi.Message{
		Role:      assistantapi.RoleSystem,
		Content:   fmt.Sprintf("[Conversation summary]\n%s", summary),
		Timestamp: time.Now(),
	}
	if len(old) > 0 {
		synthetic.Seq = old[len(old)-1].Seq
	}

	newMessages := make([]assistantapi.Message, 0, 1+len(recent))
	newMessages = append(newMessages, synthetic)
	newMessages = append(newMessages, recent...)

	thread.Messages = newMessages
	thread.MessageCount = len(newMessages)
	thread.SummaryCount++
	thread.UpdatedAt = time.Now()
	return true
}

// summarizeOld asks the chat-client capability, on a fresh thread, for a
// concise summary of the old messages under the configured token budget.
func (s *Summarizer) summarizeOld(ctx context.Context, old []assistantapi.Message) (string, error) {
	fresh, err := s.chatClient.GetNewThread(ctx)
	if err != nil {
		return "", fmt.Errorf("summarize: creating scratch thread: %w", err)
	}

	prompt := fmt.Sprintf(summaryPromptTemplate, s.config.TargetSummaryTokens, s.renderOld(old))
	result, err := s.chatClient.Run(ctx, prompt, fresh)
	if err != nil {
		return "", fmt.Errorf("summarize: generating summary: %w", err)
	}
	return strings.TrimSpace(result.Text), nil
}

func (s *Summarizer) renderOld(old []assistantapi.Message) string {
	var b strings.Builder
	for _, m := range old {
		text := flattenContent(m)
		if s.config.TruncatePrefixChars > 0 && len(text) > s.config.TruncatePrefixChars {
			text = text[:s.config.TruncatePrefixChars]
		}
		fmt.Fprintf(&b, "%s: %s\n", m.Role, text)
	}
	return b.String()
}
