package history

import (
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/nexuscore/assistant/pkg/assistantapi"
)

// ErrUnorderedSequence is returned when a thread's messages do not carry
// strictly increasing Seq values, which the merge-by-sequence strategy
// requires (spec.md §9 open question 2).
var ErrUnorderedSequence = errors.New("history: thread messages do not have strictly increasing sequence numbers")

var allowedRoles = map[string]bool{
	string(assistantapi.RoleSystem):    true,
	string(assistantapi.RoleUser):      true,
	string(assistantapi.RoleAssistant): true,
	string(assistantapi.RoleTool):      true,
	string(assistantapi.RoleFunction):  true,
}

// validateThreadSchema checks a raw JSON payload against the thread
// schema before any deserialization is attempted: messages must be a
// list of objects with an allowed role and content that is a string,
// a list, or absent/null; any top-level metadata field prefixed with
// "_" must be a string. Returns a non-nil error for any violation, in
// which case the caller must not deserialize the payload.
func validateThreadSchema(blob []byte) error {
	var raw map[string]any
	if err := json.Unmarshal(blob, &raw); err != nil {
		return fmt.Errorf("history: invalid JSON: %w", err)
	}

	messagesVal, ok := raw["messages"]
	if ok && messagesVal != nil {
		messages, ok := messagesVal.([]any)
		if !ok {
			return fmt.Errorf("history: messages must be a list")
		}
		for i, m := range messages {
			msg, ok := m.(map[string]any)
			if !ok {
				return fmt.Errorf("history: message %d is not an object", i)
			}
			role, _ := msg["role"].(string)
			if !allowedRoles[role] {
				return fmt.Errorf("history: message %d has disallowed role %q", i, role)
			}
			if content, exists := msg["content"]; exists && content != nil {
				switch content.(type) {
				case string, []any:
				default:
					return fmt.Errorf("history: message %d has disallowed content type", i)
				}
			}
		}
	}

	for k, v := range raw {
		if !strings.HasPrefix(k, "_") {
			continue
		}
		if _, ok := v.(string); !ok {
			return fmt.Errorf("history: metadata field %q must be a string", k)
		}
	}

	return nil
}

// deserializeThread validates blob against the thread schema and, only if
// it passes, unmarshals it into a Thread.
func deserializeThread(blob []byte) (*assistantapi.Thread, error) {
	if err := validateThreadSchema(blob); err != nil {
		return nil, err
	}
	var t assistantapi.Thread
	if err := json.Unmarshal(blob, &t); err != nil {
		return nil, err
	}
	return &t, nil
}

func requireMonotonicSeq(messages []assistantapi.Message) error {
	var last int64 = -1
	hasAny := false
	for _, m := range messages {
		if m.Seq == 0 && !hasAny {
			// Seq is optional on a brand-new thread with no prior
			// persistence history; only enforce monotonicity once any
			// non-zero Seq appears.
			continue
		}
		hasAny = true
		if m.Seq <= last {
			return ErrUnorderedSequence
		}
		last = m.Seq
	}
	return nil
}

// mergeThreads merges an existing persisted thread with a newer
// in-memory thread by message Seq, preserving the older CreatedAt, the
// newer UpdatedAt, and deduplicating messages by Seq (later wins on a
// collision). MergeCount is the max of both inputs' MergeCount plus one.
func mergeThreads(existing, incoming *assistantapi.Thread) (*assistantapi.Thread, error) {
	if err := requireMonotonicSeq(existing.Messages); err != nil {
		return nil, err
	}
	if err := requireMonotonicSeq(incoming.Messages); err != nil {
		return nil, err
	}

	byCurrent := make(map[int64]assistantapi.Message, len(existing.Messages)+len(incoming.Messages))
	for _, m := range existing.Messages {
		byCurrent[m.Seq] = m
	}
	for _, m := range incoming.Messages {
		byCurrent[m.Seq] = m
	}

	merged := make([]assistantapi.Message, 0, len(byCurrent))
	for _, m := range byCurrent {
		merged = append(merged, m)
	}
	sort.Slice(merged, func(i, j int) bool { return merged[i].Seq < merged[j].Seq })

	createdAt := existing.CreatedAt
	if incoming.CreatedAt.Before(createdAt) {
		createdAt = incoming.CreatedAt
	}
	updatedAt := existing.UpdatedAt
	if incoming.UpdatedAt.After(updatedAt) {
		updatedAt = incoming.UpdatedAt
	}
	mergeCount := existing.MergeCount
	if incoming.MergeCount > mergeCount {
		mergeCount = incoming.MergeCount
	}

	return &assistantapi.Thread{
		ChatID:       existing.ChatID,
		Messages:     merged,
		CreatedAt:    createdAt,
		UpdatedAt:    updatedAt,
		MessageCount: len(merged),
		Persisted:    true,
		MergeCount:   mergeCount + 1,
		SummaryCount: maxInt(existing.SummaryCount, incoming.SummaryCount),
	}, nil
}

func maxInt(a, b int) int {
	if a > b {
		return a
	}
	return b
}
