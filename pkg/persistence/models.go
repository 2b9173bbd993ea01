package persistence

import (
	"encoding/json"
	"fmt"
	"time"

	"agentcore/pkg/llm"
)

// Conversation is one row in the conversations table: final status, turn
// count, the model that served the last turn, and cumulative usage.
type Conversation struct {
	CreatedAt        time.Time `json:"created_at"`
	UpdatedAt        time.Time `json:"updated_at"`
	ID               string    `json:"id"`
	Status           string    `json:"status"`
	Model            string    `json:"model,omitempty"`
	Summary          string    `json:"summary,omitempty"`
	Error            string    `json:"error,omitempty"`
	TurnCount        int       `json:"turn_count"`
	PromptTokens     int       `json:"prompt_tokens"`
	CompletionTokens int       `json:"completion_tokens"`
	TotalTokens      int       `json:"total_tokens"`
	Estimated        bool      `json:"estimated"`
}

// Message is one transcript entry. Tool calls and tool results are stored as
// JSON text so the transcript survives schema-free; an empty string means the
// message carried none.
type Message struct {
	ConversationID  string `json:"conversation_id"`
	Role            string `json:"role"`
	Content         string `json:"content"`
	ToolCallsJSON   string `json:"tool_calls,omitempty"`
	ToolResultsJSON string `json:"tool_results,omitempty"`
	Seq             int    `json:"seq"`
}

// Step is one row in the steps table: which registry entry served turn N,
// what it cost, and how long the round trip took.
type Step struct {
	CreatedAt        time.Time `json:"created_at"`
	ConversationID   string    `json:"conversation_id"`
	EntryID          string    `json:"entry_id"`
	Model            string    `json:"model"`
	Turn             int       `json:"turn"`
	ToolCalls        int       `json:"tool_calls"`
	PromptTokens     int       `json:"prompt_tokens"`
	CompletionTokens int       `json:"completion_tokens"`
	TotalTokens      int       `json:"total_tokens"`
	DurationMS       int64     `json:"duration_ms"`
	Estimated        bool      `json:"estimated"`
}

// UsageTotals aggregates token spend across all stored conversations.
type UsageTotals struct {
	Conversations    int   `json:"conversations"`
	PromptTokens     int64 `json:"prompt_tokens"`
	CompletionTokens int64 `json:"completion_tokens"`
	TotalTokens      int64 `json:"total_tokens"`
}

// storedCall and storedResult are the JSON shapes written into the messages
// table. They mirror the provider-neutral tool types field for field so a
// stored transcript can be replayed into a fresh conversation.
type storedCall struct {
	Parameters map[string]any `json:"parameters,omitempty"`
	ID         string         `json:"id"`
	Name       string         `json:"name"`
	Malformed  string         `json:"malformed,omitempty"`
}

type storedResult struct {
	ToolCallID string `json:"tool_call_id"`
	Name       string `json:"name,omitempty"`
	Content    string `json:"content"`
	IsError    bool   `json:"is_error,omitempty"`
}

// NewMessages converts a conversation transcript into message rows for
// conversationID, numbering them by position.
func NewMessages(conversationID string, msgs []llm.CompletionMessage) ([]Message, error) {
	rows := make([]Message, 0, len(msgs))
	for i, msg := range msgs {
		row := Message{
			ConversationID: conversationID,
			Seq:            i,
			Role:           string(msg.Role),
			Content:        msg.Content,
		}

		if len(msg.ToolCalls) > 0 {
			calls := make([]storedCall, 0, len(msg.ToolCalls))
			for _, call := range msg.ToolCalls {
				calls = append(calls, storedCall{
					ID:         call.ID,
					Name:       call.Name,
					Parameters: call.Parameters,
					Malformed:  call.Malformed,
				})
			}
			data, err := json.Marshal(calls)
			if err != nil {
				return nil, fmt.Errorf("failed to marshal tool calls for message %d: %w", i, err)
			}
			row.ToolCallsJSON = string(data)
		}

		if len(msg.ToolResults) > 0 {
			results := make([]storedResult, 0, len(msg.ToolResults))
			for _, result := range msg.ToolResults {
				results = append(results, storedResult{
					ToolCallID: result.ToolCallID,
					Name:       result.Name,
					Content:    result.Content,
					IsError:    result.IsError,
				})
			}
			data, err := json.Marshal(results)
			if err != nil {
				return nil, fmt.Errorf("failed to marshal tool results for message %d: %w", i, err)
			}
			row.ToolResultsJSON = string(data)
		}

		rows = append(rows, row)
	}
	return rows, nil
}

// Transcript converts stored message rows back into provider-neutral
// completion messages, inverting NewMessages.
func Transcript(rows []*Message) ([]llm.CompletionMessage, error) {
	msgs := make([]llm.CompletionMessage, 0, len(rows))
	for _, row := range rows {
		msg := llm.CompletionMessage{
			Role:    llm.CompletionRole(row.Role),
			Content: row.Content,
		}

		if row.ToolCallsJSON != "" {
			var calls []storedCall
			if err := json.Unmarshal([]byte(row.ToolCallsJSON), &calls); err != nil {
				return nil, fmt.Errorf("failed to unmarshal tool calls for message %d: %w", row.Seq, err)
			}
			msg.ToolCalls = make([]llm.ToolCall, 0, len(calls))
			for _, call := range calls {
				msg.ToolCalls = append(msg.ToolCalls, llm.ToolCall{
					ID:         call.ID,
					Name:       call.Name,
					Parameters: call.Parameters,
					Malformed:  call.Malformed,
				})
			}
		}

		if row.ToolResultsJSON != "" {
			var results []storedResult
			if err := json.Unmarshal([]byte(row.ToolResultsJSON), &results); err != nil {
				return nil, fmt.Errorf("failed to unmarshal tool results for message %d: %w", row.Seq, err)
			}
			msg.ToolResults = make([]llm.ToolResult, 0, len(results))
			for _, result := range results {
				msg.ToolResults = append(msg.ToolResults, llm.ToolResult{
					ToolCallID: result.ToolCallID,
					Name:       result.Name,
					Content:    result.Content,
					IsError:    result.IsError,
				})
			}
		}

		msgs = append(msgs, msg)
	}
	return msgs, nil
}
