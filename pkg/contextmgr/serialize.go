package contextmgr

import (
	"encoding/json"
	"fmt"

	"github.com/google/uuid"

	"agentcore/pkg/llm"
)

// SerializedMessage is one transcript message in a format suitable for
// JSON round-trip serialization, decoupled from the llm types.
type SerializedMessage struct {
	Role        string             `json:"role"`
	Content     string             `json:"content,omitempty"`
	ToolCalls   []SerializedCall   `json:"tool_calls,omitempty"`
	ToolResults []SerializedResult `json:"tool_results,omitempty"`
}

// SerializedCall is a ToolCall in serialized form.
type SerializedCall struct {
	ID         string         `json:"id"`
	Name       string         `json:"name"`
	Parameters map[string]any `json:"parameters,omitempty"`
	Malformed  string         `json:"malformed,omitempty"`
}

// SerializedResult is a ToolResult in serialized form.
type SerializedResult struct {
	ToolCallID string `json:"tool_call_id"`
	Name       string `json:"name,omitempty"`
	Content    string `json:"content,omitempty"`
	IsError    bool   `json:"is_error,omitempty"`
}

// SerializedConversation is the complete persistable form of a
// ConversationState. Cache annotations are not serialized: they are
// re-applied per dispatch and never outlive a request. The
// reported-usage watermark is not serialized either; a restored
// conversation runs on local estimates until its next RecordUsage.
//
//nolint:govet // fieldalignment: serialization layout follows the wire shape
type SerializedConversation struct {
	ID        string              `json:"id"`
	Status    Status              `json:"status"`
	TurnCount int                 `json:"turn_count"`
	Messages  []SerializedMessage `json:"messages"`
}

// Serialize converts the conversation to JSON for persistence.
func (c *ConversationState) Serialize() ([]byte, error) {
	sc := SerializedConversation{
		ID:        c.id,
		Status:    c.status,
		TurnCount: c.turnCount,
		Messages:  toSerializedMessages(c.messages),
	}
	data, err := json.Marshal(sc)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal conversation: %w", err)
	}
	return data, nil
}

// Deserialize rebuilds a ConversationState from its JSON form. Token
// estimates are recomputed from the restored messages.
func Deserialize(data []byte) (*ConversationState, error) {
	var sc SerializedConversation
	if err := json.Unmarshal(data, &sc); err != nil {
		return nil, fmt.Errorf("failed to unmarshal conversation: %w", err)
	}

	status := sc.Status
	switch status {
	case StatusActive, StatusCompleted, StatusFailed, StatusCancelled:
	case "":
		status = StatusActive
	default:
		return nil, fmt.Errorf("unknown conversation status %q", sc.Status)
	}

	id := sc.ID
	if id == "" {
		id = uuid.NewString()
	}

	c := &ConversationState{
		id:        id,
		status:    status,
		turnCount: sc.TurnCount,
	}
	for _, sm := range fromSerializedMessages(sc.Messages) {
		c.append(sm)
	}
	return c, nil
}

func toSerializedMessages(messages []llm.CompletionMessage) []SerializedMessage {
	out := make([]SerializedMessage, len(messages))
	for i := range messages {
		out[i] = SerializedMessage{
			Role:        string(messages[i].Role),
			Content:     messages[i].Content,
			ToolCalls:   toSerializedCalls(messages[i].ToolCalls),
			ToolResults: toSerializedResults(messages[i].ToolResults),
		}
	}
	return out
}

func fromSerializedMessages(messages []SerializedMessage) []llm.CompletionMessage {
	out := make([]llm.CompletionMessage, len(messages))
	for i := range messages {
		out[i] = llm.CompletionMessage{
			Role:        llm.CompletionRole(messages[i].Role),
			Content:     messages[i].Content,
			ToolCalls:   fromSerializedCalls(messages[i].ToolCalls),
			ToolResults: fromSerializedResults(messages[i].ToolResults),
		}
	}
	return out
}

func toSerializedCalls(calls []llm.ToolCall) []SerializedCall {
	if len(calls) == 0 {
		return nil
	}
	out := make([]SerializedCall, len(calls))
	for i := range calls {
		out[i] = SerializedCall{
			ID:         calls[i].ID,
			Name:       calls[i].Name,
			Parameters: calls[i].Parameters,
			Malformed:  calls[i].Malformed,
		}
	}
	return out
}

//nolint:dupl // mirrors toSerializedCalls by construction
func fromSerializedCalls(calls []SerializedCall) []llm.ToolCall {
	if len(calls) == 0 {
		return nil
	}
	out := make([]llm.ToolCall, len(calls))
	for i := range calls {
		out[i] = llm.ToolCall{
			ID:         calls[i].ID,
			Name:       calls[i].Name,
			Parameters: calls[i].Parameters,
			Malformed:  calls[i].Malformed,
		}
	}
	return out
}

func toSerializedResults(results []llm.ToolResult) []SerializedResult {
	if len(results) == 0 {
		return nil
	}
	out := make([]SerializedResult, len(results))
	for i := range results {
		out[i] = SerializedResult{
			ToolCallID: results[i].ToolCallID,
			Name:       results[i].Name,
			Content:    results[i].Content,
			IsError:    results[i].IsError,
		}
	}
	return out
}

//nolint:dupl // mirrors toSerializedResults by construction
func fromSerializedResults(results []SerializedResult) []llm.ToolResult {
	if len(results) == 0 {
		return nil
	}
	out := make([]llm.ToolResult, len(results))
	for i := range results {
		out[i] = llm.ToolResult{
			ToolCallID: results[i].ToolCallID,
			Name:       results[i].Name,
			Content:    results[i].Content,
			IsError:    results[i].IsError,
		}
	}
	return out
}
