// Package contextmgr owns per-conversation state: the ordered message
// transcript, token accounting, the status lifecycle, and overflow
// truncation. A ConversationState is owned by exactly one planner loop
// and is never shared across conversations, so none of the methods here
// take locks.
package contextmgr

import (
	"fmt"

	"github.com/google/uuid"

	"agentcore/pkg/llm"
	"agentcore/pkg/utils"
)

// Status is the lifecycle phase of a conversation. Transitions are
// one-directional: active moves to exactly one terminal status and
// stays there.
type Status string

// Conversation lifecycle statuses.
const (
	StatusActive    Status = "active"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
	StatusCancelled Status = "cancelled"
)

// Terminal reports whether the status is an end state.
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed || s == StatusCancelled
}

// messageOverheadTokens approximates the per-message framing cost (role
// markers and separators) that the raw content count misses.
const messageOverheadTokens = 4

// ConversationState is the transcript and bookkeeping for one
// conversation: messages in order, a running prompt-token figure,
// the turn counter, and the status.
//
//nolint:govet // fieldalignment: logical grouping preferred
type ConversationState struct {
	id       string
	messages []llm.CompletionMessage
	// estimates holds a local token estimate per message, aligned with
	// messages. Estimates cover everything appended after the usage
	// watermark; messages before it are accounted by reportedTokens.
	estimates       []int
	reportedTokens  int
	reportedThrough int
	turnCount       int
	status          Status
}

// NewConversation creates an active conversation. A non-empty
// systemPrompt becomes the first message and survives truncation.
func NewConversation(systemPrompt string) *ConversationState {
	c := &ConversationState{
		id:     uuid.NewString(),
		status: StatusActive,
	}
	if systemPrompt != "" {
		c.append(llm.NewSystemMessage(systemPrompt))
	}
	return c
}

// ID returns the conversation's unique identifier.
func (c *ConversationState) ID() string {
	return c.id
}

// Status returns the current lifecycle status.
func (c *ConversationState) Status() Status {
	return c.status
}

// TurnCount returns the number of prompting turns taken so far.
func (c *ConversationState) TurnCount() int {
	return c.turnCount
}

// BeginTurn increments the turn counter and returns the new count.
// The counter only ever grows; truncation does not rewind it.
func (c *ConversationState) BeginTurn() int {
	c.turnCount++
	return c.turnCount
}

// Complete marks the conversation completed.
func (c *ConversationState) Complete() error {
	return c.transition(StatusCompleted)
}

// Fail marks the conversation failed.
func (c *ConversationState) Fail() error {
	return c.transition(StatusFailed)
}

// Cancel marks the conversation cancelled.
func (c *ConversationState) Cancel() error {
	return c.transition(StatusCancelled)
}

func (c *ConversationState) transition(to Status) error {
	if c.status != StatusActive {
		return fmt.Errorf("invalid status transition %s -> %s: conversation already terminal", c.status, to)
	}
	c.status = to
	return nil
}

// AppendUser appends a user message.
func (c *ConversationState) AppendUser(content string) {
	c.append(llm.NewUserMessage(content))
}

// AppendAssistant appends the model's reply, including any tool calls
// it made.
func (c *ConversationState) AppendAssistant(content string, toolCalls []llm.ToolCall) {
	msg := llm.NewAssistantMessage(content)
	msg.ToolCalls = toolCalls
	c.append(msg)
}

// AppendToolResults appends tool results as a user-role message, the
// shape the provider adapters replay them in.
func (c *ConversationState) AppendToolResults(results []llm.ToolResult) {
	c.append(llm.CompletionMessage{
		Role:        llm.RoleUser,
		ToolResults: results,
	})
}

func (c *ConversationState) append(msg llm.CompletionMessage) {
	c.messages = append(c.messages, msg)
	c.estimates = append(c.estimates, estimateMessageTokens(msg))
}

// Messages returns a copy of the transcript in order. Mutating the
// returned slice does not affect the conversation.
func (c *ConversationState) Messages() []llm.CompletionMessage {
	out := make([]llm.CompletionMessage, len(c.messages))
	copy(out, c.messages)
	return out
}

// MessageCount returns the number of messages in the transcript.
func (c *ConversationState) MessageCount() int {
	return len(c.messages)
}

// CumulativePromptTokens returns the token size the transcript would
// occupy as the next prompt. Messages covered by the last reported
// usage use the backend's authoritative count; anything appended since
// is locally estimated.
func (c *ConversationState) CumulativePromptTokens() int {
	total := c.reportedTokens
	for i := c.reportedThrough; i < len(c.estimates); i++ {
		total += c.estimates[i]
	}
	return total
}

// RecordUsage calibrates the token accounting from backend-reported
// usage. Call it after appending the assistant reply the usage belongs
// to: prompt tokens cover every message sent, completion tokens cover
// the reply, so together they account for the whole transcript at that
// point. Zero usage is ignored and the local estimates stand.
func (c *ConversationState) RecordUsage(usage llm.Usage) {
	reported := usage.PromptTokens + usage.CompletionTokens
	if reported <= 0 {
		return
	}
	c.reportedTokens = reported
	c.reportedThrough = len(c.messages)
}

// TruncateToFit drops the oldest non-system messages until
// CumulativePromptTokens fits maxPromptTokens, and returns how many
// messages were dropped. The system prompt and the most recent message
// always survive. An assistant message that made tool calls is dropped
// together with the tool-results message answering it, so no orphaned
// results remain. Dropping invalidates the reported-usage watermark;
// accounting falls back to local estimates until the next RecordUsage.
func (c *ConversationState) TruncateToFit(maxPromptTokens int) int {
	dropped := 0
	for c.CumulativePromptTokens() > maxPromptTokens {
		start, n := c.oldestDroppableBlock()
		if n == 0 {
			break
		}
		c.messages = append(c.messages[:start], c.messages[start+n:]...)
		c.estimates = append(c.estimates[:start], c.estimates[start+n:]...)
		c.reportedTokens = 0
		c.reportedThrough = 0
		dropped += n
	}
	return dropped
}

// oldestDroppableBlock locates the oldest block of messages that may be
// removed: the first non-system message, widened to include the
// tool-results message that answers it when it carries tool calls. A
// block that would touch the final message is not droppable.
func (c *ConversationState) oldestDroppableBlock() (start, n int) {
	start = 0
	for start < len(c.messages) && c.messages[start].Role == llm.RoleSystem {
		start++
	}
	if start >= len(c.messages)-1 {
		return 0, 0
	}
	n = 1
	if len(c.messages[start].ToolCalls) > 0 &&
		start+1 < len(c.messages) &&
		len(c.messages[start+1].ToolResults) > 0 {
		n = 2
	}
	if start+n > len(c.messages)-1 {
		return 0, 0
	}
	return start, n
}

// estimateMessageTokens approximates the token cost of one message:
// content, tool-call arguments, and tool-result payloads, plus framing.
func estimateMessageTokens(msg llm.CompletionMessage) int {
	total := messageOverheadTokens + utils.CountTokensSimple(msg.Content)
	for i := range msg.ToolCalls {
		total += messageOverheadTokens + utils.CountTokensSimple(msg.ToolCalls[i].Name)
		total += utils.CountTokensSimple(fmt.Sprintf("%v", msg.ToolCalls[i].Parameters))
	}
	for i := range msg.ToolResults {
		total += messageOverheadTokens + utils.CountTokensSimple(msg.ToolResults[i].Content)
	}
	return total
}
