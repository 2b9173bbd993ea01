package planner

import (
	"time"

	"agentcore/pkg/contextmgr"
	"agentcore/pkg/llm"
)

// Outcome is the result of one planner run. Err is non-nil for every
// status except completed and carries the last error kind; the terminal
// conversation status is always set.
//
//nolint:govet // fieldalignment: logical grouping preferred
type Outcome struct {
	// ConversationID identifies the conversation the run owned.
	ConversationID string
	// Status is the terminal conversation status.
	Status contextmgr.Status
	// Content is the final assistant message content. On cancellation
	// it holds whatever partial output was appended before the cut.
	Content string
	// Summary is the completion summary the model supplied, when the
	// task ended through the done tool.
	Summary string
	// Turns is the number of prompting turns taken.
	Turns int
	// Usage accumulates token usage across every step of the run.
	Usage llm.Usage
	// Err is the terminal error, nil only when Status is completed.
	Err error
}

// StepRecord describes one completed planner step: the dispatched
// request's outcome plus attribution for usage accounting.
//
//nolint:govet // fieldalignment: logical grouping preferred
type StepRecord struct {
	// ConversationID identifies the owning conversation.
	ConversationID string
	// Turn is the 1-indexed prompting turn.
	Turn int
	// EntryID names the provider entry that served the step.
	EntryID string
	// Model is the model identifier that produced the response.
	Model string
	// Content is the assistant message content for the step.
	Content string
	// ToolCallCount is how many tool calls the response carried.
	ToolCallCount int
	// Usage is the step's token usage as reported (or estimated) by
	// the backend.
	Usage llm.Usage
	// Duration covers dispatch through response, including provider
	// retries and fallback.
	Duration time.Duration
}

// StepHook observes completed steps. Hooks run synchronously on the
// planner goroutine after the assistant message is appended; they must
// not block.
type StepHook func(StepRecord)
