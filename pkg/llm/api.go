// Package llm provides the provider contract and types for LLM backend implementations.
package llm

import (
	"context"
	"io"

	"agentcore/pkg/tools"
)

// CompletionRole represents the role of a message in a conversation.
type CompletionRole string

const (
	// RoleSystem indicates a system message that provides instructions or context.
	RoleSystem CompletionRole = "system"
	// RoleUser indicates a message from the human user.
	RoleUser CompletionRole = "user"
	// RoleAssistant indicates a message from the AI assistant.
	RoleAssistant CompletionRole = "assistant"
)

const (
	// DefaultMaxTokens is the output-token ceiling used when a request does
	// not set one explicitly.
	DefaultMaxTokens = 4096

	// TemperatureDefault allows some exploration while staying focused.
	TemperatureDefault = 0.3
)

// Cache annotation vocabulary understood by cache-capable providers.
const (
	CacheTypeEphemeral = "ephemeral"
	CacheTTL5m         = "5m"
	CacheTTL1h         = "1h"
)

// CacheControl marks a message as a cacheable prompt-prefix boundary.
// Providers without prompt-cache support ignore it entirely.
type CacheControl struct {
	Type string `json:"type"`          // "ephemeral"
	TTL  string `json:"ttl,omitempty"` // "5m" or "1h" (optional, defaults to 5m)
}

// CompletionMessage represents a message in a completion request. Assistant
// messages may carry the tool calls the model made; the following user
// message carries the matching tool results.
//
//nolint:govet // fieldalignment: logical grouping preferred
type CompletionMessage struct {
	Role         CompletionRole
	Content      string
	CacheControl *CacheControl `json:"cache_control,omitempty"` // Prompt caching marker
	ToolCalls    []ToolCall    `json:"tool_calls,omitempty"`
	ToolResults  []ToolResult  `json:"tool_results,omitempty"`
}

// ToolCall represents a tool call made by the LLM. Malformed is non-empty
// when the backend returned argument text that failed to parse as JSON; the
// planner turns such calls into corrective feedback instead of executing them.
type ToolCall struct {
	Parameters map[string]any `json:"parameters"`
	ID         string         `json:"id"`
	Name       string         `json:"name"`
	Malformed  string         `json:"malformed,omitempty"`
}

// ToolResult carries one executed tool call's output back to the model.
type ToolResult struct {
	ToolCallID string `json:"tool_call_id"`
	Name       string `json:"name"`
	Content    string `json:"content"`
	IsError    bool   `json:"is_error"`
}

// Usage reports token consumption for a single completion. Estimated holds
// true when the backend did not report usage and the counts were derived
// locally from token estimation.
type Usage struct {
	PromptTokens     int  `json:"prompt_tokens"`
	CompletionTokens int  `json:"completion_tokens"`
	TotalTokens      int  `json:"total_tokens"`
	Estimated        bool `json:"estimated,omitempty"`
}

// CompletionRequest represents a request to generate a completion.
//
//nolint:govet // fieldalignment: value semantics preferred over pointer indirection
type CompletionRequest struct {
	Messages    []CompletionMessage
	Tools       []tools.ToolDefinition
	ToolChoice  string
	MaxTokens   int
	Temperature float32
	CacheTools  bool // Annotate the tool-definition block as a cacheable prefix
}

// CompletionResponse represents a response from a completion request.
//
//nolint:govet // fieldalignment: value semantics preferred over pointer indirection
type CompletionResponse struct {
	ToolCalls  []ToolCall
	Content    string // Main response text
	StopReason string // Why the response stopped: "end_turn", "max_tokens", "tool_use", etc.
	Usage      Usage
}

// StreamChunk represents a chunk of streamed completion response. Tool calls
// and usage, when present, arrive on the final chunk alongside Done.
//
//nolint:govet // fieldalignment: logical grouping preferred
type StreamChunk struct {
	Error     error
	Content   string
	ToolCalls []ToolCall
	Usage     *Usage
	Done      bool
}

// ModelDescriptor reports a provider's capabilities and limits. Immutable
// once a provider is constructed; everything the budget resolver and cache
// controller need to know about a backend.
//
//nolint:govet // fieldalignment: logical grouping preferred
type ModelDescriptor struct {
	ProviderFamily      string // "anthropic", "openai", "google", "ollama", "openrouter"
	ModelID             string
	ContextWindowTokens int // 0 when the backend does not report a window
	MaxOutputTokens     int // 0 when the backend does not report an output ceiling
	SupportsCache       bool
	SupportsStreaming   bool
	InputCostPerMTok    float64 // USD per million input tokens, 0 when unknown
	OutputCostPerMTok   float64 // USD per million output tokens, 0 when unknown
}

// Name returns the canonical "<family>:<model>" identity used in logs and metrics.
func (d ModelDescriptor) Name() string {
	if d.ModelID == "" {
		return d.ProviderFamily
	}
	return d.ProviderFamily + ":" + d.ModelID
}

// Provider defines the contract every LLM backend adapter implements.
type Provider interface {
	// Complete generates a completion synchronously.
	Complete(ctx context.Context, in CompletionRequest) (CompletionResponse, error)

	// Stream generates a completion as a stream of chunks.
	Stream(ctx context.Context, in CompletionRequest) (<-chan StreamChunk, error)

	// Describe reports the provider's model identity and capabilities.
	Describe() ModelDescriptor
}

// NewCompletionRequest creates a new completion request with default values.
func NewCompletionRequest(messages []CompletionMessage) CompletionRequest {
	return CompletionRequest{
		Messages:    messages,
		MaxTokens:   DefaultMaxTokens,
		Temperature: TemperatureDefault,
	}
}

// NewSystemMessage creates a new system message.
func NewSystemMessage(content string) CompletionMessage {
	return CompletionMessage{
		Role:    RoleSystem,
		Content: content,
	}
}

// NewUserMessage creates a new user message.
func NewUserMessage(content string) CompletionMessage {
	return CompletionMessage{
		Role:    RoleUser,
		Content: content,
	}
}

// NewAssistantMessage creates a new assistant message.
func NewAssistantMessage(content string) CompletionMessage {
	return CompletionMessage{
		Role:    RoleAssistant,
		Content: content,
	}
}

// StreamToReader converts a stream channel to an io.Reader.
func StreamToReader(stream <-chan StreamChunk) io.Reader {
	pr, pw := io.Pipe()

	go func() {
		defer func() {
			_ = pw.Close() //nolint:errcheck // cleanup in streaming context
		}()
		for chunk := range stream {
			if chunk.Error != nil {
				pw.CloseWithError(chunk.Error)
				return
			}
			if _, err := pw.Write([]byte(chunk.Content)); err != nil {
				pw.CloseWithError(err)
				return
			}
			if chunk.Done {
				return
			}
		}
	}()

	return pr
}
