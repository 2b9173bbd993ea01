// Package anthropic provides the Anthropic Claude adapter for the llm.Provider interface.
package anthropic

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"

	"agentcore/pkg/config"
	"agentcore/pkg/llm"
	"agentcore/pkg/llmerrors"
	"agentcore/pkg/logx"
)

var logger = logx.NewLogger("anthropic")

// Client wraps the Anthropic API client to implement the llm.Provider interface.
//
//nolint:govet // Simple client struct, logical grouping preferred
type Client struct {
	client anthropic.Client
	model  anthropic.Model
}

// New creates a Claude adapter (raw provider, middleware applied at higher level).
func New(apiKey, model string) *Client {
	if model == "" {
		model = config.ModelClaudeSonnetLatest
	}
	return &Client{
		client: anthropic.NewClient(option.WithAPIKey(apiKey)),
		model:  anthropic.Model(model),
	}
}

// Describe reports the model's capabilities from the static model registry.
func (c *Client) Describe() llm.ModelDescriptor {
	info, _ := config.GetModelInfo(string(c.model))
	return llm.ModelDescriptor{
		ProviderFamily:      config.ProviderAnthropic,
		ModelID:             string(c.model),
		ContextWindowTokens: info.MaxContextTokens,
		MaxOutputTokens:     info.MaxOutputTokens,
		SupportsCache:       info.SupportsCache,
		SupportsStreaming:   info.SupportsStreaming,
		InputCostPerMTok:    info.InputCPM,
		OutputCostPerMTok:   info.OutputCPM,
	}
}

// cacheControlFor maps our cache annotation to the SDK's ephemeral cache param.
func cacheControlFor(cc *llm.CacheControl) anthropic.CacheControlEphemeralParam {
	param := anthropic.NewCacheControlEphemeralParam()
	if cc != nil {
		switch cc.TTL {
		case llm.CacheTTL5m:
			param.TTL = anthropic.CacheControlEphemeralTTLTTL5m
		case llm.CacheTTL1h:
			param.TTL = anthropic.CacheControlEphemeralTTLTTL1h
		}
		// Default: SDK uses 5m when TTL is not set
	}
	return param
}

// applyCacheControl marks a content block as a cacheable prefix boundary.
func applyCacheControl(block *anthropic.ContentBlockParamUnion, cc *llm.CacheControl) {
	param := cacheControlFor(cc)
	switch {
	case block.OfText != nil:
		block.OfText.CacheControl = param
	case block.OfToolResult != nil:
		block.OfToolResult.CacheControl = param
	case block.OfToolUse != nil:
		block.OfToolUse.CacheControl = param
	}
}

// blocksFor converts one conversation message into Anthropic content blocks.
// Tool results lead the block list: the API requires them at the head of the
// user message that answers a tool_use turn.
func blocksFor(msg *llm.CompletionMessage) []anthropic.ContentBlockParamUnion {
	var blocks []anthropic.ContentBlockParamUnion

	for i := range msg.ToolResults {
		tr := &msg.ToolResults[i]
		if tr.ToolCallID == "" {
			continue
		}
		blocks = append(blocks, anthropic.NewToolResultBlock(tr.ToolCallID, tr.Content, tr.IsError))
	}

	if msg.Content != "" {
		blocks = append(blocks, anthropic.NewTextBlock(msg.Content))
	}

	for i := range msg.ToolCalls {
		tc := &msg.ToolCalls[i]
		toolUse := anthropic.ToolUseBlockParam{
			ID:    tc.ID,
			Name:  tc.Name,
			Input: tc.Parameters,
		}
		blocks = append(blocks, anthropic.ContentBlockParamUnion{OfToolUse: &toolUse})
	}

	if msg.CacheControl != nil && len(blocks) > 0 {
		applyCacheControl(&blocks[len(blocks)-1], msg.CacheControl)
	}

	return blocks
}

// convertMessages prepares messages for the Anthropic API.
// 1. Extracts system messages to top-level system blocks
// 2. Converts tool calls and results to tool_use/tool_result blocks
// 3. Merges consecutive same-role messages to keep strict user↔assistant alternation
// 4. Validates the sequence starts and ends with a user message.
func convertMessages(messages []llm.CompletionMessage) (system []anthropic.TextBlockParam, params []anthropic.MessageParam, err error) {
	if len(messages) == 0 {
		return nil, nil, fmt.Errorf("message list cannot be empty")
	}

	for i := range messages {
		msg := &messages[i]

		if msg.Role == llm.RoleSystem {
			block := anthropic.TextBlockParam{Text: msg.Content, Type: "text"}
			if msg.CacheControl != nil {
				block.CacheControl = cacheControlFor(msg.CacheControl)
			}
			system = append(system, block)
			continue
		}

		role := anthropic.MessageParamRole(msg.Role)
		if role != anthropic.MessageParamRoleUser && role != anthropic.MessageParamRoleAssistant {
			return nil, nil, fmt.Errorf("invalid role %s at index %d (Anthropic only supports user and assistant in messages array)", msg.Role, i)
		}

		blocks := blocksFor(msg)
		if len(blocks) == 0 {
			continue
		}

		// Merge into the previous message when roles repeat; the API
		// rejects consecutive messages with the same role.
		if len(params) > 0 && params[len(params)-1].Role == role {
			prev := &params[len(params)-1]
			prev.Content = append(prev.Content, blocks...)
			continue
		}

		params = append(params, anthropic.MessageParam{Role: role, Content: blocks})
	}

	if len(params) == 0 {
		return nil, nil, fmt.Errorf("must have at least one non-system message")
	}
	if params[0].Role != anthropic.MessageParamRoleUser {
		return nil, nil, fmt.Errorf("first message must be user role, got: %s", params[0].Role)
	}
	if params[len(params)-1].Role != anthropic.MessageParamRoleUser {
		return nil, nil, fmt.Errorf("last message must be user role, got: %s", params[len(params)-1].Role)
	}

	return system, params, nil
}

// Complete implements the llm.Provider interface.
//
//nolint:gocritic // CompletionRequest passed by value matches interface
func (c *Client) Complete(ctx context.Context, in llm.CompletionRequest) (llm.CompletionResponse, error) {
	params, err := c.buildParams(in)
	if err != nil {
		return llm.CompletionResponse{}, err
	}

	resp, err := c.client.Messages.New(ctx, params)
	if err != nil {
		classified := c.classifyError(err)
		logger.Debug("Claude API error classified as %s: %v", llmerrors.TypeOf(classified), err)
		return llm.CompletionResponse{}, classified
	}

	if resp == nil || len(resp.Content) == 0 {
		// Empty response is a specific type of retryable error
		return llm.CompletionResponse{}, llmerrors.NewError(llmerrors.ErrorTypeEmptyResponse, "received empty or nil response from Claude API")
	}

	return c.convertResponse(resp), nil
}

// buildParams assembles the MessageNewParams for one request.
//
//nolint:gocritic // CompletionRequest passed by value matches interface
func (c *Client) buildParams(in llm.CompletionRequest) (anthropic.MessageNewParams, error) {
	system, messages, err := convertMessages(in.Messages)
	if err != nil {
		return anthropic.MessageNewParams{}, llmerrors.NewError(llmerrors.ErrorTypeBadPrompt, fmt.Sprintf("message conversion error: %v", err))
	}

	maxTokens := in.MaxTokens
	if maxTokens <= 0 {
		maxTokens = llm.DefaultMaxTokens
	}

	params := anthropic.MessageNewParams{
		Model:       c.model,
		Messages:    messages,
		MaxTokens:   int64(maxTokens),
		Temperature: anthropic.Float(float64(in.Temperature)),
	}

	if len(system) > 0 {
		params.System = system
	}

	if len(in.Tools) > 0 {
		tools := make([]anthropic.ToolUnionParam, 0, len(in.Tools))
		for i := range in.Tools {
			tool := &in.Tools[i]

			var properties any
			if len(tool.InputSchema.Properties) > 0 {
				props := make(map[string]any)
				for name := range tool.InputSchema.Properties {
					prop := tool.InputSchema.Properties[name]
					propMap := map[string]any{"type": prop.Type}
					if prop.Description != "" {
						propMap["description"] = prop.Description
					}
					if len(prop.Enum) > 0 {
						propMap["enum"] = prop.Enum
					}
					props[name] = propMap
				}
				properties = props
			}

			tools = append(tools, anthropic.ToolUnionParam{OfTool: &anthropic.ToolParam{
				Name:        tool.Name,
				Description: anthropic.String(tool.Description),
				InputSchema: anthropic.ToolInputSchemaParam{
					Type:       "object",
					Properties: properties,
					Required:   tool.InputSchema.Required,
				},
			}})
		}

		// Mark the tool block as a cacheable prefix; Anthropic caches
		// everything up to and including the block that carries the marker.
		if in.CacheTools {
			tools[len(tools)-1].OfTool.CacheControl = anthropic.NewCacheControlEphemeralParam()
		}

		params.Tools = tools
		params.ToolChoice = toolChoiceFor(in.ToolChoice)
	}

	return params, nil
}

// toolChoiceFor maps the request's tool choice to the SDK union.
func toolChoiceFor(choice string) anthropic.ToolChoiceUnionParam {
	switch choice {
	case "any":
		// Force at least one tool call
		return anthropic.ToolChoiceUnionParam{OfAny: &anthropic.ToolChoiceAnyParam{}}
	default:
		// Let Claude decide when to use tools
		return anthropic.ToolChoiceUnionParam{OfAuto: &anthropic.ToolChoiceAutoParam{}}
	}
}

// convertResponse extracts text, tool calls, and usage from an API response.
// Tool inputs that fail to parse as JSON are surfaced as malformed calls
// rather than request failures; the planner answers those with corrective
// feedback.
func (c *Client) convertResponse(resp *anthropic.Message) llm.CompletionResponse {
	var responseText string
	var toolCalls []llm.ToolCall

	for i := range resp.Content {
		block := &resp.Content[i]
		switch block.Type {
		case "text":
			responseText += block.AsText().Text
		case "tool_use":
			toolUse := block.AsToolUse()
			call := llm.ToolCall{ID: toolUse.ID, Name: toolUse.Name}
			var args map[string]any
			if err := json.Unmarshal(toolUse.Input, &args); err != nil {
				call.Malformed = string(toolUse.Input)
			} else {
				call.Parameters = args
			}
			toolCalls = append(toolCalls, call)
		}
	}

	promptTokens := int(resp.Usage.InputTokens + resp.Usage.CacheCreationInputTokens + resp.Usage.CacheReadInputTokens)
	completionTokens := int(resp.Usage.OutputTokens)

	return llm.CompletionResponse{
		Content:    responseText,
		ToolCalls:  toolCalls,
		StopReason: string(resp.StopReason),
		Usage: llm.Usage{
			PromptTokens:     promptTokens,
			CompletionTokens: completionTokens,
			TotalTokens:      promptTokens + completionTokens,
		},
	}
}

// Stream implements the llm.Provider interface. The response is buffered to
// the message boundary: the full completion is fetched and emitted as chunks.
//
//nolint:gocritic // CompletionRequest passed by value matches interface
func (c *Client) Stream(ctx context.Context, in llm.CompletionRequest) (<-chan llm.StreamChunk, error) {
	ch := make(chan llm.StreamChunk, 2)
	go func() {
		defer close(ch)
		resp, err := c.Complete(ctx, in)
		if err != nil {
			ch <- llm.StreamChunk{Error: err}
			return
		}
		ch <- llm.StreamChunk{Content: resp.Content}
		ch <- llm.StreamChunk{ToolCalls: resp.ToolCalls, Usage: &resp.Usage, Done: true}
	}()
	return ch, nil
}

// classifyError maps Anthropic SDK errors to our structured error types.
func (c *Client) classifyError(err error) error {
	if err == nil {
		return nil
	}

	// Context errors first: the resilience layer distinguishes caller
	// cancellation from per-request timeouts.
	if errors.Is(err, context.DeadlineExceeded) {
		return llmerrors.NewErrorWithCause(llmerrors.ErrorTypeTransient, err, "request timeout")
	}
	if errors.Is(err, context.Canceled) {
		return err
	}

	statusCode := 0
	var apiErr *anthropic.Error
	if errors.As(err, &apiErr) {
		statusCode = apiErr.StatusCode
	} else {
		// The SDK sometimes surfaces transport failures as plain errors
		// with the status embedded in the message.
		statusCode = extractStatusCode(err.Error())
	}

	errStr := strings.ToLower(err.Error())

	switch statusCode {
	case 401:
		return llmerrors.NewErrorWithStatus(llmerrors.ErrorTypeAuth, statusCode, "authentication failed - check API key")
	case 403:
		return llmerrors.NewErrorWithStatus(llmerrors.ErrorTypeAuth, statusCode, "permission denied - check API access")
	case 429:
		return llmerrors.NewRateLimitError(statusCode, retryAfterOf(apiErr), "rate limit exceeded")
	case 400:
		// The API reports oversized prompts as a 400 whose message names
		// the token excess; the planner resolves those by truncating.
		if looksLikeOverflow(errStr) {
			return llmerrors.NewErrorWithStatus(llmerrors.ErrorTypeContextOverflow, statusCode, "prompt exceeds the model's context window")
		}
		return llmerrors.NewErrorWithStatus(llmerrors.ErrorTypeBadPrompt, statusCode, "bad request - check prompt format and parameters")
	case 500, 502, 503, 504, 529:
		return llmerrors.NewErrorWithStatus(llmerrors.ErrorTypeTransient, statusCode, "server error")
	}

	switch {
	case strings.Contains(errStr, "timeout"),
		strings.Contains(errStr, "connection"),
		strings.Contains(errStr, "network"),
		strings.Contains(errStr, "temporary"),
		strings.Contains(errStr, "eof"),
		strings.Contains(errStr, "reset"):
		return llmerrors.NewErrorWithCause(llmerrors.ErrorTypeTransient, err, "network or connection error")
	case strings.Contains(errStr, "rate"),
		strings.Contains(errStr, "quota"),
		strings.Contains(errStr, "limit"):
		return llmerrors.NewErrorWithCause(llmerrors.ErrorTypeRateLimit, err, "rate limiting detected")
	case strings.Contains(errStr, "auth"),
		strings.Contains(errStr, "key"),
		strings.Contains(errStr, "unauthorized"):
		return llmerrors.NewErrorWithCause(llmerrors.ErrorTypeAuth, err, "authentication error")
	case looksLikeOverflow(errStr):
		return llmerrors.NewErrorWithCause(llmerrors.ErrorTypeContextOverflow, err, "prompt exceeds the model's context window")
	case strings.Contains(errStr, "invalid"),
		strings.Contains(errStr, "malformed"),
		strings.Contains(errStr, "too large"),
		strings.Contains(errStr, "token"):
		return llmerrors.NewErrorWithCause(llmerrors.ErrorTypeBadPrompt, err, "prompt or request error")
	default:
		return llmerrors.NewErrorWithCause(llmerrors.ErrorTypeUnknown, err, "unclassified error")
	}
}

// looksLikeOverflow reports whether an error message describes a prompt that
// exceeded the model's context window.
func looksLikeOverflow(message string) bool {
	return strings.Contains(message, "prompt is too long") ||
		strings.Contains(message, "context window") ||
		strings.Contains(message, "maximum context")
}

// retryAfterOf reads the retry-after response header, when the SDK exposes it.
func retryAfterOf(apiErr *anthropic.Error) time.Duration {
	if apiErr == nil || apiErr.Response == nil {
		return 0
	}
	header := apiErr.Response.Header.Get("retry-after")
	if header == "" {
		return 0
	}
	seconds, err := strconv.Atoi(header)
	if err != nil || seconds <= 0 {
		return 0
	}
	return time.Duration(seconds) * time.Second
}

// extractStatusCode pulls an HTTP status code out of an error string.
// The SDK usually includes the status in transport-level error messages.
func extractStatusCode(errStr string) int {
	lowered := strings.ToLower(errStr)
	for _, pattern := range []string{"status code: ", "status: ", "http ", "code "} {
		idx := strings.Index(lowered, pattern)
		if idx == -1 {
			continue
		}
		start := idx + len(pattern)
		if start+3 > len(errStr) {
			continue
		}
		code, err := strconv.Atoi(errStr[start : start+3])
		if err != nil || code < 400 || code > 599 {
			continue
		}
		return code
	}
	return 0
}
