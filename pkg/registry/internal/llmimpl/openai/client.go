// Package openai provides the OpenAI adapter for the llm.Provider interface,
// built on the official OpenAI Go package's Responses API.
package openai

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
	"github.com/openai/openai-go/responses"

	"agentcore/pkg/config"
	"agentcore/pkg/llm"
	"agentcore/pkg/llmerrors"
	"agentcore/pkg/logx"
	"agentcore/pkg/tools"
)

var logger = logx.NewLogger("openai")

// Client wraps the official OpenAI Go client to implement the llm.Provider interface.
//
//nolint:govet // Simple client struct, logical grouping preferred
type Client struct {
	client openai.Client
	model  string
}

// New creates an OpenAI adapter (raw provider, middleware applied at higher level).
func New(apiKey, model string) *Client {
	if model == "" {
		model = config.ModelGPT5
	}
	return &Client{
		client: openai.NewClient(option.WithAPIKey(apiKey)),
		model:  model,
	}
}

// Describe reports the model's capabilities from the static model registry.
func (c *Client) Describe() llm.ModelDescriptor {
	info, _ := config.GetModelInfo(c.model)
	return llm.ModelDescriptor{
		ProviderFamily:      config.ProviderOpenAI,
		ModelID:             c.model,
		ContextWindowTokens: info.MaxContextTokens,
		MaxOutputTokens:     info.MaxOutputTokens,
		SupportsCache:       info.SupportsCache,
		SupportsStreaming:   info.SupportsStreaming,
		InputCostPerMTok:    info.InputCPM,
		OutputCostPerMTok:   info.OutputCPM,
	}
}

// supportsTemperature reports whether the model accepts a temperature
// override. Reasoning models pin temperature to 1 and reject other values.
func supportsTemperature(model string) bool {
	return !strings.HasPrefix(model, "o") && !strings.HasPrefix(model, "gpt-5")
}

// buildInput converts the conversation into Responses API input items.
// System messages become top-level instructions; past tool calls and their
// results are replayed as function_call/function_call_output items so the
// model sees the full tool exchange.
func buildInput(messages []llm.CompletionMessage) (responses.ResponseInputParam, string, error) {
	if len(messages) == 0 {
		return nil, "", fmt.Errorf("message list cannot be empty")
	}

	var items responses.ResponseInputParam
	var instructionParts []string

	for i := range messages {
		msg := &messages[i]

		switch msg.Role {
		case llm.RoleSystem:
			if msg.Content != "" {
				instructionParts = append(instructionParts, msg.Content)
			}

		case llm.RoleAssistant:
			if msg.Content != "" {
				items = append(items, responses.ResponseInputItemParamOfMessage(msg.Content, responses.EasyInputMessageRoleAssistant))
			}
			for j := range msg.ToolCalls {
				tc := &msg.ToolCalls[j]
				args, err := json.Marshal(tc.Parameters)
				if err != nil {
					return nil, "", fmt.Errorf("failed to encode tool call %s arguments: %w", tc.ID, err)
				}
				items = append(items, responses.ResponseInputItemParamOfFunctionCall(string(args), tc.ID, tc.Name))
			}

		case llm.RoleUser:
			for j := range msg.ToolResults {
				tr := &msg.ToolResults[j]
				if tr.ToolCallID == "" {
					continue
				}
				output := tr.Content
				if tr.IsError {
					output = "ERROR: " + output
				}
				items = append(items, responses.ResponseInputItemParamOfFunctionCallOutput(tr.ToolCallID, output))
			}
			if msg.Content != "" {
				items = append(items, responses.ResponseInputItemParamOfMessage(msg.Content, responses.EasyInputMessageRoleUser))
			}

		default:
			return nil, "", fmt.Errorf("unsupported message role: %s", msg.Role)
		}
	}

	if len(items) == 0 {
		return nil, "", fmt.Errorf("must have at least one non-system message")
	}

	return items, strings.Join(instructionParts, "\n\n"), nil
}

// convertPropertyToSchema recursively converts a Property to OpenAI schema format.
func convertPropertyToSchema(prop *tools.Property) map[string]any {
	schema := map[string]any{
		"type":        prop.Type,
		"description": prop.Description,
	}

	if len(prop.Enum) > 0 {
		schema["enum"] = prop.Enum
	}

	if prop.Type == "array" && prop.Items != nil {
		schema["items"] = convertPropertyToSchema(prop.Items)
	}

	if prop.Type == "object" && prop.Properties != nil {
		properties := make(map[string]any)
		for name, childProp := range prop.Properties {
			if childProp != nil {
				properties[name] = convertPropertyToSchema(childProp)
			}
		}
		schema["properties"] = properties
	}

	return schema
}

// buildParams assembles the ResponseNewParams for one request.
//
//nolint:gocritic // CompletionRequest passed by value matches interface
func (c *Client) buildParams(in llm.CompletionRequest) (responses.ResponseNewParams, error) {
	input, instructions, err := buildInput(in.Messages)
	if err != nil {
		return responses.ResponseNewParams{}, llmerrors.NewError(llmerrors.ErrorTypeBadPrompt, fmt.Sprintf("message conversion error: %v", err))
	}

	// Cap MaxTokens to the model's output ceiling; the API rejects requests
	// above it.
	maxTokens := in.MaxTokens
	if maxTokens <= 0 {
		maxTokens = llm.DefaultMaxTokens
	}
	if info, known := config.GetModelInfo(c.model); known && info.MaxOutputTokens > 0 && maxTokens > info.MaxOutputTokens {
		maxTokens = info.MaxOutputTokens
	}

	params := responses.ResponseNewParams{
		Model:           c.model,
		MaxOutputTokens: openai.Int(int64(maxTokens)),
		Input:           responses.ResponseNewParamsInputUnion{OfInputItemList: input},
	}

	if instructions != "" {
		params.Instructions = openai.String(instructions)
	}

	if supportsTemperature(c.model) {
		params.Temperature = openai.Float(float64(in.Temperature))
	}

	if len(in.Tools) > 0 {
		toolParams := make([]responses.ToolUnionParam, len(in.Tools))
		for i := range in.Tools {
			tool := &in.Tools[i]
			properties := make(map[string]any)
			for name, prop := range tool.InputSchema.Properties {
				properties[name] = convertPropertyToSchema(&prop)
			}

			toolParams[i] = responses.ToolUnionParam{
				OfFunction: &responses.FunctionToolParam{
					Name:        tool.Name,
					Description: openai.String(tool.Description),
					Parameters: openai.FunctionParameters(map[string]any{
						"type":       "object",
						"properties": properties,
						"required":   tool.InputSchema.Required,
					}),
				},
			}
		}
		params.Tools = toolParams
	}

	return params, nil
}

// Complete implements the llm.Provider interface.
//
//nolint:gocritic // CompletionRequest passed by value matches interface
func (c *Client) Complete(ctx context.Context, in llm.CompletionRequest) (llm.CompletionResponse, error) {
	params, err := c.buildParams(in)
	if err != nil {
		return llm.CompletionResponse{}, err
	}

	resp, err := c.client.Responses.New(ctx, params)
	if err != nil {
		classified := c.classifyError(err)
		logger.Debug("OpenAI API error classified as %s: %v", llmerrors.TypeOf(classified), err)
		return llm.CompletionResponse{}, classified
	}

	if resp == nil {
		return llm.CompletionResponse{}, llmerrors.NewError(llmerrors.ErrorTypeEmptyResponse, "received empty response from OpenAI Responses API")
	}

	return c.convertResponse(resp), nil
}

// convertResponse extracts text, tool calls, and usage from an API response.
// Function-call arguments that fail to parse as JSON are surfaced as
// malformed calls rather than request failures; the planner answers those
// with corrective feedback.
func (c *Client) convertResponse(resp *responses.Response) llm.CompletionResponse {
	var toolCalls []llm.ToolCall
	for i := range resp.Output {
		item := &resp.Output[i]
		if item.Type != "function_call" {
			// Text arrives via OutputText; reasoning items stay internal.
			continue
		}

		callID := item.CallID
		if callID == "" {
			callID = item.ID
		}
		if callID == "" {
			callID = fmt.Sprintf("call_%d", len(toolCalls))
		}

		call := llm.ToolCall{ID: callID, Name: item.Name}
		var args map[string]any
		if err := json.Unmarshal([]byte(item.Arguments), &args); err != nil {
			call.Malformed = item.Arguments
		} else {
			call.Parameters = args
		}
		toolCalls = append(toolCalls, call)
	}

	promptTokens := int(resp.Usage.InputTokens)
	completionTokens := int(resp.Usage.OutputTokens)

	return llm.CompletionResponse{
		Content:    resp.OutputText(),
		ToolCalls:  toolCalls,
		StopReason: stopReasonFor(string(resp.Status), string(resp.IncompleteDetails.Reason), len(toolCalls) > 0),
		Usage: llm.Usage{
			PromptTokens:     promptTokens,
			CompletionTokens: completionTokens,
			TotalTokens:      promptTokens + completionTokens,
		},
	}
}

// stopReasonFor normalizes Responses API status into the shared stop vocabulary.
func stopReasonFor(status, incompleteReason string, hasToolCalls bool) string {
	switch status {
	case "completed":
		if hasToolCalls {
			return "tool_use"
		}
		return "end_turn"
	case "incomplete":
		if incompleteReason == "max_output_tokens" {
			return "max_tokens"
		}
		return incompleteReason
	default:
		return status
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

// classifyError maps OpenAI SDK errors to our structured error types.
func (c *Client) classifyError(err error) error {
	if err == nil {
		return nil
	}

	if errors.Is(err, context.DeadlineExceeded) {
		return llmerrors.NewErrorWithCause(llmerrors.ErrorTypeTransient, err, "request timeout")
	}
	if errors.Is(err, context.Canceled) {
		return err
	}

	var apiErr *openai.Error
	if errors.As(err, &apiErr) {
		switch apiErr.StatusCode {
		case 401:
			return llmerrors.NewErrorWithStatus(llmerrors.ErrorTypeAuth, apiErr.StatusCode, "authentication failed - check API key")
		case 403:
			return llmerrors.NewErrorWithStatus(llmerrors.ErrorTypeAuth, apiErr.StatusCode, "permission denied - check API access")
		case 429:
			return llmerrors.NewRateLimitError(apiErr.StatusCode, retryAfterOf(apiErr), "rate limit exceeded")
		case 400, 404, 422:
			// Oversized prompts come back as a 400 naming the context
			// length; the planner resolves those by truncating.
			if msg := strings.ToLower(err.Error()); strings.Contains(msg, "context length") || strings.Contains(msg, "maximum context") {
				return llmerrors.NewErrorWithStatus(llmerrors.ErrorTypeContextOverflow, apiErr.StatusCode, "prompt exceeds the model's context window")
			}
			return llmerrors.NewErrorWithStatus(llmerrors.ErrorTypeBadPrompt, apiErr.StatusCode, "bad request - check prompt format and parameters")
		case 500, 502, 503, 504:
			return llmerrors.NewErrorWithStatus(llmerrors.ErrorTypeTransient, apiErr.StatusCode, "server error")
		}
	}

	errStr := strings.ToLower(err.Error())

	switch {
	case strings.Contains(errStr, "timeout"),
		strings.Contains(errStr, "connection"),
		strings.Contains(errStr, "network"),
		strings.Contains(errStr, "eof"),
		strings.Contains(errStr, "reset"):
		return llmerrors.NewErrorWithCause(llmerrors.ErrorTypeTransient, err, "network or connection error")
	case strings.Contains(errStr, "rate"),
		strings.Contains(errStr, "quota"):
		return llmerrors.NewErrorWithCause(llmerrors.ErrorTypeRateLimit, err, "rate limiting detected")
	case strings.Contains(errStr, "auth"),
		strings.Contains(errStr, "key"),
		strings.Contains(errStr, "unauthorized"):
		return llmerrors.NewErrorWithCause(llmerrors.ErrorTypeAuth, err, "authentication error")
	case strings.Contains(errStr, "context length"),
		strings.Contains(errStr, "maximum context"):
		return llmerrors.NewErrorWithCause(llmerrors.ErrorTypeContextOverflow, err, "prompt exceeds the model's context window")
	case strings.Contains(errStr, "invalid"),
		strings.Contains(errStr, "too large"):
		return llmerrors.NewErrorWithCause(llmerrors.ErrorTypeBadPrompt, err, "prompt or request error")
	default:
		return llmerrors.NewErrorWithCause(llmerrors.ErrorTypeUnknown, err, "unclassified error")
	}
}

// retryAfterOf reads the retry-after response header, when the SDK exposes it.
func retryAfterOf(apiErr *openai.Error) time.Duration {
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
