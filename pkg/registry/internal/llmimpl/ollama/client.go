// Package ollama provides the Ollama adapter for the llm.Provider interface.
// Ollama is a local LLM runtime that serves open-source models.
package ollama

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"slices"
	"strings"

	"github.com/ollama/ollama/api"

	"agentcore/pkg/config"
	"agentcore/pkg/llm"
	"agentcore/pkg/llmerrors"
	"agentcore/pkg/logx"
	"agentcore/pkg/tools"
)

var logger = logx.NewLogger("ollama")

// Client wraps the Ollama API client to implement the llm.Provider interface.
type Client struct {
	client *api.Client
	model  string
	host   string
}

// New creates an Ollama adapter for the given server and model.
// hostURL should be the Ollama server URL (e.g., "http://localhost:11434").
func New(hostURL, model string) *Client {
	if hostURL == "" {
		hostURL = config.DefaultOllamaHost
	}
	parsedURL, err := url.Parse(hostURL)
	if err != nil {
		// Fall back to the default when the URL is invalid
		parsedURL, _ = url.Parse(config.DefaultOllamaHost)
	}

	return &Client{
		client: api.NewClient(parsedURL, http.DefaultClient),
		model:  model,
		host:   hostURL,
	}
}

// Describe reports the model's capabilities from the static model registry.
// Local models not in the registry get conservative defaults.
func (c *Client) Describe() llm.ModelDescriptor {
	info, _ := config.GetModelInfo(c.model)
	return llm.ModelDescriptor{
		ProviderFamily:      config.ProviderOllama,
		ModelID:             c.model,
		ContextWindowTokens: info.MaxContextTokens,
		MaxOutputTokens:     info.MaxOutputTokens,
		SupportsCache:       info.SupportsCache,
		SupportsStreaming:   info.SupportsStreaming,
		InputCostPerMTok:    info.InputCPM,
		OutputCostPerMTok:   info.OutputCPM,
	}
}

// Complete implements the llm.Provider interface.
//
//nolint:gocritic // CompletionRequest passed by value matches interface
func (c *Client) Complete(ctx context.Context, in llm.CompletionRequest) (llm.CompletionResponse, error) {
	req, err := c.buildRequest(in, false)
	if err != nil {
		return llm.CompletionResponse{}, err
	}

	var last api.ChatResponse
	err = c.client.Chat(ctx, req, func(resp api.ChatResponse) error {
		last = resp
		return nil
	})
	if err != nil {
		classified := c.classifyError(err)
		logger.Debug("Ollama API error classified as %s: %v", llmerrors.TypeOf(classified), err)
		return llm.CompletionResponse{}, classified
	}

	result := llm.CompletionResponse{
		Content:    last.Message.Content,
		StopReason: stopReasonFor(&last),
		Usage:      usageOf(&last),
	}
	if len(last.Message.ToolCalls) > 0 {
		result.ToolCalls = convertToolCalls(last.Message.ToolCalls, 0)
	}

	return result, nil
}

// Stream implements the llm.Provider interface using Ollama's native
// streaming. Content arrives as it is generated; tool calls and usage are
// collected and delivered on the final chunk.
//
//nolint:gocritic // CompletionRequest passed by value matches interface
func (c *Client) Stream(ctx context.Context, in llm.CompletionRequest) (<-chan llm.StreamChunk, error) {
	req, err := c.buildRequest(in, true)
	if err != nil {
		return nil, err
	}

	ch := make(chan llm.StreamChunk, 16)
	go func() {
		defer close(ch)

		var toolCalls []llm.ToolCall
		var final api.ChatResponse

		err := c.client.Chat(ctx, req, func(resp api.ChatResponse) error {
			if len(resp.Message.ToolCalls) > 0 {
				toolCalls = append(toolCalls, convertToolCalls(resp.Message.ToolCalls, len(toolCalls))...)
			}
			if resp.Message.Content != "" {
				if !send(ctx, ch, llm.StreamChunk{Content: resp.Message.Content}) {
					return ctx.Err()
				}
			}
			if resp.Done {
				final = resp
			}
			return nil
		})
		if err != nil {
			send(ctx, ch, llm.StreamChunk{Error: c.classifyError(err)})
			return
		}

		usage := usageOf(&final)
		send(ctx, ch, llm.StreamChunk{ToolCalls: toolCalls, Usage: &usage, Done: true})
	}()

	return ch, nil
}

// send delivers a chunk unless the caller has gone away.
func send(ctx context.Context, ch chan<- llm.StreamChunk, chunk llm.StreamChunk) bool {
	select {
	case ch <- chunk:
		return true
	case <-ctx.Done():
		return false
	}
}

// buildRequest assembles a chat request shared by Complete and Stream.
//
//nolint:gocritic // CompletionRequest passed by value matches interface
func (c *Client) buildRequest(in llm.CompletionRequest, stream bool) (*api.ChatRequest, error) {
	messages, err := convertMessages(in.Messages)
	if err != nil {
		return nil, llmerrors.NewError(llmerrors.ErrorTypeBadPrompt, fmt.Sprintf("message conversion error: %v", err))
	}

	maxTokens := in.MaxTokens
	if maxTokens <= 0 {
		maxTokens = llm.DefaultMaxTokens
	}

	req := &api.ChatRequest{
		Model:    c.model,
		Messages: messages,
		Stream:   &stream,
		Options: map[string]any{
			"temperature": in.Temperature,
			"num_predict": maxTokens,
		},
	}
	if len(in.Tools) > 0 {
		req.Tools = convertTools(in.Tools)
	}

	return req, nil
}

// convertMessages converts conversation messages to Ollama's Message format.
// Tool results become separate messages with role "tool".
func convertMessages(messages []llm.CompletionMessage) ([]api.Message, error) {
	if len(messages) == 0 {
		return nil, fmt.Errorf("message list cannot be empty")
	}

	result := make([]api.Message, 0, len(messages))

	for i := range messages {
		msg := &messages[i]

		ollamaMsg := api.Message{
			Role:    string(msg.Role),
			Content: msg.Content,
		}

		if len(msg.ToolCalls) > 0 {
			ollamaMsg.ToolCalls = make([]api.ToolCall, len(msg.ToolCalls))
			for j := range msg.ToolCalls {
				tc := &msg.ToolCalls[j]
				ollamaMsg.ToolCalls[j] = api.ToolCall{
					ID: tc.ID,
					Function: api.ToolCallFunction{
						Name:      tc.Name,
						Arguments: toolCallArgsFor(tc.Parameters),
					},
				}
			}
		}

		if len(msg.ToolResults) > 0 {
			for j := range msg.ToolResults {
				tr := &msg.ToolResults[j]
				result = append(result, api.Message{
					Role:       "tool",
					Content:    tr.Content,
					ToolCallID: tr.ToolCallID,
				})
			}
			// Trailing content in the same message stays a user message
			if msg.Content != "" {
				result = append(result, ollamaMsg)
			}
			continue
		}

		result = append(result, ollamaMsg)
	}

	return result, nil
}

// sortedKeys returns the keys of m in sorted order so converted requests
// are deterministic despite map iteration order.
func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	slices.Sort(keys)
	return keys
}

// toolCallArgsFor converts a parameter map to Ollama's ordered argument type.
func toolCallArgsFor(params map[string]any) api.ToolCallFunctionArguments {
	args := api.NewToolCallFunctionArguments()
	for _, k := range sortedKeys(params) {
		args.Set(k, params[k])
	}
	return args
}

// convertTools converts tool definitions to Ollama's Tool format.
func convertTools(toolDefs []tools.ToolDefinition) api.Tools {
	ollamaTools := make(api.Tools, len(toolDefs))

	for i := range toolDefs {
		td := &toolDefs[i]
		properties := api.NewToolPropertiesMap()
		for _, name := range sortedKeys(td.InputSchema.Properties) {
			prop := td.InputSchema.Properties[name]
			properties.Set(name, propertyFor(&prop))
		}

		ollamaTools[i] = api.Tool{
			Type: "function",
			Function: api.ToolFunction{
				Name:        td.Name,
				Description: td.Description,
				Parameters: api.ToolFunctionParameters{
					Type:       td.InputSchema.Type,
					Properties: properties,
					Required:   td.InputSchema.Required,
				},
			},
		}
	}

	return ollamaTools
}

// propertyFor converts a tool property to Ollama format.
func propertyFor(prop *tools.Property) api.ToolProperty {
	ollamaProp := api.ToolProperty{
		Type:        api.PropertyType{prop.Type},
		Description: prop.Description,
	}

	if len(prop.Enum) > 0 {
		enumVals := make([]any, len(prop.Enum))
		for i, v := range prop.Enum {
			enumVals[i] = v
		}
		ollamaProp.Enum = enumVals
	}

	// Nested object schemas ride in the items field
	if prop.Properties != nil {
		nestedProps := make(map[string]api.ToolProperty)
		for name, nestedProp := range prop.Properties {
			if nestedProp != nil {
				nestedProps[name] = propertyFor(nestedProp)
			}
		}
		ollamaProp.Items = map[string]any{
			"type":       "object",
			"properties": nestedProps,
		}
	}

	if prop.Items != nil {
		ollamaProp.Items = propertyFor(prop.Items)
	}

	return ollamaProp
}

// convertToolCalls extracts tool calls from an Ollama response. base offsets
// generated IDs so accumulation across stream chunks stays unique.
func convertToolCalls(calls []api.ToolCall, base int) []llm.ToolCall {
	result := make([]llm.ToolCall, len(calls))

	for i := range calls {
		call := &calls[i]
		id := call.ID
		if id == "" {
			id = fmt.Sprintf("call_%d", base+i)
		}

		result[i] = llm.ToolCall{
			ID:         id,
			Name:       call.Function.Name,
			Parameters: call.Function.Arguments.ToMap(),
		}
	}

	return result
}

// stopReasonFor converts Ollama's done_reason to the shared stop vocabulary.
func stopReasonFor(resp *api.ChatResponse) string {
	if !resp.Done {
		return "incomplete"
	}

	switch resp.DoneReason {
	case "stop":
		return "end_turn"
	case "length":
		return "max_tokens"
	case "":
		// Done with no reason reported means normal completion
		return "end_turn"
	default:
		return resp.DoneReason
	}
}

// usageOf extracts token counts from response metrics. Ollama reports eval
// counts only on the final response of a generation.
func usageOf(resp *api.ChatResponse) llm.Usage {
	prompt := resp.PromptEvalCount
	completion := resp.EvalCount
	return llm.Usage{
		PromptTokens:     prompt,
		CompletionTokens: completion,
		TotalTokens:      prompt + completion,
	}
}

// classifyError maps Ollama errors to our structured error types.
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

	var statusErr api.StatusError
	if errors.As(err, &statusErr) {
		switch {
		case statusErr.StatusCode == 401 || statusErr.StatusCode == 403:
			return llmerrors.NewErrorWithStatus(llmerrors.ErrorTypeAuth, statusErr.StatusCode, "authentication failed - check server access")
		case statusErr.StatusCode == 404:
			return llmerrors.NewErrorWithStatus(llmerrors.ErrorTypeBadPrompt, statusErr.StatusCode, fmt.Sprintf("model %q not available - pull it first", c.model))
		case statusErr.StatusCode == 429:
			return llmerrors.NewRateLimitError(statusErr.StatusCode, 0, "server busy")
		case statusErr.StatusCode >= 500:
			return llmerrors.NewErrorWithStatus(llmerrors.ErrorTypeTransient, statusErr.StatusCode, "server error")
		}
	}

	errStr := strings.ToLower(err.Error())

	switch {
	case strings.Contains(errStr, "connection refused"):
		return llmerrors.NewErrorWithCause(llmerrors.ErrorTypeTransient, err, fmt.Sprintf("Ollama server not reachable at %s", c.host))
	case strings.Contains(errStr, "model") && strings.Contains(errStr, "not found"):
		return llmerrors.NewErrorWithCause(llmerrors.ErrorTypeBadPrompt, err, "model not found - pull it first")
	case strings.Contains(errStr, "timeout"),
		strings.Contains(errStr, "connection"),
		strings.Contains(errStr, "network"):
		return llmerrors.NewErrorWithCause(llmerrors.ErrorTypeTransient, err, "network or connection error")
	default:
		return llmerrors.NewErrorWithCause(llmerrors.ErrorTypeUnknown, err, "Ollama API error")
	}
}
