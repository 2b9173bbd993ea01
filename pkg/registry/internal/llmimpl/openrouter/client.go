// Package openrouter provides the OpenRouter adapter for the llm.Provider
// interface. OpenRouter is a routing aggregator exposing hundreds of models
// behind one OpenAI-compatible endpoint; requests carry optional provider
// preferences that the remote router acts on.
package openrouter

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"agentcore/pkg/config"
	"agentcore/pkg/llm"
	"agentcore/pkg/llmerrors"
	"agentcore/pkg/logx"
	"agentcore/pkg/tools"
)

const defaultBaseURL = "https://openrouter.ai/api/v1"

// Scanner buffer for SSE lines; single data lines can carry large tool
// argument payloads.
const maxLineBytes = 1 << 20

var logger = logx.NewLogger("openrouter")

// Options carries optional adapter configuration.
type Options struct {
	BaseURL string // Endpoint override, defaults to the public API
	Routing *config.RoutingConfig
}

// Client implements llm.Provider against the OpenRouter chat completions API.
//
//nolint:govet // fieldalignment: logical grouping preferred
type Client struct {
	httpClient *http.Client
	apiKey     string
	model      string
	baseURL    string
	referer    string
	title      string
	prefs      *preferences
}

// preferences mirrors OpenRouter's provider routing object. Nil fields are
// omitted so the router keeps its defaults.
type preferences struct {
	Order             []string `json:"order,omitempty"`
	AllowFallbacks    *bool    `json:"allow_fallbacks,omitempty"`
	RequireParameters *bool    `json:"require_parameters,omitempty"`
}

// New creates an OpenRouter adapter (raw provider, middleware applied at
// higher level).
func New(apiKey, model string, opts Options) *Client {
	if model == "" {
		model = config.ModelOpenRouterDefault
	}
	baseURL := opts.BaseURL
	if baseURL == "" {
		baseURL = defaultBaseURL
	}

	c := &Client{
		// No client-level timeout: streams outlive any sane request
		// timeout, and the context bounds each call.
		httpClient: &http.Client{},
		apiKey:     apiKey,
		model:      model,
		baseURL:    strings.TrimRight(baseURL, "/"),
	}

	if r := opts.Routing; r != nil {
		c.referer = r.HTTPReferer
		c.title = r.XTitle
		if len(r.Order) > 0 || r.AllowFallbacks != nil || r.RequireParameters != nil {
			c.prefs = &preferences{
				Order:             r.Order,
				AllowFallbacks:    r.AllowFallbacks,
				RequireParameters: r.RequireParameters,
			}
		}
	}

	return c
}

// Describe reports the model's capabilities from the static model registry.
// Aggregator model IDs are "<vendor>/<model>" and mostly resolve through the
// registry's openrouter entries.
func (c *Client) Describe() llm.ModelDescriptor {
	info, _ := config.GetModelInfo(c.model)
	return llm.ModelDescriptor{
		ProviderFamily:      config.ProviderOpenRouter,
		ModelID:             c.model,
		ContextWindowTokens: info.MaxContextTokens,
		MaxOutputTokens:     info.MaxOutputTokens,
		SupportsCache:       info.SupportsCache,
		SupportsStreaming:   info.SupportsStreaming,
		InputCostPerMTok:    info.InputCPM,
		OutputCostPerMTok:   info.OutputCPM,
	}
}

// Wire types for the OpenAI-compatible chat completions surface.

//nolint:govet // fieldalignment: wire layout follows the API docs
type chatRequest struct {
	Model         string         `json:"model"`
	Messages      []chatMessage  `json:"messages"`
	Stream        bool           `json:"stream"`
	MaxTokens     int            `json:"max_tokens,omitempty"`
	Temperature   *float32       `json:"temperature,omitempty"`
	Tools         []chatTool     `json:"tools,omitempty"`
	ToolChoice    string         `json:"tool_choice,omitempty"`
	Provider      *preferences   `json:"provider,omitempty"`
	StreamOptions *streamOptions `json:"stream_options,omitempty"`
}

type streamOptions struct {
	IncludeUsage bool `json:"include_usage"`
}

type chatMessage struct {
	Role       string         `json:"role"`
	Content    string         `json:"content"`
	ToolCalls  []chatToolCall `json:"tool_calls,omitempty"`
	ToolCallID string         `json:"tool_call_id,omitempty"`
}

type chatToolCall struct {
	ID       string       `json:"id"`
	Type     string       `json:"type"`
	Function chatFunction `json:"function"`
}

type chatFunction struct {
	Name      string `json:"name"`
	Arguments string `json:"arguments"` // JSON-encoded argument object
}

type chatTool struct {
	Type     string         `json:"type"`
	Function chatToolSchema `json:"function"`
}

type chatToolSchema struct {
	Name        string            `json:"name"`
	Description string            `json:"description,omitempty"`
	Parameters  tools.InputSchema `json:"parameters"`
}

type chatUsage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

type chatResponse struct {
	Choices []chatChoice `json:"choices"`
	Usage   *chatUsage   `json:"usage"`
}

type chatChoice struct {
	Message      respMessage `json:"message"`
	FinishReason string      `json:"finish_reason"`
}

type respMessage struct {
	Content   string         `json:"content"`
	ToolCalls []chatToolCall `json:"tool_calls"`
}

type streamEnvelope struct {
	Choices []streamChoice `json:"choices"`
	Usage   *chatUsage     `json:"usage"`
}

type streamChoice struct {
	Delta        streamDelta `json:"delta"`
	FinishReason string      `json:"finish_reason"`
}

type streamDelta struct {
	Content   string          `json:"content"`
	ToolCalls []deltaToolCall `json:"tool_calls"`
}

type deltaToolCall struct {
	Index    *int           `json:"index"`
	ID       string         `json:"id"`
	Function *deltaFunction `json:"function"`
}

type deltaFunction struct {
	Name      string `json:"name"`
	Arguments string `json:"arguments"`
}

type errorBody struct {
	Error struct {
		Code    any    `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

// buildBody assembles the request body shared by Complete and Stream.
//
//nolint:gocritic // CompletionRequest passed by value matches interface
func (c *Client) buildBody(in llm.CompletionRequest, stream bool) (chatRequest, error) {
	messages, err := convertMessages(in.Messages)
	if err != nil {
		return chatRequest{}, llmerrors.NewError(llmerrors.ErrorTypeBadPrompt, fmt.Sprintf("message conversion error: %v", err))
	}

	maxTokens := in.MaxTokens
	if maxTokens <= 0 {
		maxTokens = llm.DefaultMaxTokens
	}

	temperature := in.Temperature
	body := chatRequest{
		Model:       c.model,
		Messages:    messages,
		Stream:      stream,
		MaxTokens:   maxTokens,
		Temperature: &temperature,
		Provider:    c.prefs,
	}

	if len(in.Tools) > 0 {
		body.Tools = make([]chatTool, len(in.Tools))
		for i := range in.Tools {
			td := &in.Tools[i]
			body.Tools[i] = chatTool{
				Type: "function",
				Function: chatToolSchema{
					Name:        td.Name,
					Description: td.Description,
					Parameters:  td.InputSchema,
				},
			}
		}
		if in.ToolChoice == "any" {
			body.ToolChoice = "required"
		}
	}

	if stream {
		// Usage arrives on a final data frame only when asked for.
		body.StreamOptions = &streamOptions{IncludeUsage: true}
	}

	return body, nil
}

// convertMessages converts conversation messages to the OpenAI-compatible
// chat format. Tool results become separate messages with role "tool".
func convertMessages(messages []llm.CompletionMessage) ([]chatMessage, error) {
	if len(messages) == 0 {
		return nil, fmt.Errorf("message list cannot be empty")
	}

	result := make([]chatMessage, 0, len(messages))

	for i := range messages {
		msg := &messages[i]

		switch msg.Role {
		case llm.RoleSystem, llm.RoleUser, llm.RoleAssistant:
		default:
			return nil, fmt.Errorf("unsupported message role: %s", msg.Role)
		}

		converted := chatMessage{
			Role:    string(msg.Role),
			Content: msg.Content,
		}

		for j := range msg.ToolCalls {
			tc := &msg.ToolCalls[j]
			args, err := json.Marshal(tc.Parameters)
			if err != nil {
				return nil, fmt.Errorf("marshal arguments for tool call %s: %w", tc.ID, err)
			}
			converted.ToolCalls = append(converted.ToolCalls, chatToolCall{
				ID:       tc.ID,
				Type:     "function",
				Function: chatFunction{Name: tc.Name, Arguments: string(args)},
			})
		}

		if len(msg.ToolResults) > 0 {
			for j := range msg.ToolResults {
				tr := &msg.ToolResults[j]
				if tr.ToolCallID == "" {
					continue
				}
				content := tr.Content
				if tr.IsError {
					content = "ERROR: " + content
				}
				result = append(result, chatMessage{
					Role:       "tool",
					Content:    content,
					ToolCallID: tr.ToolCallID,
				})
			}
			// Trailing content in the same message stays a user message
			if msg.Content != "" {
				result = append(result, converted)
			}
			continue
		}

		result = append(result, converted)
	}

	return result, nil
}

// post sends one chat completions request with auth and analytics headers.
func (c *Client) post(ctx context.Context, body chatRequest) (*http.Response, error) {
	payload, err := json.Marshal(body)
	if err != nil {
		return nil, llmerrors.NewErrorWithCause(llmerrors.ErrorTypeBadPrompt, err, "marshal request body")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/chat/completions", bytes.NewReader(payload))
	if err != nil {
		return nil, llmerrors.NewErrorWithCause(llmerrors.ErrorTypeUnknown, err, "build request")
	}

	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.apiKey)
	if c.referer != "" {
		req.Header.Set("HTTP-Referer", c.referer)
	}
	if c.title != "" {
		req.Header.Set("X-Title", c.title)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, c.classifyTransportError(err)
	}
	return resp, nil
}

// Complete implements the llm.Provider interface.
//
//nolint:gocritic // CompletionRequest passed by value matches interface
func (c *Client) Complete(ctx context.Context, in llm.CompletionRequest) (llm.CompletionResponse, error) {
	body, err := c.buildBody(in, false)
	if err != nil {
		return llm.CompletionResponse{}, err
	}

	resp, err := c.post(ctx, body)
	if err != nil {
		return llm.CompletionResponse{}, err
	}
	defer resp.Body.Close() //nolint:errcheck // response body cleanup

	if resp.StatusCode != http.StatusOK {
		return llm.CompletionResponse{}, c.classifyHTTPError(resp)
	}

	var parsed chatResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return llm.CompletionResponse{}, llmerrors.NewErrorWithCause(llmerrors.ErrorTypeTransient, err, "decode response body")
	}

	if len(parsed.Choices) == 0 {
		return llm.CompletionResponse{}, llmerrors.NewError(llmerrors.ErrorTypeEmptyResponse, "received response with no choices from OpenRouter")
	}

	return convertResponse(&parsed), nil
}

// convertResponse extracts text, tool calls, and usage from a completed
// chat response. Tool arguments that fail to parse as JSON surface as
// malformed calls for the caller's corrective feedback loop.
func convertResponse(parsed *chatResponse) llm.CompletionResponse {
	choice := &parsed.Choices[0]

	var toolCalls []llm.ToolCall
	for i := range choice.Message.ToolCalls {
		tc := &choice.Message.ToolCalls[i]
		toolCalls = append(toolCalls, toToolCall(tc.ID, tc.Function.Name, tc.Function.Arguments, i))
	}

	out := llm.CompletionResponse{
		Content:    choice.Message.Content,
		ToolCalls:  toolCalls,
		StopReason: stopReasonFor(choice.FinishReason, len(toolCalls) > 0),
	}
	if parsed.Usage != nil {
		out.Usage = llm.Usage{
			PromptTokens:     parsed.Usage.PromptTokens,
			CompletionTokens: parsed.Usage.CompletionTokens,
			TotalTokens:      parsed.Usage.TotalTokens,
		}
	}
	return out
}

// toToolCall builds one tool call, marking unparseable arguments malformed.
func toToolCall(id, name, arguments string, ordinal int) llm.ToolCall {
	if id == "" {
		id = fmt.Sprintf("call_%d", ordinal)
	}
	call := llm.ToolCall{ID: id, Name: name}

	var args map[string]any
	if arguments == "" {
		call.Parameters = map[string]any{}
	} else if err := json.Unmarshal([]byte(arguments), &args); err != nil {
		call.Malformed = arguments
	} else {
		call.Parameters = args
	}
	return call
}

// stopReasonFor normalizes finish_reason into the shared stop vocabulary.
func stopReasonFor(finishReason string, hasToolCalls bool) string {
	switch finishReason {
	case "stop", "":
		if hasToolCalls {
			return "tool_use"
		}
		return "end_turn"
	case "length":
		return "max_tokens"
	case "tool_calls":
		return "tool_use"
	default:
		return finishReason
	}
}

// streamingToolCall accumulates one tool call across SSE deltas. The router
// sends the id and name once and fragments the argument string.
type streamingToolCall struct {
	id   string
	name string
	// pointer so the builder survives slice growth; copying a non-zero
	// strings.Builder by value panics
	args *strings.Builder
}

// Stream implements the llm.Provider interface with true server-sent-event
// streaming: content deltas are forwarded as they arrive, tool calls and
// usage are assembled and delivered on the final chunk.
//
//nolint:gocritic // CompletionRequest passed by value matches interface
func (c *Client) Stream(ctx context.Context, in llm.CompletionRequest) (<-chan llm.StreamChunk, error) {
	body, err := c.buildBody(in, true)
	if err != nil {
		return nil, err
	}

	resp, err := c.post(ctx, body)
	if err != nil {
		return nil, err
	}

	if resp.StatusCode != http.StatusOK {
		defer resp.Body.Close() //nolint:errcheck // response body cleanup
		return nil, c.classifyHTTPError(resp)
	}

	ch := make(chan llm.StreamChunk, 16)
	go c.consumeStream(ctx, resp.Body, ch)
	return ch, nil
}

// consumeStream parses the SSE body until [DONE] or error.
func (c *Client) consumeStream(ctx context.Context, rc io.ReadCloser, ch chan<- llm.StreamChunk) {
	defer close(ch)
	defer rc.Close() //nolint:errcheck // response body cleanup

	var pending []streamingToolCall
	var usage *llm.Usage

	scanner := bufio.NewScanner(rc)
	scanner.Buffer(make([]byte, 0, 64*1024), maxLineBytes)

	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, ":") {
			continue // keep-alive comment or frame separator
		}
		data, ok := strings.CutPrefix(line, "data: ")
		if !ok {
			continue
		}
		if data == "[DONE]" {
			send(ctx, ch, llm.StreamChunk{ToolCalls: finalizeToolCalls(pending), Usage: usage, Done: true})
			return
		}

		var envelope streamEnvelope
		if err := json.Unmarshal([]byte(data), &envelope); err != nil {
			logger.Debug("skipping unparseable stream frame: %v", err)
			continue
		}

		for i := range envelope.Choices {
			choice := &envelope.Choices[i]
			if choice.Delta.Content != "" {
				if !send(ctx, ch, llm.StreamChunk{Content: choice.Delta.Content}) {
					return
				}
			}
			accumulateToolCalls(&pending, choice.Delta.ToolCalls)
		}

		if envelope.Usage != nil {
			usage = &llm.Usage{
				PromptTokens:     envelope.Usage.PromptTokens,
				CompletionTokens: envelope.Usage.CompletionTokens,
				TotalTokens:      envelope.Usage.TotalTokens,
			}
		}
	}

	if err := scanner.Err(); err != nil {
		send(ctx, ch, llm.StreamChunk{Error: c.classifyTransportError(err)})
		return
	}

	// Stream ended without a [DONE] marker; deliver what was assembled.
	send(ctx, ch, llm.StreamChunk{ToolCalls: finalizeToolCalls(pending), Usage: usage, Done: true})
}

// accumulateToolCalls merges tool-call deltas into the pending set by index.
func accumulateToolCalls(pending *[]streamingToolCall, deltas []deltaToolCall) {
	for i := range deltas {
		delta := &deltas[i]
		if delta.Index == nil {
			continue
		}
		idx := *delta.Index
		if idx < 0 {
			continue
		}
		for len(*pending) <= idx {
			*pending = append(*pending, streamingToolCall{args: &strings.Builder{}})
		}
		call := &(*pending)[idx]
		if delta.ID != "" {
			call.id = delta.ID
		}
		if delta.Function != nil {
			if delta.Function.Name != "" {
				call.name = delta.Function.Name
			}
			call.args.WriteString(delta.Function.Arguments)
		}
	}
}

// finalizeToolCalls converts accumulated deltas into tool calls. Entries that
// never received a name are dropped; argument fragments that do not form
// valid JSON surface as malformed calls.
func finalizeToolCalls(pending []streamingToolCall) []llm.ToolCall {
	var calls []llm.ToolCall
	for i := range pending {
		p := &pending[i]
		if p.name == "" {
			continue
		}
		calls = append(calls, toToolCall(p.id, p.name, p.args.String(), i))
	}
	return calls
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

// classifyHTTPError reads a non-2xx response and maps it to a structured
// error. The router reports upstream-provider failures with its own status
// codes; 402 means the account is out of credits.
func (c *Client) classifyHTTPError(resp *http.Response) error {
	raw, _ := io.ReadAll(io.LimitReader(resp.Body, 8192))

	message := strings.TrimSpace(string(raw))
	var parsed errorBody
	if err := json.Unmarshal(raw, &parsed); err == nil && parsed.Error.Message != "" {
		message = parsed.Error.Message
	}

	status := resp.StatusCode
	switch {
	case status == 401 || status == 403:
		return llmerrors.NewErrorWithStatus(llmerrors.ErrorTypeAuth, status, fmt.Sprintf("authentication failed: %s", message))
	case status == 402:
		return llmerrors.NewErrorWithStatus(llmerrors.ErrorTypeAuth, status, fmt.Sprintf("insufficient credits: %s", message))
	case status == 429:
		return llmerrors.NewRateLimitError(status, retryAfterOf(resp.Header.Get("Retry-After")), fmt.Sprintf("rate limit exceeded: %s", message))
	case status == 408:
		return llmerrors.NewErrorWithStatus(llmerrors.ErrorTypeTransient, status, fmt.Sprintf("request timeout: %s", message))
	case status == 400 && looksLikeOverflow(message):
		return llmerrors.NewError(llmerrors.ErrorTypeContextOverflow, fmt.Sprintf("router rejected oversized prompt: %s", message))
	case status == 400 || status == 404 || status == 413 || status == 422:
		return llmerrors.NewErrorWithStatus(llmerrors.ErrorTypeBadPrompt, status, fmt.Sprintf("bad request: %s", message))
	case status >= 500:
		return llmerrors.NewErrorWithStatus(llmerrors.ErrorTypeTransient, status, fmt.Sprintf("server error: %s", message))
	default:
		return llmerrors.NewErrorWithStatus(llmerrors.ErrorTypeUnknown, status, fmt.Sprintf("unexpected status: %s", message))
	}
}

// looksLikeOverflow reports whether an error message describes a prompt that
// exceeded the model's context window.
func looksLikeOverflow(message string) bool {
	lowered := strings.ToLower(message)
	return strings.Contains(lowered, "context length") ||
		strings.Contains(lowered, "context window") ||
		strings.Contains(lowered, "maximum context") ||
		strings.Contains(lowered, "too many tokens")
}

// classifyTransportError maps connection-level failures.
func (c *Client) classifyTransportError(err error) error {
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

	errStr := strings.ToLower(err.Error())
	switch {
	case strings.Contains(errStr, "timeout"),
		strings.Contains(errStr, "connection"),
		strings.Contains(errStr, "network"),
		strings.Contains(errStr, "eof"),
		strings.Contains(errStr, "reset"):
		return llmerrors.NewErrorWithCause(llmerrors.ErrorTypeTransient, err, "network or connection error")
	default:
		return llmerrors.NewErrorWithCause(llmerrors.ErrorTypeUnknown, err, "transport error")
	}
}

// retryAfterOf parses a Retry-After header given in seconds.
func retryAfterOf(header string) time.Duration {
	if header == "" {
		return 0
	}
	seconds, err := strconv.Atoi(header)
	if err != nil || seconds <= 0 {
		return 0
	}
	return time.Duration(seconds) * time.Second
}
