// Package google provides the Google Gemini adapter for the llm.Provider interface.
package google

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"google.golang.org/genai"

	"agentcore/pkg/config"
	"agentcore/pkg/llm"
	"agentcore/pkg/llmerrors"
	"agentcore/pkg/logx"
	"agentcore/pkg/tools"
)

var logger = logx.NewLogger("google")

// Client wraps the Google GenAI client to implement the llm.Provider interface.
//
// Gemini attaches thought signatures to assistant turns that must be replayed
// verbatim on the next request, so the client keeps every raw response and
// substitutes it for the matching assistant message during conversion. The
// replay cache assumes one conversation per client; a request that starts a
// fresh conversation resets it.
//
//nolint:govet // fieldalignment: logical grouping preferred
type Client struct {
	client        *genai.Client
	apiKey        string
	model         string
	mu            sync.Mutex
	responseCache []*genai.Content
}

// New creates a Gemini adapter (raw provider, middleware applied at higher level).
// The SDK needs a context to construct its client, so construction is deferred
// to the first request.
func New(apiKey, model string) *Client {
	if model == "" {
		model = config.ModelGemini25Flash
	}
	return &Client{apiKey: apiKey, model: model}
}

// Describe reports the model's capabilities from the static model registry.
func (c *Client) Describe() llm.ModelDescriptor {
	info, _ := config.GetModelInfo(c.model)
	return llm.ModelDescriptor{
		ProviderFamily:      config.ProviderGoogle,
		ModelID:             c.model,
		ContextWindowTokens: info.MaxContextTokens,
		MaxOutputTokens:     info.MaxOutputTokens,
		SupportsCache:       info.SupportsCache,
		SupportsStreaming:   info.SupportsStreaming,
		InputCostPerMTok:    info.InputCPM,
		OutputCostPerMTok:   info.OutputCPM,
	}
}

// ensureClient constructs the genai client on first use.
func (c *Client) ensureClient(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.client != nil {
		return nil
	}
	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  c.apiKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return llmerrors.NewErrorWithCause(llmerrors.ErrorTypeAuth, err, "failed to create Gemini client")
	}
	c.client = client
	return nil
}

// replayHistory returns the cached assistant responses to substitute during
// message conversion. A request with no assistant turns starts a fresh
// conversation and drops replay state from the previous one.
func (c *Client) replayHistory(messages []llm.CompletionMessage) []*genai.Content {
	fresh := true
	for i := range messages {
		if messages[i].Role == llm.RoleAssistant {
			fresh = false
			break
		}
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if fresh {
		c.responseCache = nil
		return nil
	}
	return c.responseCache
}

func (c *Client) rememberResponse(content *genai.Content) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.responseCache = append(c.responseCache, content)
}

// Complete implements the llm.Provider interface.
//
//nolint:gocritic // CompletionRequest passed by value matches interface
func (c *Client) Complete(ctx context.Context, in llm.CompletionRequest) (llm.CompletionResponse, error) {
	if err := c.ensureClient(ctx); err != nil {
		return llm.CompletionResponse{}, err
	}

	contents, systemInstruction, err := convertMessages(in.Messages, c.replayHistory(in.Messages))
	if err != nil {
		return llm.CompletionResponse{}, llmerrors.NewError(llmerrors.ErrorTypeBadPrompt, fmt.Sprintf("message conversion error: %v", err))
	}

	result, err := c.client.Models.GenerateContent(ctx, c.model, contents, buildConfig(in, systemInstruction))
	if err != nil {
		classified := c.classifyError(err)
		logger.Debug("Gemini API error classified as %s: %v", llmerrors.TypeOf(classified), err)
		return llm.CompletionResponse{}, classified
	}

	if result == nil || len(result.Candidates) == 0 {
		return llm.CompletionResponse{}, llmerrors.NewError(llmerrors.ErrorTypeEmptyResponse, "received empty or nil response from Gemini API")
	}

	// Keep the raw assistant content so the next turn replays its thought
	// signatures.
	if result.Candidates[0].Content != nil {
		c.rememberResponse(result.Candidates[0].Content)
	}

	return convertResponse(result), nil
}

// buildConfig assembles the generation config for one request.
//
//nolint:gocritic // CompletionRequest passed by value matches interface
func buildConfig(in llm.CompletionRequest, systemInstruction string) *genai.GenerateContentConfig {
	maxTokens := in.MaxTokens
	if maxTokens <= 0 {
		maxTokens = llm.DefaultMaxTokens
	}

	temperature := in.Temperature
	cfg := &genai.GenerateContentConfig{
		Temperature: &temperature,
		//nolint:gosec // MaxTokens bounded by the caller's output budget
		MaxOutputTokens: int32(maxTokens),
	}

	if systemInstruction != "" {
		cfg.SystemInstruction = &genai.Content{
			Parts: []*genai.Part{{Text: systemInstruction}},
		}
	}

	if len(in.Tools) > 0 {
		cfg.Tools = []*genai.Tool{
			{FunctionDeclarations: convertTools(in.Tools)},
		}
		cfg.ToolConfig = &genai.ToolConfig{
			FunctionCallingConfig: &genai.FunctionCallingConfig{
				Mode: toolModeFor(in.ToolChoice),
			},
		}
	}

	return cfg
}

// toolModeFor picks the function-calling mode. Gemini may return empty
// responses when tool use is left optional, especially when the available
// tools change between turns, so tools are forced unless the request asks
// for auto.
func toolModeFor(choice string) genai.FunctionCallingConfigMode {
	if choice == "auto" {
		return genai.FunctionCallingConfigModeAuto
	}
	return genai.FunctionCallingConfigModeAny
}

// convertMessages converts conversation messages to Gemini's Content format.
// Returns the contents array and an optional system instruction. Assistant
// turns that match an entry in replay are substituted with the cached raw
// response so thought signatures survive the round trip.
func convertMessages(messages []llm.CompletionMessage, replay []*genai.Content) ([]*genai.Content, string, error) {
	if len(messages) == 0 {
		return nil, "", fmt.Errorf("message list cannot be empty")
	}

	var systemInstruction string
	var contents []*genai.Content
	assistantIdx := 0

	for i := range messages {
		msg := &messages[i]

		if msg.Role == llm.RoleSystem {
			if systemInstruction != "" {
				systemInstruction += "\n\n" + msg.Content
			} else {
				systemInstruction = msg.Content
			}
			continue
		}

		var role string
		switch msg.Role {
		case llm.RoleUser:
			role = "user"
		case llm.RoleAssistant:
			role = "model" // Gemini uses "model" instead of "assistant"
		default:
			return nil, "", fmt.Errorf("unsupported message role: %s", msg.Role)
		}

		if msg.Role == llm.RoleAssistant {
			if len(msg.ToolCalls) > 0 && assistantIdx < len(replay) {
				contents = append(contents, replay[assistantIdx])
				assistantIdx++
				continue
			}
			assistantIdx++
		}

		var parts []*genai.Part

		if msg.Content != "" {
			parts = append(parts, &genai.Part{Text: msg.Content})
		}

		for j := range msg.ToolCalls {
			tc := &msg.ToolCalls[j]
			parts = append(parts, &genai.Part{
				FunctionCall: &genai.FunctionCall{
					ID:   tc.ID,
					Name: tc.Name,
					Args: tc.Parameters,
				},
			})
		}

		for j := range msg.ToolResults {
			tr := &msg.ToolResults[j]
			// Gemini matches results by function name, not call ID.
			name := tr.Name
			if name == "" {
				name = tr.ToolCallID
			}
			if name == "" {
				continue
			}
			parts = append(parts, &genai.Part{
				FunctionResponse: &genai.FunctionResponse{
					Name: name,
					Response: map[string]any{
						"content":  tr.Content,
						"is_error": tr.IsError,
					},
				},
			})
		}

		if len(parts) > 0 {
			contents = append(contents, &genai.Content{
				Role:  role,
				Parts: parts,
			})
		}
	}

	return contents, systemInstruction, nil
}

// convertTools converts tool definitions to Gemini function declarations.
func convertTools(toolDefs []tools.ToolDefinition) []*genai.FunctionDeclaration {
	declarations := make([]*genai.FunctionDeclaration, len(toolDefs))

	for i := range toolDefs {
		tool := &toolDefs[i]

		properties := make(map[string]*genai.Schema)
		for propName := range tool.InputSchema.Properties {
			prop := tool.InputSchema.Properties[propName]
			properties[propName] = propertySchema(&prop)
		}

		declarations[i] = &genai.FunctionDeclaration{
			Name:        tool.Name,
			Description: tool.Description,
			Parameters: &genai.Schema{
				Type:       genai.TypeObject,
				Properties: properties,
				Required:   tool.InputSchema.Required,
			},
		}
	}

	return declarations
}

// propertySchema recursively converts a tool property to a Gemini schema.
func propertySchema(prop *tools.Property) *genai.Schema {
	schema := &genai.Schema{
		Description: prop.Description,
	}

	switch prop.Type {
	case "string":
		schema.Type = genai.TypeString
	case "number":
		schema.Type = genai.TypeNumber
	case "integer":
		schema.Type = genai.TypeInteger
	case "boolean":
		schema.Type = genai.TypeBoolean
	case "array":
		schema.Type = genai.TypeArray
		if prop.Items != nil {
			schema.Items = propertySchema(prop.Items)
		}
	case "object":
		schema.Type = genai.TypeObject
		if prop.Properties != nil {
			properties := make(map[string]*genai.Schema)
			for name, childProp := range prop.Properties {
				if childProp != nil {
					properties[name] = propertySchema(childProp)
				}
			}
			schema.Properties = properties
		}
	default:
		// Unknown types degrade to string
		schema.Type = genai.TypeString
	}

	if len(prop.Enum) > 0 {
		schema.Enum = prop.Enum
	}

	return schema
}

// convertResponse extracts text, tool calls, usage, and the finish reason.
func convertResponse(result *genai.GenerateContentResponse) llm.CompletionResponse {
	resp := llm.CompletionResponse{Content: result.Text()}

	if calls := result.FunctionCalls(); len(calls) > 0 {
		resp.ToolCalls = make([]llm.ToolCall, len(calls))
		for i, call := range calls {
			// Gemini usually omits call IDs; fall back to the function name
			// so results can still be matched to the call that produced them.
			id := call.ID
			if id == "" {
				id = call.Name
			}
			resp.ToolCalls[i] = llm.ToolCall{ID: id, Name: call.Name, Parameters: call.Args}
		}
	}

	cand := result.Candidates[0]

	// Unparseable tool-call output arrives as a finish reason rather than a
	// content block. Surface it as a malformed call so the caller answers
	// with corrective feedback instead of treating the turn as final text.
	if cand.FinishReason == genai.FinishReasonMalformedFunctionCall {
		detail := cand.FinishMessage
		if detail == "" {
			detail = "model emitted a function call that could not be parsed"
		}
		resp.ToolCalls = append(resp.ToolCalls, llm.ToolCall{Malformed: detail})
	}

	resp.StopReason = stopReasonFor(cand.FinishReason, len(resp.ToolCalls) > 0)

	if meta := result.UsageMetadata; meta != nil {
		promptTokens := int(meta.PromptTokenCount)
		// Gemini 2.5 bills thinking tokens as output but reports them apart
		// from candidate tokens.
		completionTokens := int(meta.CandidatesTokenCount + meta.ThoughtsTokenCount)
		totalTokens := int(meta.TotalTokenCount)
		if totalTokens == 0 {
			totalTokens = promptTokens + completionTokens
		}
		resp.Usage = llm.Usage{
			PromptTokens:     promptTokens,
			CompletionTokens: completionTokens,
			TotalTokens:      totalTokens,
		}
	}

	return resp
}

// stopReasonFor normalizes Gemini finish reasons into the shared stop vocabulary.
func stopReasonFor(reason genai.FinishReason, hasToolCalls bool) string {
	switch reason {
	case genai.FinishReasonStop, "":
		if hasToolCalls {
			return "tool_use"
		}
		return "end_turn"
	case genai.FinishReasonMaxTokens:
		return "max_tokens"
	default:
		// SAFETY, RECITATION, MALFORMED_FUNCTION_CALL, and friends pass
		// through lowercased.
		return strings.ToLower(string(reason))
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

// classifyError maps GenAI SDK errors to our structured error types.
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
	var apiErr genai.APIError
	if errors.As(err, &apiErr) {
		statusCode = apiErr.Code
	} else {
		statusCode = extractStatusCode(err.Error())
	}

	switch {
	case statusCode == 401 || statusCode == 403:
		return llmerrors.NewErrorWithStatus(llmerrors.ErrorTypeAuth, statusCode, "authentication failed - check API key")
	case statusCode == 429:
		return llmerrors.NewRateLimitError(statusCode, retryAfterOf(apiErr), "rate limit or quota exceeded")
	case statusCode == 400 || statusCode == 404:
		// The API names the token excess when a prompt exceeds the
		// window; the planner resolves those by truncating.
		if msg := strings.ToLower(err.Error()); strings.Contains(msg, "token count exceeds") || strings.Contains(msg, "maximum context") {
			return llmerrors.NewErrorWithStatus(llmerrors.ErrorTypeContextOverflow, statusCode, "prompt exceeds the model's context window")
		}
		return llmerrors.NewErrorWithStatus(llmerrors.ErrorTypeBadPrompt, statusCode, "bad request - check prompt format and parameters")
	case statusCode >= 500:
		return llmerrors.NewErrorWithStatus(llmerrors.ErrorTypeTransient, statusCode, "server error")
	}

	errStr := strings.ToLower(err.Error())

	switch {
	case strings.Contains(errStr, "timeout"),
		strings.Contains(errStr, "connection"),
		strings.Contains(errStr, "network"),
		strings.Contains(errStr, "unavailable"):
		return llmerrors.NewErrorWithCause(llmerrors.ErrorTypeTransient, err, "network or connection error")
	case strings.Contains(errStr, "rate"),
		strings.Contains(errStr, "quota"),
		strings.Contains(errStr, "exhausted"):
		return llmerrors.NewErrorWithCause(llmerrors.ErrorTypeRateLimit, err, "rate limiting detected")
	case strings.Contains(errStr, "api key"),
		strings.Contains(errStr, "auth"),
		strings.Contains(errStr, "permission"):
		return llmerrors.NewErrorWithCause(llmerrors.ErrorTypeAuth, err, "authentication error")
	case strings.Contains(errStr, "token count exceeds"),
		strings.Contains(errStr, "maximum context"):
		return llmerrors.NewErrorWithCause(llmerrors.ErrorTypeContextOverflow, err, "prompt exceeds the model's context window")
	case strings.Contains(errStr, "invalid"),
		strings.Contains(errStr, "malformed"),
		strings.Contains(errStr, "token"):
		return llmerrors.NewErrorWithCause(llmerrors.ErrorTypeBadPrompt, err, "prompt or request error")
	default:
		return llmerrors.NewErrorWithCause(llmerrors.ErrorTypeUnknown, err, "unclassified error")
	}
}

// retryAfterOf reads the RetryInfo detail the API attaches to quota errors.
func retryAfterOf(apiErr genai.APIError) time.Duration {
	for _, detail := range apiErr.Details {
		detailType, _ := detail["@type"].(string)
		if !strings.HasSuffix(detailType, "RetryInfo") {
			continue
		}
		delay, _ := detail["retryDelay"].(string)
		if delay == "" {
			continue
		}
		d, err := time.ParseDuration(delay)
		if err == nil && d > 0 {
			return d
		}
	}
	return 0
}

// extractStatusCode pulls an HTTP status code out of an error string.
func extractStatusCode(errStr string) int {
	lowered := strings.ToLower(errStr)
	for _, pattern := range []string{"status code: ", "status: ", "http ", "code ", "error "} {
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
