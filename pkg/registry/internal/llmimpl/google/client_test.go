package google

import (
	"context"
	"errors"
	"testing"
	"time"

	"google.golang.org/genai"

	"agentcore/pkg/config"
	"agentcore/pkg/llm"
	"agentcore/pkg/llmerrors"
	"agentcore/pkg/tools"
)

// TestConvertMessages tests conversion to Gemini's Content format.
func TestConvertMessages(t *testing.T) {
	messages := []llm.CompletionMessage{
		{Role: llm.RoleSystem, Content: "You are a coding agent."},
		{Role: llm.RoleSystem, Content: "Be concise."},
		{Role: llm.RoleUser, Content: "List the files"},
		{
			Role:    llm.RoleAssistant,
			Content: "Checking...",
			ToolCalls: []llm.ToolCall{
				{ID: "shell", Name: "shell", Parameters: map[string]any{"cmd": "ls"}},
			},
		},
		{
			Role: llm.RoleUser,
			ToolResults: []llm.ToolResult{
				{ToolCallID: "shell", Name: "shell", Content: "main.go", IsError: false},
			},
		},
	}

	contents, systemInstruction, err := convertMessages(messages, nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if systemInstruction != "You are a coding agent.\n\nBe concise." {
		t.Errorf("system messages should join into the instruction, got %q", systemInstruction)
	}
	if len(contents) != 3 {
		t.Fatalf("expected 3 contents, got %d", len(contents))
	}
	if contents[0].Role != "user" || contents[1].Role != "model" || contents[2].Role != "user" {
		t.Errorf("unexpected roles: %q %q %q", contents[0].Role, contents[1].Role, contents[2].Role)
	}

	assistant := contents[1]
	if len(assistant.Parts) != 2 {
		t.Fatalf("assistant turn should carry text + function call, got %d parts", len(assistant.Parts))
	}
	if assistant.Parts[0].Text != "Checking..." {
		t.Errorf("unexpected assistant text %q", assistant.Parts[0].Text)
	}
	call := assistant.Parts[1].FunctionCall
	if call == nil || call.Name != "shell" || call.Args["cmd"] != "ls" {
		t.Errorf("function call not preserved: %+v", call)
	}

	response := contents[2].Parts[0].FunctionResponse
	if response == nil || response.Name != "shell" {
		t.Fatalf("function response not preserved: %+v", response)
	}
	if response.Response["content"] != "main.go" || response.Response["is_error"] != false {
		t.Errorf("unexpected response payload: %+v", response.Response)
	}
}

// TestConvertMessagesErrors covers empty input and unsupported roles.
func TestConvertMessagesErrors(t *testing.T) {
	if _, _, err := convertMessages(nil, nil); err == nil {
		t.Error("empty message list should fail")
	}
	_, _, err := convertMessages([]llm.CompletionMessage{{Role: "tool", Content: "x"}}, nil)
	if err == nil {
		t.Error("unsupported role should fail")
	}
}

// TestConvertMessagesReplay verifies cached responses substitute assistant
// turns that carried tool calls.
func TestConvertMessagesReplay(t *testing.T) {
	cached := &genai.Content{
		Role:  "model",
		Parts: []*genai.Part{{Text: "cached turn with thought signature"}},
	}
	messages := []llm.CompletionMessage{
		{Role: llm.RoleUser, Content: "List the files"},
		{
			Role:      llm.RoleAssistant,
			ToolCalls: []llm.ToolCall{{ID: "shell", Name: "shell", Parameters: map[string]any{"cmd": "ls"}}},
		},
		{
			Role:        llm.RoleUser,
			ToolResults: []llm.ToolResult{{ToolCallID: "shell", Name: "shell", Content: "main.go"}},
		},
	}

	contents, _, err := convertMessages(messages, []*genai.Content{cached})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(contents) != 3 {
		t.Fatalf("expected 3 contents, got %d", len(contents))
	}
	if contents[1] != cached {
		t.Error("assistant turn with tool calls should be replayed from cache")
	}
}

// TestReplayHistoryReset verifies a fresh conversation drops cached state.
func TestReplayHistoryReset(t *testing.T) {
	client := New("test-key", config.ModelGemini25Flash)
	client.rememberResponse(&genai.Content{Role: "model"})

	continuing := []llm.CompletionMessage{
		{Role: llm.RoleUser, Content: "hi"},
		{Role: llm.RoleAssistant, Content: "hello"},
		{Role: llm.RoleUser, Content: "again"},
	}
	if got := client.replayHistory(continuing); len(got) != 1 {
		t.Errorf("continuing conversation should keep the cache, got %d entries", len(got))
	}

	fresh := []llm.CompletionMessage{{Role: llm.RoleUser, Content: "new task"}}
	if got := client.replayHistory(fresh); got != nil {
		t.Errorf("fresh conversation should reset the cache, got %d entries", len(got))
	}
	if got := client.replayHistory(continuing); len(got) != 0 {
		t.Error("cache should stay empty after the reset")
	}
}

// TestConvertTools verifies schema conversion including nesting and enums.
func TestConvertTools(t *testing.T) {
	defs := []tools.ToolDefinition{
		{
			Name:        "shell",
			Description: "Run a shell command",
			InputSchema: tools.InputSchema{
				Type: "object",
				Properties: map[string]tools.Property{
					"cmd":  {Type: "string", Description: "Command to run"},
					"args": {Type: "array", Items: &tools.Property{Type: "string"}},
					"mode": {Type: "string", Enum: []string{"fast", "safe"}},
					"opts": {Type: "object", Properties: map[string]*tools.Property{
						"timeout": {Type: "integer"},
					}},
					"weird": {Type: "custom-thing"},
				},
				Required: []string{"cmd"},
			},
		},
	}

	decls := convertTools(defs)
	if len(decls) != 1 {
		t.Fatalf("expected 1 declaration, got %d", len(decls))
	}
	decl := decls[0]
	if decl.Name != "shell" || decl.Parameters.Type != genai.TypeObject {
		t.Errorf("unexpected declaration shape: %+v", decl)
	}
	if len(decl.Parameters.Required) != 1 || decl.Parameters.Required[0] != "cmd" {
		t.Errorf("required fields not preserved: %v", decl.Parameters.Required)
	}

	props := decl.Parameters.Properties
	if props["cmd"].Type != genai.TypeString || props["cmd"].Description != "Command to run" {
		t.Errorf("string property mismatch: %+v", props["cmd"])
	}
	if props["args"].Type != genai.TypeArray || props["args"].Items.Type != genai.TypeString {
		t.Errorf("array property mismatch: %+v", props["args"])
	}
	if len(props["mode"].Enum) != 2 {
		t.Errorf("enum not preserved: %+v", props["mode"])
	}
	if props["opts"].Type != genai.TypeObject || props["opts"].Properties["timeout"].Type != genai.TypeInteger {
		t.Errorf("nested object mismatch: %+v", props["opts"])
	}
	if props["weird"].Type != genai.TypeString {
		t.Errorf("unknown types should degrade to string, got %v", props["weird"].Type)
	}
}

// TestConvertResponse covers text, tool calls, finish reason, and usage.
func TestConvertResponse(t *testing.T) {
	result := &genai.GenerateContentResponse{
		Candidates: []*genai.Candidate{{
			Content: &genai.Content{
				Role: "model",
				Parts: []*genai.Part{
					{Text: "Checking the directory."},
					{FunctionCall: &genai.FunctionCall{Name: "shell", Args: map[string]any{"cmd": "ls"}}},
				},
			},
			FinishReason: genai.FinishReasonStop,
		}},
		UsageMetadata: &genai.GenerateContentResponseUsageMetadata{
			PromptTokenCount:     100,
			CandidatesTokenCount: 20,
			ThoughtsTokenCount:   15,
			TotalTokenCount:      135,
		},
	}

	resp := convertResponse(result)

	if resp.Content != "Checking the directory." {
		t.Errorf("unexpected content: %q", resp.Content)
	}
	if len(resp.ToolCalls) != 1 {
		t.Fatalf("expected 1 tool call, got %d", len(resp.ToolCalls))
	}
	if resp.ToolCalls[0].ID != "shell" {
		t.Errorf("missing call ID should fall back to the function name, got %q", resp.ToolCalls[0].ID)
	}
	if resp.ToolCalls[0].Parameters["cmd"] != "ls" {
		t.Errorf("parameters not preserved: %+v", resp.ToolCalls[0].Parameters)
	}
	if resp.StopReason != "tool_use" {
		t.Errorf("expected tool_use stop reason, got %q", resp.StopReason)
	}
	if resp.Usage.PromptTokens != 100 || resp.Usage.CompletionTokens != 35 || resp.Usage.TotalTokens != 135 {
		t.Errorf("thinking tokens should count as output: %+v", resp.Usage)
	}
}

// TestConvertResponseMalformedCall verifies the MALFORMED_FUNCTION_CALL finish
// reason surfaces as a malformed tool call.
func TestConvertResponseMalformedCall(t *testing.T) {
	result := &genai.GenerateContentResponse{
		Candidates: []*genai.Candidate{{
			Content:       &genai.Content{Role: "model", Parts: []*genai.Part{}},
			FinishReason:  genai.FinishReasonMalformedFunctionCall,
			FinishMessage: "could not parse print(default_api.shell(cmd=ls))",
		}},
	}

	resp := convertResponse(result)

	if len(resp.ToolCalls) != 1 {
		t.Fatalf("expected 1 synthesized malformed call, got %d", len(resp.ToolCalls))
	}
	if resp.ToolCalls[0].Malformed != "could not parse print(default_api.shell(cmd=ls))" {
		t.Errorf("finish message should carry through: %q", resp.ToolCalls[0].Malformed)
	}
	if resp.StopReason != "malformed_function_call" {
		t.Errorf("unexpected stop reason %q", resp.StopReason)
	}
}

// TestStopReasonFor maps Gemini finish reasons to the shared vocabulary.
func TestStopReasonFor(t *testing.T) {
	tests := []struct {
		reason    genai.FinishReason
		toolCalls bool
		want      string
	}{
		{genai.FinishReasonStop, false, "end_turn"},
		{genai.FinishReasonStop, true, "tool_use"},
		{"", false, "end_turn"},
		{genai.FinishReasonMaxTokens, false, "max_tokens"},
		{genai.FinishReasonSafety, false, "safety"},
	}
	for _, tt := range tests {
		if got := stopReasonFor(tt.reason, tt.toolCalls); got != tt.want {
			t.Errorf("stopReasonFor(%q, %v) = %q, want %q", tt.reason, tt.toolCalls, got, tt.want)
		}
	}
}

// TestToolModeFor verifies tools default to forced mode.
func TestToolModeFor(t *testing.T) {
	if toolModeFor("") != genai.FunctionCallingConfigModeAny {
		t.Error("default should force tool use")
	}
	if toolModeFor("any") != genai.FunctionCallingConfigModeAny {
		t.Error("any should force tool use")
	}
	if toolModeFor("auto") != genai.FunctionCallingConfigModeAuto {
		t.Error("auto should leave tool use optional")
	}
}

// TestClassifyError covers typed API errors and pattern fallbacks.
func TestClassifyError(t *testing.T) {
	client := New("test-key", config.ModelGemini25Flash)

	tests := []struct {
		name string
		err  error
		want llmerrors.ErrorType
	}{
		{"timeout becomes transient", context.DeadlineExceeded, llmerrors.ErrorTypeTransient},
		{"typed 403", genai.APIError{Code: 403, Message: "permission denied"}, llmerrors.ErrorTypeAuth},
		{"typed 400", genai.APIError{Code: 400, Message: "invalid argument"}, llmerrors.ErrorTypeBadPrompt},
		{"typed 503", genai.APIError{Code: 503, Message: "overloaded"}, llmerrors.ErrorTypeTransient},
		{"quota text", errors.New("resource exhausted: check quota"), llmerrors.ErrorTypeRateLimit},
		{"oversized prompt", genai.APIError{Code: 400, Message: "input token count exceeds the maximum"}, llmerrors.ErrorTypeContextOverflow},
		{"unknown", errors.New("weird failure"), llmerrors.ErrorTypeUnknown},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := client.classifyError(tt.err)
			if llmerrors.TypeOf(got) != tt.want {
				t.Errorf("classifyError(%v) = %s, want %s", tt.err, llmerrors.TypeOf(got), tt.want)
			}
		})
	}

	if err := client.classifyError(context.Canceled); !errors.Is(err, context.Canceled) {
		t.Error("cancellation should pass through unclassified")
	}

	rateErr := client.classifyError(genai.APIError{
		Code:    429,
		Message: "quota exceeded",
		Details: []map[string]any{
			{"@type": "type.googleapis.com/google.rpc.RetryInfo", "retryDelay": "7s"},
		},
	})
	if llmerrors.TypeOf(rateErr) != llmerrors.ErrorTypeRateLimit {
		t.Fatalf("429 should classify as rate limit, got %s", llmerrors.TypeOf(rateErr))
	}
	if llmerrors.RetryAfterOf(rateErr) != 7*time.Second {
		t.Errorf("retry delay detail not honored: %v", llmerrors.RetryAfterOf(rateErr))
	}
}

// TestRetryAfterOf covers the RetryInfo detail scan.
func TestRetryAfterOf(t *testing.T) {
	tests := []struct {
		name    string
		details []map[string]any
		want    time.Duration
	}{
		{"no details", nil, 0},
		{"retry info", []map[string]any{{"@type": "type.googleapis.com/google.rpc.RetryInfo", "retryDelay": "2.5s"}}, 2500 * time.Millisecond},
		{"other detail type", []map[string]any{{"@type": "type.googleapis.com/google.rpc.ErrorInfo", "reason": "RATE_LIMIT_EXCEEDED"}}, 0},
		{"unparseable delay", []map[string]any{{"@type": "type.googleapis.com/google.rpc.RetryInfo", "retryDelay": "soon"}}, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := retryAfterOf(genai.APIError{Details: tt.details}); got != tt.want {
				t.Errorf("retryAfterOf() = %v, want %v", got, tt.want)
			}
		})
	}
}

// TestDescribe verifies descriptor reporting for a known model.
func TestDescribe(t *testing.T) {
	client := New("test-key", config.ModelGemini25Flash)
	desc := client.Describe()

	if desc.ProviderFamily != config.ProviderGoogle {
		t.Errorf("expected google family, got %q", desc.ProviderFamily)
	}
	if desc.ContextWindowTokens != 1048576 {
		t.Errorf("expected 1M token window, got %d", desc.ContextWindowTokens)
	}
	if desc.MaxOutputTokens != 65536 {
		t.Errorf("unexpected output ceiling %d", desc.MaxOutputTokens)
	}
	if desc.Name() != "google:gemini-2.5-flash" {
		t.Errorf("unexpected descriptor name %q", desc.Name())
	}
}
