package llm

import (
	"io"
	"testing"
	"time"
)

// TestCompletionRole tests role constant values.
func TestCompletionRole(t *testing.T) {
	tests := []struct {
		name     string
		role     CompletionRole
		expected string
	}{
		{"system role", RoleSystem, "system"},
		{"user role", RoleUser, "user"},
		{"assistant role", RoleAssistant, "assistant"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if string(tt.role) != tt.expected {
				t.Errorf("expected %q, got %q", tt.expected, string(tt.role))
			}
		})
	}
}

// TestNewCompletionRequest tests completion request creation with defaults.
func TestNewCompletionRequest(t *testing.T) {
	messages := []CompletionMessage{
		{Role: RoleUser, Content: "test"},
	}

	req := NewCompletionRequest(messages)

	if len(req.Messages) != 1 {
		t.Errorf("expected 1 message, got %d", len(req.Messages))
	}
	if req.MaxTokens != DefaultMaxTokens {
		t.Errorf("expected MaxTokens=%d, got %d", DefaultMaxTokens, req.MaxTokens)
	}
	if req.Temperature != TemperatureDefault {
		t.Errorf("expected Temperature=%f, got %f", float64(TemperatureDefault), req.Temperature)
	}
}

// TestMessageConstructors tests the role-specific message constructors.
func TestMessageConstructors(t *testing.T) {
	if msg := NewSystemMessage("sys"); msg.Role != RoleSystem || msg.Content != "sys" {
		t.Errorf("NewSystemMessage: got %+v", msg)
	}
	if msg := NewUserMessage("usr"); msg.Role != RoleUser || msg.Content != "usr" {
		t.Errorf("NewUserMessage: got %+v", msg)
	}
	if msg := NewAssistantMessage("asst"); msg.Role != RoleAssistant || msg.Content != "asst" {
		t.Errorf("NewAssistantMessage: got %+v", msg)
	}
}

// TestModelDescriptorName tests the canonical descriptor identity.
func TestModelDescriptorName(t *testing.T) {
	tests := []struct {
		name     string
		desc     ModelDescriptor
		expected string
	}{
		{"family and model", ModelDescriptor{ProviderFamily: "anthropic", ModelID: "claude-sonnet-4-5"}, "anthropic:claude-sonnet-4-5"},
		{"family only", ModelDescriptor{ProviderFamily: "ollama"}, "ollama"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.desc.Name(); got != tt.expected {
				t.Errorf("expected %q, got %q", tt.expected, got)
			}
		})
	}
}

// TestStreamToReader tests stream-to-reader conversion.
func TestStreamToReader(t *testing.T) {
	stream := make(chan StreamChunk, 3)
	stream <- StreamChunk{Content: "hello "}
	stream <- StreamChunk{Content: "world"}
	stream <- StreamChunk{Done: true}
	close(stream)

	reader := StreamToReader(stream)

	done := make(chan struct{})
	var data []byte
	var readErr error
	go func() {
		defer close(done)
		data, readErr = io.ReadAll(reader)
	}()

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("timed out reading from stream")
	}

	if readErr != nil {
		t.Fatalf("unexpected error: %v", readErr)
	}
	if string(data) != "hello world" {
		t.Errorf("expected 'hello world', got %q", string(data))
	}
}

// TestStreamToReaderError tests error propagation through the pipe.
func TestStreamToReaderError(t *testing.T) {
	stream := make(chan StreamChunk, 2)
	stream <- StreamChunk{Content: "partial"}
	stream <- StreamChunk{Error: io.ErrUnexpectedEOF}
	close(stream)

	reader := StreamToReader(stream)
	_, err := io.ReadAll(reader)
	if err == nil {
		t.Fatal("expected error from stream, got nil")
	}
}
