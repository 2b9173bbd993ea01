package llm

import (
	"context"
	"fmt"
	"testing"
)

// mockProvider is a configurable Provider for chain tests.
type mockProvider struct {
	completeFunc func(context.Context, CompletionRequest) (CompletionResponse, error)
	streamFunc   func(context.Context, CompletionRequest) (<-chan StreamChunk, error)
	describeFunc func() ModelDescriptor
}

func (m *mockProvider) Complete(ctx context.Context, req CompletionRequest) (CompletionResponse, error) {
	if m.completeFunc != nil {
		return m.completeFunc(ctx, req)
	}
	return CompletionResponse{}, nil
}

func (m *mockProvider) Stream(ctx context.Context, req CompletionRequest) (<-chan StreamChunk, error) {
	if m.streamFunc != nil {
		return m.streamFunc(ctx, req)
	}
	ch := make(chan StreamChunk)
	close(ch)
	return ch, nil
}

func (m *mockProvider) Describe() ModelDescriptor {
	if m.describeFunc != nil {
		return m.describeFunc()
	}
	return ModelDescriptor{}
}

// passthrough builds a middleware that transforms the response content.
func passthrough(transform func(string) string) Middleware {
	return func(next Provider) Provider {
		return WrapProvider(
			func(ctx context.Context, req CompletionRequest) (CompletionResponse, error) {
				resp, err := next.Complete(ctx, req)
				if err != nil {
					return resp, err
				}
				resp.Content = transform(resp.Content)
				return resp, nil
			},
			next.Stream,
			next.Describe,
		)
	}
}

// TestWrapProvider tests the WrapProvider helper function.
func TestWrapProvider(t *testing.T) {
	completeCalled := false
	streamCalled := false
	describeCalled := false

	provider := WrapProvider(
		func(_ context.Context, _ CompletionRequest) (CompletionResponse, error) {
			completeCalled = true
			return CompletionResponse{Content: "wrapped"}, nil
		},
		func(_ context.Context, _ CompletionRequest) (<-chan StreamChunk, error) {
			streamCalled = true
			ch := make(chan StreamChunk)
			close(ch)
			return ch, nil
		},
		func() ModelDescriptor {
			describeCalled = true
			return ModelDescriptor{ProviderFamily: "test", ModelID: "wrapped-model"}
		},
	)

	ctx := context.Background()
	req := NewCompletionRequest([]CompletionMessage{NewUserMessage("test")})

	resp, err := provider.Complete(ctx, req)
	if err != nil {
		t.Errorf("unexpected error: %v", err)
	}
	if !completeCalled {
		t.Error("Complete function was not called")
	}
	if resp.Content != "wrapped" {
		t.Errorf("expected 'wrapped', got %q", resp.Content)
	}

	_, err = provider.Stream(ctx, req)
	if err != nil {
		t.Errorf("unexpected error: %v", err)
	}
	if !streamCalled {
		t.Error("Stream function was not called")
	}

	desc := provider.Describe()
	if !describeCalled {
		t.Error("Describe function was not called")
	}
	if desc.Name() != "test:wrapped-model" {
		t.Errorf("expected 'test:wrapped-model', got %q", desc.Name())
	}
}

// TestChainMultipleMiddlewares verifies composition order: first middleware outermost.
func TestChainMultipleMiddlewares(t *testing.T) {
	base := &mockProvider{
		completeFunc: func(_ context.Context, _ CompletionRequest) (CompletionResponse, error) {
			return CompletionResponse{Content: "base"}, nil
		},
	}

	mw1 := passthrough(func(s string) string { return "mw1:" + s })
	mw2 := passthrough(func(s string) string { return s + ":mw2" })
	mw3 := passthrough(func(s string) string { return "[" + s + "]" })

	// Chain middlewares: mw1 -> mw2 -> mw3 -> base
	provider := Chain(base, mw1, mw2, mw3)

	ctx := context.Background()
	req := NewCompletionRequest([]CompletionMessage{NewUserMessage("test")})
	resp, err := provider.Complete(ctx, req)

	if err != nil {
		t.Errorf("unexpected error: %v", err)
	}

	// Execution order: mw1 (outer) -> mw2 -> mw3 (inner) -> base
	// Transformation: base="base" -> mw3="[base]" -> mw2="[base]:mw2" -> mw1="mw1:[base]:mw2"
	expected := "mw1:[base]:mw2"
	if resp.Content != expected {
		t.Errorf("expected %q, got %q", expected, resp.Content)
	}
}

// TestChainRequestModification tests middleware that modifies requests.
func TestChainRequestModification(t *testing.T) {
	base := &mockProvider{
		completeFunc: func(_ context.Context, req CompletionRequest) (CompletionResponse, error) {
			return CompletionResponse{
				Content: fmt.Sprintf("temp=%.1f", req.Temperature),
			}, nil
		},
	}

	tempMiddleware := func(next Provider) Provider {
		return WrapProvider(
			func(ctx context.Context, req CompletionRequest) (CompletionResponse, error) {
				req.Temperature = 0.9
				return next.Complete(ctx, req)
			},
			next.Stream,
			next.Describe,
		)
	}

	provider := Chain(base, tempMiddleware)

	ctx := context.Background()
	req := NewCompletionRequest([]CompletionMessage{NewUserMessage("test")})
	req.Temperature = 0.5

	resp, err := provider.Complete(ctx, req)
	if err != nil {
		t.Errorf("unexpected error: %v", err)
	}

	if resp.Content != "temp=0.9" {
		t.Errorf("expected 'temp=0.9', got %q", resp.Content)
	}
}

// TestChainErrorHandling tests middleware error propagation.
func TestChainErrorHandling(t *testing.T) {
	base := &mockProvider{
		completeFunc: func(_ context.Context, _ CompletionRequest) (CompletionResponse, error) {
			return CompletionResponse{}, fmt.Errorf("base error")
		},
	}

	errorMiddleware := func(next Provider) Provider {
		return WrapProvider(
			func(ctx context.Context, req CompletionRequest) (CompletionResponse, error) {
				resp, err := next.Complete(ctx, req)
				if err != nil {
					return resp, fmt.Errorf("middleware wrapper: %w", err)
				}
				return resp, nil
			},
			next.Stream,
			next.Describe,
		)
	}

	provider := Chain(base, errorMiddleware)

	ctx := context.Background()
	req := NewCompletionRequest([]CompletionMessage{NewUserMessage("test")})
	_, err := provider.Complete(ctx, req)

	if err == nil {
		t.Error("expected error, got nil")
	}
	if err.Error() != "middleware wrapper: base error" {
		t.Errorf("expected 'middleware wrapper: base error', got %q", err.Error())
	}
}

// TestChainShortCircuit tests middleware that short-circuits the chain.
func TestChainShortCircuit(t *testing.T) {
	baseCalled := false
	base := &mockProvider{
		completeFunc: func(_ context.Context, _ CompletionRequest) (CompletionResponse, error) {
			baseCalled = true
			return CompletionResponse{Content: "base"}, nil
		},
	}

	shortCircuitMiddleware := func(next Provider) Provider {
		return WrapProvider(
			func(ctx context.Context, req CompletionRequest) (CompletionResponse, error) {
				if len(req.Messages) > 0 && req.Messages[0].Content == "skip" {
					return CompletionResponse{Content: "short-circuited"}, nil
				}
				return next.Complete(ctx, req)
			},
			next.Stream,
			next.Describe,
		)
	}

	provider := Chain(base, shortCircuitMiddleware)
	ctx := context.Background()

	req1 := NewCompletionRequest([]CompletionMessage{NewUserMessage("skip")})
	resp1, err := provider.Complete(ctx, req1)
	if err != nil {
		t.Errorf("unexpected error: %v", err)
	}
	if resp1.Content != "short-circuited" {
		t.Errorf("expected 'short-circuited', got %q", resp1.Content)
	}
	if baseCalled {
		t.Error("base should not have been called (short-circuited)")
	}

	baseCalled = false
	req2 := NewCompletionRequest([]CompletionMessage{NewUserMessage("normal")})
	resp2, err := provider.Complete(ctx, req2)
	if err != nil {
		t.Errorf("unexpected error: %v", err)
	}
	if resp2.Content != "base" {
		t.Errorf("expected 'base', got %q", resp2.Content)
	}
	if !baseCalled {
		t.Error("base should have been called (not short-circuited)")
	}
}

// TestChainDescriptorPropagation tests Describe through the chain.
func TestChainDescriptorPropagation(t *testing.T) {
	base := &mockProvider{
		describeFunc: func() ModelDescriptor {
			return ModelDescriptor{ProviderFamily: "anthropic", ModelID: "base-model-v1"}
		},
	}

	identity := func(next Provider) Provider {
		return WrapProvider(next.Complete, next.Stream, next.Describe)
	}

	provider := Chain(base, identity, identity)

	desc := provider.Describe()
	if desc.ModelID != "base-model-v1" {
		t.Errorf("expected 'base-model-v1', got %q", desc.ModelID)
	}
}

// TestChainNoMiddlewares tests chain with no middlewares (just base provider).
func TestChainNoMiddlewares(t *testing.T) {
	base := &mockProvider{
		completeFunc: func(_ context.Context, _ CompletionRequest) (CompletionResponse, error) {
			return CompletionResponse{Content: "base"}, nil
		},
	}

	provider := Chain(base)

	ctx := context.Background()
	req := NewCompletionRequest([]CompletionMessage{NewUserMessage("test")})
	resp, err := provider.Complete(ctx, req)

	if err != nil {
		t.Errorf("unexpected error: %v", err)
	}
	if resp.Content != "base" {
		t.Errorf("expected 'base', got %q", resp.Content)
	}
}
