package retry

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"agentcore/pkg/llm"
	"agentcore/pkg/llmerrors"
)

// scriptedProvider fails its first N calls with a fixed error, then succeeds.
type scriptedProvider struct {
	err      error
	mu       sync.Mutex
	failures int
	calls    int
}

func (s *scriptedProvider) Complete(_ context.Context, _ llm.CompletionRequest) (llm.CompletionResponse, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls++
	if s.calls <= s.failures {
		return llm.CompletionResponse{}, s.err
	}
	return llm.CompletionResponse{Content: "ok"}, nil
}

func (s *scriptedProvider) Stream(_ context.Context, _ llm.CompletionRequest) (<-chan llm.StreamChunk, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls++
	if s.calls <= s.failures {
		return nil, s.err
	}
	ch := make(chan llm.StreamChunk, 1)
	ch <- llm.StreamChunk{Content: "ok", Done: true}
	close(ch)
	return ch, nil
}

func (s *scriptedProvider) Describe() llm.ModelDescriptor {
	return llm.ModelDescriptor{ProviderFamily: "anthropic", ModelID: "test-model"}
}

func (s *scriptedProvider) callCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls
}

func fastPolicy(maxAttempts int) *Policy {
	return NewPolicy(Config{
		MaxAttempts:   maxAttempts,
		InitialDelay:  time.Millisecond,
		MaxDelay:      10 * time.Millisecond,
		BackoffFactor: 2.0,
	}, nil)
}

func TestMiddleware_RetriesThenSucceeds(t *testing.T) {
	provider := &scriptedProvider{
		failures: 2,
		err:      llmerrors.NewRateLimitError(429, 5*time.Millisecond, "slow down"),
	}
	wrapped := Middleware(fastPolicy(3))(provider)

	req := llm.NewCompletionRequest([]llm.CompletionMessage{llm.NewUserMessage("hello")})
	resp, err := wrapped.Complete(context.Background(), req)
	if err != nil {
		t.Fatalf("expected eventual success, got %v", err)
	}
	if resp.Content != "ok" {
		t.Errorf("unexpected response content %q", resp.Content)
	}
	if provider.callCount() != 3 {
		t.Errorf("expected 3 attempts, got %d", provider.callCount())
	}
}

func TestMiddleware_AuthFailsImmediately(t *testing.T) {
	provider := &scriptedProvider{
		failures: 10,
		err:      llmerrors.NewError(llmerrors.ErrorTypeAuth, "invalid api key"),
	}
	wrapped := Middleware(fastPolicy(5))(provider)

	req := llm.NewCompletionRequest([]llm.CompletionMessage{llm.NewUserMessage("hello")})
	_, err := wrapped.Complete(context.Background(), req)
	if !llmerrors.Is(err, llmerrors.ErrorTypeAuth) {
		t.Fatalf("expected auth error, got %v", err)
	}
	if provider.callCount() != 1 {
		t.Errorf("expected exactly 1 attempt for auth failure, got %d", provider.callCount())
	}
}

func TestMiddleware_ContextOverflowNotRetried(t *testing.T) {
	provider := &scriptedProvider{
		failures: 10,
		err:      llmerrors.NewContextOverflowError(150000, 128000),
	}
	wrapped := Middleware(fastPolicy(5))(provider)

	req := llm.NewCompletionRequest([]llm.CompletionMessage{llm.NewUserMessage("hello")})
	_, err := wrapped.Complete(context.Background(), req)
	if !llmerrors.IsContextOverflow(err) {
		t.Fatalf("expected context overflow to pass through, got %v", err)
	}
	if provider.callCount() != 1 {
		t.Errorf("expected exactly 1 attempt for overflow, got %d", provider.callCount())
	}
}

func TestMiddleware_ExhaustionBecomesServiceUnavailable(t *testing.T) {
	provider := &scriptedProvider{
		failures: 10,
		err:      llmerrors.NewError(llmerrors.ErrorTypeTransient, "upstream hiccup"),
	}
	wrapped := Middleware(fastPolicy(2))(provider)

	req := llm.NewCompletionRequest([]llm.CompletionMessage{llm.NewUserMessage("hello")})
	_, err := wrapped.Complete(context.Background(), req)
	if !llmerrors.IsServiceUnavailable(err) {
		t.Fatalf("expected service unavailable after exhaustion, got %v", err)
	}
	// The original cause stays reachable for diagnostics.
	if !llmerrors.Is(errors.Unwrap(err), llmerrors.ErrorTypeTransient) {
		t.Error("expected transient cause to remain wrapped")
	}
	if provider.callCount() != 2 {
		t.Errorf("expected 2 attempts, got %d", provider.callCount())
	}
}

func TestMiddleware_StreamRetriesSetupFailure(t *testing.T) {
	provider := &scriptedProvider{
		failures: 1,
		err:      llmerrors.NewError(llmerrors.ErrorTypeTransient, "connection reset"),
	}
	wrapped := Middleware(fastPolicy(3))(provider)

	req := llm.NewCompletionRequest([]llm.CompletionMessage{llm.NewUserMessage("hello")})
	stream, err := wrapped.Stream(context.Background(), req)
	if err != nil {
		t.Fatalf("expected stream to succeed on retry, got %v", err)
	}

	var content string
	for chunk := range stream {
		content += chunk.Content
	}
	if content != "ok" {
		t.Errorf("unexpected stream content %q", content)
	}
	if provider.callCount() != 2 {
		t.Errorf("expected 2 attempts, got %d", provider.callCount())
	}
}

func TestMiddleware_CancelDuringBackoff(t *testing.T) {
	provider := &scriptedProvider{
		failures: 10,
		err:      llmerrors.NewRateLimitError(429, 10*time.Second, "slow down"),
	}
	wrapped := Middleware(fastPolicy(3))(provider)

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(50 * time.Millisecond)
		cancel()
	}()

	req := llm.NewCompletionRequest([]llm.CompletionMessage{llm.NewUserMessage("hello")})
	start := time.Now()
	_, err := wrapped.Complete(ctx, req)
	if err == nil {
		t.Fatal("expected cancellation error")
	}
	if !errors.Is(err, context.Canceled) {
		t.Errorf("expected context.Canceled in chain, got %v", err)
	}
	// Cancellation must cut the 10s server-supplied wait short.
	if elapsed := time.Since(start); elapsed > time.Second {
		t.Errorf("cancellation took too long: %v", elapsed)
	}
	if provider.callCount() != 1 {
		t.Errorf("expected 1 attempt before cancellation, got %d", provider.callCount())
	}
}

func TestMiddleware_ZeroBudget(t *testing.T) {
	provider := &scriptedProvider{}
	wrapped := Middleware(fastPolicy(0))(provider)

	req := llm.NewCompletionRequest([]llm.CompletionMessage{llm.NewUserMessage("hello")})
	_, err := wrapped.Complete(context.Background(), req)
	if err == nil {
		t.Fatal("expected error for zero attempt budget")
	}
	if !strings.Contains(err.Error(), "max_attempts") {
		t.Errorf("expected budget error, got %v", err)
	}
	if provider.callCount() != 0 {
		t.Errorf("expected 0 attempts, got %d", provider.callCount())
	}
}
