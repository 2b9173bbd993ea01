package ratelimit

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"agentcore/pkg/config"
	"agentcore/pkg/llm"
)

type fakeRecorder struct {
	mu        sync.Mutex
	throttles []string
	waits     int
}

func (f *fakeRecorder) ObserveRequest(
	_, _, _ string, _, _ int, _ float64, _ bool, _ string, _ time.Duration,
) {
}

func (f *fakeRecorder) IncThrottle(provider, reason string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.throttles = append(f.throttles, provider+":"+reason)
}

func (f *fakeRecorder) ObserveQueueWait(_ string, _ time.Duration) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.waits++
}

func (f *fakeRecorder) throttleEvents() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]string, len(f.throttles))
	copy(out, f.throttles)
	return out
}

type stubProvider struct {
	family string
	chunks []llm.StreamChunk
}

func (s *stubProvider) Complete(_ context.Context, _ llm.CompletionRequest) (llm.CompletionResponse, error) {
	return llm.CompletionResponse{Content: "ok"}, nil
}

func (s *stubProvider) Stream(_ context.Context, _ llm.CompletionRequest) (<-chan llm.StreamChunk, error) {
	ch := make(chan llm.StreamChunk, len(s.chunks))
	for _, chunk := range s.chunks {
		ch <- chunk
	}
	close(ch)
	return ch, nil
}

func (s *stubProvider) Describe() llm.ModelDescriptor {
	return llm.ModelDescriptor{ProviderFamily: s.family, ModelID: "test-model"}
}

func newTestLimiterMap(t *testing.T) *ProviderLimiterMap {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)

	cfg := config.RateLimitConfig{
		Anthropic: config.ProviderLimits{TokensPerMinute: 60000, MaxConcurrency: 2},
	}
	limiterMap := NewProviderLimiterMap(ctx, cfg, time.Minute)
	t.Cleanup(limiterMap.Stop)
	return limiterMap
}

func TestMiddleware_ReleasesSlotAfterComplete(t *testing.T) {
	limiterMap := newTestLimiterMap(t)
	recorder := &fakeRecorder{}

	wrapped := Middleware(limiterMap, nil, recorder)(&stubProvider{family: "anthropic"})

	req := llm.NewCompletionRequest([]llm.CompletionMessage{llm.NewUserMessage("hello")})
	req.MaxTokens = 100
	if _, err := wrapped.Complete(context.Background(), req); err != nil {
		t.Fatalf("Complete() error = %v", err)
	}

	stats := limiterMap.GetAllStats()["anthropic"]
	if stats.ActiveRequests != 0 {
		t.Errorf("ActiveRequests after Complete = %d, want 0", stats.ActiveRequests)
	}
	if stats.AvailableTokens >= stats.MaxCapacity {
		t.Error("expected tokens to be consumed")
	}
	if recorder.waits != 1 {
		t.Errorf("expected 1 queue wait observation, got %d", recorder.waits)
	}
}

func TestMiddleware_StreamHoldsSlotUntilDrained(t *testing.T) {
	limiterMap := newTestLimiterMap(t)
	recorder := &fakeRecorder{}

	provider := &stubProvider{
		family: "anthropic",
		chunks: []llm.StreamChunk{{Content: "a"}, {Content: "b", Done: true}},
	}
	wrapped := Middleware(limiterMap, nil, recorder)(provider)

	req := llm.NewCompletionRequest([]llm.CompletionMessage{llm.NewUserMessage("hello")})
	req.MaxTokens = 100
	stream, err := wrapped.Stream(context.Background(), req)
	if err != nil {
		t.Fatalf("Stream() error = %v", err)
	}

	// The slot stays held while chunks remain undelivered.
	stats := limiterMap.GetAllStats()["anthropic"]
	if stats.ActiveRequests != 1 {
		t.Errorf("ActiveRequests while streaming = %d, want 1", stats.ActiveRequests)
	}

	for range stream {
	}

	// Channel closure means the release has already run.
	stats = limiterMap.GetAllStats()["anthropic"]
	if stats.ActiveRequests != 0 {
		t.Errorf("ActiveRequests after drain = %d, want 0", stats.ActiveRequests)
	}
}

func TestMiddleware_UnknownFamilyFails(t *testing.T) {
	limiterMap := newTestLimiterMap(t)
	recorder := &fakeRecorder{}

	wrapped := Middleware(limiterMap, nil, recorder)(&stubProvider{family: "mystery"})

	req := llm.NewCompletionRequest([]llm.CompletionMessage{llm.NewUserMessage("hello")})
	if _, err := wrapped.Complete(context.Background(), req); err == nil {
		t.Fatal("expected error for unknown provider family")
	}

	events := recorder.throttleEvents()
	if len(events) != 1 || events[0] != "mystery:no_limiter" {
		t.Errorf("expected no_limiter throttle event, got %v", events)
	}
}

func TestMiddleware_CancelledWhileQueued(t *testing.T) {
	limiterMap := newTestLimiterMap(t)
	recorder := &fakeRecorder{}

	// Occupy both concurrency slots so the middleware has to queue.
	limiter, err := limiterMap.GetLimiter("anthropic")
	if err != nil {
		t.Fatalf("GetLimiter() error = %v", err)
	}
	release1, err := limiter.Acquire(context.Background(), 10, "holder-1")
	if err != nil {
		t.Fatalf("Acquire() error = %v", err)
	}
	defer release1()
	release2, err := limiter.Acquire(context.Background(), 10, "holder-2")
	if err != nil {
		t.Fatalf("Acquire() error = %v", err)
	}
	defer release2()

	wrapped := Middleware(limiterMap, nil, recorder)(&stubProvider{family: "anthropic"})

	ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
	defer cancel()

	req := llm.NewCompletionRequest([]llm.CompletionMessage{llm.NewUserMessage("hello")})
	_, err = wrapped.Complete(ctx, req)
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("expected context.DeadlineExceeded passthrough, got %v", err)
	}

	events := recorder.throttleEvents()
	if len(events) != 1 || events[0] != "anthropic:rate_limit" {
		t.Errorf("expected rate_limit throttle event, got %v", events)
	}
}
