package ratelimit

import (
	"context"
	"time"

	"agentcore/pkg/llm"
	"agentcore/pkg/llmerrors"
	"agentcore/pkg/logx"
	"agentcore/pkg/middleware/metrics"
)

// Middleware returns a middleware function that wraps a provider with rate
// limiting. It estimates token usage, acquires capacity before the request,
// and holds the concurrency slot until the response (or stream) completes.
func Middleware(limiterMap *ProviderLimiterMap, estimator TokenEstimator, recorder metrics.Recorder) llm.Middleware {
	if estimator == nil {
		estimator = NewDefaultTokenEstimator()
	}
	if recorder == nil {
		recorder = metrics.Nop()
	}

	return func(next llm.Provider) llm.Provider {
		family := next.Describe().ProviderFamily

		acquire := func(ctx context.Context, req llm.CompletionRequest) (func(), error) {
			limiter, err := limiterMap.GetLimiter(family)
			if err != nil {
				recorder.IncThrottle(family, "no_limiter")
				return nil, err
			}

			// Reserve the prompt plus the full output budget; headroom the
			// response does not use comes back through the refill cycle.
			totalTokens := estimator.EstimatePrompt(req) + req.MaxTokens

			waitStart := time.Now()
			release, err := limiter.Acquire(ctx, totalTokens, logx.ConversationIDFromContext(ctx))
			recorder.ObserveQueueWait(family, time.Since(waitStart))
			if err != nil {
				recorder.IncThrottle(family, "rate_limit")
				if ctx.Err() != nil {
					return nil, err //nolint:wrapcheck // Context error propagated as-is
				}
				return nil, llmerrors.NewErrorWithCause(llmerrors.ErrorTypeRateLimit, err, "rate limit capacity wait exhausted")
			}
			return release, nil
		}

		completeFn := func(ctx context.Context, req llm.CompletionRequest) (llm.CompletionResponse, error) {
			release, err := acquire(ctx, req)
			if err != nil {
				return llm.CompletionResponse{}, err
			}
			defer release()

			return next.Complete(ctx, req)
		}

		streamFn := func(ctx context.Context, req llm.CompletionRequest) (<-chan llm.StreamChunk, error) {
			release, err := acquire(ctx, req)
			if err != nil {
				return nil, err
			}

			stream, err := next.Stream(ctx, req)
			if err != nil {
				release()
				return nil, err //nolint:wrapcheck // Middleware passes through errors unchanged
			}

			// Hold the concurrency slot until the stream finishes or the
			// consumer goes away.
			out := make(chan llm.StreamChunk)
			go func() {
				defer close(out)
				defer release()
				for chunk := range stream {
					select {
					case out <- chunk:
					case <-ctx.Done():
						return
					}
				}
			}()
			return out, nil
		}

		return llm.WrapProvider(completeFn, streamFn, next.Describe)
	}
}
