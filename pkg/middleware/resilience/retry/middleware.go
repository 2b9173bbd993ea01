package retry

import (
	"context"
	"fmt"
	"time"

	"agentcore/pkg/llm"
	"agentcore/pkg/llmerrors"
)

// Middleware returns a middleware function that wraps a provider with retry
// logic. Each request gets a fresh attempt budget; retryable failures back
// off exponentially, non-retryable failures surface immediately, and an
// exhausted budget on a retryable failure becomes ServiceUnavailable.
func Middleware(policy *Policy) llm.Middleware {
	return func(next llm.Provider) llm.Provider {
		return llm.WrapProvider(
			// Complete implementation with retry
			func(ctx context.Context, req llm.CompletionRequest) (llm.CompletionResponse, error) {
				var lastErr error

				budget := policy.NewBudget()
				for budget.Consume() {
					// Wait for backoff delay (except on first attempt)
					if budget.Attempt() > 1 {
						if delay := budget.Delay(lastErr); delay > 0 {
							select {
							case <-ctx.Done():
								return llm.CompletionResponse{}, fmt.Errorf("retry cancelled: %w", ctx.Err())
							case <-time.After(delay):
								// Continue with retry
							}
						}
					}

					resp, err := next.Complete(ctx, req)
					if err == nil {
						return resp, nil
					}

					lastErr = err

					if !policy.ShouldRetry(err) {
						return llm.CompletionResponse{}, err
					}
				}

				if lastErr == nil {
					return llm.CompletionResponse{}, fmt.Errorf("retry budget allows no attempts (max_attempts=%d)", policy.Config.MaxAttempts)
				}
				return llm.CompletionResponse{}, llmerrors.NewServiceUnavailableError(lastErr, policy.Config.MaxAttempts)
			},
			// Stream implementation with retry
			func(ctx context.Context, req llm.CompletionRequest) (<-chan llm.StreamChunk, error) {
				var lastErr error

				budget := policy.NewBudget()
				for budget.Consume() {
					if budget.Attempt() > 1 {
						if delay := budget.Delay(lastErr); delay > 0 {
							select {
							case <-ctx.Done():
								return nil, fmt.Errorf("stream retry cancelled: %w", ctx.Err())
							case <-time.After(delay):
								// Continue with retry
							}
						}
					}

					ch, err := next.Stream(ctx, req)
					if err == nil {
						return ch, nil
					}

					lastErr = err

					if !policy.ShouldRetry(err) {
						return nil, err
					}
				}

				if lastErr == nil {
					return nil, fmt.Errorf("retry budget allows no attempts (max_attempts=%d)", policy.Config.MaxAttempts)
				}
				return nil, llmerrors.NewServiceUnavailableError(lastErr, policy.Config.MaxAttempts)
			},
			// Delegate Describe to the next provider
			next.Describe,
		)
	}
}
