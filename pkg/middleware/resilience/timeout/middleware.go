// Package timeout provides per-request timeout middleware for LLM providers.
package timeout

import (
	"context"
	"errors"
	"fmt"
	"time"

	"agentcore/pkg/llm"
	"agentcore/pkg/llmerrors"
)

// Middleware returns a middleware function that bounds every request with a
// timeout. A request that exceeds it fails as a transient error, so the retry
// layer treats it like any other recoverable fault. Cancellation coming from
// the caller's own context passes through unchanged.
func Middleware(duration time.Duration) llm.Middleware {
	return func(next llm.Provider) llm.Provider {
		completeFn := func(ctx context.Context, req llm.CompletionRequest) (llm.CompletionResponse, error) {
			timeoutCtx, cancel := context.WithTimeout(ctx, duration)
			defer cancel()

			resp, err := next.Complete(timeoutCtx, req)
			return resp, classify(ctx, err, duration)
		}

		streamFn := func(ctx context.Context, req llm.CompletionRequest) (<-chan llm.StreamChunk, error) {
			// The timeout context must outlive this call: cancelling it on
			// return would abort the stream mid-flight.
			timeoutCtx, cancel := context.WithTimeout(ctx, duration)

			stream, err := next.Stream(timeoutCtx, req)
			if err != nil {
				cancel()
				return nil, classify(ctx, err, duration)
			}

			out := make(chan llm.StreamChunk)
			go func() {
				defer close(out)
				defer cancel()
				for chunk := range stream {
					if chunk.Error != nil {
						chunk.Error = classify(ctx, chunk.Error, duration)
					}
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

// classify turns a per-request deadline hit into a transient error. The
// parent context still being live is what distinguishes our timeout from a
// caller-initiated deadline or cancellation.
func classify(parent context.Context, err error, duration time.Duration) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, context.DeadlineExceeded) && parent.Err() == nil {
		return llmerrors.NewErrorWithCause(llmerrors.ErrorTypeTransient, err,
			fmt.Sprintf("request timeout after %v", duration))
	}
	return err
}
