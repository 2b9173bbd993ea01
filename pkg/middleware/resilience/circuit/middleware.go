package circuit

import (
	"context"
	"errors"

	"agentcore/pkg/llm"
)

// Middleware returns a middleware function that wraps a provider with circuit
// breaker logic. If the circuit is OPEN, requests are rejected immediately
// without calling the underlying provider. This prevents cascading failures
// and gives the downstream service time to recover.
func Middleware(breaker Breaker) llm.Middleware {
	return func(next llm.Provider) llm.Provider {
		return llm.WrapProvider(
			// Complete implementation
			func(ctx context.Context, req llm.CompletionRequest) (llm.CompletionResponse, error) {
				// Check if we can proceed
				if !breaker.Allow() {
					return llm.CompletionResponse{}, &Error{State: breaker.GetState()}
				}

				// Execute the request
				resp, err := next.Complete(ctx, req)

				// Caller cancellation says nothing about service health
				if !errors.Is(err, context.Canceled) {
					breaker.Record(err == nil)
				}

				return resp, err //nolint:wrapcheck // Middleware should pass through errors unchanged
			},
			// Stream implementation
			func(ctx context.Context, req llm.CompletionRequest) (<-chan llm.StreamChunk, error) {
				// Check if we can proceed
				if !breaker.Allow() {
					return nil, &Error{State: breaker.GetState()}
				}

				// Execute the request
				ch, err := next.Stream(ctx, req)

				// For streaming, we consider the initial establishment as success/failure.
				// Individual chunks are not tracked for circuit breaker state.
				if !errors.Is(err, context.Canceled) {
					breaker.Record(err == nil)
				}

				return ch, err //nolint:wrapcheck // Middleware should pass through errors unchanged
			},
			// Delegate Describe to the next provider
			next.Describe,
		)
	}
}
