// Package llm provides middleware chaining for provider clients.
package llm

import (
	"context"
)

// Middleware represents a function that wraps a Provider with additional behavior.
// Middleware functions are composed using Chain() to create a processing pipeline.
type Middleware func(next Provider) Provider

// providerFunc is an adapter that allows plain functions to implement the Provider interface.
type providerFunc struct {
	complete func(context.Context, CompletionRequest) (CompletionResponse, error)
	stream   func(context.Context, CompletionRequest) (<-chan StreamChunk, error)
	describe func() ModelDescriptor
}

func (f providerFunc) Complete(ctx context.Context, req CompletionRequest) (CompletionResponse, error) {
	return f.complete(ctx, req)
}

func (f providerFunc) Stream(ctx context.Context, req CompletionRequest) (<-chan StreamChunk, error) {
	return f.stream(ctx, req)
}

// Describe delegates to the wrapped function.
func (f providerFunc) Describe() ModelDescriptor {
	return f.describe()
}

// WrapProvider creates a new Provider using the provided function implementations.
// This is a helper for middleware implementations that need to wrap behavior.
func WrapProvider(
	complete func(context.Context, CompletionRequest) (CompletionResponse, error),
	stream func(context.Context, CompletionRequest) (<-chan StreamChunk, error),
	describe func() ModelDescriptor,
) Provider {
	return providerFunc{
		complete: complete,
		stream:   stream,
		describe: describe,
	}
}

// Chain composes multiple middlewares around a base Provider.
// Middlewares are applied in order, with earlier middlewares being outermost.
//
// For example: Chain(provider, mw1, mw2, mw3) creates the call stack:
//
//	mw1 -> mw2 -> mw3 -> provider
//
// This means mw1 runs first and has the opportunity to modify the request
// or short-circuit before it reaches mw2, mw3, and finally the base provider.
func Chain(base Provider, middlewares ...Middleware) Provider {
	// Apply middlewares in reverse order so that the first middleware
	// in the slice becomes the outermost wrapper
	provider := base
	for i := len(middlewares) - 1; i >= 0; i-- {
		provider = middlewares[i](provider)
	}
	return provider
}
