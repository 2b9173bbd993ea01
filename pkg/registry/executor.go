package registry

import (
	"context"
	"errors"
	"fmt"

	"agentcore/pkg/budget"
	"agentcore/pkg/llm"
	"agentcore/pkg/llmerrors"
)

// Result carries the outcome of one dispatched step: the response (or the
// live stream), plus the identity of the provider that served it so callers
// can attribute usage and cost.
type Result struct {
	Stream     <-chan llm.StreamChunk
	EntryID    string
	Response   llm.CompletionResponse
	Descriptor llm.ModelDescriptor
}

// Executor dispatches one completion through the registry's preference
// order: selected entry first, then each following entry once. Per-provider
// retries happen inside each candidate's middleware chain; the executor only
// decides when to move on to the next provider.
type Executor struct {
	registry     *Registry
	safetyMargin int
}

// NewExecutor builds a failover executor over the registry. A non-positive
// safety margin falls back to the budget resolver's default reserve.
func NewExecutor(r *Registry, safetyMargin int) *Executor {
	if safetyMargin <= 0 {
		safetyMargin = budget.DefaultSafetyMargin
	}
	return &Executor{registry: r, safetyMargin: safetyMargin}
}

// Execute runs one completion with fallback traversal.
//
// For each candidate the output budget is resolved fresh against that
// provider's window, so a fallback provider with a smaller window gets a
// smaller request. ContextOverflow — whether detected here or reported by
// the provider — is returned to the caller untouched: truncation is the
// planner's move, not another provider's. A candidate with
// AllowFallback=false pins the step; its failure is final.
//
//nolint:gocritic // CompletionRequest passed by value matches the provider contract
func (e *Executor) Execute(ctx context.Context, req llm.CompletionRequest, promptTokens int) (Result, error) {
	return e.traverse(ctx, req, promptTokens, func(ctx context.Context, cand *Candidate, attempt llm.CompletionRequest) (Result, error) {
		resp, err := cand.Provider.Complete(ctx, attempt)
		if err != nil {
			return Result{}, err
		}
		return Result{Response: resp}, nil
	})
}

// ExecuteStream is Execute for streaming dispatch. Fallback applies only to
// stream setup: once a channel is handed out the provider may already have
// emitted content, so mid-stream errors surface on the channel and are never
// re-dispatched.
//
//nolint:gocritic // CompletionRequest passed by value matches the provider contract
func (e *Executor) ExecuteStream(ctx context.Context, req llm.CompletionRequest, promptTokens int) (Result, error) {
	return e.traverse(ctx, req, promptTokens, func(ctx context.Context, cand *Candidate, attempt llm.CompletionRequest) (Result, error) {
		ch, err := cand.Provider.Stream(ctx, attempt)
		if err != nil {
			return Result{}, err
		}
		return Result{Stream: ch}, nil
	})
}

// traverse walks the preference order once, dispatching through each
// candidate until one succeeds or traversal is cut short.
//
//nolint:gocritic // CompletionRequest passed by value matches the provider contract
func (e *Executor) traverse(
	ctx context.Context,
	req llm.CompletionRequest,
	promptTokens int,
	dispatch func(context.Context, *Candidate, llm.CompletionRequest) (Result, error),
) (Result, error) {
	candidates := e.registry.Candidates()

	var lastErr error
	tried := 0

	for i := range candidates {
		cand := &candidates[i]
		desc := cand.Provider.Describe()

		maxTokens, err := budget.ResolveMaxTokens(desc, cand.Entry.ContextWindowOverride, promptTokens, e.safetyMargin)
		if err != nil {
			return Result{}, err
		}

		attempt := req
		// The budget is a ceiling; a smaller caller-requested output stands.
		if attempt.MaxTokens <= 0 || attempt.MaxTokens > maxTokens {
			attempt.MaxTokens = maxTokens
		}

		tried++
		result, err := dispatch(ctx, cand, attempt)
		if err == nil {
			result.EntryID = cand.Entry.ID
			result.Descriptor = desc
			return result, nil
		}
		lastErr = err

		if errors.Is(err, context.Canceled) || ctx.Err() != nil {
			return Result{}, err
		}
		if llmerrors.IsContextOverflow(err) {
			return Result{}, err
		}
		if !cand.Entry.AllowFallback {
			logger.Warn("⛔ Provider '%s' failed and pins this step (fallback disabled): %v", cand.Entry.ID, err)
			return Result{}, err
		}
		if i < len(candidates)-1 {
			logger.Warn("⤵️  Provider '%s' exhausted (%v), falling back to '%s'", cand.Entry.ID, err, candidates[i+1].Entry.ID)
		}
	}

	return Result{}, fmt.Errorf("all %d providers in preference order failed: %w", tried, lastErr)
}
