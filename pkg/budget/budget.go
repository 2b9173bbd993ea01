// Package budget resolves how many output tokens a completion request may
// ask for without overflowing the model's context window.
//
// The resolver is pure: no I/O, no state, identical inputs produce identical
// outputs. The planner calls it before every provider call, and again after
// truncating the conversation when a provider is swapped in with a different
// window.
package budget

import (
	"agentcore/pkg/llm"
	"agentcore/pkg/llmerrors"
)

// DefaultContextWindow is the ceiling assumed when neither a config override
// nor the model descriptor reports a context window.
const DefaultContextWindow = 128000

// DefaultSafetyMargin is the fixed reserve subtracted from the window to
// absorb response framing overhead the prompt-token estimate cannot see.
const DefaultSafetyMargin = 2000

// ResolveMaxTokens computes the output-token budget for one request.
//
// Ceiling precedence: a positive override wins, then the descriptor's
// reported window, then DefaultContextWindow. The available budget is
// ceiling − promptTokens − safetyMargin; when that is zero or negative the
// resolver fails with a ContextOverflow error before any network call is
// made — it never clamps to a degenerate budget. A positive
// desc.MaxOutputTokens caps the result, since requesting more than the model
// can emit is a provider-side error on several backends.
func ResolveMaxTokens(desc llm.ModelDescriptor, override, promptTokens, safetyMargin int) (int, error) {
	ceiling := DefaultContextWindow
	switch {
	case override > 0:
		ceiling = override
	case desc.ContextWindowTokens > 0:
		ceiling = desc.ContextWindowTokens
	}

	available := ceiling - promptTokens - safetyMargin
	if available <= 0 {
		return 0, llmerrors.NewContextOverflowError(promptTokens, ceiling)
	}

	if desc.MaxOutputTokens > 0 && available > desc.MaxOutputTokens {
		available = desc.MaxOutputTokens
	}
	return available, nil
}

// Resolve is ResolveMaxTokens with the default safety margin.
func Resolve(desc llm.ModelDescriptor, override, promptTokens int) (int, error) {
	return ResolveMaxTokens(desc, override, promptTokens, DefaultSafetyMargin)
}
