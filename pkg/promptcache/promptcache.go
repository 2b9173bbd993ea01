// Package promptcache annotates the stable prefix of an outgoing completion
// request as cacheable: the system prompt, the tool definitions, and a frozen
// slice of conversation history. Cache-capable providers use the annotations
// to skip re-processing unchanged prefixes on successive turns; providers
// without support ignore them. Annotation never changes message content,
// order, or roles — the response must be identical whether or not a provider
// honors the cache.
package promptcache

import (
	"agentcore/pkg/llm"
)

// MinMessagesForHistoryFreeze is the history length below which no history
// breakpoint is placed. Short conversations churn too fast for a prefix
// cache write to pay for itself.
const MinMessagesForHistoryFreeze = 4

// Controller decides which request segments get cache annotations.
//
//nolint:govet // fieldalignment: logical grouping preferred
type Controller struct {
	// TTL applied to annotations ("5m" or "1h"). Empty means provider default.
	TTL string
	// FreezeHistory places a breakpoint after the stable history prefix
	// (everything but the most recent turn) once the conversation is long
	// enough for it to matter.
	FreezeHistory bool
}

// New returns a Controller with the short-lived TTL and history freezing on.
func New() *Controller {
	return &Controller{TTL: llm.CacheTTL5m, FreezeHistory: true}
}

// Annotate returns a copy of req with cache annotations applied. The input
// request is not modified. Existing annotations are preserved, never
// overwritten, so callers may pin their own breakpoints.
func (c *Controller) Annotate(req llm.CompletionRequest) llm.CompletionRequest {
	if len(req.Messages) == 0 {
		return req
	}

	messages := make([]llm.CompletionMessage, len(req.Messages))
	copy(messages, req.Messages)
	req.Messages = messages

	// Tool definitions are byte-stable across planner steps (the registry
	// advertises them in sorted order), so they are always a cache hit after
	// the first turn.
	if len(req.Tools) > 0 {
		req.CacheTools = true
	}

	// System prompt: the outermost stable segment.
	for i := range messages {
		if messages[i].Role == llm.RoleSystem {
			if messages[i].CacheControl == nil {
				messages[i].CacheControl = c.control()
			}
			break
		}
	}

	// Frozen history prefix: everything up to, but excluding, the most
	// recent message is identical to what the provider saw last turn. Moving
	// the breakpoint forward each turn extends the cached prefix
	// incrementally.
	if c.FreezeHistory && len(messages) >= MinMessagesForHistoryFreeze {
		idx := len(messages) - 2
		if messages[idx].Role != llm.RoleSystem && messages[idx].CacheControl == nil {
			messages[idx].CacheControl = c.control()
		}
	}

	return req
}

func (c *Controller) control() *llm.CacheControl {
	return &llm.CacheControl{Type: llm.CacheTypeEphemeral, TTL: c.TTL}
}
