// Package promptdump provides failure-triggered prompt logging middleware.
// Prompts are sensitive and large, so they are logged only when a request
// fails and the configured mode asks for it.
package promptdump

import (
	"context"
	"errors"
	"time"

	"agentcore/pkg/llm"
	"agentcore/pkg/llmerrors"
	"agentcore/pkg/logx"
	"agentcore/pkg/middleware/resilience/retry"
)

// Mode defines when prompts should be logged.
type Mode string

const (
	// ModeOff disables prompt logging completely.
	ModeOff Mode = "off"
	// ModeOnFailure logs prompts on any failure.
	ModeOnFailure Mode = "on_failure"
	// ModeFinalOnly logs prompts only on failures no retry will follow.
	ModeFinalOnly Mode = "final_only"
)

// ParseMode maps a config string to a Mode, defaulting to final_only.
func ParseMode(s string) Mode {
	switch Mode(s) {
	case ModeOff, ModeOnFailure, ModeFinalOnly:
		return Mode(s)
	default:
		return ModeFinalOnly
	}
}

// Config configures prompt logging behavior.
type Config struct {
	Mode     Mode // When to log prompts
	MaxChars int  // Maximum characters to log (truncate with hash if larger)
}

// DefaultConfig provides sensible defaults.
//
//nolint:gochecknoglobals // Configuration struct - acceptable for package defaults
var DefaultConfig = Config{
	Mode:     ModeFinalOnly,
	MaxChars: 4000,
}

var logger = logx.NewLogger("promptdump")

// Middleware returns a middleware that dumps sanitized prompts on failure and
// emits a debug summary line on success. Stream errors are covered at setup;
// mid-stream failures surface through chunk errors upstream.
func Middleware(cfg Config) llm.Middleware {
	if cfg.MaxChars <= 0 {
		cfg.MaxChars = DefaultConfig.MaxChars
	}

	return func(next llm.Provider) llm.Provider {
		desc := next.Describe()

		completeFn := func(ctx context.Context, req llm.CompletionRequest) (llm.CompletionResponse, error) {
			start := time.Now()
			resp, err := next.Complete(ctx, req)
			duration := time.Since(start)

			if err != nil {
				logFailure(cfg, desc, req, err, duration)
			} else {
				logSuccess(desc, req, resp, duration)
			}
			return resp, err
		}

		streamFn := func(ctx context.Context, req llm.CompletionRequest) (<-chan llm.StreamChunk, error) {
			start := time.Now()
			stream, err := next.Stream(ctx, req)
			if err != nil {
				logFailure(cfg, desc, req, err, time.Since(start))
			}
			return stream, err
		}

		return llm.WrapProvider(completeFn, streamFn, next.Describe)
	}
}

// shouldLog decides whether a failure warrants a prompt dump under the mode.
func shouldLog(mode Mode, err error) bool {
	switch mode {
	case ModeOnFailure:
		return true
	case ModeFinalOnly:
		// Log only when no retry will follow: either the error is
		// non-retryable or the retry layer already gave up on it.
		return !retry.ShouldRetry(err)
	default:
		return false
	}
}

func logFailure(cfg Config, desc llm.ModelDescriptor, req llm.CompletionRequest, err error, duration time.Duration) {
	if cfg.Mode == ModeOff || !shouldLog(cfg.Mode, err) {
		return
	}

	promptContent := extractPromptContent(req)
	sanitizedPrompt := llmerrors.SanitizePrompt(promptContent, cfg.MaxChars)

	errorType := llmerrors.TypeOf(err)
	var statusCode int
	var llmErr *llmerrors.Error
	if errors.As(err, &llmErr) {
		statusCode = llmErr.StatusCode
	}

	// Rough estimate: 4 chars per token
	approxTokens := len(promptContent) / 4

	logger.Warn("LLM request failed - prompt logged for debugging: model=%s error_type=%s status_code=%d duration_ms=%d prompt_chars=%d approx_tokens=%d max_tokens=%d tools_count=%d messages_count=%d error=%s prompt=%s",
		desc.Name(),
		errorType.String(),
		statusCode,
		duration.Milliseconds(),
		len(promptContent),
		approxTokens,
		req.MaxTokens,
		len(req.Tools),
		len(req.Messages),
		err.Error(),
		sanitizedPrompt,
	)
}

// logSuccess logs request metrics at debug level, never the prompt itself.
func logSuccess(desc llm.ModelDescriptor, req llm.CompletionRequest, resp llm.CompletionResponse, duration time.Duration) {
	promptLength := calculatePromptLength(req)
	approxTokens := promptLength / 4

	logger.Debug("LLM request succeeded: model=%s duration_ms=%d prompt_chars=%d approx_tokens=%d response_chars=%d tool_calls=%d max_tokens=%d",
		desc.Name(),
		duration.Milliseconds(),
		promptLength,
		approxTokens,
		len(resp.Content),
		len(resp.ToolCalls),
		req.MaxTokens,
	)
}

// extractPromptContent renders the conversation the way it is sent, role-tagged.
func extractPromptContent(req llm.CompletionRequest) string {
	var content string

	for i := range req.Messages {
		msg := &req.Messages[i]
		if i > 0 {
			content += "\n\n"
		}
		content += "[" + string(msg.Role) + "]: " + msg.Content
	}

	return content
}

// calculatePromptLength calculates the total character length of all messages.
func calculatePromptLength(req llm.CompletionRequest) int {
	total := 0
	for i := range req.Messages {
		total += len(req.Messages[i].Content)
	}
	return total
}
