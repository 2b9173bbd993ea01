package metrics

import (
	"context"
	"errors"
	"strings"
	"time"

	"agentcore/pkg/llm"
	"agentcore/pkg/llmerrors"
	"agentcore/pkg/logx"
	"agentcore/pkg/middleware/resilience/circuit"
	"agentcore/pkg/utils"
)

var logger = logx.NewLogger("metrics")

// UsageExtractor derives token usage when the backend did not report any.
type UsageExtractor interface {
	ExtractUsage(req llm.CompletionRequest, resp llm.CompletionResponse) llm.Usage
}

// DefaultUsageExtractor estimates usage from message text. Roughly 4 chars
// per token via the shared tokenizer; close enough for cost tracking.
type DefaultUsageExtractor struct{}

// ExtractUsage estimates prompt and completion token counts from text content.
func (e *DefaultUsageExtractor) ExtractUsage(req llm.CompletionRequest, resp llm.CompletionResponse) llm.Usage {
	var sb strings.Builder
	for i := range req.Messages {
		sb.WriteString(req.Messages[i].Content)
		sb.WriteString("\n")
		for j := range req.Messages[i].ToolResults {
			sb.WriteString(req.Messages[i].ToolResults[j].Content)
			sb.WriteString("\n")
		}
	}

	promptTokens := utils.CountTokensSimple(sb.String())
	completionTokens := utils.CountTokensSimple(resp.Content)

	return llm.Usage{
		PromptTokens:     promptTokens,
		CompletionTokens: completionTokens,
		TotalTokens:      promptTokens + completionTokens,
		Estimated:        true,
	}
}

// Middleware records request counts, token usage, cost, and latency for every
// provider call. Usage reported by the backend wins; otherwise the extractor
// estimates it. Cost is derived from the provider's per-million-token rates.
func Middleware(recorder Recorder, extractor UsageExtractor) llm.Middleware {
	if recorder == nil {
		recorder = Nop()
	}
	if extractor == nil {
		extractor = &DefaultUsageExtractor{}
	}

	return func(next llm.Provider) llm.Provider {
		desc := next.Describe()

		completeFn := func(ctx context.Context, req llm.CompletionRequest) (llm.CompletionResponse, error) {
			start := time.Now()
			resp, err := next.Complete(ctx, req)
			duration := time.Since(start)

			usage := resolveUsage(extractor, req, resp)
			observe(recorder, desc, logx.ConversationIDFromContext(ctx), usage, err, duration)

			return resp, err
		}

		streamFn := func(ctx context.Context, req llm.CompletionRequest) (<-chan llm.StreamChunk, error) {
			start := time.Now()
			stream, err := next.Stream(ctx, req)
			if err != nil {
				observe(recorder, desc, logx.ConversationIDFromContext(ctx), llm.Usage{}, err, time.Since(start))
				return nil, err
			}

			// Observe the whole stream: usage arrives on the final chunk,
			// failures arrive as chunk errors.
			out := make(chan llm.StreamChunk)
			go func() {
				defer close(out)

				var usage llm.Usage
				var content strings.Builder
				var streamErr error

				for chunk := range stream {
					if chunk.Error != nil {
						streamErr = chunk.Error
					}
					content.WriteString(chunk.Content)
					if chunk.Usage != nil {
						usage = *chunk.Usage
					}
					out <- chunk
				}

				if usage.TotalTokens == 0 && streamErr == nil {
					usage = resolveUsage(extractor, req, llm.CompletionResponse{Content: content.String()})
				}
				observe(recorder, desc, logx.ConversationIDFromContext(ctx), usage, streamErr, time.Since(start))
			}()
			return out, nil
		}

		return llm.WrapProvider(completeFn, streamFn, next.Describe)
	}
}

// resolveUsage prefers backend-reported counts over local estimation.
func resolveUsage(extractor UsageExtractor, req llm.CompletionRequest, resp llm.CompletionResponse) llm.Usage {
	if resp.Usage.TotalTokens > 0 {
		return resp.Usage
	}
	return extractor.ExtractUsage(req, resp)
}

func observe(
	recorder Recorder,
	desc llm.ModelDescriptor,
	conversationID string,
	usage llm.Usage,
	err error,
	duration time.Duration,
) {
	success := err == nil
	cost := requestCost(desc, usage)
	errorType := getErrorType(err)

	recorder.ObserveRequest(
		desc.ProviderFamily, desc.ModelID, conversationID,
		usage.PromptTokens, usage.CompletionTokens,
		cost, success, errorType, duration,
	)

	logger.Info("🎯 LLM Request: model=%s conversation=%s tokens=%d/%d cost=$%.6f duration=%v success=%v",
		desc.Name(), conversationID, usage.PromptTokens, usage.CompletionTokens, cost, duration, success)
}

// requestCost computes USD cost from the descriptor's per-million-token rates.
func requestCost(desc llm.ModelDescriptor, usage llm.Usage) float64 {
	return (float64(usage.PromptTokens)*desc.InputCostPerMTok +
		float64(usage.CompletionTokens)*desc.OutputCostPerMTok) / 1_000_000
}

// getErrorType maps an error to a metric label value.
func getErrorType(err error) string {
	if err == nil {
		return ""
	}

	var circuitErr *circuit.Error
	if errors.As(err, &circuitErr) {
		return "circuit_breaker"
	}

	var llmErr *llmerrors.Error
	if errors.As(err, &llmErr) {
		return llmErr.Type.String()
	}

	switch {
	case errors.Is(err, context.DeadlineExceeded):
		return "timeout"
	case errors.Is(err, context.Canceled):
		return "canceled"
	default:
		return "unknown"
	}
}
