// Package registry constructs the configured LLM providers, wraps each in
// the resilience/observability middleware chain, and exposes them in
// preference order for failover traversal.
//
// The registry is built once at startup and is read-only afterwards, so
// concurrent lookups from independent conversations need no locking.
package registry

import (
	"context"
	"fmt"

	"agentcore/pkg/config"
	"agentcore/pkg/llm"
	"agentcore/pkg/logx"
	"agentcore/pkg/middleware/metrics"
	"agentcore/pkg/middleware/promptdump"
	"agentcore/pkg/middleware/resilience/circuit"
	"agentcore/pkg/middleware/resilience/ratelimit"
	"agentcore/pkg/middleware/resilience/retry"
	"agentcore/pkg/middleware/resilience/timeout"
	"agentcore/pkg/registry/internal/llmimpl/anthropic"
	"agentcore/pkg/registry/internal/llmimpl/google"
	"agentcore/pkg/registry/internal/llmimpl/ollama"
	"agentcore/pkg/registry/internal/llmimpl/openai"
	"agentcore/pkg/registry/internal/llmimpl/openrouter"
)

var logger = logx.NewLogger("registry")

// Candidate pairs a configured provider entry with its assembled client.
// The executor walks candidates in preference order.
type Candidate struct {
	Provider llm.Provider
	Entry    config.ProviderEntry
}

// Registry holds the assembled providers in configured preference order.
type Registry struct {
	metricsRecorder metrics.Recorder
	candidates      []Candidate
	start           int // index of the selected entry
}

// Build constructs every configured provider with its middleware chain. The
// selector decides which entry fallback traversal starts from; a selector
// model override replaces that entry's configured model.
func Build(ctx context.Context, cfg *config.Config, sel config.Selector) (*Registry, error) {
	recorder := recorderFor(cfg)
	limiterMap := ratelimit.NewProviderLimiterMap(ctx, cfg.Resilience.RateLimit, cfg.Resilience.Timeout)

	breakerConfig := circuit.Config{
		FailureThreshold: cfg.Resilience.CircuitBreaker.FailureThreshold,
		SuccessThreshold: cfg.Resilience.CircuitBreaker.SuccessThreshold,
		Timeout:          cfg.Resilience.CircuitBreaker.Timeout,
	}
	retryPolicy := retry.NewPolicy(retry.Config{
		MaxAttempts:   cfg.Resilience.Retry.MaxAttempts,
		InitialDelay:  cfg.Resilience.Retry.InitialDelay,
		MaxDelay:      cfg.Resilience.Retry.MaxDelay,
		BackoffFactor: cfg.Resilience.Retry.BackoffFactor,
		Jitter:        cfg.Resilience.Retry.Jitter,
	}, nil)

	r := &Registry{metricsRecorder: recorder, start: -1}

	for i := range cfg.Providers {
		entry := cfg.Providers[i]
		model := entry.Model
		if sel.Entry == entry.ID {
			r.start = len(r.candidates)
			if sel.Model != "" {
				model = sel.Model
			}
		}

		raw, err := newRawProvider(&entry, model)
		if err != nil {
			return nil, fmt.Errorf("provider entry '%s': %w", entry.ID, err)
		}

		// Each entry gets its own breaker: two entries of the same family
		// may point at different hosts or models and fail independently.
		middlewares := []llm.Middleware{
			metrics.Middleware(recorder, nil),
		}
		if mode := promptdump.ParseMode(cfg.Debug.PromptLogMode); mode != promptdump.ModeOff {
			middlewares = append(middlewares, promptdump.Middleware(promptdump.Config{
				Mode:     mode,
				MaxChars: promptdump.DefaultConfig.MaxChars,
			}))
		}
		middlewares = append(middlewares,
			retry.Middleware(retryPolicy),
			circuit.Middleware(circuit.New(breakerConfig)),
			ratelimit.Middleware(limiterMap, nil, recorder),
			timeout.Middleware(cfg.Resilience.Timeout),
		)

		r.candidates = append(r.candidates, Candidate{
			Entry:    entry,
			Provider: llm.Chain(raw, middlewares...),
		})
		logger.Info("🔌 Provider '%s' ready (%s)", entry.ID, raw.Describe().Name())
	}

	if r.start < 0 {
		return nil, fmt.Errorf("selector '%s' resolved to entry '%s' which is not configured", sel.Raw, sel.Entry)
	}
	return r, nil
}

// New assembles a registry from pre-built candidates, starting traversal at
// the given index. Used by tests and by callers that construct their own
// provider chains.
func New(candidates []Candidate, start int) (*Registry, error) {
	if len(candidates) == 0 {
		return nil, fmt.Errorf("registry needs at least one provider")
	}
	if start < 0 || start >= len(candidates) {
		return nil, fmt.Errorf("start index %d out of range (have %d candidates)", start, len(candidates))
	}
	return &Registry{candidates: candidates, start: start, metricsRecorder: metrics.Nop()}, nil
}

// newRawProvider constructs the bare adapter for one entry, resolving the
// credential through the secrets store with environment fallback.
func newRawProvider(entry *config.ProviderEntry, model string) (llm.Provider, error) {
	family := entry.Family()

	var apiKey string
	if envKey := config.EnvKeyForFamily(family); envKey != "" {
		key, err := config.GetSecret(envKey)
		if err != nil {
			return nil, fmt.Errorf("missing credential for family '%s': %w", family, err)
		}
		apiKey = key
	}

	switch family {
	case config.ProviderAnthropic:
		return anthropic.New(apiKey, model), nil
	case config.ProviderOpenAI:
		return openai.New(apiKey, model), nil
	case config.ProviderGoogle:
		return google.New(apiKey, model), nil
	case config.ProviderOllama:
		host := entry.BaseURL
		if host == "" {
			host, _ = config.GetSecret(config.EnvOllamaHost) //nolint:errcheck // adapter defaults the host
		}
		return ollama.New(host, model), nil
	case config.ProviderOpenRouter:
		return openrouter.New(apiKey, model, openrouter.Options{
			BaseURL: entry.BaseURL,
			Routing: entry.Routing,
		}), nil
	default:
		return nil, fmt.Errorf("unknown provider family '%s'", family)
	}
}

// Candidates returns the fallback traversal slice: the selected entry first,
// then the remaining entries in configured order. The returned slice is
// shared; callers must not mutate it.
func (r *Registry) Candidates() []Candidate {
	return r.candidates[r.start:]
}

// Selected returns the candidate traversal starts from.
func (r *Registry) Selected() Candidate {
	return r.candidates[r.start]
}

// Len reports the total number of configured candidates.
func (r *Registry) Len() int {
	return len(r.candidates)
}

// MetricsRecorder exposes the shared recorder so collaborators (planner,
// persistence hooks) can record against the same sink.
func (r *Registry) MetricsRecorder() metrics.Recorder {
	return r.metricsRecorder
}

// recorderFor picks the metrics sink from config.
func recorderFor(cfg *config.Config) metrics.Recorder {
	if !cfg.Metrics.Enabled {
		return metrics.Nop()
	}
	switch cfg.Metrics.Exporter {
	case "prometheus":
		return metrics.NewPrometheusRecorder()
	case "internal":
		return metrics.NewInternalRecorder()
	default:
		return metrics.Nop()
	}
}
