// Package config provides agent configuration: the static model capability
// registry, the YAML config file, provider preference lists, and the
// encrypted secrets store.
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"agentcore/pkg/logx"
)

// Provider family constants. A provider entry's family selects the adapter
// that serves it.
const (
	ProviderAnthropic  = "anthropic"
	ProviderOpenAI     = "openai"
	ProviderGoogle     = "google"
	ProviderOllama     = "ollama"
	ProviderOpenRouter = "openrouter"
)

// API key environment variable names.
const (
	EnvAnthropicAPIKey  = "ANTHROPIC_API_KEY"
	EnvOpenAIAPIKey     = "OPENAI_API_KEY"
	EnvGoogleAPIKey     = "GOOGLE_GENAI_API_KEY"
	EnvOpenRouterAPIKey = "OPENROUTER_API_KEY"
	EnvOllamaHost       = "OLLAMA_HOST"

	// EnvPassword unlocks the encrypted secrets file without prompting.
	EnvPassword = "AGENTCORE_PASSWORD"
)

// Model name constants.
const (
	ModelClaudeSonnet4      = "claude-sonnet-4-5"
	ModelClaudeSonnet3      = "claude-3-7-sonnet-20250219"
	ModelClaudeSonnetLatest = ModelClaudeSonnet4
	ModelClaudeOpus45       = "claude-opus-4-5"
	ModelOpenAIO3           = "o3"
	ModelGPT4o              = "gpt-4o"
	ModelGPT5               = "gpt-5"
	ModelGemini25Flash      = "gemini-2.5-flash"
	ModelOpenRouterDefault  = "anthropic/claude-3.5-sonnet"

	DefaultModel = ModelClaudeSonnetLatest
)

// Project config constants.
const (
	ProjectConfigDir      = ".agentcore"
	ProjectConfigFilename = "config.yaml"
	DatabaseFilename      = "agentcore.db"

	// DefaultOllamaHost is used when OLLAMA_HOST is not set.
	DefaultOllamaHost = "http://localhost:11434"

	// DefaultSafetyMarginTokens is the reserve subtracted from the context
	// window when resolving an output budget; it absorbs response framing
	// overhead the token estimate cannot see.
	DefaultSafetyMarginTokens = 2000

	// DefaultMaxIterations bounds the planner loop.
	DefaultMaxIterations = 10

	// DefaultMaxToolCorrections bounds corrective feedback rounds for
	// malformed tool-call syntax before the task fails.
	DefaultMaxToolCorrections = 2

	// DefaultMaxConsecutiveToolFailures bounds all-failed tool rounds before
	// the task fails.
	DefaultMaxConsecutiveToolFailures = 3
)

// Package logger for config operations.
//
//nolint:gochecknoglobals // Package-level logger mirrors the rest of the codebase
var logger = logx.NewLogger("config")

// ModelInfo contains static information about a known LLM model.
// This data is hardcoded in the application, not user-configurable.
type ModelInfo struct {
	Provider          string  // Provider family (anthropic, openai, google, ollama, openrouter)
	InputCPM          float64 // Cost per million input tokens (USD)
	OutputCPM         float64 // Cost per million output tokens (USD)
	MaxContextTokens  int     // Maximum context window size in tokens
	MaxOutputTokens   int     // Maximum output tokens per request
	SupportsCache     bool    // Prompt caching supported
	SupportsStreaming bool    // Streaming supported
}

// KnownModels registry contains pricing and capability information for common
// models. This is optional - unknown models will be inferred via ProviderPatterns.
//
//nolint:gochecknoglobals // Intentional global for static model registry
var KnownModels = map[string]ModelInfo{
	// Claude models (Anthropic)
	ModelClaudeSonnet3: {
		Provider:          ProviderAnthropic,
		InputCPM:          3.0,
		OutputCPM:         15.0,
		MaxContextTokens:  200000,
		MaxOutputTokens:   8192,
		SupportsCache:     true,
		SupportsStreaming: true,
	},
	ModelClaudeSonnet4: {
		Provider:          ProviderAnthropic,
		InputCPM:          3.0,
		OutputCPM:         15.0,
		MaxContextTokens:  200000,
		MaxOutputTokens:   8192,
		SupportsCache:     true,
		SupportsStreaming: true,
	},
	ModelClaudeOpus45: {
		Provider:          ProviderAnthropic,
		InputCPM:          15.0,
		OutputCPM:         75.0,
		MaxContextTokens:  200000,
		MaxOutputTokens:   16384,
		SupportsCache:     true,
		SupportsStreaming: true,
	},

	// OpenAI GPT models
	ModelGPT4o: {
		Provider:          ProviderOpenAI,
		InputCPM:          2.5,
		OutputCPM:         10.0,
		MaxContextTokens:  128000,
		MaxOutputTokens:   4096,
		SupportsStreaming: true,
	},
	ModelGPT5: {
		Provider:          ProviderOpenAI,
		InputCPM:          20.0,
		OutputCPM:         60.0,
		MaxContextTokens:  128000,
		MaxOutputTokens:   4096,
		SupportsStreaming: true,
	},

	// OpenAI o-series models
	"o3-mini": {
		Provider:          ProviderOpenAI,
		InputCPM:          1.1,
		OutputCPM:         4.4,
		MaxContextTokens:  128000,
		MaxOutputTokens:   16384,
		SupportsStreaming: true,
	},
	ModelOpenAIO3: {
		Provider:          ProviderOpenAI,
		InputCPM:          1.1,
		OutputCPM:         4.4,
		MaxContextTokens:  128000,
		MaxOutputTokens:   16384,
		SupportsStreaming: true,
	},
	"o4-mini": {
		Provider:          ProviderOpenAI,
		InputCPM:          1.1,
		OutputCPM:         4.4,
		MaxContextTokens:  128000,
		MaxOutputTokens:   16384,
		SupportsStreaming: true,
	},

	// Google Gemini models
	"gemini-2.0-flash": {
		Provider:          ProviderGoogle,
		InputCPM:          0.10,
		OutputCPM:         0.40,
		MaxContextTokens:  1048576,
		MaxOutputTokens:   8192,
		SupportsStreaming: true,
	},
	ModelGemini25Flash: {
		Provider:          ProviderGoogle,
		InputCPM:          0.30,
		OutputCPM:         2.50,
		MaxContextTokens:  1048576,
		MaxOutputTokens:   65536,
		SupportsStreaming: true,
	},

	// OpenRouter catalog entries (vendor-prefixed model IDs)
	ModelOpenRouterDefault: {
		Provider:          ProviderOpenRouter,
		InputCPM:          3.0,
		OutputCPM:         15.0,
		MaxContextTokens:  200000,
		MaxOutputTokens:   8192,
		SupportsStreaming: true,
	},
	"openai/gpt-4o": {
		Provider:          ProviderOpenRouter,
		InputCPM:          2.5,
		OutputCPM:         10.0,
		MaxContextTokens:  128000,
		MaxOutputTokens:   4096,
		SupportsStreaming: true,
	},
}

// ProviderPattern represents a pattern for inferring provider from model name.
type ProviderPattern struct {
	Prefix   string
	Provider string
}

// ProviderPatterns defines rules for inferring providers from unknown model names.
// Allows using new models without code changes.
//
//nolint:gochecknoglobals // Intentional global for inference rules
var ProviderPatterns = []ProviderPattern{
	{"claude", ProviderAnthropic},
	{"gpt", ProviderOpenAI},
	{"o1", ProviderOpenAI},
	{"o3", ProviderOpenAI},
	{"o4", ProviderOpenAI},
	{"gemini", ProviderGoogle},
	// Ollama models - common open-source model prefixes
	{"phi", ProviderOllama},
	{"llama", ProviderOllama},
	{"qwen", ProviderOllama},
	{"mistral", ProviderOllama},
	{"codellama", ProviderOllama},
	{"deepseek", ProviderOllama},
	{"ollama:", ProviderOllama}, // Explicit prefix like "ollama:phi4"
}

// GetModelProvider returns the provider family for a given model.
// First checks KnownModels, then tries pattern matching. Vendor-prefixed IDs
// ("anthropic/claude-3.5-sonnet") belong to the aggregator catalog.
// Returns error if the model cannot be mapped to a provider (FATAL).
func GetModelProvider(modelName string) (string, error) {
	if info, exists := KnownModels[modelName]; exists {
		return info.Provider, nil
	}

	if strings.Contains(modelName, "/") {
		return ProviderOpenRouter, nil
	}

	for i := range ProviderPatterns {
		if strings.HasPrefix(modelName, ProviderPatterns[i].Prefix) {
			return ProviderPatterns[i].Provider, nil
		}
	}

	// FATAL: Cannot proceed without valid provider
	return "", fmt.Errorf("unknown model '%s': no known provider mapping or pattern match - cannot determine API provider", modelName)
}

// GetModelInfo returns the ModelInfo for a given model name.
// Returns the info and true if found in KnownModels, or a default info with
// inferred provider and false if not found.
func GetModelInfo(modelName string) (ModelInfo, bool) {
	if info, exists := KnownModels[modelName]; exists {
		return info, true
	}

	provider, err := GetModelProvider(modelName)
	if err != nil {
		provider = ""
	}

	// Conservative defaults for unknown models
	return ModelInfo{
		Provider:          provider,
		InputCPM:          0.0, // No cost tracking for unknown models
		OutputCPM:         0.0,
		MaxContextTokens:  32000,
		MaxOutputTokens:   4096,
		SupportsStreaming: true,
	}, false
}

// CalculateModelCost returns the USD cost of a request given token counts.
// Unknown models yield zero cost.
func CalculateModelCost(modelName string, inputTokens, outputTokens int) float64 {
	info, _ := GetModelInfo(modelName)
	return (float64(inputTokens)*info.InputCPM + float64(outputTokens)*info.OutputCPM) / 1e6
}

// KnownFamilies lists the adapter families the registry can construct.
//
//nolint:gochecknoglobals // Static family set
var KnownFamilies = map[string]struct{}{
	ProviderAnthropic:  {},
	ProviderOpenAI:     {},
	ProviderGoogle:     {},
	ProviderOllama:     {},
	ProviderOpenRouter: {},
}

// CircuitBreakerConfig defines configuration for circuit breaker behavior.
type CircuitBreakerConfig struct {
	FailureThreshold int           `yaml:"failure_threshold"` // Number of failures before opening circuit
	SuccessThreshold int           `yaml:"success_threshold"` // Number of successes to close circuit from half-open
	Timeout          time.Duration `yaml:"timeout"`           // Time to wait before trying half-open
}

// RetryConfig defines configuration for retry behavior.
type RetryConfig struct {
	MaxAttempts   int           `yaml:"max_attempts"`   // Maximum number of attempts (including initial)
	InitialDelay  time.Duration `yaml:"initial_delay"`  // Initial delay before first retry
	MaxDelay      time.Duration `yaml:"max_delay"`      // Maximum delay between retries
	BackoffFactor float64       `yaml:"backoff_factor"` // Multiplier for exponential backoff
	Jitter        bool          `yaml:"jitter"`         // Add random jitter to prevent thundering herd
}

// RateLimitBufferFactor discounts advertised per-minute quotas to absorb
// token estimation error. Defined here so config validation and limiter
// capacity calculation stay consistent.
const RateLimitBufferFactor = 0.9

// ProviderLimits defines rate limiting configuration for a specific provider family.
type ProviderLimits struct {
	TokensPerMinute int `yaml:"tokens_per_minute"` // Rate limit in tokens per minute
	MaxConcurrency  int `yaml:"max_concurrency"`   // Maximum concurrent requests
}

// RateLimitConfig defines rate limiting configuration grouped by provider family.
type RateLimitConfig struct {
	Anthropic  ProviderLimits `yaml:"anthropic"`
	OpenAI     ProviderLimits `yaml:"openai"`
	Google     ProviderLimits `yaml:"google"`
	Ollama     ProviderLimits `yaml:"ollama"`
	OpenRouter ProviderLimits `yaml:"openrouter"`
}

// LimitsFor returns the configured limits for a provider family, falling back
// to ProviderDefaults when the config leaves them zero.
func (r *RateLimitConfig) LimitsFor(family string) ProviderLimits {
	var limits ProviderLimits
	switch family {
	case ProviderAnthropic:
		limits = r.Anthropic
	case ProviderOpenAI:
		limits = r.OpenAI
	case ProviderGoogle:
		limits = r.Google
	case ProviderOllama:
		limits = r.Ollama
	case ProviderOpenRouter:
		limits = r.OpenRouter
	}
	if limits.TokensPerMinute == 0 || limits.MaxConcurrency == 0 {
		defaults := ProviderDefaults[family]
		if limits.TokensPerMinute == 0 {
			limits.TokensPerMinute = defaults.TokensPerMinute
		}
		if limits.MaxConcurrency == 0 {
			limits.MaxConcurrency = defaults.MaxConcurrency
		}
	}
	return limits
}

// ProviderDefaults defines default rate limits for each provider family.
// These are used when rate limits are not specified in the config file.
//
//nolint:gochecknoglobals // Intentional global for provider defaults
var ProviderDefaults = map[string]ProviderLimits{
	ProviderAnthropic: {
		TokensPerMinute: 300000,
		MaxConcurrency:  5,
	},
	ProviderOpenAI: {
		TokensPerMinute: 150000,
		MaxConcurrency:  5,
	},
	ProviderGoogle: {
		TokensPerMinute: 1200000, // Must exceed the Gemini context window
		MaxConcurrency:  5,
	},
	ProviderOllama: {
		TokensPerMinute: 1000000, // Effectively unlimited for local inference
		MaxConcurrency:  2,       // Limited by GPU memory
	},
	ProviderOpenRouter: {
		TokensPerMinute: 300000,
		MaxConcurrency:  5,
	},
}

// ResilienceConfig bundles all resilience-related middleware configuration.
type ResilienceConfig struct {
	CircuitBreaker CircuitBreakerConfig `yaml:"circuit_breaker"`
	Retry          RetryConfig          `yaml:"retry"`
	RateLimit      RateLimitConfig      `yaml:"rate_limit"`
	Timeout        time.Duration        `yaml:"timeout"` // Per-request timeout
}

// MetricsConfig defines configuration for metrics collection.
type MetricsConfig struct {
	Enabled       bool   `yaml:"enabled"`
	Exporter      string `yaml:"exporter"`       // "prometheus" or "noop"
	Namespace     string `yaml:"namespace"`      // Metrics namespace for grouping
	ListenAddr    string `yaml:"listen_addr"`    // Address for the /metrics endpoint
	PrometheusURL string `yaml:"prometheus_url"` // Prometheus server URL for querying metrics
}

// PersistenceConfig configures the optional transcript store.
type PersistenceConfig struct {
	Enabled bool   `yaml:"enabled"`
	Path    string `yaml:"path"` // SQLite database path; defaults next to the config file
}

// DebugConfig defines configuration for debug logging.
type DebugConfig struct {
	LLMMessages   bool   `yaml:"llm_messages"`    // Log message payloads sent to providers
	PromptLogMode string `yaml:"prompt_log_mode"` // "off", "on_failure", "final_only"
}

// RoutingConfig carries aggregator routing metadata, forwarded to the remote
// router instead of being acted on locally. Nil pointer fields are omitted
// from the wire request.
type RoutingConfig struct {
	Order             []string `yaml:"order,omitempty"`              // Upstream provider priority
	AllowFallbacks    *bool    `yaml:"allow_fallbacks,omitempty"`    // Remote fallback permission
	RequireParameters *bool    `yaml:"require_parameters,omitempty"` // Only route to providers supporting all request params
	HTTPReferer       string   `yaml:"http_referer,omitempty"`       // Analytics header
	XTitle            string   `yaml:"x_title,omitempty"`            // Analytics header
}

// ProviderEntry is one entry in the ordered provider preference list. List
// order is fallback priority. The entry ID is either a bare family name
// ("anthropic") or a dotted custom name ("openrouter.fast") whose prefix
// selects the adapter family.
//
//nolint:govet // fieldalignment: logical grouping preferred
type ProviderEntry struct {
	ID                    string         `yaml:"id"`
	Model                 string         `yaml:"model"`
	AllowFallback         bool           `yaml:"allow_fallback"`
	ContextWindowOverride int            `yaml:"context_window_override,omitempty"`
	BaseURL               string         `yaml:"base_url,omitempty"` // Endpoint override (ollama, openrouter)
	Routing               *RoutingConfig `yaml:"routing,omitempty"`  // Aggregator entries only
}

// Family returns the adapter family for this entry: the ID up to the first
// dot, so custom names like "openrouter.fast" map to the openrouter adapter.
func (e *ProviderEntry) Family() string {
	if idx := strings.Index(e.ID, "."); idx >= 0 {
		return e.ID[:idx]
	}
	return e.ID
}

// Validate checks the entry names a known adapter family and a model.
func (e *ProviderEntry) Validate() error {
	if e.ID == "" {
		return fmt.Errorf("provider entry missing id")
	}
	family := e.Family()
	if _, ok := KnownFamilies[family]; !ok {
		return fmt.Errorf("provider entry '%s': unknown provider family '%s'", e.ID, family)
	}
	if e.Model == "" {
		return fmt.Errorf("provider entry '%s': missing model", e.ID)
	}
	if e.ContextWindowOverride < 0 {
		return fmt.Errorf("provider entry '%s': context_window_override must be positive", e.ID)
	}
	if e.Routing != nil && family != ProviderOpenRouter {
		return fmt.Errorf("provider entry '%s': routing block only applies to openrouter entries", e.ID)
	}
	return nil
}

// AgentConfig defines planner behavior for a conversation.
type AgentConfig struct {
	SystemPrompt               string   `yaml:"system_prompt"`
	MaxIterations              int      `yaml:"max_iterations"`
	MaxTokens                  int      `yaml:"max_tokens"` // Requested output ceiling before budget capping
	Temperature                float32  `yaml:"temperature"`
	WorkDir                    string   `yaml:"workdir"`
	Tools                      []string `yaml:"tools"`
	SafetyMarginTokens         int      `yaml:"safety_margin_tokens"`
	MaxToolCorrections         int      `yaml:"max_tool_corrections"`
	MaxConsecutiveToolFailures int      `yaml:"max_consecutive_tool_failures"`
}

// Config is the root of the agent configuration file.
type Config struct {
	Agent       AgentConfig       `yaml:"agent"`
	Providers   []ProviderEntry   `yaml:"providers"`
	Resilience  ResilienceConfig  `yaml:"resilience"`
	Metrics     MetricsConfig     `yaml:"metrics"`
	Persistence PersistenceConfig `yaml:"persistence"`
	Debug       DebugConfig       `yaml:"debug"`
}

// DefaultConfig returns a runnable configuration: one anthropic provider,
// builtin tools, and conservative resilience defaults.
func DefaultConfig() *Config {
	cfg := &Config{
		Providers: []ProviderEntry{
			{ID: ProviderAnthropic, Model: DefaultModel, AllowFallback: true},
		},
	}
	cfg.applyDefaults()
	return cfg
}

// applyDefaults fills zero-valued fields in place.
func (c *Config) applyDefaults() {
	if c.Agent.MaxIterations == 0 {
		c.Agent.MaxIterations = DefaultMaxIterations
	}
	if c.Agent.MaxTokens == 0 {
		c.Agent.MaxTokens = 4096
	}
	if c.Agent.Temperature == 0 {
		c.Agent.Temperature = 0.3
	}
	if c.Agent.WorkDir == "" {
		c.Agent.WorkDir = "."
	}
	if len(c.Agent.Tools) == 0 {
		c.Agent.Tools = []string{"done", "read_file", "shell"}
	}
	if c.Agent.SafetyMarginTokens == 0 {
		c.Agent.SafetyMarginTokens = DefaultSafetyMarginTokens
	}
	if c.Agent.MaxToolCorrections == 0 {
		c.Agent.MaxToolCorrections = DefaultMaxToolCorrections
	}
	if c.Agent.MaxConsecutiveToolFailures == 0 {
		c.Agent.MaxConsecutiveToolFailures = DefaultMaxConsecutiveToolFailures
	}

	if c.Resilience.Retry.MaxAttempts == 0 {
		c.Resilience.Retry = RetryConfig{
			MaxAttempts:   4,
			InitialDelay:  time.Second,
			MaxDelay:      30 * time.Second,
			BackoffFactor: 2.0,
			Jitter:        true,
		}
	}
	if c.Resilience.CircuitBreaker.FailureThreshold == 0 {
		c.Resilience.CircuitBreaker = CircuitBreakerConfig{
			FailureThreshold: 5,
			SuccessThreshold: 3,
			Timeout:          30 * time.Second,
		}
	}
	if c.Resilience.Timeout == 0 {
		c.Resilience.Timeout = 5 * time.Minute
	}

	if c.Metrics.Exporter == "" {
		c.Metrics.Exporter = "noop"
	}
	if c.Metrics.Namespace == "" {
		c.Metrics.Namespace = "agentcore"
	}
	if c.Metrics.ListenAddr == "" {
		c.Metrics.ListenAddr = "localhost:9090"
	}

	if c.Persistence.Path == "" {
		c.Persistence.Path = DatabaseFilename
	}

	if c.Debug.PromptLogMode == "" {
		c.Debug.PromptLogMode = "off"
	}
}

// Validate checks the loaded configuration for fatal problems.
func (c *Config) Validate() error {
	if len(c.Providers) == 0 {
		return fmt.Errorf("config must list at least one provider")
	}
	seen := make(map[string]struct{}, len(c.Providers))
	for i := range c.Providers {
		entry := &c.Providers[i]
		if err := entry.Validate(); err != nil {
			return err
		}
		if _, dup := seen[entry.ID]; dup {
			return fmt.Errorf("duplicate provider entry id '%s'", entry.ID)
		}
		seen[entry.ID] = struct{}{}
	}
	if c.Agent.MaxIterations < 1 {
		return fmt.Errorf("agent.max_iterations must be at least 1")
	}
	if c.Agent.Temperature < 0.0 || c.Agent.Temperature > 2.0 {
		return fmt.Errorf("agent.temperature must be between 0.0 and 2.0")
	}
	return nil
}

// LoadConfig reads, defaults, and validates the YAML config at path.
// An empty path yields DefaultConfig.
func LoadConfig(path string) (*Config, error) {
	if path == "" {
		logger.Info("📦 No config file given, using defaults")
		return DefaultConfig(), nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
	}

	cfg := &Config{}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file %s: %w", path, err)
	}

	cfg.applyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config %s: %w", path, err)
	}

	logger.Info("✅ Loaded config from %s (%d providers)", path, len(cfg.Providers))
	return cfg, nil
}

// EnvKeyForFamily returns the environment variable / secret name carrying the
// credential for a provider family. Ollama needs no key and returns "".
func EnvKeyForFamily(family string) string {
	switch family {
	case ProviderAnthropic:
		return EnvAnthropicAPIKey
	case ProviderOpenAI:
		return EnvOpenAIAPIKey
	case ProviderGoogle:
		return EnvGoogleAPIKey
	case ProviderOpenRouter:
		return EnvOpenRouterAPIKey
	default:
		return ""
	}
}

// Selector addresses a provider entry: either a configured entry ID
// ("anthropic", "openrouter.fast") or "<family>.<model>" picking a model
// explicitly ("anthropic.claude-opus-4-5", "openrouter.openai/gpt-4o").
type Selector struct {
	Raw    string
	Entry  string // Matching configured entry ID, empty when family+model form
	Family string
	Model  string // Model override, empty to use the entry's configured model
}

// ResolveSelector matches a selector string against the configured provider
// entries. An empty selector picks the first entry. Unknown provider prefixes
// are rejected before any provider is constructed.
func (c *Config) ResolveSelector(raw string) (Selector, error) {
	if raw == "" {
		if len(c.Providers) == 0 {
			return Selector{}, fmt.Errorf("no providers configured")
		}
		entry := &c.Providers[0]
		return Selector{Raw: raw, Entry: entry.ID, Family: entry.Family()}, nil
	}

	// Exact entry-ID match first ("anthropic", "openrouter.fast")
	for i := range c.Providers {
		if c.Providers[i].ID == raw {
			return Selector{Raw: raw, Entry: raw, Family: c.Providers[i].Family()}, nil
		}
	}

	// <family>.<model> form, split on the first dot so model IDs containing
	// dots ("gemini-2.5-flash") survive.
	family := raw
	model := ""
	if idx := strings.Index(raw, "."); idx >= 0 {
		family = raw[:idx]
		model = raw[idx+1:]
	}

	if _, ok := KnownFamilies[family]; !ok {
		return Selector{}, fmt.Errorf("unknown provider selector '%s': no configured entry and unknown family '%s'", raw, family)
	}

	for i := range c.Providers {
		if c.Providers[i].Family() == family {
			return Selector{Raw: raw, Entry: c.Providers[i].ID, Family: family, Model: model}, nil
		}
	}

	return Selector{}, fmt.Errorf("provider family '%s' is not configured", family)
}
