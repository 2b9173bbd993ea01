// Package retry provides retry logic with exponential backoff for resilient LLM calls.
package retry

import (
	"context"
	"errors"
	"math"
	"math/rand"
	"strings"
	"time"

	"agentcore/pkg/llmerrors"
	"agentcore/pkg/middleware/resilience/circuit"
)

// Config defines configuration for retry behavior.
type Config struct {
	MaxAttempts   int           `json:"max_attempts"`   // Maximum number of attempts (including initial)
	InitialDelay  time.Duration `json:"initial_delay"`  // Initial delay before first retry
	MaxDelay      time.Duration `json:"max_delay"`      // Maximum delay between retries
	BackoffFactor float64       `json:"backoff_factor"` // Multiplier for exponential backoff
	Jitter        bool          `json:"jitter"`         // Add random jitter to prevent thundering herd
}

// DefaultConfig provides reasonable defaults for retry behavior.
//
//nolint:gochecknoglobals // Sensible default config pattern
var DefaultConfig = Config{
	MaxAttempts:   3,
	InitialDelay:  100 * time.Millisecond,
	MaxDelay:      10 * time.Second,
	BackoffFactor: 2.0,
	Jitter:        true,
}

// Classifier determines if an error should be retried.
type Classifier func(error) bool

// ShouldRetry is the default error classifier. Typed errors use the
// taxonomy's blocklist; unclassified errors are retried unless they look
// structural (auth, bad request).
func ShouldRetry(err error) bool {
	if err == nil {
		return false
	}

	// Never retry caller cancellation. DeadlineExceeded stays retryable:
	// per-request HTTP timeouts wrap it while the parent context is still
	// valid.
	if errors.Is(err, context.Canceled) {
		return false
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}

	// Never retry circuit breaker rejections - the breaker owns recovery
	var circuitErr *circuit.Error
	if errors.As(err, &circuitErr) {
		return false
	}

	var llmErr *llmerrors.Error
	if errors.As(err, &llmErr) {
		return llmErr.IsRetryable()
	}

	// Unclassified: structural patterns are terminal, everything else retries
	errStr := strings.ToLower(err.Error())
	if strings.Contains(errStr, "401") ||
		strings.Contains(errStr, "403") ||
		strings.Contains(errStr, "unauthorized") ||
		strings.Contains(errStr, "forbidden") ||
		strings.Contains(errStr, "invalid api key") {
		return false
	}
	if strings.Contains(errStr, "400") ||
		strings.Contains(errStr, "404") {
		return false
	}

	return true
}

// Policy encapsulates retry configuration and logic.
//
//nolint:govet // Simple struct, logical grouping preferred
type Policy struct {
	Config     Config
	Classifier Classifier
}

// NewPolicy creates a new retry policy with the given configuration and classifier.
func NewPolicy(config Config, classifier Classifier) *Policy {
	if classifier == nil {
		classifier = ShouldRetry
	}
	return &Policy{
		Config:     config,
		Classifier: classifier,
	}
}

// CalculateDelay computes the backoff before the given attempt number.
// Attempt 1 is immediate; attempt n waits InitialDelay × factor^(n−2),
// capped at MaxDelay, with optional ±10% jitter.
func (p *Policy) CalculateDelay(attempt int) time.Duration {
	if attempt <= 1 {
		return 0
	}

	delay := time.Duration(float64(p.Config.InitialDelay) * math.Pow(p.Config.BackoffFactor, float64(attempt-2)))

	// Cap at maximum delay
	if delay > p.Config.MaxDelay {
		delay = p.Config.MaxDelay
	}

	// Add jitter if enabled
	if p.Config.Jitter && delay > 0 {
		jitter := (rand.Float64()*0.2 - 0.1) * float64(delay) //nolint:gosec // Not cryptographic
		delay += time.Duration(jitter)
		if delay < 0 {
			delay = p.Config.InitialDelay
		}
	}

	return delay
}

// ShouldRetry determines if an error should be retried based on the configured classifier.
func (p *Policy) ShouldRetry(err error) bool {
	return p.Classifier(err)
}

// NewBudget returns a fresh attempt budget for one logical request.
func (p *Policy) NewBudget() *Budget {
	return &Budget{policy: p}
}

// Budget is the attempt/backoff state for one logical request. The planner
// gets a fresh budget each step; budgets are never shared or reused across
// steps, which keeps retry accounting testable apart from network code.
type Budget struct {
	policy  *Policy
	attempt int
}

// Consume claims the next attempt. It returns false when the budget is spent.
func (b *Budget) Consume() bool {
	if b.attempt >= b.policy.Config.MaxAttempts {
		return false
	}
	b.attempt++
	return true
}

// Attempt returns the number of attempts consumed so far.
func (b *Budget) Attempt() int {
	return b.attempt
}

// Remaining returns the number of attempts left.
func (b *Budget) Remaining() int {
	return b.policy.Config.MaxAttempts - b.attempt
}

// Exhausted reports whether no attempts remain.
func (b *Budget) Exhausted() bool {
	return b.Remaining() <= 0
}

// Delay returns the wait before the current attempt. A server-supplied
// retry hint on the previous error overrides the computed backoff.
func (b *Budget) Delay(lastErr error) time.Duration {
	if ra := llmerrors.RetryAfterOf(lastErr); ra > 0 {
		return ra
	}
	return b.policy.CalculateDelay(b.attempt)
}
