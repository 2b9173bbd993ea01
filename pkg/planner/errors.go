package planner

import (
	"errors"
	"fmt"
)

// AbortReason identifies why the planner gave up on a task.
type AbortReason string

// Abort reasons carried by AbortError.
const (
	// ReasonIterationCap - the turn counter reached the configured
	// ceiling while the conversation was still active.
	ReasonIterationCap AbortReason = "iteration-cap-exceeded"
	// ReasonCancelled - cancellation observed at a suspension point.
	ReasonCancelled AbortReason = "cancelled"
	// ReasonToolCorrections - malformed tool calls exceeded the bounded
	// correction attempts.
	ReasonToolCorrections AbortReason = "tool-corrections-exhausted"
	// ReasonToolFailures - too many consecutive rounds where every
	// executed tool call failed.
	ReasonToolFailures AbortReason = "consecutive-tool-failures"
	// ReasonContextOverflow - the prompt still exceeded the context
	// window after the one-time truncation.
	ReasonContextOverflow AbortReason = "context-overflow"
)

// AbortError is the planner's terminal error: it names why the loop
// stopped and wraps the underlying cause when there is one.
type AbortError struct {
	Err    error
	Reason AbortReason
}

// Error implements the error interface.
func (e *AbortError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("planner aborted (%s): %v", e.Reason, e.Err)
	}
	return fmt.Sprintf("planner aborted (%s)", e.Reason)
}

// Unwrap returns the underlying cause.
func (e *AbortError) Unwrap() error {
	return e.Err
}

// ReasonOf extracts the abort reason from an error chain. The empty
// string means the error is not a planner abort.
func ReasonOf(err error) AbortReason {
	var abort *AbortError
	if errors.As(err, &abort) {
		return abort.Reason
	}
	return ""
}
