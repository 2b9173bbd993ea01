package planner

// State identifies a phase of the planner loop.
type State string

// Planner loop states.
const (
	// StateIdle - planner constructed, no turn started yet.
	StateIdle State = "IDLE"
	// StatePrompting - assembling the next completion request from the
	// conversation, budget, and cache annotations.
	StatePrompting State = "PROMPTING"
	// StateAwaitingResponse - request dispatched; the suspension point.
	StateAwaitingResponse State = "AWAITING_RESPONSE"
	// StateParsingToolCalls - response received; deciding between
	// completion, tool execution, and corrective feedback.
	StateParsingToolCalls State = "PARSING_TOOL_CALLS"
	// StateExecutingTools - running every tool call in the response.
	StateExecutingTools State = "EXECUTING_TOOLS"
	// StateCompleted - terminal: the task finished successfully.
	StateCompleted State = "COMPLETED"
	// StateFailed - terminal: the task failed.
	StateFailed State = "FAILED"
	// StateCancelled - terminal: cancellation observed at a suspension
	// point; partial output stays in the conversation.
	StateCancelled State = "CANCELLED"
)

// validTransitions defines the planner state machine. Failed and
// Cancelled are reachable from every non-terminal state.
//
//nolint:gochecknoglobals // Intentional package-level constant for state machine definition
var validTransitions = map[State][]State{
	StateIdle: {
		StatePrompting,
		StateFailed,
		StateCancelled,
	},
	StatePrompting: {
		StateAwaitingResponse,
		StateFailed,
		StateCancelled,
	},
	StateAwaitingResponse: {
		StateParsingToolCalls,
		// Context overflow re-prompts after a one-time truncation.
		StatePrompting,
		StateFailed,
		StateCancelled,
	},
	StateParsingToolCalls: {
		StateCompleted,
		StateExecutingTools,
		StateFailed,
		StateCancelled,
	},
	StateExecutingTools: {
		// Exactly one follow-up prompting step after tool execution.
		StatePrompting,
		StateCompleted,
		StateFailed,
		StateCancelled,
	},
	StateCompleted: {},
	StateFailed:    {},
	StateCancelled: {},
}

// IsValidTransition checks whether the planner may move between the
// two states.
func IsValidTransition(from, to State) bool {
	for _, allowed := range validTransitions[from] {
		if allowed == to {
			return true
		}
	}
	return false
}

// IsTerminalState reports whether the state ends the loop.
func IsTerminalState(state State) bool {
	return state == StateCompleted || state == StateFailed || state == StateCancelled
}
