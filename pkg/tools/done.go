package tools

import (
	"context"
	"fmt"

	"agentcore/pkg/utils"
)

// DoneTool signals task completion. The planner treats a successful done call
// as the terminal signal for the conversation.
type DoneTool struct{}

// NewDoneTool creates a new done tool instance.
func NewDoneTool() *DoneTool {
	return &DoneTool{}
}

// Definition returns the tool's definition in model API format.
func (d *DoneTool) Definition() ToolDefinition {
	return ToolDefinition{
		Name: ToolDone,
		Description: "Signal that the task is complete. " +
			"Call this exactly once, after all other work is finished, " +
			"with a short summary of what was accomplished.",
		InputSchema: InputSchema{
			Type: "object",
			Properties: map[string]Property{
				"summary": {
					Type:        "string",
					Description: "Short description of what was accomplished.",
				},
			},
			Required: []string{"summary"},
		},
	}
}

// Name returns the tool identifier.
func (d *DoneTool) Name() string {
	return ToolDone
}

// PromptDocumentation returns markdown documentation for LLM prompts.
func (d *DoneTool) PromptDocumentation() string {
	return `- **done** - Signal that the task is complete
  - Parameter: summary (required)
  - summary: short description of what was accomplished
  - Use when all work is finished; do not call it with work still pending`
}

// Exec records the completion summary.
func (d *DoneTool) Exec(_ context.Context, args map[string]any) (any, error) {
	summary, ok := utils.SafeAssert[string](args["summary"])
	if !ok || summary == "" {
		return nil, fmt.Errorf("summary is required and must be a non-empty string")
	}

	return map[string]any{
		"success": true,
		"summary": summary,
	}, nil
}
