// Package tools provides the tool registry and executor boundary for the agent loop.
package tools

import "context"

// Tool is implemented by every tool the agent can invoke.
type Tool interface {
	// Name returns the tool's registered name.
	Name() string
	// Definition returns the schema advertised to the model.
	Definition() ToolDefinition
	// PromptDocumentation returns formatted tool documentation for prompts.
	PromptDocumentation() string
	// Exec runs the tool. The result is rendered by the Executor: maps are
	// JSON-encoded, and a map with "success": false becomes an error result.
	Exec(ctx context.Context, args map[string]any) (any, error)
}

// ToolDefinition describes a tool in the shape model APIs expect.
type ToolDefinition struct {
	Name        string      `json:"name"`
	Description string      `json:"description"`
	InputSchema InputSchema `json:"input_schema"`
}

// InputSchema is a JSON-Schema object describing a tool's parameters.
type InputSchema struct {
	Type       string              `json:"type"`
	Properties map[string]Property `json:"properties,omitempty"`
	Required   []string            `json:"required,omitempty"`
}

// Property describes a single parameter. Items and Properties allow
// nested array/object schemas.
type Property struct {
	Type        string               `json:"type"`
	Description string               `json:"description,omitempty"`
	Enum        []string             `json:"enum,omitempty"`
	Items       *Property            `json:"items,omitempty"`
	Properties  map[string]*Property `json:"properties,omitempty"`
}

// Tool name constants for the builtin tools.
const (
	ToolDone     = "done"
	ToolReadFile = "read_file"
	ToolShell    = "shell"
)
