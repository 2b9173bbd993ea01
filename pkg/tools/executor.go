package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"agentcore/pkg/logx"
)

const defaultExecTimeout = 120 * time.Second

// Executor is the boundary the planner invokes tools through. It resolves
// tools from a ToolProvider, bounds each call with a timeout, and renders
// results into the string form appended to the conversation.
type Executor struct {
	provider *ToolProvider
	logger   *logx.Logger
	timeout  time.Duration
}

// NewExecutor creates an Executor over the given provider. A zero timeout
// falls back to the 120s default.
func NewExecutor(provider *ToolProvider, timeout time.Duration) *Executor {
	if timeout <= 0 {
		timeout = defaultExecTimeout
	}
	return &Executor{
		provider: provider,
		logger:   logx.NewLogger("tools"),
		timeout:  timeout,
	}
}

// Definitions returns the tool definitions advertised to the model.
func (e *Executor) Definitions() []ToolDefinition {
	return e.provider.Definitions()
}

// Documentation returns markdown documentation for the allowed tools.
func (e *Executor) Documentation() string {
	return e.provider.GenerateToolDocumentation()
}

// Execute runs a single tool call and renders its result. The bool return is
// true when the result is an error (unknown tool, tool failure, timeout);
// such results are still strings suitable for feeding back to the model.
func (e *Executor) Execute(ctx context.Context, name string, args map[string]any) (string, bool) {
	tool, err := e.provider.Get(name)
	if err != nil {
		e.logger.Warn("⚠️ Tool lookup failed: %v", err)
		return fmt.Sprintf("Tool failed: %v", err), true
	}

	toolCtx, cancel := context.WithTimeout(ctx, e.timeout)
	defer cancel()

	e.logger.Debug("🔧 Executing tool: %s", name)
	result, execErr := tool.Exec(toolCtx, args)
	content, isError := formatToolResult(result, execErr)
	if isError {
		e.logger.Warn("⚠️ Tool %s returned error result", name)
	}
	return content, isError
}

// formatToolResult renders a tool result into string form. A map result with
// "success": false is treated as an error result.
func formatToolResult(result any, err error) (string, bool) {
	if err != nil {
		return fmt.Sprintf("Tool failed: %v", err), true
	}

	if resultMap, ok := result.(map[string]any); ok {
		if success, ok := resultMap["success"].(bool); ok && !success {
			if errMsg, ok := resultMap["error"].(string); ok {
				return errMsg, true
			}
			return fmt.Sprintf("Tool failed: %v", result), true
		}
		// Success map - JSON keeps the structure readable for the model
		if encoded, jsonErr := json.Marshal(resultMap); jsonErr == nil {
			return string(encoded), false
		}
	}

	if s, ok := result.(string); ok {
		return s, false
	}
	if result == nil {
		return "", false
	}
	return fmt.Sprintf("%v", result), false
}
