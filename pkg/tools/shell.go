package tools

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"time"

	"agentcore/pkg/utils"
)

const (
	defaultShellTimeout = 60 * time.Second
	maxShellOutputBytes = 65536
)

// ShellTool executes a shell command in the workspace directory.
type ShellTool struct {
	workDir string
	timeout time.Duration
}

// NewShellTool creates a new shell tool. A zero timeout falls back to the
// 60s default.
func NewShellTool(workDir string, timeout time.Duration) *ShellTool {
	if timeout <= 0 {
		timeout = defaultShellTimeout
	}
	if workDir == "" {
		workDir = "."
	}
	return &ShellTool{
		workDir: workDir,
		timeout: timeout,
	}
}

// Name returns the tool identifier.
func (s *ShellTool) Name() string {
	return ToolShell
}

// PromptDocumentation returns markdown documentation for LLM prompts.
func (s *ShellTool) PromptDocumentation() string {
	return `- **shell** - Execute a shell command in the workspace
  - Parameters:
    - cmd (string, REQUIRED): the command to run (passed to sh -c)
    - timeout_seconds (integer, optional): per-command timeout override
  - Returns: exit code, stdout, stderr (output capped at 64KB)`
}

// Definition returns the tool definition for the model.
func (s *ShellTool) Definition() ToolDefinition {
	return ToolDefinition{
		Name:        ToolShell,
		Description: "Execute a shell command in the workspace directory and return its exit code and output.",
		InputSchema: InputSchema{
			Type: "object",
			Properties: map[string]Property{
				"cmd": {
					Type:        "string",
					Description: "The shell command to execute (passed to sh -c)",
				},
				"timeout_seconds": {
					Type:        "integer",
					Description: "Timeout in seconds for this command (default: 60)",
				},
			},
			Required: []string{"cmd"},
		},
	}
}

// Exec runs the command with a bounded timeout and captures its output.
func (s *ShellTool) Exec(ctx context.Context, args map[string]any) (any, error) {
	cmdStr, ok := utils.SafeAssert[string](args["cmd"])
	if !ok || cmdStr == "" {
		return nil, fmt.Errorf("cmd is required and must be a non-empty string")
	}

	timeout := s.timeout
	if secs := utils.IntArg(args, "timeout_seconds", 0); secs > 0 {
		timeout = time.Duration(secs) * time.Second
	}

	execCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	cmd := exec.CommandContext(execCtx, "sh", "-c", cmdStr)
	cmd.Dir = s.workDir

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	err := cmd.Run()

	if errors.Is(execCtx.Err(), context.DeadlineExceeded) {
		return map[string]any{
			"success": false,
			"error":   fmt.Sprintf("command timed out after %s", timeout),
			"stdout":  capOutput(stdout.String()),
			"stderr":  capOutput(stderr.String()),
		}, nil
	}

	exitCode := 0
	if err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			exitCode = exitErr.ExitCode()
		} else {
			return map[string]any{
				"success": false,
				"error":   fmt.Sprintf("failed to run command: %v", err),
			}, nil
		}
	}

	return map[string]any{
		"success":   exitCode == 0,
		"exit_code": exitCode,
		"stdout":    capOutput(stdout.String()),
		"stderr":    capOutput(stderr.String()),
	}, nil
}

// capOutput bounds tool output so a chatty command cannot blow up the
// conversation context.
func capOutput(s string) string {
	if len(s) <= maxShellOutputBytes {
		return s
	}
	return s[:maxShellOutputBytes] + "\n... [output truncated]"
}
