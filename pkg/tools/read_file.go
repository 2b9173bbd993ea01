package tools

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"agentcore/pkg/utils"
)

const (
	defaultReadLines   = 2000 // Default number of lines to read
	maxLineLength      = 2000 // Truncate lines longer than this
	defaultStartOffset = 1    // 1-based line numbering
	defaultMaxBytes    = 1048576
)

// ReadFileTool reads file contents from the workspace.
type ReadFileTool struct {
	workspaceRoot string // Base path for file operations
	maxSizeBytes  int64  // Safety cap on total output bytes
}

// NewReadFileTool creates a new read_file tool rooted at workspaceRoot.
func NewReadFileTool(workspaceRoot string, maxSizeBytes int64) *ReadFileTool {
	if maxSizeBytes <= 0 {
		maxSizeBytes = defaultMaxBytes
	}
	if workspaceRoot == "" {
		workspaceRoot = "."
	}
	return &ReadFileTool{
		workspaceRoot: workspaceRoot,
		maxSizeBytes:  maxSizeBytes,
	}
}

// Name returns the tool name.
func (t *ReadFileTool) Name() string {
	return ToolReadFile
}

// PromptDocumentation returns formatted tool documentation for prompts.
func (t *ReadFileTool) PromptDocumentation() string {
	return `- **read_file** - Read contents of a file from the workspace
  - Parameters:
    - path (string, REQUIRED): relative path to file within workspace
    - offset (integer, optional): line number to start from (1-based, default: 1)
    - limit (integer, optional): number of lines to read (default: 2000)
  - Output uses numbered lines (cat -n format)
  - Lines longer than 2000 characters are truncated
  - For large files, use offset and limit to read specific sections`
}

// Definition returns the tool definition for the model.
func (t *ReadFileTool) Definition() ToolDefinition {
	return ToolDefinition{
		Name:        ToolReadFile,
		Description: "Read contents of a file from the workspace. Output uses numbered lines. For large files, use offset and limit to read specific sections.",
		InputSchema: InputSchema{
			Type: "object",
			Properties: map[string]Property{
				"path": {
					Type:        "string",
					Description: "Relative path to file within workspace",
				},
				"offset": {
					Type:        "integer",
					Description: "Line number to start reading from (1-based). Defaults to 1.",
				},
				"limit": {
					Type:        "integer",
					Description: "Number of lines to read. Defaults to 2000.",
				},
			},
			Required: []string{"path"},
		},
	}
}

// Exec executes the tool with the given arguments.
func (t *ReadFileTool) Exec(ctx context.Context, args map[string]any) (any, error) {
	path, ok := utils.SafeAssert[string](args["path"])
	if !ok || path == "" {
		return nil, fmt.Errorf("path is required and must be a string")
	}

	offset := utils.IntArg(args, "offset", defaultStartOffset)
	if offset < 1 {
		offset = defaultStartOffset
	}
	limit := utils.IntArg(args, "limit", defaultReadLines)
	if limit < 1 {
		limit = defaultReadLines
	}

	// Clean path to prevent directory traversal
	cleanPath := filepath.Clean(path)
	if strings.HasPrefix(cleanPath, "..") || filepath.IsAbs(cleanPath) {
		return t.errorResult("path must be relative to the workspace and cannot contain directory traversal (..)"), nil
	}

	fullPath := filepath.Join(t.workspaceRoot, cleanPath)

	f, err := os.Open(fullPath)
	if err != nil {
		return t.errorResult(fmt.Sprintf("file not found or not readable: %s (error: %v)", path, err)), nil
	}
	defer f.Close() //nolint:errcheck // read-only handle

	endLine := offset + limit - 1
	var sb strings.Builder
	totalLines := 0
	truncated := false

	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	for scanner.Scan() {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		totalLines++
		if totalLines < offset {
			continue
		}
		if totalLines > endLine {
			truncated = true
			continue
		}
		line := scanner.Text()
		if len(line) > maxLineLength {
			line = line[:maxLineLength]
		}
		// cat -n format: right-aligned line number, tab, content
		fmt.Fprintf(&sb, "%6d\t%s\n", totalLines, line)

		if int64(sb.Len()) > t.maxSizeBytes {
			truncated = true
			break
		}
	}
	if scanErr := scanner.Err(); scanErr != nil {
		return t.errorResult(fmt.Sprintf("failed reading %s: %v", path, scanErr)), nil
	}

	output := sb.String()
	if int64(len(output)) > t.maxSizeBytes {
		output = output[:t.maxSizeBytes]
		truncated = true
	}

	return map[string]any{
		"success":     true,
		"content":     output,
		"path":        path,
		"truncated":   truncated,
		"offset":      offset,
		"limit":       limit,
		"total_lines": totalLines,
	}, nil
}

// errorResult creates the standard error response map.
func (t *ReadFileTool) errorResult(msg string) map[string]any {
	return map[string]any{
		"success": false,
		"error":   msg,
	}
}
