package tools

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

// writeTestFile creates a file with the given lines under dir.
func writeTestFile(t *testing.T, dir, name string, lines []string) {
	t.Helper()
	content := strings.Join(lines, "\n") + "\n"
	if err := os.WriteFile(filepath.Join(dir, name), []byte(content), 0o644); err != nil {
		t.Fatalf("Failed to write test file: %v", err)
	}
}

// execReadFile runs the tool and returns the result map.
func execReadFile(t *testing.T, tool *ReadFileTool, args map[string]any) map[string]any {
	t.Helper()
	result, err := tool.Exec(context.Background(), args)
	if err != nil {
		t.Fatalf("Exec failed: %v", err)
	}
	resultMap, ok := result.(map[string]any)
	if !ok {
		t.Fatalf("Expected map result, got %T", result)
	}
	return resultMap
}

// TestReadFileTool_NumberedOutput verifies cat -n style line numbering.
func TestReadFileTool_NumberedOutput(t *testing.T) {
	dir := t.TempDir()
	writeTestFile(t, dir, "hello.txt", []string{"alpha", "beta", "gamma"})

	tool := NewReadFileTool(dir, 0)
	result := execReadFile(t, tool, map[string]any{"path": "hello.txt"})

	if success, _ := result["success"].(bool); !success {
		t.Fatalf("Expected success, got: %v", result["error"])
	}
	content, _ := result["content"].(string)
	if !strings.Contains(content, "1\talpha") {
		t.Errorf("Expected numbered first line, got: %q", content)
	}
	if !strings.Contains(content, "3\tgamma") {
		t.Errorf("Expected numbered third line, got: %q", content)
	}
	if totalLines, _ := result["total_lines"].(int); totalLines != 3 {
		t.Errorf("Expected 3 total lines, got: %v", result["total_lines"])
	}
}

// TestReadFileTool_OffsetLimit verifies a windowed read reports truncation.
func TestReadFileTool_OffsetLimit(t *testing.T) {
	dir := t.TempDir()
	lines := make([]string, 10)
	for i := range lines {
		lines[i] = strings.Repeat("x", i+1)
	}
	writeTestFile(t, dir, "lines.txt", lines)

	tool := NewReadFileTool(dir, 0)
	result := execReadFile(t, tool, map[string]any{
		"path":   "lines.txt",
		"offset": 3,
		"limit":  2,
	})

	content, _ := result["content"].(string)
	if strings.Contains(content, "1\tx\n") {
		t.Errorf("Expected offset to skip line 1, got: %q", content)
	}
	if !strings.Contains(content, "3\txxx") || !strings.Contains(content, "4\txxxx") {
		t.Errorf("Expected lines 3-4, got: %q", content)
	}
	if strings.Contains(content, "5\t") {
		t.Errorf("Expected limit to stop before line 5, got: %q", content)
	}
	if truncated, _ := result["truncated"].(bool); !truncated {
		t.Error("Expected truncated=true when lines remain past the window")
	}
}

// TestReadFileTool_RejectsTraversal verifies directory traversal is blocked.
func TestReadFileTool_RejectsTraversal(t *testing.T) {
	tool := NewReadFileTool(t.TempDir(), 0)

	for _, path := range []string{"../secret.txt", "/etc/passwd"} {
		result := execReadFile(t, tool, map[string]any{"path": path})
		if success, _ := result["success"].(bool); success {
			t.Errorf("Expected rejection for path %q", path)
		}
	}
}

// TestReadFileTool_MissingFile verifies a readable error result, not a Go error.
func TestReadFileTool_MissingFile(t *testing.T) {
	tool := NewReadFileTool(t.TempDir(), 0)

	result := execReadFile(t, tool, map[string]any{"path": "nope.txt"})
	if success, _ := result["success"].(bool); success {
		t.Error("Expected success=false for missing file")
	}
	errMsg, _ := result["error"].(string)
	if !strings.Contains(errMsg, "nope.txt") {
		t.Errorf("Expected error to name the path, got: %q", errMsg)
	}
}

// TestReadFileTool_MissingPath verifies the required-argument check.
func TestReadFileTool_MissingPath(t *testing.T) {
	tool := NewReadFileTool(t.TempDir(), 0)

	_, err := tool.Exec(context.Background(), map[string]any{})
	if err == nil {
		t.Fatal("Expected error for missing path argument")
	}
}
