package tools

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/kadirpekel/agentgw/internal/tool"
)

type readFileArgs struct {
	Path        string `json:"path" jsonschema:"required,description=File path to read, relative to the working directory"`
	StartLine   int    `json:"start_line,omitempty" jsonschema:"description=Starting line number (1-indexed)"`
	EndLine     int    `json:"end_line,omitempty" jsonschema:"description=Ending line number (inclusive)"`
	LineNumbers *bool  `json:"line_numbers,omitempty" jsonschema:"description=Include line numbers in output; default true"`
}

// ReadFileSpec builds the read_file tool, grounded on the teacher's
// pkg/tools.ReadFileTool: same working-directory confinement and
// line-range selection, adapted to the Handler contract.
func ReadFileSpec(workingDir string, maxFileSize int64) tool.Spec {
	schema, err := tool.SchemaFor[readFileArgs]()
	if err != nil {
		panic("read_file: schema generation: " + err.Error())
	}
	if workingDir == "" {
		workingDir = "./"
	}
	if maxFileSize <= 0 {
		maxFileSize = 10 * 1024 * 1024
	}

	handler := func(ctx context.Context, raw map[string]any) (tool.Result, error) {
		path, _ := raw["path"].(string)
		if path == "" {
			return tool.Result{}, fmt.Errorf("path is required")
		}

		absPath, err := validateWorkingDirPath(workingDir, path)
		if err != nil {
			return tool.Result{Error: err.Error()}, nil
		}

		info, err := os.Stat(absPath)
		if err != nil {
			return tool.Result{Error: fmt.Sprintf("failed to stat file: %v", err)}, nil
		}
		if info.Size() > maxFileSize {
			return tool.Result{Error: fmt.Sprintf("file too large: %d bytes (max %d)", info.Size(), maxFileSize)}, nil
		}

		content, err := os.ReadFile(absPath)
		if err != nil {
			return tool.Result{Error: fmt.Sprintf("failed to read file: %v", err)}, nil
		}

		lines := strings.Split(string(content), "\n")
		total := len(lines)

		start := 1
		if v, ok := raw["start_line"].(float64); ok && int(v) >= 1 {
			start = int(v)
		}
		end := total
		if v, ok := raw["end_line"].(float64); ok && int(v) < total {
			end = int(v)
		}
		if start > end {
			return tool.Result{Error: fmt.Sprintf("invalid range: start_line (%d) > end_line (%d)", start, end)}, nil
		}
		if start > total {
			return tool.Result{Error: fmt.Sprintf("start_line (%d) exceeds file length (%d)", start, total)}, nil
		}

		showNumbers := true
		if v, ok := raw["line_numbers"].(bool); ok {
			showNumbers = v
		}

		var out strings.Builder
		fmt.Fprintf(&out, "FILE: %s (%d lines", path, total)
		if start != 1 || end != total {
			fmt.Fprintf(&out, ", showing %d-%d", start, end)
		}
		out.WriteString(")\n")
		for i := start - 1; i < end && i < len(lines); i++ {
			if showNumbers {
				fmt.Fprintf(&out, "%6d| %s\n", i+1, lines[i])
			} else {
				fmt.Fprintf(&out, "%s\n", lines[i])
			}
		}

		return tool.Result{Content: out.String()}, nil
	}

	return tool.Spec{
		Name:        "read_file",
		Description: "Read the contents of a file, optionally restricted to a line range.",
		Schema:      schema,
		Handler:     handler,
	}
}

func validateWorkingDirPath(workingDir, path string) (string, error) {
	if filepath.IsAbs(path) {
		return "", fmt.Errorf("absolute paths not allowed, use relative paths")
	}
	cleaned := filepath.Clean(path)
	if strings.Contains(cleaned, "..") {
		return "", fmt.Errorf("directory traversal not allowed")
	}

	absWorkDir, err := filepath.Abs(workingDir)
	if err != nil {
		return "", fmt.Errorf("invalid working directory: %w", err)
	}
	absPath, err := filepath.Abs(filepath.Join(absWorkDir, cleaned))
	if err != nil {
		return "", fmt.Errorf("invalid path: %w", err)
	}
	if !strings.HasPrefix(absPath, absWorkDir) {
		return "", fmt.Errorf("path escapes working directory")
	}
	return absPath, nil
}
