package tools

import (
	"context"
	"os"

	"github.com/kakaiking/anita/internal/fs"
)

// ReadFileTool returns the full content of a workspace file.
type ReadFileTool struct {
	fs fs.FileSystem
}

func NewReadFileTool(filesystem fs.FileSystem) *ReadFileTool {
	return &ReadFileTool{fs: filesystem}
}

func (t *ReadFileTool) Name() string {
	return "read_file"
}

func (t *ReadFileTool) Description() string {
	return "Read the contents of a file from the workspace. Use this to examine existing code before making changes."
}

func (t *ReadFileTool) Parameters() map[string]interface{} {
	return map[string]interface{}{
		"type": "object",
		"properties": map[string]interface{}{
			"file_path": map[string]interface{}{
				"type":        "string",
				"description": "Path to the file relative to workspace root (e.g., 'src/App.js' or 'package.json')",
			},
		},
		"required": []string{"file_path"},
	}
}

func (t *ReadFileTool) Execute(ctx context.Context, args map[string]interface{}, sc *SessionContext) *ToolResult {
	path := stringArg(args, "file_path")
	if path == "" {
		return Fail("read_file requires a file_path")
	}

	data, err := t.fs.ReadFile(ctx, path)
	if err != nil {
		if os.IsNotExist(err) {
			return Fail("file '%s' does not exist", path)
		}
		return Fail("failed to read '%s': %v", path, err)
	}

	return Ok(map[string]interface{}{
		"content":   string(data),
		"file_path": path,
	})
}
