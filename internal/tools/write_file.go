package tools

import (
	"context"
	"fmt"
	"strings"

	"github.com/cespare/xxhash/v2"

	"github.com/kakaiking/anita/internal/fs"
	"github.com/kakaiking/anita/internal/logger"
)

// WriteFileTool overwrites an existing workspace file. Creating new files
// is refused: when the target is missing the model almost always has the
// wrong path, so the error suggests the likely intended one instead.
type WriteFileTool struct {
	fs fs.FileSystem
}

func NewWriteFileTool(filesystem fs.FileSystem) *WriteFileTool {
	return &WriteFileTool{fs: filesystem}
}

func (t *WriteFileTool) Name() string {
	return "write_file"
}

func (t *WriteFileTool) Description() string {
	return "Modify an existing file in the workspace. Always provide the COMPLETE file content, not just snippets or changes. DO NOT use this to create new files - only modify existing ones."
}

func (t *WriteFileTool) Parameters() map[string]interface{} {
	return map[string]interface{}{
		"type": "object",
		"properties": map[string]interface{}{
			"file_path": map[string]interface{}{
				"type":        "string",
				"description": "Path to the EXISTING file to modify (e.g., 'src/components/Button.jsx'). This file must already exist.",
			},
			"content": map[string]interface{}{
				"type":        "string",
				"description": "The complete updated content for the file. Must be the full file, not partial.",
			},
		},
		"required": []string{"file_path", "content"},
	}
}

func (t *WriteFileTool) Execute(ctx context.Context, args map[string]interface{}, sc *SessionContext) *ToolResult {
	path := stringArg(args, "file_path")
	if path == "" {
		return Fail("write_file requires a file_path")
	}
	content := stringArg(args, "content")

	exists, err := t.fs.Exists(ctx, path)
	if err != nil {
		return Fail("failed to check '%s': %v", path, err)
	}
	if !exists {
		return Fail("file '%s' does not exist. You are restricted to modifying EXISTING files only. %s", path, t.suggestion(ctx, path, sc))
	}

	if current, err := t.fs.ReadFile(ctx, path); err == nil {
		if len(current) == len(content) && xxhash.Sum64(current) == xxhash.Sum64String(content) {
			logger.Info("write_file: skipping %s (identical content)", path)
			return Ok(map[string]interface{}{
				"message":   fmt.Sprintf("File already has the requested content, skipped: %s", path),
				"file_path": path,
				"skipped":   true,
			})
		}
	}

	if err := t.fs.WriteFile(ctx, path, []byte(content)); err != nil {
		return Fail("failed to write '%s': %v", path, err)
	}

	return Ok(map[string]interface{}{
		"message":       fmt.Sprintf("File written successfully: %s", path),
		"file_path":     path,
		"bytes_written": len(content),
	})
}

func (t *WriteFileTool) suggestion(ctx context.Context, path string, sc *SessionContext) string {
	if sc != nil && sc.ActiveFile != "" {
		return fmt.Sprintf("Did you mean '%s'?", sc.ActiveFile)
	}

	base := path
	if idx := strings.LastIndexAny(base, "/\\"); idx >= 0 {
		base = base[idx+1:]
	}
	if base != "" {
		if matches, err := t.fs.FindByName(ctx, base); err == nil && len(matches) > 0 {
			return fmt.Sprintf("Did you mean '%s'?", matches[0])
		}
	}
	return "Please verify the path using list_directory first."
}
