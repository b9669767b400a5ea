package tools

import (
	"context"
	"os"

	"github.com/kakaiking/anita/internal/fs"
)

// ListDirectoryTool lists the direct entries of a workspace directory.
type ListDirectoryTool struct {
	fs fs.FileSystem
}

func NewListDirectoryTool(filesystem fs.FileSystem) *ListDirectoryTool {
	return &ListDirectoryTool{fs: filesystem}
}

func (t *ListDirectoryTool) Name() string {
	return "list_directory"
}

func (t *ListDirectoryTool) Description() string {
	return "List all files and folders in a directory. Useful for exploring project structure."
}

func (t *ListDirectoryTool) Parameters() map[string]interface{} {
	return map[string]interface{}{
		"type": "object",
		"properties": map[string]interface{}{
			"path": map[string]interface{}{
				"type":        "string",
				"description": "Directory path to list. Use '.' for workspace root, or a relative path like 'src/components'",
			},
		},
		"required": []string{},
	}
}

func (t *ListDirectoryTool) Execute(ctx context.Context, args map[string]interface{}, sc *SessionContext) *ToolResult {
	path := stringArg(args, "path")
	if path == "" {
		path = "."
	}

	entries, err := t.fs.ListDir(ctx, path)
	if err != nil {
		if os.IsNotExist(err) {
			return Fail("directory '%s' does not exist", path)
		}
		return Fail("failed to list '%s': %v", path, err)
	}

	files := make([]map[string]interface{}, 0, len(entries))
	for _, entry := range entries {
		entryType := "file"
		if entry.IsDir {
			entryType = "directory"
		}
		files = append(files, map[string]interface{}{
			"name": entry.Name,
			"type": entryType,
			"path": entry.Path,
		})
	}

	return Ok(map[string]interface{}{
		"path":  path,
		"files": files,
	})
}
