package tools

import (
	"context"
	"encoding/json"
	"runtime"
	"strings"
	"testing"

	"github.com/kakaiking/anita/internal/config"
	"github.com/kakaiking/anita/internal/fs"
	"github.com/kakaiking/anita/internal/session"
	"github.com/kakaiking/anita/internal/workspace"
)

func registryWithFS(t *testing.T) (*Registry, *fs.MemFS) {
	t.Helper()

	memFS := fs.NewMemFS()
	registry := NewRegistry()
	registry.Register(NewReadFileTool(memFS))
	registry.Register(NewWriteFileTool(memFS))
	registry.Register(NewListDirectoryTool(memFS))
	registry.Register(NewAskUserTool())
	return registry, memFS
}

func TestRegistrySchemas(t *testing.T) {
	registry, _ := registryWithFS(t)

	schemas := registry.Schemas()
	if len(schemas) != 4 {
		t.Fatalf("schemas = %d", len(schemas))
	}

	first := schemas[0]
	if first["type"] != "function" {
		t.Errorf("schema type = %v", first["type"])
	}
	fn, ok := first["function"].(map[string]interface{})
	if !ok || fn["name"] != "read_file" {
		t.Errorf("first schema = %v, want read_file first", first)
	}
	params, ok := fn["parameters"].(map[string]interface{})
	if !ok || params["type"] != "object" {
		t.Errorf("parameters = %v", fn["parameters"])
	}
}

func TestRegistryUnknownTool(t *testing.T) {
	registry, _ := registryWithFS(t)

	result := registry.Execute(context.Background(), "delete_everything", nil, nil)
	if result.Success {
		t.Fatal("unknown tool must fail")
	}

	var payload map[string]interface{}
	if err := json.Unmarshal([]byte(result.Encode()), &payload); err != nil {
		t.Fatalf("Encode: %v", err)
	}
	if payload["success"] != false {
		t.Errorf("payload = %v", payload)
	}
	if _, ok := payload["available_tools"]; !ok {
		t.Error("unknown-tool result should list available tools")
	}
}

func TestReadFileTool(t *testing.T) {
	registry, memFS := registryWithFS(t)
	ctx := context.Background()

	if err := memFS.WriteFile(ctx, "src/App.js", []byte("console.log(1)")); err != nil {
		t.Fatal(err)
	}

	result := registry.Execute(ctx, "read_file", map[string]interface{}{"file_path": "src/App.js"}, nil)
	if !result.Success {
		t.Fatalf("result = %+v", result)
	}
	if result.Data["content"] != "console.log(1)" {
		t.Errorf("content = %v", result.Data["content"])
	}

	result = registry.Execute(ctx, "read_file", map[string]interface{}{"file_path": "missing.js"}, nil)
	if result.Success || !strings.Contains(result.Error, "does not exist") {
		t.Errorf("missing file result = %+v", result)
	}
}

func TestWriteFileToolRejectsNewFiles(t *testing.T) {
	registry, memFS := registryWithFS(t)
	ctx := context.Background()

	if err := memFS.WriteFile(ctx, "src/components/Button.jsx", []byte("old")); err != nil {
		t.Fatal(err)
	}

	result := registry.Execute(ctx, "write_file", map[string]interface{}{
		"file_path": "Button.jsx",
		"content":   "new",
	}, nil)
	if result.Success {
		t.Fatal("writing a missing path must fail")
	}
	if !strings.Contains(result.Error, "src/components/Button.jsx") {
		t.Errorf("error should suggest the known path: %q", result.Error)
	}

	// The file the suggestion points at is untouched.
	data, err := memFS.ReadFile(ctx, "src/components/Button.jsx")
	if err != nil || string(data) != "old" {
		t.Errorf("file = %q, %v", data, err)
	}
}

func TestWriteFileToolActiveFileSuggestion(t *testing.T) {
	registry, _ := registryWithFS(t)

	sc := &SessionContext{ActiveFile: "src/App.js"}
	result := registry.Execute(context.Background(), "write_file", map[string]interface{}{
		"file_path": "App.js",
		"content":   "x",
	}, sc)
	if result.Success || !strings.Contains(result.Error, "src/App.js") {
		t.Errorf("result = %+v", result)
	}
}

func TestWriteFileToolOverwritesExisting(t *testing.T) {
	registry, memFS := registryWithFS(t)
	ctx := context.Background()

	if err := memFS.WriteFile(ctx, "a.txt", []byte("old")); err != nil {
		t.Fatal(err)
	}

	result := registry.Execute(ctx, "write_file", map[string]interface{}{
		"file_path": "a.txt",
		"content":   "new content",
	}, nil)
	if !result.Success {
		t.Fatalf("result = %+v", result)
	}
	if result.Data["bytes_written"] != len("new content") {
		t.Errorf("bytes_written = %v", result.Data["bytes_written"])
	}

	data, _ := memFS.ReadFile(ctx, "a.txt")
	if string(data) != "new content" {
		t.Errorf("file = %q", data)
	}
}

func TestWriteFileToolSkipsIdenticalContent(t *testing.T) {
	registry, memFS := registryWithFS(t)
	ctx := context.Background()

	if err := memFS.WriteFile(ctx, "a.txt", []byte("same")); err != nil {
		t.Fatal(err)
	}

	result := registry.Execute(ctx, "write_file", map[string]interface{}{
		"file_path": "a.txt",
		"content":   "same",
	}, nil)
	if !result.Success {
		t.Fatalf("result = %+v", result)
	}
	if result.Data["skipped"] != true {
		t.Errorf("identical write should be skipped: %+v", result.Data)
	}
}

func TestListDirectoryTool(t *testing.T) {
	registry, memFS := registryWithFS(t)
	ctx := context.Background()

	if err := memFS.WriteFile(ctx, "src/App.js", []byte("x")); err != nil {
		t.Fatal(err)
	}
	if err := memFS.WriteFile(ctx, "package.json", []byte("{}")); err != nil {
		t.Fatal(err)
	}

	result := registry.Execute(ctx, "list_directory", map[string]interface{}{}, nil)
	if !result.Success {
		t.Fatalf("result = %+v", result)
	}

	files, ok := result.Data["files"].([]map[string]interface{})
	if !ok {
		t.Fatalf("files = %T", result.Data["files"])
	}
	byName := make(map[string]string)
	for _, f := range files {
		byName[f["name"].(string)] = f["type"].(string)
	}
	if byName["package.json"] != "file" || byName["src"] != "directory" {
		t.Errorf("entries = %v", byName)
	}
}

func TestAskUserToolPausesSession(t *testing.T) {
	registry, _ := registryWithFS(t)

	sess := session.New("goal", "/ws")
	sc := &SessionContext{Session: sess}

	result := registry.Execute(context.Background(), "ask_user", map[string]interface{}{
		"question": "Which port?",
	}, sc)
	if !result.Success {
		t.Fatalf("result = %+v", result)
	}
	if sess.Status() != session.StatusAwaitingUserInput {
		t.Errorf("status = %s", sess.Status())
	}
	if sess.PendingQuestion() != "Which port?" {
		t.Errorf("question = %q", sess.PendingQuestion())
	}
}

func TestRunCommandToolDecline(t *testing.T) {
	runner := workspace.NewRunner(t.TempDir(), 0)
	decline := ApproverFunc(func(ctx context.Context, command string) (bool, error) {
		return false, nil
	})
	tool := NewRunCommandTool(runner, config.ModePermission, decline)

	result := tool.Execute(context.Background(), map[string]interface{}{"command": "echo hi"}, nil)
	if result.Success {
		t.Fatal("declined command must not succeed")
	}
	if !result.Declined {
		t.Error("result should be marked declined")
	}
	if result.Error != "Declined" {
		t.Errorf("error = %q", result.Error)
	}
}

func TestRunCommandToolAutonomousSkipsApproval(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("shell test assumes sh")
	}
	runner := workspace.NewRunner(t.TempDir(), 0)
	called := false
	approver := ApproverFunc(func(ctx context.Context, command string) (bool, error) {
		called = true
		return false, nil
	})
	tool := NewRunCommandTool(runner, config.ModeAutonomous, approver)

	result := tool.Execute(context.Background(), map[string]interface{}{"command": "echo hi"}, nil)
	if called {
		t.Error("autonomous mode must not consult the approver")
	}
	if !result.Success {
		t.Fatalf("result = %+v", result)
	}
	if !strings.Contains(result.Data["stdout"].(string), "hi") {
		t.Errorf("stdout = %v", result.Data["stdout"])
	}
}
