package tools

import (
	"context"
	"errors"

	"github.com/kakaiking/anita/internal/config"
	"github.com/kakaiking/anita/internal/workspace"
)

// Approver decides whether a command may run. It blocks until a decision
// is available or the context is cancelled.
type Approver interface {
	ApproveCommand(ctx context.Context, command string) (bool, error)
}

// ApproverFunc adapts a function to the Approver interface.
type ApproverFunc func(ctx context.Context, command string) (bool, error)

func (f ApproverFunc) ApproveCommand(ctx context.Context, command string) (bool, error) {
	return f(ctx, command)
}

// RunCommandTool executes shell commands through the workspace runner.
// Under the permission policy every command waits for an approval
// decision; a decline is a cancellation, never an error to repair.
type RunCommandTool struct {
	runner   *workspace.Runner
	mode     string
	approver Approver
}

func NewRunCommandTool(runner *workspace.Runner, mode string, approver Approver) *RunCommandTool {
	return &RunCommandTool{runner: runner, mode: mode, approver: approver}
}

func (t *RunCommandTool) Name() string {
	return "run_command"
}

func (t *RunCommandTool) Description() string {
	return "Execute a terminal command in the workspace. Use for npm commands, git operations, etc."
}

func (t *RunCommandTool) Parameters() map[string]interface{} {
	return map[string]interface{}{
		"type": "object",
		"properties": map[string]interface{}{
			"command": map[string]interface{}{
				"type":        "string",
				"description": "The command to execute (e.g., 'npm install react-router-dom' or 'git status')",
			},
		},
		"required": []string{"command"},
	}
}

func (t *RunCommandTool) Execute(ctx context.Context, args map[string]interface{}, sc *SessionContext) *ToolResult {
	command := stringArg(args, "command")
	if command == "" {
		return Fail("run_command requires a command")
	}

	if t.mode == config.ModePermission && t.approver != nil {
		approved, err := t.approver.ApproveCommand(ctx, command)
		if err != nil {
			return Fail("approval failed: %v", err)
		}
		if !approved {
			return &ToolResult{
				Error:    "Declined",
				Declined: true,
				Data:     map[string]interface{}{"command": command},
			}
		}
	}

	contextID := ""
	if sc != nil {
		contextID = sc.ContextID
	}

	result, err := t.runner.Execute(ctx, contextID, command)
	if err != nil {
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return &ToolResult{Error: "cancelled", Cancelled: true}
		}
		return Fail("%v", err)
	}

	data := map[string]interface{}{
		"command":   command,
		"stdout":    result.Stdout,
		"stderr":    result.Stderr,
		"exit_code": result.ExitCode,
	}
	if !result.Success {
		return &ToolResult{
			Error: commandError(result),
			Data:  data,
		}
	}
	return Ok(data)
}

func commandError(result *workspace.Result) string {
	if result.Stderr != "" {
		return result.Stderr
	}
	if result.Stdout != "" {
		return result.Stdout
	}
	return "command failed"
}
