package orchestrator

import (
	"fmt"
	"path/filepath"
	"strings"

	"github.com/kakaiking/anita/internal/session"
)

// strictJSONReminder is appended as a trailing system turn on planning
// calls to keep the model from wrapping the object in prose.
const strictJSONReminder = "IMPORTANT: Return ONLY the JSON object. Do not output any introductory text or markdown formatting. Start immediately with '{'."

func planPrompt() string {
	return `You are Anita, an elite AI software developer.
Turn the user's goal into a precise implementation plan of discrete tasks.

CRITICAL PROTOCOL:
1. DIRECTORY AWARENESS: The starting directory is ALWAYS the workspace root. Use 'cd folder && command' for sub-directory operations; do not assume you are in a folder unless you cd into it.
2. COMPLETE CONTENT: file_write tasks must carry the FULL file content, never snippets or placeholders.
3. ORDERING: Tasks execute strictly in order. Scaffold before writing into the scaffolded directory.
4. VERIFICATION: After substantive changes, add a command task that verifies the result (build, test, or run).
5. FINISH: End the plan with a summary task describing what was accomplished.

Task types:
- "command": run a shell command (field "command")
- "file_write": create or overwrite a file (fields "path", "content")
- "read": read a file (field "path")
- "list": list a directory (field "path")
- "ask_user": ask the user a question (field "content")
- "summary": final report shown to the user (field "content")

Respond ONLY with JSON:
{
  "plan": "One-paragraph strategy summary...",
  "thoughts": "Reasoning about the approach...",
  "tasks": [
    { "description": "Step...", "type": "command", "command": "..." }
  ]
}`
}

func repairPrompt(sess *session.Session, failed *session.Task) string {
	var b strings.Builder

	b.WriteString(`You are Anita, an elite AI software developer.
One of the tasks in your implementation plan has failed. Analyze the error and provide a precision fix.

CRITICAL PROTOCOL:
1. ROOT CAUSE ANALYSIS: Determine exactly why it failed.
2. DIRECTORY AWARENESS: If unsure where you are, find out first. Use 'cd folder && other-command' to ensure context.
3. PREVENT LOOPS: If the error is the same as a previous failure, do NOT repeat the same fix. CHANGE STRATEGY.
4. EXISTING DIRECTORY ERROR: If a scaffold command failed because the folder exists, DO NOT try to delete it. Just 'cd' into it and continue.
5. CONTINUATION: Provide ONLY the tasks needed to overcome this hurdle and verify it.

`)

	fmt.Fprintf(&b, "ORIGINAL GOAL: %q\n", sess.Goal())
	fmt.Fprintf(&b, "CURRENT PLAN: %s\n\n", sess.Plan())

	b.WriteString("FAILED TASK:\n")
	fmt.Fprintf(&b, "- Description: %s\n", failed.Description)
	fmt.Fprintf(&b, "- Type: %s\n", failed.Type)
	if failed.Command != "" {
		fmt.Fprintf(&b, "- Command: %s\n", failed.Command)
	}
	if failed.Path != "" {
		fmt.Fprintf(&b, "- Path: %s\n", failed.Path)
	}

	errText := failed.Error
	if errText == "" {
		errText = "Unknown Error"
	}
	fmt.Fprintf(&b, "\nERROR ENCOUNTERED:\n%q\n\n", errText)

	b.WriteString("REMAINING TASKS:\n")
	for _, t := range sess.Tasks() {
		if t.Status == session.TaskPending {
			fmt.Fprintf(&b, "- %s\n", t.Description)
		}
	}

	b.WriteString(`
Respond ONLY with JSON:
{
  "thoughts": "Root cause analysis...",
  "tasks": [
    { "description": "Fix step...", "type": "command", "command": "..." }
  ]
}`)

	return b.String()
}

// ActiveFile is the file the user is focused on, injected into the
// autonomous system prompt so the model targets the right path.
type ActiveFile struct {
	Path    string // absolute or as opened by the host
	RelPath string // workspace-relative, the path the model must use
	Content string
}

func agentSystemPrompt(goal string, activeFile *ActiveFile) string {
	var b strings.Builder

	b.WriteString("You are an autonomous coding agent with access to file operations and terminal commands.\n\n")

	if activeFile != nil {
		name := filepath.Base(activeFile.RelPath)
		fmt.Fprintf(&b, "**Current File Context:**\nFile: %s\nRelative Path: %s (ALWAYS use this path when modifying the file)\nAbsolute Path: %s\n\n", name, activeFile.RelPath, activeFile.Path)
		fmt.Fprintf(&b, "```%s\n%s\n```\n\n", languageForFile(name), activeFile.Content)
	}

	fmt.Fprintf(&b, "**Your Goal:** %s\n\n", goal)

	b.WriteString(`**Available Tools:**
- read_file: Read file contents to examine existing code
- write_file: MODIFY existing files ONLY (do NOT create new files - only update the active file or @-mentioned files)
- list_directory: List directory contents to explore project structure
- run_command: Execute terminal commands (npm, git, etc.)
- ask_user: Ask for clarification when needed

**IMPORTANT CONSTRAINTS:**
- You can ONLY modify existing files (the currently open file or files mentioned with @filename)
- DO NOT create new files - this is a file-scoped editor
`)
	if activeFile != nil {
		fmt.Fprintf(&b, "- ALWAYS use the relative path %q when modifying the active file\n", activeFile.RelPath)
	}
	b.WriteString(`- Focus on improving/modifying the active file based on the user's request
- If you need to reference other files, ask the user to @mention them

**Instructions:**
1. `)
	if activeFile != nil {
		fmt.Fprintf(&b, "You are currently working on %s - this is the file you should modify\n", activeFile.RelPath)
	} else {
		b.WriteString("Think step-by-step about the task\n")
	}
	b.WriteString(`2. If the user mentions other files with @filename, you can read and reference those files
3. Use tools as needed to accomplish the goal
4. Always read files before modifying them (unless you already have the content)
5. Provide complete file contents when writing, not snippets
6. When finished, respond with a summary of what you accomplished

Begin working on the task now.`)

	return b.String()
}

var fileLanguages = map[string]string{
	"js":    "javascript",
	"jsx":   "javascript",
	"ts":    "typescript",
	"tsx":   "typescript",
	"py":    "python",
	"java":  "java",
	"cpp":   "cpp",
	"c":     "c",
	"cs":    "csharp",
	"go":    "go",
	"rs":    "rust",
	"php":   "php",
	"rb":    "ruby",
	"swift": "swift",
	"kt":    "kotlin",
	"html":  "html",
	"css":   "css",
	"scss":  "scss",
	"json":  "json",
	"xml":   "xml",
	"md":    "markdown",
	"sh":    "bash",
	"yaml":  "yaml",
	"yml":   "yaml",
}

func languageForFile(name string) string {
	ext := strings.ToLower(strings.TrimPrefix(filepath.Ext(name), "."))
	if lang, ok := fileLanguages[ext]; ok {
		return lang
	}
	return "plaintext"
}
