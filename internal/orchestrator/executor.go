package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/cespare/xxhash/v2"

	"github.com/kakaiking/anita/internal/config"
	"github.com/kakaiking/anita/internal/fs"
	"github.com/kakaiking/anita/internal/llm"
	"github.com/kakaiking/anita/internal/logger"
	"github.com/kakaiking/anita/internal/session"
	"github.com/kakaiking/anita/internal/tools"
	"github.com/kakaiking/anita/internal/workspace"
)

// CommandRunner executes shell commands with per-context working-directory
// tracking. *workspace.Runner is the real implementation.
type CommandRunner interface {
	Execute(ctx context.Context, contextID, command string) (*workspace.Result, error)
	WorkingDir(contextID string) string
	Root() string
	ReleaseContext(contextID string)
}

// Executor drives an approved plan to completion, one task at a time.
// Failed tasks go through the Repairer until the per-run attempt ceiling
// is exhausted.
type Executor struct {
	fs             fs.FileSystem
	runner         CommandRunner
	repairer       *Repairer
	mode           string
	approver       tools.Approver
	maxAutoRepairs int
	persist        func(*session.Session)
	summarySink    func(string)
}

func NewExecutor(filesystem fs.FileSystem, runner CommandRunner, repairer *Repairer, mode string, approver tools.Approver, maxAutoRepairs int) *Executor {
	if maxAutoRepairs <= 0 {
		maxAutoRepairs = 5
	}
	return &Executor{
		fs:             filesystem,
		runner:         runner,
		repairer:       repairer,
		mode:           mode,
		approver:       approver,
		maxAutoRepairs: maxAutoRepairs,
	}
}

// SetPersist installs a hook called after every durable session mutation.
func (e *Executor) SetPersist(persist func(*session.Session)) {
	e.persist = persist
}

// SetSummarySink installs the receiver for summary task content.
func (e *Executor) SetSummarySink(sink func(string)) {
	e.summarySink = sink
}

// taskOutcome is the executor-internal result of dispatching one task.
type taskOutcome struct {
	errText   string
	skipped   bool
	declined  bool
	cancelled bool
	paused    bool
}

// Run executes the session's tasks in order until none remain, a decline
// or repair exhaustion halts it, ask_user pauses it, or the context is
// cancelled. Cancellation yields a stopped session, never an error.
func (e *Executor) Run(ctx context.Context, sess *session.Session) error {
	contextID := sess.ID()
	defer e.runner.ReleaseContext(contextID)

	sess.SetStatus(session.StatusRunning)
	sess.AppendLog("Agent execution started")
	e.save(sess)

	failures := 0
	var haltDiagnostic string

taskLoop:
	for {
		if ctx.Err() != nil {
			sess.SetStatus(session.StatusStopped)
			e.save(sess)
			return nil
		}

		task := sess.NextRunnable()
		if task == nil {
			break
		}
		if err := sess.ActivateTask(task.ID); err != nil {
			return err
		}

		outcome := e.dispatch(ctx, contextID, sess, task)

		switch {
		case outcome.cancelled || ctx.Err() != nil:
			_ = sess.ResolveTask(task.ID, session.TaskCancelled, "")
			sess.SetStatus(session.StatusStopped)
			e.save(sess)
			return nil

		case outcome.paused:
			// ask_user flagged awaiting_user_input; the run resumes when
			// an answer arrives.
			_ = sess.ResolveTask(task.ID, session.TaskFinished, "")
			e.save(sess)
			return nil

		case outcome.declined:
			_ = sess.ResolveTask(task.ID, session.TaskCancelled, "")
			sess.AppendLog("Command declined: %s", task.Command)
			haltDiagnostic = fmt.Sprintf("command approval declined: %s", task.Command)
			e.save(sess)
			break taskLoop

		case outcome.skipped:
			_ = sess.ResolveTask(task.ID, session.TaskSkipped, "")
			e.save(sess)

		case outcome.errText == "":
			_ = sess.ResolveTask(task.ID, session.TaskFinished, "")
			e.save(sess)

		default:
			_ = sess.ResolveTask(task.ID, session.TaskError, outcome.errText)
			haltDiagnostic = outcome.errText
			e.save(sess)

			if failures < e.maxAutoRepairs && e.repairer != nil {
				failures++
				sess.AppendLog("Attempting auto-repair (%d/%d)...", failures, e.maxAutoRepairs)

				failed := findTask(sess, task.ID)
				if err := e.repairer.Repair(ctx, sess, failed); err != nil {
					if llm.IsCancelled(err) {
						sess.SetStatus(session.StatusStopped)
						e.save(sess)
						return nil
					}
					logger.Warn("executor: repair attempt %d failed: %v", failures, err)
					sess.AppendLog("Repair failed: %v", err)
					break taskLoop
				}
				e.save(sess)
				continue
			}
			break taskLoop
		}
	}

	if sess.AllTasksSettled() {
		sess.SetStatus(session.StatusFinished)
	} else {
		if haltDiagnostic == "" {
			haltDiagnostic = "execution halted before all tasks settled"
		}
		sess.Fail(haltDiagnostic)
	}
	e.save(sess)
	return nil
}

func (e *Executor) dispatch(ctx context.Context, contextID string, sess *session.Session, task *session.Task) taskOutcome {
	switch task.Type {
	case session.TaskTypeFileWrite:
		return e.writeFile(ctx, contextID, sess, task)
	case session.TaskTypeCommand:
		return e.runCommand(ctx, contextID, sess, task)
	case session.TaskTypeRead:
		return e.readFile(ctx, contextID, sess, task)
	case session.TaskTypeList:
		return e.listDir(ctx, contextID, sess, task)
	case session.TaskTypeAskUser:
		question := task.Content
		if question == "" {
			question = task.Description
		}
		sess.AwaitUserInput(question)
		sess.AppendLog("Question sent to user: %s", question)
		return taskOutcome{paused: true}
	case session.TaskTypeSummary:
		content := task.Content
		if content == "" {
			content = task.Description
		}
		sess.AppendHistory(&session.Message{
			Role:    "assistant",
			Content: "**Implementation Complete**\n\n" + content,
		})
		if e.summarySink != nil {
			e.summarySink(content)
		}
		return taskOutcome{}
	default:
		return taskOutcome{errText: fmt.Sprintf("unknown task type %q", task.Type)}
	}
}

func (e *Executor) writeFile(ctx context.Context, contextID string, sess *session.Session, task *session.Task) taskOutcome {
	if task.Path == "" {
		return taskOutcome{errText: "file_write task has no path"}
	}
	path := e.resolvePath(contextID, task.Path)

	exists, err := e.fs.Exists(ctx, path)
	if err != nil {
		return taskOutcome{errText: fmt.Sprintf("cannot stat %s: %v", path, err)}
	}
	if exists {
		current, readErr := e.fs.ReadFile(ctx, path)
		if readErr == nil && len(current) == len(task.Content) && xxhash.Sum64(current) == xxhash.Sum64String(task.Content) {
			sess.AppendLog("Skipping %s (identical content)", task.Path)
			return taskOutcome{skipped: true}
		}
	}

	if err := e.fs.WriteFile(ctx, path, []byte(task.Content)); err != nil {
		return taskOutcome{errText: fmt.Sprintf("write %s: %v", path, err)}
	}
	if exists {
		sess.AppendLog("File updated: %s", path)
	} else {
		sess.AppendLog("File created: %s", path)
	}
	return taskOutcome{}
}

func (e *Executor) runCommand(ctx context.Context, contextID string, sess *session.Session, task *session.Task) taskOutcome {
	if task.Command == "" {
		return taskOutcome{errText: "command task has no command"}
	}

	if e.mode == config.ModePermission && e.approver != nil {
		approved, err := e.approver.ApproveCommand(ctx, task.Command)
		if err != nil {
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				return taskOutcome{cancelled: true}
			}
			return taskOutcome{errText: fmt.Sprintf("approval failed: %v", err)}
		}
		if !approved {
			return taskOutcome{declined: true}
		}
	}

	sess.AppendLog("> %s", task.Command)
	result, err := e.runner.Execute(ctx, contextID, task.Command)
	if err != nil {
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return taskOutcome{cancelled: true}
		}
		return taskOutcome{errText: err.Error()}
	}
	if !result.Success {
		return taskOutcome{errText: commandDiagnostic(result)}
	}
	return taskOutcome{}
}

func (e *Executor) readFile(ctx context.Context, contextID string, sess *session.Session, task *session.Task) taskOutcome {
	if task.Path == "" {
		return taskOutcome{errText: "read task has no path"}
	}
	path := e.resolvePath(contextID, task.Path)

	data, err := e.fs.ReadFile(ctx, path)
	if err != nil {
		return taskOutcome{errText: fmt.Sprintf("read %s: %v", path, err)}
	}
	sess.AppendLog("Read %s (%d bytes)", task.Path, len(data))
	return taskOutcome{}
}

func (e *Executor) listDir(ctx context.Context, contextID string, sess *session.Session, task *session.Task) taskOutcome {
	path := task.Path
	if path == "" {
		path = "."
	}
	path = e.resolvePath(contextID, path)

	entries, err := e.fs.ListDir(ctx, path)
	if err != nil {
		return taskOutcome{errText: fmt.Sprintf("list %s: %v", path, err)}
	}
	names := make([]string, 0, len(entries))
	for _, entry := range entries {
		names = append(names, entry.Name)
	}
	sess.AppendLog("Listed %s: %s", path, strings.Join(names, ", "))
	return taskOutcome{}
}

// resolvePath maps a task path onto the filesystem. Paths already inside
// the workspace root pass through untouched; everything else is treated
// as relative to where the shell currently is, so it joins the tracked
// working directory, not the workspace root.
func (e *Executor) resolvePath(contextID, p string) string {
	clean := filepath.Clean(filepath.FromSlash(p))

	root := filepath.Clean(e.runner.Root())
	if clean == root || strings.HasPrefix(clean, root+string(filepath.Separator)) {
		return clean
	}

	norm := strings.TrimPrefix(filepath.ToSlash(clean), "/")
	return filepath.Join(e.runner.WorkingDir(contextID), filepath.FromSlash(norm))
}

func commandDiagnostic(result *workspace.Result) string {
	if strings.TrimSpace(result.Stderr) != "" {
		return result.Stderr
	}
	if strings.TrimSpace(result.Stdout) != "" {
		return result.Stdout
	}
	return fmt.Sprintf("command failed with exit code %d", result.ExitCode)
}

func findTask(sess *session.Session, taskID string) *session.Task {
	for _, t := range sess.Tasks() {
		if t.ID == taskID {
			return t
		}
	}
	return nil
}

func (e *Executor) save(sess *session.Session) {
	if e.persist != nil {
		e.persist(sess)
	}
}
