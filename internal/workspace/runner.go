package workspace

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"path"
	"path/filepath"
	"runtime"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/kakaiking/anita/internal/logger"
)

// Result captures a finished command. Both streams are read fully before
// the result is returned; nothing is streamed to the caller.
type Result struct {
	Success  bool
	Stdout   string
	Stderr   string
	ExitCode int
}

// Runner executes shell commands for sessions. Each execution context
// (one per session run) carries its own logical working directory, which
// starts at the workspace root and follows `cd` segments of successful
// commands so later relative paths resolve where the model expects.
type Runner struct {
	root    string
	timeout time.Duration

	mu   sync.Mutex
	cwds map[string]string
}

// NewRunner creates a runner rooted at the workspace directory. A zero
// timeout means commands have no ceiling and only stop on cancellation.
func NewRunner(root string, timeout time.Duration) *Runner {
	return &Runner{
		root:    root,
		timeout: timeout,
		cwds:    make(map[string]string),
	}
}

// Root returns the workspace root directory.
func (r *Runner) Root() string {
	return r.root
}

// WorkingDir returns the logical working directory for a context.
func (r *Runner) WorkingDir(contextID string) string {
	r.mu.Lock()
	defer r.mu.Unlock()

	if dir, ok := r.cwds[contextID]; ok {
		return dir
	}
	return r.root
}

// SetWorkingDir pins the logical working directory for a context.
func (r *Runner) SetWorkingDir(contextID, dir string) error {
	if !filepath.IsAbs(dir) {
		dir = filepath.Join(r.root, dir)
	}
	info, err := os.Stat(dir)
	if err != nil {
		return fmt.Errorf("working directory %s: %w", dir, err)
	}
	if !info.IsDir() {
		return fmt.Errorf("working directory %s is not a directory", dir)
	}

	r.mu.Lock()
	r.cwds[contextID] = dir
	r.mu.Unlock()
	return nil
}

// ReleaseContext drops the tracked working directory for a context.
func (r *Runner) ReleaseContext(contextID string) {
	r.mu.Lock()
	delete(r.cwds, contextID)
	r.mu.Unlock()
}

// Execute runs command through the shell in the context's working
// directory. Cancellation kills the whole process group and returns
// ctx.Err; failed commands return a Result with Success=false, not an
// error.
func (r *Runner) Execute(ctx context.Context, contextID, command string) (*Result, error) {
	workingDir := r.WorkingDir(contextID)

	shell, flag := shellCommand()
	cmd := exec.Command(shell, flag, command)
	cmd.Dir = workingDir
	cmd.Env = os.Environ()
	configureProcessGroup(cmd)

	var stdout, stderr bytes.Buffer
	stdoutPipe, err := cmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("failed to create stdout pipe: %w", err)
	}
	stderrPipe, err := cmd.StderrPipe()
	if err != nil {
		return nil, fmt.Errorf("failed to create stderr pipe: %w", err)
	}

	logger.Debug("runner: executing in %s: %s", workingDir, command)
	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("failed to start command: %w", err)
	}
	pgid := getProcessGroupID(cmd)

	var wg sync.WaitGroup
	wg.Add(2)
	go drain(&wg, &stdout, stdoutPipe)
	go drain(&wg, &stderr, stderrPipe)

	done := make(chan error, 1)
	go func() {
		wg.Wait()
		done <- cmd.Wait()
	}()

	var timerC <-chan time.Time
	if r.timeout > 0 {
		timer := time.NewTimer(r.timeout)
		defer timer.Stop()
		timerC = timer.C
	}

	timedOut := false
	var waitErr error

waitLoop:
	for {
		select {
		case waitErr = <-done:
			break waitLoop
		case <-ctx.Done():
			logger.Warn("runner: killing process tree (pgid=%d): %v", pgid, ctx.Err())
			killProcessTree(cmd, pgid)
			<-done
			return nil, ctx.Err()
		case <-timerC:
			timedOut = true
			logger.Warn("runner: killing process tree (pgid=%d) after timeout %s", pgid, r.timeout)
			killProcessTree(cmd, pgid)
			timerC = nil
		}
	}

	result := &Result{
		Stdout: stdout.String(),
		Stderr: stderr.String(),
	}

	if waitErr != nil {
		var exitErr *exec.ExitError
		if errors.As(waitErr, &exitErr) {
			result.ExitCode = exitErr.ExitCode()
		} else if timedOut {
			result.ExitCode = -1
		} else {
			return nil, fmt.Errorf("failed to execute command: %w", waitErr)
		}
	}
	if timedOut {
		result.Stderr = appendLine(result.Stderr, fmt.Sprintf("command timed out after %s", r.timeout))
	}

	result.Success = waitErr == nil && !timedOut

	if result.Success {
		r.advanceWorkingDir(contextID, workingDir, command)
	}
	return result, nil
}

func drain(wg *sync.WaitGroup, buf *bytes.Buffer, pipe io.Reader) {
	defer wg.Done()
	_, _ = io.Copy(buf, pipe)
}

// killProcessTree aborts the whole process group so children spawned by
// the shell die with it and release the output pipes. Where process
// groups are unavailable it falls back to killing the shell alone.
func killProcessTree(cmd *exec.Cmd, pgid int) {
	if pgid > 0 {
		if err := signalProcessGroup(pgid, syscall.SIGKILL); err == nil || isIgnorableSignalError(err) {
			return
		}
	}
	if cmd.Process != nil {
		_ = cmd.Process.Kill()
	}
}

func isIgnorableSignalError(err error) bool {
	return errors.Is(err, os.ErrProcessDone) || errors.Is(err, syscall.ESRCH)
}

// advanceWorkingDir follows the cd segments of a successful command, plus
// scaffolding commands whose target directory is inferrable, so the logical
// directory matches where generated plans assume they are.
func (r *Runner) advanceWorkingDir(contextID, startDir, command string) {
	dir := startDir
	changed := false

	for _, segment := range splitSegments(command) {
		rest := strings.TrimSpace(segment)

		target := ""
		if rest == "cd" || strings.HasPrefix(rest, "cd ") {
			target = strings.TrimSpace(strings.TrimPrefix(rest, "cd"))
		} else {
			target = scaffoldTarget(rest)
		}

		target = strings.Trim(target, `"'`)
		if target == "" || target == "~" {
			continue
		}

		next := target
		if !filepath.IsAbs(next) {
			next = filepath.Join(dir, next)
		}
		next = filepath.Clean(next)

		if info, err := os.Stat(next); err == nil && info.IsDir() {
			dir = next
			changed = true
		}
	}

	if changed {
		r.mu.Lock()
		r.cwds[contextID] = dir
		r.mu.Unlock()
		logger.Info("runner: working directory for %s is now %s", contextID, dir)
	}
}

// scaffoldTarget recognizes project-generator commands that create a
// subdirectory the plan's later tasks assume to be the current location,
// and returns that directory name. Unknown commands return "".
func scaffoldTarget(segment string) string {
	fields := strings.Fields(segment)
	if len(fields) >= 2 && fields[0] == "npx" {
		fields = fields[1:]
	}
	if len(fields) < 2 {
		return ""
	}

	switch fields[0] {
	case "create-react-app", "create-next-app":
		return firstNonFlag(fields[1:])
	case "npm", "yarn", "pnpm":
		if fields[1] == "create" || fields[1] == "init" {
			args := nonFlagArgs(fields[2:])
			// npm create vite@latest my-app: generator first, target second.
			if len(args) >= 2 {
				return args[1]
			}
		}
	case "cargo":
		if fields[1] == "new" {
			return firstNonFlag(fields[2:])
		}
	case "git":
		if fields[1] == "clone" {
			args := nonFlagArgs(fields[2:])
			if len(args) >= 2 {
				return args[1]
			}
			if len(args) == 1 {
				base := path.Base(strings.TrimSuffix(args[0], ".git"))
				if base != "." && base != "/" {
					return base
				}
			}
		}
	}
	return ""
}

func firstNonFlag(fields []string) string {
	args := nonFlagArgs(fields)
	if len(args) == 0 {
		return ""
	}
	return args[0]
}

func nonFlagArgs(fields []string) []string {
	var args []string
	for _, f := range fields {
		if strings.HasPrefix(f, "-") {
			continue
		}
		args = append(args, f)
	}
	return args
}

// splitSegments breaks a shell command at && ; and || separators. Quoting
// is not interpreted; a separator inside quotes would mistrack the
// directory but never affects what actually executed.
func splitSegments(command string) []string {
	command = strings.ReplaceAll(command, "||", ";")
	command = strings.ReplaceAll(command, "&&", ";")
	return strings.Split(command, ";")
}

func appendLine(s, line string) string {
	if s == "" {
		return line
	}
	if !strings.HasSuffix(s, "\n") {
		s += "\n"
	}
	return s + line
}

func shellCommand() (string, string) {
	if runtime.GOOS == "windows" {
		return "cmd", "/C"
	}
	return "sh", "-c"
}
