package main

import (
	"bufio"
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"golang.org/x/term"

	"github.com/kakaiking/anita/internal/config"
	"github.com/kakaiking/anita/internal/fs"
	"github.com/kakaiking/anita/internal/llm"
	"github.com/kakaiking/anita/internal/logger"
	"github.com/kakaiking/anita/internal/orchestrator"
	"github.com/kakaiking/anita/internal/session"
	"github.com/kakaiking/anita/internal/tools"
	"github.com/kakaiking/anita/internal/workspace"
)

type cliOptions struct {
	autonomous  bool
	autoApprove bool
	listOnly    bool
	resumeID    string
	model       string
	mode        string
	workingDir  string
	configPath  string
}

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func run() (err error) {
	goal, opts, parseErr := parseCLIArgs(os.Args[1:])
	if parseErr != nil {
		if errors.Is(parseErr, flag.ErrHelp) {
			return nil
		}
		return parseErr
	}

	configPath := opts.configPath
	if configPath == "" {
		configPath = config.GetConfigPath()
	}
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	// Environment overrides config file values for logging.
	if envLevel := strings.TrimSpace(os.Getenv("ANITA_LOG_LEVEL")); envLevel != "" {
		cfg.LogLevel = envLevel
	}
	if envPath := strings.TrimSpace(os.Getenv("ANITA_LOG_PATH")); envPath != "" {
		cfg.LogPath = envPath
	}
	applyCLIOverrides(cfg, opts)

	if initErr := logger.Init(logger.ParseLevel(cfg.LogLevel), cfg.LogPath); initErr != nil {
		return fmt.Errorf("failed to initialize logger: %w", initErr)
	}
	defer func() {
		if err != nil {
			logger.Error("Fatal error: %v", err)
		}
		if closeErr := logger.Global().Close(); closeErr != nil {
			fmt.Fprintf(os.Stderr, "Warning: failed to close logger: %v\n", closeErr)
		}
	}()

	logger.Info("anita starting")
	logger.Debug("Configuration loaded: working_dir=%s, model=%s, mode=%s", cfg.WorkingDir, cfg.Model, cfg.ExecutionMode)

	if err := cfg.Validate(); err != nil {
		return err
	}

	storage, err := session.NewStorage(cfg.SessionDir)
	if err != nil {
		return fmt.Errorf("failed to open session storage: %w", err)
	}

	client, err := llm.NewOpenRouterClient(cfg.APIKey, cfg.Model)
	if err != nil {
		return err
	}
	if cfg.BaseURL != "" {
		client.SetBaseURL(cfg.BaseURL)
	}

	workspaceFS := fs.NewWorkspaceFS(cfg.WorkingDir, time.Minute, 64)
	defer func() {
		if closeErr := workspaceFS.Close(); closeErr != nil {
			logger.Warn("Failed to close workspace filesystem: %v", closeErr)
		}
	}()

	runner := workspace.NewRunner(cfg.WorkingDir, time.Duration(cfg.CommandTimeoutSeconds)*time.Second)

	approver := stdinApprover(os.Stdin, os.Stderr)
	orch := orchestrator.New(cfg, client, workspaceFS, runner, storage, approver)
	orch.SetSummarySink(func(msg string) {
		fmt.Println(msg)
	})

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if opts.listOnly {
		return listSessions(orch)
	}
	if opts.resumeID != "" {
		return resumeSession(ctx, orch, opts.resumeID)
	}
	if goal == "" {
		return errors.New("no goal given; run with a prompt, -list, or -resume")
	}

	if opts.autonomous {
		return runAutonomous(ctx, orch, goal)
	}
	return runPlanned(ctx, orch, goal, opts.autoApprove)
}

func parseCLIArgs(args []string) (string, *cliOptions, error) {
	fs := flag.NewFlagSet("anita", flag.ContinueOnError)
	fs.SetOutput(os.Stderr)

	opts := &cliOptions{}
	fs.BoolVar(&opts.autonomous, "autonomous", false, "Skip planning and run the function-calling agent directly")
	fs.BoolVar(&opts.autoApprove, "yes", false, "Execute the generated plan without asking for approval")
	fs.BoolVar(&opts.listOnly, "list", false, "List stored sessions for the working directory and exit")
	fs.StringVar(&opts.resumeID, "resume", "", "Resume a paused session by id")
	fs.StringVar(&opts.model, "model", "", "Model to use (e.g. openai/gpt-4o, anthropic/claude-sonnet-4)")
	fs.StringVar(&opts.mode, "mode", "", "Execution mode: permission or autonomous")
	fs.StringVar(&opts.workingDir, "dir", "", "Workspace directory (defaults to the current directory)")
	fs.StringVar(&opts.configPath, "config", "", "Path to the config file")
	fs.Usage = func() {
		fmt.Fprintf(fs.Output(), "Usage: %s [options] \"your goal here\"\n\n", os.Args[0])
		fmt.Fprintln(fs.Output(), "Options:")
		fs.PrintDefaults()
	}

	if err := fs.Parse(args); err != nil {
		return "", nil, err
	}

	goal := strings.TrimSpace(strings.Join(fs.Args(), " "))
	return goal, opts, nil
}

func applyCLIOverrides(cfg *config.Config, opts *cliOptions) {
	if opts.model != "" {
		cfg.Model = opts.model
	}
	if opts.mode != "" {
		cfg.ExecutionMode = opts.mode
	}
	if opts.workingDir != "" {
		cfg.WorkingDir = opts.workingDir
	}
}

func runPlanned(ctx context.Context, orch *orchestrator.Orchestrator, goal string, autoApprove bool) error {
	fmt.Fprintln(os.Stderr, "Generating plan...")

	sess, err := orch.Plan(ctx, goal)
	if err != nil {
		return err
	}
	printPlan(sess)

	if !autoApprove {
		approved, err := promptYesNo("Execute this plan? [y/N] ")
		if err != nil {
			return err
		}
		if !approved {
			if stopErr := orch.Stop(sess.ID()); stopErr != nil {
				logger.Warn("Failed to mark session stopped: %v", stopErr)
			}
			fmt.Fprintln(os.Stderr, "Plan discarded.")
			return nil
		}
	}

	if err := orch.Execute(ctx, sess.ID()); err != nil {
		return err
	}
	return followSession(ctx, orch, sess)
}

func runAutonomous(ctx context.Context, orch *orchestrator.Orchestrator, goal string) error {
	sess, err := orch.StartAutonomous(ctx, goal, nil)
	if err != nil {
		return err
	}
	return followSession(ctx, orch, sess)
}

func resumeSession(ctx context.Context, orch *orchestrator.Orchestrator, sessionID string) error {
	sess, err := orch.Load(sessionID)
	if err != nil {
		return err
	}
	if sess.Status() != session.StatusAwaitingUserInput {
		return fmt.Errorf("session %s is %s and cannot be resumed", sessionID, sess.Status())
	}
	return followSession(ctx, orch, sess)
}

// followSession answers pending questions until the session settles, then
// reports the outcome.
func followSession(ctx context.Context, orch *orchestrator.Orchestrator, sess *session.Session) error {
	for sess.Status() == session.StatusAwaitingUserInput {
		answer, err := promptLine(fmt.Sprintf("Agent asks: %s\n> ", sess.PendingQuestion()))
		if err != nil {
			return err
		}
		if err := orch.Resume(ctx, sess.ID(), answer); err != nil {
			return err
		}
	}
	return reportOutcome(sess)
}

func reportOutcome(sess *session.Session) error {
	switch sess.Status() {
	case session.StatusFinished:
		fmt.Fprintf(os.Stderr, "Session %s finished (%d tokens used).\n", sess.ID(), sess.TokensUsed())
		return nil
	case session.StatusStopped:
		fmt.Fprintf(os.Stderr, "Session %s stopped.\n", sess.ID())
		return nil
	case session.StatusMaxStepsReached:
		return fmt.Errorf("session %s hit the step ceiling before finishing", sess.ID())
	case session.StatusError:
		return fmt.Errorf("session %s failed: %s", sess.ID(), sess.StatusError())
	default:
		return fmt.Errorf("session %s ended in unexpected state %s", sess.ID(), sess.Status())
	}
}

func printPlan(sess *session.Session) {
	fmt.Printf("\nPlan: %s\n", sess.Plan())
	if thoughts := sess.Thoughts(); thoughts != "" {
		fmt.Printf("Thoughts: %s\n", thoughts)
	}
	fmt.Println("\nTasks:")
	for i, task := range sess.Tasks() {
		detail := ""
		switch {
		case task.Command != "":
			detail = fmt.Sprintf(" (%s)", task.Command)
		case task.Path != "":
			detail = fmt.Sprintf(" (%s)", task.Path)
		}
		fmt.Printf("  %d. [%s] %s%s\n", i+1, task.Type, task.Description, detail)
	}
	fmt.Println()
}

func listSessions(orch *orchestrator.Orchestrator) error {
	records, err := orch.Sessions()
	if err != nil {
		return err
	}
	if len(records) == 0 {
		fmt.Println("No stored sessions for this workspace.")
		return nil
	}
	for _, rec := range records {
		fmt.Printf("%s  %-20s  %s\n", rec.ID, rec.Status, rec.Goal)
	}
	return nil
}

// stdinApprover asks on the terminal before every command in permission
// mode. A non-interactive stdin declines, so piped runs never hang.
func stdinApprover(in *os.File, out io.Writer) tools.ApproverFunc {
	return func(ctx context.Context, command string) (bool, error) {
		if !term.IsTerminal(int(in.Fd())) {
			fmt.Fprintf(out, "Declining command (no terminal to ask on): %s\n", command)
			return false, nil
		}
		fmt.Fprintf(out, "Run command? %s [y/N] ", command)

		line, err := readLine(in)
		if err != nil {
			return false, err
		}
		return isYes(line), nil
	}
}

func promptYesNo(prompt string) (bool, error) {
	fmt.Fprint(os.Stderr, prompt)
	line, err := readLine(os.Stdin)
	if err != nil {
		return false, err
	}
	return isYes(line), nil
}

func promptLine(prompt string) (string, error) {
	fmt.Fprint(os.Stderr, prompt)
	return readLine(os.Stdin)
}

func readLine(in *os.File) (string, error) {
	reader := bufio.NewReader(in)
	line, err := reader.ReadString('\n')
	if err != nil && !errors.Is(err, io.EOF) {
		return "", err
	}
	return strings.TrimSpace(line), nil
}

func isYes(line string) bool {
	switch strings.ToLower(line) {
	case "y", "yes":
		return true
	}
	return false
}
