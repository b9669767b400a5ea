package orchestrator

import (
	"context"
	"fmt"
	"sync"

	"github.com/kakaiking/anita/internal/config"
	"github.com/kakaiking/anita/internal/fs"
	"github.com/kakaiking/anita/internal/llm"
	"github.com/kakaiking/anita/internal/logger"
	"github.com/kakaiking/anita/internal/session"
	"github.com/kakaiking/anita/internal/tools"
	"github.com/kakaiking/anita/internal/workspace"
)

// Orchestrator owns the sessions of one workspace: it generates plans,
// drives approved runs and autonomous loops, and holds the per-session
// cancellation registry. All stop requests go through it; nothing else
// touches a session's cancel handle.
type Orchestrator struct {
	cfg      *config.Config
	client   llm.Client
	fs       fs.FileSystem
	runner   CommandRunner
	storage  *session.Storage
	registry *tools.Registry
	planner  *Planner
	repairer *Repairer
	executor *Executor
	loop     *Loop

	mu       sync.Mutex
	sessions map[string]*session.Session
	cancels  map[string]context.CancelFunc
}

// New wires an orchestrator over its collaborators. storage may be nil to
// disable persistence; approver may be nil in autonomous mode.
func New(cfg *config.Config, client llm.Client, filesystem fs.FileSystem, runner CommandRunner, storage *session.Storage, approver tools.Approver) *Orchestrator {
	registry := tools.NewRegistry()
	registry.Register(tools.NewReadFileTool(filesystem))
	registry.Register(tools.NewWriteFileTool(filesystem))
	registry.Register(tools.NewListDirectoryTool(filesystem))
	if concrete, ok := runner.(*workspace.Runner); ok {
		registry.Register(tools.NewRunCommandTool(concrete, cfg.ExecutionMode, approver))
	}
	registry.Register(tools.NewAskUserTool())

	repairer := NewRepairer(client, cfg.PlannerModel)
	executor := NewExecutor(filesystem, runner, repairer, cfg.ExecutionMode, approver, cfg.MaxAutoRepairs)
	loop := NewLoop(client, registry, cfg.MaxSteps)

	orch := &Orchestrator{
		cfg:      cfg,
		client:   client,
		fs:       filesystem,
		runner:   runner,
		storage:  storage,
		registry: registry,
		planner:  NewPlanner(client, cfg.PlannerModel),
		repairer: repairer,
		executor: executor,
		loop:     loop,
		sessions: make(map[string]*session.Session),
		cancels:  make(map[string]context.CancelFunc),
	}

	executor.SetPersist(orch.save)
	loop.SetPersist(orch.save)
	return orch
}

// Registry exposes the tool registry so hosts can register extra tools or
// replace run_command wiring.
func (o *Orchestrator) Registry() *tools.Registry {
	return o.registry
}

// SetSummarySink routes summary-task content and the autonomous loop's
// final message to the host.
func (o *Orchestrator) SetSummarySink(sink func(string)) {
	o.executor.SetSummarySink(sink)
	o.loop.SetFinalMessageSink(sink)
}

// Plan creates a session for goal and generates its task list. On success
// the session is awaiting_approval; a gateway or parse failure marks it
// error and is returned alongside the failed session.
func (o *Orchestrator) Plan(ctx context.Context, goal string) (*session.Session, error) {
	sess := session.New(goal, o.cfg.WorkingDir)
	o.track(sess)

	if err := o.planner.GeneratePlan(ctx, sess); err != nil {
		sess.Fail(err.Error())
		o.save(sess)
		return sess, err
	}

	o.save(sess)
	return sess, nil
}

// Execute runs an approved session's plan to completion. It registers a
// cancel handle for Stop and blocks until the run reaches a terminal
// status or a durable pause.
func (o *Orchestrator) Execute(ctx context.Context, sessionID string) error {
	sess, err := o.Get(sessionID)
	if err != nil {
		return err
	}
	switch sess.Status() {
	case session.StatusAwaitingApproval, session.StatusRunning, session.StatusCreated:
	default:
		return fmt.Errorf("session %s is %s and cannot be executed", sessionID, sess.Status())
	}

	runCtx, release := o.register(sessionID, ctx)
	defer release()

	return o.executor.Run(runCtx, sess)
}

// StartAutonomous creates a session for goal and drives the
// function-calling loop. Blocks like Execute.
func (o *Orchestrator) StartAutonomous(ctx context.Context, goal string, activeFile *ActiveFile) (*session.Session, error) {
	sess := session.New(goal, o.cfg.WorkingDir)
	o.track(sess)
	o.loop.Seed(sess, activeFile)

	runCtx, release := o.register(sess.ID(), ctx)
	defer release()

	err := o.loop.Run(runCtx, sess, o.sessionContext(sess, activeFile))
	return sess, err
}

// Resume answers a session's pending question and continues its run.
func (o *Orchestrator) Resume(ctx context.Context, sessionID, answer string) error {
	sess, err := o.Get(sessionID)
	if err != nil {
		return err
	}
	if err := sess.AnswerPendingQuestion(answer); err != nil {
		return err
	}
	sess.AppendLog("User response: %s", answer)
	o.save(sess)

	runCtx, release := o.register(sessionID, ctx)
	defer release()

	// Planned sessions continue their task list; sessions without tasks
	// are autonomous runs and re-enter the loop.
	if len(sess.Tasks()) > 0 {
		return o.executor.Run(runCtx, sess)
	}
	return o.loop.Run(runCtx, sess, o.sessionContext(sess, nil))
}

// Stop cancels a running session. A session with no active run but a
// non-terminal status is marked stopped directly.
func (o *Orchestrator) Stop(sessionID string) error {
	o.mu.Lock()
	cancel, running := o.cancels[sessionID]
	sess := o.sessions[sessionID]
	o.mu.Unlock()

	if running {
		logger.Info("orchestrator: stopping session %s", sessionID)
		cancel()
		return nil
	}
	if sess == nil {
		return fmt.Errorf("unknown session %s", sessionID)
	}
	if !sess.Status().IsTerminal() {
		sess.SetStatus(session.StatusStopped)
		o.save(sess)
	}
	return nil
}

// Get returns a tracked session.
func (o *Orchestrator) Get(sessionID string) (*session.Session, error) {
	o.mu.Lock()
	defer o.mu.Unlock()

	sess, ok := o.sessions[sessionID]
	if !ok {
		return nil, fmt.Errorf("unknown session %s", sessionID)
	}
	return sess, nil
}

// Sessions lists the persisted records of the workspace, newest first.
func (o *Orchestrator) Sessions() ([]*session.Record, error) {
	if o.storage == nil {
		return nil, nil
	}
	return o.storage.List(o.cfg.WorkingDir)
}

// Load revives a persisted session into the tracked set.
func (o *Orchestrator) Load(sessionID string) (*session.Session, error) {
	if o.storage == nil {
		return nil, fmt.Errorf("session persistence is disabled")
	}
	sess, err := o.storage.Load(o.cfg.WorkingDir, sessionID)
	if err != nil {
		return nil, err
	}
	o.track(sess)
	return sess, nil
}

func (o *Orchestrator) sessionContext(sess *session.Session, activeFile *ActiveFile) *tools.SessionContext {
	sc := &tools.SessionContext{
		Session:   sess,
		ContextID: sess.ID(),
	}
	if activeFile != nil {
		sc.ActiveFile = activeFile.RelPath
	}
	return sc
}

func (o *Orchestrator) track(sess *session.Session) {
	o.mu.Lock()
	o.sessions[sess.ID()] = sess
	o.mu.Unlock()
}

// register installs a cancel handle for the session run and returns the
// derived context plus a release func.
func (o *Orchestrator) register(sessionID string, ctx context.Context) (context.Context, func()) {
	runCtx, cancel := context.WithCancel(ctx)

	o.mu.Lock()
	o.cancels[sessionID] = cancel
	o.mu.Unlock()

	return runCtx, func() {
		o.mu.Lock()
		delete(o.cancels, sessionID)
		o.mu.Unlock()
		cancel()
	}
}

func (o *Orchestrator) save(sess *session.Session) {
	if o.storage == nil {
		return
	}
	if err := o.storage.Save(sess); err != nil {
		logger.Warn("orchestrator: cannot persist session %s: %v", sess.ID(), err)
	}
}
