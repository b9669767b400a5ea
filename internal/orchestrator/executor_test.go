package orchestrator

import (
	"context"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kakaiking/anita/internal/config"
	"github.com/kakaiking/anita/internal/fs"
	"github.com/kakaiking/anita/internal/llm"
	"github.com/kakaiking/anita/internal/session"
	"github.com/kakaiking/anita/internal/tools"
	"github.com/kakaiking/anita/internal/workspace"
)

func newSessionWithTasks(goal string, tasks ...*session.Task) *session.Session {
	sess := session.New(goal, ".")
	sess.AdoptPlan("test plan", "", tasks)
	return sess
}

func commandTask(description, command string) *session.Task {
	task := session.NewTask(description, session.TaskTypeCommand)
	task.Command = command
	return task
}

func fileWriteTask(description, path, content string) *session.Task {
	task := session.NewTask(description, session.TaskTypeFileWrite)
	task.Path = path
	task.Content = content
	return task
}

func summaryTask(content string) *session.Task {
	task := session.NewTask("Summarize", session.TaskTypeSummary)
	task.Content = content
	return task
}

func taskStatuses(sess *session.Session) []session.TaskStatus {
	tasks := sess.Tasks()
	statuses := make([]session.TaskStatus, len(tasks))
	for i, t := range tasks {
		statuses[i] = t.Status
	}
	return statuses
}

func TestRunRepairsFailedTask(t *testing.T) {
	// Scenario: task 2 fails once, the repair proposes a single fix task
	// that succeeds, execution continues in place.
	repairClient := &scriptedClient{responses: []*llm.CompletionResponse{{
		Content: `{"thoughts": "The test runner is npx, not npm.", "tasks": [
  {"description": "Run tests via npx", "type": "command", "command": "npx test"}
]}`,
	}}}

	runner := newFakeRunner()
	runner.results["npm test"] = &workspace.Result{Success: false, Stderr: "exit status 1", ExitCode: 1}

	sess := newSessionWithTasks("ship it",
		fileWriteTask("Write the page", "index.html", "<html></html>"),
		commandTask("Run the tests", "npm test"),
		summaryTask("All green."),
	)

	var summaries []string
	exec := NewExecutor(fs.NewMemFS(), runner, NewRepairer(repairClient, ""), config.ModeAutonomous, nil, 5)
	exec.SetSummarySink(func(s string) { summaries = append(summaries, s) })

	require.NoError(t, exec.Run(context.Background(), sess))

	assert.Equal(t, []session.TaskStatus{
		session.TaskFinished,
		session.TaskRepaired,
		session.TaskFinished, // inserted fix
		session.TaskFinished,
	}, taskStatuses(sess))
	assert.Equal(t, session.StatusFinished, sess.Status())
	assert.True(t, strings.HasPrefix(sess.Thoughts(), "[REPAIR] "))
	assert.Equal(t, []string{"npm test", "npx test"}, runner.commands())
	assert.Equal(t, []string{"All green."}, summaries)
	assert.Equal(t, 1, repairClient.calls())
}

func TestRunBoundedRepair(t *testing.T) {
	// Every command fails, every proposed fix fails too: exactly
	// maxAutoRepairs repair calls, then the session errors out.
	repairClient := &scriptedClient{responses: []*llm.CompletionResponse{{
		Content: `{"thoughts": "Retry differently.", "tasks": [
  {"description": "Another attempt", "type": "command", "command": "still-broken"}
]}`,
	}}}

	runner := newFakeRunner()
	runner.results["broken"] = &workspace.Result{Success: false, Stderr: "boom", ExitCode: 1}
	runner.results["still-broken"] = &workspace.Result{Success: false, Stderr: "boom again", ExitCode: 1}

	sess := newSessionWithTasks("doomed goal", commandTask("Run it", "broken"))

	exec := NewExecutor(fs.NewMemFS(), runner, NewRepairer(repairClient, ""), config.ModeAutonomous, nil, 5)
	require.NoError(t, exec.Run(context.Background(), sess))

	assert.Equal(t, session.StatusError, sess.Status())
	assert.Contains(t, sess.StatusError(), "boom")
	assert.Equal(t, 5, repairClient.calls())

	// One original failure plus one per repair cycle.
	assert.Len(t, runner.commands(), 6)

	// Repaired tasks stay repaired; the final attempt stays errored.
	statuses := taskStatuses(sess)
	require.Len(t, statuses, 6)
	for _, st := range statuses[:5] {
		assert.Equal(t, session.TaskRepaired, st)
	}
	assert.Equal(t, session.TaskError, statuses[5])
}

func TestRunDeclineHaltsWithoutRepair(t *testing.T) {
	repairClient := &scriptedClient{}
	runner := newFakeRunner()

	decline := tools.ApproverFunc(func(ctx context.Context, command string) (bool, error) {
		return false, nil
	})

	sess := newSessionWithTasks("careful goal",
		commandTask("Risky install", "rm -rf node_modules"),
		summaryTask("after"),
	)

	exec := NewExecutor(fs.NewMemFS(), runner, NewRepairer(repairClient, ""), config.ModePermission, decline, 5)
	require.NoError(t, exec.Run(context.Background(), sess))

	statuses := taskStatuses(sess)
	assert.Equal(t, session.TaskCancelled, statuses[0])
	assert.Equal(t, session.TaskPending, statuses[1])
	assert.Equal(t, session.StatusError, sess.Status())
	assert.Contains(t, sess.StatusError(), "declined")
	assert.Empty(t, runner.commands())
	assert.Zero(t, repairClient.calls())
}

func TestRunStopMidExecution(t *testing.T) {
	runner := newFakeRunner()
	runner.blockOn = "long-job"
	runner.blockStarted = make(chan struct{})

	sess := newSessionWithTasks("long goal",
		commandTask("Quick step", "echo one"),
		commandTask("Long step", "long-job"),
		commandTask("Never runs", "echo three"),
	)

	exec := NewExecutor(fs.NewMemFS(), runner, nil, config.ModeAutonomous, nil, 5)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- exec.Run(ctx, sess) }()

	select {
	case <-runner.blockStarted:
	case <-time.After(5 * time.Second):
		t.Fatal("long-job never started")
	}
	cancel()
	require.NoError(t, <-done)

	statuses := taskStatuses(sess)
	assert.Equal(t, session.TaskFinished, statuses[0])
	assert.Equal(t, session.TaskCancelled, statuses[1])
	assert.Equal(t, session.TaskPending, statuses[2])
	assert.Equal(t, session.StatusStopped, sess.Status())
	assert.Equal(t, []string{"echo one", "long-job"}, runner.commands())
}

func TestRunSkipsIdenticalWrite(t *testing.T) {
	memfs := fs.NewMemFS()
	require.NoError(t, memfs.WriteFile(context.Background(), "config.json", []byte(`{"a":1}`)))

	sess := newSessionWithTasks("idempotent goal",
		fileWriteTask("Rewrite config", "config.json", `{"a":1}`),
	)

	exec := NewExecutor(memfs, newFakeRunner(), nil, config.ModeAutonomous, nil, 5)
	require.NoError(t, exec.Run(context.Background(), sess))

	assert.Equal(t, []session.TaskStatus{session.TaskSkipped}, taskStatuses(sess))
	assert.Equal(t, session.StatusFinished, sess.Status())

	found := false
	for _, line := range sess.Logs() {
		if strings.Contains(line, "identical content") {
			found = true
		}
	}
	assert.True(t, found, "skip should be logged")
}

func TestRunAskUserPausesAndResumes(t *testing.T) {
	ask := session.NewTask("Which database should I use?", session.TaskTypeAskUser)
	sess := newSessionWithTasks("needs input", ask, summaryTask("wrapped up"))

	exec := NewExecutor(fs.NewMemFS(), newFakeRunner(), nil, config.ModeAutonomous, nil, 5)
	require.NoError(t, exec.Run(context.Background(), sess))

	assert.Equal(t, session.StatusAwaitingUserInput, sess.Status())
	assert.Equal(t, "Which database should I use?", sess.PendingQuestion())
	statuses := taskStatuses(sess)
	assert.Equal(t, session.TaskFinished, statuses[0])
	assert.Equal(t, session.TaskPending, statuses[1])

	require.NoError(t, sess.AnswerPendingQuestion("postgres"))
	require.NoError(t, exec.Run(context.Background(), sess))
	assert.Equal(t, session.StatusFinished, sess.Status())
}

func TestRunAtMostOneActiveTask(t *testing.T) {
	// The activation guard holds across a run that includes a repair.
	repairClient := &scriptedClient{responses: []*llm.CompletionResponse{{
		Content: `{"thoughts": "fix", "tasks": [{"description": "Fix", "type": "command", "command": "ok"}]}`,
	}}}
	runner := newFakeRunner()
	runner.results["bad"] = &workspace.Result{Success: false, Stderr: "no", ExitCode: 1}

	sess := newSessionWithTasks("goal",
		commandTask("a", "ok"),
		commandTask("b", "bad"),
		commandTask("c", "ok"),
	)

	exec := NewExecutor(fs.NewMemFS(), runner, NewRepairer(repairClient, ""), config.ModeAutonomous, nil, 5)
	exec.SetPersist(func(s *session.Session) {
		active := 0
		for _, task := range s.Tasks() {
			if task.Status == session.TaskActive {
				active++
			}
		}
		if active > 1 {
			t.Errorf("observed %d active tasks", active)
		}
	})

	require.NoError(t, exec.Run(context.Background(), sess))
	assert.Equal(t, session.StatusFinished, sess.Status())
}

func TestRunRepairCancellationStops(t *testing.T) {
	// A repair call aborted by cancellation yields a stopped session, not
	// an errored one.
	repairClient := &scriptedClient{errs: []error{context.Canceled}}
	runner := newFakeRunner()
	runner.results["bad"] = &workspace.Result{Success: false, Stderr: "no", ExitCode: 1}

	sess := newSessionWithTasks("goal", commandTask("b", "bad"))

	exec := NewExecutor(fs.NewMemFS(), runner, NewRepairer(repairClient, ""), config.ModeAutonomous, nil, 5)
	require.NoError(t, exec.Run(context.Background(), sess))
	assert.Equal(t, session.StatusStopped, sess.Status())
}

func TestRunUnparsableRepairCountsAsFailedAttempt(t *testing.T) {
	repairClient := &scriptedClient{responses: []*llm.CompletionResponse{{
		Content: "I have no idea what went wrong.",
	}}}
	runner := newFakeRunner()
	runner.results["bad"] = &workspace.Result{Success: false, Stderr: "no", ExitCode: 1}

	sess := newSessionWithTasks("goal", commandTask("b", "bad"))

	exec := NewExecutor(fs.NewMemFS(), runner, NewRepairer(repairClient, ""), config.ModeAutonomous, nil, 5)
	require.NoError(t, exec.Run(context.Background(), sess))

	// The unparsable proposal consumed an attempt and halted the run.
	assert.Equal(t, session.StatusError, sess.Status())
	assert.Equal(t, 1, repairClient.calls())
	assert.Equal(t, []session.TaskStatus{session.TaskError}, taskStatuses(sess))
}

func TestResolvePathKeepsWorkspaceAbsolutePaths(t *testing.T) {
	runner := newFakeRunner()
	runner.root = "/ws/project"
	runner.workDir = "/ws/project/web"

	exec := NewExecutor(fs.NewMemFS(), runner, nil, config.ModeAutonomous, nil, 5)

	// A path already inside the workspace root passes through unchanged
	// instead of being re-joined under the working directory.
	assert.Equal(t, filepath.FromSlash("/ws/project/file.txt"), exec.resolvePath("ctx", "/ws/project/file.txt"))
	assert.Equal(t, filepath.FromSlash("/ws/project"), exec.resolvePath("ctx", "/ws/project"))

	// Relative paths still resolve against the tracked working directory.
	assert.Equal(t, filepath.FromSlash("/ws/project/web/index.html"), exec.resolvePath("ctx", "index.html"))
	assert.Equal(t, filepath.FromSlash("/ws/project/web/src/app.js"), exec.resolvePath("ctx", "src/app.js"))
}

func TestRunWritesAbsoluteWorkspacePathInPlace(t *testing.T) {
	runner := newFakeRunner()
	runner.root = "/ws/project"
	runner.workDir = "/ws/project/web"
	memFS := fs.NewMemFS()

	sess := newSessionWithTasks("goal",
		fileWriteTask("write readme", "/ws/project/README.md", "# hi"),
		summaryTask("Done."),
	)

	exec := NewExecutor(memFS, runner, nil, config.ModeAutonomous, nil, 5)
	require.NoError(t, exec.Run(context.Background(), sess))
	require.Equal(t, session.StatusFinished, sess.Status())

	data, err := memFS.ReadFile(context.Background(), "/ws/project/README.md")
	require.NoError(t, err)
	assert.Equal(t, "# hi", string(data))

	nested, err := memFS.Exists(context.Background(), "/ws/project/web/ws/project/README.md")
	require.NoError(t, err)
	assert.False(t, nested)
}
