package session

import (
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Status is the lifecycle state of a session.
type Status string

const (
	StatusCreated           Status = "created"
	StatusThinking          Status = "thinking"
	StatusExecuting         Status = "executing"
	StatusRunning           Status = "running"
	StatusAwaitingApproval  Status = "awaiting_approval"
	StatusAwaitingUserInput Status = "awaiting_user_input"
	StatusFinished          Status = "finished"
	StatusError             Status = "error"
	StatusStopped           Status = "stopped"
	StatusMaxStepsReached   Status = "max_steps_reached"
)

// IsTerminal reports whether no further progress will happen without an
// external trigger (re-run, resume, or manual repair).
func (s Status) IsTerminal() bool {
	switch s {
	case StatusFinished, StatusError, StatusStopped, StatusMaxStepsReached:
		return true
	}
	return false
}

// TaskStatus is the per-task lifecycle state.
type TaskStatus string

const (
	TaskPending   TaskStatus = "pending"
	TaskActive    TaskStatus = "active"
	TaskFinished  TaskStatus = "finished"
	TaskError     TaskStatus = "error"
	TaskSkipped   TaskStatus = "skipped"
	TaskCancelled TaskStatus = "cancelled"
	TaskRepaired  TaskStatus = "repaired"
)

// TaskType tells the executor which parameters a task carries.
type TaskType string

const (
	TaskTypeFileWrite TaskType = "file_write"
	TaskTypeCommand   TaskType = "command"
	TaskTypeRead      TaskType = "read"
	TaskTypeList      TaskType = "list"
	TaskTypeAskUser   TaskType = "ask_user"
	TaskTypeSummary   TaskType = "summary"
)

// Task is a single plan step.
type Task struct {
	ID          string     `json:"id"`
	Description string     `json:"description"`
	Type        TaskType   `json:"type"`
	Path        string     `json:"path,omitempty"`
	Content     string     `json:"content,omitempty"`
	Command     string     `json:"command,omitempty"`
	Status      TaskStatus `json:"status"`
	Error       string     `json:"error,omitempty"`
}

// NewTask creates a pending task with a fresh id.
func NewTask(description string, taskType TaskType) *Task {
	return &Task{
		ID:          uuid.NewString(),
		Description: description,
		Type:        taskType,
		Status:      TaskPending,
	}
}

// Message is one turn of the model conversation.
type Message struct {
	Role       string                   `json:"role"`
	Content    string                   `json:"content,omitempty"`
	ToolCalls  []map[string]interface{} `json:"tool_calls,omitempty"`
	ToolCallID string                   `json:"tool_call_id,omitempty"`
	Name       string                   `json:"name,omitempty"`
	Timestamp  time.Time                `json:"timestamp,omitempty"`
}

// Session is one goal-driven run over a workspace. All mutators hold the
// session lock; callers get copies, never live slices.
type Session struct {
	mu sync.RWMutex

	id          string
	goal        string
	plan        string
	thoughts    string
	tasks       []*Task
	history     []*Message
	logs        []string
	status      Status
	statusErr   string
	pendingQ    string
	workingDir  string
	tokensUsed  int
	createdAt   time.Time
	updatedAt   time.Time
	completedAt time.Time
}

// New creates a session for a goal, rooted at workingDir.
func New(goal, workingDir string) *Session {
	now := time.Now()
	return &Session{
		id:         uuid.NewString(),
		goal:       goal,
		status:     StatusCreated,
		workingDir: workingDir,
		createdAt:  now,
		updatedAt:  now,
	}
}

func (s *Session) ID() string { return s.id }

func (s *Session) Goal() string { return s.goal }

func (s *Session) WorkingDir() string { return s.workingDir }

func (s *Session) Status() Status {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.status
}

// StatusError returns the diagnostic recorded with an error status.
func (s *Session) StatusError() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.statusErr
}

func (s *Session) SetStatus(status Status) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.status = status
	if status != StatusError {
		s.statusErr = ""
	}
	if status.IsTerminal() {
		s.completedAt = time.Now()
	}
	s.touch()
}

// Fail moves the session to error, retaining the diagnostic for a manual
// re-trigger.
func (s *Session) Fail(diagnostic string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.status = StatusError
	s.statusErr = diagnostic
	s.completedAt = time.Now()
	s.touch()
}

func (s *Session) Plan() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.plan
}

func (s *Session) Thoughts() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.thoughts
}

// AdoptPlan installs the generated plan and moves the session to
// awaiting_approval.
func (s *Session) AdoptPlan(plan, thoughts string, tasks []*Task) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if strings.TrimSpace(plan) == "" {
		plan = "No plan description provided."
	}
	s.plan = plan
	s.thoughts = thoughts
	s.tasks = tasks
	s.status = StatusAwaitingApproval
	s.touch()
}

// Tasks returns a snapshot of the task list.
func (s *Session) Tasks() []*Task {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]*Task, len(s.tasks))
	for i, t := range s.tasks {
		copied := *t
		out[i] = &copied
	}
	return out
}

// NextRunnable returns a copy of the first pending or active task, in list
// order, or nil when none remain.
func (s *Session) NextRunnable() *Task {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, t := range s.tasks {
		if t.Status == TaskPending || t.Status == TaskActive {
			copied := *t
			return &copied
		}
	}
	return nil
}

// ActivateTask marks a task active. At most one task may be active; a
// second activation is refused.
func (s *Session) ActivateTask(taskID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	var target *Task
	for _, t := range s.tasks {
		if t.Status == TaskActive && t.ID != taskID {
			return fmt.Errorf("task %s is already active", t.ID)
		}
		if t.ID == taskID {
			target = t
		}
	}
	if target == nil {
		return fmt.Errorf("unknown task %s", taskID)
	}
	if target.Status != TaskPending && target.Status != TaskActive {
		return fmt.Errorf("task %s is %s, not pending", taskID, target.Status)
	}

	target.Status = TaskActive
	s.touch()
	return nil
}

// ResolveTask moves a task out of active into a settled status. Error text
// is recorded only for error outcomes.
func (s *Session) ResolveTask(taskID string, status TaskStatus, errText string) error {
	switch status {
	case TaskFinished, TaskError, TaskSkipped, TaskCancelled:
	default:
		return fmt.Errorf("cannot resolve task to %s", status)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	target := s.findTaskLocked(taskID)
	if target == nil {
		return fmt.Errorf("unknown task %s", taskID)
	}
	if target.Status == TaskRepaired {
		return fmt.Errorf("task %s was repaired and cannot run again", taskID)
	}

	target.Status = status
	if status == TaskError {
		target.Error = errText
	} else {
		target.Error = ""
	}
	s.touch()
	return nil
}

// SpliceRepair settles the failed task as repaired and inserts the
// replacement tasks immediately after it. The repair's reasoning is folded
// into the session thoughts with a [REPAIR] annotation.
func (s *Session) SpliceRepair(failedTaskID, thoughts string, replacements []*Task) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	idx := -1
	for i, t := range s.tasks {
		if t.ID == failedTaskID {
			idx = i
			break
		}
	}
	if idx == -1 {
		return fmt.Errorf("unknown task %s", failedTaskID)
	}
	if s.tasks[idx].Status != TaskError {
		return fmt.Errorf("task %s is %s, only errored tasks can be repaired", failedTaskID, s.tasks[idx].Status)
	}

	s.tasks[idx].Status = TaskRepaired

	for _, t := range replacements {
		t.Status = TaskPending
	}
	rebuilt := make([]*Task, 0, len(s.tasks)+len(replacements))
	rebuilt = append(rebuilt, s.tasks[:idx+1]...)
	rebuilt = append(rebuilt, replacements...)
	rebuilt = append(rebuilt, s.tasks[idx+1:]...)
	s.tasks = rebuilt

	annotation := "[REPAIR] " + strings.TrimSpace(thoughts)
	if s.thoughts != "" {
		s.thoughts = annotation + "\n" + s.thoughts
	} else {
		s.thoughts = annotation
	}
	s.touch()
	return nil
}

// AllTasksSettled reports whether every task reached a successful settled
// status (finished, repaired, or skipped).
func (s *Session) AllTasksSettled() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, t := range s.tasks {
		switch t.Status {
		case TaskFinished, TaskRepaired, TaskSkipped:
		default:
			return false
		}
	}
	return true
}

func (s *Session) findTaskLocked(taskID string) *Task {
	for _, t := range s.tasks {
		if t.ID == taskID {
			return t
		}
	}
	return nil
}

// AppendHistory adds one conversation turn.
func (s *Session) AppendHistory(msg *Message) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if msg.Timestamp.IsZero() {
		msg.Timestamp = time.Now()
	}
	s.history = append(s.history, msg)
	s.touch()
}

// History returns a snapshot of the conversation turns.
func (s *Session) History() []*Message {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]*Message, len(s.history))
	for i, m := range s.history {
		copied := *m
		out[i] = &copied
	}
	return out
}

// AwaitUserInput pauses the session on a question from the model.
func (s *Session) AwaitUserInput(question string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.status = StatusAwaitingUserInput
	s.pendingQ = question
	s.touch()
}

// PendingQuestion returns the question the session is paused on.
func (s *Session) PendingQuestion() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.pendingQ
}

// AnswerPendingQuestion records the user's answer as a new conversation
// turn and clears the pause. The caller resumes the loop afterwards.
func (s *Session) AnswerPendingQuestion(answer string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.status != StatusAwaitingUserInput {
		return fmt.Errorf("session %s is %s, not awaiting user input", s.id, s.status)
	}

	s.history = append(s.history, &Message{
		Role:      "user",
		Content:   fmt.Sprintf("User's answer to %q: %s", s.pendingQ, answer),
		Timestamp: time.Now(),
	})
	s.pendingQ = ""
	s.status = StatusRunning
	s.touch()
	return nil
}

// AppendLog adds one line to the session's activity log.
func (s *Session) AppendLog(format string, args ...interface{}) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.logs = append(s.logs, fmt.Sprintf(format, args...))
	s.touch()
}

// Logs returns a snapshot of the activity log.
func (s *Session) Logs() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]string(nil), s.logs...)
}

// ReportUsage accumulates the token total of one model call. The count is
// observational and never drives control flow.
func (s *Session) ReportUsage(totalTokens int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.tokensUsed += totalTokens
}

// TokensUsed returns the accumulated token total.
func (s *Session) TokensUsed() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.tokensUsed
}

func (s *Session) CreatedAt() time.Time { return s.createdAt }

// CompletedAt returns when the session reached a terminal status, or the
// zero time while it is still live.
func (s *Session) CompletedAt() time.Time {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.completedAt
}

func (s *Session) UpdatedAt() time.Time {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.updatedAt
}

func (s *Session) touch() {
	s.updatedAt = time.Now()
}
