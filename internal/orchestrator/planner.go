package orchestrator

import (
	"context"
	"fmt"

	"github.com/kakaiking/anita/internal/llm"
	"github.com/kakaiking/anita/internal/logger"
	"github.com/kakaiking/anita/internal/session"
)

// Planner turns a goal into an initial task list. A parse failure surfaces
// to the caller as-is; the user re-prompts rather than the planner guessing.
type Planner struct {
	client llm.Client
	model  string // override for plan calls, "" uses the client default
}

func NewPlanner(client llm.Client, plannerModel string) *Planner {
	return &Planner{client: client, model: plannerModel}
}

// GeneratePlan queries the model for a plan and installs it on the session,
// leaving it in awaiting_approval.
func (p *Planner) GeneratePlan(ctx context.Context, sess *session.Session) error {
	sess.SetStatus(session.StatusThinking)
	sess.AppendLog("Generating plan for: %s", sess.Goal())

	req := &llm.CompletionRequest{
		SystemPrompt: planPrompt(),
		Messages: []*llm.Message{
			{Role: "user", Content: sess.Goal()},
			{Role: "system", Content: strictJSONReminder},
		},
		Model:         p.model,
		UsageReporter: sess,
	}

	resp, err := p.client.CompleteWithRequest(ctx, req)
	if err != nil {
		return fmt.Errorf("plan generation failed: %w", err)
	}

	proposal, err := llm.ParsePlanProposal(resp.Content)
	if err != nil {
		return err
	}

	tasks := tasksFromProposal(proposal.Tasks)
	if len(tasks) == 0 {
		return fmt.Errorf("plan for %q contained no tasks", sess.Goal())
	}

	sess.AdoptPlan(proposal.Plan, proposal.Thoughts, tasks)
	logger.Info("planner: %d tasks for session %s", len(tasks), sess.ID())
	return nil
}

// tasksFromProposal converts parsed proposal tasks into session tasks,
// normalizing the type aliases models actually emit.
func tasksFromProposal(proposed []llm.ProposedTask) []*session.Task {
	tasks := make([]*session.Task, 0, len(proposed))
	for _, pt := range proposed {
		task := session.NewTask(pt.Description, normalizeTaskType(pt))
		task.Path = pt.Path
		task.Content = pt.Content
		task.Command = pt.Command
		tasks = append(tasks, task)
	}
	return tasks
}

func normalizeTaskType(pt llm.ProposedTask) session.TaskType {
	switch pt.Type {
	case "command", "terminal", "shell":
		return session.TaskTypeCommand
	case "file_write", "file_edit", "write", "file":
		return session.TaskTypeFileWrite
	case "read", "read_file":
		return session.TaskTypeRead
	case "list", "list_directory":
		return session.TaskTypeList
	case "ask_user", "question":
		return session.TaskTypeAskUser
	case "summary":
		return session.TaskTypeSummary
	}

	// Unknown label: infer from the parameters the task carries.
	switch {
	case pt.Command != "":
		return session.TaskTypeCommand
	case pt.Path != "":
		return session.TaskTypeFileWrite
	default:
		return session.TaskTypeSummary
	}
}
