package orchestrator

import (
	"context"
	"fmt"

	"github.com/kakaiking/anita/internal/llm"
	"github.com/kakaiking/anita/internal/logger"
	"github.com/kakaiking/anita/internal/session"
)

// Repairer converts one task failure into replacement tasks spliced into
// the plan. It never re-attempts the failed task verbatim; the executor
// owns the attempt ceiling.
type Repairer struct {
	client llm.Client
	model  string // override for repair calls, "" uses the client default
}

func NewRepairer(client llm.Client, repairModel string) *Repairer {
	return &Repairer{client: client, model: repairModel}
}

// Repair asks the model for a fix for the failed task and splices the
// proposed tasks into the session after it. The failed task must be in
// error status. Any failure of the call or the parse is returned so the
// executor can count it against the repair bound.
func (r *Repairer) Repair(ctx context.Context, sess *session.Session, failed *session.Task) error {
	sess.AppendLog("Requesting repair for: %s", failed.Description)

	req := &llm.CompletionRequest{
		Messages: []*llm.Message{
			{Role: "user", Content: repairPrompt(sess, failed)},
		},
		Model:         r.model,
		UsageReporter: sess,
	}

	resp, err := r.client.CompleteWithRequest(ctx, req)
	if err != nil {
		return fmt.Errorf("repair call failed: %w", err)
	}

	proposal, err := llm.ParsePlanProposal(resp.Content)
	if err != nil {
		return fmt.Errorf("repair proposal unparsable: %w", err)
	}

	replacements := tasksFromProposal(proposal.Tasks)
	if len(replacements) == 0 {
		return fmt.Errorf("repair proposal for task %s contained no tasks", failed.ID)
	}

	if err := sess.SpliceRepair(failed.ID, proposal.Thoughts, replacements); err != nil {
		return err
	}

	logger.Info("repair: spliced %d tasks after %s in session %s", len(replacements), failed.ID, sess.ID())
	sess.AppendLog("Repair accepted: %d replacement tasks", len(replacements))
	return nil
}
