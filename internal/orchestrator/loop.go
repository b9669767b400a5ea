package orchestrator

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/kakaiking/anita/internal/llm"
	"github.com/kakaiking/anita/internal/logger"
	"github.com/kakaiking/anita/internal/session"
	"github.com/kakaiking/anita/internal/tools"
)

// Loop is the autonomous function-calling agent: it feeds the session
// history to the model with the tool schemas attached and dispatches the
// returned tool calls until the model answers with plain content, the
// step ceiling is hit, or the run is paused or stopped.
type Loop struct {
	client   llm.Client
	registry *tools.Registry
	maxSteps int
	persist  func(*session.Session)
	finalMsg func(string)
}

func NewLoop(client llm.Client, registry *tools.Registry, maxSteps int) *Loop {
	if maxSteps <= 0 {
		maxSteps = 50
	}
	return &Loop{client: client, registry: registry, maxSteps: maxSteps}
}

// SetPersist installs a hook called after every durable session mutation.
func (l *Loop) SetPersist(persist func(*session.Session)) {
	l.persist = persist
}

// SetFinalMessageSink installs the receiver for the model's closing
// content turn.
func (l *Loop) SetFinalMessageSink(sink func(string)) {
	l.finalMsg = sink
}

// Seed installs the system prompt and the opening user turn. A session
// that already has history (a resumed run) is left untouched.
func (l *Loop) Seed(sess *session.Session, activeFile *ActiveFile) {
	if len(sess.History()) > 0 {
		return
	}
	sess.AppendHistory(&session.Message{
		Role:    "system",
		Content: agentSystemPrompt(sess.Goal(), activeFile),
	})
	sess.AppendHistory(&session.Message{
		Role:    "user",
		Content: fmt.Sprintf("Start working on: %s", sess.Goal()),
	})
}

// Run drives the loop until a terminal status or a durable pause.
// Cancellation yields a stopped session, never an error.
func (l *Loop) Run(ctx context.Context, sess *session.Session, sc *tools.SessionContext) error {
	sess.SetStatus(session.StatusRunning)
	logger.Info("loop: agent started for session %s: %s", sess.ID(), sess.Goal())

	for step := 1; ; step++ {
		if step > l.maxSteps {
			sess.AppendLog("Max steps reached (%d)", l.maxSteps)
			sess.SetStatus(session.StatusMaxStepsReached)
			l.save(sess)
			return nil
		}
		if ctx.Err() != nil || sess.Status() == session.StatusStopped {
			sess.SetStatus(session.StatusStopped)
			l.save(sess)
			return nil
		}

		sess.AppendLog("Step %d: thinking...", step)
		sess.SetStatus(session.StatusThinking)

		resp, err := l.client.CompleteWithRequest(ctx, &llm.CompletionRequest{
			Messages:      historyMessages(sess),
			Tools:         l.registry.Schemas(),
			UsageReporter: sess,
		})
		if err != nil {
			if llm.IsCancelled(err) {
				sess.SetStatus(session.StatusStopped)
				l.save(sess)
				return nil
			}
			sess.Fail(err.Error())
			l.save(sess)
			return err
		}

		sess.AppendHistory(&session.Message{
			Role:      "assistant",
			Content:   resp.Content,
			ToolCalls: resp.ToolCalls,
		})

		if len(resp.ToolCalls) > 0 {
			sess.SetStatus(session.StatusExecuting)

			for _, tc := range resp.ToolCalls {
				if ctx.Err() != nil {
					sess.SetStatus(session.StatusStopped)
					l.save(sess)
					return nil
				}

				name := llm.ToolCallName(tc)
				sess.AppendLog("Executing: %s", name)

				var result *tools.ToolResult
				args, argErr := decodeToolArgs(llm.ToolCallArguments(tc))
				if argErr != nil {
					result = tools.Fail("invalid tool arguments: %v", argErr)
				} else {
					result = l.registry.Execute(ctx, name, args, sc)
				}

				sess.AppendHistory(&session.Message{
					Role:       "tool",
					ToolCallID: llm.ToolCallID(tc),
					Name:       name,
					Content:    result.Encode(),
				})

				if result.Cancelled {
					sess.SetStatus(session.StatusStopped)
					l.save(sess)
					return nil
				}
			}

			if sess.Status() == session.StatusAwaitingUserInput {
				// ask_user paused the session; Resume re-enters the loop.
				l.save(sess)
				return nil
			}

			sess.SetStatus(session.StatusRunning)
			l.save(sess)
			continue
		}

		if strings.TrimSpace(resp.Content) != "" {
			sess.AppendLog("Agent: %s", resp.Content)
			if l.finalMsg != nil {
				l.finalMsg(resp.Content)
			}
			sess.SetStatus(session.StatusFinished)
			l.save(sess)
			return nil
		}

		sess.AppendLog("Model returned empty response")
		sess.Fail("model returned neither content nor tool calls")
		l.save(sess)
		return nil
	}
}

func historyMessages(sess *session.Session) []*llm.Message {
	hist := sess.History()
	msgs := make([]*llm.Message, 0, len(hist))
	for _, m := range hist {
		msgs = append(msgs, &llm.Message{
			Role:      m.Role,
			Content:   m.Content,
			ToolCalls: m.ToolCalls,
			ToolID:    m.ToolCallID,
			ToolName:  m.Name,
		})
	}
	return msgs
}

func decodeToolArgs(raw string) (map[string]interface{}, error) {
	if strings.TrimSpace(raw) == "" {
		return map[string]interface{}{}, nil
	}
	var args map[string]interface{}
	if err := json.Unmarshal([]byte(raw), &args); err != nil {
		return nil, err
	}
	return args, nil
}

func (l *Loop) save(sess *session.Session) {
	if l.persist != nil {
		l.persist(sess)
	}
}
