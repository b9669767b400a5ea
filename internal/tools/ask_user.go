package tools

import (
	"context"
)

// AskUserTool pauses the owning session on a question. It does not block:
// the session moves to awaiting_user_input and the executor treats that as
// a terminal signal for the current run until an answer arrives.
type AskUserTool struct{}

func NewAskUserTool() *AskUserTool {
	return &AskUserTool{}
}

func (t *AskUserTool) Name() string {
	return "ask_user"
}

func (t *AskUserTool) Description() string {
	return "Ask the user a question when you need clarification or additional information to proceed."
}

func (t *AskUserTool) Parameters() map[string]interface{} {
	return map[string]interface{}{
		"type": "object",
		"properties": map[string]interface{}{
			"question": map[string]interface{}{
				"type":        "string",
				"description": "The question to ask the user",
			},
		},
		"required": []string{"question"},
	}
}

func (t *AskUserTool) Execute(ctx context.Context, args map[string]interface{}, sc *SessionContext) *ToolResult {
	question := stringArg(args, "question")
	if question == "" {
		return Fail("ask_user requires a question")
	}
	if sc == nil || sc.Session == nil {
		return Fail("ask_user has no session to pause")
	}

	sc.Session.AwaitUserInput(question)

	return Ok(map[string]interface{}{
		"message":  "Question sent to user. Waiting for response.",
		"question": question,
	})
}
