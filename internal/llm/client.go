package llm

import (
	"context"
)

// Message represents a chat message.
type Message struct {
	Role      string                   `json:"role"` // "system", "user", "assistant", "tool"
	Content   string                   `json:"content"`
	ToolCalls []map[string]interface{} `json:"tool_calls,omitempty"`
	ToolID    string                   `json:"tool_id,omitempty"`
	ToolName  string                   `json:"tool_name,omitempty"` // name of the tool for tool responses
}

// CompletionRequest represents a completion request.
type CompletionRequest struct {
	Messages     []*Message               `json:"messages"`
	Tools        []map[string]interface{} `json:"tools,omitempty"`
	Temperature  float64                  `json:"temperature"`
	MaxTokens    int                      `json:"max_tokens,omitempty"`
	SystemPrompt string                   `json:"system_prompt,omitempty"`
	Model        string                   `json:"model,omitempty"` // overrides the client's default model
	// UsageReporter receives this request's token accounting. Carrying it
	// per request keeps attribution correct when one client serves
	// concurrent sessions.
	UsageReporter UsageReporter `json:"-"`
}

// CompletionResponse represents a completion response.
type CompletionResponse struct {
	Content    string                   `json:"content"`
	ToolCalls  []map[string]interface{} `json:"tool_calls,omitempty"`
	StopReason string                   `json:"stop_reason"`
	Usage      map[string]interface{}   `json:"usage,omitempty"`
}

// StreamFunc receives the cumulative response text after every delta.
type StreamFunc func(cumulative string) error

// Client is the interface for LLM clients.
type Client interface {
	// CompleteWithRequest sends a completion request and returns the response.
	CompleteWithRequest(ctx context.Context, req *CompletionRequest) (*CompletionResponse, error)
	// Complete is a simplified version for a single prompt.
	Complete(ctx context.Context, prompt string) (string, error)
	// Stream sends a streaming completion request, invoking callback with the
	// accumulated text after each delta, and returns the final text.
	Stream(ctx context.Context, req *CompletionRequest, callback StreamFunc) (string, error)
	// GetModelName returns the default model name.
	GetModelName() string
}

// UsageReporter receives token accounting after each completed call.
// Reporting is observational only and must never affect control flow.
type UsageReporter interface {
	ReportUsage(totalTokens int)
}
