package orchestrator

import (
	"context"
	"sync"

	"github.com/kakaiking/anita/internal/llm"
	"github.com/kakaiking/anita/internal/workspace"
)

// scriptedClient plays back canned completions in call order. When the
// script runs out, the last response repeats.
type scriptedClient struct {
	mu        sync.Mutex
	responses []*llm.CompletionResponse
	errs      []error
	requests  []*llm.CompletionRequest
}

func (c *scriptedClient) CompleteWithRequest(ctx context.Context, req *llm.CompletionRequest) (*llm.CompletionResponse, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	i := len(c.requests)
	c.requests = append(c.requests, req)

	if i < len(c.errs) && c.errs[i] != nil {
		return nil, c.errs[i]
	}
	if i < len(c.responses) {
		return c.responses[i], nil
	}
	if len(c.responses) > 0 {
		return c.responses[len(c.responses)-1], nil
	}
	return &llm.CompletionResponse{}, nil
}

func (c *scriptedClient) Complete(ctx context.Context, prompt string) (string, error) {
	resp, err := c.CompleteWithRequest(ctx, &llm.CompletionRequest{
		Messages: []*llm.Message{{Role: "user", Content: prompt}},
	})
	if err != nil {
		return "", err
	}
	return resp.Content, nil
}

func (c *scriptedClient) Stream(ctx context.Context, req *llm.CompletionRequest, callback llm.StreamFunc) (string, error) {
	resp, err := c.CompleteWithRequest(ctx, req)
	if err != nil {
		return "", err
	}
	if callback != nil {
		if err := callback(resp.Content); err != nil {
			return "", err
		}
	}
	return resp.Content, nil
}

func (c *scriptedClient) GetModelName() string { return "scripted" }

func (c *scriptedClient) calls() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.requests)
}

func (c *scriptedClient) request(i int) *llm.CompletionRequest {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.requests[i]
}

// fakeRunner resolves commands from a canned result table. Unknown
// commands succeed. A command equal to blockOn blocks until the context
// is cancelled, signalling blockStarted when it begins.
type fakeRunner struct {
	mu           sync.Mutex
	results      map[string]*workspace.Result
	executed     []string
	blockOn      string
	blockStarted chan struct{}
	root         string
	workDir      string
}

func newFakeRunner() *fakeRunner {
	return &fakeRunner{results: make(map[string]*workspace.Result)}
}

func (f *fakeRunner) Execute(ctx context.Context, contextID, command string) (*workspace.Result, error) {
	f.mu.Lock()
	f.executed = append(f.executed, command)
	block := f.blockOn != "" && command == f.blockOn
	result := f.results[command]
	started := f.blockStarted
	f.mu.Unlock()

	if block {
		if started != nil {
			close(started)
		}
		<-ctx.Done()
		return nil, ctx.Err()
	}
	if result != nil {
		return result, nil
	}
	return &workspace.Result{Success: true}, nil
}

func (f *fakeRunner) WorkingDir(contextID string) string {
	if f.workDir != "" {
		return f.workDir
	}
	return "."
}

func (f *fakeRunner) Root() string {
	if f.root != "" {
		return f.root
	}
	return "."
}

func (f *fakeRunner) ReleaseContext(contextID string) {}

func (f *fakeRunner) commands() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.executed...)
}

// toolCall builds a provider-shaped tool call map.
func toolCall(id, name, arguments string) map[string]interface{} {
	return map[string]interface{}{
		"id":   id,
		"type": "function",
		"function": map[string]interface{}{
			"name":      name,
			"arguments": arguments,
		},
	}
}
