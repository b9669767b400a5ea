package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"sync"

	"github.com/kakaiking/anita/internal/logger"
	"github.com/kakaiking/anita/internal/session"
)

// Tool is one capability exposed to the model through function calling.
type Tool interface {
	Name() string
	Description() string
	// Parameters returns the JSON schema of the arguments object.
	Parameters() map[string]interface{}
	Execute(ctx context.Context, args map[string]interface{}, sc *SessionContext) *ToolResult
}

// SessionContext carries the per-session state a tool may need: the owning
// session (ask_user pauses it) and the execution context id used for
// working-directory tracking.
type SessionContext struct {
	Session   *session.Session
	ContextID string
	// ActiveFile is the workspace-relative path the user is focused on,
	// offered as the suggestion when a write names a missing file.
	ActiveFile string
}

// ToolResult is the uniform outcome of a tool execution.
type ToolResult struct {
	Success bool
	// Data holds tool-specific result fields, flattened into the payload
	// next to success/error.
	Data map[string]interface{}
	// Error is set when Success is false.
	Error string
	// Declined marks a command refused by the approval policy. The
	// executor treats it as cancelled, not as a failure to repair.
	Declined bool
	// Cancelled marks an execution aborted by a stop request. It leads
	// to a stopped session and never triggers repair.
	Cancelled bool
}

// Ok builds a successful result.
func Ok(data map[string]interface{}) *ToolResult {
	return &ToolResult{Success: true, Data: data}
}

// Fail builds a failed result.
func Fail(format string, args ...interface{}) *ToolResult {
	return &ToolResult{Error: fmt.Sprintf(format, args...)}
}

// Encode renders the result as the JSON payload fed back to the model.
func (r *ToolResult) Encode() string {
	payload := map[string]interface{}{"success": r.Success}
	for k, v := range r.Data {
		payload[k] = v
	}
	if r.Error != "" {
		payload["error"] = r.Error
	}

	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Sprintf(`{"success":false,"error":"unencodable result: %v"}`, err)
	}
	return string(data)
}

// Registry holds the registered tools and dispatches calls to them.
type Registry struct {
	mu    sync.RWMutex
	tools map[string]Tool
	order []string
}

func NewRegistry() *Registry {
	return &Registry{tools: make(map[string]Tool)}
}

// Register adds a tool. Re-registering a name replaces the old tool.
func (r *Registry) Register(tool Tool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.tools[tool.Name()]; !exists {
		r.order = append(r.order, tool.Name())
	}
	r.tools[tool.Name()] = tool
}

func (r *Registry) Get(name string) (Tool, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	tool, ok := r.tools[name]
	return tool, ok
}

// Names returns the registered tool names in registration order.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return append([]string(nil), r.order...)
}

// Schemas returns the function-calling schema of every registered tool,
// in registration order.
func (r *Registry) Schemas() []map[string]interface{} {
	r.mu.RLock()
	defer r.mu.RUnlock()

	schemas := make([]map[string]interface{}, 0, len(r.order))
	for _, name := range r.order {
		tool := r.tools[name]
		schemas = append(schemas, map[string]interface{}{
			"type": "function",
			"function": map[string]interface{}{
				"name":        tool.Name(),
				"description": tool.Description(),
				"parameters":  tool.Parameters(),
			},
		})
	}
	return schemas
}

// Execute dispatches one call. Unknown tools report the available names so
// the model can correct itself.
func (r *Registry) Execute(ctx context.Context, name string, args map[string]interface{}, sc *SessionContext) *ToolResult {
	tool, ok := r.Get(name)
	if !ok {
		available := r.Names()
		sort.Strings(available)
		return &ToolResult{
			Error: fmt.Sprintf("unknown tool: %s", name),
			Data:  map[string]interface{}{"available_tools": available},
		}
	}

	logger.Debug("tools: executing %s", name)
	result := tool.Execute(ctx, args, sc)
	if result == nil {
		result = Fail("tool %s returned no result", name)
	}
	if !result.Success && result.Error != "" {
		logger.Debug("tools: %s failed: %s", name, result.Error)
	}
	return result
}

func stringArg(args map[string]interface{}, key string) string {
	if s, ok := args[key].(string); ok {
		return s
	}
	return ""
}
