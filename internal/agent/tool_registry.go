package agent

import (
	"context"
	"encoding/json"
	"sort"
	"sync"

	"github.com/openpista/openpista/pkg/models"
)

// Tool parameter limits to prevent resource exhaustion.
const (
	// MaxToolNameLength is the maximum length of a tool name.
	MaxToolNameLength = 256

	// MaxToolArgsSize is the maximum size of tool arguments JSON (10MB).
	MaxToolArgsSize = 10 << 20
)

// Tool is a single tool's definition plus its executor.
type Tool interface {
	Name() string
	Description() string
	Schema() json.RawMessage
	Execute(ctx context.Context, args json.RawMessage) (models.ToolResult, error)
}

// ToolRegistry manages available tools with thread-safe registration and
// lookup. It fulfills the "Tool registry contract (consumed)" in spec §6:
// definitions() returns a stable list for a given registry instance, and
// execute() never returns an exception for a tool-side failure — it
// reports ToolResult{is_error: true} instead.
type ToolRegistry struct {
	mu    sync.RWMutex
	tools map[string]Tool
}

// NewToolRegistry creates a new empty tool registry ready for registration.
func NewToolRegistry() *ToolRegistry {
	return &ToolRegistry{tools: make(map[string]Tool)}
}

// Register adds a tool to the registry by its name, replacing any existing
// tool registered under the same name.
func (r *ToolRegistry) Register(tool Tool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.tools[tool.Name()] = tool
}

// Unregister removes a tool from the registry by name.
func (r *ToolRegistry) Unregister(name string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.tools, name)
}

// Get returns a tool by name and whether it was found.
func (r *ToolRegistry) Get(name string) (Tool, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	tool, ok := r.tools[name]
	return tool, ok
}

// Definitions returns the stable list of tool definitions, sorted by name,
// for passing to a provider adapter.
func (r *ToolRegistry) Definitions() []models.ToolDefinition {
	r.mu.RLock()
	defer r.mu.RUnlock()
	defs := make([]models.ToolDefinition, 0, len(r.tools))
	for _, t := range r.tools {
		defs = append(defs, models.ToolDefinition{
			Name:        t.Name(),
			Description: t.Description(),
			Parameters:  t.Schema(),
		})
	}
	sort.Slice(defs, func(i, j int) bool { return defs[i].Name < defs[j].Name })
	return defs
}

// Execute runs a tool by name with the given JSON arguments. Failures —
// including an unknown tool name, an oversized name/argument payload, or a
// tool-side error — are reported as ToolResult{IsError: true} rather than
// a returned error, per spec §6.
func (r *ToolRegistry) Execute(ctx context.Context, callID, name string, args json.RawMessage) models.ToolResult {
	if len(name) > MaxToolNameLength {
		return models.ToolResult{CallID: callID, ToolName: name, IsError: true,
			Output: "tool name exceeds maximum length"}
	}
	if len(args) > MaxToolArgsSize {
		return models.ToolResult{CallID: callID, ToolName: name, IsError: true,
			Output: "tool arguments exceed maximum size"}
	}

	r.mu.RLock()
	tool, ok := r.tools[name]
	r.mu.RUnlock()
	if !ok {
		return models.ToolResult{CallID: callID, ToolName: name, IsError: true,
			Output: "tool not found: " + name}
	}

	args = preprocessToolArgs(name, args)

	result, err := tool.Execute(ctx, args)
	if err != nil {
		return models.ToolResult{CallID: callID, ToolName: name, IsError: true, Output: err.Error()}
	}
	result.CallID = callID
	result.ToolName = name
	return result
}

// preprocessToolArgs applies the single hard-wired argument rewrite rule
// from spec §4.1.1: container.run always runs with
// allow_subprocess_fallback=false, overriding any model-supplied value.
func preprocessToolArgs(name string, args json.RawMessage) json.RawMessage {
	if name != "container.run" || len(args) == 0 {
		return args
	}

	var obj map[string]any
	if err := json.Unmarshal(args, &obj); err != nil {
		return args
	}
	obj["allow_subprocess_fallback"] = false
	rewritten, err := json.Marshal(obj)
	if err != nil {
		return args
	}
	return rewritten
}
