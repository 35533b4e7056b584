package agent

import (
	"context"

	"github.com/openpista/openpista/pkg/models"
)

// ChatRequest is the provider-agnostic input to a Provider's Chat call.
type ChatRequest struct {
	Messages []models.ChatMessage
	Tools    []models.ToolDefinition
	Model    string
}

// ChatResponseKind tags a ChatResponse's variant. A provider never returns
// both Text and ToolCalls populated for a given Kind.
type ChatResponseKind string

const (
	ChatResponseText      ChatResponseKind = "text"
	ChatResponseToolCalls ChatResponseKind = "tool_calls"
)

// ChatResponse is the sum type `{Text(string, TokenUsage) |
// ToolCalls([]ToolCall, TokenUsage)}` from spec §9. Callers switch on Kind.
type ChatResponse struct {
	Kind      ChatResponseKind
	Text      string
	ToolCalls []models.ToolCall
	Usage     models.TokenUsage
}

// Provider is the capability set the runtime requires of an LLM backend:
// chat(request) -> (ChatResponse, error). Concrete implementations
// (message-blocks, response-items) live in internal/agent/providers.
type Provider interface {
	// Name identifies the provider for logging and provider-switch lookups.
	Name() string

	// Chat sends messages and tool definitions to the provider and returns
	// either plain text or a batch of tool calls. Implementations must
	// return *LlmError for every failure path named in spec §7.
	Chat(ctx context.Context, req ChatRequest) (ChatResponse, error)
}
