package models

import (
	"encoding/json"
	"time"
)

// ChannelType identifies the transport a ChannelEvent arrived on.
type ChannelType string

const (
	ChannelMobile ChannelType = "mobile"
	ChannelCLI    ChannelType = "cli"
)

// Role indicates the author of a ChatMessage or AgentMessage.
type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleTool      Role = "tool"
)

// ToolCall is a structured intent emitted by a model asking the runtime to
// execute a named tool with JSON arguments. ID is adapter-opaque; Name is
// the internal canonical tool name and may contain characters a given wire
// format forbids (see providers.Sanitize).
type ToolCall struct {
	ID        string          `json:"id"`
	Name      string          `json:"name"`
	Arguments json.RawMessage `json:"arguments"`
}

// ToolResult is the response delivered back to the model for a previously
// issued ToolCall, keyed by call id. Output is opaque text that may exceed
// what the model can consume in one turn; callers that truncate it for the
// model must still persist the untruncated form.
type ToolResult struct {
	CallID   string `json:"call_id"`
	ToolName string `json:"tool_name"`
	Output   string `json:"output"`
	IsError  bool   `json:"is_error,omitempty"`
}

// ChatMessage is the in-memory conversation unit exchanged with a provider
// adapter. An Assistant message must have Content populated, a non-empty
// ToolCalls list, or both (providers differ on whether they emit text
// alongside tool calls). A Tool message must carry ToolCallID and ToolName.
type ChatMessage struct {
	Role       Role       `json:"role"`
	Content    string     `json:"content"`
	ToolCallID string     `json:"tool_call_id,omitempty"`
	ToolName   string     `json:"tool_name,omitempty"`
	ToolCalls  []ToolCall `json:"tool_calls,omitempty"`
}

// AgentMessage is the persisted form of a ChatMessage: the same fields plus
// a SessionID and implicit insertion order. Created when the runtime
// persists a ReAct step; never mutated after insertion, removed only by
// session deletion.
type AgentMessage struct {
	SessionID  string     `json:"session_id"`
	Role       Role       `json:"role"`
	Content    string     `json:"content"`
	ToolCallID string     `json:"tool_call_id,omitempty"`
	ToolName   string     `json:"tool_name,omitempty"`
	ToolCalls  []ToolCall `json:"tool_calls,omitempty"`
	CreatedAt  time.Time  `json:"created_at"`
}

// ToolDefinition describes a tool available to the model. Immutable for the
// lifetime of a registry.
type ToolDefinition struct {
	Name        string          `json:"name"`
	Description string          `json:"description"`
	Parameters  json.RawMessage `json:"parameters"`
}

// TokenUsage reports per-call token accounting. Not every provider adapter
// populates both fields accurately (the Responses-style adapter has no
// token accounting and always reports zeros).
type TokenUsage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
}

// Add accumulates u2 into u and returns the result.
func (u TokenUsage) Add(u2 TokenUsage) TokenUsage {
	return TokenUsage{
		PromptTokens:     u.PromptTokens + u2.PromptTokens,
		CompletionTokens: u.CompletionTokens + u2.CompletionTokens,
	}
}

// ChannelEvent is what a channel adapter enqueues for the gateway to
// dispatch to the Agent Runtime.
type ChannelEvent struct {
	ChannelID   string         `json:"channel_id"`
	SessionID   string         `json:"session_id"`
	UserMessage string         `json:"user_message"`
	Metadata    map[string]any `json:"metadata,omitempty"`
}

// AgentResponse is the runtime's answer to a ChannelEvent, routed back to
// the originating adapter by matching ChannelID.
type AgentResponse struct {
	ChannelID string `json:"channel_id"`
	SessionID string `json:"session_id"`
	Content   string `json:"content"`
	IsError   bool   `json:"is_error,omitempty"`
}

// ProgressEventKind tags a ProgressEvent's variant.
type ProgressEventKind string

const (
	ProgressLlmThinking     ProgressEventKind = "llm_thinking"
	ProgressToolCallStarted ProgressEventKind = "tool_call_started"
	ProgressToolCallFinished ProgressEventKind = "tool_call_finished"
)

// ProgressEvent is a best-effort mid-ReAct notification so a UI can show
// thinking/tool-run state. It is a tagged union: callers switch on Kind and
// read only the fields that variant populates.
type ProgressEvent struct {
	Kind ProgressEventKind `json:"kind"`

	// LlmThinking
	Round int `json:"round,omitempty"`

	// ToolCallStarted / ToolCallFinished
	CallID   string `json:"call_id,omitempty"`
	ToolName string `json:"tool_name,omitempty"`
	Args     string `json:"args,omitempty"`
	Output   string `json:"output,omitempty"`
	IsError  bool   `json:"is_error,omitempty"`
}
