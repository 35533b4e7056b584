package providers

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/openpista/openpista/internal/agent"
	"github.com/openpista/openpista/pkg/models"
)

const (
	anthropicAPIVersion     = "2023-06-01"
	anthropicMaxTokens      = 16000
	anthropicThinkingBudget = 10000
	anthropicOAuthBeta      = "oauth-2025-04-20"
	anthropicThinkingBeta   = "interleaved-thinking-2025-05-14"
	anthropicOAuthPrefix    = "sk-ant-oat01-"
)

// anthropicRequest is the wire request body for the Messages API.
type anthropicRequest struct {
	Model     string             `json:"model"`
	MaxTokens int                `json:"max_tokens"`
	System    string             `json:"system,omitempty"`
	Messages  []anthropicMessage `json:"messages"`
	Tools     []anthropicTool    `json:"tools,omitempty"`
	Thinking  *anthropicThinking `json:"thinking,omitempty"`
}

type anthropicThinking struct {
	Type         string `json:"type"`
	BudgetTokens int    `json:"budget_tokens"`
}

// anthropicMessage's Content is either a plain string or a []contentBlock;
// we always emit the richer block form once a message needs blocks and a
// plain string otherwise, matching the untagged union the API accepts.
type anthropicMessage struct {
	Role    string `json:"role"`
	Content any    `json:"content"`
}

// contentBlock is the tagged union {text | thinking | tool_use |
// tool_result}. Implementations must preserve Type across (de)serialization.
type contentBlock struct {
	Type      string          `json:"type"`
	Text      string          `json:"text,omitempty"`
	Thinking  string          `json:"thinking,omitempty"`
	ID        string          `json:"id,omitempty"`
	Name      string          `json:"name,omitempty"`
	Input     json.RawMessage `json:"input,omitempty"`
	ToolUseID string          `json:"tool_use_id,omitempty"`
	Content   string          `json:"content,omitempty"`
}

type anthropicTool struct {
	Name        string          `json:"name"`
	Description string          `json:"description,omitempty"`
	InputSchema json.RawMessage `json:"input_schema"`
}

type anthropicUsage struct {
	InputTokens  int `json:"input_tokens"`
	OutputTokens int `json:"output_tokens"`
}

type anthropicResponse struct {
	Content    []contentBlock `json:"content"`
	StopReason string         `json:"stop_reason"`
	Usage      anthropicUsage `json:"usage"`
}

type anthropicErrorBody struct {
	Error struct {
		Type    string `json:"type"`
		Message string `json:"message"`
	} `json:"error"`
}

// AnthropicProvider talks to the Anthropic Messages API using its raw
// message/content-blocks wire format. It is hand-rolled over net/http
// rather than anthropic-sdk-go because the sanitization, collision
// detection, and orphan-repair rules operate directly on content blocks
// the SDK does not expose uninterpreted (see DESIGN.md).
type AnthropicProvider struct {
	httpClient *http.Client
	apiKey     string
	baseURL    string
}

// NewAnthropicProvider constructs a provider bound to apiKey. baseURL
// defaults to the production API when empty.
func NewAnthropicProvider(apiKey, baseURL string) (*AnthropicProvider, error) {
	if apiKey == "" {
		return nil, agent.ApiError("anthropic: api key is required")
	}
	if baseURL == "" {
		baseURL = "https://api.anthropic.com"
	}
	return &AnthropicProvider{
		httpClient: &http.Client{Timeout: 120 * time.Second},
		apiKey:     apiKey,
		baseURL:    strings.TrimRight(baseURL, "/"),
	}, nil
}

// Name implements agent.Provider.
func (p *AnthropicProvider) Name() string { return "anthropic" }

// Chat implements agent.Provider.
func (p *AnthropicProvider) Chat(ctx context.Context, req agent.ChatRequest) (agent.ChatResponse, error) {
	nameMap, err := ToolNameMap(req.Tools)
	if err != nil {
		return agent.ChatResponse{}, err
	}

	tools := make([]anthropicTool, 0, len(req.Tools))
	for _, t := range req.Tools {
		tools = append(tools, anthropicTool{
			Name:        Sanitize(t.Name),
			Description: t.Description,
			InputSchema: t.Parameters,
		})
	}

	system, messages := convertToAnthropicMessages(req.Messages)
	repairOrphanToolUse(messages)

	body := anthropicRequest{
		Model:     req.Model,
		MaxTokens: anthropicMaxTokens,
		System:    system,
		Messages:  messages,
		Tools:     tools,
		Thinking: &anthropicThinking{
			Type:         "enabled",
			BudgetTokens: anthropicThinkingBudget,
		},
	}

	payload, err := json.Marshal(body)
	if err != nil {
		return agent.ChatResponse{}, agent.WrapLlmError(agent.KindAPI, "", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, p.baseURL+"/v1/messages", bytes.NewReader(payload))
	if err != nil {
		return agent.ChatResponse{}, agent.WrapLlmError(agent.KindAPI, "", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("anthropic-version", anthropicAPIVersion)
	p.setAuthHeaders(httpReq)

	resp, err := p.httpClient.Do(httpReq)
	if err != nil {
		return agent.ChatResponse{}, agent.WrapLlmError(agent.KindAPI, "", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return agent.ChatResponse{}, agent.WrapLlmError(agent.KindAPI, "", err)
	}

	if resp.StatusCode == http.StatusTooManyRequests {
		return agent.ChatResponse{}, agent.RateLimitError("anthropic: rate limited")
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return agent.ChatResponse{}, parseAnthropicError(resp.StatusCode, respBody)
	}

	var wire anthropicResponse
	if err := json.Unmarshal(respBody, &wire); err != nil {
		return agent.ChatResponse{}, agent.InvalidResponseError(
			fmt.Sprintf("anthropic: could not decode response body: %s", agent.TruncateBody(string(respBody), 300)))
	}

	usage := models.TokenUsage{PromptTokens: wire.Usage.InputTokens, CompletionTokens: wire.Usage.OutputTokens}

	if wire.StopReason == "tool_use" {
		var calls []models.ToolCall
		for _, b := range wire.Content {
			if b.Type != "tool_use" {
				continue
			}
			calls = append(calls, models.ToolCall{
				ID:        b.ID,
				Name:      ReverseLookup(nameMap, b.Name),
				Arguments: b.Input,
			})
		}
		return agent.ChatResponse{Kind: agent.ChatResponseToolCalls, ToolCalls: calls, Usage: usage}, nil
	}

	var text strings.Builder
	for _, b := range wire.Content {
		if b.Type == "text" {
			text.WriteString(b.Text)
		}
	}
	return agent.ChatResponse{Kind: agent.ChatResponseText, Text: text.String(), Usage: usage}, nil
}

func (p *AnthropicProvider) setAuthHeaders(req *http.Request) {
	if strings.HasPrefix(p.apiKey, anthropicOAuthPrefix) {
		req.Header.Set("Authorization", "Bearer "+p.apiKey)
		req.Header.Set("anthropic-beta", anthropicOAuthBeta+","+anthropicThinkingBeta)
		return
	}
	req.Header.Set("x-api-key", p.apiKey)
	req.Header.Set("anthropic-beta", anthropicThinkingBeta)
}

// convertToAnthropicMessages extracts System messages into a joined string
// and converts the remainder per spec §4.2. Tool messages merge into the
// last message iff it is role:user with block content; the wire format
// forbids two consecutive same-role messages.
func convertToAnthropicMessages(history []models.ChatMessage) (string, []anthropicMessage) {
	var systemParts []string
	out := make([]anthropicMessage, 0, len(history))

	for _, m := range history {
		switch m.Role {
		case models.RoleSystem:
			systemParts = append(systemParts, m.Content)

		case models.RoleUser:
			out = append(out, anthropicMessage{Role: "user", Content: m.Content})

		case models.RoleAssistant:
			if len(m.ToolCalls) > 0 {
				blocks := make([]contentBlock, 0, len(m.ToolCalls))
				for _, tc := range m.ToolCalls {
					blocks = append(blocks, contentBlock{
						Type:  "tool_use",
						ID:    tc.ID,
						Name:  Sanitize(tc.Name),
						Input: tc.Arguments,
					})
				}
				out = append(out, anthropicMessage{Role: "assistant", Content: blocks})
			} else {
				out = append(out, anthropicMessage{Role: "assistant", Content: m.Content})
			}

		case models.RoleTool:
			block := contentBlock{Type: "tool_result", ToolUseID: m.ToolCallID, Content: m.Content}
			if merged, ok := mergeIntoLastUserBlocks(out, block); ok {
				out = merged
				continue
			}
			out = append(out, anthropicMessage{Role: "user", Content: []contentBlock{block}})
		}
	}

	return strings.Join(systemParts, "\n"), out
}

// mergeIntoLastUserBlocks appends block to the last message's block list
// iff that message is role:user and already carries block content; the
// wire format forbids two consecutive user messages, so a tool_result that
// immediately follows another tool_result (or a prior tool_use turn) must
// merge rather than start a new message.
func mergeIntoLastUserBlocks(out []anthropicMessage, block contentBlock) ([]anthropicMessage, bool) {
	if len(out) == 0 {
		return out, false
	}
	last := &out[len(out)-1]
	if last.Role != "user" {
		return out, false
	}
	blocks, ok := last.Content.([]contentBlock)
	if !ok {
		return out, false
	}
	last.Content = append(blocks, block)
	return out, true
}

// repairOrphanToolUse replaces the content of any assistant message whose
// tool_use blocks have no matching tool_result in any user message of the
// history with an empty text string, preserving message ordering. This repairs histories
// replayed from a different provider that dropped tool results.
func repairOrphanToolUse(messages []anthropicMessage) {
	resulted := make(map[string]bool)
	for _, m := range messages {
		if m.Role != "user" {
			continue
		}
		blocks, ok := m.Content.([]contentBlock)
		if !ok {
			continue
		}
		for _, b := range blocks {
			if b.Type == "tool_result" {
				resulted[b.ToolUseID] = true
			}
		}
	}

	for i := range messages {
		if messages[i].Role != "assistant" {
			continue
		}
		blocks, ok := messages[i].Content.([]contentBlock)
		if !ok {
			continue
		}
		orphan := false
		for _, b := range blocks {
			if b.Type == "tool_use" && !resulted[b.ID] {
				orphan = true
				break
			}
		}
		if orphan {
			messages[i].Content = ""
		}
	}
}

func parseAnthropicError(status int, body []byte) *agent.LlmError {
	var e anthropicErrorBody
	if err := json.Unmarshal(body, &e); err != nil {
		return agent.InvalidResponseError(fmt.Sprintf("anthropic: could not decode response body: %s", agent.TruncateBody(string(body), 300)))
	}

	msg := agent.TruncateBody(e.Error.Message, 500)
	if e.Error.Type == "authentication_error" {
		msg += " (try logging in again)"
	}
	if strings.Contains(msg, "credit balance") {
		msg += " (check your Anthropic billing)"
	}
	return agent.ApiError("anthropic: %s", msg)
}
