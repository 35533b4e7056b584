package providers

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/openpista/openpista/internal/agent"
	"github.com/openpista/openpista/pkg/models"
)

func TestConvertToAnthropicMessages_Merging(t *testing.T) {
	// S1 from spec.md §8: two tool calls in one assistant turn, two tool
	// results, must merge into a single trailing user message.
	history := []models.ChatMessage{
		{Role: models.RoleUser, Content: "go"},
		{Role: models.RoleAssistant, ToolCalls: []models.ToolCall{
			{ID: "tc1", Name: "bash", Arguments: json.RawMessage(`{"command":"ls"}`)},
			{ID: "tc2", Name: "screen", Arguments: json.RawMessage(`{}`)},
		}},
		{Role: models.RoleTool, ToolCallID: "tc1", ToolName: "bash", Content: "ok"},
		{Role: models.RoleTool, ToolCallID: "tc2", ToolName: "screen", Content: "ok"},
	}

	_, wire := convertToAnthropicMessages(history)
	if len(wire) != 3 {
		t.Fatalf("expected 3 wire messages, got %d", len(wire))
	}
	if wire[0].Role != "user" || wire[0].Content != "go" {
		t.Errorf("message 0 = %+v", wire[0])
	}
	if wire[1].Role != "assistant" {
		t.Errorf("message 1 role = %s", wire[1].Role)
	}
	if wire[2].Role != "user" {
		t.Errorf("message 2 role = %s", wire[2].Role)
	}
	blocks, ok := wire[2].Content.([]contentBlock)
	if !ok || len(blocks) != 2 {
		t.Fatalf("message 2 content = %+v", wire[2].Content)
	}
	if blocks[0].ToolUseID != "tc1" || blocks[1].ToolUseID != "tc2" {
		t.Errorf("merged blocks = %+v", blocks)
	}
}

func TestConvertToAnthropicMessages_ToolResultFirst(t *testing.T) {
	history := []models.ChatMessage{
		{Role: models.RoleTool, ToolCallID: "tc1", ToolName: "bash", Content: "ok"},
	}
	_, wire := convertToAnthropicMessages(history)
	if len(wire) != 1 || wire[0].Role != "user" {
		t.Fatalf("expected single user message, got %+v", wire)
	}
	blocks, ok := wire[0].Content.([]contentBlock)
	if !ok || len(blocks) != 1 {
		t.Fatalf("expected single tool_result block, got %+v", wire[0].Content)
	}
}

func TestConvertToAnthropicMessages_Empty(t *testing.T) {
	_, wire := convertToAnthropicMessages(nil)
	if len(wire) != 0 {
		t.Errorf("expected empty outgoing message list, got %d", len(wire))
	}
}

func TestRepairOrphanToolUse(t *testing.T) {
	messages := []anthropicMessage{
		{Role: "user", Content: "go"},
		{Role: "assistant", Content: []contentBlock{{Type: "tool_use", ID: "tc1", Name: "bash"}}},
		// no tool_result for tc1 anywhere
	}
	repairOrphanToolUse(messages)
	if messages[1].Content != "" {
		t.Errorf("expected orphaned assistant message replaced with empty text, got %+v", messages[1].Content)
	}
}

func TestRepairOrphanToolUse_NotOrphan(t *testing.T) {
	messages := []anthropicMessage{
		{Role: "assistant", Content: []contentBlock{{Type: "tool_use", ID: "tc1", Name: "bash"}}},
		{Role: "user", Content: []contentBlock{{Type: "tool_result", ToolUseID: "tc1", Content: "ok"}}},
	}
	repairOrphanToolUse(messages)
	if _, ok := messages[0].Content.([]contentBlock); !ok {
		t.Errorf("expected non-orphaned assistant message untouched, got %+v", messages[0].Content)
	}
}

func TestAnthropicProvider_ToolNameCollision(t *testing.T) {
	p, err := NewAnthropicProvider("sk-ant-test", "")
	if err != nil {
		t.Fatal(err)
	}
	req := agent.ChatRequest{
		Model:    "claude-x",
		Messages: []models.ChatMessage{{Role: models.RoleUser, Content: "hi"}},
		Tools: []models.ToolDefinition{
			{Name: "a.b"},
			{Name: "a_b"},
		},
	}
	_, err = p.Chat(context.Background(), req)
	if err == nil || !agent.IsKind(err, agent.KindAPI) {
		t.Fatalf("expected KindAPI collision error, got %v", err)
	}
}

func TestAnthropicProvider_AuthHeaders(t *testing.T) {
	var gotAuth, gotBeta, gotAPIKey string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		gotBeta = r.Header.Get("anthropic-beta")
		gotAPIKey = r.Header.Get("x-api-key")
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(anthropicResponse{
			Content:    []contentBlock{{Type: "text", Text: "hi"}},
			StopReason: "end_turn",
		})
	}))
	defer server.Close()

	p, _ := NewAnthropicProvider("sk-ant-oat01-token", server.URL)
	_, err := p.Chat(context.Background(), agent.ChatRequest{
		Model:    "claude-x",
		Messages: []models.ChatMessage{{Role: models.RoleUser, Content: "hi"}},
	})
	if err != nil {
		t.Fatal(err)
	}
	if gotAuth != "Bearer sk-ant-oat01-token" {
		t.Errorf("Authorization = %q", gotAuth)
	}
	if !strings.Contains(gotBeta, anthropicOAuthBeta) {
		t.Errorf("anthropic-beta = %q, want oauth beta", gotBeta)
	}
	if gotAPIKey != "" {
		t.Errorf("x-api-key should be unset for OAuth tokens, got %q", gotAPIKey)
	}
}

func TestAnthropicProvider_RateLimit(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	defer server.Close()

	p, _ := NewAnthropicProvider("sk-ant-test", server.URL)
	_, err := p.Chat(context.Background(), agent.ChatRequest{
		Model:    "claude-x",
		Messages: []models.ChatMessage{{Role: models.RoleUser, Content: "hi"}},
	})
	if !agent.IsKind(err, agent.KindRateLimit) {
		t.Fatalf("expected KindRateLimit, got %v", err)
	}
}

func TestAnthropicProvider_ToolUseResponse(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(anthropicResponse{
			Content: []contentBlock{
				{Type: "tool_use", ID: "tc1", Name: "bash", Input: json.RawMessage(`{"command":"ls"}`)},
			},
			StopReason: "tool_use",
			Usage:      anthropicUsage{InputTokens: 10, OutputTokens: 5},
		})
	}))
	defer server.Close()

	p, _ := NewAnthropicProvider("sk-ant-test", server.URL)
	resp, err := p.Chat(context.Background(), agent.ChatRequest{
		Model:    "claude-x",
		Messages: []models.ChatMessage{{Role: models.RoleUser, Content: "go"}},
		Tools:    []models.ToolDefinition{{Name: "bash"}},
	})
	if err != nil {
		t.Fatal(err)
	}
	if resp.Kind != agent.ChatResponseToolCalls {
		t.Fatalf("expected ToolCalls response, got %v", resp.Kind)
	}
	if len(resp.ToolCalls) != 1 || resp.ToolCalls[0].Name != "bash" {
		t.Errorf("tool calls = %+v", resp.ToolCalls)
	}
	if resp.Usage.PromptTokens != 10 || resp.Usage.CompletionTokens != 5 {
		t.Errorf("usage = %+v", resp.Usage)
	}
}
