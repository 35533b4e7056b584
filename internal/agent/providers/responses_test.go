package providers

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/openpista/openpista/internal/agent"
	"github.com/openpista/openpista/pkg/models"
)

func TestConvertToResponsesInput_Flattening(t *testing.T) {
	// S3 from spec.md §8: one assistant message with 2 tool calls plus one
	// prior user message produces an input array of length 3.
	history := []models.ChatMessage{
		{Role: models.RoleUser, Content: "go"},
		{Role: models.RoleAssistant, ToolCalls: []models.ToolCall{
			{ID: "tc1", Name: "bash", Arguments: json.RawMessage(`{"command":"ls"}`)},
			{ID: "tc2", Name: "screen", Arguments: json.RawMessage(`{}`)},
		}},
	}
	_, input := convertToResponsesInput(history)
	if len(input) != 3 {
		t.Fatalf("expected 3 input items, got %d", len(input))
	}
	if input[1].Type != "function_call" || input[2].Type != "function_call" {
		t.Errorf("expected flattened function_call items, got %+v / %+v", input[1], input[2])
	}
}

func TestConvertToResponsesInput_UserContentIsBareString(t *testing.T) {
	history := []models.ChatMessage{{Role: models.RoleUser, Content: "test message"}}
	_, input := convertToResponsesInput(history)
	if len(input) != 1 {
		t.Fatalf("expected 1 input item, got %d", len(input))
	}

	encoded, err := json.Marshal(input[0])
	if err != nil {
		t.Fatal(err)
	}
	var decoded map[string]any
	if err := json.Unmarshal(encoded, &decoded); err != nil {
		t.Fatal(err)
	}
	if decoded["content"] != "test message" {
		t.Errorf("expected content to be the bare string %q, got %#v", "test message", decoded["content"])
	}
}

func TestConvertToResponsesInput_Empty(t *testing.T) {
	_, input := convertToResponsesInput(nil)
	if len(input) != 0 {
		t.Errorf("expected empty input array, got %d", len(input))
	}
}

func TestConvertToResponsesInput_ToolMessageUnknownCallID(t *testing.T) {
	history := []models.ChatMessage{
		{Role: models.RoleTool, Content: "ok"},
	}
	_, input := convertToResponsesInput(history)
	if len(input) != 1 || input[0].CallID != "unknown" {
		t.Errorf("expected call_id 'unknown', got %+v", input)
	}
}

func TestParseSSEResponse_Wrapped(t *testing.T) {
	// S4 from spec.md §8.
	body := []byte("event: response.completed\n" +
		`data: {"response":{"output":[{"type":"message","content":[{"type":"output_text","text":"wrapped"}]}]}}` +
		"\n\n")

	resp, err := parseSSEResponse(body)
	if err != nil {
		t.Fatal(err)
	}
	if len(resp.Output) != 1 || resp.Output[0].Content[0].Text != "wrapped" {
		t.Errorf("resp = %+v", resp)
	}
}

func TestParseSSEResponse_Direct(t *testing.T) {
	body := []byte("event: response.completed\n" +
		`data: {"output":[{"type":"message","content":[{"type":"output_text","text":"direct"}]}]}` +
		"\n\n")

	resp, err := parseSSEResponse(body)
	if err != nil {
		t.Fatal(err)
	}
	if len(resp.Output) != 1 || resp.Output[0].Content[0].Text != "direct" {
		t.Errorf("resp = %+v", resp)
	}
}

func TestParseSSEResponse_TrailingEventNoBlankLine(t *testing.T) {
	body := []byte("event: response.completed\n" +
		`data: {"output":[{"type":"message","content":[{"type":"output_text","text":"trailing"}]}]}`)

	resp, err := parseSSEResponse(body)
	if err != nil {
		t.Fatal(err)
	}
	if len(resp.Output) != 1 || resp.Output[0].Content[0].Text != "trailing" {
		t.Errorf("resp = %+v", resp)
	}
}

func TestParseSSEResponse_FallbackScan(t *testing.T) {
	body := []byte("event: response.in_progress\n" +
		`data: {"output":[{"type":"message","content":[{"type":"output_text","text":"fallback"}]}]}` +
		"\n\n" +
		"event: response.completed\ndata: {}\n\n")

	resp, err := parseSSEResponse(body)
	if err != nil {
		t.Fatal(err)
	}
	if len(resp.Output) != 1 || resp.Output[0].Content[0].Text != "fallback" {
		t.Errorf("resp = %+v", resp)
	}
}

func TestParseSSEResponse_NoValidResponse(t *testing.T) {
	body := []byte("event: response.in_progress\ndata: {\"noise\":true}\n\n")
	_, err := parseSSEResponse(body)
	if !agent.IsKind(err, agent.KindInvalidResponse) {
		t.Fatalf("expected KindInvalidResponse, got %v", err)
	}
}

func TestResponsesApiProvider_ToolNameCollision(t *testing.T) {
	p, err := NewResponsesApiProvider("sk-test", "")
	if err != nil {
		t.Fatal(err)
	}
	_, err = p.Chat(context.Background(), agent.ChatRequest{
		Model:    "gpt-x",
		Messages: []models.ChatMessage{{Role: models.RoleUser, Content: "hi"}},
		Tools:    []models.ToolDefinition{{Name: "a.b"}, {Name: "a_b"}},
	})
	if !agent.IsKind(err, agent.KindAPI) {
		t.Fatalf("expected KindAPI collision error, got %v", err)
	}
}

func TestResponsesApiProvider_NonStreaming(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(responsesResponse{
			Output: []outputItem{
				{Type: "message", Content: []contentPart{{Type: "output_text", Text: "hello"}}},
			},
		})
	}))
	defer server.Close()

	p, _ := NewResponsesApiProvider("sk-test", server.URL)
	resp, err := p.Chat(context.Background(), agent.ChatRequest{
		Model:    "gpt-x",
		Messages: []models.ChatMessage{{Role: models.RoleUser, Content: "hi"}},
	})
	if err != nil {
		t.Fatal(err)
	}
	if resp.Kind != agent.ChatResponseText || resp.Text != "hello" {
		t.Errorf("resp = %+v", resp)
	}
}

func TestResponsesApiProvider_ChatGPTEndpointSwitch(t *testing.T) {
	p, _ := NewResponsesApiProvider("sk-test", "")
	p.WithChatGPTAccountID("acct-123")
	if p.baseURL != chatgptBaseURL {
		t.Errorf("baseURL = %q, want ChatGPT backend", p.baseURL)
	}

	custom, _ := NewResponsesApiProvider("sk-test", "https://custom.example.com")
	custom.WithChatGPTAccountID("acct-123")
	if custom.baseURL != "https://custom.example.com" {
		t.Errorf("custom baseURL should be preserved, got %q", custom.baseURL)
	}
}

func TestResponsesApiProvider_RateLimit(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	defer server.Close()

	p, _ := NewResponsesApiProvider("sk-test", server.URL)
	_, err := p.Chat(context.Background(), agent.ChatRequest{
		Model:    "gpt-x",
		Messages: []models.ChatMessage{{Role: models.RoleUser, Content: "hi"}},
	})
	if !agent.IsKind(err, agent.KindRateLimit) {
		t.Fatalf("expected KindRateLimit, got %v", err)
	}
}
