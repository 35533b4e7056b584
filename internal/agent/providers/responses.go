package providers

import (
	"bufio"
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
	responsesDefaultBaseURL = "https://api.openai.com/v1/responses"
	chatgptBaseURL          = "https://chatgpt.com/backend-api/codex"
	responsesOriginator     = "codex_cli_rs"
)

type responsesRequest struct {
	Model        string          `json:"model"`
	Instructions string          `json:"instructions,omitempty"`
	Input        []inputItem     `json:"input"`
	Tools        []responsesTool `json:"tools,omitempty"`
	Store        bool            `json:"store"`
	Stream       bool            `json:"stream,omitempty"`
}

type responsesTool struct {
	Type        string          `json:"type"`
	Name        string          `json:"name"`
	Description string          `json:"description,omitempty"`
	Parameters  json.RawMessage `json:"parameters,omitempty"`
}

// inputItem is a heterogeneous item in the request's input array: a
// message (role + content parts) or a flattened function_call /
// function_call_output item. Only the fields relevant to the item's Type
// are populated.
type inputItem struct {
	Type string `json:"type,omitempty"`

	// message. Content is a bare string for a user message but a typed
	// content-part array for an assistant message, so it is encoded as
	// raw JSON rather than a fixed Go type.
	Role    string          `json:"role,omitempty"`
	Content json.RawMessage `json:"content,omitempty"`

	// function_call
	CallID    string `json:"call_id,omitempty"`
	Name      string `json:"name,omitempty"`
	Arguments string `json:"arguments,omitempty"`

	// function_call_output
	Output string `json:"output,omitempty"`
}

// textContent encodes a user message's content as a bare JSON string, per
// spec: `{role: user, content: <text>}`.
func textContent(text string) json.RawMessage {
	encoded, _ := json.Marshal(text)
	return encoded
}

// outputTextContent encodes an assistant message's content as a typed
// content-part array: `[{type: output_text, text}]`.
func outputTextContent(text string) json.RawMessage {
	encoded, _ := json.Marshal([]contentPart{{Type: "output_text", Text: text}})
	return encoded
}

type contentPart struct {
	Type string `json:"type"`
	Text string `json:"text,omitempty"`
}

type responsesResponse struct {
	Output []outputItem `json:"output"`
}

// outputItem is the tagged union {message | function_call} for response
// parsing.
type outputItem struct {
	Type string `json:"type"`

	// message
	Content []contentPart `json:"content,omitempty"`

	// function_call
	CallID    string `json:"call_id,omitempty"`
	Name      string `json:"name,omitempty"`
	Arguments string `json:"arguments,omitempty"`
}

// responsesWrapped is the `{response: {...}}` SSE shape; responsesResponse
// itself is the "direct" shape.
type responsesWrapped struct {
	Response responsesResponse `json:"response"`
}

// ResponsesApiProvider talks to an OpenAI Responses-style API, including
// the streaming SSE variant used by the ChatGPT backend. Hand-rolled over
// net/http for the same reason as AnthropicProvider: the SSE state machine
// and flattened function_call items need raw control the go-openai SDK
// does not expose for this endpoint shape (see DESIGN.md).
type ResponsesApiProvider struct {
	httpClient       *http.Client
	apiKey           string
	baseURL          string
	chatgptAccountID string
}

// NewResponsesApiProvider constructs a provider bound to apiKey. baseURL
// defaults to the production API when empty.
func NewResponsesApiProvider(apiKey, baseURL string) (*ResponsesApiProvider, error) {
	if apiKey == "" {
		return nil, agent.ApiError("responses: api key is required")
	}
	if baseURL == "" {
		baseURL = responsesDefaultBaseURL
	}
	return &ResponsesApiProvider{
		httpClient: &http.Client{Timeout: 120 * time.Second},
		apiKey:     apiKey,
		baseURL:    baseURL,
	}, nil
}

// WithChatGPTAccountID switches the provider to the ChatGPT backend
// endpoint when baseURL is still the default, and forces streaming
// responses (the ChatGPT backend does not support the non-streaming form).
func (p *ResponsesApiProvider) WithChatGPTAccountID(accountID string) *ResponsesApiProvider {
	p.chatgptAccountID = accountID
	if accountID != "" && p.baseURL == responsesDefaultBaseURL {
		p.baseURL = chatgptBaseURL
	}
	return p
}

// Name implements agent.Provider.
func (p *ResponsesApiProvider) Name() string { return "responses" }

// Chat implements agent.Provider.
func (p *ResponsesApiProvider) Chat(ctx context.Context, req agent.ChatRequest) (agent.ChatResponse, error) {
	nameMap, err := ToolNameMap(req.Tools)
	if err != nil {
		return agent.ChatResponse{}, err
	}

	tools := make([]responsesTool, 0, len(req.Tools))
	for _, t := range req.Tools {
		tools = append(tools, responsesTool{
			Type:        "function",
			Name:        Sanitize(t.Name),
			Description: t.Description,
			Parameters:  t.Parameters,
		})
	}

	instructions, input := convertToResponsesInput(req.Messages)
	stream := p.chatgptAccountID != ""

	body := responsesRequest{
		Model:        req.Model,
		Instructions: instructions,
		Input:        input,
		Tools:        tools,
		Store:        false,
		Stream:       stream,
	}

	payload, err := json.Marshal(body)
	if err != nil {
		return agent.ChatResponse{}, agent.WrapLlmError(agent.KindAPI, "", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, p.baseURL, bytes.NewReader(payload))
	if err != nil {
		return agent.ChatResponse{}, agent.WrapLlmError(agent.KindAPI, "", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+p.apiKey)
	httpReq.Header.Set("originator", responsesOriginator)
	if p.chatgptAccountID != "" {
		httpReq.Header.Set("chatgpt-account-id", p.chatgptAccountID)
	}

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
		return agent.ChatResponse{}, agent.RateLimitError("responses: rate limited")
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return agent.ChatResponse{}, parseResponsesError(resp.StatusCode, respBody)
	}

	var wire responsesResponse
	if stream {
		wire, err = parseSSEResponse(respBody)
	} else {
		err = json.Unmarshal(respBody, &wire)
	}
	if err != nil {
		if lerr, ok := agent.GetLlmError(err); ok {
			return agent.ChatResponse{}, lerr
		}
		return agent.ChatResponse{}, agent.InvalidResponseError(
			fmt.Sprintf("responses: could not decode response body: %s", agent.TruncateBody(string(respBody), 300)))
	}

	// The Responses-style adapter has no token accounting; always report
	// a zero TokenUsage (spec §4.3 "non-streaming response parsing").
	var calls []models.ToolCall
	for _, item := range wire.Output {
		if item.Type != "function_call" {
			continue
		}
		var args json.RawMessage
		if err := json.Unmarshal([]byte(item.Arguments), &args); err != nil {
			args = json.RawMessage(`{}`)
		}
		calls = append(calls, models.ToolCall{
			ID:        item.CallID,
			Name:      ReverseLookup(nameMap, item.Name),
			Arguments: args,
		})
	}
	if len(calls) > 0 {
		return agent.ChatResponse{Kind: agent.ChatResponseToolCalls, ToolCalls: calls}, nil
	}

	var text strings.Builder
	for _, item := range wire.Output {
		if item.Type != "message" {
			continue
		}
		for _, part := range item.Content {
			if part.Type == "output_text" {
				text.WriteString(part.Text)
			}
		}
	}
	return agent.ChatResponse{Kind: agent.ChatResponseText, Text: text.String()}, nil
}

// convertToResponsesInput extracts System messages into instructions and
// converts the remainder per spec §4.3: assistant tool calls flatten into
// one function_call item per call; tool messages become
// function_call_output items.
func convertToResponsesInput(history []models.ChatMessage) (string, []inputItem) {
	var instrParts []string
	out := make([]inputItem, 0, len(history))

	for _, m := range history {
		switch m.Role {
		case models.RoleSystem:
			instrParts = append(instrParts, m.Content)

		case models.RoleUser:
			out = append(out, inputItem{Role: "user", Content: textContent(m.Content)})

		case models.RoleAssistant:
			if len(m.ToolCalls) > 0 {
				for _, tc := range m.ToolCalls {
					args := tc.Arguments
					if len(args) == 0 {
						args = json.RawMessage("{}")
					}
					out = append(out, inputItem{
						Type:      "function_call",
						CallID:    tc.ID,
						Name:      Sanitize(tc.Name),
						Arguments: string(args),
					})
				}
			} else {
				out = append(out, inputItem{Role: "assistant", Content: outputTextContent(m.Content)})
			}

		case models.RoleTool:
			callID := m.ToolCallID
			if callID == "" {
				callID = "unknown"
			}
			out = append(out, inputItem{Type: "function_call_output", CallID: callID, Output: m.Content})
		}
	}

	return strings.Join(instrParts, "\n"), out
}

func parseResponsesError(status int, body []byte) *agent.LlmError {
	var standard struct {
		Error struct {
			Message string `json:"message"`
		} `json:"error"`
	}
	var chatgpt struct {
		Detail string `json:"detail"`
	}

	msg := ""
	if err := json.Unmarshal(body, &standard); err == nil && standard.Error.Message != "" {
		msg = standard.Error.Message
	} else if err := json.Unmarshal(body, &chatgpt); err == nil && chatgpt.Detail != "" {
		msg = chatgpt.Detail
	} else {
		return agent.ApiError("responses: HTTP %d: %s", status, agent.TruncateBody(string(body), 500))
	}

	msg = agent.TruncateBody(msg, 500)
	lower := strings.ToLower(msg)
	switch {
	case strings.Contains(lower, "billing") || strings.Contains(lower, "quota"):
		msg += " (check your OpenAI billing)"
	case strings.Contains(lower, "model") && (strings.Contains(lower, "not supported") || strings.Contains(lower, "not found")):
		msg += " (model unavailable)"
	case strings.Contains(lower, "auth"):
		msg += " (try logging in again)"
	}
	return agent.ApiError("responses: %s", msg)
}

// parseSSEResponse implements the state machine from spec §4.3/§9: frames
// separated by blank lines, each with event:/data: lines; the terminal
// `response.completed` event's data is either wrapped ({response:{...}})
// or direct ({output:[...]}). A fallback scan tries every data: line in
// both shapes before giving up, since providers occasionally emit the
// output item inside a non-completed event.
func parseSSEResponse(body []byte) (responsesResponse, error) {
	const terminalEvent = "response.completed"

	scanner := bufio.NewScanner(bytes.NewReader(body))
	scanner.Buffer(make([]byte, 0, 64*1024), 10*1024*1024)

	var currentEvent string
	var dataBuffer []string
	var committed string
	var allDataLines []string

	commit := func() {
		if currentEvent == terminalEvent && len(dataBuffer) > 0 {
			committed = strings.Join(dataBuffer, "\n")
		}
		currentEvent = ""
		dataBuffer = nil
	}

	for scanner.Scan() {
		line := scanner.Text()
		switch {
		case strings.HasPrefix(line, "event:"):
			currentEvent = strings.TrimSpace(strings.TrimPrefix(line, "event:"))
		case strings.HasPrefix(line, "data:"):
			d := strings.TrimSpace(strings.TrimPrefix(line, "data:"))
			dataBuffer = append(dataBuffer, d)
			allDataLines = append(allDataLines, d)
		case strings.TrimSpace(line) == "":
			commit()
		}
	}
	// Trailing event without a terminating blank line.
	if currentEvent != "" {
		commit()
	}

	if committed != "" {
		if resp, ok := tryParseSSEPayload(committed); ok {
			return resp, nil
		}
	}

	// Fallback scan over every data: line seen, in either shape.
	for _, d := range allDataLines {
		if resp, ok := tryParseSSEPayload(d); ok {
			return resp, nil
		}
	}

	return responsesResponse{}, agent.InvalidResponseError(
		fmt.Sprintf("No valid response found in SSE stream; body: %s", agent.TruncateBody(string(body), 300)))
}

func tryParseSSEPayload(data string) (responsesResponse, bool) {
	var wrapped responsesWrapped
	if err := json.Unmarshal([]byte(data), &wrapped); err == nil && len(wrapped.Response.Output) > 0 {
		return wrapped.Response, true
	}
	var direct responsesResponse
	if err := json.Unmarshal([]byte(data), &direct); err == nil && len(direct.Output) > 0 {
		return direct, true
	}
	return responsesResponse{}, false
}
