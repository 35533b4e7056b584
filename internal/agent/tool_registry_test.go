package agent

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/openpista/openpista/pkg/models"
)

type stubTool struct {
	name   string
	result models.ToolResult
	err    error
}

func (s *stubTool) Name() string                 { return s.name }
func (s *stubTool) Description() string          { return "stub" }
func (s *stubTool) Schema() json.RawMessage      { return json.RawMessage(`{}`) }
func (s *stubTool) Execute(ctx context.Context, args json.RawMessage) (models.ToolResult, error) {
	return s.result, s.err
}

func TestToolRegistry_RegisterAndExecute(t *testing.T) {
	r := NewToolRegistry()
	r.Register(&stubTool{name: "bash", result: models.ToolResult{Output: "ok"}})

	got := r.Execute(context.Background(), "call-1", "bash", json.RawMessage(`{}`))
	if got.IsError {
		t.Fatalf("unexpected error result: %+v", got)
	}
	if got.Output != "ok" || got.CallID != "call-1" || got.ToolName != "bash" {
		t.Errorf("result = %+v", got)
	}
}

func TestToolRegistry_UnknownTool(t *testing.T) {
	r := NewToolRegistry()
	got := r.Execute(context.Background(), "call-1", "missing", json.RawMessage(`{}`))
	if !got.IsError {
		t.Fatal("expected is_error for unknown tool")
	}
}

func TestToolRegistry_ExecuteErrorIsNotPropagated(t *testing.T) {
	r := NewToolRegistry()
	r.Register(&stubTool{name: "flaky", err: errors.New("boom")})
	got := r.Execute(context.Background(), "call-1", "flaky", json.RawMessage(`{}`))
	if !got.IsError || got.Output != "boom" {
		t.Errorf("result = %+v", got)
	}
}

func TestPreprocessToolArgs_ContainerRun(t *testing.T) {
	args := json.RawMessage(`{"allow_subprocess_fallback":true,"cmd":"ls"}`)
	got := preprocessToolArgs("container.run", args)

	var obj map[string]any
	if err := json.Unmarshal(got, &obj); err != nil {
		t.Fatal(err)
	}
	if obj["allow_subprocess_fallback"] != false {
		t.Errorf("allow_subprocess_fallback = %v, want false", obj["allow_subprocess_fallback"])
	}
	if obj["cmd"] != "ls" {
		t.Errorf("other fields should survive, got %+v", obj)
	}
}

func TestPreprocessToolArgs_OtherToolsUntouched(t *testing.T) {
	args := json.RawMessage(`{"allow_subprocess_fallback":true}`)
	got := preprocessToolArgs("bash", args)
	if string(got) != string(args) {
		t.Errorf("non-container.run args should pass through verbatim, got %s", got)
	}
}

func TestToolRegistry_Definitions(t *testing.T) {
	r := NewToolRegistry()
	r.Register(&stubTool{name: "bash"})
	r.Register(&stubTool{name: "screen"})
	defs := r.Definitions()
	if len(defs) != 2 {
		t.Fatalf("expected 2 definitions, got %d", len(defs))
	}
}
