package providers

import (
	"encoding/json"
	"testing"

	"github.com/openpista/openpista/internal/agent"
	"github.com/openpista/openpista/pkg/models"
)

func TestSanitize(t *testing.T) {
	tests := []struct {
		name string
		want string
	}{
		{"bash", "bash"},
		{"a.b", "a_b"},
		{"a_b", "a_b"},
		{"container.run", "container_run"},
		{"weird name!?", "weird_name__"},
	}
	for _, tt := range tests {
		if got := Sanitize(tt.name); got != tt.want {
			t.Errorf("Sanitize(%q) = %q, want %q", tt.name, got, tt.want)
		}
	}
}

func TestToolNameMap_Collision(t *testing.T) {
	defs := []models.ToolDefinition{
		{Name: "a.b", Parameters: json.RawMessage(`{}`)},
		{Name: "a_b", Parameters: json.RawMessage(`{}`)},
	}
	_, err := ToolNameMap(defs)
	if err == nil {
		t.Fatal("expected collision error")
	}
	if !agent.IsKind(err, agent.KindAPI) {
		t.Errorf("expected KindAPI, got %v", err)
	}
	want := "Tool name collision: 'a.b' and 'a_b' both sanitize to 'a_b'"
	if err.Error() != want {
		t.Errorf("Error() = %q, want %q", err.Error(), want)
	}
}

func TestToolNameMap_NoCollision(t *testing.T) {
	defs := []models.ToolDefinition{
		{Name: "bash"},
		{Name: "screen"},
	}
	m, err := ToolNameMap(defs)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(m) != 2 {
		t.Fatalf("expected 2 entries, got %d", len(m))
	}
}

func TestReverseLookup_UnknownPassesThrough(t *testing.T) {
	m := map[string]string{"bash": "bash"}
	if got := ReverseLookup(m, "unknown_tool"); got != "unknown_tool" {
		t.Errorf("ReverseLookup unknown = %q, want passthrough", got)
	}
	if got := ReverseLookup(m, "bash"); got != "bash" {
		t.Errorf("ReverseLookup known = %q", got)
	}
}
