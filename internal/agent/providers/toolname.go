// Package providers implements the two upstream wire adapters the agent
// runtime talks to: a message/blocks API (anthropic.go) and a
// Responses-style input-item/SSE API (responses.go). Both share the tool
// name sanitization and collision-detection rules in this file.
package providers

import (
	"strings"

	"github.com/openpista/openpista/internal/agent"
	"github.com/openpista/openpista/pkg/models"
)

// Sanitize maps every character outside [A-Za-z0-9_-] to '_'. Both wire
// formats restrict tool names to this charset; canonical internal tool
// names may contain '.' or other characters a provider rejects.
func Sanitize(name string) string {
	var b strings.Builder
	b.Grow(len(name))
	for _, r := range name {
		switch {
		case r >= 'A' && r <= 'Z', r >= 'a' && r <= 'z', r >= '0' && r <= '9', r == '_', r == '-':
			b.WriteRune(r)
		default:
			b.WriteByte('_')
		}
	}
	return b.String()
}

// ToolNameMap builds the sanitized-to-original name map for a tool list and
// fails closed on collision: if two distinct original names sanitize to the
// same wire name, the adapter must make no upstream call at all (spec §8
// invariant 3).
func ToolNameMap(defs []models.ToolDefinition) (sanitizedToOriginal map[string]string, err error) {
	sanitizedToOriginal = make(map[string]string, len(defs))
	for _, d := range defs {
		sanitized := Sanitize(d.Name)
		if existing, ok := sanitizedToOriginal[sanitized]; ok && existing != d.Name {
			return nil, agent.ApiError("Tool name collision: '%s' and '%s' both sanitize to '%s'", existing, d.Name, sanitized)
		}
		sanitizedToOriginal[sanitized] = d.Name
	}
	return sanitizedToOriginal, nil
}

// ReverseLookup maps a sanitized name back to its original form. Unknown
// sanitized names (one the map never produced) pass through unchanged, per
// spec §4.2/§4.3 response parsing rules.
func ReverseLookup(m map[string]string, sanitized string) string {
	if original, ok := m[sanitized]; ok {
		return original
	}
	return sanitized
}
