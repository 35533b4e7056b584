// Package sessions implements the session memory contract from spec §6:
// persisting and loading messages, touching session timestamps, and
// listing/deleting sessions. Two implementations are provided: an
// in-memory store (memory.go, for tests and local runs) and a SQLite-backed
// durable store (sqlite.go).
package sessions

import (
	"context"
	"time"

	"github.com/openpista/openpista/pkg/models"
)

// Store is the session memory contract consumed by the agent runtime.
type Store interface {
	// EnsureSession creates the session if absent; idempotent otherwise.
	EnsureSession(ctx context.Context, sessionID, channelID string) error

	// SaveMessage appends msg to the session's history. Append-only: no
	// update or delete of an individual message is supported.
	SaveMessage(ctx context.Context, msg models.AgentMessage) error

	// LoadSession returns the session's messages in insertion order.
	LoadSession(ctx context.Context, sessionID string) ([]models.AgentMessage, error)

	// TouchSession updates the session's updated_at field to now.
	TouchSession(ctx context.Context, sessionID string) error

	// ListSessions returns a summary per session for UI sidebars.
	ListSessions(ctx context.Context) ([]SessionSummary, error)

	// DeleteSession removes the session and all its messages.
	DeleteSession(ctx context.Context, sessionID string) error
}

// SessionSummary is one row of ListSessions' result: session id, channel
// id, last-updated time, and a short preview of the first line of content.
type SessionSummary struct {
	SessionID string
	ChannelID string
	UpdatedAt time.Time
	Preview   string
}
