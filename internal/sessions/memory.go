package sessions

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/openpista/openpista/pkg/models"
)

// maxMessagesPerSession limits messages stored per session to prevent
// unbounded memory growth. When exceeded, old messages are trimmed to
// maintain the limit. This is a storage-layer safety valve, independent of
// the runtime's own max-context-messages trimming for what it sends a
// provider.
const maxMessagesPerSession = 1000

type sessionRecord struct {
	channelID string
	updatedAt time.Time
	messages  []models.AgentMessage
}

// MemoryStore is an in-memory Store implementation for tests and local
// runs. Every read and write clones messages in and out so callers cannot
// mutate state shared with other callers.
type MemoryStore struct {
	mu       sync.RWMutex
	sessions map[string]*sessionRecord
}

// NewMemoryStore creates a new in-memory session store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{sessions: map[string]*sessionRecord{}}
}

// EnsureSession implements Store. Idempotent: a second call for the same
// id is a no-op (spec §8 "ensure_session is idempotent").
func (m *MemoryStore) EnsureSession(ctx context.Context, sessionID, channelID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.sessions[sessionID]; ok {
		return nil
	}
	m.sessions[sessionID] = &sessionRecord{channelID: channelID, updatedAt: time.Now()}
	return nil
}

// SaveMessage implements Store.
func (m *MemoryStore) SaveMessage(ctx context.Context, msg models.AgentMessage) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	rec, ok := m.sessions[msg.SessionID]
	if !ok {
		rec = &sessionRecord{updatedAt: time.Now()}
		m.sessions[msg.SessionID] = rec
	}
	if msg.CreatedAt.IsZero() {
		msg.CreatedAt = time.Now()
	}
	rec.messages = append(rec.messages, cloneMessage(msg))

	if len(rec.messages) > maxMessagesPerSession {
		excess := len(rec.messages) - maxMessagesPerSession
		rec.messages = rec.messages[excess:]
	}
	return nil
}

// LoadSession implements Store, returning messages in insertion order.
func (m *MemoryStore) LoadSession(ctx context.Context, sessionID string) ([]models.AgentMessage, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	rec, ok := m.sessions[sessionID]
	if !ok {
		return nil, nil
	}
	out := make([]models.AgentMessage, len(rec.messages))
	for i, msg := range rec.messages {
		out[i] = cloneMessage(msg)
	}
	return out, nil
}

// TouchSession implements Store.
func (m *MemoryStore) TouchSession(ctx context.Context, sessionID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	rec, ok := m.sessions[sessionID]
	if !ok {
		return nil
	}
	rec.updatedAt = time.Now()
	return nil
}

// ListSessions implements Store.
func (m *MemoryStore) ListSessions(ctx context.Context) ([]SessionSummary, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]SessionSummary, 0, len(m.sessions))
	for id, rec := range m.sessions {
		out = append(out, SessionSummary{
			SessionID: id,
			ChannelID: rec.channelID,
			UpdatedAt: rec.updatedAt,
			Preview:   firstLinePreview(rec.messages),
		})
	}
	return out, nil
}

// DeleteSession implements Store.
func (m *MemoryStore) DeleteSession(ctx context.Context, sessionID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.sessions, sessionID)
	return nil
}

func firstLinePreview(messages []models.AgentMessage) string {
	for _, msg := range messages {
		if msg.Content == "" {
			continue
		}
		line, _, _ := strings.Cut(msg.Content, "\n")
		return line
	}
	return ""
}

// cloneMessage returns a copy of msg with its slice fields deep-copied so
// callers cannot mutate state shared with the stored record.
func cloneMessage(msg models.AgentMessage) models.AgentMessage {
	clone := msg
	if len(msg.ToolCalls) > 0 {
		clone.ToolCalls = append([]models.ToolCall{}, msg.ToolCalls...)
	}
	return clone
}
