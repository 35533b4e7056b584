package sessions

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/openpista/openpista/pkg/models"
)

const schema = `
CREATE TABLE IF NOT EXISTS sessions (
	id TEXT PRIMARY KEY,
	channel_id TEXT NOT NULL,
	updated_at DATETIME NOT NULL
);
CREATE TABLE IF NOT EXISTS messages (
	session_id TEXT NOT NULL,
	seq INTEGER NOT NULL,
	role TEXT NOT NULL,
	content TEXT NOT NULL,
	tool_call_id TEXT,
	tool_name TEXT,
	tool_calls TEXT,
	created_at DATETIME NOT NULL,
	PRIMARY KEY (session_id, seq)
);
`

// SQLiteStore is the durable Store implementation, backed by
// github.com/mattn/go-sqlite3. Every query is scoped to a single
// *sql.DB connection pool; callers needing per-session exclusivity rely on
// the upper layer serializing calls for the same session (spec §5).
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore opens (creating if absent) the database at path and
// applies the schema.
func NewSQLiteStore(path string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite database: %w", err)
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("apply sqlite schema: %w", err)
	}
	return &SQLiteStore{db: db}, nil
}

// Close releases the underlying database connection.
func (s *SQLiteStore) Close() error { return s.db.Close() }

// EnsureSession implements Store.
func (s *SQLiteStore) EnsureSession(ctx context.Context, sessionID, channelID string) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO sessions (id, channel_id, updated_at) VALUES (?, ?, ?)
		 ON CONFLICT(id) DO NOTHING`,
		sessionID, channelID, time.Now().UTC())
	return err
}

// SaveMessage implements Store.
func (s *SQLiteStore) SaveMessage(ctx context.Context, msg models.AgentMessage) error {
	if err := s.EnsureSession(ctx, msg.SessionID, ""); err != nil {
		return err
	}

	var toolCalls string
	if len(msg.ToolCalls) > 0 {
		b, err := json.Marshal(msg.ToolCalls)
		if err != nil {
			return fmt.Errorf("encode tool_calls: %w", err)
		}
		toolCalls = string(b)
	}
	if msg.CreatedAt.IsZero() {
		msg.CreatedAt = time.Now().UTC()
	}

	var nextSeq int
	row := s.db.QueryRowContext(ctx, `SELECT COALESCE(MAX(seq), -1) + 1 FROM messages WHERE session_id = ?`, msg.SessionID)
	if err := row.Scan(&nextSeq); err != nil {
		return fmt.Errorf("compute next message seq: %w", err)
	}

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO messages (session_id, seq, role, content, tool_call_id, tool_name, tool_calls, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		msg.SessionID, nextSeq, string(msg.Role), msg.Content, msg.ToolCallID, msg.ToolName, toolCalls, msg.CreatedAt)
	return err
}

// LoadSession implements Store, returning messages in insertion order.
func (s *SQLiteStore) LoadSession(ctx context.Context, sessionID string) ([]models.AgentMessage, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT role, content, tool_call_id, tool_name, tool_calls, created_at
		 FROM messages WHERE session_id = ? ORDER BY seq ASC`, sessionID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []models.AgentMessage
	for rows.Next() {
		var (
			role, content                       string
			toolCallID, toolName, toolCallsJSON sql.NullString
			createdAt                           time.Time
		)
		if err := rows.Scan(&role, &content, &toolCallID, &toolName, &toolCallsJSON, &createdAt); err != nil {
			return nil, err
		}
		msg := models.AgentMessage{
			SessionID:  sessionID,
			Role:       models.Role(role),
			Content:    content,
			ToolCallID: toolCallID.String,
			ToolName:   toolName.String,
			CreatedAt:  createdAt,
		}
		if toolCallsJSON.Valid && toolCallsJSON.String != "" {
			if err := json.Unmarshal([]byte(toolCallsJSON.String), &msg.ToolCalls); err != nil {
				return nil, fmt.Errorf("decode tool_calls: %w", err)
			}
		}
		out = append(out, msg)
	}
	return out, rows.Err()
}

// TouchSession implements Store.
func (s *SQLiteStore) TouchSession(ctx context.Context, sessionID string) error {
	_, err := s.db.ExecContext(ctx, `UPDATE sessions SET updated_at = ? WHERE id = ?`, time.Now().UTC(), sessionID)
	return err
}

// ListSessions implements Store.
func (s *SQLiteStore) ListSessions(ctx context.Context) ([]SessionSummary, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT id, channel_id, updated_at FROM sessions ORDER BY updated_at DESC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []SessionSummary
	for rows.Next() {
		var summary SessionSummary
		if err := rows.Scan(&summary.SessionID, &summary.ChannelID, &summary.UpdatedAt); err != nil {
			return nil, err
		}
		summary.Preview, err = s.firstLinePreview(ctx, summary.SessionID)
		if err != nil {
			return nil, err
		}
		out = append(out, summary)
	}
	return out, rows.Err()
}

func (s *SQLiteStore) firstLinePreview(ctx context.Context, sessionID string) (string, error) {
	var content sql.NullString
	row := s.db.QueryRowContext(ctx,
		`SELECT content FROM messages WHERE session_id = ? AND content != '' ORDER BY seq ASC LIMIT 1`, sessionID)
	if err := row.Scan(&content); err != nil {
		if err == sql.ErrNoRows {
			return "", nil
		}
		return "", err
	}
	for i, r := range content.String {
		if r == '\n' {
			return content.String[:i], nil
		}
	}
	return content.String, nil
}

// DeleteSession implements Store.
func (s *SQLiteStore) DeleteSession(ctx context.Context, sessionID string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `DELETE FROM messages WHERE session_id = ?`, sessionID); err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM sessions WHERE id = ?`, sessionID); err != nil {
		return err
	}
	return tx.Commit()
}
