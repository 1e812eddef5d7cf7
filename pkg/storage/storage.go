// Package storage is the persistence collaborator for the router: a
// SQLite-backed message log plus the conversation-context query the
// reasoning path needs.
package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
	_ "github.com/mattn/go-sqlite3"

	"github.com/pulsebot/pulse/pkg/logger"
	"github.com/pulsebot/pulse/pkg/router"
)

const schema = `
CREATE TABLE IF NOT EXISTS messages (
	id              TEXT PRIMARY KEY,
	conversation_id TEXT NOT NULL,
	role            TEXT NOT NULL,
	content         TEXT NOT NULL,
	metadata        TEXT NOT NULL DEFAULT '{}',
	created_at      TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
);
CREATE INDEX IF NOT EXISTS idx_messages_conversation
	ON messages (conversation_id, created_at);
`

// Store is the SQLite-backed message store.
type Store struct {
	db *sql.DB
}

// Open opens (and migrates) the database at path. Use ":memory:" for an
// ephemeral store.
func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("storage: open %s: %w", path, err)
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("storage: migrate: %w", err)
	}

	logger.InfoCF("storage", "Message store opened", map[string]interface{}{"path": path})
	return &Store{db: db}, nil
}

// Close releases the database handle.
func (s *Store) Close() error {
	return s.db.Close()
}

// SaveMessage persists one message and returns its id.
func (s *Store) SaveMessage(ctx context.Context, conversationID, content, role string, metadata map[string]string) (string, error) {
	if conversationID == "" {
		return "", fmt.Errorf("storage: empty conversation id")
	}
	if role == "" {
		role = "user"
	}

	meta := "{}"
	if len(metadata) > 0 {
		raw, err := json.Marshal(metadata)
		if err != nil {
			return "", fmt.Errorf("storage: encode metadata: %w", err)
		}
		meta = string(raw)
	}

	id := uuid.NewString()
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO messages (id, conversation_id, role, content, metadata) VALUES (?, ?, ?, ?, ?)`,
		id, conversationID, role, content, meta,
	)
	if err != nil {
		return "", fmt.Errorf("storage: insert message: %w", err)
	}
	return id, nil
}

// GetContext returns the most recent turns of a conversation, oldest
// first, shaped for the reasoning collaborator.
func (s *Store) GetContext(ctx context.Context, conversationID string, limit int) ([]router.ContextMessage, error) {
	if limit <= 0 {
		limit = 20
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT role, content FROM (
			SELECT role, content, rowid AS rid FROM messages
			WHERE conversation_id = ?
			ORDER BY rid DESC LIMIT ?
		) ORDER BY rid ASC`,
		conversationID, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("storage: query context: %w", err)
	}
	defer rows.Close()

	var history []router.ContextMessage
	for rows.Next() {
		var m router.ContextMessage
		if err := rows.Scan(&m.Role, &m.Content); err != nil {
			return nil, fmt.Errorf("storage: scan: %w", err)
		}
		history = append(history, m)
	}
	return history, rows.Err()
}

// MessageCount reports how many messages a conversation holds.
func (s *Store) MessageCount(ctx context.Context, conversationID string) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM messages WHERE conversation_id = ?`, conversationID,
	).Scan(&n)
	return n, err
}

// Compile-time verification of the router collaborator contracts.
var (
	_ router.Store           = (*Store)(nil)
	_ router.ContextProvider = (*Store)(nil)
)
