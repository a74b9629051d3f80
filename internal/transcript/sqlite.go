// Package transcript records completed chat exchanges in SQLite.
// The log is append-only and is never used to rebuild in-memory history.
package transcript

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
	_ "github.com/mattn/go-sqlite3"
)

const schema = `
CREATE TABLE IF NOT EXISTS exchanges (
	id                TEXT PRIMARY KEY,
	conversation_id   TEXT NOT NULL,
	user_message      TEXT NOT NULL,
	assistant_message TEXT NOT NULL,
	provider          TEXT NOT NULL,
	model             TEXT NOT NULL,
	prompt_tokens     INTEGER NOT NULL DEFAULT 0,
	completion_tokens INTEGER NOT NULL DEFAULT 0,
	created_at        INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_exchanges_conversation ON exchanges(conversation_id, created_at);
`

// Exchange is one user message and the reply it produced
type Exchange struct {
	ID               string    `json:"id"`
	ConversationID   string    `json:"conversation_id"`
	UserMessage      string    `json:"user_message"`
	AssistantMessage string    `json:"assistant_message"`
	Provider         string    `json:"provider"`
	Model            string    `json:"model"`
	PromptTokens     int       `json:"prompt_tokens"`
	CompletionTokens int       `json:"completion_tokens"`
	CreatedAt        time.Time `json:"created_at"`
}

// Store writes exchanges to a SQLite database
type Store struct {
	db *sql.DB
}

// Open opens (and migrates) the transcript database at path
func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("opening transcript database: %w", err)
	}

	// Enable WAL mode for better concurrent access
	if _, err := db.Exec("PRAGMA journal_mode = WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enabling WAL mode: %w", err)
	}

	// Set busy timeout to handle lock contention gracefully
	if _, err := db.Exec("PRAGMA busy_timeout = 5000"); err != nil {
		db.Close()
		return nil, fmt.Errorf("setting busy timeout: %w", err)
	}

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("creating transcript schema: %w", err)
	}

	return &Store{db: db}, nil
}

// Close closes the database connection
func (s *Store) Close() error {
	return s.db.Close()
}

// Record inserts an exchange, assigning an ID and timestamp when unset
func (s *Store) Record(ctx context.Context, ex *Exchange) error {
	if ex.ID == "" {
		ex.ID = uuid.NewString()
	}
	if ex.CreatedAt.IsZero() {
		ex.CreatedAt = time.Now()
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO exchanges (id, conversation_id, user_message, assistant_message, provider, model, prompt_tokens, completion_tokens, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, ex.ID, ex.ConversationID, ex.UserMessage, ex.AssistantMessage, ex.Provider, ex.Model,
		ex.PromptTokens, ex.CompletionTokens, ex.CreatedAt.UnixNano())
	if err != nil {
		return fmt.Errorf("recording exchange: %w", err)
	}
	return nil
}

// Recent returns up to limit of the newest exchanges of a conversation,
// oldest first
func (s *Store) Recent(ctx context.Context, conversationID string, limit int) ([]Exchange, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, conversation_id, user_message, assistant_message, provider, model, prompt_tokens, completion_tokens, created_at
		FROM (
			SELECT * FROM exchanges WHERE conversation_id = ?
			ORDER BY created_at DESC LIMIT ?
		) ORDER BY created_at ASC
	`, conversationID, limit)
	if err != nil {
		return nil, fmt.Errorf("querying exchanges: %w", err)
	}
	defer rows.Close()

	var out []Exchange
	for rows.Next() {
		var ex Exchange
		var createdAt int64
		if err := rows.Scan(&ex.ID, &ex.ConversationID, &ex.UserMessage, &ex.AssistantMessage,
			&ex.Provider, &ex.Model, &ex.PromptTokens, &ex.CompletionTokens, &createdAt); err != nil {
			return nil, fmt.Errorf("scanning exchange: %w", err)
		}
		ex.CreatedAt = time.Unix(0, createdAt)
		out = append(out, ex)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating exchanges: %w", err)
	}
	return out, nil
}

// Count returns the number of recorded exchanges
func (s *Store) Count(ctx context.Context) (int, error) {
	var n int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM exchanges`).Scan(&n); err != nil {
		return 0, fmt.Errorf("counting exchanges: %w", err)
	}
	return n, nil
}
