package store

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"

	_ "github.com/mattn/go-sqlite3"

	"github.com/flealive/flealive/reply"
)

// defaultMaxHistory bounds the transcript window handed to the reply
// engine.
const defaultMaxHistory = 100

// SQLite is the Store implementation backing the daemon.
type SQLite struct {
	db         *sql.DB
	maxHistory int
}

// Open opens (creating if needed) the SQLite database at dbPath.
func Open(dbPath string) (*SQLite, error) {
	if dir := filepath.Dir(dbPath); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("store: create data dir: %w", err)
		}
	}
	db, err := sql.Open("sqlite3", dbPath)
	if err != nil {
		return nil, fmt.Errorf("store: open database: %w", err)
	}
	if err := createTables(db); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("store: create tables: %w", err)
	}
	return &SQLite{db: db, maxHistory: defaultMaxHistory}, nil
}

// Close closes the database connection.
func (s *SQLite) Close() error {
	return s.db.Close()
}

func createTables(db *sql.DB) error {
	schema := `
	CREATE TABLE IF NOT EXISTS messages (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		conversation_id TEXT NOT NULL,
		role TEXT NOT NULL,
		content TEXT NOT NULL,
		created_at DATETIME DEFAULT CURRENT_TIMESTAMP
	);
	CREATE INDEX IF NOT EXISTS idx_messages_conversation ON messages(conversation_id);

	CREATE TABLE IF NOT EXISTS conversations (
		conversation_id TEXT PRIMARY KEY,
		is_handover INTEGER DEFAULT 0,
		started_at DATETIME DEFAULT CURRENT_TIMESTAMP,
		updated_at DATETIME DEFAULT CURRENT_TIMESTAMP
	);
	`
	_, err := db.Exec(schema)
	return err
}

// RecordMessage appends a turn and touches the conversation row.
func (s *SQLite) RecordMessage(ctx context.Context, conversationID, role, text string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("store: begin: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx,
		`INSERT INTO conversations (conversation_id) VALUES (?)
		 ON CONFLICT(conversation_id) DO UPDATE SET updated_at = CURRENT_TIMESTAMP`,
		conversationID,
	); err != nil {
		return fmt.Errorf("store: upsert conversation: %w", err)
	}
	if _, err := tx.ExecContext(ctx,
		`INSERT INTO messages (conversation_id, role, content) VALUES (?, ?, ?)`,
		conversationID, role, text,
	); err != nil {
		return fmt.Errorf("store: insert message: %w", err)
	}
	return tx.Commit()
}

// History returns up to limit most recent turns, oldest first. limit <= 0
// uses the store's default window.
func (s *SQLite) History(ctx context.Context, conversationID string, limit int) ([]reply.Turn, error) {
	if limit <= 0 {
		limit = s.maxHistory
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT role, content FROM (
			SELECT id, role, content FROM messages
			WHERE conversation_id = ?
			ORDER BY id DESC LIMIT ?
		) ORDER BY id ASC`,
		conversationID, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("store: query history: %w", err)
	}
	defer rows.Close()

	var turns []reply.Turn
	for rows.Next() {
		var t reply.Turn
		if err := rows.Scan(&t.Role, &t.Content); err != nil {
			return nil, fmt.Errorf("store: scan history: %w", err)
		}
		turns = append(turns, t)
	}
	return turns, rows.Err()
}

// IsHandover reports the persistent handover flag.
func (s *SQLite) IsHandover(ctx context.Context, conversationID string) (bool, error) {
	var flag int
	err := s.db.QueryRowContext(ctx,
		`SELECT is_handover FROM conversations WHERE conversation_id = ?`,
		conversationID,
	).Scan(&flag)
	if err == sql.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("store: query handover: %w", err)
	}
	return flag != 0, nil
}

// SetHandover sets the persistent handover flag.
func (s *SQLite) SetHandover(ctx context.Context, conversationID string, handover bool) error {
	flag := 0
	if handover {
		flag = 1
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO conversations (conversation_id, is_handover) VALUES (?, ?)
		 ON CONFLICT(conversation_id) DO UPDATE SET is_handover = excluded.is_handover, updated_at = CURRENT_TIMESTAMP`,
		conversationID, flag,
	)
	if err != nil {
		return fmt.Errorf("store: set handover: %w", err)
	}
	return nil
}
