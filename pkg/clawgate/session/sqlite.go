package session

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	_ "github.com/mattn/go-sqlite3"
)

const sessionSchema = `
CREATE TABLE IF NOT EXISTS session_turns (
	id         INTEGER PRIMARY KEY AUTOINCREMENT,
	session_id TEXT NOT NULL,
	role       TEXT NOT NULL,
	content    TEXT NOT NULL,
	created_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
);
CREATE INDEX IF NOT EXISTS idx_session_turns_session ON session_turns(session_id, id);
CREATE INDEX IF NOT EXISTS idx_session_turns_created ON session_turns(created_at);
`

// SQLiteStore persists session turn logs in a single SQLite database.
type SQLiteStore struct {
	db         *sql.DB
	maxHistory int
	logger     *slog.Logger
}

// NewSQLiteStore opens (creating if needed) the database at path and applies
// the schema. WAL mode keeps concurrent readers unblocked during appends.
func NewSQLiteStore(path string, maxHistory int, logger *slog.Logger) (*SQLiteStore, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("creating session db directory: %w", err)
	}

	db, err := sql.Open("sqlite3", path+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("opening session db: %w", err)
	}
	if _, err := db.Exec(sessionSchema); err != nil {
		db.Close()
		return nil, fmt.Errorf("applying session schema: %w", err)
	}

	return &SQLiteStore{
		db:         db,
		maxHistory: maxHistory,
		logger:     logger.With("component", "session_store"),
	}, nil
}

// Append inserts the turn and trims the session to the 2×maxHistory most
// recent rows inside one transaction, so readers never observe an
// over-budget log.
func (s *SQLiteStore) Append(ctx context.Context, sessionID string, role Role, content string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning append: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx,
		`INSERT INTO session_turns (session_id, role, content, created_at) VALUES (?, ?, ?, ?)`,
		sessionID, string(role), content, time.Now().UTC(),
	); err != nil {
		return fmt.Errorf("inserting turn: %w", err)
	}

	if _, err := tx.ExecContext(ctx,
		`DELETE FROM session_turns WHERE session_id = ? AND id NOT IN (
			SELECT id FROM session_turns WHERE session_id = ? ORDER BY id DESC LIMIT ?
		)`,
		sessionID, sessionID, 2*s.maxHistory,
	); err != nil {
		return fmt.Errorf("trimming session: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing append: %w", err)
	}
	return nil
}

// History returns the session's turns oldest first.
func (s *SQLiteStore) History(ctx context.Context, sessionID string) ([]Turn, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT role, content, created_at FROM session_turns WHERE session_id = ? ORDER BY id ASC`,
		sessionID,
	)
	if err != nil {
		return nil, fmt.Errorf("querying history: %w", err)
	}
	defer rows.Close()

	var turns []Turn
	for rows.Next() {
		var t Turn
		var role string
		if err := rows.Scan(&role, &t.Content, &t.Timestamp); err != nil {
			return nil, fmt.Errorf("scanning turn: %w", err)
		}
		t.Role = Role(role)
		turns = append(turns, t)
	}
	return turns, rows.Err()
}

// Clear deletes all turns for the session.
func (s *SQLiteStore) Clear(ctx context.Context, sessionID string) error {
	if _, err := s.db.ExecContext(ctx,
		`DELETE FROM session_turns WHERE session_id = ?`, sessionID,
	); err != nil {
		return fmt.Errorf("clearing session: %w", err)
	}
	return nil
}

// Exists reports whether the session has at least one turn.
func (s *SQLiteStore) Exists(ctx context.Context, sessionID string) (bool, error) {
	var one int
	err := s.db.QueryRowContext(ctx,
		`SELECT 1 FROM session_turns WHERE session_id = ? LIMIT 1`, sessionID,
	).Scan(&one)
	if err == sql.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("checking session: %w", err)
	}
	return true, nil
}

// SweepOlderThan deletes turns last written before the cutoff and returns
// the number of rows removed. Used by the retention janitor.
func (s *SQLiteStore) SweepOlderThan(ctx context.Context, cutoff time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM session_turns WHERE session_id IN (
			SELECT session_id FROM session_turns GROUP BY session_id HAVING MAX(created_at) < ?
		)`,
		cutoff.UTC(),
	)
	if err != nil {
		return 0, fmt.Errorf("sweeping sessions: %w", err)
	}
	n, _ := res.RowsAffected()
	return n, nil
}

// Close closes the underlying database.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}
