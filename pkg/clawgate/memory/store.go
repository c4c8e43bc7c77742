// Package memory holds per-user long-term memory: a single consolidated
// text blob keyed by user id, written by the extractor and injected into
// the system prompt on every exchange.
package memory

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	_ "github.com/mattn/go-sqlite3"
)

// Store is the long-term memory contract.
type Store interface {
	// Get returns the user's memory blob, or "" when none exists.
	Get(ctx context.Context, userKey string) (string, error)

	// Put replaces the user's memory blob.
	Put(ctx context.Context, userKey, content string) error

	// Delete removes the user's memory. Deleting absent memory is not an
	// error.
	Delete(ctx context.Context, userKey string) error

	// Close releases backend resources.
	Close() error
}

// Config holds memory store settings.
type Config struct {
	// DBPath is the SQLite database file. Empty uses the in-process store.
	DBPath string `yaml:"db_path"`
}

// New opens the configured store, degrading permanently to the in-process
// store when the durable backend cannot be opened.
func New(cfg Config, logger *slog.Logger) Store {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.DBPath != "" {
		store, err := NewSQLiteStore(cfg.DBPath, logger)
		if err == nil {
			logger.Info("memory store ready", "backend", "sqlite", "path", cfg.DBPath)
			return store
		}
		logger.Warn("durable memory store unavailable, falling back to in-process store for the process lifetime",
			"path", cfg.DBPath,
			"error", err,
		)
	}
	return NewMemStore()
}

const memorySchema = `
CREATE TABLE IF NOT EXISTS user_memory (
	user_key   TEXT PRIMARY KEY,
	content    TEXT NOT NULL,
	updated_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
);
`

// SQLiteStore persists user memory in SQLite.
type SQLiteStore struct {
	db     *sql.DB
	logger *slog.Logger
}

// NewSQLiteStore opens (creating if needed) the database at path.
func NewSQLiteStore(path string, logger *slog.Logger) (*SQLiteStore, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("creating memory db directory: %w", err)
	}
	db, err := sql.Open("sqlite3", path+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("opening memory db: %w", err)
	}
	if _, err := db.Exec(memorySchema); err != nil {
		db.Close()
		return nil, fmt.Errorf("applying memory schema: %w", err)
	}
	return &SQLiteStore{db: db, logger: logger.With("component", "memory_store")}, nil
}

// Get returns the user's memory blob, or "" when none exists.
func (s *SQLiteStore) Get(ctx context.Context, userKey string) (string, error) {
	var content string
	err := s.db.QueryRowContext(ctx,
		`SELECT content FROM user_memory WHERE user_key = ?`, userKey,
	).Scan(&content)
	if err == sql.ErrNoRows {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("reading memory: %w", err)
	}
	return content, nil
}

// Put replaces the user's memory blob.
func (s *SQLiteStore) Put(ctx context.Context, userKey, content string) error {
	if _, err := s.db.ExecContext(ctx,
		`INSERT OR REPLACE INTO user_memory (user_key, content, updated_at) VALUES (?, ?, ?)`,
		userKey, content, time.Now().UTC(),
	); err != nil {
		return fmt.Errorf("writing memory: %w", err)
	}
	return nil
}

// Delete removes the user's memory.
func (s *SQLiteStore) Delete(ctx context.Context, userKey string) error {
	if _, err := s.db.ExecContext(ctx,
		`DELETE FROM user_memory WHERE user_key = ?`, userKey,
	); err != nil {
		return fmt.Errorf("deleting memory: %w", err)
	}
	return nil
}

// Close closes the underlying database.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// MemStore is the in-process memory store.
type MemStore struct {
	mu      sync.RWMutex
	entries map[string]string
}

// NewMemStore returns an empty in-process store.
func NewMemStore() *MemStore {
	return &MemStore{entries: make(map[string]string)}
}

func (s *MemStore) Get(_ context.Context, userKey string) (string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.entries[userKey], nil
}

func (s *MemStore) Put(_ context.Context, userKey, content string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries[userKey] = content
	return nil
}

func (s *MemStore) Delete(_ context.Context, userKey string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.entries, userKey)
	return nil
}

func (s *MemStore) Close() error { return nil }
