// Package session implements the per-conversation turn log: an append-only,
// bounded history keyed by session id. The durable backend is SQLite; when
// it cannot be opened the package degrades permanently to an in-process
// store so the gateway keeps answering with short-term memory only.
package session

import (
	"context"
	"log/slog"
	"time"
)

// DefaultMaxHistory is the default number of exchanges kept per session.
// The store retains 2×maxHistory turns so trimming always preserves whole
// user+assistant pairs.
const DefaultMaxHistory = 10

// Role is the author of a turn.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Turn is one message in a session's ordered history.
type Turn struct {
	Role      Role      `json:"role"`
	Content   string    `json:"content"`
	Timestamp time.Time `json:"timestamp"`
}

// Store is the session turn log contract. Implementations must allow
// concurrent access from independent session ids without interference;
// appends to the same id are serialized to preserve order.
type Store interface {
	// Append adds a turn to the session and trims the log to the
	// 2×maxHistory most recent turns.
	Append(ctx context.Context, sessionID string, role Role, content string) error

	// History returns the session's turns in append order.
	History(ctx context.Context, sessionID string) ([]Turn, error)

	// Clear deletes the session's turn log. Clearing a session that does
	// not exist is not an error.
	Clear(ctx context.Context, sessionID string) error

	// Exists reports whether the session has any turns.
	Exists(ctx context.Context, sessionID string) (bool, error)

	// Close releases backend resources.
	Close() error
}

// Config holds session store settings.
type Config struct {
	// DBPath is the SQLite database file. Empty disables the durable
	// backend and uses the in-process store directly.
	DBPath string `yaml:"db_path"`

	// MaxHistory is the number of exchanges retained per session.
	MaxHistory int `yaml:"max_history"`

	// RetentionDays is how long inactive session logs are kept before the
	// janitor sweeps them. Zero disables sweeping.
	RetentionDays int `yaml:"retention_days"`
}

// New opens the configured store. If the durable backend fails to open, the
// degradation is logged once and the in-process store is used for the rest
// of the process lifetime, with no per-call retry.
func New(cfg Config, logger *slog.Logger) Store {
	if logger == nil {
		logger = slog.Default()
	}
	maxHistory := cfg.MaxHistory
	if maxHistory <= 0 {
		maxHistory = DefaultMaxHistory
	}

	if cfg.DBPath != "" {
		store, err := NewSQLiteStore(cfg.DBPath, maxHistory, logger)
		if err == nil {
			logger.Info("session store ready", "backend", "sqlite", "path", cfg.DBPath)
			return store
		}
		logger.Warn("durable session store unavailable, falling back to in-process store for the process lifetime",
			"path", cfg.DBPath,
			"error", err,
		)
	}
	return NewMemStore(maxHistory)
}
