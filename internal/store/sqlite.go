package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	_ "modernc.org/sqlite"
)

// SQLite stores one row per bot key.
type SQLite struct {
	db  *sql.DB
	key string
}

// NewSQLite opens (or creates) the database at path and migrates it.
func NewSQLite(path, key string) (*SQLite, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open session db: %w", err)
	}
	// A single writer avoids SQLITE_BUSY between the flusher and Close.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("set WAL mode: %w", err)
	}
	if _, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS gateway_sessions (
			bot_key    TEXT PRIMARY KEY,
			session_id TEXT NOT NULL,
			sequence   INTEGER NOT NULL,
			updated_at TEXT NOT NULL
		)
	`); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate session db: %w", err)
	}

	return &SQLite{db: db, key: key}, nil
}

func (s *SQLite) Load(ctx context.Context) (Metadata, error) {
	var (
		meta    Metadata
		updated string
	)
	err := s.db.QueryRowContext(ctx,
		"SELECT session_id, sequence, updated_at FROM gateway_sessions WHERE bot_key = ?", s.key,
	).Scan(&meta.SessionID, &meta.Sequence, &updated)
	if errors.Is(err, sql.ErrNoRows) {
		return Metadata{}, ErrNotFound
	}
	if err != nil {
		return Metadata{}, fmt.Errorf("load session: %w", err)
	}

	if t, err := time.Parse(time.RFC3339Nano, updated); err == nil {
		meta.UpdatedAt = t
	}
	return meta, nil
}

func (s *SQLite) Save(ctx context.Context, meta Metadata) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO gateway_sessions (bot_key, session_id, sequence, updated_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(bot_key) DO UPDATE SET
			session_id = excluded.session_id,
			sequence   = excluded.sequence,
			updated_at = excluded.updated_at
	`, s.key, meta.SessionID, meta.Sequence, meta.UpdatedAt.UTC().Format(time.RFC3339Nano))
	if err != nil {
		return fmt.Errorf("save session: %w", err)
	}
	return nil
}

func (s *SQLite) Close() error {
	return s.db.Close()
}
