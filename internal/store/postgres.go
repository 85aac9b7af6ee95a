package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

// PgxPool is the subset of *pgxpool.Pool the Postgres store uses.
type PgxPool interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Close()
}

// Postgres stores one row per bot key.
type Postgres struct {
	pool PgxPool
	key  string
}

// NewPostgres migrates the session table and returns a store that owns
// pool.
func NewPostgres(ctx context.Context, pool PgxPool, key string) (*Postgres, error) {
	_, err := pool.Exec(ctx, `
		CREATE TABLE IF NOT EXISTS gateway_sessions (
			bot_key    TEXT PRIMARY KEY,
			session_id TEXT NOT NULL,
			sequence   INTEGER NOT NULL,
			updated_at TIMESTAMPTZ NOT NULL
		)
	`)
	if err != nil {
		return nil, fmt.Errorf("migrate gateway_sessions: %w", err)
	}
	return &Postgres{pool: pool, key: key}, nil
}

func (p *Postgres) Load(ctx context.Context) (Metadata, error) {
	var meta Metadata
	err := p.pool.QueryRow(ctx,
		"SELECT session_id, sequence, updated_at FROM gateway_sessions WHERE bot_key = $1", p.key,
	).Scan(&meta.SessionID, &meta.Sequence, &meta.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return Metadata{}, ErrNotFound
	}
	if err != nil {
		return Metadata{}, fmt.Errorf("load session: %w", err)
	}
	return meta, nil
}

func (p *Postgres) Save(ctx context.Context, meta Metadata) error {
	_, err := p.pool.Exec(ctx, `
		INSERT INTO gateway_sessions (bot_key, session_id, sequence, updated_at)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (bot_key) DO UPDATE SET
			session_id = EXCLUDED.session_id,
			sequence   = EXCLUDED.sequence,
			updated_at = EXCLUDED.updated_at
	`, p.key, meta.SessionID, meta.Sequence, meta.UpdatedAt)
	if err != nil {
		return fmt.Errorf("save session: %w", err)
	}
	return nil
}

func (p *Postgres) Close() error {
	p.pool.Close()
	return nil
}
