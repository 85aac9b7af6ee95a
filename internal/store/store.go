package store

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound is returned by Load when nothing has been saved yet.
var ErrNotFound = errors.New("session metadata not found")

// Metadata is the persisted position of a gateway session.
type Metadata struct {
	SessionID string    `json:"session_id" yaml:"session_id"`
	Sequence  int       `json:"sequence" yaml:"sequence"`
	UpdatedAt time.Time `json:"updated_at" yaml:"updated_at"`
}

// Store saves and loads session metadata for one bot.
type Store interface {
	Load(ctx context.Context) (Metadata, error)
	Save(ctx context.Context, meta Metadata) error
	Close() error
}
