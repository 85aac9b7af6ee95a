package store

import (
	"context"
	"sync"
)

// Memory keeps metadata in process memory.
type Memory struct {
	mu    sync.Mutex
	meta  Metadata
	saved bool
	saves int
}

// NewMemory returns an empty in-memory store.
func NewMemory() *Memory {
	return &Memory{}
}

func (m *Memory) Load(ctx context.Context) (Metadata, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.saved {
		return Metadata{}, ErrNotFound
	}
	return m.meta, nil
}

func (m *Memory) Save(ctx context.Context, meta Metadata) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.meta = meta
	m.saved = true
	m.saves++
	return nil
}

// Saves returns the number of Save calls.
func (m *Memory) Saves() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.saves
}

func (m *Memory) Close() error { return nil }
