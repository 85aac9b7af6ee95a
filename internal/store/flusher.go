package store

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// Flusher coalesces metadata submissions and writes the latest one to a
// Store at most once per interval.
type Flusher struct {
	store    Store
	interval time.Duration
	logger   *slog.Logger

	mu      sync.Mutex
	latest  Metadata
	dirty   bool
	flushMu sync.Mutex // serializes Save calls
}

// NewFlusher creates a Flusher. A non-positive interval defaults to one
// second.
func NewFlusher(s Store, interval time.Duration, logger *slog.Logger) *Flusher {
	if logger == nil {
		logger = slog.Default()
	}
	if interval <= 0 {
		interval = time.Second
	}
	return &Flusher{
		store:    s,
		interval: interval,
		logger:   logger.With("component", "store_flusher"),
	}
}

// Submit records meta as the latest state. It never blocks on I/O.
func (f *Flusher) Submit(meta Metadata) {
	if meta.UpdatedAt.IsZero() {
		meta.UpdatedAt = time.Now()
	}
	f.mu.Lock()
	f.latest = meta
	f.dirty = true
	f.mu.Unlock()
}

// Pending reports whether a submission has not been saved yet.
func (f *Flusher) Pending() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.dirty
}

// Flush saves the latest submission if it has not been saved yet. A failed
// save leaves it pending for the next flush unless a newer one arrived.
func (f *Flusher) Flush(ctx context.Context) error {
	f.flushMu.Lock()
	defer f.flushMu.Unlock()

	f.mu.Lock()
	if !f.dirty {
		f.mu.Unlock()
		return nil
	}
	meta := f.latest
	f.dirty = false
	f.mu.Unlock()

	if err := f.store.Save(ctx, meta); err != nil {
		f.mu.Lock()
		f.dirty = true
		f.mu.Unlock()
		return err
	}
	return nil
}

// Run flushes every interval until ctx ends, then flushes once more.
func (f *Flusher) Run(ctx context.Context) error {
	ticker := time.NewTicker(f.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			final, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := f.Flush(final); err != nil {
				f.logger.Error("final session flush failed", "error", err)
				return err
			}
			return ctx.Err()
		case <-ticker.C:
			if err := f.Flush(ctx); err != nil {
				f.logger.Warn("session flush failed", "error", err)
			}
		}
	}
}
