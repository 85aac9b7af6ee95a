// Package store persists gateway session metadata: the session id and the
// last processed sequence.
//
// Backends:
//   - memory: process-local, lost on exit
//   - file: a YAML document replaced atomically
//   - sqlite: a single-row-per-bot table via modernc.org/sqlite
//   - postgres: the same table on a pgx pool
//   - redis: a hash per bot
//
// Writes go through a Flusher, which coalesces the per-frame updates from
// the dispatcher into at most one Save per flush interval.
package store
