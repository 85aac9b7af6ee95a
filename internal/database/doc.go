// Package database provides connection pool management for PostgreSQL.
//
// The gateway uses a single pool to persist session metadata (session id
// and last processed sequence) so a restarted process can resume where it
// left off.
package database
