// Package session holds the per-session protocol state of the gateway.
//
// A session consists of:
//   - The session id issued by the remote on HELLO / RESUME_ACK
//   - The last processed sequence number (wraps 65535 → 1)
//   - Events that arrived ahead of the expected sequence
//   - A bounded window of recently processed sequences (dedup after resume)
//
// Nothing in this package is safe for concurrent use; the dispatcher owns
// the lock that guards it.
package session
