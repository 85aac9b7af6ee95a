// Package connection implements the gateway connection lifecycle.
//
// The Connector:
//   - Resolves the gateway URL over REST and dials it
//   - Waits for the HELLO handshake with a bounded timeout, retrying locally
//     before re-resolving the URL
//   - Supervises liveness with application-level PING/PONG heartbeats
//   - Resumes a timed-out session from the last processed sequence
//   - Falls back to a full reconnect with exponential backoff
//
// Inbound frames are handed to the dispatcher; this package never inspects
// EVENT payloads.
package connection
