// Package dispatch implements the gateway frame dispatcher.
//
// The dispatcher classifies every decoded frame and enforces ordering for
// EVENT frames before they reach the sink:
//   - EVENT: delivered in sequence order, early frames buffered, stale dropped
//   - HELLO, HEARTBEAT_PONG, RESUME_ACK, RECONNECT_REQUEST: forwarded to the connector
//   - HEARTBEAT_PING, RESUME: wrong direction, logged and discarded
//
// In dedup mode a window of recently processed sequences is consulted
// first so replays after a resume are delivered at most once.
package dispatch
