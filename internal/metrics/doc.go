// Package metrics provides Prometheus metrics for monitoring.
//
// Key metrics:
//   - Gateway connection state, reconnects and resumes
//   - Frames received by kind, events delivered and dropped
//   - Out-of-order buffer depth and dedup window size
//   - Heartbeat failures
//   - REST requests and rate limit rejections
package metrics
