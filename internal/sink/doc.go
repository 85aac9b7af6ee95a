// Package sink delivers ordered gateway events to handlers.
//
// The dispatcher calls Deliver while holding its ordering lock, so Deliver
// only pushes onto an unbounded queue. A single consumer goroutine parses
// each frame into a model.Event and runs the registered handlers in order:
//   - LogHandler: structured log line per event
//   - NATSHandler: publishes the raw payload to a per-event subject
package sink
