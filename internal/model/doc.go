// Package model defines the gateway event types handed to sinks.
//
// Conventions:
//   - Event payloads mirror the EVENT frame "d" document
//   - Timestamps: int64 milliseconds since Unix epoch, as sent by the server
//   - Unrecognized message or system types are still parsed and forwarded;
//     only their Name falls back to a generic value
package model
