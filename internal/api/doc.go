// Package api provides the REST client the gateway core depends on.
//
// Endpoints:
//   - GET  /gateway/index  resolve the gateway WebSocket URL
//   - GET  /user/me        current bot user (online flag)
//   - POST /user/offline   clear a stale online presence
//
// Every request is checked against the per-bucket budget in
// internal/ratelimit before it is sent, and the bucket is updated from the
// X-Rate-Limit-* response headers afterwards.
//
// Base URL: https://www.kookapp.cn/api/v3
package api
