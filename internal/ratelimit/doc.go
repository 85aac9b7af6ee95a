// Package ratelimit tracks the per-bucket request budget the platform
// advertises in REST response headers.
//
// Buckets are created lazily by name and live for the process lifetime.
// A bucket's remaining budget is unknown (-1) until the first response for
// that bucket is observed; afterwards it is decremented by Check and
// reseeded only by a scheduled refill.
package ratelimit
