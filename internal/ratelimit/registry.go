package ratelimit

import (
	"log/slog"
	"net/http"
	"strconv"
	"sync"
	"time"
)

// Rate limit response headers.
const (
	HeaderBucket    = "X-Rate-Limit-Bucket"
	HeaderLimit     = "X-Rate-Limit-Limit"
	HeaderRemaining = "X-Rate-Limit-Remaining"
	HeaderReset     = "X-Rate-Limit-Reset"
)

// Registry holds one Bucket per name.
type Registry struct {
	buckets  sync.Map // name → *Bucket
	schedule Scheduler
	logger   *slog.Logger
}

// Option configures a Registry.
type Option func(*Registry)

// WithScheduler replaces the timer used for refills.
func WithScheduler(s Scheduler) Option {
	return func(r *Registry) {
		r.schedule = s
	}
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(r *Registry) {
		r.logger = logger
	}
}

// NewRegistry creates an empty registry.
func NewRegistry(opts ...Option) *Registry {
	r := &Registry{
		schedule: timerScheduler,
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Get returns the bucket for name, creating it on first use.
func (r *Registry) Get(name string) *Bucket {
	if b, ok := r.buckets.Load(name); ok {
		return b.(*Bucket)
	}
	b, _ := r.buckets.LoadOrStore(name, newBucket(name, r.schedule))
	return b.(*Bucket)
}

// Check consumes one request from the named bucket.
func (r *Registry) Check(name string) error {
	return r.Get(name).Check()
}

// ScheduleRefill schedules a refill of the named bucket.
func (r *Registry) ScheduleRefill(name string, remaining int, after time.Duration) bool {
	return r.Get(name).ScheduleRefill(remaining, after)
}

// Observe updates a bucket from the rate limit headers of a response.
// The bucket named in the headers wins over fallback. Responses without
// rate limit headers are ignored.
//
// The reported remaining budget applies right away and a refill to the
// full limit is scheduled for when the reset window elapses, so an
// exhausted bucket always has a refill pending.
func (r *Registry) Observe(fallback string, h http.Header) string {
	name := h.Get(HeaderBucket)
	if name == "" {
		name = fallback
	}
	remaining, ok := headerInt(h, HeaderRemaining)
	if name == "" || !ok {
		return ""
	}
	limit, ok := headerInt(h, HeaderLimit)
	if !ok {
		limit = remaining
	}
	reset, _ := headerInt(h, HeaderReset)
	window := time.Duration(reset) * time.Second

	b := r.Get(name)
	b.observe(remaining, limit, window)
	if b.ScheduleRefill(limit, window) {
		r.logger.Debug("bucket refill scheduled",
			"bucket", name,
			"limit", limit,
			"remaining", remaining,
			"reset_s", reset,
		)
	}
	return name
}

// Snapshot returns the remaining budget of every known bucket.
func (r *Registry) Snapshot() map[string]int {
	out := make(map[string]int)
	r.buckets.Range(func(k, v any) bool {
		out[k.(string)] = v.(*Bucket).Remaining()
		return true
	})
	return out
}

// Close cancels every pending refill.
func (r *Registry) Close() {
	r.buckets.Range(func(_, v any) bool {
		v.(*Bucket).stop()
		return true
	})
}

func headerInt(h http.Header, key string) (int, bool) {
	v := h.Get(key)
	if v == "" {
		return 0, false
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, false
	}
	return n, true
}
