package ratelimit

import (
	"errors"
	"fmt"
	"sync"
	"time"
)

// Unknown is the remaining budget of a bucket that has never been observed.
const Unknown = -1

// ErrTooFast is returned by Check when a bucket's budget is exhausted.
// The caller must not send the request.
var ErrTooFast = errors.New("rate limit: too fast")

// Scheduler runs fn after d on another goroutine. The returned stop func
// cancels a pending run and reports whether it did so.
type Scheduler func(d time.Duration, fn func()) (stop func() bool)

func timerScheduler(d time.Duration, fn func()) func() bool {
	return time.AfterFunc(d, fn).Stop
}

// Bucket is the request budget of one remote-assigned bucket.
type Bucket struct {
	name     string
	schedule Scheduler

	mu        sync.Mutex
	remaining int
	refill    func() bool // stop func of the pending refill, nil when none
	refillAt  time.Time

	// Learned from response headers, zero until observed.
	limit  int
	window time.Duration
}

func newBucket(name string, schedule Scheduler) *Bucket {
	return &Bucket{
		name:      name,
		schedule:  schedule,
		remaining: Unknown,
	}
}

// Name returns the bucket name.
func (b *Bucket) Name() string { return b.name }

// Check consumes one request from the budget. Unknown budgets always pass.
// Spending the last request of a bucket with a learned limit schedules its
// refill, so the bucket recovers even if that response carries no headers.
func (b *Bucket) Check() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.remaining == Unknown {
		return nil
	}
	if b.remaining <= 0 {
		return fmt.Errorf("%w: bucket %q", ErrTooFast, b.name)
	}
	b.remaining--
	if b.remaining == 0 && b.limit > 0 {
		b.scheduleLocked(b.limit, b.window)
	}
	return nil
}

// observe records what a response reported: the full limit, the reset
// window and the remaining budget. The budget only ever moves down here;
// it goes back up through a refill.
func (b *Bucket) observe(remaining, limit int, window time.Duration) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if limit > 0 {
		b.limit = limit
		b.window = window
	}
	if remaining < 0 {
		return
	}
	if b.remaining == Unknown || remaining < b.remaining {
		b.remaining = remaining
	}
}

// ScheduleRefill sets the budget to remaining once after elapses. It is a
// no-op while a refill is already pending. Reports whether a timer was
// scheduled.
func (b *Bucket) ScheduleRefill(remaining int, after time.Duration) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.scheduleLocked(remaining, after)
}

func (b *Bucket) scheduleLocked(remaining int, after time.Duration) bool {
	if b.refill != nil {
		return false
	}
	if after < 0 {
		after = 0
	}
	b.refillAt = time.Now().Add(after)
	b.refill = b.schedule(after, func() {
		b.mu.Lock()
		b.remaining = remaining
		b.refill = nil
		b.refillAt = time.Time{}
		b.mu.Unlock()
	})
	return true
}

// Remaining returns the current budget, Unknown if never observed.
func (b *Bucket) Remaining() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.remaining
}

// RefillPending reports whether a refill timer is pending.
func (b *Bucket) RefillPending() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.refill != nil
}

// stop cancels a pending refill.
func (b *Bucket) stop() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.refill != nil {
		b.refill()
		b.refill = nil
	}
}
