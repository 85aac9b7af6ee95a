package ratelimit

import (
	"errors"
	"net/http"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// manualScheduler records timers and fires them on demand.
type manualScheduler struct {
	mu     sync.Mutex
	timers []*manualTimer
}

type manualTimer struct {
	after   time.Duration
	fn      func()
	stopped bool
}

func (s *manualScheduler) schedule(d time.Duration, fn func()) func() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	t := &manualTimer{after: d, fn: fn}
	s.timers = append(s.timers, t)
	return func() bool {
		s.mu.Lock()
		defer s.mu.Unlock()
		was := !t.stopped
		t.stopped = true
		return was
	}
}

func (s *manualScheduler) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.timers)
}

// fire runs every pending timer.
func (s *manualScheduler) fire() {
	s.mu.Lock()
	pending := s.timers
	s.timers = nil
	s.mu.Unlock()
	for _, t := range pending {
		if !t.stopped {
			t.fn()
		}
	}
}

func newTestRegistry() (*Registry, *manualScheduler) {
	s := &manualScheduler{}
	return NewRegistry(WithScheduler(s.schedule)), s
}

func TestBucket_UnknownAllows(t *testing.T) {
	r, _ := newTestRegistry()
	for i := 0; i < 10; i++ {
		require.NoError(t, r.Check("message/create"))
	}
	assert.Equal(t, Unknown, r.Get("message/create").Remaining())
}

func TestBucket_CheckAndRefill(t *testing.T) {
	r, s := newTestRegistry()
	b := r.Get("guild/list")

	require.True(t, b.ScheduleRefill(2, 0))
	s.fire()
	require.Equal(t, 2, b.Remaining())

	assert.NoError(t, b.Check())
	assert.NoError(t, b.Check())
	err := b.Check()
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrTooFast))

	require.True(t, b.ScheduleRefill(5, time.Second))
	s.fire()
	assert.NoError(t, b.Check())
	assert.Equal(t, 4, b.Remaining())
}

func TestBucket_SingleRefillTimer(t *testing.T) {
	r, s := newTestRegistry()
	b := r.Get("user/me")

	assert.True(t, b.ScheduleRefill(5, time.Second))
	assert.False(t, b.ScheduleRefill(9, time.Second))
	assert.Equal(t, 1, s.count())
	assert.True(t, b.RefillPending())

	s.fire()
	assert.False(t, b.RefillPending())
	assert.Equal(t, 5, b.Remaining())

	assert.True(t, b.ScheduleRefill(3, time.Second), "new timer allowed after the first fired")
}

func TestRegistry_GetReturnsSameBucket(t *testing.T) {
	r, _ := newTestRegistry()

	var wg sync.WaitGroup
	got := make([]*Bucket, 16)
	for i := range got {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			got[i] = r.Get("shared")
		}(i)
	}
	wg.Wait()

	for _, b := range got {
		assert.Same(t, got[0], b)
	}
}

func rateHeaders(bucket string, limit, remaining, reset int) http.Header {
	h := http.Header{}
	if bucket != "" {
		h.Set(HeaderBucket, bucket)
	}
	h.Set(HeaderLimit, strconv.Itoa(limit))
	h.Set(HeaderRemaining, strconv.Itoa(remaining))
	h.Set(HeaderReset, strconv.Itoa(reset))
	return h
}

func TestRegistry_Observe(t *testing.T) {
	r, s := newTestRegistry()

	// First sighting applies the budget now and refills after the window.
	name := r.Observe("fallback", rateHeaders("gateway/index", 10, 1, 3))
	assert.Equal(t, "gateway/index", name)
	assert.Equal(t, 1, r.Get("gateway/index").Remaining())
	assert.Equal(t, Unknown, r.Get("fallback").Remaining())
	require.Equal(t, 1, s.count())
	assert.Equal(t, 3*time.Second, s.timers[0].after)

	require.NoError(t, r.Check("gateway/index"))
	assert.ErrorIs(t, r.Check("gateway/index"), ErrTooFast)

	// A pending refill is not rescheduled.
	r.Observe("fallback", rateHeaders("gateway/index", 10, 0, 3))
	assert.Equal(t, 1, s.count())

	s.fire()
	assert.Equal(t, 10, r.Get("gateway/index").Remaining())
}

func TestRegistry_ObserveExhaustedFirstSighting(t *testing.T) {
	r, s := newTestRegistry()

	r.Observe("gateway/index", rateHeaders("", 10, 0, 1))
	assert.ErrorIs(t, r.Check("gateway/index"), ErrTooFast)
	assert.True(t, r.Get("gateway/index").RefillPending())

	s.fire()
	assert.NoError(t, r.Check("gateway/index"))
	assert.Equal(t, 9, r.Get("gateway/index").Remaining())
}

func TestRegistry_ObserveLowersBudget(t *testing.T) {
	r, s := newTestRegistry()

	r.Observe("user/me", rateHeaders("", 10, 8, 5))
	s.fire()
	require.Equal(t, 10, r.Get("user/me").Remaining())

	// Another client spent part of the shared budget.
	r.Observe("user/me", rateHeaders("", 10, 2, 5))
	assert.Equal(t, 2, r.Get("user/me").Remaining())
}

func TestBucket_RefillsAfterLastCheckWithoutResponse(t *testing.T) {
	r, s := newTestRegistry()

	r.Observe("message/create", rateHeaders("", 5, 1, 2))
	s.fire()
	require.Equal(t, 5, r.Get("message/create").Remaining())

	for i := 0; i < 5; i++ {
		require.NoError(t, r.Check("message/create"))
	}
	// The last request never produced a response, the bucket still
	// refills from the learned window.
	b := r.Get("message/create")
	assert.ErrorIs(t, b.Check(), ErrTooFast)
	require.True(t, b.RefillPending())
	assert.Equal(t, 2*time.Second, s.timers[0].after)

	s.fire()
	assert.Equal(t, 5, b.Remaining())
}

func TestRegistry_ObserveRealTimerRecovers(t *testing.T) {
	r := NewRegistry()
	defer r.Close()

	h := rateHeaders("", 10, 0, 0)
	r.Observe("gateway/index", h)
	require.Eventually(t, func() bool {
		return r.Check("gateway/index") == nil
	}, time.Second, 5*time.Millisecond)
}

func TestRegistry_ObserveWithoutHeaders(t *testing.T) {
	r, s := newTestRegistry()
	assert.Empty(t, r.Observe("user/me", http.Header{}))
	assert.Equal(t, 0, s.count())
}

func TestRegistry_ObserveFallbackName(t *testing.T) {
	r, s := newTestRegistry()
	h := http.Header{}
	h.Set(HeaderRemaining, "4")

	r.Observe("user/offline", h)
	s.fire()
	assert.Equal(t, 4, r.Get("user/offline").Remaining())
}

func TestRegistry_Close(t *testing.T) {
	r, s := newTestRegistry()
	b := r.Get("x")
	b.ScheduleRefill(7, time.Minute)

	r.Close()
	s.fire()
	assert.Equal(t, Unknown, b.Remaining())
	assert.False(t, b.RefillPending())
}

func TestRegistry_RealTimer(t *testing.T) {
	r := NewRegistry()
	defer r.Close()

	r.ScheduleRefill("real", 3, 10*time.Millisecond)
	require.Eventually(t, func() bool {
		return r.Get("real").Remaining() == 3
	}, time.Second, 5*time.Millisecond)
}
