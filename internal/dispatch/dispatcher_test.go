package dispatch

import (
	"context"
	"fmt"
	"math/rand"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rickgao/kook-gateway/internal/frame"
	"github.com/rickgao/kook-gateway/internal/session"
	"github.com/rickgao/kook-gateway/internal/store"
)

type recordingSink struct {
	mu  sync.Mutex
	got []int
}

func (s *recordingSink) Deliver(f frame.Frame) {
	s.mu.Lock()
	s.got = append(s.got, f.Sequence)
	s.mu.Unlock()
}

func (s *recordingSink) sequences() []int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]int(nil), s.got...)
}

type recordingControl struct {
	mu         sync.Mutex
	hellos     []frame.HelloPayload
	pongs      int
	resumeAcks []string
	reconnects []string
}

func (c *recordingControl) OnHello(p frame.HelloPayload) {
	c.mu.Lock()
	c.hellos = append(c.hellos, p)
	c.mu.Unlock()
}

func (c *recordingControl) OnPong() {
	c.mu.Lock()
	c.pongs++
	c.mu.Unlock()
}

func (c *recordingControl) OnResumeAck(id string) {
	c.mu.Lock()
	c.resumeAcks = append(c.resumeAcks, id)
	c.mu.Unlock()
}

func (c *recordingControl) RequestReconnect(reason string) {
	c.mu.Lock()
	c.reconnects = append(c.reconnects, reason)
	c.mu.Unlock()
}

type recordingPersister struct {
	mu   sync.Mutex
	last store.Metadata
	n    int
}

func (p *recordingPersister) Submit(meta store.Metadata) {
	p.mu.Lock()
	p.last = meta
	p.n++
	p.mu.Unlock()
}

func newTestDispatcher(mode Mode) (*Dispatcher, *recordingSink) {
	sink := &recordingSink{}
	cfg := DefaultConfig()
	cfg.Mode = mode
	return New(cfg, sink, nil), sink
}

func event(sn int) frame.Frame {
	return frame.Frame{Kind: frame.KindEvent, Sequence: sn, Payload: []byte(`{}`)}
}

func TestDispatch_OrderingPermutations(t *testing.T) {
	rng := rand.New(rand.NewSource(42))

	for _, n := range []int{1, 2, 5, 50, 500} {
		for round := 0; round < 10; round++ {
			t.Run(fmt.Sprintf("n=%d/round=%d", n, round), func(t *testing.T) {
				d, sink := newTestDispatcher(ModeOrdered)

				perm := rng.Perm(n)
				for _, i := range perm {
					d.Dispatch(event(i + 1))
				}

				want := make([]int, n)
				for i := range want {
					want[i] = i + 1
				}
				assert.Equal(t, want, sink.sequences())
				assert.Equal(t, n, d.LastSequence())
				assert.Empty(t, d.Snapshot().Pending)
			})
		}
	}
}

func TestDispatch_Wraparound(t *testing.T) {
	for _, mode := range []Mode{ModeOrdered, ModeDedup} {
		t.Run(mode.String(), func(t *testing.T) {
			d, sink := newTestDispatcher(mode)
			d.Restore(store.Metadata{SessionID: "s", Sequence: session.MaxSequence - 1})

			d.Dispatch(event(session.MaxSequence))
			d.Dispatch(event(1))

			assert.Equal(t, []int{session.MaxSequence, 1}, sink.sequences())
			assert.Equal(t, 1, d.LastSequence())
		})
	}
}

func TestDispatch_WraparoundWithEarlyFrames(t *testing.T) {
	d, sink := newTestDispatcher(ModeOrdered)
	d.Restore(store.Metadata{Sequence: session.MaxSequence})

	d.Dispatch(event(3))
	d.Dispatch(event(2))
	d.Dispatch(event(1))

	assert.Equal(t, []int{1, 2, 3}, sink.sequences())
	assert.Equal(t, 3, d.LastSequence())
}

func TestDispatch_WraparoundDropsStrayHighSequences(t *testing.T) {
	for _, mode := range []Mode{ModeOrdered, ModeDedup} {
		t.Run(mode.String(), func(t *testing.T) {
			d, sink := newTestDispatcher(mode)
			d.Restore(store.Metadata{Sequence: session.MaxSequence})

			d.Dispatch(event(session.MaxSequence))
			d.Dispatch(event(60000))
			d.Dispatch(event(2))
			assert.Equal(t, []int{2}, d.Snapshot().Pending)

			d.Dispatch(event(1))
			assert.Equal(t, []int{1, 2}, sink.sequences())
			assert.Equal(t, 2, d.LastSequence())
			assert.Empty(t, d.Snapshot().Pending)
		})
	}
}

func TestDispatch_BufferThenDrain(t *testing.T) {
	d, sink := newTestDispatcher(ModeOrdered)

	d.Dispatch(event(3))
	d.Dispatch(event(2))
	assert.Empty(t, sink.sequences())
	assert.Equal(t, []int{2, 3}, d.Snapshot().Pending)

	d.Dispatch(event(1))
	assert.Equal(t, []int{1, 2, 3}, sink.sequences())
	assert.Empty(t, d.Snapshot().Pending)
	assert.Equal(t, 3, d.LastSequence())
}

func TestDispatch_StaleDrop(t *testing.T) {
	d, sink := newTestDispatcher(ModeOrdered)
	for sn := 1; sn <= 5; sn++ {
		d.Dispatch(event(sn))
	}

	d.Dispatch(event(3))
	assert.Equal(t, []int{1, 2, 3, 4, 5}, sink.sequences())
	assert.Equal(t, 5, d.LastSequence())
}

func TestDispatch_Dedup(t *testing.T) {
	t.Run("same sequence twice", func(t *testing.T) {
		d, sink := newTestDispatcher(ModeDedup)
		d.Dispatch(event(1))
		d.Dispatch(event(1))
		assert.Equal(t, []int{1}, sink.sequences())
	})

	t.Run("same early sequence twice", func(t *testing.T) {
		d, sink := newTestDispatcher(ModeDedup)
		d.Dispatch(event(2))
		d.Dispatch(event(2))
		d.Dispatch(event(1))
		assert.Equal(t, []int{1, 2}, sink.sequences())
	})

	t.Run("replay after resume", func(t *testing.T) {
		d, sink := newTestDispatcher(ModeDedup)
		for sn := 1; sn <= 4; sn++ {
			d.Dispatch(event(sn))
		}
		for sn := 1; sn <= 6; sn++ {
			d.Dispatch(event(sn))
		}
		assert.Equal(t, []int{1, 2, 3, 4, 5, 6}, sink.sequences())
		assert.Equal(t, 6, d.LastSequence())
	})

	t.Run("late unseen event delivered once", func(t *testing.T) {
		d, sink := newTestDispatcher(ModeDedup)
		d.Restore(store.Metadata{Sequence: 10})

		d.Dispatch(event(7))
		d.Dispatch(event(7))
		assert.Equal(t, []int{7}, sink.sequences())
		assert.Equal(t, 10, d.LastSequence(), "max-merge keeps the higher sequence")
	})
}

func TestDispatch_DedupAfterReset(t *testing.T) {
	d, sink := newTestDispatcher(ModeDedup)
	for sn := 1; sn <= 3; sn++ {
		d.Dispatch(event(sn))
	}

	d.Reset()
	assert.Equal(t, 0, d.Snapshot().WindowSize)

	for sn := 1; sn <= 10; sn++ {
		d.Dispatch(event(sn))
	}

	got := sink.sequences()
	require.Len(t, got, 13)
	assert.Equal(t, []int{1, 2, 3}, got[:3])
	assert.Equal(t, []int{1, 2, 3, 4, 5, 6, 7, 8, 9, 10}, got[3:])
	assert.Equal(t, 10, d.LastSequence())
	assert.Empty(t, d.Snapshot().Pending)
}

func TestDispatch_DedupNewSession(t *testing.T) {
	d, sink := newTestDispatcher(ModeDedup)
	d.HandleMessage(false, []byte(`{"s":1,"d":{"code":0,"session_id":"first"}}`))
	for sn := 1; sn <= 3; sn++ {
		d.Dispatch(event(sn))
	}

	d.HandleMessage(false, []byte(`{"s":1,"d":{"code":0,"session_id":"second"}}`))
	for sn := 1; sn <= 4; sn++ {
		d.Dispatch(event(sn))
	}

	assert.Equal(t, []int{1, 2, 3, 1, 2, 3, 4}, sink.sequences())
	assert.Equal(t, 4, d.LastSequence())
}

func TestDispatch_ConcurrentDelivery(t *testing.T) {
	d, sink := newTestDispatcher(ModeOrdered)
	const n = 200

	var wg sync.WaitGroup
	for w := 0; w < 4; w++ {
		wg.Add(1)
		go func(w int) {
			defer wg.Done()
			for sn := n - w; sn > 0; sn -= 4 {
				d.Dispatch(event(sn))
			}
		}(w)
	}
	wg.Wait()

	got := sink.sequences()
	require.Len(t, got, n)
	for i, sn := range got {
		assert.Equal(t, i+1, sn)
	}
}

func TestDispatch_ControlFrames(t *testing.T) {
	d, _ := newTestDispatcher(ModeOrdered)
	ctl := &recordingControl{}
	d.SetControl(ctl)

	d.HandleMessage(false, []byte(`{"s":1,"d":{"code":0,"session_id":"sess-1"}}`))
	d.HandleMessage(false, []byte(`{"s":3}`))
	d.HandleMessage(false, []byte(`{"s":5,"d":{"code":41008,"err":"missing params"}}`))
	d.HandleMessage(false, []byte(`{"s":6,"d":{"session_id":"sess-2"}}`))

	require.Len(t, ctl.hellos, 1)
	assert.Equal(t, "sess-1", ctl.hellos[0].SessionID)
	assert.Equal(t, 1, ctl.pongs)
	assert.Len(t, ctl.reconnects, 1)
	assert.Equal(t, []string{"sess-2"}, ctl.resumeAcks)
	assert.Equal(t, "sess-2", d.SessionID())
}

func TestDispatch_HelloFailureKeepsSession(t *testing.T) {
	d, _ := newTestDispatcher(ModeOrdered)
	ctl := &recordingControl{}
	d.SetControl(ctl)
	d.Restore(store.Metadata{SessionID: "old", Sequence: 9})

	d.HandleMessage(false, []byte(`{"s":1,"d":{"code":40103}}`))

	require.Len(t, ctl.hellos, 1)
	assert.Equal(t, frame.HelloInvalidSessionToken, ctl.hellos[0].Code)
	assert.Equal(t, "old", d.SessionID())
}

func TestDispatch_NewSessionRestartsSequence(t *testing.T) {
	d, sink := newTestDispatcher(ModeOrdered)
	d.Restore(store.Metadata{SessionID: "old", Sequence: 40})

	d.HandleMessage(false, []byte(`{"s":1,"d":{"code":0,"session_id":"old"}}`))
	assert.Equal(t, 40, d.LastSequence(), "same session keeps its position")

	d.HandleMessage(false, []byte(`{"s":1,"d":{"code":0,"session_id":"new"}}`))
	assert.Equal(t, "new", d.SessionID())
	assert.Equal(t, 0, d.LastSequence())

	d.Dispatch(event(1))
	assert.Equal(t, []int{1}, sink.sequences())
}

func TestDispatch_IgnoresAnomaliesAndGarbage(t *testing.T) {
	d, sink := newTestDispatcher(ModeOrdered)
	ctl := &recordingControl{}
	d.SetControl(ctl)

	d.HandleMessage(false, []byte(`{"s":2,"sn":1}`))
	d.HandleMessage(false, []byte(`{"s":4,"sn":1}`))
	d.HandleMessage(false, []byte(`{"s":42}`))
	d.HandleMessage(false, []byte(`not json`))
	d.HandleMessage(true, []byte{0x01, 0x02})
	d.HandleMessage(false, []byte(`{"s":1,"d":"oops"}`))

	assert.Empty(t, sink.sequences())
	assert.Empty(t, ctl.hellos)
	assert.Equal(t, 0, d.LastSequence())

	d.HandleMessage(false, []byte(`{"s":0,"sn":1,"d":{"type":1}}`))
	assert.Equal(t, []int{1}, sink.sequences())
}

func TestDispatch_Persistence(t *testing.T) {
	d, _ := newTestDispatcher(ModeOrdered)
	p := &recordingPersister{}
	d.SetPersister(p)

	d.HandleMessage(false, []byte(`{"s":1,"d":{"code":0,"session_id":"abc"}}`))
	d.Dispatch(event(2))
	assert.Equal(t, 1, p.n, "buffered event is not persisted")

	d.Dispatch(event(1))
	assert.Equal(t, 2, p.n)
	assert.Equal(t, "abc", p.last.SessionID)
	assert.Equal(t, 2, p.last.Sequence)
	assert.False(t, p.last.UpdatedAt.IsZero())

	d.Reset()
	assert.Equal(t, 3, p.n)
	assert.Empty(t, p.last.SessionID)
	assert.Equal(t, 0, p.last.Sequence)
}

func TestDispatch_ResetClearsState(t *testing.T) {
	d, sink := newTestDispatcher(ModeOrdered)
	d.Dispatch(event(1))
	d.Dispatch(event(3))

	d.Reset()
	snap := d.Snapshot()
	assert.Empty(t, snap.SessionID)
	assert.Equal(t, 0, snap.LastSequence)
	assert.Empty(t, snap.Pending)

	d.Dispatch(event(1))
	assert.Equal(t, []int{1, 1}, sink.sequences())
}

func TestDispatch_Sweep(t *testing.T) {
	sink := &recordingSink{}
	d := New(Config{Mode: ModeDedup, WindowSize: 3}, sink, nil)
	for sn := 1; sn <= 5; sn++ {
		d.Dispatch(event(sn))
	}
	assert.Equal(t, 5, d.Snapshot().WindowSize)

	d.Sweep()
	assert.Equal(t, 3, d.Snapshot().WindowSize)
}

func TestDispatch_StartSweeper(t *testing.T) {
	sink := &recordingSink{}
	d := New(Config{Mode: ModeDedup, WindowSize: 1, SweepSchedule: "@every 1s"}, sink, nil)
	d.Dispatch(event(1))
	d.Dispatch(event(2))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	require.NoError(t, d.StartSweeper(ctx))

	assert.Eventually(t, func() bool {
		return d.Snapshot().WindowSize == 1
	}, 3*time.Second, 50*time.Millisecond)
}

func TestDispatch_StartSweeperBadSchedule(t *testing.T) {
	d := New(Config{Mode: ModeDedup, SweepSchedule: "whenever"}, &recordingSink{}, nil)
	assert.Error(t, d.StartSweeper(context.Background()))
}

func TestParseMode(t *testing.T) {
	m, err := ParseMode("dedup")
	require.NoError(t, err)
	assert.Equal(t, ModeDedup, m)

	m, err = ParseMode("")
	require.NoError(t, err)
	assert.Equal(t, ModeOrdered, m)

	_, err = ParseMode("fifo")
	assert.Error(t, err)
}
