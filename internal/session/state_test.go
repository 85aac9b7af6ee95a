package session

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rickgao/kook-gateway/internal/frame"
)

func event(sn int) frame.Frame {
	return frame.Frame{Kind: frame.KindEvent, Sequence: sn}
}

func TestNext(t *testing.T) {
	tests := []struct {
		sn   int
		want int
	}{
		{0, 1},
		{1, 2},
		{65534, 65535},
		{65535, 1},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, Next(tt.sn), "Next(%d)", tt.sn)
	}
}

func TestState_BufferRejectsBehindLast(t *testing.T) {
	s := NewState()
	s.Advance(5)

	assert.False(t, s.Buffer(event(3)))
	assert.False(t, s.Buffer(event(5)))
	assert.True(t, s.Buffer(event(8)))
	assert.False(t, s.Buffer(event(8)), "duplicate buffered frame")
	assert.Equal(t, 1, s.Pending())
}

func TestState_BufferAtWrapBoundary(t *testing.T) {
	s := NewState()
	s.Advance(MaxSequence)

	require.True(t, s.Buffer(event(3)))
	assert.False(t, s.Buffer(event(MaxSequence)), "last sequence again")
	assert.False(t, s.Buffer(event(60000)), "stale sequence from the old cycle")
	assert.False(t, s.Buffer(event(WrapSpan+1)))
	assert.True(t, s.Buffer(event(WrapSpan)))

	s.Advance(1)
	assert.Equal(t, []int{3, WrapSpan}, s.PendingSequences())
}

func TestState_TakeNext(t *testing.T) {
	s := NewState()
	require.True(t, s.Buffer(event(2)))
	require.True(t, s.Buffer(event(3)))

	_, ok := s.TakeNext()
	assert.False(t, ok, "1 is not buffered")

	s.Advance(1)
	f, ok := s.TakeNext()
	require.True(t, ok)
	assert.Equal(t, 2, f.Sequence)
	assert.Equal(t, []int{3}, s.PendingSequences())
}

func TestState_Merge(t *testing.T) {
	s := NewState()
	s.Merge(4)
	assert.Equal(t, 4, s.Last())

	s.Merge(2)
	assert.Equal(t, 4, s.Last(), "max-merge keeps the larger sequence")

	s.Advance(MaxSequence)
	s.Merge(60000)
	assert.Equal(t, MaxSequence, s.Last(), "stale sequence at the wrap boundary")
	s.Merge(3)
	assert.Equal(t, 3, s.Last(), "next cycle after the wrap boundary")
}

func TestState_MergeEvictsOvertakenFrames(t *testing.T) {
	s := NewState()
	require.True(t, s.Buffer(event(3)))
	require.True(t, s.Buffer(event(9)))

	s.Merge(5)
	assert.Equal(t, []int{9}, s.PendingSequences())
}

func TestState_Reset(t *testing.T) {
	s := NewState()
	s.SetID("abc")
	s.Advance(10)
	s.Buffer(event(12))

	s.Reset()
	assert.Empty(t, s.ID())
	assert.Equal(t, 0, s.Last())
	assert.Equal(t, 0, s.Pending())
}

func TestWindow(t *testing.T) {
	w := NewWindow(3)
	for _, sn := range []int{1, 2, 3, 4, 5} {
		w.Add(sn)
	}
	assert.True(t, w.Contains(1))
	assert.Equal(t, 5, w.Len())

	assert.Equal(t, 2, w.Trim())
	assert.False(t, w.Contains(1))
	assert.False(t, w.Contains(2))
	assert.True(t, w.Contains(3))
	assert.Equal(t, 3, w.Len())
}

func TestWindow_RepeatedSequence(t *testing.T) {
	w := NewWindow(2)
	w.Add(7)
	w.Add(8)
	w.Add(7)

	w.Trim()
	assert.True(t, w.Contains(7), "second occurrence of 7 is still in the window")
	assert.True(t, w.Contains(8))
}

func TestWindow_DefaultCapacity(t *testing.T) {
	assert.Equal(t, DefaultWindowSize, NewWindow(0).Cap())
}
