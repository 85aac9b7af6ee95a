package session

import (
	"sort"

	"github.com/rickgao/kook-gateway/internal/frame"
)

// MaxSequence is the largest sequence number before wrapping to 1.
const MaxSequence = 65535

// WrapSpan bounds the sequences a session at MaxSequence accepts as the
// start of the next cycle.
const WrapSpan = 1024

// Next returns the sequence that follows sn.
func Next(sn int) int {
	if sn >= MaxSequence {
		return 1
	}
	return sn + 1
}

// State is the sequence and buffer state of one gateway session.
type State struct {
	id      string
	last    int
	pending map[int]frame.Frame
}

// NewState returns an empty session (last sequence 0, no id).
func NewState() *State {
	return &State{pending: make(map[int]frame.Frame)}
}

func (s *State) ID() string      { return s.id }
func (s *State) SetID(id string) { s.id = id }
func (s *State) Last() int       { return s.last }
func (s *State) Expected() int   { return Next(s.last) }
func (s *State) Pending() int    { return len(s.pending) }

// Advance sets the last processed sequence and evicts buffered frames
// that are no longer ahead of it.
func (s *State) Advance(sn int) {
	s.last = sn
	s.evict()
}

// Ahead reports whether sn comes after the last processed sequence. At
// the wrap boundary only the first WrapSpan sequences of the next cycle
// are ahead.
func (s *State) Ahead(sn int) bool {
	if s.last == MaxSequence {
		return sn >= 1 && sn <= WrapSpan
	}
	return sn > s.last
}

// Merge records sn as processed using max-merge.
func (s *State) Merge(sn int) {
	if s.Ahead(sn) {
		s.Advance(sn)
	}
}

// Buffer holds an event that arrived ahead of the expected sequence.
// It reports false if the frame is not ahead of the last sequence or is
// already buffered.
func (s *State) Buffer(f frame.Frame) bool {
	if !s.Ahead(f.Sequence) {
		return false
	}
	if _, ok := s.pending[f.Sequence]; ok {
		return false
	}
	s.pending[f.Sequence] = f
	return true
}

// TakeNext removes and returns the buffered frame with the expected
// sequence, if any.
func (s *State) TakeNext() (frame.Frame, bool) {
	sn := s.Expected()
	f, ok := s.pending[sn]
	if ok {
		delete(s.pending, sn)
	}
	return f, ok
}

// PendingSequences returns the buffered sequences in ascending order.
func (s *State) PendingSequences() []int {
	out := make([]int, 0, len(s.pending))
	for sn := range s.pending {
		out = append(out, sn)
	}
	sort.Ints(out)
	return out
}

// Restore seeds the state from persisted metadata. The buffer is cleared.
func (s *State) Restore(id string, last int) {
	s.id = id
	s.last = last
	clear(s.pending)
}

// Reset clears the session for a full reconnect.
func (s *State) Reset() {
	s.id = ""
	s.last = 0
	clear(s.pending)
}

// evict drops buffered frames at or behind last. A max-merge can jump
// past frames that were buffered earlier.
func (s *State) evict() {
	for sn := range s.pending {
		if sn <= s.last {
			delete(s.pending, sn)
		}
	}
}
