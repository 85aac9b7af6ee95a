package session

import "github.com/eapache/queue"

// DefaultWindowSize is the number of processed sequences kept for dedup.
const DefaultWindowSize = 700

// Window is a FIFO of recently processed sequence numbers with a
// membership index. It may grow past its capacity between trims.
type Window struct {
	capacity int
	fifo     *queue.Queue
	seen     map[int]int // sequence → occurrences in fifo
}

// NewWindow creates a window trimmed to capacity entries.
func NewWindow(capacity int) *Window {
	if capacity <= 0 {
		capacity = DefaultWindowSize
	}
	return &Window{
		capacity: capacity,
		fifo:     queue.New(),
		seen:     make(map[int]int),
	}
}

// Add records sn as processed.
func (w *Window) Add(sn int) {
	w.fifo.Add(sn)
	w.seen[sn]++
}

// Contains reports whether sn was processed recently.
func (w *Window) Contains(sn int) bool {
	return w.seen[sn] > 0
}

// Trim drops the oldest entries until the window fits its capacity and
// returns how many were dropped.
func (w *Window) Trim() int {
	dropped := 0
	for w.fifo.Length() > w.capacity {
		sn := w.fifo.Remove().(int)
		if w.seen[sn]--; w.seen[sn] <= 0 {
			delete(w.seen, sn)
		}
		dropped++
	}
	return dropped
}

// Len returns the number of entries currently held.
func (w *Window) Len() int { return w.fifo.Length() }

// Cap returns the trim capacity.
func (w *Window) Cap() int { return w.capacity }

// Clear empties the window.
func (w *Window) Clear() {
	w.fifo = queue.New()
	clear(w.seen)
}
