package connection

import (
	"fmt"
	"sync"
)

// State is the connection lifecycle state.
type State int

const (
	StateDisconnected State = iota
	StateConnecting
	StateConnected
	StateAwaitingPong
	StateTimedOut
	StateResuming
)

var stateNames = [...]string{
	StateDisconnected: "disconnected",
	StateConnecting:   "connecting",
	StateConnected:    "connected",
	StateAwaitingPong: "awaiting_pong",
	StateTimedOut:     "timed_out",
	StateResuming:     "resuming",
}

func (s State) String() string {
	if s >= 0 && int(s) < len(stateNames) {
		return stateNames[s]
	}
	return fmt.Sprintf("unknown(%d)", int(s))
}

// transitions lists the legal moves out of each state. Any state may
// return to Disconnected.
var transitions = map[State][]State{
	StateDisconnected: {StateConnecting},
	StateConnecting:   {StateConnected},
	StateConnected:    {StateAwaitingPong, StateResuming},
	StateAwaitingPong: {StateConnected, StateTimedOut},
	StateTimedOut:     {StateResuming, StateConnected},
	StateResuming:     {StateConnecting},
}

// CanTransition reports whether from → to is legal.
func CanTransition(from, to State) bool {
	if to == StateDisconnected {
		return true
	}
	for _, s := range transitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

// stateMachine guards the current state.
type stateMachine struct {
	mu      sync.Mutex
	current State
	onSet   func(State)
}

func (m *stateMachine) get() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.current
}

// set moves to the target state, failing on an illegal transition.
func (m *stateMachine) set(to State) error {
	m.mu.Lock()
	from := m.current
	if !CanTransition(from, to) {
		m.mu.Unlock()
		return fmt.Errorf("illegal state transition %s -> %s", from, to)
	}
	m.current = to
	onSet := m.onSet
	m.mu.Unlock()

	if onSet != nil {
		onSet(to)
	}
	return nil
}

// compareAndSet moves to the target state only if the current state is from.
func (m *stateMachine) compareAndSet(from, to State) bool {
	m.mu.Lock()
	if m.current != from || !CanTransition(from, to) {
		m.mu.Unlock()
		return false
	}
	m.current = to
	onSet := m.onSet
	m.mu.Unlock()

	if onSet != nil {
		onSet(to)
	}
	return true
}
