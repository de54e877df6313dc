package status

import (
	"fmt"
	"slices"
	"sync"

	"github.com/matheus3301/desk/internal/bus"
)

// State represents the realtime transport connection state.
type State string

const (
	Disconnected State = "DISCONNECTED"
	Connecting   State = "CONNECTING"
	Online       State = "ONLINE"
	Offline      State = "OFFLINE"
)

// validTransitions defines allowed state transitions.
var validTransitions = map[State][]State{
	Disconnected: {Connecting},
	Connecting:   {Online, Offline, Disconnected},
	Online:       {Offline, Disconnected},
	Offline:      {Connecting, Online, Disconnected},
}

// Machine tracks and enforces connection state transitions.
type Machine struct {
	mu      sync.RWMutex
	current State
	bus     *bus.Bus
}

// NewMachine creates a new state machine starting in Disconnected state.
func NewMachine(b *bus.Bus) *Machine {
	return &Machine{
		current: Disconnected,
		bus:     b,
	}
}

// Current returns the current state.
func (m *Machine) Current() State {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.current
}

// Transition attempts to move to a new state. Returns error if transition is invalid.
func (m *Machine) Transition(to State) error {
	_, err := m.transition(func(State) bool { return true }, to)
	return err
}

// TransitionFrom moves to the new state only if the current state is one of
// from. It reports whether the transition happened.
func (m *Machine) TransitionFrom(to State, from ...State) bool {
	ok, err := m.transition(func(cur State) bool { return slices.Contains(from, cur) }, to)
	return ok && err == nil
}

func (m *Machine) transition(guard func(State) bool, to State) (bool, error) {
	m.mu.Lock()
	if !guard(m.current) {
		m.mu.Unlock()
		return false, nil
	}
	allowed := validTransitions[m.current]
	if !slices.Contains(allowed, to) {
		cur := m.current
		m.mu.Unlock()
		return false, fmt.Errorf("invalid transition from %s to %s", cur, to)
	}
	from := m.current
	m.current = to
	m.mu.Unlock()

	m.bus.Emit(bus.KindTransportState, StatusChange{From: from, To: to})
	return true, nil
}

// StatusChange is the payload for status change events.
type StatusChange struct {
	From State
	To   State
}
