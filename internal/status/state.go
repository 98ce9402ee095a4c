// Package status tracks the lifecycle of a room sync session.
package status

import (
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/gapchat/gap/internal/bus"
)

// State represents a sync session state.
type State string

const (
	Idle         State = "IDLE"
	Loading      State = "LOADING"
	Live         State = "LIVE"
	Reconnecting State = "RECONNECTING"
	Failed       State = "FAILED"
	Closed       State = "CLOSED"
)

// validTransitions defines allowed state transitions. Closed is reachable
// from every state and terminal.
var validTransitions = map[State][]State{
	Idle:         {Loading, Closed},
	Loading:      {Live, Failed, Closed},
	Live:         {Reconnecting, Failed, Closed},
	Reconnecting: {Live, Failed, Closed},
	Failed:       {Closed},
	Closed:       {},
}

// Machine tracks and enforces the state transitions of one room session.
type Machine struct {
	mu      sync.RWMutex
	roomID  string
	current State
	bus     *bus.Bus
}

// NewMachine creates a state machine for the given room, starting in Idle.
func NewMachine(roomID string, b *bus.Bus) *Machine {
	return &Machine{
		roomID:  roomID,
		current: Idle,
		bus:     b,
	}
}

// Current returns the current state.
func (m *Machine) Current() State {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.current
}

// Transition attempts to move to a new state. Returns an error if the
// transition is not allowed. Transitioning to the current state is a no-op.
func (m *Machine) Transition(to State) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.current == to {
		return nil
	}
	allowed := validTransitions[m.current]
	if !slices.Contains(allowed, to) {
		return fmt.Errorf("invalid transition from %s to %s", m.current, to)
	}
	from := m.current
	m.current = to
	if m.bus != nil {
		m.bus.Publish(bus.Event{
			Kind:      bus.KindStatusChanged,
			Timestamp: time.Now(),
			Payload: StatusChange{
				RoomID: m.roomID,
				From:   from,
				To:     to,
			},
		})
	}
	return nil
}

// StatusChange is the payload for status change events.
type StatusChange struct {
	RoomID string
	From   State
	To     State
}
