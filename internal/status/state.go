package status

import (
	"fmt"
	"slices"
	"sync"

	"github.com/courtdesk/courtdesk/internal/bus"
)

// State represents the lifecycle state of one push channel.
type State string

const (
	Idle       State = "IDLE"
	Connecting State = "CONNECTING"
	Open       State = "OPEN"
	Closed     State = "CLOSED"
)

// CodeNormalClosure is the WebSocket close code for an intentional close.
// Any other code on a CLOSED channel means the close was not asked for.
const CodeNormalClosure = 1000

// validTransitions defines allowed state transitions.
var validTransitions = map[State][]State{
	Idle:       {Connecting, Closed},
	Connecting: {Open, Closed},
	Open:       {Closed},
	Closed:     {Connecting},
}

// Machine tracks and enforces channel state transitions. The close code of
// the last close travels with the CLOSED state.
type Machine struct {
	mu      sync.RWMutex
	current State
	code    int
	label   string
	bus     *bus.Bus
}

// NewMachine creates a new state machine starting in Idle state. label
// identifies the channel in published events, usually its endpoint.
func NewMachine(b *bus.Bus, label string) *Machine {
	return &Machine{
		current: Idle,
		label:   label,
		bus:     b,
	}
}

// Current returns the current state.
func (m *Machine) Current() State {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.current
}

// CloseCode returns the code of the last close, or 0 if the channel never closed.
func (m *Machine) CloseCode() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.code
}

// Transition attempts to move to a new state. Returns error if transition is invalid.
func (m *Machine) Transition(to State) error {
	return m.transition(to, 0)
}

// Close moves the machine to Closed and records the close code. Closing an
// already closed machine only replaces the code.
func (m *Machine) Close(code int) error {
	return m.transition(Closed, code)
}

func (m *Machine) transition(to State, code int) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if to == Closed && m.current == Closed {
		m.code = code
		return nil
	}
	allowed := validTransitions[m.current]
	if !slices.Contains(allowed, to) {
		return fmt.Errorf("invalid transition from %s to %s", m.current, to)
	}
	from := m.current
	m.current = to
	if to == Closed {
		m.code = code
	}
	m.bus.Emit(bus.ChannelStateChanged, StatusChange{
		Channel: m.label,
		From:    from,
		To:      to,
		Code:    m.code,
	})
	return nil
}

// StatusChange is the payload for channel state change events.
type StatusChange struct {
	Channel string
	From    State
	To      State
	Code    int
}

// Intentional reports whether the change is a normal, requested close.
func (c StatusChange) Intentional() bool {
	return c.To == Closed && c.Code == CodeNormalClosure
}
