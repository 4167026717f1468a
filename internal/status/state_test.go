package status

import (
	"testing"

	"github.com/courtdesk/courtdesk/internal/bus"
)

func TestInitialState(t *testing.T) {
	m := NewMachine(nil, "ws://test")
	if m.Current() != Idle {
		t.Errorf("initial state = %s, want IDLE", m.Current())
	}
	if m.CloseCode() != 0 {
		t.Errorf("initial close code = %d, want 0", m.CloseCode())
	}
}

func TestValidTransitions(t *testing.T) {
	tests := []struct {
		from State
		to   State
	}{
		{Idle, Connecting},
		{Idle, Closed},
		{Connecting, Open},
		{Connecting, Closed},
		{Open, Closed},
		{Closed, Connecting},
	}
	for _, tt := range tests {
		t.Run(string(tt.from)+"->"+string(tt.to), func(t *testing.T) {
			m := NewMachine(nil, "ws://test")
			walkTo(t, m, tt.from)
			if err := m.Transition(tt.to); err != nil {
				t.Errorf("Transition(%s -> %s) error = %v", tt.from, tt.to, err)
			}
			if m.Current() != tt.to {
				t.Errorf("state = %s, want %s", m.Current(), tt.to)
			}
		})
	}
}

func TestInvalidTransitions(t *testing.T) {
	tests := []struct {
		from State
		to   State
	}{
		{Idle, Open},
		{Open, Connecting},
		{Open, Open},
		{Closed, Open},
	}
	for _, tt := range tests {
		t.Run(string(tt.from)+"->"+string(tt.to), func(t *testing.T) {
			m := NewMachine(nil, "ws://test")
			walkTo(t, m, tt.from)
			if err := m.Transition(tt.to); err == nil {
				t.Errorf("Transition(%s -> %s) should fail", tt.from, tt.to)
			}
			if m.Current() != tt.from {
				t.Errorf("state = %s, want %s (unchanged)", m.Current(), tt.from)
			}
		})
	}
}

func TestCloseRecordsCode(t *testing.T) {
	m := NewMachine(nil, "ws://test")
	walkTo(t, m, Open)

	if err := m.Close(1006); err != nil {
		t.Fatal(err)
	}
	if m.CloseCode() != 1006 {
		t.Errorf("close code = %d, want 1006", m.CloseCode())
	}

	// Reconnecting keeps the last code until the next close.
	if err := m.Transition(Connecting); err != nil {
		t.Fatal(err)
	}
	if m.CloseCode() != 1006 {
		t.Errorf("close code after reconnect = %d, want 1006", m.CloseCode())
	}
}

func TestTransitionEmitsEvent(t *testing.T) {
	b := bus.New()
	ch, unsub := b.Subscribe("channel.", 10)
	defer unsub()

	m := NewMachine(b, "ws://host/ws/notifications/")
	walkTo(t, m, Open)
	if err := m.Close(CodeNormalClosure); err != nil {
		t.Fatal(err)
	}

	var last StatusChange
	for i := 0; i < 3; i++ {
		evt := <-ch
		if evt.Kind != bus.ChannelStateChanged {
			t.Fatalf("event kind = %q, want %q", evt.Kind, bus.ChannelStateChanged)
		}
		change, ok := evt.Payload.(StatusChange)
		if !ok {
			t.Fatalf("payload type = %T, want StatusChange", evt.Payload)
		}
		last = change
	}
	if last.From != Open || last.To != Closed {
		t.Errorf("change = %v -> %v, want OPEN -> CLOSED", last.From, last.To)
	}
	if last.Channel != "ws://host/ws/notifications/" {
		t.Errorf("channel = %q", last.Channel)
	}
	if !last.Intentional() {
		t.Error("close with 1000 should be intentional")
	}
}

func TestCloseWhileClosedReplacesCode(t *testing.T) {
	b := bus.New()
	m := NewMachine(b, "ws://test")
	walkTo(t, m, Closed)
	if err := m.Close(1006); err != nil {
		t.Fatal(err)
	}

	ch, unsub := b.Subscribe("channel.", 10)
	defer unsub()
	if err := m.Close(CodeNormalClosure); err != nil {
		t.Fatalf("Close() on closed machine error = %v", err)
	}
	if m.Current() != Closed || m.CloseCode() != CodeNormalClosure {
		t.Errorf("state = %s code = %d, want CLOSED 1000", m.Current(), m.CloseCode())
	}
	select {
	case evt := <-ch:
		t.Errorf("unexpected event %v", evt)
	default:
	}
}

// TestDropReconnectCycle walks the reconnect loop after an abnormal close:
// OPEN → CLOSED(1006) → CONNECTING → OPEN
func TestDropReconnectCycle(t *testing.T) {
	m := NewMachine(nil, "ws://test")
	walkTo(t, m, Open)

	if err := m.Close(1006); err != nil {
		t.Fatal(err)
	}
	for _, s := range []State{Connecting, Open} {
		if err := m.Transition(s); err != nil {
			t.Fatalf("Transition to %s: %v (current: %s)", s, err, m.Current())
		}
	}
}

// walkTo is a helper that transitions the machine to a target state.
func walkTo(t *testing.T, m *Machine, target State) {
	t.Helper()
	paths := map[State][]State{
		Idle:       {},
		Connecting: {Connecting},
		Open:       {Connecting, Open},
		Closed:     {Connecting, Closed},
	}
	for _, s := range paths[target] {
		if err := m.Transition(s); err != nil {
			t.Fatalf("walkTo(%s): %v", target, err)
		}
	}
}
