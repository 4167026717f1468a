package bus

import "time"

// Kind names an event. Kinds are dot-separated so subscribers can filter by prefix.
type Kind string

const (
	ChannelStateChanged Kind = "channel.state_changed"
	StreamChanged       Kind = "stream.changed"
	ChatOpened          Kind = "chat.opened"
	ChatClosed          Kind = "chat.closed"
	ChatSendFailed      Kind = "chat.send_failed"
	ChatStaleDiscarded  Kind = "chat.stale_discarded"
	SessionLoggedIn     Kind = "session.logged_in"
	SessionLoggedOut    Kind = "session.logged_out"
)

// Event represents a domain event published on the bus.
type Event struct {
	Kind      Kind
	Timestamp time.Time
	Payload   any
}

// NewEvent stamps an event with the current time.
func NewEvent(kind Kind, payload any) Event {
	return Event{Kind: kind, Timestamp: time.Now(), Payload: payload}
}
