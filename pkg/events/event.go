package events

import "time"

// EventType classifies events for subscriber-specific handling.
type EventType int

const (
	EvChat        EventType = iota // Chat line shown to the operator
	EvShareOpened                  // Session opened for remote joining
	EvShareClosed                  // Remote joining closed
	EvPeerJoined                   // Remote peer connected
	EvPeerLeft                     // Remote peer disconnected
	EvSaved                        // World flushed to durable storage
	EvReset                        // World wiped
	EvExported                     // World archive downloaded
)

// String returns a human-readable name for the event type.
func (t EventType) String() string {
	switch t {
	case EvChat:
		return "chat"
	case EvShareOpened:
		return "share_opened"
	case EvShareClosed:
		return "share_closed"
	case EvPeerJoined:
		return "peer_joined"
	case EvPeerLeft:
		return "peer_left"
	case EvSaved:
		return "saved"
	case EvReset:
		return "reset"
	case EvExported:
		return "exported"
	default:
		return "unknown"
	}
}

// Event is a structured client event that flows through the bus.
type Event struct {
	Type   EventType
	Source string // who generated the event ("" for the local client)
	Text   string // pre-formatted text
	Data   map[string]any
	Time   time.Time
}
