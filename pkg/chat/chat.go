// Package chat builds the chat packets the client shows to the operator and
// posts them on the event bus.
package chat

import (
	"encoding/json"
	"fmt"

	"github.com/crystal-mush/voxelshare/pkg/events"
)

// Packet is the protocol-shaped chat payload. Message holds the JSON
// encoding of a text component, e.g. {"text":"World saved"}.
type Packet struct {
	Message string `json:"message"`
}

type component struct {
	Text string `json:"text"`
}

// NewPacket wraps plain text in a chat packet.
func NewPacket(text string) Packet {
	b, _ := json.Marshal(component{Text: text})
	return Packet{Message: string(b)}
}

// Text decodes the text component carried by the packet.
func (p Packet) Text() (string, error) {
	var c component
	if err := json.Unmarshal([]byte(p.Message), &c); err != nil {
		return "", fmt.Errorf("chat: decode message: %w", err)
	}
	return c.Text, nil
}

// Writer accepts chat text destined for the operator.
type Writer interface {
	WriteText(text string)
}

// BusWriter posts chat packets on an event bus as EvChat events.
type BusWriter struct {
	Bus    *events.Bus
	Source string
}

// WriteText emits text as a chat event carrying its packet.
func (w BusWriter) WriteText(text string) {
	w.Bus.Emit(Event(w.Source, text))
}

// Event builds the EvChat event for text.
func Event(source, text string) events.Event {
	return events.Event{
		Type:   events.EvChat,
		Source: source,
		Text:   text,
		Data:   map[string]any{"packet": NewPacket(text)},
	}
}

// PacketOf returns the packet attached to a chat event, building one from
// the event text when none is attached.
func PacketOf(ev events.Event) Packet {
	if p, ok := ev.Data["packet"].(Packet); ok {
		return p
	}
	return NewPacket(ev.Text)
}
