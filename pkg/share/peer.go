package share

import (
	"encoding/json"
	"log"
	"sync"
	"time"

	"github.com/crystal-mush/voxelshare/pkg/chat"
	"github.com/crystal-mush/voxelshare/pkg/events"
	"github.com/gorilla/websocket"
)

const (
	writeWait   = 10 * time.Second
	maxFrame    = 4096
	sendBacklog = 64
)

// peer is one remote connection. It subscribes to the session bus and
// forwards chat to the socket.
type peer struct {
	id   string
	name string
	conn *websocket.Conn

	send chan []byte
	done chan struct{}
	once sync.Once
}

func newPeer(id, name string, conn *websocket.Conn) *peer {
	return &peer{
		id:   id,
		name: name,
		conn: conn,
		send: make(chan []byte, sendBacklog),
		done: make(chan struct{}),
	}
}

// Receive implements events.Subscriber.
func (p *peer) Receive(ev events.Event) {
	switch ev.Type {
	case events.EvChat:
		p.enqueue(envelope{Type: "chat", Payload: chat.PacketOf(ev)})
	case events.EvPeerJoined, events.EvPeerLeft:
		if ev.Source != p.id {
			p.enqueue(envelope{Type: "chat", Payload: chat.NewPacket(ev.Text)})
		}
	}
}

// Closed implements events.Subscriber.
func (p *peer) Closed() bool {
	select {
	case <-p.done:
		return true
	default:
		return false
	}
}

func (p *peer) enqueue(env envelope) {
	b, err := json.Marshal(env)
	if err != nil {
		log.Printf("share: encode %s frame: %v", env.Type, err)
		return
	}
	select {
	case <-p.done:
	case p.send <- b:
	default:
		log.Printf("share: peer %s backlog full, dropping %s frame", p.name, env.Type)
	}
}

func (p *peer) close() {
	p.once.Do(func() {
		close(p.done)
		p.conn.Close()
	})
}

func (p *peer) writeLoop() {
	for {
		select {
		case <-p.done:
			return
		case b := <-p.send:
			p.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := p.conn.WriteMessage(websocket.TextMessage, b); err != nil {
				p.close()
				return
			}
		}
	}
}

// readLoop passes each text frame to onText until the connection fails.
func (p *peer) readLoop(onText func(string)) {
	p.conn.SetReadLimit(maxFrame)
	for {
		kind, msg, err := p.conn.ReadMessage()
		if err != nil {
			return
		}
		if kind != websocket.TextMessage || len(msg) == 0 {
			continue
		}
		onText(string(msg))
	}
}
