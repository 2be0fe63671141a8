// Package share opens a local session for remote joining. Peers connect over
// a websocket with a signed join link and see the session's chat.
package share

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/crystal-mush/voxelshare/pkg/chat"
	"github.com/crystal-mush/voxelshare/pkg/events"
	"github.com/gorilla/websocket"
	"github.com/oklog/ulid/v2"
)

// Config holds configuration for the share listener.
type Config struct {
	Addr        string        // listen address (default "127.0.0.1:0")
	PublicHost  string        // host:port advertised in join links (default: listener address)
	JWTSecret   string        // join token key (random per process if empty)
	TokenExpiry time.Duration // join token lifetime (default 24h)
}

// envelope is the frame sent to peers.
type envelope struct {
	Type    string `json:"type"`
	Payload any    `json:"payload"`
}

// Host serves remote peers for the active session.
type Host struct {
	cfg      Config
	bus      *events.Bus
	tokens   *tokens
	upgrader websocket.Upgrader

	// OnPeers, if set, is called with the peer count after every change.
	OnPeers func(n int)

	mu      sync.Mutex
	srv     *http.Server
	link    string
	world   string
	shareID string
	peers   map[string]*peer
}

// NewHost creates a share host publishing bus chat to peers. An empty
// JWTSecret gets a random signing key.
func NewHost(cfg Config, bus *events.Bus) (*Host, error) {
	if cfg.Addr == "" {
		cfg.Addr = "127.0.0.1:0"
	}
	tk, err := newTokens(cfg.JWTSecret, cfg.TokenExpiry)
	if err != nil {
		return nil, err
	}
	return &Host{
		cfg:    cfg,
		bus:    bus,
		tokens: tk,
		peers:  make(map[string]*peer),
	}, nil
}

// Open starts the listener and returns a join link. If the host is already
// open, the existing link is returned.
func (h *Host) Open(ctx context.Context, world string, progress func(string)) (string, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.srv != nil {
		return h.link, nil
	}
	if progress != nil {
		progress("Opening world for remote joining...")
	}

	var lc net.ListenConfig
	ln, err := lc.Listen(ctx, "tcp", h.cfg.Addr)
	if err != nil {
		return "", fmt.Errorf("share: listen %s: %w", h.cfg.Addr, err)
	}

	shareID := ulid.Make().String()
	token, err := h.tokens.issue(world, shareID)
	if err != nil {
		ln.Close()
		return "", fmt.Errorf("share: sign join token: %w", err)
	}

	host := h.cfg.PublicHost
	if host == "" {
		host = ln.Addr().String()
	}
	link := (&url.URL{
		Scheme:   "ws",
		Host:     host,
		Path:     "/join",
		RawQuery: url.Values{"token": {token}}.Encode(),
	}).String()

	mux := http.NewServeMux()
	mux.HandleFunc("GET /join", h.handleJoin)
	mux.HandleFunc("GET /health", h.handleHealth)
	srv := &http.Server{Handler: mux, ReadHeaderTimeout: 10 * time.Second}

	h.srv = srv
	h.link = link
	h.world = world
	h.shareID = shareID

	go func() {
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Printf("share: serve: %v", err)
		}
	}()

	log.Printf("share: %q open on %s", world, ln.Addr())
	h.bus.Emit(events.Event{Type: events.EvShareOpened, Text: link, Data: map[string]any{"world": world}})
	return link, nil
}

// Close stops the listener and disconnects every peer. It reports whether
// the host was open.
func (h *Host) Close() (bool, error) {
	h.mu.Lock()
	if h.srv == nil {
		h.mu.Unlock()
		return false, nil
	}
	srv := h.srv
	peers := h.peers
	h.srv = nil
	h.link = ""
	h.shareID = ""
	h.peers = make(map[string]*peer)
	h.mu.Unlock()

	for _, p := range peers {
		h.bus.Unsubscribe(p)
		p.close()
	}
	err := srv.Close()
	h.notifyPeers(0)
	log.Printf("share: closed (%d peers dropped)", len(peers))
	h.bus.Emit(events.Event{Type: events.EvShareClosed})
	if err != nil {
		return true, fmt.Errorf("share: close: %w", err)
	}
	return true, nil
}

// Link returns the current join link, or "" when closed.
func (h *Host) Link() string {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.link
}

// Peers returns the number of connected peers.
func (h *Host) Peers() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.peers)
}

func (h *Host) notifyPeers(n int) {
	if h.OnPeers != nil {
		h.OnPeers(n)
	}
}

func (h *Host) handleHealth(w http.ResponseWriter, r *http.Request) {
	h.mu.Lock()
	resp := map[string]any{"world": h.world, "peers": len(h.peers)}
	h.mu.Unlock()
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(resp)
}

func (h *Host) handleJoin(w http.ResponseWriter, r *http.Request) {
	claims, err := h.tokens.validate(r.URL.Query().Get("token"))
	if err != nil {
		http.Error(w, "invalid join link", http.StatusUnauthorized)
		return
	}
	h.mu.Lock()
	current := h.shareID
	world := h.world
	h.mu.Unlock()
	if current == "" || claims.ShareID != current {
		http.Error(w, "join link expired", http.StatusUnauthorized)
		return
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("share: upgrade from %s: %v", r.RemoteAddr, err)
		return
	}

	id := ulid.Make().String()
	name := r.URL.Query().Get("name")
	if name == "" {
		name = "peer-" + id[len(id)-4:]
	}
	p := newPeer(id, name, conn)

	h.mu.Lock()
	if h.shareID != current {
		h.mu.Unlock()
		conn.Close()
		return
	}
	h.peers[id] = p
	n := len(h.peers)
	h.mu.Unlock()
	h.notifyPeers(n)

	p.enqueue(envelope{Type: "welcome", Payload: map[string]string{"world": world, "peer": name}})
	h.bus.Subscribe(p)
	log.Printf("share: peer %s (%s) joined from %s", name, id, r.RemoteAddr)
	h.bus.Emit(events.Event{Type: events.EvPeerJoined, Source: id, Text: name + " joined the game"})

	go p.writeLoop()
	p.readLoop(func(text string) {
		h.bus.Emit(chat.Event(id, fmt.Sprintf("<%s> %s", name, text)))
	})

	h.removePeer(p)
}

func (h *Host) removePeer(p *peer) {
	h.bus.Unsubscribe(p)
	p.close()

	h.mu.Lock()
	_, ok := h.peers[p.id]
	delete(h.peers, p.id)
	n := len(h.peers)
	h.mu.Unlock()
	if !ok {
		return
	}
	h.notifyPeers(n)
	log.Printf("share: peer %s left", p.name)
	h.bus.Emit(events.Event{Type: events.EvPeerLeft, Source: p.id, Text: p.name + " left the game"})
}
