package share

import (
	"context"
	"encoding/json"
	"net/http"
	"net/url"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/crystal-mush/voxelshare/pkg/chat"
	"github.com/crystal-mush/voxelshare/pkg/events"
	"github.com/gorilla/websocket"
)

// chatRecorder captures chat events emitted on the bus.
type chatRecorder struct {
	ch chan events.Event
}

func (r *chatRecorder) Receive(ev events.Event) {
	if ev.Type == events.EvChat {
		r.ch <- ev
	}
}

func (r *chatRecorder) Closed() bool { return false }

type frame struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload"`
}

func openHost(t *testing.T) (*Host, *events.Bus, string) {
	t.Helper()
	bus := events.NewBus()
	h, err := NewHost(Config{JWTSecret: "test-secret"}, bus)
	if err != nil {
		t.Fatalf("NewHost: %v", err)
	}
	link, err := h.Open(context.Background(), "Shared", nil)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { h.Close() })
	return h, bus, link
}

func mustTokens(t *testing.T, secret string, expiry time.Duration) *tokens {
	t.Helper()
	tk, err := newTokens(secret, expiry)
	if err != nil {
		t.Fatalf("newTokens: %v", err)
	}
	return tk
}

func dial(t *testing.T, link string) *websocket.Conn {
	t.Helper()
	conn, _, err := websocket.DefaultDialer.Dial(link, nil)
	if err != nil {
		t.Fatalf("Dial %s: %v", link, err)
	}
	t.Cleanup(func() { conn.Close() })
	return conn
}

func readFrame(t *testing.T, conn *websocket.Conn) frame {
	t.Helper()
	conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	_, msg, err := conn.ReadMessage()
	if err != nil {
		t.Fatalf("ReadMessage: %v", err)
	}
	var f frame
	if err := json.Unmarshal(msg, &f); err != nil {
		t.Fatalf("decode frame %s: %v", msg, err)
	}
	return f
}

func TestOpenReturnsJoinLink(t *testing.T) {
	h, _, link := openHost(t)
	u, err := url.Parse(link)
	if err != nil {
		t.Fatalf("parse link: %v", err)
	}
	if u.Scheme != "ws" || u.Path != "/join" || u.Query().Get("token") == "" {
		t.Errorf("unexpected join link %q", link)
	}

	again, err := h.Open(context.Background(), "Shared", nil)
	if err != nil || again != link {
		t.Errorf("second Open = %q, %v; want existing link", again, err)
	}
	if h.Link() != link {
		t.Errorf("Link = %q", h.Link())
	}
}

func TestOpenReportsProgress(t *testing.T) {
	h, err := NewHost(Config{}, events.NewBus())
	if err != nil {
		t.Fatalf("NewHost: %v", err)
	}
	defer h.Close()
	var got []string
	if _, err := h.Open(context.Background(), "w", func(s string) { got = append(got, s) }); err != nil {
		t.Fatalf("Open: %v", err)
	}
	if len(got) == 0 {
		t.Error("expected a progress message")
	}
}

func TestPeerChatRelay(t *testing.T) {
	h, bus, link := openHost(t)
	var peers atomic.Int32
	h.OnPeers = func(n int) { peers.Store(int32(n)) }

	rec := &chatRecorder{ch: make(chan events.Event, 8)}
	bus.Subscribe(rec)

	conn := dial(t, link+"&name=alex")
	welcome := readFrame(t, conn)
	if welcome.Type != "welcome" {
		t.Fatalf("first frame = %q, want welcome", welcome.Type)
	}
	var wp map[string]string
	json.Unmarshal(welcome.Payload, &wp)
	if wp["world"] != "Shared" || wp["peer"] != "alex" {
		t.Errorf("welcome payload = %v", wp)
	}
	if h.Peers() != 1 || peers.Load() != 1 {
		t.Errorf("peers = %d (hook %d), want 1", h.Peers(), peers.Load())
	}

	// Operator chat reaches the peer.
	bus.Emit(chat.Event("operator", "World saved"))
	f := readFrame(t, conn)
	if f.Type != "chat" {
		t.Fatalf("frame type = %q, want chat", f.Type)
	}
	var p chat.Packet
	json.Unmarshal(f.Payload, &p)
	if text, _ := p.Text(); text != "World saved" {
		t.Errorf("relayed text = %q", text)
	}
	<-rec.ch // the operator line itself

	// Peer chat is emitted on the bus.
	if err := conn.WriteMessage(websocket.TextMessage, []byte("hi there")); err != nil {
		t.Fatalf("WriteMessage: %v", err)
	}
	select {
	case ev := <-rec.ch:
		if ev.Text != "<alex> hi there" {
			t.Errorf("peer chat = %q", ev.Text)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("peer chat never reached the bus")
	}
}

func TestJoinRejectsBadToken(t *testing.T) {
	h, _, link := openHost(t)
	u, _ := url.Parse(link)

	forged, err := mustTokens(t, "other-secret", 0).issue("Shared", "x")
	if err != nil {
		t.Fatal(err)
	}
	stale, err := h.tokens.issue("Shared", "previous-share")
	if err != nil {
		t.Fatal(err)
	}

	for name, token := range map[string]string{
		"missing": "",
		"garbage": "not-a-jwt",
		"forged":  forged,
		"stale":   stale,
	} {
		q := url.Values{"token": {token}}
		target := "ws://" + u.Host + "/join?" + q.Encode()
		_, resp, err := websocket.DefaultDialer.Dial(target, nil)
		if err == nil {
			t.Errorf("%s: dial succeeded", name)
			continue
		}
		if resp == nil || resp.StatusCode != http.StatusUnauthorized {
			t.Errorf("%s: response = %v, want 401", name, resp)
		}
	}
}

func TestHealth(t *testing.T) {
	_, _, link := openHost(t)
	u, _ := url.Parse(link)
	resp, err := http.Get("http://" + u.Host + "/health")
	if err != nil {
		t.Fatalf("GET /health: %v", err)
	}
	defer resp.Body.Close()
	var body map[string]any
	json.NewDecoder(resp.Body).Decode(&body)
	if body["world"] != "Shared" {
		t.Errorf("health body = %v", body)
	}
}

func TestCloseDropsPeers(t *testing.T) {
	h, _, link := openHost(t)
	conn := dial(t, link)
	readFrame(t, conn)

	closed, err := h.Close()
	if !closed || err != nil {
		t.Fatalf("Close = %v, %v", closed, err)
	}
	conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	if _, _, err := conn.ReadMessage(); err == nil {
		t.Error("peer connection still open after Close")
	}
	if h.Link() != "" || h.Peers() != 0 {
		t.Errorf("after Close: link %q, peers %d", h.Link(), h.Peers())
	}

	closed, err = h.Close()
	if closed || err != nil {
		t.Errorf("second Close = %v, %v; want false, nil", closed, err)
	}
}

func TestTokenClaims(t *testing.T) {
	tk := mustTokens(t, "k", time.Minute)
	s, err := tk.issue("World", "share-1")
	if err != nil {
		t.Fatal(err)
	}
	c, err := tk.validate(s)
	if err != nil {
		t.Fatalf("validate: %v", err)
	}
	if c.World != "World" || c.ShareID != "share-1" || c.Issuer != "voxelshare" {
		t.Errorf("claims = %+v", c)
	}
	if _, err := mustTokens(t, "k2", time.Minute).validate(s); err == nil ||
		!strings.Contains(err.Error(), "invalid token") {
		t.Errorf("validate with wrong key = %v", err)
	}
}

func TestRandomSigningKey(t *testing.T) {
	a := mustTokens(t, "", 0)
	b := mustTokens(t, "", 0)
	if len(a.key) != 32 || string(a.key) == string(b.key) {
		t.Errorf("random keys: %x, %x", a.key, b.key)
	}
	if a.expiry != 24*time.Hour {
		t.Errorf("default expiry = %v", a.expiry)
	}
}
