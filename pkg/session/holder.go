package session

import (
	"errors"
	"sync"
)

// ErrSessionActive is returned when a second session is started while one
// is still running.
var ErrSessionActive = errors.New("session: a session is already active")

// Holder owns the single active session of the process.
type Holder struct {
	mu  sync.RWMutex
	cur *Server
}

// Set makes s the active session. A previous session that has quit is
// replaced; a running one is not.
func (h *Holder) Set(s *Server) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.cur != nil && !h.cur.Closed() {
		return ErrSessionActive
	}
	h.cur = s
	return nil
}

// Current returns the active session, if any. Sessions that have quit are
// not active.
func (h *Holder) Current() (*Server, bool) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	if h.cur == nil || h.cur.Closed() {
		return nil, false
	}
	return h.cur, true
}

// Active reports whether a session is running.
func (h *Holder) Active() bool {
	_, ok := h.Current()
	return ok
}

// Release clears the holder if s is the held session.
func (h *Holder) Release(s *Server) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.cur != s {
		return false
	}
	h.cur = nil
	return true
}
