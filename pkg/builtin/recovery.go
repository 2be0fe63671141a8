package builtin

import (
	"sync"
	"time"
)

// RecoverySlot keeps the store snapshot taken by the last reset. It lives in
// process memory only and is gone when the process exits.
type RecoverySlot struct {
	mu    sync.Mutex
	world string
	data  []byte
	at    time.Time
}

// Put replaces the held snapshot.
func (r *RecoverySlot) Put(world string, data []byte) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.world = world
	r.data = data
	r.at = time.Now()
}

// Get returns the held snapshot, if any.
func (r *RecoverySlot) Get() (world string, data []byte, at time.Time, ok bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.data == nil {
		return "", nil, time.Time{}, false
	}
	return r.world, r.data, r.at, true
}
