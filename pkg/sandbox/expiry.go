package sandbox

import (
	"sync"
	"time"
)

// Reaper schedules one-shot expiry timers per session. A timer fires on a
// background goroutine outside any caller's control flow; the expire
// callback supplied by the backend re-checks liveness, force-removes the
// resource and purges the registry entry, swallowing every failure since no
// caller is listening. Scheduling again for the same session cancels and
// replaces the pending timer, which is how timeout extensions are honored.
type Reaper struct {
	mu     sync.Mutex
	timers map[string]*time.Timer
}

func NewReaper() *Reaper {
	return &Reaper{timers: make(map[string]*time.Timer)}
}

// DefaultReaper is the process-wide instance shared by all backends.
var DefaultReaper = NewReaper()

// Schedule arms (or re-arms) the expiry timer for a session.
func (r *Reaper) Schedule(sessionID string, d time.Duration, expire func()) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if t, ok := r.timers[sessionID]; ok {
		t.Stop()
	}
	r.timers[sessionID] = time.AfterFunc(d, func() {
		r.mu.Lock()
		delete(r.timers, sessionID)
		r.mu.Unlock()
		expire()
	})
}

// Cancel disarms the pending timer for a session, if any.
func (r *Reaper) Cancel(sessionID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if t, ok := r.timers[sessionID]; ok {
		t.Stop()
		delete(r.timers, sessionID)
	}
}
