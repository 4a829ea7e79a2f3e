package sandbox

import "sync"

// Registry is the process-wide session cache, mapping session id to handle.
// It is a cache, not the source of truth: each logical tool invocation may
// arrive in a fresh process with an empty registry, and the runtime itself
// stays authoritative for whether a sandbox still exists. Entries are added
// on create or reattach and removed on kill, expiry, or detected death.
//
// The lock guards map access only and is never held across a runtime call.
type Registry struct {
	mu       sync.Mutex
	sessions map[string]*Session
}

func NewRegistry() *Registry {
	return &Registry{sessions: make(map[string]*Session)}
}

// DefaultRegistry is the single process-wide instance shared by all
// backends. It starts empty at process start; process exit reclaims it.
var DefaultRegistry = NewRegistry()

func (r *Registry) Get(sessionID string) (*Session, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	sess, ok := r.sessions[sessionID]
	return sess, ok
}

func (r *Registry) Put(sess *Session) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sessions[sess.ID] = sess
}

func (r *Registry) Remove(sessionID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.sessions, sessionID)
}

func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.sessions)
}
