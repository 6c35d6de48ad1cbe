package stream

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/hashicorp/golang-lru/v2/expirable"
)

// DefaultSessionID identifies the shared session used by single-stream
// callers such as POST /predict and the local camera.
const DefaultSessionID = "default"

// Registry maps session IDs to their State. Idle sessions expire after the
// configured TTL and the least recently used session is evicted at capacity.
// The default session is never evicted.
type Registry struct {
	orch  *Orchestrator
	def   *State
	cache *expirable.LRU[string, *State]

	// serializes create-if-absent
	mu sync.Mutex
}

// NewRegistry creates a registry holding up to size sessions, each expiring
// ttl after its last use. Zero size or ttl disables the respective limit.
func NewRegistry(o *Orchestrator, size int, ttl time.Duration) *Registry {
	onEvict := func(id string, _ *State) {
		o.metrics.ActiveSessions.Add(context.Background(), -1)
		o.log.WithField("session", id).Debug("session evicted")
	}
	return &Registry{
		orch:  o,
		def:   o.NewState(DefaultSessionID),
		cache: expirable.NewLRU[string, *State](size, onEvict, ttl),
	}
}

// Default returns the shared session.
func (r *Registry) Default() *State { return r.def }

// Create starts a new session with a random ID.
func (r *Registry) Create() *State {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.add(uuid.NewString())
}

// Get returns the session for id and refreshes its expiry.
func (r *Registry) Get(id string) (*State, bool) {
	if id == DefaultSessionID {
		return r.def, true
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	st, ok := r.cache.Get(id)
	if ok {
		r.cache.Add(id, st)
	}
	return st, ok
}

// GetOrCreate returns the session for id, creating it if absent.
func (r *Registry) GetOrCreate(id string) *State {
	if id == DefaultSessionID {
		return r.def
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if st, ok := r.cache.Get(id); ok {
		r.cache.Add(id, st)
		return st
	}
	return r.add(id)
}

// Touch refreshes the expiry of a session held by a long-lived owner such as
// a WebSocket connection. A session already expired or evicted is registered
// again under its ID, so later lookups reach st rather than a new State.
func (r *Registry) Touch(st *State) {
	id := st.ID()
	if id == DefaultSessionID {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.cache.Peek(id)
	r.cache.Add(id, st)
	if !ok {
		r.orch.metrics.ActiveSessions.Add(context.Background(), 1)
		r.orch.log.WithField("session", id).Debug("session restored")
	}
}

func (r *Registry) add(id string) *State {
	st := r.orch.NewState(id)
	r.cache.Add(id, st)
	r.orch.metrics.ActiveSessions.Add(context.Background(), 1)
	return st
}

// Remove deletes the session for id. It reports whether it existed.
// The default session cannot be removed; it is reset instead.
func (r *Registry) Remove(id string) bool {
	if id == DefaultSessionID {
		r.def.Reset()
		return true
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.cache.Remove(id)
}

// Len returns the number of live sessions, excluding the default session.
func (r *Registry) Len() int { return r.cache.Len() }

// IDs returns the live session IDs, oldest first.
func (r *Registry) IDs() []string { return r.cache.Keys() }
