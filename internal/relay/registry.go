package relay

import (
	"log"
	"sync"
)

// Registry maps device identifiers to their single live session. Every
// operation runs under one mutex; they are O(1) and never block on I/O.
type Registry struct {
	mu        sync.Mutex
	sessions  map[string]*Session
	listeners []func(deviceID string)
	metrics   *Metrics
}

func NewRegistry(m *Metrics) *Registry {
	if m == nil {
		m = NewMetrics(nil)
	}
	return &Registry{
		sessions: make(map[string]*Session),
		metrics:  m,
	}
}

// OnConnect adds a listener that runs after every successful Register, once
// the new session is visible to Lookup. Listeners run synchronously on the
// registering goroutine.
func (r *Registry) OnConnect(fn func(deviceID string)) {
	r.mu.Lock()
	r.listeners = append(r.listeners, fn)
	r.mu.Unlock()
}

// Register installs s as the live session for its device and returns the
// session it superseded, if any. The caller is responsible for closing the
// returned session.
func (r *Registry) Register(s *Session) *Session {
	r.mu.Lock()
	prev := r.sessions[s.deviceID]
	r.sessions[s.deviceID] = s
	r.metrics.sessions.Set(float64(len(r.sessions)))
	listeners := make([]func(string), len(r.listeners))
	copy(listeners, r.listeners)
	r.mu.Unlock()

	if prev != nil {
		r.metrics.replaced.Inc()
		log.Printf("relay: device %s reconnected, replacing session %d with %d", s.deviceID, prev.id, s.id)
	} else {
		log.Printf("relay: device %s connected (session %d)", s.deviceID, s.id)
	}

	for _, fn := range listeners {
		fn(s.deviceID)
	}
	return prev
}

// Unregister removes s only if it is still the live session for its device.
// A superseded session calling Unregister late is a no-op.
func (r *Registry) Unregister(s *Session) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	cur, ok := r.sessions[s.deviceID]
	if !ok || cur.id != s.id {
		return false
	}
	delete(r.sessions, s.deviceID)
	r.metrics.sessions.Set(float64(len(r.sessions)))
	log.Printf("relay: device %s disconnected (session %d)", s.deviceID, s.id)
	return true
}

func (r *Registry) Lookup(deviceID string) (*Session, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.sessions[deviceID]
	return s, ok
}

func (r *Registry) IsConnected(deviceID string) bool {
	_, ok := r.Lookup(deviceID)
	return ok
}

// Disconnect closes and removes the live session for deviceID, reporting
// whether there was one.
func (r *Registry) Disconnect(deviceID string) bool {
	r.mu.Lock()
	s, ok := r.sessions[deviceID]
	if ok {
		delete(r.sessions, deviceID)
		r.metrics.sessions.Set(float64(len(r.sessions)))
	}
	r.mu.Unlock()
	if !ok {
		return false
	}
	s.Close()
	log.Printf("relay: device %s disconnected by server (session %d)", deviceID, s.id)
	return true
}

func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.sessions)
}
