// Package session tracks conversation sessions so working-tier memories can be
// scoped to the exchange that produced them and consolidated when it ends.
package session

import (
	"errors"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Errors returned by the registry.
var (
	ErrSessionUnknown = errors.New("session not registered")
	ErrSessionExpired = errors.New("session expired")
)

// Session is one live conversation.
type Session struct {
	ID           string
	StartedAt    time.Time
	LastActiveAt time.Time
	ExpiresAt    time.Time
	Turns        int
}

func (s *Session) clone() Session {
	if s == nil {
		return Session{}
	}
	return *s
}

func (s *Session) expired(now time.Time) bool {
	if s == nil || s.ExpiresAt.IsZero() {
		return false
	}
	return now.After(s.ExpiresAt)
}

// Registry keeps the live session table. Sessions expire after the default
// TTL of inactivity; touching a session extends it.
type Registry struct {
	mu         sync.RWMutex
	sessions   map[string]*Session
	defaultTTL time.Duration
	clock      func() time.Time
}

func NewRegistry(defaultTTL time.Duration) *Registry {
	return &Registry{
		sessions:   make(map[string]*Session),
		defaultTTL: defaultTTL,
		clock:      time.Now,
	}
}

// WithClock injects a clock, used by tests to control expiry.
func (r *Registry) WithClock(clock func() time.Time) *Registry {
	if clock != nil {
		r.clock = clock
	}
	return r
}

func (r *Registry) now() time.Time {
	if r.clock != nil {
		return r.clock()
	}
	return time.Now()
}

// Open returns the session for id, creating it if needed. An empty id opens a
// fresh session under a generated identifier.
func (r *Registry) Open(id string) Session {
	id = strings.TrimSpace(id)
	if id == "" {
		id = uuid.New().String()
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	now := r.now()
	sess := r.sessions[id]
	if sess == nil || sess.expired(now) {
		sess = &Session{ID: id, StartedAt: now}
		r.sessions[id] = sess
	}
	sess.LastActiveAt = now
	if r.defaultTTL > 0 {
		sess.ExpiresAt = now.Add(r.defaultTTL)
	}
	return sess.clone()
}

// Touch records activity on an existing session and extends its expiry.
func (r *Registry) Touch(id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	now := r.now()
	sess := r.sessions[id]
	if sess == nil {
		return ErrSessionUnknown
	}
	if sess.expired(now) {
		delete(r.sessions, id)
		return ErrSessionExpired
	}
	sess.LastActiveAt = now
	sess.Turns++
	if r.defaultTTL > 0 {
		sess.ExpiresAt = now.Add(r.defaultTTL)
	}
	return nil
}

// Get returns a copy of the session.
func (r *Registry) Get(id string) (Session, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	sess := r.sessions[id]
	if sess == nil {
		return Session{}, ErrSessionUnknown
	}
	if sess.expired(r.now()) {
		return Session{}, ErrSessionExpired
	}
	return sess.clone(), nil
}

// Close removes the session and returns its final state so the caller can
// consolidate whatever the session accumulated.
func (r *Registry) Close(id string) (Session, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	sess := r.sessions[id]
	if sess == nil {
		return Session{}, ErrSessionUnknown
	}
	delete(r.sessions, id)
	return sess.clone(), nil
}

// Active lists non-expired session ids in sorted order.
func (r *Registry) Active() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	now := r.now()
	out := make([]string, 0, len(r.sessions))
	for id, sess := range r.sessions {
		if sess.expired(now) {
			continue
		}
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}

// Prune drops expired sessions and returns their ids.
func (r *Registry) Prune() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	now := r.now()
	removed := make([]string, 0)
	for id, sess := range r.sessions {
		if sess.expired(now) {
			delete(r.sessions, id)
			removed = append(removed, id)
		}
	}
	sort.Strings(removed)
	return removed
}
