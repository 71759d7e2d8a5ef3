package viewer

import (
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/screenshare/backend/internal/frame"
)

// ErrUnknownSession is returned for operations on a session that is not in
// the registry, which includes viewers that were never authorized.
var ErrUnknownSession = errors.New("unknown session")

// Registry is the table of authorized viewer sessions. A session only
// appears here once admission has authorized it.
type Registry struct {
	mu       sync.RWMutex
	sessions map[string]*Session
}

func NewRegistry() *Registry {
	return &Registry{
		sessions: make(map[string]*Session),
	}
}

// Add inserts the session, stamping StartedAt if unset. Only authorized
// sessions ever reach the registry; callers set State to Authorized or
// Streaming as appropriate.
func (r *Registry) Add(s *Session) {
	r.mu.Lock()
	defer r.mu.Unlock()
	copy := *s
	if copy.State != Streaming {
		copy.State = Authorized
	}
	if copy.StartedAt.IsZero() {
		copy.StartedAt = time.Now()
	}
	r.sessions[copy.ID] = &copy
}

// SetState transitions a registered session, e.g. Authorized to Streaming
// when its delivery loop starts.
func (r *Registry) SetState(id string, state State) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if s, ok := r.sessions[id]; ok {
		s.State = state
	}
}

// Remove deletes the session. Removing an absent or already-removed session
// is a no-op, so concurrent disconnects decrement the count exactly once.
func (r *Registry) Remove(id string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.sessions, id)
}

func (r *Registry) Get(id string) (*Session, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.sessions[id]
	if !ok {
		return nil, false
	}
	copy := *s
	return &copy, true
}

// SetQuality changes the viewer's tier. Returns ErrUnknownSession (and
// leaves the registry unchanged) if the session was never authorized.
func (r *Registry) SetQuality(id string, tier frame.Tier) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.sessions[id]
	if !ok {
		return ErrUnknownSession
	}
	s.Quality = tier
	return nil
}

// Quality returns the viewer's current tier, or ok=false if absent.
func (r *Registry) Quality(id string) (frame.Tier, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.sessions[id]
	if !ok {
		return frame.Low, false
	}
	return s.Quality, true
}

// RecordFrameSent bumps the viewer's delivery counter.
func (r *Registry) RecordFrameSent(id string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if s, ok := r.sessions[id]; ok {
		s.FramesSent++
	}
}

// ReapIdle removes sessions that authorized but never started streaming
// within ttl, so abandoned /verify calls stop counting as viewers. Returns
// the number removed.
func (r *Registry) ReapIdle(ttl time.Duration) int {
	cutoff := time.Now().Add(-ttl)
	r.mu.Lock()
	defer r.mu.Unlock()
	reaped := 0
	for id, s := range r.sessions {
		if s.State == Authorized && s.StartedAt.Before(cutoff) {
			delete(r.sessions, id)
			reaped++
		}
	}
	return reaped
}

// Snapshot returns copies of all sessions, ordered by start time.
func (r *Registry) Snapshot() []*Session {
	r.mu.RLock()
	result := make([]*Session, 0, len(r.sessions))
	for _, s := range r.sessions {
		copy := *s
		result = append(result, &copy)
	}
	r.mu.RUnlock()

	sort.Slice(result, func(i, j int) bool {
		if result[i].StartedAt.Equal(result[j].StartedAt) {
			return result[i].ID < result[j].ID
		}
		return result[i].StartedAt.Before(result[j].StartedAt)
	})
	return result
}

// ActiveCount reports the number of registered viewers. The capture loop
// reads this every cycle to pick its target FPS.
func (r *Registry) ActiveCount() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.sessions)
}
