package chat

import (
	"log/slog"
	"sync"
)

// registry owns every live session and the per-user index used for fan-out.
// Both tables mutate under one mutex so they can never disagree. Broadcast
// callers take a snapshot under the lock and enqueue outside it; enqueue
// never blocks, so holding the lock for the copy is cheap.
type registry struct {
	log *slog.Logger

	mu       sync.Mutex
	sessions map[*session]struct{}
	byUser   map[int64]map[string]*session // user id -> session id -> session
}

func newRegistry(log *slog.Logger) *registry {
	return &registry{
		log:      log,
		sessions: make(map[*session]struct{}),
		byUser:   make(map[int64]map[string]*session),
	}
}

func (r *registry) add(s *session) {
	r.mu.Lock()
	r.sessions[s] = struct{}{}
	r.mu.Unlock()
}

// bind indexes an authenticated session under its user id. Concurrent logins
// for the same account coexist: each device is a separate session.
func (r *registry) bind(s *session) {
	userID, ok := s.identity()
	if !ok {
		return
	}

	r.mu.Lock()
	if _, live := r.sessions[s]; live {
		m := r.byUser[userID]
		if m == nil {
			m = make(map[string]*session)
			r.byUser[userID] = m
		}
		m[s.id] = s
	}
	r.mu.Unlock()
}

func (r *registry) remove(s *session) {
	r.mu.Lock()
	delete(r.sessions, s)
	if userID, ok := s.identity(); ok {
		if m := r.byUser[userID]; m != nil {
			delete(m, s.id)
			if len(m) == 0 {
				delete(r.byUser, userID)
			}
		}
	}
	r.mu.Unlock()
}

// sessionsFor snapshots every online session of one user.
func (r *registry) sessionsFor(userID int64) []*session {
	r.mu.Lock()
	defer r.mu.Unlock()

	m := r.byUser[userID]
	if len(m) == 0 {
		return nil
	}
	out := make([]*session, 0, len(m))
	for _, s := range m {
		out = append(out, s)
	}
	return out
}

// authenticated snapshots every logged-in session. Used only by the
// degraded broadcast path when membership cannot be resolved.
func (r *registry) authenticated() []*session {
	r.mu.Lock()
	defer r.mu.Unlock()

	var out []*session
	for s := range r.sessions {
		if _, ok := s.identity(); ok {
			out = append(out, s)
		}
	}
	return out
}

func (r *registry) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.sessions)
}

// closeAll tears down every live session (shutdown path).
func (r *registry) closeAll(reason string) {
	r.mu.Lock()
	snap := make([]*session, 0, len(r.sessions))
	for s := range r.sessions {
		snap = append(snap, s)
	}
	r.mu.Unlock()

	for _, s := range snap {
		s.close(reason)
	}
}
