package session

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/camara-coder/talking-game/internal/metrics"
)

// Persister is the optional storage backend for session resume and delete.
// The registry is fully functional with a nil Persister (in-memory only).
type Persister interface {
	LoadSession(ctx context.Context, id string) (Info, []Turn, error)
	DeleteSession(ctx context.Context, id string) error
}

// Registry owns the process-wide map of live sessions. It bounds concurrency
// by evicting the oldest idle session at capacity and sweeps out sessions
// with no activity for the configured timeout.
type Registry struct {
	maxSessions int
	timeout     time.Duration
	store       Persister

	mu       sync.Mutex
	sessions map[string]*Session

	cancel context.CancelFunc
	done   chan struct{}
}

// NewRegistry creates a registry. store may be nil.
func NewRegistry(maxSessions int, timeout time.Duration, store Persister) *Registry {
	return &Registry{
		maxSessions: maxSessions,
		timeout:     timeout,
		store:       store,
		sessions:    make(map[string]*Session),
	}
}

// Start launches the periodic expiry sweep. Stop must be called to shut it down.
func (r *Registry) Start(interval time.Duration) {
	ctx, cancel := context.WithCancel(context.Background())
	r.cancel = cancel
	r.done = make(chan struct{})

	go func() {
		defer close(r.done)
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				r.sweepExpired()
			}
		}
	}()
}

// Stop cancels the sweep goroutine and waits for it to exit.
func (r *Registry) Stop() {
	if r.cancel == nil {
		return
	}
	r.cancel()
	<-r.done
}

// Create registers a new session, evicting the oldest idle session if the
// concurrent-session ceiling is reached.
func (r *Registry) Create(id, language, mode string) *Session {
	s := New(id, language, mode)

	r.mu.Lock()
	if len(r.sessions) >= r.maxSessions {
		r.evictOldestIdleLocked()
	}
	r.sessions[s.ID] = s
	r.mu.Unlock()

	metrics.SessionsActive.Set(float64(r.Count()))
	slog.Info("session created", "session_id", s.ID, "language", language, "mode", mode)
	return s
}

// Get returns the live session for id.
func (r *Registry) Get(id string) (*Session, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.sessions[id]
	return s, ok
}

// ResumeOrCreate returns the live session for id, resurrecting it from the
// store if present there, or creating a fresh one.
func (r *Registry) ResumeOrCreate(ctx context.Context, id string) *Session {
	if s, ok := r.Get(id); ok {
		return s
	}

	if r.store != nil {
		info, turns, err := r.store.LoadSession(ctx, id)
		if err == nil {
			s := r.Create(id, info.Language, info.Mode)
			s.RestoreTurns(turns)
			slog.Info("session resumed from store", "session_id", id, "turns", len(turns))
			return s
		}
		slog.Debug("session not in store", "session_id", id, "error", err)
	}

	return r.Create(id, "en", "ptt")
}

// Delete removes the session from the registry and, when a store is
// configured, from persistence. Reports whether a live session was removed.
func (r *Registry) Delete(ctx context.Context, id string) bool {
	r.mu.Lock()
	_, ok := r.sessions[id]
	delete(r.sessions, id)
	r.mu.Unlock()

	if r.store != nil {
		if err := r.store.DeleteSession(ctx, id); err != nil {
			slog.Warn("delete persisted session", "session_id", id, "error", err)
		}
	}

	if ok {
		metrics.SessionsActive.Set(float64(r.Count()))
		slog.Info("session deleted", "session_id", id)
	}
	return ok
}

// Release removes the session from the live registry without touching
// persisted rows, so a stopped conversation can still be resumed later.
func (r *Registry) Release(id string) (*Session, bool) {
	r.mu.Lock()
	s, ok := r.sessions[id]
	delete(r.sessions, id)
	r.mu.Unlock()

	if ok {
		metrics.SessionsActive.Set(float64(r.Count()))
		slog.Info("session released", "session_id", id)
	}
	return s, ok
}

// Count returns the number of live sessions.
func (r *Registry) Count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.sessions)
}

// evictOldestIdleLocked removes the idle session with the oldest activity
// timestamp. Sessions with a turn in flight are never evicted here.
func (r *Registry) evictOldestIdleLocked() {
	var oldestID string
	var oldestAt time.Time
	for id, s := range r.sessions {
		if s.Status() != StatusIdle {
			continue
		}
		at := s.LastActivity()
		if oldestID == "" || at.Before(oldestAt) {
			oldestID, oldestAt = id, at
		}
	}
	if oldestID == "" {
		slog.Warn("session ceiling reached with no idle session to evict", "max", r.maxSessions)
		return
	}
	delete(r.sessions, oldestID)
	metrics.SessionsEvicted.WithLabelValues("capacity").Inc()
	slog.Info("evicted oldest idle session", "session_id", oldestID)
}

// sweepExpired drops sessions whose last activity is older than the timeout.
// Activity, not in-flight state, decides expiry: a session mid-turn keeps a
// fresh timestamp from its own transitions.
func (r *Registry) sweepExpired() {
	now := time.Now().UTC()

	r.mu.Lock()
	var expired []string
	for id, s := range r.sessions {
		if now.Sub(s.LastActivity()) > r.timeout {
			expired = append(expired, id)
		}
	}
	for _, id := range expired {
		delete(r.sessions, id)
	}
	r.mu.Unlock()

	if len(expired) > 0 {
		metrics.SessionsActive.Set(float64(r.Count()))
		for _, id := range expired {
			metrics.SessionsEvicted.WithLabelValues("timeout").Inc()
			slog.Info("expired idle session", "session_id", id)
		}
	}
}
