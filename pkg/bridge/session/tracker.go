// Package session tracks remote agent sessions and ages them out after a
// period of inactivity.
package session

import (
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/AnkleBreaker-Studio/unity-mcp-plugin-sub003/internal/observability"
)

const (
	DefaultIdleTimeout   = 30 * time.Minute
	DefaultActionLogSize = 100
)

// Action is one entry of a session's bounded activity log.
type Action struct {
	At      time.Time `json:"at"`
	Summary string    `json:"summary"`
}

// Session is one tracked remote agent.
type Session struct {
	ID             string   `json:"id"`
	CreatedAt      time.Time `json:"created_at"`
	LastActivityAt time.Time `json:"last_activity_at"`
	ActionLog      []Action  `json:"action_log"`
}

// Summary is the read-only view returned by List.
type Summary struct {
	ID             string    `json:"id"`
	CreatedAt      time.Time `json:"created_at"`
	LastActivityAt time.Time `json:"last_activity_at"`
	ActionCount    int       `json:"action_count"`
}

// Tracker owns the session table. All methods are safe for concurrent use.
type Tracker struct {
	mu          sync.Mutex
	sessions    map[string]*Session
	idleTimeout time.Duration
	logSize     int
	now         func() time.Time
}

// Option configures a Tracker.
type Option func(*Tracker)

// WithIdleTimeout overrides the inactivity threshold.
func WithIdleTimeout(d time.Duration) Option {
	return func(t *Tracker) {
		if d > 0 {
			t.idleTimeout = d
		}
	}
}

// WithActionLogSize overrides the per-session action log bound.
func WithActionLogSize(n int) Option {
	return func(t *Tracker) {
		if n > 0 {
			t.logSize = n
		}
	}
}

// WithClock injects a clock, for tests.
func WithClock(now func() time.Time) Option {
	return func(t *Tracker) {
		t.now = now
	}
}

// NewTracker creates a session tracker.
func NewTracker(opts ...Option) *Tracker {
	observability.EnsureRegistered()

	t := &Tracker{
		sessions:    make(map[string]*Session),
		idleTimeout: DefaultIdleTimeout,
		logSize:     DefaultActionLogSize,
		now:         time.Now,
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// Touch returns the session for id, creating it on first sight, updating its
// last-activity time and appending summary to its action log. An empty id
// gets a generated one; the caller reads it back from the returned session.
func (t *Tracker) Touch(id, summary string) *Session {
	t.mu.Lock()
	defer t.mu.Unlock()

	now := t.now()

	if id == "" {
		id = uuid.New().String()
	}

	s, ok := t.sessions[id]
	if !ok {
		s = &Session{
			ID:        id,
			CreatedAt: now,
		}
		t.sessions[id] = s
		log.Debug().Str("session_id", id).Msg("Session created")
		observability.SetActiveSessions(len(t.sessions))
	}

	s.LastActivityAt = now
	if summary != "" {
		s.ActionLog = append(s.ActionLog, Action{At: now, Summary: summary})
		if len(s.ActionLog) > t.logSize {
			// Evict oldest; copy so the backing array does not pin them.
			trimmed := make([]Action, t.logSize)
			copy(trimmed, s.ActionLog[len(s.ActionLog)-t.logSize:])
			s.ActionLog = trimmed
		}
	}

	return s
}

// Get returns the session for id, or nil.
func (t *Tracker) Get(id string) *Session {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.sessions[id]
}

// Prune removes sessions whose last activity is older than the idle timeout
// and returns their ids. Completed work of a pruned session is unaffected;
// a later submission under the same id starts a fresh session.
func (t *Tracker) Prune(now time.Time) []string {
	t.mu.Lock()
	defer t.mu.Unlock()

	var removed []string
	for id, s := range t.sessions {
		if now.Sub(s.LastActivityAt) > t.idleTimeout {
			delete(t.sessions, id)
			removed = append(removed, id)
		}
	}

	if len(removed) > 0 {
		log.Info().Int("count", len(removed)).Msg("Pruned idle sessions")
		observability.RecordPrunedSessions(len(removed))
		observability.SetActiveSessions(len(t.sessions))
	}

	return removed
}

// List returns summaries for all tracked sessions.
func (t *Tracker) List() []Summary {
	t.mu.Lock()
	defer t.mu.Unlock()

	out := make([]Summary, 0, len(t.sessions))
	for _, s := range t.sessions {
		out = append(out, Summary{
			ID:             s.ID,
			CreatedAt:      s.CreatedAt,
			LastActivityAt: s.LastActivityAt,
			ActionCount:    len(s.ActionLog),
		})
	}
	return out
}

// Count returns the number of tracked sessions.
func (t *Tracker) Count() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.sessions)
}

// IdleTimeout reports the configured inactivity threshold.
func (t *Tracker) IdleTimeout() time.Duration {
	return t.idleTimeout
}
