package session

import (
	"context"
	"log/slog"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Info is a snapshot of one live session.
type Info struct {
	ID         string      `json:"id"`
	Voice      VoiceConfig `json:"voice"`
	CreatedAt  time.Time   `json:"created_at"`
	LastActive time.Time   `json:"last_active"`
	Busy       bool        `json:"busy"`
}

// ManagerOption configures a [Manager].
type ManagerOption func(*Manager)

// WithIdleTimeout evicts sessions that have been idle longer than d. Eviction
// happens lazily whenever a session is created. Evicted sessions lose their
// live state. Durable stores keep the transcript; a store implementing
// [Forgetter] drops it. Zero disables eviction.
func WithIdleTimeout(d time.Duration) ManagerOption {
	return func(m *Manager) { m.idle = d }
}

// WithIDFunc overrides the session ID generator. Defaults to a random UUID.
func WithIDFunc(fn func() string) ManagerOption {
	return func(m *Manager) { m.newID = fn }
}

// Manager tracks the live sessions of the process. All exported methods are
// safe for concurrent use.
type Manager struct {
	store Store
	idle  time.Duration
	newID func() string

	mu       sync.Mutex
	sessions map[string]*Session
}

// NewManager returns a Manager whose sessions persist transcripts in store.
func NewManager(store Store, opts ...ManagerOption) *Manager {
	m := &Manager{
		store:    store,
		newID:    uuid.NewString,
		sessions: make(map[string]*Session),
	}
	for _, o := range opts {
		o(m)
	}
	return m
}

// Store returns the backing transcript store.
func (m *Manager) Store() Store { return m.store }

// Create starts a new session with a fresh ID.
func (m *Manager) Create(voice VoiceConfig) *Session {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sweepLocked(time.Now().UTC())
	s := New(m.newID(), m.store, voice)
	m.sessions[s.ID()] = s
	return s
}

// Open returns the live session with the given ID, creating it with voice
// when it does not exist. Front ends with their own stable identity (a chat
// channel and user, an MCP client) use Open so that a restart resumes the
// durable transcript.
func (m *Manager) Open(id string, voice VoiceConfig) *Session {
	m.mu.Lock()
	defer m.mu.Unlock()
	if s, ok := m.sessions[id]; ok {
		return s
	}
	m.sweepLocked(time.Now().UTC())
	s := New(id, m.store, voice)
	m.sessions[id] = s
	return s
}

// Get returns the live session with the given ID or [ErrNotFound].
func (m *Manager) Get(id string) (*Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[id]
	if !ok {
		return nil, ErrNotFound
	}
	return s, nil
}

// Remove drops the live state of a session. The transcript is left in the
// store. It reports whether the session existed.
func (m *Manager) Remove(id string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.sessions[id]
	delete(m.sessions, id)
	return ok
}

// Len returns the number of live sessions.
func (m *Manager) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.sessions)
}

// List returns a snapshot of every live session ordered by creation time.
func (m *Manager) List() []Info {
	m.mu.Lock()
	all := make([]*Session, 0, len(m.sessions))
	for _, s := range m.sessions {
		all = append(all, s)
	}
	m.mu.Unlock()

	infos := make([]Info, 0, len(all))
	for _, s := range all {
		infos = append(infos, Info{
			ID:         s.ID(),
			Voice:      s.Voice(),
			CreatedAt:  s.CreatedAt(),
			LastActive: s.LastActive(),
			Busy:       s.Busy(),
		})
	}
	slices.SortFunc(infos, func(a, b Info) int {
		if c := a.CreatedAt.Compare(b.CreatedAt); c != 0 {
			return c
		}
		return strings.Compare(a.ID, b.ID)
	})
	return infos
}

// sweepLocked evicts idle sessions. m.mu must be held.
func (m *Manager) sweepLocked(now time.Time) {
	if m.idle <= 0 {
		return
	}
	for id, s := range m.sessions {
		if s.Busy() {
			continue
		}
		if now.Sub(s.LastActive()) <= m.idle {
			continue
		}
		delete(m.sessions, id)
		if f, ok := m.store.(Forgetter); ok {
			if err := f.Forget(context.Background(), id); err != nil {
				slog.Warn("session: forget evicted transcript", "session_id", id, "error", err)
			}
		}
	}
}
