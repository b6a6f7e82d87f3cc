package session

import (
	"context"
	"errors"
	"sync"
)

// ErrNotFound is returned by [Manager] lookups for unknown session IDs.
var ErrNotFound = errors.New("session: not found")

// Store persists transcripts and playback markers keyed by session ID.
//
// Append must be atomic: either every given turn is stored or none is.
// Clear removes the transcript and the playback marker together.
// Implementations must be safe for concurrent use.
type Store interface {
	// Append adds turns to the end of the session transcript.
	Append(ctx context.Context, sessionID string, turns ...Turn) error

	// All returns the transcript in insertion order. An unknown session has
	// an empty transcript.
	All(ctx context.Context, sessionID string) ([]Turn, error)

	// Clear removes the transcript and resets the playback marker.
	Clear(ctx context.Context, sessionID string) error

	// LastPlayed returns the playback marker, or the zero Fingerprint.
	LastPlayed(ctx context.Context, sessionID string) (Fingerprint, error)

	// MarkPlayed records fp as the last autoplayed clip.
	MarkPlayed(ctx context.Context, sessionID string, fp Fingerprint) error
}

// Forgetter is implemented by stores whose data lives only as long as the
// process. [Manager] calls Forget when it evicts an idle session, since such
// a transcript can never be resumed.
type Forgetter interface {
	Forget(ctx context.Context, sessionID string) error
}

// Pinger is implemented by stores backed by a remote service.
type Pinger interface {
	Ping(ctx context.Context) error
}

var (
	_ Store     = (*MemStore)(nil)
	_ Forgetter = (*MemStore)(nil)
)

// MemStore is an in-process [Store]. Its zero value is ready to use.
type MemStore struct {
	mu       sync.RWMutex
	sessions map[string]*memLog
}

type memLog struct {
	turns  []Turn
	played Fingerprint
}

// NewMemStore returns an empty MemStore.
func NewMemStore() *MemStore {
	return &MemStore{}
}

func (m *MemStore) log(sessionID string) *memLog {
	if m.sessions == nil {
		m.sessions = make(map[string]*memLog)
	}
	l, ok := m.sessions[sessionID]
	if !ok {
		l = &memLog{}
		m.sessions[sessionID] = l
	}
	return l
}

// Append implements [Store].
func (m *MemStore) Append(_ context.Context, sessionID string, turns ...Turn) error {
	if len(turns) == 0 {
		return nil
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	l := m.log(sessionID)
	l.turns = append(l.turns, turns...)
	return nil
}

// All implements [Store]. The returned slice is a copy.
func (m *MemStore) All(_ context.Context, sessionID string) ([]Turn, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	l, ok := m.sessions[sessionID]
	if !ok {
		return []Turn{}, nil
	}
	return append([]Turn{}, l.turns...), nil
}

// Clear implements [Store].
func (m *MemStore) Clear(_ context.Context, sessionID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.sessions, sessionID)
	return nil
}

// LastPlayed implements [Store].
func (m *MemStore) LastPlayed(_ context.Context, sessionID string) (Fingerprint, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if l, ok := m.sessions[sessionID]; ok {
		return l.played, nil
	}
	return "", nil
}

// MarkPlayed implements [Store].
func (m *MemStore) MarkPlayed(_ context.Context, sessionID string, fp Fingerprint) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.log(sessionID).played = fp
	return nil
}

// Forget implements [Forgetter].
func (m *MemStore) Forget(_ context.Context, sessionID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.sessions, sessionID)
	return nil
}

// Len returns the number of sessions holding a transcript or marker.
func (m *MemStore) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.sessions)
}
