package session

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"
)

// ErrBusy is returned when a turn or a clear is attempted while another turn
// of the same session is still in flight.
var ErrBusy = errors.New("session: a turn is already in progress")

// VoiceConfig is the learner's language and voice selection. It lives only
// as long as the Session.
type VoiceConfig struct {
	Language string `json:"language"`
	VoiceID  string `json:"voice_id"`
}

// Session is the live state of one learner conversation. The transcript and
// playback marker are delegated to a [Store]; the busy gate, voice selection
// and last-input fingerprint are held in memory.
//
// All methods are safe for concurrent use.
type Session struct {
	id        string
	store     Store
	createdAt time.Time

	// turn is held for the duration of one turn or clear.
	turn sync.Mutex

	// play serializes autoplay claims.
	play sync.Mutex

	mu         sync.Mutex
	voice      VoiceConfig
	lastInput  Fingerprint
	lastActive time.Time
}

// New returns a Session with the given ID backed by store.
func New(id string, store Store, voice VoiceConfig) *Session {
	now := time.Now().UTC()
	return &Session{
		id:         id,
		store:      store,
		voice:      voice,
		createdAt:  now,
		lastActive: now,
	}
}

// ID returns the session identifier.
func (s *Session) ID() string { return s.id }

// CreatedAt returns when the session was created.
func (s *Session) CreatedAt() time.Time { return s.createdAt }

// LastActive returns the time of the last turn, clear or voice change.
func (s *Session) LastActive() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastActive
}

func (s *Session) touch() {
	s.mu.Lock()
	s.lastActive = time.Now().UTC()
	s.mu.Unlock()
}

// Voice returns the current voice selection.
func (s *Session) Voice() VoiceConfig {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.voice
}

// SetVoice replaces the voice selection. It takes effect for the next turn
// and the next render.
func (s *Session) SetVoice(v VoiceConfig) {
	s.mu.Lock()
	s.voice = v
	s.lastActive = time.Now().UTC()
	s.mu.Unlock()
}

// Begin acquires the busy gate for one turn. It never blocks: when a turn is
// already in flight it returns [ErrBusy]. The returned release func must be
// called exactly once.
func (s *Session) Begin() (release func(), err error) {
	if !s.turn.TryLock() {
		return nil, ErrBusy
	}
	var once sync.Once
	return func() {
		once.Do(func() {
			s.touch()
			s.turn.Unlock()
		})
	}, nil
}

// Busy reports whether a turn is currently in flight.
func (s *Session) Busy() bool {
	if !s.turn.TryLock() {
		return true
	}
	s.turn.Unlock()
	return false
}

// RecordInput stores fp as the last processed input and reports whether it
// differs from the previous one. Only exact immediate repeats are reported
// as duplicates. Callers hold the busy gate.
func (s *Session) RecordInput(fp Fingerprint) (fresh bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !fp.IsZero() && fp == s.lastInput {
		return false
	}
	s.lastInput = fp
	return true
}

// Append adds turns to the transcript. Callers hold the busy gate.
func (s *Session) Append(ctx context.Context, turns ...Turn) error {
	if err := s.store.Append(ctx, s.id, turns...); err != nil {
		return fmt.Errorf("session: append: %w", err)
	}
	return nil
}

// Turns returns the transcript in conversation order.
func (s *Session) Turns(ctx context.Context) ([]Turn, error) {
	turns, err := s.store.All(ctx, s.id)
	if err != nil {
		return nil, fmt.Errorf("session: load transcript: %w", err)
	}
	return turns, nil
}

// Clear empties the transcript and resets the playback marker and the
// last-input fingerprint. It returns [ErrBusy] while a turn is in flight.
func (s *Session) Clear(ctx context.Context) error {
	release, err := s.Begin()
	if err != nil {
		return err
	}
	defer release()

	s.play.Lock()
	defer s.play.Unlock()
	if err := s.store.Clear(ctx, s.id); err != nil {
		return fmt.Errorf("session: clear: %w", err)
	}
	s.mu.Lock()
	s.lastInput = ""
	s.mu.Unlock()
	return nil
}

// ClaimAutoplay applies [ShouldAutoplay] against the stored playback marker
// and, when it allows playback, records fp as played. The caller must emit
// the autoplay if and only if ClaimAutoplay returns true.
func (s *Session) ClaimAutoplay(ctx context.Context, clip Clip, turnIndex, lastIndex int, fp Fingerprint) (bool, error) {
	s.play.Lock()
	defer s.play.Unlock()

	marker, err := s.store.LastPlayed(ctx, s.id)
	if err != nil {
		return false, fmt.Errorf("session: read playback marker: %w", err)
	}
	if !ShouldAutoplay(clip, turnIndex, lastIndex, fp, marker) {
		return false, nil
	}
	if err := s.store.MarkPlayed(ctx, s.id, fp); err != nil {
		return false, fmt.Errorf("session: mark played: %w", err)
	}
	return true, nil
}
