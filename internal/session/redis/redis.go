// Package redis provides a Redis-backed [session.Store].
//
// Each session uses two keys: a list of JSON-encoded turns and a string
// holding the playback marker. Appends and clears run as MULTI/EXEC
// transactions, and every write refreshes an optional expiry on both keys.
package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"github.com/MrWong99/oraltutor/internal/session"
)

// DefaultPrefix namespaces every key written by the store.
const DefaultPrefix = "oraltutor:session:"

// Compile-time interface checks.
var (
	_ session.Store  = (*Store)(nil)
	_ session.Pinger = (*Store)(nil)
)

// Option configures a [Store].
type Option func(*Store)

// WithPrefix overrides [DefaultPrefix].
func WithPrefix(prefix string) Option {
	return func(s *Store) { s.prefix = prefix }
}

// WithTTL expires a session's keys after d without writes. Zero keeps them
// forever.
func WithTTL(d time.Duration) Option {
	return func(s *Store) { s.ttl = d }
}

// Store is a [session.Store] backed by a go-redis client. It is safe for
// concurrent use.
type Store struct {
	client goredis.UniversalClient
	prefix string
	ttl    time.Duration
}

// New wraps an existing client. The caller owns the client's lifecycle
// unless it calls [Store.Close].
func New(client goredis.UniversalClient, opts ...Option) *Store {
	s := &Store{client: client, prefix: DefaultPrefix}
	for _, o := range opts {
		o(s)
	}
	return s
}

// Dial parses a redis:// URL, connects and verifies the connection.
func Dial(ctx context.Context, url string, opts ...Option) (*Store, error) {
	ropts, err := goredis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("redis store: parse url: %w", err)
	}
	client := goredis.NewClient(ropts)
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("redis store: ping: %w", err)
	}
	return New(client, opts...), nil
}

// Close closes the underlying client.
func (s *Store) Close() error {
	return s.client.Close()
}

// Ping implements [session.Pinger].
func (s *Store) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}

func (s *Store) turnsKey(sessionID string) string  { return s.prefix + sessionID + ":turns" }
func (s *Store) markerKey(sessionID string) string { return s.prefix + sessionID + ":played" }

// Append implements [session.Store].
func (s *Store) Append(ctx context.Context, sessionID string, turns ...session.Turn) error {
	if len(turns) == 0 {
		return nil
	}
	values, err := encodeTurns(turns)
	if err != nil {
		return fmt.Errorf("redis store: append: %w", err)
	}
	key := s.turnsKey(sessionID)
	_, err = s.client.TxPipelined(ctx, func(pipe goredis.Pipeliner) error {
		pipe.RPush(ctx, key, values...)
		s.expire(ctx, pipe, sessionID)
		return nil
	})
	if err != nil {
		return fmt.Errorf("redis store: append: %w", err)
	}
	return nil
}

// All implements [session.Store].
func (s *Store) All(ctx context.Context, sessionID string) ([]session.Turn, error) {
	raw, err := s.client.LRange(ctx, s.turnsKey(sessionID), 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("redis store: all: %w", err)
	}
	turns, err := decodeTurns(raw)
	if err != nil {
		return nil, fmt.Errorf("redis store: all: %w", err)
	}
	return turns, nil
}

// Clear implements [session.Store].
func (s *Store) Clear(ctx context.Context, sessionID string) error {
	_, err := s.client.TxPipelined(ctx, func(pipe goredis.Pipeliner) error {
		pipe.Del(ctx, s.turnsKey(sessionID), s.markerKey(sessionID))
		return nil
	})
	if err != nil {
		return fmt.Errorf("redis store: clear: %w", err)
	}
	return nil
}

// LastPlayed implements [session.Store].
func (s *Store) LastPlayed(ctx context.Context, sessionID string) (session.Fingerprint, error) {
	v, err := s.client.Get(ctx, s.markerKey(sessionID)).Result()
	if errors.Is(err, goredis.Nil) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("redis store: last played: %w", err)
	}
	return session.Fingerprint(v), nil
}

// MarkPlayed implements [session.Store].
func (s *Store) MarkPlayed(ctx context.Context, sessionID string, fp session.Fingerprint) error {
	_, err := s.client.TxPipelined(ctx, func(pipe goredis.Pipeliner) error {
		pipe.Set(ctx, s.markerKey(sessionID), string(fp), 0)
		s.expire(ctx, pipe, sessionID)
		return nil
	})
	if err != nil {
		return fmt.Errorf("redis store: mark played: %w", err)
	}
	return nil
}

func (s *Store) expire(ctx context.Context, pipe goredis.Pipeliner, sessionID string) {
	if s.ttl <= 0 {
		return
	}
	pipe.Expire(ctx, s.turnsKey(sessionID), s.ttl)
	pipe.Expire(ctx, s.markerKey(sessionID), s.ttl)
}

func encodeTurns(turns []session.Turn) ([]any, error) {
	values := make([]any, 0, len(turns))
	for _, t := range turns {
		b, err := json.Marshal(t)
		if err != nil {
			return nil, err
		}
		values = append(values, string(b))
	}
	return values, nil
}

func decodeTurns(raw []string) ([]session.Turn, error) {
	turns := make([]session.Turn, 0, len(raw))
	for i, r := range raw {
		var t session.Turn
		if err := json.Unmarshal([]byte(r), &t); err != nil {
			return nil, fmt.Errorf("decode turn %d: %w", i, err)
		}
		turns = append(turns, t)
	}
	return turns, nil
}
