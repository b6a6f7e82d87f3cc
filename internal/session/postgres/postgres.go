// Package postgres provides a PostgreSQL-backed [session.Store].
//
// Turns are rows of tutor_turns ordered by their BIGSERIAL id; the assistant
// reply is kept as JSONB. The playback marker lives in
// tutor_playback_markers. Append and Clear run in a single transaction.
//
// Usage:
//
//	store, err := postgres.New(ctx, dsn)
//	if err != nil { … }
//	defer store.Close()
package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/MrWong99/oraltutor/internal/session"
)

// Compile-time interface checks.
var (
	_ session.Store  = (*Store)(nil)
	_ session.Pinger = (*Store)(nil)
)

// Store is a [session.Store] backed by a [pgxpool.Pool]. All operations are
// safe for concurrent use.
type Store struct {
	pool *pgxpool.Pool
}

// New connects to the database at dsn, verifies the connection and runs
// [Migrate].
func New(ctx context.Context, dsn string) (*Store, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("postgres store: parse dsn: %w", err)
	}

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("postgres store: create pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("postgres store: ping: %w", err)
	}

	if err := Migrate(ctx, pool); err != nil {
		pool.Close()
		return nil, fmt.Errorf("postgres store: %w", err)
	}
	return &Store{pool: pool}, nil
}

// Close releases all pooled connections.
func (s *Store) Close() {
	s.pool.Close()
}

// Ping implements [session.Pinger].
func (s *Store) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

// Append implements [session.Store]. All turns are inserted in one
// transaction.
func (s *Store) Append(ctx context.Context, sessionID string, turns ...session.Turn) error {
	if len(turns) == 0 {
		return nil
	}
	const q = `
		INSERT INTO tutor_turns (session_id, role, text, reply, similarity, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)`

	return pgx.BeginFunc(ctx, s.pool, func(tx pgx.Tx) error {
		batch := &pgx.Batch{}
		for _, t := range turns {
			reply, err := encodeReply(t.Reply)
			if err != nil {
				return fmt.Errorf("session store: append: %w", err)
			}
			batch.Queue(q, sessionID, string(t.Role), t.Text, reply, t.Similarity, t.CreatedAt)
		}
		if err := tx.SendBatch(ctx, batch).Close(); err != nil {
			return fmt.Errorf("session store: append: %w", err)
		}
		return nil
	})
}

// All implements [session.Store].
func (s *Store) All(ctx context.Context, sessionID string) ([]session.Turn, error) {
	const q = `
		SELECT role, text, reply, similarity, created_at
		FROM   tutor_turns
		WHERE  session_id = $1
		ORDER  BY id`

	rows, err := s.pool.Query(ctx, q, sessionID)
	if err != nil {
		return nil, fmt.Errorf("session store: all: %w", err)
	}
	return collectTurns(rows)
}

// Clear implements [session.Store].
func (s *Store) Clear(ctx context.Context, sessionID string) error {
	err := pgx.BeginFunc(ctx, s.pool, func(tx pgx.Tx) error {
		if _, err := tx.Exec(ctx, `DELETE FROM tutor_turns WHERE session_id = $1`, sessionID); err != nil {
			return err
		}
		_, err := tx.Exec(ctx, `DELETE FROM tutor_playback_markers WHERE session_id = $1`, sessionID)
		return err
	})
	if err != nil {
		return fmt.Errorf("session store: clear: %w", err)
	}
	return nil
}

// LastPlayed implements [session.Store].
func (s *Store) LastPlayed(ctx context.Context, sessionID string) (session.Fingerprint, error) {
	var fp string
	err := s.pool.QueryRow(ctx,
		`SELECT fingerprint FROM tutor_playback_markers WHERE session_id = $1`, sessionID,
	).Scan(&fp)
	if errors.Is(err, pgx.ErrNoRows) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("session store: last played: %w", err)
	}
	return session.Fingerprint(fp), nil
}

// MarkPlayed implements [session.Store].
func (s *Store) MarkPlayed(ctx context.Context, sessionID string, fp session.Fingerprint) error {
	const q = `
		INSERT INTO tutor_playback_markers (session_id, fingerprint, updated_at)
		VALUES ($1, $2, now())
		ON CONFLICT (session_id) DO UPDATE
		SET    fingerprint = EXCLUDED.fingerprint,
		       updated_at  = EXCLUDED.updated_at`

	if _, err := s.pool.Exec(ctx, q, sessionID, string(fp)); err != nil {
		return fmt.Errorf("session store: mark played: %w", err)
	}
	return nil
}

// encodeReply returns the JSONB value for r, or nil for user turns.
func encodeReply(r *session.Reply) ([]byte, error) {
	if r == nil {
		return nil, nil
	}
	return json.Marshal(r)
}

// collectTurns scans pgx rows into a slice of Turn values.
func collectTurns(rows pgx.Rows) ([]session.Turn, error) {
	turns, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (session.Turn, error) {
		var (
			t     session.Turn
			role  string
			reply []byte
		)
		if err := row.Scan(&role, &t.Text, &reply, &t.Similarity, &t.CreatedAt); err != nil {
			return session.Turn{}, err
		}
		t.Role = session.Role(role)
		if len(reply) > 0 {
			t.Reply = &session.Reply{}
			if err := json.Unmarshal(reply, t.Reply); err != nil {
				return session.Turn{}, fmt.Errorf("decode reply: %w", err)
			}
		}
		return t, nil
	})
	if err != nil {
		return nil, fmt.Errorf("session store: scan rows: %w", err)
	}
	if turns == nil {
		turns = []session.Turn{}
	}
	return turns, nil
}
