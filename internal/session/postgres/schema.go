package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
)

const ddlTurns = `
CREATE TABLE IF NOT EXISTS tutor_turns (
    id          BIGSERIAL    PRIMARY KEY,
    session_id  TEXT         NOT NULL,
    role        TEXT         NOT NULL,
    text        TEXT         NOT NULL DEFAULT '',
    reply       JSONB,
    similarity  DOUBLE PRECISION NOT NULL DEFAULT 0,
    created_at  TIMESTAMPTZ  NOT NULL DEFAULT now()
);

CREATE INDEX IF NOT EXISTS idx_tutor_turns_session_id
    ON tutor_turns (session_id, id);
`

const ddlMarkers = `
CREATE TABLE IF NOT EXISTS tutor_playback_markers (
    session_id   TEXT         PRIMARY KEY,
    fingerprint  TEXT         NOT NULL,
    updated_at   TIMESTAMPTZ  NOT NULL DEFAULT now()
);
`

// Migrate creates the transcript and playback-marker tables if they do not
// exist. It is idempotent and is called by [New].
func Migrate(ctx context.Context, pool *pgxpool.Pool) error {
	for _, stmt := range []struct {
		name string
		sql  string
	}{
		{"turns", ddlTurns},
		{"markers", ddlMarkers},
	} {
		if _, err := pool.Exec(ctx, stmt.sql); err != nil {
			return fmt.Errorf("migrate %s: %w", stmt.name, err)
		}
	}
	return nil
}
