package session

import (
	"context"
	"log/slog"
	"sync/atomic"
)

// Compile-time interface assertion.
var _ Store = (*Guard)(nil)

// Guard wraps a [Store] and keeps playback-marker failures from breaking a
// render. Marker reads that fail return the zero Fingerprint and marker
// writes that fail are logged and swallowed. Transcript operations still
// return their errors so a turn is never half-recorded.
//
// Every failure marks the store as degraded until the next success, which
// the readiness probe reports through [Guard.IsDegraded].
//
// All methods are safe for concurrent use.
type Guard struct {
	store    Store
	degraded atomic.Bool
}

// NewGuard wraps store.
func NewGuard(store Store) *Guard {
	return &Guard{store: store}
}

func (g *Guard) observe(err error) error {
	g.degraded.Store(err != nil)
	return err
}

// Append implements [Store].
func (g *Guard) Append(ctx context.Context, sessionID string, turns ...Turn) error {
	return g.observe(g.store.Append(ctx, sessionID, turns...))
}

// All implements [Store].
func (g *Guard) All(ctx context.Context, sessionID string) ([]Turn, error) {
	turns, err := g.store.All(ctx, sessionID)
	return turns, g.observe(err)
}

// Clear implements [Store].
func (g *Guard) Clear(ctx context.Context, sessionID string) error {
	return g.observe(g.store.Clear(ctx, sessionID))
}

// LastPlayed implements [Store]. On failure the zero Fingerprint is returned
// so the newest clip may autoplay again rather than never.
func (g *Guard) LastPlayed(ctx context.Context, sessionID string) (Fingerprint, error) {
	fp, err := g.store.LastPlayed(ctx, sessionID)
	if g.observe(err) != nil {
		slog.Warn("session guard: LastPlayed failed, assuming nothing played",
			"session_id", sessionID,
			"error", err,
		)
		return "", nil
	}
	return fp, nil
}

// MarkPlayed implements [Store]. Failures are logged and swallowed.
func (g *Guard) MarkPlayed(ctx context.Context, sessionID string, fp Fingerprint) error {
	if err := g.observe(g.store.MarkPlayed(ctx, sessionID, fp)); err != nil {
		slog.Warn("session guard: MarkPlayed failed, swallowing error",
			"session_id", sessionID,
			"error", err,
		)
	}
	return nil
}

// Ping checks the wrapped store when it implements [Pinger].
func (g *Guard) Ping(ctx context.Context) error {
	if p, ok := g.store.(Pinger); ok {
		return g.observe(p.Ping(ctx))
	}
	return nil
}

// IsDegraded reports whether the most recent store operation failed.
func (g *Guard) IsDegraded() bool {
	return g.degraded.Load()
}
