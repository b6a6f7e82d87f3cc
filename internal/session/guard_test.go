package session

import (
	"context"
	"errors"
	"testing"
)

type flakyStore struct {
	MemStore
	err     error
	pingErr error
}

func (f *flakyStore) Append(ctx context.Context, id string, turns ...Turn) error {
	if f.err != nil {
		return f.err
	}
	return f.MemStore.Append(ctx, id, turns...)
}

func (f *flakyStore) LastPlayed(ctx context.Context, id string) (Fingerprint, error) {
	if f.err != nil {
		return "", f.err
	}
	return f.MemStore.LastPlayed(ctx, id)
}

func (f *flakyStore) MarkPlayed(ctx context.Context, id string, fp Fingerprint) error {
	if f.err != nil {
		return f.err
	}
	return f.MemStore.MarkPlayed(ctx, id, fp)
}

func (f *flakyStore) Ping(context.Context) error { return f.pingErr }

func TestGuard_MarkerFailuresSwallowed(t *testing.T) {
	ctx := context.Background()
	inner := &flakyStore{}
	g := NewGuard(inner)

	_ = g.MarkPlayed(ctx, "s", "abc")
	if fp, _ := g.LastPlayed(ctx, "s"); fp != "abc" {
		t.Fatalf("LastPlayed = %q", fp)
	}

	inner.err = errors.New("connection reset")
	if err := g.MarkPlayed(ctx, "s", "def"); err != nil {
		t.Errorf("MarkPlayed err = %v, want nil", err)
	}
	fp, err := g.LastPlayed(ctx, "s")
	if err != nil || !fp.IsZero() {
		t.Errorf("LastPlayed = %q, %v; want zero, nil", fp, err)
	}
	if !g.IsDegraded() {
		t.Error("IsDegraded = false after failure")
	}

	inner.err = nil
	_, _ = g.All(ctx, "s")
	if g.IsDegraded() {
		t.Error("IsDegraded should clear after a success")
	}
}

func TestGuard_TranscriptErrorsPropagate(t *testing.T) {
	boom := errors.New("boom")
	g := NewGuard(&flakyStore{err: boom})
	if err := g.Append(context.Background(), "s", UserTurn("x")); !errors.Is(err, boom) {
		t.Errorf("Append err = %v, want boom", err)
	}
	if !g.IsDegraded() {
		t.Error("IsDegraded = false")
	}
}

func TestGuard_Ping(t *testing.T) {
	down := errors.New("down")
	if err := NewGuard(&flakyStore{pingErr: down}).Ping(context.Background()); !errors.Is(err, down) {
		t.Errorf("Ping err = %v", err)
	}
	if err := NewGuard(NewMemStore()).Ping(context.Background()); err != nil {
		t.Errorf("Ping on MemStore = %v", err)
	}
}
