package session

import (
	"context"
	"sync"
	"testing"
)

func TestMemStore_AppendAllClear(t *testing.T) {
	ctx := context.Background()
	var m MemStore

	turns, err := m.All(ctx, "s1")
	if err != nil || len(turns) != 0 || turns == nil {
		t.Fatalf("All on unknown session = %v, %v; want empty non-nil", turns, err)
	}

	_ = m.Append(ctx, "s1", UserTurn("hello"), AssistantTurn(Reply{Correction: "ok", Interaction: "hi"}))
	_ = m.Append(ctx, "s2", UserTurn("other"))
	_ = m.Append(ctx, "s1")

	turns, _ = m.All(ctx, "s1")
	if len(turns) != 2 || turns[0].Role != RoleUser || turns[1].Role != RoleAssistant {
		t.Fatalf("turns = %+v", turns)
	}

	turns[0].Text = "mutated"
	again, _ := m.All(ctx, "s1")
	if again[0].Text != "hello" {
		t.Error("All must return a copy")
	}

	_ = m.MarkPlayed(ctx, "s1", "abc")
	if err := m.Clear(ctx, "s1"); err != nil {
		t.Fatalf("Clear: %v", err)
	}
	if turns, _ := m.All(ctx, "s1"); len(turns) != 0 {
		t.Errorf("after Clear: %d turns", len(turns))
	}
	if fp, _ := m.LastPlayed(ctx, "s1"); !fp.IsZero() {
		t.Errorf("after Clear: marker = %q", fp)
	}
	if turns, _ := m.All(ctx, "s2"); len(turns) != 1 {
		t.Error("Clear must not touch other sessions")
	}
}

func TestMemStore_ConcurrentPairsStayAdjacent(t *testing.T) {
	ctx := context.Background()
	m := NewMemStore()
	var wg sync.WaitGroup
	for i := range 50 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = m.Append(ctx, "s", UserTurn(string(rune('a'+i%26))), AssistantTurn(Reply{Interaction: "x"}))
		}()
	}
	wg.Wait()

	turns, _ := m.All(ctx, "s")
	if len(turns) != 100 {
		t.Fatalf("turns = %d, want 100", len(turns))
	}
	for i, tr := range turns {
		want := RoleUser
		if i%2 == 1 {
			want = RoleAssistant
		}
		if tr.Role != want {
			t.Fatalf("turn %d role = %s, want %s", i, tr.Role, want)
		}
	}
}

func TestFingerprint(t *testing.T) {
	a := FingerprintOf([]byte("audio"))
	if a != FingerprintText("audio") {
		t.Error("FingerprintOf and FingerprintText disagree")
	}
	if a == FingerprintText("audio!") {
		t.Error("different content must differ")
	}
	if len(a) != 64 || a.IsZero() {
		t.Errorf("fingerprint = %q", a)
	}
}
