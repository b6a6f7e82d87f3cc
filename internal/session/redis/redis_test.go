package redis

import (
	"context"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/MrWong99/oraltutor/internal/session"
)

func TestKeys(t *testing.T) {
	s := New(nil, WithPrefix("t:"))
	if got := s.turnsKey("abc"); got != "t:abc:turns" {
		t.Errorf("turnsKey = %q", got)
	}
	if got := s.markerKey("abc"); got != "t:abc:played" {
		t.Errorf("markerKey = %q", got)
	}
	if New(nil).prefix != DefaultPrefix {
		t.Error("default prefix not applied")
	}
}

func TestEncodeDecodeTurns(t *testing.T) {
	in := []session.Turn{
		session.UserTurn("안녕하세요"),
		session.AssistantTurn(session.Reply{Correction: "好", Interaction: "반가워요!", Expansion: []string{"네"}}),
	}
	values, err := encodeTurns(in)
	if err != nil {
		t.Fatalf("encodeTurns: %v", err)
	}
	raw := make([]string, len(values))
	for i, v := range values {
		raw[i] = v.(string)
	}
	out, err := decodeTurns(raw)
	if err != nil {
		t.Fatalf("decodeTurns: %v", err)
	}
	if out[0].Text != "안녕하세요" || out[1].Reply == nil || out[1].Reply.Interaction != "반가워요!" {
		t.Errorf("decoded = %+v", out)
	}

	if _, err := decodeTurns([]string{"{not json"}); err == nil || !strings.Contains(err.Error(), "decode turn 0") {
		t.Errorf("err = %v", err)
	}
}

// testStore connects to ORALTUTOR_TEST_REDIS_URL or skips.
func testStore(t *testing.T) *Store {
	t.Helper()
	url := os.Getenv("ORALTUTOR_TEST_REDIS_URL")
	if url == "" {
		t.Skip("ORALTUTOR_TEST_REDIS_URL not set, skipping Redis integration tests")
	}
	prefix := "oraltutor-test:" + time.Now().Format("150405.000000") + ":"
	s, err := Dial(context.Background(), url, WithPrefix(prefix), WithTTL(time.Minute))
	if err != nil {
		t.Fatalf("Dial: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestStore_Integration(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()

	if err := s.Append(ctx, "a", session.UserTurn("Bonjour"), session.AssistantTurn(session.Reply{Interaction: "Salut !"})); err != nil {
		t.Fatalf("Append: %v", err)
	}
	turns, err := s.All(ctx, "a")
	if err != nil || len(turns) != 2 {
		t.Fatalf("All = %d, %v", len(turns), err)
	}
	if ttl := s.client.TTL(ctx, s.turnsKey("a")).Val(); ttl <= 0 {
		t.Errorf("TTL = %v, want > 0", ttl)
	}

	_ = s.MarkPlayed(ctx, "a", "fp")
	if fp, _ := s.LastPlayed(ctx, "a"); fp != "fp" {
		t.Errorf("LastPlayed = %q", fp)
	}
	if err := s.Clear(ctx, "a"); err != nil {
		t.Fatalf("Clear: %v", err)
	}
	if turns, _ := s.All(ctx, "a"); len(turns) != 0 {
		t.Error("turns survived Clear")
	}
	if fp, _ := s.LastPlayed(ctx, "a"); !fp.IsZero() {
		t.Error("marker survived Clear")
	}
}

func TestDial_BadURL(t *testing.T) {
	if _, err := Dial(context.Background(), "http://not-redis"); err == nil {
		t.Fatal("expected parse error")
	}
}
