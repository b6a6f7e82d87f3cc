package resilience

import (
	"context"
	"errors"
	"testing"

	"github.com/MrWong99/oraltutor/pkg/provider/stt"
	sttmock "github.com/MrWong99/oraltutor/pkg/provider/stt/mock"
)

func TestSTTFallback_Transcribe_PrimarySuccess(t *testing.T) {
	primary := &sttmock.Provider{Result: stt.Transcript{Text: "hello"}}
	secondary := &sttmock.Provider{Result: stt.Transcript{Text: "other"}}

	fb := NewSTTFallback(primary, "groq", FallbackConfig{
		CircuitBreaker: CircuitBreakerConfig{MaxFailures: 3},
	})
	fb.AddFallback("whisper", secondary)

	tr, err := fb.Transcribe(context.Background(), []byte("audio"), stt.Options{Language: "en-US"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if tr.Text != "hello" {
		t.Errorf("Text = %q, want hello", tr.Text)
	}
	if primary.CallCount() != 1 || secondary.CallCount() != 0 {
		t.Errorf("calls = %d/%d, want 1/0", primary.CallCount(), secondary.CallCount())
	}
	if primary.Calls[0].Opts.Language != "en-US" {
		t.Errorf("options not forwarded: %+v", primary.Calls[0].Opts)
	}
}

func TestSTTFallback_Transcribe_Failover(t *testing.T) {
	primary := &sttmock.Provider{Err: errors.New("primary down")}
	secondary := &sttmock.Provider{Result: stt.Transcript{Text: "from secondary"}}

	fb := NewSTTFallback(primary, "groq", FallbackConfig{
		CircuitBreaker: CircuitBreakerConfig{MaxFailures: 3},
	})
	fb.AddFallback("whisper", secondary)

	tr, err := fb.Transcribe(context.Background(), []byte("audio"), stt.Options{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if tr.Text != "from secondary" {
		t.Errorf("Text = %q", tr.Text)
	}
}

func TestSTTFallback_Transcribe_EmptyAudioNotRetried(t *testing.T) {
	primary := &sttmock.Provider{Err: stt.ErrEmptyAudio}
	secondary := &sttmock.Provider{Result: stt.Transcript{Text: "x"}}

	fb := NewSTTFallback(primary, "groq", FallbackConfig{})
	fb.AddFallback("whisper", secondary)

	_, err := fb.Transcribe(context.Background(), nil, stt.Options{})
	if !errors.Is(err, stt.ErrEmptyAudio) {
		t.Fatalf("err = %v, want ErrEmptyAudio", err)
	}
	if secondary.CallCount() != 0 {
		t.Error("fallback should not be tried for empty audio")
	}
}

func TestSTTFallback_Transcribe_AllFail(t *testing.T) {
	primary := &sttmock.Provider{Err: errors.New("primary down")}
	secondary := &sttmock.Provider{Err: errors.New("secondary down")}

	fb := NewSTTFallback(primary, "groq", FallbackConfig{})
	fb.AddFallback("whisper", secondary)

	_, err := fb.Transcribe(context.Background(), []byte("audio"), stt.Options{})
	if !errors.Is(err, ErrAllFailed) {
		t.Fatalf("err = %v, want ErrAllFailed", err)
	}
}
