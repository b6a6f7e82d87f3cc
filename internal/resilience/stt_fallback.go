package resilience

import (
	"context"
	"errors"

	"github.com/MrWong99/oraltutor/pkg/provider/stt"
)

// STTFallback implements [stt.Provider] with automatic failover across multiple
// STT backends. Each backend has its own circuit breaker.
type STTFallback struct {
	group *FallbackGroup[stt.Provider]
}

// Compile-time interface assertion.
var _ stt.Provider = (*STTFallback)(nil)

// NewSTTFallback creates an [STTFallback] with primary as the preferred backend.
// Empty audio is never retried on a fallback.
func NewSTTFallback(primary stt.Provider, primaryName string, cfg FallbackConfig) *STTFallback {
	if cfg.Kind == "" {
		cfg.Kind = "stt"
	}
	if cfg.Permanent == nil {
		cfg.Permanent = func(err error) bool { return errors.Is(err, stt.ErrEmptyAudio) }
	}
	return &STTFallback{
		group: NewFallbackGroup(primary, primaryName, cfg),
	}
}

// AddFallback registers an additional STT provider as a fallback.
func (f *STTFallback) AddFallback(name string, provider stt.Provider) {
	f.group.AddFallback(name, provider)
}

// Status reports the breaker state of every backend.
func (f *STTFallback) Status() []EntryStatus { return f.group.Status() }

// Transcribe sends the recording to the first healthy provider.
func (f *STTFallback) Transcribe(ctx context.Context, audio []byte, opts stt.Options) (stt.Transcript, error) {
	return ExecuteWithResult(ctx, f.group, func(p stt.Provider) (stt.Transcript, error) {
		return p.Transcribe(ctx, audio, opts)
	})
}
