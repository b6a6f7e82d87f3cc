package resilience

import (
	"context"
	"errors"
	"fmt"

	"github.com/MrWong99/oraltutor/pkg/provider/tts"
)

// TTSFallback implements [tts.Provider] with automatic failover across multiple
// TTS backends. Each backend has its own circuit breaker. All backends must
// produce the same media type.
type TTSFallback struct {
	group *FallbackGroup[tts.Provider]
}

// Compile-time interface assertion.
var _ tts.Provider = (*TTSFallback)(nil)

// NewTTSFallback creates a [TTSFallback] with primary as the preferred backend.
// Blank text is never retried on a fallback.
func NewTTSFallback(primary tts.Provider, primaryName string, cfg FallbackConfig) *TTSFallback {
	if cfg.Kind == "" {
		cfg.Kind = "tts"
	}
	if cfg.Permanent == nil {
		cfg.Permanent = func(err error) bool { return errors.Is(err, tts.ErrEmptyInput) }
	}
	return &TTSFallback{
		group: NewFallbackGroup(primary, primaryName, cfg),
	}
}

// AddFallback registers an additional TTS provider as a fallback. It fails
// when the provider's media type differs from the primary's, since clips are
// labelled with a single type.
func (f *TTSFallback) AddFallback(name string, provider tts.Provider) error {
	if got, want := provider.MIMEType(), f.MIMEType(); got != want {
		return fmt.Errorf("resilience: tts fallback %q produces %s, primary produces %s", name, got, want)
	}
	f.group.AddFallback(name, provider)
	return nil
}

// Status reports the breaker state of every backend.
func (f *TTSFallback) Status() []EntryStatus { return f.group.Status() }

// Synthesize renders text with the first healthy provider.
func (f *TTSFallback) Synthesize(ctx context.Context, text string, voice tts.VoiceProfile) ([]byte, error) {
	return ExecuteWithResult(ctx, f.group, func(p tts.Provider) ([]byte, error) {
		audio, err := p.Synthesize(ctx, text, voice)
		if err == nil && len(audio) == 0 {
			return nil, tts.ErrNoAudio
		}
		return audio, err
	})
}

// ListVoices returns available voices from the first healthy provider.
func (f *TTSFallback) ListVoices(ctx context.Context) ([]tts.VoiceProfile, error) {
	return ExecuteWithResult(ctx, f.group, func(p tts.Provider) ([]tts.VoiceProfile, error) {
		return p.ListVoices(ctx)
	})
}

// MIMEType returns the primary's media type.
func (f *TTSFallback) MIMEType() string {
	return f.group.Primary().MIMEType()
}
