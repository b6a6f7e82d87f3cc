// Package mock provides a test double for the tts.Provider interface.
//
// Example:
//
//	p := &mock.Provider{Audio: []byte("mp3")}
//	clip, _ := p.Synthesize(ctx, "hello", tts.VoiceProfile{ID: "v"})
package mock

import (
	"context"
	"sync"

	"github.com/MrWong99/oraltutor/pkg/provider/tts"
)

// SynthesizeCall records a single invocation of Provider.Synthesize.
type SynthesizeCall struct {
	// Text is the text passed to Synthesize.
	Text string
	// Voice is the VoiceProfile passed to Synthesize.
	Voice tts.VoiceProfile
}

// Provider is a mock implementation of tts.Provider. Blank text returns
// tts.ErrEmptyInput like the real providers and is not recorded.
type Provider struct {
	mu sync.Mutex

	// Audio is returned by Synthesize when SynthesizeErr is nil.
	Audio []byte

	// SynthesizeErr, if non-nil, is returned as the error from Synthesize.
	SynthesizeErr error

	// SynthesizeFunc, if set, overrides Audio and SynthesizeErr.
	SynthesizeFunc func(ctx context.Context, text string, voice tts.VoiceProfile) ([]byte, error)

	// Voices is returned by ListVoices.
	Voices []tts.VoiceProfile

	// ListVoicesErr, if non-nil, is returned as the error from ListVoices.
	ListVoicesErr error

	// MIME is returned by MIMEType; defaults to "audio/mpeg".
	MIME string

	// SynthesizeCalls records every non-blank call to Synthesize.
	SynthesizeCalls []SynthesizeCall
}

// Synthesize records the call and returns Audio, SynthesizeErr.
func (p *Provider) Synthesize(ctx context.Context, text string, voice tts.VoiceProfile) ([]byte, error) {
	if tts.Blank(text) {
		return nil, tts.ErrEmptyInput
	}
	p.mu.Lock()
	p.SynthesizeCalls = append(p.SynthesizeCalls, SynthesizeCall{Text: text, Voice: voice})
	fn := p.SynthesizeFunc
	out, err := p.Audio, p.SynthesizeErr
	p.mu.Unlock()

	if fn != nil {
		return fn(ctx, text, voice)
	}
	if err != nil {
		return nil, err
	}
	return append([]byte(nil), out...), nil
}

// ListVoices returns Voices, ListVoicesErr.
func (p *Provider) ListVoices(_ context.Context) ([]tts.VoiceProfile, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.ListVoicesErr != nil {
		return nil, p.ListVoicesErr
	}
	return p.Voices, nil
}

// MIMEType returns MIME or "audio/mpeg".
func (p *Provider) MIMEType() string {
	if p.MIME == "" {
		return "audio/mpeg"
	}
	return p.MIME
}

// CallCount returns the number of recorded Synthesize calls. Thread-safe.
func (p *Provider) CallCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.SynthesizeCalls)
}

// Compile-time interface assertion.
var _ tts.Provider = (*Provider)(nil)
