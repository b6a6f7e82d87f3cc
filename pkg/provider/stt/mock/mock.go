// Package mock provides a test double for the stt.Provider interface.
//
// Use Provider to verify which recordings the caller submits and to feed
// controlled Transcript values without a live STT backend.
//
// Example:
//
//	p := &mock.Provider{Result: stt.Transcript{Text: "hello"}}
//	t, _ := p.Transcribe(ctx, recording, stt.Options{})
package mock

import (
	"context"
	"sync"

	"github.com/MrWong99/oraltutor/pkg/provider/stt"
)

// TranscribeCall records a single invocation of Provider.Transcribe.
type TranscribeCall struct {
	// Ctx is the context passed to Transcribe.
	Ctx context.Context
	// Audio is a copy of the recording passed to Transcribe.
	Audio []byte
	// Opts is the Options passed to Transcribe.
	Opts stt.Options
}

// Provider is a mock implementation of stt.Provider.
type Provider struct {
	mu sync.Mutex

	// Result is returned by Transcribe when Err is nil.
	Result stt.Transcript

	// Err, if non-nil, is returned as the error from Transcribe.
	Err error

	// TranscribeFunc, if set, overrides Result and Err.
	TranscribeFunc func(ctx context.Context, audio []byte, opts stt.Options) (stt.Transcript, error)

	// Calls records every call to Transcribe in order.
	Calls []TranscribeCall
}

// Transcribe records the call and returns Result, Err.
func (p *Provider) Transcribe(ctx context.Context, audio []byte, opts stt.Options) (stt.Transcript, error) {
	p.mu.Lock()
	p.Calls = append(p.Calls, TranscribeCall{Ctx: ctx, Audio: append([]byte(nil), audio...), Opts: opts})
	fn := p.TranscribeFunc
	res, err := p.Result, p.Err
	p.mu.Unlock()

	if fn != nil {
		return fn(ctx, audio, opts)
	}
	if err != nil {
		return stt.Transcript{}, err
	}
	return res, nil
}

// CallCount returns the number of recorded Transcribe calls. Thread-safe.
func (p *Provider) CallCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.Calls)
}

// Reset clears all recorded calls. Thread-safe.
func (p *Provider) Reset() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.Calls = nil
}

// Compile-time interface assertion.
var _ stt.Provider = (*Provider)(nil)
