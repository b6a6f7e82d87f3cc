// Package tts defines the Provider interface for Text-to-Speech backends.
//
// A TTS provider wraps a speech synthesis service (e.g., Microsoft Edge
// read-aloud voices, ElevenLabs, or a local Coqui server) and presents a
// uniform batch interface: one piece of text in, one encoded audio clip out.
// The clip's container is reported by MIMEType so front ends can label it.
//
// Implementations must be safe for concurrent use.
package tts

import (
	"context"
	"errors"
	"strings"
)

// ErrEmptyInput is returned by Synthesize when text is empty or whitespace.
// Callers that render optional fields should check [Blank] first and skip the
// call instead.
var ErrEmptyInput = errors.New("tts: text is empty")

// ErrNoAudio is returned when a provider answered successfully but produced
// no audio bytes.
var ErrNoAudio = errors.New("tts: provider returned no audio")

// Provider is the abstraction over any TTS backend.
type Provider interface {
	// Synthesize renders text with the given voice and returns the complete
	// encoded clip. Returns ErrEmptyInput for blank text without contacting the
	// backend.
	Synthesize(ctx context.Context, text string, voice VoiceProfile) ([]byte, error)

	// ListVoices returns all voice profiles available from this provider. The list
	// reflects the provider's current catalogue and may change between calls if the
	// underlying service adds or removes voices.
	ListVoices(ctx context.Context) ([]VoiceProfile, error)

	// MIMEType is the media type of every clip returned by Synthesize
	// (e.g., "audio/mpeg").
	MIMEType() string
}

// Blank reports whether text has nothing to synthesise.
func Blank(text string) bool {
	return strings.TrimSpace(text) == ""
}
