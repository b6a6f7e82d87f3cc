// Package stt defines the Provider interface for Speech-to-Text backends.
//
// An STT provider wraps a batch transcription service (e.g., Groq/OpenAI
// Whisper, Deepgram, Google Speech-to-Text, or a local whisper.cpp server) and
// exposes a uniform request/response interface: one complete recording in,
// one Transcript out. Audio is an opaque container blob; providers that need
// raw PCM decode it themselves and report [ErrDecode] when they cannot.
//
// Implementations must be safe for concurrent use.
package stt

import (
	"context"
	"errors"
	"strings"
	"time"
)

// ErrDecode is returned (wrapped) when a provider cannot decode the audio
// container it was given.
var ErrDecode = errors.New("stt: audio could not be decoded")

// ErrEmptyAudio is returned when Transcribe is called with no audio bytes.
var ErrEmptyAudio = errors.New("stt: audio is empty")

// Options carries recognition hints for a single Transcribe call.
type Options struct {
	// Language is the BCP-47 language tag for recognition (e.g., "en-US", "ja").
	// An empty string lets the provider auto-detect the language, if supported.
	Language string

	// Prompt is an optional vocabulary or style hint. Providers that do not
	// accept prompts ignore it.
	Prompt string

	// Format is the audio container. When empty, providers call
	// [DetectFormat] on the audio.
	Format Format
}

// Transcript is the result of a single Transcribe call.
type Transcript struct {
	// Text is the transcribed speech content. It may be empty when the
	// recording contained only silence.
	Text string

	// Language is the language reported by the provider, if any.
	Language string

	// Confidence is the overall confidence score (0.0–1.0). May be zero if the
	// provider does not report confidence.
	Confidence float64

	// Duration is the length of the recording as reported by the provider.
	Duration time.Duration
}

// Provider is the abstraction over any STT backend.
type Provider interface {
	// Transcribe recognises speech in audio. It blocks until the provider has
	// answered or ctx is done. A transport failure returns a wrapped network
	// error; an undecodable recording returns an error wrapping [ErrDecode].
	Transcribe(ctx context.Context, audio []byte, opts Options) (Transcript, error)
}

// BaseLanguage returns the primary subtag of a BCP-47 tag in lower case
// ("en-US" → "en"). Whisper-family models only accept ISO-639-1 codes.
func BaseLanguage(tag string) string {
	if i := strings.IndexAny(tag, "-_"); i >= 0 {
		tag = tag[:i]
	}
	return strings.ToLower(tag)
}
