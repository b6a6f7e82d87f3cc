// This file contains the NativeProvider implementation backed by the
// whisper.cpp CGO bindings. The whisper.cpp static library (libwhisper.a)
// and headers (whisper.h) must be available at link time via LIBRARY_PATH
// and C_INCLUDE_PATH environment variables.

package whisper

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"time"

	"github.com/MrWong99/oraltutor/pkg/audio"
	"github.com/MrWong99/oraltutor/pkg/provider/stt"
	whisperlib "github.com/ggerganov/whisper.cpp/bindings/go/pkg/whisper"
)

// whisperSampleRate is the only sample rate whisper.cpp accepts.
const whisperSampleRate = 16000

// Compile-time assertion that NativeProvider satisfies stt.Provider.
var _ stt.Provider = (*NativeProvider)(nil)

// NativeProvider implements stt.Provider using whisper.cpp Go bindings
// (CGO), eliminating HTTP overhead entirely. The model is loaded once at
// startup and shared across all calls.
type NativeProvider struct {
	model    whisperlib.Model
	language string
}

// NativeOption is a functional option for configuring a NativeProvider.
type NativeOption func(*NativeProvider)

// WithNativeLanguage sets the default language code for transcription
// (e.g., "en", "de", "fr"). Defaults to "en".
func WithNativeLanguage(lang string) NativeOption {
	return func(p *NativeProvider) { p.language = lang }
}

// NewNative creates a NativeProvider that loads the whisper.cpp model from
// the given file path. The caller must call Close when the provider is no
// longer needed.
func NewNative(modelPath string, opts ...NativeOption) (*NativeProvider, error) {
	if modelPath == "" {
		return nil, errors.New("whisper: modelPath must not be empty")
	}
	model, err := whisperlib.New(modelPath)
	if err != nil {
		return nil, fmt.Errorf("whisper: load model %q: %w", modelPath, err)
	}

	p := &NativeProvider{
		model:    model,
		language: defaultLanguage,
	}
	for _, o := range opts {
		o(p)
	}
	return p, nil
}

// Close releases the whisper model. Must be called when the provider is no
// longer needed.
func (p *NativeProvider) Close() error {
	if p.model != nil {
		return p.model.Close()
	}
	return nil
}

// Transcribe implements stt.Provider. The recording must be a 16-bit PCM WAV
// file; other containers return an error wrapping stt.ErrDecode.
func (p *NativeProvider) Transcribe(ctx context.Context, recording []byte, opts stt.Options) (stt.Transcript, error) {
	if len(recording) == 0 {
		return stt.Transcript{}, stt.ErrEmptyAudio
	}
	if err := ctx.Err(); err != nil {
		return stt.Transcript{}, fmt.Errorf("whisper: %w", err)
	}

	samples, dur, err := decodeSamples(recording)
	if err != nil {
		return stt.Transcript{}, err
	}

	lang := stt.BaseLanguage(opts.Language)
	if lang == "" {
		lang = p.language
	}

	// Each context is NOT thread-safe, but the model can be shared across
	// goroutines.
	wctx, err := p.model.NewContext()
	if err != nil {
		return stt.Transcript{}, fmt.Errorf("whisper: create context: %w", err)
	}
	if err := wctx.SetLanguage(lang); err != nil {
		slog.WarnContext(ctx, "whisper: failed to set language, using default", "language", lang, "error", err)
	}
	if opts.Prompt != "" {
		wctx.SetInitialPrompt(opts.Prompt)
	}

	if err := wctx.Process(samples, nil, nil, nil); err != nil {
		return stt.Transcript{}, fmt.Errorf("whisper: process audio: %w", err)
	}

	var parts []string
	for {
		segment, err := wctx.NextSegment()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return stt.Transcript{}, fmt.Errorf("whisper: read segment: %w", err)
		}
		if text := strings.TrimSpace(segment.Text); text != "" {
			parts = append(parts, text)
		}
	}

	return stt.Transcript{
		Text:     strings.Join(parts, " "),
		Language: lang,
		Duration: dur,
	}, nil
}

// decodeSamples turns a WAV recording into 16 kHz mono float32 samples.
func decodeSamples(recording []byte) ([]float32, time.Duration, error) {
	pcm, err := audio.DecodeWAV(recording)
	if err != nil {
		return nil, 0, fmt.Errorf("whisper: %w: %w", stt.ErrDecode, err)
	}
	mono := audio.DownmixMono16(pcm.Data, pcm.Channels)
	mono = audio.ResampleMono16(mono, pcm.SampleRate, whisperSampleRate)
	samples := audio.Float32Mono16(mono)
	dur := time.Duration(len(samples)) * time.Second / whisperSampleRate
	return samples, dur, nil
}
