// Package openai provides an STT provider backed by the OpenAI audio
// transcription API. Any OpenAI-compatible endpoint works through
// WithBaseURL; Groq serves whisper-large-v3 at https://api.groq.com/openai/v1.
package openai

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	oai "github.com/openai/openai-go"
	"github.com/openai/openai-go/option"

	"github.com/MrWong99/oraltutor/pkg/provider/stt"
)

// Compile-time interface assertion.
var _ stt.Provider = (*Provider)(nil)

// Provider implements stt.Provider using the OpenAI audio transcription API.
type Provider struct {
	client oai.Client
	model  string
}

// config holds optional configuration for the provider.
type config struct {
	baseURL string
	timeout time.Duration
}

// Option is a functional option for Provider.
type Option func(*config)

// WithBaseURL overrides the default OpenAI API base URL.
func WithBaseURL(url string) Option {
	return func(c *config) {
		c.baseURL = url
	}
}

// WithTimeout sets a per-request HTTP timeout.
func WithTimeout(d time.Duration) Option {
	return func(c *config) {
		c.timeout = d
	}
}

// New constructs a new transcription Provider for model (e.g.
// "whisper-large-v3", "whisper-1"). The SDK's automatic retries are disabled.
func New(apiKey, model string, opts ...Option) (*Provider, error) {
	if apiKey == "" {
		return nil, errors.New("openai: apiKey must not be empty")
	}
	if model == "" {
		return nil, errors.New("openai: model must not be empty")
	}

	cfg := &config{}
	for _, o := range opts {
		o(cfg)
	}

	reqOpts := []option.RequestOption{
		option.WithAPIKey(apiKey),
		option.WithMaxRetries(0),
	}
	if cfg.baseURL != "" {
		reqOpts = append(reqOpts, option.WithBaseURL(cfg.baseURL))
	}
	if cfg.timeout > 0 {
		reqOpts = append(reqOpts, option.WithHTTPClient(&http.Client{Timeout: cfg.timeout}))
	}

	return &Provider{client: oai.NewClient(reqOpts...), model: model}, nil
}

// Transcribe implements stt.Provider.
func (p *Provider) Transcribe(ctx context.Context, audio []byte, opts stt.Options) (stt.Transcript, error) {
	if len(audio) == 0 {
		return stt.Transcript{}, stt.ErrEmptyAudio
	}

	format := opts.Format.Resolve(audio)
	params := oai.AudioTranscriptionNewParams{
		File:           oai.File(bytes.NewReader(audio), format.Filename(), format.MIMEType()),
		Model:          oai.AudioModel(p.model),
		ResponseFormat: oai.AudioResponseFormatJSON,
	}
	lang := stt.BaseLanguage(opts.Language)
	if lang != "" {
		params.Language = oai.String(lang)
	}
	if opts.Prompt != "" {
		params.Prompt = oai.String(opts.Prompt)
	}

	resp, err := p.client.Audio.Transcriptions.New(ctx, params)
	if err != nil {
		// A 400 means the service could not read the upload.
		var apiErr *oai.Error
		if errors.As(err, &apiErr) && apiErr.StatusCode == http.StatusBadRequest {
			return stt.Transcript{}, fmt.Errorf("openai: transcription: %w: %w", stt.ErrDecode, err)
		}
		return stt.Transcript{}, fmt.Errorf("openai: transcription: %w", err)
	}

	return stt.Transcript{Text: strings.TrimSpace(resp.Text), Language: lang}, nil
}
