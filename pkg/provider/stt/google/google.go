// Package google provides an STT provider backed by Google Cloud
// Speech-to-Text (v1 synchronous Recognize). Authentication uses Application
// Default Credentials unless WithCredentialsFile or WithAPIKey is given.
package google

import (
	"context"
	"fmt"
	"strings"

	speech "cloud.google.com/go/speech/apiv1"
	"cloud.google.com/go/speech/apiv1/speechpb"
	"google.golang.org/api/option"

	"github.com/MrWong99/oraltutor/pkg/audio"
	"github.com/MrWong99/oraltutor/pkg/provider/stt"
)

const defaultLanguage = "en-US"

// Compile-time interface assertion.
var _ stt.Provider = (*Provider)(nil)

// recognizeFunc is the single RPC the provider needs; tests replace it.
type recognizeFunc func(ctx context.Context, req *speechpb.RecognizeRequest) (*speechpb.RecognizeResponse, error)

// Provider implements stt.Provider using the Google Cloud Speech API.
type Provider struct {
	client    *speech.Client
	recognize recognizeFunc
	model     string
	language  string
}

// config holds optional configuration for the provider.
type config struct {
	clientOpts []option.ClientOption
	model      string
	language   string
}

// Option is a functional option for Provider.
type Option func(*config)

// WithCredentialsFile authenticates with a service-account JSON key file.
func WithCredentialsFile(path string) Option {
	return func(c *config) {
		c.clientOpts = append(c.clientOpts, option.WithCredentialsFile(path))
	}
}

// WithAPIKey authenticates with an API key instead of ADC.
func WithAPIKey(key string) Option {
	return func(c *config) {
		c.clientOpts = append(c.clientOpts, option.WithAPIKey(key))
	}
}

// WithEndpoint overrides the service endpoint (e.g. a regional endpoint such
// as "eu-speech.googleapis.com:443").
func WithEndpoint(endpoint string) Option {
	return func(c *config) {
		c.clientOpts = append(c.clientOpts, option.WithEndpoint(endpoint))
	}
}

// WithModel selects a recognition model (e.g. "latest_short", "default").
func WithModel(model string) Option {
	return func(c *config) {
		c.model = model
	}
}

// WithLanguage sets the default BCP-47 language code. Defaults to "en-US".
func WithLanguage(lang string) Option {
	return func(c *config) {
		c.language = lang
	}
}

// New dials the Speech API. The caller must call Close when done.
func New(ctx context.Context, opts ...Option) (*Provider, error) {
	cfg := &config{language: defaultLanguage}
	for _, o := range opts {
		o(cfg)
	}

	client, err := speech.NewClient(ctx, cfg.clientOpts...)
	if err != nil {
		return nil, fmt.Errorf("google: create speech client: %w", err)
	}
	p := &Provider{
		client:   client,
		model:    cfg.model,
		language: cfg.language,
	}
	p.recognize = func(ctx context.Context, req *speechpb.RecognizeRequest) (*speechpb.RecognizeResponse, error) {
		return client.Recognize(ctx, req)
	}
	return p, nil
}

// Close releases the underlying gRPC connection.
func (p *Provider) Close() error {
	if p.client != nil {
		return p.client.Close()
	}
	return nil
}

// Transcribe implements stt.Provider.
func (p *Provider) Transcribe(ctx context.Context, recording []byte, opts stt.Options) (stt.Transcript, error) {
	if len(recording) == 0 {
		return stt.Transcript{}, stt.ErrEmptyAudio
	}

	lang := opts.Language
	if lang == "" {
		lang = p.language
	}
	rc, err := recognitionConfig(opts.Format.Resolve(recording), recording)
	if err != nil {
		return stt.Transcript{}, err
	}
	rc.LanguageCode = lang
	rc.Model = p.model
	rc.EnableAutomaticPunctuation = true
	if opts.Prompt != "" {
		rc.SpeechContexts = []*speechpb.SpeechContext{{Phrases: strings.Fields(opts.Prompt)}}
	}

	resp, err := p.recognize(ctx, &speechpb.RecognizeRequest{
		Config: rc,
		Audio: &speechpb.RecognitionAudio{
			AudioSource: &speechpb.RecognitionAudio_Content{Content: recording},
		},
	})
	if err != nil {
		return stt.Transcript{}, fmt.Errorf("google: recognize: %w", err)
	}

	var (
		parts   []string
		confSum float64
	)
	t := stt.Transcript{Language: lang}
	for _, r := range resp.GetResults() {
		alts := r.GetAlternatives()
		if len(alts) == 0 {
			continue
		}
		if s := strings.TrimSpace(alts[0].GetTranscript()); s != "" {
			parts = append(parts, s)
			confSum += float64(alts[0].GetConfidence())
		}
		if lc := r.GetLanguageCode(); lc != "" {
			t.Language = lc
		}
	}
	t.Text = strings.Join(parts, " ")
	if len(parts) > 0 {
		t.Confidence = confSum / float64(len(parts))
	}
	if bt := resp.GetTotalBilledTime(); bt != nil {
		t.Duration = bt.AsDuration()
	}
	return t, nil
}

// recognitionConfig maps a container to the encoding Google expects. WAV and
// FLAC carry their own headers; Opus containers are always 48 kHz.
func recognitionConfig(f stt.Format, recording []byte) (*speechpb.RecognitionConfig, error) {
	switch f {
	case stt.FormatWAV:
		pcm, err := audio.DecodeWAV(recording)
		if err != nil {
			return nil, fmt.Errorf("google: %w: %w", stt.ErrDecode, err)
		}
		return &speechpb.RecognitionConfig{
			Encoding:          speechpb.RecognitionConfig_LINEAR16,
			SampleRateHertz:   int32(pcm.SampleRate),
			AudioChannelCount: int32(pcm.Channels),
		}, nil
	case stt.FormatFLAC:
		return &speechpb.RecognitionConfig{Encoding: speechpb.RecognitionConfig_FLAC}, nil
	case stt.FormatOgg:
		return &speechpb.RecognitionConfig{Encoding: speechpb.RecognitionConfig_OGG_OPUS, SampleRateHertz: 48000}, nil
	case stt.FormatWebM:
		return &speechpb.RecognitionConfig{Encoding: speechpb.RecognitionConfig_WEBM_OPUS, SampleRateHertz: 48000}, nil
	case stt.FormatMP3:
		return &speechpb.RecognitionConfig{Encoding: speechpb.RecognitionConfig_MP3}, nil
	}
	return nil, fmt.Errorf("google: unsupported container %q: %w", f, stt.ErrDecode)
}
