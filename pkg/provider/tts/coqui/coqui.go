// Package coqui synthesises clips on a self-hosted Coqui server. Both the
// plain TTS server (ghcr.io/coqui-ai/tts-cpu, GET /api/tts) and the XTTS v2
// API server (POST /tts_to_audio/) are supported; see [APIMode].
//
//	p, err := coqui.New("http://localhost:5002", coqui.WithLanguage("ja"))
//	wav, err := p.Synthesize(ctx, "おはようございます", tts.VoiceProfile{ID: "p225"})
//
// Clips are WAV. They are validated before being returned, so a server that
// answers 200 with an empty or broken body surfaces as an error the fallback
// group can act on.
package coqui

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"maps"
	"net/http"
	"net/url"
	"slices"
	"strings"
	"time"

	"github.com/MrWong99/oraltutor/pkg/audio"
	"github.com/MrWong99/oraltutor/pkg/provider/tts"
)

var _ tts.Provider = (*Provider)(nil)

// Server paths.
const (
	apiTTSEndpoint         = "/api/tts"
	detailsEndpoint        = "/details"
	ttsEndpoint            = "/tts_to_audio/"
	studioSpeakersEndpoint = "/studio_speakers"
)

// APIMode selects the server flavour.
type APIMode string

const (
	// APIModeStandard is the plain Coqui TTS server. Default.
	APIModeStandard APIMode = "standard"
	// APIModeXTTS is the XTTS v2 API server. Voices are studio speakers and
	// a voice ID is mandatory.
	APIModeXTTS APIMode = "xtts"
)

// Option configures a [Provider].
type Option func(*Provider)

// WithLanguage sets the language sent when the voice has none. Default "en".
func WithLanguage(lang string) Option {
	return func(p *Provider) { p.language = lang }
}

// WithTimeout bounds each HTTP request. Default 30s.
func WithTimeout(d time.Duration) Option {
	return func(p *Provider) { p.client.Timeout = d }
}

// WithAPIMode selects the server flavour.
func WithAPIMode(mode APIMode) Option {
	return func(p *Provider) { p.apiMode = mode }
}

// WithOutputSampleRate resamples mono clips to rate. Zero keeps the model's
// rate.
func WithOutputSampleRate(rate int) Option {
	return func(p *Provider) { p.outputRate = rate }
}

// Provider talks to one Coqui server.
type Provider struct {
	serverURL  string
	language   string
	apiMode    APIMode
	outputRate int
	client     *http.Client
}

// New returns a Provider for the server at serverURL.
func New(serverURL string, opts ...Option) (*Provider, error) {
	if serverURL == "" {
		return nil, errors.New("coqui: server URL is required")
	}
	p := &Provider{
		serverURL: strings.TrimRight(serverURL, "/"),
		language:  "en",
		apiMode:   APIModeStandard,
		client:    &http.Client{Timeout: 30 * time.Second},
	}
	for _, opt := range opts {
		opt(p)
	}
	switch p.apiMode {
	case APIModeStandard, APIModeXTTS:
	default:
		return nil, fmt.Errorf("coqui: unknown API mode %q", p.apiMode)
	}
	return p, nil
}

// MIMEType implements [tts.Provider].
func (p *Provider) MIMEType() string { return "audio/wav" }

// ttsRequest is the XTTS synthesis body.
type ttsRequest struct {
	Text       string `json:"text"`
	SpeakerWav string `json:"speaker_wav"`
	Language   string `json:"language"`
}

// Synthesize implements [tts.Provider].
func (p *Provider) Synthesize(ctx context.Context, text string, voice tts.VoiceProfile) ([]byte, error) {
	if tts.Blank(text) {
		return nil, tts.ErrEmptyInput
	}
	text = strings.TrimSpace(text)
	lang := p.language
	if voice.Language != "" {
		lang = primarySubtag(voice.Language)
	}

	req, err := p.synthesisRequest(ctx, text, voice.ID, lang)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "audio/wav")
	body, err := p.do(req)
	if err != nil {
		return nil, err
	}
	return p.finish(body)
}

func (p *Provider) synthesisRequest(ctx context.Context, text, voiceID, lang string) (*http.Request, error) {
	if p.apiMode == APIModeXTTS {
		if voiceID == "" {
			return nil, errors.New("coqui: xtts needs a studio speaker as voice ID")
		}
		payload, err := json.Marshal(ttsRequest{Text: text, SpeakerWav: voiceID, Language: lang})
		if err != nil {
			return nil, fmt.Errorf("coqui: encode request: %w", err)
		}
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.serverURL+ttsEndpoint, bytes.NewReader(payload))
		if err != nil {
			return nil, fmt.Errorf("coqui: build request: %w", err)
		}
		req.Header.Set("Content-Type", "application/json")
		return req, nil
	}

	q := url.Values{"text": {text}}
	if voiceID != "" {
		q.Set("speaker_id", voiceID)
	}
	if lang != "" {
		q.Set("language_id", lang)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.serverURL+apiTTSEndpoint+"?"+q.Encode(), nil)
	if err != nil {
		return nil, fmt.Errorf("coqui: build request: %w", err)
	}
	return req, nil
}

// do sends req and returns the body of a 200 answer.
func (p *Provider) do(req *http.Request) ([]byte, error) {
	resp, err := p.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("coqui: %s %s: %w", req.Method, req.URL.Path, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("coqui: %s %s: status %d", req.Method, req.URL.Path, resp.StatusCode)
	}
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("coqui: read %s: %w", req.URL.Path, err)
	}
	return body, nil
}

// finish checks the clip and resamples it when configured.
func (p *Provider) finish(wav []byte) ([]byte, error) {
	pcm, err := audio.DecodeWAV(wav)
	if err != nil {
		return nil, fmt.Errorf("coqui: %w", err)
	}
	if len(pcm.Data) == 0 {
		return nil, tts.ErrNoAudio
	}
	if p.outputRate <= 0 || p.outputRate == pcm.SampleRate || pcm.Channels != 1 {
		return wav, nil
	}
	pcm.Data = audio.ResampleMono16(pcm.Data, pcm.SampleRate, p.outputRate)
	pcm.SampleRate = p.outputRate
	return audio.EncodeWAV(pcm), nil
}

// ListVoices implements [tts.Provider]. XTTS servers list studio speakers;
// standard servers list the speakers of their model, or the model itself
// when it has a single voice.
func (p *Provider) ListVoices(ctx context.Context) ([]tts.VoiceProfile, error) {
	if p.apiMode == APIModeXTTS {
		var speakers map[string]json.RawMessage
		if err := p.getJSON(ctx, studioSpeakersEndpoint, &speakers); err != nil {
			return nil, err
		}
		ids := make([]string, 0, len(speakers))
		for id := range speakers {
			ids = append(ids, id)
		}
		return voices(ids, "", map[string]string{"type": "studio"}), nil
	}

	var details struct {
		ModelName string   `json:"model_name"`
		Language  string   `json:"language"`
		Speakers  []string `json:"speakers"`
	}
	if err := p.getJSON(ctx, detailsEndpoint, &details); err != nil {
		return nil, err
	}
	if len(details.Speakers) > 0 {
		return voices(details.Speakers, details.Language, map[string]string{
			"type":       "speaker",
			"model_name": details.ModelName,
		}), nil
	}
	model := details.ModelName
	if model == "" {
		model = "default"
	}
	return voices([]string{model}, details.Language, map[string]string{
		"type":       "single-speaker",
		"model_name": model,
	}), nil
}

func (p *Provider) getJSON(ctx context.Context, path string, v any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.serverURL+path, nil)
	if err != nil {
		return fmt.Errorf("coqui: build request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	body, err := p.do(req)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(body, v); err != nil {
		return fmt.Errorf("coqui: decode %s: %w", path, err)
	}
	return nil
}

// voices builds sorted profiles that share lang and a copy of meta.
func voices(ids []string, lang string, meta map[string]string) []tts.VoiceProfile {
	ids = slices.Sorted(slices.Values(ids))
	out := make([]tts.VoiceProfile, 0, len(ids))
	for _, id := range ids {
		out = append(out, tts.VoiceProfile{
			ID:       id,
			Name:     id,
			Provider: "coqui",
			Language: lang,
			Metadata: maps.Clone(meta),
		})
	}
	return out
}

// primarySubtag reduces "de-DE" to "de"; Coqui models take bare codes.
func primarySubtag(tag string) string {
	tag, _, _ = strings.Cut(strings.ReplaceAll(tag, "_", "-"), "-")
	return strings.ToLower(tag)
}
