// Package elevenlabs synthesises clips through the ElevenLabs stream-input
// WebSocket. A tutor reply field is short, so the whole text goes out in one
// message followed by a flush, and the MP3 chunks are collected into a single
// clip.
package elevenlabs

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"maps"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/coder/websocket"

	"github.com/MrWong99/oraltutor/pkg/provider/tts"
)

const (
	defaultBaseURL   = "https://api.elevenlabs.io"
	defaultModel     = "eleven_flash_v2_5"
	defaultOutputFmt = "mp3_44100_128"

	// maxFrame bounds a single server message; chunks are base64 MP3.
	maxFrame = 4 << 20
)

var _ tts.Provider = (*Provider)(nil)

// Option configures a [Provider].
type Option func(*Provider)

// WithModel sets the model ID.
func WithModel(model string) Option {
	return func(p *Provider) { p.model = model }
}

// WithOutputFormat sets the output format. Only "mp3_*" formats are
// accepted because clips are labelled audio/mpeg.
func WithOutputFormat(format string) Option {
	return func(p *Provider) { p.outputFormat = format }
}

// WithBaseURL overrides the API origin. The WebSocket URL is derived from it.
func WithBaseURL(u string) Option {
	return func(p *Provider) { p.baseURL = strings.TrimRight(u, "/") }
}

// Provider is an ElevenLabs client for one API key.
type Provider struct {
	apiKey       string
	model        string
	outputFormat string
	baseURL      string
	client       *http.Client
}

// New returns a Provider for apiKey.
func New(apiKey string, opts ...Option) (*Provider, error) {
	if apiKey == "" {
		return nil, errors.New("elevenlabs: API key is required")
	}
	p := &Provider{
		apiKey:       apiKey,
		model:        defaultModel,
		outputFormat: defaultOutputFmt,
		baseURL:      defaultBaseURL,
		client:       &http.Client{Timeout: 30 * time.Second},
	}
	for _, opt := range opts {
		opt(p)
	}
	if !strings.HasPrefix(p.outputFormat, "mp3_") {
		return nil, fmt.Errorf("elevenlabs: output format %q is not mp3", p.outputFormat)
	}
	return p, nil
}

// MIMEType implements [tts.Provider].
func (p *Provider) MIMEType() string { return "audio/mpeg" }

// streamMessage is every client message of the stream-input protocol: the
// opening message carries the key and settings, an empty Text flushes.
type streamMessage struct {
	Text          string         `json:"text"`
	VoiceSettings *voiceSettings `json:"voice_settings,omitempty"`
	APIKey        string         `json:"xi_api_key,omitempty"`
}

type voiceSettings struct {
	Stability       float64 `json:"stability"`
	SimilarityBoost float64 `json:"similarity_boost"`
	Speed           float64 `json:"speed,omitempty"`
}

// audioResponse is one server message.
type audioResponse struct {
	Audio   string `json:"audio"`
	IsFinal bool   `json:"isFinal"`
	Message string `json:"message,omitempty"`
	Error   string `json:"error,omitempty"`
}

// Synthesize implements [tts.Provider].
func (p *Provider) Synthesize(ctx context.Context, text string, voice tts.VoiceProfile) ([]byte, error) {
	if tts.Blank(text) {
		return nil, tts.ErrEmptyInput
	}
	if voice.ID == "" {
		return nil, errors.New("elevenlabs: voice ID is required")
	}

	conn, _, err := websocket.Dial(ctx, p.streamURL(voice.ID), nil)
	if err != nil {
		return nil, fmt.Errorf("elevenlabs: dial: %w", err)
	}
	defer conn.CloseNow()
	conn.SetReadLimit(maxFrame)

	settings := &voiceSettings{Stability: 0.5, SimilarityBoost: 0.75}
	if voice.SpeedFactor > 0 {
		settings.Speed = min(max(voice.SpeedFactor, 0.7), 1.2)
	}
	// The opening text must be non-empty, and a trailing space marks the
	// input text as complete.
	msgs := []streamMessage{
		{Text: " ", VoiceSettings: settings, APIKey: p.apiKey},
		{Text: strings.TrimSpace(text) + " "},
		{},
	}
	for _, m := range msgs {
		if err := send(ctx, conn, m); err != nil {
			return nil, err
		}
	}

	clip, err := collect(ctx, conn)
	if err != nil {
		return nil, err
	}
	if len(clip) == 0 {
		return nil, fmt.Errorf("elevenlabs: voice %q: %w", voice.ID, tts.ErrNoAudio)
	}
	return clip, nil
}

func send(ctx context.Context, conn *websocket.Conn, m streamMessage) error {
	data, err := json.Marshal(m)
	if err != nil {
		return fmt.Errorf("elevenlabs: encode message: %w", err)
	}
	if err := conn.Write(ctx, websocket.MessageText, data); err != nil {
		return fmt.Errorf("elevenlabs: send: %w", err)
	}
	return nil
}

// collect concatenates audio until isFinal or a normal close. Frames that
// are not JSON are skipped.
func collect(ctx context.Context, conn *websocket.Conn) ([]byte, error) {
	var clip bytes.Buffer
	for {
		_, raw, err := conn.Read(ctx)
		if websocket.CloseStatus(err) == websocket.StatusNormalClosure {
			return clip.Bytes(), nil
		}
		if err != nil {
			return nil, fmt.Errorf("elevenlabs: read: %w", err)
		}

		var resp audioResponse
		if json.Unmarshal(raw, &resp) != nil {
			continue
		}
		if resp.Error != "" {
			return nil, fmt.Errorf("elevenlabs: %s", resp.Error)
		}
		if resp.Audio != "" {
			chunk, err := base64.StdEncoding.DecodeString(resp.Audio)
			if err != nil {
				return nil, fmt.Errorf("elevenlabs: decode chunk: %w", err)
			}
			clip.Write(chunk)
		}
		if resp.IsFinal {
			conn.Close(websocket.StatusNormalClosure, "")
			return clip.Bytes(), nil
		}
	}
}

func (p *Provider) streamURL(voiceID string) string {
	u := p.baseURL
	if rest, ok := strings.CutPrefix(u, "https://"); ok {
		u = "wss://" + rest
	} else if rest, ok := strings.CutPrefix(u, "http://"); ok {
		u = "ws://" + rest
	}
	q := url.Values{"model_id": {p.model}, "output_format": {p.outputFormat}}
	return u + "/v1/text-to-speech/" + url.PathEscape(voiceID) + "/stream-input?" + q.Encode()
}

// ListVoices implements [tts.Provider] with GET /v1/voices. Labels become
// metadata; the "language" label fills Language.
func (p *Provider) ListVoices(ctx context.Context) ([]tts.VoiceProfile, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.baseURL+"/v1/voices", nil)
	if err != nil {
		return nil, fmt.Errorf("elevenlabs: list voices: %w", err)
	}
	req.Header.Set("xi-api-key", p.apiKey)
	req.Header.Set("Accept", "application/json")

	resp, err := p.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("elevenlabs: list voices: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("elevenlabs: list voices: status %d", resp.StatusCode)
	}

	var body struct {
		Voices []struct {
			ID       string            `json:"voice_id"`
			Name     string            `json:"name"`
			Category string            `json:"category"`
			Labels   map[string]string `json:"labels"`
		} `json:"voices"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return nil, fmt.Errorf("elevenlabs: decode voices: %w", err)
	}

	out := make([]tts.VoiceProfile, 0, len(body.Voices))
	for _, v := range body.Voices {
		meta := maps.Clone(v.Labels)
		if meta == nil {
			meta = map[string]string{}
		}
		if v.Category != "" {
			meta["category"] = v.Category
		}
		out = append(out, tts.VoiceProfile{
			ID:       v.ID,
			Name:     v.Name,
			Provider: "elevenlabs",
			Language: v.Labels["language"],
			Metadata: meta,
		})
	}
	return out, nil
}
