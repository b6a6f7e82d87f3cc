// Package deepgram provides a Deepgram-backed STT provider using the Deepgram
// live WebSocket API. A whole recording is streamed over one connection,
// followed by CloseStream, and every final result is collected until
// Deepgram closes the socket. It implements the stt.Provider interface.
package deepgram

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/MrWong99/oraltutor/pkg/provider/stt"
	"github.com/coder/websocket"
)

const (
	deepgramEndpoint = "wss://api.deepgram.com/v1/listen"
	defaultModel     = "nova-3"
	defaultLanguage  = "en"

	// chunkSize bounds a single binary frame sent to Deepgram.
	chunkSize = 32 * 1024
)

// Compile-time interface assertion.
var _ stt.Provider = (*Provider)(nil)

// Option is a functional option for configuring the Deepgram Provider.
type Option func(*Provider)

// WithModel sets the Deepgram model to use (e.g., "nova-3", "base").
func WithModel(model string) Option {
	return func(p *Provider) {
		p.model = model
	}
}

// WithLanguage sets the default BCP-47 language code for recognition
// (e.g., "en", "de-DE") used when a call does not specify one.
func WithLanguage(language string) Option {
	return func(p *Provider) {
		p.language = language
	}
}

// WithEndpoint overrides the WebSocket endpoint. Intended for tests and
// self-hosted deployments.
func WithEndpoint(endpoint string) Option {
	return func(p *Provider) {
		p.endpoint = endpoint
	}
}

// Provider implements stt.Provider backed by the Deepgram live API.
type Provider struct {
	apiKey   string
	model    string
	language string
	endpoint string
}

// New creates a new Deepgram Provider. apiKey must be non-empty.
func New(apiKey string, opts ...Option) (*Provider, error) {
	if apiKey == "" {
		return nil, errors.New("deepgram: apiKey must not be empty")
	}
	p := &Provider{
		apiKey:   apiKey,
		model:    defaultModel,
		language: defaultLanguage,
		endpoint: deepgramEndpoint,
	}
	for _, o := range opts {
		o(p)
	}
	return p, nil
}

// Transcribe implements stt.Provider. Deepgram detects the container itself,
// so no encoding or sample rate is declared.
func (p *Provider) Transcribe(ctx context.Context, audio []byte, opts stt.Options) (stt.Transcript, error) {
	if len(audio) == 0 {
		return stt.Transcript{}, stt.ErrEmptyAudio
	}

	wsURL, err := p.buildURL(opts)
	if err != nil {
		return stt.Transcript{}, fmt.Errorf("deepgram: build URL: %w", err)
	}

	headers := http.Header{}
	headers.Set("Authorization", "Token "+p.apiKey)

	conn, _, err := websocket.Dial(ctx, wsURL, &websocket.DialOptions{
		HTTPHeader: headers,
	})
	if err != nil {
		return stt.Transcript{}, fmt.Errorf("deepgram: dial: %w", err)
	}
	defer conn.CloseNow()
	conn.SetReadLimit(1 << 20)

	// Results may arrive while audio is still being written, so reading
	// runs concurrently with the writes below.
	type readResult struct {
		t   stt.Transcript
		err error
	}
	readDone := make(chan readResult, 1)
	go func() {
		t, err := collect(ctx, conn)
		readDone <- readResult{t, err}
	}()

	for off := 0; off < len(audio); off += chunkSize {
		end := min(off+chunkSize, len(audio))
		if err := conn.Write(ctx, websocket.MessageBinary, audio[off:end]); err != nil {
			return stt.Transcript{}, fmt.Errorf("deepgram: write audio: %w", err)
		}
	}
	if err := conn.Write(ctx, websocket.MessageText, []byte(`{"type":"CloseStream"}`)); err != nil {
		return stt.Transcript{}, fmt.Errorf("deepgram: close stream: %w", err)
	}

	select {
	case r := <-readDone:
		if r.err != nil {
			return stt.Transcript{}, r.err
		}
		r.t.Language = opts.Language
		if r.t.Language == "" {
			r.t.Language = p.language
		}
		conn.Close(websocket.StatusNormalClosure, "done")
		return r.t, nil
	case <-ctx.Done():
		return stt.Transcript{}, fmt.Errorf("deepgram: %w", ctx.Err())
	}
}

// buildURL constructs the Deepgram streaming endpoint URL for the given options.
func (p *Provider) buildURL(opts stt.Options) (string, error) {
	u, err := url.Parse(p.endpoint)
	if err != nil {
		return "", err
	}

	lang := opts.Language
	if lang == "" {
		lang = p.language
	}

	q := u.Query()
	q.Set("model", p.model)
	q.Set("language", lang)
	q.Set("punctuate", "true")
	q.Set("smart_format", "true")
	q.Set("interim_results", "false")

	u.RawQuery = q.Encode()
	return u.String(), nil
}

// collect reads messages until Deepgram closes the socket after CloseStream
// and concatenates every final result.
func collect(ctx context.Context, conn *websocket.Conn) (stt.Transcript, error) {
	var (
		parts   []string
		confSum float64
		confN   int
		dur     time.Duration
	)
	for {
		_, msg, err := conn.Read(ctx)
		if err != nil {
			if websocket.CloseStatus(err) == websocket.StatusNormalClosure {
				break
			}
			return stt.Transcript{}, fmt.Errorf("deepgram: read: %w", err)
		}

		m, ok := parseMessage(msg)
		if !ok {
			continue
		}
		switch m.kind {
		case "Results":
			if !m.isFinal {
				continue
			}
			if m.text != "" {
				parts = append(parts, m.text)
				confSum += m.confidence
				confN++
			}
		case "Metadata":
			// Metadata is the last message Deepgram sends for a stream.
			dur = m.duration
			return finish(parts, confSum, confN, dur), nil
		case "Error":
			return stt.Transcript{}, fmt.Errorf("deepgram: %s: %w", m.text, stt.ErrDecode)
		}
	}
	return finish(parts, confSum, confN, dur), nil
}

func finish(parts []string, confSum float64, confN int, dur time.Duration) stt.Transcript {
	t := stt.Transcript{Text: strings.Join(parts, " "), Duration: dur}
	if confN > 0 {
		t.Confidence = confSum / float64(confN)
	}
	return t
}

// deepgramResponse is the JSON structure of a Deepgram live API message.
type deepgramResponse struct {
	Type        string  `json:"type"`
	IsFinal     bool    `json:"is_final"`
	Duration    float64 `json:"duration"`
	Description string  `json:"description"`
	Channel     struct {
		Alternatives []struct {
			Transcript string  `json:"transcript"`
			Confidence float64 `json:"confidence"`
		} `json:"alternatives"`
	} `json:"channel"`
}

// message is the subset of a Deepgram message the collector acts on.
type message struct {
	kind       string
	isFinal    bool
	text       string
	confidence float64
	duration   time.Duration
}

// parseMessage parses a raw Deepgram WebSocket message. Returns ok=false for
// messages that should be ignored.
func parseMessage(data []byte) (message, bool) {
	var resp deepgramResponse
	if err := json.Unmarshal(data, &resp); err != nil {
		return message{}, false
	}
	switch resp.Type {
	case "Results":
		if len(resp.Channel.Alternatives) == 0 {
			return message{}, false
		}
		alt := resp.Channel.Alternatives[0]
		return message{
			kind:       resp.Type,
			isFinal:    resp.IsFinal,
			text:       strings.TrimSpace(alt.Transcript),
			confidence: alt.Confidence,
		}, true
	case "Metadata":
		return message{kind: resp.Type, duration: time.Duration(resp.Duration * float64(time.Second))}, true
	case "Error":
		return message{kind: resp.Type, text: resp.Description}, true
	}
	return message{}, false
}
