// Package whisper provides local whisper.cpp-backed STT providers.
//
// [Provider] talks to a running whisper-server binary, which exposes a REST
// API at POST /inference. The recording is uploaded as multipart/form-data in
// its original container; start the server with --convert so that it accepts
// webm/ogg recordings from browsers as well as WAV.
//
// [NativeProvider] links whisper.cpp directly through the CGO bindings and
// accepts WAV recordings only.
//
// Usage:
//
//	p, err := whisper.New("http://localhost:8080", whisper.WithLanguage("en"))
//	t, err := p.Transcribe(ctx, recording, stt.Options{})
package whisper

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"strings"
	"time"

	"github.com/MrWong99/oraltutor/pkg/provider/stt"
)

const (
	defaultLanguage = "en"
	defaultTimeout  = 60 * time.Second
)

// Compile-time assertion that Provider implements stt.Provider.
var _ stt.Provider = (*Provider)(nil)

// Option is a functional option for configuring a Provider.
type Option func(*Provider)

// WithModel sets the model identifier forwarded to the whisper.cpp server
// (e.g., "base.en", "small"). When empty the server uses whichever model it
// was started with, which is the default.
func WithModel(model string) Option {
	return func(p *Provider) {
		p.model = model
	}
}

// WithLanguage sets the default language code sent to the whisper.cpp server
// when a call does not specify one (e.g., "en", "de", "fr"). Defaults to "en".
func WithLanguage(lang string) Option {
	return func(p *Provider) {
		p.language = lang
	}
}

// WithTimeout sets the HTTP client timeout for one inference request.
// Defaults to 60 s.
func WithTimeout(d time.Duration) Option {
	return func(p *Provider) {
		p.httpClient.Timeout = d
	}
}

// Provider implements stt.Provider backed by a local whisper.cpp HTTP server.
type Provider struct {
	serverURL  string
	model      string
	language   string
	httpClient *http.Client
}

// New creates a new Provider that connects to the whisper.cpp HTTP server at
// serverURL (e.g., "http://localhost:8080"). serverURL must be non-empty.
// Functional options may be provided to override defaults.
func New(serverURL string, opts ...Option) (*Provider, error) {
	if serverURL == "" {
		return nil, errors.New("whisper: serverURL must not be empty")
	}
	p := &Provider{
		serverURL:  strings.TrimRight(serverURL, "/"),
		language:   defaultLanguage,
		httpClient: &http.Client{Timeout: defaultTimeout},
	}
	for _, o := range opts {
		o(p)
	}
	return p, nil
}

// Transcribe implements stt.Provider. The recording is POSTed to the
// whisper.cpp /inference endpoint as multipart/form-data.
func (p *Provider) Transcribe(ctx context.Context, audio []byte, opts stt.Options) (stt.Transcript, error) {
	if len(audio) == 0 {
		return stt.Transcript{}, stt.ErrEmptyAudio
	}

	lang := stt.BaseLanguage(opts.Language)
	if lang == "" {
		lang = p.language
	}
	format := opts.Format.Resolve(audio)

	var body bytes.Buffer
	mw := multipart.NewWriter(&body)

	fw, err := mw.CreateFormFile("file", format.Filename())
	if err != nil {
		return stt.Transcript{}, fmt.Errorf("whisper: create form file: %w", err)
	}
	if _, err := fw.Write(audio); err != nil {
		return stt.Transcript{}, fmt.Errorf("whisper: write audio data: %w", err)
	}

	fields := map[string]string{
		"language":        lang,
		"model":           p.model,
		"prompt":          opts.Prompt,
		"response_format": "json",
	}
	for _, k := range []string{"language", "model", "prompt", "response_format"} {
		if fields[k] == "" {
			continue
		}
		if err := mw.WriteField(k, fields[k]); err != nil {
			return stt.Transcript{}, fmt.Errorf("whisper: write %s field: %w", k, err)
		}
	}

	if err := mw.Close(); err != nil {
		return stt.Transcript{}, fmt.Errorf("whisper: close multipart writer: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.serverURL+"/inference", &body)
	if err != nil {
		return stt.Transcript{}, fmt.Errorf("whisper: create request: %w", err)
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return stt.Transcript{}, fmt.Errorf("whisper: http request: %w", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return stt.Transcript{}, fmt.Errorf("whisper: read response body: %w", err)
	}

	// whisper-server answers 200 with {"error": "..."} when it cannot read
	// the upload, and 4xx/5xx for everything else.
	var result struct {
		Text  string `json:"text"`
		Error string `json:"error"`
	}
	if resp.StatusCode != http.StatusOK {
		_ = json.Unmarshal(data, &result)
		if result.Error != "" {
			return stt.Transcript{}, fmt.Errorf("whisper: server returned HTTP %d: %s", resp.StatusCode, result.Error)
		}
		return stt.Transcript{}, fmt.Errorf("whisper: server returned HTTP %d", resp.StatusCode)
	}
	if err := json.Unmarshal(data, &result); err != nil {
		return stt.Transcript{}, fmt.Errorf("whisper: parse JSON response: %w", err)
	}
	if result.Error != "" {
		return stt.Transcript{}, fmt.Errorf("whisper: %s: %w", result.Error, stt.ErrDecode)
	}

	return stt.Transcript{Text: strings.TrimSpace(result.Text), Language: lang}, nil
}
