// Package edge provides a TTS provider backed by the Microsoft Edge
// "read aloud" neural voices. It speaks the same WebSocket protocol as the
// browser: a speech.config message selects the output format, an SSML
// message carries the text, and the service streams binary audio frames
// until it sends turn.end. No API key is required.
package edge

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"html"
	"math"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/coder/websocket"
	"github.com/google/uuid"

	"github.com/MrWong99/oraltutor/pkg/provider/tts"
)

const (
	trustedClientToken = "6A5AA1D4EAFF4E9FB37E23D68491D6F4"
	chromiumVersion    = "130.0.2849.68"
	secMSGECVersion    = "1-" + chromiumVersion

	defaultEndpoint  = "wss://speech.platform.bing.com/consumer/speech/synthesize/readaloud/edge/v1"
	defaultVoicesURL = "https://speech.platform.bing.com/consumer/speech/synthesize/readaloud/voices/list"
	defaultVoice     = "en-US-AvaMultilingualNeural"
	defaultFormat    = "audio-24khz-48kbitrate-mono-mp3"

	// windowsEpoch is the offset in seconds between 1601-01-01 and 1970-01-01.
	windowsEpoch = 11644473600
)

// Compile-time interface assertion.
var _ tts.Provider = (*Provider)(nil)

// Option is a functional option for configuring the Edge Provider.
type Option func(*Provider)

// WithEndpoint overrides the synthesis WebSocket endpoint.
func WithEndpoint(endpoint string) Option {
	return func(p *Provider) {
		p.endpoint = endpoint
	}
}

// WithVoicesURL overrides the voice catalogue URL.
func WithVoicesURL(u string) Option {
	return func(p *Provider) {
		p.voicesURL = u
	}
}

// WithOutputFormat sets the audio output format. Only MP3 formats are
// accepted so that MIMEType stays "audio/mpeg".
func WithOutputFormat(format string) Option {
	return func(p *Provider) {
		p.outputFormat = format
	}
}

// WithDefaultVoice sets the voice used when a profile has no ID.
func WithDefaultVoice(id string) Option {
	return func(p *Provider) {
		p.defaultVoice = id
	}
}

// Provider implements tts.Provider backed by the Edge read-aloud service.
type Provider struct {
	endpoint     string
	voicesURL    string
	outputFormat string
	defaultVoice string
	httpClient   *http.Client
	now          func() time.Time
}

// New creates a new Edge Provider.
func New(opts ...Option) (*Provider, error) {
	p := &Provider{
		endpoint:     defaultEndpoint,
		voicesURL:    defaultVoicesURL,
		outputFormat: defaultFormat,
		defaultVoice: defaultVoice,
		httpClient:   &http.Client{Timeout: 30 * time.Second},
		now:          time.Now,
	}
	for _, o := range opts {
		o(p)
	}
	if !strings.HasSuffix(p.outputFormat, "-mp3") {
		return nil, fmt.Errorf("edge: output format %q is not an mp3 format", p.outputFormat)
	}
	return p, nil
}

// MIMEType implements tts.Provider.
func (p *Provider) MIMEType() string { return "audio/mpeg" }

// Synthesize implements tts.Provider.
func (p *Provider) Synthesize(ctx context.Context, text string, voice tts.VoiceProfile) ([]byte, error) {
	if tts.Blank(text) {
		return nil, tts.ErrEmptyInput
	}
	voiceID := voice.ID
	if voiceID == "" {
		voiceID = p.defaultVoice
	}

	connID := newID()
	wsURL, err := p.buildURL(connID)
	if err != nil {
		return nil, fmt.Errorf("edge: build URL: %w", err)
	}

	conn, _, err := websocket.Dial(ctx, wsURL, &websocket.DialOptions{HTTPHeader: browserHeaders()})
	if err != nil {
		return nil, fmt.Errorf("edge: dial: %w", err)
	}
	defer conn.CloseNow()
	conn.SetReadLimit(4 << 20)

	ts := p.timestamp()
	if err := conn.Write(ctx, websocket.MessageText, []byte(configMessage(ts, p.outputFormat))); err != nil {
		return nil, fmt.Errorf("edge: send speech.config: %w", err)
	}
	if err := conn.Write(ctx, websocket.MessageText, []byte(ssmlMessage(newID(), ts, buildSSML(text, voiceID, voice)))); err != nil {
		return nil, fmt.Errorf("edge: send ssml: %w", err)
	}

	var out bytes.Buffer
	for {
		typ, msg, err := conn.Read(ctx)
		if err != nil {
			return nil, fmt.Errorf("edge: read: %w", err)
		}
		switch typ {
		case websocket.MessageText:
			if headerValue(string(msg), "Path") == "turn.end" {
				conn.Close(websocket.StatusNormalClosure, "")
				if out.Len() == 0 {
					return nil, fmt.Errorf("edge: voice %q: %w", voiceID, tts.ErrNoAudio)
				}
				return out.Bytes(), nil
			}
		case websocket.MessageBinary:
			data, err := audioPayload(msg)
			if err != nil {
				return nil, err
			}
			out.Write(data)
		}
	}
}

// buildURL returns the synthesis endpoint with the DRM token query.
func (p *Provider) buildURL(connID string) (string, error) {
	u, err := url.Parse(p.endpoint)
	if err != nil {
		return "", err
	}
	q := u.Query()
	q.Set("TrustedClientToken", trustedClientToken)
	q.Set("Sec-MS-GEC", secMSGEC(p.now()))
	q.Set("Sec-MS-GEC-Version", secMSGECVersion)
	q.Set("ConnectionId", connID)
	u.RawQuery = q.Encode()
	return u.String(), nil
}

// timestamp formats the current time the way the browser does in X-Timestamp.
func (p *Provider) timestamp() string {
	return p.now().UTC().Format("Mon Jan 02 2006 15:04:05 GMT+0000 (Coordinated Universal Time)")
}

// secMSGEC derives the Sec-MS-GEC token: the upper-case SHA-256 of the
// Windows file-time tick count, rounded down to five minutes, concatenated
// with the trusted client token.
func secMSGEC(now time.Time) string {
	secs := now.Unix() + windowsEpoch
	secs -= secs % 300
	ticks := secs * 10_000_000
	sum := sha256.Sum256([]byte(fmt.Sprintf("%d%s", ticks, trustedClientToken)))
	return strings.ToUpper(hex.EncodeToString(sum[:]))
}

func browserHeaders() http.Header {
	h := http.Header{}
	h.Set("Origin", "chrome-extension://jdiccldimpdaibmpdkjnbmckianbfold")
	h.Set("User-Agent", "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/130.0.0.0 Safari/537.36 Edg/"+chromiumVersion)
	h.Set("Pragma", "no-cache")
	h.Set("Cache-Control", "no-cache")
	return h
}

func newID() string {
	return strings.ReplaceAll(uuid.NewString(), "-", "")
}

func configMessage(ts, format string) string {
	return "X-Timestamp:" + ts + "\r\n" +
		"Content-Type:application/json; charset=utf-8\r\n" +
		"Path:speech.config\r\n\r\n" +
		`{"context":{"synthesis":{"audio":{"metadataoptions":{"sentenceBoundaryEnabled":"false","wordBoundaryEnabled":"false"},"outputFormat":"` + format + `"}}}}` + "\r\n"
}

func ssmlMessage(requestID, ts, ssml string) string {
	return "X-RequestId:" + requestID + "\r\n" +
		"Content-Type:application/ssml+xml\r\n" +
		"X-Timestamp:" + ts + "Z\r\n" +
		"Path:ssml\r\n\r\n" + ssml
}

// buildSSML wraps text in a single-voice SSML document. Text is XML-escaped.
func buildSSML(text, voiceID string, v tts.VoiceProfile) string {
	rate := 0
	if v.SpeedFactor > 0 {
		rate = int(math.Round((v.SpeedFactor - 1) * 100))
	}
	pitch := int(math.Round(v.PitchShift * 5))
	return fmt.Sprintf(
		"<speak version='1.0' xmlns='http://www.w3.org/2001/10/synthesis' xml:lang='en-US'>"+
			"<voice name='%s'><prosody pitch='%+dHz' rate='%+d%%' volume='+0%%'>%s</prosody></voice></speak>",
		html.EscapeString(voiceID), pitch, rate, html.EscapeString(strings.TrimSpace(text)))
}

// headerValue extracts a header from the CRLF-separated header block that
// prefixes every service message.
func headerValue(msg, key string) string {
	head, _, _ := strings.Cut(msg, "\r\n\r\n")
	for line := range strings.SplitSeq(head, "\r\n") {
		k, v, ok := strings.Cut(line, ":")
		if ok && strings.EqualFold(strings.TrimSpace(k), key) {
			return strings.TrimSpace(v)
		}
	}
	return ""
}

// audioPayload splits a binary frame into its header block and audio body.
// The first two bytes carry the big-endian header length. Frames whose Path
// is not "audio" yield no data.
func audioPayload(frame []byte) ([]byte, error) {
	if len(frame) < 2 {
		return nil, errors.New("edge: binary frame too short")
	}
	n := int(binary.BigEndian.Uint16(frame[:2]))
	if 2+n > len(frame) {
		return nil, fmt.Errorf("edge: binary header length %d exceeds frame of %d bytes", n, len(frame))
	}
	if headerValue(string(frame[2:2+n])+"\r\n\r\n", "Path") != "audio" {
		return nil, nil
	}
	return frame[2+n:], nil
}

// edgeVoice is a single entry in the voice catalogue.
type edgeVoice struct {
	Name         string `json:"Name"`
	ShortName    string `json:"ShortName"`
	Gender       string `json:"Gender"`
	Locale       string `json:"Locale"`
	FriendlyName string `json:"FriendlyName"`
}

// ListVoices implements tts.Provider.
func (p *Provider) ListVoices(ctx context.Context) ([]tts.VoiceProfile, error) {
	u, err := url.Parse(p.voicesURL)
	if err != nil {
		return nil, fmt.Errorf("edge: list voices: %w", err)
	}
	q := u.Query()
	q.Set("trustedclienttoken", trustedClientToken)
	q.Set("Sec-MS-GEC", secMSGEC(p.now()))
	q.Set("Sec-MS-GEC-Version", secMSGECVersion)
	u.RawQuery = q.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return nil, fmt.Errorf("edge: list voices: %w", err)
	}
	for k, v := range browserHeaders() {
		req.Header[k] = v
	}
	resp, err := p.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("edge: list voices HTTP: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("edge: list voices: unexpected status %d", resp.StatusCode)
	}

	var voices []edgeVoice
	if err := json.NewDecoder(resp.Body).Decode(&voices); err != nil {
		return nil, fmt.Errorf("edge: list voices decode: %w", err)
	}
	profiles := make([]tts.VoiceProfile, 0, len(voices))
	for _, v := range voices {
		name := v.FriendlyName
		if name == "" {
			name = v.ShortName
		}
		profiles = append(profiles, tts.VoiceProfile{
			ID:       v.ShortName,
			Name:     name,
			Provider: "edge",
			Language: v.Locale,
			Metadata: map[string]string{"gender": v.Gender},
		})
	}
	return profiles, nil
}
