package mock

import (
	"io"
	"net/http"
	"strings"
	"sync"

	"github.com/bwmarrin/discordgo"
)

// RESTCall is one request a [discordgo.Session] made against the REST API.
type RESTCall struct {
	Method string
	Path   string
	Body   string
}

// REST is an [http.RoundTripper] that answers every Discord REST call with
// an empty message object and records it.
type REST struct {
	mu    sync.Mutex
	calls []RESTCall
}

// RoundTrip implements [http.RoundTripper].
func (r *REST) RoundTrip(req *http.Request) (*http.Response, error) {
	var body []byte
	if req.Body != nil {
		body, _ = io.ReadAll(req.Body)
		_ = req.Body.Close()
	}
	r.mu.Lock()
	r.calls = append(r.calls, RESTCall{Method: req.Method, Path: req.URL.Path, Body: string(body)})
	r.mu.Unlock()
	return &http.Response{
		StatusCode: http.StatusOK,
		Header:     http.Header{"Content-Type": []string{"application/json"}},
		Body:       io.NopCloser(strings.NewReader(`{"id":"1"}`)),
		Request:    req,
	}, nil
}

// Calls returns a copy of the recorded requests. Thread-safe.
func (r *REST) Calls() []RESTCall {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]RESTCall, len(r.calls))
	copy(out, r.calls)
	return out
}

// NewSession returns a session whose REST traffic goes to a new [REST]
// recorder instead of Discord.
func NewSession() (*discordgo.Session, *REST) {
	rest := &REST{}
	s, _ := discordgo.New("Bot test-token")
	s.Client = &http.Client{Transport: rest}
	return s, rest
}
