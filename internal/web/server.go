// Package web serves the JSON and WebSocket API a browser UI drives the tutor
// with. Every route operates on a live [session.Session] held by a
// [session.Manager]; turns go through a [tutor.Processor] and views are
// produced by a [render.Renderer].
package web

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"mime"
	"net/http"
	"strings"

	"github.com/MrWong99/oraltutor/internal/language"
	"github.com/MrWong99/oraltutor/internal/observe"
	"github.com/MrWong99/oraltutor/internal/render"
	"github.com/MrWong99/oraltutor/internal/session"
	"github.com/MrWong99/oraltutor/internal/tutor"
	"github.com/MrWong99/oraltutor/pkg/provider/stt"
)

// DefaultMaxUploadBytes caps a recording uploaded in one request or frame.
const DefaultMaxUploadBytes = 10 << 20

// Option is a functional option for [New].
type Option func(*Server)

// WithMaxUploadBytes overrides [DefaultMaxUploadBytes].
func WithMaxUploadBytes(n int64) Option {
	return func(s *Server) {
		if n > 0 {
			s.maxUpload = n
		}
	}
}

// WithOriginPatterns sets the host patterns accepted for cross-origin
// WebSocket connections. Same-origin connections are always accepted.
func WithOriginPatterns(patterns ...string) Option {
	return func(s *Server) { s.origins = patterns }
}

// WithDefaultLanguage sets the language of sessions created without one.
func WithDefaultLanguage(code string) Option {
	return func(s *Server) { s.defaultLang = code }
}

// Server implements the HTTP API.
type Server struct {
	proc     *tutor.Processor
	renderer *render.Renderer
	sessions *session.Manager
	catalog  *language.Catalog

	maxUpload   int64
	origins     []string
	defaultLang string
}

// New returns a Server. All three collaborators are required.
func New(proc *tutor.Processor, renderer *render.Renderer, sessions *session.Manager, opts ...Option) (*Server, error) {
	if proc == nil {
		return nil, errors.New("web: processor must not be nil")
	}
	if renderer == nil {
		return nil, errors.New("web: renderer must not be nil")
	}
	if sessions == nil {
		return nil, errors.New("web: session manager must not be nil")
	}
	s := &Server{
		proc:        proc,
		renderer:    renderer,
		sessions:    sessions,
		catalog:     proc.Catalog(),
		maxUpload:   DefaultMaxUploadBytes,
		defaultLang: language.FallbackCode,
	}
	for _, o := range opts {
		o(s)
	}
	return s, nil
}

// Register adds the API routes to mux:
//
//	GET    /api/languages
//	POST   /api/sessions
//	GET    /api/sessions/{id}
//	POST   /api/sessions/{id}/turns
//	DELETE /api/sessions/{id}/turns
//	PUT    /api/sessions/{id}/voice
//	GET    /api/sessions/{id}/ws
func (s *Server) Register(mux *http.ServeMux) {
	mux.HandleFunc("GET /api/languages", s.handleLanguages)
	mux.HandleFunc("POST /api/sessions", s.handleCreateSession)
	mux.HandleFunc("GET /api/sessions/{id}", s.handleGetSession)
	mux.HandleFunc("POST /api/sessions/{id}/turns", s.handlePostTurn)
	mux.HandleFunc("DELETE /api/sessions/{id}/turns", s.handleClear)
	mux.HandleFunc("PUT /api/sessions/{id}/voice", s.handleSetVoice)
	mux.HandleFunc("GET /api/sessions/{id}/ws", s.handleWebSocket)
}

// Handler returns a mux serving only the API routes.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	s.Register(mux)
	return mux
}

// voiceRequest is the JSON body for session creation and voice changes.
type voiceRequest struct {
	Language string `json:"language"`
	VoiceID  string `json:"voice_id"`
}

// turnRequest is the JSON body of a typed turn.
type turnRequest struct {
	Text string `json:"text"`
}

// turnResponse is returned by a successful or skipped turn.
type turnResponse struct {
	// Skipped is set when the recording repeated the previous one.
	Skipped    bool         `json:"skipped,omitempty"`
	Transcript string       `json:"transcript,omitempty"`
	View       *render.View `json:"view"`
}

// problem is the JSON body of every non-2xx response.
type problem struct {
	Warning string `json:"warning,omitempty"`
	Error   string `json:"error,omitempty"`
}

func (s *Server) handleLanguages(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.catalog.Languages())
}

func (s *Server) handleCreateSession(w http.ResponseWriter, r *http.Request) {
	var req voiceRequest
	if err := decodeOptional(r.Body, &req); err != nil {
		writeJSON(w, http.StatusBadRequest, problem{Error: "invalid request body"})
		return
	}
	if req.Language == "" {
		req.Language = s.defaultLang
	}
	sess := s.sessions.Create(s.voiceConfig(req))
	observe.Logger(r.Context()).Info("session created", "session_id", sess.ID(), "language", sess.Voice().Language)

	view, err := s.renderer.Render(r.Context(), sess)
	if err != nil {
		s.internalError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, view)
}

func (s *Server) handleGetSession(w http.ResponseWriter, r *http.Request) {
	sess, ok := s.session(w, r)
	if !ok {
		return
	}
	view, err := s.renderer.Render(r.Context(), sess)
	if err != nil {
		s.internalError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, view)
}

func (s *Server) handlePostTurn(w http.ResponseWriter, r *http.Request) {
	sess, ok := s.session(w, r)
	if !ok {
		return
	}

	in, err := s.readInput(w, r)
	if err != nil {
		var tooLarge *http.MaxBytesError
		switch {
		case errors.As(err, &tooLarge):
			writeJSON(w, http.StatusRequestEntityTooLarge, problem{Error: err.Error()})
		case errors.Is(err, errUnsupportedMedia):
			writeJSON(w, http.StatusUnsupportedMediaType, problem{Error: err.Error()})
		default:
			writeJSON(w, http.StatusBadRequest, problem{Error: err.Error()})
		}
		return
	}

	resp, err := s.turn(r.Context(), sess, in)
	if err != nil {
		s.turnError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleClear(w http.ResponseWriter, r *http.Request) {
	sess, ok := s.session(w, r)
	if !ok {
		return
	}
	if err := sess.Clear(r.Context()); err != nil {
		s.turnError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleSetVoice(w http.ResponseWriter, r *http.Request) {
	sess, ok := s.session(w, r)
	if !ok {
		return
	}
	var req voiceRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, problem{Error: "invalid request body"})
		return
	}
	if req.Language == "" {
		req.Language = sess.Voice().Language
	}
	vc := s.voiceConfig(req)
	sess.SetVoice(vc)
	writeJSON(w, http.StatusOK, vc)
}

// turn processes in and renders the resulting view. A duplicate recording is
// reported as skipped with the unchanged view.
func (s *Server) turn(ctx context.Context, sess *session.Session, in tutor.Input) (*turnResponse, error) {
	res, err := s.proc.Process(ctx, sess, in)
	skipped := errors.Is(err, tutor.ErrDuplicateInput)
	if err != nil && !skipped {
		return nil, err
	}
	view, err := s.renderer.Render(ctx, sess)
	if err != nil {
		return nil, err
	}
	return &turnResponse{Skipped: skipped, Transcript: res.Transcript.Text, View: view}, nil
}

var errUnsupportedMedia = errors.New("unsupported content type; send application/json or audio/*")

// readInput decodes a turn from the request body. JSON bodies are typed
// turns; audio bodies are recordings.
func (s *Server) readInput(w http.ResponseWriter, r *http.Request) (tutor.Input, error) {
	body := http.MaxBytesReader(w, r.Body, s.maxUpload)
	ct := r.Header.Get("Content-Type")
	mt, _, err := mime.ParseMediaType(ct)
	if err != nil && ct != "" {
		return tutor.Input{}, fmt.Errorf("%w: %q", errUnsupportedMedia, ct)
	}

	switch {
	case mt == "application/json":
		var req turnRequest
		if err := json.NewDecoder(body).Decode(&req); err != nil {
			return tutor.Input{}, fmt.Errorf("invalid request body: %w", err)
		}
		return tutor.Input{Mode: tutor.ModeText, Text: req.Text}, nil
	case strings.HasPrefix(mt, "audio/"), mt == "video/webm", mt == "application/ogg", mt == "application/octet-stream":
		audio, err := io.ReadAll(body)
		if err != nil {
			return tutor.Input{}, err
		}
		return tutor.Input{Mode: tutor.ModeVoice, Audio: audio, Format: stt.FormatFromMIME(ct)}, nil
	}
	return tutor.Input{}, fmt.Errorf("%w: %q", errUnsupportedMedia, ct)
}

// session resolves the {id} path value, writing 404 when it is unknown.
func (s *Server) session(w http.ResponseWriter, r *http.Request) (*session.Session, bool) {
	sess, err := s.sessions.Get(r.PathValue("id"))
	if err != nil {
		writeJSON(w, http.StatusNotFound, problem{Error: "session not found"})
		return nil, false
	}
	return sess, true
}

// voiceConfig normalises a requested language and voice against the
// catalogue so the stored selection is always valid.
func (s *Server) voiceConfig(req voiceRequest) session.VoiceConfig {
	lang, voice := s.catalog.Select(req.Language, req.VoiceID)
	return session.VoiceConfig{Language: lang.Code, VoiceID: voice.ID}
}

// turnError maps a turn or clear error to a status code: learner-facing
// warnings are 422, a busy session is 409, anything else is 500.
func (s *Server) turnError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, tutor.ErrBusy):
		writeJSON(w, http.StatusConflict, problem{Warning: tutor.UserMessage(err)})
	case errors.Is(err, tutor.ErrInputTooShort),
		errors.Is(err, tutor.ErrTranscriptionEmpty),
		errors.Is(err, tutor.ErrGenerationFailed):
		writeJSON(w, http.StatusUnprocessableEntity, problem{Warning: tutor.UserMessage(err)})
	default:
		s.internalError(w, r, err)
	}
}

func (s *Server) internalError(w http.ResponseWriter, r *http.Request, err error) {
	observe.Logger(r.Context()).Error("request failed", "path", r.URL.Path, "error", err)
	writeJSON(w, http.StatusInternalServerError, problem{Error: tutor.UserMessage(err)})
}

// decodeOptional decodes JSON from body, treating an empty body as zero.
func decodeOptional(body io.Reader, v any) error {
	if err := json.NewDecoder(body).Decode(v); err != nil && !errors.Is(err, io.EOF) {
		return err
	}
	return nil
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Debug("web: write response", "error", err)
	}
}
