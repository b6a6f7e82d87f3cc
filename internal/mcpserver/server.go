// Package mcpserver exposes the tutor as Model Context Protocol tools so an
// MCP client (an IDE assistant, a desktop chat app) can hold a practice
// conversation with it. Audio is not carried over MCP; tutor_turn accepts
// text and returns the reply fields as structured output.
//
// Tools:
//   - tutor_turn      runs one text turn in a session, creating it on first use
//   - tutor_clear     clears a session's conversation
//   - tutor_languages lists the practice languages and their voices
package mcpserver

import (
	"context"
	"errors"
	"fmt"
	"strings"

	mcpsdk "github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/MrWong99/oraltutor/internal/language"
	"github.com/MrWong99/oraltutor/internal/observe"
	"github.com/MrWong99/oraltutor/internal/render"
	"github.com/MrWong99/oraltutor/internal/session"
	"github.com/MrWong99/oraltutor/internal/tutor"
)

// Implementation name reported to MCP clients.
const serverName = "oraltutor"

// Option is a functional option for [New].
type Option func(*Server)

// WithVersion sets the version reported to clients.
func WithVersion(v string) Option {
	return func(s *Server) { s.version = v }
}

// WithDefaultLanguage sets the language of sessions created by tutor_turn
// without an explicit language.
func WithDefaultLanguage(code string) Option {
	return func(s *Server) { s.defaultLang = code }
}

// Server wires the tutor pipeline to an MCP server.
type Server struct {
	proc        *tutor.Processor
	sessions    *session.Manager
	catalog     *language.Catalog
	version     string
	defaultLang string
	mcp         *mcpsdk.Server
}

// TurnInput is the argument of tutor_turn.
type TurnInput struct {
	SessionID string `json:"session_id" jsonschema:"conversation key; reuse it to continue a conversation"`
	Text      string `json:"text" jsonschema:"the learner's sentence in the target language"`
	Language  string `json:"language,omitempty" jsonschema:"target language code or name for a new session, e.g. ja"`
	Voice     string `json:"voice,omitempty" jsonschema:"voice ID for a new session"`
}

// TurnOutput is the structured result of tutor_turn.
type TurnOutput struct {
	SessionID     string   `json:"session_id"`
	Language      string   `json:"language"`
	Correction    string   `json:"correction"`
	OptimizedText string   `json:"optimized_text,omitempty"`
	Interaction   string   `json:"interaction"`
	Tips          []string `json:"tips,omitempty"`
}

// ClearInput is the argument of tutor_clear.
type ClearInput struct {
	SessionID string `json:"session_id" jsonschema:"conversation key"`
}

// ClearOutput is the structured result of tutor_clear.
type ClearOutput struct {
	Cleared bool `json:"cleared"`
}

// LanguagesOutput is the structured result of tutor_languages.
type LanguagesOutput struct {
	Languages []language.Language `json:"languages"`
}

// New creates a Server and registers its tools.
func New(proc *tutor.Processor, sessions *session.Manager, opts ...Option) (*Server, error) {
	if proc == nil {
		return nil, errors.New("mcpserver: processor must not be nil")
	}
	if sessions == nil {
		return nil, errors.New("mcpserver: session manager must not be nil")
	}
	s := &Server{
		proc:        proc,
		sessions:    sessions,
		catalog:     proc.Catalog(),
		version:     "dev",
		defaultLang: language.FallbackCode,
	}
	for _, o := range opts {
		o(s)
	}

	s.mcp = mcpsdk.NewServer(&mcpsdk.Implementation{Name: serverName, Version: s.version}, nil)
	mcpsdk.AddTool(s.mcp, &mcpsdk.Tool{
		Name:        "tutor_turn",
		Description: "Say a sentence to the language tutor. Returns a correction, a native-sounding rewrite, the tutor's reply and two suggested answers.",
	}, s.turn)
	mcpsdk.AddTool(s.mcp, &mcpsdk.Tool{
		Name:        "tutor_clear",
		Description: "Clear a tutoring conversation and start over.",
	}, s.clear)
	mcpsdk.AddTool(s.mcp, &mcpsdk.Tool{
		Name:        "tutor_languages",
		Description: "List the practice languages and the voices available for each.",
	}, s.languages)
	return s, nil
}

// MCP returns the underlying SDK server, for connecting custom transports.
func (s *Server) MCP() *mcpsdk.Server { return s.mcp }

// Run serves MCP over t until the client disconnects or ctx is cancelled.
func (s *Server) Run(ctx context.Context, t mcpsdk.Transport) error {
	if err := s.mcp.Run(ctx, t); err != nil && !errors.Is(err, context.Canceled) {
		return fmt.Errorf("mcpserver: %w", err)
	}
	return nil
}

// RunStdio serves MCP over the process's stdin and stdout.
func (s *Server) RunStdio(ctx context.Context) error {
	return s.Run(ctx, &mcpsdk.StdioTransport{})
}

func (s *Server) turn(ctx context.Context, _ *mcpsdk.CallToolRequest, in TurnInput) (*mcpsdk.CallToolResult, TurnOutput, error) {
	id := strings.TrimSpace(in.SessionID)
	if id == "" {
		return nil, TurnOutput{}, errors.New("session_id must not be empty")
	}
	key := in.Language
	if key == "" {
		key = s.defaultLang
	}
	lang, voice := s.catalog.Select(key, in.Voice)
	sess := s.sessions.Open(id, session.VoiceConfig{Language: lang.Code, VoiceID: voice.ID})

	res, err := s.proc.Process(ctx, sess, tutor.Input{Mode: tutor.ModeText, Text: in.Text})
	if err != nil {
		observe.Logger(ctx).Info("mcp turn failed", "session_id", id, "error", err)
		return nil, TurnOutput{}, errors.New(tutor.UserMessage(err))
	}
	reply := res.Assistant.Reply
	if reply == nil {
		return nil, TurnOutput{}, errors.New(tutor.UserMessage(tutor.ErrGenerationFailed))
	}
	return nil, TurnOutput{
		SessionID:     id,
		Language:      res.Language.Code,
		Correction:    reply.Correction,
		OptimizedText: reply.OptimizedText,
		Interaction:   reply.Interaction,
		Tips:          render.Tips(reply.Expansion),
	}, nil
}

func (s *Server) clear(ctx context.Context, _ *mcpsdk.CallToolRequest, in ClearInput) (*mcpsdk.CallToolResult, ClearOutput, error) {
	sess, err := s.sessions.Get(strings.TrimSpace(in.SessionID))
	if errors.Is(err, session.ErrNotFound) {
		return nil, ClearOutput{}, nil
	}
	if err != nil {
		return nil, ClearOutput{}, err
	}
	if err := sess.Clear(ctx); err != nil {
		return nil, ClearOutput{}, errors.New(tutor.UserMessage(err))
	}
	return nil, ClearOutput{Cleared: true}, nil
}

func (s *Server) languages(context.Context, *mcpsdk.CallToolRequest, struct{}) (*mcpsdk.CallToolResult, LanguagesOutput, error) {
	return nil, LanguagesOutput{Languages: s.catalog.Languages()}, nil
}
