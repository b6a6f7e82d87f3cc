package web

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"

	"github.com/MrWong99/oraltutor/internal/observe"
	"github.com/MrWong99/oraltutor/internal/render"
	"github.com/MrWong99/oraltutor/internal/session"
	"github.com/MrWong99/oraltutor/internal/tutor"
)

// Client message types carried in text frames. Binary frames are always
// voice turns.
const (
	msgText   = "text"
	msgClear  = "clear"
	msgRender = "render"
	msgVoice  = "voice"
)

// Server message types.
const (
	msgView    = "view"
	msgWarning = "warning"
	msgError   = "error"
)

// clientMessage is a text frame sent by the browser.
type clientMessage struct {
	Type     string `json:"type"`
	Text     string `json:"text,omitempty"`
	Language string `json:"language,omitempty"`
	VoiceID  string `json:"voice_id,omitempty"`
}

// serverMessage is pushed to the browser after every client message.
type serverMessage struct {
	Type       string       `json:"type"`
	Message    string       `json:"message,omitempty"`
	Skipped    bool         `json:"skipped,omitempty"`
	Transcript string       `json:"transcript,omitempty"`
	View       *render.View `json:"view,omitempty"`
}

// handleWebSocket upgrades the connection and serves one session until the
// client goes away. Messages are handled in order; the busy gate still
// applies across connections to the same session.
func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	sess, ok := s.session(w, r)
	if !ok {
		return
	}
	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{OriginPatterns: s.origins})
	if err != nil {
		// Accept has already written the response.
		observe.Logger(r.Context()).Debug("websocket upgrade failed", "error", err)
		return
	}
	defer conn.CloseNow()
	conn.SetReadLimit(s.maxUpload)

	ctx := r.Context()
	log := observe.Logger(ctx).With("session_id", sess.ID())
	log.Debug("websocket connected")

	// Greet with the current view so a reconnecting client can redraw.
	if err := wsjson.Write(ctx, conn, s.viewMessage(ctx, sess)); err != nil {
		return
	}

	for {
		typ, data, err := conn.Read(ctx)
		if err != nil {
			if status := websocket.CloseStatus(err); status != websocket.StatusNormalClosure && status != websocket.StatusGoingAway {
				log.Debug("websocket read ended", "error", err)
			}
			return
		}
		out := s.dispatch(ctx, sess, typ, data)
		if err := wsjson.Write(ctx, conn, out); err != nil {
			log.Debug("websocket write failed", "error", err)
			return
		}
	}
}

// dispatch handles one client frame and returns the reply.
func (s *Server) dispatch(ctx context.Context, sess *session.Session, typ websocket.MessageType, data []byte) serverMessage {
	if typ == websocket.MessageBinary {
		return s.wsTurn(ctx, sess, tutor.Input{Mode: tutor.ModeVoice, Audio: data})
	}

	var msg clientMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		return serverMessage{Type: msgError, Message: "invalid message"}
	}
	switch msg.Type {
	case msgText:
		return s.wsTurn(ctx, sess, tutor.Input{Mode: tutor.ModeText, Text: msg.Text})
	case msgClear:
		if err := sess.Clear(ctx); err != nil {
			return errorMessage(err)
		}
		return s.viewMessage(ctx, sess)
	case msgRender:
		return s.viewMessage(ctx, sess)
	case msgVoice:
		req := voiceRequest{Language: msg.Language, VoiceID: msg.VoiceID}
		if req.Language == "" {
			req.Language = sess.Voice().Language
		}
		sess.SetVoice(s.voiceConfig(req))
		return s.viewMessage(ctx, sess)
	}
	return serverMessage{Type: msgError, Message: "unknown message type " + msg.Type}
}

func (s *Server) wsTurn(ctx context.Context, sess *session.Session, in tutor.Input) serverMessage {
	resp, err := s.turn(ctx, sess, in)
	if err != nil {
		return errorMessage(err)
	}
	return serverMessage{Type: msgView, Skipped: resp.Skipped, Transcript: resp.Transcript, View: resp.View}
}

func (s *Server) viewMessage(ctx context.Context, sess *session.Session) serverMessage {
	view, err := s.renderer.Render(ctx, sess)
	if err != nil {
		observe.Logger(ctx).Error("render failed", "session_id", sess.ID(), "error", err)
		return errorMessage(err)
	}
	return serverMessage{Type: msgView, View: view}
}

// errorMessage classifies err the same way the HTTP API does: learner-facing
// conditions are warnings, everything else is an error.
func errorMessage(err error) serverMessage {
	switch {
	case errors.Is(err, tutor.ErrBusy),
		errors.Is(err, tutor.ErrInputTooShort),
		errors.Is(err, tutor.ErrTranscriptionEmpty),
		errors.Is(err, tutor.ErrGenerationFailed):
		return serverMessage{Type: msgWarning, Message: tutor.UserMessage(err)}
	}
	return serverMessage{Type: msgError, Message: tutor.UserMessage(err)}
}
