package web

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"

	"github.com/MrWong99/oraltutor/internal/language"
	"github.com/MrWong99/oraltutor/internal/observe"
	"github.com/MrWong99/oraltutor/internal/render"
	"github.com/MrWong99/oraltutor/internal/session"
	"github.com/MrWong99/oraltutor/internal/tutor"
	"github.com/MrWong99/oraltutor/pkg/provider/llm"
	llmmock "github.com/MrWong99/oraltutor/pkg/provider/llm/mock"
	"github.com/MrWong99/oraltutor/pkg/provider/stt"
	sttmock "github.com/MrWong99/oraltutor/pkg/provider/stt/mock"
	ttsmock "github.com/MrWong99/oraltutor/pkg/provider/tts/mock"
)

const okReply = `{
	"phase1_correction": "时态用得不对。",
	"phase2_optimized_text": "I went to the cinema yesterday.",
	"phase3_interaction": "Oh, nice! What did you watch?",
	"phase4_expansion": ["A comedy.", "A thriller."]
}`

type fixture struct {
	stt      *sttmock.Provider
	llm      *llmmock.Provider
	tts      *ttsmock.Provider
	sessions *session.Manager
	ts       *httptest.Server
}

func newFixture(t *testing.T, opts ...Option) *fixture {
	t.Helper()
	f := &fixture{
		stt: &sttmock.Provider{Result: stt.Transcript{Text: "I go to cinema yesterday"}},
		llm: &llmmock.Provider{CompleteResponse: &llm.CompletionResponse{Content: okReply}},
		tts: &ttsmock.Provider{Audio: []byte("ID3-fake-mp3")},
	}
	mp := sdkmetric.NewMeterProvider()
	t.Cleanup(func() { _ = mp.Shutdown(context.Background()) })
	m, err := observe.NewMetrics(mp)
	if err != nil {
		t.Fatal(err)
	}

	gen, err := tutor.NewResponder(f.llm)
	if err != nil {
		t.Fatal(err)
	}
	proc, err := tutor.NewProcessor(f.stt, gen, tutor.WithMetrics(m))
	if err != nil {
		t.Fatal(err)
	}
	f.sessions = session.NewManager(session.NewMemStore())
	srv, err := New(proc, render.New(f.tts, render.WithMetrics(m)), f.sessions, opts...)
	if err != nil {
		t.Fatal(err)
	}
	f.ts = httptest.NewServer(srv.Handler())
	t.Cleanup(f.ts.Close)
	return f
}

func (f *fixture) do(t *testing.T, method, path, contentType string, body []byte) *http.Response {
	t.Helper()
	req, err := http.NewRequest(method, f.ts.URL+path, bytes.NewReader(body))
	if err != nil {
		t.Fatal(err)
	}
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	resp, err := f.ts.Client().Do(req)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func (f *fixture) create(t *testing.T, body string) render.View {
	t.Helper()
	resp := f.do(t, http.MethodPost, "/api/sessions", "application/json", []byte(body))
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("create status = %d, want 201", resp.StatusCode)
	}
	return decode[render.View](t, resp)
}

func decode[T any](t *testing.T, resp *http.Response) T {
	t.Helper()
	var v T
	if err := json.NewDecoder(resp.Body).Decode(&v); err != nil {
		t.Fatalf("decode: %v", err)
	}
	return v
}

func TestNew_RequiresCollaborators(t *testing.T) {
	if _, err := New(nil, render.New(nil), session.NewManager(session.NewMemStore())); err == nil {
		t.Error("expected error for nil processor")
	}
}

func TestLanguages(t *testing.T) {
	f := newFixture(t)
	resp := f.do(t, http.MethodGet, "/api/languages", "", nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d", resp.StatusCode)
	}
	langs := decode[[]language.Language](t, resp)
	if len(langs) != len(language.Builtin()) {
		t.Errorf("got %d languages, want %d", len(langs), len(language.Builtin()))
	}
}

func TestCreateSession(t *testing.T) {
	tests := []struct {
		name      string
		body      string
		wantLang  string
		wantVoice string
	}{
		{"empty body", "", "en", language.Default().Resolve("en").DefaultVoice().ID},
		{"language only", `{"language":"ja"}`, "ja", language.Default().Resolve("ja").DefaultVoice().ID},
		{"foreign voice", `{"language":"de","voice_id":"ja-JP-KeitaNeural"}`, "de", language.Default().Resolve("de").DefaultVoice().ID},
		{"unknown language", `{"language":"tlh"}`, "en", language.Default().Resolve("en").DefaultVoice().ID},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			f := newFixture(t)
			view := f.create(t, tc.body)
			if view.SessionID == "" {
				t.Error("session_id is empty")
			}
			if view.Language != tc.wantLang || view.VoiceID != tc.wantVoice {
				t.Errorf("voice = %s/%s, want %s/%s", view.Language, view.VoiceID, tc.wantLang, tc.wantVoice)
			}
			if len(view.Turns) != 0 {
				t.Errorf("new session has %d turns", len(view.Turns))
			}
		})
	}
}

func TestCreateSession_DefaultLanguageOption(t *testing.T) {
	f := newFixture(t, WithDefaultLanguage("ko"))
	if view := f.create(t, ""); view.Language != "ko" {
		t.Errorf("language = %q, want ko", view.Language)
	}
}

func TestUnknownSession(t *testing.T) {
	f := newFixture(t)
	for _, tc := range []struct{ method, path string }{
		{http.MethodGet, "/api/sessions/nope"},
		{http.MethodPost, "/api/sessions/nope/turns"},
		{http.MethodDelete, "/api/sessions/nope/turns"},
		{http.MethodPut, "/api/sessions/nope/voice"},
		{http.MethodGet, "/api/sessions/nope/ws"},
	} {
		resp := f.do(t, tc.method, tc.path, "application/json", []byte(`{}`))
		if resp.StatusCode != http.StatusNotFound {
			t.Errorf("%s %s: status = %d, want 404", tc.method, tc.path, resp.StatusCode)
		}
	}
}

func TestTextTurn_AutoplaysOnce(t *testing.T) {
	f := newFixture(t)
	id := f.create(t, "").SessionID

	resp := f.do(t, http.MethodPost, "/api/sessions/"+id+"/turns", "application/json", []byte(`{"text":"I go to cinema yesterday"}`))
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}
	got := decode[turnResponse](t, resp)
	if got.View == nil || len(got.View.Turns) != 2 {
		t.Fatalf("view = %+v, want 2 turns", got.View)
	}
	a := got.View.Turns[1]
	if a.Interaction != "Oh, nice! What did you watch?" {
		t.Errorf("interaction = %q", a.Interaction)
	}
	if a.InteractionAudio == nil || !a.InteractionAudio.Autoplay {
		t.Fatalf("interaction clip = %+v, want autoplay", a.InteractionAudio)
	}
	if a.OptimizedAudio == nil || a.OptimizedAudio.Autoplay {
		t.Errorf("optimized clip = %+v, want manual", a.OptimizedAudio)
	}
	if f.stt.CallCount() != 0 {
		t.Error("text turn must not call the transcriber")
	}

	again := decode[render.View](t, f.do(t, http.MethodGet, "/api/sessions/"+id, "", nil))
	if again.Autoplay() != nil {
		t.Error("second render must not autoplay again")
	}
}

func TestVoiceTurn_ForwardsFormatAndSkipsDuplicate(t *testing.T) {
	f := newFixture(t)
	id := f.create(t, `{"language":"en"}`).SessionID
	rec := bytes.Repeat([]byte{7}, 2000)

	resp := f.do(t, http.MethodPost, "/api/sessions/"+id+"/turns", "audio/webm;codecs=opus", rec)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}
	got := decode[turnResponse](t, resp)
	if got.Transcript != "I go to cinema yesterday" {
		t.Errorf("transcript = %q", got.Transcript)
	}
	if calls := f.stt.Calls; len(calls) != 1 || calls[0].Opts.Format != stt.FormatWebM {
		t.Fatalf("stt calls = %+v, want one webm call", calls)
	}

	resp = f.do(t, http.MethodPost, "/api/sessions/"+id+"/turns", "audio/webm", rec)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("duplicate status = %d, want 200", resp.StatusCode)
	}
	dup := decode[turnResponse](t, resp)
	if !dup.Skipped {
		t.Error("duplicate recording should be reported as skipped")
	}
	if len(dup.View.Turns) != 2 {
		t.Errorf("duplicate added turns: %d", len(dup.View.Turns))
	}
	if f.stt.CallCount() != 1 {
		t.Errorf("stt calls = %d, want 1", f.stt.CallCount())
	}
}

func TestTurn_Warnings(t *testing.T) {
	tests := []struct {
		name        string
		contentType string
		body        []byte
		setup       func(f *fixture)
		want        int
	}{
		{"short recording", "audio/wav", bytes.Repeat([]byte{1}, 10), nil, http.StatusUnprocessableEntity},
		{"blank text", "application/json", []byte(`{"text":"   "}`), nil, http.StatusUnprocessableEntity},
		{"empty transcript", "audio/ogg", bytes.Repeat([]byte{2}, 3000), func(f *fixture) {
			f.stt.Result = stt.Transcript{Text: " "}
		}, http.StatusUnprocessableEntity},
		{"generation failed", "application/json", []byte(`{"text":"hello"}`), func(f *fixture) {
			f.llm.CompleteResponse = &llm.CompletionResponse{Content: "not json"}
		}, http.StatusUnprocessableEntity},
		{"unsupported media", "text/plain", []byte("hello"), nil, http.StatusUnsupportedMediaType},
		{"bad json", "application/json", []byte(`{"text":`), nil, http.StatusBadRequest},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			f := newFixture(t)
			if tc.setup != nil {
				tc.setup(f)
			}
			id := f.create(t, "").SessionID
			resp := f.do(t, http.MethodPost, "/api/sessions/"+id+"/turns", tc.contentType, tc.body)
			if resp.StatusCode != tc.want {
				t.Fatalf("status = %d, want %d", resp.StatusCode, tc.want)
			}
			if tc.want == http.StatusUnprocessableEntity {
				if p := decode[problem](t, resp); p.Warning == "" {
					t.Error("422 response must carry a warning")
				}
			}
			view := decode[render.View](t, f.do(t, http.MethodGet, "/api/sessions/"+id, "", nil))
			if len(view.Turns) != 0 {
				t.Errorf("failed turn appended %d turns", len(view.Turns))
			}
		})
	}
}

func TestTurn_UploadTooLarge(t *testing.T) {
	f := newFixture(t, WithMaxUploadBytes(100))
	id := f.create(t, "").SessionID
	resp := f.do(t, http.MethodPost, "/api/sessions/"+id+"/turns", "audio/wav", bytes.Repeat([]byte{1}, 200))
	if resp.StatusCode != http.StatusRequestEntityTooLarge {
		t.Errorf("status = %d, want 413", resp.StatusCode)
	}
}

func TestTurn_BusySession(t *testing.T) {
	f := newFixture(t)
	entered := make(chan struct{})
	release := make(chan struct{})
	f.stt.TranscribeFunc = func(ctx context.Context, _ []byte, _ stt.Options) (stt.Transcript, error) {
		close(entered)
		<-release
		return stt.Transcript{Text: "I go to cinema yesterday"}, nil
	}
	id := f.create(t, "").SessionID

	done := make(chan int)
	go func() {
		req, _ := http.NewRequest(http.MethodPost, f.ts.URL+"/api/sessions/"+id+"/turns", bytes.NewReader(bytes.Repeat([]byte{3}, 2000)))
		req.Header.Set("Content-Type", "audio/webm")
		resp, err := f.ts.Client().Do(req)
		if err != nil {
			done <- 0
			return
		}
		resp.Body.Close()
		done <- resp.StatusCode
	}()
	<-entered

	if resp := f.do(t, http.MethodPost, "/api/sessions/"+id+"/turns", "application/json", []byte(`{"text":"hi there"}`)); resp.StatusCode != http.StatusConflict {
		t.Errorf("concurrent turn status = %d, want 409", resp.StatusCode)
	}
	if resp := f.do(t, http.MethodDelete, "/api/sessions/"+id+"/turns", "", nil); resp.StatusCode != http.StatusConflict {
		t.Errorf("concurrent clear status = %d, want 409", resp.StatusCode)
	}

	close(release)
	if status := <-done; status != http.StatusOK {
		t.Errorf("first turn status = %d, want 200", status)
	}
}

func TestClearAndSetVoice(t *testing.T) {
	f := newFixture(t)
	id := f.create(t, "").SessionID
	f.do(t, http.MethodPost, "/api/sessions/"+id+"/turns", "application/json", []byte(`{"text":"hello there"}`))

	if resp := f.do(t, http.MethodDelete, "/api/sessions/"+id+"/turns", "", nil); resp.StatusCode != http.StatusNoContent {
		t.Fatalf("clear status = %d, want 204", resp.StatusCode)
	}
	view := decode[render.View](t, f.do(t, http.MethodGet, "/api/sessions/"+id, "", nil))
	if len(view.Turns) != 0 {
		t.Errorf("turns after clear = %d", len(view.Turns))
	}

	resp := f.do(t, http.MethodPut, "/api/sessions/"+id+"/voice", "application/json", []byte(`{"language":"fr","voice_id":"bogus"}`))
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("voice status = %d", resp.StatusCode)
	}
	vc := decode[session.VoiceConfig](t, resp)
	fr := language.Default().Resolve("fr")
	if vc.Language != "fr" || vc.VoiceID != fr.DefaultVoice().ID {
		t.Errorf("voice = %+v, want fr/%s", vc, fr.DefaultVoice().ID)
	}
	sess, err := f.sessions.Get(id)
	if err != nil {
		t.Fatal(err)
	}
	if sess.Voice() != vc {
		t.Errorf("session voice = %+v, want %+v", sess.Voice(), vc)
	}
}

func TestWebSocket(t *testing.T) {
	f := newFixture(t)
	id := f.create(t, "").SessionID

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	url := "ws" + strings.TrimPrefix(f.ts.URL, "http") + "/api/sessions/" + id + "/ws"
	conn, _, err := websocket.Dial(ctx, url, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.CloseNow()

	read := func() serverMessage {
		t.Helper()
		var msg serverMessage
		if err := wsjson.Read(ctx, conn, &msg); err != nil {
			t.Fatalf("read: %v", err)
		}
		return msg
	}

	if hello := read(); hello.Type != msgView || hello.View == nil {
		t.Fatalf("greeting = %+v, want view", hello)
	}

	if err := wsjson.Write(ctx, conn, clientMessage{Type: msgText, Text: "I go to cinema yesterday"}); err != nil {
		t.Fatal(err)
	}
	msg := read()
	if msg.Type != msgView || len(msg.View.Turns) != 2 {
		t.Fatalf("text turn reply = %+v", msg)
	}
	if msg.View.Autoplay() == nil {
		t.Error("fresh reply should autoplay")
	}

	if err := conn.Write(ctx, websocket.MessageBinary, []byte("tiny")); err != nil {
		t.Fatal(err)
	}
	if msg := read(); msg.Type != msgWarning || msg.Message == "" {
		t.Errorf("short recording reply = %+v, want warning", msg)
	}

	if err := wsjson.Write(ctx, conn, clientMessage{Type: msgVoice, Language: "ja"}); err != nil {
		t.Fatal(err)
	}
	if msg := read(); msg.Type != msgView || msg.View.Language != "ja" {
		t.Errorf("voice reply = %+v, want ja view", msg)
	}

	if err := wsjson.Write(ctx, conn, clientMessage{Type: msgClear}); err != nil {
		t.Fatal(err)
	}
	if msg := read(); msg.Type != msgView || len(msg.View.Turns) != 0 {
		t.Errorf("clear reply = %+v, want empty view", msg)
	}

	if err := wsjson.Write(ctx, conn, clientMessage{Type: "dance"}); err != nil {
		t.Fatal(err)
	}
	if msg := read(); msg.Type != msgError {
		t.Errorf("unknown type reply = %+v, want error", msg)
	}

	conn.Close(websocket.StatusNormalClosure, "")
}
