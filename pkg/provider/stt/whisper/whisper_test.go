package whisper_test

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/MrWong99/oraltutor/pkg/audio"
	"github.com/MrWong99/oraltutor/pkg/provider/stt"
	"github.com/MrWong99/oraltutor/pkg/provider/stt/whisper"
)

// ---- helpers ----------------------------------------------------------------

// capturedForm is the multipart payload seen by the mock server.
type capturedForm struct {
	filename string
	audio    []byte
	fields   map[string]string
}

// newMockServer creates a test server that responds to POST /inference with a
// JSON body containing responseText and records the last upload.
func newMockServer(t *testing.T, responseText string, callCount *atomic.Int32, last *capturedForm) *httptest.Server {
	t.Helper()
	var mu sync.Mutex
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || r.URL.Path != "/inference" {
			http.Error(w, "not found", http.StatusNotFound)
			return
		}
		if callCount != nil {
			callCount.Add(1)
		}
		if last != nil {
			if err := r.ParseMultipartForm(1 << 20); err != nil {
				http.Error(w, err.Error(), http.StatusBadRequest)
				return
			}
			f, hdr, err := r.FormFile("file")
			if err != nil {
				http.Error(w, err.Error(), http.StatusBadRequest)
				return
			}
			data, _ := io.ReadAll(f)
			f.Close()
			mu.Lock()
			last.filename = hdr.Filename
			last.audio = data
			last.fields = map[string]string{}
			for k, v := range r.MultipartForm.Value {
				last.fields[k] = v[0]
			}
			mu.Unlock()
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]string{"text": responseText})
	}))
	t.Cleanup(srv.Close)
	return srv
}

func wavRecording() []byte {
	return audio.EncodeWAV(audio.PCM{Data: make([]byte, 3200), SampleRate: 16000, Channels: 1})
}

// ---- provider construction --------------------------------------------------

func TestNew_EmptyServerURL_ReturnsError(t *testing.T) {
	_, err := whisper.New("")
	if err == nil {
		t.Fatal("expected error for empty serverURL, got nil")
	}
}

func TestNew_WithOptions_DoesNotError(t *testing.T) {
	p, err := whisper.New("http://localhost:8080",
		whisper.WithModel("small"),
		whisper.WithLanguage("de"),
		whisper.WithTimeout(5*time.Second),
	)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if p == nil {
		t.Fatal("expected non-nil Provider")
	}
}

// ---- Transcribe -------------------------------------------------------------

func TestTranscribe_UploadsRecordingAsIs(t *testing.T) {
	var calls atomic.Int32
	var form capturedForm
	srv := newMockServer(t, "  hello there \n", &calls, &form)

	p, err := whisper.New(srv.URL+"/", whisper.WithModel("base.en"))
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	rec := wavRecording()
	got, err := p.Transcribe(context.Background(), rec, stt.Options{Language: "en-US", Prompt: "travel"})
	if err != nil {
		t.Fatalf("Transcribe: %v", err)
	}
	if got.Text != "hello there" {
		t.Errorf("Text = %q, want %q", got.Text, "hello there")
	}
	if calls.Load() != 1 {
		t.Errorf("calls = %d, want 1", calls.Load())
	}
	if form.filename != "audio.wav" {
		t.Errorf("filename = %q, want audio.wav", form.filename)
	}
	if string(form.audio) != string(rec) {
		t.Error("uploaded audio differs from the recording")
	}
	want := map[string]string{"language": "en", "model": "base.en", "prompt": "travel", "response_format": "json"}
	for k, v := range want {
		if form.fields[k] != v {
			t.Errorf("field %s = %q, want %q", k, form.fields[k], v)
		}
	}
}

func TestTranscribe_DefaultLanguageAndFormatHint(t *testing.T) {
	var form capturedForm
	srv := newMockServer(t, "bonjour", nil, &form)

	p, _ := whisper.New(srv.URL, whisper.WithLanguage("fr"))
	_, err := p.Transcribe(context.Background(), []byte("\x1aE\xdf\xa3 webm-ish"), stt.Options{})
	if err != nil {
		t.Fatalf("Transcribe: %v", err)
	}
	if form.fields["language"] != "fr" {
		t.Errorf("language = %q, want fr", form.fields["language"])
	}
	if form.filename != "audio.webm" {
		t.Errorf("filename = %q, want audio.webm", form.filename)
	}
	if _, ok := form.fields["model"]; ok {
		t.Error("model field should be omitted when unset")
	}
}

func TestTranscribe_EmptyAudio(t *testing.T) {
	var calls atomic.Int32
	srv := newMockServer(t, "x", &calls, nil)
	p, _ := whisper.New(srv.URL)

	_, err := p.Transcribe(context.Background(), nil, stt.Options{})
	if !errors.Is(err, stt.ErrEmptyAudio) {
		t.Fatalf("err = %v, want ErrEmptyAudio", err)
	}
	if calls.Load() != 0 {
		t.Error("server should not be called for empty audio")
	}
}

func TestTranscribe_ServerError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
		_, _ = w.Write([]byte(`{"error":"model crashed"}`))
	}))
	defer srv.Close()

	p, _ := whisper.New(srv.URL)
	_, err := p.Transcribe(context.Background(), wavRecording(), stt.Options{})
	if err == nil {
		t.Fatal("expected error, got nil")
	}
	if !strings.Contains(err.Error(), "HTTP 500") || !strings.Contains(err.Error(), "model crashed") {
		t.Errorf("error = %v, want HTTP 500 with server message", err)
	}
}

func TestTranscribe_DecodeErrorIn200(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"error":"failed to read WAV file"}`))
	}))
	defer srv.Close()

	p, _ := whisper.New(srv.URL)
	_, err := p.Transcribe(context.Background(), []byte("garbage bytes"), stt.Options{})
	if !errors.Is(err, stt.ErrDecode) {
		t.Fatalf("err = %v, want ErrDecode", err)
	}
}

func TestTranscribe_CancelledContext(t *testing.T) {
	srv := newMockServer(t, "x", nil, nil)
	p, _ := whisper.New(srv.URL)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := p.Transcribe(ctx, wavRecording(), stt.Options{})
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("err = %v, want context.Canceled", err)
	}
}

func TestTranscribe_ConcurrentCalls(t *testing.T) {
	var calls atomic.Int32
	srv := newMockServer(t, "ok", &calls, nil)
	p, _ := whisper.New(srv.URL)

	var wg sync.WaitGroup
	for range 8 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := p.Transcribe(context.Background(), wavRecording(), stt.Options{}); err != nil {
				t.Errorf("Transcribe: %v", err)
			}
		}()
	}
	wg.Wait()
	if calls.Load() != 8 {
		t.Errorf("calls = %d, want 8", calls.Load())
	}
}
