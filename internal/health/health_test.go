package health

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/MrWong99/oraltutor/internal/resilience"
)

func ok(name string) Checker {
	return Checker{Name: name, Check: func(context.Context) error { return nil }}
}

func failing(name, msg string) Checker {
	return Checker{Name: name, Check: func(context.Context) error { return errors.New(msg) }}
}

func serve(t *testing.T, handler http.HandlerFunc, r *http.Request) (*httptest.ResponseRecorder, result) {
	t.Helper()
	rec := httptest.NewRecorder()
	handler(rec, r)
	var body result
	if err := json.NewDecoder(rec.Body).Decode(&body); err != nil {
		t.Fatalf("decode JSON: %v", err)
	}
	return rec, body
}

func TestHealthz(t *testing.T) {
	h := New(failing("store", "down"))
	rec, body := serve(t, h.Healthz, httptest.NewRequest(http.MethodGet, "/healthz", nil))

	if rec.Code != http.StatusOK || body.Status != StatusOK {
		t.Errorf("got %d/%s, want 200/ok even with a failing checker", rec.Code, body.Status)
	}
	if ct := rec.Header().Get("Content-Type"); ct != "application/json; charset=utf-8" {
		t.Errorf("Content-Type = %q", ct)
	}
	if body.Checks != nil {
		t.Errorf("liveness must not run checks, got %v", body.Checks)
	}
}

func TestReadyz(t *testing.T) {
	tests := []struct {
		name       string
		checkers   []Checker
		wantCode   int
		wantStatus string
		wantChecks map[string]string
	}{
		{
			name:       "no checkers",
			wantCode:   http.StatusOK,
			wantStatus: StatusOK,
		},
		{
			name:       "all pass",
			checkers:   []Checker{ok("store"), ok("llm")},
			wantCode:   http.StatusOK,
			wantStatus: StatusOK,
			wantChecks: map[string]string{"store": "ok", "llm": "ok"},
		},
		{
			name:       "store down",
			checkers:   []Checker{failing("store", "connection refused"), ok("llm")},
			wantCode:   http.StatusServiceUnavailable,
			wantStatus: StatusFail,
			wantChecks: map[string]string{"store": "fail: connection refused", "llm": "ok"},
		},
		{
			name:       "everything down",
			checkers:   []Checker{failing("store", "timeout"), failing("tts", "no providers configured")},
			wantCode:   http.StatusServiceUnavailable,
			wantStatus: StatusFail,
			wantChecks: map[string]string{"store": "fail: timeout", "tts": "fail: no providers configured"},
		},
		{
			name:       "optional failure degrades",
			checkers:   []Checker{ok("store"), DegradedChecker("playback_marker", func() bool { return true })},
			wantCode:   http.StatusOK,
			wantStatus: StatusDegraded,
			wantChecks: map[string]string{"store": "ok", "playback_marker": "degraded: running in degraded mode"},
		},
		{
			name: "required failure wins over degraded",
			checkers: []Checker{
				failing("store", "gone"),
				DegradedChecker("playback_marker", func() bool { return true }),
			},
			wantCode:   http.StatusServiceUnavailable,
			wantStatus: StatusFail,
		},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			h := New(tc.checkers...)
			rec, body := serve(t, h.Readyz, httptest.NewRequest(http.MethodGet, "/readyz", nil))
			if rec.Code != tc.wantCode || body.Status != tc.wantStatus {
				t.Errorf("got %d/%s, want %d/%s", rec.Code, body.Status, tc.wantCode, tc.wantStatus)
			}
			for name, want := range tc.wantChecks {
				if body.Checks[name] != want {
					t.Errorf("checks[%s] = %q, want %q", name, body.Checks[name], want)
				}
			}
		})
	}
}

func TestReadyz_CancelledRequest(t *testing.T) {
	h := New(Checker{Name: "slow", Check: func(ctx context.Context) error {
		<-ctx.Done()
		return ctx.Err()
	}})
	ctx, cancel := context.WithCancel(t.Context())
	cancel()

	rec, _ := serve(t, h.Readyz, httptest.NewRequest(http.MethodGet, "/readyz", nil).WithContext(ctx))
	if rec.Code != http.StatusServiceUnavailable {
		t.Errorf("status = %d, want 503", rec.Code)
	}
}

func TestDegradedChecker_Recovers(t *testing.T) {
	degraded := true
	h := New(DegradedChecker("playback_marker", func() bool { return degraded }))

	if _, body := serve(t, h.Readyz, httptest.NewRequest(http.MethodGet, "/readyz", nil)); body.Status != StatusDegraded {
		t.Fatalf("status = %s, want degraded", body.Status)
	}
	degraded = false
	if _, body := serve(t, h.Readyz, httptest.NewRequest(http.MethodGet, "/readyz", nil)); body.Status != StatusOK {
		t.Errorf("status = %s, want ok after recovery", body.Status)
	}
}

func TestRegister(t *testing.T) {
	mux := http.NewServeMux()
	New(ok("store")).Register(mux)

	for _, path := range []string{"/healthz", "/readyz"} {
		rec := httptest.NewRecorder()
		mux.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))
		if rec.Code != http.StatusOK {
			t.Errorf("GET %s = %d", path, rec.Code)
		}
	}
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/readyz", nil))
	if rec.Code != http.StatusMethodNotAllowed {
		t.Errorf("POST /readyz = %d, want 405", rec.Code)
	}
}

type pingFunc func(context.Context) error

func (f pingFunc) Ping(ctx context.Context) error { return f(ctx) }

func TestPingChecker(t *testing.T) {
	c := PingChecker("store", pingFunc(func(context.Context) error {
		return errors.New("connection refused")
	}))
	if c.Name != "store" || c.Optional {
		t.Errorf("checker = %+v", c)
	}
	if err := c.Check(t.Context()); err == nil || err.Error() != "connection refused" {
		t.Errorf("err = %v", err)
	}
}

func TestProviderChecker(t *testing.T) {
	tests := []struct {
		name    string
		entries []resilience.EntryStatus
		wantErr bool
	}{
		{"all closed", []resilience.EntryStatus{{Name: "groq", State: resilience.StateClosed}}, false},
		{"one open", []resilience.EntryStatus{
			{Name: "groq", State: resilience.StateOpen},
			{Name: "ollama", State: resilience.StateClosed},
		}, false},
		{"half open", []resilience.EntryStatus{{Name: "groq", State: resilience.StateHalfOpen}}, false},
		{"all open", []resilience.EntryStatus{
			{Name: "groq", State: resilience.StateOpen},
			{Name: "ollama", State: resilience.StateOpen},
		}, true},
		{"none", nil, false},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			c := ProviderChecker("llm", func() []resilience.EntryStatus { return tc.entries })
			if err := c.Check(t.Context()); (err != nil) != tc.wantErr {
				t.Errorf("err = %v, wantErr %v", err, tc.wantErr)
			}
		})
	}
}
