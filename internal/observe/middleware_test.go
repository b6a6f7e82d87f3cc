package observe

import (
	"context"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"testing"

	"go.opentelemetry.io/otel/codes"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
)

// testSetup creates metrics and an in-memory tracer for middleware tests.
func testSetup(t *testing.T) (*Metrics, *sdkmetric.ManualReader, *tracetest.InMemoryExporter) {
	t.Helper()
	reader := sdkmetric.NewManualReader()
	mp := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	t.Cleanup(func() { _ = mp.Shutdown(context.Background()) })

	m, err := NewMetrics(mp)
	if err != nil {
		t.Fatalf("NewMetrics: %v", err)
	}
	return m, reader, useTestTracer(t)
}

// tutorMux mimics the API routes the middleware sits in front of.
func tutorMux() *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /api/sessions/{id}", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	mux.HandleFunc("POST /api/sessions/{id}/turns", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusUnprocessableEntity)
	})
	mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	mux.HandleFunc("GET /boom", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	})
	return mux
}

func TestMiddleware_Spans(t *testing.T) {
	tests := []struct {
		name        string
		method      string
		path        string
		wantName    string
		wantStatus  int64
		wantSession string
		wantError   bool
	}{
		{"session view", "GET", "/api/sessions/web-1", "HTTP GET /api/sessions/{id}", 200, "web-1", false},
		{"rejected turn", "POST", "/api/sessions/web-2/turns", "HTTP POST /api/sessions/{id}/turns", 422, "web-2", false},
		{"unmatched", "GET", "/wp-login.php", "HTTP unmatched", 404, "", false},
		{"upstream failure", "GET", "/boom", "HTTP GET /boom", 502, "", true},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			m, _, exp := testSetup(t)
			Middleware(m)(tutorMux()).ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(tc.method, tc.path, nil))

			spans := exp.GetSpans().Snapshots()
			if len(spans) != 1 {
				t.Fatalf("spans = %d, want 1", len(spans))
			}
			s := spans[0]
			if s.Name() != tc.wantName {
				t.Errorf("span name = %q, want %q", s.Name(), tc.wantName)
			}
			if got, _ := spanAttr(s, "http.response.status_code"); got != strconv.FormatInt(tc.wantStatus, 10) {
				t.Errorf("status attribute = %q, want %d", got, tc.wantStatus)
			}
			if got, _ := spanAttr(s, "session_id"); got != tc.wantSession {
				t.Errorf("session_id = %q, want %q", got, tc.wantSession)
			}
			if gotErr := s.Status().Code == codes.Error; gotErr != tc.wantError {
				t.Errorf("span error = %v, want %v", gotErr, tc.wantError)
			}
		})
	}
}

func TestMiddleware_CorrelationID(t *testing.T) {
	const incoming = "4bf92f3577b34da6a3ce929d0e0e4736"
	tests := []struct {
		name        string
		traceparent string
		want        string
	}{
		{"new trace", "", ""},
		{"continued trace", "00-" + incoming + "-00f067aa0ba902b7-01", incoming},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			m, _, _ := testSetup(t)
			var seen string
			h := Middleware(m)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				seen = CorrelationID(r.Context())
			}))
			req := httptest.NewRequest("GET", "/api/languages", nil)
			if tc.traceparent != "" {
				req.Header.Set("traceparent", tc.traceparent)
			}
			rec := httptest.NewRecorder()
			h.ServeHTTP(rec, req)

			if len(seen) != 32 {
				t.Fatalf("correlation id %q has length %d, want 32", seen, len(seen))
			}
			if tc.want != "" && seen != tc.want {
				t.Errorf("correlation id = %q, want %q", seen, tc.want)
			}
			if got := rec.Header().Get("X-Correlation-ID"); got != seen {
				t.Errorf("X-Correlation-ID = %q, want %q", got, seen)
			}
			if !strings.Contains(rec.Header().Get("traceparent"), seen) {
				t.Errorf("traceparent %q does not carry %s", rec.Header().Get("traceparent"), seen)
			}
		})
	}
}

func TestMiddleware_LabelsByRoute(t *testing.T) {
	m, reader, _ := testSetup(t)
	h := Middleware(m)(tutorMux())

	for _, path := range []string{"/api/sessions/a", "/api/sessions/b", "/api/sessions/c", "/nope", "/other"} {
		h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest("GET", path, nil))
	}

	hist := findMetric(collect(t, reader), "oraltutor.http.request.duration").Data.(metricdata.Histogram[float64])
	counts := map[string]uint64{}
	for _, dp := range hist.DataPoints {
		route, _ := dp.Attributes.Value("route")
		counts[route.AsString()] += dp.Count
	}
	if len(counts) != 2 || counts["GET /api/sessions/{id}"] != 3 || counts[unmatchedRoute] != 2 {
		t.Errorf("samples by route = %v", counts)
	}
}

func TestCompletionLevel(t *testing.T) {
	tests := []struct {
		route  string
		status int
		want   slog.Level
	}{
		{"GET /healthz", 200, slog.LevelDebug},
		{"GET /metrics", 200, slog.LevelDebug},
		{"GET /readyz", 503, slog.LevelError},
		{"POST /api/sessions/{id}/turns", 422, slog.LevelInfo},
		{"GET /api/sessions/{id}", 200, slog.LevelInfo},
		{unmatchedRoute, 404, slog.LevelInfo},
	}
	for _, tc := range tests {
		if got := completionLevel(tc.route, tc.status); got != tc.want {
			t.Errorf("completionLevel(%q, %d) = %v, want %v", tc.route, tc.status, got, tc.want)
		}
	}
}

func TestMiddleware_LogsSession(t *testing.T) {
	m, _, _ := testSetup(t)
	buf := captureLogs(t)
	Middleware(m)(tutorMux()).ServeHTTP(httptest.NewRecorder(), httptest.NewRequest("GET", "/api/sessions/web-9", nil))

	out := buf.String()
	for _, want := range []string{"request completed", "session_id=web-9", "status=200"} {
		if !strings.Contains(out, want) {
			t.Errorf("log %q missing %q", out, want)
		}
	}
}
