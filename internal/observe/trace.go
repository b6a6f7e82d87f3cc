package observe

import (
	"context"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
)

const tracerName = "github.com/MrWong99/oraltutor"

type sessionKey struct{}

// WithSession returns a context that carries the tutoring session id. Spans
// started by [StartSpan] and loggers returned by [Logger] pick it up.
func WithSession(ctx context.Context, id string) context.Context {
	if id == "" {
		return ctx
	}
	return context.WithValue(ctx, sessionKey{}, id)
}

// SessionID returns the session id stored by [WithSession], or "".
func SessionID(ctx context.Context) string {
	id, _ := ctx.Value(sessionKey{}).(string)
	return id
}

// StartSpan starts a span on the global tracer provider. When ctx carries a
// session id the span is tagged with it.
func StartSpan(ctx context.Context, name string, opts ...trace.SpanStartOption) (context.Context, trace.Span) {
	if id := SessionID(ctx); id != "" {
		opts = append(opts, trace.WithAttributes(attribute.String("session_id", id)))
	}
	return otel.Tracer(tracerName).Start(ctx, name, opts...)
}

// CorrelationID returns the trace id of the span in ctx, or "".
func CorrelationID(ctx context.Context) string {
	sc := trace.SpanContextFromContext(ctx)
	if sc.HasTraceID() {
		return sc.TraceID().String()
	}
	return ""
}

// Logger returns the default logger with trace_id, span_id and session_id
// attached when ctx has them.
func Logger(ctx context.Context) *slog.Logger {
	l := slog.Default()
	if sc := trace.SpanContextFromContext(ctx); sc.HasTraceID() {
		l = l.With(
			slog.String("trace_id", sc.TraceID().String()),
			slog.String("span_id", sc.SpanID().String()),
		)
	}
	if id := SessionID(ctx); id != "" {
		l = l.With(slog.String("session_id", id))
	}
	return l
}

// Stage times one collaborator call of a turn (transcribe, generate,
// synthesize) as a span plus a latency sample.
type Stage struct {
	span    trace.Span
	latency metric.Float64Histogram
	start   time.Time
	attrs   []attribute.KeyValue
}

// StartStage opens a span named "tutor."+name. latency may be nil.
func StartStage(ctx context.Context, name string, latency metric.Float64Histogram, attrs ...attribute.KeyValue) (context.Context, *Stage) {
	ctx, span := StartSpan(ctx, "tutor."+name, trace.WithAttributes(attrs...))
	return ctx, &Stage{span: span, latency: latency, start: time.Now(), attrs: attrs}
}

// End records the latency and closes the span, marking it failed when err is
// non-nil.
func (s *Stage) End(ctx context.Context, err error) {
	if s.latency != nil {
		s.latency.Record(ctx, time.Since(s.start).Seconds(), metric.WithAttributes(s.attrs...))
	}
	if err != nil {
		s.span.RecordError(err)
		s.span.SetStatus(codes.Error, err.Error())
	}
	s.span.End()
}
