// Package observe carries the tutor's telemetry: OpenTelemetry instruments
// for turns, pipeline stages and providers, tracing helpers that tag spans
// and log lines with the session, and the HTTP middleware that joins both.
//
// [InitProvider] bridges the instruments to Prometheus. Tests build their
// own [Metrics] on a ManualReader with [NewMetrics]; [DefaultMetrics] is for
// callers that do not inject one.
package observe

import (
	"context"
	"errors"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// meterName is the instrumentation scope of every oraltutor instrument.
const meterName = "github.com/MrWong99/oraltutor"

// Turn outcomes, the "outcome" attribute of [Metrics.Turns].
const (
	OutcomeOK                 = "ok"
	OutcomeInputTooShort      = "input_too_short"
	OutcomeDuplicate          = "duplicate"
	OutcomeBusy               = "busy"
	OutcomeTranscriptionEmpty = "transcription_empty"
	OutcomeGenerationFailed   = "generation_failed"
	OutcomeError              = "error"
)

// Metrics holds the instruments. The Record helpers attach the attribute set
// each instrument is documented with; use them rather than the fields where
// one exists.
type Metrics struct {
	meter metric.Meter

	// Stage latency in seconds: transcription, reply generation and
	// synthesis of a single clip.
	STTDuration metric.Float64Histogram
	LLMDuration metric.Float64Histogram
	TTSDuration metric.Float64Histogram

	// TurnDuration is end-to-end turn latency by mode.
	TurnDuration metric.Float64Histogram

	// Turns counts finished turns by mode and outcome.
	Turns metric.Int64Counter

	// ProviderRequests counts fallback-group calls by provider, kind and
	// status; ProviderErrors counts the failures among them.
	ProviderRequests metric.Int64Counter
	ProviderErrors   metric.Int64Counter

	// BreakerTransitions counts circuit breaker state changes by provider,
	// kind and the state entered.
	BreakerTransitions metric.Int64Counter

	// Autoplays counts clips emitted with autoplay, by field.
	Autoplays metric.Int64Counter

	// ShadowReads counts user turns that repeated the previous optimized
	// sentence, by language.
	ShadowReads metric.Int64Counter

	// HTTPRequestDuration is request latency by method and route pattern.
	HTTPRequestDuration metric.Float64Histogram
}

// stageBuckets (seconds) span a cached clip to a slow cloud model round trip.
var stageBuckets = []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 4, 8, 15, 30}

// instruments creates instruments on one meter and keeps the first error,
// so NewMetrics reads as a list.
type instruments struct {
	meter metric.Meter
	errs  []error
}

func (in *instruments) histogram(name, desc string, buckets ...float64) metric.Float64Histogram {
	opts := []metric.Float64HistogramOption{metric.WithDescription(desc), metric.WithUnit("s")}
	if len(buckets) > 0 {
		opts = append(opts, metric.WithExplicitBucketBoundaries(buckets...))
	}
	h, err := in.meter.Float64Histogram(name, opts...)
	if err != nil {
		in.errs = append(in.errs, err)
	}
	return h
}

func (in *instruments) counter(name, desc string) metric.Int64Counter {
	c, err := in.meter.Int64Counter(name, metric.WithDescription(desc))
	if err != nil {
		in.errs = append(in.errs, err)
	}
	return c
}

// NewMetrics creates every instrument on mp.
func NewMetrics(mp metric.MeterProvider) (*Metrics, error) {
	in := &instruments{meter: mp.Meter(meterName)}
	m := &Metrics{
		meter: in.meter,

		STTDuration:  in.histogram("oraltutor.stt.duration", "Speech-to-text latency per voice turn.", stageBuckets...),
		LLMDuration:  in.histogram("oraltutor.llm.duration", "Tutor reply generation latency.", stageBuckets...),
		TTSDuration:  in.histogram("oraltutor.tts.duration", "Synthesis latency per clip.", stageBuckets...),
		TurnDuration: in.histogram("oraltutor.turn.duration", "End-to-end latency of a tutoring turn.", stageBuckets...),

		Turns:              in.counter("oraltutor.turns", "Tutoring turns by input mode and outcome."),
		ProviderRequests:   in.counter("oraltutor.provider.requests", "Provider calls by provider, kind and status."),
		ProviderErrors:     in.counter("oraltutor.provider.errors", "Failed provider calls by provider and kind."),
		BreakerTransitions: in.counter("oraltutor.provider.breaker.transitions", "Circuit breaker state changes by provider, kind and state."),
		Autoplays:          in.counter("oraltutor.autoplays", "Clips emitted with autoplay, by field."),
		ShadowReads:        in.counter("oraltutor.shadow.reads", "User turns that read along with the previous optimized sentence."),

		HTTPRequestDuration: in.histogram("oraltutor.http.request.duration", "HTTP request latency by method and route."),
	}
	if err := errors.Join(in.errs...); err != nil {
		return nil, err
	}
	return m, nil
}

// RegisterActiveSessions reports count() as a gauge at every collection.
func (m *Metrics) RegisterActiveSessions(count func() int) error {
	_, err := m.meter.Int64ObservableGauge("oraltutor.active_sessions",
		metric.WithDescription("Live tutoring sessions."),
		metric.WithInt64Callback(func(_ context.Context, o metric.Int64Observer) error {
			o.Observe(int64(count()))
			return nil
		}),
	)
	return err
}

var (
	defaultMetrics     *Metrics
	defaultMetricsOnce sync.Once
)

// DefaultMetrics returns a process-wide [Metrics] on the global meter
// provider. Instruments created before [InitProvider] installs the real
// provider are forwarded to it by the otel global delegate.
func DefaultMetrics() *Metrics {
	defaultMetricsOnce.Do(func() {
		var err error
		if defaultMetrics, err = NewMetrics(otel.GetMeterProvider()); err != nil {
			panic("observe: default metrics: " + err.Error())
		}
	})
	return defaultMetrics
}

// RecordTurn counts a finished turn and records its latency.
func (m *Metrics) RecordTurn(ctx context.Context, mode, outcome string, d time.Duration) {
	modeAttr := attribute.String("mode", mode)
	m.Turns.Add(ctx, 1, metric.WithAttributes(modeAttr, attribute.String("outcome", outcome)))
	m.TurnDuration.Record(ctx, d.Seconds(), metric.WithAttributes(modeAttr))
}

// RecordProviderRequest counts one provider call with its status.
func (m *Metrics) RecordProviderRequest(ctx context.Context, provider, kind, status string) {
	m.ProviderRequests.Add(ctx, 1, metric.WithAttributes(providerAttrs(provider, kind, attribute.String("status", status))...))
}

// RecordProviderError counts one failed provider call.
func (m *Metrics) RecordProviderError(ctx context.Context, provider, kind string) {
	m.ProviderErrors.Add(ctx, 1, metric.WithAttributes(providerAttrs(provider, kind)...))
}

// RecordBreakerTransition counts a circuit breaker entering state.
func (m *Metrics) RecordBreakerTransition(ctx context.Context, provider, kind, state string) {
	m.BreakerTransitions.Add(ctx, 1, metric.WithAttributes(providerAttrs(provider, kind, attribute.String("state", state))...))
}

// RecordAutoplay counts a clip of field emitted with autoplay.
func (m *Metrics) RecordAutoplay(ctx context.Context, field string) {
	m.Autoplays.Add(ctx, 1, metric.WithAttributes(attribute.String("field", field)))
}

// RecordShadowRead counts a read-along user turn.
func (m *Metrics) RecordShadowRead(ctx context.Context, language string) {
	m.ShadowReads.Add(ctx, 1, metric.WithAttributes(attribute.String("language", language)))
}

func providerAttrs(provider, kind string, extra ...attribute.KeyValue) []attribute.KeyValue {
	return append([]attribute.KeyValue{
		attribute.String("provider", provider),
		attribute.String("kind", kind),
	}, extra...)
}
