// Package observe provides application-wide observability primitives for
// voxreel: OpenTelemetry metrics, distributed tracing, structured logging,
// and HTTP middleware that ties them together.
//
// Metrics are recorded through the OpenTelemetry Metrics API. A Prometheus
// exporter bridge is available via [InitProvider] so that metrics can still be
// scraped via the standard /metrics endpoint. A package-level default
// [Metrics] instance ([DefaultMetrics]) is provided for convenience; tests
// should use [NewMetrics] with a custom [metric.MeterProvider] to avoid
// cross-test pollution.
package observe

import (
	"context"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// meterName is the instrumentation scope name used for all voxreel metrics.
const meterName = "github.com/MrWong99/voxreel"

// Metrics holds all OpenTelemetry metric instruments for the application.
// All fields are safe for concurrent use; the underlying OTel types handle
// their own synchronisation.
type Metrics struct {
	// --- Latency histograms ---

	// TranscriptionDuration tracks how long one capture round takes from
	// start of recording or streaming to the final transcript. Use with
	// attribute.String("strategy", ...).
	TranscriptionDuration metric.Float64Histogram

	// DispatchDuration tracks voice command execution latency against the
	// active player adapter.
	DispatchDuration metric.Float64Histogram

	// --- Counters ---

	// Transcriptions counts finished capture rounds. Use with attributes:
	//   attribute.String("strategy", ...), attribute.String("status", ...)
	Transcriptions metric.Int64Counter

	// ParseResults counts parser outcomes. Use with attributes:
	//   attribute.String("stage", "exact"|"regex"|"fuzzy"|"none"), attribute.String("language", ...)
	ParseResults metric.Int64Counter

	// DispatchResults counts executed voice commands. Use with attributes:
	//   attribute.String("intent", ...), attribute.String("status", ...)
	DispatchResults metric.Int64Counter

	// KeepAliveRestarts counts keep-alive restart attempts. Use with
	// attribute.String("status", ...).
	KeepAliveRestarts metric.Int64Counter

	// --- Error counters ---

	// RecognitionErrors counts speech recognition failures. Use with
	// attribute.String("kind", ...).
	RecognitionErrors metric.Int64Counter

	// --- Gauges ---

	// ActivePlayers tracks the number of live player adapters (0 or 1 per
	// dispatcher).
	ActivePlayers metric.Int64UpDownCounter

	// ListeningSessions tracks captures that are currently listening.
	ListeningSessions metric.Int64UpDownCounter

	// BridgeSessions tracks connected app shells.
	BridgeSessions metric.Int64UpDownCounter

	// --- HTTP middleware ---

	// HTTPRequestDuration tracks HTTP request processing time. Use with attributes:
	//   method, path (mux pattern) and surface.
	HTTPRequestDuration metric.Float64Histogram
}

// latencyBuckets defines histogram bucket boundaries (in seconds) covering
// everything from a local command dispatch to a five second recording plus
// remote transcription.
var latencyBuckets = []float64{
	0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 7.5, 10, 20,
}

// NewMetrics creates a fully initialised [Metrics] struct using the given
// [metric.MeterProvider]. Returns an error if any instrument creation fails.
func NewMetrics(mp metric.MeterProvider) (*Metrics, error) {
	m := mp.Meter(meterName)
	var err error
	met := &Metrics{}

	// Histograms.
	if met.TranscriptionDuration, err = m.Float64Histogram("voxreel.transcription.duration",
		metric.WithDescription("Latency from capture start to final transcript."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}
	if met.DispatchDuration, err = m.Float64Histogram("voxreel.dispatch.duration",
		metric.WithDescription("Latency of voice command execution."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}

	// Counters.
	if met.Transcriptions, err = m.Int64Counter("voxreel.transcriptions",
		metric.WithDescription("Total capture rounds by strategy and status."),
	); err != nil {
		return nil, err
	}
	if met.ParseResults, err = m.Int64Counter("voxreel.parse.results",
		metric.WithDescription("Total parser results by matching stage and language."),
	); err != nil {
		return nil, err
	}
	if met.DispatchResults, err = m.Int64Counter("voxreel.dispatch.results",
		metric.WithDescription("Total voice command executions by intent and status."),
	); err != nil {
		return nil, err
	}
	if met.KeepAliveRestarts, err = m.Int64Counter("voxreel.keepalive.restarts",
		metric.WithDescription("Total keep-alive restart attempts by status."),
	); err != nil {
		return nil, err
	}

	// Error counters.
	if met.RecognitionErrors, err = m.Int64Counter("voxreel.recognition.errors",
		metric.WithDescription("Total speech recognition errors by kind."),
	); err != nil {
		return nil, err
	}

	// Gauges (UpDownCounters).
	if met.ActivePlayers, err = m.Int64UpDownCounter("voxreel.active_players",
		metric.WithDescription("Number of live player adapters."),
	); err != nil {
		return nil, err
	}
	if met.ListeningSessions, err = m.Int64UpDownCounter("voxreel.listening_sessions",
		metric.WithDescription("Number of captures currently listening."),
	); err != nil {
		return nil, err
	}
	if met.BridgeSessions, err = m.Int64UpDownCounter("voxreel.bridge_sessions",
		metric.WithDescription("Number of connected app shell bridges."),
	); err != nil {
		return nil, err
	}

	// HTTP middleware histogram.
	if met.HTTPRequestDuration, err = m.Float64Histogram("voxreel.http.request.duration",
		metric.WithDescription("API request latency by method, route pattern and surface."),
		metric.WithUnit("s"),
	); err != nil {
		return nil, err
	}

	return met, nil
}

// defaultMetrics is the lazily-initialised package-level Metrics instance.
var (
	defaultMetrics     *Metrics
	defaultMetricsOnce sync.Once
)

// DefaultMetrics returns the package-level [Metrics] instance, creating it on
// first call using [otel.GetMeterProvider]. Subsequent calls return the same
// pointer. Panics if instrument creation fails (should not happen with the
// global provider).
func DefaultMetrics() *Metrics {
	defaultMetricsOnce.Do(func() {
		var err error
		defaultMetrics, err = NewMetrics(otel.GetMeterProvider())
		if err != nil {
			panic("observe: failed to create default metrics: " + err.Error())
		}
	})
	return defaultMetrics
}

// Attr is a convenience alias for [attribute.String] to reduce verbosity at
// call sites.
func Attr(key, value string) attribute.KeyValue {
	return attribute.String(key, value)
}

// Status returns "ok" when ok is true and "error" otherwise.
func Status(ok bool) string {
	if ok {
		return "ok"
	}
	return "error"
}

// RecordTranscription records one finished capture round: a counter
// increment and, for successful rounds, the latency.
func (m *Metrics) RecordTranscription(ctx context.Context, strategy, status string, d time.Duration) {
	m.Transcriptions.Add(ctx, 1,
		metric.WithAttributes(
			attribute.String("strategy", strategy),
			attribute.String("status", status),
		),
	)
	if status == "ok" {
		m.TranscriptionDuration.Record(ctx, d.Seconds(),
			metric.WithAttributes(attribute.String("strategy", strategy)),
		)
	}
}

// RecordRecognitionError records a recognition failure of the given kind.
func (m *Metrics) RecordRecognitionError(ctx context.Context, kind string) {
	m.RecognitionErrors.Add(ctx, 1,
		metric.WithAttributes(attribute.String("kind", kind)),
	)
}

// RecordParse records which parser stage matched ("none" for no match).
func (m *Metrics) RecordParse(ctx context.Context, stage, language string) {
	m.ParseResults.Add(ctx, 1,
		metric.WithAttributes(
			attribute.String("stage", stage),
			attribute.String("language", language),
		),
	)
}

// RecordDispatch records a voice command execution outcome and its latency.
func (m *Metrics) RecordDispatch(ctx context.Context, intent string, ok bool, d time.Duration) {
	m.DispatchResults.Add(ctx, 1,
		metric.WithAttributes(
			attribute.String("intent", intent),
			attribute.String("status", Status(ok)),
		),
	)
	m.DispatchDuration.Record(ctx, d.Seconds(),
		metric.WithAttributes(attribute.String("intent", intent)),
	)
}

// RecordKeepAlive records a keep-alive restart attempt.
func (m *Metrics) RecordKeepAlive(ctx context.Context, ok bool) {
	m.KeepAliveRestarts.Add(ctx, 1,
		metric.WithAttributes(attribute.String("status", Status(ok))),
	)
}
