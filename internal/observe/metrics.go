// Package observe provides application-wide observability primitives for
// quacktosql: OpenTelemetry metrics, distributed tracing, structured logging,
// and HTTP middleware that ties them together.
//
// Metrics are recorded through the OpenTelemetry Metrics API. A Prometheus
// exporter bridge is available via [InitProvider] so that metrics can be
// scraped via the standard /metrics endpoint. A package-level default
// [Metrics] instance ([DefaultMetrics]) is provided for convenience; tests
// should use [NewMetrics] with a custom [metric.MeterProvider] to avoid
// cross-test pollution.
package observe

import (
	"context"
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// meterName is the instrumentation scope name used for all metrics.
const meterName = "github.com/MrWong99/quacktosql"

// Metrics holds all OpenTelemetry metric instruments for the application.
// All fields are safe for concurrent use.
type Metrics struct {
	// --- Latency histograms ---

	// ASRDuration tracks one transcription, from generate to complete.
	ASRDuration metric.Float64Histogram

	// DecodeDuration tracks decoding the accumulated chunk buffer.
	DecodeDuration metric.Float64Histogram

	// ModelLoadDuration tracks model load including warm-up.
	ModelLoadDuration metric.Float64Histogram

	// TokensPerSecond samples the generation throughput of completed runs.
	TokensPerSecond metric.Float64Histogram

	// --- Counters ---

	// DecodeFailures counts codec attempts that failed. Use with attribute:
	//   attribute.String("codec", ...)
	DecodeFailures metric.Int64Counter

	// DecodeCodec counts successful decodes by winning codec. Use with
	// attribute: attribute.String("codec", ...)
	DecodeCodec metric.Int64Counter

	// Generations counts finished generations. Use with attribute:
	//   attribute.String("status", "complete"|"error")
	Generations metric.Int64Counter

	// GenerationsDropped counts generate requests ignored because one was
	// already in flight.
	GenerationsDropped metric.Int64Counter

	// ProviderRequests counts provider API calls. Use with attributes:
	//   attribute.String("provider", ...), attribute.String("kind", ...), attribute.String("status", ...)
	ProviderRequests metric.Int64Counter

	// ProviderErrors counts provider errors. Use with attributes:
	//   attribute.String("provider", ...), attribute.String("kind", ...)
	ProviderErrors metric.Int64Counter

	// SessionErrors counts recoverable and fatal session failures. Use with
	// attribute: attribute.String("kind", ...)
	SessionErrors metric.Int64Counter

	// Mastery counts sessions that reached the maximum keyword count.
	Mastery metric.Int64Counter

	// Timeouts counts recording sessions ended by the duration ceiling.
	Timeouts metric.Int64Counter

	// --- Gauges ---

	// ActiveSessions tracks the number of connected client sessions.
	ActiveSessions metric.Int64UpDownCounter

	// ActiveRecordings tracks sessions currently capturing audio.
	ActiveRecordings metric.Int64UpDownCounter

	// --- HTTP middleware ---

	// HTTPRequestDuration tracks HTTP request processing time. Use with attributes:
	//   attribute.String("method", ...), attribute.String("path", ...)
	HTTPRequestDuration metric.Float64Histogram
}

// latencyBuckets defines histogram bucket boundaries (in seconds) for decode
// and transcription latencies.
var latencyBuckets = []float64{
	0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30,
}

// tpsBuckets covers CPU-bound small whisper models up to cloud APIs.
var tpsBuckets = []float64{1, 2, 5, 10, 20, 50, 100, 200}

// NewMetrics creates a fully initialised [Metrics] struct using the given
// [metric.MeterProvider]. Returns an error if any instrument creation fails.
func NewMetrics(mp metric.MeterProvider) (*Metrics, error) {
	m := mp.Meter(meterName)
	var err error
	met := &Metrics{}

	// Histograms.
	if met.ASRDuration, err = m.Float64Histogram("quacktosql.asr.duration",
		metric.WithDescription("Latency of one transcription of the rolling audio window."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}
	if met.DecodeDuration, err = m.Float64Histogram("quacktosql.decode.duration",
		metric.WithDescription("Latency of decoding the accumulated chunk buffer."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}
	if met.ModelLoadDuration, err = m.Float64Histogram("quacktosql.asr.load.duration",
		metric.WithDescription("Latency of model load and warm-up."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}
	if met.TokensPerSecond, err = m.Float64Histogram("quacktosql.asr.tokens_per_second",
		metric.WithDescription("Generation throughput of completed transcriptions."),
		metric.WithUnit("{token}/s"),
		metric.WithExplicitBucketBoundaries(tpsBuckets...),
	); err != nil {
		return nil, err
	}

	// Counters.
	if met.DecodeFailures, err = m.Int64Counter("quacktosql.decode.failures",
		metric.WithDescription("Failed codec attempts by codec hint."),
	); err != nil {
		return nil, err
	}
	if met.DecodeCodec, err = m.Int64Counter("quacktosql.decode.codec",
		metric.WithDescription("Successful decodes by winning codec."),
	); err != nil {
		return nil, err
	}
	if met.Generations, err = m.Int64Counter("quacktosql.generations",
		metric.WithDescription("Finished generations by terminal status."),
	); err != nil {
		return nil, err
	}
	if met.GenerationsDropped, err = m.Int64Counter("quacktosql.generations.dropped",
		metric.WithDescription("Generate requests ignored while another was in flight."),
	); err != nil {
		return nil, err
	}
	if met.ProviderRequests, err = m.Int64Counter("quacktosql.provider.requests",
		metric.WithDescription("Total provider API requests by provider, kind, and status."),
	); err != nil {
		return nil, err
	}
	if met.ProviderErrors, err = m.Int64Counter("quacktosql.provider.errors",
		metric.WithDescription("Total provider errors by provider and kind."),
	); err != nil {
		return nil, err
	}
	if met.SessionErrors, err = m.Int64Counter("quacktosql.session.errors",
		metric.WithDescription("Session failures by error kind."),
	); err != nil {
		return nil, err
	}
	if met.Mastery, err = m.Int64Counter("quacktosql.mastery",
		metric.WithDescription("Sessions that reached the maximum keyword count."),
	); err != nil {
		return nil, err
	}
	if met.Timeouts, err = m.Int64Counter("quacktosql.capture.timeouts",
		metric.WithDescription("Recording sessions ended by the duration ceiling."),
	); err != nil {
		return nil, err
	}

	// Gauges (UpDownCounters).
	if met.ActiveSessions, err = m.Int64UpDownCounter("quacktosql.active_sessions",
		metric.WithDescription("Number of connected client sessions."),
	); err != nil {
		return nil, err
	}
	if met.ActiveRecordings, err = m.Int64UpDownCounter("quacktosql.active_recordings",
		metric.WithDescription("Number of sessions currently capturing audio."),
	); err != nil {
		return nil, err
	}

	// HTTP middleware histogram.
	if met.HTTPRequestDuration, err = m.Float64Histogram("quacktosql.http.request.duration",
		metric.WithDescription("HTTP request latency by method and path."),
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

// RecordProviderRequest records a provider request counter increment with
// the standard attribute set.
func (m *Metrics) RecordProviderRequest(ctx context.Context, provider, kind, status string) {
	m.ProviderRequests.Add(ctx, 1,
		metric.WithAttributes(
			attribute.String("provider", provider),
			attribute.String("kind", kind),
			attribute.String("status", status),
		),
	)
}

// RecordProviderError records a provider error counter increment.
func (m *Metrics) RecordProviderError(ctx context.Context, provider, kind string) {
	m.ProviderErrors.Add(ctx, 1,
		metric.WithAttributes(
			attribute.String("provider", provider),
			attribute.String("kind", kind),
		),
	)
}

// RecordDecode records the outcome of one decode: the duration, every failed
// codec attempt, and the winning codec when winner is non-empty.
func (m *Metrics) RecordDecode(ctx context.Context, seconds float64, winner string, failed []string) {
	m.DecodeDuration.Record(ctx, seconds)
	for _, codec := range failed {
		m.DecodeFailures.Add(ctx, 1, metric.WithAttributes(attribute.String("codec", codec)))
	}
	if winner != "" {
		m.DecodeCodec.Add(ctx, 1, metric.WithAttributes(attribute.String("codec", winner)))
	}
}

// RecordGeneration records a finished generation by terminal status, and its
// throughput when tps is positive.
func (m *Metrics) RecordGeneration(ctx context.Context, status string, seconds, tps float64) {
	m.Generations.Add(ctx, 1, metric.WithAttributes(attribute.String("status", status)))
	m.ASRDuration.Record(ctx, seconds, metric.WithAttributes(attribute.String("status", status)))
	if tps > 0 {
		m.TokensPerSecond.Record(ctx, tps)
	}
}

// RecordSessionError records a session failure of the given kind.
func (m *Metrics) RecordSessionError(ctx context.Context, kind string) {
	m.SessionErrors.Add(ctx, 1, metric.WithAttributes(attribute.String("kind", kind)))
}
