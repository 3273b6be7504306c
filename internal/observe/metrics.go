// Package observe provides application-wide observability primitives for
// streamasr: OpenTelemetry metrics, distributed tracing, structured logging,
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

// meterName is the instrumentation scope name used for all streamasr metrics.
const meterName = "github.com/MrWong99/streamasr"

// Metrics holds all OpenTelemetry metric instruments for the application.
// All fields are safe for concurrent use; the underlying OTel types handle
// their own synchronisation.
type Metrics struct {
	// --- Latency histograms ---

	// DecodeDuration tracks one DecodeStream call (encoder chunk plus search).
	DecodeDuration metric.Float64Histogram

	// OfflineDuration tracks one offline transcription of a speech segment.
	// Use with attribute.String("backend", ...).
	OfflineDuration metric.Float64Histogram

	// --- Counters ---

	// EncoderFrames counts feature frames consumed by the encoder.
	EncoderFrames metric.Int64Counter

	// TokensEmitted counts non-blank tokens in final results.
	TokensEmitted metric.Int64Counter

	// Endpoints counts detected endpoints. Use with attribute:
	//   attribute.String("rule", ...)
	Endpoints metric.Int64Counter

	// Utterances counts final results by source ("stream" or "offline").
	Utterances metric.Int64Counter

	// VADSegments counts speech segments cut by the VAD.
	VADSegments metric.Int64Counter

	// --- Error counters ---

	// SinkErrors counts failed sink writes. Use with attribute:
	//   attribute.String("sink", ...)
	SinkErrors metric.Int64Counter

	// --- Gauges ---

	// ActiveStreams tracks the number of live websocket streams.
	ActiveStreams metric.Int64UpDownCounter

	// --- HTTP middleware ---

	// HTTPRequestDuration tracks HTTP request time, labelled by method,
	// route pattern and status class. Websocket streams are recorded when
	// they close.
	HTTPRequestDuration metric.Float64Histogram
}

// latencyBuckets defines histogram bucket boundaries (in seconds) for
// per-chunk decoding, which sits well below the offline latencies.
var latencyBuckets = []float64{
	0.001, 0.0025, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1,
}

// offlineBuckets covers whole-segment transcription.
var offlineBuckets = []float64{
	0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30,
}

// NewMetrics creates a fully initialised [Metrics] struct using the given
// [metric.MeterProvider]. Returns an error if any instrument creation fails.
func NewMetrics(mp metric.MeterProvider) (*Metrics, error) {
	m := mp.Meter(meterName)
	var err error
	met := &Metrics{}

	// Histograms.
	if met.DecodeDuration, err = m.Float64Histogram("streamasr.decode.duration",
		metric.WithDescription("Latency of one streaming decode step."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}
	if met.OfflineDuration, err = m.Float64Histogram("streamasr.offline.duration",
		metric.WithDescription("Latency of offline segment transcription."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(offlineBuckets...),
	); err != nil {
		return nil, err
	}

	// Counters.
	if met.EncoderFrames, err = m.Int64Counter("streamasr.encoder.frames",
		metric.WithDescription("Total feature frames consumed by the encoder."),
	); err != nil {
		return nil, err
	}
	if met.TokensEmitted, err = m.Int64Counter("streamasr.tokens.emitted",
		metric.WithDescription("Total tokens in final results."),
	); err != nil {
		return nil, err
	}
	if met.Endpoints, err = m.Int64Counter("streamasr.endpoints",
		metric.WithDescription("Total endpoints by the rule that fired."),
	); err != nil {
		return nil, err
	}
	if met.Utterances, err = m.Int64Counter("streamasr.utterances",
		metric.WithDescription("Total final utterances by source."),
	); err != nil {
		return nil, err
	}
	if met.VADSegments, err = m.Int64Counter("streamasr.vad.segments",
		metric.WithDescription("Total speech segments detected by the VAD."),
	); err != nil {
		return nil, err
	}

	// Error counters.
	if met.SinkErrors, err = m.Int64Counter("streamasr.sink.errors",
		metric.WithDescription("Total failed sink writes by sink."),
	); err != nil {
		return nil, err
	}

	// Gauges (UpDownCounters).
	if met.ActiveStreams, err = m.Int64UpDownCounter("streamasr.active_streams",
		metric.WithDescription("Number of live websocket streams."),
	); err != nil {
		return nil, err
	}

	// HTTP middleware histogram.
	if met.HTTPRequestDuration, err = m.Float64Histogram("streamasr.http.request.duration",
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

// RecordEndpoint records an endpoint detected by rule.
func (m *Metrics) RecordEndpoint(ctx context.Context, rule string) {
	m.Endpoints.Add(ctx, 1, metric.WithAttributes(attribute.String("rule", rule)))
}

// RecordUtterance records one final result of source with its token count.
func (m *Metrics) RecordUtterance(ctx context.Context, source string, tokens int) {
	m.Utterances.Add(ctx, 1, metric.WithAttributes(attribute.String("source", source)))
	if tokens > 0 {
		m.TokensEmitted.Add(ctx, int64(tokens))
	}
}

// RecordOffline records the latency of one offline transcription.
func (m *Metrics) RecordOffline(ctx context.Context, backend string, d time.Duration) {
	m.OfflineDuration.Record(ctx, d.Seconds(), metric.WithAttributes(attribute.String("backend", backend)))
}

// RecordSinkError is a convenience method that records a sink error counter
// increment.
func (m *Metrics) RecordSinkError(ctx context.Context, sink string) {
	m.SinkErrors.Add(ctx, 1, metric.WithAttributes(attribute.String("sink", sink)))
}
