// Package observe provides application-wide observability primitives for
// affectd: OpenTelemetry metrics, distributed tracing, structured logging,
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

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// meterName is the instrumentation scope name used for all affectd metrics.
const meterName = "github.com/affectd/affectd"

// Metrics holds all OpenTelemetry metric instruments for the application.
// All fields are safe for concurrent use — the underlying OTel types handle
// their own synchronisation.
type Metrics struct {
	// --- Latency histograms ---

	// InferenceDuration tracks per-modality model inference latency. Use with
	// attributes:
	//   attribute.String("modality", ...), attribute.String("status", ...)
	InferenceDuration metric.Float64Histogram

	// --- Counters ---

	// InferenceRequests counts inference calls by modality and outcome. Use
	// with attributes:
	//   attribute.String("modality", ...), attribute.String("status", ...)
	InferenceRequests metric.Int64Counter

	// UnitsDropped counts media units discarded before inference: throttled
	// frames, evicted pending windows, and units refused by unavailable
	// workers. Use with attribute:
	//   attribute.String("modality", ...)
	UnitsDropped metric.Int64Counter

	// FusionUpdates counts fused-state recomputations by conflict outcome.
	// Use with attribute:
	//   attribute.String("conflict", ...)
	FusionUpdates metric.Int64Counter

	// --- Gauges ---

	// ReadyWorkers tracks the number of worker proxies currently in the
	// ready state.
	ReadyWorkers metric.Int64UpDownCounter

	// StreamClients tracks the number of connected websocket stream clients.
	StreamClients metric.Int64UpDownCounter

	// --- HTTP middleware ---

	// HTTPRequestDuration tracks HTTP request processing time. Use with attributes:
	//   attribute.String("method", ...), attribute.String("path", ...)
	HTTPRequestDuration metric.Float64Histogram
}

// latencyBuckets defines histogram bucket boundaries (in seconds) sized for
// per-unit model inference latencies.
var latencyBuckets = []float64{
	0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5,
}

// NewMetrics creates a fully initialised [Metrics] struct using the given
// [metric.MeterProvider]. Returns an error if any instrument creation fails.
func NewMetrics(mp metric.MeterProvider) (*Metrics, error) {
	m := mp.Meter(meterName)
	var err error
	met := &Metrics{}

	// Histograms.
	if met.InferenceDuration, err = m.Float64Histogram("affectd.inference.duration",
		metric.WithDescription("Latency of per-modality model inference."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}

	// Counters.
	if met.InferenceRequests, err = m.Int64Counter("affectd.inference.requests",
		metric.WithDescription("Total inference calls by modality and status."),
	); err != nil {
		return nil, err
	}
	if met.UnitsDropped, err = m.Int64Counter("affectd.units.dropped",
		metric.WithDescription("Total media units discarded before inference, by modality."),
	); err != nil {
		return nil, err
	}
	if met.FusionUpdates, err = m.Int64Counter("affectd.fusion.updates",
		metric.WithDescription("Total fused-state recomputations by conflict outcome."),
	); err != nil {
		return nil, err
	}

	// Gauges (UpDownCounters).
	if met.ReadyWorkers, err = m.Int64UpDownCounter("affectd.workers.ready",
		metric.WithDescription("Number of worker proxies currently ready."),
	); err != nil {
		return nil, err
	}
	if met.StreamClients, err = m.Int64UpDownCounter("affectd.stream.clients",
		metric.WithDescription("Number of connected websocket stream clients."),
	); err != nil {
		return nil, err
	}

	// HTTP middleware histogram.
	if met.HTTPRequestDuration, err = m.Float64Histogram("affectd.http.request.duration",
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

// RecordInference records one inference call: a duration sample and a request
// counter increment, both tagged with modality and status ("ok" or "error").
func (m *Metrics) RecordInference(ctx context.Context, modality, status string, seconds float64) {
	attrs := metric.WithAttributes(
		attribute.String("modality", modality),
		attribute.String("status", status),
	)
	m.InferenceDuration.Record(ctx, seconds, attrs)
	m.InferenceRequests.Add(ctx, 1, attrs)
}

// RecordUnitDropped records one discarded media unit for the given modality.
func (m *Metrics) RecordUnitDropped(ctx context.Context, modality string) {
	m.UnitsDropped.Add(ctx, 1,
		metric.WithAttributes(attribute.String("modality", modality)),
	)
}

// RecordFusion records one fused-state recomputation with its conflict
// outcome ("none", "sarcasm", "masking", or "mixed").
func (m *Metrics) RecordFusion(ctx context.Context, conflict string) {
	m.FusionUpdates.Add(ctx, 1,
		metric.WithAttributes(attribute.String("conflict", conflict)),
	)
}

// WorkerReady adjusts the ready-worker gauge: +1 when a proxy becomes ready,
// -1 when it leaves the ready state.
func (m *Metrics) WorkerReady(ctx context.Context, delta int64) {
	m.ReadyWorkers.Add(ctx, delta)
}

// StreamClientConnected adjusts the connected-client gauge.
func (m *Metrics) StreamClientConnected(ctx context.Context, delta int64) {
	m.StreamClients.Add(ctx, delta)
}
