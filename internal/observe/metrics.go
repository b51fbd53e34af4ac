// Package observe provides application-wide observability primitives for
// voxmorph: OpenTelemetry metrics, tracing helpers, structured logging, and
// HTTP middleware that ties them together.
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

// meterName is the instrumentation scope name used for all voxmorph metrics.
const meterName = "voxmorph"

// Metrics holds all OpenTelemetry metric instruments for the application.
// All fields are safe for concurrent use — the underlying OTel types handle
// their own synchronisation.
type Metrics struct {
	// --- Latency histograms per pipeline stage ---

	// AnalysisDuration tracks vocoder analysis latency per waveform.
	AnalysisDuration metric.Float64Histogram

	// SynthesisDuration tracks vocoder resynthesis latency.
	SynthesisDuration metric.Float64Histogram

	// TemplateBuildDuration tracks end-to-end timbre template build latency.
	TemplateBuildDuration metric.Float64Histogram

	// MorphDuration tracks end-to-end morph latency for one target track.
	MorphDuration metric.Float64Histogram

	// --- Counters ---

	// MorphRequests counts morph invocations. Use with attribute:
	//   attribute.String("status", "ok"|"error")
	MorphRequests metric.Int64Counter

	// TemplateBuilds counts template builds. Use with attribute:
	//   attribute.String("status", "ok"|"error")
	TemplateBuilds metric.Int64Counter

	// TemplateCacheHits counts template builds served from the memoization cache.
	TemplateCacheHits metric.Int64Counter

	// SamplesSkipped counts reference samples rejected during a template
	// build. Use with attribute: attribute.String("reason", ...)
	SamplesSkipped metric.Int64Counter

	// --- HTTP middleware ---

	// HTTPRequestDuration tracks HTTP request processing time. Use with attributes:
	//   attribute.String("method", ...), attribute.String("path", ...)
	HTTPRequestDuration metric.Float64Histogram
}

// latencyBuckets defines histogram bucket boundaries (in seconds) sized for
// CPU-bound audio processing of clips between a fraction of a second and
// several minutes.
var latencyBuckets = []float64{
	0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60,
}

// NewMetrics creates a fully initialised [Metrics] struct using the given
// [metric.MeterProvider]. Returns an error if any instrument creation fails.
func NewMetrics(mp metric.MeterProvider) (*Metrics, error) {
	m := mp.Meter(meterName)
	var err error
	met := &Metrics{}

	// Histograms.
	if met.AnalysisDuration, err = m.Float64Histogram("voxmorph.analysis.duration",
		metric.WithDescription("Latency of vocoder analysis per waveform."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}
	if met.SynthesisDuration, err = m.Float64Histogram("voxmorph.synthesis.duration",
		metric.WithDescription("Latency of vocoder resynthesis."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}
	if met.TemplateBuildDuration, err = m.Float64Histogram("voxmorph.template.build.duration",
		metric.WithDescription("End-to-end latency of timbre template builds."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}
	if met.MorphDuration, err = m.Float64Histogram("voxmorph.morph.duration",
		metric.WithDescription("End-to-end latency of one morph request."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}

	// Counters.
	if met.MorphRequests, err = m.Int64Counter("voxmorph.morph.requests",
		metric.WithDescription("Total morph invocations by status."),
	); err != nil {
		return nil, err
	}
	if met.TemplateBuilds, err = m.Int64Counter("voxmorph.template.builds",
		metric.WithDescription("Total template builds by status."),
	); err != nil {
		return nil, err
	}
	if met.TemplateCacheHits, err = m.Int64Counter("voxmorph.template.cache_hits",
		metric.WithDescription("Template builds served from the memoization cache."),
	); err != nil {
		return nil, err
	}
	if met.SamplesSkipped, err = m.Int64Counter("voxmorph.template.samples_skipped",
		metric.WithDescription("Reference samples rejected during template builds, by reason."),
	); err != nil {
		return nil, err
	}

	// HTTP middleware histogram.
	if met.HTTPRequestDuration, err = m.Float64Histogram("voxmorph.http.request.duration",
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

// RecordMorph records one morph invocation with its duration and status.
func (m *Metrics) RecordMorph(ctx context.Context, d time.Duration, status string) {
	m.MorphDuration.Record(ctx, d.Seconds())
	m.MorphRequests.Add(ctx, 1,
		metric.WithAttributes(attribute.String("status", status)),
	)
}

// RecordTemplateBuild records one template build with its duration and status.
func (m *Metrics) RecordTemplateBuild(ctx context.Context, d time.Duration, status string) {
	m.TemplateBuildDuration.Record(ctx, d.Seconds())
	m.TemplateBuilds.Add(ctx, 1,
		metric.WithAttributes(attribute.String("status", status)),
	)
}

// RecordSampleSkipped records one rejected reference sample with a reason label.
func (m *Metrics) RecordSampleSkipped(ctx context.Context, reason string) {
	m.SamplesSkipped.Add(ctx, 1,
		metric.WithAttributes(attribute.String("reason", reason)),
	)
}
