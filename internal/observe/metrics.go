// Package observe provides application-wide observability primitives for
// Routine Studio: OpenTelemetry metrics, distributed tracing, structured
// logging helpers, and HTTP middleware that ties them together.
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
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// meterName is the instrumentation scope name used for all Routine Studio metrics.
const meterName = "github.com/moche-ai/routine-studio"

// Metrics holds all OpenTelemetry metric instruments for the application.
// All fields are safe for concurrent use — the underlying OTel types handle
// their own synchronisation.
type Metrics struct {
	// --- Latency histograms ---

	// StageDuration tracks wall-clock time of one agent dispatch. Use with
	// attribute.String("stage", ...).
	StageDuration metric.Float64Histogram

	// LLMDuration tracks LLM inference latency.
	LLMDuration metric.Float64Histogram

	// VisionDuration tracks vision model analysis latency.
	VisionDuration metric.Float64Histogram

	// TTSDuration tracks speech synthesis latency.
	TTSDuration metric.Float64Histogram

	// WorkflowDuration tracks workflow-engine run time. Use with
	// attribute.String("kind", "image"|"video").
	WorkflowDuration metric.Float64Histogram

	// SubprocessDuration tracks media tool invocations. Use with
	// attribute.String("tool", "ffmpeg"|"ffprobe"|"yt-dlp").
	SubprocessDuration metric.Float64Histogram

	// HTTPRequestDuration tracks HTTP request processing time. Use with
	// attribute.String("method", ...), attribute.String("path", ...).
	HTTPRequestDuration metric.Float64Histogram

	// --- Counters ---

	// ProviderRequests counts LLM provider calls. Use with attributes:
	//   attribute.String("provider", ...), attribute.String("status", ...)
	ProviderRequests metric.Int64Counter

	// ProviderErrors counts LLM provider failures by provider.
	ProviderErrors metric.Int64Counter

	// CacheLookups counts benchmark cache lookups. Use with
	//   attribute.String("result", "hit"|"miss")
	CacheLookups metric.Int64Counter

	// QCVerdicts counts quality-check outcomes. Use with
	//   attribute.String("verdict", "PASS"|"FAIL")
	QCVerdicts metric.Int64Counter

	// --- Gauges ---

	// ActiveSessions tracks sessions with in-flight message processing.
	ActiveSessions metric.Int64UpDownCounter

	// ProgressSubscribers tracks live progress stream subscriptions.
	ProgressSubscribers metric.Int64UpDownCounter
}

// latencyBuckets defines histogram boundaries (seconds) for request-scale
// operations such as LLM and vision calls.
var latencyBuckets = []float64{
	0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60, 120,
}

// longRunBuckets defines histogram boundaries (seconds) for stage dispatches
// and workflow runs, which can take minutes.
var longRunBuckets = []float64{
	0.5, 1, 2.5, 5, 10, 30, 60, 120, 300, 600, 1200,
}

// NewMetrics creates a fully initialised [Metrics] struct using the given
// [metric.MeterProvider]. Returns an error if any instrument creation fails.
func NewMetrics(mp metric.MeterProvider) (*Metrics, error) {
	m := mp.Meter(meterName)
	var err error
	met := &Metrics{}

	// Histograms.
	if met.StageDuration, err = m.Float64Histogram("studio.stage.duration",
		metric.WithDescription("Wall-clock time of one agent dispatch by stage."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(longRunBuckets...),
	); err != nil {
		return nil, err
	}
	if met.LLMDuration, err = m.Float64Histogram("studio.llm.duration",
		metric.WithDescription("Latency of LLM inference."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}
	if met.VisionDuration, err = m.Float64Histogram("studio.vision.duration",
		metric.WithDescription("Latency of vision model analysis."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}
	if met.TTSDuration, err = m.Float64Histogram("studio.tts.duration",
		metric.WithDescription("Latency of speech synthesis."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}
	if met.WorkflowDuration, err = m.Float64Histogram("studio.workflow.duration",
		metric.WithDescription("Workflow engine run time by kind."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(longRunBuckets...),
	); err != nil {
		return nil, err
	}
	if met.SubprocessDuration, err = m.Float64Histogram("studio.subprocess.duration",
		metric.WithDescription("Media tool invocation time by tool."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}
	if met.HTTPRequestDuration, err = m.Float64Histogram("studio.http.request.duration",
		metric.WithDescription("HTTP request latency by method and path."),
		metric.WithUnit("s"),
	); err != nil {
		return nil, err
	}

	// Counters.
	if met.ProviderRequests, err = m.Int64Counter("studio.provider.requests",
		metric.WithDescription("Total LLM provider requests by provider and status."),
	); err != nil {
		return nil, err
	}
	if met.ProviderErrors, err = m.Int64Counter("studio.provider.errors",
		metric.WithDescription("Total LLM provider errors by provider."),
	); err != nil {
		return nil, err
	}
	if met.CacheLookups, err = m.Int64Counter("studio.cache.lookups",
		metric.WithDescription("Benchmark cache lookups by result."),
	); err != nil {
		return nil, err
	}
	if met.QCVerdicts, err = m.Int64Counter("studio.qc.verdicts",
		metric.WithDescription("Quality check outcomes by verdict."),
	); err != nil {
		return nil, err
	}

	// Gauges (UpDownCounters).
	if met.ActiveSessions, err = m.Int64UpDownCounter("studio.active_sessions",
		metric.WithDescription("Sessions with in-flight message processing."),
	); err != nil {
		return nil, err
	}
	if met.ProgressSubscribers, err = m.Int64UpDownCounter("studio.progress_subscribers",
		metric.WithDescription("Live progress stream subscriptions."),
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

// RecordProviderRequest records one provider call with its outcome and
// latency. A non-nil err also increments the error counter.
func (m *Metrics) RecordProviderRequest(ctx context.Context, provider string, err error, elapsed time.Duration) {
	status := "ok"
	if err != nil {
		status = "error"
		m.ProviderErrors.Add(ctx, 1,
			metric.WithAttributes(attribute.String("provider", provider)))
	}
	m.ProviderRequests.Add(ctx, 1,
		metric.WithAttributes(
			attribute.String("provider", provider),
			attribute.String("status", status),
		),
	)
	m.LLMDuration.Record(ctx, elapsed.Seconds())
}

// RecordStage records the wall-clock time of one agent dispatch.
func (m *Metrics) RecordStage(ctx context.Context, stage string, elapsed time.Duration) {
	m.StageDuration.Record(ctx, elapsed.Seconds(),
		metric.WithAttributes(attribute.String("stage", stage)))
}

// RecordCacheLookup records a benchmark cache hit or miss.
func (m *Metrics) RecordCacheLookup(ctx context.Context, hit bool) {
	result := "miss"
	if hit {
		result = "hit"
	}
	m.CacheLookups.Add(ctx, 1,
		metric.WithAttributes(attribute.String("result", result)))
}

// RecordQCVerdict records a quality check outcome.
func (m *Metrics) RecordQCVerdict(ctx context.Context, verdict string) {
	m.QCVerdicts.Add(ctx, 1,
		metric.WithAttributes(attribute.String("verdict", verdict)))
}

// RecordSubprocess records one media tool invocation. Shaped to plug
// directly into the media runner's observer hook.
func (m *Metrics) RecordSubprocess(tool string, elapsed time.Duration) {
	m.SubprocessDuration.Record(context.Background(), elapsed.Seconds(),
		metric.WithAttributes(attribute.String("tool", tool)))
}
