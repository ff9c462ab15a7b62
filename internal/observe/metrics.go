// Package observe provides observability primitives for voxcoach:
// OpenTelemetry metrics, tracing, trace-aware logging and HTTP middleware that
// ties them together.
//
// Metrics are recorded through the OpenTelemetry Metrics API and exposed to
// Prometheus by the exporter bridge set up in [InitProvider]. A package-level
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

// meterName is the instrumentation scope name used for all voxcoach metrics.
const meterName = "github.com/MrWong99/voxcoach"

// Metrics holds all OpenTelemetry metric instruments for the application.
// All fields are safe for concurrent use.
type Metrics struct {
	// --- Latency histograms ---

	// ConnectDuration tracks how long a session takes from Connect to Live,
	// including device acquisition and the provider handshake.
	ConnectDuration metric.Float64Histogram

	// ToolAckDuration tracks the latency of sending a tool acknowledgment.
	ToolAckDuration metric.Float64Histogram

	// --- Counters ---

	// ProviderRequests counts connection attempts. Use with attributes:
	//   attribute.String("provider", ...), attribute.String("status", ...)
	ProviderRequests metric.Int64Counter

	// ProviderErrors counts provider errors. Use with attributes:
	//   attribute.String("provider", ...), attribute.String("kind", ...)
	ProviderErrors metric.Int64Counter

	// CaptureFrames counts microphone frames sent upstream.
	CaptureFrames metric.Int64Counter

	// CaptureBytes counts PCM bytes sent upstream.
	CaptureBytes metric.Int64Counter

	// PlaybackBuffers counts inbound audio buffers. Use with attribute:
	//   attribute.String("status", "scheduled"|"dropped")
	PlaybackBuffers metric.Int64Counter

	// Interruptions counts caller barge-ins.
	Interruptions metric.Int64Counter

	// Utterances counts finalized utterances. Use with attribute:
	//   attribute.String("role", ...)
	Utterances metric.Int64Counter

	// ToolCalls counts tool invocations. Use with attributes:
	//   attribute.String("tool", ...), attribute.String("status", ...)
	ToolCalls metric.Int64Counter

	// SessionErrors counts session errors by kind. Use with attribute:
	//   attribute.String("kind", ...)
	SessionErrors metric.Int64Counter

	// --- Gauges ---

	// ActiveSessions tracks the number of live sessions.
	ActiveSessions metric.Int64UpDownCounter

	// --- HTTP middleware ---

	// HTTPRequestDuration tracks HTTP request processing time. Use with attributes:
	//   attribute.String("method", ...), attribute.String("path", ...),
	//   attribute.Int("status", ...)
	HTTPRequestDuration metric.Float64Histogram
}

// latencyBuckets defines histogram bucket boundaries (in seconds) for
// connection and acknowledgment latencies.
var latencyBuckets = []float64{
	0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10,
}

// NewMetrics creates a fully initialised [Metrics] struct using the given
// [metric.MeterProvider]. Returns an error if any instrument creation fails.
func NewMetrics(mp metric.MeterProvider) (*Metrics, error) {
	m := mp.Meter(meterName)
	var err error
	met := &Metrics{}

	if met.ConnectDuration, err = m.Float64Histogram("voxcoach.session.connect.duration",
		metric.WithDescription("Latency from Connect to a live session."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}
	if met.ToolAckDuration, err = m.Float64Histogram("voxcoach.tool_ack.duration",
		metric.WithDescription("Latency of sending a tool acknowledgment."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}

	if met.ProviderRequests, err = m.Int64Counter("voxcoach.provider.requests",
		metric.WithDescription("Total provider connection attempts by provider and status."),
	); err != nil {
		return nil, err
	}
	if met.ProviderErrors, err = m.Int64Counter("voxcoach.provider.errors",
		metric.WithDescription("Total provider errors by provider and kind."),
	); err != nil {
		return nil, err
	}
	if met.CaptureFrames, err = m.Int64Counter("voxcoach.capture.frames",
		metric.WithDescription("Microphone frames sent upstream."),
	); err != nil {
		return nil, err
	}
	if met.CaptureBytes, err = m.Int64Counter("voxcoach.capture.bytes",
		metric.WithDescription("PCM bytes sent upstream."),
		metric.WithUnit("By"),
	); err != nil {
		return nil, err
	}
	if met.PlaybackBuffers, err = m.Int64Counter("voxcoach.playback.buffers",
		metric.WithDescription("Inbound audio buffers by scheduling status."),
	); err != nil {
		return nil, err
	}
	if met.Interruptions, err = m.Int64Counter("voxcoach.interruptions",
		metric.WithDescription("Caller barge-ins that cancelled playback."),
	); err != nil {
		return nil, err
	}
	if met.Utterances, err = m.Int64Counter("voxcoach.utterances",
		metric.WithDescription("Finalized utterances by role."),
	); err != nil {
		return nil, err
	}
	if met.ToolCalls, err = m.Int64Counter("voxcoach.tool.calls",
		metric.WithDescription("Total tool invocations by tool name and status."),
	); err != nil {
		return nil, err
	}
	if met.SessionErrors, err = m.Int64Counter("voxcoach.session.errors",
		metric.WithDescription("Session errors by kind."),
	); err != nil {
		return nil, err
	}

	if met.ActiveSessions, err = m.Int64UpDownCounter("voxcoach.active_sessions",
		metric.WithDescription("Number of live sessions."),
	); err != nil {
		return nil, err
	}

	if met.HTTPRequestDuration, err = m.Float64Histogram("voxcoach.http.request.duration",
		metric.WithDescription("HTTP request latency by method, route and status."),
		metric.WithUnit("s"),
	); err != nil {
		return nil, err
	}

	return met, nil
}

var (
	defaultMetrics     *Metrics
	defaultMetricsOnce sync.Once
)

// DefaultMetrics returns the package-level [Metrics] instance, creating it on
// first call using [otel.GetMeterProvider]. Panics if instrument creation
// fails.
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

// Attr is a convenience alias for [attribute.String].
func Attr(key, value string) attribute.KeyValue {
	return attribute.String(key, value)
}

// RecordProviderRequest records one connection attempt.
func (m *Metrics) RecordProviderRequest(ctx context.Context, provider, status string) {
	m.ProviderRequests.Add(ctx, 1,
		metric.WithAttributes(
			attribute.String("provider", provider),
			attribute.String("status", status),
		),
	)
}

// RecordProviderError records one provider error.
func (m *Metrics) RecordProviderError(ctx context.Context, provider, kind string) {
	m.ProviderErrors.Add(ctx, 1,
		metric.WithAttributes(
			attribute.String("provider", provider),
			attribute.String("kind", kind),
		),
	)
}

// RecordCaptureFrame records one frame of n bytes sent upstream.
func (m *Metrics) RecordCaptureFrame(ctx context.Context, n int) {
	m.CaptureFrames.Add(ctx, 1)
	m.CaptureBytes.Add(ctx, int64(n))
}

// RecordPlaybackBuffer records an inbound audio buffer with its status.
func (m *Metrics) RecordPlaybackBuffer(ctx context.Context, status string) {
	m.PlaybackBuffers.Add(ctx, 1, metric.WithAttributes(attribute.String("status", status)))
}

// RecordUtterance records a finalized utterance for role.
func (m *Metrics) RecordUtterance(ctx context.Context, role string) {
	m.Utterances.Add(ctx, 1, metric.WithAttributes(attribute.String("role", role)))
}

// RecordToolCall records a tool call with the standard attribute set.
func (m *Metrics) RecordToolCall(ctx context.Context, tool, status string) {
	m.ToolCalls.Add(ctx, 1,
		metric.WithAttributes(
			attribute.String("tool", tool),
			attribute.String("status", status),
		),
	)
}

// RecordSessionError records a session error of the given kind.
func (m *Metrics) RecordSessionError(ctx context.Context, kind string) {
	m.SessionErrors.Add(ctx, 1, metric.WithAttributes(attribute.String("kind", kind)))
}
