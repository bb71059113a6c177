// Package observe provides application-wide observability primitives for
// Livebridge: OpenTelemetry metrics, distributed tracing, structured logging,
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

// meterName is the instrumentation scope name used for all Livebridge metrics.
const meterName = "github.com/MrWong99/livebridge"

// Metrics holds all OpenTelemetry metric instruments for the proxy.
// All fields are safe for concurrent use — the underlying OTel types handle
// their own synchronisation.
type Metrics struct {
	// --- Latency histograms ---

	// HandshakeReadinessDuration tracks how long a client waited, from
	// upgrade to a ready (or failed) upstream session, during the
	// WebSocket handshake.
	HandshakeReadinessDuration metric.Float64Histogram

	// ToolExecutionDuration tracks MCP tool execution latency.
	ToolExecutionDuration metric.Float64Histogram

	// --- Counters ---

	// ToolCalls counts tool invocations. Use with attributes:
	//   attribute.String("tool", ...), attribute.String("status", ...)
	ToolCalls metric.Int64Counter

	// AbuseGateBans counts connections refused by the abuse gate. Use with
	// attribute.String("reason", "banned"|"rate_limited"|"bad_headers").
	AbuseGateBans metric.Int64Counter

	// Reconnects counts upstream reconnections triggered mid-session. Use
	// with attribute.String("reason", "go_away"|"connection_closed").
	Reconnects metric.Int64Counter

	// --- Gauges ---

	// PoolDepth tracks the number of pre-warmed upstream sessions
	// currently queued in the Warmup Pool.
	PoolDepth metric.Int64UpDownCounter

	// ActiveSessions tracks the number of live client↔upstream sessions
	// currently registered in the Session Registry.
	ActiveSessions metric.Int64UpDownCounter

	// --- HTTP middleware ---

	// HTTPRequestDuration tracks HTTP request processing time. Use with attributes:
	//   attribute.String("method", ...), attribute.String("path", ...)
	HTTPRequestDuration metric.Float64Histogram
}

// latencyBuckets defines histogram bucket boundaries (in seconds) optimised
// for handshake and tool-call latencies.
var latencyBuckets = []float64{
	0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10,
}

// NewMetrics creates a fully initialised [Metrics] struct using the given
// [metric.MeterProvider]. Returns an error if any instrument creation fails.
func NewMetrics(mp metric.MeterProvider) (*Metrics, error) {
	m := mp.Meter(meterName)
	var err error
	met := &Metrics{}

	// Histograms.
	if met.HandshakeReadinessDuration, err = m.Float64Histogram("livebridge.handshake.readiness.duration",
		metric.WithDescription("Latency from WebSocket upgrade to a ready (or failed) upstream session."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}
	if met.ToolExecutionDuration, err = m.Float64Histogram("livebridge.tool_execution.duration",
		metric.WithDescription("Latency of MCP tool execution."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}

	// Counters.
	if met.ToolCalls, err = m.Int64Counter("livebridge.tool.calls",
		metric.WithDescription("Total tool invocations by tool name and status."),
	); err != nil {
		return nil, err
	}
	if met.AbuseGateBans, err = m.Int64Counter("livebridge.abuse_gate.refusals",
		metric.WithDescription("Total handshakes refused by the abuse gate, by reason."),
	); err != nil {
		return nil, err
	}
	if met.Reconnects, err = m.Int64Counter("livebridge.pump.reconnects",
		metric.WithDescription("Total upstream reconnections triggered mid-session, by reason."),
	); err != nil {
		return nil, err
	}

	// Gauges (UpDownCounters).
	if met.PoolDepth, err = m.Int64UpDownCounter("livebridge.pool.depth",
		metric.WithDescription("Number of pre-warmed upstream sessions queued in the warmup pool."),
	); err != nil {
		return nil, err
	}
	if met.ActiveSessions, err = m.Int64UpDownCounter("livebridge.active_sessions",
		metric.WithDescription("Number of live client-to-upstream sessions currently registered."),
	); err != nil {
		return nil, err
	}

	// HTTP middleware histogram.
	if met.HTTPRequestDuration, err = m.Float64Histogram("livebridge.http.request.duration",
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

// RecordToolCall is a convenience method that records a tool call counter
// increment with the standard attribute set.
func (m *Metrics) RecordToolCall(ctx context.Context, tool, status string) {
	m.ToolCalls.Add(ctx, 1,
		metric.WithAttributes(
			attribute.String("tool", tool),
			attribute.String("status", status),
		),
	)
}

// RecordAbuseGateRefusal is a convenience method that records a handshake
// refusal counter increment.
func (m *Metrics) RecordAbuseGateRefusal(ctx context.Context, reason string) {
	m.AbuseGateBans.Add(ctx, 1,
		metric.WithAttributes(attribute.String("reason", reason)),
	)
}

// RecordReconnect is a convenience method that records a mid-session
// reconnect counter increment.
func (m *Metrics) RecordReconnect(ctx context.Context, reason string) {
	m.Reconnects.Add(ctx, 1,
		metric.WithAttributes(attribute.String("reason", reason)),
	)
}
