// Package observe provides application-wide observability primitives for the
// Cozy Village service: OpenTelemetry metrics, tracing helpers, structured
// logging, and HTTP middleware tying them together.
//
// Metrics are recorded through the OpenTelemetry Metrics API. A Prometheus
// exporter bridge is available via [InitProvider] so that metrics can be
// scraped via the standard /metrics endpoint. Tests should use [NewMetrics]
// with a custom [metric.MeterProvider] to avoid cross-test pollution.
package observe

import (
	"go.opentelemetry.io/otel/metric"
)

// meterName is the instrumentation scope name used for all metrics.
const meterName = "github.com/hearthside/cozyvillage"

// Metrics holds all OpenTelemetry metric instruments for the service. The
// underlying OTel types handle their own synchronisation.
type Metrics struct {
	// TickDuration tracks the end-to-end latency of one tick invocation.
	TickDuration metric.Float64Histogram

	// LLMDuration tracks single completion-call latency. Use with
	// attribute.String("provider", ...).
	LLMDuration metric.Float64Histogram

	// MessagesInserted counts message rows created. Use with
	// attribute.String("kind", "speech"|"movement").
	MessagesInserted metric.Int64Counter

	// AgentMoves counts successful room relocations.
	AgentMoves metric.Int64Counter

	// FallbackLines counts speech generated from the canned line set
	// instead of a model reply.
	FallbackLines metric.Int64Counter

	// ProviderErrors counts LLM call failures. Use with attributes:
	//   attribute.String("provider", ...), attribute.String("kind", "rate_limit"|"error")
	ProviderErrors metric.Int64Counter

	// StoreErrors counts per-agent store write failures absorbed by the
	// tick pass.
	StoreErrors metric.Int64Counter

	// HTTPRequestDuration tracks HTTP request processing time. Use with
	// attributes: attribute.String("method", ...), attribute.String("path", ...).
	HTTPRequestDuration metric.Float64Histogram
}

// latencyBuckets defines histogram bucket boundaries (in seconds). The upper
// range accounts for ticks that wait out an LLM rate-limit retry per agent.
var latencyBuckets = []float64{
	0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30,
}

// NewMetrics creates a fully initialised [Metrics] using the given
// [metric.MeterProvider]. Returns an error if any instrument creation fails.
func NewMetrics(mp metric.MeterProvider) (*Metrics, error) {
	m := mp.Meter(meterName)
	var err error
	met := &Metrics{}

	if met.TickDuration, err = m.Float64Histogram("cozyvillage.tick.duration",
		metric.WithDescription("End-to-end latency of one tick invocation."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...)); err != nil {
		return nil, err
	}
	if met.LLMDuration, err = m.Float64Histogram("cozyvillage.llm.duration",
		metric.WithDescription("Latency of one LLM completion call."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...)); err != nil {
		return nil, err
	}
	if met.MessagesInserted, err = m.Int64Counter("cozyvillage.messages.inserted",
		metric.WithDescription("Message rows created by tick passes.")); err != nil {
		return nil, err
	}
	if met.AgentMoves, err = m.Int64Counter("cozyvillage.agent.moves",
		metric.WithDescription("Successful agent room relocations.")); err != nil {
		return nil, err
	}
	if met.FallbackLines, err = m.Int64Counter("cozyvillage.fallback.lines",
		metric.WithDescription("Speech lines drawn from the canned fallback set.")); err != nil {
		return nil, err
	}
	if met.ProviderErrors, err = m.Int64Counter("cozyvillage.provider.errors",
		metric.WithDescription("LLM provider call failures.")); err != nil {
		return nil, err
	}
	if met.StoreErrors, err = m.Int64Counter("cozyvillage.store.errors",
		metric.WithDescription("Per-agent store write failures absorbed by tick passes.")); err != nil {
		return nil, err
	}
	if met.HTTPRequestDuration, err = m.Float64Histogram("cozyvillage.http.request.duration",
		metric.WithDescription("HTTP request processing time."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...)); err != nil {
		return nil, err
	}
	return met, nil
}
