// Package observe provides application-wide observability primitives for
// Jack: OpenTelemetry metrics, distributed tracing, structured logging, and
// HTTP middleware that ties them together.
//
// Metrics are recorded through the OpenTelemetry Metrics API. A Prometheus
// exporter bridge is available via [InitProvider] so that metrics can still
// be scraped via the standard /metrics endpoint. A package-level default
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

// meterName is the instrumentation scope name used for all Jack metrics.
const meterName = "github.com/tinred-labs/jack"

// latencyBuckets defines histogram bucket boundaries (in seconds), sized
// for the issuing service's 30–90s RPC budgets rather than sub-second
// in-process work.
var latencyBuckets = []float64{
	0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60, 90,
}

// Metrics holds all OpenTelemetry metric instruments used across Jack.
// All fields are safe for concurrent use — the underlying OTel types handle
// their own synchronisation.
type Metrics struct {
	// IssuingCallDuration tracks the latency of each issuing-service RPC.
	// Use with attribute.String("call", "identify"|"check_client"|"products"|"clients"|"history"|"emit").
	IssuingCallDuration metric.Float64Histogram

	// HTTPRequestDuration tracks HTTP request processing time.
	HTTPRequestDuration metric.Float64Histogram

	// TranscriptionDuration tracks audio-transcription latency.
	TranscriptionDuration metric.Float64Histogram

	// LLMReplyDuration tracks the free-form LLM fallback's latency.
	LLMReplyDuration metric.Float64Histogram

	// IntentClassifications counts classifier outcomes by intent name.
	IntentClassifications metric.Int64Counter

	// EmissionOutcomes counts completed emission attempts by outcome
	// ("issued", "rejected", "error") and document kind.
	EmissionOutcomes metric.Int64Counter

	// IssuingCallErrors counts issuing-service RPC failures by call name.
	IssuingCallErrors metric.Int64Counter

	// ActiveSessions tracks the number of sessions currently held by
	// session.Store (incremented when Acquire creates the entry for a new
	// phone; the store never removes entries, so it is never decremented).
	ActiveSessions metric.Int64UpDownCounter
}

// NewMetrics creates a fully initialised [Metrics] struct using the given
// [metric.MeterProvider]. Returns an error if any instrument creation fails.
func NewMetrics(mp metric.MeterProvider) (*Metrics, error) {
	m := mp.Meter(meterName)
	var err error
	met := &Metrics{}

	if met.IssuingCallDuration, err = m.Float64Histogram("jack.issuing.call.duration",
		metric.WithDescription("Latency of issuing-service RPC calls."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}
	if met.HTTPRequestDuration, err = m.Float64Histogram("jack.http.request.duration",
		metric.WithDescription("HTTP request latency by method and path."),
		metric.WithUnit("s"),
	); err != nil {
		return nil, err
	}
	if met.TranscriptionDuration, err = m.Float64Histogram("jack.audio.transcription.duration",
		metric.WithDescription("Latency of audio transcription calls."),
		metric.WithUnit("s"),
	); err != nil {
		return nil, err
	}
	if met.LLMReplyDuration, err = m.Float64Histogram("jack.llm.reply.duration",
		metric.WithDescription("Latency of the free-form LLM reply fallback."),
		metric.WithUnit("s"),
	); err != nil {
		return nil, err
	}

	if met.IntentClassifications, err = m.Int64Counter("jack.intent.classifications",
		metric.WithDescription("Total utterances classified, by intent."),
	); err != nil {
		return nil, err
	}
	if met.EmissionOutcomes, err = m.Int64Counter("jack.emission.outcomes",
		metric.WithDescription("Total completed emission attempts, by outcome and document kind."),
	); err != nil {
		return nil, err
	}
	if met.IssuingCallErrors, err = m.Int64Counter("jack.issuing.call.errors",
		metric.WithDescription("Total issuing-service RPC failures, by call name."),
	); err != nil {
		return nil, err
	}

	if met.ActiveSessions, err = m.Int64UpDownCounter("jack.sessions.active",
		metric.WithDescription("Number of sessions currently tracked by the session store."),
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

// RecordIssuingCall records one issuing-service RPC's duration and, on
// failure, increments IssuingCallErrors.
func (m *Metrics) RecordIssuingCall(ctx context.Context, call string, seconds float64, err error) {
	m.IssuingCallDuration.Record(ctx, seconds, metric.WithAttributes(attribute.String("call", call)))
	if err != nil {
		m.IssuingCallErrors.Add(ctx, 1, metric.WithAttributes(attribute.String("call", call)))
	}
}

// RecordIntent increments IntentClassifications for the given intent name.
func (m *Metrics) RecordIntent(ctx context.Context, intent string) {
	m.IntentClassifications.Add(ctx, 1, metric.WithAttributes(attribute.String("intent", intent)))
}

// RecordEmissionOutcome increments EmissionOutcomes for the given outcome
// ("issued", "rejected", "error") and document kind.
func (m *Metrics) RecordEmissionOutcome(ctx context.Context, outcome, docKind string) {
	m.EmissionOutcomes.Add(ctx, 1,
		metric.WithAttributes(
			attribute.String("outcome", outcome),
			attribute.String("doc_kind", docKind),
		),
	)
}
