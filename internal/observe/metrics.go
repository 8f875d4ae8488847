// Package observe provides application-wide observability primitives for
// Starcrew: OpenTelemetry metrics, distributed tracing, structured logging,
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

// meterName is the instrumentation scope name used for all Starcrew metrics.
const meterName = "github.com/starcrew-ai/starcrew"

// Metrics holds all OpenTelemetry metric instruments for the application.
// All fields are safe for concurrent use — the underlying OTel types handle
// their own synchronisation.
type Metrics struct {
	// --- Latency histograms ---

	// PhaseDuration tracks wall time per turn phase. Use with attribute:
	//   attribute.String("phase", ...)
	PhaseDuration metric.Float64Histogram

	// TurnDuration tracks wall time of a whole turn, narration to
	// consolidation, GM think time included.
	TurnDuration metric.Float64Histogram

	// JobDuration tracks worker job execution latency. Use with attributes:
	//   attribute.String("kind", ...), attribute.String("status", ...)
	JobDuration metric.Float64Histogram

	// --- Counters ---

	// JobRetries counts transient-error retries inside worker jobs. Use with
	// attribute: attribute.String("kind", ...)
	JobRetries metric.Int64Counter

	// PhaseFailures counts phase-level failures by recovery outcome. Use with
	// attributes:
	//   attribute.String("phase", ...), attribute.String("outcome", ...)
	// where outcome is "rolled_back" or "halted".
	PhaseFailures metric.Int64Counter

	// CorruptionEvents counts memory reads that returned a degraded fact.
	// Use with attributes:
	//   attribute.String("agent_id", ...), attribute.String("type", ...)
	CorruptionEvents metric.Int64Counter

	// ValidationVerdicts counts validation outcomes. Use with attributes:
	//   attribute.String("status", ...) — valid, auto_corrected, or flagged.
	ValidationVerdicts metric.Int64Counter

	// ConsensusOutcomes counts table-consensus verdicts by aggregate. Use
	// with attribute: attribute.String("aggregate", ...)
	ConsensusOutcomes metric.Int64Counter

	// ProviderErrors counts LLM provider errors. Use with attribute:
	//   attribute.String("provider", ...)
	ProviderErrors metric.Int64Counter

	// --- Gauges ---

	// ActiveSessions tracks the number of live game sessions.
	ActiveSessions metric.Int64UpDownCounter

	// QueuedJobs tracks the number of jobs waiting for a worker.
	QueuedJobs metric.Int64UpDownCounter

	// --- HTTP middleware ---

	// HTTPRequestDuration tracks HTTP request processing time. Use with attributes:
	//   attribute.String("method", ...), attribute.String("path", ...)
	HTTPRequestDuration metric.Float64Histogram
}

// latencyBuckets defines histogram bucket boundaries (in seconds). Phases
// and jobs are LLM-bound, so the buckets stretch well past interactive
// latencies; turns include GM think time and reach minutes.
var latencyBuckets = []float64{
	0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60, 120, 300,
}

// NewMetrics creates a fully initialised [Metrics] struct using the given
// [metric.MeterProvider]. Returns an error if any instrument creation fails.
func NewMetrics(mp metric.MeterProvider) (*Metrics, error) {
	m := mp.Meter(meterName)
	var err error
	met := &Metrics{}

	// Histograms.
	if met.PhaseDuration, err = m.Float64Histogram("starcrew.phase.duration",
		metric.WithDescription("Wall time per turn phase."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}
	if met.TurnDuration, err = m.Float64Histogram("starcrew.turn.duration",
		metric.WithDescription("Wall time per turn, narration to consolidation."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}
	if met.JobDuration, err = m.Float64Histogram("starcrew.job.duration",
		metric.WithDescription("Worker job execution latency by kind and status."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}

	// Counters.
	if met.JobRetries, err = m.Int64Counter("starcrew.job.retries",
		metric.WithDescription("Transient-error retries inside worker jobs, by kind."),
	); err != nil {
		return nil, err
	}
	if met.PhaseFailures, err = m.Int64Counter("starcrew.phase.failures",
		metric.WithDescription("Phase failures by phase and recovery outcome."),
	); err != nil {
		return nil, err
	}
	if met.CorruptionEvents, err = m.Int64Counter("starcrew.memory.corruption_events",
		metric.WithDescription("Memory reads that returned a degraded fact, by agent and corruption type."),
	); err != nil {
		return nil, err
	}
	if met.ValidationVerdicts, err = m.Int64Counter("starcrew.validation.verdicts",
		metric.WithDescription("Validation verdicts by status."),
	); err != nil {
		return nil, err
	}
	if met.ConsensusOutcomes, err = m.Int64Counter("starcrew.consensus.outcomes",
		metric.WithDescription("Table-consensus verdicts by aggregate."),
	); err != nil {
		return nil, err
	}
	if met.ProviderErrors, err = m.Int64Counter("starcrew.provider.errors",
		metric.WithDescription("LLM provider errors by provider."),
	); err != nil {
		return nil, err
	}

	// Gauges (UpDownCounters).
	if met.ActiveSessions, err = m.Int64UpDownCounter("starcrew.active_sessions",
		metric.WithDescription("Number of live game sessions."),
	); err != nil {
		return nil, err
	}
	if met.QueuedJobs, err = m.Int64UpDownCounter("starcrew.queued_jobs",
		metric.WithDescription("Number of jobs waiting for a worker."),
	); err != nil {
		return nil, err
	}

	// HTTP middleware histogram.
	if met.HTTPRequestDuration, err = m.Float64Histogram("starcrew.http.request.duration",
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

// RecordPhase records one phase execution with its duration.
func (m *Metrics) RecordPhase(ctx context.Context, phase string, elapsed time.Duration) {
	m.PhaseDuration.Record(ctx, elapsed.Seconds(),
		metric.WithAttributes(attribute.String("phase", phase)),
	)
}

// RecordPhaseFailure records a phase failure with its recovery outcome
// ("rolled_back" or "halted").
func (m *Metrics) RecordPhaseFailure(ctx context.Context, phase, outcome string) {
	m.PhaseFailures.Add(ctx, 1,
		metric.WithAttributes(
			attribute.String("phase", phase),
			attribute.String("outcome", outcome),
		),
	)
}

// RecordCorruption records one degraded memory read.
func (m *Metrics) RecordCorruption(ctx context.Context, agentID, ctype string) {
	m.CorruptionEvents.Add(ctx, 1,
		metric.WithAttributes(
			attribute.String("agent_id", agentID),
			attribute.String("type", ctype),
		),
	)
}

// RecordValidation records one validation verdict by status.
func (m *Metrics) RecordValidation(ctx context.Context, status string) {
	m.ValidationVerdicts.Add(ctx, 1,
		metric.WithAttributes(attribute.String("status", status)),
	)
}

// RecordJob records one worker job completion with its duration and status.
func (m *Metrics) RecordJob(ctx context.Context, kind, status string, elapsed time.Duration) {
	m.JobDuration.Record(ctx, elapsed.Seconds(),
		metric.WithAttributes(
			attribute.String("kind", kind),
			attribute.String("status", status),
		),
	)
}
