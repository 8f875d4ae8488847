package observe

import (
	"context"
	"testing"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
)

// newTestMetrics returns a Metrics instance backed by a ManualReader for
// programmatic metric inspection.
func newTestMetrics(t *testing.T) (*Metrics, *sdkmetric.ManualReader) {
	t.Helper()
	reader := sdkmetric.NewManualReader()
	mp := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	t.Cleanup(func() { _ = mp.Shutdown(context.Background()) })

	m, err := NewMetrics(mp)
	if err != nil {
		t.Fatalf("NewMetrics: %v", err)
	}
	return m, reader
}

// collect gathers all metric data from the reader.
func collect(t *testing.T, reader *sdkmetric.ManualReader) metricdata.ResourceMetrics {
	t.Helper()
	var rm metricdata.ResourceMetrics
	if err := reader.Collect(context.Background(), &rm); err != nil {
		t.Fatalf("Collect: %v", err)
	}
	return rm
}

// findMetric searches for a metric by name across all scope metrics.
func findMetric(rm metricdata.ResourceMetrics, name string) *metricdata.Metrics {
	for _, sm := range rm.ScopeMetrics {
		for i := range sm.Metrics {
			if sm.Metrics[i].Name == name {
				return &sm.Metrics[i]
			}
		}
	}
	return nil
}

// counterValue returns the value of the data point whose attribute key
// matches value, or -1 when absent.
func counterValue(sum metricdata.Sum[int64], key, value string) int64 {
	for _, dp := range sum.DataPoints {
		for _, kv := range dp.Attributes.ToSlice() {
			if string(kv.Key) == key && kv.Value.AsString() == value {
				return dp.Value
			}
		}
	}
	return -1
}

func TestNewMetrics_CreatesWithoutError(t *testing.T) {
	m, _ := newTestMetrics(t)
	if m == nil {
		t.Fatal("NewMetrics returned nil")
	}
}

func TestPhaseDurationHistogram(t *testing.T) {
	m, reader := newTestMetrics(t)
	ctx := context.Background()

	m.RecordPhase(ctx, "character_action", 1200*time.Millisecond)
	m.RecordPhase(ctx, "character_action", 800*time.Millisecond)

	rm := collect(t, reader)
	met := findMetric(rm, "starcrew.phase.duration")
	if met == nil {
		t.Fatal("metric not found")
	}
	hist, ok := met.Data.(metricdata.Histogram[float64])
	if !ok {
		t.Fatal("metric is not a histogram")
	}
	if len(hist.DataPoints) == 0 {
		t.Fatal("no data points")
	}
	if got := hist.DataPoints[0].Count; got != 2 {
		t.Errorf("sample count = %d, want 2", got)
	}
}

func TestPhaseFailuresCounter(t *testing.T) {
	m, reader := newTestMetrics(t)
	ctx := context.Background()

	m.RecordPhaseFailure(ctx, "memory_retrieval", "rolled_back")
	m.RecordPhaseFailure(ctx, "memory_retrieval", "rolled_back")
	m.RecordPhaseFailure(ctx, "memory_retrieval", "halted")

	rm := collect(t, reader)
	met := findMetric(rm, "starcrew.phase.failures")
	if met == nil {
		t.Fatal("metric not found")
	}
	sum, ok := met.Data.(metricdata.Sum[int64])
	if !ok {
		t.Fatal("metric is not a sum")
	}
	if got := counterValue(sum, "outcome", "rolled_back"); got != 2 {
		t.Errorf("rolled_back count = %d, want 2", got)
	}
	if got := counterValue(sum, "outcome", "halted"); got != 1 {
		t.Errorf("halted count = %d, want 1", got)
	}
}

func TestCorruptionEventsCounter(t *testing.T) {
	m, reader := newTestMetrics(t)
	ctx := context.Background()

	m.RecordCorruption(ctx, "agent_kit", "detail_drift")
	m.RecordCorruption(ctx, "agent_kit", "detail_drift")
	m.RecordCorruption(ctx, "agent_zara", "emotional_coloring")

	rm := collect(t, reader)
	met := findMetric(rm, "starcrew.memory.corruption_events")
	if met == nil {
		t.Fatal("metric not found")
	}
	sum, ok := met.Data.(metricdata.Sum[int64])
	if !ok {
		t.Fatal("metric is not a sum")
	}
	if got := counterValue(sum, "agent_id", "agent_kit"); got != 2 {
		t.Errorf("agent_kit count = %d, want 2", got)
	}
}

func TestValidationVerdictsCounter(t *testing.T) {
	m, reader := newTestMetrics(t)
	ctx := context.Background()

	m.RecordValidation(ctx, "valid")
	m.RecordValidation(ctx, "flagged")
	m.RecordValidation(ctx, "valid")

	rm := collect(t, reader)
	met := findMetric(rm, "starcrew.validation.verdicts")
	if met == nil {
		t.Fatal("metric not found")
	}
	sum, ok := met.Data.(metricdata.Sum[int64])
	if !ok {
		t.Fatal("metric is not a sum")
	}
	if got := counterValue(sum, "status", "valid"); got != 2 {
		t.Errorf("valid count = %d, want 2", got)
	}
}

func TestJobMetrics(t *testing.T) {
	m, reader := newTestMetrics(t)
	ctx := context.Background()

	m.RecordJob(ctx, "character_action", "done", 3*time.Second)
	m.JobRetries.Add(ctx, 1, metric.WithAttributes(attribute.String("kind", "character_action")))

	rm := collect(t, reader)
	if met := findMetric(rm, "starcrew.job.duration"); met == nil {
		t.Error("job duration metric not found")
	}
	met := findMetric(rm, "starcrew.job.retries")
	if met == nil {
		t.Fatal("job retries metric not found")
	}
	sum, ok := met.Data.(metricdata.Sum[int64])
	if !ok {
		t.Fatal("metric is not a sum")
	}
	if got := counterValue(sum, "kind", "character_action"); got != 1 {
		t.Errorf("retry count = %d, want 1", got)
	}
}

func TestGauges(t *testing.T) {
	m, reader := newTestMetrics(t)
	ctx := context.Background()

	m.ActiveSessions.Add(ctx, 1)
	m.ActiveSessions.Add(ctx, 1)
	m.QueuedJobs.Add(ctx, 4)
	m.QueuedJobs.Add(ctx, -1)

	rm := collect(t, reader)

	gauges := []struct {
		name string
		want int64
	}{
		{"starcrew.active_sessions", 2},
		{"starcrew.queued_jobs", 3},
	}

	for _, tc := range gauges {
		t.Run(tc.name, func(t *testing.T) {
			met := findMetric(rm, tc.name)
			if met == nil {
				t.Fatalf("metric %q not found", tc.name)
			}
			sum, ok := met.Data.(metricdata.Sum[int64])
			if !ok {
				t.Fatalf("metric %q is not a sum", tc.name)
			}
			if len(sum.DataPoints) == 0 {
				t.Fatalf("metric %q has no data points", tc.name)
			}
			if got := sum.DataPoints[0].Value; got != tc.want {
				t.Errorf("gauge value = %d, want %d", got, tc.want)
			}
		})
	}
}

func TestHTTPRequestDuration(t *testing.T) {
	m, reader := newTestMetrics(t)
	ctx := context.Background()

	m.HTTPRequestDuration.Record(ctx, 0.05,
		metric.WithAttributes(
			attribute.String("method", "GET"),
			attribute.String("path", "/healthz"),
		),
	)

	rm := collect(t, reader)
	met := findMetric(rm, "starcrew.http.request.duration")
	if met == nil {
		t.Fatal("metric not found")
	}
	hist, ok := met.Data.(metricdata.Histogram[float64])
	if !ok {
		t.Fatal("metric is not a histogram")
	}
	if len(hist.DataPoints) == 0 {
		t.Fatal("no data points")
	}
	if got := hist.DataPoints[0].Count; got != 1 {
		t.Errorf("sample count = %d, want 1", got)
	}
}

func TestDefaultMetrics_ReturnsSameInstance(t *testing.T) {
	// DefaultMetrics uses the global OTel provider so we just check
	// that repeated calls return the same pointer.
	a := DefaultMetrics()
	b := DefaultMetrics()
	if a != b {
		t.Error("DefaultMetrics returned different pointers")
	}
}
