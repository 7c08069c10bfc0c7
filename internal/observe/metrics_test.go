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

// sumWhere returns the value of the int64 sum data point carrying key=value.
func sumWhere(t *testing.T, rm metricdata.ResourceMetrics, name, key, value string) int64 {
	t.Helper()
	met := findMetric(rm, name)
	if met == nil {
		t.Fatalf("metric %q not found", name)
	}
	sum, ok := met.Data.(metricdata.Sum[int64])
	if !ok {
		t.Fatalf("metric %q is not a sum", name)
	}
	for _, dp := range sum.DataPoints {
		if v, ok := dp.Attributes.Value(attribute.Key(key)); ok && v.AsString() == value {
			return dp.Value
		}
	}
	t.Fatalf("metric %q has no data point with %s=%s", name, key, value)
	return 0
}

func TestNewMetrics_CreatesWithoutError(t *testing.T) {
	m, _ := newTestMetrics(t)
	if m == nil {
		t.Fatal("NewMetrics returned nil")
	}
}

func TestHistogramObservation(t *testing.T) {
	m, reader := newTestMetrics(t)
	ctx := context.Background()

	histograms := []struct {
		name string
		h    metric.Float64Histogram
	}{
		{"voxreel.transcription.duration", m.TranscriptionDuration},
		{"voxreel.dispatch.duration", m.DispatchDuration},
		{"voxreel.http.request.duration", m.HTTPRequestDuration},
	}

	for _, tc := range histograms {
		tc.h.Record(ctx, 0.123)
		tc.h.Record(ctx, 0.456)
	}

	rm := collect(t, reader)

	for _, tc := range histograms {
		t.Run(tc.name, func(t *testing.T) {
			met := findMetric(rm, tc.name)
			if met == nil {
				t.Fatalf("metric %q not found", tc.name)
			}
			hist, ok := met.Data.(metricdata.Histogram[float64])
			if !ok {
				t.Fatalf("metric %q is not a histogram", tc.name)
			}
			if len(hist.DataPoints) == 0 {
				t.Fatalf("metric %q has no data points", tc.name)
			}
			if got := hist.DataPoints[0].Count; got != 2 {
				t.Errorf("sample count = %d, want 2", got)
			}
		})
	}
}

func TestRecordTranscription(t *testing.T) {
	m, reader := newTestMetrics(t)
	ctx := context.Background()

	m.RecordTranscription(ctx, "recorder", "ok", 1500*time.Millisecond)
	m.RecordTranscription(ctx, "recorder", "ok", time.Second)
	m.RecordTranscription(ctx, "recorder", "no-speech", 0)

	rm := collect(t, reader)
	if got := sumWhere(t, rm, "voxreel.transcriptions", "status", "ok"); got != 2 {
		t.Errorf("ok transcriptions = %d, want 2", got)
	}
	if got := sumWhere(t, rm, "voxreel.transcriptions", "status", "no-speech"); got != 1 {
		t.Errorf("no-speech transcriptions = %d, want 1", got)
	}

	hist, ok := findMetric(rm, "voxreel.transcription.duration").Data.(metricdata.Histogram[float64])
	if !ok || len(hist.DataPoints) != 1 {
		t.Fatalf("unexpected histogram data: %+v", hist)
	}
	if got := hist.DataPoints[0].Count; got != 2 {
		t.Errorf("latency samples = %d, want 2 (failures are not timed)", got)
	}
}

func TestRecordParseAndDispatch(t *testing.T) {
	m, reader := newTestMetrics(t)
	ctx := context.Background()

	m.RecordParse(ctx, "exact", "en")
	m.RecordParse(ctx, "exact", "en")
	m.RecordParse(ctx, "none", "de")
	m.RecordDispatch(ctx, "playback_control", true, time.Millisecond)
	m.RecordDispatch(ctx, "speed_control", false, time.Millisecond)
	m.RecordKeepAlive(ctx, false)
	m.RecordRecognitionError(ctx, "network")

	rm := collect(t, reader)
	if got := sumWhere(t, rm, "voxreel.parse.results", "stage", "exact"); got != 2 {
		t.Errorf("exact = %d, want 2", got)
	}
	if got := sumWhere(t, rm, "voxreel.parse.results", "stage", "none"); got != 1 {
		t.Errorf("none = %d, want 1", got)
	}
	if got := sumWhere(t, rm, "voxreel.dispatch.results", "intent", "speed_control"); got != 1 {
		t.Errorf("speed_control = %d, want 1", got)
	}
	if got := sumWhere(t, rm, "voxreel.keepalive.restarts", "status", "error"); got != 1 {
		t.Errorf("keep-alive errors = %d, want 1", got)
	}
	if got := sumWhere(t, rm, "voxreel.recognition.errors", "kind", "network"); got != 1 {
		t.Errorf("network errors = %d, want 1", got)
	}
}

func TestGauges(t *testing.T) {
	m, reader := newTestMetrics(t)
	ctx := context.Background()

	// UpDownCounters are additive, so we simulate Set(n) as Add(n).
	m.ActivePlayers.Add(ctx, 1)
	m.ActivePlayers.Add(ctx, -1)
	m.ActivePlayers.Add(ctx, 1)
	m.ListeningSessions.Add(ctx, 2)
	m.BridgeSessions.Add(ctx, 3)

	rm := collect(t, reader)

	gauges := []struct {
		name string
		want int64
	}{
		{"voxreel.active_players", 1},
		{"voxreel.listening_sessions", 2},
		{"voxreel.bridge_sessions", 3},
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

func TestStatus(t *testing.T) {
	if Status(true) != "ok" || Status(false) != "error" {
		t.Errorf("Status mapping wrong: %q %q", Status(true), Status(false))
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
