package observe

import (
	"bytes"
	"context"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
)

// apiMux mirrors the shape of the voxreel route table.
func apiMux() *http.ServeMux {
	mux := http.NewServeMux()
	ok := func(w http.ResponseWriter, _ *http.Request) { w.WriteHeader(http.StatusOK) }
	mux.HandleFunc("POST /v1/voice/transcript", ok)
	mux.HandleFunc("GET /v1/player/state", ok)
	mux.HandleFunc("POST /v1/player/command", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusUnprocessableEntity)
	})
	mux.HandleFunc("GET /healthz", ok)
	return mux
}

// instrumented wires the middleware around apiMux with in-memory exporters.
func instrumented(t *testing.T) (http.Handler, *sdkmetric.ManualReader, *tracetest.InMemoryExporter) {
	t.Helper()

	reader := sdkmetric.NewManualReader()
	mp := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	t.Cleanup(func() { _ = mp.Shutdown(context.Background()) })
	m, err := NewMetrics(mp)
	if err != nil {
		t.Fatalf("NewMetrics: %v", err)
	}

	exp := tracetest.NewInMemoryExporter()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSyncer(exp))
	t.Cleanup(func() { _ = tp.Shutdown(context.Background()) })
	orig := otel.GetTracerProvider()
	otel.SetTracerProvider(tp)
	t.Cleanup(func() { otel.SetTracerProvider(orig) })

	return Middleware(m)(apiMux()), reader, exp
}

func serve(h http.Handler, method, path string, hdr map[string]string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, nil)
	for k, v := range hdr {
		req.Header.Set(k, v)
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestSurface(t *testing.T) {
	tests := map[string]string{
		"POST /v1/voice/transcript":  SurfaceVoice,
		"DELETE /v1/voice/listen":    SurfaceVoice,
		"GET /v1/player/state":       SurfacePlayer,
		"PUT /v1/settings/voice":     SurfaceSettings,
		"GET /v1/bridge":             SurfaceBridge,
		"GET /readyz":                SurfaceHealth,
		"GET /metrics":               SurfaceHealth,
		"/v1/player/unknown":         SurfacePlayer,
		"/favicon.ico":               SurfaceOther,
		"GET /v1/voiceover/anything": SurfaceOther,
	}
	for route, want := range tests {
		if got := Surface(route); got != want {
			t.Errorf("Surface(%q) = %q, want %q", route, got, want)
		}
	}
}

func TestMiddleware_LabelsRoutesBySurface(t *testing.T) {
	h, reader, _ := instrumented(t)

	serve(h, http.MethodPost, "/v1/voice/transcript", nil)
	serve(h, http.MethodGet, "/v1/player/state", nil)
	serve(h, http.MethodGet, "/v1/player/state", nil)
	serve(h, http.MethodGet, "/nowhere", nil)

	var rm metricdata.ResourceMetrics
	if err := reader.Collect(context.Background(), &rm); err != nil {
		t.Fatalf("Collect: %v", err)
	}
	hist, ok := findMetric(rm, "voxreel.http.request.duration").Data.(metricdata.Histogram[float64])
	if !ok {
		t.Fatal("request duration is not a histogram")
	}

	type key struct{ path, surface string }
	got := map[key]uint64{}
	for _, dp := range hist.DataPoints {
		p, _ := dp.Attributes.Value("path")
		s, _ := dp.Attributes.Value("surface")
		got[key{p.AsString(), s.AsString()}] += dp.Count
	}
	want := map[key]uint64{
		{"POST /v1/voice/transcript", SurfaceVoice}: 1,
		{"GET /v1/player/state", SurfacePlayer}:     2,
		{"/nowhere", SurfaceOther}:                  1,
	}
	for k, n := range want {
		if got[k] != n {
			t.Errorf("count for %+v = %d, want %d (all %v)", k, got[k], n, got)
		}
	}
}

func TestMiddleware_SpanNamedAfterPattern(t *testing.T) {
	h, _, exp := instrumented(t)

	rec := serve(h, http.MethodPost, "/v1/player/command", nil)
	if rec.Code != http.StatusUnprocessableEntity {
		t.Fatalf("status = %d", rec.Code)
	}

	spans := exp.GetSpans()
	if len(spans) != 1 {
		t.Fatalf("recorded %d spans, want 1", len(spans))
	}
	s := spans[0]
	if s.Name != "POST /v1/player/command" {
		t.Errorf("span name = %q", s.Name)
	}
	attrs := map[attribute.Key]attribute.Value{}
	for _, kv := range s.Attributes {
		attrs[kv.Key] = kv.Value
	}
	if v := attrs["http.response.status_code"]; v.AsInt64() != 422 {
		t.Errorf("status attribute = %v, want 422", v.AsInt64())
	}
	if v := attrs["voxreel.surface"]; v.AsString() != SurfacePlayer {
		t.Errorf("surface attribute = %q", v.AsString())
	}
}

func TestMiddleware_ContinuesShellTrace(t *testing.T) {
	h, _, exp := instrumented(t)

	const traceID = "4bf92f3577b34da6a3ce929d0e0e4736"
	rec := serve(h, http.MethodPost, "/v1/voice/transcript", map[string]string{
		"traceparent": "00-" + traceID + "-00f067aa0ba902b7-01",
	})

	if got := rec.Header().Get("X-Correlation-ID"); got != traceID {
		t.Errorf("X-Correlation-ID = %q, want %q", got, traceID)
	}
	if got := exp.GetSpans()[0].SpanContext.TraceID().String(); got != traceID {
		t.Errorf("span trace = %q, want %q", got, traceID)
	}
}

func TestMiddleware_NewTraceWithoutHeader(t *testing.T) {
	h, _, _ := instrumented(t)

	a := serve(h, http.MethodGet, "/v1/player/state", nil).Header().Get("X-Correlation-ID")
	b := serve(h, http.MethodGet, "/v1/player/state", nil).Header().Get("X-Correlation-ID")
	if len(a) != 32 || len(b) != 32 {
		t.Fatalf("correlation IDs %q, %q; want 32 hex chars", a, b)
	}
	if a == b {
		t.Error("separate requests share a trace")
	}
}

func TestMiddleware_HealthTrafficLogsAtDebug(t *testing.T) {
	h, _, _ := instrumented(t)

	var buf bytes.Buffer
	orig := slog.Default()
	slog.SetDefault(slog.New(slog.NewTextHandler(&buf, &slog.HandlerOptions{Level: slog.LevelInfo})))
	t.Cleanup(func() { slog.SetDefault(orig) })

	serve(h, http.MethodGet, "/healthz", nil)
	if buf.Len() != 0 {
		t.Errorf("health check logged at info: %s", buf.String())
	}

	serve(h, http.MethodGet, "/v1/player/state", nil)
	if out := buf.String(); !strings.Contains(out, "surface=player") || !strings.Contains(out, "status=200") {
		t.Errorf("player request log = %q", out)
	}
}

func TestStatusRecorder_HijackWithoutSupport(t *testing.T) {
	rec := &statusRecorder{ResponseWriter: httptest.NewRecorder(), statusCode: http.StatusOK}
	if _, _, err := rec.Hijack(); err == nil {
		t.Fatal("Hijack on a recorder without hijacking = nil error")
	}
	if rec.statusCode != http.StatusOK {
		t.Errorf("status changed to %d on a failed hijack", rec.statusCode)
	}
}
