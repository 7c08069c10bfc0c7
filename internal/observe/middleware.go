package observe

import (
	"bufio"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/propagation"
	semconv "go.opentelemetry.io/otel/semconv/v1.39.0"
	"go.opentelemetry.io/otel/trace"
)

// Surfaces group the API routes for metrics and logs.
const (
	SurfaceVoice    = "voice"
	SurfacePlayer   = "player"
	SurfaceSettings = "settings"
	SurfaceBridge   = "bridge"
	SurfaceHealth   = "health"
	SurfaceOther    = "other"
)

// Surface maps a mux pattern such as "POST /v1/voice/transcript" (or a raw
// path when nothing matched) to its route group.
func Surface(route string) string {
	if _, path, ok := strings.Cut(route, " "); ok {
		route = path
	}
	switch {
	case strings.HasPrefix(route, "/v1/voice/"):
		return SurfaceVoice
	case strings.HasPrefix(route, "/v1/player/"):
		return SurfacePlayer
	case strings.HasPrefix(route, "/v1/settings/"):
		return SurfaceSettings
	case route == "/v1/bridge":
		return SurfaceBridge
	case route == "/healthz", route == "/readyz", route == "/metrics":
		return SurfaceHealth
	}
	return SurfaceOther
}

// statusRecorder keeps the status code the handler wrote.
type statusRecorder struct {
	http.ResponseWriter
	statusCode int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.statusCode = code
	r.ResponseWriter.WriteHeader(code)
}

// Unwrap lets [http.ResponseController] reach the underlying writer.
func (r *statusRecorder) Unwrap() http.ResponseWriter { return r.ResponseWriter }

// Hijack hands the connection to the bridge's WebSocket upgrade. The
// recorded status becomes 101.
func (r *statusRecorder) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	hj, ok := r.ResponseWriter.(http.Hijacker)
	if !ok {
		return nil, nil, fmt.Errorf("observe: %T does not support hijacking", r.ResponseWriter)
	}
	r.statusCode = http.StatusSwitchingProtocols
	return hj.Hijack()
}

// Middleware traces and times every API request.
//
// The span continues a W3C traceparent sent by the shell and its trace ID is
// echoed as X-Correlation-ID. The span is renamed to the matched mux pattern
// once the handler returns. Durations are recorded by method, route pattern
// and [Surface]; unmatched requests are labelled by path. Health traffic
// (health and metrics) is logged at debug level.
func Middleware(m *Metrics) func(http.Handler) http.Handler {
	prop := propagation.TraceContext{}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()

			ctx := prop.Extract(r.Context(), propagation.HeaderCarrier(r.Header))
			ctx, span := Tracer().Start(ctx, r.Method+" "+r.URL.Path,
				trace.WithSpanKind(trace.SpanKindServer),
				trace.WithAttributes(
					semconv.HTTPRequestMethodKey.String(r.Method),
					semconv.URLPath(r.URL.Path),
				),
			)
			defer span.End()

			cid := CorrelationID(ctx)
			if cid != "" {
				w.Header().Set("X-Correlation-ID", cid)
			}
			prop.Inject(ctx, propagation.HeaderCarrier(w.Header()))

			r = r.WithContext(ctx)
			rec := &statusRecorder{ResponseWriter: w, statusCode: http.StatusOK}
			next.ServeHTTP(rec, r)

			// ServeMux fills r.Pattern in place.
			route := r.Pattern
			if route == "" {
				route = r.URL.Path
			} else {
				span.SetName(route)
			}
			surface := Surface(route)
			elapsed := time.Since(start)

			m.HTTPRequestDuration.Record(ctx, elapsed.Seconds(),
				metric.WithAttributes(
					attribute.String("method", r.Method),
					attribute.String("path", route),
					attribute.String("surface", surface),
				),
			)
			span.SetAttributes(
				semconv.HTTPResponseStatusCode(rec.statusCode),
				attribute.String("voxreel.surface", surface),
			)

			level := slog.LevelInfo
			if surface == SurfaceHealth {
				level = slog.LevelDebug
			}
			slog.LogAttrs(ctx, level, "api: request",
				slog.String("trace_id", cid),
				slog.String("route", route),
				slog.String("surface", surface),
				slog.Int("status", rec.statusCode),
				slog.Duration("duration", elapsed),
			)
		})
	}
}
