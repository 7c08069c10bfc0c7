package observe

import (
	"context"
	"log/slog"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const tracerName = "github.com/MrWong99/voxreel"

// Span attributes shared by the capture, parse and dispatch steps.
const (
	KeySession  = attribute.Key("voxreel.session")
	KeyIntent   = attribute.Key("voxreel.intent")
	KeyAction   = attribute.Key("voxreel.action")
	KeyStage    = attribute.Key("voxreel.parse.stage")
	KeyLanguage = attribute.Key("voxreel.language")
)

type sessionKey struct{}

// WithSession tags ctx with the listening session that produced the work.
// Spans from [StartSpan] and loggers from [Logger] pick it up.
func WithSession(ctx context.Context, id string) context.Context {
	if id == "" {
		return ctx
	}
	return context.WithValue(ctx, sessionKey{}, id)
}

// SessionID returns the listening session set by [WithSession], or "".
func SessionID(ctx context.Context) string {
	id, _ := ctx.Value(sessionKey{}).(string)
	return id
}

// Tracer returns the voxreel tracer from the global provider.
func Tracer() trace.Tracer {
	return otel.Tracer(tracerName)
}

// StartSpan starts an internal span for one pipeline step, such as
// "capture.transcribe" or "dispatch.execute". The session in ctx is added
// to attrs. The caller ends the span, usually through [EndSpan].
func StartSpan(ctx context.Context, name string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	if id := SessionID(ctx); id != "" {
		attrs = append(attrs, KeySession.String(id))
	}
	return Tracer().Start(ctx, name, trace.WithAttributes(attrs...))
}

// CommandAttrs describes a parsed command. Empty values are left out.
func CommandAttrs(intent, action, stage string) []attribute.KeyValue {
	attrs := make([]attribute.KeyValue, 0, 3)
	if intent != "" {
		attrs = append(attrs, KeyIntent.String(intent))
	}
	if action != "" {
		attrs = append(attrs, KeyAction.String(action))
	}
	if stage != "" {
		attrs = append(attrs, KeyStage.String(stage))
	}
	return attrs
}

// EndSpan marks span failed when err is non-nil and ends it.
func EndSpan(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	span.End()
}

// CorrelationID is the trace ID of the span in ctx, or "" without one.
func CorrelationID(ctx context.Context) string {
	sc := trace.SpanContextFromContext(ctx)
	if sc.HasTraceID() {
		return sc.TraceID().String()
	}
	return ""
}

// Logger returns the default logger with the trace, span and session IDs
// found in ctx.
func Logger(ctx context.Context) *slog.Logger {
	l := slog.Default()
	if sc := trace.SpanContextFromContext(ctx); sc.HasTraceID() {
		l = l.With(
			slog.String("trace_id", sc.TraceID().String()),
			slog.String("span_id", sc.SpanID().String()),
		)
	}
	if id := SessionID(ctx); id != "" {
		l = l.With(slog.String("session", id))
	}
	return l
}
