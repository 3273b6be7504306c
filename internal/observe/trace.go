package observe

import (
	"context"
	"log/slog"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const tracerName = "github.com/MrWong99/streamasr"

// Span attribute keys.
const (
	AttrStreamID     = attribute.Key("asr.stream_id")
	AttrFormat       = attribute.Key("asr.format")
	AttrSampleRate   = attribute.Key("asr.sample_rate")
	AttrRequestID    = attribute.Key("asr.request_id")
	AttrBackend      = attribute.Key("asr.backend")
	AttrAudioSeconds = attribute.Key("asr.audio_seconds")
)

// Tracer returns the streamasr tracer from the global provider.
func Tracer() trace.Tracer {
	return otel.Tracer(tracerName)
}

// StartSpan starts a span. The caller must end it.
func StartSpan(ctx context.Context, name string, opts ...trace.SpanStartOption) (context.Context, trace.Span) {
	return Tracer().Start(ctx, name, opts...)
}

// StartStreamSpan starts the span covering one websocket session.
func StartStreamSpan(ctx context.Context, streamID, format string, sampleRate int) (context.Context, trace.Span) {
	return StartSpan(ctx, "asr.stream", trace.WithAttributes(
		AttrStreamID.String(streamID),
		AttrFormat.String(format),
		AttrSampleRate.Int(sampleRate),
	))
}

// StartTranscribeSpan starts the span covering one offline transcription.
func StartTranscribeSpan(ctx context.Context, requestID, backend string, audioSeconds float64) (context.Context, trace.Span) {
	return StartSpan(ctx, "asr.transcribe", trace.WithAttributes(
		AttrRequestID.String(requestID),
		AttrBackend.String(backend),
		AttrAudioSeconds.Float64(audioSeconds),
	))
}

// Fail records err on span and marks it failed.
func Fail(span trace.Span, err error) {
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
}

// CorrelationID returns the trace ID of the span in ctx, or "". Clients see
// it as the X-Correlation-ID response header.
func CorrelationID(ctx context.Context) string {
	sc := trace.SpanContextFromContext(ctx)
	if sc.HasTraceID() {
		return sc.TraceID().String()
	}
	return ""
}

// Logger returns the default logger with trace_id and span_id added when ctx
// carries a span.
func Logger(ctx context.Context) *slog.Logger {
	l := slog.Default()
	sc := trace.SpanContextFromContext(ctx)
	if sc.HasTraceID() {
		l = l.With(
			slog.String("trace_id", sc.TraceID().String()),
			slog.String("span_id", sc.SpanID().String()),
		)
	}
	return l
}
