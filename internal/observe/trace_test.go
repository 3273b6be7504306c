package observe

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"strings"
	"testing"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
)

// useTestTracer installs an in-memory tracer as the global provider for the
// duration of the test.
func useTestTracer(t *testing.T) *tracetest.InMemoryExporter {
	t.Helper()
	exp := tracetest.NewInMemoryExporter()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSyncer(exp))
	orig := otel.GetTracerProvider()
	otel.SetTracerProvider(tp)
	t.Cleanup(func() {
		otel.SetTracerProvider(orig)
		_ = tp.Shutdown(context.Background())
	})
	return exp
}

func captureLogs(t *testing.T) *bytes.Buffer {
	t.Helper()
	var buf bytes.Buffer
	orig := slog.Default()
	slog.SetDefault(slog.New(slog.NewTextHandler(&buf, nil)))
	t.Cleanup(func() { slog.SetDefault(orig) })
	return &buf
}

func attrs(kv []attribute.KeyValue) map[attribute.Key]attribute.Value {
	m := make(map[attribute.Key]attribute.Value, len(kv))
	for _, a := range kv {
		m[a.Key] = a.Value
	}
	return m
}

func TestStartStreamSpan(t *testing.T) {
	exp := useTestTracer(t)

	ctx, span := StartStreamSpan(context.Background(), "s-1", "pcm16", 8000)
	if CorrelationID(ctx) == "" {
		t.Error("no trace ID in returned context")
	}
	span.End()

	spans := exp.GetSpans()
	if len(spans) != 1 || spans[0].Name != "asr.stream" {
		t.Fatalf("spans = %v, want one asr.stream", spans)
	}
	got := attrs(spans[0].Attributes)
	if got[AttrStreamID].AsString() != "s-1" || got[AttrFormat].AsString() != "pcm16" || got[AttrSampleRate].AsInt64() != 8000 {
		t.Errorf("attributes = %v", spans[0].Attributes)
	}
}

func TestStartTranscribeSpan_Fail(t *testing.T) {
	exp := useTestTracer(t)

	_, span := StartTranscribeSpan(context.Background(), "req", "whisper", 2.5)
	Fail(span, errors.New("backend down"))
	span.End()

	spans := exp.GetSpans()
	if len(spans) != 1 {
		t.Fatalf("got %d spans", len(spans))
	}
	s := spans[0]
	if s.Name != "asr.transcribe" {
		t.Errorf("name = %q", s.Name)
	}
	if got := attrs(s.Attributes); got[AttrBackend].AsString() != "whisper" || got[AttrAudioSeconds].AsFloat64() != 2.5 {
		t.Errorf("attributes = %v", s.Attributes)
	}
	if s.Status.Code != codes.Error || s.Status.Description != "backend down" {
		t.Errorf("status = %+v", s.Status)
	}
	if len(s.Events) == 0 || s.Events[0].Name != "exception" {
		t.Errorf("error event not recorded: %v", s.Events)
	}
}

func TestCorrelationID(t *testing.T) {
	if got := CorrelationID(context.Background()); got != "" {
		t.Errorf("CorrelationID(background) = %q, want empty", got)
	}

	useTestTracer(t)
	seen := make(map[string]bool)
	for range 50 {
		ctx, span := StartSpan(context.Background(), "op")
		cid := CorrelationID(ctx)
		span.End()
		if len(cid) != 32 || strings.Trim(cid, "0123456789abcdef") != "" {
			t.Fatalf("correlation ID %q is not 32 hex digits", cid)
		}
		if seen[cid] {
			t.Fatalf("duplicate correlation ID %s", cid)
		}
		seen[cid] = true
	}
}

func TestLogger(t *testing.T) {
	useTestTracer(t)
	tests := []struct {
		name      string
		withSpan  bool
		wantTrace bool
	}{
		{name: "with span", withSpan: true, wantTrace: true},
		{name: "without span"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			buf := captureLogs(t)
			ctx := context.Background()
			if tt.withSpan {
				c, s := StartSpan(ctx, "log")
				defer s.End()
				ctx = c
			}
			Logger(ctx).Info("decoded")
			out := buf.String()
			if got := strings.Contains(out, "trace_id=") && strings.Contains(out, "span_id="); got != tt.wantTrace {
				t.Errorf("trace attributes present = %v, want %v: %s", got, tt.wantTrace, out)
			}
		})
	}
}
