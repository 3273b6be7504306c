package observe

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"go.opentelemetry.io/otel/codes"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
)

// newTestHandler wraps a mux serving /v1/utterances (status from the handler
// argument) and /healthz with the middleware.
func newTestHandler(t *testing.T, status int) (http.Handler, *sdkmetric.ManualReader, *tracetest.InMemoryExporter) {
	t.Helper()
	reader := sdkmetric.NewManualReader()
	mp := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	t.Cleanup(func() { _ = mp.Shutdown(context.Background()) })
	m, err := NewMetrics(mp)
	if err != nil {
		t.Fatalf("NewMetrics: %v", err)
	}
	exp := useTestTracer(t)

	mux := http.NewServeMux()
	mux.HandleFunc("GET /v1/utterances", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("X-Seen-Correlation", CorrelationID(r.Context()))
		w.WriteHeader(status)
	})
	mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, _ *http.Request) {})
	return Middleware(m)(mux), reader, exp
}

func serve(h http.Handler, target string, header http.Header) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodGet, target, nil)
	for k, v := range header {
		req.Header[k] = v
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestMiddleware_CorrelationID(t *testing.T) {
	h, _, _ := newTestHandler(t, http.StatusOK)

	rec := serve(h, "/v1/utterances?stream=a", nil)
	cid := rec.Header().Get("X-Correlation-ID")
	if len(cid) != 32 {
		t.Fatalf("X-Correlation-ID = %q, want 32 hex digits", cid)
	}
	if got := rec.Header().Get("X-Seen-Correlation"); got != cid {
		t.Errorf("handler saw %q, response carries %q", got, cid)
	}
}

func TestMiddleware_PropagatesW3CTraceContext(t *testing.T) {
	const traceID = "4bf92f3577b34da6a3ce929d0e0e4736"
	h, _, _ := newTestHandler(t, http.StatusOK)

	rec := serve(h, "/v1/utterances", http.Header{
		"Traceparent": {"00-" + traceID + "-00f067aa0ba902b7-01"},
	})
	if got := rec.Header().Get("X-Seen-Correlation"); got != traceID {
		t.Errorf("handler correlation ID = %q, want %q", got, traceID)
	}
	if got := rec.Header().Get("X-Correlation-ID"); got != traceID {
		t.Errorf("response X-Correlation-ID = %q, want %q", got, traceID)
	}
}

func TestMiddleware_Span(t *testing.T) {
	tests := []struct {
		name      string
		target    string
		status    int
		wantName  string
		wantError bool
	}{
		{name: "routed", target: "/v1/utterances?stream=x", status: http.StatusOK, wantName: "GET /v1/utterances"},
		{name: "server error", target: "/v1/utterances", status: http.StatusInternalServerError, wantName: "GET /v1/utterances", wantError: true},
		{name: "not found", target: "/nope", status: http.StatusOK, wantName: "HTTP GET"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h, _, exp := newTestHandler(t, tt.status)
			rec := serve(h, tt.target, nil)

			spans := exp.GetSpans()
			if len(spans) != 1 {
				t.Fatalf("got %d spans, want 1", len(spans))
			}
			s := spans[0]
			if s.Name != tt.wantName {
				t.Errorf("span name = %q, want %q", s.Name, tt.wantName)
			}
			var status int64
			for _, a := range s.Attributes {
				if a.Key == "http.response.status_code" {
					status = a.Value.AsInt64()
				}
			}
			if status != int64(rec.Code) {
				t.Errorf("span status_code = %d, response = %d", status, rec.Code)
			}
			if got := s.Status.Code == codes.Error; got != tt.wantError {
				t.Errorf("span error = %v, want %v", got, tt.wantError)
			}
		})
	}
}

func TestMiddleware_RecordsDurationByRoute(t *testing.T) {
	h, reader, _ := newTestHandler(t, http.StatusOK)
	serve(h, "/v1/utterances?stream=a", nil)
	serve(h, "/v1/utterances?stream=b", nil)
	serve(h, "/healthz", nil)

	var rm metricdata.ResourceMetrics
	if err := reader.Collect(context.Background(), &rm); err != nil {
		t.Fatalf("Collect: %v", err)
	}
	met := findMetric(rm, "streamasr.http.request.duration")
	if met == nil {
		t.Fatal("metric not found")
	}
	hist, ok := met.Data.(metricdata.Histogram[float64])
	if !ok {
		t.Fatalf("metric data is %T, want histogram", met.Data)
	}

	counts := make(map[string]uint64)
	for _, dp := range hist.DataPoints {
		rt, _ := dp.Attributes.Value("route")
		class, _ := dp.Attributes.Value("status_class")
		if class.AsString() != "2xx" {
			t.Errorf("status_class = %q, want 2xx", class.AsString())
		}
		counts[rt.AsString()] += dp.Count
	}
	if counts["GET /v1/utterances"] != 2 || counts["GET /healthz"] != 1 {
		t.Errorf("counts by route = %v", counts)
	}
}
