package telemetry

import (
	"context"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	oteltrace "go.opentelemetry.io/otel/trace"
)

func sampleDecision(s sdktrace.Sampler) sdktrace.SamplingDecision {
	return s.ShouldSample(sdktrace.SamplingParameters{
		ParentContext: context.Background(),
		TraceID:       oteltrace.TraceID{1, 2, 3, 4, 5, 6, 7, 8, 9, 10, 11, 12, 13, 14, 15, 16},
		Name:          "telemetry-test",
	}).Decision
}

func TestSampler(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name, sampler, arg string
		want               sdktrace.SamplingDecision
	}{
		{name: "always off", sampler: "always_off", want: sdktrace.Drop},
		{name: "always on", sampler: "ALWAYS_ON", want: sdktrace.RecordAndSample},
		{name: "ratio clamps high", sampler: "traceidratio", arg: "2", want: sdktrace.RecordAndSample},
		{name: "ratio clamps low", sampler: "traceidratio", arg: "-1", want: sdktrace.Drop},
		{name: "parent based zero", sampler: "parentbased_traceidratio", arg: "0", want: sdktrace.Drop},
		{name: "unknown defaults to full ratio", sampler: "unknown", want: sdktrace.RecordAndSample},
		{name: "bad ratio ignored", sampler: "traceidratio", arg: "lots", want: sdktrace.RecordAndSample},
	}
	for _, tc := range tests {
		cfg := Config{Sampler: tc.sampler, SamplerArg: tc.arg}
		if got := sampleDecision(cfg.sampler()); got != tc.want {
			t.Fatalf("%s: expected %v, got %v", tc.name, tc.want, got)
		}
	}
}

func TestHeaders(t *testing.T) {
	t.Parallel()

	headers := Config{Headers: "k1=v1, k2 = v2,broken, , =bad"}.headers()
	if len(headers) != 2 || headers["k1"] != "v1" || headers["k2"] != "v2" {
		t.Fatalf("unexpected headers %#v", headers)
	}
	if got := (Config{Headers: "   "}).headers(); got != nil {
		t.Fatalf("expected nil for empty header string, got %v", got)
	}
}

func TestServiceNameDefault(t *testing.T) {
	if got := (Config{ServiceName: "  "}).serviceName(); got != defaultServiceName {
		t.Fatalf("expected default service name, got %q", got)
	}
	if got := (Config{ServiceName: "feedctl"}).serviceName(); got != "feedctl" {
		t.Fatalf("unexpected service name %q", got)
	}
}

func TestInitUnreachableExporterOptional(t *testing.T) {
	shutdown, err := Init(context.Background(), Config{Endpoint: "127.0.0.1:1", Timeout: 50 * time.Millisecond, Insecure: true})
	if err != nil {
		t.Fatalf("optional exporter must not fail init: %v", err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	_ = shutdown(ctx)
}

func TestInitWithoutExporterAndInstrumentClient(t *testing.T) {
	shutdown, err := Init(context.Background(), Config{ServiceName: "telemetry-test"})
	if err != nil {
		t.Fatalf("Init failed: %v", err)
	}
	if shutdown == nil {
		t.Fatal("expected shutdown function")
	}
	if err := shutdown(context.Background()); err != nil {
		t.Fatalf("shutdown failed: %v", err)
	}

	client := InstrumentClient(nil)
	if client == nil {
		t.Fatal("expected instrumented client")
	}
	if client.Transport == nil {
		t.Fatal("expected transport to be set")
	}

	existing := &http.Client{Transport: http.DefaultTransport}
	instrumented := InstrumentClient(existing)
	if instrumented != existing {
		t.Fatal("expected instrumentation to mutate and return same client")
	}
	wrapped := instrumented.Transport
	if InstrumentClient(instrumented).Transport != wrapped {
		t.Fatal("second instrumentation must not nest transports")
	}
}

func TestHTTPMiddleware(t *testing.T) {
	handler := HTTPMiddleware("feed-mock")(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	}))

	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, req)
	if rr.Code != http.StatusNoContent {
		t.Fatalf("expected status 204, got %d", rr.Code)
	}
}

func TestHTTPMiddlewareDefaultServiceName(t *testing.T) {
	handler := HTTPMiddleware("   ")(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusAccepted)
	}))
	req := httptest.NewRequest(http.MethodGet, "/x", nil)
	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, req)
	if rr.Code != http.StatusAccepted {
		t.Fatalf("expected status 202, got %d", rr.Code)
	}
}

func TestInitExporterSuccessWithHeadersAndInsecure(t *testing.T) {
	collector := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !strings.HasPrefix(r.URL.Path, "/v1/traces") {
			http.NotFound(w, r)
			return
		}
		w.WriteHeader(http.StatusAccepted)
	}))
	defer collector.Close()

	u, err := url.Parse(collector.URL)
	if err != nil {
		t.Fatalf("parse collector url: %v", err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	shutdown, err := Init(ctx, Config{
		ServiceName: "   ",
		Endpoint:    u.Host,
		Headers:     "x-test=1",
		Insecure:    true,
		Timeout:     time.Second,
		Required:    true,
	})
	if err != nil {
		t.Fatalf("expected exporter init success, got %v", err)
	}
	if shutdown == nil {
		t.Fatal("expected shutdown function")
	}
	if err := shutdown(context.Background()); err != nil {
		t.Fatalf("shutdown failed: %v", err)
	}
}
