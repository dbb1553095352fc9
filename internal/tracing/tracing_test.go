package tracing

import (
	"context"
	"errors"
	"os"
	"strings"
	"testing"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
	oteltrace "go.opentelemetry.io/otel/trace"
)

func TestGetVersion(t *testing.T) {
	tests := []struct {
		name     string
		envValue string
		expected string
	}{
		{
			name:     "with SERVICE_VERSION set",
			envValue: "v1.2.3",
			expected: "v1.2.3",
		},
		{
			name:     "with SERVICE_VERSION not set",
			envValue: "",
			expected: "dev",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if tt.envValue != "" {
				os.Setenv("SERVICE_VERSION", tt.envValue)
				defer os.Unsetenv("SERVICE_VERSION")
			} else {
				os.Unsetenv("SERVICE_VERSION")
			}

			result := getVersion()
			if result != tt.expected {
				t.Errorf("getVersion() = %q, want %q", result, tt.expected)
			}
		})
	}
}

func TestGetInstanceID(t *testing.T) {
	origHostname := os.Getenv("HOSTNAME")
	origPodName := os.Getenv("POD_NAME")
	defer func() {
		os.Setenv("HOSTNAME", origHostname)
		os.Setenv("POD_NAME", origPodName)
	}()

	tests := []struct {
		name        string
		hostnameEnv string
		podNameEnv  string
		expected    string
	}{
		{
			name:        "hostname takes precedence",
			hostnameEnv: "engined-host-1",
			podNameEnv:  "tidehook-engined-abc123",
			expected:    "engined-host-1",
		},
		{
			name:        "pod name when hostname unset",
			hostnameEnv: "",
			podNameEnv:  "tidehook-engined-abc123",
			expected:    "tidehook-engined-abc123",
		},
		{
			name:        "unknown when neither set",
			hostnameEnv: "",
			podNameEnv:  "",
			expected:    "unknown",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			os.Unsetenv("HOSTNAME")
			os.Unsetenv("POD_NAME")
			if tt.hostnameEnv != "" {
				os.Setenv("HOSTNAME", tt.hostnameEnv)
			}
			if tt.podNameEnv != "" {
				os.Setenv("POD_NAME", tt.podNameEnv)
			}

			result := getInstanceID()
			if result != tt.expected {
				t.Errorf("getInstanceID() = %q, want %q", result, tt.expected)
			}
		})
	}
}

func TestGetOTLPEndpoint(t *testing.T) {
	tests := []struct {
		name     string
		envValue string
		expected string
	}{
		{
			name:     "default endpoint",
			envValue: "",
			expected: "tempo:4318",
		},
		{
			name:     "custom host:port",
			envValue: "collector:4318",
			expected: "collector:4318",
		},
		{
			name:     "http scheme stripped",
			envValue: "http://collector:4318",
			expected: "collector:4318",
		},
		{
			name:     "https scheme stripped",
			envValue: "https://collector:4318",
			expected: "collector:4318",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if tt.envValue != "" {
				os.Setenv("OTEL_EXPORTER_OTLP_ENDPOINT", tt.envValue)
				defer os.Unsetenv("OTEL_EXPORTER_OTLP_ENDPOINT")
			} else {
				os.Unsetenv("OTEL_EXPORTER_OTLP_ENDPOINT")
			}

			result := getOTLPEndpoint()
			if result != tt.expected {
				t.Errorf("getOTLPEndpoint() = %q, want %q", result, tt.expected)
			}
		})
	}
}

func TestStartSpan(t *testing.T) {
	tests := []struct {
		name     string
		spanName string
		attrs    []attribute.KeyValue
	}{
		{
			name:     "simple span without attributes",
			spanName: "test-operation",
			attrs:    nil,
		},
		{
			name:     "span with attributes",
			spanName: "deliver-webhook",
			attrs: []attribute.KeyValue{
				attribute.String("job.type", "send_webhook"),
				attribute.Int("attempt", 2),
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ctx := context.Background()
			newCtx, span := StartSpan(ctx, tt.spanName, tt.attrs...)

			if newCtx == nil {
				t.Error("StartSpan() returned nil context")
			}
			if span == nil {
				t.Fatal("StartSpan() returned nil span")
			}

			spanFromCtx := oteltrace.SpanFromContext(newCtx)
			if spanFromCtx == nil {
				t.Error("StartSpan() span not found in returned context")
			}

			span.End()
		})
	}
}

func TestSetSpanError(t *testing.T) {
	exporter := tracetest.NewInMemoryExporter()
	tp := trace.NewTracerProvider(trace.WithSyncer(exporter))
	otel.SetTracerProvider(tp)

	ctx, span := StartSpan(context.Background(), "failing-operation")
	SetSpanError(ctx, errors.New("boom"))
	span.End()

	spans := exporter.GetSpans()
	if len(spans) != 1 {
		t.Fatalf("exported %d spans, want 1", len(spans))
	}
	if len(spans[0].Events) == 0 {
		t.Error("error was not recorded as a span event")
	}

	// nil error must be a no-op
	ctx2, span2 := StartSpan(context.Background(), "ok-operation")
	SetSpanError(ctx2, nil)
	span2.End()
}

func TestGetTraceID(t *testing.T) {
	exporter := tracetest.NewInMemoryExporter()
	tp := trace.NewTracerProvider(trace.WithSyncer(exporter))
	otel.SetTracerProvider(tp)

	if id := GetTraceID(context.Background()); id != "" {
		t.Errorf("GetTraceID() on empty context = %q, want empty", id)
	}

	ctx, span := StartSpan(context.Background(), "traced-operation")
	defer span.End()

	id := GetTraceID(ctx)
	if id == "" {
		t.Error("GetTraceID() returned empty string for active span")
	}
	if len(id) != 32 {
		t.Errorf("trace ID length = %d, want 32 hex chars", len(id))
	}
}

func TestPropagateToCarrier(t *testing.T) {
	exporter := tracetest.NewInMemoryExporter()
	tp := trace.NewTracerProvider(trace.WithSyncer(exporter))
	otel.SetTracerProvider(tp)
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{},
		propagation.Baggage{},
	))

	ctx, span := StartSpan(context.Background(), "publisher-operation")
	defer span.End()

	headers := PropagateToCarrier(ctx)
	if headers == nil {
		t.Fatal("PropagateToCarrier() returned nil headers")
	}
	if len(headers) == 0 {
		t.Fatal("PropagateToCarrier() returned empty headers for active span")
	}

	found := false
	for key := range headers {
		if strings.Contains(strings.ToLower(key), "trace") {
			found = true
			break
		}
	}
	if !found {
		t.Error("PropagateToCarrier() did not include trace context headers")
	}
}

func TestExtractFromCarrier(t *testing.T) {
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{},
		propagation.Baggage{},
	))

	tests := []struct {
		name    string
		headers map[string]string
	}{
		{
			name:    "empty headers",
			headers: map[string]string{},
		},
		{
			name: "headers with trace context",
			headers: map[string]string{
				"traceparent": "00-4bf92f3577b34da6a3ce929d0e0e4736-00f067aa0ba902b7-01",
			},
		},
		{
			name: "headers with invalid trace context",
			headers: map[string]string{
				"traceparent": "invalid-trace-context",
			},
		},
		{
			name:    "nil headers",
			headers: nil,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			newCtx := ExtractFromCarrier(context.Background(), tt.headers)
			if newCtx == nil {
				t.Error("ExtractFromCarrier() returned nil context")
			}
		})
	}
}

func TestTraceRoundTrip(t *testing.T) {
	exporter := tracetest.NewInMemoryExporter()
	tp := trace.NewTracerProvider(trace.WithSyncer(exporter))
	otel.SetTracerProvider(tp)
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{},
		propagation.Baggage{},
	))

	ctx, span := StartSpan(context.Background(), "test-operation")
	defer span.End()

	originalTraceID := GetTraceID(ctx)
	if originalTraceID == "" {
		t.Fatal("Failed to get trace ID from original context")
	}

	headers := PropagateToCarrier(ctx)
	if len(headers) == 0 {
		t.Fatal("PropagateToCarrier() returned empty headers")
	}

	newCtx := ExtractFromCarrier(context.Background(), headers)

	newCtx, childSpan := StartSpan(newCtx, "child-operation")
	defer childSpan.End()

	extractedTraceID := GetTraceID(newCtx)
	if extractedTraceID != originalTraceID {
		t.Errorf("Trace ID changed during round-trip: original=%s, extracted=%s", originalTraceID, extractedTraceID)
	}
}

func TestTracerNameConstant(t *testing.T) {
	expected := "github.com/tidehook/tidehook"
	if TracerName != expected {
		t.Errorf("TracerName constant = %q, want %q", TracerName, expected)
	}
}
