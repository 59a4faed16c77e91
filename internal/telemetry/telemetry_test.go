package telemetry

import (
	"bytes"
	"context"
	"strings"
	"testing"

	"go.opentelemetry.io/otel"
)

func TestSetupDisabledIsNoop(t *testing.T) {
	shutdown, err := SetupWithWriter(false, &bytes.Buffer{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := shutdown(context.Background()); err != nil {
		t.Fatalf("shutdown: %v", err)
	}
}

func TestSetupExportsSpans(t *testing.T) {
	prev := otel.GetTracerProvider()
	defer otel.SetTracerProvider(prev)

	var buf bytes.Buffer
	shutdown, err := SetupWithWriter(true, &buf)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	_, span := otel.Tracer("telemetry-test").Start(context.Background(), "graph.turn")
	span.End()

	if err := shutdown(context.Background()); err != nil {
		t.Fatalf("shutdown: %v", err)
	}
	out := buf.String()
	if !strings.Contains(out, "graph.turn") {
		t.Fatalf("expected exported span, got %q", out)
	}
	if !strings.Contains(out, ServiceName) {
		t.Fatalf("expected service name in resource, got %q", out)
	}
}
