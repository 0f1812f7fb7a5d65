package event

import (
	"context"
	"testing"

	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
)

func TestOTelListener(t *testing.T) {
	recorder := tracetest.NewSpanRecorder()
	provider := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(recorder))
	defer provider.Shutdown(context.Background())

	bus := NewBus(nil, zerolog.Nop())
	remove := bus.AddListener(NewOTelListener(provider.Tracer("flow")))
	defer remove()

	bus.Emit(context.Background(), "run-1", StepCompleted, "fetch", map[string]any{
		"step_type": "http_request",
		"attempt":   1,
	})
	bus.Emit(context.Background(), "run-1", StepFailed, "fetch", map[string]any{
		"error": "connection refused",
	})

	spans := recorder.Ended()
	if len(spans) != 2 {
		t.Fatalf("recorded %d spans", len(spans))
	}

	first := spans[0]
	if first.Name() != StepCompleted {
		t.Errorf("span name = %q", first.Name())
	}
	attrs := make(map[attribute.Key]attribute.Value)
	for _, kv := range first.Attributes() {
		attrs[kv.Key] = kv.Value
	}
	if got := attrs["flow.run_id"].AsString(); got != "run-1" {
		t.Errorf("flow.run_id = %q", got)
	}
	if got := attrs["flow.step_type"].AsString(); got != "http_request" {
		t.Errorf("flow.step_type = %q", got)
	}
	if first.Status().Code == codes.Error {
		t.Error("success event recorded as error")
	}

	second := spans[1]
	if second.Status().Code != codes.Error {
		t.Errorf("failure event status = %v", second.Status())
	}
	if second.Status().Description != "connection refused" {
		t.Errorf("status description = %q", second.Status().Description)
	}
}
