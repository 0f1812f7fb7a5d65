package event

import (
	"context"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// NewOTelListener returns a listener that records one span per bus event.
// Spans are named after the event type and carry run/step identity as
// attributes; failure events get an error status.
func NewOTelListener(tracer trace.Tracer) Listener {
	return func(env Envelope) {
		attrs := []attribute.KeyValue{
			attribute.String("flow.event_type", env.EventType),
			attribute.String("flow.run_id", env.RunID),
		}
		if env.StepID != "" {
			attrs = append(attrs, attribute.String("flow.step_id", env.StepID))
		}
		if stepType, ok := env.Payload["step_type"].(string); ok {
			attrs = append(attrs, attribute.String("flow.step_type", stepType))
		}
		if attempt, ok := env.Payload["attempt"].(int); ok {
			attrs = append(attrs, attribute.Int("flow.attempt", attempt))
		}

		_, span := tracer.Start(context.Background(), env.EventType,
			trace.WithAttributes(attrs...),
			trace.WithTimestamp(env.Timestamp),
		)
		if msg, ok := env.Payload["error"].(string); ok && msg != "" {
			span.SetStatus(codes.Error, msg)
		}
		span.End()
	}
}
