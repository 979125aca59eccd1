package event

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/flowforge/graphrun/graph"
)

// OTelEmitter turns each ExecutionStep into an immediately-ended
// OpenTelemetry span, tagged with the step kind, node id, status, duration,
// and metadata. Point-in-time semantics: a span is opened and closed within
// Emit rather than straddling a node's start/complete pair, since the two
// steps are delivered as separate calls with no shared context.
type OTelEmitter struct {
	tracer trace.Tracer
}

func NewOTelEmitter(tracer trace.Tracer) *OTelEmitter {
	return &OTelEmitter{tracer: tracer}
}

func (o *OTelEmitter) Emit(step graph.ExecutionStep) {
	ctx := context.Background()
	_, span := o.tracer.Start(ctx, string(step.Kind))
	defer span.End()

	span.SetAttributes(
		attribute.String("graphrun.node_id", step.NodeID),
		attribute.String("graphrun.step_id", step.ID),
	)
	if step.Status != "" {
		span.SetAttributes(attribute.String("graphrun.status", step.Status))
	}
	if step.Duration > 0 {
		span.SetAttributes(attribute.Int64("graphrun.duration_ms", int64(step.Duration/time.Millisecond)))
	}
	o.addMetadataAttributes(span, step.Metadata)

	if step.Kind == graph.StepNodeError {
		msg := fmt.Sprintf("node %s failed", step.NodeID)
		if errVal, ok := step.Metadata["error"].(string); ok {
			msg = errVal
		}
		span.SetStatus(codes.Error, msg)
		span.RecordError(fmt.Errorf("%s", msg))
	}
}

// Flush forces the active TracerProvider to export pending spans, if it
// supports ForceFlush (the SDK provider does; the global no-op provider
// does not).
func (o *OTelEmitter) Flush() error {
	tp := otel.GetTracerProvider()
	type flusher interface {
		ForceFlush(context.Context) error
	}
	if f, ok := tp.(flusher); ok {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return f.ForceFlush(ctx)
	}
	return nil
}

func (o *OTelEmitter) addMetadataAttributes(span trace.Span, meta map[string]any) {
	for key, value := range meta {
		switch v := value.(type) {
		case string:
			span.SetAttributes(attribute.String(key, v))
		case int:
			span.SetAttributes(attribute.Int(key, v))
		case int64:
			span.SetAttributes(attribute.Int64(key, v))
		case float64:
			span.SetAttributes(attribute.Float64(key, v))
		case bool:
			span.SetAttributes(attribute.Bool(key, v))
		case time.Duration:
			span.SetAttributes(attribute.Int64(key, int64(v/time.Millisecond)))
		default:
			span.SetAttributes(attribute.String(key, fmt.Sprintf("%v", v)))
		}
	}
}
