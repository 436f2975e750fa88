package emit

import (
	"context"
	"fmt"
	"sync"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// OTelEmitter implements Emitter by turning each event into an OpenTelemetry
// span.
//
// Each span carries:
//   - Name: event.Msg (e.g. "synchronize", "date_start")
//   - Attributes: run id, rank, date, plus every Meta field
//   - Status: error when event.Meta["error"] is present
//
// Events mark points in time, so spans are ended immediately.
//
// Usage:
//
//	tracer := otel.Tracer("agentmesh-go")
//	emitter := emit.NewOTelEmitter(tracer)
//	g := mesh.NewGraph(tp, codec, mesh.GhostMode[Agent], mesh.WithEmitter(emitter))
//
// Setting up a provider (application code):
//
//	tp := sdktrace.NewTracerProvider(sdktrace.WithBatcher(exporter))
//	otel.SetTracerProvider(tp)
type OTelEmitter struct {
	tracer trace.Tracer
	mu     sync.Mutex
}

// NewOTelEmitter creates an emitter over an OpenTelemetry tracer, typically
// otel.Tracer("agentmesh-go").
func NewOTelEmitter(tracer trace.Tracer) *OTelEmitter {
	return &OTelEmitter{tracer: tracer}
}

// Emit creates and immediately ends one span for the event.
func (o *OTelEmitter) Emit(event Event) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.span(event)
}

func (o *OTelEmitter) span(event Event) {
	_, span := o.tracer.Start(context.Background(), event.Msg)
	defer span.End()

	span.SetAttributes(
		attribute.String("mesh.run_id", event.RunID),
		attribute.Int("mesh.rank", event.Rank),
		attribute.Int64("mesh.date", int64(event.Date)), // #nosec G115 -- dates stay far below int64 range
	)
	for key, value := range event.Meta {
		switch v := value.(type) {
		case string:
			span.SetAttributes(attribute.String("mesh."+key, v))
		case int:
			span.SetAttributes(attribute.Int("mesh."+key, v))
		case int64:
			span.SetAttributes(attribute.Int64("mesh."+key, v))
		case float64:
			span.SetAttributes(attribute.Float64("mesh."+key, v))
		case bool:
			span.SetAttributes(attribute.Bool("mesh."+key, v))
		default:
			span.SetAttributes(attribute.String("mesh."+key, fmt.Sprintf("%v", v)))
		}
	}
	if errMsg, ok := event.Meta["error"].(string); ok {
		span.SetStatus(codes.Error, errMsg)
		span.RecordError(fmt.Errorf("%s", errMsg))
	}
}

// EmitBatch creates one span per event, in order.
func (o *OTelEmitter) EmitBatch(_ context.Context, events []Event) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	for _, event := range events {
		o.span(event)
	}
	return nil
}

// Flush is a no-op: span export is the tracer provider's concern.
func (o *OTelEmitter) Flush(_ context.Context) error { return nil }
