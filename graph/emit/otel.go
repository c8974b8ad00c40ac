package emit

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// OTelEmitter turns workflow events into OpenTelemetry spans.
//
// Each run gets a root span opened on run_start and closed on run_end or
// run_cancelled. Each node gets a child span opened on node_start and
// closed on node_end; node_error marks it failed. Status, tool and route
// events become span events on the active node or run span. Token events
// are counted rather than recorded one by one.
//
// Usage:
//
//	tp := sdktrace.NewTracerProvider(sdktrace.WithBatcher(exporter))
//	otel.SetTracerProvider(tp)
//	emitter := emit.NewOTelEmitter(tp.Tracer("insight-agent"))
type OTelEmitter struct {
	tracer trace.Tracer

	mu   sync.Mutex
	runs map[string]*otelRun
}

type otelRun struct {
	ctx    context.Context
	span   trace.Span
	node   trace.Span
	tokens int
}

// NewOTelEmitter creates an emitter recording spans on tracer.
func NewOTelEmitter(tracer trace.Tracer) *OTelEmitter {
	return &OTelEmitter{
		tracer: tracer,
		runs:   make(map[string]*otelRun),
	}
}

// Emit records the event on the run's spans.
func (o *OTelEmitter) Emit(event Event) {
	o.mu.Lock()
	defer o.mu.Unlock()

	run := o.runs[event.RunID]
	if run == nil {
		ctx, span := o.tracer.Start(context.Background(), "workflow.run",
			trace.WithAttributes(attribute.String("insight.run_id", event.RunID)))
		run = &otelRun{ctx: ctx, span: span}
		o.runs[event.RunID] = run
	}

	switch event.Msg {
	case MsgRunStart:
		o.addMetadataAttributes(run.span, event.Meta)

	case MsgNodeStart:
		_, span := o.tracer.Start(run.ctx, "node."+event.NodeID)
		span.SetAttributes(
			attribute.String("insight.node_id", event.NodeID),
			attribute.Int("insight.step", event.Step),
		)
		run.node = span
		run.tokens = 0

	case MsgNodeEnd:
		if run.node != nil {
			o.addMetadataAttributes(run.node, event.Meta)
			if run.tokens > 0 {
				run.node.SetAttributes(attribute.Int("insight.tokens", run.tokens))
			}
			run.node.End()
			run.node = nil
		}

	case MsgNodeError:
		msg, _ := event.Meta["error"].(string)
		target := run.span
		if run.node != nil {
			target = run.node
		}
		target.SetStatus(codes.Error, msg)
		target.RecordError(fmt.Errorf("%s", msg))

	case MsgToken:
		run.tokens++

	case MsgRunEnd, MsgRunCancelled:
		if run.node != nil {
			run.node.End()
		}
		o.addMetadataAttributes(run.span, event.Meta)
		if event.Msg == MsgRunCancelled {
			run.span.SetStatus(codes.Error, "cancelled")
		}
		run.span.End()
		delete(o.runs, event.RunID)

	default:
		target := run.span
		if run.node != nil {
			target = run.node
		}
		attrs := []attribute.KeyValue{attribute.String("insight.node_id", event.NodeID)}
		if event.Text != "" {
			attrs = append(attrs, attribute.String("insight.text", event.Text))
		}
		target.AddEvent(event.Msg, trace.WithAttributes(attrs...))
	}
}

func (o *OTelEmitter) addMetadataAttributes(span trace.Span, meta map[string]interface{}) {
	for key, value := range meta {
		attrKey := "insight." + key
		switch v := value.(type) {
		case string:
			span.SetAttributes(attribute.String(attrKey, v))
		case int:
			span.SetAttributes(attribute.Int(attrKey, v))
		case int64:
			span.SetAttributes(attribute.Int64(attrKey, v))
		case float64:
			span.SetAttributes(attribute.Float64(attrKey, v))
		case bool:
			span.SetAttributes(attribute.Bool(attrKey, v))
		case time.Duration:
			span.SetAttributes(attribute.Int64(attrKey, int64(v/time.Millisecond)))
		default:
			span.SetAttributes(attribute.String(attrKey, fmt.Sprintf("%v", v)))
		}
	}
}
