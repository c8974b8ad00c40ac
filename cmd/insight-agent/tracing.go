package main

import (
	"context"

	"github.com/apex/log"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
)

// logSpanExporter writes finished spans as log entries.
type logSpanExporter struct {
	logger log.Interface
}

func newLogSpanExporter(logger log.Interface) *logSpanExporter {
	return &logSpanExporter{logger: logger}
}

func (e *logSpanExporter) ExportSpans(_ context.Context, spans []sdktrace.ReadOnlySpan) error {
	for _, span := range spans {
		fields := log.Fields{
			"trace_id":    span.SpanContext().TraceID().String(),
			"span_id":     span.SpanContext().SpanID().String(),
			"duration_ms": span.EndTime().Sub(span.StartTime()).Milliseconds(),
			"status":      span.Status().Code.String(),
		}
		if parent := span.Parent(); parent.IsValid() {
			fields["parent_id"] = parent.SpanID().String()
		}
		for _, attr := range span.Attributes() {
			fields[string(attr.Key)] = attr.Value.Emit()
		}
		e.logger.WithFields(fields).Debug("span " + span.Name())
	}
	return nil
}

func (e *logSpanExporter) Shutdown(context.Context) error { return nil }
