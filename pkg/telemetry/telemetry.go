package telemetry

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// Package is the service name under which jicofo registers its OTel tracer.
const Package = "jicofo"

var tracer = otel.Tracer(Package)

// Telemetry wraps a span together with the context it was created in, so that child
// spans (such as the colibri.Manager's one span per colibri session) can be created
// without threading a context.Context through every call site.
type Telemetry struct {
	span    trace.Span
	context context.Context //nolint:containedctx
}

// NewTelemetry starts a new span named name as a child of ctx.
func NewTelemetry(ctx context.Context, name string, attributes ...attribute.KeyValue) *Telemetry {
	ctx, span := tracer.Start(ctx, name, trace.WithAttributes(attributes...))

	return &Telemetry{span: span, context: ctx}
}

// CreateChild starts a new span as a child of this one.
func (t *Telemetry) CreateChild(name string, attributes ...attribute.KeyValue) *Telemetry {
	return NewTelemetry(t.context, name, attributes...)
}

// AddEvent records a point-in-time event on the span.
func (t *Telemetry) AddEvent(text string, attributes ...attribute.KeyValue) {
	t.span.AddEvent(text, trace.WithAttributes(attributes...))
}

// AddError records an error on the span without marking the span as failed.
func (t *Telemetry) AddError(err error) {
	t.span.RecordError(err)
}

// Fail marks the span as failed and records err.
func (t *Telemetry) Fail(err error) {
	t.span.SetStatus(codes.Error, err.Error())
	t.AddError(err)
}

// End finishes the span.
func (t *Telemetry) End() {
	t.span.End()
}
