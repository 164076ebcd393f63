package bus

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/trace"
)

const tracerName = "github.com/cloud-wave-best-zizon/fulfillment-service/internal/bus"

// startPublishSpan starts a producer span and writes its context into headers.
func startPublishSpan(ctx context.Context, subject, key string, headers map[string]string) (context.Context, trace.Span) {
	ctx, span := otel.Tracer(tracerName).Start(ctx, "publish "+subject,
		trace.WithSpanKind(trace.SpanKindProducer),
		trace.WithAttributes(
			attribute.String("messaging.destination.name", subject),
			attribute.String("messaging.message.key", key),
		),
	)
	otel.GetTextMapPropagator().Inject(ctx, propagation.MapCarrier(headers))
	return ctx, span
}

// startConsumeSpan continues the trace carried in the message headers.
func startConsumeSpan(ctx context.Context, msg *Message) (context.Context, trace.Span) {
	if len(msg.Headers) > 0 {
		ctx = otel.GetTextMapPropagator().Extract(ctx, propagation.MapCarrier(msg.Headers))
	}
	return otel.Tracer(tracerName).Start(ctx, "process "+msg.Subject,
		trace.WithSpanKind(trace.SpanKindConsumer),
		trace.WithAttributes(
			attribute.String("messaging.destination.name", msg.Subject),
			attribute.String("messaging.message.key", msg.Key),
			attribute.Bool("messaging.redelivered", msg.Redelivered),
		),
	)
}

func endSpan(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	span.End()
}
