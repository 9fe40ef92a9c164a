package middleware

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/Nine-Minds/alga-psa-sub020/action"
)

// tracerName is the instrumentation scope name for automation tracing.
const tracerName = "github.com/Nine-Minds/alga-psa-sub020"

// Tracing returns middleware that wraps action execution in an
// OpenTelemetry span. If no TracerProvider is configured globally, the
// default noop tracer is used and this middleware becomes a pass-through
// with zero overhead.
//
// Span attributes include: automation.action, automation.run_id,
// automation.step_id, automation.tenant. On error, the span status is
// set to codes.Error with the error message.
func Tracing() Middleware {
	tracer := otel.Tracer(tracerName)
	return TracingWithTracer(tracer)
}

// TracingWithTracer returns tracing middleware using the provided tracer.
// This variant allows injecting a specific TracerProvider for testing or
// when multiple providers are in use.
func TracingWithTracer(tracer trace.Tracer) Middleware {
	return func(ctx context.Context, call *action.Call, next Handler) (map[string]any, error) {
		ctx, span := tracer.Start(ctx, "automation.action.execute",
			trace.WithAttributes(
				attribute.String("automation.action", call.Name),
				attribute.String("automation.run_id", call.RunID.String()),
				attribute.String("automation.step_id", call.StepID),
				attribute.String("automation.tenant", call.Tenant),
			),
			trace.WithSpanKind(trace.SpanKindInternal),
		)
		defer span.End()

		out, err := next(ctx)
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		} else {
			span.SetStatus(codes.Ok, "")
		}

		return out, err
	}
}
