package tracing

import (
	"context"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// StartPoolSpan creates a child span for a credential pool operation.
func StartPoolSpan(ctx context.Context, op string) (context.Context, trace.Span) {
	return Tracer().Start(ctx, "pool."+op,
		trace.WithAttributes(attribute.String("pool.op", op)),
	)
}

// StartLedgerSpan creates a child span for a consumption ledger operation.
func StartLedgerSpan(ctx context.Context, op string) (context.Context, trace.Span) {
	return Tracer().Start(ctx, "ledger."+op,
		trace.WithAttributes(attribute.String("ledger.op", op)),
	)
}

// StartPolicySpan creates a child span for an access policy operation.
func StartPolicySpan(ctx context.Context, op string) (context.Context, trace.Span) {
	return Tracer().Start(ctx, "policy."+op,
		trace.WithAttributes(attribute.String("policy.op", op)),
	)
}

// SetAccountAttributes adds account-level attributes to the current span.
// Credential material is never attached, only identifiers.
func SetAccountAttributes(ctx context.Context, accountID, ownerUserID string, shared bool) {
	span := trace.SpanFromContext(ctx)
	span.SetAttributes(
		attribute.String("account.id", accountID),
		attribute.String("account.owner", ownerUserID),
		attribute.Bool("account.shared", shared),
	)
}

// SetConsumptionAttributes adds usage attributes to the current span.
func SetConsumptionAttributes(ctx context.Context, modelID string, credit float64, success bool) {
	span := trace.SpanFromContext(ctx)
	span.SetAttributes(
		attribute.String("consumption.model", modelID),
		attribute.Float64("consumption.credit", credit),
		attribute.Bool("consumption.success", success),
	)
}

// RecordError records an error on the current span.
func RecordError(ctx context.Context, err error) {
	if err != nil {
		trace.SpanFromContext(ctx).RecordError(err)
	}
}
