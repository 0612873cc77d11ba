package otel

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const tracerName = "vpnforge"

// StartTenantSpan starts a span for a tenant lifecycle operation.
func StartTenantSpan(ctx context.Context, op string, tenantID int64) (context.Context, trace.Span) {
	return otel.Tracer(tracerName).Start(ctx, "tenant."+op,
		trace.WithAttributes(attribute.Int64("tenant.id", tenantID)),
	)
}

// StartCertificateSpan starts a span for a certificate operation.
func StartCertificateSpan(ctx context.Context, op string, tenantID int64, username string) (context.Context, trace.Span) {
	return otel.Tracer(tracerName).Start(ctx, "certificate."+op,
		trace.WithAttributes(
			attribute.Int64("tenant.id", tenantID),
			attribute.String("user.name", username),
		),
	)
}

// StartReconcileSpan starts a span for one tenant's session reconciliation.
func StartReconcileSpan(ctx context.Context, tenantID int64) (context.Context, trace.Span) {
	return otel.Tracer(tracerName).Start(ctx, "sessions.reconcile",
		trace.WithAttributes(attribute.Int64("tenant.id", tenantID)),
	)
}

// EndSpan records err on span, if any, and ends it.
func EndSpan(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	span.End()
}
