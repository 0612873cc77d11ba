package otel

import (
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/metric"
)

const meterName = "vpnforge"

// Metrics holds all VPNForge metric instruments.
type Metrics struct {
	TenantsCreated       metric.Int64Counter
	ProvisioningFailures metric.Int64Counter
	ProvisionDuration    metric.Float64Histogram
	Reconciliations      metric.Int64Counter
	ReconcileFailures    metric.Int64Counter
	ReconcileDuration    metric.Float64Histogram
	Warnings             metric.Int64Counter
}

// NewMetrics creates all metric instruments.
func NewMetrics() (*Metrics, error) {
	meter := otel.Meter(meterName)
	m := &Metrics{}
	var err error

	m.TenantsCreated, err = meter.Int64Counter("vpnforge.tenants.created",
		metric.WithDescription("Number of tenants provisioned"))
	if err != nil {
		return nil, err
	}

	m.ProvisioningFailures, err = meter.Int64Counter("vpnforge.tenants.provisioning_failed",
		metric.WithDescription("Number of tenant creations that failed and were rolled back"))
	if err != nil {
		return nil, err
	}

	m.ProvisionDuration, err = meter.Float64Histogram("vpnforge.tenants.provision_duration_seconds",
		metric.WithDescription("Tenant provisioning duration in seconds"))
	if err != nil {
		return nil, err
	}

	m.Reconciliations, err = meter.Int64Counter("vpnforge.sessions.reconciliations",
		metric.WithDescription("Number of completed session reconciliations"))
	if err != nil {
		return nil, err
	}

	m.ReconcileFailures, err = meter.Int64Counter("vpnforge.sessions.reconcile_failed",
		metric.WithDescription("Number of failed session reconciliations"))
	if err != nil {
		return nil, err
	}

	m.ReconcileDuration, err = meter.Float64Histogram("vpnforge.sessions.reconcile_duration_seconds",
		metric.WithDescription("Session reconciliation duration in seconds"))
	if err != nil {
		return nil, err
	}

	m.Warnings, err = meter.Int64Counter("vpnforge.warnings",
		metric.WithDescription("Non-fatal failures from best-effort steps"))
	if err != nil {
		return nil, err
	}

	return m, nil
}
