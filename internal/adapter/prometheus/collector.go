// Package prometheus exposes VPNForge gauges for Prometheus scraping.
package prometheus

import (
	"net/http"
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Collector owns a private registry with the per-tenant session gauges and
// the Go runtime collectors.
type Collector struct {
	reg            *prometheus.Registry
	activeSessions *prometheus.GaugeVec
	lastReconcile  *prometheus.GaugeVec
}

// New creates a Collector with all gauges registered.
func New() *Collector {
	c := &Collector{
		reg: prometheus.NewRegistry(),
		activeSessions: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "vpnforge_active_sessions",
				Help: "Connected VPN clients per tenant as of the last reconciliation",
			},
			[]string{"tenant_id"},
		),
		lastReconcile: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "vpnforge_last_reconcile_timestamp_seconds",
				Help: "Unix time of the last successful reconciliation per tenant",
			},
			[]string{"tenant_id"},
		),
	}
	c.reg.MustRegister(
		c.activeSessions,
		c.lastReconcile,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return c
}

// ObserveSessions records the session count of a completed reconciliation.
func (c *Collector) ObserveSessions(tenantID int64, active int) {
	id := strconv.FormatInt(tenantID, 10)
	c.activeSessions.WithLabelValues(id).Set(float64(active))
	c.lastReconcile.WithLabelValues(id).SetToCurrentTime()
}

// ForgetTenant drops the series of a deleted tenant.
func (c *Collector) ForgetTenant(tenantID int64) {
	id := strconv.FormatInt(tenantID, 10)
	c.activeSessions.DeleteLabelValues(id)
	c.lastReconcile.DeleteLabelValues(id)
}

// Handler serves the registry in the Prometheus exposition format.
func (c *Collector) Handler() http.Handler {
	return promhttp.HandlerFor(c.reg, promhttp.HandlerOpts{})
}
