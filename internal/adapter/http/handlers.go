package http

import (
	"context"
	"net/http"
	"time"

	"github.com/Strob0t/VPNForge/internal/domain"
	"github.com/Strob0t/VPNForge/internal/domain/event"
	"github.com/Strob0t/VPNForge/internal/domain/session"
	"github.com/Strob0t/VPNForge/internal/domain/tenant"
	"github.com/Strob0t/VPNForge/internal/domain/user"
	"github.com/Strob0t/VPNForge/internal/service"
)

// TenantAPI is the tenant lifecycle surface used by the handlers.
type TenantAPI interface {
	Create(ctx context.Context, req tenant.CreateRequest) (*tenant.Tenant, error)
	Get(ctx context.Context, id int64) (*tenant.Tenant, error)
	List(ctx context.Context) ([]tenant.Tenant, error)
	Pause(ctx context.Context, id int64) (*tenant.Tenant, error)
	Resume(ctx context.Context, id int64) (*tenant.Tenant, error)
	Delete(ctx context.Context, id int64) (domain.Diagnostics, error)
	ToggleNat(ctx context.Context, id int64, enabled bool) (*tenant.Tenant, domain.Diagnostics, error)
	AddSubnet(ctx context.Context, id int64, cidr string) (bool, error)
	RemoveSubnet(ctx context.Context, id int64, cidr string) (domain.Diagnostics, error)
	ListSubnets(ctx context.Context, id int64) ([]tenant.Network, error)
}

// CertificateAPI is the client certificate surface used by the handlers.
type CertificateAPI interface {
	Issue(ctx context.Context, tenantID int64, req *user.IssueRequest) (*user.User, error)
	Revoke(ctx context.Context, tenantID int64, username string) (*user.User, error)
	Export(ctx context.Context, tenantID int64, username string) (string, error)
	ListUsers(ctx context.Context, tenantID int64) ([]user.User, error)
	SetUserEmail(ctx context.Context, tenantID int64, username, email string) (*user.User, error)
}

// SessionAPI is the session snapshot surface used by the handlers.
type SessionAPI interface {
	ListSessions(ctx context.Context, tenantID int64) ([]session.Session, error)
	Reconcile(ctx context.Context, tenantID int64) (*service.ReconcileResult, error)
}

// EventAPI lists tenant history.
type EventAPI interface {
	List(ctx context.Context, tenantID int64, limit int) ([]event.TenantEvent, error)
}

// Pinger checks a backing dependency for /health.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Handlers holds the HTTP handler dependencies.
type Handlers struct {
	Tenants      TenantAPI
	Certificates CertificateAPI
	Sessions     SessionAPI
	Events       EventAPI
	DB           Pinger       // optional
	Metrics      http.Handler // optional, served on /metrics
	WS           http.HandlerFunc
}

// Health reports liveness and, when a database is configured, its reachability.
func (h *Handlers) Health(w http.ResponseWriter, r *http.Request) {
	if h.DB != nil {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()
		if err := h.DB.Ping(ctx); err != nil {
			writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "degraded", "database": err.Error()})
			return
		}
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}
