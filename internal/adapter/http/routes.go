package http

import (
	"net/http"

	"github.com/go-chi/chi/v5"
)

// MountRoutes registers all API routes on the given chi router.
func MountRoutes(r chi.Router, h *Handlers) {
	r.Get("/health", h.Health)
	if h.Metrics != nil {
		r.Method(http.MethodGet, "/metrics", h.Metrics)
	}
	if h.WS != nil {
		r.Get("/ws", h.WS)
	}

	r.Route("/api/v1", func(r chi.Router) {
		r.Get("/", func(w http.ResponseWriter, _ *http.Request) {
			writeJSON(w, http.StatusOK, map[string]string{"service": "vpnforge", "api": "v1"})
		})

		// Tenants
		r.Get("/tenants", h.ListTenants)
		r.Post("/tenants", h.CreateTenant)
		r.Get("/tenants/{id}", handleTenantAction(h.Tenants.Get))
		r.Delete("/tenants/{id}", h.DeleteTenant)
		r.Post("/tenants/{id}/pause", handleTenantAction(h.Tenants.Pause))
		r.Post("/tenants/{id}/resume", handleTenantAction(h.Tenants.Resume))
		r.Put("/tenants/{id}/nat", h.SetNAT)
		r.Get("/tenants/{id}/events", h.ListEvents)

		// Additional routed subnets
		r.Get("/tenants/{id}/networks", handleListByTenant(h.Tenants.ListSubnets))
		r.Post("/tenants/{id}/networks", h.AddNetwork)
		r.Delete("/tenants/{id}/networks", h.RemoveNetwork)

		// Users and certificates
		r.Get("/tenants/{id}/users", handleListByTenant(h.Certificates.ListUsers))
		r.Post("/tenants/{id}/users", h.IssueUser)
		r.Post("/tenants/{id}/users/{username}/revoke", h.RevokeUser)
		r.Put("/tenants/{id}/users/{username}/email", h.SetUserEmail)
		r.Get("/tenants/{id}/users/{username}/profile", h.ExportProfile)

		// Sessions
		r.Get("/tenants/{id}/sessions", handleListByTenant(h.Sessions.ListSessions))
		r.Post("/tenants/{id}/sessions/refresh", h.RefreshSessions)
	})
}
