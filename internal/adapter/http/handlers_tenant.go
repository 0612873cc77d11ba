package http

import (
	"net/http"
	"strconv"

	"github.com/Strob0t/VPNForge/internal/domain"
	"github.com/Strob0t/VPNForge/internal/domain/tenant"
)

const (
	defaultEventLimit = 50
	maxEventLimit     = 500
)

// ListTenants handles GET /api/v1/tenants.
func (h *Handlers) ListTenants(w http.ResponseWriter, r *http.Request) {
	items, err := h.Tenants.List(r.Context())
	if err != nil {
		writeDomainError(w, err)
		return
	}
	if items == nil {
		items = []tenant.Tenant{}
	}
	writeJSON(w, http.StatusOK, items)
}

// CreateTenant handles POST /api/v1/tenants. The call blocks until the
// server container is running or provisioning has been rolled back.
func (h *Handlers) CreateTenant(w http.ResponseWriter, r *http.Request) {
	req, ok := readJSON[tenant.CreateRequest](w, r)
	if !ok {
		return
	}
	t, err := h.Tenants.Create(r.Context(), req)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	w.Header().Set("Location", "/api/v1/tenants/"+strconv.FormatInt(t.ID, 10))
	writeJSON(w, http.StatusCreated, t)
}

// DeleteTenant handles DELETE /api/v1/tenants/{id}.
func (h *Handlers) DeleteTenant(w http.ResponseWriter, r *http.Request) {
	id, ok := tenantID(w, r)
	if !ok {
		return
	}
	diag, err := h.Tenants.Delete(r.Context(), id)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeWarnings(w, diag)
}

type natRequest struct {
	Enabled *bool `json:"enabled"`
}

type natResponse struct {
	*tenant.Tenant
	Warnings domain.Diagnostics `json:"warnings,omitempty"`
}

// SetNAT handles PUT /api/v1/tenants/{id}/nat.
func (h *Handlers) SetNAT(w http.ResponseWriter, r *http.Request) {
	id, ok := tenantID(w, r)
	if !ok {
		return
	}
	req, ok := readJSON[natRequest](w, r)
	if !ok {
		return
	}
	if req.Enabled == nil {
		writeError(w, http.StatusBadRequest, "enabled is required")
		return
	}
	t, diag, err := h.Tenants.ToggleNat(r.Context(), id, *req.Enabled)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, natResponse{Tenant: t, Warnings: diag})
}

type subnetRequest struct {
	CIDR string `json:"cidr"`
}

type subnetResponse struct {
	CIDR    string `json:"cidr"`
	Created bool   `json:"created"`
}

// AddNetwork handles POST /api/v1/tenants/{id}/networks. Adding a subnet the
// tenant already routes returns 200 instead of 201.
func (h *Handlers) AddNetwork(w http.ResponseWriter, r *http.Request) {
	id, ok := tenantID(w, r)
	if !ok {
		return
	}
	req, ok := readJSON[subnetRequest](w, r)
	if !ok {
		return
	}
	if req.CIDR == "" {
		writeError(w, http.StatusBadRequest, "cidr is required")
		return
	}
	created, err := h.Tenants.AddSubnet(r.Context(), id, req.CIDR)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	status := http.StatusOK
	if created {
		status = http.StatusCreated
	}
	writeJSON(w, status, subnetResponse{CIDR: req.CIDR, Created: created})
}

// RemoveNetwork handles DELETE /api/v1/tenants/{id}/networks?cidr=.
func (h *Handlers) RemoveNetwork(w http.ResponseWriter, r *http.Request) {
	id, ok := tenantID(w, r)
	if !ok {
		return
	}
	cidr := r.URL.Query().Get("cidr")
	if cidr == "" {
		writeError(w, http.StatusBadRequest, "cidr query parameter is required")
		return
	}
	diag, err := h.Tenants.RemoveSubnet(r.Context(), id, cidr)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeWarnings(w, diag)
}

// ListEvents handles GET /api/v1/tenants/{id}/events?limit=.
func (h *Handlers) ListEvents(w http.ResponseWriter, r *http.Request) {
	id, ok := tenantID(w, r)
	if !ok {
		return
	}
	limit := defaultEventLimit
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 {
			writeError(w, http.StatusBadRequest, "limit must be a positive integer")
			return
		}
		limit = min(n, maxEventLimit)
	}
	evs, err := h.Events.List(r.Context(), id, limit)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	if evs == nil {
		writeJSON(w, http.StatusOK, []any{})
		return
	}
	writeJSON(w, http.StatusOK, evs)
}
