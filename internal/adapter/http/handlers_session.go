package http

import "net/http"

// RefreshSessions handles POST /api/v1/tenants/{id}/sessions/refresh. It
// reconciles synchronously and returns the new snapshot summary.
func (h *Handlers) RefreshSessions(w http.ResponseWriter, r *http.Request) {
	id, ok := tenantID(w, r)
	if !ok {
		return
	}
	res, err := h.Sessions.Reconcile(r.Context(), id)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}
