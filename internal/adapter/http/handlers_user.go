package http

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/Strob0t/VPNForge/internal/domain/user"
)

// profileContentType is the media type of an inline client profile.
const profileContentType = "application/x-openvpn-profile"

// IssueUser handles POST /api/v1/tenants/{id}/users.
func (h *Handlers) IssueUser(w http.ResponseWriter, r *http.Request) {
	id, ok := tenantID(w, r)
	if !ok {
		return
	}
	req, ok := readJSON[user.IssueRequest](w, r)
	if !ok {
		return
	}
	u, err := h.Certificates.Issue(r.Context(), id, &req)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, u)
}

// RevokeUser handles POST /api/v1/tenants/{id}/users/{username}/revoke.
func (h *Handlers) RevokeUser(w http.ResponseWriter, r *http.Request) {
	id, ok := tenantID(w, r)
	if !ok {
		return
	}
	u, err := h.Certificates.Revoke(r.Context(), id, chi.URLParam(r, "username"))
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, u)
}

type emailRequest struct {
	Email string `json:"email"`
}

// SetUserEmail handles PUT /api/v1/tenants/{id}/users/{username}/email.
// An empty email clears it.
func (h *Handlers) SetUserEmail(w http.ResponseWriter, r *http.Request) {
	id, ok := tenantID(w, r)
	if !ok {
		return
	}
	req, ok := readJSON[emailRequest](w, r)
	if !ok {
		return
	}
	u, err := h.Certificates.SetUserEmail(r.Context(), id, chi.URLParam(r, "username"), req.Email)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, u)
}

// ExportProfile handles GET /api/v1/tenants/{id}/users/{username}/profile.
func (h *Handlers) ExportProfile(w http.ResponseWriter, r *http.Request) {
	id, ok := tenantID(w, r)
	if !ok {
		return
	}
	username := chi.URLParam(r, "username")
	if err := user.ValidateUsername(username); err != nil {
		writeDomainError(w, err)
		return
	}
	profile, err := h.Certificates.Export(r.Context(), id, username)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	w.Header().Set("Content-Type", profileContentType)
	w.Header().Set("Content-Disposition", `attachment; filename="`+username+`.ovpn"`)
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte(profile))
}
