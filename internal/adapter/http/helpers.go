package http

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/Strob0t/VPNForge/internal/domain"
)

const maxRequestBodySize = 64 << 10

// ---------------------------------------------------------------------------
// Request helpers
// ---------------------------------------------------------------------------

// readJSON decodes a JSON request body with a size limit.
func readJSON[T any](w http.ResponseWriter, r *http.Request) (T, bool) {
	var v T
	r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodySize)
	if err := json.NewDecoder(r.Body).Decode(&v); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeError(w, http.StatusRequestEntityTooLarge, "request body too large")
		} else {
			writeError(w, http.StatusBadRequest, "invalid request body")
		}
		return v, false
	}
	return v, true
}

// tenantID parses the {id} URL parameter, writing a 400 when it is not a
// positive integer.
func tenantID(w http.ResponseWriter, r *http.Request) (int64, bool) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil || id <= 0 {
		writeError(w, http.StatusBadRequest, "invalid tenant id")
		return 0, false
	}
	return id, true
}

// ---------------------------------------------------------------------------
// Response helpers
// ---------------------------------------------------------------------------

type errorResponse struct {
	Error string `json:"error"`
}

// provisioningErrorResponse carries the failed step, captured container
// output and rollback warnings of a failed tenant creation.
type provisioningErrorResponse struct {
	Error    string             `json:"error"`
	Step     string             `json:"step"`
	Logs     string             `json:"logs,omitempty"`
	Rollback domain.Diagnostics `json:"rollback_warnings,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		slog.Error("failed to write JSON response", "error", err)
	}
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, errorResponse{Error: message})
}

// writeDomainError maps domain errors to HTTP status codes.
func writeDomainError(w http.ResponseWriter, err error) {
	var pe *domain.ProvisioningError
	if errors.As(err, &pe) {
		writeJSON(w, http.StatusBadGateway, provisioningErrorResponse{
			Error:    pe.Error(),
			Step:     pe.Step,
			Logs:     pe.Logs,
			Rollback: pe.Rollback,
		})
		return
	}

	switch {
	case errors.Is(err, domain.ErrNotFound):
		writeError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, domain.ErrValidation):
		writeError(w, http.StatusBadRequest, strings.TrimPrefix(err.Error(), domain.ErrValidation.Error()+": "))
	case errors.Is(err, domain.ErrResourceConflict), errors.Is(err, domain.ErrConflict),
		errors.Is(err, domain.ErrContainerNotConfigured):
		writeError(w, http.StatusConflict, err.Error())
	case errors.Is(err, domain.ErrResourceExhausted):
		writeError(w, http.StatusInsufficientStorage, err.Error())
	case errors.Is(err, domain.ErrExportFailed):
		writeError(w, http.StatusUnprocessableEntity, err.Error())
	case errors.Is(err, domain.ErrCircuitOpen):
		w.Header().Set("Retry-After", "30")
		writeError(w, http.StatusServiceUnavailable, err.Error())
	case errors.Is(err, domain.ErrInfrastructure):
		if domain.IsRetryable(err) {
			writeError(w, http.StatusServiceUnavailable, err.Error())
			return
		}
		slog.Error("container engine error", "error", err)
		writeError(w, http.StatusBadGateway, err.Error())
	default:
		writeInternalError(w, err)
	}
}

// writeInternalError logs the actual error server-side and returns a generic message to the client.
func writeInternalError(w http.ResponseWriter, err error) {
	slog.Error("request failed", "error", err)
	writeError(w, http.StatusInternalServerError, "internal server error")
}

// warningsResponse is returned by operations whose best-effort steps failed.
type warningsResponse struct {
	Warnings domain.Diagnostics `json:"warnings"`
}

// writeWarnings writes 204 when diag is empty and 200 with the warnings otherwise.
func writeWarnings(w http.ResponseWriter, diag domain.Diagnostics) {
	if diag.Empty() {
		w.WriteHeader(http.StatusNoContent)
		return
	}
	writeJSON(w, http.StatusOK, warningsResponse{Warnings: diag})
}
