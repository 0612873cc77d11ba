package http

import (
	"context"
	"net/http"
)

// handleListByTenant creates a handler that lists resources of the tenant
// named by the {id} URL parameter.
func handleListByTenant[T any](listFn func(ctx context.Context, tenantID int64) ([]T, error)) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, ok := tenantID(w, r)
		if !ok {
			return
		}
		items, err := listFn(r.Context(), id)
		if err != nil {
			writeDomainError(w, err)
			return
		}
		if items == nil {
			items = []T{}
		}
		writeJSON(w, http.StatusOK, items)
	}
}

// handleTenantAction creates a handler that runs a state transition on the
// tenant named by {id} and returns the updated tenant.
func handleTenantAction[T any](actionFn func(ctx context.Context, tenantID int64) (*T, error)) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, ok := tenantID(w, r)
		if !ok {
			return
		}
		res, err := actionFn(r.Context(), id)
		if err != nil {
			writeDomainError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, res)
	}
}
