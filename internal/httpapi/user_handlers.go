package httpapi

import (
	"net/http"

	"idgate.org/internal/identity"
)

// handleProfile returns every account in the caller's cluster with roles.
func (a *API) handleProfile(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w, r, http.MethodGet)
		return
	}
	email, ok := identity.EmailFromContext(r.Context())
	if !ok {
		writeError(w, r, http.StatusUnauthorized, "authentication required")
		return
	}
	details, err := a.rbac.ClusterDetails(r.Context(), email)
	if err != nil {
		handleRBACError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"email":    email,
		"accounts": details,
	})
}

// handleDashboard sits behind the permission gate for the dashboard resource.
func (a *API) handleDashboard(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w, r, http.MethodGet)
		return
	}
	email, _ := identity.EmailFromContext(r.Context())
	writeJSON(w, http.StatusOK, map[string]any{
		"dashboard": "ok",
		"email":     email,
	})
}
