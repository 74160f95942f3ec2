package httpapi

import (
	"net/http"

	"idgate.org/internal/identity"
	"idgate.org/internal/obs"
	"idgate.org/internal/rbac"
)

// guard enforces the permission check for a registered resource path.
// Admins bypass the check; resource paths nobody registered are open.
func (a *API) guard(resourcePath string, op rbac.Operation, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		email, ok := identity.EmailFromContext(r.Context())
		if !ok {
			obs.CountAuthDecision("unauthenticated")
			writeError(w, r, http.StatusUnauthorized, "authentication required")
			return
		}

		admin, err := a.rbac.IsAdmin(r.Context(), email)
		if err != nil {
			writeError(w, r, http.StatusInternalServerError, "authorization failed")
			return
		}
		if admin {
			obs.CountAuthDecision("admin")
			next.ServeHTTP(w, r)
			return
		}

		allowed, err := a.rbac.HasPermission(r.Context(), email, resourcePath, op)
		if err != nil {
			writeError(w, r, http.StatusInternalServerError, "authorization failed")
			return
		}
		if !allowed {
			obs.CountAuthDecision("deny")
			writeError(w, r, http.StatusForbidden, "permission denied")
			return
		}
		obs.CountAuthDecision("allow")
		next.ServeHTTP(w, r)
	})
}

// adminOnly restricts a route to accounts holding the ADMIN role.
func (a *API) adminOnly(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		email, ok := identity.EmailFromContext(r.Context())
		if !ok {
			obs.CountAuthDecision("unauthenticated")
			writeError(w, r, http.StatusUnauthorized, "authentication required")
			return
		}
		admin, err := a.rbac.IsAdmin(r.Context(), email)
		if err != nil {
			writeError(w, r, http.StatusInternalServerError, "authorization failed")
			return
		}
		if !admin {
			obs.CountAuthDecision("deny")
			writeError(w, r, http.StatusForbidden, "admin role required")
			return
		}
		obs.CountAuthDecision("admin")
		next.ServeHTTP(w, r)
	})
}
