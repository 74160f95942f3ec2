package httpapi

import (
	"net/http"

	"idgate.org/internal/audit"
)

func (a *API) handleAccounts(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w, r, http.MethodGet)
		return
	}
	details, err := a.rbac.ListAccountDetails(r.Context())
	if err != nil {
		handleRBACError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"accounts": details})
}

// handleAccountResource covers /v1/admin/accounts/{id} and
// /v1/admin/accounts/{id}/roles/{roleID}.
func (a *API) handleAccountResource(w http.ResponseWriter, r *http.Request) {
	parts := splitPath(r.URL.Path, "/v1/admin/accounts/")
	switch {
	case len(parts) == 1:
		if r.Method != http.MethodGet {
			methodNotAllowed(w, r, http.MethodGet)
			return
		}
		detail, err := a.rbac.GetAccountDetail(r.Context(), parts[0])
		if err != nil {
			handleRBACError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, detail)
	case len(parts) == 3 && parts[1] == "roles":
		a.handleAccountRoleLink(w, r, parts[0], parts[2])
	default:
		writeError(w, r, http.StatusNotFound, "resource not found")
	}
}

func (a *API) handleAccountRoleLink(w http.ResponseWriter, r *http.Request, accountID, roleID string) {
	switch r.Method {
	case http.MethodPut:
		if err := a.rbac.AssignRoleToAccount(r.Context(), accountID, roleID); err != nil {
			handleRBACError(w, r, err)
			return
		}
		_ = audit.LogEvent(r.Context(), "rbac.account.role.assign", map[string]any{
			"account_id": accountID,
			"role_id":    roleID,
		})
		w.WriteHeader(http.StatusNoContent)
	case http.MethodDelete:
		if err := a.rbac.RemoveRoleFromAccount(r.Context(), accountID, roleID); err != nil {
			handleRBACError(w, r, err)
			return
		}
		_ = audit.LogEvent(r.Context(), "rbac.account.role.remove", map[string]any{
			"account_id": accountID,
			"role_id":    roleID,
		})
		w.WriteHeader(http.StatusNoContent)
	default:
		methodNotAllowed(w, r, http.MethodPut, http.MethodDelete)
	}
}

func (a *API) handleStats(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w, r, http.MethodGet)
		return
	}
	stats, err := a.rbac.GetStats(r.Context())
	if err != nil {
		handleRBACError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, stats)
}
