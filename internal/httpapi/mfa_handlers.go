package httpapi

import (
	"net/http"
	"strings"

	"idgate.org/internal/audit"
	"idgate.org/internal/identity"
	"idgate.org/internal/obs"
)

type mfaEnableRequest struct {
	Code string `json:"code"`
}

// handleMFASetup generates a fresh secret for the caller's cluster.
func (a *API) handleMFASetup(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, r, http.MethodPost)
		return
	}
	email, ok := identity.EmailFromContext(r.Context())
	if !ok {
		writeError(w, r, http.StatusUnauthorized, "authentication required")
		return
	}

	setup, err := a.mfa.BeginSetup(r.Context(), email)
	if err != nil {
		handleMFAError(w, r, err)
		return
	}
	obs.CountMFAEvent("setup")
	_ = audit.LogEvent(r.Context(), "mfa.setup", nil)
	writeJSON(w, http.StatusOK, setup)
}

// handleMFAEnable verifies the first code and turns MFA on cluster-wide.
func (a *API) handleMFAEnable(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, r, http.MethodPost)
		return
	}
	email, ok := identity.EmailFromContext(r.Context())
	if !ok {
		writeError(w, r, http.StatusUnauthorized, "authentication required")
		return
	}
	var req mfaEnableRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	req.Code = strings.TrimSpace(req.Code)
	if req.Code == "" {
		writeError(w, r, http.StatusBadRequest, "code is required")
		return
	}

	tok, exp, err := a.mfa.VerifyAndEnable(r.Context(), email, req.Code)
	if err != nil {
		obs.CountMFAEvent("enable_failed")
		handleMFAError(w, r, err)
		return
	}
	obs.CountMFAEvent("enable")
	_ = audit.LogEvent(r.Context(), "mfa.enable", nil)
	writeJSON(w, http.StatusOK, tokenResponse{Token: tok, ExpiresAt: exp})
}

// handleMFADisable turns MFA off for the whole cluster.
func (a *API) handleMFADisable(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, r, http.MethodPost)
		return
	}
	email, ok := identity.EmailFromContext(r.Context())
	if !ok {
		writeError(w, r, http.StatusUnauthorized, "authentication required")
		return
	}

	if err := a.mfa.Disable(r.Context(), email); err != nil {
		handleMFAError(w, r, err)
		return
	}
	obs.CountMFAEvent("disable")
	_ = audit.LogEvent(r.Context(), "mfa.disable", nil)
	w.WriteHeader(http.StatusNoContent)
}

// handleMFAStatus reports the cluster's MFA state.
func (a *API) handleMFAStatus(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w, r, http.MethodGet)
		return
	}
	email, ok := identity.EmailFromContext(r.Context())
	if !ok {
		writeError(w, r, http.StatusUnauthorized, "authentication required")
		return
	}

	status, err := a.mfa.GetStatus(r.Context(), email)
	if err != nil {
		handleMFAError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, status)
}
