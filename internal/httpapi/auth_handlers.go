package httpapi

import (
	"crypto/subtle"
	"errors"
	"net/http"
	"strings"
	"time"

	"idgate.org/internal/audit"
	"idgate.org/internal/identity"
	"idgate.org/internal/mfa"
	"idgate.org/internal/obs"
	"idgate.org/internal/rbac"
)

type loginRequest struct {
	Provider   string         `json:"provider"`
	Attributes map[string]any `json:"attributes"`
}

type mfaVerifyRequest struct {
	Email string `json:"email"`
	Code  string `json:"code"`
}

type tokenResponse struct {
	Token     string    `json:"token"`
	ExpiresAt time.Time `json:"expires_at"`
}

// handleLogin consumes a provider assertion, resolves it to an account and
// either issues a token or asks for the second factor. The assertion is
// trusted as-is: only the OAuth callback service may call this route, proven
// by the shared login secret when one is configured.
func (a *API) handleLogin(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, r, http.MethodPost)
		return
	}
	if a.opts.LoginSecret != "" {
		given := r.Header.Get("X-Login-Secret")
		if subtle.ConstantTimeCompare([]byte(given), []byte(a.opts.LoginSecret)) != 1 {
			writeError(w, r, http.StatusUnauthorized, "login secret required")
			return
		}
	}
	var req loginRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}

	assertion, err := identity.Normalize(req.Provider, req.Attributes)
	if err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}

	acc, err := a.resolver.Resolve(r.Context(), assertion)
	if err != nil {
		if errors.Is(err, rbac.ErrInvalidInput) {
			writeError(w, r, http.StatusBadRequest, err.Error())
			return
		}
		writeError(w, r, http.StatusInternalServerError, "login failed")
		return
	}

	if acc.MFAEnabled {
		_ = audit.LogEvent(r.Context(), "auth.login.mfa_challenge", map[string]any{
			"email":    acc.Email,
			"provider": acc.Provider,
		})
		writeJSON(w, http.StatusOK, map[string]any{
			"mfa_required": true,
			"email":        acc.Email,
		})
		return
	}

	tok, exp, err := a.tokens.Issue(acc.Email)
	if err != nil {
		writeError(w, r, http.StatusInternalServerError, "login failed")
		return
	}
	_ = audit.LogEvent(r.Context(), "auth.login", map[string]any{
		"email":    acc.Email,
		"provider": acc.Provider,
	})
	writeJSON(w, http.StatusOK, tokenResponse{Token: tok, ExpiresAt: exp})
}

// handleLoginMFAVerify is the second login step for clusters with MFA on.
func (a *API) handleLoginMFAVerify(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, r, http.MethodPost)
		return
	}
	var req mfaVerifyRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	req.Email = strings.TrimSpace(strings.ToLower(req.Email))
	req.Code = strings.TrimSpace(req.Code)
	if req.Email == "" || req.Code == "" {
		writeError(w, r, http.StatusBadRequest, "email and code are required")
		return
	}

	tok, exp, err := a.mfa.Verify(r.Context(), req.Email, req.Code)
	if err != nil {
		obs.CountMFAEvent("login_verify_failed")
		handleMFAError(w, r, err)
		return
	}
	obs.CountMFAEvent("login_verify")
	_ = audit.LogEvent(r.Context(), "auth.login.mfa", map[string]any{
		"email": req.Email,
	})
	writeJSON(w, http.StatusOK, tokenResponse{Token: tok, ExpiresAt: exp})
}

func handleMFAError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, mfa.ErrInvalidCode):
		writeError(w, r, http.StatusUnauthorized, "invalid code")
	case errors.Is(err, mfa.ErrNotConfigured):
		writeError(w, r, http.StatusNotFound, "mfa not configured")
	case errors.Is(err, rbac.ErrNotFound):
		writeError(w, r, http.StatusNotFound, "user not found")
	default:
		writeError(w, r, http.StatusInternalServerError, "mfa operation failed")
	}
}
