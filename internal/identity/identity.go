// Package identity normalizes OAuth provider assertions and resolves them
// into accounts, clustering every account that shares an email address.
package identity

import (
	"fmt"
	"strconv"
	"strings"

	"idgate.org/internal/rbac"
)

// Provider names accepted by Normalize. Unknown providers fall through to
// the generic claim mapping.
const (
	ProviderGitHub   = "github"
	ProviderGoogle   = "google"
	ProviderFacebook = "facebook"
)

// Assertion is a provider-verified identity claim, already normalized:
// Subject is the provider's stable user id, Email is non-empty (synthetic
// when the provider withheld it).
type Assertion struct {
	Provider string `json:"provider"`
	Subject  string `json:"subject"`
	Email    string `json:"email"`
	Name     string `json:"name"`
}

// Normalize maps a raw provider attribute set into an Assertion. Providers
// that hide the email address get a synthetic one derived from their stable
// identifier, so the cluster key is always present.
func Normalize(provider string, attrs map[string]any) (Assertion, error) {
	provider = strings.ToLower(strings.TrimSpace(provider))
	if provider == "" {
		return Assertion{}, fmt.Errorf("%w: provider is required", rbac.ErrInvalidInput)
	}

	a := Assertion{
		Provider: provider,
		Subject:  stringAttr(attrs, "sub", "id"),
		Email:    stringAttr(attrs, "email"),
		Name:     stringAttr(attrs, "name"),
	}

	switch provider {
	case ProviderGitHub:
		login := stringAttr(attrs, "login")
		if a.Name == "" {
			a.Name = login
		}
		if a.Email == "" && login != "" {
			a.Email = login + "@github.com"
		}
	case ProviderFacebook:
		if a.Email == "" && a.Subject != "" {
			a.Email = a.Subject + "@facebook.com"
		}
	}
	if a.Email == "" && a.Subject != "" {
		a.Email = a.Subject + "@oauth.com"
	}

	a.Email = strings.ToLower(strings.TrimSpace(a.Email))
	a.Subject = strings.TrimSpace(a.Subject)
	a.Name = strings.TrimSpace(a.Name)

	if a.Subject == "" {
		return Assertion{}, fmt.Errorf("%w: assertion has no subject", rbac.ErrInvalidInput)
	}
	if a.Email == "" {
		return Assertion{}, fmt.Errorf("%w: assertion has no email", rbac.ErrInvalidInput)
	}
	return a, nil
}

func stringAttr(attrs map[string]any, keys ...string) string {
	for _, key := range keys {
		switch v := attrs[key].(type) {
		case string:
			if v != "" {
				return v
			}
		case float64:
			// providers that send numeric ids
			return strconv.FormatFloat(v, 'f', -1, 64)
		case int64:
			return strconv.FormatInt(v, 10)
		}
	}
	return ""
}
