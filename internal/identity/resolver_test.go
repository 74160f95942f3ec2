package identity_test

import (
	"context"
	"testing"

	"idgate.org/internal/identity"
	"idgate.org/internal/rbac"
	"idgate.org/internal/store/memory"
)

func newTestResolver(t *testing.T) (*identity.Resolver, rbac.Store) {
	t.Helper()
	store := memory.New()
	svc, err := rbac.NewService(store)
	if err != nil {
		t.Fatalf("NewService: %v", err)
	}
	if err := svc.EnsureDefaultRoles(context.Background()); err != nil {
		t.Fatalf("EnsureDefaultRoles: %v", err)
	}
	return identity.NewResolver(store), store
}

func roleNames(t *testing.T, store rbac.Store, accountID string) []string {
	t.Helper()
	roles, err := store.RolesForAccount(context.Background(), accountID)
	if err != nil {
		t.Fatalf("RolesForAccount: %v", err)
	}
	names := make([]string, 0, len(roles))
	for _, r := range roles {
		names = append(names, r.Name)
	}
	return names
}

func TestNormalizeProviderFallbacks(t *testing.T) {
	cases := []struct {
		name     string
		provider string
		attrs    map[string]any
		email    string
	}{
		{
			name:     "github without public email",
			provider: "github",
			attrs:    map[string]any{"id": "77", "login": "octo"},
			email:    "octo@github.com",
		},
		{
			name:     "facebook hides email",
			provider: "facebook",
			attrs:    map[string]any{"id": "12345"},
			email:    "12345@facebook.com",
		},
		{
			name:     "google with email claim",
			provider: "google",
			attrs:    map[string]any{"sub": "g-9", "email": "Real@Example.com"},
			email:    "real@example.com",
		},
		{
			name:     "unknown provider falls back to subject",
			provider: "custom",
			attrs:    map[string]any{"sub": "abc"},
			email:    "abc@oauth.com",
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			a, err := identity.Normalize(tc.provider, tc.attrs)
			if err != nil {
				t.Fatalf("Normalize: %v", err)
			}
			if a.Email != tc.email {
				t.Fatalf("expected email %s, got %s", tc.email, a.Email)
			}
		})
	}
}

func TestNormalizeRejectsMissingSubject(t *testing.T) {
	if _, err := identity.Normalize("google", map[string]any{"email": "x@example.com"}); err == nil {
		t.Fatal("expected error for assertion without subject")
	}
}

func TestResolveFirstAccountBecomesAdmin(t *testing.T) {
	resolver, store := newTestResolver(t)
	ctx := context.Background()

	acc, err := resolver.Resolve(ctx, identity.Assertion{
		Provider: "google", Subject: "g-1", Email: "first@example.com",
	})
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	names := roleNames(t, store, acc.ID)
	if len(names) != 1 || names[0] != rbac.RoleAdmin {
		t.Fatalf("first account must hold exactly ADMIN, got %v", names)
	}
}

func TestResolveLaterAccountsGetUserRole(t *testing.T) {
	resolver, store := newTestResolver(t)
	ctx := context.Background()

	if _, err := resolver.Resolve(ctx, identity.Assertion{
		Provider: "google", Subject: "g-1", Email: "first@example.com",
	}); err != nil {
		t.Fatalf("Resolve first: %v", err)
	}
	second, err := resolver.Resolve(ctx, identity.Assertion{
		Provider: "google", Subject: "g-2", Email: "second@example.com",
	})
	if err != nil {
		t.Fatalf("Resolve second: %v", err)
	}
	names := roleNames(t, store, second.ID)
	if len(names) != 1 || names[0] != rbac.RoleUser {
		t.Fatalf("later accounts get USER, got %v", names)
	}
}

func TestResolveReturnsExistingAccount(t *testing.T) {
	resolver, _ := newTestResolver(t)
	ctx := context.Background()
	assertion := identity.Assertion{Provider: "github", Subject: "gh-1", Email: "repeat@example.com"}

	first, err := resolver.Resolve(ctx, assertion)
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	again, err := resolver.Resolve(ctx, assertion)
	if err != nil {
		t.Fatalf("Resolve again: %v", err)
	}
	if first.ID != again.ID {
		t.Fatalf("expected same account, got %s and %s", first.ID, again.ID)
	}
}

func TestResolveClusterInheritsMFAAndRoles(t *testing.T) {
	resolver, store := newTestResolver(t)
	ctx := context.Background()

	// occupy the first-account slot so inheritance is observable
	if _, err := resolver.Resolve(ctx, identity.Assertion{
		Provider: "google", Subject: "g-0", Email: "admin@example.com",
	}); err != nil {
		t.Fatalf("Resolve bootstrap: %v", err)
	}

	first, err := resolver.Resolve(ctx, identity.Assertion{
		Provider: "google", Subject: "g-5", Email: "eve@example.com",
	})
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}

	enabled, using, secret := true, true, "SECRET123"
	if _, err := store.UpdateClusterMFA(ctx, "eve@example.com", rbac.MFAUpdate{
		Enabled: &enabled, UsingMFA: &using, Secret: &secret,
	}); err != nil {
		t.Fatalf("UpdateClusterMFA: %v", err)
	}

	joined, err := resolver.Resolve(ctx, identity.Assertion{
		Provider: "github", Subject: "gh-5", Email: "eve@example.com",
	})
	if err != nil {
		t.Fatalf("Resolve joined: %v", err)
	}
	if !joined.MFAEnabled || !joined.UsingMFA || joined.MFASecret != "SECRET123" {
		t.Fatalf("joined account must inherit cluster MFA state: %+v", joined)
	}

	firstRoles := roleNames(t, store, first.ID)
	joinedRoles := roleNames(t, store, joined.ID)
	if len(firstRoles) != len(joinedRoles) || firstRoles[0] != joinedRoles[0] {
		t.Fatalf("joined account must inherit roles: %v vs %v", firstRoles, joinedRoles)
	}
}
