package identity

import (
	"context"
	"errors"
	"fmt"

	"idgate.org/internal/rbac"
)

// Resolver turns provider assertions into persistent accounts. Accounts that
// share an email address form one logical cluster: a new account joining an
// existing cluster inherits the cluster's MFA state and role set, so the
// person behind the email keeps one security posture across providers.
type Resolver struct {
	store rbac.Store
}

// NewResolver creates a resolver over the given store.
func NewResolver(store rbac.Store) *Resolver {
	return &Resolver{store: store}
}

// Resolve returns the account for the assertion, creating it on first login.
//
// Creation rules:
//   - joining an existing email cluster copies MFA state and roles from the
//     cluster's first member;
//   - a fresh cluster gets the USER role;
//   - the very first account in the system gets exactly the ADMIN role.
func (r *Resolver) Resolve(ctx context.Context, a Assertion) (*rbac.Account, error) {
	if a.Provider == "" || a.Subject == "" || a.Email == "" {
		return nil, fmt.Errorf("%w: incomplete assertion", rbac.ErrInvalidInput)
	}

	acc, err := r.store.FindAccountByProviderSubject(ctx, a.Provider, a.Subject)
	if err == nil {
		return acc, nil
	}
	if !errors.Is(err, rbac.ErrNotFound) {
		return nil, fmt.Errorf("identity: lookup account: %w", err)
	}

	cluster, err := r.store.ListAccountsByEmail(ctx, a.Email)
	if err != nil {
		return nil, fmt.Errorf("identity: list cluster: %w", err)
	}

	acc = &rbac.Account{
		Email:           a.Email,
		Name:            a.Name,
		Provider:        a.Provider,
		ProviderSubject: a.Subject,
	}

	var roleIDs []string
	if len(cluster) > 0 {
		first := cluster[0]
		acc.MFAEnabled = first.MFAEnabled
		acc.UsingMFA = first.UsingMFA
		acc.MFASecret = first.MFASecret
		roles, err := r.store.RolesForAccount(ctx, first.ID)
		if err != nil {
			return nil, fmt.Errorf("identity: cluster roles: %w", err)
		}
		for _, role := range roles {
			roleIDs = append(roleIDs, role.ID)
		}
	}
	if len(roleIDs) == 0 {
		user, err := r.store.FindRoleByName(ctx, rbac.RoleUser)
		if err != nil {
			return nil, fmt.Errorf("identity: default role missing: %w", err)
		}
		roleIDs = []string{user.ID}
	}

	if err := r.store.CreateAccount(ctx, acc); err != nil {
		if errors.Is(err, rbac.ErrConflict) {
			// concurrent first login for the same subject
			return r.store.FindAccountByProviderSubject(ctx, a.Provider, a.Subject)
		}
		return nil, fmt.Errorf("identity: create account: %w", err)
	}

	total, err := r.store.CountAccounts(ctx)
	if err != nil {
		return nil, fmt.Errorf("identity: count accounts: %w", err)
	}
	if total == 1 {
		admin, err := r.store.FindRoleByName(ctx, rbac.RoleAdmin)
		if err != nil {
			return nil, fmt.Errorf("identity: admin role missing: %w", err)
		}
		roleIDs = []string{admin.ID}
	}

	if err := r.store.ReplaceAccountRoles(ctx, acc.ID, roleIDs); err != nil {
		return nil, fmt.Errorf("identity: assign roles: %w", err)
	}
	return acc, nil
}
