package rbac_test

import (
	"context"
	"errors"
	"testing"

	"idgate.org/internal/rbac"
	"idgate.org/internal/store/memory"
)

func newTestService(t *testing.T) (*rbac.Service, rbac.Store) {
	t.Helper()
	store := memory.New()
	svc, err := rbac.NewService(store)
	if err != nil {
		t.Fatalf("NewService: %v", err)
	}
	if err := svc.EnsureDefaultRoles(context.Background()); err != nil {
		t.Fatalf("EnsureDefaultRoles: %v", err)
	}
	return svc, store
}

func createAccount(t *testing.T, store rbac.Store, email, provider, subject string) *rbac.Account {
	t.Helper()
	acc := &rbac.Account{Email: email, Provider: provider, ProviderSubject: subject}
	if err := store.CreateAccount(context.Background(), acc); err != nil {
		t.Fatalf("CreateAccount: %v", err)
	}
	return acc
}

func TestEnsureDefaultRolesIdempotent(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	if err := svc.EnsureDefaultRoles(ctx); err != nil {
		t.Fatalf("second EnsureDefaultRoles: %v", err)
	}
	roles, err := svc.ListRoles(ctx)
	if err != nil {
		t.Fatalf("ListRoles: %v", err)
	}
	if len(roles) != 2 {
		t.Fatalf("expected 2 default roles, got %d", len(roles))
	}
}

func TestHasPermissionUnknownEmailDenied(t *testing.T) {
	svc, _ := newTestService(t)

	ok, err := svc.HasPermission(context.Background(), "nobody@example.com", "dashboard", rbac.OpRead)
	if err != nil {
		t.Fatalf("HasPermission: %v", err)
	}
	if ok {
		t.Fatal("expected deny for unknown email")
	}
}

func TestHasPermissionUnregisteredPathAllowed(t *testing.T) {
	svc, store := newTestService(t)
	createAccount(t, store, "alice@example.com", "google", "g-1")

	ok, err := svc.HasPermission(context.Background(), "alice@example.com", "no-such-path", rbac.OpRead)
	if err != nil {
		t.Fatalf("HasPermission: %v", err)
	}
	if !ok {
		t.Fatal("unregistered resource paths must stay open")
	}
}

func TestHasPermissionRegisteredPathGated(t *testing.T) {
	svc, store := newTestService(t)
	ctx := context.Background()
	acc := createAccount(t, store, "bob@example.com", "google", "g-2")

	res, err := svc.CreateResource(ctx, "Dashboard", "main dashboard", "dashboard")
	if err != nil {
		t.Fatalf("CreateResource: %v", err)
	}

	// registered path with no grants: deny
	ok, err := svc.HasPermission(ctx, "bob@example.com", "dashboard", rbac.OpRead)
	if err != nil {
		t.Fatalf("HasPermission: %v", err)
	}
	if ok {
		t.Fatal("expected deny before any grant")
	}

	perm, err := svc.CreatePermission(ctx, res.ID, rbac.OpRead)
	if err != nil {
		t.Fatalf("CreatePermission: %v", err)
	}
	role, err := svc.CreateRole(ctx, "VIEWER", "read-only")
	if err != nil {
		t.Fatalf("CreateRole: %v", err)
	}
	if err := svc.AssignPermissionToRole(ctx, role.ID, perm.ID); err != nil {
		t.Fatalf("AssignPermissionToRole: %v", err)
	}
	if err := svc.AssignRoleToAccount(ctx, acc.ID, role.ID); err != nil {
		t.Fatalf("AssignRoleToAccount: %v", err)
	}

	ok, err = svc.HasPermission(ctx, "bob@example.com", "dashboard", rbac.OpRead)
	if err != nil {
		t.Fatalf("HasPermission: %v", err)
	}
	if !ok {
		t.Fatal("expected allow after role grant")
	}

	// different operation on the same resource: deny
	ok, err = svc.HasPermission(ctx, "bob@example.com", "dashboard", rbac.OpDelete)
	if err != nil {
		t.Fatalf("HasPermission: %v", err)
	}
	if ok {
		t.Fatal("grant for READ must not cover DELETE")
	}
}

func TestHasPermissionCoversWholeCluster(t *testing.T) {
	svc, store := newTestService(t)
	ctx := context.Background()

	first := createAccount(t, store, "carol@example.com", "google", "g-3")
	createAccount(t, store, "carol@example.com", "github", "gh-3")

	res, err := svc.CreateResource(ctx, "Reports", "", "reports")
	if err != nil {
		t.Fatalf("CreateResource: %v", err)
	}
	perm, err := svc.CreatePermission(ctx, res.ID, rbac.OpRead)
	if err != nil {
		t.Fatalf("CreatePermission: %v", err)
	}
	role, err := svc.CreateRole(ctx, "ANALYST", "")
	if err != nil {
		t.Fatalf("CreateRole: %v", err)
	}
	if err := svc.AssignPermissionToRole(ctx, role.ID, perm.ID); err != nil {
		t.Fatalf("AssignPermissionToRole: %v", err)
	}
	// grant only to the first provider account; the gate checks the cluster
	if err := svc.AssignRoleToAccount(ctx, first.ID, role.ID); err != nil {
		t.Fatalf("AssignRoleToAccount: %v", err)
	}

	ok, err := svc.HasPermission(ctx, "carol@example.com", "reports", rbac.OpRead)
	if err != nil {
		t.Fatalf("HasPermission: %v", err)
	}
	if !ok {
		t.Fatal("permission held by any cluster member must allow")
	}
}

func TestIsAdmin(t *testing.T) {
	svc, store := newTestService(t)
	ctx := context.Background()
	acc := createAccount(t, store, "dave@example.com", "google", "g-4")

	admin, err := svc.IsAdmin(ctx, "dave@example.com")
	if err != nil {
		t.Fatalf("IsAdmin: %v", err)
	}
	if admin {
		t.Fatal("fresh account must not be admin")
	}

	role, err := store.FindRoleByName(ctx, rbac.RoleAdmin)
	if err != nil {
		t.Fatalf("FindRoleByName: %v", err)
	}
	if err := svc.AssignRoleToAccount(ctx, acc.ID, role.ID); err != nil {
		t.Fatalf("AssignRoleToAccount: %v", err)
	}

	admin, err = svc.IsAdmin(ctx, "DAVE@example.com")
	if err != nil {
		t.Fatalf("IsAdmin: %v", err)
	}
	if !admin {
		t.Fatal("expected admin after ADMIN role grant, case-insensitive email")
	}
}

func TestDeleteRoleIdempotent(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	role, err := svc.CreateRole(ctx, "TEMP", "")
	if err != nil {
		t.Fatalf("CreateRole: %v", err)
	}
	if err := svc.DeleteRole(ctx, role.ID); err != nil {
		t.Fatalf("DeleteRole: %v", err)
	}
	if err := svc.DeleteRole(ctx, role.ID); err != nil {
		t.Fatalf("second DeleteRole must be a no-op: %v", err)
	}
}

func TestCreatePermissionRequiresResource(t *testing.T) {
	svc, _ := newTestService(t)

	_, err := svc.CreatePermission(context.Background(), "missing-resource", rbac.OpRead)
	if !errors.Is(err, rbac.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestDeleteResourceCascadesPermissions(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	res, err := svc.CreateResource(ctx, "Ledger", "", "ledger")
	if err != nil {
		t.Fatalf("CreateResource: %v", err)
	}
	if _, err := svc.CreatePermission(ctx, res.ID, rbac.OpUpdate); err != nil {
		t.Fatalf("CreatePermission: %v", err)
	}
	if err := svc.DeleteResource(ctx, res.ID); err != nil {
		t.Fatalf("DeleteResource: %v", err)
	}
	perms, err := svc.ListPermissions(ctx)
	if err != nil {
		t.Fatalf("ListPermissions: %v", err)
	}
	if len(perms) != 0 {
		t.Fatalf("expected permissions removed with resource, got %d", len(perms))
	}
}

func TestAssignmentsIdempotent(t *testing.T) {
	svc, store := newTestService(t)
	ctx := context.Background()
	acc := createAccount(t, store, "bob@example.com", "github", "gh-7")

	role, err := svc.CreateRole(ctx, "VIEWER", "")
	if err != nil {
		t.Fatalf("CreateRole: %v", err)
	}
	res, err := svc.CreateResource(ctx, "Reports", "", "reports")
	if err != nil {
		t.Fatalf("CreateResource: %v", err)
	}
	perm, err := svc.CreatePermission(ctx, res.ID, rbac.OpRead)
	if err != nil {
		t.Fatalf("CreatePermission: %v", err)
	}

	for i := 0; i < 2; i++ {
		if err := svc.AssignPermissionToRole(ctx, role.ID, perm.ID); err != nil {
			t.Fatalf("AssignPermissionToRole call %d: %v", i+1, err)
		}
		if err := svc.AssignRoleToAccount(ctx, acc.ID, role.ID); err != nil {
			t.Fatalf("AssignRoleToAccount call %d: %v", i+1, err)
		}
	}

	perms, err := svc.RolePermissions(ctx, role.ID)
	if err != nil {
		t.Fatalf("RolePermissions: %v", err)
	}
	if len(perms) != 1 {
		t.Fatalf("expected 1 permission on role, got %d", len(perms))
	}
	roles, err := store.RolesForAccount(ctx, acc.ID)
	if err != nil {
		t.Fatalf("RolesForAccount: %v", err)
	}
	if len(roles) != 1 {
		t.Fatalf("expected 1 role on account, got %d", len(roles))
	}
}

func TestRemoveAssignmentRequiresExistingIDs(t *testing.T) {
	svc, store := newTestService(t)
	ctx := context.Background()
	acc := createAccount(t, store, "carol@example.com", "google", "g-9")

	role, err := svc.CreateRole(ctx, "AUDITOR", "")
	if err != nil {
		t.Fatalf("CreateRole: %v", err)
	}

	// absent link, valid ids: a no-op
	if err := svc.RemoveRoleFromAccount(ctx, acc.ID, role.ID); err != nil {
		t.Fatalf("RemoveRoleFromAccount on absent link: %v", err)
	}
	// dangling ids fail
	if err := svc.RemoveRoleFromAccount(ctx, acc.ID, "missing-role"); !errors.Is(err, rbac.ErrNotFound) {
		t.Fatalf("expected ErrNotFound for missing role, got %v", err)
	}
	if err := svc.RemovePermissionFromRole(ctx, role.ID, "missing-perm"); !errors.Is(err, rbac.ErrNotFound) {
		t.Fatalf("expected ErrNotFound for missing permission, got %v", err)
	}
}

func TestParseOperation(t *testing.T) {
	op, err := rbac.ParseOperation("read")
	if err != nil {
		t.Fatalf("ParseOperation: %v", err)
	}
	if op != rbac.OpRead {
		t.Fatalf("unexpected operation %s", op)
	}
	if _, err := rbac.ParseOperation("propagate"); err == nil {
		t.Fatal("expected error for unknown operation")
	}
}
