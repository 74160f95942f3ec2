package rbac

import "context"

// Store describes the persistence operations the authorization engine and
// the identity resolver need. Creates return ErrConflict on duplicate
// names/pairs and ErrNotFound for dangling references; assignment
// operations are idempotent both ways. UpdateClusterMFA must be atomic:
// either every account sharing the email observes the change or none does.
type Store interface {
	CreateResource(ctx context.Context, res *Resource) error
	GetResource(ctx context.Context, id string) (*Resource, error)
	FindResourceByPath(ctx context.Context, path string) (*Resource, error)
	ListResources(ctx context.Context) ([]*Resource, error)
	// DeleteResource cascades to the resource's permissions.
	DeleteResource(ctx context.Context, id string) error

	CreatePermission(ctx context.Context, perm *Permission) error
	GetPermission(ctx context.Context, id string) (*Permission, error)
	ListPermissions(ctx context.Context) ([]*Permission, error)
	DeletePermission(ctx context.Context, id string) error

	CreateRole(ctx context.Context, role *Role) error
	GetRole(ctx context.Context, id string) (*Role, error)
	FindRoleByName(ctx context.Context, name string) (*Role, error)
	ListRoles(ctx context.Context) ([]*Role, error)
	DeleteRole(ctx context.Context, id string) error

	AssignPermissionToRole(ctx context.Context, roleID, permissionID string) error
	RemovePermissionFromRole(ctx context.Context, roleID, permissionID string) error
	PermissionsForRole(ctx context.Context, roleID string) ([]*Permission, error)

	CreateAccount(ctx context.Context, acc *Account) error
	GetAccount(ctx context.Context, id string) (*Account, error)
	FindAccountByProviderSubject(ctx context.Context, provider, subject string) (*Account, error)
	ListAccountsByEmail(ctx context.Context, email string) ([]*Account, error)
	ListAccounts(ctx context.Context) ([]*Account, error)
	CountAccounts(ctx context.Context) (int64, error)

	AssignRoleToAccount(ctx context.Context, accountID, roleID string) error
	RemoveRoleFromAccount(ctx context.Context, accountID, roleID string) error
	RolesForAccount(ctx context.Context, accountID string) ([]*Role, error)
	ReplaceAccountRoles(ctx context.Context, accountID string, roleIDs []string) error

	// UpdateClusterMFA applies the update to every account sharing the
	// email and returns how many rows changed.
	UpdateClusterMFA(ctx context.Context, email string, upd MFAUpdate) (int64, error)
}
