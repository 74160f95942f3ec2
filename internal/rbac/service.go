package rbac

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

// Service provides role/resource/permission management and the permission
// check consulted by the request gate.
type Service struct {
	store Store
}

// NewService constructs the authorization service.
func NewService(store Store) (*Service, error) {
	if store == nil {
		return nil, errors.New("rbac store is required")
	}
	return &Service{store: store}, nil
}

// EnsureDefaultRoles seeds the ADMIN and USER roles if missing. It runs
// once at startup before traffic is served; identity resolution assumes
// both roles exist and fails hard when they do not.
func (s *Service) EnsureDefaultRoles(ctx context.Context) error {
	defaults := []Role{
		{Name: RoleAdmin, Description: "Administrator with full access"},
		{Name: RoleUser, Description: "Regular user with limited access"},
	}
	for i := range defaults {
		role := defaults[i]
		_, err := s.store.FindRoleByName(ctx, role.Name)
		if err == nil {
			continue
		}
		if !errors.Is(err, ErrNotFound) {
			return err
		}
		if err := s.store.CreateRole(ctx, &role); err != nil && !errors.Is(err, ErrConflict) {
			return fmt.Errorf("seed role %s: %w", role.Name, err)
		}
	}
	return nil
}

// HasPermission reports whether any account sharing the email holds a role
// granting the operation on the resource registered under resourcePath.
// Unknown emails are denied. Paths with no registered resource are allowed:
// only declared resources are gated, everything else stays open.
func (s *Service) HasPermission(ctx context.Context, email, resourcePath string, op Operation) (bool, error) {
	email = normalizeEmail(email)
	if email == "" {
		return false, fmt.Errorf("%w: email is required", ErrInvalidInput)
	}
	accounts, err := s.store.ListAccountsByEmail(ctx, email)
	if err != nil {
		return false, err
	}
	if len(accounts) == 0 {
		return false, nil
	}
	resource, err := s.store.FindResourceByPath(ctx, strings.TrimSpace(resourcePath))
	if errors.Is(err, ErrNotFound) {
		return true, nil
	}
	if err != nil {
		return false, err
	}
	for _, acc := range accounts {
		roles, err := s.store.RolesForAccount(ctx, acc.ID)
		if err != nil {
			return false, err
		}
		for _, role := range roles {
			perms, err := s.store.PermissionsForRole(ctx, role.ID)
			if err != nil {
				return false, err
			}
			for _, p := range perms {
				if p.ResourceID == resource.ID && p.Operation == op {
					return true, nil
				}
			}
		}
	}
	return false, nil
}

// IsAdmin reports whether any account in the email's cluster holds the
// ADMIN role. The request gate short-circuits on it before HasPermission.
func (s *Service) IsAdmin(ctx context.Context, email string) (bool, error) {
	email = normalizeEmail(email)
	if email == "" {
		return false, fmt.Errorf("%w: email is required", ErrInvalidInput)
	}
	accounts, err := s.store.ListAccountsByEmail(ctx, email)
	if err != nil {
		return false, err
	}
	for _, acc := range accounts {
		roles, err := s.store.RolesForAccount(ctx, acc.ID)
		if err != nil {
			return false, err
		}
		for _, role := range roles {
			if role.Name == RoleAdmin {
				return true, nil
			}
		}
	}
	return false, nil
}

// CreateRole registers a new role with a unique name.
func (s *Service) CreateRole(ctx context.Context, name, description string) (*Role, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, fmt.Errorf("%w: role name is required", ErrInvalidInput)
	}
	role := &Role{Name: name, Description: strings.TrimSpace(description)}
	if err := s.store.CreateRole(ctx, role); err != nil {
		return nil, err
	}
	return role, nil
}

// ListRoles returns every registered role.
func (s *Service) ListRoles(ctx context.Context) ([]*Role, error) {
	return s.store.ListRoles(ctx)
}

// DeleteRole removes a role by id. Deleting an absent role is a no-op.
func (s *Service) DeleteRole(ctx context.Context, roleID string) error {
	roleID = strings.TrimSpace(roleID)
	if roleID == "" {
		return fmt.Errorf("%w: role_id is required", ErrInvalidInput)
	}
	if err := s.store.DeleteRole(ctx, roleID); err != nil && !errors.Is(err, ErrNotFound) {
		return err
	}
	return nil
}

// CreateResource registers a business entity under a unique name.
func (s *Service) CreateResource(ctx context.Context, name, description, path string) (*Resource, error) {
	name = strings.TrimSpace(name)
	path = strings.TrimSpace(path)
	if name == "" || path == "" {
		return nil, fmt.Errorf("%w: resource name and path are required", ErrInvalidInput)
	}
	res := &Resource{Name: name, Description: strings.TrimSpace(description), Path: path}
	if err := s.store.CreateResource(ctx, res); err != nil {
		return nil, err
	}
	return res, nil
}

// ListResources returns every registered resource.
func (s *Service) ListResources(ctx context.Context) ([]*Resource, error) {
	return s.store.ListResources(ctx)
}

// DeleteResource removes a resource and, by cascade, its permissions.
// Deleting an absent resource is a no-op.
func (s *Service) DeleteResource(ctx context.Context, resourceID string) error {
	resourceID = strings.TrimSpace(resourceID)
	if resourceID == "" {
		return fmt.Errorf("%w: resource_id is required", ErrInvalidInput)
	}
	if err := s.store.DeleteResource(ctx, resourceID); err != nil && !errors.Is(err, ErrNotFound) {
		return err
	}
	return nil
}

// CreatePermission grants an operation on an existing resource. The pair
// is unique.
func (s *Service) CreatePermission(ctx context.Context, resourceID string, op Operation) (*Permission, error) {
	resourceID = strings.TrimSpace(resourceID)
	if resourceID == "" {
		return nil, fmt.Errorf("%w: resource_id is required", ErrInvalidInput)
	}
	if _, err := s.store.GetResource(ctx, resourceID); err != nil {
		return nil, err
	}
	perm := &Permission{ResourceID: resourceID, Operation: op}
	if err := s.store.CreatePermission(ctx, perm); err != nil {
		return nil, err
	}
	return perm, nil
}

// ListPermissions returns every registered permission.
func (s *Service) ListPermissions(ctx context.Context) ([]*Permission, error) {
	return s.store.ListPermissions(ctx)
}

// DeletePermission removes a permission by id. Absent ids are a no-op.
func (s *Service) DeletePermission(ctx context.Context, permissionID string) error {
	permissionID = strings.TrimSpace(permissionID)
	if permissionID == "" {
		return fmt.Errorf("%w: permission_id is required", ErrInvalidInput)
	}
	if err := s.store.DeletePermission(ctx, permissionID); err != nil && !errors.Is(err, ErrNotFound) {
		return err
	}
	return nil
}

// AssignPermissionToRole links a permission to a role. Assigning twice is
// a no-op; it fails only if either id does not exist.
func (s *Service) AssignPermissionToRole(ctx context.Context, roleID, permissionID string) error {
	roleID = strings.TrimSpace(roleID)
	permissionID = strings.TrimSpace(permissionID)
	if roleID == "" || permissionID == "" {
		return fmt.Errorf("%w: role_id and permission_id are required", ErrInvalidInput)
	}
	return s.store.AssignPermissionToRole(ctx, roleID, permissionID)
}

// RemovePermissionFromRole unlinks a permission from a role. Removing an
// absent link is a no-op.
func (s *Service) RemovePermissionFromRole(ctx context.Context, roleID, permissionID string) error {
	roleID = strings.TrimSpace(roleID)
	permissionID = strings.TrimSpace(permissionID)
	if roleID == "" || permissionID == "" {
		return fmt.Errorf("%w: role_id and permission_id are required", ErrInvalidInput)
	}
	return s.store.RemovePermissionFromRole(ctx, roleID, permissionID)
}

// RolePermissions lists the permissions linked to a role.
func (s *Service) RolePermissions(ctx context.Context, roleID string) ([]*Permission, error) {
	roleID = strings.TrimSpace(roleID)
	if roleID == "" {
		return nil, fmt.Errorf("%w: role_id is required", ErrInvalidInput)
	}
	if _, err := s.store.GetRole(ctx, roleID); err != nil {
		return nil, err
	}
	return s.store.PermissionsForRole(ctx, roleID)
}

// AssignRoleToAccount links a role to an account, idempotently.
func (s *Service) AssignRoleToAccount(ctx context.Context, accountID, roleID string) error {
	accountID = strings.TrimSpace(accountID)
	roleID = strings.TrimSpace(roleID)
	if accountID == "" || roleID == "" {
		return fmt.Errorf("%w: account_id and role_id are required", ErrInvalidInput)
	}
	return s.store.AssignRoleToAccount(ctx, accountID, roleID)
}

// RemoveRoleFromAccount unlinks a role from an account, idempotently.
func (s *Service) RemoveRoleFromAccount(ctx context.Context, accountID, roleID string) error {
	accountID = strings.TrimSpace(accountID)
	roleID = strings.TrimSpace(roleID)
	if accountID == "" || roleID == "" {
		return fmt.Errorf("%w: account_id and role_id are required", ErrInvalidInput)
	}
	return s.store.RemoveRoleFromAccount(ctx, accountID, roleID)
}

// AccountDetail is an account with its resolved role names.
type AccountDetail struct {
	Account *Account `json:"account"`
	Roles   []string `json:"roles"`
}

// GetAccountDetail loads one account with its role names.
func (s *Service) GetAccountDetail(ctx context.Context, accountID string) (*AccountDetail, error) {
	accountID = strings.TrimSpace(accountID)
	if accountID == "" {
		return nil, fmt.Errorf("%w: account_id is required", ErrInvalidInput)
	}
	acc, err := s.store.GetAccount(ctx, accountID)
	if err != nil {
		return nil, err
	}
	roles, err := s.store.RolesForAccount(ctx, acc.ID)
	if err != nil {
		return nil, err
	}
	detail := &AccountDetail{Account: acc, Roles: make([]string, 0, len(roles))}
	for _, role := range roles {
		detail.Roles = append(detail.Roles, role.Name)
	}
	return detail, nil
}

// ListAccountDetails loads every account with resolved role names.
func (s *Service) ListAccountDetails(ctx context.Context) ([]*AccountDetail, error) {
	accounts, err := s.store.ListAccounts(ctx)
	if err != nil {
		return nil, err
	}
	details := make([]*AccountDetail, 0, len(accounts))
	for _, acc := range accounts {
		roles, err := s.store.RolesForAccount(ctx, acc.ID)
		if err != nil {
			return nil, err
		}
		d := &AccountDetail{Account: acc, Roles: make([]string, 0, len(roles))}
		for _, role := range roles {
			d.Roles = append(d.Roles, role.Name)
		}
		details = append(details, d)
	}
	return details, nil
}

// ClusterDetails loads every account sharing the email, with role names.
func (s *Service) ClusterDetails(ctx context.Context, email string) ([]*AccountDetail, error) {
	email = normalizeEmail(email)
	if email == "" {
		return nil, fmt.Errorf("%w: email is required", ErrInvalidInput)
	}
	accounts, err := s.store.ListAccountsByEmail(ctx, email)
	if err != nil {
		return nil, err
	}
	if len(accounts) == 0 {
		return nil, ErrNotFound
	}
	details := make([]*AccountDetail, 0, len(accounts))
	for _, acc := range accounts {
		roles, err := s.store.RolesForAccount(ctx, acc.ID)
		if err != nil {
			return nil, err
		}
		d := &AccountDetail{Account: acc, Roles: make([]string, 0, len(roles))}
		for _, role := range roles {
			d.Roles = append(d.Roles, role.Name)
		}
		details = append(details, d)
	}
	return details, nil
}

// Stats summarizes the size of the permission graph.
type Stats struct {
	Accounts    int64 `json:"accounts"`
	Roles       int   `json:"roles"`
	Resources   int   `json:"resources"`
	Permissions int   `json:"permissions"`
}

// GetStats counts accounts, roles, resources and permissions.
func (s *Service) GetStats(ctx context.Context) (*Stats, error) {
	accounts, err := s.store.CountAccounts(ctx)
	if err != nil {
		return nil, err
	}
	roles, err := s.store.ListRoles(ctx)
	if err != nil {
		return nil, err
	}
	resources, err := s.store.ListResources(ctx)
	if err != nil {
		return nil, err
	}
	permissions, err := s.store.ListPermissions(ctx)
	if err != nil {
		return nil, err
	}
	return &Stats{
		Accounts:    accounts,
		Roles:       len(roles),
		Resources:   len(resources),
		Permissions: len(permissions),
	}, nil
}

func normalizeEmail(email string) string {
	return strings.TrimSpace(strings.ToLower(email))
}
