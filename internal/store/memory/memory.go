// Package memory implements rbac.Store with in-process maps. It backs the
// HTTP layer tests and the demo mode used when no database is configured.
package memory

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"idgate.org/internal/ids"
	"idgate.org/internal/rbac"
)

// Store keeps the whole permission graph under one lock, which also gives
// cluster-wide MFA updates their all-or-nothing semantics.
type Store struct {
	mu sync.RWMutex

	resources   map[string]*rbac.Resource
	permissions map[string]*rbac.Permission
	roles       map[string]*rbac.Role
	accounts    map[string]*rbac.Account

	rolePerms    map[string]map[string]struct{}
	accountRoles map[string]map[string]struct{}
}

var _ rbac.Store = (*Store)(nil)

// New creates an empty store.
func New() *Store {
	return &Store{
		resources:    make(map[string]*rbac.Resource),
		permissions:  make(map[string]*rbac.Permission),
		roles:        make(map[string]*rbac.Role),
		accounts:     make(map[string]*rbac.Account),
		rolePerms:    make(map[string]map[string]struct{}),
		accountRoles: make(map[string]map[string]struct{}),
	}
}

// Resources ----------------------------------------------------------------

func (s *Store) CreateResource(ctx context.Context, res *rbac.Resource) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, existing := range s.resources {
		if existing.Name == res.Name || existing.Path == res.Path {
			return fmt.Errorf("%w: resource %s", rbac.ErrConflict, res.Name)
		}
	}
	if res.ID == "" {
		res.ID = ids.New()
	}
	res.CreatedAt = time.Now().UTC()
	cp := *res
	s.resources[res.ID] = &cp
	return nil
}

func (s *Store) GetResource(ctx context.Context, id string) (*rbac.Resource, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	res, ok := s.resources[id]
	if !ok {
		return nil, rbac.ErrNotFound
	}
	cp := *res
	return &cp, nil
}

func (s *Store) FindResourceByPath(ctx context.Context, path string) (*rbac.Resource, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, res := range s.resources {
		if res.Path == path {
			cp := *res
			return &cp, nil
		}
	}
	return nil, rbac.ErrNotFound
}

func (s *Store) ListResources(ctx context.Context) ([]*rbac.Resource, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*rbac.Resource, 0, len(s.resources))
	for _, res := range s.resources {
		cp := *res
		out = append(out, &cp)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

func (s *Store) DeleteResource(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.resources[id]; !ok {
		return rbac.ErrNotFound
	}
	delete(s.resources, id)
	for permID, perm := range s.permissions {
		if perm.ResourceID != id {
			continue
		}
		delete(s.permissions, permID)
		for _, set := range s.rolePerms {
			delete(set, permID)
		}
	}
	return nil
}

// Permissions --------------------------------------------------------------

func (s *Store) CreatePermission(ctx context.Context, perm *rbac.Permission) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.resources[perm.ResourceID]; !ok {
		return rbac.ErrNotFound
	}
	for _, existing := range s.permissions {
		if existing.ResourceID == perm.ResourceID && existing.Operation == perm.Operation {
			return fmt.Errorf("%w: permission %s on resource", rbac.ErrConflict, perm.Operation)
		}
	}
	if perm.ID == "" {
		perm.ID = ids.New()
	}
	perm.CreatedAt = time.Now().UTC()
	cp := *perm
	s.permissions[perm.ID] = &cp
	return nil
}

func (s *Store) GetPermission(ctx context.Context, id string) (*rbac.Permission, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	perm, ok := s.permissions[id]
	if !ok {
		return nil, rbac.ErrNotFound
	}
	cp := *perm
	return &cp, nil
}

func (s *Store) ListPermissions(ctx context.Context) ([]*rbac.Permission, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*rbac.Permission, 0, len(s.permissions))
	for _, perm := range s.permissions {
		cp := *perm
		out = append(out, &cp)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (s *Store) DeletePermission(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.permissions[id]; !ok {
		return rbac.ErrNotFound
	}
	delete(s.permissions, id)
	for _, set := range s.rolePerms {
		delete(set, id)
	}
	return nil
}

// Roles --------------------------------------------------------------------

func (s *Store) CreateRole(ctx context.Context, role *rbac.Role) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, existing := range s.roles {
		if existing.Name == role.Name {
			return fmt.Errorf("%w: role %s", rbac.ErrConflict, role.Name)
		}
	}
	if role.ID == "" {
		role.ID = ids.New()
	}
	role.CreatedAt = time.Now().UTC()
	cp := *role
	s.roles[role.ID] = &cp
	return nil
}

func (s *Store) GetRole(ctx context.Context, id string) (*rbac.Role, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	role, ok := s.roles[id]
	if !ok {
		return nil, rbac.ErrNotFound
	}
	cp := *role
	return &cp, nil
}

func (s *Store) FindRoleByName(ctx context.Context, name string) (*rbac.Role, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, role := range s.roles {
		if role.Name == name {
			cp := *role
			return &cp, nil
		}
	}
	return nil, rbac.ErrNotFound
}

func (s *Store) ListRoles(ctx context.Context) ([]*rbac.Role, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*rbac.Role, 0, len(s.roles))
	for _, role := range s.roles {
		cp := *role
		out = append(out, &cp)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

func (s *Store) DeleteRole(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.roles[id]; !ok {
		return rbac.ErrNotFound
	}
	delete(s.roles, id)
	delete(s.rolePerms, id)
	for _, set := range s.accountRoles {
		delete(set, id)
	}
	return nil
}

// Role-permission links ----------------------------------------------------

func (s *Store) AssignPermissionToRole(ctx context.Context, roleID, permissionID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.roles[roleID]; !ok {
		return rbac.ErrNotFound
	}
	if _, ok := s.permissions[permissionID]; !ok {
		return rbac.ErrNotFound
	}
	set, ok := s.rolePerms[roleID]
	if !ok {
		set = make(map[string]struct{})
		s.rolePerms[roleID] = set
	}
	set[permissionID] = struct{}{}
	return nil
}

func (s *Store) RemovePermissionFromRole(ctx context.Context, roleID, permissionID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.roles[roleID]; !ok {
		return rbac.ErrNotFound
	}
	if _, ok := s.permissions[permissionID]; !ok {
		return rbac.ErrNotFound
	}
	delete(s.rolePerms[roleID], permissionID)
	return nil
}

func (s *Store) PermissionsForRole(ctx context.Context, roleID string) ([]*rbac.Permission, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*rbac.Permission
	for permID := range s.rolePerms[roleID] {
		if perm, ok := s.permissions[permID]; ok {
			cp := *perm
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

// Accounts -----------------------------------------------------------------

func (s *Store) CreateAccount(ctx context.Context, acc *rbac.Account) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, existing := range s.accounts {
		if existing.Provider == acc.Provider && existing.ProviderSubject == acc.ProviderSubject {
			return fmt.Errorf("%w: account %s/%s", rbac.ErrConflict, acc.Provider, acc.ProviderSubject)
		}
	}
	if acc.ID == "" {
		acc.ID = ids.New()
	}
	now := time.Now().UTC()
	acc.CreatedAt = now
	acc.UpdatedAt = now
	cp := *acc
	s.accounts[acc.ID] = &cp
	return nil
}

func (s *Store) GetAccount(ctx context.Context, id string) (*rbac.Account, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	acc, ok := s.accounts[id]
	if !ok {
		return nil, rbac.ErrNotFound
	}
	cp := *acc
	return &cp, nil
}

func (s *Store) FindAccountByProviderSubject(ctx context.Context, provider, subject string) (*rbac.Account, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, acc := range s.accounts {
		if acc.Provider == provider && acc.ProviderSubject == subject {
			cp := *acc
			return &cp, nil
		}
	}
	return nil, rbac.ErrNotFound
}

func (s *Store) ListAccountsByEmail(ctx context.Context, email string) ([]*rbac.Account, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*rbac.Account
	for _, acc := range s.accounts {
		if strings.EqualFold(acc.Email, email) {
			cp := *acc
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.Before(out[j].CreatedAt)
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

func (s *Store) ListAccounts(ctx context.Context) ([]*rbac.Account, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*rbac.Account, 0, len(s.accounts))
	for _, acc := range s.accounts {
		cp := *acc
		out = append(out, &cp)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (s *Store) CountAccounts(ctx context.Context) (int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return int64(len(s.accounts)), nil
}

// Account-role links -------------------------------------------------------

func (s *Store) AssignRoleToAccount(ctx context.Context, accountID, roleID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.accounts[accountID]; !ok {
		return rbac.ErrNotFound
	}
	if _, ok := s.roles[roleID]; !ok {
		return rbac.ErrNotFound
	}
	set, ok := s.accountRoles[accountID]
	if !ok {
		set = make(map[string]struct{})
		s.accountRoles[accountID] = set
	}
	set[roleID] = struct{}{}
	return nil
}

func (s *Store) RemoveRoleFromAccount(ctx context.Context, accountID, roleID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.accounts[accountID]; !ok {
		return rbac.ErrNotFound
	}
	if _, ok := s.roles[roleID]; !ok {
		return rbac.ErrNotFound
	}
	delete(s.accountRoles[accountID], roleID)
	return nil
}

func (s *Store) RolesForAccount(ctx context.Context, accountID string) ([]*rbac.Role, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*rbac.Role
	for roleID := range s.accountRoles[accountID] {
		if role, ok := s.roles[roleID]; ok {
			cp := *role
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

func (s *Store) ReplaceAccountRoles(ctx context.Context, accountID string, roleIDs []string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.accounts[accountID]; !ok {
		return rbac.ErrNotFound
	}
	set := make(map[string]struct{}, len(roleIDs))
	for _, roleID := range roleIDs {
		if _, ok := s.roles[roleID]; !ok {
			return rbac.ErrNotFound
		}
		set[roleID] = struct{}{}
	}
	s.accountRoles[accountID] = set
	return nil
}

// UpdateClusterMFA applies the update to every account sharing the email
// under one lock, so readers never observe a half-updated cluster.
func (s *Store) UpdateClusterMFA(ctx context.Context, email string, upd rbac.MFAUpdate) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var n int64
	now := time.Now().UTC()
	for _, acc := range s.accounts {
		if !strings.EqualFold(acc.Email, email) {
			continue
		}
		if upd.Enabled != nil {
			acc.MFAEnabled = *upd.Enabled
		}
		if upd.UsingMFA != nil {
			acc.UsingMFA = *upd.UsingMFA
		}
		if upd.Secret != nil {
			acc.MFASecret = *upd.Secret
		}
		acc.UpdatedAt = now
		n++
	}
	return n, nil
}
