package pg

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5/pgconn"

	"idgate.org/internal/ids"
	"idgate.org/internal/rbac"
)

const (
	pgErrUniqueViolation     = "23505"
	pgErrForeignKeyViolation = "23503"
)

// Resources ----------------------------------------------------------------

func (s *Store) CreateResource(ctx context.Context, res *rbac.Resource) error {
	if res.ID == "" {
		res.ID = ids.New()
	}
	err := s.db.QueryRowContext(ctx, `
		insert into resources (id, name, description, path)
		values ($1, $2, $3, $4)
		returning created_at
	`, res.ID, res.Name, res.Description, res.Path).Scan(&res.CreatedAt)
	if err != nil {
		if pgErr, ok := maybePgError(err); ok && pgErr.Code == pgErrUniqueViolation {
			return fmt.Errorf("%w: resource %s", rbac.ErrConflict, res.Name)
		}
		return err
	}
	return nil
}

func (s *Store) GetResource(ctx context.Context, id string) (*rbac.Resource, error) {
	var res rbac.Resource
	err := s.db.QueryRowContext(ctx, `
		select id, name, description, path, created_at
		from resources
		where id = $1
	`, id).Scan(&res.ID, &res.Name, &res.Description, &res.Path, &res.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, rbac.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &res, nil
}

func (s *Store) FindResourceByPath(ctx context.Context, path string) (*rbac.Resource, error) {
	var res rbac.Resource
	err := s.db.QueryRowContext(ctx, `
		select id, name, description, path, created_at
		from resources
		where path = $1
	`, path).Scan(&res.ID, &res.Name, &res.Description, &res.Path, &res.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, rbac.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &res, nil
}

func (s *Store) ListResources(ctx context.Context) ([]*rbac.Resource, error) {
	rows, err := s.db.QueryContext(ctx, `
		select id, name, description, path, created_at
		from resources
		order by name
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []*rbac.Resource
	for rows.Next() {
		var res rbac.Resource
		if err := rows.Scan(&res.ID, &res.Name, &res.Description, &res.Path, &res.CreatedAt); err != nil {
			return nil, err
		}
		result = append(result, &res)
	}
	return result, rows.Err()
}

func (s *Store) DeleteResource(ctx context.Context, id string) error {
	// permissions cascade via FK
	res, err := s.db.ExecContext(ctx, `delete from resources where id = $1`, id)
	if err != nil {
		return err
	}
	return notFoundOnZero(res)
}

// Permissions --------------------------------------------------------------

func (s *Store) CreatePermission(ctx context.Context, perm *rbac.Permission) error {
	if perm.ID == "" {
		perm.ID = ids.New()
	}
	err := s.db.QueryRowContext(ctx, `
		insert into permissions (id, resource_id, operation)
		values ($1, $2, $3)
		returning created_at
	`, perm.ID, perm.ResourceID, perm.Operation).Scan(&perm.CreatedAt)
	if err != nil {
		if pgErr, ok := maybePgError(err); ok {
			switch pgErr.Code {
			case pgErrUniqueViolation:
				return fmt.Errorf("%w: permission %s on resource", rbac.ErrConflict, perm.Operation)
			case pgErrForeignKeyViolation:
				return rbac.ErrNotFound
			}
		}
		return err
	}
	return nil
}

func (s *Store) GetPermission(ctx context.Context, id string) (*rbac.Permission, error) {
	var perm rbac.Permission
	err := s.db.QueryRowContext(ctx, `
		select id, resource_id, operation, created_at
		from permissions
		where id = $1
	`, id).Scan(&perm.ID, &perm.ResourceID, &perm.Operation, &perm.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, rbac.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &perm, nil
}

func (s *Store) ListPermissions(ctx context.Context) ([]*rbac.Permission, error) {
	rows, err := s.db.QueryContext(ctx, `
		select id, resource_id, operation, created_at
		from permissions
		order by id
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []*rbac.Permission
	for rows.Next() {
		var perm rbac.Permission
		if err := rows.Scan(&perm.ID, &perm.ResourceID, &perm.Operation, &perm.CreatedAt); err != nil {
			return nil, err
		}
		result = append(result, &perm)
	}
	return result, rows.Err()
}

func (s *Store) DeletePermission(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `delete from permissions where id = $1`, id)
	if err != nil {
		return err
	}
	return notFoundOnZero(res)
}

// Roles --------------------------------------------------------------------

func (s *Store) CreateRole(ctx context.Context, role *rbac.Role) error {
	if role.ID == "" {
		role.ID = ids.New()
	}
	err := s.db.QueryRowContext(ctx, `
		insert into roles (id, name, description)
		values ($1, $2, $3)
		returning created_at
	`, role.ID, role.Name, role.Description).Scan(&role.CreatedAt)
	if err != nil {
		if pgErr, ok := maybePgError(err); ok && pgErr.Code == pgErrUniqueViolation {
			return fmt.Errorf("%w: role %s", rbac.ErrConflict, role.Name)
		}
		return err
	}
	return nil
}

func (s *Store) GetRole(ctx context.Context, id string) (*rbac.Role, error) {
	var role rbac.Role
	err := s.db.QueryRowContext(ctx, `
		select id, name, description, created_at
		from roles
		where id = $1
	`, id).Scan(&role.ID, &role.Name, &role.Description, &role.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, rbac.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &role, nil
}

func (s *Store) FindRoleByName(ctx context.Context, name string) (*rbac.Role, error) {
	var role rbac.Role
	err := s.db.QueryRowContext(ctx, `
		select id, name, description, created_at
		from roles
		where name = $1
	`, name).Scan(&role.ID, &role.Name, &role.Description, &role.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, rbac.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &role, nil
}

func (s *Store) ListRoles(ctx context.Context) ([]*rbac.Role, error) {
	rows, err := s.db.QueryContext(ctx, `
		select id, name, description, created_at
		from roles
		order by name
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []*rbac.Role
	for rows.Next() {
		var role rbac.Role
		if err := rows.Scan(&role.ID, &role.Name, &role.Description, &role.CreatedAt); err != nil {
			return nil, err
		}
		result = append(result, &role)
	}
	return result, rows.Err()
}

func (s *Store) DeleteRole(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `delete from roles where id = $1`, id)
	if err != nil {
		return err
	}
	return notFoundOnZero(res)
}

// Role-permission links ----------------------------------------------------

func (s *Store) AssignPermissionToRole(ctx context.Context, roleID, permissionID string) error {
	_, err := s.db.ExecContext(ctx, `
		insert into role_permissions (role_id, permission_id)
		values ($1, $2)
		on conflict do nothing
	`, roleID, permissionID)
	if pgErr, ok := maybePgError(err); ok && pgErr.Code == pgErrForeignKeyViolation {
		return rbac.ErrNotFound
	}
	return err
}

func (s *Store) RemovePermissionFromRole(ctx context.Context, roleID, permissionID string) error {
	res, err := s.db.ExecContext(ctx, `
		delete from role_permissions
		where role_id = $1 and permission_id = $2
	`, roleID, permissionID)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n > 0 {
		return nil
	}
	return s.linkEndsExist(ctx, "roles", roleID, "permissions", permissionID)
}

func (s *Store) PermissionsForRole(ctx context.Context, roleID string) ([]*rbac.Permission, error) {
	rows, err := s.db.QueryContext(ctx, `
		select p.id, p.resource_id, p.operation, p.created_at
		from permissions p
		join role_permissions rp on rp.permission_id = p.id
		where rp.role_id = $1
		order by p.id
	`, roleID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []*rbac.Permission
	for rows.Next() {
		var perm rbac.Permission
		if err := rows.Scan(&perm.ID, &perm.ResourceID, &perm.Operation, &perm.CreatedAt); err != nil {
			return nil, err
		}
		result = append(result, &perm)
	}
	return result, rows.Err()
}

// Accounts -----------------------------------------------------------------

func (s *Store) CreateAccount(ctx context.Context, acc *rbac.Account) error {
	if acc.ID == "" {
		acc.ID = ids.New()
	}
	err := s.db.QueryRowContext(ctx, `
		insert into accounts (id, email, name, provider, provider_subject, mfa_enabled, mfa_secret, using_mfa)
		values ($1, $2, $3, $4, $5, $6, $7, $8)
		returning created_at, updated_at
	`, acc.ID, acc.Email, acc.Name, acc.Provider, acc.ProviderSubject,
		acc.MFAEnabled, acc.MFASecret, acc.UsingMFA).Scan(&acc.CreatedAt, &acc.UpdatedAt)
	if err != nil {
		if pgErr, ok := maybePgError(err); ok && pgErr.Code == pgErrUniqueViolation {
			return fmt.Errorf("%w: account %s/%s", rbac.ErrConflict, acc.Provider, acc.ProviderSubject)
		}
		return err
	}
	return nil
}

func (s *Store) GetAccount(ctx context.Context, id string) (*rbac.Account, error) {
	return s.accountByQuery(ctx, `where id = $1`, id)
}

func (s *Store) FindAccountByProviderSubject(ctx context.Context, provider, subject string) (*rbac.Account, error) {
	return s.accountByQuery(ctx, `where provider = $1 and provider_subject = $2`, provider, subject)
}

func (s *Store) accountByQuery(ctx context.Context, where string, args ...any) (*rbac.Account, error) {
	var acc rbac.Account
	err := s.db.QueryRowContext(ctx, `
		select id, email, name, provider, provider_subject, mfa_enabled, mfa_secret, using_mfa, created_at, updated_at
		from accounts `+where,
		args...).Scan(&acc.ID, &acc.Email, &acc.Name, &acc.Provider, &acc.ProviderSubject,
		&acc.MFAEnabled, &acc.MFASecret, &acc.UsingMFA, &acc.CreatedAt, &acc.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, rbac.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &acc, nil
}

func (s *Store) ListAccountsByEmail(ctx context.Context, email string) ([]*rbac.Account, error) {
	return s.listAccounts(ctx, `
		select id, email, name, provider, provider_subject, mfa_enabled, mfa_secret, using_mfa, created_at, updated_at
		from accounts
		where lower(email) = lower($1)
		order by created_at, id
	`, email)
}

func (s *Store) ListAccounts(ctx context.Context) ([]*rbac.Account, error) {
	return s.listAccounts(ctx, `
		select id, email, name, provider, provider_subject, mfa_enabled, mfa_secret, using_mfa, created_at, updated_at
		from accounts
		order by id
	`)
}

func (s *Store) listAccounts(ctx context.Context, query string, args ...any) ([]*rbac.Account, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []*rbac.Account
	for rows.Next() {
		var acc rbac.Account
		if err := rows.Scan(&acc.ID, &acc.Email, &acc.Name, &acc.Provider, &acc.ProviderSubject,
			&acc.MFAEnabled, &acc.MFASecret, &acc.UsingMFA, &acc.CreatedAt, &acc.UpdatedAt); err != nil {
			return nil, err
		}
		result = append(result, &acc)
	}
	return result, rows.Err()
}

func (s *Store) CountAccounts(ctx context.Context) (int64, error) {
	var n int64
	err := s.db.QueryRowContext(ctx, `select count(*) from accounts`).Scan(&n)
	return n, err
}

// Account-role links -------------------------------------------------------

func (s *Store) AssignRoleToAccount(ctx context.Context, accountID, roleID string) error {
	_, err := s.db.ExecContext(ctx, `
		insert into account_roles (account_id, role_id)
		values ($1, $2)
		on conflict do nothing
	`, accountID, roleID)
	if pgErr, ok := maybePgError(err); ok && pgErr.Code == pgErrForeignKeyViolation {
		return rbac.ErrNotFound
	}
	return err
}

func (s *Store) RemoveRoleFromAccount(ctx context.Context, accountID, roleID string) error {
	res, err := s.db.ExecContext(ctx, `
		delete from account_roles
		where account_id = $1 and role_id = $2
	`, accountID, roleID)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n > 0 {
		return nil
	}
	return s.linkEndsExist(ctx, "accounts", accountID, "roles", roleID)
}

func (s *Store) RolesForAccount(ctx context.Context, accountID string) ([]*rbac.Role, error) {
	rows, err := s.db.QueryContext(ctx, `
		select r.id, r.name, r.description, r.created_at
		from roles r
		join account_roles ar on ar.role_id = r.id
		where ar.account_id = $1
		order by r.name
	`, accountID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []*rbac.Role
	for rows.Next() {
		var role rbac.Role
		if err := rows.Scan(&role.ID, &role.Name, &role.Description, &role.CreatedAt); err != nil {
			return nil, err
		}
		result = append(result, &role)
	}
	return result, rows.Err()
}

func (s *Store) ReplaceAccountRoles(ctx context.Context, accountID string, roleIDs []string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, `delete from account_roles where account_id = $1`, accountID); err != nil {
		return err
	}
	for _, roleID := range roleIDs {
		if _, err := tx.ExecContext(ctx, `
			insert into account_roles (account_id, role_id)
			values ($1, $2)
			on conflict do nothing
		`, accountID, roleID); err != nil {
			if pgErr, ok := maybePgError(err); ok && pgErr.Code == pgErrForeignKeyViolation {
				return rbac.ErrNotFound
			}
			return err
		}
	}
	return tx.Commit()
}

// UpdateClusterMFA flips the MFA columns for every account sharing the email
// in one statement, so the cluster never ends up half-updated.
func (s *Store) UpdateClusterMFA(ctx context.Context, email string, upd rbac.MFAUpdate) (int64, error) {
	set := []string{"updated_at = now()"}
	args := []any{email}
	next := 2
	if upd.Enabled != nil {
		set = append(set, fmt.Sprintf("mfa_enabled = $%d", next))
		args = append(args, *upd.Enabled)
		next++
	}
	if upd.UsingMFA != nil {
		set = append(set, fmt.Sprintf("using_mfa = $%d", next))
		args = append(args, *upd.UsingMFA)
		next++
	}
	if upd.Secret != nil {
		set = append(set, fmt.Sprintf("mfa_secret = $%d", next))
		args = append(args, *upd.Secret)
		next++
	}

	res, err := s.db.ExecContext(ctx,
		`update accounts set `+strings.Join(set, ", ")+` where lower(email) = lower($1)`, args...)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

// linkEndsExist backs the remove operations: deleting an absent link is a
// no-op, but a dangling endpoint id is ErrNotFound.
func (s *Store) linkEndsExist(ctx context.Context, tableA, idA, tableB, idB string) error {
	var aOK, bOK bool
	err := s.db.QueryRowContext(ctx,
		`select exists (select 1 from `+tableA+` where id = $1),
		       exists (select 1 from `+tableB+` where id = $2)`,
		idA, idB).Scan(&aOK, &bOK)
	if err != nil {
		return err
	}
	if !aOK || !bOK {
		return rbac.ErrNotFound
	}
	return nil
}

func notFoundOnZero(res sql.Result) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return rbac.ErrNotFound
	}
	return nil
}

func maybePgError(err error) (*pgconn.PgError, bool) {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr, true
	}
	return nil, false
}
