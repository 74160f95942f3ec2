package rbac

import (
	"fmt"
	"strings"
	"time"
)

// Operation enumerates the actions a permission can grant on a resource.
type Operation string

const (
	OpCreate Operation = "CREATE"
	OpRead   Operation = "READ"
	OpUpdate Operation = "UPDATE"
	OpDelete Operation = "DELETE"
)

// Operations returns every operation in declaration order.
func Operations() []Operation {
	return []Operation{OpCreate, OpRead, OpUpdate, OpDelete}
}

// ParseOperation normalizes raw input into an Operation.
func ParseOperation(raw string) (Operation, error) {
	op := Operation(strings.ToUpper(strings.TrimSpace(raw)))
	switch op {
	case OpCreate, OpRead, OpUpdate, OpDelete:
		return op, nil
	}
	return "", fmt.Errorf("%w: unknown operation %q", ErrInvalidInput, raw)
}

// Built-in roles seeded before the service accepts traffic. ADMIN bypasses
// permission checks entirely; USER is the default for new accounts.
const (
	RoleAdmin = "ADMIN"
	RoleUser  = "USER"
)

// Resource is a named business entity permissions are declared against
// (e.g. "Orders"). Path is the slug used for permission lookups, not a
// full API route.
type Resource struct {
	ID          string    `json:"id"`
	Name        string    `json:"name"`
	Description string    `json:"description,omitempty"`
	Path        string    `json:"path"`
	CreatedAt   time.Time `json:"created_at"`
}

// Permission grants one operation on one resource. The (resource,
// operation) pair is unique.
type Permission struct {
	ID         string    `json:"id"`
	ResourceID string    `json:"resource_id"`
	Operation  Operation `json:"operation"`
	CreatedAt  time.Time `json:"created_at"`
}

// Role is a named grouping of permissions.
type Role struct {
	ID          string    `json:"id"`
	Name        string    `json:"name"`
	Description string    `json:"description,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
}

// Account is one provider-linked identity, one row per (provider, subject)
// pair. Email is deliberately not unique: accounts sharing an email form a
// single logical identity cluster and keep MFA state in lockstep.
type Account struct {
	ID              string    `json:"id"`
	Email           string    `json:"email"`
	Name            string    `json:"name,omitempty"`
	Provider        string    `json:"provider"`
	ProviderSubject string    `json:"provider_subject"`
	MFAEnabled      bool      `json:"mfa_enabled"`
	MFASecret       string    `json:"-"`
	UsingMFA        bool      `json:"using_mfa"`
	CreatedAt       time.Time `json:"created_at"`
	UpdatedAt       time.Time `json:"updated_at"`
}

// MFAUpdate describes a cluster-wide MFA state change. Nil fields are left
// untouched.
type MFAUpdate struct {
	Enabled  *bool
	UsingMFA *bool
	Secret   *string
}
