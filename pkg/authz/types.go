package authz

import (
	"errors"
	"fmt"
	"maps"
	"regexp"
	"slices"
	"strings"
)

// Role is a tenant-scoped role name such as "tenant_manager".
type Role string

// Permission is a dotted permission code such as "iam.user.read".
type Permission string

// Well-known roles.
const (
	RoleAdmin         Role = "admin"
	RoleTenantOwner   Role = "tenant_owner"
	RoleTenantManager Role = "tenant_manager"
	RoleResident      Role = "resident"
	RoleService       Role = "service"
)

// Permission codes guarding the IAM service's own endpoints.
const (
	PermTokenIssue           Permission = "iam.token.issue"
	PermTokenIntrospect      Permission = "iam.token.introspect"
	PermUserPermissionRead   Permission = "iam.user.permission.read"
	PermUserPermissionManage Permission = "iam.user.permission.manage"
	PermTenantRoleAssign     Permission = "iam.tenant.role.assign"
	PermTenantRoleRemove     Permission = "iam.tenant.role.remove"
	PermRolePermissionRead   Permission = "iam.role.permission.read"
	PermRolePermissionManage Permission = "iam.role.permission.manage"
)

var ErrInvalidName = errors.New("authz: invalid role or permission name")

var (
	roleRe       = regexp.MustCompile(`^[a-z][a-z0-9_]{0,63}$`)
	permissionRe = regexp.MustCompile(`^[a-z][a-z0-9_]*(\.[a-z0-9_]+){0,7}$`)
)

// ParseRole normalises and validates a role name from the wire.
func ParseRole(s string) (Role, error) {
	s = strings.ToLower(strings.TrimSpace(s))
	if !roleRe.MatchString(s) {
		return "", fmt.Errorf("%w: role %q", ErrInvalidName, s)
	}
	return Role(s), nil
}

// ParsePermission normalises and validates a permission code from the wire.
func ParsePermission(s string) (Permission, error) {
	s = strings.ToLower(strings.TrimSpace(s))
	if len(s) > 128 || !permissionRe.MatchString(s) {
		return "", fmt.Errorf("%w: permission %q", ErrInvalidName, s)
	}
	return Permission(s), nil
}

func (r Role) String() string       { return string(r) }
func (p Permission) String() string { return string(p) }

// RoleSet is an unordered set of roles.
type RoleSet map[Role]struct{}

// NewRoleSet builds a set from the given roles.
func NewRoleSet(roles ...Role) RoleSet {
	s := make(RoleSet, len(roles))
	for _, r := range roles {
		s[r] = struct{}{}
	}
	return s
}

// RolesFromStrings converts wire values, silently dropping entries that fail
// validation. Unknown names can never match a typed requirement anyway.
func RolesFromStrings(in []string) RoleSet {
	s := make(RoleSet, len(in))
	for _, v := range in {
		if r, err := ParseRole(v); err == nil {
			s[r] = struct{}{}
		}
	}
	return s
}

func (s RoleSet) Has(r Role) bool {
	_, ok := s[r]
	return ok
}

// Strings returns the sorted wire form.
func (s RoleSet) Strings() []string {
	out := make([]string, 0, len(s))
	for r := range s {
		out = append(out, string(r))
	}
	slices.Sort(out)
	return out
}

// PermissionSet is an unordered set of permission codes.
type PermissionSet map[Permission]struct{}

// NewPermissionSet builds a set from the given permissions.
func NewPermissionSet(perms ...Permission) PermissionSet {
	s := make(PermissionSet, len(perms))
	for _, p := range perms {
		s[p] = struct{}{}
	}
	return s
}

// PermissionsFromStrings converts wire values, dropping invalid codes.
func PermissionsFromStrings(in []string) PermissionSet {
	s := make(PermissionSet, len(in))
	for _, v := range in {
		if p, err := ParsePermission(v); err == nil {
			s[p] = struct{}{}
		}
	}
	return s
}

func (s PermissionSet) Has(p Permission) bool {
	_, ok := s[p]
	return ok
}

func (s PermissionSet) Add(p Permission) { s[p] = struct{}{} }

// Union adds every member of other to s.
func (s PermissionSet) Union(other PermissionSet) {
	for p := range other {
		s[p] = struct{}{}
	}
}

// Subtract removes every member of other from s.
func (s PermissionSet) Subtract(other PermissionSet) {
	for p := range other {
		delete(s, p)
	}
}

// Clone returns an independent copy.
func (s PermissionSet) Clone() PermissionSet {
	if s == nil {
		return PermissionSet{}
	}
	return maps.Clone(s)
}

// Sorted returns the members in lexical order.
func (s PermissionSet) Sorted() []Permission {
	out := slices.Collect(maps.Keys(s))
	slices.Sort(out)
	return out
}

// Strings returns the sorted wire form.
func (s PermissionSet) Strings() []string {
	out := make([]string, 0, len(s))
	for _, p := range s.Sorted() {
		out = append(out, string(p))
	}
	return out
}

// Equal reports whether both sets hold the same members.
func (s PermissionSet) Equal(other PermissionSet) bool {
	return maps.Equal(s, other)
}
